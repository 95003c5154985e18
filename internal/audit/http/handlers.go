package audithttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/ledgercore/internal/audit"
	"github.com/odyssey-erp/ledgercore/internal/platform/httpx"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

const maxDateRange = 90 * 24 * time.Hour

// TimelineService defines the business contract for timeline data.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
	Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.Entry, error)
}

// Handler serves the audit timeline.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
	now     func() time.Time
}

// NewHandler builds the audit handler.
func NewHandler(logger *slog.Logger, service TimelineService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, now: time.Now}
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit export", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	data, err := audit.WriteXLSX(rows)
	if err != nil {
		h.logger.Error("audit export render", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="audit.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) parseFilters(r *http.Request) (audit.TimelineFilters, error) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok || !actor.Authenticated() {
		return audit.TimelineFilters{}, httpx.ErrUnauthorized
	}
	q := r.URL.Query()
	to := h.now().UTC()
	from := to.Add(-7 * 24 * time.Hour)
	if v := strings.TrimSpace(q.Get("from")); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return audit.TimelineFilters{}, shared.Invalid("from", "must be YYYY-MM-DD")
		}
		from = t
	}
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return audit.TimelineFilters{}, shared.Invalid("to", "must be YYYY-MM-DD")
		}
		to = t.AddDate(0, 0, 1)
	}
	if !from.Before(to) {
		return audit.TimelineFilters{}, shared.Invalid("from", "must precede to")
	}
	if to.Sub(from) > maxDateRange {
		return audit.TimelineFilters{}, shared.Invalid("to", "range exceeds 90 days")
	}
	filters := audit.TimelineFilters{
		CompanyID: actor.CompanyID,
		From:      from,
		To:        to,
		Kind:      audit.Kind(strings.TrimSpace(q.Get("kind"))),
		Action:    audit.Action(strings.ToUpper(strings.TrimSpace(q.Get("action")))),
	}
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.PageSize, _ = strconv.Atoi(q.Get("page_size"))
	if v := q.Get("entity_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return audit.TimelineFilters{}, shared.Invalid("entity_id", "must be numeric")
		}
		filters.EntityID = id
	}
	if v := q.Get("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return audit.TimelineFilters{}, shared.Invalid("user_id", "must be numeric")
		}
		filters.UserID = id
	}
	return filters, nil
}
