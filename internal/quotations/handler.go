package quotations

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/ledgercore/internal/platform/httpx"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

// Handler exposes quotations over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers quotation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Put("/", h.update)
		r.Post("/accept", h.accept)
		r.Post("/reject", h.reject)
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := httpx.Validate(h.validator, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))
	size, _ := strconv.Atoi(query.Get("size"))
	items, total, err := h.service.List(r.Context(), actor, ListQuotationsRequest{
		Status: QuotationStatus(query.Get("status")),
		Search: query.Get("q"),
		Page:   shared.Page{Number: page, Size: size},
	})
	if err != nil {
		h.fail(w, "list", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	var req CreateQuotationRequest
	if !h.decode(w, r, &req) {
		return
	}
	q, err := h.service.Create(r.Context(), actor, req)
	if err != nil {
		h.fail(w, "create", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, q)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "get", err)
		return
	}
	subtotal, tax := q.Breakdown()
	httpx.JSON(w, http.StatusOK, map[string]any{
		"quotation":   q,
		"subtotal":    subtotal,
		"tax":         tax,
		"valid_until": q.ValidUntil().Format("2006-01-02"),
	})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req UpdateQuotationRequest
	if !h.decode(w, r, &req) {
		return
	}
	q, err := h.service.Update(r.Context(), actor, id, req)
	if err != nil {
		h.fail(w, "update", err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) accept(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q, err := h.service.Accept(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "accept", err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req RejectQuotationRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	q, err := h.service.Reject(r.Context(), actor, id, req.Reason)
	if err != nil {
		h.fail(w, "reject", err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn("quotations: "+op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
