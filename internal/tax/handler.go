package tax

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/platform/httpx"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

// Handler exposes tax reconciliation over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers tax routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/summary", h.summary)
	r.Get("/trace", h.trace)
	r.Post("/close", h.close)
	r.Get("/retentions", h.listRetentions)
	r.Post("/retentions", h.applyRetention)
	r.Post("/payments", h.registerPayment)
}

type closeRequest struct {
	Period string `json:"period" validate:"required,len=7"`
}

type retentionLineRequest struct {
	InvoiceRef   string          `json:"invoice_ref" validate:"required"`
	BaseAmount   decimal.Decimal `json:"base_amount"`
	OriginAmount decimal.Decimal `json:"origin_amount"`
	Rate         decimal.Decimal `json:"rate"`
}

type retentionRequest struct {
	AgentTaxID   string                 `json:"agent_tax_id" validate:"required,max=20"`
	AgentName    string                 `json:"agent_name" validate:"max=200"`
	SeriesNumber string                 `json:"series_number" validate:"required,max=20"`
	IssueDate    string                 `json:"issue_date"`
	TotalBase    decimal.Decimal        `json:"total_base"`
	Lines        []retentionLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type paymentRequest struct {
	Code            string          `json:"code" validate:"omitempty,len=4,numeric"`
	Period          string          `json:"period" validate:"required,len=7"`
	OperationNumber string          `json:"operation_number" validate:"max=20"`
	Amount          decimal.Decimal `json:"amount"`
	PaidAt          string          `json:"paid_at"`
	AccountID       *int64          `json:"account_id"`
	ITF             decimal.Decimal `json:"itf"`
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

func (h *Handler) period(w http.ResponseWriter, r *http.Request) (shared.Actor, shared.Period, bool) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return shared.Actor{}, shared.Period{}, false
	}
	period, err := shared.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		httpx.RespondError(w, err)
		return shared.Actor{}, shared.Period{}, false
	}
	return actor, period, true
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	actor, period, ok := h.period(w, r)
	if !ok {
		return
	}
	sum, err := h.service.Summary(r.Context(), actor.CompanyID, period)
	if err != nil {
		h.fail(w, "summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sum)
}

func (h *Handler) trace(w http.ResponseWriter, r *http.Request) {
	actor, period, ok := h.period(w, r)
	if !ok {
		return
	}
	lines, err := h.service.Trace(r.Context(), actor.CompanyID, period)
	if err != nil {
		h.fail(w, "trace", err)
		return
	}
	httpx.JSON(w, http.StatusOK, lines)
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	var req closeRequest
	if !h.decode(w, r, &req) {
		return
	}
	period, err := shared.ParsePeriod(req.Period)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	closure, err := h.service.Close(r.Context(), actor, period)
	if errors.Is(err, ErrCloseInProgress) {
		httpx.Problem(w, http.StatusConflict, "Close in progress", err.Error())
		return
	}
	if err != nil {
		h.fail(w, "close", err)
		return
	}
	httpx.JSON(w, http.StatusOK, closure)
}

func (h *Handler) listRetentions(w http.ResponseWriter, r *http.Request) {
	actor, period, ok := h.period(w, r)
	if !ok {
		return
	}
	details, err := h.service.Retentions(r.Context(), actor.CompanyID, period)
	if err != nil {
		h.fail(w, "list retentions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, details)
}

func (h *Handler) applyRetention(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	var req retentionRequest
	if !h.decode(w, r, &req) {
		return
	}
	issued, err := httpx.ParseDate("issue_date", req.IssueDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := RetentionInput{
		AgentTaxID:   req.AgentTaxID,
		AgentName:    req.AgentName,
		SeriesNumber: req.SeriesNumber,
		IssueDate:    issued,
		TotalBase:    req.TotalBase,
	}
	for _, l := range req.Lines {
		in.Lines = append(in.Lines, RetentionLine(l))
	}
	out, err := h.service.ApplyRetention(r.Context(), actor, in)
	if err != nil {
		h.fail(w, "apply retention", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) registerPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	paidAt, err := httpx.ParseDate("paid_at", req.PaidAt)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.RegisterPayment(r.Context(), actor, PaymentInput{
		Code: req.Code, Period: req.Period, OperationNumber: req.OperationNumber, Amount: req.Amount,
		PaidAt: paidAt, AccountID: req.AccountID, ITF: req.ITF,
	})
	if err != nil {
		h.fail(w, "register payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn("tax: "+op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
