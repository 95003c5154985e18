package loans

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/platform/httpx"
)

// Handler exposes loans over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers loan routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.register)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Post("/schedule", h.schedule)
		r.Post("/installments/{installmentID}/pay", h.payInstallment)
		r.Post("/payoff", h.payOff)
	})
}

type registerRequest struct {
	Lender     string          `json:"lender" validate:"required,max=200"`
	Currency   string          `json:"currency" validate:"required,oneof=PEN USD"`
	Principal  decimal.Decimal `json:"principal"`
	Rate       decimal.Decimal `json:"rate"`
	LoanDate   string          `json:"loan_date"`
	DueDate    string          `json:"due_date"`
	DocumentID *int64          `json:"document_id"`
	AccountID  *int64          `json:"account_id"`
	ITF        decimal.Decimal `json:"itf"`
}

type scheduleRequest struct {
	Count        int `json:"count" validate:"required,min=1,max=120"`
	IntervalDays int `json:"interval_days" validate:"required,min=1"`
}

type paymentRequest struct {
	AccountID *int64          `json:"account_id"`
	ITF       decimal.Decimal `json:"itf"`
	PaidAt    string          `json:"paid_at"`
}

func (p paymentRequest) input() (PaymentInput, error) {
	paidAt, err := httpx.ParseDate("paid_at", p.PaidAt)
	if err != nil {
		return PaymentInput{}, err
	}
	return PaymentInput{AccountID: p.AccountID, ITF: p.ITF, PaidAt: paidAt}, nil
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

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}
	loanDate, err := httpx.ParseDate("loan_date", req.LoanDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	dueDate, err := httpx.ParseDate("due_date", req.DueDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	loan, err := h.service.Register(r.Context(), actor, RegisterInput{
		Lender: req.Lender, Currency: req.Currency, Principal: req.Principal, Rate: req.Rate,
		LoanDate: loanDate, DueDate: dueDate, DocumentID: req.DocumentID, AccountID: req.AccountID, ITF: req.ITF,
	})
	if err != nil {
		h.fail(w, "register", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, loan)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	items, err := h.service.List(r.Context(), actor)
	if err != nil {
		h.fail(w, "list", err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
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
	detail, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "get", err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) schedule(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req scheduleRequest
	if !h.decode(w, r, &req) {
		return
	}
	items, err := h.service.Schedule(r.Context(), actor, id, req.Count, req.IntervalDays)
	if err != nil {
		h.fail(w, "schedule", err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) payInstallment(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	installmentID, err := httpx.PathInt64(r, "installmentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req paymentRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inst, err := h.service.PayInstallment(r.Context(), actor, id, installmentID, in)
	if err != nil {
		h.fail(w, "pay installment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inst)
}

func (h *Handler) payOff(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req paymentRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	amount, err := h.service.PayOff(r.Context(), actor, id, in)
	if err != nil {
		h.fail(w, "pay off", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"paid": amount})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn("loans: "+op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
