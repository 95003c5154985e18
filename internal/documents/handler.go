package documents

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

// Handler exposes the document lifecycle over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/balances", h.balances)
	r.Post("/expenses", h.recordExpense)
	r.Post("/returns", h.registerReturn)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Put("/", h.edit)
		r.Delete("/", h.delete)
		r.Post("/payments", h.pay)
		r.Post("/terms", h.setTerms)
		r.Post("/installments/{installmentID}/pay", h.payInstallment)
		r.Post("/freight", h.attachFreight)
		r.Post("/authority-status", h.refreshStatus)
	})
}

type itemRequest struct {
	Description string          `json:"description" validate:"required"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Destination string          `json:"destination" validate:"omitempty,oneof=inventory expense freight"`
}

type termsRequest struct {
	Count        int    `json:"count" validate:"required,min=1,max=120"`
	IntervalDays int    `json:"interval_days" validate:"required,min=1"`
	Start        string `json:"start"`
}

type paymentRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Rate           decimal.Decimal `json:"rate"`
	ITF            decimal.Decimal `json:"itf"`
	AccountID      *int64          `json:"account_id"`
	Reference      string          `json:"reference" validate:"max=255"`
	PaidAt         string          `json:"paid_at"`
	IdempotencyKey string          `json:"idempotency_key" validate:"max=128"`
}

type createRequest struct {
	SeriesNumber      string          `json:"series_number" validate:"required"`
	IssueDate         string          `json:"issue_date" validate:"required"`
	CounterpartyTaxID string          `json:"counterparty_tax_id" validate:"required,max=20"`
	CounterpartyName  string          `json:"counterparty_name" validate:"max=200"`
	Currency          string          `json:"currency" validate:"required,oneof=PEN USD"`
	Total             decimal.Decimal `json:"total"`
	Operation         string          `json:"operation" validate:"required,oneof=PURCHASE SALE"`
	Kind              string          `json:"kind" validate:"omitempty,oneof=FACTURA BOLETA RECIBO"`
	ExchangeRate      decimal.Decimal `json:"exchange_rate"`
	TaxShield         bool            `json:"tax_shield"`
	AllowDuplicate    bool            `json:"allow_duplicate"`
	DueDate           string          `json:"due_date"`
	Items             []itemRequest   `json:"items" validate:"dive"`
	Terms             *termsRequest   `json:"terms"`
	Payment           *paymentRequest `json:"payment"`
}

type lineRequest struct {
	ProductID   *int64          `json:"product_id"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Destination string          `json:"destination" validate:"omitempty,oneof=inventory expense freight"`
}

type editRequest struct {
	CounterpartyTaxID string          `json:"counterparty_tax_id" validate:"max=20"`
	CounterpartyName  string          `json:"counterparty_name" validate:"max=200"`
	Kind              string          `json:"kind" validate:"omitempty,oneof=FACTURA BOLETA RECIBO"`
	IssueDate         string          `json:"issue_date"`
	Currency          string          `json:"currency" validate:"omitempty,oneof=PEN USD"`
	ExchangeRate      decimal.Decimal `json:"exchange_rate"`
	Lines             []lineRequest   `json:"lines" validate:"required,min=1,dive"`
	Reason            string          `json:"reason" validate:"max=500"`
}

type deleteRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type freightRequest struct {
	CounterpartyTaxID string          `json:"counterparty_tax_id" validate:"required"`
	CounterpartyName  string          `json:"counterparty_name"`
	Series            string          `json:"series" validate:"required"`
	Number            string          `json:"number" validate:"required"`
	IssueDate         string          `json:"issue_date"`
	Amount            decimal.Decimal `json:"amount"`
}

type expenseRequest struct {
	Category    string          `json:"category"`
	Description string          `json:"description" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency" validate:"omitempty,oneof=PEN USD"`
	Date        string          `json:"date"`
	AccountID   *int64          `json:"account_id"`
	ITF         decimal.Decimal `json:"itf"`
}

type returnRequest struct {
	ProductID int64           `json:"product_id" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
	Refund    decimal.Decimal `json:"refund"`
	Currency  string          `json:"currency" validate:"omitempty,oneof=PEN USD"`
	AccountID *int64          `json:"account_id"`
	Date      string          `json:"date"`
	Reason    string          `json:"reason"`
}

type createResponse struct {
	Result
	Warning string `json:"warning,omitempty"`
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

func (p *paymentRequest) input() (PaymentInput, error) {
	paidAt, err := httpx.ParseDate("paid_at", p.PaidAt)
	if err != nil {
		return PaymentInput{}, err
	}
	return PaymentInput{
		Amount: p.Amount, Rate: p.Rate, ITF: p.ITF, AccountID: p.AccountID,
		Reference: p.Reference, PaidAt: paidAt, IdempotencyKey: p.IdempotencyKey,
	}, nil
}

func (t *termsRequest) input() (TermsInput, error) {
	start, err := httpx.ParseDate("start", t.Start)
	if err != nil {
		return TermsInput{}, err
	}
	return TermsInput{Count: t.Count, IntervalDays: t.IntervalDays, Start: start}, nil
}

func (req createRequest) input() (CreateInput, error) {
	issued, err := httpx.ParseDate("issue_date", req.IssueDate)
	if err != nil {
		return CreateInput{}, err
	}
	due, err := httpx.ParseDate("due_date", req.DueDate)
	if err != nil {
		return CreateInput{}, err
	}
	in := CreateInput{
		Parsed: ParsedDocument{
			SeriesNumber:      req.SeriesNumber,
			IssueDate:         issued,
			CounterpartyTaxID: req.CounterpartyTaxID,
			CounterpartyName:  req.CounterpartyName,
			Currency:          req.Currency,
			Total:             req.Total,
		},
		Operation:      Operation(req.Operation),
		Kind:           Kind(req.Kind),
		ExchangeRate:   req.ExchangeRate,
		TaxShield:      req.TaxShield,
		AllowDuplicate: req.AllowDuplicate,
		DueDate:        due,
	}
	for _, it := range req.Items {
		in.Parsed.Items = append(in.Parsed.Items, ParsedItem{Description: it.Description, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
		dest := Destination(it.Destination)
		if dest == "" {
			dest = DestInventory
		}
		in.Routes = append(in.Routes, dest)
	}
	if req.Terms != nil {
		terms, err := req.Terms.input()
		if err != nil {
			return CreateInput{}, err
		}
		in.Terms = &terms
	}
	if req.Payment != nil {
		pay, err := req.Payment.input()
		if err != nil {
			return CreateInput{}, err
		}
		in.Payment = &pay
	}
	return in, nil
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Create(r.Context(), actor, in)
	if warn, dup := IsDuplicateWarning(err); dup {
		httpx.JSON(w, http.StatusConflict, createResponse{Warning: warn.Error()})
		return
	}
	if err != nil {
		h.fail(w, "create", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, createResponse{Result: res})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	from, err := httpx.ParseDate("from", q.Get("from"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to, err := httpx.ParseDate("to", q.Get("to"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := ListFilter{Operation: Operation(q.Get("operation")), From: from, To: to}
	if v := q.Get("page"); v != "" {
		n, err := httpx.ParseInt64("page", v)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		filter.Page.Number = int(n)
	}
	docs, err := h.service.List(r.Context(), actor, filter)
	if err != nil {
		h.fail(w, "list", err)
		return
	}
	httpx.JSON(w, http.StatusOK, docs)
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

func (h *Handler) edit(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req editRequest
	if !h.decode(w, r, &req) {
		return
	}
	issued, err := httpx.ParseDate("issue_date", req.IssueDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := EditInput{
		CounterpartyTaxID: req.CounterpartyTaxID,
		CounterpartyName:  req.CounterpartyName,
		Kind:              Kind(req.Kind),
		IssueDate:         issued,
		Currency:          req.Currency,
		ExchangeRate:      req.ExchangeRate,
		Reason:            req.Reason,
	}
	for _, l := range req.Lines {
		in.Lines = append(in.Lines, LineInput{
			ProductID: l.ProductID, Description: l.Description, Quantity: l.Quantity,
			UnitPrice: l.UnitPrice, Destination: Destination(l.Destination),
		})
	}
	doc, err := h.service.Edit(r.Context(), actor, id, in)
	if err != nil {
		h.fail(w, "edit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req deleteRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	impact, err := h.service.Delete(r.Context(), actor, id, req.Reason)
	if err != nil {
		h.fail(w, "delete", err)
		return
	}
	httpx.JSON(w, http.StatusOK, impact)
}

func (h *Handler) pay(w http.ResponseWriter, r *http.Request) {
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
	if !h.decode(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" && in.IdempotencyKey == "" {
		in.IdempotencyKey = key
	}
	mv, err := h.service.RegisterPayment(r.Context(), actor, id, in)
	if err != nil {
		var over *shared.OverpaymentError
		if errors.As(err, &over) {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Overpayment", over.Error())
			return
		}
		h.fail(w, "payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, mv)
}

func (h *Handler) setTerms(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req termsRequest
	if !h.decode(w, r, &req) {
		return
	}
	terms, err := req.input()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.SetTerms(r.Context(), actor, id, terms)
	if err != nil {
		h.fail(w, "terms", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, items)
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
	inst, mv, err := h.service.PayInstallment(r.Context(), actor, id, installmentID, in)
	if err != nil {
		h.fail(w, "pay installment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"installment": inst, "movement": mv})
}

func (h *Handler) attachFreight(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req freightRequest
	if !h.decode(w, r, &req) {
		return
	}
	issued, err := httpx.ParseDate("issue_date", req.IssueDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.AttachFreight(r.Context(), actor, FreightInput{
		ParentID: id, CounterpartyTaxID: req.CounterpartyTaxID, CounterpartyName: req.CounterpartyName,
		Series: req.Series, Number: req.Number, IssueDate: issued, Amount: req.Amount,
	})
	if err != nil {
		h.fail(w, "freight", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) refreshStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.RefreshAuthorityStatus(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "authority status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) recordExpense(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	var req expenseRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := httpx.ParseDate("date", req.Date)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	exp, err := h.service.RecordExpense(r.Context(), actor, ExpenseInput{
		Category: req.Category, Description: req.Description, Amount: req.Amount,
		Currency: req.Currency, Date: date, AccountID: req.AccountID, ITF: req.ITF,
	})
	if err != nil {
		h.fail(w, "expense", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, exp)
}

func (h *Handler) registerReturn(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	var req returnRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := httpx.ParseDate("date", req.Date)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ret, err := h.service.RegisterReturn(r.Context(), actor, ReturnInput{
		ProductID: req.ProductID, Quantity: req.Quantity, Refund: req.Refund,
		Currency: req.Currency, AccountID: req.AccountID, ReturnedAt: date, Reason: req.Reason,
	})
	if err != nil {
		h.fail(w, "return", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ret)
}

func (h *Handler) balances(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	totals, err := h.service.Balances(r.Context(), actor)
	if err != nil {
		h.fail(w, "balances", err)
		return
	}
	httpx.JSON(w, http.StatusOK, totals)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn("documents: "+op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
