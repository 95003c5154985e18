package ledger

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/platform/httpx")

// Handler exposes ledger operations over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/accounts", h.listAccounts)
	r.Post("/accounts", h.createAccount)
	r.Get("/movements", h.listMovements)
	r.Post("/movements", h.postMovement)
	r.Delete("/movements/{id}", h.deleteMovement)
	r.Post("/transfers", h.transfer)
	r.Get("/position", h.position)
}

type accountRequest struct {
	Kind           string          `json:"kind" validate:"required,oneof=CASH BANK"`
	Name           string          `json:"name" validate:"required"`
	Currency       string          `json:"currency" validate:"required,oneof=PEN USD"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

type movementRequest struct {
	Direction string          `json:"direction" validate:"required,oneof=INFLOW OUTFLOW"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency" validate:"required,oneof=PEN USD"`
	AccountID *int64          `json:"account_id"`
	ITF       decimal.Decimal `json:"itf"`
	Reference string          `json:"reference" validate:"max=255"`
	PostedAt  time.Time       `json:"posted_at"`
}

type transferRequest struct {
	FromAccountID int64           `json:"from_account_id" validate:"required"`
	ToAccountID   int64           `json:"to_account_id" validate:"required,nefield=FromAccountID"`
	Amount        decimal.Decimal `json:"amount"`
	Rate          decimal.Decimal `json:"rate"`
	ITF           decimal.Decimal `json:"itf"`
	Reference     string          `json:"reference"`
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	accounts, err := h.service.ListAccounts(r.Context(), actor)
	if err != nil {
		h.fail(w, "list accounts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, accounts)
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	var req accountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(h.validator, req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	acct, err := h.service.CreateAccount(r.Context(), actor, AccountInput{
		Kind: AccountKind(req.Kind), Name: req.Name, Currency: req.Currency, OpeningBalance: req.OpeningBalance,
	})
	if err != nil {
		h.fail(w, "create account", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, acct)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	filter := MovementFilter{}
	if v := r.URL.Query().Get("account_id"); v != "" {
		id, err := httpx.ParseInt64("account_id", v)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		filter.AccountID = id
	}
	movements, err := h.service.ListMovements(r.Context(), actor, filter)
	if err != nil {
		h.fail(w, "list movements", err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) postMovement(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(h.validator, req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	mv, err := h.service.PostMovement(r.Context(), actor, Movement{
		Direction: Direction(req.Direction), Amount: req.Amount, Currency: req.Currency,
		AccountID: req.AccountID, ITF: req.ITF, Reference: req.Reference, PostedAt: req.PostedAt,
	})
	if err != nil {
		h.fail(w, "post movement", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, mv)
}

func (h *Handler) deleteMovement(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteMovement(r.Context(), actor, id); err != nil {
		h.fail(w, "delete movement", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(h.validator, req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, in, err := h.service.Transfer(r.Context(), actor, TransferInput{
		FromAccountID: req.FromAccountID, ToAccountID: req.ToAccountID, Amount: req.Amount,
		Rate: req.Rate, ITF: req.ITF, Reference: req.Reference,
	})
	if err != nil {
		h.fail(w, "transfer", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]Movement{"outflow": out, "inflow": in})
}

func (h *Handler) position(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	pos, err := h.service.CashPosition(r.Context(), actor)
	if err != nil {
		h.fail(w, "cash position", err)
		return
	}
	httpx.JSON(w, http.StatusOK, pos)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn("ledger: "+op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
