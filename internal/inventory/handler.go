package inventory

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/platform/httpx"
)

// Handler exposes catalog and stock endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Post("/products", h.createProduct)
	r.Get("/products/{id}/stock-card", h.stockCard)
	r.Post("/adjustments", h.adjust)
}

type productRequest struct {
	Category      string          `json:"category"`
	SKU           string          `json:"sku" validate:"max=64"`
	Name          string          `json:"name" validate:"required,max=200"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SalePrice     decimal.Decimal `json:"sale_price"`
}

type adjustmentRequest struct {
	ProductID int64           `json:"product_id" validate:"required"`
	Type      string          `json:"type" validate:"required,oneof=IN OUT"`
	Qty       decimal.Decimal `json:"qty"`
	Reason    string          `json:"reason" validate:"required"`
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	products, err := h.service.ListProducts(r.Context(), actor)
	if err != nil {
		h.fail(w, "list products", err)
		return
	}
	httpx.JSON(w, http.StatusOK, products)
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	var req productRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(h.validator, req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.CreateProduct(r.Context(), actor, ProductInput(req))
	if err != nil {
		h.fail(w, "create product", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) stockCard(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	card, err := h.service.StockCard(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "stock card", err)
		return
	}
	httpx.JSON(w, http.StatusOK, card)
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(h.validator, req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	adj, err := h.service.AdjustStock(r.Context(), actor, AdjustmentInput{
		ProductID: req.ProductID, Type: AdjustmentType(req.Type), Qty: req.Qty, Reason: req.Reason,
	})
	if err != nil {
		h.fail(w, "adjust stock", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, adj)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn("inventory: "+op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
