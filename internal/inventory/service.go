package inventory

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"

	"github.com/odyssey-erp/ledgercore/internal/audit"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

// matchPrefixRunes is how much of a parsed description is used for the
// substring match against catalog names.
const matchPrefixRunes = 30

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	audit.Writer
	FindProductCandidates(ctx context.Context, companyID int64, fragment, exact string) ([]Product, error)
	LockProduct(ctx context.Context, id int64) (Product, error)
	InsertProduct(ctx context.Context, p Product) (int64, error)
	AdjustProductStock(ctx context.Context, id int64, delta decimal.Decimal) error
	UpdateProductPurchasePrice(ctx context.Context, id int64, price decimal.Decimal) error
	AddProductAltName(ctx context.Context, id int64, name string) error
	InsertStockAdjustment(ctx context.Context, adj Adjustment) (int64, error)
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListProducts(ctx context.Context, companyID int64) ([]Product, error)
	ListStockEvents(ctx context.Context, productID int64) ([]StockEvent, error)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
}

// Service coordinates catalog and stock operations.
type Service struct {
	repo     RepositoryPort
	audit    *audit.Recorder
	allowNeg bool
	newSKU   func() string
	now      func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, recorder *audit.Recorder, cfg ServiceConfig) *Service {
	return &Service{
		repo:     repo,
		audit:    recorder,
		allowNeg: cfg.AllowNegativeStock,
		newSKU:   generateSKU,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock.
func (s *Service) WithNow(fn func() time.Time) *Service {
	if fn != nil {
		s.now = fn
	}
	return s
}

func generateSKU() string {
	return "SKU-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
}

func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

func prefixRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// Resolve finds the catalog product a parsed description refers to: an exact
// name or known alternate name first, then a product whose name contains the
// first 30 characters of the description, else a new product. Substring
// matches learn the description as an alternate name.
func (s *Service) Resolve(ctx context.Context, tx TxRepository, actor shared.Actor, description string) (Product, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return Product{}, shared.Required("description")
	}
	fragment := prefixRunes(description, matchPrefixRunes)
	candidates, err := tx.FindProductCandidates(ctx, actor.CompanyID, fragment, description)
	if err != nil {
		return Product{}, err
	}
	want := fold(description)
	for _, p := range candidates {
		if fold(p.Name) == want {
			return p, nil
		}
		for _, alt := range p.AltNames {
			if fold(alt) == want {
				return p, nil
			}
		}
	}
	needle := fold(fragment)
	for _, p := range candidates {
		if strings.Contains(fold(p.Name), needle) {
			if err := s.learnAltName(ctx, tx, actor, p, description); err != nil {
				return Product{}, err
			}
			return p, nil
		}
	}
	return s.create(ctx, tx, actor, Product{
		CompanyID:     actor.CompanyID,
		Category:      DefaultCategory,
		SKU:           s.newSKU(),
		Name:          prefixRunes(description, 200),
		Stock:         decimal.Zero,
		PurchasePrice: decimal.Zero,
		SalePrice:     decimal.Zero,
	})
}

func (s *Service) learnAltName(ctx context.Context, tx TxRepository, actor shared.Actor, p Product, name string) error {
	for _, alt := range p.AltNames {
		if fold(alt) == fold(name) {
			return nil
		}
	}
	if err := tx.AddProductAltName(ctx, p.ID, name); err != nil {
		return err
	}
	s.audit.Record(ctx, tx, actor, audit.Event{
		Action:   audit.ActionUpdate,
		Kind:     audit.KindProduct,
		EntityID: p.ID,
		Summary:  func() string { return fmt.Sprintf("%s learned alternate name %q", p.SKU, name) },
	})
	return nil
}

func (s *Service) create(ctx context.Context, tx TxRepository, actor shared.Actor, p Product) (Product, error) {
	p.CreatedAt = s.now()
	id, err := tx.InsertProduct(ctx, p)
	if err != nil {
		return Product{}, fmt.Errorf("inventory: insert product: %w", err)
	}
	p.ID = id
	s.audit.Record(ctx, tx, actor, audit.Event{
		Action:   audit.ActionInsert,
		Kind:     audit.KindProduct,
		EntityID: id,
		Summary:  func() string { return fmt.Sprintf("Product %s %s created", p.SKU, p.Name) },
	})
	return p, nil
}

// ApplyDeltas posts accumulated stock changes, one update and one audit
// entry per product, locking rows in ascending id order.
func (s *Service) ApplyDeltas(ctx context.Context, tx TxRepository, actor shared.Actor, deltas *Deltas, reason string) error {
	for _, id := range deltas.ProductIDs() {
		delta := deltas.Get(id)
		if delta.IsZero() {
			continue
		}
		p, err := tx.LockProduct(ctx, id)
		if err != nil {
			return err
		}
		if !actor.Owns(p.CompanyID) {
			return ErrProductNotFound
		}
		next := p.Stock.Add(delta)
		if !s.allowNeg && next.IsNegative() {
			return fmt.Errorf("%w: %s", ErrNegativeStock, p.SKU)
		}
		if err := tx.AdjustProductStock(ctx, id, delta); err != nil {
			return err
		}
		s.audit.Record(ctx, tx, actor, audit.Event{
			Action:   audit.ActionUpdate,
			Kind:     audit.KindProduct,
			EntityID: id,
			Summary: func() string {
				return fmt.Sprintf("Stock %s: %s -> %s (%s)", p.SKU, p.Stock.String(), next.String(), reason)
			},
		})
	}
	return nil
}

// Reprice sets a product's reference purchase price to next(old).
func (s *Service) Reprice(ctx context.Context, tx TxRepository, actor shared.Actor, productID int64, next func(old decimal.Decimal) decimal.Decimal) (PriceChange, error) {
	p, err := tx.LockProduct(ctx, productID)
	if err != nil {
		return PriceChange{}, err
	}
	change := PriceChange{Product: p, Old: p.PurchasePrice, New: next(p.PurchasePrice).Round(4)}
	if change.New.Equal(change.Old) {
		return change, nil
	}
	if err := tx.UpdateProductPurchasePrice(ctx, productID, change.New); err != nil {
		return PriceChange{}, err
	}
	s.audit.Record(ctx, tx, actor, audit.Event{
		Action:   audit.ActionUpdate,
		Kind:     audit.KindProduct,
		EntityID: productID,
		Summary: func() string {
			return fmt.Sprintf("Purchase price %s: %s -> %s", p.SKU, change.Old.StringFixed(4), change.New.StringFixed(4))
		},
	})
	return change, nil
}

// CreateProduct adds a catalog product.
func (s *Service) CreateProduct(ctx context.Context, actor shared.Actor, input ProductInput) (Product, error) {
	if strings.TrimSpace(input.Name) == "" {
		return Product{}, shared.Required("name")
	}
	p := Product{
		CompanyID:     actor.CompanyID,
		Category:      input.Category,
		SKU:           strings.TrimSpace(input.SKU),
		Name:          strings.TrimSpace(input.Name),
		Stock:         decimal.Zero,
		PurchasePrice: input.PurchasePrice,
		SalePrice:     input.SalePrice,
	}
	if p.Category == "" {
		p.Category = DefaultCategory
	}
	if p.SKU == "" {
		p.SKU = s.newSKU()
	}
	var created Product
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = s.create(ctx, tx, actor, p)
		return err
	})
	return created, err
}

// AdjustStock records a manual correction and applies it to stock.
func (s *Service) AdjustStock(ctx context.Context, actor shared.Actor, input AdjustmentInput) (Adjustment, error) {
	if input.ProductID == 0 {
		return Adjustment{}, shared.Required("product_id")
	}
	if input.Type != AdjustIn && input.Type != AdjustOut {
		return Adjustment{}, shared.Invalid("type", "must be IN or OUT")
	}
	if !input.Qty.IsPositive() {
		return Adjustment{}, ErrInvalidQuantity
	}
	if strings.TrimSpace(input.Reason) == "" {
		return Adjustment{}, shared.Required("reason")
	}
	adj := Adjustment{
		CompanyID: actor.CompanyID,
		ProductID: input.ProductID,
		Type:      input.Type,
		Qty:       input.Qty,
		Reason:    strings.TrimSpace(input.Reason),
		UserID:    actor.UserID,
		At:        s.now(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		adj, err = s.Adjust(ctx, tx, actor, adj, "adjustment: "+adj.Reason)
		return err
	})
	if err != nil {
		return Adjustment{}, err
	}
	return adj, nil
}

// Adjust moves stock and records the adjustment inside the caller's
// transaction, so the kardex shows it.
func (s *Service) Adjust(ctx context.Context, tx TxRepository, actor shared.Actor, adj Adjustment, reason string) (Adjustment, error) {
	deltas := NewDeltas()
	signed := adj.Qty
	if adj.Type == AdjustOut {
		signed = signed.Neg()
	}
	deltas.Add(adj.ProductID, signed)
	if err := s.ApplyDeltas(ctx, tx, actor, deltas, reason); err != nil {
		return Adjustment{}, err
	}
	id, err := tx.InsertStockAdjustment(ctx, adj)
	if err != nil {
		return Adjustment{}, err
	}
	adj.ID = id
	return adj, nil
}

// ListProducts lists the company's catalog.
func (s *Service) ListProducts(ctx context.Context, actor shared.Actor) ([]Product, error) {
	return s.repo.ListProducts(ctx, actor.CompanyID)
}

// StockCard returns the product's kardex.
func (s *Service) StockCard(ctx context.Context, actor shared.Actor, productID int64) ([]StockCardEntry, error) {
	p, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(p.CompanyID) {
		return nil, ErrProductNotFound
	}
	events, err := s.repo.ListStockEvents(ctx, productID)
	if err != nil {
		return nil, err
	}
	return BuildStockCard(events), nil
}
