package inventory

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/audit"
	"github.com/odyssey-erp/ledgercore/internal/platform/db"
)

const productColumns = `id, company_id, category, sku, name, alt_names, stock, purchase_price, sale_price, created_at`

// Store implements catalog and stock writes on any pgx querier.
type Store struct {
	q db.Querier
}

// NewStore constructs a Store.
func NewStore(q db.Querier) *Store {
	return &Store{q: q}
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.CompanyID, &p.Category, &p.SKU, &p.Name, &p.AltNames, &p.Stock, &p.PurchasePrice, &p.SalePrice, &p.CreatedAt)
	if db.IsNoRows(err) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// FindProductCandidates returns products whose name contains fragment or
// whose name or an alternate name equals exact, ignoring case.
func (s *Store) FindProductCandidates(ctx context.Context, companyID int64, fragment, exact string) ([]Product, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE company_id = $1
		  AND (name ILIKE '%' || $2 || '%'
		       OR lower(name) = lower($3)
		       OR EXISTS (SELECT 1 FROM unnest(alt_names) alt WHERE lower(alt) = lower($3)))
		ORDER BY id
		LIMIT 50`, companyID, likeEscaper.Replace(fragment), exact)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LockProduct reads a product holding its row lock.
func (s *Store) LockProduct(ctx context.Context, id int64) (Product, error) {
	return scanProduct(s.q.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
}

// InsertProduct stores a product.
func (s *Store) InsertProduct(ctx context.Context, p Product) (int64, error) {
	if p.AltNames == nil {
		p.AltNames = []string{}
	}
	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO products (company_id, category, sku, name, alt_names, stock, purchase_price, sale_price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		p.CompanyID, p.Category, p.SKU, p.Name, p.AltNames, p.Stock, p.PurchasePrice, p.SalePrice, p.CreatedAt).Scan(&id)
	return id, err
}

// AdjustProductStock adds delta to stock.
func (s *Store) AdjustProductStock(ctx context.Context, id int64, delta decimal.Decimal) error {
	tag, err := s.q.Exec(ctx, `UPDATE products SET stock = stock + $2 WHERE id = $1`, id, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// UpdateProductPurchasePrice sets the reference purchase price.
func (s *Store) UpdateProductPurchasePrice(ctx context.Context, id int64, price decimal.Decimal) error {
	_, err := s.q.Exec(ctx, `UPDATE products SET purchase_price = $2 WHERE id = $1`, id, price)
	return err
}

// AddProductAltName appends a learned alternate name.
func (s *Store) AddProductAltName(ctx context.Context, id int64, name string) error {
	_, err := s.q.Exec(ctx, `UPDATE products SET alt_names = array_append(alt_names, $2) WHERE id = $1`, id, name)
	return err
}

// InsertStockAdjustment stores a manual correction.
func (s *Store) InsertStockAdjustment(ctx context.Context, a Adjustment) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO stock_adjustments (company_id, product_id, type, qty, reason, user_id, adjusted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		a.CompanyID, a.ProductID, string(a.Type), a.Qty, a.Reason, a.UserID, a.At).Scan(&id)
	return id, err
}

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	*Store
	audit *audit.Store
}

func (t *txRepo) InsertAuditEntry(ctx context.Context, e audit.Entry) error {
	return t.audit.InsertAuditEntry(ctx, e)
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{Store: NewStore(tx), audit: audit.NewStore(tx)})
	})
}

// GetProduct loads a product.
func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	return scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

// ListProducts lists a company's products by name.
func (r *Repository) ListProducts(ctx context.Context, companyID int64) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE company_id = $1 ORDER BY name`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListStockEvents merges document lines and manual adjustments touching a
// product. Purchases add stock, sales remove it.
func (r *Repository) ListStockEvents(ctx context.Context, productID int64) ([]StockEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT d.issue_date::timestamptz,
		       d.operation,
		       d.series || '-' || d.number,
		       CASE WHEN d.operation = 'PURCHASE' THEN l.quantity ELSE -l.quantity END,
		       l.unit_cost
		FROM document_lines l
		JOIN documents d ON d.id = l.document_id
		WHERE l.product_id = $1
		UNION ALL
		SELECT a.adjusted_at,
		       'ADJUSTMENT',
		       a.reason,
		       CASE WHEN a.type = 'IN' THEN a.qty ELSE -a.qty END,
		       0
		FROM stock_adjustments a
		WHERE a.product_id = $1`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StockEvent
	for rows.Next() {
		var ev StockEvent
		if err := rows.Scan(&ev.At, &ev.Source, &ev.Reference, &ev.Qty, &ev.UnitPrice); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
