package quotations

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/ledgercore/internal/audit"
	"github.com/odyssey-erp/ledgercore/internal/platform/db"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

const quotationColumns = `id, company_id, number, quote_date, validity_days, client_tax_id, client_name,
	address, attention, currency, exchange_rate, total, warranty, delivery_time, notes, status, created_at`

// updatable lists the columns UpdateQuotation may touch, in a stable order.
var updatable = []string{"validity_days", "notes", "warranty", "delivery_time", "total", "status"}

// Store implements quotation persistence on any pgx querier.
type Store struct {
	q db.Querier
}

// NewStore constructs a Store.
func NewStore(q db.Querier) *Store {
	return &Store{q: q}
}

func scanQuotation(row pgx.Row) (Quotation, error) {
	var (
		q      Quotation
		status string
	)
	err := row.Scan(&q.ID, &q.CompanyID, &q.Number, &q.QuoteDate, &q.ValidityDays, &q.ClientTaxID, &q.ClientName,
		&q.Address, &q.Attention, &q.Currency, &q.ExchangeRate, &q.Total, &q.Warranty, &q.DeliveryTime, &q.Notes,
		&status, &q.CreatedAt)
	if db.IsNoRows(err) {
		return Quotation{}, ErrQuotationNotFound
	}
	q.Status = QuotationStatus(status)
	return q, err
}

// LastQuotationNumber returns the most recent number issued by the company.
func (s *Store) LastQuotationNumber(ctx context.Context, companyID int64) (string, error) {
	var number string
	err := s.q.QueryRow(ctx, `
		SELECT number FROM quotations WHERE company_id = $1
		ORDER BY id DESC LIMIT 1 FOR UPDATE`, companyID).Scan(&number)
	if db.IsNoRows(err) {
		return "", nil
	}
	return number, err
}

func (s *Store) InsertQuotation(ctx context.Context, q Quotation) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO quotations (company_id, number, quote_date, validity_days, client_tax_id, client_name,
			address, attention, currency, exchange_rate, total, warranty, delivery_time, notes, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id`,
		q.CompanyID, q.Number, q.QuoteDate, q.ValidityDays, q.ClientTaxID, q.ClientName,
		q.Address, q.Attention, q.Currency, q.ExchangeRate, q.Total, q.Warranty, q.DeliveryTime, q.Notes,
		string(q.Status), q.CreatedAt).Scan(&id)
	if db.IsUniqueViolation(err) {
		return 0, fmt.Errorf("quotation number %s: %w", q.Number, shared.ErrDuplicate)
	}
	return id, err
}

func (s *Store) InsertQuotationLine(ctx context.Context, line QuotationLine) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO quotation_lines (quotation_id, product_id, description, quantity, unit_price, line_order)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		line.QuotationID, line.ProductID, line.Description, line.Quantity, line.UnitPrice, line.LineOrder).Scan(&id)
	return id, err
}

func (s *Store) DeleteQuotationLines(ctx context.Context, quotationID int64) error {
	_, err := s.q.Exec(ctx, `DELETE FROM quotation_lines WHERE quotation_id = $1`, quotationID)
	return err
}

// LockQuotation reads a quotation holding its row lock until commit.
func (s *Store) LockQuotation(ctx context.Context, id int64) (Quotation, error) {
	return scanQuotation(s.q.QueryRow(ctx, `SELECT `+quotationColumns+` FROM quotations WHERE id = $1 FOR UPDATE`, id))
}

func (s *Store) UpdateQuotation(ctx context.Context, id int64, updates map[string]any) error {
	var (
		sets []string
		args []any
	)
	for _, col := range updatable {
		v, ok := updates[col]
		if !ok {
			continue
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE quotations SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	tag, err := s.q.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrQuotationNotFound
	}
	return nil
}

func (s *Store) listLines(ctx context.Context, quotationID int64) ([]QuotationLine, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, quotation_id, product_id, description, quantity, unit_price, line_order
		FROM quotation_lines WHERE quotation_id = $1 ORDER BY line_order, id`, quotationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []QuotationLine
	for rows.Next() {
		var l QuotationLine
		if err := rows.Scan(&l.ID, &l.QuotationID, &l.ProductID, &l.Description, &l.Quantity, &l.UnitPrice, &l.LineOrder); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Repository persists quotations in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type auditStore = audit.Store

type txRepo struct {
	*Store
	*auditStore
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{Store: NewStore(tx), auditStore: audit.NewStore(tx)})
	})
}

// GetQuotation loads a quotation with its lines.
func (r *Repository) GetQuotation(ctx context.Context, id int64) (Quotation, error) {
	store := NewStore(r.pool)
	q, err := scanQuotation(r.pool.QueryRow(ctx, `SELECT `+quotationColumns+` FROM quotations WHERE id = $1`, id))
	if err != nil {
		return Quotation{}, err
	}
	q.Lines, err = store.listLines(ctx, id)
	return q, err
}

// ListQuotations pages a company's quotations newest first.
func (r *Repository) ListQuotations(ctx context.Context, req ListQuotationsRequest) ([]Quotation, int, error) {
	conditions := []string{"company_id = $1"}
	args := []any{req.CompanyID}
	if req.Status != "" {
		args = append(args, string(req.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if s := strings.TrimSpace(req.Search); s != "" {
		args = append(args, "%"+s+"%")
		conditions = append(conditions, fmt.Sprintf("(client_name ILIKE $%d OR number ILIKE $%d OR client_tax_id ILIKE $%d)",
			len(args), len(args), len(args)))
	}
	where := "WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM quotations "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, req.Page.Size, req.Page.Offset())
	query := fmt.Sprintf("SELECT %s FROM quotations %s ORDER BY quote_date DESC, id DESC LIMIT $%d OFFSET $%d",
		quotationColumns, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Quotation
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, q)
	}
	return out, total, rows.Err()
}
