package documents

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/audit"
	"github.com/odyssey-erp/ledgercore/internal/inventory"
	"github.com/odyssey-erp/ledgercore/internal/ledger"
	"github.com/odyssey-erp/ledgercore/internal/platform/db"
	"github.com/odyssey-erp/ledgercore/internal/schedule"
)

const documentColumns = `id, company_id, counterparty_id, kind, operation, series, number, issue_date, currency,
	exchange_rate, subtotal, tax, total, authority_status, tax_shield, freight, parent_id, created_at`

const lineColumns = `id, document_id, product_id, description, quantity, unit_price, unit_cost, subtotal, destination`

const receivableColumns = `id, document_id, total, pending, status, due_date`

// Store implements document persistence on any pgx querier.
type Store struct {
	q db.Querier
}

// NewStore constructs a Store.
func NewStore(q db.Querier) *Store {
	return &Store{q: q}
}

func scanDocument(row pgx.Row) (Document, error) {
	var (
		d        Document
		kind, op string
	)
	err := row.Scan(&d.ID, &d.CompanyID, &d.CounterpartyID, &kind, &op, &d.Series, &d.Number, &d.IssueDate, &d.Currency,
		&d.ExchangeRate, &d.Subtotal, &d.Tax, &d.Total, &d.AuthorityStatus, &d.TaxShield, &d.Freight, &d.ParentID, &d.CreatedAt)
	if db.IsNoRows(err) {
		return Document{}, ErrDocumentNotFound
	}
	d.Kind, d.Operation = Kind(kind), Operation(op)
	return d, err
}

func scanLine(row pgx.Row) (Line, error) {
	var (
		l    Line
		dest string
	)
	err := row.Scan(&l.ID, &l.DocumentID, &l.ProductID, &l.Description, &l.Quantity, &l.UnitPrice, &l.UnitCost, &l.Subtotal, &dest)
	l.Destination = Destination(dest)
	return l, err
}

func scanReceivable(row pgx.Row) (Receivable, error) {
	var (
		a      Receivable
		status string
	)
	err := row.Scan(&a.ID, &a.DocumentID, &a.Total, &a.Pending, &status, &a.DueDate)
	if db.IsNoRows(err) {
		return Receivable{}, ErrAccountNotFound
	}
	a.Status = AccountStatus(status)
	return a, err
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// EnsureCounterparty returns the counterparty with taxID, creating it when
// missing. The boolean reports creation.
func (s *Store) EnsureCounterparty(ctx context.Context, companyID int64, taxID, name string) (Counterparty, bool, error) {
	cp := Counterparty{CompanyID: companyID, TaxID: taxID}
	err := s.q.QueryRow(ctx, `SELECT id, name FROM counterparties WHERE company_id = $1 AND tax_id = $2`,
		companyID, taxID).Scan(&cp.ID, &cp.Name)
	if err == nil {
		return cp, false, nil
	}
	if !db.IsNoRows(err) {
		return Counterparty{}, false, err
	}
	cp.Name = name
	err = s.q.QueryRow(ctx, `INSERT INTO counterparties (company_id, tax_id, name) VALUES ($1, $2, $3) RETURNING id`,
		companyID, taxID, name).Scan(&cp.ID)
	return cp, err == nil, err
}

// GetCounterparty loads a counterparty.
func (s *Store) GetCounterparty(ctx context.Context, id int64) (Counterparty, error) {
	var cp Counterparty
	err := s.q.QueryRow(ctx, `SELECT id, company_id, tax_id, name FROM counterparties WHERE id = $1`, id).
		Scan(&cp.ID, &cp.CompanyID, &cp.TaxID, &cp.Name)
	if db.IsNoRows(err) {
		return Counterparty{}, ErrCounterpartyNotFound
	}
	return cp, err
}

// FindDuplicateDocument looks up a document by natural key.
func (s *Store) FindDuplicateDocument(ctx context.Context, key NaturalKey) (int64, bool, error) {
	var id int64
	err := s.q.QueryRow(ctx, `
		SELECT id FROM documents
		WHERE company_id = $1 AND counterparty_id = $2 AND operation = $3 AND series = $4 AND number = $5
		ORDER BY id LIMIT 1`,
		key.CompanyID, key.CounterpartyID, string(key.Operation), key.Series, key.Number).Scan(&id)
	if db.IsNoRows(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// InsertDocument stores a document header.
func (s *Store) InsertDocument(ctx context.Context, d Document) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO documents (company_id, counterparty_id, kind, operation, series, number, issue_date, currency,
			exchange_rate, subtotal, tax, total, authority_status, tax_shield, freight, parent_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17) RETURNING id`,
		d.CompanyID, d.CounterpartyID, string(d.Kind), string(d.Operation), d.Series, d.Number, d.IssueDate, d.Currency,
		d.ExchangeRate, d.Subtotal, d.Tax, d.Total, d.AuthorityStatus, d.TaxShield, d.Freight, d.ParentID, d.CreatedAt).Scan(&id)
	return id, err
}

// LockDocument reads a document holding its row lock.
func (s *Store) LockDocument(ctx context.Context, id int64) (Document, error) {
	return scanDocument(s.q.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1 FOR UPDATE`, id))
}

// UpdateDocument rewrites the mutable header fields.
func (s *Store) UpdateDocument(ctx context.Context, d Document) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE documents SET counterparty_id = $2, kind = $3, issue_date = $4, currency = $5, exchange_rate = $6,
			subtotal = $7, tax = $8, total = $9, authority_status = $10
		WHERE id = $1`,
		d.ID, d.CounterpartyID, string(d.Kind), d.IssueDate, d.Currency, d.ExchangeRate,
		d.Subtotal, d.Tax, d.Total, d.AuthorityStatus)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// DeleteDocumentRow removes the document. Lines, the account with its
// installments, generated expenses and retention details cascade; freight
// children and loans are detached.
func (s *Store) DeleteDocumentRow(ctx context.Context, id int64) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// InsertDocumentLine stores one line.
func (s *Store) InsertDocumentLine(ctx context.Context, l Line) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO document_lines (document_id, product_id, description, quantity, unit_price, unit_cost, subtotal, destination)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		l.DocumentID, l.ProductID, l.Description, l.Quantity, l.UnitPrice, l.UnitCost, l.Subtotal, string(l.Destination)).Scan(&id)
	return id, err
}

// AttachedFreight sums the freight documents attached to a purchase.
func (s *Store) AttachedFreight(ctx context.Context, parentID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(total), 0) FROM documents WHERE parent_id = $1 AND freight`, parentID).Scan(&sum)
	return sum, err
}

// ListDocumentLines returns a document's lines in insertion order.
func (s *Store) ListDocumentLines(ctx context.Context, documentID int64) ([]Line, error) {
	rows, err := s.q.Query(ctx, `SELECT `+lineColumns+` FROM document_lines WHERE document_id = $1 ORDER BY id`, documentID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanLine)
}

// DeleteDocumentLines removes every line of a document.
func (s *Store) DeleteDocumentLines(ctx context.Context, documentID int64) error {
	_, err := s.q.Exec(ctx, `DELETE FROM document_lines WHERE document_id = $1`, documentID)
	return err
}

// InsertReceivable stores a document's account.
func (s *Store) InsertReceivable(ctx context.Context, a Receivable) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO receivables (document_id, total, pending, status, due_date)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		a.DocumentID, a.Total, a.Pending, string(a.Status), a.DueDate).Scan(&id)
	return id, err
}

// LockReceivable reads a document's account holding its row lock.
func (s *Store) LockReceivable(ctx context.Context, documentID int64) (Receivable, error) {
	return scanReceivable(s.q.QueryRow(ctx, `SELECT `+receivableColumns+` FROM receivables WHERE document_id = $1 FOR UPDATE`, documentID))
}

// UpdateReceivable stores total, pending and status.
func (s *Store) UpdateReceivable(ctx context.Context, a Receivable) error {
	tag, err := s.q.Exec(ctx, `UPDATE receivables SET total = $2, pending = $3, status = $4 WHERE id = $1`,
		a.ID, a.Total, a.Pending, string(a.Status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// InsertExpense stores an operating expense.
func (s *Store) InsertExpense(ctx context.Context, e Expense) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO expenses (company_id, document_id, movement_id, category, description, amount, currency, expense_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		e.CompanyID, e.DocumentID, e.MovementID, e.Category, e.Description, e.Amount, e.Currency, e.Date).Scan(&id)
	return id, err
}

// DeleteDocumentExpenses removes expenses generated from a document.
func (s *Store) DeleteDocumentExpenses(ctx context.Context, documentID int64) error {
	_, err := s.q.Exec(ctx, `DELETE FROM expenses WHERE document_id = $1`, documentID)
	return err
}

// ListDocumentMovements returns movements linked to a document.
func (s *Store) ListDocumentMovements(ctx context.Context, documentID int64) ([]ledger.Movement, error) {
	rows, err := s.q.Query(ctx, `SELECT `+ledger.MovementColumns()+` FROM financial_movements WHERE document_id = $1 ORDER BY id`, documentID)
	if err != nil {
		return nil, err
	}
	return collect(rows, ledger.ScanMovement)
}

// CountDocumentImpact counts what deleting the document touches.
func (s *Store) CountDocumentImpact(ctx context.Context, documentID int64) (Impact, error) {
	var im Impact
	err := s.q.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM installments i JOIN receivables r ON r.id = i.receivable_id WHERE r.document_id = $1),
			(SELECT count(*) FROM financial_movements WHERE document_id = $1),
			(SELECT count(*) FROM documents WHERE parent_id = $1),
			(SELECT count(*) FROM loans WHERE document_id = $1)`, documentID).
		Scan(&im.Installments, &im.Payments, &im.FreightChildren, &im.Loans)
	return im, err
}

// Repository persists documents in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type (
	ledgerStore    = ledger.Store
	inventoryStore = inventory.Store
	scheduleStore  = schedule.Store
	auditStore     = audit.Store
)

// txRepo joins every store a document mutation writes through so they all
// share one transaction.
type txRepo struct {
	*Store
	*ledgerStore
	*inventoryStore
	*scheduleStore
	*auditStore
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{
			Store:          NewStore(tx),
			ledgerStore:    ledger.NewStore(tx),
			inventoryStore: inventory.NewStore(tx),
			scheduleStore:  schedule.NewStore(tx),
			auditStore:     audit.NewStore(tx),
		})
	})
}

// GetDocument loads a document without locking.
func (r *Repository) GetDocument(ctx context.Context, id int64) (Document, error) {
	return scanDocument(r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
}

// GetCounterpartyByID loads a counterparty.
func (r *Repository) GetCounterpartyByID(ctx context.Context, id int64) (Counterparty, error) {
	return NewStore(r.pool).GetCounterparty(ctx, id)
}

// ListDocuments lists documents newest first.
func (r *Repository) ListDocuments(ctx context.Context, f ListFilter) ([]Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE company_id = $1`
	args := []any{f.CompanyID}
	if f.Operation != "" {
		args = append(args, string(f.Operation))
		query += fmt.Sprintf(" AND operation = $%d", len(args))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		query += fmt.Sprintf(" AND issue_date >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		query += fmt.Sprintf(" AND issue_date < $%d", len(args))
	}
	args = append(args, f.Page.Size, f.Page.Offset())
	query += fmt.Sprintf(" ORDER BY issue_date DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanDocument)
}

// ListLines returns a document's lines.
func (r *Repository) ListLines(ctx context.Context, documentID int64) ([]Line, error) {
	return NewStore(r.pool).ListDocumentLines(ctx, documentID)
}

// GetAccount loads a document's account without locking.
func (r *Repository) GetAccount(ctx context.Context, documentID int64) (Receivable, error) {
	return scanReceivable(r.pool.QueryRow(ctx, `SELECT `+receivableColumns+` FROM receivables WHERE document_id = $1`, documentID))
}

// ListAccountInstallments returns an account's installments in due order.
func (r *Repository) ListAccountInstallments(ctx context.Context, receivableID int64) ([]schedule.Installment, error) {
	return schedule.NewStore(r.pool).Snapshot(ctx, schedule.AccountParent{ReceivableID: receivableID})
}

// ListMovementsByDocument returns a document's payments.
func (r *Repository) ListMovementsByDocument(ctx context.Context, documentID int64) ([]ledger.Movement, error) {
	return NewStore(r.pool).ListDocumentMovements(ctx, documentID)
}

// OpenBalances sums pending amounts in base currency by operation,
// leaving tax shield documents out.
func (r *Repository) OpenBalances(ctx context.Context, companyID int64) (Totals, error) {
	t := Totals{Receivable: decimal.Zero, Payable: decimal.Zero}
	err := r.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN d.operation = 'SALE' THEN r.pending * d.exchange_rate END), 0),
			COALESCE(SUM(CASE WHEN d.operation = 'PURCHASE' THEN r.pending * d.exchange_rate END), 0)
		FROM receivables r
		JOIN documents d ON d.id = r.document_id
		WHERE d.company_id = $1 AND NOT d.tax_shield`, companyID).Scan(&t.Receivable, &t.Payable)
	return t, err
}
