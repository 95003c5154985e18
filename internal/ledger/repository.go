package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/audit"
	"github.com/odyssey-erp/ledgercore/internal/platform/db"
)

// Store implements the ledger side of a unit of work on any pgx querier.
type Store struct {
	q db.Querier
}

// NewStore constructs a Store.
func NewStore(q db.Querier) *Store {
	return &Store{q: q}
}

const accountColumns = `id, company_id, kind, name, currency, opening_balance, balance, created_at`

const movementColumns = `id, company_id, direction, amount, currency, posted_at, reference,
	document_id, loan_id, account_id, exchange_rate, fx_difference, itf`

func scanAccount(row pgx.Row) (Account, error) {
	var (
		a    Account
		kind string
	)
	err := row.Scan(&a.ID, &a.CompanyID, &kind, &a.Name, &a.Currency, &a.OpeningBalance, &a.Balance, &a.CreatedAt)
	if db.IsNoRows(err) {
		return Account{}, ErrAccountNotFound
	}
	a.Kind = AccountKind(kind)
	return a, err
}

// ScanMovement reads one row selected with MovementColumns.
func ScanMovement(row pgx.Row) (Movement, error) {
	var (
		m   Movement
		dir string
	)
	err := row.Scan(&m.ID, &m.CompanyID, &dir, &m.Amount, &m.Currency, &m.PostedAt, &m.Reference,
		&m.DocumentID, &m.LoanID, &m.AccountID, &m.ExchangeRate, &m.FXDifference, &m.ITF)
	if db.IsNoRows(err) {
		return Movement{}, ErrMovementNotFound
	}
	m.Direction = Direction(dir)
	return m, err
}

// MovementColumns is the select list understood by ScanMovement.
func MovementColumns() string { return movementColumns }

// InsertLedgerAccount stores a new account.
func (s *Store) InsertLedgerAccount(ctx context.Context, a Account) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO ledger_accounts (company_id, kind, name, currency, opening_balance, balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		a.CompanyID, string(a.Kind), a.Name, a.Currency, a.OpeningBalance, a.Balance, a.CreatedAt).Scan(&id)
	return id, err
}

// LockLedgerAccount reads an account holding its row lock until commit.
func (s *Store) LockLedgerAccount(ctx context.Context, id int64) (Account, error) {
	return scanAccount(s.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE id = $1 FOR UPDATE`, id))
}

// AdjustLedgerBalance adds delta to the stored balance.
func (s *Store) AdjustLedgerBalance(ctx context.Context, id int64, delta decimal.Decimal) error {
	tag, err := s.q.Exec(ctx, `UPDATE ledger_accounts SET balance = balance + $2 WHERE id = $1`, id, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// InsertMovement appends a movement.
func (s *Store) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO financial_movements (company_id, direction, amount, currency, posted_at, reference,
			document_id, loan_id, account_id, exchange_rate, fx_difference, itf)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
		m.CompanyID, string(m.Direction), m.Amount, m.Currency, m.PostedAt, m.Reference,
		m.DocumentID, m.LoanID, m.AccountID, m.ExchangeRate, m.FXDifference, m.ITF).Scan(&id)
	return id, err
}

// GetMovement loads a movement by id.
func (s *Store) GetMovement(ctx context.Context, id int64) (Movement, error) {
	return ScanMovement(s.q.QueryRow(ctx, `SELECT `+movementColumns+` FROM financial_movements WHERE id = $1`, id))
}

// DeleteMovementRow removes a movement row.
func (s *Store) DeleteMovementRow(ctx context.Context, id int64) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM financial_movements WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMovementNotFound
	}
	return nil
}

// Repository persists ledger data in PostgreSQL.
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

// GetLedgerAccount loads an account without locking.
func (r *Repository) GetLedgerAccount(ctx context.Context, id int64) (Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE id = $1`, id))
}

// ListLedgerAccounts lists a company's accounts.
func (r *Repository) ListLedgerAccounts(ctx context.Context, companyID int64) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE company_id = $1 ORDER BY id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListMovements lists movements newest first.
func (r *Repository) ListMovements(ctx context.Context, f MovementFilter) ([]Movement, error) {
	query := `SELECT ` + movementColumns + ` FROM financial_movements WHERE company_id = $1`
	args := []any{f.CompanyID}
	if f.AccountID != 0 {
		args = append(args, f.AccountID)
		query += fmt.Sprintf(" AND account_id = $%d", len(args))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		query += fmt.Sprintf(" AND posted_at >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		query += fmt.Sprintf(" AND posted_at < $%d", len(args))
	}
	args = append(args, f.Limit)
	query += fmt.Sprintf(" ORDER BY posted_at DESC, id DESC LIMIT $%d", len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		m, err := ScanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// JournalTotals sums the signed delta of every movement per account.
func (r *Repository) JournalTotals(ctx context.Context, companyID int64) (map[int64]decimal.Decimal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT m.account_id,
			SUM(CASE
				WHEN m.direction = 'INFLOW' AND a.kind = 'BANK' THEN m.amount - m.itf
				WHEN m.direction = 'INFLOW' THEN m.amount
				WHEN a.kind = 'BANK' THEN -(m.amount + m.itf)
				ELSE -m.amount
			END)
		FROM financial_movements m
		JOIN ledger_accounts a ON a.id = m.account_id
		WHERE a.company_id = $1
		GROUP BY m.account_id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[int64]decimal.Decimal{}
	for rows.Next() {
		var (
			id  int64
			sum decimal.Decimal
		)
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, err
		}
		out[id] = sum
	}
	return out, rows.Err()
}

// ListCompanyIDs lists companies owning at least one account.
func (r *Repository) ListCompanyIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT company_id FROM ledger_accounts ORDER BY company_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
