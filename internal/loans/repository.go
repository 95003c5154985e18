package loans

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/ledgercore/internal/audit"
	"github.com/odyssey-erp/ledgercore/internal/ledger"
	"github.com/odyssey-erp/ledgercore/internal/platform/db"
	"github.com/odyssey-erp/ledgercore/internal/schedule"
)

const loanColumns = `id, company_id, document_id, lender, currency, principal, rate, interest, status,
	loan_date, due_date, created_at`

// Store implements loan persistence on any pgx querier.
type Store struct {
	q db.Querier
}

// NewStore constructs a Store.
func NewStore(q db.Querier) *Store {
	return &Store{q: q}
}

func scanLoan(row pgx.Row) (Loan, error) {
	var (
		l      Loan
		status string
		due    *time.Time
	)
	err := row.Scan(&l.ID, &l.CompanyID, &l.DocumentID, &l.Lender, &l.Currency, &l.Principal, &l.Rate, &l.Interest,
		&status, &l.LoanDate, &due, &l.CreatedAt)
	if db.IsNoRows(err) {
		return Loan{}, ErrLoanNotFound
	}
	if due != nil {
		l.DueDate = *due
	}
	l.Status = Status(status)
	return l, err
}

// InsertLoan stores a loan.
func (s *Store) InsertLoan(ctx context.Context, l Loan) (int64, error) {
	var due *time.Time
	if !l.DueDate.IsZero() {
		due = &l.DueDate
	}
	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO loans (company_id, document_id, lender, currency, principal, rate, interest, status,
			loan_date, due_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
		l.CompanyID, l.DocumentID, l.Lender, l.Currency, l.Principal, l.Rate, l.Interest, string(l.Status),
		l.LoanDate, due, l.CreatedAt).Scan(&id)
	return id, err
}

// LockLoan reads a loan holding its row lock until commit.
func (s *Store) LockLoan(ctx context.Context, id int64) (Loan, error) {
	return scanLoan(s.q.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1 FOR UPDATE`, id))
}

// UpdateLoanStatus sets a loan's status.
func (s *Store) UpdateLoanStatus(ctx context.Context, id int64, status Status) error {
	tag, err := s.q.Exec(ctx, `UPDATE loans SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLoanNotFound
	}
	return nil
}

// Repository persists loans in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type (
	ledgerStore   = ledger.Store
	scheduleStore = schedule.Store
	auditStore    = audit.Store
)

type txRepo struct {
	*Store
	*ledgerStore
	*scheduleStore
	*auditStore
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{
			Store:         NewStore(tx),
			ledgerStore:   ledger.NewStore(tx),
			scheduleStore: schedule.NewStore(tx),
			auditStore:    audit.NewStore(tx),
		})
	})
}

// GetLoan loads a loan without locking.
func (r *Repository) GetLoan(ctx context.Context, id int64) (Loan, error) {
	return scanLoan(r.pool.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, id))
}

// ListLoans lists a company's loans newest first.
func (r *Repository) ListLoans(ctx context.Context, companyID int64) ([]Loan, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+loanColumns+` FROM loans WHERE company_id = $1 ORDER BY loan_date DESC, id DESC`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListLoanInstallments returns a loan's schedule in due order.
func (r *Repository) ListLoanInstallments(ctx context.Context, loanID int64) ([]schedule.Installment, error) {
	return schedule.NewStore(r.pool).Snapshot(ctx, schedule.LoanParent{LoanID: loanID})
}
