package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Due is an open installment with what a reminder needs to name it.
type Due struct {
	Installment Installment
	CompanyID   int64
	Origin      string
	Currency    string
}

// Overdue reports whether the installment was due before on.
func (d Due) Overdue(on time.Time) bool {
	return d.Installment.DueDate.Before(on)
}

// Repository reads installments across parents.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListDue returns unpaid installments due before until, oldest first. A zero
// companyID lists every company.
func (r *Repository) ListDue(ctx context.Context, companyID int64, until time.Time) ([]Due, error) {
	query := `
		SELECT i.id, i.seq, i.amount, i.outstanding, i.due_date, i.paid, i.paid_on, i.receivable_id, i.loan_id,
			COALESCE(d.company_id, l.company_id),
			COALESCE(d.series || '-' || d.number, l.lender),
			COALESCE(d.currency, l.currency)
		FROM installments i
		LEFT JOIN receivables r ON r.id = i.receivable_id
		LEFT JOIN documents d ON d.id = r.document_id
		LEFT JOIN loans l ON l.id = i.loan_id
		WHERE NOT i.paid AND i.due_date < $1`
	args := []any{until}
	if companyID != 0 {
		args = append(args, companyID)
		query += fmt.Sprintf(" AND COALESCE(d.company_id, l.company_id) = $%d", len(args))
	}
	query += " ORDER BY i.due_date, i.id"
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Due
	for rows.Next() {
		var (
			d            Due
			receivableID *int64
			loanID       *int64
		)
		it := &d.Installment
		if err := rows.Scan(&it.ID, &it.Seq, &it.Amount, &it.Outstanding, &it.DueDate, &it.Paid, &it.PaidOn,
			&receivableID, &loanID, &d.CompanyID, &d.Origin, &d.Currency); err != nil {
			return nil, err
		}
		if receivableID != nil {
			it.Parent = AccountParent{ReceivableID: *receivableID}
		} else if loanID != nil {
			it.Parent = LoanParent{LoanID: *loanID}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
