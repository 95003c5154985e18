package schedule

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/ledgercore/internal/platform/db"
)

// Store persists installments. The two owner columns are mutually exclusive
// and a CHECK constraint enforces exactly one of them.
type Store struct {
	q db.Querier
}

// NewStore constructs a Store.
func NewStore(q db.Querier) *Store {
	return &Store{q: q}
}

func ownerColumns(p Parent) (receivableID, loanID *int64) {
	switch v := p.(type) {
	case AccountParent:
		id := v.ReceivableID
		return &id, nil
	case LoanParent:
		id := v.LoanID
		return nil, &id
	}
	return nil, nil
}

func ownerFilter(p Parent) (string, int64) {
	switch v := p.(type) {
	case AccountParent:
		return "receivable_id", v.ReceivableID
	case LoanParent:
		return "loan_id", v.LoanID
	}
	return "", 0
}

// ListInstallments locks and returns parent's installments in due order.
func (s *Store) ListInstallments(ctx context.Context, parent Parent) ([]Installment, error) {
	return s.list(ctx, parent, " FOR UPDATE")
}

// Snapshot returns parent's installments without locking them.
func (s *Store) Snapshot(ctx context.Context, parent Parent) ([]Installment, error) {
	return s.list(ctx, parent, "")
}

func (s *Store) list(ctx context.Context, parent Parent, lock string) ([]Installment, error) {
	col, id := ownerFilter(parent)
	if col == "" {
		return nil, nil
	}
	rows, err := s.q.Query(ctx, `
		SELECT id, seq, amount, outstanding, due_date, paid, paid_on
		FROM installments WHERE `+col+` = $1
		ORDER BY due_date, seq`+lock, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Installment
	for rows.Next() {
		it, err := scanInstallment(rows, parent)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func scanInstallment(row pgx.Row, parent Parent) (Installment, error) {
	it := Installment{Parent: parent}
	err := row.Scan(&it.ID, &it.Seq, &it.Amount, &it.Outstanding, &it.DueDate, &it.Paid, &it.PaidOn)
	return it, err
}

// DeleteInstallments removes every installment of parent.
func (s *Store) DeleteInstallments(ctx context.Context, parent Parent) error {
	col, id := ownerFilter(parent)
	if col == "" {
		return nil
	}
	_, err := s.q.Exec(ctx, `DELETE FROM installments WHERE `+col+` = $1`, id)
	return err
}

// InsertInstallment stores one installment.
func (s *Store) InsertInstallment(ctx context.Context, it Installment) (int64, error) {
	receivableID, loanID := ownerColumns(it.Parent)
	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO installments (receivable_id, loan_id, seq, amount, outstanding, due_date, paid, paid_on)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		receivableID, loanID, it.Seq, it.Amount, it.Outstanding, it.DueDate, it.Paid, it.PaidOn).Scan(&id)
	return id, err
}

// UpdateInstallment stores payment progress.
func (s *Store) UpdateInstallment(ctx context.Context, it Installment) error {
	tag, err := s.q.Exec(ctx, `UPDATE installments SET outstanding = $2, paid = $3, paid_on = $4 WHERE id = $1`,
		it.ID, it.Outstanding, it.Paid, it.PaidOn)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInstallmentNotFound
	}
	return nil
}
