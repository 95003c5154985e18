package schedule

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TxRepository persists installments inside the caller's unit of work.
type TxRepository interface {
	ListInstallments(ctx context.Context, parent Parent) ([]Installment, error)
	DeleteInstallments(ctx context.Context, parent Parent) error
	InsertInstallment(ctx context.Context, inst Installment) (int64, error)
	UpdateInstallment(ctx context.Context, inst Installment) error
}

// Scheduler runs schedule operations against a transaction owned by the
// caller (document or loan services).
type Scheduler struct {
	now func() time.Time
}

// NewScheduler builds a Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{now: func() time.Time { return time.Now().UTC() }}
}

// WithNow overrides the clock.
func (s *Scheduler) WithNow(fn func() time.Time) *Scheduler {
	if fn != nil {
		s.now = fn
	}
	return s
}

// Reschedule discards every installment of parent and builds a fresh
// schedule. It refuses once any installment has absorbed a payment.
func (s *Scheduler) Reschedule(ctx context.Context, tx TxRepository, parent Parent, plan Plan) ([]Installment, error) {
	items, err := Build(parent, plan)
	if err != nil {
		return nil, err
	}
	existing, err := tx.ListInstallments(ctx, parent)
	if err != nil {
		return nil, err
	}
	for _, it := range existing {
		if it.Touched() {
			return nil, ErrScheduleHasPayments
		}
	}
	if err := tx.DeleteInstallments(ctx, parent); err != nil {
		return nil, err
	}
	for i := range items {
		id, err := tx.InsertInstallment(ctx, items[i])
		if err != nil {
			return nil, err
		}
		items[i].ID = id
	}
	return items, nil
}

// ApplyPayment cascades amount over parent's installments. Without a
// schedule the whole amount is returned as remainder.
func (s *Scheduler) ApplyPayment(ctx context.Context, tx TxRepository, parent Parent, amount decimal.Decimal) (Allocation, error) {
	items, err := tx.ListInstallments(ctx, parent)
	if err != nil {
		return Allocation{}, err
	}
	if len(items) == 0 {
		return Allocation{Remainder: amount}, nil
	}
	alloc := Allocate(amount, items, s.now())
	for _, it := range alloc.Changed {
		if err := tx.UpdateInstallment(ctx, it); err != nil {
			return Allocation{}, err
		}
	}
	return alloc, nil
}

// Settle pays one installment in full and returns it with the amount that
// settled it.
func (s *Scheduler) Settle(ctx context.Context, tx TxRepository, parent Parent, installmentID int64) (Installment, decimal.Decimal, error) {
	items, err := tx.ListInstallments(ctx, parent)
	if err != nil {
		return Installment{}, decimal.Zero, err
	}
	for _, it := range items {
		if it.ID != installmentID {
			continue
		}
		if it.Paid {
			return Installment{}, decimal.Zero, ErrInstallmentPaid
		}
		amount := it.Outstanding
		paidOn := s.now()
		it.Outstanding = decimal.Zero
		it.Paid = true
		it.PaidOn = &paidOn
		if err := tx.UpdateInstallment(ctx, it); err != nil {
			return Installment{}, decimal.Zero, err
		}
		return it, amount, nil
	}
	return Installment{}, decimal.Zero, ErrInstallmentNotFound
}

// SettleAll pays every open installment and returns the total settled.
func (s *Scheduler) SettleAll(ctx context.Context, tx TxRepository, parent Parent) (decimal.Decimal, error) {
	items, err := tx.ListInstallments(ctx, parent)
	if err != nil {
		return decimal.Zero, err
	}
	due := Outstanding(items)
	alloc := Allocate(due, items, s.now())
	for _, it := range alloc.Changed {
		if err := tx.UpdateInstallment(ctx, it); err != nil {
			return decimal.Zero, err
		}
	}
	return due, nil
}
