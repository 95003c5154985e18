// Package schedule splits amounts owed into dated installments and applies
// payments to them in due-date order.
package schedule

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/shared"
)

var (
	// ErrScheduleHasPayments blocks regenerating a schedule that already
	// absorbed payments, which would silently erase payment history.
	ErrScheduleHasPayments = fmt.Errorf("schedule: installments already carry payments: %w", shared.ErrValidation)
	// ErrInstallmentNotFound indicates a missing installment.
	ErrInstallmentNotFound = fmt.Errorf("schedule: installment %w", shared.ErrNotFound)
	// ErrInstallmentPaid rejects paying a settled installment.
	ErrInstallmentPaid = fmt.Errorf("schedule: installment already paid: %w", shared.ErrValidation)
)

// Parent owns a set of installments: either a receivable/payable account or
// a loan, never both. The interface is sealed to those two variants.
type Parent interface {
	fmt.Stringer
	isParent()
}

// AccountParent is a receivable/payable account owning installments.
type AccountParent struct{ ReceivableID int64 }

// LoanParent is a loan owning installments.
type LoanParent struct{ LoanID int64 }

func (AccountParent) isParent() {}
func (LoanParent) isParent()    {}

func (p AccountParent) String() string { return fmt.Sprintf("receivable:%d", p.ReceivableID) }
func (p LoanParent) String() string    { return fmt.Sprintf("loan:%d", p.LoanID) }

// Installment is one scheduled partial obligation.
type Installment struct {
	ID          int64
	Parent      Parent
	Seq         int
	Amount      decimal.Decimal
	Outstanding decimal.Decimal
	DueDate     time.Time
	Paid        bool
	PaidOn      *time.Time
}

// Touched reports whether any payment reached the installment.
func (i Installment) Touched() bool {
	return i.Paid || !i.Outstanding.Equal(i.Amount)
}

// Plan describes how to split a total.
type Plan struct {
	Total        decimal.Decimal
	Count        int
	Start        time.Time
	IntervalDays int
}

// Allocation is the outcome of applying one payment.
type Allocation struct {
	Remainder decimal.Decimal
	Changed   []Installment
}
