// Package loans registers borrowed capital and its repayment.
package loans

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/schedule"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

// Status of a loan.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusPaid    Status = "PAID"
)

var (
	// ErrLoanNotFound indicates a missing loan.
	ErrLoanNotFound = fmt.Errorf("loans: loan %w", shared.ErrNotFound)
	// ErrLoanPaid rejects operations on settled loans.
	ErrLoanPaid = fmt.Errorf("loans: loan already paid: %w", shared.ErrValidation)
)

// Loan is capital received from a lender.
type Loan struct {
	ID         int64
	CompanyID  int64
	DocumentID *int64
	Lender     string
	Currency   string
	Principal  decimal.Decimal
	Rate       decimal.Decimal
	Interest   decimal.Decimal
	Status     Status
	LoanDate   time.Time
	DueDate    time.Time
	CreatedAt  time.Time
}

// Owed is principal plus interest.
func (l Loan) Owed() decimal.Decimal {
	return l.Principal.Add(l.Interest)
}

// Interest computes principal × rate / 100 rounded to cents.
func Interest(principal, rate decimal.Decimal) decimal.Decimal {
	return shared.Round2(principal.Mul(rate).Div(decimal.NewFromInt(100)))
}

// RegisterInput registers a loan and the inflow of its principal.
type RegisterInput struct {
	Lender     string
	Currency   string
	Principal  decimal.Decimal
	Rate       decimal.Decimal
	LoanDate   time.Time
	DueDate    time.Time
	DocumentID *int64
	AccountID  *int64
	ITF        decimal.Decimal
}

// PaymentInput says where a repayment leaves from.
type PaymentInput struct {
	AccountID *int64
	ITF       decimal.Decimal
	PaidAt    time.Time
}

// Detail is a loan with its schedule.
type Detail struct {
	Loan         Loan
	Installments []schedule.Installment
	Outstanding  decimal.Decimal
}
