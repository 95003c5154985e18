package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/shared"
)

// AccountKind distinguishes cash boxes from bank accounts. Only bank accounts
// are charged the transaction tax (ITF).
type AccountKind string

const (
	KindCash AccountKind = "CASH"
	KindBank AccountKind = "BANK"
)

// Direction of a movement relative to the account.
type Direction string

const (
	Inflow  Direction = "INFLOW"
	Outflow Direction = "OUTFLOW"
)

var (
	// ErrAccountNotFound indicates a missing ledger account.
	ErrAccountNotFound = fmt.Errorf("ledger: account %w", shared.ErrNotFound)
	// ErrMovementNotFound indicates a missing movement.
	ErrMovementNotFound = fmt.Errorf("ledger: movement %w", shared.ErrNotFound)
	// ErrCurrencyMismatch rejects postings in a currency the account does not hold.
	ErrCurrencyMismatch = fmt.Errorf("ledger: movement currency differs from account currency: %w", shared.ErrValidation)
	// ErrLinkedMovement rejects deleting a movement owned by a document or loan.
	ErrLinkedMovement = fmt.Errorf("ledger: movement belongs to a document or loan: %w", shared.ErrValidation)
	// ErrUnsupportedPair rejects transfers between unsupported currencies.
	ErrUnsupportedPair = fmt.Errorf("ledger: unsupported currency pair: %w", shared.ErrValidation)
)

// Account is a cash box or bank account holding one currency.
type Account struct {
	ID             int64
	CompanyID      int64
	Kind           AccountKind
	Name           string
	Currency       string
	OpeningBalance decimal.Decimal
	Balance        decimal.Decimal
	CreatedAt      time.Time
}

// Movement is one posted inflow or outflow. It is immutable once stored.
type Movement struct {
	ID           int64
	CompanyID    int64
	Direction    Direction
	Amount       decimal.Decimal
	Currency     string
	PostedAt     time.Time
	Reference    string
	DocumentID   *int64
	LoanID       *int64
	AccountID    *int64
	ExchangeRate decimal.Decimal
	FXDifference decimal.Decimal
	ITF          decimal.Decimal
}

// Linked reports whether the movement is owned by a document or loan.
func (m Movement) Linked() bool {
	return m.DocumentID != nil || m.LoanID != nil
}

func (m Movement) validate() error {
	if m.Direction != Inflow && m.Direction != Outflow {
		return shared.Invalid("direction", "must be INFLOW or OUTFLOW")
	}
	if !m.Amount.IsPositive() {
		return shared.Invalid("amount", "must be positive")
	}
	if m.ITF.IsNegative() {
		return shared.Invalid("itf", "must not be negative")
	}
	if !shared.ValidCurrency(m.Currency) {
		return shared.Invalid("currency", "must be PEN or USD")
	}
	return nil
}

// Delta is the signed balance change a movement applies to an account of
// the given kind. Reversal applies its negation.
func Delta(kind AccountKind, dir Direction, amount, itf decimal.Decimal) decimal.Decimal {
	fee := decimal.Zero
	if kind == KindBank {
		fee = itf
	}
	if dir == Inflow {
		return amount.Sub(fee)
	}
	return amount.Add(fee).Neg()
}

// AccountInput creates a ledger account.
type AccountInput struct {
	Kind           AccountKind
	Name           string
	Currency       string
	OpeningBalance decimal.Decimal
}

// MovementFilter narrows movement listings.
type MovementFilter struct {
	CompanyID int64
	AccountID int64
	From      time.Time
	To        time.Time
	Limit     int
}

// TransferInput moves money between two accounts, converting between PEN
// and USD at Rate when currencies differ.
type TransferInput struct {
	FromAccountID int64
	ToAccountID   int64
	Amount        decimal.Decimal
	Rate          decimal.Decimal
	ITF           decimal.Decimal
	Reference     string
}

// Drift reports an account whose stored balance disagrees with its journal.
type Drift struct {
	AccountID int64
	Stored    decimal.Decimal
	Expected  decimal.Decimal
}

// Position summarises balances per currency.
type Position struct {
	ByCurrency map[string]decimal.Decimal
	Rate       decimal.Decimal
	TotalPEN   decimal.Decimal
}
