// Package documents manages the lifecycle of purchase and sale documents and
// keeps stock, ledger balances, receivables and installments consistent with
// them.
package documents

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/inventory"
	"github.com/odyssey-erp/ledgercore/internal/ledger"
	"github.com/odyssey-erp/ledgercore/internal/schedule"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

// Operation tells purchases from sales.
type Operation string

const (
	OperationPurchase Operation = "PURCHASE"
	OperationSale     Operation = "SALE"
)

// Kind is the document type. Only fiscal kinds carry IGV.
type Kind string

const (
	KindFactura Kind = "FACTURA"
	KindBoleta  Kind = "BOLETA"
	KindRecibo  Kind = "RECIBO"
)

// Fiscal reports whether the kind is an official tax document.
func (k Kind) Fiscal() bool {
	return k == KindFactura || k == KindBoleta
}

func (k Kind) valid() bool {
	return k.Fiscal() || k == KindRecibo
}

// Destination routes a line.
type Destination string

const (
	DestInventory Destination = "inventory"
	DestExpense   Destination = "expense"
	DestFreight   Destination = "freight"
)

func (d Destination) valid() bool {
	return d == DestInventory || d == DestExpense || d == DestFreight
}

// Authority statuses stored on documents.
const (
	AuthorityPending  = "PENDIENTE"
	AuthorityInternal = "INTERNO"
)

// AccountStatus tracks settlement of a receivable or payable.
type AccountStatus string

const (
	StatusPending AccountStatus = "PENDING"
	StatusPartial AccountStatus = "PARTIAL"
	StatusSettled AccountStatus = "SETTLED"
)

// DefaultTermDays is the due date offset for new accounts.
const DefaultTermDays = 30

var (
	// ErrDocumentNotFound indicates a missing document.
	ErrDocumentNotFound = fmt.Errorf("documents: document %w", shared.ErrNotFound)
	// ErrAccountNotFound indicates a document without receivable/payable account.
	ErrAccountNotFound = fmt.Errorf("documents: account %w", shared.ErrNotFound)
	// ErrCounterpartyNotFound indicates a missing counterparty.
	ErrCounterpartyNotFound = fmt.Errorf("documents: counterparty %w", shared.ErrNotFound)
	// ErrScheduledTotalChange rejects total changes on documents paid in installments.
	ErrScheduledTotalChange = fmt.Errorf("documents: total of a document with installments cannot change: %w", shared.ErrValidation)
	// ErrNothingOwed rejects payments and terms on settled accounts.
	ErrNothingOwed = fmt.Errorf("documents: account has no pending balance: %w", shared.ErrValidation)
	// ErrNotFreightParent rejects attaching freight to sales or freight documents.
	ErrNotFreightParent = fmt.Errorf("documents: freight attaches to inventory purchases only: %w", shared.ErrValidation)
)

// DuplicateWarning reports an existing document with the same natural key.
// Callers may retry with AllowDuplicate set.
type DuplicateWarning struct {
	ExistingID int64
	Code       string
}

func (w *DuplicateWarning) Error() string {
	return fmt.Sprintf("documents: %s already registered as document %d", w.Code, w.ExistingID)
}

// Unwrap lets errors.Is match shared.ErrDuplicate.
func (w *DuplicateWarning) Unwrap() error { return shared.ErrDuplicate }

// IsDuplicateWarning extracts a DuplicateWarning from err.
func IsDuplicateWarning(err error) (*DuplicateWarning, bool) {
	var w *DuplicateWarning
	ok := errors.As(err, &w)
	return w, ok
}

// Counterparty is a supplier or customer identified by tax id.
type Counterparty struct {
	ID        int64
	CompanyID int64
	TaxID     string
	Name      string
}

// Document is a persisted purchase or sale.
type Document struct {
	ID              int64
	CompanyID       int64
	CounterpartyID  int64
	Kind            Kind
	Operation       Operation
	Series          string
	Number          string
	IssueDate       time.Time
	Currency        string
	ExchangeRate    decimal.Decimal
	Subtotal        decimal.Decimal
	Tax             decimal.Decimal
	Total           decimal.Decimal
	AuthorityStatus string
	TaxShield       bool
	Freight         bool
	ParentID        *int64
	CreatedAt       time.Time
}

// Code is the printed series-number.
func (d Document) Code() string {
	return d.Series + "-" + d.Number
}

// StockSign is +1 for purchases and -1 for sales.
func (d Document) StockSign() decimal.Decimal {
	if d.Operation == OperationSale {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Direction is the ledger direction of payments on the document.
func (d Document) Direction() ledger.Direction {
	if d.Operation == OperationSale {
		return ledger.Inflow
	}
	return ledger.Outflow
}

// NaturalKey identifies a document within a company.
type NaturalKey struct {
	CompanyID      int64
	CounterpartyID int64
	Operation      Operation
	Series         string
	Number         string
}

// Line is one document item. UnitPrice and Subtotal are invoice values;
// UnitCost adds the share of freight invoiced on the same document.
type Line struct {
	ID          int64
	DocumentID  int64
	ProductID   *int64
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	UnitCost    decimal.Decimal
	Subtotal    decimal.Decimal
	Destination Destination
}

// Stocked reports whether the line moved inventory.
func (l Line) Stocked() bool {
	return l.ProductID != nil && l.Destination == DestInventory
}

// Receivable is the receivable (sale) or payable (purchase) account of a
// document.
type Receivable struct {
	ID         int64
	DocumentID int64
	Total      decimal.Decimal
	Pending    decimal.Decimal
	Status     AccountStatus
	DueDate    time.Time
}

// Applied is what payments, installments and retentions have extinguished.
func (a Receivable) Applied() decimal.Decimal {
	return a.Total.Sub(a.Pending)
}

// Settle decrements pending by amount, clamping at zero, and returns the
// part of amount that exceeded pending.
func (a *Receivable) Settle(amount decimal.Decimal) decimal.Decimal {
	excess := decimal.Zero
	a.Pending = a.Pending.Sub(amount)
	if a.Pending.IsNegative() {
		excess = a.Pending.Neg()
		a.Pending = decimal.Zero
	}
	a.refreshStatus()
	return excess
}

// Retotal changes the account total keeping what was already applied.
func (a *Receivable) Retotal(total decimal.Decimal) {
	applied := a.Applied()
	a.Total = total
	a.Pending = decimal.Max(total.Sub(applied), decimal.Zero)
	a.refreshStatus()
}

func (a *Receivable) refreshStatus() {
	switch {
	case !a.Pending.IsPositive():
		a.Status = StatusSettled
	case a.Pending.LessThan(a.Total):
		a.Status = StatusPartial
	default:
		a.Status = StatusPending
	}
}

// Expense is an operating expense, either generated from a document line or
// entered manually with its own outflow.
type Expense struct {
	ID          int64
	CompanyID   int64
	DocumentID  *int64
	MovementID  *int64
	Category    string
	Description string
	Amount      decimal.Decimal
	Currency    string
	Date        time.Time
}

// Impact counts what a deletion will cascade into.
type Impact struct {
	Installments    int
	Payments        int
	FreightChildren int
	Loans           int
}

func (i Impact) String() string {
	return fmt.Sprintf("%d installments, %d payments, %d freight documents, %d loans",
		i.Installments, i.Payments, i.FreightChildren, i.Loans)
}

// ParsedItem is one item extracted from a source document.
type ParsedItem struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
}

// ParsedDocument is the normalized output of the document parser.
type ParsedDocument struct {
	SeriesNumber      string
	IssueDate         time.Time
	CounterpartyTaxID string
	CounterpartyName  string
	Currency          string
	Total             decimal.Decimal
	Items             []ParsedItem
}

// SplitSeriesNumber splits "F001-123" into series and number.
func SplitSeriesNumber(value string) (string, string, error) {
	series, number, ok := strings.Cut(strings.TrimSpace(value), "-")
	series, number = strings.TrimSpace(series), strings.TrimSpace(number)
	if !ok || series == "" || number == "" {
		return "", "", shared.Invalid("series_number", "must look like SERIES-NUMBER")
	}
	return strings.ToUpper(series), number, nil
}

// TermsInput splits the pending balance into installments.
type TermsInput struct {
	Count        int
	IntervalDays int
	Start        time.Time
}

// PaymentInput registers money paid or collected against a document.
type PaymentInput struct {
	Amount         decimal.Decimal
	Rate           decimal.Decimal
	ITF            decimal.Decimal
	AccountID      *int64
	Reference      string
	PaidAt         time.Time
	IdempotencyKey string
}

// CreateInput creates a document from parsed data plus operator routing.
type CreateInput struct {
	Parsed         ParsedDocument
	Operation      Operation
	Kind           Kind
	ExchangeRate   decimal.Decimal
	TaxShield      bool
	Routes         []Destination
	AllowDuplicate bool
	DueDate        time.Time
	Terms          *TermsInput
	Payment        *PaymentInput
}

// LineInput is an edited line. ProductID pins the product; otherwise
// inventory lines are resolved from Description.
type LineInput struct {
	ProductID   *int64
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Destination Destination
}

// EditInput replaces a document's header and lines. The new total is the
// sum of the line subtotals.
type EditInput struct {
	CounterpartyTaxID string
	CounterpartyName  string
	Kind              Kind
	IssueDate         time.Time
	Currency          string
	ExchangeRate      decimal.Decimal
	Lines             []LineInput
	Reason            string
}

// FreightInput registers a freight purchase attributed to a parent purchase.
type FreightInput struct {
	ParentID          int64
	CounterpartyTaxID string
	CounterpartyName  string
	Series            string
	Number            string
	IssueDate         time.Time
	Amount            decimal.Decimal
}

// ExpenseInput registers a manual operating expense paid from an account.
type ExpenseInput struct {
	Category    string
	Description string
	Amount      decimal.Decimal
	Currency    string
	Date        time.Time
	AccountID   *int64
	ITF         decimal.Decimal
}

// ReturnInput sends goods back to the supplier against a refund.
type ReturnInput struct {
	ProductID  int64
	Quantity   decimal.Decimal
	Refund     decimal.Decimal
	Currency   string
	AccountID  *int64
	ReturnedAt time.Time
	Reason     string
}

// Return is a registered product return.
type Return struct {
	Adjustment inventory.Adjustment
	Movement   ledger.Movement
}

// ListFilter narrows document listings.
type ListFilter struct {
	CompanyID int64
	Operation Operation
	From      time.Time
	To        time.Time
	Page      shared.Page
}

// Result is the outcome of create.
type Result struct {
	Document     Document
	Lines        []Line
	Account      Receivable
	Installments []schedule.Installment
	Payment      *ledger.Movement
}

// Detail is a document with everything hanging from it.
type Detail struct {
	Document     Document
	Counterparty Counterparty
	Lines        []Line
	Account      *Receivable
	Installments []schedule.Installment
	Movements    []ledger.Movement
}

// Totals sums open balances per operation for cash-flow reporting. Tax
// shield documents never contribute.
type Totals struct {
	Receivable decimal.Decimal
	Payable    decimal.Decimal
}
