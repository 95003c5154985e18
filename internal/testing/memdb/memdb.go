// Package memdb is an in-memory stand-in for the PostgreSQL stores used by
// service tests. A transaction works on a copy of the state that replaces
// the committed state only when its callback returns nil, so a failed
// operation leaves nothing behind.
package memdb

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/odyssey-erp/ledgercore/internal/audit"
	"github.com/odyssey-erp/ledgercore/internal/documents"
	"github.com/odyssey-erp/ledgercore/internal/inventory"
	"github.com/odyssey-erp/ledgercore/internal/ledger"
	"github.com/odyssey-erp/ledgercore/internal/loans"
	"github.com/odyssey-erp/ledgercore/internal/schedule"
	"github.com/odyssey-erp/ledgercore/internal/tax"
)

type state struct {
	seq            int64
	accounts       map[int64]ledger.Account
	movements      map[int64]ledger.Movement
	products       map[int64]inventory.Product
	adjustments    map[int64]inventory.Adjustment
	counterparties map[int64]documents.Counterparty
	docs           map[int64]documents.Document
	lines          map[int64]documents.Line
	receivables    map[int64]documents.Receivable
	expenses       map[int64]documents.Expense
	installments   map[int64]schedule.Installment
	loans          map[int64]loans.Loan
	certificates   map[int64]tax.Certificate
	details        map[int64]tax.Detail
	taxPayments    map[int64]tax.Payment
	closures       map[string]tax.Closure
	audit          []audit.Entry
}

func newState() *state {
	return &state{
		accounts:       map[int64]ledger.Account{},
		movements:      map[int64]ledger.Movement{},
		products:       map[int64]inventory.Product{},
		adjustments:    map[int64]inventory.Adjustment{},
		counterparties: map[int64]documents.Counterparty{},
		docs:           map[int64]documents.Document{},
		lines:          map[int64]documents.Line{},
		receivables:    map[int64]documents.Receivable{},
		expenses:       map[int64]documents.Expense{},
		installments:   map[int64]schedule.Installment{},
		loans:          map[int64]loans.Loan{},
		certificates:   map[int64]tax.Certificate{},
		details:        map[int64]tax.Detail{},
		taxPayments:    map[int64]tax.Payment{},
		closures:       map[string]tax.Closure{},
	}
}

// clone copies every table. Rows are values; slices inside rows are never
// mutated in place.
func (s *state) clone() *state {
	return &state{
		seq:            s.seq,
		accounts:       maps.Clone(s.accounts),
		movements:      maps.Clone(s.movements),
		products:       maps.Clone(s.products),
		adjustments:    maps.Clone(s.adjustments),
		counterparties: maps.Clone(s.counterparties),
		docs:           maps.Clone(s.docs),
		lines:          maps.Clone(s.lines),
		receivables:    maps.Clone(s.receivables),
		expenses:       maps.Clone(s.expenses),
		installments:   maps.Clone(s.installments),
		loans:          maps.Clone(s.loans),
		certificates:   maps.Clone(s.certificates),
		details:        maps.Clone(s.details),
		taxPayments:    maps.Clone(s.taxPayments),
		closures:       maps.Clone(s.closures),
		audit:          slices.Clone(s.audit),
	}
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

func sortedIDs[V any](m map[int64]V) []int64 {
	return slices.Sorted(maps.Keys(m))
}

// DB holds the committed state. Transactions are serialized.
type DB struct {
	mu    sync.Mutex
	state *state
	fail  map[string]error
}

// New builds an empty DB.
func New() *DB {
	return &DB{state: newState(), fail: map[string]error{}}
}

// FailOn makes every transactional call of method return err. A nil err
// clears the failure.
func (d *DB) FailOn(method string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.fail, method)
		return
	}
	d.fail[method] = err
}

func (d *DB) run(fn func(*Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	tx := &Tx{s: d.state.clone(), fail: d.fail}
	if err := fn(tx); err != nil {
		return err
	}
	d.state = tx.s
	return nil
}

func (d *DB) read(fn func(*state)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.state)
}

// Update runs fn in a transaction, for seeding and for tests driving
// collaborators that take a caller-owned unit of work.
func (d *DB) Update(ctx context.Context, fn func(context.Context, *Tx) error) error {
	return d.run(func(tx *Tx) error { return fn(ctx, tx) })
}

// Account returns a committed ledger account.
func (d *DB) Account(id int64) (acct ledger.Account) {
	d.read(func(s *state) { acct = s.accounts[id] })
	return acct
}

// Product returns a committed product.
func (d *DB) Product(id int64) (p inventory.Product) {
	d.read(func(s *state) { p = s.products[id] })
	return p
}

// Products lists committed products by id.
func (d *DB) Products() (out []inventory.Product) {
	d.read(func(s *state) {
		for _, id := range sortedIDs(s.products) {
			out = append(out, s.products[id])
		}
	})
	return out
}

// Document returns a committed document and whether it exists.
func (d *DB) Document(id int64) (doc documents.Document, ok bool) {
	d.read(func(s *state) { doc, ok = s.docs[id] })
	return doc, ok
}

// Receivable returns the committed account of a document.
func (d *DB) Receivable(documentID int64) (acct documents.Receivable, ok bool) {
	d.read(func(s *state) {
		for _, r := range s.receivables {
			if r.DocumentID == documentID {
				acct, ok = r, true
				return
			}
		}
	})
	return acct, ok
}

// Installments lists the committed installments of parent.
func (d *DB) Installments(parent schedule.Parent) (out []schedule.Installment) {
	d.read(func(s *state) { out = installmentsOf(s, parent) })
	return out
}

// Movements lists committed movements by id.
func (d *DB) Movements() (out []ledger.Movement) {
	d.read(func(s *state) {
		for _, id := range sortedIDs(s.movements) {
			out = append(out, s.movements[id])
		}
	})
	return out
}

// Expenses lists committed expenses by id.
func (d *DB) Expenses() (out []documents.Expense) {
	d.read(func(s *state) {
		for _, id := range sortedIDs(s.expenses) {
			out = append(out, s.expenses[id])
		}
	})
	return out
}

// Loan returns a committed loan.
func (d *DB) Loan(id int64) (l loans.Loan) {
	d.read(func(s *state) { l = s.loans[id] })
	return l
}

// AuditEntries lists the committed trail in insertion order.
func (d *DB) AuditEntries() (out []audit.Entry) {
	d.read(func(s *state) { out = slices.Clone(s.audit) })
	return out
}

// Counts reports row counts per table, used to assert nothing leaked.
func (d *DB) Counts() (out map[string]int) {
	d.read(func(s *state) {
		out = map[string]int{
			"documents":      len(s.docs),
			"document_lines": len(s.lines),
			"receivables":    len(s.receivables),
			"installments":   len(s.installments),
			"movements":      len(s.movements),
			"expenses":       len(s.expenses),
			"products":       len(s.products),
			"adjustments":    len(s.adjustments),
			"counterparties": len(s.counterparties),
			"loans":          len(s.loans),
			"certificates":   len(s.certificates),
			"tax_payments":   len(s.taxPayments),
			"audit":          len(s.audit),
		}
	})
	return out
}

func installmentsOf(s *state, parent schedule.Parent) []schedule.Installment {
	var out []schedule.Installment
	for _, it := range s.installments {
		if it.Parent == parent {
			out = append(out, it)
		}
	}
	schedule.SortByDue(out)
	return out
}

var (
	_ ledger.RepositoryPort    = LedgerRepo{}
	_ inventory.RepositoryPort = InventoryRepo{}
	_ documents.RepositoryPort = DocumentsRepo{}
	_ loans.RepositoryPort     = LoansRepo{}
	_ tax.RepositoryPort       = TaxRepo{}
	_ documents.TxRepository   = (*Tx)(nil)
	_ loans.TxRepository       = (*Tx)(nil)
	_ tax.TxRepository         = (*Tx)(nil)
)
