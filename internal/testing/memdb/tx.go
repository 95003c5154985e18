package memdb

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/audit"
	"github.com/odyssey-erp/ledgercore/internal/documents"
	"github.com/odyssey-erp/ledgercore/internal/inventory"
	"github.com/odyssey-erp/ledgercore/internal/ledger"
	"github.com/odyssey-erp/ledgercore/internal/loans"
	"github.com/odyssey-erp/ledgercore/internal/schedule"
	"github.com/odyssey-erp/ledgercore/internal/shared"
	"github.com/odyssey-erp/ledgercore/internal/tax"
)

// ErrForeignKey mirrors a restrict violation of the real schema.
var ErrForeignKey = errors.New("memdb: foreign key violation")

// Tx implements the transactional surface of every store.
type Tx struct {
	s    *state
	fail map[string]error
}

func (t *Tx) check(method string) error {
	return t.fail[method]
}

// InsertAuditEntry appends to the trail.
func (t *Tx) InsertAuditEntry(_ context.Context, e audit.Entry) error {
	if err := t.check("InsertAuditEntry"); err != nil {
		return err
	}
	e.ID = t.s.nextID()
	t.s.audit = append(t.s.audit, e)
	return nil
}

// InsertLedgerAccount stores an account.
func (t *Tx) InsertLedgerAccount(_ context.Context, a ledger.Account) (int64, error) {
	if err := t.check("InsertLedgerAccount"); err != nil {
		return 0, err
	}
	a.ID = t.s.nextID()
	t.s.accounts[a.ID] = a
	return a.ID, nil
}

// LockLedgerAccount loads an account.
func (t *Tx) LockLedgerAccount(_ context.Context, id int64) (ledger.Account, error) {
	a, ok := t.s.accounts[id]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return a, nil
}

// AdjustLedgerBalance adds delta to the stored balance.
func (t *Tx) AdjustLedgerBalance(_ context.Context, id int64, delta decimal.Decimal) error {
	if err := t.check("AdjustLedgerBalance"); err != nil {
		return err
	}
	a, ok := t.s.accounts[id]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	a.Balance = a.Balance.Add(delta)
	t.s.accounts[id] = a
	return nil
}

// InsertMovement stores a movement.
func (t *Tx) InsertMovement(_ context.Context, mv ledger.Movement) (int64, error) {
	if err := t.check("InsertMovement"); err != nil {
		return 0, err
	}
	mv.ID = t.s.nextID()
	t.s.movements[mv.ID] = mv
	return mv.ID, nil
}

// GetMovement loads a movement.
func (t *Tx) GetMovement(_ context.Context, id int64) (ledger.Movement, error) {
	mv, ok := t.s.movements[id]
	if !ok {
		return ledger.Movement{}, ledger.ErrMovementNotFound
	}
	return mv, nil
}

// DeleteMovementRow removes a movement and the tax payments it funded.
func (t *Tx) DeleteMovementRow(_ context.Context, id int64) error {
	if err := t.check("DeleteMovementRow"); err != nil {
		return err
	}
	if _, ok := t.s.movements[id]; !ok {
		return ledger.ErrMovementNotFound
	}
	delete(t.s.movements, id)
	for pid, p := range t.s.taxPayments {
		if p.MovementID == id {
			delete(t.s.taxPayments, pid)
		}
	}
	return nil
}

// FindProductCandidates matches name fragments and exact names.
func (t *Tx) FindProductCandidates(_ context.Context, companyID int64, fragment, exact string) ([]inventory.Product, error) {
	frag, want := strings.ToLower(fragment), strings.ToLower(exact)
	var out []inventory.Product
	for _, id := range sortedIDs(t.s.products) {
		p := t.s.products[id]
		if p.CompanyID != companyID {
			continue
		}
		name := strings.ToLower(p.Name)
		match := strings.Contains(name, frag) || name == want
		for _, alt := range p.AltNames {
			if strings.ToLower(alt) == want {
				match = true
			}
		}
		if match {
			out = append(out, p)
		}
	}
	return out, nil
}

// LockProduct loads a product.
func (t *Tx) LockProduct(_ context.Context, id int64) (inventory.Product, error) {
	p, ok := t.s.products[id]
	if !ok {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	return p, nil
}

// InsertProduct stores a product, enforcing unique SKUs per company.
func (t *Tx) InsertProduct(_ context.Context, p inventory.Product) (int64, error) {
	if err := t.check("InsertProduct"); err != nil {
		return 0, err
	}
	for _, other := range t.s.products {
		if other.CompanyID == p.CompanyID && other.SKU == p.SKU {
			return 0, shared.ErrDuplicate
		}
	}
	p.ID = t.s.nextID()
	t.s.products[p.ID] = p
	return p.ID, nil
}

// AdjustProductStock adds delta to stock.
func (t *Tx) AdjustProductStock(_ context.Context, id int64, delta decimal.Decimal) error {
	if err := t.check("AdjustProductStock"); err != nil {
		return err
	}
	p, ok := t.s.products[id]
	if !ok {
		return inventory.ErrProductNotFound
	}
	p.Stock = p.Stock.Add(delta)
	t.s.products[id] = p
	return nil
}

// UpdateProductPurchasePrice stores the reference purchase price.
func (t *Tx) UpdateProductPurchasePrice(_ context.Context, id int64, price decimal.Decimal) error {
	p, ok := t.s.products[id]
	if !ok {
		return inventory.ErrProductNotFound
	}
	p.PurchasePrice = price
	t.s.products[id] = p
	return nil
}

// AddProductAltName appends an alternate name.
func (t *Tx) AddProductAltName(_ context.Context, id int64, name string) error {
	p, ok := t.s.products[id]
	if !ok {
		return inventory.ErrProductNotFound
	}
	p.AltNames = append(slices.Clone(p.AltNames), name)
	t.s.products[id] = p
	return nil
}

// InsertStockAdjustment stores a manual adjustment.
func (t *Tx) InsertStockAdjustment(_ context.Context, adj inventory.Adjustment) (int64, error) {
	if err := t.check("InsertStockAdjustment"); err != nil {
		return 0, err
	}
	adj.ID = t.s.nextID()
	t.s.adjustments[adj.ID] = adj
	return adj.ID, nil
}

// ListInstallments lists parent's installments by due date.
func (t *Tx) ListInstallments(_ context.Context, parent schedule.Parent) ([]schedule.Installment, error) {
	return installmentsOf(t.s, parent), nil
}

// DeleteInstallments removes parent's installments.
func (t *Tx) DeleteInstallments(_ context.Context, parent schedule.Parent) error {
	for id, it := range t.s.installments {
		if it.Parent == parent {
			delete(t.s.installments, id)
		}
	}
	return nil
}

// InsertInstallment stores an installment.
func (t *Tx) InsertInstallment(_ context.Context, inst schedule.Installment) (int64, error) {
	if err := t.check("InsertInstallment"); err != nil {
		return 0, err
	}
	inst.ID = t.s.nextID()
	t.s.installments[inst.ID] = inst
	return inst.ID, nil
}

// UpdateInstallment stores outstanding and paid state.
func (t *Tx) UpdateInstallment(_ context.Context, inst schedule.Installment) error {
	if err := t.check("UpdateInstallment"); err != nil {
		return err
	}
	if _, ok := t.s.installments[inst.ID]; !ok {
		return schedule.ErrInstallmentNotFound
	}
	t.s.installments[inst.ID] = inst
	return nil
}

// EnsureCounterparty finds or registers a counterparty by tax id.
func (t *Tx) EnsureCounterparty(_ context.Context, companyID int64, taxID, name string) (documents.Counterparty, bool, error) {
	for _, cp := range t.s.counterparties {
		if cp.CompanyID == companyID && cp.TaxID == taxID {
			return cp, false, nil
		}
	}
	cp := documents.Counterparty{ID: t.s.nextID(), CompanyID: companyID, TaxID: taxID, Name: name}
	t.s.counterparties[cp.ID] = cp
	return cp, true, nil
}

// GetCounterparty loads a counterparty.
func (t *Tx) GetCounterparty(_ context.Context, id int64) (documents.Counterparty, error) {
	cp, ok := t.s.counterparties[id]
	if !ok {
		return documents.Counterparty{}, documents.ErrCounterpartyNotFound
	}
	return cp, nil
}

// FindDuplicateDocument looks a natural key up.
func (t *Tx) FindDuplicateDocument(_ context.Context, key documents.NaturalKey) (int64, bool, error) {
	for _, id := range sortedIDs(t.s.docs) {
		d := t.s.docs[id]
		if d.CompanyID == key.CompanyID && d.CounterpartyID == key.CounterpartyID &&
			d.Operation == key.Operation && d.Series == key.Series && d.Number == key.Number {
			return id, true, nil
		}
	}
	return 0, false, nil
}

// InsertDocument stores a document header.
func (t *Tx) InsertDocument(_ context.Context, doc documents.Document) (int64, error) {
	if err := t.check("InsertDocument"); err != nil {
		return 0, err
	}
	doc.ID = t.s.nextID()
	t.s.docs[doc.ID] = doc
	return doc.ID, nil
}

// LockDocument loads a document.
func (t *Tx) LockDocument(_ context.Context, id int64) (documents.Document, error) {
	d, ok := t.s.docs[id]
	if !ok {
		return documents.Document{}, documents.ErrDocumentNotFound
	}
	return d, nil
}

// UpdateDocument rewrites the mutable header fields.
func (t *Tx) UpdateDocument(_ context.Context, doc documents.Document) error {
	if err := t.check("UpdateDocument"); err != nil {
		return err
	}
	cur, ok := t.s.docs[doc.ID]
	if !ok {
		return documents.ErrDocumentNotFound
	}
	cur.CounterpartyID = doc.CounterpartyID
	cur.Kind = doc.Kind
	cur.IssueDate = doc.IssueDate
	cur.Currency = doc.Currency
	cur.ExchangeRate = doc.ExchangeRate
	cur.Subtotal, cur.Tax, cur.Total = doc.Subtotal, doc.Tax, doc.Total
	cur.AuthorityStatus = doc.AuthorityStatus
	t.s.docs[doc.ID] = cur
	return nil
}

// DeleteDocumentRow removes a document. Movements must be gone already;
// dependent rows cascade or detach like the real schema.
func (t *Tx) DeleteDocumentRow(_ context.Context, id int64) error {
	if err := t.check("DeleteDocumentRow"); err != nil {
		return err
	}
	if _, ok := t.s.docs[id]; !ok {
		return documents.ErrDocumentNotFound
	}
	for _, mv := range t.s.movements {
		if mv.DocumentID != nil && *mv.DocumentID == id {
			return fmt.Errorf("%w: movement %d references document %d", ErrForeignKey, mv.ID, id)
		}
	}
	delete(t.s.docs, id)
	for lid, l := range t.s.lines {
		if l.DocumentID == id {
			delete(t.s.lines, lid)
		}
	}
	for rid, r := range t.s.receivables {
		if r.DocumentID == id {
			delete(t.s.receivables, rid)
			for iid, it := range t.s.installments {
				if it.Parent == (schedule.AccountParent{ReceivableID: rid}) {
					delete(t.s.installments, iid)
				}
			}
		}
	}
	for eid, e := range t.s.expenses {
		if e.DocumentID != nil && *e.DocumentID == id {
			delete(t.s.expenses, eid)
		}
	}
	for did, d := range t.s.details {
		if d.DocumentID == id {
			delete(t.s.details, did)
		}
	}
	for cid, child := range t.s.docs {
		if child.ParentID != nil && *child.ParentID == id {
			child.ParentID = nil
			t.s.docs[cid] = child
		}
	}
	for lid, l := range t.s.loans {
		if l.DocumentID != nil && *l.DocumentID == id {
			l.DocumentID = nil
			t.s.loans[lid] = l
		}
	}
	return nil
}

// AttachedFreight sums the freight documents attached to a purchase.
func (t *Tx) AttachedFreight(_ context.Context, parentID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, d := range t.s.docs {
		if d.Freight && d.ParentID != nil && *d.ParentID == parentID {
			sum = sum.Add(d.Total)
		}
	}
	return sum, nil
}

// InsertDocumentLine stores a line.
func (t *Tx) InsertDocumentLine(_ context.Context, line documents.Line) (int64, error) {
	if err := t.check("InsertDocumentLine"); err != nil {
		return 0, err
	}
	line.ID = t.s.nextID()
	t.s.lines[line.ID] = line
	return line.ID, nil
}

// ListDocumentLines lists a document's lines in insertion order.
func (t *Tx) ListDocumentLines(_ context.Context, documentID int64) ([]documents.Line, error) {
	return linesOf(t.s, documentID), nil
}

// DeleteDocumentLines removes a document's lines.
func (t *Tx) DeleteDocumentLines(_ context.Context, documentID int64) error {
	for id, l := range t.s.lines {
		if l.DocumentID == documentID {
			delete(t.s.lines, id)
		}
	}
	return nil
}

// InsertReceivable stores a document's account. One per document.
func (t *Tx) InsertReceivable(_ context.Context, acct documents.Receivable) (int64, error) {
	if err := t.check("InsertReceivable"); err != nil {
		return 0, err
	}
	for _, r := range t.s.receivables {
		if r.DocumentID == acct.DocumentID {
			return 0, shared.ErrDuplicate
		}
	}
	acct.ID = t.s.nextID()
	t.s.receivables[acct.ID] = acct
	return acct.ID, nil
}

// LockReceivable loads a document's account.
func (t *Tx) LockReceivable(_ context.Context, documentID int64) (documents.Receivable, error) {
	for _, r := range t.s.receivables {
		if r.DocumentID == documentID {
			return r, nil
		}
	}
	return documents.Receivable{}, documents.ErrAccountNotFound
}

// UpdateReceivable stores total, pending and status.
func (t *Tx) UpdateReceivable(_ context.Context, acct documents.Receivable) error {
	if err := t.check("UpdateReceivable"); err != nil {
		return err
	}
	cur, ok := t.s.receivables[acct.ID]
	if !ok {
		return documents.ErrAccountNotFound
	}
	cur.Total, cur.Pending, cur.Status = acct.Total, acct.Pending, acct.Status
	t.s.receivables[acct.ID] = cur
	return nil
}

// InsertExpense stores an expense.
func (t *Tx) InsertExpense(_ context.Context, e documents.Expense) (int64, error) {
	if err := t.check("InsertExpense"); err != nil {
		return 0, err
	}
	e.ID = t.s.nextID()
	t.s.expenses[e.ID] = e
	return e.ID, nil
}

// DeleteDocumentExpenses removes expenses generated from a document.
func (t *Tx) DeleteDocumentExpenses(_ context.Context, documentID int64) error {
	for id, e := range t.s.expenses {
		if e.DocumentID != nil && *e.DocumentID == documentID {
			delete(t.s.expenses, id)
		}
	}
	return nil
}

// ListDocumentMovements lists movements owned by a document.
func (t *Tx) ListDocumentMovements(_ context.Context, documentID int64) ([]ledger.Movement, error) {
	return movementsOf(t.s, documentID), nil
}

// CountDocumentImpact counts what deleting the document touches.
func (t *Tx) CountDocumentImpact(_ context.Context, documentID int64) (documents.Impact, error) {
	var im documents.Impact
	for _, r := range t.s.receivables {
		if r.DocumentID == documentID {
			im.Installments = len(installmentsOf(t.s, schedule.AccountParent{ReceivableID: r.ID}))
		}
	}
	im.Payments = len(movementsOf(t.s, documentID))
	for _, d := range t.s.docs {
		if d.ParentID != nil && *d.ParentID == documentID {
			im.FreightChildren++
		}
	}
	for _, l := range t.s.loans {
		if l.DocumentID != nil && *l.DocumentID == documentID {
			im.Loans++
		}
	}
	return im, nil
}

// InsertLoan stores a loan.
func (t *Tx) InsertLoan(_ context.Context, l loans.Loan) (int64, error) {
	if err := t.check("InsertLoan"); err != nil {
		return 0, err
	}
	l.ID = t.s.nextID()
	t.s.loans[l.ID] = l
	return l.ID, nil
}

// LockLoan loads a loan.
func (t *Tx) LockLoan(_ context.Context, id int64) (loans.Loan, error) {
	l, ok := t.s.loans[id]
	if !ok {
		return loans.Loan{}, loans.ErrLoanNotFound
	}
	return l, nil
}

// UpdateLoanStatus stores the loan status.
func (t *Tx) UpdateLoanStatus(_ context.Context, id int64, status loans.Status) error {
	l, ok := t.s.loans[id]
	if !ok {
		return loans.ErrLoanNotFound
	}
	l.Status = status
	t.s.loans[id] = l
	return nil
}

// FindSaleDocument returns the sale printed as series-number.
func (t *Tx) FindSaleDocument(_ context.Context, companyID int64, series, number string) (int64, bool, error) {
	for _, id := range sortedIDs(t.s.docs) {
		d := t.s.docs[id]
		if d.CompanyID == companyID && d.Series == series && d.Number == number && d.Operation == documents.OperationSale {
			return id, true, nil
		}
	}
	return 0, false, nil
}

// RetentionCertificateExists checks the agent's series-number.
func (t *Tx) RetentionCertificateExists(_ context.Context, companyID, agentID int64, seriesNumber string) (bool, error) {
	for _, c := range t.s.certificates {
		if c.CompanyID == companyID && c.AgentID == agentID && strings.EqualFold(c.SeriesNumber, seriesNumber) {
			return true, nil
		}
	}
	return false, nil
}

// InsertRetentionCertificate stores a certificate.
func (t *Tx) InsertRetentionCertificate(_ context.Context, c tax.Certificate) (int64, error) {
	c.ID = t.s.nextID()
	t.s.certificates[c.ID] = c
	return c.ID, nil
}

// InsertRetentionDetail stores a certificate line.
func (t *Tx) InsertRetentionDetail(_ context.Context, d tax.Detail) (int64, error) {
	if err := t.check("InsertRetentionDetail"); err != nil {
		return 0, err
	}
	d.ID = t.s.nextID()
	t.s.details[d.ID] = d
	return d.ID, nil
}

// TaxPaymentExists checks the payment natural key.
func (t *Tx) TaxPaymentExists(_ context.Context, p tax.Payment) (bool, error) {
	for _, other := range t.s.taxPayments {
		if other.CompanyID == p.CompanyID && other.OperationNumber == p.OperationNumber &&
			other.Period == p.Period && other.Code == p.Code {
			return true, nil
		}
	}
	return false, nil
}

// InsertTaxPayment stores a tax payment.
func (t *Tx) InsertTaxPayment(_ context.Context, p tax.Payment) (int64, error) {
	if err := t.check("InsertTaxPayment"); err != nil {
		return 0, err
	}
	p.ID = t.s.nextID()
	t.s.taxPayments[p.ID] = p
	return p.ID, nil
}

// UpsertClosure stores or overwrites a period close.
func (t *Tx) UpsertClosure(_ context.Context, c tax.Closure) error {
	if err := t.check("UpsertClosure"); err != nil {
		return err
	}
	t.s.closures[closureKey(c.CompanyID, c.Period)] = c
	return nil
}

func closureKey(companyID int64, period string) string {
	return fmt.Sprintf("%d:%s", companyID, period)
}

func linesOf(s *state, documentID int64) []documents.Line {
	var out []documents.Line
	for _, id := range sortedIDs(s.lines) {
		if l := s.lines[id]; l.DocumentID == documentID {
			out = append(out, l)
		}
	}
	return out
}

func movementsOf(s *state, documentID int64) []ledger.Movement {
	var out []ledger.Movement
	for _, id := range sortedIDs(s.movements) {
		mv := s.movements[id]
		if mv.DocumentID != nil && *mv.DocumentID == documentID {
			out = append(out, mv)
		}
	}
	return out
}
