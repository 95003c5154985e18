package memdb

import (
	"context"
	"slices"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/documents"
	"github.com/odyssey-erp/ledgercore/internal/inventory"
	"github.com/odyssey-erp/ledgercore/internal/ledger"
	"github.com/odyssey-erp/ledgercore/internal/loans"
	"github.com/odyssey-erp/ledgercore/internal/schedule"
	"github.com/odyssey-erp/ledgercore/internal/shared"
	"github.com/odyssey-erp/ledgercore/internal/tax"
)

// LedgerRepo implements ledger.RepositoryPort.
type LedgerRepo struct{ db *DB }

// Ledger returns the ledger view of d.
func (d *DB) Ledger() LedgerRepo { return LedgerRepo{db: d} }

// WithTx runs fn in a transaction.
func (r LedgerRepo) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	return r.db.run(func(tx *Tx) error { return fn(ctx, tx) })
}

// GetLedgerAccount loads an account.
func (r LedgerRepo) GetLedgerAccount(_ context.Context, id int64) (acct ledger.Account, err error) {
	r.db.read(func(s *state) {
		var ok bool
		if acct, ok = s.accounts[id]; !ok {
			err = ledger.ErrAccountNotFound
		}
	})
	return acct, err
}

// ListLedgerAccounts lists a company's accounts by id.
func (r LedgerRepo) ListLedgerAccounts(_ context.Context, companyID int64) (out []ledger.Account, err error) {
	r.db.read(func(s *state) {
		for _, id := range sortedIDs(s.accounts) {
			if a := s.accounts[id]; a.CompanyID == companyID {
				out = append(out, a)
			}
		}
	})
	return out, nil
}

// ListMovements lists movements newest first.
func (r LedgerRepo) ListMovements(_ context.Context, f ledger.MovementFilter) (out []ledger.Movement, err error) {
	r.db.read(func(s *state) {
		for _, id := range sortedIDs(s.movements) {
			mv := s.movements[id]
			if mv.CompanyID != f.CompanyID {
				continue
			}
			if f.AccountID != 0 && (mv.AccountID == nil || *mv.AccountID != f.AccountID) {
				continue
			}
			if !f.From.IsZero() && mv.PostedAt.Before(f.From) {
				continue
			}
			if !f.To.IsZero() && !mv.PostedAt.Before(f.To) {
				continue
			}
			out = append(out, mv)
		}
	})
	sort.SliceStable(out, func(a, b int) bool {
		if !out[a].PostedAt.Equal(out[b].PostedAt) {
			return out[a].PostedAt.After(out[b].PostedAt)
		}
		return out[a].ID > out[b].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// JournalTotals sums the balance delta of every movement per account.
func (r LedgerRepo) JournalTotals(_ context.Context, companyID int64) (map[int64]decimal.Decimal, error) {
	out := map[int64]decimal.Decimal{}
	r.db.read(func(s *state) {
		for _, mv := range s.movements {
			if mv.AccountID == nil {
				continue
			}
			acct, ok := s.accounts[*mv.AccountID]
			if !ok || acct.CompanyID != companyID {
				continue
			}
			out[acct.ID] = out[acct.ID].Add(ledger.Delta(acct.Kind, mv.Direction, mv.Amount, mv.ITF))
		}
	})
	return out, nil
}

// ListCompanyIDs lists companies owning accounts.
func (r LedgerRepo) ListCompanyIDs(context.Context) (out []int64, err error) {
	r.db.read(func(s *state) {
		seen := map[int64]bool{}
		for _, a := range s.accounts {
			if !seen[a.CompanyID] {
				seen[a.CompanyID] = true
				out = append(out, a.CompanyID)
			}
		}
	})
	slices.Sort(out)
	return out, nil
}

// InventoryRepo implements inventory.RepositoryPort.
type InventoryRepo struct{ db *DB }

// Inventory returns the inventory view of d.
func (d *DB) Inventory() InventoryRepo { return InventoryRepo{db: d} }

// WithTx runs fn in a transaction.
func (r InventoryRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return r.db.run(func(tx *Tx) error { return fn(ctx, tx) })
}

// GetProduct loads a product.
func (r InventoryRepo) GetProduct(_ context.Context, id int64) (p inventory.Product, err error) {
	r.db.read(func(s *state) {
		var ok bool
		if p, ok = s.products[id]; !ok {
			err = inventory.ErrProductNotFound
		}
	})
	return p, err
}

// ListProducts lists a company's products.
func (r InventoryRepo) ListProducts(_ context.Context, companyID int64) (out []inventory.Product, err error) {
	r.db.read(func(s *state) {
		for _, id := range sortedIDs(s.products) {
			if p := s.products[id]; p.CompanyID == companyID {
				out = append(out, p)
			}
		}
	})
	return out, nil
}

// ListStockEvents lists document lines and adjustments touching a product.
func (r InventoryRepo) ListStockEvents(_ context.Context, productID int64) (out []inventory.StockEvent, err error) {
	r.db.read(func(s *state) {
		for _, id := range sortedIDs(s.lines) {
			l := s.lines[id]
			if l.ProductID == nil || *l.ProductID != productID {
				continue
			}
			d := s.docs[l.DocumentID]
			qty := l.Quantity
			if d.Operation == documents.OperationSale {
				qty = qty.Neg()
			}
			out = append(out, inventory.StockEvent{At: d.IssueDate, Source: string(d.Operation), Reference: d.Code(), Qty: qty, UnitPrice: l.UnitCost})
		}
		for _, id := range sortedIDs(s.adjustments) {
			a := s.adjustments[id]
			if a.ProductID != productID {
				continue
			}
			qty := a.Qty
			if a.Type == inventory.AdjustOut {
				qty = qty.Neg()
			}
			out = append(out, inventory.StockEvent{At: a.At, Source: "ADJUSTMENT", Reference: a.Reason, Qty: qty, UnitPrice: decimal.Zero})
		}
	})
	return out, nil
}

// DocumentsRepo implements documents.RepositoryPort.
type DocumentsRepo struct{ db *DB }

// Documents returns the documents view of d.
func (d *DB) Documents() DocumentsRepo { return DocumentsRepo{db: d} }

// WithTx runs fn in a transaction.
func (r DocumentsRepo) WithTx(ctx context.Context, fn func(context.Context, documents.TxRepository) error) error {
	return r.db.run(func(tx *Tx) error { return fn(ctx, tx) })
}

// GetDocument loads a document.
func (r DocumentsRepo) GetDocument(_ context.Context, id int64) (doc documents.Document, err error) {
	r.db.read(func(s *state) {
		var ok bool
		if doc, ok = s.docs[id]; !ok {
			err = documents.ErrDocumentNotFound
		}
	})
	return doc, err
}

// GetCounterpartyByID loads a counterparty.
func (r DocumentsRepo) GetCounterpartyByID(_ context.Context, id int64) (cp documents.Counterparty, err error) {
	r.db.read(func(s *state) {
		var ok bool
		if cp, ok = s.counterparties[id]; !ok {
			err = documents.ErrCounterpartyNotFound
		}
	})
	return cp, err
}

// ListDocuments lists a company's documents newest first.
func (r DocumentsRepo) ListDocuments(_ context.Context, f documents.ListFilter) (out []documents.Document, err error) {
	r.db.read(func(s *state) {
		for _, d := range s.docs {
			if d.CompanyID != f.CompanyID || (f.Operation != "" && d.Operation != f.Operation) {
				continue
			}
			if (!f.From.IsZero() && d.IssueDate.Before(f.From)) || (!f.To.IsZero() && !d.IssueDate.Before(f.To)) {
				continue
			}
			out = append(out, d)
		}
	})
	sort.Slice(out, func(a, b int) bool {
		if !out[a].IssueDate.Equal(out[b].IssueDate) {
			return out[a].IssueDate.After(out[b].IssueDate)
		}
		return out[a].ID > out[b].ID
	})
	start := min(f.Page.Offset(), len(out))
	end := min(start+f.Page.Size, len(out))
	return out[start:end], nil
}

// ListLines lists a document's lines.
func (r DocumentsRepo) ListLines(_ context.Context, documentID int64) (out []documents.Line, err error) {
	r.db.read(func(s *state) { out = linesOf(s, documentID) })
	return out, nil
}

// GetAccount loads a document's account.
func (r DocumentsRepo) GetAccount(_ context.Context, documentID int64) (documents.Receivable, error) {
	acct, ok := r.db.Receivable(documentID)
	if !ok {
		return documents.Receivable{}, documents.ErrAccountNotFound
	}
	return acct, nil
}

// ListAccountInstallments lists an account's installments.
func (r DocumentsRepo) ListAccountInstallments(_ context.Context, receivableID int64) ([]schedule.Installment, error) {
	return r.db.Installments(schedule.AccountParent{ReceivableID: receivableID}), nil
}

// ListMovementsByDocument lists a document's movements.
func (r DocumentsRepo) ListMovementsByDocument(_ context.Context, documentID int64) (out []ledger.Movement, err error) {
	r.db.read(func(s *state) { out = movementsOf(s, documentID) })
	return out, nil
}

// OpenBalances sums pending balances in base currency, skipping tax shields.
func (r DocumentsRepo) OpenBalances(_ context.Context, companyID int64) (documents.Totals, error) {
	t := documents.Totals{Receivable: decimal.Zero, Payable: decimal.Zero}
	r.db.read(func(s *state) {
		for _, acct := range s.receivables {
			d := s.docs[acct.DocumentID]
			if d.CompanyID != companyID || d.TaxShield {
				continue
			}
			v := acct.Pending.Mul(d.ExchangeRate)
			if d.Operation == documents.OperationSale {
				t.Receivable = t.Receivable.Add(v)
			} else {
				t.Payable = t.Payable.Add(v)
			}
		}
	})
	return t, nil
}

// LoansRepo implements loans.RepositoryPort.
type LoansRepo struct{ db *DB }

// Loans returns the loans view of d.
func (d *DB) Loans() LoansRepo { return LoansRepo{db: d} }

// WithTx runs fn in a transaction.
func (r LoansRepo) WithTx(ctx context.Context, fn func(context.Context, loans.TxRepository) error) error {
	return r.db.run(func(tx *Tx) error { return fn(ctx, tx) })
}

// GetLoan loads a loan.
func (r LoansRepo) GetLoan(_ context.Context, id int64) (l loans.Loan, err error) {
	r.db.read(func(s *state) {
		var ok bool
		if l, ok = s.loans[id]; !ok {
			err = loans.ErrLoanNotFound
		}
	})
	return l, err
}

// ListLoans lists a company's loans newest first.
func (r LoansRepo) ListLoans(_ context.Context, companyID int64) (out []loans.Loan, err error) {
	r.db.read(func(s *state) {
		for _, id := range sortedIDs(s.loans) {
			if l := s.loans[id]; l.CompanyID == companyID {
				out = append(out, l)
			}
		}
	})
	slices.Reverse(out)
	return out, nil
}

// ListLoanInstallments lists a loan's installments.
func (r LoansRepo) ListLoanInstallments(_ context.Context, loanID int64) ([]schedule.Installment, error) {
	return r.db.Installments(schedule.LoanParent{LoanID: loanID}), nil
}

// TaxRepo implements tax.RepositoryPort.
type TaxRepo struct{ db *DB }

// Tax returns the tax view of d.
func (d *DB) Tax() TaxRepo { return TaxRepo{db: d} }

// WithTx runs fn in a transaction.
func (r TaxRepo) WithTx(ctx context.Context, fn func(context.Context, tax.TxRepository) error) error {
	return r.db.run(func(tx *Tx) error { return fn(ctx, tx) })
}

func fiscal(d documents.Document) bool {
	return d.Kind.Fiscal() && d.AuthorityStatus != documents.AuthorityInternal
}

func inPeriod(p shared.Period, d documents.Document) bool {
	return !d.IssueDate.Before(p.Start()) && d.IssueDate.Before(p.End())
}

// SumTax converts the IGV of op's fiscal documents at each document's rate.
func (r TaxRepo) SumTax(_ context.Context, companyID int64, period shared.Period, op documents.Operation, excludeShield bool) (decimal.Decimal, error) {
	total := decimal.Zero
	r.db.read(func(s *state) {
		for _, d := range s.docs {
			if d.CompanyID != companyID || d.Operation != op || !fiscal(d) || !inPeriod(period, d) {
				continue
			}
			if excludeShield && d.TaxShield {
				continue
			}
			total = total.Add(d.Tax.Mul(d.ExchangeRate))
		}
	})
	return shared.Round2(total), nil
}

// SumRetentions totals certificates issued in period.
func (r TaxRepo) SumRetentions(_ context.Context, companyID int64, period shared.Period) (decimal.Decimal, error) {
	total := decimal.Zero
	r.db.read(func(s *state) {
		for _, c := range s.certificates {
			if c.CompanyID == companyID && !c.IssueDate.Before(period.Start()) && c.IssueDate.Before(period.End()) {
				total = total.Add(c.TotalBase)
			}
		}
	})
	return total, nil
}

// SumTaxPayments totals payments of code declared for period.
func (r TaxRepo) SumTaxPayments(_ context.Context, companyID int64, period shared.Period, code string) (decimal.Decimal, error) {
	total := decimal.Zero
	r.db.read(func(s *state) {
		for _, p := range s.taxPayments {
			if p.CompanyID == companyID && p.Period == period.String() && p.Code == code {
				total = total.Add(p.Amount)
			}
		}
	})
	return total, nil
}

// GetClosure loads the close of period if there is one.
func (r TaxRepo) GetClosure(_ context.Context, companyID int64, period shared.Period) (c tax.Closure, ok bool, err error) {
	r.db.read(func(s *state) { c, ok = s.closures[closureKey(companyID, period.String())] })
	return c, ok, nil
}

// ListTraceLines lists the fiscal documents of period newest first.
func (r TaxRepo) ListTraceLines(_ context.Context, companyID int64, period shared.Period) (out []tax.TraceLine, err error) {
	r.db.read(func(s *state) {
		for _, d := range s.docs {
			if d.CompanyID != companyID || !fiscal(d) || !inPeriod(period, d) {
				continue
			}
			out = append(out, tax.TraceLine{
				DocumentID:   d.ID,
				IssueDate:    d.IssueDate,
				Code:         d.Code(),
				Counterparty: s.counterparties[d.CounterpartyID].Name,
				Operation:    string(d.Operation),
				Currency:     d.Currency,
				Tax:          d.Tax,
				Rate:         d.ExchangeRate,
				TaxBase:      shared.Round2(d.Tax.Mul(d.ExchangeRate)),
				TaxShield:    d.TaxShield,
			})
		}
	})
	sort.Slice(out, func(a, b int) bool {
		if !out[a].IssueDate.Equal(out[b].IssueDate) {
			return out[a].IssueDate.After(out[b].IssueDate)
		}
		return out[a].DocumentID > out[b].DocumentID
	})
	return out, nil
}

// ListRetentionDetails lists details of certificates issued in period.
func (r TaxRepo) ListRetentionDetails(_ context.Context, companyID int64, period shared.Period) (out []tax.Detail, err error) {
	r.db.read(func(s *state) {
		for _, id := range sortedIDs(s.details) {
			d := s.details[id]
			c := s.certificates[d.CertificateID]
			if c.CompanyID == companyID && !c.IssueDate.Before(period.Start()) && c.IssueDate.Before(period.End()) {
				out = append(out, d)
			}
		}
	})
	return out, nil
}
