package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/audit"
	"github.com/odyssey-erp/ledgercore/internal/inventory"
	"github.com/odyssey-erp/ledgercore/internal/ledger"
	"github.com/odyssey-erp/ledgercore/internal/schedule"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

const paymentScope = "documents.payment"

// FXDifference is the base currency gain (positive) or loss of settling
// amount at payRate instead of the document's own rate.
func FXDifference(doc Document, amount, payRate decimal.Decimal) decimal.Decimal {
	if doc.Currency == shared.BaseCurrency {
		return decimal.Zero
	}
	expected := amount.Mul(doc.ExchangeRate)
	actual := amount.Mul(payRate)
	if doc.Operation == OperationSale {
		return shared.Round2(actual.Sub(expected))
	}
	return shared.Round2(expected.Sub(actual))
}

// RegisterPayment posts a payment (purchase) or collection (sale) and
// decrements the account, cascading into installments when scheduled.
// Amounts above the pending balance are rejected.
func (s *Service) RegisterPayment(ctx context.Context, actor shared.Actor, documentID int64, in PaymentInput) (mv ledger.Movement, err error) {
	if !in.Amount.IsPositive() {
		return ledger.Movement{}, shared.Invalid("amount", "must be positive")
	}
	if key := strings.TrimSpace(in.IdempotencyKey); key != "" && s.collab.Idempotency != nil {
		scoped := fmt.Sprintf("%d:%d:%s", actor.CompanyID, documentID, key)
		if err := s.collab.Idempotency.Claim(ctx, paymentScope, scoped); err != nil {
			return ledger.Movement{}, err
		}
		defer func() {
			if err == nil {
				return
			}
			if relErr := s.collab.Idempotency.Release(ctx, paymentScope, scoped); relErr != nil {
				s.logger.Warn("documents: release idempotency key", slog.Any("error", relErr))
			}
		}()
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := s.lockOwned(ctx, tx, actor, documentID)
		if err != nil {
			return err
		}
		acct, err := tx.LockReceivable(ctx, documentID)
		if err != nil {
			return err
		}
		mv, err = s.pay(ctx, tx, actor, doc, &acct, in)
		return err
	})
	if err != nil {
		return ledger.Movement{}, err
	}
	return mv, nil
}

func (s *Service) lockOwned(ctx context.Context, tx SettlementTx, actor shared.Actor, id int64) (Document, error) {
	doc, err := tx.LockDocument(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if !actor.Owns(doc.CompanyID) {
		return Document{}, ErrDocumentNotFound
	}
	return doc, nil
}

func (s *Service) pay(ctx context.Context, tx TxRepository, actor shared.Actor, doc Document, acct *Receivable, in PaymentInput) (ledger.Movement, error) {
	if !acct.Pending.IsPositive() {
		return ledger.Movement{}, ErrNothingOwed
	}
	if in.Amount.GreaterThan(acct.Pending) {
		return ledger.Movement{}, &shared.OverpaymentError{Remainder: in.Amount.Sub(acct.Pending)}
	}
	mv, err := s.postPayment(ctx, tx, actor, doc, in.Amount, in)
	if err != nil {
		return ledger.Movement{}, err
	}
	if err := s.settleAccount(ctx, tx, actor, doc, acct, in.Amount, true); err != nil {
		return ledger.Movement{}, err
	}
	return mv, nil
}

func (s *Service) postPayment(ctx context.Context, tx TxRepository, actor shared.Actor, doc Document, amount decimal.Decimal, in PaymentInput) (ledger.Movement, error) {
	rate := in.Rate
	if rate.IsZero() {
		rate = doc.ExchangeRate
	}
	verb := "Payment"
	if doc.Operation == OperationSale {
		verb = "Collection"
	}
	ref := fmt.Sprintf("%s of %s", verb, doc.Code())
	if r := strings.TrimSpace(in.Reference); r != "" {
		ref += ": " + r
	}
	return s.journal.Post(ctx, tx, actor, ledger.Movement{
		CompanyID:    doc.CompanyID,
		Direction:    doc.Direction(),
		Amount:       amount,
		Currency:     doc.Currency,
		PostedAt:     in.PaidAt,
		Reference:    ref,
		DocumentID:   &doc.ID,
		AccountID:    in.AccountID,
		ExchangeRate: rate,
		FXDifference: FXDifference(doc, amount, rate),
		ITF:          in.ITF,
	})
}

// settleAccount decrements the account by amount, which must not exceed
// pending. With cascade set the amount also runs through the installments.
func (s *Service) settleAccount(ctx context.Context, tx SettlementTx, actor shared.Actor, doc Document, acct *Receivable, amount decimal.Decimal, cascade bool) error {
	if cascade {
		alloc, err := s.scheduler.ApplyPayment(ctx, tx, schedule.AccountParent{ReceivableID: acct.ID}, amount)
		if err != nil {
			return err
		}
		if len(alloc.Changed) > 0 && alloc.Remainder.IsPositive() {
			return &shared.OverpaymentError{Remainder: alloc.Remainder}
		}
	}
	acct.Settle(amount)
	if err := tx.UpdateReceivable(ctx, *acct); err != nil {
		return fmt.Errorf("documents: update account: %w", err)
	}
	settled := *acct
	s.audit.Record(ctx, tx, actor, audit.Event{
		Action:   audit.ActionUpdate,
		Kind:     audit.KindReceivable,
		EntityID: acct.ID,
		Summary:  func() string { return accountSummary(doc, settled) },
	})
	return nil
}

// ApplyCredit extinguishes up to amount of a document's pending balance
// without moving cash, as retentions do. It returns the updated account and
// the part of amount that found nothing to settle.
func (s *Service) ApplyCredit(ctx context.Context, tx SettlementTx, actor shared.Actor, documentID int64, amount decimal.Decimal) (Document, Receivable, decimal.Decimal, error) {
	doc, err := s.lockOwned(ctx, tx, actor, documentID)
	if err != nil {
		return Document{}, Receivable{}, decimal.Zero, err
	}
	acct, err := tx.LockReceivable(ctx, documentID)
	if err != nil {
		return Document{}, Receivable{}, decimal.Zero, err
	}
	applied := decimal.Min(amount, acct.Pending)
	excess := amount.Sub(applied)
	if applied.IsPositive() {
		if err := s.settleAccount(ctx, tx, actor, doc, &acct, applied, true); err != nil {
			return Document{}, Receivable{}, decimal.Zero, err
		}
	}
	return doc, acct, excess, nil
}

// PayInstallment settles one installment in full and posts its payment.
func (s *Service) PayInstallment(ctx context.Context, actor shared.Actor, documentID, installmentID int64, in PaymentInput) (schedule.Installment, ledger.Movement, error) {
	var (
		inst schedule.Installment
		mv   ledger.Movement
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := s.lockOwned(ctx, tx, actor, documentID)
		if err != nil {
			return err
		}
		acct, err := tx.LockReceivable(ctx, documentID)
		if err != nil {
			return err
		}
		var amount decimal.Decimal
		inst, amount, err = s.scheduler.Settle(ctx, tx, schedule.AccountParent{ReceivableID: acct.ID}, installmentID)
		if err != nil {
			return err
		}
		if amount.GreaterThan(acct.Pending) {
			return &shared.OverpaymentError{Remainder: amount.Sub(acct.Pending)}
		}
		if mv, err = s.postPayment(ctx, tx, actor, doc, amount, in); err != nil {
			return err
		}
		return s.settleAccount(ctx, tx, actor, doc, &acct, amount, false)
	})
	if err != nil {
		return schedule.Installment{}, ledger.Movement{}, err
	}
	return inst, mv, nil
}

// SetTerms splits the document's pending balance into installments.
func (s *Service) SetTerms(ctx context.Context, actor shared.Actor, documentID int64, terms TermsInput) ([]schedule.Installment, error) {
	if terms.Count <= 0 || terms.IntervalDays <= 0 {
		return nil, shared.Invalid("terms", "count and interval_days must be positive")
	}
	var items []schedule.Installment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := s.lockOwned(ctx, tx, actor, documentID)
		if err != nil {
			return err
		}
		acct, err := tx.LockReceivable(ctx, documentID)
		if err != nil {
			return err
		}
		if !acct.Pending.IsPositive() {
			return ErrNothingOwed
		}
		items, err = s.scheduler.Reschedule(ctx, tx, schedule.AccountParent{ReceivableID: acct.ID}, planFor(acct, doc, terms))
		return err
	})
	return items, err
}

// AttachFreight registers a freight purchase for a parent purchase and
// spreads its amount over the parent's inventory lines, raising each
// product's purchase price by its per-unit share.
func (s *Service) AttachFreight(ctx context.Context, actor shared.Actor, in FreightInput) (Document, error) {
	if in.ParentID == 0 {
		return Document{}, shared.Required("parent_id")
	}
	if strings.TrimSpace(in.CounterpartyTaxID) == "" {
		return Document{}, shared.Required("counterparty_tax_id")
	}
	if strings.TrimSpace(in.Series) == "" || strings.TrimSpace(in.Number) == "" {
		return Document{}, shared.Required("series_number")
	}
	if !in.Amount.IsPositive() {
		return Document{}, shared.Invalid("amount", "must be positive")
	}
	if in.IssueDate.IsZero() {
		in.IssueDate = s.now()
	}
	subtotal, tax := shared.SplitIGV(in.Amount)
	freight := Document{
		CompanyID:       actor.CompanyID,
		Kind:            KindFactura,
		Operation:       OperationPurchase,
		Series:          strings.ToUpper(strings.TrimSpace(in.Series)),
		Number:          strings.TrimSpace(in.Number),
		IssueDate:       in.IssueDate,
		Currency:        shared.BaseCurrency,
		ExchangeRate:    decimal.NewFromInt(1),
		Subtotal:        subtotal,
		Tax:             tax,
		Total:           in.Amount,
		AuthorityStatus: AuthorityPending,
		Freight:         true,
		ParentID:        &in.ParentID,
		CreatedAt:       s.now(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		parent, err := s.lockOwned(ctx, tx, actor, in.ParentID)
		if err != nil {
			return err
		}
		if parent.Operation != OperationPurchase || parent.Freight || parent.TaxShield {
			return ErrNotFreightParent
		}
		cp, err := s.counterparty(ctx, tx, actor, in.CounterpartyTaxID, in.CounterpartyName)
		if err != nil {
			return err
		}
		freight.CounterpartyID = cp.ID
		existing, found, err := tx.FindDuplicateDocument(ctx, NaturalKey{
			CompanyID: freight.CompanyID, CounterpartyID: cp.ID, Operation: OperationPurchase, Series: freight.Series, Number: freight.Number,
		})
		if err != nil {
			return err
		}
		if found {
			return &DuplicateWarning{ExistingID: existing, Code: freight.Code()}
		}
		if freight.ID, err = tx.InsertDocument(ctx, freight); err != nil {
			return fmt.Errorf("documents: insert freight: %w", err)
		}
		s.audit.Record(ctx, tx, actor, audit.Event{
			Action:   audit.ActionInsert,
			Kind:     audit.KindDocument,
			EntityID: freight.ID,
			Summary:  func() string { return documentSummary(freight, cp) + " freight for " + parent.Code() },
		})
		if _, err := tx.InsertDocumentLine(ctx, Line{
			DocumentID:  freight.ID,
			Description: "Freight " + parent.Code(),
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   in.Amount,
			UnitCost:    in.Amount,
			Subtotal:    in.Amount,
			Destination: DestFreight,
		}); err != nil {
			return err
		}
		if _, err := s.openAccount(ctx, tx, actor, freight, freight.IssueDate); err != nil {
			return err
		}

		lines, err := tx.ListDocumentLines(ctx, parent.ID)
		if err != nil {
			return err
		}
		var (
			stocked    []Line
			subtotals  []decimal.Decimal
			quantities []decimal.Decimal
		)
		for _, l := range lines {
			if l.Stocked() {
				stocked = append(stocked, l)
				subtotals = append(subtotals, l.Subtotal)
				quantities = append(quantities, l.Quantity)
			}
		}
		for i, addend := range Prorate(in.Amount, subtotals, quantities) {
			if addend.IsZero() {
				continue
			}
			if _, err := s.stock.Reprice(ctx, tx, actor, *stocked[i].ProductID, func(old decimal.Decimal) decimal.Decimal {
				return old.Add(addend)
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	return freight, nil
}

// RegisterReturn takes returned units out of stock and books the refund
// received in one transaction.
func (s *Service) RegisterReturn(ctx context.Context, actor shared.Actor, in ReturnInput) (Return, error) {
	if in.ProductID == 0 {
		return Return{}, shared.Required("product_id")
	}
	if !in.Quantity.IsPositive() {
		return Return{}, inventory.ErrInvalidQuantity
	}
	if !in.Refund.IsPositive() {
		return Return{}, shared.Invalid("refund", "must be positive")
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = shared.BaseCurrency
	}
	if !shared.ValidCurrency(currency) {
		return Return{}, shared.Invalid("currency", "must be PEN or USD")
	}
	if in.ReturnedAt.IsZero() {
		in.ReturnedAt = s.now()
	}
	var out Return
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.LockProduct(ctx, in.ProductID)
		if err != nil {
			return err
		}
		if !actor.Owns(p.CompanyID) {
			return inventory.ErrProductNotFound
		}
		reference := fmt.Sprintf("Return of %s units of %s", in.Quantity.String(), p.Name)
		reason := reference
		if r := strings.TrimSpace(in.Reason); r != "" {
			reason += ": " + r
		}
		out.Adjustment, err = s.stock.Adjust(ctx, tx, actor, inventory.Adjustment{
			CompanyID: actor.CompanyID,
			ProductID: p.ID,
			Type:      inventory.AdjustOut,
			Qty:       in.Quantity,
			Reason:    reason,
			UserID:    actor.UserID,
			At:        in.ReturnedAt,
		}, "return")
		if err != nil {
			return err
		}
		out.Movement, err = s.journal.Post(ctx, tx, actor, ledger.Movement{
			CompanyID: actor.CompanyID,
			Direction: ledger.Inflow,
			Amount:    in.Refund,
			Currency:  currency,
			PostedAt:  in.ReturnedAt,
			Reference: reference,
			AccountID: in.AccountID,
		})
		return err
	})
	if err != nil {
		return Return{}, err
	}
	return out, nil
}

// RecordExpense stores a manual operating expense and posts its outflow.
func (s *Service) RecordExpense(ctx context.Context, actor shared.Actor, in ExpenseInput) (Expense, error) {
	if strings.TrimSpace(in.Description) == "" {
		return Expense{}, shared.Required("description")
	}
	if !in.Amount.IsPositive() {
		return Expense{}, shared.Invalid("amount", "must be positive")
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = shared.BaseCurrency
	}
	if !shared.ValidCurrency(currency) {
		return Expense{}, shared.Invalid("currency", "must be PEN or USD")
	}
	if in.Date.IsZero() {
		in.Date = s.now()
	}
	exp := Expense{
		CompanyID:   actor.CompanyID,
		Category:    strings.TrimSpace(in.Category),
		Description: strings.TrimSpace(in.Description),
		Amount:      in.Amount,
		Currency:    currency,
		Date:        in.Date,
	}
	if exp.Category == "" {
		exp.Category = inventory.DefaultCategory
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		mv, err := s.journal.Post(ctx, tx, actor, ledger.Movement{
			CompanyID: actor.CompanyID,
			Direction: ledger.Outflow,
			Amount:    in.Amount,
			Currency:  currency,
			PostedAt:  in.Date,
			Reference: "Expense: " + exp.Description,
			AccountID: in.AccountID,
			ITF:       in.ITF,
		})
		if err != nil {
			return err
		}
		exp.MovementID = &mv.ID
		exp.ID, err = tx.InsertExpense(ctx, exp)
		return err
	})
	if err != nil {
		return Expense{}, err
	}
	return exp, nil
}

// RefreshAuthorityStatus asks the tax authority for the document's status
// and stores the answer verbatim.
func (s *Service) RefreshAuthorityStatus(ctx context.Context, actor shared.Actor, id int64) (Document, error) {
	doc, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if !actor.Owns(doc.CompanyID) {
		return Document{}, ErrDocumentNotFound
	}
	cp, err := s.repo.GetCounterpartyByID(ctx, doc.CounterpartyID)
	if err != nil {
		return Document{}, err
	}
	status := s.authorityStatus(ctx, doc, cp.TaxID)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := s.lockOwned(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		previous := locked.AuthorityStatus
		locked.AuthorityStatus = status
		if err := tx.UpdateDocument(ctx, locked); err != nil {
			return err
		}
		doc = locked
		s.audit.Record(ctx, tx, actor, audit.Event{
			Action:   audit.ActionUpdate,
			Kind:     audit.KindDocument,
			EntityID: id,
			Summary:  func() string { return fmt.Sprintf("%s authority status %s -> %s", locked.Code(), previous, status) },
		})
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Get loads a document with its lines, account, installments and payments.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id int64) (Detail, error) {
	doc, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	if !actor.Owns(doc.CompanyID) {
		return Detail{}, ErrDocumentNotFound
	}
	detail := Detail{Document: doc}
	if detail.Counterparty, err = s.repo.GetCounterpartyByID(ctx, doc.CounterpartyID); err != nil {
		return Detail{}, err
	}
	if detail.Lines, err = s.repo.ListLines(ctx, id); err != nil {
		return Detail{}, err
	}
	acct, err := s.repo.GetAccount(ctx, id)
	switch {
	case errors.Is(err, ErrAccountNotFound):
	case err != nil:
		return Detail{}, err
	default:
		detail.Account = &acct
		if detail.Installments, err = s.repo.ListAccountInstallments(ctx, acct.ID); err != nil {
			return Detail{}, err
		}
	}
	if detail.Movements, err = s.repo.ListMovementsByDocument(ctx, id); err != nil {
		return Detail{}, err
	}
	return detail, nil
}

// List lists the company's documents, newest first.
func (s *Service) List(ctx context.Context, actor shared.Actor, filter ListFilter) ([]Document, error) {
	filter.CompanyID = actor.CompanyID
	filter.Page = filter.Page.Normalize(50, 200)
	return s.repo.ListDocuments(ctx, filter)
}

// Balances sums open receivables and payables for cash-flow reporting.
func (s *Service) Balances(ctx context.Context, actor shared.Actor) (Totals, error) {
	return s.repo.OpenBalances(ctx, actor.CompanyID)
}
