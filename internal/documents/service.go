package documents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/audit"
	"github.com/odyssey-erp/ledgercore/internal/inventory"
	"github.com/odyssey-erp/ledgercore/internal/ledger"
	"github.com/odyssey-erp/ledgercore/internal/schedule"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

// SettlementTx is the surface needed to extinguish part of a document's
// account inside a caller's transaction.
type SettlementTx interface {
	audit.Writer
	schedule.TxRepository
	LockDocument(ctx context.Context, id int64) (Document, error)
	LockReceivable(ctx context.Context, documentID int64) (Receivable, error)
	UpdateReceivable(ctx context.Context, acct Receivable) error
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	SettlementTx
	ledger.TxRepository
	inventory.TxRepository
	EnsureCounterparty(ctx context.Context, companyID int64, taxID, name string) (Counterparty, bool, error)
	GetCounterparty(ctx context.Context, id int64) (Counterparty, error)
	FindDuplicateDocument(ctx context.Context, key NaturalKey) (int64, bool, error)
	InsertDocument(ctx context.Context, doc Document) (int64, error)
	UpdateDocument(ctx context.Context, doc Document) error
	DeleteDocumentRow(ctx context.Context, id int64) error
	InsertDocumentLine(ctx context.Context, line Line) (int64, error)
	AttachedFreight(ctx context.Context, parentID int64) (decimal.Decimal, error)
	ListDocumentLines(ctx context.Context, documentID int64) ([]Line, error)
	DeleteDocumentLines(ctx context.Context, documentID int64) error
	InsertReceivable(ctx context.Context, acct Receivable) (int64, error)
	InsertExpense(ctx context.Context, e Expense) (int64, error)
	DeleteDocumentExpenses(ctx context.Context, documentID int64) error
	ListDocumentMovements(ctx context.Context, documentID int64) ([]ledger.Movement, error)
	CountDocumentImpact(ctx context.Context, documentID int64) (Impact, error)
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetDocument(ctx context.Context, id int64) (Document, error)
	GetCounterpartyByID(ctx context.Context, id int64) (Counterparty, error)
	ListDocuments(ctx context.Context, filter ListFilter) ([]Document, error)
	ListLines(ctx context.Context, documentID int64) ([]Line, error)
	GetAccount(ctx context.Context, documentID int64) (Receivable, error)
	ListAccountInstallments(ctx context.Context, receivableID int64) ([]schedule.Installment, error)
	ListMovementsByDocument(ctx context.Context, documentID int64) ([]ledger.Movement, error)
	OpenBalances(ctx context.Context, companyID int64) (Totals, error)
}

// AuthorityValidator checks a document with the tax authority and returns
// its status verbatim.
type AuthorityValidator interface {
	Validate(ctx context.Context, series, number, issuerTaxID string, total decimal.Decimal) (string, error)
}

// Notifier delivers operator notifications without guarantees.
type Notifier interface {
	Notify(ctx context.Context, companyID int64, message string) error
}

// Idempotency guards payment registration against client retries.
type Idempotency interface {
	Claim(ctx context.Context, scope, key string) error
	Release(ctx context.Context, scope, key string) error
}

// Collaborators groups optional external dependencies.
type Collaborators struct {
	Validator   AuthorityValidator
	Notifier    Notifier
	Idempotency Idempotency
}

// Service runs the document lifecycle.
type Service struct {
	repo      RepositoryPort
	journal   *ledger.Journal
	stock     *inventory.Service
	scheduler *schedule.Scheduler
	audit     *audit.Recorder
	collab    Collaborators
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, journal *ledger.Journal, stock *inventory.Service, scheduler *schedule.Scheduler, recorder *audit.Recorder, logger *slog.Logger, collab Collaborators) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		journal:   journal,
		stock:     stock,
		scheduler: scheduler,
		audit:     recorder,
		collab:    collab,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock.
func (s *Service) WithNow(fn func() time.Time) *Service {
	if fn != nil {
		s.now = fn
	}
	return s
}

func splitTax(kind Kind, total decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if kind.Fiscal() {
		return shared.SplitIGV(total)
	}
	return total, decimal.Zero
}

func normalizeRate(currency string, rate decimal.Decimal) (decimal.Decimal, error) {
	if rate.IsZero() && currency == shared.BaseCurrency {
		return decimal.NewFromInt(1), nil
	}
	if !rate.IsPositive() {
		return decimal.Zero, shared.Invalid("exchange_rate", "must be positive for "+currency+" documents")
	}
	return rate, nil
}

func (in CreateInput) header(companyID int64) (Document, []Destination, error) {
	p := in.Parsed
	if strings.TrimSpace(p.CounterpartyTaxID) == "" {
		return Document{}, nil, shared.Required("counterparty_tax_id")
	}
	series, number, err := SplitSeriesNumber(p.SeriesNumber)
	if err != nil {
		return Document{}, nil, err
	}
	if in.Operation != OperationPurchase && in.Operation != OperationSale {
		return Document{}, nil, shared.Invalid("operation", "must be PURCHASE or SALE")
	}
	kind := in.Kind
	if kind == "" {
		kind = KindFactura
	}
	if !kind.valid() {
		return Document{}, nil, shared.Invalid("kind", "must be FACTURA, BOLETA or RECIBO")
	}
	if p.IssueDate.IsZero() {
		return Document{}, nil, shared.Required("issue_date")
	}
	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if !shared.ValidCurrency(currency) {
		return Document{}, nil, shared.Invalid("currency", "must be PEN or USD")
	}
	if !p.Total.IsPositive() {
		return Document{}, nil, shared.Invalid("total", "must be positive")
	}
	rate, err := normalizeRate(currency, in.ExchangeRate)
	if err != nil {
		return Document{}, nil, err
	}
	if in.TaxShield && in.Operation != OperationPurchase {
		return Document{}, nil, shared.Invalid("tax_shield", "applies to purchases only")
	}
	if in.TaxShield && (in.Terms != nil || in.Payment != nil) {
		return Document{}, nil, ErrNothingOwed
	}
	if in.Terms != nil && (in.Terms.Count <= 0 || in.Terms.IntervalDays <= 0) {
		return Document{}, nil, shared.Invalid("terms", "count and interval_days must be positive")
	}
	routes := in.Routes
	if len(routes) == 0 {
		routes = make([]Destination, len(p.Items))
		for i := range routes {
			routes[i] = DestInventory
		}
	}
	if len(routes) != len(p.Items) {
		return Document{}, nil, shared.Invalid("routes", "must match the number of items")
	}
	for i, it := range p.Items {
		field := fmt.Sprintf("items[%d]", i)
		if !routes[i].valid() {
			return Document{}, nil, shared.Invalid(field+".destination", "must be inventory, expense or freight")
		}
		if strings.TrimSpace(it.Description) == "" {
			return Document{}, nil, shared.Required(field + ".description")
		}
		if !it.Quantity.IsPositive() {
			return Document{}, nil, shared.Invalid(field+".quantity", "must be positive")
		}
		if it.UnitPrice.IsNegative() {
			return Document{}, nil, shared.Invalid(field+".unit_price", "must not be negative")
		}
	}
	subtotal, tax := splitTax(kind, p.Total)
	return Document{
		CompanyID:    companyID,
		Kind:         kind,
		Operation:    in.Operation,
		Series:       series,
		Number:       number,
		IssueDate:    p.IssueDate,
		Currency:     currency,
		ExchangeRate: rate,
		Subtotal:     subtotal,
		Tax:          tax,
		Total:        p.Total,
		TaxShield:    in.TaxShield,
	}, routes, nil
}

func (s *Service) authorityStatus(ctx context.Context, doc Document, issuerTaxID string) string {
	if s.collab.Validator == nil {
		return AuthorityPending
	}
	status, err := s.collab.Validator.Validate(ctx, doc.Series, doc.Number, issuerTaxID, doc.Total)
	if err != nil {
		s.logger.Warn("documents: authority validation failed",
			slog.String("code", doc.Code()), slog.Any("error", err))
		return AuthorityPending
	}
	if strings.TrimSpace(status) == "" {
		return AuthorityPending
	}
	return status
}

// Create persists a parsed document with every derived effect: counterparty,
// products and stock, landed cost, generated expenses, the receivable or
// payable account, optional installments and an optional first payment.
func (s *Service) Create(ctx context.Context, actor shared.Actor, in CreateInput) (Result, error) {
	if actor.CompanyID == 0 {
		return Result{}, shared.ErrForbidden
	}
	doc, routes, err := in.header(actor.CompanyID)
	if err != nil {
		return Result{}, err
	}
	doc.AuthorityStatus = s.authorityStatus(ctx, doc, in.Parsed.CounterpartyTaxID)
	doc.CreatedAt = s.now()

	var (
		res    Result
		alerts []inventory.PriceChange
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cp, err := s.counterparty(ctx, tx, actor, in.Parsed.CounterpartyTaxID, in.Parsed.CounterpartyName)
		if err != nil {
			return err
		}
		doc.CounterpartyID = cp.ID
		existing, found, err := tx.FindDuplicateDocument(ctx, NaturalKey{
			CompanyID: doc.CompanyID, CounterpartyID: cp.ID, Operation: doc.Operation, Series: doc.Series, Number: doc.Number,
		})
		if err != nil {
			return err
		}
		if found && !in.AllowDuplicate {
			return &DuplicateWarning{ExistingID: existing, Code: doc.Code()}
		}
		id, err := tx.InsertDocument(ctx, doc)
		if err != nil {
			return fmt.Errorf("documents: insert document: %w", err)
		}
		doc.ID = id
		s.audit.Record(ctx, tx, actor, audit.Event{
			Action:   audit.ActionInsert,
			Kind:     audit.KindDocument,
			EntityID: doc.ID,
			Summary:  func() string { return documentSummary(doc, cp) },
		})

		var deltas *inventory.Deltas
		res.Lines, deltas, alerts, err = s.applyParsedItems(ctx, tx, actor, doc, in.Parsed.Items, routes)
		if err != nil {
			return err
		}
		if err := s.stock.ApplyDeltas(ctx, tx, actor, deltas, doc.Operation.label()+" "+doc.Code()); err != nil {
			return err
		}

		acct, err := s.openAccount(ctx, tx, actor, doc, in.DueDate)
		if err != nil {
			return err
		}
		if in.Terms != nil {
			res.Installments, err = s.scheduler.Reschedule(ctx, tx, schedule.AccountParent{ReceivableID: acct.ID}, planFor(acct, doc, *in.Terms))
			if err != nil {
				return err
			}
		}
		if in.Payment != nil {
			mv, err := s.pay(ctx, tx, actor, doc, &acct, *in.Payment)
			if err != nil {
				return err
			}
			res.Payment = &mv
		}
		res.Document = doc
		res.Account = acct
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	s.notifyPriceAlerts(ctx, actor, doc, alerts)
	return res, nil
}

func (s *Service) counterparty(ctx context.Context, tx TxRepository, actor shared.Actor, taxID, name string) (Counterparty, error) {
	taxID = strings.TrimSpace(taxID)
	name = strings.TrimSpace(name)
	if name == "" {
		name = taxID
	}
	cp, created, err := tx.EnsureCounterparty(ctx, actor.CompanyID, taxID, name)
	if err != nil {
		return Counterparty{}, fmt.Errorf("documents: ensure counterparty: %w", err)
	}
	if created {
		s.audit.Record(ctx, tx, actor, audit.Event{
			Action:   audit.ActionInsert,
			Kind:     audit.KindCounterparty,
			EntityID: cp.ID,
			Summary:  func() string { return fmt.Sprintf("Counterparty %s %s registered", cp.TaxID, cp.Name) },
		})
	}
	return cp, nil
}

// applyParsedItems stores lines and collects their stock deltas. Purchases
// spread freight lines over inventory lines and reprice the products.
func (s *Service) applyParsedItems(ctx context.Context, tx TxRepository, actor shared.Actor, doc Document, items []ParsedItem, routes []Destination) ([]Line, *inventory.Deltas, []inventory.PriceChange, error) {
	deltas := inventory.NewDeltas()
	lines := make([]Line, 0, len(items))
	for i, it := range items {
		line := Line{
			DocumentID:  doc.ID,
			Description: strings.TrimSpace(it.Description),
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			UnitCost:    it.UnitPrice,
			Subtotal:    LineSubtotal(it.Quantity, it.UnitPrice),
			Destination: routes[i],
		}
		switch {
		case doc.TaxShield:
			// recognized for tax credit only
		case routes[i] == DestInventory:
			p, err := s.stock.Resolve(ctx, tx, actor, it.Description)
			if err != nil {
				return nil, nil, nil, err
			}
			line.ProductID = &p.ID
			deltas.Add(p.ID, it.Quantity.Mul(doc.StockSign()))
		case routes[i] == DestExpense:
			if err := s.insertLineExpense(ctx, tx, doc, line); err != nil {
				return nil, nil, nil, err
			}
		}
		lines = append(lines, line)
	}
	alerts, err := s.landLines(ctx, tx, actor, doc, lines, decimal.Zero)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := insertLines(ctx, tx, lines); err != nil {
		return nil, nil, nil, err
	}
	return lines, deltas, alerts, nil
}

// landLines spreads a purchase's freight over its stocked lines by invoice
// value, stores each line's landed unit cost and resets the products'
// reference purchase price in base currency. attached is freight already
// booked in base currency by separate freight documents.
func (s *Service) landLines(ctx context.Context, tx TxRepository, actor shared.Actor, doc Document, lines []Line, attached decimal.Decimal) ([]inventory.PriceChange, error) {
	if doc.Operation != OperationPurchase || doc.TaxShield {
		return nil, nil
	}
	var (
		freight    = decimal.Zero
		stocked    []int
		subtotals  []decimal.Decimal
		quantities []decimal.Decimal
	)
	for i, l := range lines {
		switch {
		case l.Destination == DestFreight:
			freight = freight.Add(l.Subtotal)
		case l.Stocked():
			stocked = append(stocked, i)
			subtotals = append(subtotals, l.Subtotal)
			quantities = append(quantities, l.Quantity)
		}
	}
	inline := Prorate(freight, subtotals, quantities)
	booked := Prorate(attached, subtotals, quantities)

	var alerts []inventory.PriceChange
	for k, i := range stocked {
		line := &lines[i]
		unit := line.UnitPrice.Add(inline[k])
		line.UnitCost = unit.Round(4)
		baseCost := unit.Mul(doc.ExchangeRate).Add(booked[k])
		change, err := s.stock.Reprice(ctx, tx, actor, *line.ProductID, func(decimal.Decimal) decimal.Decimal { return baseCost })
		if err != nil {
			return nil, err
		}
		if change.Significant() {
			alerts = append(alerts, change)
		}
	}
	return alerts, nil
}

func (s *Service) insertLineExpense(ctx context.Context, tx TxRepository, doc Document, line Line) error {
	if _, err := tx.InsertExpense(ctx, Expense{
		CompanyID:   doc.CompanyID,
		DocumentID:  &doc.ID,
		Category:    inventory.DefaultCategory,
		Description: line.Description,
		Amount:      line.Subtotal,
		Currency:    doc.Currency,
		Date:        doc.IssueDate,
	}); err != nil {
		return fmt.Errorf("documents: insert expense: %w", err)
	}
	return nil
}

func insertLines(ctx context.Context, tx TxRepository, lines []Line) error {
	for i := range lines {
		id, err := tx.InsertDocumentLine(ctx, lines[i])
		if err != nil {
			return fmt.Errorf("documents: insert line: %w", err)
		}
		lines[i].ID = id
	}
	return nil
}

func (s *Service) openAccount(ctx context.Context, tx TxRepository, actor shared.Actor, doc Document, due time.Time) (Receivable, error) {
	if due.IsZero() {
		due = doc.IssueDate.AddDate(0, 0, DefaultTermDays)
	}
	acct := Receivable{DocumentID: doc.ID, Total: doc.Total, Pending: doc.Total, DueDate: due}
	if doc.TaxShield {
		acct.Pending = decimal.Zero
	}
	acct.refreshStatus()
	id, err := tx.InsertReceivable(ctx, acct)
	if err != nil {
		return Receivable{}, fmt.Errorf("documents: insert account: %w", err)
	}
	acct.ID = id
	s.audit.Record(ctx, tx, actor, audit.Event{
		Action:   audit.ActionInsert,
		Kind:     audit.KindReceivable,
		EntityID: acct.ID,
		Summary:  func() string { return accountSummary(doc, acct) },
	})
	return acct, nil
}

func planFor(acct Receivable, doc Document, terms TermsInput) schedule.Plan {
	start := terms.Start
	if start.IsZero() {
		start = doc.IssueDate
	}
	return schedule.Plan{Total: acct.Pending, Count: terms.Count, Start: start, IntervalDays: terms.IntervalDays}
}

func (s *Service) notifyPriceAlerts(ctx context.Context, actor shared.Actor, doc Document, alerts []inventory.PriceChange) {
	if s.collab.Notifier == nil {
		return
	}
	for _, c := range alerts {
		msg := fmt.Sprintf("Purchase price of %s rose from %s to %s (%s)",
			c.Product.Name, c.Old.StringFixed(2), c.New.StringFixed(2), doc.Code())
		if err := s.collab.Notifier.Notify(ctx, actor.CompanyID, msg); err != nil {
			s.logger.Warn("documents: price alert not queued", slog.Int64("product_id", c.Product.ID), slog.Any("error", err))
		}
	}
}

// Edit replaces header and lines. Prior stock effects are reversed and the
// new lines applied as one net delta per product; the account keeps what was
// already paid.
func (s *Service) Edit(ctx context.Context, actor shared.Actor, id int64, in EditInput) (Document, error) {
	if len(in.Lines) == 0 {
		return Document{}, shared.Required("lines")
	}
	if in.Kind != "" && !in.Kind.valid() {
		return Document{}, shared.Invalid("kind", "must be FACTURA, BOLETA or RECIBO")
	}
	if in.Currency != "" && !shared.ValidCurrency(strings.ToUpper(in.Currency)) {
		return Document{}, shared.Invalid("currency", "must be PEN or USD")
	}
	for i := range in.Lines {
		l := &in.Lines[i]
		field := fmt.Sprintf("lines[%d]", i)
		if l.Destination == "" {
			l.Destination = DestInventory
		}
		if !l.Destination.valid() {
			return Document{}, shared.Invalid(field+".destination", "must be inventory, expense or freight")
		}
		if !l.Quantity.IsPositive() {
			return Document{}, shared.Invalid(field+".quantity", "must be positive")
		}
		if l.UnitPrice.IsNegative() {
			return Document{}, shared.Invalid(field+".unit_price", "must not be negative")
		}
		if l.ProductID == nil && strings.TrimSpace(l.Description) == "" {
			return Document{}, shared.Required(field + ".description")
		}
	}

	var (
		next   Document
		alerts []inventory.PriceChange
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		old, err := tx.LockDocument(ctx, id)
		if err != nil {
			return err
		}
		if !actor.Owns(old.CompanyID) {
			return ErrDocumentNotFound
		}
		oldCp, err := tx.GetCounterparty(ctx, old.CounterpartyID)
		if err != nil {
			return err
		}
		oldLines, err := tx.ListDocumentLines(ctx, id)
		if err != nil {
			return err
		}

		next = old
		cp := oldCp
		if taxID := strings.TrimSpace(in.CounterpartyTaxID); taxID != "" && taxID != oldCp.TaxID {
			if cp, err = s.counterparty(ctx, tx, actor, taxID, in.CounterpartyName); err != nil {
				return err
			}
		}
		next.CounterpartyID = cp.ID
		if in.Kind != "" {
			next.Kind = in.Kind
		}
		if !in.IssueDate.IsZero() {
			next.IssueDate = in.IssueDate
		}
		if in.Currency != "" {
			next.Currency = strings.ToUpper(in.Currency)
		}
		if !in.ExchangeRate.IsZero() || in.Currency != "" {
			if next.ExchangeRate, err = normalizeRate(next.Currency, in.ExchangeRate); err != nil {
				return err
			}
		}

		deltas := inventory.NewDeltas()
		for _, l := range oldLines {
			if l.Stocked() {
				deltas.Add(*l.ProductID, l.Quantity.Mul(old.StockSign()).Neg())
			}
		}
		if err := tx.DeleteDocumentLines(ctx, id); err != nil {
			return err
		}
		if err := tx.DeleteDocumentExpenses(ctx, id); err != nil {
			return err
		}
		total := decimal.Zero
		lines := make([]Line, 0, len(in.Lines))
		for _, li := range in.Lines {
			line := Line{
				DocumentID:  id,
				Description: strings.TrimSpace(li.Description),
				Quantity:    li.Quantity,
				UnitPrice:   li.UnitPrice,
				UnitCost:    li.UnitPrice,
				Subtotal:    LineSubtotal(li.Quantity, li.UnitPrice),
				Destination: li.Destination,
			}
			total = total.Add(line.Subtotal)
			switch {
			case next.TaxShield:
			case line.Destination == DestInventory:
				productID, err := s.lineProduct(ctx, tx, actor, li)
				if err != nil {
					return err
				}
				line.ProductID = &productID
				deltas.Add(productID, line.Quantity.Mul(next.StockSign()))
			case line.Destination == DestExpense:
				if err := s.insertLineExpense(ctx, tx, next, line); err != nil {
					return err
				}
			}
			lines = append(lines, line)
		}
		attached := decimal.Zero
		if next.Operation == OperationPurchase && !next.TaxShield {
			if attached, err = tx.AttachedFreight(ctx, id); err != nil {
				return err
			}
		}
		if alerts, err = s.landLines(ctx, tx, actor, next, lines, attached); err != nil {
			return err
		}
		if err := insertLines(ctx, tx, lines); err != nil {
			return err
		}
		next.Total = total
		next.Subtotal, next.Tax = splitTax(next.Kind, total)

		if err := s.syncAccount(ctx, tx, actor, old, next); err != nil {
			return err
		}
		if err := s.stock.ApplyDeltas(ctx, tx, actor, deltas, "edit "+next.Code()); err != nil {
			return err
		}
		if err := tx.UpdateDocument(ctx, next); err != nil {
			return fmt.Errorf("documents: update document: %w", err)
		}
		s.audit.Record(ctx, tx, actor, audit.Event{
			Action:   audit.ActionUpdate,
			Kind:     audit.KindDocument,
			EntityID: id,
			Summary: func() string {
				text := fmt.Sprintf("%s %s: total %s %s -> %s %s, counterparty %s -> %s",
					next.Operation.label(), next.Code(),
					old.Currency, old.Total.StringFixed(2), next.Currency, next.Total.StringFixed(2),
					oldCp.Name, cp.Name)
				if r := strings.TrimSpace(in.Reason); r != "" {
					text += ". Reason: " + r
				}
				return text
			},
		})
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	s.notifyPriceAlerts(ctx, actor, next, alerts)
	return next, nil
}

func (s *Service) lineProduct(ctx context.Context, tx TxRepository, actor shared.Actor, in LineInput) (int64, error) {
	if in.ProductID == nil {
		p, err := s.stock.Resolve(ctx, tx, actor, in.Description)
		if err != nil {
			return 0, err
		}
		return p.ID, nil
	}
	p, err := tx.LockProduct(ctx, *in.ProductID)
	if err != nil {
		return 0, err
	}
	if !actor.Owns(p.CompanyID) {
		return 0, inventory.ErrProductNotFound
	}
	return p.ID, nil
}

func (s *Service) syncAccount(ctx context.Context, tx TxRepository, actor shared.Actor, old, next Document) error {
	acct, err := tx.LockReceivable(ctx, next.ID)
	if err != nil {
		return err
	}
	if next.Total.Equal(acct.Total) {
		return nil
	}
	items, err := tx.ListInstallments(ctx, schedule.AccountParent{ReceivableID: acct.ID})
	if err != nil {
		return err
	}
	if len(items) > 0 {
		return ErrScheduledTotalChange
	}
	if next.TaxShield {
		acct.Total = next.Total
		acct.Pending = decimal.Zero
		acct.refreshStatus()
	} else {
		acct.Retotal(next.Total)
	}
	if err := tx.UpdateReceivable(ctx, acct); err != nil {
		return fmt.Errorf("documents: update account: %w", err)
	}
	s.audit.Record(ctx, tx, actor, audit.Event{
		Action:   audit.ActionUpdate,
		Kind:     audit.KindReceivable,
		EntityID: acct.ID,
		Summary:  func() string { return accountSummary(next, acct) },
	})
	return nil
}

// Delete removes a document after reversing its stock effects and every
// linked movement. The document's audit entry is written first so it
// reflects the state before the cascade.
func (s *Service) Delete(ctx context.Context, actor shared.Actor, id int64, reason string) (Impact, error) {
	var impact Impact
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.LockDocument(ctx, id)
		if err != nil {
			return err
		}
		if !actor.Owns(doc.CompanyID) {
			return ErrDocumentNotFound
		}
		if impact, err = tx.CountDocumentImpact(ctx, id); err != nil {
			return err
		}
		cp, err := tx.GetCounterparty(ctx, doc.CounterpartyID)
		if err != nil {
			return err
		}
		s.audit.Record(ctx, tx, actor, audit.Event{
			Action:   audit.ActionDelete,
			Kind:     audit.KindDocument,
			EntityID: id,
			Summary: func() string {
				text := fmt.Sprintf("DELETED %s (%s)", documentSummary(doc, cp), impact)
				if r := strings.TrimSpace(reason); r != "" {
					text += ". Reason: " + r
				}
				return text
			},
		})

		lines, err := tx.ListDocumentLines(ctx, id)
		if err != nil {
			return err
		}
		deltas := inventory.NewDeltas()
		for _, l := range lines {
			if l.Stocked() {
				deltas.Add(*l.ProductID, l.Quantity.Mul(doc.StockSign()).Neg())
			}
		}
		if err := s.stock.ApplyDeltas(ctx, tx, actor, deltas, "delete "+doc.Code()); err != nil {
			return err
		}
		movements, err := tx.ListDocumentMovements(ctx, id)
		if err != nil {
			return err
		}
		for _, mv := range movements {
			if err := s.journal.Reverse(ctx, tx, actor, mv); err != nil {
				return err
			}
		}
		if err := tx.DeleteDocumentRow(ctx, id); err != nil {
			return fmt.Errorf("documents: delete document: %w", err)
		}
		return nil
	})
	if err != nil {
		return Impact{}, err
	}
	return impact, nil
}

func (o Operation) label() string {
	return string(o)
}

func documentSummary(doc Document, cp Counterparty) string {
	prep := "from"
	if doc.Operation == OperationSale {
		prep = "to"
	}
	return fmt.Sprintf("%s %s %s %s for %s %s", doc.Operation.label(), doc.Code(), prep, cp.Name, doc.Currency, doc.Total.StringFixed(2))
}

func accountSummary(doc Document, acct Receivable) string {
	return fmt.Sprintf("Account of %s: pending %s %s of %s (%s)",
		doc.Code(), doc.Currency, acct.Pending.StringFixed(2), acct.Total.StringFixed(2), acct.Status)
}
