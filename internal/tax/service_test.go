package tax_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledgercore/internal/audit"
	"github.com/odyssey-erp/ledgercore/internal/documents"
	"github.com/odyssey-erp/ledgercore/internal/inventory"
	"github.com/odyssey-erp/ledgercore/internal/ledger"
	"github.com/odyssey-erp/ledgercore/internal/platform/cache"
	"github.com/odyssey-erp/ledgercore/internal/schedule"
	"github.com/odyssey-erp/ledgercore/internal/shared"
	"github.com/odyssey-erp/ledgercore/internal/tax"
	"github.com/odyssey-erp/ledgercore/internal/testing/memdb"
)

var (
	clock  = time.Date(2024, 7, 5, 9, 0, 0, 0, time.UTC)
	actor  = shared.Actor{UserID: 3, CompanyID: 1}
	june   = shared.Period{Year: 2024, Month: time.June}
	may    = shared.Period{Year: 2024, Month: time.May}
	inJune = time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	inMay  = time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)
)

const customerTaxID = "20600011122"

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

type harness struct {
	db     *memdb.DB
	docs   *documents.Service
	tax    *tax.Service
	locker *cache.Locker
	cash   ledger.Account
}

func newHarness(t *testing.T, opts tax.Options) *harness {
	t.Helper()
	db := memdb.New()
	now := func() time.Time { return clock }
	recorder := audit.NewRecorder(nil).WithNow(now)
	journal := ledger.NewJournal(recorder, nil).WithNow(now)
	stock := inventory.NewService(db.Inventory(), recorder, inventory.ServiceConfig{AllowNegativeStock: true}).WithNow(now)
	docs := documents.NewService(db.Documents(), journal, stock, schedule.NewScheduler().WithNow(now), recorder, nil, documents.Collaborators{}).WithNow(now)

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := cache.NewLocker(client, time.Minute, 0)

	cash, err := ledger.NewService(db.Ledger(), journal, nil).CreateAccount(context.Background(), actor, ledger.AccountInput{
		Kind: ledger.KindCash, Name: "Caja", Currency: shared.CurrencyPEN, OpeningBalance: dec("1000"),
	})
	require.NoError(t, err)

	return &harness{
		db:     db,
		docs:   docs,
		tax:    tax.NewService(db.Tax(), docs, journal, recorder, locker, nil, opts).WithNow(now),
		locker: locker,
		cash:   cash,
	}
}

type doc struct {
	op       documents.Operation
	kind     documents.Kind
	code     string
	total    string
	currency string
	rate     string
	shield   bool
	issued   time.Time
	terms    *documents.TermsInput
}

func (h *harness) add(t *testing.T, d doc) documents.Result {
	t.Helper()
	taxID := "20100070970"
	if d.op == documents.OperationSale {
		taxID = customerTaxID
	}
	currency := d.currency
	if currency == "" {
		currency = shared.CurrencyPEN
	}
	in := documents.CreateInput{
		Operation: d.op,
		Kind:      d.kind,
		TaxShield: d.shield,
		Terms:     d.terms,
		Parsed: documents.ParsedDocument{
			SeriesNumber:      d.code,
			IssueDate:         d.issued,
			CounterpartyTaxID: taxID,
			CounterpartyName:  "Cliente " + taxID,
			Currency:          currency,
			Total:             dec(d.total),
			Items:             []documents.ParsedItem{{Description: "Servicio", Quantity: dec("1"), UnitPrice: dec("1")}},
		},
	}
	if d.rate != "" {
		in.ExchangeRate = dec(d.rate)
	}
	res, err := h.docs.Create(context.Background(), actor, in)
	require.NoError(t, err)
	return res
}

// seed registers June's documents: debit 180 + 18 USD at 3.70, credit 90
// plus a 36 shielded purchase, and a recibo that carries no IGV.
func (h *harness) seed(t *testing.T) {
	t.Helper()
	h.add(t, doc{op: documents.OperationSale, code: "F002-1", total: "1180", issued: inJune})
	h.add(t, doc{op: documents.OperationSale, code: "F002-2", total: "118", currency: shared.CurrencyUSD, rate: "3.70", issued: inJune})
	h.add(t, doc{op: documents.OperationPurchase, code: "F001-1", total: "590", issued: inJune})
	h.add(t, doc{op: documents.OperationPurchase, code: "F001-2", total: "236", shield: true, issued: inJune})
	h.add(t, doc{op: documents.OperationPurchase, kind: documents.KindRecibo, code: "R001-1", total: "100", issued: inJune})
}

func TestSummaryConvertsAtEachDocumentRate(t *testing.T) {
	h := newHarness(t, tax.Options{})
	h.seed(t)

	sum, err := h.tax.Summary(context.Background(), actor.CompanyID, june)
	require.NoError(t, err)
	require.Equal(t, "2024-06", sum.Period)
	require.Equal(t, "246.60", sum.Debit.StringFixed(2))
	require.Equal(t, "126.00", sum.Credit.StringFixed(2))
	require.Equal(t, "120.60", sum.Projection.StringFixed(2))
	require.Equal(t, "120.60", sum.Liability.StringFixed(2))
	require.False(t, sum.Closed)

	other, err := h.tax.Summary(context.Background(), 2, june)
	require.NoError(t, err)
	require.True(t, other.Debit.IsZero())
}

func TestSummaryCanExcludeShieldCredit(t *testing.T) {
	h := newHarness(t, tax.Options{ExcludeShieldCredit: true})
	h.seed(t)

	sum, err := h.tax.Summary(context.Background(), actor.CompanyID, june)
	require.NoError(t, err)
	require.Equal(t, "90.00", sum.Credit.StringFixed(2))
	require.Equal(t, "156.60", sum.Liability.StringFixed(2))
}

func TestCloseCarriesCreditIntoNextPeriod(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, tax.Options{})
	h.seed(t)
	h.add(t, doc{op: documents.OperationSale, code: "F002-0", total: "118", issued: inMay})
	h.add(t, doc{op: documents.OperationPurchase, code: "F001-0", total: "1180", issued: inMay})

	closure, err := h.tax.Close(ctx, actor, may)
	require.NoError(t, err)
	require.Equal(t, "-162.00", closure.Liability.StringFixed(2))
	require.Equal(t, "162.00", closure.CreditCarry.StringFixed(2))
	require.Equal(t, clock, closure.ClosedAt)

	_, err = h.tax.ApplyRetention(ctx, actor, tax.RetentionInput{
		AgentTaxID: customerTaxID, SeriesNumber: "E001-55", IssueDate: inJune,
		Lines: []tax.RetentionLine{{InvoiceRef: "F002-1", BaseAmount: dec("30")}, {InvoiceRef: "F009-9", BaseAmount: dec("5")}},
	})
	require.NoError(t, err)
	_, err = h.tax.RegisterPayment(ctx, actor, tax.PaymentInput{Period: "2024-06", Amount: dec("50"), AccountID: &h.cash.ID})
	require.NoError(t, err)

	sum, err := h.tax.Summary(ctx, actor.CompanyID, june)
	require.NoError(t, err)
	require.Equal(t, "162.00", sum.CarryIn.StringFixed(2))
	require.Equal(t, "35.00", sum.Retentions.StringFixed(2))
	require.Equal(t, "50.00", sum.Payments.StringFixed(2))
	require.Equal(t, "-126.40", sum.Liability.StringFixed(2))
	require.Equal(t, "126.40", sum.CreditCarry().StringFixed(2))

	closed, err := h.tax.Close(ctx, actor, june)
	require.NoError(t, err)
	require.Equal(t, "126.40", closed.CreditCarry.StringFixed(2))
	again, err := h.tax.Summary(ctx, actor.CompanyID, june)
	require.NoError(t, err)
	require.True(t, again.Closed)

	// closing again overwrites
	_, err = h.tax.Close(ctx, actor, june)
	require.NoError(t, err)
}

func TestCloseRefusesWhileAnotherCloseHoldsThePeriod(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, tax.Options{})

	release, err := h.locker.Acquire(ctx, shared.TaxCloseLockKey(actor.CompanyID, "2024-06"))
	require.NoError(t, err)

	_, err = h.tax.Close(ctx, actor, june)
	require.ErrorIs(t, err, tax.ErrCloseInProgress)

	_, err = h.tax.Close(ctx, actor, may)
	require.NoError(t, err)

	require.NoError(t, release(ctx))
	_, err = h.tax.Close(ctx, actor, june)
	require.NoError(t, err)
}

func TestRegisterPaymentPostsOutflowOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, tax.Options{})
	in := tax.PaymentInput{Period: "2024-06", OperationNumber: "OP-778", Amount: dec("120"), AccountID: &h.cash.ID}

	p, err := h.tax.RegisterPayment(ctx, actor, in)
	require.NoError(t, err)
	require.Equal(t, tax.IGVPaymentCode, p.Code)
	require.Equal(t, clock, p.PaidAt)
	require.NotZero(t, p.MovementID)
	require.Equal(t, "880.00", h.db.Account(h.cash.ID).Balance.StringFixed(2))
	require.Equal(t, "Tax payment 1011 - period 2024-06", h.db.Movements()[0].Reference)

	_, err = h.tax.RegisterPayment(ctx, actor, in)
	require.ErrorIs(t, err, tax.ErrDuplicatePayment)
	require.ErrorIs(t, err, shared.ErrDuplicate)
	require.Equal(t, "880.00", h.db.Account(h.cash.ID).Balance.StringFixed(2))
	require.Equal(t, 1, h.db.Counts()["tax_payments"])

	_, err = h.tax.RegisterPayment(ctx, actor, tax.PaymentInput{Period: "June", Amount: dec("1")})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = h.tax.RegisterPayment(ctx, actor, tax.PaymentInput{Period: "2024-06", Amount: dec("0")})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestApplyRetentionReducesSales(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, tax.Options{})
	h.seed(t)
	out, err := h.tax.ApplyRetention(ctx, actor, tax.RetentionInput{
		AgentTaxID: customerTaxID, AgentName: "Minera Andina", SeriesNumber: "e001-55", IssueDate: inJune,
		Lines: []tax.RetentionLine{
			{InvoiceRef: "F002-1", BaseAmount: dec("30")},
			{InvoiceRef: "F002-2", BaseAmount: dec("740"), Rate: dec("3.70")},
			{InvoiceRef: "F009-9", BaseAmount: dec("5")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "E001-55", out.Certificate.SeriesNumber)
	require.Equal(t, "775.00", out.Certificate.TotalBase.StringFixed(2))
	require.Equal(t, []string{"F009-9"}, out.Unmatched)
	require.Len(t, out.Details, 2)
	require.Equal(t, "200.00", out.Details[1].OriginAmount.StringFixed(2))
	require.Equal(t, "82.00", out.Excess.StringFixed(2))

	pen := findSale(t, h, "F002-1")
	acct, _ := h.db.Receivable(pen.ID)
	require.Equal(t, "1150.00", acct.Pending.StringFixed(2))
	require.Equal(t, documents.StatusPartial, acct.Status)

	usd := findSale(t, h, "F002-2")
	acct, _ = h.db.Receivable(usd.ID)
	require.True(t, acct.Pending.IsZero())
	require.Equal(t, documents.StatusSettled, acct.Status)

	// retentions move no cash
	require.Empty(t, h.db.Movements())

	details, err := h.tax.Retentions(ctx, actor.CompanyID, june)
	require.NoError(t, err)
	require.Len(t, details, 2)
	certs := 0
	for _, e := range h.db.AuditEntries() {
		if e.Kind == audit.KindRetention {
			certs++
			require.Equal(t, "Retention certificate E001-55 from Cliente 20600011122 for PEN 775.00", e.Summary)
		}
	}
	require.Equal(t, 1, certs)
}

func TestApplyRetentionRejectsDuplicateCertificate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, tax.Options{})
	h.seed(t)
	in := tax.RetentionInput{
		AgentTaxID: customerTaxID, SeriesNumber: "E001-60", IssueDate: inJune,
		Lines: []tax.RetentionLine{{InvoiceRef: "F002-1", BaseAmount: dec("30")}},
	}
	_, err := h.tax.ApplyRetention(ctx, actor, in)
	require.NoError(t, err)

	in.SeriesNumber = "e001-60"
	_, err = h.tax.ApplyRetention(ctx, actor, in)
	require.ErrorIs(t, err, tax.ErrDuplicateCertificate)

	acct, _ := h.db.Receivable(findSale(t, h, "F002-1").ID)
	require.Equal(t, "1150.00", acct.Pending.StringFixed(2))
	require.Equal(t, 1, h.db.Counts()["certificates"])
}

func TestApplyRetentionCascadesIntoInstallments(t *testing.T) {
	h := newHarness(t, tax.Options{})
	res := h.add(t, doc{op: documents.OperationSale, code: "F002-3", total: "200", issued: inJune,
		terms: &documents.TermsInput{Count: 2, IntervalDays: 30}})

	_, err := h.tax.ApplyRetention(context.Background(), actor, tax.RetentionInput{
		AgentTaxID: customerTaxID, SeriesNumber: "E001-70", IssueDate: inJune,
		Lines: []tax.RetentionLine{{InvoiceRef: "F002-3", BaseAmount: dec("120")}},
	})
	require.NoError(t, err)

	items := h.db.Installments(schedule.AccountParent{ReceivableID: res.Account.ID})
	require.True(t, items[0].Paid)
	require.Equal(t, "80.00", items[1].Outstanding.StringFixed(2))
	acct, _ := h.db.Receivable(res.Document.ID)
	require.Equal(t, "80.00", acct.Pending.StringFixed(2))
}

func TestApplyRetentionValidates(t *testing.T) {
	h := newHarness(t, tax.Options{})
	cases := []tax.RetentionInput{
		{SeriesNumber: "E001-1", Lines: []tax.RetentionLine{{InvoiceRef: "F002-1", BaseAmount: dec("1")}}},
		{AgentTaxID: customerTaxID, Lines: []tax.RetentionLine{{InvoiceRef: "F002-1", BaseAmount: dec("1")}}},
		{AgentTaxID: customerTaxID, SeriesNumber: "E001-1"},
		{AgentTaxID: customerTaxID, SeriesNumber: "E001-1", Lines: []tax.RetentionLine{{InvoiceRef: "F002-1"}}},
	}
	for _, in := range cases {
		_, err := h.tax.ApplyRetention(context.Background(), actor, in)
		require.ErrorIs(t, err, shared.ErrValidation)
	}
}

func TestTraceListsFiscalDocumentsOnly(t *testing.T) {
	h := newHarness(t, tax.Options{})
	h.seed(t)

	lines, err := h.tax.Trace(context.Background(), actor.CompanyID, june)
	require.NoError(t, err)
	require.Len(t, lines, 4)
	for _, l := range lines {
		require.NotEqual(t, "R001-1", l.Code)
		if l.Code == "F002-2" {
			require.Equal(t, "66.60", l.TaxBase.StringFixed(2))
		}
	}
}

func TestRetentionLineOrigin(t *testing.T) {
	require.Equal(t, "50.00", tax.RetentionLine{BaseAmount: dec("185"), OriginAmount: dec("50")}.Origin().StringFixed(2))
	require.Equal(t, "50.00", tax.RetentionLine{BaseAmount: dec("185"), Rate: dec("3.70")}.Origin().StringFixed(2))
	require.Equal(t, "185.00", tax.RetentionLine{BaseAmount: dec("185")}.Origin().StringFixed(2))
}

func findSale(t *testing.T, h *harness, code string) documents.Document {
	t.Helper()
	list, err := h.docs.List(context.Background(), actor, documents.ListFilter{Operation: documents.OperationSale})
	require.NoError(t, err)
	for _, d := range list {
		if d.Code() == code {
			return d
		}
	}
	t.Fatalf("sale %s not found", code)
	return documents.Document{}
}
