package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledgercore/internal/audit"
	"github.com/odyssey-erp/ledgercore/internal/ledger"
	"github.com/odyssey-erp/ledgercore/internal/shared"
	"github.com/odyssey-erp/ledgercore/internal/testing/memdb"
)

var (
	clock = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	actor = shared.Actor{UserID: 7, CompanyID: 1}
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

type fixedRate decimal.Decimal

func (r fixedRate) SellRate(context.Context, time.Time) (decimal.Decimal, error) {
	return decimal.Decimal(r), nil
}

func newLedger(t *testing.T) (*ledger.Service, *memdb.DB) {
	t.Helper()
	db := memdb.New()
	recorder := audit.NewRecorder(nil).WithNow(func() time.Time { return clock })
	journal := ledger.NewJournal(recorder, nil).WithNow(func() time.Time { return clock })
	return ledger.NewService(db.Ledger(), journal, fixedRate(dec("3.75"))), db
}

func openAccount(t *testing.T, svc *ledger.Service, kind ledger.AccountKind, currency, opening string) ledger.Account {
	t.Helper()
	acct, err := svc.CreateAccount(context.Background(), actor, ledger.AccountInput{
		Kind: kind, Name: string(kind) + " " + currency, Currency: currency, OpeningBalance: dec(opening),
	})
	require.NoError(t, err)
	return acct
}

func TestDeltaChargesITFOnBankAccountsOnly(t *testing.T) {
	require.Equal(t, "99.95", ledger.Delta(ledger.KindBank, ledger.Inflow, dec("100"), dec("0.05")).StringFixed(2))
	require.Equal(t, "-100.05", ledger.Delta(ledger.KindBank, ledger.Outflow, dec("100"), dec("0.05")).StringFixed(2))
	require.Equal(t, "100.00", ledger.Delta(ledger.KindCash, ledger.Inflow, dec("100"), dec("0.05")).StringFixed(2))
	require.Equal(t, "-100.00", ledger.Delta(ledger.KindCash, ledger.Outflow, dec("100"), dec("0.05")).StringFixed(2))
}

func TestPostThenDeleteRestoresBalance(t *testing.T) {
	ctx := context.Background()
	svc, db := newLedger(t)
	bank := openAccount(t, svc, ledger.KindBank, shared.CurrencyPEN, "1000")

	mv, err := svc.PostMovement(ctx, actor, ledger.Movement{
		Direction: ledger.Outflow, Amount: dec("100"), Currency: shared.CurrencyPEN,
		AccountID: &bank.ID, ITF: dec("0.50"), Reference: "rent",
	})
	require.NoError(t, err)
	require.Equal(t, clock, mv.PostedAt)
	require.Equal(t, "899.50", db.Account(bank.ID).Balance.StringFixed(2))

	require.NoError(t, svc.DeleteMovement(ctx, actor, mv.ID))
	require.Equal(t, "1000.00", db.Account(bank.ID).Balance.StringFixed(2))
	require.Empty(t, db.Movements())

	entries := db.AuditEntries()
	require.Len(t, entries, 2)
	require.Equal(t, audit.ActionInsert, entries[0].Action)
	require.Equal(t, "OUTFLOW PEN 100.00 (ITF 0.50): rent", entries[0].Summary)
	require.Equal(t, audit.ActionDelete, entries[1].Action)
	require.Equal(t, "DELETED OUTFLOW PEN 100.00 (ITF 0.50): rent", entries[1].Summary)
	require.Equal(t, int64(7), entries[1].UserID)
}

func TestPostRejectsForeignCurrency(t *testing.T) {
	svc, db := newLedger(t)
	cash := openAccount(t, svc, ledger.KindCash, shared.CurrencyPEN, "0")

	_, err := svc.PostMovement(context.Background(), actor, ledger.Movement{
		Direction: ledger.Inflow, Amount: dec("10"), Currency: shared.CurrencyUSD, AccountID: &cash.ID,
	})
	require.ErrorIs(t, err, ledger.ErrCurrencyMismatch)
	require.Empty(t, db.Movements())
	require.Empty(t, db.AuditEntries())
}

func TestPostValidatesMovement(t *testing.T) {
	svc, _ := newLedger(t)
	_, err := svc.PostMovement(context.Background(), actor, ledger.Movement{Direction: ledger.Inflow, Amount: dec("0"), Currency: "PEN"})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.PostMovement(context.Background(), actor, ledger.Movement{Direction: "SIDEWAYS", Amount: dec("1"), Currency: "PEN"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestMovementWithoutAccountLeavesBalancesAlone(t *testing.T) {
	svc, db := newLedger(t)
	cash := openAccount(t, svc, ledger.KindCash, shared.CurrencyPEN, "50")

	_, err := svc.PostMovement(context.Background(), actor, ledger.Movement{Direction: ledger.Outflow, Amount: dec("20"), Currency: "PEN"})
	require.NoError(t, err)
	require.Equal(t, "50.00", db.Account(cash.ID).Balance.StringFixed(2))
	require.Len(t, db.Movements(), 1)
}

func TestDeleteRefusesLinkedMovements(t *testing.T) {
	ctx := context.Background()
	svc, db := newLedger(t)
	docID := int64(99)
	var id int64
	require.NoError(t, db.Update(ctx, func(ctx context.Context, tx *memdb.Tx) error {
		var err error
		id, err = tx.InsertMovement(ctx, ledger.Movement{
			CompanyID: 1, Direction: ledger.Inflow, Amount: dec("5"), Currency: "PEN", DocumentID: &docID,
		})
		return err
	}))

	require.ErrorIs(t, svc.DeleteMovement(ctx, actor, id), ledger.ErrLinkedMovement)
	require.ErrorIs(t, svc.DeleteMovement(ctx, shared.Actor{UserID: 1, CompanyID: 2}, id), shared.ErrNotFound)
	require.Len(t, db.Movements(), 1)
}

func TestTransferConvertsBetweenCurrencies(t *testing.T) {
	ctx := context.Background()
	svc, db := newLedger(t)
	cash := openAccount(t, svc, ledger.KindCash, shared.CurrencyPEN, "1000")
	usd := openAccount(t, svc, ledger.KindBank, shared.CurrencyUSD, "0")

	out, in, err := svc.Transfer(ctx, actor, ledger.TransferInput{
		FromAccountID: cash.ID, ToAccountID: usd.ID, Amount: dec("370"), Rate: dec("3.70"),
	})
	require.NoError(t, err)
	require.Equal(t, ledger.Outflow, out.Direction)
	require.Equal(t, "100.00", in.Amount.StringFixed(2))
	require.Equal(t, "USD", in.Currency)
	require.Equal(t, "630.00", db.Account(cash.ID).Balance.StringFixed(2))
	require.Equal(t, "100.00", db.Account(usd.ID).Balance.StringFixed(2))

	_, _, err = svc.Transfer(ctx, actor, ledger.TransferInput{FromAccountID: cash.ID, ToAccountID: usd.ID, Amount: dec("10")})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, "630.00", db.Account(cash.ID).Balance.StringFixed(2))
}

func TestConvert(t *testing.T) {
	v, _, err := ledger.Convert(dec("100"), "USD", "PEN", dec("3.756"))
	require.NoError(t, err)
	require.Equal(t, "375.60", v.StringFixed(2))

	v, rate, err := ledger.Convert(dec("100"), "PEN", "PEN", decimal.Zero)
	require.NoError(t, err)
	require.True(t, v.Equal(dec("100")))
	require.True(t, rate.Equal(decimal.NewFromInt(1)))
}

func TestCheckIntegrityFindsTamperedBalances(t *testing.T) {
	ctx := context.Background()
	svc, db := newLedger(t)
	bank := openAccount(t, svc, ledger.KindBank, shared.CurrencyPEN, "200")
	_, err := svc.PostMovement(ctx, actor, ledger.Movement{
		Direction: ledger.Inflow, Amount: dec("80"), Currency: "PEN", AccountID: &bank.ID, ITF: dec("0.05"),
	})
	require.NoError(t, err)

	drifts, err := svc.CheckIntegrity(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, drifts)

	require.NoError(t, db.Update(ctx, func(ctx context.Context, tx *memdb.Tx) error {
		return tx.AdjustLedgerBalance(ctx, bank.ID, dec("5"))
	}))
	drifts, err = svc.CheckIntegrity(ctx, 1)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	require.Equal(t, "284.95", drifts[0].Stored.StringFixed(2))
	require.Equal(t, "279.95", drifts[0].Expected.StringFixed(2))

	ids, err := svc.CompanyIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, ids)
}

func TestCashPositionValuesUSDAtSellRate(t *testing.T) {
	svc, _ := newLedger(t)
	openAccount(t, svc, ledger.KindCash, shared.CurrencyPEN, "500")
	openAccount(t, svc, ledger.KindBank, shared.CurrencyUSD, "100")

	pos, err := svc.CashPosition(context.Background(), actor)
	require.NoError(t, err)
	require.Equal(t, "875.00", pos.TotalPEN.StringFixed(2))
	require.Equal(t, "3.75", pos.Rate.StringFixed(2))
}

func TestAnonymousMutationsAreNotAudited(t *testing.T) {
	svc, db := newLedger(t)
	anon := shared.Actor{CompanyID: 1}
	cash := openAccount(t, svc, ledger.KindCash, shared.CurrencyPEN, "0")

	_, err := svc.PostMovement(context.Background(), anon, ledger.Movement{
		Direction: ledger.Inflow, Amount: dec("1"), Currency: "PEN", AccountID: &cash.ID,
	})
	require.NoError(t, err)
	require.Empty(t, db.AuditEntries())
}

func TestGetAccountHidesOtherCompanies(t *testing.T) {
	svc, _ := newLedger(t)
	cash := openAccount(t, svc, ledger.KindCash, shared.CurrencyPEN, "0")
	_, err := svc.GetAccount(context.Background(), shared.Actor{UserID: 3, CompanyID: 2}, cash.ID)
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)
}
