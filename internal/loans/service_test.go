package loans_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledgercore/internal/audit"
	"github.com/odyssey-erp/ledgercore/internal/ledger"
	"github.com/odyssey-erp/ledgercore/internal/loans"
	"github.com/odyssey-erp/ledgercore/internal/schedule"
	"github.com/odyssey-erp/ledgercore/internal/shared"
	"github.com/odyssey-erp/ledgercore/internal/testing/memdb"
)

var (
	clock    = time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)
	loanDate = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	actor    = shared.Actor{UserID: 5, CompanyID: 1}
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newLoans(t *testing.T) (*loans.Service, *memdb.DB, ledger.Account) {
	t.Helper()
	db := memdb.New()
	now := func() time.Time { return clock }
	recorder := audit.NewRecorder(nil).WithNow(now)
	journal := ledger.NewJournal(recorder, nil).WithNow(now)
	cash, err := ledger.NewService(db.Ledger(), journal, nil).CreateAccount(context.Background(), actor, ledger.AccountInput{
		Kind: ledger.KindCash, Name: "Caja", Currency: shared.CurrencyPEN, OpeningBalance: dec("2000"),
	})
	require.NoError(t, err)
	svc := loans.NewService(db.Loans(), journal, schedule.NewScheduler().WithNow(now), recorder).WithNow(now)
	return svc, db, cash
}

func register(t *testing.T, svc *loans.Service, cash ledger.Account) loans.Loan {
	t.Helper()
	loan, err := svc.Register(context.Background(), actor, loans.RegisterInput{
		Lender: "Banco Norte", Currency: shared.CurrencyPEN, Principal: dec("1000"), Rate: dec("10"),
		LoanDate: loanDate, AccountID: &cash.ID,
	})
	require.NoError(t, err)
	return loan
}

func TestInterest(t *testing.T) {
	require.Equal(t, "100.00", loans.Interest(dec("1000"), dec("10")).StringFixed(2))
	require.Equal(t, "12.35", loans.Interest(dec("987.65"), dec("1.25")).StringFixed(2))
	require.True(t, loans.Interest(dec("500"), decimal.Zero).IsZero())
}

func TestRegisterPostsPrincipalInflow(t *testing.T) {
	svc, db, cash := newLoans(t)
	loan := register(t, svc, cash)

	require.Equal(t, loans.StatusPending, loan.Status)
	require.Equal(t, "1100.00", loan.Owed().StringFixed(2))
	require.Equal(t, "3000.00", db.Account(cash.ID).Balance.StringFixed(2))

	mvs := db.Movements()
	require.Len(t, mvs, 1)
	require.Equal(t, ledger.Inflow, mvs[0].Direction)
	require.Equal(t, loan.ID, *mvs[0].LoanID)
	require.Equal(t, "Capital injection: loan from Banco Norte", mvs[0].Reference)
	require.Equal(t, loanDate, mvs[0].PostedAt)

	entries := db.AuditEntries()
	require.Equal(t, audit.KindLoan, entries[0].Kind)
	require.Equal(t, "Loan from Banco Norte for PEN 1000.00 at 10%", entries[0].Summary)
}

func TestRegisterRollsBackOnLedgerFailure(t *testing.T) {
	svc, db, _ := newLoans(t)
	usd, err := ledger.NewService(db.Ledger(), ledger.NewJournal(audit.NewRecorder(nil), nil), nil).CreateAccount(
		context.Background(), actor, ledger.AccountInput{Kind: ledger.KindBank, Name: "USD", Currency: shared.CurrencyUSD})
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), actor, loans.RegisterInput{
		Lender: "Banco Norte", Currency: shared.CurrencyPEN, Principal: dec("1000"), AccountID: &usd.ID,
	})
	require.ErrorIs(t, err, ledger.ErrCurrencyMismatch)
	require.Zero(t, db.Counts()["loans"])
	require.Zero(t, db.Counts()["audit"])
}

func TestRegisterValidates(t *testing.T) {
	svc, _, _ := newLoans(t)
	cases := []loans.RegisterInput{
		{Currency: "PEN", Principal: dec("1")},
		{Lender: "x", Currency: "EUR", Principal: dec("1")},
		{Lender: "x", Currency: "PEN", Principal: dec("0")},
		{Lender: "x", Currency: "PEN", Principal: dec("1"), Rate: dec("-1")},
		{Lender: "x", Currency: "PEN", Principal: dec("1"), LoanDate: loanDate, DueDate: loanDate.AddDate(0, 0, -1)},
	}
	for _, in := range cases {
		_, err := svc.Register(context.Background(), actor, in)
		require.ErrorIs(t, err, shared.ErrValidation)
	}
}

func TestInstallmentsSettleTheLoan(t *testing.T) {
	ctx := context.Background()
	svc, db, cash := newLoans(t)
	loan := register(t, svc, cash)

	items, err := svc.Schedule(ctx, actor, loan.ID, 3, 30)
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, "366.67", items[0].Amount.StringFixed(2))
	require.Equal(t, "366.66", items[2].Amount.StringFixed(2))
	require.Equal(t, loanDate.AddDate(0, 0, 90), items[2].DueDate)

	for i, it := range items {
		paid, err := svc.PayInstallment(ctx, actor, loan.ID, it.ID, loans.PaymentInput{AccountID: &cash.ID})
		require.NoError(t, err)
		require.True(t, paid.Paid)
		if i < len(items)-1 {
			require.Equal(t, loans.StatusPending, db.Loan(loan.ID).Status)
		}
	}
	require.Equal(t, loans.StatusPaid, db.Loan(loan.ID).Status)
	require.Equal(t, "1900.00", db.Account(cash.ID).Balance.StringFixed(2))
	require.Equal(t, "Installment 3 of loan from Banco Norte", db.Movements()[3].Reference)

	_, err = svc.Schedule(ctx, actor, loan.ID, 2, 30)
	require.ErrorIs(t, err, loans.ErrLoanPaid)
	_, err = svc.PayOff(ctx, actor, loan.ID, loans.PaymentInput{})
	require.ErrorIs(t, err, loans.ErrLoanPaid)

	detail, err := svc.Get(ctx, actor, loan.ID)
	require.NoError(t, err)
	require.True(t, detail.Outstanding.IsZero())
}

func TestPayInstallmentTwiceFails(t *testing.T) {
	ctx := context.Background()
	svc, _, cash := newLoans(t)
	loan := register(t, svc, cash)
	items, err := svc.Schedule(ctx, actor, loan.ID, 2, 15)
	require.NoError(t, err)

	_, err = svc.PayInstallment(ctx, actor, loan.ID, items[0].ID, loans.PaymentInput{})
	require.NoError(t, err)
	_, err = svc.PayInstallment(ctx, actor, loan.ID, items[0].ID, loans.PaymentInput{})
	require.ErrorIs(t, err, schedule.ErrInstallmentPaid)
	_, err = svc.Schedule(ctx, actor, loan.ID, 4, 15)
	require.ErrorIs(t, err, schedule.ErrScheduleHasPayments)
}

func TestPayOffWithoutScheduleRepaysEverything(t *testing.T) {
	ctx := context.Background()
	svc, db, cash := newLoans(t)
	loan := register(t, svc, cash)

	amount, err := svc.PayOff(ctx, actor, loan.ID, loans.PaymentInput{AccountID: &cash.ID})
	require.NoError(t, err)
	require.Equal(t, "1100.00", amount.StringFixed(2))
	require.Equal(t, loans.StatusPaid, db.Loan(loan.ID).Status)
	require.Equal(t, "1900.00", db.Account(cash.ID).Balance.StringFixed(2))

	last := db.AuditEntries()[len(db.AuditEntries())-1]
	require.Equal(t, "[EDIT] Loan from Banco Norte paid", last.Summary)
}

func TestPayOffSettlesRemainingInstallments(t *testing.T) {
	ctx := context.Background()
	svc, db, cash := newLoans(t)
	loan := register(t, svc, cash)
	items, err := svc.Schedule(ctx, actor, loan.ID, 3, 30)
	require.NoError(t, err)
	_, err = svc.PayInstallment(ctx, actor, loan.ID, items[0].ID, loans.PaymentInput{AccountID: &cash.ID})
	require.NoError(t, err)

	detail, err := svc.Get(ctx, actor, loan.ID)
	require.NoError(t, err)
	require.Equal(t, "733.33", detail.Outstanding.StringFixed(2))

	amount, err := svc.PayOff(ctx, actor, loan.ID, loans.PaymentInput{AccountID: &cash.ID})
	require.NoError(t, err)
	require.Equal(t, "733.33", amount.StringFixed(2))
	for _, it := range db.Installments(schedule.LoanParent{LoanID: loan.ID}) {
		require.True(t, it.Paid)
	}
	require.Equal(t, "1900.00", db.Account(cash.ID).Balance.StringFixed(2))
}

func TestLoansAreScopedToCompany(t *testing.T) {
	ctx := context.Background()
	svc, _, cash := newLoans(t)
	loan := register(t, svc, cash)
	other := shared.Actor{UserID: 9, CompanyID: 2}

	_, err := svc.Get(ctx, other, loan.ID)
	require.ErrorIs(t, err, loans.ErrLoanNotFound)
	_, err = svc.PayOff(ctx, other, loan.ID, loans.PaymentInput{})
	require.ErrorIs(t, err, shared.ErrNotFound)

	list, err := svc.List(ctx, other)
	require.NoError(t, err)
	require.Empty(t, list)
	list, err = svc.List(ctx, actor)
	require.NoError(t, err)
	require.Len(t, list, 1)
}
