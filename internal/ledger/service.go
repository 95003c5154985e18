package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/shared"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetLedgerAccount(ctx context.Context, id int64) (Account, error)
	ListLedgerAccounts(ctx context.Context, companyID int64) ([]Account, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	JournalTotals(ctx context.Context, companyID int64) (map[int64]decimal.Decimal, error)
	ListCompanyIDs(ctx context.Context) ([]int64, error)
}

// RateSource provides the day's PEN per USD rate.
type RateSource interface {
	SellRate(ctx context.Context, day time.Time) (decimal.Decimal, error)
}

// Service exposes stand-alone ledger operations.
type Service struct {
	repo    RepositoryPort
	journal *Journal
	rates   RateSource
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, journal *Journal, rates RateSource) *Service {
	return &Service{repo: repo, journal: journal, rates: rates, now: func() time.Time { return time.Now().UTC() }}
}

// CreateAccount opens a cash box or bank account.
func (s *Service) CreateAccount(ctx context.Context, actor shared.Actor, input AccountInput) (Account, error) {
	if input.Kind != KindCash && input.Kind != KindBank {
		return Account{}, shared.Invalid("kind", "must be CASH or BANK")
	}
	if strings.TrimSpace(input.Name) == "" {
		return Account{}, shared.Required("name")
	}
	if !shared.ValidCurrency(input.Currency) {
		return Account{}, shared.Invalid("currency", "must be PEN or USD")
	}
	acct := Account{
		CompanyID:      actor.CompanyID,
		Kind:           input.Kind,
		Name:           strings.TrimSpace(input.Name),
		Currency:       input.Currency,
		OpeningBalance: input.OpeningBalance,
		Balance:        input.OpeningBalance,
		CreatedAt:      s.now(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertLedgerAccount(ctx, acct)
		if err != nil {
			return err
		}
		acct.ID = id
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	return acct, nil
}

// GetAccount loads one account of the actor's company.
func (s *Service) GetAccount(ctx context.Context, actor shared.Actor, id int64) (Account, error) {
	acct, err := s.repo.GetLedgerAccount(ctx, id)
	if err != nil {
		return Account{}, err
	}
	if !actor.Owns(acct.CompanyID) {
		return Account{}, ErrAccountNotFound
	}
	return acct, nil
}

// ListAccounts lists the company's accounts.
func (s *Service) ListAccounts(ctx context.Context, actor shared.Actor) ([]Account, error) {
	return s.repo.ListLedgerAccounts(ctx, actor.CompanyID)
}

// PostMovement records a manual movement not tied to any document.
func (s *Service) PostMovement(ctx context.Context, actor shared.Actor, mv Movement) (Movement, error) {
	mv.CompanyID = actor.CompanyID
	mv.DocumentID, mv.LoanID = nil, nil
	var posted Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		posted, err = s.journal.Post(ctx, tx, actor, mv)
		return err
	})
	return posted, err
}

// DeleteMovement reverses and removes a manual movement. Movements owned by
// documents or loans are removed only through their owner.
func (s *Service) DeleteMovement(ctx context.Context, actor shared.Actor, id int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		mv, err := tx.GetMovement(ctx, id)
		if err != nil {
			return err
		}
		if !actor.Owns(mv.CompanyID) {
			return ErrMovementNotFound
		}
		if mv.Linked() {
			return ErrLinkedMovement
		}
		return s.journal.Reverse(ctx, tx, actor, mv)
	})
}

// ListMovements lists movements of the actor's company.
func (s *Service) ListMovements(ctx context.Context, actor shared.Actor, filter MovementFilter) ([]Movement, error) {
	filter.CompanyID = actor.CompanyID
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 200
	}
	return s.repo.ListMovements(ctx, filter)
}

// Transfer moves funds between two accounts as an outflow plus an inflow.
// PEN to USD divides by Rate, USD to PEN multiplies.
func (s *Service) Transfer(ctx context.Context, actor shared.Actor, input TransferInput) (Movement, Movement, error) {
	if input.FromAccountID == 0 || input.ToAccountID == 0 {
		return Movement{}, Movement{}, shared.Required("account")
	}
	if input.FromAccountID == input.ToAccountID {
		return Movement{}, Movement{}, shared.Invalid("to_account_id", "must differ from source")
	}
	if !input.Amount.IsPositive() {
		return Movement{}, Movement{}, shared.Invalid("amount", "must be positive")
	}
	var out, in Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		src, err := tx.LockLedgerAccount(ctx, input.FromAccountID)
		if err != nil {
			return err
		}
		dst, err := tx.LockLedgerAccount(ctx, input.ToAccountID)
		if err != nil {
			return err
		}
		if !actor.Owns(src.CompanyID) || !actor.Owns(dst.CompanyID) {
			return shared.ErrForbidden
		}
		converted, rate, err := Convert(input.Amount, src.Currency, dst.Currency, input.Rate)
		if err != nil {
			return err
		}
		ref := input.Reference
		if ref == "" {
			ref = fmt.Sprintf("Transfer %s -> %s", src.Name, dst.Name)
		}
		out, err = s.journal.Post(ctx, tx, actor, Movement{
			Direction: Outflow, Amount: input.Amount, Currency: src.Currency, AccountID: &src.ID,
			ExchangeRate: rate, ITF: input.ITF, Reference: ref,
		})
		if err != nil {
			return err
		}
		in, err = s.journal.Post(ctx, tx, actor, Movement{
			Direction: Inflow, Amount: converted, Currency: dst.Currency, AccountID: &dst.ID,
			ExchangeRate: rate, Reference: ref,
		})
		return err
	})
	if err != nil {
		return Movement{}, Movement{}, err
	}
	return out, in, nil
}

// Convert turns amount in currency from into currency to at rate PEN per USD.
func Convert(amount decimal.Decimal, from, to string, rate decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if from == to {
		return amount, decimal.NewFromInt(1), nil
	}
	if !rate.IsPositive() {
		return decimal.Zero, decimal.Zero, shared.Invalid("rate", "must be positive for currency exchange")
	}
	switch {
	case from == shared.CurrencyPEN && to == shared.CurrencyUSD:
		return shared.Round2(amount.Div(rate)), rate, nil
	case from == shared.CurrencyUSD && to == shared.CurrencyPEN:
		return shared.Round2(amount.Mul(rate)), rate, nil
	}
	return decimal.Zero, decimal.Zero, ErrUnsupportedPair
}

// CashPosition sums balances per currency and values them in PEN at the
// day's sell rate.
func (s *Service) CashPosition(ctx context.Context, actor shared.Actor) (Position, error) {
	accounts, err := s.repo.ListLedgerAccounts(ctx, actor.CompanyID)
	if err != nil {
		return Position{}, err
	}
	pos := Position{ByCurrency: map[string]decimal.Decimal{}, TotalPEN: decimal.Zero}
	for _, a := range accounts {
		pos.ByCurrency[a.Currency] = pos.ByCurrency[a.Currency].Add(a.Balance)
	}
	pos.TotalPEN = pos.ByCurrency[shared.CurrencyPEN]
	if usd, ok := pos.ByCurrency[shared.CurrencyUSD]; ok && !usd.IsZero() {
		if s.rates == nil {
			return Position{}, fmt.Errorf("ledger: no rate source for USD valuation")
		}
		rate, err := s.rates.SellRate(ctx, s.now())
		if err != nil {
			return Position{}, err
		}
		pos.Rate = rate
		pos.TotalPEN = pos.TotalPEN.Add(shared.Round2(usd.Mul(rate)))
	}
	return pos, nil
}

// CompanyIDs lists companies owning at least one account.
func (s *Service) CompanyIDs(ctx context.Context) ([]int64, error) {
	return s.repo.ListCompanyIDs(ctx)
}

// CheckIntegrity compares each stored balance with opening balance plus the
// sum of its journal deltas.
func (s *Service) CheckIntegrity(ctx context.Context, companyID int64) ([]Drift, error) {
	accounts, err := s.repo.ListLedgerAccounts(ctx, companyID)
	if err != nil {
		return nil, err
	}
	totals, err := s.repo.JournalTotals(ctx, companyID)
	if err != nil {
		return nil, err
	}
	var drifts []Drift
	for _, a := range accounts {
		expected := a.OpeningBalance.Add(totals[a.ID])
		if !expected.Equal(a.Balance) {
			drifts = append(drifts, Drift{AccountID: a.ID, Stored: a.Balance, Expected: expected})
		}
	}
	return drifts, nil
}
