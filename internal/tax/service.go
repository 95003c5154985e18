package tax

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/ledgercore/internal/audit"
	"github.com/odyssey-erp/ledgercore/internal/documents"
	"github.com/odyssey-erp/ledgercore/internal/ledger"
	"github.com/odyssey-erp/ledgercore/internal/platform/cache"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	documents.SettlementTx
	ledger.TxRepository
	EnsureCounterparty(ctx context.Context, companyID int64, taxID, name string) (documents.Counterparty, bool, error)
	FindSaleDocument(ctx context.Context, companyID int64, series, number string) (int64, bool, error)
	RetentionCertificateExists(ctx context.Context, companyID, agentID int64, seriesNumber string) (bool, error)
	InsertRetentionCertificate(ctx context.Context, c Certificate) (int64, error)
	InsertRetentionDetail(ctx context.Context, d Detail) (int64, error)
	TaxPaymentExists(ctx context.Context, p Payment) (bool, error)
	InsertTaxPayment(ctx context.Context, p Payment) (int64, error)
	UpsertClosure(ctx context.Context, c Closure) error
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	SumTax(ctx context.Context, companyID int64, period shared.Period, op documents.Operation, excludeShield bool) (decimal.Decimal, error)
	SumRetentions(ctx context.Context, companyID int64, period shared.Period) (decimal.Decimal, error)
	SumTaxPayments(ctx context.Context, companyID int64, period shared.Period, code string) (decimal.Decimal, error)
	GetClosure(ctx context.Context, companyID int64, period shared.Period) (Closure, bool, error)
	ListTraceLines(ctx context.Context, companyID int64, period shared.Period) ([]TraceLine, error)
	ListRetentionDetails(ctx context.Context, companyID int64, period shared.Period) ([]Detail, error)
}

// Locker serialises period closes across processes.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(context.Context) error, error)
}

// Service reconciles IGV per period.
type Service struct {
	repo      RepositoryPort
	documents *documents.Service
	journal   *ledger.Journal
	audit     *audit.Recorder
	locker    Locker
	logger    *slog.Logger
	opts      Options
	now       func() time.Time
}

// NewService builds Service. A nil locker closes without cross-process
// locking.
func NewService(repo RepositoryPort, docs *documents.Service, journal *ledger.Journal, recorder *audit.Recorder, locker Locker, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		documents: docs,
		journal:   journal,
		audit:     recorder,
		locker:    locker,
		logger:    logger,
		opts:      opts,
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

// Summary aggregates the IGV position of period. Debit and credit convert
// each document's tax at its own stored rate.
func (s *Service) Summary(ctx context.Context, companyID int64, period shared.Period) (Summary, error) {
	sum := Summary{CompanyID: companyID, Period: period.String()}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := s.repo.SumTax(ctx, companyID, period, documents.OperationSale, false)
		sum.Debit = v
		return err
	})
	g.Go(func() error {
		v, err := s.repo.SumTax(ctx, companyID, period, documents.OperationPurchase, s.opts.ExcludeShieldCredit)
		sum.Credit = v
		return err
	})
	g.Go(func() error {
		v, err := s.repo.SumRetentions(ctx, companyID, period)
		sum.Retentions = v
		return err
	})
	g.Go(func() error {
		v, err := s.repo.SumTaxPayments(ctx, companyID, period, IGVPaymentCode)
		sum.Payments = v
		return err
	})
	g.Go(func() error {
		prev, ok, err := s.repo.GetClosure(ctx, companyID, period.Previous())
		if ok {
			sum.CarryIn = prev.CreditCarry
		}
		return err
	})
	g.Go(func() error {
		_, ok, err := s.repo.GetClosure(ctx, companyID, period)
		sum.Closed = ok
		return err
	})
	if err := g.Wait(); err != nil {
		return Summary{}, fmt.Errorf("tax: summary %s: %w", period, err)
	}
	sum.compute()
	return sum, nil
}

// Close persists the period's summary, overwriting an earlier close of the
// same period. A negative liability becomes credit carried forward.
func (s *Service) Close(ctx context.Context, actor shared.Actor, period shared.Period) (Closure, error) {
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, shared.TaxCloseLockKey(actor.CompanyID, period.String()))
		if errors.Is(err, cache.ErrLockBusy) {
			return Closure{}, ErrCloseInProgress
		}
		if err != nil {
			return Closure{}, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("tax: release close lock", slog.Any("error", err))
			}
		}()
	}
	sum, err := s.Summary(ctx, actor.CompanyID, period)
	if err != nil {
		return Closure{}, err
	}
	closure := Closure{
		CompanyID:   actor.CompanyID,
		Period:      sum.Period,
		Debit:       sum.Debit,
		Credit:      sum.Credit,
		Retentions:  sum.Retentions,
		Payments:    sum.Payments,
		CarryIn:     sum.CarryIn,
		Liability:   sum.Liability,
		CreditCarry: sum.CreditCarry(),
		ClosedAt:    s.now(),
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpsertClosure(ctx, closure)
	})
	if err != nil {
		return Closure{}, err
	}
	s.logger.Info("tax period closed",
		slog.Int64("company_id", actor.CompanyID),
		slog.String("period", closure.Period),
		slog.String("liability", closure.Liability.StringFixed(2)),
		slog.String("credit_carry", closure.CreditCarry.StringFixed(2)))
	return closure, nil
}

// RegisterPayment records a payment to the tax authority and the outflow
// that funded it.
func (s *Service) RegisterPayment(ctx context.Context, actor shared.Actor, in PaymentInput) (Payment, error) {
	if !in.Amount.IsPositive() {
		return Payment{}, shared.Invalid("amount", "must be positive")
	}
	period, err := shared.ParsePeriod(in.Period)
	if err != nil {
		return Payment{}, err
	}
	code := strings.TrimSpace(in.Code)
	if code == "" {
		code = IGVPaymentCode
	}
	if in.PaidAt.IsZero() {
		in.PaidAt = s.now()
	}
	p := Payment{
		CompanyID:       actor.CompanyID,
		Code:            code,
		Period:          period.String(),
		OperationNumber: strings.TrimSpace(in.OperationNumber),
		Amount:          in.Amount,
		PaidAt:          in.PaidAt,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if p.OperationNumber != "" {
			exists, err := tx.TaxPaymentExists(ctx, p)
			if err != nil {
				return err
			}
			if exists {
				return ErrDuplicatePayment
			}
		}
		mv, err := s.journal.Post(ctx, tx, actor, ledger.Movement{
			Direction: ledger.Outflow,
			Amount:    p.Amount,
			Currency:  shared.BaseCurrency,
			PostedAt:  p.PaidAt,
			Reference: fmt.Sprintf("Tax payment %s - period %s", p.Code, p.Period),
			AccountID: in.AccountID,
			ITF:       in.ITF,
		})
		if err != nil {
			return err
		}
		p.MovementID = mv.ID
		p.ID, err = tx.InsertTaxPayment(ctx, p)
		return err
	})
	if err != nil {
		return Payment{}, err
	}
	return p, nil
}

// Trace lists the documents behind a period's debit and credit.
func (s *Service) Trace(ctx context.Context, companyID int64, period shared.Period) ([]TraceLine, error) {
	return s.repo.ListTraceLines(ctx, companyID, period)
}

// Retentions lists the retention details applied in period.
func (s *Service) Retentions(ctx context.Context, companyID int64, period shared.Period) ([]Detail, error) {
	return s.repo.ListRetentionDetails(ctx, companyID, period)
}
