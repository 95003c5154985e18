package loans

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/audit"
	"github.com/odyssey-erp/ledgercore/internal/ledger"
	"github.com/odyssey-erp/ledgercore/internal/schedule"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	ledger.TxRepository
	schedule.TxRepository
	InsertLoan(ctx context.Context, l Loan) (int64, error)
	LockLoan(ctx context.Context, id int64) (Loan, error)
	UpdateLoanStatus(ctx context.Context, id int64, status Status) error
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetLoan(ctx context.Context, id int64) (Loan, error)
	ListLoans(ctx context.Context, companyID int64) ([]Loan, error)
	ListLoanInstallments(ctx context.Context, loanID int64) ([]schedule.Installment, error)
}

// Service manages loans.
type Service struct {
	repo      RepositoryPort
	journal   *ledger.Journal
	scheduler *schedule.Scheduler
	audit     *audit.Recorder
	now       func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, journal *ledger.Journal, scheduler *schedule.Scheduler, recorder *audit.Recorder) *Service {
	return &Service{repo: repo, journal: journal, scheduler: scheduler, audit: recorder, now: func() time.Time { return time.Now().UTC() }}
}

// WithNow overrides the clock.
func (s *Service) WithNow(fn func() time.Time) *Service {
	if fn != nil {
		s.now = fn
	}
	return s
}

// Register stores the loan and posts its principal as an inflow.
func (s *Service) Register(ctx context.Context, actor shared.Actor, in RegisterInput) (Loan, error) {
	if strings.TrimSpace(in.Lender) == "" {
		return Loan{}, shared.Required("lender")
	}
	if !shared.ValidCurrency(in.Currency) {
		return Loan{}, shared.Invalid("currency", "must be PEN or USD")
	}
	if !in.Principal.IsPositive() {
		return Loan{}, shared.Invalid("principal", "must be positive")
	}
	if in.Rate.IsNegative() {
		return Loan{}, shared.Invalid("rate", "must not be negative")
	}
	if in.LoanDate.IsZero() {
		in.LoanDate = s.now()
	}
	if !in.DueDate.IsZero() && in.DueDate.Before(in.LoanDate) {
		return Loan{}, shared.Invalid("due_date", "must not precede the loan date")
	}
	loan := Loan{
		CompanyID:  actor.CompanyID,
		DocumentID: in.DocumentID,
		Lender:     strings.TrimSpace(in.Lender),
		Currency:   in.Currency,
		Principal:  in.Principal,
		Rate:       in.Rate,
		Interest:   Interest(in.Principal, in.Rate),
		Status:     StatusPending,
		LoanDate:   in.LoanDate,
		DueDate:    in.DueDate,
		CreatedAt:  s.now(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertLoan(ctx, loan)
		if err != nil {
			return fmt.Errorf("loans: insert loan: %w", err)
		}
		loan.ID = id
		s.audit.Record(ctx, tx, actor, audit.Event{
			Action:   audit.ActionInsert,
			Kind:     audit.KindLoan,
			EntityID: id,
			Summary: func() string {
				return fmt.Sprintf("Loan from %s for %s %s at %s%%", loan.Lender, loan.Currency, loan.Principal.StringFixed(2), loan.Rate.String())
			},
		})
		_, err = s.journal.Post(ctx, tx, actor, ledger.Movement{
			Direction: ledger.Inflow,
			Amount:    loan.Principal,
			Currency:  loan.Currency,
			PostedAt:  loan.LoanDate,
			Reference: "Capital injection: loan from " + loan.Lender,
			LoanID:    &loan.ID,
			AccountID: in.AccountID,
			ITF:       in.ITF,
		})
		return err
	})
	if err != nil {
		return Loan{}, err
	}
	return loan, nil
}

func (s *Service) lockOpen(ctx context.Context, tx TxRepository, actor shared.Actor, id int64) (Loan, error) {
	loan, err := tx.LockLoan(ctx, id)
	if err != nil {
		return Loan{}, err
	}
	if !actor.Owns(loan.CompanyID) {
		return Loan{}, ErrLoanNotFound
	}
	if loan.Status == StatusPaid {
		return Loan{}, ErrLoanPaid
	}
	return loan, nil
}

// Schedule splits principal plus interest into installments from the loan
// date.
func (s *Service) Schedule(ctx context.Context, actor shared.Actor, id int64, count, intervalDays int) ([]schedule.Installment, error) {
	if count <= 0 || intervalDays <= 0 {
		return nil, shared.Invalid("terms", "count and interval_days must be positive")
	}
	var items []schedule.Installment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		loan, err := s.lockOpen(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		items, err = s.scheduler.Reschedule(ctx, tx, schedule.LoanParent{LoanID: loan.ID}, schedule.Plan{
			Total: loan.Owed(), Count: count, Start: loan.LoanDate, IntervalDays: intervalDays,
		})
		return err
	})
	return items, err
}

// PayInstallment settles one installment with an outflow. The loan becomes
// paid with its last installment.
func (s *Service) PayInstallment(ctx context.Context, actor shared.Actor, loanID, installmentID int64, in PaymentInput) (schedule.Installment, error) {
	var inst schedule.Installment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		loan, err := s.lockOpen(ctx, tx, actor, loanID)
		if err != nil {
			return err
		}
		parent := schedule.LoanParent{LoanID: loan.ID}
		var amount decimal.Decimal
		inst, amount, err = s.scheduler.Settle(ctx, tx, parent, installmentID)
		if err != nil {
			return err
		}
		if err := s.repay(ctx, tx, actor, loan, amount, fmt.Sprintf("Installment %d of loan from %s", inst.Seq, loan.Lender), in); err != nil {
			return err
		}
		items, err := tx.ListInstallments(ctx, parent)
		if err != nil {
			return err
		}
		if schedule.Outstanding(items).IsZero() {
			return s.markPaid(ctx, tx, actor, loan)
		}
		return nil
	})
	if err != nil {
		return schedule.Installment{}, err
	}
	return inst, nil
}

// PayOff repays everything still owed and marks the loan paid.
func (s *Service) PayOff(ctx context.Context, actor shared.Actor, loanID int64, in PaymentInput) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		loan, err := s.lockOpen(ctx, tx, actor, loanID)
		if err != nil {
			return err
		}
		parent := schedule.LoanParent{LoanID: loan.ID}
		items, err := tx.ListInstallments(ctx, parent)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			amount = loan.Owed()
		} else if amount, err = s.scheduler.SettleAll(ctx, tx, parent); err != nil {
			return err
		}
		if amount.IsPositive() {
			if err := s.repay(ctx, tx, actor, loan, amount, "Loan repayment to "+loan.Lender, in); err != nil {
				return err
			}
		}
		return s.markPaid(ctx, tx, actor, loan)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

func (s *Service) repay(ctx context.Context, tx TxRepository, actor shared.Actor, loan Loan, amount decimal.Decimal, ref string, in PaymentInput) error {
	_, err := s.journal.Post(ctx, tx, actor, ledger.Movement{
		CompanyID: loan.CompanyID,
		Direction: ledger.Outflow,
		Amount:    amount,
		Currency:  loan.Currency,
		PostedAt:  in.PaidAt,
		Reference: ref,
		LoanID:    &loan.ID,
		AccountID: in.AccountID,
		ITF:       in.ITF,
	})
	return err
}

func (s *Service) markPaid(ctx context.Context, tx TxRepository, actor shared.Actor, loan Loan) error {
	if err := tx.UpdateLoanStatus(ctx, loan.ID, StatusPaid); err != nil {
		return err
	}
	s.audit.Record(ctx, tx, actor, audit.Event{
		Action:   audit.ActionUpdate,
		Kind:     audit.KindLoan,
		EntityID: loan.ID,
		Summary:  func() string { return fmt.Sprintf("Loan from %s paid", loan.Lender) },
	})
	return nil
}

// Get loads a loan of the actor's company with its schedule.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id int64) (Detail, error) {
	loan, err := s.repo.GetLoan(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	if !actor.Owns(loan.CompanyID) {
		return Detail{}, ErrLoanNotFound
	}
	items, err := s.repo.ListLoanInstallments(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	return Detail{Loan: loan, Installments: items, Outstanding: outstanding(loan, items)}, nil
}

func outstanding(loan Loan, items []schedule.Installment) decimal.Decimal {
	if loan.Status == StatusPaid {
		return decimal.Zero
	}
	if len(items) == 0 {
		return loan.Owed()
	}
	return schedule.Outstanding(items)
}

// List lists the company's loans.
func (s *Service) List(ctx context.Context, actor shared.Actor) ([]Loan, error) {
	return s.repo.ListLoans(ctx, actor.CompanyID)
}
