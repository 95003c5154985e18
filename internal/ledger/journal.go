package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/audit"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

// TxRepository is the transactional surface the journal writes through.
type TxRepository interface {
	audit.Writer
	InsertLedgerAccount(ctx context.Context, acct Account) (int64, error)
	LockLedgerAccount(ctx context.Context, id int64) (Account, error)
	AdjustLedgerBalance(ctx context.Context, id int64, delta decimal.Decimal) error
	InsertMovement(ctx context.Context, mv Movement) (int64, error)
	GetMovement(ctx context.Context, id int64) (Movement, error)
	DeleteMovementRow(ctx context.Context, id int64) error
}

// Journal posts and reverses movements. It owns no transaction: callers pass
// the unit of work so a movement lands atomically with whatever caused it.
type Journal struct {
	audit  *audit.Recorder
	logger *slog.Logger
	now    func() time.Time
}

// NewJournal builds a Journal.
func NewJournal(recorder *audit.Recorder, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{audit: recorder, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// WithNow overrides the clock.
func (j *Journal) WithNow(fn func() time.Time) *Journal {
	if fn != nil {
		j.now = fn
	}
	return j
}

// Post stores mv and applies its balance delta to the linked account.
func (j *Journal) Post(ctx context.Context, tx TxRepository, actor shared.Actor, mv Movement) (Movement, error) {
	if mv.CompanyID == 0 {
		mv.CompanyID = actor.CompanyID
	}
	if mv.ExchangeRate.IsZero() {
		mv.ExchangeRate = decimal.NewFromInt(1)
	}
	if err := mv.validate(); err != nil {
		return Movement{}, err
	}
	if mv.PostedAt.IsZero() {
		mv.PostedAt = j.now()
	}
	if err := j.apply(ctx, tx, mv, false); err != nil {
		return Movement{}, err
	}
	id, err := tx.InsertMovement(ctx, mv)
	if err != nil {
		return Movement{}, fmt.Errorf("ledger: insert movement: %w", err)
	}
	mv.ID = id
	j.audit.Record(ctx, tx, actor, audit.Event{
		Action:   audit.ActionInsert,
		Kind:     audit.KindMovement,
		EntityID: id,
		Summary:  func() string { return movementSummary(mv) },
	})
	return mv, nil
}

// Reverse deletes mv and applies the exact inverse of the delta it posted,
// using the stored amount and ITF.
func (j *Journal) Reverse(ctx context.Context, tx TxRepository, actor shared.Actor, mv Movement) error {
	if err := j.apply(ctx, tx, mv, true); err != nil {
		return err
	}
	if err := tx.DeleteMovementRow(ctx, mv.ID); err != nil {
		return fmt.Errorf("ledger: delete movement %d: %w", mv.ID, err)
	}
	j.audit.Record(ctx, tx, actor, audit.Event{
		Action:   audit.ActionDelete,
		Kind:     audit.KindMovement,
		EntityID: mv.ID,
		Summary:  func() string { return "DELETED " + movementSummary(mv) },
	})
	return nil
}

func (j *Journal) apply(ctx context.Context, tx TxRepository, mv Movement, reverse bool) error {
	if mv.AccountID == nil {
		j.logger.Info("ledger: movement without account, balance untouched",
			slog.Int64("movement_id", mv.ID),
			slog.String("reference", mv.Reference))
		return nil
	}
	acct, err := tx.LockLedgerAccount(ctx, *mv.AccountID)
	if err != nil {
		return err
	}
	if acct.CompanyID != mv.CompanyID {
		return shared.ErrForbidden
	}
	if acct.Currency != mv.Currency {
		return ErrCurrencyMismatch
	}
	delta := Delta(acct.Kind, mv.Direction, mv.Amount, mv.ITF)
	if reverse {
		delta = delta.Neg()
	}
	return tx.AdjustLedgerBalance(ctx, acct.ID, delta)
}

func movementSummary(mv Movement) string {
	text := fmt.Sprintf("%s %s %s", mv.Direction, mv.Currency, mv.Amount.StringFixed(2))
	if mv.ITF.IsPositive() {
		text += fmt.Sprintf(" (ITF %s)", mv.ITF.StringFixed(2))
	}
	if mv.Reference != "" {
		text += ": " + mv.Reference
	}
	return text
}
