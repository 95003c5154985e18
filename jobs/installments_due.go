package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/ledgercore/internal/jobs"
	"github.com/odyssey-erp/ledgercore/internal/schedule"
)

const (
	// TaskInstallmentsDue reminds companies of installments falling due.
	TaskInstallmentsDue = "installments:due"
	// DefaultDaysAhead is the reminder horizon when none is given.
	DefaultDaysAhead = 3
)

// InstallmentsDuePayload sets how many days ahead to look.
type InstallmentsDuePayload struct {
	DaysAhead int `json:"days_ahead"`
}

// NewInstallmentsDueTask constructs an Asynq task.
func NewInstallmentsDueTask(daysAhead int) (*asynq.Task, error) {
	body, err := json.Marshal(InstallmentsDuePayload{DaysAhead: daysAhead})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInstallmentsDue, body, asynq.Queue(QueueLedger)), nil
}

// DueLister lists unpaid installments due before a date.
type DueLister interface {
	ListDue(ctx context.Context, companyID int64, until time.Time) ([]schedule.Due, error)
}

// InstallmentsDueJob writes one inbox message per due installment.
type InstallmentsDueJob struct {
	Due     DueLister
	Inbox   Inbox
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	Clock   func() time.Time
}

// Handle executes the reminder run.
func (j *InstallmentsDueJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Due == nil || j.Inbox == nil {
		return errors.New("installments due: handler not configured")
	}
	payload := InstallmentsDuePayload{DaysAhead: DefaultDaysAhead}
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := j.Metrics.Track(TaskInstallmentsDue)
	defer func() { err = tracker.End(err) }()

	_, err = j.Run(ctx, payload.DaysAhead)
	return err
}

// Run sends the reminders and returns how many were sent.
func (j *InstallmentsDueJob) Run(ctx context.Context, daysAhead int) (int, error) {
	now := time.Now().UTC()
	if j.Clock != nil {
		now = j.Clock()
	}
	if daysAhead <= 0 {
		daysAhead = DefaultDaysAhead
	}
	year, month, day := now.Date()
	today := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	items, err := j.Due.ListDue(ctx, 0, today.AddDate(0, 0, daysAhead+1))
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, d := range items {
		if err := j.Inbox.Deliver(ctx, d.CompanyID, dueMessage(d, today)); err != nil {
			return sent, err
		}
		sent++
	}
	if j.Logger != nil {
		j.Logger.Info("installment reminders sent", slog.Int("count", sent))
	}
	return sent, nil
}

func dueMessage(d schedule.Due, today time.Time) string {
	it := d.Installment
	state := "due"
	if d.Overdue(today) {
		state = "overdue since"
	}
	return fmt.Sprintf("Installment %d of %s is %s %s: %s %s",
		it.Seq, d.Origin, state, it.DueDate.Format("2006-01-02"), d.Currency, it.Outstanding.StringFixed(2))
}
