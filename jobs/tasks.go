package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault carries inbox notifications.
	QueueDefault = "default"
	// QueueLedger carries the scheduled ledger maintenance jobs.
	QueueLedger = "ledger"
	// TaskNotify delivers a message to a company's inbox.
	TaskNotify = "notifications:deliver"
)

// Routes maps every task type the worker serves to its queue.
var Routes = map[string]string{
	TaskNotify:             QueueDefault,
	TaskLedgerIntegrity:    QueueLedger,
	TaskFXSync:             QueueLedger,
	TaskInstallmentsDue:    QueueLedger,
	TaskIdempotencyCleanup: QueueLedger,
}

// queueWeights are the worker priorities per queue.
var queueWeights = map[string]int{QueueDefault: 3, QueueLedger: 1}

// NotifyPayload carries one inbox message.
type NotifyPayload struct {
	CompanyID int64  `json:"company_id"`
	Message   string `json:"message"`
}

// NewNotifyTask constructs an Asynq task.
func NewNotifyTask(payload NotifyPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotify, data, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// Inbox receives delivered messages.
type Inbox interface {
	Deliver(ctx context.Context, companyID int64, message string) error
}

// NotifyJob processes TaskNotify tasks.
type NotifyJob struct {
	Inbox  Inbox
	Logger *slog.Logger
}

// Handle stores the message. Malformed payloads are not retried.
func (j *NotifyJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Inbox == nil {
		return errors.New("notify: inbox not configured")
	}
	var payload NotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.CompanyID == 0 {
		return asynq.SkipRetry
	}
	if err := j.Inbox.Deliver(ctx, payload.CompanyID, payload.Message); err != nil {
		if j.Logger != nil {
			j.Logger.Warn("notification delivery failed", slog.Int64("company_id", payload.CompanyID), slog.Any("error", err))
		}
		return err
	}
	return nil
}
