package integration

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/ledgercore/jobs"
)

// Enqueuer submits tasks to the background queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueNotifier hands messages to the worker. Without a queue, or when
// enqueueing fails, it delivers straight to the inbox.
type QueueNotifier struct {
	queue  Enqueuer
	inbox  jobs.Inbox
	logger *slog.Logger
}

// NewQueueNotifier builds QueueNotifier. Either queue or inbox may be nil.
func NewQueueNotifier(queue Enqueuer, inbox jobs.Inbox, logger *slog.Logger) *QueueNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueNotifier{queue: queue, inbox: inbox, logger: logger}
}

// Notify queues message for companyID.
func (n *QueueNotifier) Notify(ctx context.Context, companyID int64, message string) error {
	if n.queue != nil {
		task, err := jobs.NewNotifyTask(jobs.NotifyPayload{CompanyID: companyID, Message: message})
		if err != nil {
			return err
		}
		if _, err = n.queue.Enqueue(ctx, task); err == nil {
			return nil
		}
		n.logger.Warn("notification not queued, delivering inline", slog.Int64("company_id", companyID), slog.Any("error", err))
	}
	if n.inbox == nil {
		return nil
	}
	return n.inbox.Deliver(ctx, companyID, message)
}
