package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/ledgercore/internal/fx"
	jobmetrics "github.com/odyssey-erp/ledgercore/internal/jobs"
)

// TaskFXSync makes sure today's exchange rate exists.
const TaskFXSync = "fx:sync"

// NewFXSyncTask constructs an Asynq task.
func NewFXSyncTask() *asynq.Task {
	return asynq.NewTask(TaskFXSync, nil, asynq.Queue(QueueLedger))
}

// RateSource resolves the day's rate.
type RateSource interface {
	Today(ctx context.Context) (fx.Rate, error)
}

// FXSyncJob creates the day's rate ahead of the first request needing it.
type FXSyncJob struct {
	Rates   RateSource
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle executes the sync.
func (j *FXSyncJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Rates == nil {
		return errors.New("fx sync: handler not configured")
	}
	tracker := j.Metrics.Track(TaskFXSync)
	defer func() { err = tracker.End(err) }()

	rate, err := j.Rates.Today(ctx)
	if err != nil {
		return err
	}
	if j.Logger != nil {
		j.Logger.Info("fx rate ready", slog.Time("day", rate.Day), slog.String("buy", rate.Buy.String()), slog.String("sell", rate.Sell.String()))
	}
	return nil
}
