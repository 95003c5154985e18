package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/ledgercore/internal/jobs"
	"github.com/odyssey-erp/ledgercore/internal/ledger"
)

// TaskLedgerIntegrity compares stored balances with the journal.
const TaskLedgerIntegrity = "ledger:integrity"

// LedgerIntegrityPayload narrows the scan to one company when set.
type LedgerIntegrityPayload struct {
	CompanyID int64 `json:"company_id,omitempty"`
}

// NewLedgerIntegrityTask constructs an Asynq task.
func NewLedgerIntegrityTask(companyID int64) (*asynq.Task, error) {
	body, err := json.Marshal(LedgerIntegrityPayload{CompanyID: companyID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, body, asynq.Queue(QueueLedger)), nil
}

// IntegrityChecker reports ledger drift per company.
type IntegrityChecker interface {
	CheckIntegrity(ctx context.Context, companyID int64) ([]ledger.Drift, error)
	CompanyIDs(ctx context.Context) ([]int64, error)
}

// LedgerIntegrityJob logs every account whose balance drifted from the
// sum of its movements.
type LedgerIntegrityJob struct {
	Checker IntegrityChecker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle executes the scan.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Checker == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	var payload LedgerIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := j.Metrics.Track(TaskLedgerIntegrity)
	defer func() { err = tracker.End(err) }()

	_, err = j.Run(ctx, payload.CompanyID)
	return err
}

// Run scans one company, or all when companyID is zero, and returns the
// drifts found.
func (j *LedgerIntegrityJob) Run(ctx context.Context, companyID int64) (map[int64][]ledger.Drift, error) {
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	companies := []int64{companyID}
	if companyID == 0 {
		ids, err := j.Checker.CompanyIDs(ctx)
		if err != nil {
			return nil, err
		}
		companies = ids
	}
	found := make(map[int64][]ledger.Drift)
	for _, id := range companies {
		drifts, err := j.Checker.CheckIntegrity(ctx, id)
		if err != nil {
			logger.Error("ledger integrity check failed", slog.Int64("company_id", id), slog.Any("error", err))
			return found, err
		}
		for _, d := range drifts {
			logger.Warn("ledger balance drift",
				slog.Int64("company_id", id),
				slog.Int64("account_id", d.AccountID),
				slog.String("stored", d.Stored.StringFixed(2)),
				slog.String("expected", d.Expected.StringFixed(2)))
		}
		if len(drifts) > 0 {
			found[id] = drifts
			j.Metrics.AddDrifts(id, len(drifts))
		}
	}
	logger.Info("ledger integrity check executed", slog.Int("companies", len(companies)), slog.Int("drifting", len(found)))
	return found, nil
}
