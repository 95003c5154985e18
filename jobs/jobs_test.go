package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledgercore/internal/fx"
	jobmetrics "github.com/odyssey-erp/ledgercore/internal/jobs"
	"github.com/odyssey-erp/ledgercore/internal/ledger"
	"github.com/odyssey-erp/ledgercore/internal/schedule"
)

type delivered struct {
	companyID int64
	message   string
}

type memoryInbox struct {
	items []delivered
	err   error
}

func (m *memoryInbox) Deliver(_ context.Context, companyID int64, message string) error {
	if m.err != nil {
		return m.err
	}
	m.items = append(m.items, delivered{companyID: companyID, message: message})
	return nil
}

type stubChecker struct {
	companies []int64
	drifts    map[int64][]ledger.Drift
}

func (s stubChecker) CompanyIDs(context.Context) ([]int64, error) { return s.companies, nil }

func (s stubChecker) CheckIntegrity(_ context.Context, companyID int64) ([]ledger.Drift, error) {
	return s.drifts[companyID], nil
}

func TestLedgerIntegrityScansAllCompanies(t *testing.T) {
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	job := &LedgerIntegrityJob{
		Checker: stubChecker{
			companies: []int64{1, 2},
			drifts: map[int64][]ledger.Drift{
				2: {{AccountID: 9, Stored: decimal.NewFromInt(100), Expected: decimal.NewFromInt(90)}},
			},
		},
		Metrics: metrics,
	}

	task, err := NewLedgerIntegrityTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	found, err := job.Run(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, int64(9), found[2][0].AccountID)
}

func TestLedgerIntegrityRejectsMalformedPayload(t *testing.T) {
	job := &LedgerIntegrityJob{Checker: stubChecker{}}
	err := job.Handle(context.Background(), asynq.NewTask(TaskLedgerIntegrity, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type stubDue struct {
	items []schedule.Due
	until time.Time
}

func (s *stubDue) ListDue(_ context.Context, _ int64, until time.Time) ([]schedule.Due, error) {
	s.until = until
	return s.items, nil
}

func TestInstallmentsDueDeliversOneMessagePerInstallment(t *testing.T) {
	now := time.Date(2024, 5, 10, 15, 30, 0, 0, time.UTC)
	lister := &stubDue{items: []schedule.Due{
		{
			Installment: schedule.Installment{ID: 1, Parent: schedule.AccountParent{ReceivableID: 4}, Seq: 2,
				Outstanding: decimal.RequireFromString("150.50"), DueDate: time.Date(2024, 5, 8, 0, 0, 0, 0, time.UTC)},
			CompanyID: 1, Origin: "F001-123", Currency: "PEN",
		},
		{
			Installment: schedule.Installment{ID: 2, Parent: schedule.LoanParent{LoanID: 3}, Seq: 1,
				Outstanding: decimal.NewFromInt(500), DueDate: time.Date(2024, 5, 12, 0, 0, 0, 0, time.UTC)},
			CompanyID: 2, Origin: "Banco Norte", Currency: "USD",
		},
	}}
	inbox := &memoryInbox{}
	job := &InstallmentsDueJob{Due: lister, Inbox: inbox, Clock: func() time.Time { return now }}

	sent, err := job.Run(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 2, sent)
	require.Equal(t, time.Date(2024, 5, 14, 0, 0, 0, 0, time.UTC), lister.until)
	require.Equal(t, "Installment 2 of F001-123 is overdue since 2024-05-08: PEN 150.50", inbox.items[0].message)
	require.Equal(t, "Installment 1 of Banco Norte is due 2024-05-12: USD 500.00", inbox.items[1].message)
	require.Equal(t, int64(2), inbox.items[1].companyID)
}

func TestNotifyJobDeliversPayload(t *testing.T) {
	inbox := &memoryInbox{}
	job := &NotifyJob{Inbox: inbox}
	task, err := NewNotifyTask(NotifyPayload{CompanyID: 5, Message: "Price of Cable rose 12%"})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []delivered{{companyID: 5, message: "Price of Cable rose 12%"}}, inbox.items)

	body, _ := json.Marshal(NotifyPayload{Message: "no company"})
	require.ErrorIs(t, job.Handle(context.Background(), asynq.NewTask(TaskNotify, body)), asynq.SkipRetry)

	inbox.err = errors.New("db down")
	require.Error(t, job.Handle(context.Background(), task))
}

type stubPruner struct{ olderThan time.Duration }

func (s *stubPruner) Cleanup(_ context.Context, olderThan time.Duration) error {
	s.olderThan = olderThan
	return nil
}

func TestIdempotencyCleanupUsesPayloadRetention(t *testing.T) {
	registry := prometheus.NewRegistry()
	pruner := &stubPruner{}
	job := &IdempotencyCleanupJob{Keys: pruner, Metrics: jobmetrics.NewMetrics(registry)}

	task, err := NewIdempotencyCleanupTask(24 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 24*time.Hour, pruner.olderThan)

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	require.Equal(t, DefaultIdempotencyRetention, pruner.olderThan)

	count, err := testutil.GatherAndCount(registry, "ledgercore_jobs_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

type stubRates struct {
	rate fx.Rate
	err  error
}

func (s stubRates) Today(context.Context) (fx.Rate, error) { return s.rate, s.err }

func TestFXSyncCountsFailures(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	job := &FXSyncJob{Rates: stubRates{rate: fx.Rate{Buy: decimal.RequireFromString("3.70"), Sell: decimal.RequireFromString("3.75")}}, Metrics: metrics}
	require.NoError(t, job.Handle(context.Background(), NewFXSyncTask()))

	job.Rates = stubRates{err: errors.New("provider timeout")}
	require.Error(t, job.Handle(context.Background(), NewFXSyncTask()))

	count, err := testutil.GatherAndCount(registry, "ledgercore_jobs_failures_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
