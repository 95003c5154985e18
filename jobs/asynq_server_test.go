package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type stubInspector struct {
	queues []string
	infos  map[string]*asynq.QueueInfo
	err    error
}

func (s stubInspector) Queues() ([]string, error) { return s.queues, nil }

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.infos[queue], nil
}

func getHealth(t *testing.T, h *Handler) (int, Health) {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/jobs", h.MountRoutes)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	var body Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealthReportsLedgerAndNotificationQueues(t *testing.T) {
	h := NewHandler(stubInspector{
		queues: []string{QueueLedger},
		infos:  map[string]*asynq.QueueInfo{QueueLedger: {Queue: QueueLedger, Pending: 2, Retry: 1, Failed: 3}},
	}, slog.Default())

	code, body := getHealth(t, h)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body.Status)
	require.Len(t, body.Queues, 2)

	notifications, ledger := body.Queues[0], body.Queues[1]
	require.Equal(t, QueueDefault, notifications.Queue)
	require.Equal(t, []string{TaskNotify}, notifications.Tasks)
	require.Zero(t, notifications.Pending)

	require.Equal(t, QueueLedger, ledger.Queue)
	require.Equal(t, []string{TaskFXSync, TaskIdempotencyCleanup, TaskInstallmentsDue, TaskLedgerIntegrity}, ledger.Tasks)
	require.Equal(t, 2, ledger.Pending)
	require.Equal(t, 1, ledger.Retry)
	require.Equal(t, 3, ledger.Failed)
}

func TestHealthDegradesOnInspectorError(t *testing.T) {
	h := NewHandler(stubInspector{queues: []string{QueueDefault}, err: errors.New("redis: i/o timeout")}, nil)
	code, body := getHealth(t, h)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "degraded", body.Status)
}

func TestHealthWithoutRedis(t *testing.T) {
	code, body := getHealth(t, NewHandler(nil, nil))
	require.Equal(t, http.StatusOK, code)
	for _, q := range body.Queues {
		require.Zero(t, q.Pending)
	}
}

func TestWorkerRejectsUnroutedTask(t *testing.T) {
	_, err := NewWorker(WorkerConfig{Handlers: []TaskHandler{{Type: "reports:rebuild", Handler: func(_ context.Context, _ *asynq.Task) error { return nil }}}})
	require.ErrorContains(t, err, `task "reports:rebuild" has no queue`)
}

func TestTasksCarryTheirQueue(t *testing.T) {
	integrity, err := NewLedgerIntegrityTask(0)
	require.NoError(t, err)
	notify, err := NewNotifyTask(NotifyPayload{CompanyID: 1, Message: "hola"})
	require.NoError(t, err)
	for _, task := range []*asynq.Task{integrity, notify, NewFXSyncTask()} {
		_, ok := Routes[task.Type()]
		require.Truef(t, ok, "task %s", task.Type())
	}
}
