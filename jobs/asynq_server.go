package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/ledgercore/internal/platform/httpx"
)

// Worker wraps the Asynq server and optional scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// TaskHandler allows injecting custom Asynq handlers during worker setup.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration wires a cron expression to a prepared task.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *slog.Logger
	Concurrency int
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

// NewWorker constructs a Worker serving the notification and ledger queues.
// Handlers for task types missing from Routes are rejected.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	mux := asynq.NewServeMux()
	served := make([]string, 0, len(cfg.Handlers))
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			continue
		}
		if _, ok := Routes[h.Type]; !ok {
			return nil, fmt.Errorf("worker: task %q has no queue", h.Type)
		}
		mux.HandleFunc(h.Type, h.Handler)
		served = append(served, h.Type)
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      queueWeights,
		Logger:      asynqLogger{cfg.Logger},
	})

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC, Logger: asynqLogger{cfg.Logger}})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}
			if _, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...); err != nil {
				return nil, fmt.Errorf("worker: schedule %s: %w", entry.Task.Type(), err)
			}
		}
	}
	sort.Strings(served)
	cfg.Logger.Info("worker configured", slog.Any("tasks", served), slog.Int("cron", len(cfg.Cron)), slog.Int("concurrency", cfg.Concurrency))

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: cfg.Logger}, nil
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		return err
	}
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// Enqueue submits task to the queue Routes assigns to its type.
func (c *Client) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	queue, ok := Routes[task.Type()]
	if !ok {
		queue = QueueDefault
	}
	return c.client.EnqueueContext(ctx, task, append([]asynq.Option{asynq.Queue(queue)}, opts...)...)
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// QueueInspector is the part of asynq.Inspector the health endpoint reads.
type QueueInspector interface {
	Queues() ([]string, error)
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Handler exposes HTTP endpoints for job observability.
type Handler struct {
	inspector QueueInspector
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints. A nil inspector
// reports empty queues, which is the state when Redis is not configured.
func NewHandler(inspector QueueInspector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

// QueueHealth is one queue's backlog.
type QueueHealth struct {
	Queue     string   `json:"queue"`
	Tasks     []string `json:"tasks"`
	Pending   int      `json:"pending"`
	Active    int      `json:"active"`
	Scheduled int      `json:"scheduled"`
	Retry     int      `json:"retry"`
	Archived  int      `json:"archived"`
	Failed    int      `json:"failed_today"`
	Paused    bool     `json:"paused"`
}

// Health is the payload of GET /jobs/health.
type Health struct {
	Status string        `json:"status"`
	Queues []QueueHealth `json:"queues"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	report, err := h.Report()
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		httpx.JSON(w, http.StatusServiceUnavailable, report)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

// Report reads every queue in Routes. A queue nothing was ever enqueued to
// reports zero; inspector errors mark the report degraded.
func (h *Handler) Report() (Health, error) {
	tasks := map[string][]string{}
	for task, queue := range Routes {
		tasks[queue] = append(tasks[queue], task)
	}
	names := make([]string, 0, len(tasks))
	for queue := range tasks {
		names = append(names, queue)
		sort.Strings(tasks[queue])
	}
	sort.Strings(names)

	report := Health{Status: "ok"}
	var errs []error
	known := map[string]bool{}
	if h.inspector != nil {
		existing, err := h.inspector.Queues()
		if err != nil {
			errs = append(errs, err)
		}
		for _, q := range existing {
			known[q] = true
		}
	}
	for _, queue := range names {
		q := QueueHealth{Queue: queue, Tasks: tasks[queue]}
		if known[queue] {
			info, err := h.inspector.GetQueueInfo(queue)
			if err != nil {
				errs = append(errs, fmt.Errorf("queue %s: %w", queue, err))
			} else {
				q.Pending, q.Active, q.Scheduled = info.Pending, info.Active, info.Scheduled
				q.Retry, q.Archived, q.Failed = info.Retry, info.Archived, info.Failed
				q.Paused = info.Paused
			}
		}
		report.Queues = append(report.Queues, q)
	}
	if len(errs) > 0 {
		report.Status = "degraded"
		return report, errors.Join(errs...)
	}
	return report, nil
}

// asynqLogger routes asynq's internal logging through slog.
type asynqLogger struct{ l *slog.Logger }

func (a asynqLogger) Debug(args ...any) { a.l.Debug(fmt.Sprint(args...), slog.String("component", "asynq")) }
func (a asynqLogger) Info(args ...any)  { a.l.Info(fmt.Sprint(args...), slog.String("component", "asynq")) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn(fmt.Sprint(args...), slog.String("component", "asynq")) }
func (a asynqLogger) Error(args ...any) { a.l.Error(fmt.Sprint(args...), slog.String("component", "asynq")) }
func (a asynqLogger) Fatal(args ...any) { a.l.Error(fmt.Sprint(args...), slog.String("component", "asynq")) }
