package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/ledgercore/internal/audit"
	audithttp "github.com/odyssey-erp/ledgercore/internal/audit/http"
	"github.com/odyssey-erp/ledgercore/internal/documents"
	"github.com/odyssey-erp/ledgercore/internal/fx"
	"github.com/odyssey-erp/ledgercore/internal/integration"
	"github.com/odyssey-erp/ledgercore/internal/inventory"
	"github.com/odyssey-erp/ledgercore/internal/ledger"
	"github.com/odyssey-erp/ledgercore/internal/loans"
	"github.com/odyssey-erp/ledgercore/internal/notifications"
	"github.com/odyssey-erp/ledgercore/internal/observability"
	"github.com/odyssey-erp/ledgercore/internal/platform/cache"
	"github.com/odyssey-erp/ledgercore/internal/quotations"
	"github.com/odyssey-erp/ledgercore/internal/schedule"
	"github.com/odyssey-erp/ledgercore/internal/shared"
	"github.com/odyssey-erp/ledgercore/internal/tax"
)

// Dependencies are the process-level resources services are built from.
// Redis and Queue are optional: without Redis period close runs unlocked,
// without a queue notifications go straight to the inbox.
type Dependencies struct {
	Logger  *slog.Logger
	Config  *Config
	Pool    *pgxpool.Pool
	Redis   redis.UniversalClient
	Queue   integration.Enqueuer
	Metrics *observability.Metrics
}

// Services holds every domain service wired against PostgreSQL.
type Services struct {
	Recorder   *audit.Recorder
	Journal    *ledger.Journal
	Scheduler  *schedule.Scheduler
	Rates      *fx.Service
	Ledger     *ledger.Service
	Inventory  *inventory.Service
	Documents  *documents.Service
	Loans      *loans.Service
	Tax        *tax.Service
	Quotations *quotations.Service
	Audit      *audit.Service
	Inbox      *notifications.Inbox
	Due        *schedule.Repository
	Keys       *shared.IdempotencyStore
}

// NewServices wires the domain services.
func NewServices(deps Dependencies) *Services {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = &Config{}
	}

	recorder := audit.NewRecorder(logger)
	if deps.Metrics != nil {
		recorder.WithObserver(deps.Metrics)
	}
	journal := ledger.NewJournal(recorder, logger)
	scheduler := schedule.NewScheduler()
	rates := fx.NewService(fx.NewRepository(deps.Pool), fx.StubProvider{}, logger)
	inbox := notifications.NewInbox(deps.Pool)
	keys := shared.NewIdempotencyStore(deps.Pool)

	stock := inventory.NewService(inventory.NewRepository(deps.Pool), recorder, inventory.ServiceConfig{
		AllowNegativeStock: cfg.AllowNegativeStock,
	})
	docs := documents.NewService(documents.NewRepository(deps.Pool), journal, stock, scheduler, recorder, logger,
		documents.Collaborators{
			Validator:   integration.NewAuthorityStub(logger),
			Notifier:    integration.NewQueueNotifier(deps.Queue, inbox, logger),
			Idempotency: keys,
		})

	var locker tax.Locker
	if deps.Redis != nil {
		locker = cache.NewLocker(deps.Redis, cfg.CloseLockTTL, cfg.CloseLockWait)
	}

	return &Services{
		Recorder:   recorder,
		Journal:    journal,
		Scheduler:  scheduler,
		Rates:      rates,
		Ledger:     ledger.NewService(ledger.NewRepository(deps.Pool), journal, rates),
		Inventory:  stock,
		Documents:  docs,
		Loans:      loans.NewService(loans.NewRepository(deps.Pool), journal, scheduler, recorder),
		Tax:        tax.NewService(tax.NewRepository(deps.Pool), docs, journal, recorder, locker, logger, tax.Options{ExcludeShieldCredit: cfg.ExcludeShieldCredit}),
		Quotations: quotations.NewService(quotations.NewRepository(deps.Pool), recorder),
		Audit:      audit.NewService(audit.NewRepository(deps.Pool)),
		Inbox:      inbox,
		Due:        schedule.NewRepository(deps.Pool),
		Keys:       keys,
	}
}

// Handlers builds the HTTP adapters for every service.
func (s *Services) Handlers(logger *slog.Logger) RouterParams {
	return RouterParams{
		Logger:               logger,
		LedgerHandler:        ledger.NewHandler(logger, s.Ledger),
		InventoryHandler:     inventory.NewHandler(logger, s.Inventory),
		DocumentsHandler:     documents.NewHandler(logger, s.Documents),
		LoansHandler:         loans.NewHandler(logger, s.Loans),
		TaxHandler:           tax.NewHandler(logger, s.Tax),
		QuotationsHandler:    quotations.NewHandler(logger, s.Quotations),
		AuditHandler:         audithttp.NewHandler(logger, s.Audit),
		NotificationsHandler: notifications.NewHandler(s.Inbox, logger),
	}
}
