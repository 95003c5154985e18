package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/ledgercore/internal/app"
	"github.com/odyssey-erp/ledgercore/internal/platform/db"
)

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Operator commands for the ledger service",
	Long: `ledgerctl runs maintenance tasks against the ledger database and job queue:
schema migrations, ledger integrity scans, IGV period summaries and closes,
and manual job triggers.

Configuration is read from the same environment variables (and .env file)
as the server.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// env bundles what every database-backed command needs.
type env struct {
	cfg    *app.Config
	logger *slog.Logger
	pool   *pgxpool.Pool
}

func connect(ctx context.Context) (*env, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := app.NewLogger(cfg)
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, pool: pool}, nil
}

func (e *env) Close() {
	e.pool.Close()
}
