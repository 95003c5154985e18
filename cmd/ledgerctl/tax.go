package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/ledgercore/internal/app"
	"github.com/odyssey-erp/ledgercore/internal/platform/cache"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

var taxCmd = &cobra.Command{
	Use:   "tax",
	Short: "IGV period reconciliation",
}

var taxSummaryCmd = &cobra.Command{
	Use:     "summary",
	Short:   "Print the IGV summary of a period",
	Example: `  ledgerctl tax summary --company 1 --period 2024-03`,
	RunE:    runTaxSummary,
}

var taxCloseCmd = &cobra.Command{
	Use:   "close",
	Short: "Close a period and store its carry-forward credit",
	Long: `Computes the period summary and stores it as the period's closure. The
previous period's closure feeds the carry-in. Runs under the period-close
lock when Redis is reachable.`,
	Example: `  ledgerctl tax close --company 1 --user 1 --period 2024-03`,
	RunE:    runTaxClose,
}

func init() {
	rootCmd.AddCommand(taxCmd)
	taxCmd.AddCommand(taxSummaryCmd, taxCloseCmd)
	for _, c := range []*cobra.Command{taxSummaryCmd, taxCloseCmd} {
		c.Flags().Int64("company", 0, "Company id")
		c.Flags().String("period", "", "Period as YYYY-MM")
		_ = c.MarkFlagRequired("company")
		_ = c.MarkFlagRequired("period")
	}
	taxCloseCmd.Flags().Int64("user", 0, "Acting user id")
	_ = taxCloseCmd.MarkFlagRequired("user")
}

func periodFlags(cmd *cobra.Command) (int64, shared.Period, error) {
	companyID, _ := cmd.Flags().GetInt64("company")
	raw, _ := cmd.Flags().GetString("period")
	period, err := shared.ParsePeriod(raw)
	if err != nil {
		return 0, shared.Period{}, fmt.Errorf("invalid period %q: %w", raw, err)
	}
	return companyID, period, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runTaxSummary(cmd *cobra.Command, _ []string) error {
	companyID, period, err := periodFlags(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	e, err := connect(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	services := app.NewServices(app.Dependencies{Logger: e.logger, Config: e.cfg, Pool: e.pool})
	summary, err := services.Tax.Summary(ctx, companyID, period)
	if err != nil {
		return err
	}
	return printJSON(cmd, summary)
}

func runTaxClose(cmd *cobra.Command, _ []string) error {
	companyID, period, err := periodFlags(cmd)
	if err != nil {
		return err
	}
	userID, _ := cmd.Flags().GetInt64("user")
	ctx := cmd.Context()
	e, err := connect(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	deps := app.Dependencies{Logger: e.logger, Config: e.cfg, Pool: e.pool}
	redisClient, err := cache.New(ctx, cache.Options{Addr: e.cfg.RedisAddr, Password: e.cfg.RedisPassword, DB: e.cfg.RedisDB})
	if err != nil {
		e.logger.Warn("redis unavailable, closing without lock")
	} else {
		defer redisClient.Close()
		deps.Redis = redisClient
	}

	services := app.NewServices(deps)
	closure, err := services.Tax.Close(ctx, shared.Actor{UserID: userID, CompanyID: companyID}, period)
	if err != nil {
		return err
	}
	return printJSON(cmd, closure)
}
