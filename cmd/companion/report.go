package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ent0n29/companion/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate caregiver reports",
}

var reportDailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Generate structured daily reports",
	Long: `Generate the structured daily report for every user who talked on the
given day, or for a single user with --user. The day defaults to yesterday in
REPORT_TIMEZONE. Existing reports for the same day are replaced.

Examples:
  companion report daily
  companion report daily --date 2026-03-01 --concurrency 8
  companion report daily --date 2026-03-01 --user grandma`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		res, logger, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck
		defer func() { _ = res.Cleanup() }()

		date, _ := cmd.Flags().GetString("date")
		userID, _ := cmd.Flags().GetString("user")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if concurrency <= 0 {
			concurrency = res.Config.ReportBatchConcurrency
		}

		day := res.Daily.Yesterday()
		if date != "" {
			if day, err = res.Daily.ParseDay(date); err != nil {
				return err
			}
		}

		if userID != "" {
			rep, found, err := res.Daily.Generate(ctx, userID, day)
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintf(cmd.OutOrStdout(), "no conversation for %s on %s\n", userID, day.Format(report.DateLayout))
				return nil
			}
			return printJSON(cmd, rep)
		}

		start := time.Now()
		result, err := res.Daily.GenerateForAll(ctx, day, concurrency)
		if err != nil {
			return err
		}
		logger.Info("daily report batch finished",
			zap.String("date", result.Date),
			zap.Int("generated", len(result.Generated)),
			zap.Int("skipped", len(result.Skipped)),
			zap.Int("failed", len(result.Failed)),
			zap.Duration("elapsed", time.Since(start)),
		)
		if err := printJSON(cmd, batchSummary(result)); err != nil {
			return err
		}
		if len(result.Failed) > 0 {
			return fmt.Errorf("%d daily reports failed", len(result.Failed))
		}
		return nil
	},
}

var reportRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate a live report for one user if one is due",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		if userID == "" {
			return errors.New("--user is required")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		res, logger, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck
		defer func() { _ = res.Cleanup() }()

		rep, created, err := res.Scheduler.MaybeGenerate(ctx, userID)
		if err != nil {
			return err
		}
		if !created {
			fmt.Fprintf(cmd.OutOrStdout(), "no live report due for %s (policy %s)\n", userID, res.Scheduler.Policy().Name())
			return nil
		}
		return printJSON(cmd, rep)
	},
}

type batchOutput struct {
	Date      string            `json:"date"`
	Generated []string          `json:"generated"`
	Skipped   []string          `json:"skipped"`
	Failed    map[string]string `json:"failed,omitempty"`
}

func batchSummary(r report.BatchResult) batchOutput {
	out := batchOutput{Date: r.Date, Generated: r.Generated, Skipped: r.Skipped}
	sort.Strings(out.Generated)
	sort.Strings(out.Skipped)
	if len(r.Failed) > 0 {
		out.Failed = make(map[string]string, len(r.Failed))
		for user, err := range r.Failed {
			out.Failed[user] = err.Error()
		}
	}
	return out
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func init() {
	reportDailyCmd.Flags().String("date", "", "Report date as YYYY-MM-DD (default: yesterday)")
	reportDailyCmd.Flags().String("user", "", "Only generate the report for this user")
	reportDailyCmd.Flags().Int("concurrency", 0, "Reports generated in parallel (default: REPORT_BATCH_CONCURRENCY)")
	reportRunCmd.Flags().String("user", "", "User to generate the live report for (required)")

	reportCmd.AddCommand(reportDailyCmd)
	reportCmd.AddCommand(reportRunCmd)
}
