package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"invoicing-engine/internal/core"
	"invoicing-engine/internal/db"
	"invoicing-engine/internal/logger"
)

var (
	runDate   string
	runLimit  int
	runDryRun bool
	runIssue  bool
)

var recurringCmd = &cobra.Command{
	Use:   "recurring",
	Short: "Recurring schedule operations",
}

var recurringRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Fire all due recurring schedules",
	Long: `Scans every active schedule whose next issuance date has passed and
materializes a draft document from each. Drafts stay drafts unless --issue
is given, which runs the normal issue step on each one afterwards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := logger.WithComponent("recurring")

		now := time.Now()
		if runDate != "" {
			var err error
			now, err = time.Parse("2006-01-02", runDate)
			if err != nil {
				return fmt.Errorf("invalid --date %q: %w", runDate, err)
			}
		}

		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		svc := core.NewRecurringService(pool, nil, nil, log)
		report, err := svc.RunDue(ctx, now, runLimit, runDryRun)
		if err != nil {
			return err
		}
		log.Info().
			Int("due", report.Due).
			Int("fired", report.Fired).
			Int("failed", report.Failed).
			Int("skipped", report.Skipped).
			Msg("recurring run finished")
		if runIssue {
			docs := core.NewDocumentService(pool)
			for _, d := range report.Drafts {
				issued, err := docs.Issue(ctx, d.CompanyID, d.DocumentID)
				if err != nil {
					log.Error().Err(err).Int("document_id", d.DocumentID).Msg("issue failed")
					report.Failed++
					continue
				}
				log.Info().Int("document_id", issued.ID).Str("number", issued.Number).Msg("issued")
			}
		}
		if report.Failed > 0 {
			return fmt.Errorf("%d schedule(s) failed", report.Failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recurringCmd)
	recurringCmd.AddCommand(recurringRunCmd)

	recurringRunCmd.Flags().StringVar(&runDate, "date", "", "Run as of this date (YYYY-MM-DD, default now)")
	recurringRunCmd.Flags().IntVar(&runLimit, "limit", 0, "Maximum schedules to process (0 = all)")
	recurringRunCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "List due schedules without firing")
	recurringRunCmd.Flags().BoolVar(&runIssue, "issue", false, "Issue each materialized draft after firing")
}
