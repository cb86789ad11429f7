package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/gensync/internal/config"
	"github.com/sells-group/gensync/internal/report"
	"github.com/sells-group/gensync/internal/timeseries"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Build the fleet report and send it",
	Long:  "Summarizes the latest stored production (load factor, low units, units without data, failed runs) and delivers it to the configured channels.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "report"))

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		zone, err := timeseries.LoadZone(cfg.Sync.Zone)
		if err != nil {
			return err
		}

		watch, _ := cmd.Flags().GetString("watch-unit")
		if watch == "" {
			watch = cfg.Report.WatchUnit
		}

		r, err := report.Build(ctx, st, report.Options{
			LowRatio:      cfg.Report.LowOutputRatio,
			WatchUnit:     watch,
			MissingWindow: time.Duration(cfg.Report.MissingWindowMins) * time.Minute,
		})
		if err != nil {
			return eris.Wrap(err, "report")
		}
		text := report.Render(r, zone)

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		notifiers := notifiersFrom(cfg.Notify)
		if dryRun || len(notifiers) == 0 {
			if !dryRun {
				log.Warn("no notification channel configured")
			}
			fmt.Println(text)
			return nil
		}

		sent, err := report.Dispatch(ctx, notifiers, r, text)
		log.Info("report dispatched", zap.Int("sent", sent), zap.Int("channels", len(notifiers)))
		if err != nil && sent == 0 {
			return eris.Wrap(err, "report: delivery")
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().Bool("dry-run", false, "print the report instead of sending it")
	reportCmd.Flags().String("watch-unit", "", "unit reported on its own line (default report.watch_unit)")
	rootCmd.AddCommand(reportCmd)
}

// notifiersFrom returns a notifier for every channel with credentials.
func notifiersFrom(c config.NotifyConfig) []report.Notifier {
	var out []report.Notifier
	if c.TelegramToken != "" && c.TelegramChatID != "" {
		out = append(out, report.NewTelegramNotifier(c.TelegramBaseURL, c.TelegramToken, c.TelegramChatID))
	}
	if c.WebhookURL != "" {
		out = append(out, report.NewWebhookNotifier(c.WebhookURL))
	}
	return out
}
