package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/gensync/internal/ingest"
	"github.com/sells-group/gensync/internal/model"
)

const defaultDebounce = 2 * time.Second

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Reconcile and load raw exports as they are written",
	Long:  "Watches the data directory and processes every new raw export once its writes settle. Runs until interrupted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		eng, err := newEngine(st, false)
		if err != nil {
			return err
		}

		debounce, _ := cmd.Flags().GetDuration("debounce")
		w, err := ingest.NewWatcher(eng, debounce)
		if err != nil {
			return err
		}

		failures := 0
		w.OnProcessed = func(_ string, _ *model.LoadResult, err error) {
			if err != nil {
				failures++
			}
		}

		err = w.Run(ctx)
		zap.L().Info("watch stopped", zap.Int("failures", failures))
		return err
	},
}

func init() {
	watchCmd.Flags().Duration("debounce", defaultDebounce, "quiet period before a written file is processed")
	rootCmd.AddCommand(watchCmd)
}
