package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/gensync/internal/history"
	"github.com/sells-group/gensync/internal/ingest"
	"github.com/sells-group/gensync/internal/model"
	"github.com/sells-group/gensync/internal/timeseries"
)

// -- plan --

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the next fetch window",
	Long:  "Reads the timestamps of every raw export in the data directory and prints the window the next run would fetch.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		modeStr, _ := cmd.Flags().GetString("mode")
		mode, err := modeFlag(modeStr)
		if err != nil {
			return err
		}

		opts, err := engineOptions(cfg)
		if err != nil {
			return err
		}
		eng := ingest.NewEngine(nil, nil, opts)

		if ranges, _ := cmd.Flags().GetBool("ranges"); ranges {
			known, err := eng.KnownRanges(ctx)
			if err != nil {
				return eris.Wrap(err, "plan: known ranges")
			}
			if len(known) == 0 {
				fmt.Fprintln(os.Stderr, "No raw exports found.")
			} else {
				formatKnownRanges(os.Stdout, known, opts.Zone)
			}
		}

		w, ok, err := eng.Plan(ctx, mode)
		if err != nil {
			return eris.Wrap(err, "plan")
		}
		if !ok {
			fmt.Println("Nothing to fetch.")
			return nil
		}
		fmt.Println(w.In(opts.Zone).String())
		return nil
	},
}

// -- fetch --

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch the next window into a raw export",
	Long:  "Plans the next window (or uses --start/--end) and writes the fetched series as a raw export without reconciling it.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "fetch"))

		eng, err := newEngine(nil, true)
		if err != nil {
			return err
		}

		w, ok, err := fetchWindow(cmd, eng)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Nothing to fetch.")
			return nil
		}

		log.Info("fetching", zap.Stringer("window", w))
		path, err := eng.Fetch(ctx, w)
		if errors.Is(err, ingest.ErrNoData) {
			fmt.Println("No data for window.")
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "fetch")
		}
		fmt.Println(path)
		return nil
	},
}

// fetchWindow resolves the explicit --start/--end window or plans one.
func fetchWindow(cmd *cobra.Command, eng *ingest.Engine) (timeseries.Window, bool, error) {
	startStr, _ := cmd.Flags().GetString("start")
	endStr, _ := cmd.Flags().GetString("end")
	if startStr != "" || endStr != "" {
		w, err := parseWindow(startStr, endStr, eng.Options().Zone)
		return w, err == nil, err
	}

	modeStr, _ := cmd.Flags().GetString("mode")
	mode, err := modeFlag(modeStr)
	if err != nil {
		return timeseries.Window{}, false, err
	}
	return eng.Plan(cmd.Context(), mode)
}

// parseWindow parses an explicit window. Both bounds are required.
func parseWindow(start, end string, zone *time.Location) (timeseries.Window, error) {
	if start == "" || end == "" {
		return timeseries.Window{}, eris.New("both --start and --end are required")
	}
	s, err := timeseries.ParseTimestamp(start, zone)
	if err != nil {
		return timeseries.Window{}, eris.Wrap(err, "parse --start")
	}
	e, err := timeseries.ParseTimestamp(end, zone)
	if err != nil {
		return timeseries.Window{}, eris.Wrap(err, "parse --end")
	}
	w := timeseries.Window{Start: s, End: e, Mode: timeseries.ModeBackfill}
	if !w.Valid() {
		return timeseries.Window{}, eris.Errorf("invalid window %s", w)
	}
	return w, nil
}

// -- reconcile --

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [raw-export]",
	Short: "Reconcile a raw export into a canonical file",
	Long:  "Reconciles the given raw export, or the most recent one in the data directory, and writes the canonical file next to it.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(nil, false)
		if err != nil {
			return err
		}
		raw, err := pathArg(args, eng.Repository(), eng.Options().RawSuffix)
		if err != nil {
			return err
		}

		path, table, err := eng.Reconcile(cmd.Context(), raw)
		if err != nil {
			return eris.Wrap(err, "reconcile")
		}
		fmt.Printf("%s: %d rows, %d units, %d skipped\n", path, len(table.Rows), len(table.Entities), table.SkippedRows)
		return nil
	},
}

// -- load --

var loadCmd = &cobra.Command{
	Use:   "load [canonical-file]",
	Short: "Load a canonical file into the store",
	Long:  "Inserts the readings of the given canonical file, or the most recent one, keeping readings already stored.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		eng, err := newEngine(st, false)
		if err != nil {
			return err
		}
		canonical, err := pathArg(args, eng.Repository(), eng.Options().CanonicalSuffix)
		if err != nil {
			return err
		}

		res, err := eng.Load(ctx, canonical)
		if err != nil {
			return eris.Wrap(err, "load")
		}
		fmt.Println(formatLoadResult(res))
		return nil
	},
}

// -- run --

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Plan, fetch, reconcile and load one window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "run"))

		modeStr, _ := cmd.Flags().GetString("mode")
		mode, err := modeFlag(modeStr)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		eng, err := newEngine(st, true)
		if err != nil {
			return err
		}

		res, err := eng.Run(ctx, mode)
		if err != nil {
			return eris.Wrap(err, "run")
		}

		if res.Skipped {
			log.Info("run skipped", zap.String("reason", res.Reason))
			fmt.Printf("Skipped: %s\n", res.Reason)
			return nil
		}
		log.Info("run complete",
			zap.Stringer("window", res.Window),
			zap.String("canonical", res.CanonicalPath),
			zap.Int("inserted", res.Load.Inserted),
			zap.Int("duplicates", res.Load.Duplicates),
		)
		fmt.Printf("%s\n%s\n", res.Window.In(eng.Options().Zone), formatLoadResult(res.Load))
		return nil
	},
}

func init() {
	planCmd.Flags().String("mode", "", "append or backfill (default sync.mode)")
	planCmd.Flags().Bool("ranges", false, "also list the span of every raw export")

	fetchCmd.Flags().String("mode", "", "append or backfill (default sync.mode)")
	fetchCmd.Flags().String("start", "", "explicit window start (RFC 3339, or local time in sync.zone)")
	fetchCmd.Flags().String("end", "", "explicit window end")

	runCmd.Flags().String("mode", "", "append or backfill (default sync.mode)")

	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(runCmd)
}

// pathArg returns the explicit path argument or the most recent file with
// suffix.
func pathArg(args []string, repo *history.Repository, suffix string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	f, err := repo.MostRecent(suffix)
	if err != nil {
		return "", err
	}
	return f.Path, nil
}

func formatLoadResult(r *model.LoadResult) string {
	if r == nil {
		return "inserted 0, duplicates 0"
	}
	return fmt.Sprintf("inserted %d, duplicates %d, empty %d, units %d", r.Inserted, r.Duplicates, r.Empty, r.Units)
}

func formatKnownRanges(out io.Writer, ranges []history.KnownRange, zone *time.Location) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FIRST\tLAST\tROWS\tFILE")
	_, _ = fmt.Fprintln(w, "-----\t----\t----\t----")
	for _, r := range ranges {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			r.First.In(zone).Format("2006-01-02 15:04"),
			r.Last.In(zone).Format("2006-01-02 15:04"),
			r.Count,
			r.Path,
		)
	}
	_ = w.Flush()
}
