// Package ingest runs one synchronization: plan a window from the stored
// history, fetch it, reconcile the export and load the canonical series.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/gensync/internal/entsoe"
	"github.com/sells-group/gensync/internal/history"
	"github.com/sells-group/gensync/internal/model"
	"github.com/sells-group/gensync/internal/planner"
	"github.com/sells-group/gensync/internal/reconcile"
	"github.com/sells-group/gensync/internal/store"
	"github.com/sells-group/gensync/internal/timeseries"
)

var (
	// ErrNothingToFetch reports that the planner produced no window.
	ErrNothingToFetch = eris.New("ingest: nothing to fetch")
	// ErrNoData reports that the source returned no series for the window.
	ErrNoData = eris.New("ingest: source returned no data")
	// ErrNoRows reports that reconciliation left no data rows.
	ErrNoRows = eris.New("ingest: export has no data rows")
)

const fileStamp = "20060102_150405"

// RunLog records the outcome of each run.
type RunLog interface {
	StartRun(ctx context.Context, mode string) (*model.SyncRun, error)
	CompleteRun(ctx context.Context, run *model.SyncRun) error
	FailRun(ctx context.Context, run *model.SyncRun, cause error) error
}

// Store is what the engine needs from persistence.
type Store interface {
	store.Loader
	RunLog
}

// Options configures an Engine.
type Options struct {
	DataDir         string
	Area            string
	Zone            *time.Location
	RawSuffix       string
	CanonicalSuffix string
	// FilePrefix is inserted between the timestamp and RawSuffix in the
	// names of fetched exports.
	FilePrefix string
	Planner    planner.Options
	Reconcile  reconcile.Options
	// Now overrides the clock.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.DataDir == "" {
		o.DataDir = "data"
	}
	if o.Area == "" {
		o.Area = entsoe.AreaFrance
	}
	if o.Zone == nil {
		o.Zone = time.UTC
	}
	if o.RawSuffix == "" {
		o.RawSuffix = "_output.csv"
	}
	if o.CanonicalSuffix == "" {
		o.CanonicalSuffix = "_filtered.csv"
	}
	if o.FilePrefix == "" {
		o.FilePrefix = "_generation"
	}
	if o.Planner == (planner.Options{}) {
		o.Planner = planner.DefaultOptions()
	}
	if o.Reconcile.Zone == nil {
		o.Reconcile.Zone = o.Zone
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Engine wires the history, planner, source, reconciler and store together.
type Engine struct {
	source     entsoe.Source
	store      Store
	repo       *history.Repository
	index      *history.Index
	planner    *planner.Planner
	reconciler *reconcile.Reconciler
	opts       Options
	log        *zap.Logger
}

// NewEngine creates an Engine. source may be nil for engines that only
// reconcile and load existing exports.
func NewEngine(source entsoe.Source, st Store, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		source:     source,
		store:      st,
		repo:       history.NewRepository(opts.DataDir),
		index:      history.NewIndex(opts.Zone),
		planner:    planner.New(opts.Planner),
		reconciler: reconcile.New(opts.Reconcile),
		opts:       opts,
		log:        zap.L().With(zap.String("component", "ingest.engine")),
	}
}

// Repository returns the export file repository.
func (e *Engine) Repository() *history.Repository {
	return e.repo
}

// Options returns the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// KnownRanges lists the time span held by every raw export on disk.
func (e *Engine) KnownRanges(ctx context.Context) ([]history.KnownRange, error) {
	return e.repo.ListKnownRanges(ctx, e.index, e.opts.RawSuffix)
}

// RunResult describes one run.
type RunResult struct {
	Run           *model.SyncRun
	Window        timeseries.Window
	Skipped       bool
	Reason        string
	RawPath       string
	CanonicalPath string
	Load          *model.LoadResult
}

// Plan computes the next fetch window from every raw export on disk.
func (e *Engine) Plan(ctx context.Context, mode timeseries.Mode) (timeseries.Window, bool, error) {
	paths, err := e.repo.Paths(e.opts.RawSuffix)
	if err != nil {
		return timeseries.Window{}, false, err
	}
	ts, err := e.index.Load(ctx, paths)
	if err != nil {
		return timeseries.Window{}, false, err
	}
	w, ok := e.planner.Plan(mode, ts, e.opts.Now())
	e.log.Debug("planned window",
		zap.String("mode", string(mode)),
		zap.Int("files", len(paths)),
		zap.Int("timestamps", len(ts)),
		zap.Bool("ok", ok),
	)
	return w, ok, nil
}

// Fetch downloads w and writes it as a new raw export. It returns ErrNoData
// without writing anything when the source has no series.
func (e *Engine) Fetch(ctx context.Context, w timeseries.Window) (string, error) {
	if e.source == nil {
		return "", eris.New("ingest: no source configured")
	}
	if !w.Valid() {
		return "", eris.Errorf("ingest: invalid window %s", w)
	}

	series, err := e.source.GenerationPerUnit(ctx, e.opts.Area, w.Start, w.End)
	if err != nil {
		return "", eris.Wrapf(err, "ingest: fetch %s", w)
	}
	if len(series) == 0 {
		return "", ErrNoData
	}

	raw := entsoe.ToRawExport(series, e.opts.Zone)
	base := e.opts.Now().In(e.opts.Zone).Format(fileStamp) + e.opts.FilePrefix
	path, err := reservePath(e.opts.DataDir, base, e.opts.RawSuffix)
	if err != nil {
		return "", err
	}
	if err := writeAtomic(path, raw.WriteCSV); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	e.log.Info("raw export written",
		zap.String("path", path),
		zap.Int("series", len(series)),
		zap.Int("rows", len(raw.Rows)-2),
	)
	return path, nil
}

// CanonicalPath derives the canonical file name from a raw export path.
func (e *Engine) CanonicalPath(rawPath string) string {
	return strings.TrimSuffix(rawPath, filepath.Ext(rawPath)) + e.opts.CanonicalSuffix
}

// Reconcile normalizes the raw export at rawPath and writes the canonical
// file next to it. Nothing is written when no data row survives.
func (e *Engine) Reconcile(ctx context.Context, rawPath string) (string, *reconcile.Table, error) {
	f, err := os.Open(rawPath)
	if err != nil {
		return "", nil, eris.Wrapf(err, "ingest: open %s", rawPath)
	}
	defer f.Close() //nolint:errcheck

	raw, err := reconcile.ReadRawExport(ctx, f)
	if err != nil {
		return "", nil, eris.Wrapf(err, "ingest: parse %s", rawPath)
	}
	table, err := e.reconciler.Reconcile(raw)
	if err != nil {
		return "", nil, eris.Wrapf(err, "ingest: reconcile %s", rawPath)
	}
	if len(table.Rows) == 0 {
		return "", table, ErrNoRows
	}

	out := e.CanonicalPath(rawPath)
	if err := writeAtomic(out, func(w io.Writer) error { return reconcile.WriteCSV(w, table) }); err != nil {
		return "", nil, err
	}
	e.log.Info("canonical export written",
		zap.String("path", out),
		zap.Int("units", len(table.Entities)),
		zap.Int("rows", len(table.Rows)),
		zap.Int("skipped_rows", table.SkippedRows),
	)
	return out, table, nil
}

// Load reads a canonical file and loads it.
func (e *Engine) Load(ctx context.Context, canonicalPath string) (*model.LoadResult, error) {
	f, err := os.Open(canonicalPath)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open %s", canonicalPath)
	}
	defer f.Close() //nolint:errcheck

	table, err := reconcile.ReadCanonical(ctx, f, e.opts.Zone)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: parse %s", canonicalPath)
	}
	return e.LoadTable(ctx, table)
}

// LoadTable loads the present cells of table.
func (e *Engine) LoadTable(ctx context.Context, table *reconcile.Table) (*model.LoadResult, error) {
	readings, empty := table.Readings()
	res, err := store.Load(ctx, e.store, readings, empty)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: load")
	}
	e.log.Info("readings loaded",
		zap.Int("inserted", res.Inserted),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("empty", res.Empty),
		zap.Int("units", res.Units),
	)
	return res, nil
}

// Process reconciles and loads an existing raw export.
func (e *Engine) Process(ctx context.Context, rawPath string) (string, *model.LoadResult, error) {
	canonical, table, err := e.Reconcile(ctx, rawPath)
	if err != nil {
		return "", nil, err
	}
	res, err := e.LoadTable(ctx, table)
	if err != nil {
		return canonical, nil, err
	}
	return canonical, res, nil
}

// Run performs plan, fetch, reconcile and load, recording the run in the
// sync log. A run with no window to fetch returns a skipped result and
// touches neither the data directory nor the store.
func (e *Engine) Run(ctx context.Context, mode timeseries.Mode) (*RunResult, error) {
	log := e.log.With(zap.String("mode", string(mode)))

	w, ok, err := e.Plan(ctx, mode)
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Info("run skipped", zap.String("reason", ErrNothingToFetch.Error()))
		return &RunResult{Skipped: true, Reason: ErrNothingToFetch.Error()}, nil
	}

	run, err := e.store.StartRun(ctx, string(mode))
	if err != nil {
		return nil, eris.Wrap(err, "ingest: start run")
	}
	start, end := w.Start.UTC(), w.End.UTC()
	run.WindowStart, run.WindowEnd = &start, &end
	result := &RunResult{Run: run, Window: w}
	log = log.With(zap.String("run_id", run.ID), zap.Stringer("window", w))
	log.Info("starting run")

	began := time.Now()
	if err := e.execute(ctx, result); err != nil {
		if errors.Is(err, ErrNoData) || errors.Is(err, ErrNoRows) {
			result.Skipped = true
			result.Reason = err.Error()
			run.Status = model.SyncStatusSkipped
			log.Info("run skipped", zap.String("reason", result.Reason))
			if cerr := e.store.CompleteRun(ctx, run); cerr != nil {
				log.Error("failed to record skipped run", zap.Error(cerr))
			}
			return result, nil
		}
		log.Error("run failed", zap.Error(err), zap.Duration("elapsed", time.Since(began)))
		if ferr := e.store.FailRun(ctx, run, err); ferr != nil {
			log.Error("failed to record run failure", zap.Error(ferr))
		}
		return result, err
	}

	if err := e.store.CompleteRun(ctx, run); err != nil {
		log.Error("failed to record run completion", zap.Error(err))
	}
	log.Info("run complete",
		zap.Int("inserted", run.Inserted),
		zap.Int("duplicates", run.Duplicates),
		zap.Duration("elapsed", time.Since(began)),
	)
	return result, nil
}

func (e *Engine) execute(ctx context.Context, result *RunResult) error {
	run := result.Run

	rawPath, err := e.Fetch(ctx, result.Window)
	if err != nil {
		return err
	}
	result.RawPath = rawPath
	run.RawPath = rawPath

	canonical, table, err := e.Reconcile(ctx, rawPath)
	if err != nil {
		return err
	}
	result.CanonicalPath = canonical
	run.CanonicalPath = canonical

	res, err := e.LoadTable(ctx, table)
	if err != nil {
		return err
	}
	result.Load = res
	run.Inserted = res.Inserted
	run.Duplicates = res.Duplicates
	return nil
}

// reservePath creates an empty file at the first free name among
// <base><suffix>, <base>_2<suffix>, <base>_3<suffix>... so exports written
// within the same second never replace each other.
func reservePath(dir, base, suffix string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "ingest: create dir %s", dir)
	}
	for n := 1; ; n++ {
		name := base + suffix
		if n > 1 {
			name = fmt.Sprintf("%s_%d%s", base, n, suffix)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", eris.Wrapf(err, "ingest: reserve %s", path)
		}
		return path, eris.Wrapf(f.Close(), "ingest: reserve %s", path)
	}
}

// writeAtomic writes path through a temporary file in the same directory so
// a crash never leaves a partial export behind.
func writeAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "ingest: create dir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return eris.Wrapf(err, "ingest: create temp file in %s", dir)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return eris.Wrapf(err, "ingest: write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "ingest: close %s", path)
	}
	return eris.Wrapf(os.Rename(tmp.Name(), path), "ingest: rename to %s", path)
}
