package planner

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/gensync/internal/timeseries"
)

const (
	// appendStep separates the next window from the latest known reading.
	appendStep = time.Minute
	// gapMargin keeps a backfill window strictly inside the gap.
	gapMargin = time.Second
)

// Options bounds the windows produced by a Planner.
type Options struct {
	// Threshold is the largest spacing between readings that is not a gap.
	Threshold time.Duration
	// MaxSpan caps the width of any window.
	MaxSpan time.Duration
	// DefaultLookback is how far back an append run starts with no history.
	DefaultLookback time.Duration
}

// DefaultOptions returns the planning defaults: 3h threshold, 240h span and
// 2h lookback.
func DefaultOptions() Options {
	return Options{
		Threshold:       3 * time.Hour,
		MaxSpan:         240 * time.Hour,
		DefaultLookback: 2 * time.Hour,
	}
}

// Validate checks that every bound is positive.
func (o Options) Validate() error {
	if o.Threshold <= 0 {
		return eris.New("planner: threshold must be positive")
	}
	if o.MaxSpan <= 0 {
		return eris.New("planner: max span must be positive")
	}
	if o.DefaultLookback <= 0 {
		return eris.New("planner: default lookback must be positive")
	}
	return nil
}

// Planner computes fetch windows. It holds no state between calls.
type Planner struct {
	opts Options
}

// New returns a Planner with opts.
func New(opts Options) *Planner {
	return &Planner{opts: opts}
}

// Options returns the planner's bounds.
func (p *Planner) Options() Options {
	return p.opts
}

// Plan returns the window to fetch for mode given the known timestamps ts
// (sorted ascending) and the current time. The boolean is false when there is
// nothing to fetch.
func (p *Planner) Plan(mode timeseries.Mode, ts []time.Time, now time.Time) (timeseries.Window, bool) {
	switch mode {
	case timeseries.ModeBackfill:
		return p.planBackfill(ts, now)
	default:
		return p.planAppend(ts, now)
	}
}

func (p *Planner) planAppend(ts []time.Time, now time.Time) (timeseries.Window, bool) {
	start := now.Add(-p.opts.DefaultLookback)
	if len(ts) > 0 {
		start = ts[len(ts)-1].Add(appendStep)
	}
	end := now
	if !start.Before(end) {
		return timeseries.Window{}, false
	}
	if end.Sub(start) > p.opts.MaxSpan {
		end = start.Add(p.opts.MaxSpan)
	}
	return timeseries.Window{Start: start, End: end, Mode: timeseries.ModeAppend}, true
}

func (p *Planner) planBackfill(ts []time.Time, now time.Time) (timeseries.Window, bool) {
	if len(ts) == 0 {
		return timeseries.Window{Start: now.Add(-p.opts.MaxSpan), End: now, Mode: timeseries.ModeBackfill}, true
	}

	gap, ok := FindFirstGap(ts, p.opts.Threshold)
	if !ok {
		return timeseries.Window{}, false
	}

	start := gap.Start.Add(gapMargin)
	end := gap.End.Add(-gapMargin)
	if end.Sub(start) > p.opts.MaxSpan {
		end = start.Add(p.opts.MaxSpan)
	}
	if !start.Before(end) {
		return timeseries.Window{}, false
	}
	return timeseries.Window{Start: start, End: end, Mode: timeseries.ModeBackfill}, true
}
