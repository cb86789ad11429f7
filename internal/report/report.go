// Package report summarizes the state of the fleet from the stored
// production and delivers the summary to notification channels.
package report

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/gensync/internal/model"
	"github.com/sells-group/gensync/internal/store"
)

// Source abstracts the store queries needed to build a report.
type Source interface {
	UnitStatuses(ctx context.Context, lowRatio float64) ([]model.UnitStatus, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.SyncRun, error)
}

// Options configures report building.
type Options struct {
	// LowRatio is the fraction of nominal capacity under which a unit is
	// reported as low.
	LowRatio float64
	// WatchUnit is reported on its own line.
	WatchUnit string
	// MissingWindow is how far behind the latest reading a unit may be
	// before it is reported as missing.
	MissingWindow time.Duration
	// RunLookback is how many recent sync runs are inspected.
	RunLookback int
	Now         func() time.Time
}

func (o Options) withDefaults() Options {
	if o.LowRatio <= 0 {
		o.LowRatio = 0.2
	}
	if o.MissingWindow <= 0 {
		o.MissingWindow = 2 * time.Minute
	}
	if o.RunLookback <= 0 {
		o.RunLookback = 20
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// LowUnit is a unit producing under the low ratio at the latest timestamp.
type LowUnit struct {
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	NominalMW float64 `json:"nominal_mw"`
	// DaysSinceAbove is measured from the latest fleet timestamp; it is nil
	// when the unit never reached the ratio.
	DaysSinceAbove *float64 `json:"days_since_above,omitempty"`
}

// MissingUnit is a unit without a reading close to the latest timestamp.
type MissingUnit struct {
	Name   string     `json:"name"`
	LastAt *time.Time `json:"last_at,omitempty"`
}

// AgeGroup is the mean age of the units of a group with a known
// installation date.
type AgeGroup struct {
	Count   int     `json:"count"`
	MeanAge float64 `json:"mean_age_years"`
}

// Report is a point-in-time view of the fleet.
type Report struct {
	LatestAt    *time.Time     `json:"latest_at,omitempty"`
	TotalMW     float64        `json:"total_mw"`
	NominalMW   float64        `json:"nominal_mw"`
	LoadFactor  float64        `json:"load_factor_pct"`
	WatchUnit   string         `json:"watch_unit,omitempty"`
	WatchValue  *float64       `json:"watch_value,omitempty"`
	LowRatio    float64        `json:"low_ratio"`
	Low         []LowUnit      `json:"low"`
	Missing     []MissingUnit  `json:"missing"`
	LowAge      AgeGroup       `json:"low_age"`
	OtherAge    AgeGroup       `json:"other_age"`
	Units       int            `json:"units"`
	FailedRuns  int            `json:"failed_runs"`
	LastRun     *model.SyncRun `json:"last_run,omitempty"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// Build queries src and computes the report.
func Build(ctx context.Context, src Source, opts Options) (*Report, error) {
	opts = opts.withDefaults()

	var statuses []model.UnitStatus
	var runs []model.SyncRun
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		statuses, err = src.UnitStatuses(gctx, opts.LowRatio)
		return eris.Wrap(err, "report: unit statuses")
	})
	g.Go(func() error {
		var err error
		runs, err = src.ListRuns(gctx, store.RunFilter{Limit: opts.RunLookback})
		return eris.Wrap(err, "report: list runs")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r := Compute(statuses, opts)
	for i := range runs {
		if runs[i].Status == model.SyncStatusFailed {
			r.FailedRuns++
		}
	}
	if len(runs) > 0 {
		last := runs[0]
		r.LastRun = &last
	}
	return r, nil
}

// Compute derives the report from unit statuses alone.
func Compute(statuses []model.UnitStatus, opts Options) *Report {
	opts = opts.withDefaults()
	now := opts.Now()
	r := &Report{
		WatchUnit:   opts.WatchUnit,
		LowRatio:    opts.LowRatio,
		Units:       len(statuses),
		GeneratedAt: now.UTC(),
	}

	for _, st := range statuses {
		r.NominalMW += st.Unit.NominalMW
		if st.LatestAt != nil && (r.LatestAt == nil || st.LatestAt.After(*r.LatestAt)) {
			latest := *st.LatestAt
			r.LatestAt = &latest
		}
	}

	lowNames := make(map[string]bool)
	for _, st := range statuses {
		if opts.WatchUnit != "" && st.Unit.Name == opts.WatchUnit && st.LatestAt != nil {
			v := st.LatestValue
			r.WatchValue = &v
		}
		if r.LatestAt == nil {
			r.Missing = append(r.Missing, MissingUnit{Name: st.Unit.Name})
			continue
		}

		if st.LatestAt == nil || st.LatestAt.Before(r.LatestAt.Add(-opts.MissingWindow)) {
			r.Missing = append(r.Missing, MissingUnit{Name: st.Unit.Name, LastAt: st.LatestAt})
			continue
		}
		if !st.LatestAt.Equal(*r.LatestAt) {
			continue
		}

		r.TotalMW += st.LatestValue
		if st.Unit.NominalMW > 0 && st.LatestValue < opts.LowRatio*st.Unit.NominalMW {
			low := LowUnit{Name: st.Unit.Name, Value: st.LatestValue, NominalMW: st.Unit.NominalMW}
			if st.LastAboveAt != nil {
				days := r.LatestAt.Sub(*st.LastAboveAt).Hours() / 24
				low.DaysSinceAbove = &days
			}
			r.Low = append(r.Low, low)
			lowNames[st.Unit.Name] = true
		}
	}
	if r.NominalMW > 0 {
		r.LoadFactor = r.TotalMW / r.NominalMW * 100
	}

	var lowAges, otherAges []float64
	for _, st := range statuses {
		age, ok := st.Unit.AgeYears(now)
		if !ok {
			continue
		}
		if lowNames[st.Unit.Name] {
			lowAges = append(lowAges, age)
		} else {
			otherAges = append(otherAges, age)
		}
	}
	r.LowAge = ageGroup(lowAges)
	r.OtherAge = ageGroup(otherAges)

	slices.SortFunc(r.Low, func(a, b LowUnit) int { return strings.Compare(a.Name, b.Name) })
	slices.SortFunc(r.Missing, func(a, b MissingUnit) int { return strings.Compare(a.Name, b.Name) })
	return r
}

func ageGroup(ages []float64) AgeGroup {
	mean, err := stats.Mean(ages)
	if err != nil {
		return AgeGroup{}
	}
	return AgeGroup{Count: len(ages), MeanAge: mean}
}
