package entsoe

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/gensync/internal/reconcile"
	"github.com/sells-group/gensync/internal/timeseries"
)

// ConsumptionSuffix labels the consumption column of a unit that also
// reports aggregated output, so the reconciler folds the two together.
const ConsumptionSuffix = " (consumption)"

type exportColumn struct {
	label  string
	series Series
	values map[int64]float64
}

// ToRawExport pivots series into the wide raw export layout: a header row
// with one column per series, the technology row, the metric row, then one
// row per timestamp written in zone.
func ToRawExport(series []Series, zone *time.Location) *reconcile.RawExport {
	if zone == nil {
		zone = time.UTC
	}

	hasAggregated := make(map[string]bool)
	for _, s := range series {
		if s.Metric == MetricAggregated {
			hasAggregated[s.Unit] = true
		}
	}

	cols := make([]*exportColumn, 0, len(series))
	instants := make(map[int64]time.Time)
	for _, s := range series {
		label := s.Unit
		if s.Metric == MetricConsumption && hasAggregated[s.Unit] {
			label += ConsumptionSuffix
		}
		col := &exportColumn{label: label, series: s, values: make(map[int64]float64, len(s.Points))}
		for _, p := range s.Points {
			k := p.Time.Unix()
			col.values[k] = p.Quantity
			instants[k] = p.Time
		}
		cols = append(cols, col)
	}
	slices.SortStableFunc(cols, func(a, b *exportColumn) int {
		if c := strings.Compare(a.label, b.label); c != 0 {
			return c
		}
		return strings.Compare(a.series.UnitMRID, b.series.UnitMRID)
	})

	keys := make([]int64, 0, len(instants))
	for k := range instants {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	width := len(cols) + 1
	raw := &reconcile.RawExport{
		Header: make([]string, width),
		Rows:   make([][]string, 0, len(keys)+2),
	}
	tech := make([]string, width)
	metric := make([]string, width)
	for i, c := range cols {
		raw.Header[i+1] = c.label
		tech[i+1] = c.series.Technology
		metric[i+1] = c.series.Metric
	}
	raw.Rows = append(raw.Rows, tech, metric)

	for _, k := range keys {
		row := make([]string, width)
		row[0] = timeseries.FormatRaw(instants[k], zone)
		for i, c := range cols {
			if v, ok := c.values[k]; ok {
				row[i+1] = strconv.FormatFloat(v, 'f', -1, 64)
			}
		}
		raw.Rows = append(raw.Rows, row)
	}
	return raw
}
