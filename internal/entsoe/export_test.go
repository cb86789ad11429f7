package entsoe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/gensync/internal/reconcile"
)

func TestToRawExport_Layout(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	series := []Series{
		{Unit: "GOLFECH 2", Technology: "Nuclear", Metric: MetricAggregated, Points: []Point{{t0, 1300}, {t0.Add(time.Hour), 1290}}},
		{Unit: "BLAYAIS 1", Technology: "Nuclear", Metric: MetricAggregated, Points: []Point{{t0, 880}}},
		{Unit: "BLAYAIS 1", Technology: "Nuclear", Metric: MetricConsumption, Points: []Point{{t0.Add(time.Hour), 12}}},
		{Unit: "MONTEZIC 1", Technology: "Hydro Pumped Storage", Metric: MetricConsumption, Points: []Point{{t0, 200}}},
	}

	raw := ToRawExport(series, time.UTC)
	assert.Equal(t, []string{"", "BLAYAIS 1", "BLAYAIS 1 (consumption)", "GOLFECH 2", "MONTEZIC 1"}, raw.Header)
	require.Len(t, raw.Rows, 4)
	assert.Equal(t, []string{"", "Nuclear", "Nuclear", "Nuclear", "Hydro Pumped Storage"}, raw.Rows[0])
	assert.Equal(t, []string{"", MetricAggregated, MetricConsumption, MetricAggregated, MetricConsumption}, raw.Rows[1])
	assert.Equal(t, []string{"2024-01-01 00:00:00+00:00", "880", "", "1300", "200"}, raw.Rows[2])
	assert.Equal(t, []string{"2024-01-01 01:00:00+00:00", "", "12", "1290", ""}, raw.Rows[3])
}

func TestToRawExport_ReconcilesIntoSignedSeries(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	series := []Series{
		{Unit: "BLAYAIS 1", Technology: "Nuclear", Metric: MetricAggregated, Points: []Point{{t0, 880}}},
		{Unit: "BLAYAIS 1", Technology: "Nuclear", Metric: MetricConsumption, Points: []Point{{t0.Add(time.Hour), 12}}},
	}

	table, err := reconcile.New(reconcile.DefaultOptions()).Reconcile(ToRawExport(series, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []string{"BLAYAIS 1"}, table.Entities)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, reconcile.Some(880), table.Rows[0].Values[0])
	assert.Equal(t, reconcile.Some(-12), table.Rows[1].Values[0])
}

func TestToRawExport_Empty(t *testing.T) {
	raw := ToRawExport(nil, nil)
	assert.Equal(t, []string{""}, raw.Header)
	assert.Len(t, raw.Rows, 2)
}

func TestParseResolution(t *testing.T) {
	cases := map[string]time.Duration{
		"PT15M": 15 * time.Minute,
		"PT30M": 30 * time.Minute,
		"PT60M": time.Hour,
		"PT1H":  time.Hour,
		"P1D":   24 * time.Hour,
	}
	for in, want := range cases {
		got, err := parseResolution(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "P", "PT", "15M", "P1Y"} {
		_, err := parseResolution(bad)
		assert.Error(t, err, bad)
	}
}

func TestTechnology(t *testing.T) {
	assert.Equal(t, "Nuclear", Technology("B14"))
	assert.Equal(t, "B99", Technology("B99"))
}
