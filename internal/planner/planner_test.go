package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/gensync/internal/timeseries"
)

var now = time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)

func hourly(start time.Time, n int) []time.Time {
	ts := make([]time.Time, n)
	for i := range ts {
		ts[i] = start.Add(time.Duration(i) * time.Hour)
	}
	return ts
}

func TestFindFirstGap(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("fewer than two", func(t *testing.T) {
		_, ok := FindFirstGap(nil, time.Hour)
		assert.False(t, ok)
		_, ok = FindFirstGap([]time.Time{base}, time.Hour)
		assert.False(t, ok)
	})

	t.Run("exactly threshold is not a gap", func(t *testing.T) {
		_, ok := FindFirstGap([]time.Time{base, base.Add(3 * time.Hour)}, 3*time.Hour)
		assert.False(t, ok)
	})

	t.Run("just over threshold", func(t *testing.T) {
		g, ok := FindFirstGap([]time.Time{base, base.Add(3*time.Hour + time.Second)}, 3*time.Hour)
		require.True(t, ok)
		assert.Equal(t, base, g.Start)
		assert.Equal(t, 3*time.Hour+time.Second, g.Duration())
	})

	t.Run("earliest wins", func(t *testing.T) {
		ts := []time.Time{base, base.Add(time.Hour), base.Add(10 * time.Hour), base.Add(11 * time.Hour), base.Add(40 * time.Hour)}
		g, ok := FindFirstGap(ts, 3*time.Hour)
		require.True(t, ok)
		assert.Equal(t, base.Add(time.Hour), g.Start)
		assert.Equal(t, base.Add(10*time.Hour), g.End)
	})
}

func TestPlan_AppendWithHistory(t *testing.T) {
	p := New(DefaultOptions())
	ts := hourly(now.Add(-5*time.Hour), 3)

	w, ok := p.Plan(timeseries.ModeAppend, ts, now)
	require.True(t, ok)
	assert.Equal(t, ts[2].Add(time.Minute), w.Start)
	assert.Equal(t, now, w.End)
	assert.Equal(t, timeseries.ModeAppend, w.Mode)
}

func TestPlan_AppendEmptyHistory(t *testing.T) {
	p := New(DefaultOptions())
	w, ok := p.Plan(timeseries.ModeAppend, nil, now)
	require.True(t, ok)
	assert.Equal(t, now.Add(-2*time.Hour), w.Start)
	assert.Equal(t, now, w.End)
}

func TestPlan_AppendUpToDate(t *testing.T) {
	p := New(DefaultOptions())
	_, ok := p.Plan(timeseries.ModeAppend, []time.Time{now.Add(-time.Minute)}, now)
	assert.False(t, ok)
	_, ok = p.Plan(timeseries.ModeAppend, []time.Time{now.Add(time.Hour)}, now)
	assert.False(t, ok)
}

func TestPlan_AppendClampedToMaxSpan(t *testing.T) {
	p := New(DefaultOptions())
	last := now.Add(-30 * 24 * time.Hour)
	w, ok := p.Plan(timeseries.ModeAppend, []time.Time{last}, now)
	require.True(t, ok)
	assert.Equal(t, last.Add(time.Minute), w.Start)
	assert.Equal(t, 240*time.Hour, w.Span())
}

func TestPlan_BackfillEmptyHistory(t *testing.T) {
	p := New(DefaultOptions())
	w, ok := p.Plan(timeseries.ModeBackfill, nil, now)
	require.True(t, ok)
	assert.Equal(t, now.Add(-240*time.Hour), w.Start)
	assert.Equal(t, now, w.End)
	assert.Equal(t, timeseries.ModeBackfill, w.Mode)
}

func TestPlan_BackfillGap(t *testing.T) {
	p := New(DefaultOptions())
	first := hourly(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 24)
	second := hourly(time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC), 24)
	ts := append(first, second...)

	w, ok := p.Plan(timeseries.ModeBackfill, ts, now)
	require.True(t, ok)
	assert.Equal(t, first[23].Add(time.Second), w.Start)
	assert.Equal(t, second[0].Add(-time.Second), w.End)
	assert.LessOrEqual(t, w.Span(), 240*time.Hour)
}

func TestPlan_BackfillWideGapClamped(t *testing.T) {
	p := New(DefaultOptions())
	a := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	b := a.Add(60 * 24 * time.Hour)

	w, ok := p.Plan(timeseries.ModeBackfill, []time.Time{a, b}, now)
	require.True(t, ok)
	assert.Equal(t, a.Add(time.Second), w.Start)
	assert.Equal(t, 240*time.Hour, w.Span())
}

func TestPlan_BackfillNoGap(t *testing.T) {
	p := New(DefaultOptions())
	_, ok := p.Plan(timeseries.ModeBackfill, hourly(now.Add(-48*time.Hour), 48), now)
	assert.False(t, ok)
}

func TestPlan_BackfillDegenerateGap(t *testing.T) {
	p := New(Options{Threshold: time.Second, MaxSpan: time.Hour, DefaultLookback: time.Hour})
	a := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, ok := p.Plan(timeseries.ModeBackfill, []time.Time{a, a.Add(2 * time.Second)}, now)
	assert.False(t, ok)
}

func TestPlan_Idempotent(t *testing.T) {
	p := New(DefaultOptions())
	ts := []time.Time{now.Add(-100 * time.Hour), now.Add(-10 * time.Hour)}
	for _, mode := range []timeseries.Mode{timeseries.ModeAppend, timeseries.ModeBackfill} {
		w1, ok1 := p.Plan(mode, ts, now)
		w2, ok2 := p.Plan(mode, ts, now)
		assert.Equal(t, ok1, ok2)
		assert.Equal(t, w1, w2)
	}
}

func TestOptions_Validate(t *testing.T) {
	assert.NoError(t, DefaultOptions().Validate())

	o := DefaultOptions()
	o.MaxSpan = 0
	assert.Error(t, o.Validate())

	o = DefaultOptions()
	o.Threshold = -time.Second
	assert.Error(t, o.Validate())
}
