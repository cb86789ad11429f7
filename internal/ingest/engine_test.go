package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/gensync/internal/entsoe"
	"github.com/sells-group/gensync/internal/model"
	"github.com/sells-group/gensync/internal/planner"
	"github.com/sells-group/gensync/internal/store"
	"github.com/sells-group/gensync/internal/timeseries"
)

var now = time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)

type call struct {
	area       string
	start, end time.Time
}

type fakeSource struct {
	series []entsoe.Series
	err    error
	calls  []call
}

func (f *fakeSource) GenerationPerUnit(_ context.Context, area string, start, end time.Time) ([]entsoe.Series, error) {
	f.calls = append(f.calls, call{area: area, start: start, end: end})
	return f.series, f.err
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newTestEngine(t *testing.T, src entsoe.Source, st Store, clock *time.Time) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	e := NewEngine(src, st, Options{
		DataDir: dir,
		Zone:    time.UTC,
		Now:     func() time.Time { return *clock },
	})
	return e, dir
}

func nuclear(unit, metric string, points ...entsoe.Point) entsoe.Series {
	return entsoe.Series{Unit: unit, Technology: "Nuclear", Metric: metric, Points: points}
}

func at(hour int) time.Time {
	return time.Date(2024, 1, 10, hour, 0, 0, 0, time.UTC)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRun_AppendEmptyHistory(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{series: []entsoe.Series{
		nuclear("BLAYAIS 1", entsoe.MetricAggregated, entsoe.Point{Time: at(8), Quantity: 880}, entsoe.Point{Time: at(9), Quantity: 870}),
		nuclear("GOLFECH 2", entsoe.MetricAggregated, entsoe.Point{Time: at(8), Quantity: 1300}),
		nuclear("GOLFECH 2", entsoe.MetricConsumption, entsoe.Point{Time: at(9), Quantity: 5}),
	}}
	clock := now
	e, dir := newTestEngine(t, src, st, &clock)

	res, err := e.Run(context.Background(), timeseries.ModeAppend)
	require.NoError(t, err)
	assert.False(t, res.Skipped)

	require.Len(t, src.calls, 1)
	assert.Equal(t, entsoe.AreaFrance, src.calls[0].area)
	assert.True(t, src.calls[0].start.Equal(at(8)))
	assert.True(t, src.calls[0].end.Equal(now))

	assert.Equal(t, filepath.Join(dir, "20240110_100000_generation_output.csv"), res.RawPath)
	assert.Equal(t, filepath.Join(dir, "20240110_100000_generation_output_filtered.csv"), res.CanonicalPath)
	assert.FileExists(t, res.RawPath)

	canonical, err := os.ReadFile(res.CanonicalPath)
	require.NoError(t, err)
	assert.Equal(t, "TIME,BLAYAIS 1,GOLFECH 2\n"+
		"2024-01-10T08:00:00+00:00,880,1300\n"+
		"2024-01-10T09:00:00+00:00,870,-5\n", string(canonical))

	require.NotNil(t, res.Load)
	assert.Equal(t, 4, res.Load.Inserted)
	assert.Equal(t, 0, res.Load.Duplicates)

	runs, err := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.SyncStatusComplete, runs[0].Status)
	assert.Equal(t, "append", runs[0].Mode)
	assert.Equal(t, 4, runs[0].Inserted)
	require.NotNil(t, runs[0].WindowStart)
	assert.True(t, runs[0].WindowStart.Equal(at(8)))
}

func TestRun_AppendResumesAfterHistory(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{series: []entsoe.Series{
		nuclear("BLAYAIS 1", entsoe.MetricAggregated, entsoe.Point{Time: at(8), Quantity: 880}, entsoe.Point{Time: at(9), Quantity: 870}),
	}}
	clock := now
	e, _ := newTestEngine(t, src, st, &clock)

	_, err := e.Run(context.Background(), timeseries.ModeAppend)
	require.NoError(t, err)

	clock = now.Add(time.Hour)
	src.series = []entsoe.Series{
		nuclear("BLAYAIS 1", entsoe.MetricAggregated, entsoe.Point{Time: at(9), Quantity: 999}, entsoe.Point{Time: at(10), Quantity: 860}),
	}
	res, err := e.Run(context.Background(), timeseries.ModeAppend)
	require.NoError(t, err)

	require.Len(t, src.calls, 2)
	assert.True(t, src.calls[1].start.Equal(at(9).Add(time.Minute)))
	assert.True(t, src.calls[1].end.Equal(at(11)))
	assert.Equal(t, 1, res.Load.Inserted)
	assert.Equal(t, 1, res.Load.Duplicates)
}

func TestRun_NothingToFetch(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{}
	clock := now
	e, dir := newTestEngine(t, src, st, &clock)
	writeFile(t, dir, "20240110_095900_generation_output.csv",
		",BLAYAIS 1\n,Nuclear\n,Actual Aggregated\n2024-01-10 10:00:00+00:00,880\n")

	res, err := e.Run(context.Background(), timeseries.ModeAppend)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, ErrNothingToFetch.Error(), res.Reason)
	assert.Empty(t, src.calls)

	runs, err := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRun_FetchFailureRecorded(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{err: errors.New("service unavailable")}
	clock := now
	e, dir := newTestEngine(t, src, st, &clock)

	_, err := e.Run(context.Background(), timeseries.ModeAppend)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service unavailable")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	runs, err := st.ListRuns(context.Background(), store.RunFilter{Status: model.SyncStatusFailed})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Contains(t, runs[0].Error, "service unavailable")
}

func TestRun_NoDataSkipped(t *testing.T) {
	st := newTestStore(t)
	clock := now
	e, _ := newTestEngine(t, &fakeSource{}, st, &clock)

	res, err := e.Run(context.Background(), timeseries.ModeAppend)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, ErrNoData.Error(), res.Reason)

	runs, err := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.SyncStatusSkipped, runs[0].Status)
}

func TestPlan_BackfillFillsGapBetweenFiles(t *testing.T) {
	st := newTestStore(t)
	clock := now
	e, dir := newTestEngine(t, &fakeSource{}, st, &clock)
	writeFile(t, dir, "a_generation_output.csv",
		",A\n,Nuclear\n,Actual Aggregated\n2024-01-01 00:00:00+00:00,1\n2024-01-01 01:00:00+00:00,1\n")
	writeFile(t, dir, "b_generation_output.csv",
		",A\n,Nuclear\n,Actual Aggregated\n2024-01-04 00:00:00+00:00,1\n2024-01-04 01:00:00+00:00,1\n")

	w, ok, err := e.Plan(context.Background(), timeseries.ModeBackfill)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, w.Start.Equal(time.Date(2024, 1, 1, 1, 0, 1, 0, time.UTC)))
	assert.True(t, w.End.Equal(time.Date(2024, 1, 3, 23, 59, 59, 0, time.UTC)))
	assert.Equal(t, timeseries.ModeBackfill, w.Mode)
}

func TestPlan_BackfillClampedToMaxSpan(t *testing.T) {
	st := newTestStore(t)
	clock := now
	dir := t.TempDir()
	e := NewEngine(&fakeSource{}, st, Options{
		DataDir: dir,
		Planner: planner.Options{Threshold: 3 * time.Hour, MaxSpan: 24 * time.Hour, DefaultLookback: time.Hour},
		Now:     func() time.Time { return clock },
	})
	writeFile(t, dir, "a_generation_output.csv",
		",A\n,Nuclear\n,Actual Aggregated\n2024-01-01 00:00:00+00:00,1\n2024-01-05 00:00:00+00:00,1\n")

	w, ok, err := e.Plan(context.Background(), timeseries.ModeBackfill)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 24*time.Hour, w.Span())
}

func TestReconcile_NoRows(t *testing.T) {
	clock := now
	e, dir := newTestEngine(t, nil, newTestStore(t), &clock)
	raw := writeFile(t, dir, "x_output.csv", ",A\n,Nuclear\n,Actual Aggregated\n")

	_, _, err := e.Reconcile(context.Background(), raw)
	require.ErrorIs(t, err, ErrNoRows)
	assert.NoFileExists(t, e.CanonicalPath(raw))
}

func TestLoad_CanonicalFile(t *testing.T) {
	st := newTestStore(t)
	clock := now
	e, dir := newTestEngine(t, nil, st, &clock)
	path := writeFile(t, dir, "x_output_filtered.csv",
		"TIME,A,B\n2024-01-10T08:00:00,1,\n2024-01-10T09:00:00,2,3\n")

	res, err := e.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, 1, res.Empty)
	assert.Equal(t, 2, res.Units)

	again, err := e.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Inserted)
	assert.Equal(t, 3, again.Duplicates)
}

func TestProcess_RawExport(t *testing.T) {
	st := newTestStore(t)
	clock := now
	e, dir := newTestEngine(t, nil, st, &clock)
	raw := writeFile(t, dir, "x_output.csv",
		",A,B\n,Nuclear,Nuclear\n,Actual Aggregated,Actual Consumption\n2024-01-10 08:00:00+00:00,10,4\n")

	canonical, res, err := e.Process(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "x_output_filtered.csv"), canonical)
	assert.Equal(t, 2, res.Inserted)
}

func TestFetch_RequiresSource(t *testing.T) {
	clock := now
	e, _ := newTestEngine(t, nil, newTestStore(t), &clock)
	_, err := e.Fetch(context.Background(), timeseries.Window{Start: at(8), End: at(9)})
	require.Error(t, err)
}

func TestFetch_InvalidWindow(t *testing.T) {
	clock := now
	e, _ := newTestEngine(t, &fakeSource{}, newTestStore(t), &clock)
	_, err := e.Fetch(context.Background(), timeseries.Window{Start: at(9), End: at(8)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid window")
}

func TestFetch_SameSecondKeepsBothExports(t *testing.T) {
	src := &fakeSource{series: []entsoe.Series{
		nuclear("BLAYAIS 1", entsoe.MetricAggregated, entsoe.Point{Time: at(8), Quantity: 880}),
	}}
	clock := now
	e, dir := newTestEngine(t, src, newTestStore(t), &clock)
	w := timeseries.Window{Start: at(8), End: at(9)}

	first, err := e.Fetch(context.Background(), w)
	require.NoError(t, err)
	second, err := e.Fetch(context.Background(), w)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "20240110_100000_generation_output.csv"), first)
	assert.Equal(t, filepath.Join(dir, "20240110_100000_generation_2_output.csv"), second)
	for _, p := range []string{first, second} {
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		assert.Contains(t, string(data), "BLAYAIS 1")
	}

	paths, err := e.Repository().Paths(e.Options().RawSuffix)
	require.NoError(t, err)
	assert.Len(t, paths, 2)
}
