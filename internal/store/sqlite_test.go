package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/gensync/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestSQLite_MigrateIsIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_EnsureUnits(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	ids, err := st.EnsureUnits(ctx, []string{"BLAYAIS 1", "GOLFECH 2", "BLAYAIS 1"})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	again, err := st.EnsureUnits(ctx, []string{"GOLFECH 2", "CHINON B1"})
	require.NoError(t, err)
	assert.Equal(t, ids["GOLFECH 2"], again["GOLFECH 2"])
	assert.NotZero(t, again["CHINON B1"])

	units, err := st.ListUnits(ctx)
	require.NoError(t, err)
	require.Len(t, units, 3)
	assert.Equal(t, "BLAYAIS 1", units[0].Name)
	assert.Equal(t, model.Unknown, units[0].Location)
	assert.Nil(t, units[0].InstallationDate)
}

func TestSQLite_InsertReadingsCountsDuplicates(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	readings := []model.Reading{
		{Unit: "A", Timestamp: t0, Value: 10},
		{Unit: "A", Timestamp: t0.Add(time.Hour), Value: 0},
		{Unit: "B", Timestamp: t0, Value: -5},
	}
	res, err := Load(ctx, st, readings, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, 0, res.Duplicates)
	assert.Equal(t, 2, res.Empty)
	assert.Equal(t, 2, res.Units)

	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	readings[0].Timestamp = t0.In(paris)
	readings[0].Value = 99
	res, err = Load(ctx, st, readings, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 3, res.Duplicates)

	var value float64
	require.NoError(t, st.db.QueryRow(`SELECT value FROM production p JOIN units u ON u.id = p.unit_id WHERE u.name = 'A' AND p.timestamp = ?`,
		t0.Format(sqliteTime)).Scan(&value))
	assert.InDelta(t, 10.0, value, 1e-9)
}

func TestSQLite_InsertReadingsRequiresUnitID(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.InsertReadings(context.Background(), []model.Reading{{Unit: "A", Timestamp: t0, Value: 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no unit id")
}

func TestSQLite_LoadEmpty(t *testing.T) {
	st := newTestSQLiteStore(t)
	res, err := Load(context.Background(), st, nil, 4)
	require.NoError(t, err)
	assert.Equal(t, model.LoadResult{Empty: 4}, *res)
}

func TestSQLite_SyncCatalogUpdatesAttributes(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.EnsureUnits(ctx, []string{"FLAMANVILLE 3"})
	require.NoError(t, err)

	installed := time.Date(2024, 9, 3, 0, 0, 0, 0, time.UTC)
	n, err := st.SyncCatalog(ctx, []model.Unit{{
		Name: "FLAMANVILLE 3", Location: "Flamanville", ProductionType: "EPR",
		InstallationDate: &installed, NominalMW: 1630, Characteristics: "PWR",
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	units, err := st.ListUnits(ctx)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "Flamanville", units[0].Location)
	assert.InDelta(t, 1630.0, units[0].NominalMW, 1e-9)
	require.NotNil(t, units[0].InstallationDate)
	assert.True(t, installed.Equal(*units[0].InstallationDate))
}

func TestSQLite_UnitStatuses(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.SyncCatalog(ctx, []model.Unit{
		{Name: "A", Location: "x", ProductionType: "PWR", NominalMW: 1000, Characteristics: "-"},
		{Name: "B", Location: "y", ProductionType: "PWR", NominalMW: 1000, Characteristics: "-"},
	})
	require.NoError(t, err)

	_, err = Load(ctx, st, []model.Reading{
		{Unit: "A", Timestamp: t0, Value: 900},
		{Unit: "A", Timestamp: t0.Add(time.Hour), Value: 100},
		{Unit: "B", Timestamp: t0, Value: 950},
	}, 0)
	require.NoError(t, err)

	statuses, err := st.UnitStatuses(ctx, 0.2)
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	a := statuses[0]
	assert.Equal(t, "A", a.Unit.Name)
	require.NotNil(t, a.LatestAt)
	assert.True(t, a.LatestAt.Equal(t0.Add(time.Hour)))
	assert.InDelta(t, 100.0, a.LatestValue, 1e-9)
	require.NotNil(t, a.LastAboveAt)
	assert.True(t, a.LastAboveAt.Equal(t0))

	b := statuses[1]
	assert.InDelta(t, 950.0, b.LatestValue, 1e-9)
}

func TestSQLite_SyncRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first, err := st.StartRun(ctx, "append")
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusRunning, first.Status)

	ws, we := t0, t0.Add(time.Hour)
	first.WindowStart, first.WindowEnd = &ws, &we
	first.Inserted, first.Duplicates = 12, 3
	first.RawPath = "data/x_output.csv"
	require.NoError(t, st.CompleteRun(ctx, first))

	second, err := st.StartRun(ctx, "backfill")
	require.NoError(t, err)
	require.NoError(t, st.FailRun(ctx, second, errors.New("fetch failed")))

	runs, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 2)

	var complete, failed model.SyncRun
	for _, r := range runs {
		switch r.ID {
		case first.ID:
			complete = r
		case second.ID:
			failed = r
		}
	}
	assert.Equal(t, model.SyncStatusComplete, complete.Status)
	assert.Equal(t, 12, complete.Inserted)
	require.NotNil(t, complete.WindowStart)
	assert.True(t, complete.WindowStart.Equal(ws))
	assert.NotNil(t, complete.CompletedAt)
	assert.Equal(t, model.SyncStatusFailed, failed.Status)
	assert.Equal(t, "fetch failed", failed.Error)

	onlyFailed, err := st.ListRuns(ctx, RunFilter{Status: model.SyncStatusFailed})
	require.NoError(t, err)
	require.Len(t, onlyFailed, 1)
	assert.Equal(t, second.ID, onlyFailed[0].ID)
}

func TestSQLite_FinishUnknownRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.CompleteRun(context.Background(), &model.SyncRun{ID: "missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestOpen_SQLite(t *testing.T) {
	st, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "open.db"))
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	assert.IsType(t, &SQLiteStore{}, st)
}
