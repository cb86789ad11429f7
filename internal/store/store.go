// Package store persists units, production readings and the sync-run log.
package store

import (
	"context"
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/gensync/internal/model"
)

// Loader writes canonical readings into a uniquely keyed store.
type Loader interface {
	// EnsureUnits creates any unit missing by name and returns the id of
	// every requested name.
	EnsureUnits(ctx context.Context, names []string) (map[string]int64, error)
	// InsertReadings inserts readings whose (unit, timestamp) is not yet
	// stored. Existing readings are never overwritten; they are counted as
	// duplicates. Every reading must carry its UnitID.
	InsertReadings(ctx context.Context, readings []model.Reading) (*model.LoadResult, error)
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Status model.SyncStatus
	Limit  int
}

// Store is the full persistence interface used by the commands.
type Store interface {
	Loader

	// Units
	SyncCatalog(ctx context.Context, units []model.Unit) (int, error)
	ListUnits(ctx context.Context) ([]model.Unit, error)
	UnitStatuses(ctx context.Context, lowRatio float64) ([]model.UnitStatus, error)

	// Sync-run log
	StartRun(ctx context.Context, mode string) (*model.SyncRun, error)
	CompleteRun(ctx context.Context, run *model.SyncRun) error
	FailRun(ctx context.Context, run *model.SyncRun, cause error) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.SyncRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the store for driver. The schema is not migrated.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case DriverSQLite, "":
		return NewSQLite(dsn)
	case DriverPostgres, "postgresql", "pgx":
		return NewPostgres(ctx, dsn, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}

// Load resolves unit ids for readings and inserts them. empty is the number
// of absent cells the caller left out; it is reported in the result.
func Load(ctx context.Context, l Loader, readings []model.Reading, empty int) (*model.LoadResult, error) {
	var names []string
	seen := make(map[string]bool)
	for _, r := range readings {
		if !seen[r.Unit] {
			seen[r.Unit] = true
			names = append(names, r.Unit)
		}
	}
	slices.Sort(names)

	result := &model.LoadResult{Empty: empty, Units: len(names)}
	if len(readings) == 0 {
		return result, nil
	}

	ids, err := l.EnsureUnits(ctx, names)
	if err != nil {
		return nil, err
	}

	resolved := make([]model.Reading, len(readings))
	for i, r := range readings {
		id, ok := ids[r.Unit]
		if !ok {
			return nil, eris.Errorf("store: no id for unit %q", r.Unit)
		}
		r.UnitID = id
		resolved[i] = r
	}

	res, err := l.InsertReadings(ctx, resolved)
	if err != nil {
		return nil, err
	}
	result.Inserted = res.Inserted
	result.Duplicates = res.Duplicates
	return result, nil
}

func checkUnitIDs(readings []model.Reading) error {
	for _, r := range readings {
		if r.UnitID == 0 {
			return eris.Errorf("store: reading for %q has no unit id", r.Unit)
		}
	}
	return nil
}

func uniqueNames(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func runLimit(l int) int {
	if l <= 0 {
		return 100
	}
	return l
}
