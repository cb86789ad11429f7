package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/gensync/internal/db"
	"github.com/sells-group/gensync/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns, minConns := int32(4), int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS units (
	id                BIGSERIAL PRIMARY KEY,
	name              TEXT NOT NULL UNIQUE,
	location          TEXT NOT NULL DEFAULT 'Unknown',
	production_type   TEXT NOT NULL DEFAULT 'Unknown',
	installation_date DATE,
	nominal_mw        DOUBLE PRECISION NOT NULL DEFAULT 0,
	characteristics   TEXT NOT NULL DEFAULT 'Unknown'
);

CREATE TABLE IF NOT EXISTS production (
	unit_id   BIGINT NOT NULL REFERENCES units(id),
	timestamp TIMESTAMPTZ NOT NULL,
	value     DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (unit_id, timestamp)
);

CREATE INDEX IF NOT EXISTS idx_production_timestamp ON production(timestamp);

CREATE TABLE IF NOT EXISTS sync_runs (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	mode           TEXT NOT NULL,
	window_start   TIMESTAMPTZ,
	window_end     TIMESTAMPTZ,
	status         TEXT NOT NULL DEFAULT 'running',
	raw_path       TEXT NOT NULL DEFAULT '',
	canonical_path TEXT NOT NULL DEFAULT '',
	inserted       INTEGER NOT NULL DEFAULT 0,
	duplicates     INTEGER NOT NULL DEFAULT 0,
	error          TEXT NOT NULL DEFAULT '',
	started_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) EnsureUnits(ctx context.Context, names []string) (map[string]int64, error) {
	names = uniqueNames(names)
	ids := make(map[string]int64, len(names))
	if len(names) == 0 {
		return ids, nil
	}

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO units (name, location, production_type, characteristics)
		 SELECT n, $2, $2, $2 FROM unnest($1::text[]) AS n
		 ON CONFLICT (name) DO NOTHING`,
		names, model.Unknown,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: insert units")
	}

	rows, err := s.pool.Query(ctx, `SELECT id, name FROM units WHERE name = ANY($1)`, names)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: lookup units")
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan unit id")
		}
		ids[name] = id
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: lookup units iterate")
	}
	for _, n := range names {
		if _, ok := ids[n]; !ok {
			return nil, eris.Errorf("postgres: unit %q missing after insert", n)
		}
	}
	return ids, nil
}

func (s *PostgresStore) InsertReadings(ctx context.Context, readings []model.Reading) (*model.LoadResult, error) {
	result := &model.LoadResult{}
	if len(readings) == 0 {
		return result, nil
	}
	if err := checkUnitIDs(readings); err != nil {
		return nil, err
	}

	rows := make([][]any, len(readings))
	for i, r := range readings {
		rows[i] = []any{r.UnitID, r.Timestamp.UTC(), r.Value}
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:           "production",
		Columns:         []string{"unit_id", "timestamp", "value"},
		ConflictKeys:    []string{"unit_id", "timestamp"},
		IgnoreConflicts: true,
	}, rows)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert readings")
	}
	result.Inserted = int(n)
	result.Duplicates = len(readings) - int(n)
	return result, nil
}

func (s *PostgresStore) SyncCatalog(ctx context.Context, units []model.Unit) (int, error) {
	rows := make([][]any, len(units))
	for i, u := range units {
		rows[i] = []any{u.Name, u.Location, u.ProductionType, u.InstallationDate, u.NominalMW, u.Characteristics}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "units",
		Columns:      []string{"name", "location", "production_type", "installation_date", "nominal_mw", "characteristics"},
		ConflictKeys: []string{"name"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: sync catalog")
	}
	return int(n), nil
}

func (s *PostgresStore) ListUnits(ctx context.Context) ([]model.Unit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, location, production_type, installation_date, nominal_mw, characteristics
		 FROM units ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list units")
	}
	defer rows.Close()

	var units []model.Unit
	for rows.Next() {
		var u model.Unit
		if err := rows.Scan(&u.ID, &u.Name, &u.Location, &u.ProductionType, &u.InstallationDate, &u.NominalMW, &u.Characteristics); err != nil {
			return nil, eris.Wrap(err, "postgres: scan unit")
		}
		units = append(units, u)
	}
	return units, eris.Wrap(rows.Err(), "postgres: list units iterate")
}

func (s *PostgresStore) UnitStatuses(ctx context.Context, lowRatio float64) ([]model.UnitStatus, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT u.id, u.name, u.location, u.production_type, u.installation_date, u.nominal_mw, u.characteristics,
		        latest.timestamp, latest.value,
		        (SELECT MAX(p.timestamp) FROM production p WHERE p.unit_id = u.id AND p.value >= $1 * u.nominal_mw)
		 FROM units u
		 LEFT JOIN LATERAL (
		   SELECT p.timestamp, p.value FROM production p WHERE p.unit_id = u.id ORDER BY p.timestamp DESC LIMIT 1
		 ) latest ON true
		 ORDER BY u.name`,
		lowRatio,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: unit statuses")
	}
	defer rows.Close()

	var out []model.UnitStatus
	for rows.Next() {
		var st model.UnitStatus
		var latestValue *float64
		if err := rows.Scan(&st.Unit.ID, &st.Unit.Name, &st.Unit.Location, &st.Unit.ProductionType,
			&st.Unit.InstallationDate, &st.Unit.NominalMW, &st.Unit.Characteristics,
			&st.LatestAt, &latestValue, &st.LastAboveAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan unit status")
		}
		if latestValue != nil {
			st.LatestValue = *latestValue
		}
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "postgres: unit statuses iterate")
}

func (s *PostgresStore) StartRun(ctx context.Context, mode string) (*model.SyncRun, error) {
	run := &model.SyncRun{
		ID:        uuid.New().String(),
		Mode:      mode,
		Status:    model.SyncStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_runs (id, mode, status, started_at) VALUES ($1, $2, $3, $4)`,
		run.ID, run.Mode, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: start run")
	}
	return run, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, run *model.SyncRun) error {
	if run.Status == "" || run.Status == model.SyncStatusRunning {
		run.Status = model.SyncStatusComplete
	}
	return s.finishRun(ctx, run)
}

func (s *PostgresStore) FailRun(ctx context.Context, run *model.SyncRun, cause error) error {
	run.Status = model.SyncStatusFailed
	if cause != nil {
		run.Error = cause.Error()
	}
	return s.finishRun(ctx, run)
}

func (s *PostgresStore) finishRun(ctx context.Context, run *model.SyncRun) error {
	now := time.Now().UTC()
	run.CompletedAt = &now
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs SET status = $1, window_start = $2, window_end = $3, raw_path = $4, canonical_path = $5,
		        inserted = $6, duplicates = $7, error = $8, completed_at = $9
		 WHERE id = $10`,
		string(run.Status), run.WindowStart, run.WindowEnd, run.RawPath, run.CanonicalPath,
		run.Inserted, run.Duplicates, run.Error, now, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run not found: %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.SyncRun, error) {
	query := `SELECT id, mode, window_start, window_end, status, raw_path, canonical_path, inserted, duplicates, error, started_at, completed_at
		FROM sync_runs`
	args := []any{}
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	args = append(args, runLimit(filter.Limit))
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.SyncRun, error) {
		var r model.SyncRun
		err := row.Scan(&r.ID, &r.Mode, &r.WindowStart, &r.WindowEnd, &r.Status, &r.RawPath, &r.CanonicalPath,
			&r.Inserted, &r.Duplicates, &r.Error, &r.StartedAt, &r.CompletedAt)
		return r, err
	})
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan runs")
	}
	return runs, nil
}
