package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/gensync/internal/model"
)

const (
	sqliteTime = "2006-01-02T15:04:05Z"
	sqliteDate = "2006-01-02"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single writer keeps the per-load transaction serialized.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS units (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	name              TEXT NOT NULL UNIQUE,
	location          TEXT NOT NULL DEFAULT 'Unknown',
	production_type   TEXT NOT NULL DEFAULT 'Unknown',
	installation_date TEXT,
	nominal_mw        REAL NOT NULL DEFAULT 0,
	characteristics   TEXT NOT NULL DEFAULT 'Unknown'
);

CREATE TABLE IF NOT EXISTS production (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	unit_id   INTEGER NOT NULL REFERENCES units(id),
	timestamp TEXT NOT NULL,
	value     REAL NOT NULL,
	UNIQUE (unit_id, timestamp)
);

CREATE INDEX IF NOT EXISTS idx_production_timestamp ON production(timestamp);

CREATE TABLE IF NOT EXISTS sync_runs (
	id             TEXT PRIMARY KEY,
	mode           TEXT NOT NULL,
	window_start   TEXT,
	window_end     TEXT,
	status         TEXT NOT NULL DEFAULT 'running',
	raw_path       TEXT NOT NULL DEFAULT '',
	canonical_path TEXT NOT NULL DEFAULT '',
	inserted       INTEGER NOT NULL DEFAULT 0,
	duplicates     INTEGER NOT NULL DEFAULT 0,
	error          TEXT NOT NULL DEFAULT '',
	started_at     TEXT NOT NULL,
	completed_at   TEXT
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) EnsureUnits(ctx context.Context, names []string) (map[string]int64, error) {
	names = uniqueNames(names)
	ids := make(map[string]int64, len(names))
	if len(names) == 0 {
		return ids, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: ensure units: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, name := range names {
		u := model.NewUnknownUnit(name)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO units (name, location, production_type, characteristics) VALUES (?, ?, ?, ?)
			 ON CONFLICT(name) DO NOTHING`,
			u.Name, u.Location, u.ProductionType, u.Characteristics,
		); err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert unit %s", name)
		}
		var id int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM units WHERE name = ?`, name).Scan(&id); err != nil {
			return nil, eris.Wrapf(err, "sqlite: lookup unit %s", name)
		}
		ids[name] = id
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: ensure units: commit")
	}
	return ids, nil
}

func (s *SQLiteStore) InsertReadings(ctx context.Context, readings []model.Reading) (*model.LoadResult, error) {
	result := &model.LoadResult{}
	if len(readings) == 0 {
		return result, nil
	}
	if err := checkUnitIDs(readings); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert readings: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO production (unit_id, timestamp, value) VALUES (?, ?, ?)
		 ON CONFLICT(unit_id, timestamp) DO NOTHING`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: prepare insert reading")
	}
	defer stmt.Close() //nolint:errcheck

	for _, r := range readings {
		res, err := stmt.ExecContext(ctx, r.UnitID, r.Timestamp.UTC().Format(sqliteTime), r.Value)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert reading %s@%s", r.Unit, r.Timestamp.Format(time.RFC3339))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: rows affected")
		}
		if n == 0 {
			result.Duplicates++
		} else {
			result.Inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: insert readings: commit")
	}
	return result, nil
}

func (s *SQLiteStore) SyncCatalog(ctx context.Context, units []model.Unit) (int, error) {
	if len(units) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: sync catalog: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	n := 0
	for _, u := range units {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO units (name, location, production_type, installation_date, nominal_mw, characteristics)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(name) DO UPDATE SET
			   location = excluded.location,
			   production_type = excluded.production_type,
			   installation_date = excluded.installation_date,
			   nominal_mw = excluded.nominal_mw,
			   characteristics = excluded.characteristics`,
			u.Name, u.Location, u.ProductionType, formatDate(u.InstallationDate), u.NominalMW, u.Characteristics,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert unit %s", u.Name)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: sync catalog: commit")
	}
	return n, nil
}

func (s *SQLiteStore) ListUnits(ctx context.Context) ([]model.Unit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, location, production_type, installation_date, nominal_mw, characteristics
		 FROM units ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list units")
	}
	defer rows.Close() //nolint:errcheck

	var units []model.Unit
	for rows.Next() {
		u, err := scanSQLiteUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, eris.Wrap(rows.Err(), "sqlite: list units iterate")
}

func (s *SQLiteStore) UnitStatuses(ctx context.Context, lowRatio float64) ([]model.UnitStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.name, u.location, u.production_type, u.installation_date, u.nominal_mw, u.characteristics,
		        (SELECT p.timestamp FROM production p WHERE p.unit_id = u.id ORDER BY p.timestamp DESC LIMIT 1),
		        (SELECT p.value FROM production p WHERE p.unit_id = u.id ORDER BY p.timestamp DESC LIMIT 1),
		        (SELECT MAX(p.timestamp) FROM production p WHERE p.unit_id = u.id AND p.value >= ? * u.nominal_mw)
		 FROM units u ORDER BY u.name`,
		lowRatio,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: unit statuses")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.UnitStatus
	for rows.Next() {
		var st model.UnitStatus
		var install, latest, above sql.NullString
		var latestValue sql.NullFloat64
		if err := rows.Scan(&st.Unit.ID, &st.Unit.Name, &st.Unit.Location, &st.Unit.ProductionType,
			&install, &st.Unit.NominalMW, &st.Unit.Characteristics, &latest, &latestValue, &above); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan unit status")
		}
		st.Unit.InstallationDate = parseDate(install)
		st.LatestAt = parseTime(latest)
		st.LatestValue = latestValue.Float64
		st.LastAboveAt = parseTime(above)
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: unit statuses iterate")
}

func (s *SQLiteStore) StartRun(ctx context.Context, mode string) (*model.SyncRun, error) {
	run := &model.SyncRun{
		ID:        uuid.New().String(),
		Mode:      mode,
		Status:    model.SyncStatusRunning,
		StartedAt: time.Now().UTC().Truncate(time.Second),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, mode, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Mode, string(run.Status), run.StartedAt.Format(sqliteTime),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: start run")
	}
	return run, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, run *model.SyncRun) error {
	if run.Status == "" || run.Status == model.SyncStatusRunning {
		run.Status = model.SyncStatusComplete
	}
	return s.finishRun(ctx, run)
}

func (s *SQLiteStore) FailRun(ctx context.Context, run *model.SyncRun, cause error) error {
	run.Status = model.SyncStatusFailed
	if cause != nil {
		run.Error = cause.Error()
	}
	return s.finishRun(ctx, run)
}

func (s *SQLiteStore) finishRun(ctx context.Context, run *model.SyncRun) error {
	now := time.Now().UTC().Truncate(time.Second)
	run.CompletedAt = &now
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET status = ?, window_start = ?, window_end = ?, raw_path = ?, canonical_path = ?,
		        inserted = ?, duplicates = ?, error = ?, completed_at = ?
		 WHERE id = ?`,
		string(run.Status), formatTime(run.WindowStart), formatTime(run.WindowEnd), run.RawPath, run.CanonicalPath,
		run.Inserted, run.Duplicates, run.Error, now.Format(sqliteTime), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", run.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: run not found: %s", run.ID)
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.SyncRun, error) {
	query := `SELECT id, mode, window_start, window_end, status, raw_path, canonical_path, inserted, duplicates, error, started_at, completed_at
		FROM sync_runs`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC, rowid DESC LIMIT ?`
	args = append(args, runLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.SyncRun
	for rows.Next() {
		var r model.SyncRun
		var ws, we, completed sql.NullString
		var started string
		if err := rows.Scan(&r.ID, &r.Mode, &ws, &we, &r.Status, &r.RawPath, &r.CanonicalPath,
			&r.Inserted, &r.Duplicates, &r.Error, &started, &completed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.WindowStart = parseTime(ws)
		r.WindowEnd = parseTime(we)
		r.CompletedAt = parseTime(completed)
		if t := parseTime(sql.NullString{String: started, Valid: true}); t != nil {
			r.StartedAt = *t
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteUnit(row rowScanner) (model.Unit, error) {
	var u model.Unit
	var install sql.NullString
	if err := row.Scan(&u.ID, &u.Name, &u.Location, &u.ProductionType, &install, &u.NominalMW, &u.Characteristics); err != nil {
		return u, eris.Wrap(err, "sqlite: scan unit")
	}
	u.InstallationDate = parseDate(install)
	return u, nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(sqliteTime)
}

func formatDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(sqliteDate)
}

func parseTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(sqliteTime, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseDate(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(sqliteDate, s.String)
	if err != nil {
		return nil
	}
	return &t
}
