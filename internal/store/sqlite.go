package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/geodekking/pakketpunten/internal/model"
)

// areaDriftWarn is the relative area change at which a re-resolved
// boundary is logged as suspicious.
const areaDriftWarn = 0.05

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, log: zap.L().With(zap.String("component", "store"))}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	kind           TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'running',
	succeeded      INTEGER NOT NULL DEFAULT 0,
	failed         INTEGER NOT NULL DEFAULT 0,
	carrier_totals TEXT,
	error          TEXT,
	started_at     DATETIME NOT NULL,
	finished_at    DATETIME
);

CREATE TABLE IF NOT EXISTS boundaries (
	slug      TEXT PRIMARY KEY,
	name      TEXT NOT NULL,
	code      TEXT,
	geom      BLOB NOT NULL,
	area_km2  REAL NOT NULL,
	saved_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_kind_started ON runs(kind, started_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, kind model.RunKind) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, status, started_at) VALUES (?, ?, ?, ?)`,
		id, string(kind), string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Kind:      kind,
		Status:    model.RunStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, outcome RunOutcome) error {
	var totals sql.NullString
	if outcome.CarrierTotals != nil {
		data, err := json.Marshal(outcome.CarrierTotals)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal carrier totals")
		}
		totals = sql.NullString{String: string(data), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, succeeded = ?, failed = ?, carrier_totals = ?, error = ?, finished_at = ?
		 WHERE id = ?`,
		string(outcome.Status), outcome.Succeeded, outcome.Failed, totals,
		sql.NullString{String: outcome.Error, Valid: outcome.Error != ""}, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

const runColumns = `id, kind, status, succeeded, failed, carrier_totals, error, started_at, finished_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC, rowid DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) PreviousRun(ctx context.Context, kind model.RunKind, excludeID string) (*model.Run, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE kind = ? AND id != ? AND status IN (?, ?) AND carrier_totals IS NOT NULL
		 ORDER BY started_at DESC, rowid DESC LIMIT 1`,
		string(kind), excludeID, string(model.RunStatusComplete), string(model.RunStatusCompleteWithFails),
	)
	r, err := scanRun(row)
	if eris.Is(err, errRunNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}

// LoadBoundary returns the stored EWKB for slug when it is younger than
// maxAge. A non-positive maxAge accepts any age.
func (s *SQLiteStore) LoadBoundary(ctx context.Context, slug string, maxAge time.Duration) ([]byte, bool, error) {
	var wkb []byte
	var savedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT geom, saved_at FROM boundaries WHERE slug = ?`, slug,
	).Scan(&wkb, &savedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: load boundary %s", slug)
	}
	if maxAge > 0 && time.Since(savedAt) > maxAge {
		return nil, false, nil
	}
	return wkb, true, nil
}

// SaveBoundary upserts a boundary. A large change of area against the
// stored version is logged, as it usually means a municipal merger or a
// wrong relation match.
func (s *SQLiteStore) SaveBoundary(ctx context.Context, slug, name, code string, wkb []byte, areaKm2 float64) error {
	var prev float64
	err := s.db.QueryRowContext(ctx, `SELECT area_km2 FROM boundaries WHERE slug = ?`, slug).Scan(&prev)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return eris.Wrapf(err, "sqlite: read boundary %s", slug)
	case prev > 0 && math.Abs(areaKm2-prev)/prev > areaDriftWarn:
		s.log.Warn("boundary area changed",
			zap.String("municipality", name),
			zap.Float64("previous_km2", prev),
			zap.Float64("current_km2", areaKm2),
		)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO boundaries (slug, name, code, geom, area_km2, saved_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(slug) DO UPDATE SET name = excluded.name, code = excluded.code,
		   geom = excluded.geom, area_km2 = excluded.area_km2, saved_at = excluded.saved_at`,
		slug, name, code, wkb, areaKm2, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save boundary %s", slug)
}

// helpers

var errRunNotFound = eris.New("run not found")

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var totals, errMsg sql.NullString
	var finished sql.NullTime

	err := row.Scan(&r.ID, &r.Kind, &r.Status, &r.Succeeded, &r.Failed, &totals, &errMsg, &r.StartedAt, &finished)
	if err == sql.ErrNoRows {
		return nil, errRunNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if totals.Valid {
		if err := json.Unmarshal([]byte(totals.String), &r.CarrierTotals); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal carrier totals")
		}
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	r.Error = errMsg.String
	return &r, nil
}
