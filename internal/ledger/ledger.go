// Package ledger keeps local run history and the geocode cache in
// SQLite, so repeated syncs can skip lookups and operators can inspect
// past runs.
package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/nordkart/vendorsync/pkg/mapbox"
)

// Run statuses.
const (
	RunStatusRunning  = "running"
	RunStatusComplete = "complete"
	RunStatusFailed   = "failed"
)

// DefaultGeocodeTTL bounds how long a cached geocode result is trusted.
const DefaultGeocodeTTL = 90 * 24 * time.Hour

// Run is one recorded sync invocation.
type Run struct {
	ID         string          `json:"id" yaml:"id"`
	Source     string          `json:"source" yaml:"source"`
	Status     string          `json:"status" yaml:"status"`
	Summary    json.RawMessage `json:"summary,omitempty" yaml:"summary,omitempty"`
	Error      string          `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  time.Time       `json:"startedAt" yaml:"started_at"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty" yaml:"finished_at,omitempty"`
}

// Ledger wraps the SQLite database.
type Ledger struct {
	db         *sql.DB
	geocodeTTL time.Duration
}

// Option configures the Ledger.
type Option func(*Ledger)

// WithGeocodeTTL overrides how long cached geocode results are trusted.
func WithGeocodeTTL(ttl time.Duration) Option {
	return func(l *Ledger) {
		if ttl > 0 {
			l.geocodeTTL = ttl
		}
	}
}

// Open opens (or creates) the ledger database at the given path and
// configures WAL mode.
func Open(dsn string, opts ...Option) (*Ledger, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "ledger: exec %s", pragma)
		}
	}

	l := &Ledger{db: db, geocodeTTL: DefaultGeocodeTTL}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	summary     TEXT,
	error       TEXT,
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS geocode_cache (
	address_hash TEXT PRIMARY KEY,
	address      TEXT NOT NULL,
	lat          REAL,
	lng          REAL,
	matched      INTEGER NOT NULL,
	geocoded_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_geocode_cache_expires_at ON geocode_cache(expires_at);
`

// Migrate creates the schema.
func (l *Ledger) Migrate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "ledger: migrate")
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// StartRun records the beginning of a sync invocation.
func (l *Ledger) StartRun(ctx context.Context, source string) (*Run, error) {
	run := &Run{
		ID:        uuid.New().String(),
		Source:    source,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, source, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Source, run.Status, run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: insert run")
	}
	return run, nil
}

// CompleteRun marks the run complete and stores its summary.
func (l *Ledger) CompleteRun(ctx context.Context, runID string, summary any) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "ledger: marshal summary")
	}
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, summary = ?, finished_at = ? WHERE id = ?`,
		RunStatusComplete, string(summaryJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "ledger: complete run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

// FailRun marks the run failed with the given error.
func (l *Ledger) FailRun(ctx context.Context, runID string, runErr error) error {
	message := ""
	if runErr != nil {
		message = runErr.Error()
	}
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		RunStatusFailed, message, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "ledger: fail run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

// GetRun returns one run by ID.
func (l *Ledger) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT id, source, status, summary, error, started_at, finished_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

// ListRuns returns the most recent runs, newest first.
func (l *Ledger) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, source, status, summary, error, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "ledger: list runs iterate")
}

// GetGeocode returns the cached result for an address. Found is true
// for remembered misses too, with a nil point.
func (l *Ledger) GetGeocode(ctx context.Context, address string) (*mapbox.Point, bool, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT lat, lng, matched FROM geocode_cache
		 WHERE address_hash = ? AND expires_at > datetime('now')`,
		addressHash(address),
	)

	var lat, lng sql.NullFloat64
	var matched bool
	err := row.Scan(&lat, &lng, &matched)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "ledger: get geocode")
	}
	if !matched {
		return nil, true, nil
	}
	return &mapbox.Point{Lat: lat.Float64, Lng: lng.Float64}, true, nil
}

// PutGeocode records a geocode result. A nil point records a miss, so
// repeat runs do not re-query addresses the geocoder cannot match.
func (l *Ledger) PutGeocode(ctx context.Context, address string, point *mapbox.Point) error {
	now := time.Now().UTC()
	var lat, lng sql.NullFloat64
	matched := point != nil
	if matched {
		lat = sql.NullFloat64{Float64: point.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: point.Lng, Valid: true}
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO geocode_cache (address_hash, address, lat, lng, matched, geocoded_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(address_hash) DO UPDATE SET
			lat = excluded.lat, lng = excluded.lng, matched = excluded.matched,
			geocoded_at = excluded.geocoded_at, expires_at = excluded.expires_at`,
		addressHash(address), address, lat, lng, matched, now, now.Add(l.geocodeTTL),
	)
	return eris.Wrap(err, "ledger: put geocode")
}

// PruneGeocodes deletes expired cache entries, returning how many.
func (l *Ledger) PruneGeocodes(ctx context.Context) (int, error) {
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM geocode_cache WHERE expires_at <= datetime('now')`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "ledger: prune geocodes")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "ledger: rows affected")
}

func addressHash(address string) string {
	sum := sha256.Sum256([]byte(address))
	return hex.EncodeToString(sum[:])
}

func checkRowsAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "ledger: rows affected")
	}
	if n == 0 {
		return eris.Errorf("ledger: run not found: %s", runID)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var r Run
	var summary, errMsg sql.NullString
	var finished sql.NullTime

	err := row.Scan(&r.ID, &r.Source, &r.Status, &summary, &errMsg, &r.StartedAt, &finished)
	if err == sql.ErrNoRows {
		return nil, eris.New("ledger: run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "ledger: scan run")
	}

	if summary.Valid {
		r.Summary = json.RawMessage(summary.String)
	}
	if errMsg.Valid {
		r.Error = errMsg.String
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}
