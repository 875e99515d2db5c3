// Package postgres is the optional fetch/quarantine audit trail, grounded
// on the teacher's internal/persistence/postgres trades repository: a thin
// sqlx.DB wrapper with per-call context timeouts and pq-error-code-aware
// error wrapping. It is only active when a DSN is configured; its absence
// changes nothing about the pipeline's correctness.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/terrylica/kline-fcp/internal/cachestore"
)

// QuarantineRecord is one audit row produced when a cache day-file fails
// checksum verification.
type QuarantineRecord struct {
	ID              int64     `db:"id"`
	Provider        string    `db:"provider"`
	Market          string    `db:"market"`
	Symbol          string    `db:"symbol"`
	Interval        string    `db:"interval"`
	Day             time.Time `db:"day"`
	Reason          string    `db:"reason"`
	QuarantinedPath string    `db:"quarantined_path"`
	DetectedAt      time.Time `db:"detected_at"`
}

// FetchRecord is one audit row produced for every get_data request,
// recording the correlation ID and the final outcome.
type FetchRecord struct {
	ID           int64     `db:"id"`
	RequestID    string    `db:"request_id"`
	Provider     string    `db:"provider"`
	Market       string    `db:"market"`
	Symbol       string    `db:"symbol"`
	Interval     string    `db:"interval"`
	RowsReturned int       `db:"rows_returned"`
	Outcome      string    `db:"outcome"` // done, failed, cancelled
	ErrorDetail  string    `db:"error_detail"`
	StartedAt    time.Time `db:"started_at"`
	FinishedAt   time.Time `db:"finished_at"`
}

// Repo persists quarantine and fetch audit rows to Postgres.
type Repo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// New wraps an already-opened *sqlx.DB. Open is left to the caller so tests
// can substitute a sqlmock connection.
func New(db *sqlx.DB, timeout time.Duration) *Repo {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Repo{db: db, timeout: timeout}
}

// Open dials Postgres via the lib/pq driver and verifies connectivity.
func Open(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("auditlog: connect: %w", err)
	}
	return db, nil
}

// NotifyQuarantine implements cachestore.QuarantineNotifier. A failure to
// write the audit row is discarded here and is neither returned nor
// logged; quarantine itself has already happened on disk and must not be
// undone by an audit-log outage.
func (r *Repo) NotifyQuarantine(ctx context.Context, key cachestore.Key, reason, path string) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, _ = r.db.ExecContext(ctx, `
		INSERT INTO cache_quarantines (provider, market, symbol, interval, day, reason, quarantined_path, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
		key.Provider, key.Market, key.Symbol, string(key.Interval), key.Day, reason, path)
}

// RecordFetch inserts one fetch audit row.
func (r *Repo) RecordFetch(ctx context.Context, rec FetchRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO fetch_audit (request_id, provider, market, symbol, interval, rows_returned, outcome, error_detail, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.RequestID, rec.Provider, rec.Market, rec.Symbol, rec.Interval,
		rec.RowsReturned, rec.Outcome, rec.ErrorDetail, rec.StartedAt, rec.FinishedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			return fmt.Errorf("auditlog: insert fetch_audit (%s): %w", pqErr.Code, err)
		}
		return fmt.Errorf("auditlog: insert fetch_audit: %w", err)
	}
	return nil
}

// QuarantinesBySymbol lists quarantine rows for one symbol, most recent
// first, for operator inspection.
func (r *Repo) QuarantinesBySymbol(ctx context.Context, symbol string, limit int) ([]QuarantineRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out []QuarantineRecord
	err := r.db.SelectContext(ctx, &out, `
		SELECT id, provider, market, symbol, interval, day, reason, quarantined_path, detected_at
		FROM cache_quarantines
		WHERE symbol = $1
		ORDER BY detected_at DESC
		LIMIT $2`, symbol, limit)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("auditlog: query quarantines: %w", err)
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (r *Repo) Close() error {
	return r.db.Close()
}

var _ cachestore.QuarantineNotifier = (*Repo)(nil)
