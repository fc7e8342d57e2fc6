// Package storage persists resolution runs to sqlite so repeated runs
// against the same domain can be compared later.
package storage

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS runs (
  id             INTEGER PRIMARY KEY,
  domain         TEXT NOT NULL,
  target_date    TEXT NOT NULL,
  master_count   INTEGER NOT NULL,
  matched        INTEGER NOT NULL,
  batches_total  INTEGER NOT NULL,
  batches_failed INTEGER NOT NULL,
  rows_dropped   INTEGER NOT NULL,
  created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_runs_domain ON runs(domain, target_date);
CREATE TABLE IF NOT EXISTS run_snapshots (
  id           INTEGER PRIMARY KEY,
  run_id       INTEGER NOT NULL REFERENCES runs(id),
  original_url TEXT NOT NULL,
  timestamp    TEXT NOT NULL,
  archive_url  TEXT NOT NULL,
  status_code  TEXT NOT NULL,
  size_bytes   INTEGER NOT NULL,
  days_diff    INTEGER NOT NULL,
  UNIQUE(run_id, original_url)
);
CREATE INDEX IF NOT EXISTS idx_run_snapshots_run ON run_snapshots(run_id);
    `); err != nil {
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// Run is one recorded resolution pass over a domain.
type Run struct {
	ID            int64
	Domain        string
	TargetDate    string
	MasterCount   int
	Matched       int
	BatchesTotal  int
	BatchesFailed int
	RowsDropped   int
	CreatedAt     time.Time
}

// RunSnapshot mirrors the resolved snapshot rows of a run.
type RunSnapshot struct {
	OriginalURL string
	Timestamp   string
	ArchiveURL  string
	StatusCode  string
	SizeBytes   int64
	DaysDiff    int64
}

// RecordRun stores a run and its snapshots in one transaction and returns
// the run id.
func (d *DB) RecordRun(ctx context.Context, run Run, snaps []RunSnapshot) (int64, error) {
	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs(domain, target_date, master_count, matched, batches_total, batches_failed, rows_dropped) VALUES(?,?,?,?,?,?,?)`,
		run.Domain, run.TargetDate, run.MasterCount, run.Matched, run.BatchesTotal, run.BatchesFailed, run.RowsDropped)
	if err != nil {
		return 0, err
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, s := range snaps {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO run_snapshots(run_id, original_url, timestamp, archive_url, status_code, size_bytes, days_diff) VALUES(?,?,?,?,?,?,?)`,
			runID, s.OriginalURL, s.Timestamp, s.ArchiveURL, s.StatusCode, s.SizeBytes, s.DaysDiff)
		if err != nil {
			return 0, err
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return runID, nil
}

// ListRuns returns the most recent runs, newest first.
func (d *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.sql.QueryContext(ctx,
		`SELECT id, domain, target_date, master_count, matched, batches_total, batches_failed, rows_dropped, created_at
		 FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Domain, &r.TargetDate, &r.MasterCount, &r.Matched,
			&r.BatchesTotal, &r.BatchesFailed, &r.RowsDropped, &r.CreatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// DomainStats aggregates recorded runs per domain.
type DomainStats struct {
	Domain    string
	Runs      int
	Snapshots int
	LastRun   time.Time
}

func (d *DB) GetStats(ctx context.Context) ([]DomainStats, error) {
	rows, err := d.sql.QueryContext(ctx, `
SELECT r.domain, COUNT(DISTINCT r.id), COUNT(s.id), MAX(r.created_at)
FROM runs r
LEFT JOIN run_snapshots s ON s.run_id = r.id
GROUP BY r.domain
ORDER BY r.domain`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []DomainStats
	for rows.Next() {
		var s DomainStats
		if err := rows.Scan(&s.Domain, &s.Runs, &s.Snapshots, &s.LastRun); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
