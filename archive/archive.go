// Package archive persists finished pipeline runs to a SQLite database.
//
// Runs are archived once they reach a terminal status, preserving their
// outcome, timing, and the identity of the first failure. Archived runs are
// the durable record of the pipeline; live state stays in memory.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run is not present in the archive.
var ErrNotFound = errors.New("run not found in archive")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	pipeline      TEXT NOT NULL,
	group_key     TEXT NOT NULL,
	commit_ref    TEXT NOT NULL,
	status        TEXT NOT NULL,
	failed_stage  TEXT,
	failed_variant TEXT,
	failed_step   INTEGER,
	created_at    TIMESTAMP NOT NULL,
	archived_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_group_key ON runs (group_key, archived_at);
`

// Record is the flattened form of a finished run.
type Record struct {
	ID        string
	Pipeline  string
	GroupKey  string
	CommitRef string
	Status    string
	// FailedStage, FailedVariant and FailedStep identify the first failure
	// for failed runs. They are empty/-1 otherwise.
	FailedStage   string
	FailedVariant string
	FailedStep    int
	CreatedAt     time.Time
	ArchivedAt    time.Time
}

// Archive stores finished runs in a SQLite database.
type Archive struct {
	db *sql.DB
}

// Open opens (and if needed creates) the archive database at path.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize archive schema: %w", err)
	}

	return &Archive{db: db}, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Put inserts or replaces a run record. ArchivedAt is set to now if zero.
func (a *Archive) Put(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("record needs a run ID")
	}
	if rec.ArchivedAt.IsZero() {
		rec.ArchivedAt = time.Now()
	}

	_, err := a.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
		(id, pipeline, group_key, commit_ref, status, failed_stage, failed_variant, failed_step, created_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Pipeline, rec.GroupKey, rec.CommitRef, rec.Status,
		rec.FailedStage, rec.FailedVariant, rec.FailedStep,
		rec.CreatedAt, rec.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to archive run %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns the archived record for a run ID.
func (a *Archive) Get(ctx context.Context, id string) (Record, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT id, pipeline, group_key, commit_ref, status, failed_stage, failed_variant, failed_step, created_at, archived_at
		FROM runs WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

// ListByGroup returns the most recently archived runs of a concurrency
// group, newest first, up to limit.
func (a *Archive) ListByGroup(ctx context.Context, groupKey string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT id, pipeline, group_key, commit_ref, status, failed_stage, failed_variant, failed_step, created_at, archived_at
		FROM runs WHERE group_key = ? ORDER BY archived_at DESC LIMIT ?`, groupKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs for group %s: %w", groupKey, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (Record, error) {
	var rec Record
	var failedStage, failedVariant sql.NullString
	var failedStep sql.NullInt64

	err := s.Scan(&rec.ID, &rec.Pipeline, &rec.GroupKey, &rec.CommitRef, &rec.Status,
		&failedStage, &failedVariant, &failedStep, &rec.CreatedAt, &rec.ArchivedAt)
	if err != nil {
		return Record{}, err
	}

	rec.FailedStage = failedStage.String
	rec.FailedVariant = failedVariant.String
	rec.FailedStep = -1
	if failedStep.Valid {
		rec.FailedStep = int(failedStep.Int64)
	}
	return rec, nil
}
