package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/notepub/internal/apperr"
	"github.com/starford/notepub/internal/checksum"
	"github.com/starford/notepub/internal/publish"
)

// RunRow is one recorded publish run.
type RunRow struct {
	ID           string    `json:"id"`
	Mode         string    `json:"mode"`
	Provider     string    `json:"provider"`
	Target       string    `json:"target,omitempty"`
	Status       string    `json:"status"`
	Total        int       `json:"total"`
	Written      int       `json:"written"`
	Deleted      int       `json:"deleted"`
	Branch       string    `json:"branch,omitempty"`
	MergeRequest int       `json:"merge_request,omitempty"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// ItemRow is one item a run attempted to write.
type ItemRow struct {
	Path   string `json:"path"`
	Kind   string `json:"kind"`
	SHA256 string `json:"sha256"`
}

// Ledger is the read/write surface of the publish history.
type Ledger interface {
	publish.Recorder
	ListRuns(ctx context.Context, limit int) ([]RunRow, error)
	GetRun(ctx context.Context, id string) (*RunRow, []ItemRow, error)
	Close() error
}

var _ Ledger = (*DB)(nil)

// RecordRun stores a finished run and the digests of its items in a
// single transaction.
func (db *DB) RecordRun(ctx context.Context, run publish.Run) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var mr int
	if run.MergeRequest != nil {
		mr = run.MergeRequest.Number
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, mode, provider, target, status, total, written, deleted,
			branch, merge_request, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, string(run.Mode), run.Provider, run.Target, run.Status, run.Total, run.Written,
		run.Deleted, run.Branch, mr, run.Error, run.StartedAt.UTC(), run.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("ledger: insert run: %w", err)
	}

	if len(run.Items) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO run_items (run_id, path, kind, sha256) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("ledger: prepare item insert: %w", err)
		}
		defer stmt.Close()
		for _, it := range run.Items {
			if _, err := stmt.ExecContext(ctx, run.ID, it.Path, string(it.Kind), checksum.Sum(it.Content)); err != nil {
				return fmt.Errorf("ledger: insert item: %w", err)
			}
		}
	}
	return tx.Commit()
}

// ListRuns returns the latest runs, newest first. limit <= 0 means 20.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, mode, provider, target, status, total, written, deleted,
			branch, merge_request, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// GetRun returns a run with its items. It returns apperr.ErrNotFound for an
// unknown id.
func (db *DB) GetRun(ctx context.Context, id string) (*RunRow, []ItemRow, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, mode, provider, target, status, total, written, deleted,
			branch, merge_request, error, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT path, kind, sha256 FROM run_items WHERE run_id = ? ORDER BY path`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("ledger: run items: %w", err)
	}
	defer rows.Close()
	var items []ItemRow
	for rows.Next() {
		var it ItemRow
		if err := rows.Scan(&it.Path, &it.Kind, &it.SHA256); err != nil {
			return nil, nil, err
		}
		items = append(items, it)
	}
	return r, items, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*RunRow, error) {
	var r RunRow
	err := s.Scan(&r.ID, &r.Mode, &r.Provider, &r.Target, &r.Status, &r.Total, &r.Written,
		&r.Deleted, &r.Branch, &r.MergeRequest, &r.Error, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
