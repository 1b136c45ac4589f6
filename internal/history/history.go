// Package history keeps a log of autofocus runs in a SQLite database.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Skilledcamman/Automated-Microscopy/internal/debug"
	"github.com/Skilledcamman/Automated-Microscopy/internal/sweep"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at     TEXT NOT NULL,
	total_steps    INTEGER NOT NULL,
	step_chunk     INTEGER NOT NULL,
	best_index     INTEGER NOT NULL,
	best_position  INTEGER NOT NULL,
	final_position INTEGER NOT NULL,
	stops          INTEGER NOT NULL,
	skipped        INTEGER NOT NULL,
	score_mean     REAL NOT NULL,
	score_std      REAL NOT NULL,
	score_min      REAL NOT NULL,
	score_max      REAL NOT NULL,
	video_path     TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS run_records (
	run_id    INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	idx       INTEGER NOT NULL,
	requested INTEGER NOT NULL,
	actual    INTEGER NOT NULL,
	score     REAL NOT NULL,
	PRIMARY KEY (run_id, idx)
);
`

// Run is one logged autofocus run.
type Run struct {
	ID            int64
	StartedAt     time.Time
	TotalSteps    int64
	StepChunk     int64
	BestIndex     int
	BestPosition  int64
	FinalPosition int64
	Stops         int
	Skipped       int
	Scores        sweep.Summary
	VideoPath     string
}

// DB wraps the run log database.
type DB struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db %s: %w", path, err)
	}
	// modernc sqlite serializes writes itself; one connection avoids
	// SQLITE_BUSY on concurrent handler calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	debug.Info("Run history at %s", path)
	return &DB{db: db}, nil
}

// Close closes the database.
func (h *DB) Close() error { return h.db.Close() }

// RecordRun stores a completed sweep with its per-stop records and returns
// the new run id.
func (h *DB) RecordRun(ctx context.Context, startedAt time.Time, cfg sweep.Config, res *sweep.Result, videoPath string) (int64, error) {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin run insert: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO runs (started_at, total_steps, step_chunk, best_index,
			best_position, final_position, stops, skipped,
			score_mean, score_std, score_min, score_max, video_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		startedAt.UTC().Format(time.RFC3339Nano),
		cfg.TotalSteps, cfg.StepChunk,
		res.BestIndex, res.BestPosition, res.FinalPosition,
		len(res.Records), res.Skipped,
		res.Scores.Mean, res.Scores.Std, res.Scores.Min, res.Scores.Max,
		videoPath)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("run id: %w", err)
	}

	for i, rec := range res.Records {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_records (run_id, idx, requested, actual, score)
			VALUES (?, ?, ?, ?, ?)`,
			id, i, rec.Requested, rec.Actual, rec.Score); err != nil {
			return 0, fmt.Errorf("insert record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit run: %w", err)
	}
	return id, nil
}

// ListRuns returns the most recent runs, newest first.
func (h *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, started_at, total_steps, step_chunk, best_index,
			best_position, final_position, stops, skipped,
			score_mean, score_std, score_min, score_max, video_path
		FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started string
		if err := rows.Scan(&r.ID, &started, &r.TotalSteps, &r.StepChunk,
			&r.BestIndex, &r.BestPosition, &r.FinalPosition, &r.Stops, &r.Skipped,
			&r.Scores.Mean, &r.Scores.Std, &r.Scores.Min, &r.Scores.Max,
			&r.VideoPath); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parse run %d timestamp %q: %w", r.ID, started, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunRecords returns the per-stop records of one run in sweep order.
func (h *DB) RunRecords(ctx context.Context, runID int64) ([]sweep.Record, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT requested, actual, score FROM run_records
		WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("load records for run %d: %w", runID, err)
	}
	defer rows.Close()

	var recs []sweep.Record
	for rows.Next() {
		var rec sweep.Record
		if err := rows.Scan(&rec.Requested, &rec.Actual, &rec.Score); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
