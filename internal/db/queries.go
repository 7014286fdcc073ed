package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lucasnoah/nbuild/internal/pipeline"
)

// Run represents a row in the runs table.
type Run struct {
	ID         int64
	Branch     string
	SHA        string
	Output     string
	State      string
	Verdict    string
	StartedAt  string
	FinishedAt string
	Duration   string
}

// TargetOutcome represents a row in the run_targets table.
type TargetOutcome struct {
	ID       int64
	RunID    int64
	Name     string
	Stage    string
	Layer    int
	Status   string
	Kind     string
	Reason   string
	Attempts int
	Duration string
}

// RecordRun stores a finished run and the outcome of each of its targets
// in one transaction. It returns the new run id.
func (d *DB) RecordRun(ctx context.Context, rep pipeline.Report) (int64, error) {
	full, err := json.Marshal(rep)
	if err != nil {
		return 0, fmt.Errorf("encode report: %w", err)
	}

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, d.rebind(
		`INSERT INTO runs (branch, sha, output, state, verdict, started_at, finished_at, duration, report)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		rep.Branch, rep.SHA, rep.Output, string(rep.State), string(rep.Verdict),
		formatTime(rep.Started), nullString(formatTime(rep.Finished)), rep.Duration, string(full),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}

	insert := d.rebind(
		`INSERT INTO run_targets (run_id, name, stage, layer, status, kind, reason, attempts, duration)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, t := range rep.Targets {
		kind := ""
		if t.Status == pipeline.Failed {
			kind = t.Kind.String()
		}
		_, err := tx.ExecContext(ctx, insert,
			id, t.Name, string(t.Stage), t.Layer, string(t.Status),
			nullString(kind), nullString(t.Reason), t.Attempts, t.Duration,
		)
		if err != nil {
			return 0, fmt.Errorf("insert target %s: %w", t.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit run: %w", err)
	}
	return id, nil
}

// ListRuns returns the most recent runs, newest first.
func (d *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.conn.QueryContext(ctx, d.rebind(
		`SELECT id, branch, sha, output, state, verdict, started_at, finished_at, duration
		 FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var finished, duration sql.NullString
		if err := rows.Scan(&r.ID, &r.Branch, &r.SHA, &r.Output, &r.State, &r.Verdict, &r.StartedAt, &finished, &duration); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.FinishedAt = finished.String
		r.Duration = duration.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRunTargets returns the target outcomes of one run in recorded order.
func (d *DB) GetRunTargets(ctx context.Context, runID int64) ([]TargetOutcome, error) {
	rows, err := d.conn.QueryContext(ctx, d.rebind(
		`SELECT id, run_id, name, stage, layer, status, kind, reason, attempts, duration
		 FROM run_targets WHERE run_id = ? ORDER BY id ASC`),
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get run targets: %w", err)
	}
	defer rows.Close()

	var out []TargetOutcome
	for rows.Next() {
		var t TargetOutcome
		var kind, reason, duration sql.NullString
		if err := rows.Scan(&t.ID, &t.RunID, &t.Name, &t.Stage, &t.Layer, &t.Status, &kind, &reason, &t.Attempts, &duration); err != nil {
			return nil, fmt.Errorf("scan run target: %w", err)
		}
		t.Kind = kind.String
		t.Reason = reason.String
		t.Duration = duration.String
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetReport returns the full stored report of a run, or nil if the run
// does not exist.
func (d *DB) GetReport(ctx context.Context, runID int64) (*pipeline.Report, error) {
	var raw sql.NullString
	err := d.conn.QueryRowContext(ctx, d.rebind(`SELECT report FROM runs WHERE id = ?`), runID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	var rep pipeline.Report
	if err := json.Unmarshal([]byte(raw.String), &rep); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &rep, nil
}

// PruneRuns deletes all but the newest keep runs and returns how many
// were removed.
func (d *DB) PruneRuns(ctx context.Context, keep int) (int64, error) {
	res, err := d.conn.ExecContext(ctx, d.rebind(
		`DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, id DESC LIMIT ?
		)`),
		keep,
	)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
