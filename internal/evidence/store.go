// Package evidence persists what every stage run did: per-agent outcomes
// as they were scheduled, and the synthesized consensus with its agreement
// score. The record is the audit trail for "why did the pipeline decide
// that", so rows are append-only and nothing here is ever read back into
// the decision path.
package evidence

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	errs "github.com/quorumlabs/quorum/internal/errors"
)

// maxCapturedOutput bounds how much of each stream one outcome row keeps.
const maxCapturedOutput = 256 * 1024

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// RunRecord describes one stage invocation.
type RunRecord struct {
	RunID     string
	Stage     string
	Input     string
	Roster    []string
	StartedAt time.Time
}

// OutcomeRecord is one agent's final disposition within a run.
type OutcomeRecord struct {
	RunID      string
	Agent      string
	Attempts   int
	ExitCode   int
	DurationMs int64
	Stdout     string
	Stderr     string
	ErrorKind  string // "" on success
	Error      string // "" on success
}

// SynthesisRecord is the consensus produced for a run.
type SynthesisRecord struct {
	RunID        string
	Level        string
	Score        float64
	Degraded     bool
	Content      string
	Contributing []string
	Notes        []string
}

// RunSummary is a compact view of a recorded run for listings.
type RunSummary struct {
	RunID    string
	Stage    string
	Status   string
	Level    string
	Score    float64
	Degraded bool
	Started  time.Time
	Finished time.Time
}

// Store is a SQLite-backed evidence recorder.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the evidence database at path and
// ensures the schema exists. The parent directory is created.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errs.NewEvidenceError("failed to create evidence directory", err).WithPath(path)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.NewEvidenceError("failed to open database", err).WithPath(path)
	}

	s := &Store{db: db}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, errs.NewEvidenceError("failed to initialize schema", err).WithPath(path)
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	ddl := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL UNIQUE,
			stage TEXT NOT NULL,
			input TEXT NOT NULL,
			roster_json TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			status TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS outcomes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			agent TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			exit_code INTEGER,
			duration_ms INTEGER NOT NULL,
			stdout TEXT,
			stderr TEXT,
			error_kind TEXT,
			error TEXT,
			created_at TEXT NOT NULL,
			FOREIGN KEY(run_id) REFERENCES runs(run_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_run_id ON outcomes(run_id);`,
		`CREATE TABLE IF NOT EXISTS syntheses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL UNIQUE,
			level TEXT NOT NULL,
			score REAL NOT NULL,
			degraded INTEGER NOT NULL,
			content TEXT,
			contributing_json TEXT NOT NULL,
			notes_json TEXT,
			created_at TEXT NOT NULL,
			FOREIGN KEY(run_id) REFERENCES runs(run_id)
		);`,
	}

	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateRun records a new stage invocation in status running.
func (s *Store) CreateRun(ctx context.Context, run RunRecord) error {
	roster, err := json.Marshal(run.Roster)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, stage, input, roster_json, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunID,
		run.Stage,
		run.Input,
		string(roster),
		run.StartedAt.UTC().Format(time.RFC3339),
		StatusRunning,
	)
	return err
}

// FinishRun stamps a run's terminal status.
func (s *Store) FinishRun(ctx context.Context, runID, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, finished_at = ?
		WHERE run_id = ?`,
		status,
		time.Now().UTC().Format(time.RFC3339),
		runID,
	)
	return err
}

// AddOutcomes records every agent's final disposition for a run in one
// transaction.
func (s *Store) AddOutcomes(ctx context.Context, outcomes []OutcomeRecord) error {
	if len(outcomes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO outcomes (run_id, agent, attempts, exit_code, duration_ms, stdout, stderr, error_kind, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, o := range outcomes {
		if _, err := stmt.ExecContext(ctx,
			o.RunID,
			o.Agent,
			o.Attempts,
			o.ExitCode,
			o.DurationMs,
			clip(o.Stdout),
			clip(o.Stderr),
			o.ErrorKind,
			o.Error,
			now,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// AddSynthesis records the consensus produced for a run.
func (s *Store) AddSynthesis(ctx context.Context, syn SynthesisRecord) error {
	contributing, err := json.Marshal(syn.Contributing)
	if err != nil {
		return err
	}
	notes, err := json.Marshal(syn.Notes)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO syntheses (run_id, level, score, degraded, content, contributing_json, notes_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		syn.RunID,
		syn.Level,
		syn.Score,
		boolToInt(syn.Degraded),
		syn.Content,
		string(contributing),
		string(notes),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// ListRuns returns the most recent runs, newest first, joined with their
// synthesis when one was recorded.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, r.stage, r.status, r.started_at, r.finished_at,
		       s.level, s.score, s.degraded
		FROM runs r
		LEFT JOIN syntheses s ON s.run_id = r.run_id
		ORDER BY r.started_at DESC, r.id DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []RunSummary
	for rows.Next() {
		var (
			sum        RunSummary
			startedAt  string
			finishedAt sql.NullString
			level      sql.NullString
			score      sql.NullFloat64
			degraded   sql.NullInt64
		)
		if err := rows.Scan(&sum.RunID, &sum.Stage, &sum.Status, &startedAt, &finishedAt,
			&level, &score, &degraded); err != nil {
			return nil, err
		}
		sum.Started, _ = time.Parse(time.RFC3339, startedAt)
		if finishedAt.Valid {
			sum.Finished, _ = time.Parse(time.RFC3339, finishedAt.String)
		}
		if level.Valid {
			sum.Level = level.String
		}
		if score.Valid {
			sum.Score = score.Float64
		}
		if degraded.Valid {
			sum.Degraded = degraded.Int64 != 0
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// Outcomes returns every recorded outcome for a run, in insertion order.
func (s *Store) Outcomes(ctx context.Context, runID string) ([]OutcomeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent, attempts, exit_code, duration_ms, stdout, stderr, error_kind, error
		FROM outcomes
		WHERE run_id = ?
		ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []OutcomeRecord
	for rows.Next() {
		o := OutcomeRecord{RunID: runID}
		var (
			exitCode sql.NullInt64
			stdout   sql.NullString
			stderr   sql.NullString
			kind     sql.NullString
			errText  sql.NullString
		)
		if err := rows.Scan(&o.Agent, &o.Attempts, &exitCode, &o.DurationMs,
			&stdout, &stderr, &kind, &errText); err != nil {
			return nil, err
		}
		if exitCode.Valid {
			o.ExitCode = int(exitCode.Int64)
		}
		o.Stdout = stdout.String
		o.Stderr = stderr.String
		o.ErrorKind = kind.String
		o.Error = errText.String
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// clip keeps the first maxCapturedOutput bytes of a stream capture.
func clip(s string) string {
	if len(s) <= maxCapturedOutput {
		return s
	}
	return s[:maxCapturedOutput]
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
