package evidence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
)

// artifact line shapes. Each exported line carries a type tag so consumers
// can stream-filter without parsing every field.
type runLine struct {
	Type     string   `json:"type"`
	RunID    string   `json:"run_id"`
	Stage    string   `json:"stage"`
	Input    string   `json:"input"`
	Roster   []string `json:"roster"`
	Status   string   `json:"status"`
	Started  string   `json:"started_at"`
	Finished string   `json:"finished_at,omitempty"`
}

type outcomeLine struct {
	Type       string `json:"type"`
	Agent      string `json:"agent"`
	Attempts   int    `json:"attempts"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Error      string `json:"error,omitempty"`
}

type synthesisLine struct {
	Type         string   `json:"type"`
	Level        string   `json:"level"`
	Score        float64  `json:"score"`
	Degraded     bool     `json:"degraded"`
	Content      string   `json:"content,omitempty"`
	Contributing []string `json:"contributing"`
	Notes        []string `json:"notes,omitempty"`
}

// ExportRun writes one run as a JSONL artifact: a run line, one line per
// agent outcome in insertion order, and a synthesis line when one was
// recorded.
func (s *Store) ExportRun(ctx context.Context, runID string, w io.Writer) error {
	var (
		line       runLine
		rosterJSON string
		startedAt  string
		finishedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT stage, input, roster_json, status, started_at, finished_at
		FROM runs
		WHERE run_id = ?`,
		runID,
	).Scan(&line.Stage, &line.Input, &rosterJSON, &line.Status, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return err
	}

	line.Type = "run"
	line.RunID = runID
	line.Started = startedAt
	if finishedAt.Valid {
		line.Finished = finishedAt.String
	}
	if err := json.Unmarshal([]byte(rosterJSON), &line.Roster); err != nil {
		return fmt.Errorf("run %s: corrupt roster: %w", runID, err)
	}

	enc := json.NewEncoder(w)
	if err := enc.Encode(line); err != nil {
		return err
	}

	outcomes, err := s.Outcomes(ctx, runID)
	if err != nil {
		return err
	}
	for _, o := range outcomes {
		ol := outcomeLine{
			Type:       "outcome",
			Agent:      o.Agent,
			Attempts:   o.Attempts,
			ExitCode:   o.ExitCode,
			DurationMs: o.DurationMs,
			Stdout:     o.Stdout,
			Stderr:     o.Stderr,
			ErrorKind:  o.ErrorKind,
			Error:      o.Error,
		}
		if err := enc.Encode(ol); err != nil {
			return err
		}
	}

	syn, ok, err := s.synthesis(ctx, runID)
	if err != nil {
		return err
	}
	if ok {
		if err := enc.Encode(syn); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) synthesis(ctx context.Context, runID string) (synthesisLine, bool, error) {
	var (
		line             synthesisLine
		degraded         int
		content          sql.NullString
		contributingJSON string
		notesJSON        sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT level, score, degraded, content, contributing_json, notes_json
		FROM syntheses
		WHERE run_id = ?`,
		runID,
	).Scan(&line.Level, &line.Score, &degraded, &content, &contributingJSON, &notesJSON)
	if err == sql.ErrNoRows {
		return line, false, nil
	}
	if err != nil {
		return line, false, err
	}

	line.Type = "synthesis"
	line.Degraded = degraded != 0
	line.Content = content.String
	if err := json.Unmarshal([]byte(contributingJSON), &line.Contributing); err != nil {
		return line, false, fmt.Errorf("run %s: corrupt contributing list: %w", runID, err)
	}
	if notesJSON.Valid && notesJSON.String != "" {
		if err := json.Unmarshal([]byte(notesJSON.String), &line.Notes); err != nil {
			return line, false, fmt.Errorf("run %s: corrupt notes: %w", runID, err)
		}
	}
	return line, true, nil
}
