// Package record persists the per-round audit trail of a refinement run in
// an embedded SQLite database. Each row captures one round end to end so a
// finished run can be replayed without the original processes.
package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"sceneloop/internal/protocol"
)

// ErrNotFound is returned when a run has no recorded rounds.
var ErrNotFound = errors.New("record: run not found")

// Round is one recorded refinement round. Round 0 is the baseline render of
// the initial code, before any generator call.
type Round struct {
	RunID     string
	Round     int
	Artifact  protocol.Artifact
	RenderRef string
	Feedback  protocol.Feedback
	Evidence  []protocol.Evidence
	At        time.Time
}

// RunSummary is the terminal state of a recorded run.
type RunSummary struct {
	RunID      string
	Status     string
	RoundsUsed int
	FinalScore *float64
	StartedAt  time.Time
	FinishedAt time.Time
}

// Store owns the database handle. Safe for concurrent use; SQLite access is
// serialized through a single connection.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS rounds (
	run_id     TEXT NOT NULL,
	round      INTEGER NOT NULL,
	artifact   TEXT NOT NULL,
	render_ref TEXT NOT NULL,
	feedback   TEXT NOT NULL,
	evidence   TEXT NOT NULL,
	at         TEXT NOT NULL,
	PRIMARY KEY (run_id, round)
);
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	rounds_used INTEGER NOT NULL,
	final_score REAL,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL
);
`

// Open creates or opens the record database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("record: open %s: %w", path, err)
	}
	// modernc sqlite handles one writer; cap the pool to avoid SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("record: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// SaveRound upserts one round. Re-recording a round replaces the prior row,
// so retried rounds keep a single authoritative entry.
func (s *Store) SaveRound(ctx context.Context, r Round) error {
	artifact, err := json.Marshal(r.Artifact)
	if err != nil {
		return fmt.Errorf("record: encode artifact: %w", err)
	}
	feedback, err := json.Marshal(r.Feedback)
	if err != nil {
		return fmt.Errorf("record: encode feedback: %w", err)
	}
	evidence, err := json.Marshal(r.Evidence)
	if err != nil {
		return fmt.Errorf("record: encode evidence: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rounds (run_id, round, artifact, render_ref, feedback, evidence, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, round) DO UPDATE SET
			artifact = excluded.artifact,
			render_ref = excluded.render_ref,
			feedback = excluded.feedback,
			evidence = excluded.evidence,
			at = excluded.at`,
		r.RunID, r.Round, string(artifact), r.RenderRef, string(feedback), string(evidence),
		r.At.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record: save round %d: %w", r.Round, err)
	}
	return nil
}

// SaveSummary records the terminal state of a run.
func (s *Store) SaveSummary(ctx context.Context, sum RunSummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, status, rounds_used, final_score, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET
			status = excluded.status,
			rounds_used = excluded.rounds_used,
			final_score = excluded.final_score,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at`,
		sum.RunID, sum.Status, sum.RoundsUsed, sum.FinalScore,
		sum.StartedAt.UTC().Format(time.RFC3339Nano),
		sum.FinishedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record: save summary: %w", err)
	}
	return nil
}

// Rounds loads every recorded round of a run in round order.
func (s *Store) Rounds(ctx context.Context, runID string) ([]Round, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT round, artifact, render_ref, feedback, evidence, at
		FROM rounds WHERE run_id = ? ORDER BY round`, runID)
	if err != nil {
		return nil, fmt.Errorf("record: load rounds: %w", err)
	}
	defer rows.Close()

	var out []Round
	for rows.Next() {
		r := Round{RunID: runID}
		var artifact, feedback, evidence, at string
		if err := rows.Scan(&r.Round, &artifact, &r.RenderRef, &feedback, &evidence, &at); err != nil {
			return nil, fmt.Errorf("record: scan round: %w", err)
		}
		if err := json.Unmarshal([]byte(artifact), &r.Artifact); err != nil {
			return nil, fmt.Errorf("record: decode artifact: %w", err)
		}
		if err := json.Unmarshal([]byte(feedback), &r.Feedback); err != nil {
			return nil, fmt.Errorf("record: decode feedback: %w", err)
		}
		if err := json.Unmarshal([]byte(evidence), &r.Evidence); err != nil {
			return nil, fmt.Errorf("record: decode evidence: %w", err)
		}
		if r.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("record: decode timestamp: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("record: load rounds: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// Summary loads the terminal state of a run.
func (s *Store) Summary(ctx context.Context, runID string) (RunSummary, error) {
	sum := RunSummary{RunID: runID}
	var started, finished string
	err := s.db.QueryRowContext(ctx, `
		SELECT status, rounds_used, final_score, started_at, finished_at
		FROM runs WHERE run_id = ?`, runID).
		Scan(&sum.Status, &sum.RoundsUsed, &sum.FinalScore, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return RunSummary{}, ErrNotFound
	}
	if err != nil {
		return RunSummary{}, fmt.Errorf("record: load summary: %w", err)
	}
	if sum.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return RunSummary{}, fmt.Errorf("record: decode started_at: %w", err)
	}
	if sum.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return RunSummary{}, fmt.Errorf("record: decode finished_at: %w", err)
	}
	return sum, nil
}

// Runs lists all recorded run summaries, newest first.
func (s *Store) Runs(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, status, rounds_used, final_score, started_at, finished_at
		FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("record: list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var sum RunSummary
		var started, finished string
		if err := rows.Scan(&sum.RunID, &sum.Status, &sum.RoundsUsed, &sum.FinalScore, &started, &finished); err != nil {
			return nil, fmt.Errorf("record: scan run: %w", err)
		}
		if sum.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("record: decode started_at: %w", err)
		}
		if sum.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("record: decode finished_at: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}
