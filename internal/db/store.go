package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rowanlabs/rowan/internal/model"
)

// Store provides persistence for runs and their turn history.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an opened database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// CreateRun inserts the run record.
func (s *Store) CreateRun(ctx context.Context, run model.Run) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs(run_id, created_at, prompt, status, reason, output, turn_count, turn_limit, run_dir)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UTC().Format(time.RFC3339), run.Prompt, run.Status,
		nullableString(run.Reason), nullableString(run.Output), run.TurnCount, run.TurnLimit, run.Dir)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// AppendTurn records one completed turn and updates the run's counters and
// status in a single transaction.
func (s *Store) AppendTurn(ctx context.Context, run model.Run, turn model.Turn) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin append turn: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO turns(run_id, turn_index, action, user_message, input, ok, message, stdout, stderr, exit_code, elapsed_ms, error, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, turn.Index, turn.Action, nullableString(turn.UserMessage), nullableString(turn.Input),
		boolToInt(turn.Outcome.Ok), nullableString(turn.Outcome.Message),
		nullableString(turn.Outcome.Stdout), nullableString(turn.Outcome.Stderr),
		turn.Outcome.ExitCode, turn.Outcome.Elapsed.Milliseconds(), nullableString(turn.Outcome.Err),
		turn.At.UTC().Format(time.RFC3339)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert turn: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET status=?, reason=?, output=?, turn_count=? WHERE run_id=?`,
		run.Status, nullableString(run.Reason), nullableString(run.Output), run.TurnCount, run.ID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append turn: %w", err)
	}
	return nil
}

// UpdateRun persists the run's status, reason, output, and turn count.
func (s *Store) UpdateRun(ctx context.Context, run model.Run) error {
	_, err := s.db.ExecContext(ctx, `UPDATE runs SET status=?, reason=?, output=?, turn_count=? WHERE run_id=?`,
		run.Status, nullableString(run.Reason), nullableString(run.Output), run.TurnCount, run.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// GetRun loads one run with its full turn history. Returns sql.ErrNoRows
// wrapped when the run does not exist.
func (s *Store) GetRun(ctx context.Context, runID string) (model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT run_id, created_at, prompt, status, reason, output, turn_count, turn_limit, run_dir
		FROM runs WHERE run_id=?`, runID)
	run, err := scanRun(row)
	if err != nil {
		return model.Run{}, fmt.Errorf("read run %s: %w", runID, err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT turn_index, action, user_message, input, ok, message, stdout, stderr, exit_code, elapsed_ms, error, created_at
		FROM turns WHERE run_id=? ORDER BY turn_index`, runID)
	if err != nil {
		return model.Run{}, fmt.Errorf("read turns: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var t model.Turn
		var userMsg, input, message, stdout, stderr, errMsg sql.NullString
		var ok, elapsedMS int64
		var createdAt string
		if err := rows.Scan(&t.Index, &t.Action, &userMsg, &input, &ok, &message, &stdout, &stderr,
			&t.Outcome.ExitCode, &elapsedMS, &errMsg, &createdAt); err != nil {
			return model.Run{}, fmt.Errorf("scan turn: %w", err)
		}
		t.UserMessage = userMsg.String
		t.Input = input.String
		t.Outcome.Ok = ok != 0
		t.Outcome.Message = message.String
		t.Outcome.Stdout = stdout.String
		t.Outcome.Stderr = stderr.String
		t.Outcome.Err = errMsg.String
		t.Outcome.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		t.At, _ = time.Parse(time.RFC3339, createdAt)
		run.Turns = append(run.Turns, t)
	}
	if err := rows.Err(); err != nil {
		return model.Run{}, fmt.Errorf("iterate turns: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first, without turn history.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, created_at, prompt, status, reason, output, turn_count, turn_limit, run_dir
		FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (model.Run, error) {
	var run model.Run
	var reason, output sql.NullString
	var createdAt string
	if err := row.Scan(&run.ID, &createdAt, &run.Prompt, &run.Status, &reason, &output,
		&run.TurnCount, &run.TurnLimit, &run.Dir); err != nil {
		return model.Run{}, err
	}
	run.Reason = reason.String
	run.Output = output.String
	run.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return run, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
