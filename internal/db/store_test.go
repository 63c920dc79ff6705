package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowanlabs/rowan/internal/model"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbh, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbh.Close() })
	return dbh
}

func sampleRun(id string) model.Run {
	return model.Run{
		ID:        id,
		Status:    model.StatusActive,
		Prompt:    "what is 2+2?",
		Dir:       "/tmp/" + id,
		TurnLimit: 50,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestStore_RunLifecycle(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()

	run := sampleRun("run-1")
	require.NoError(t, store.CreateRun(ctx, run))

	run.Status = model.StatusActive
	run.TurnCount = 1
	turn := model.Turn{
		Index:       0,
		Action:      "run_julia",
		UserMessage: "Computing",
		Input:       "println(2+2)",
		Outcome:     model.Outcome{Ok: true, Message: "4\n", Stdout: "4\n", Elapsed: 120 * time.Millisecond},
		At:          time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.AppendTurn(ctx, run, turn))

	run.Status = model.StatusCompleted
	run.Output = "The answer is 4."
	run.TurnCount = 2
	final := model.Turn{
		Index:   1,
		Action:  "final",
		Outcome: model.Outcome{Ok: true, Message: "The answer is 4."},
		At:      time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.AppendTurn(ctx, run, final))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, "The answer is 4.", got.Output)
	assert.Equal(t, 2, got.TurnCount)
	require.Len(t, got.Turns, 2)
	assert.Equal(t, "run_julia", got.Turns[0].Action)
	assert.Equal(t, "println(2+2)", got.Turns[0].Input)
	assert.True(t, got.Turns[0].Outcome.Ok)
	assert.Equal(t, 120*time.Millisecond, got.Turns[0].Outcome.Elapsed)
	assert.Equal(t, "final", got.Turns[1].Action)
}

func TestStore_GetRunMissing(t *testing.T) {
	store := NewStore(openTestDB(t))
	_, err := store.GetRun(context.Background(), "nope")
	assert.True(t, errors.Is(err, sql.ErrNoRows), "err = %v", err)
}

func TestStore_UpdateRun(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()

	run := sampleRun("run-2")
	require.NoError(t, store.CreateRun(ctx, run))

	run.Status = model.StatusFailed
	run.Reason = model.ReasonTurnLimit
	run.Output = "stopped after 50 turns without a final answer"
	require.NoError(t, store.UpdateRun(ctx, run))

	got, err := store.GetRun(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, model.ReasonTurnLimit, got.Reason)
}

func TestStore_ListRunsNewestFirst(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()

	old := sampleRun("run-old")
	old.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.CreateRun(ctx, old))
	require.NoError(t, store.CreateRun(ctx, sampleRun("run-new")))

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-new", runs[0].ID)
	assert.Equal(t, "run-old", runs[1].ID)
	assert.Empty(t, runs[0].Turns, "list omits turn history")

	limited, err := store.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStore_TurnsCascadeOnRunDelete(t *testing.T) {
	dbh := openTestDB(t)
	store := NewStore(dbh)
	ctx := context.Background()

	run := sampleRun("run-3")
	require.NoError(t, store.CreateRun(ctx, run))
	run.TurnCount = 1
	require.NoError(t, store.AppendTurn(ctx, run, model.Turn{Index: 0, Action: "final", At: time.Now().UTC()}))

	_, err := dbh.ExecContext(ctx, `DELETE FROM runs WHERE run_id='run-3'`)
	require.NoError(t, err)

	var n int
	require.NoError(t, dbh.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns WHERE run_id='run-3'`).Scan(&n))
	assert.Zero(t, n, "turns should cascade with their run")
}
