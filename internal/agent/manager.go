package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rowanlabs/rowan/internal/model"
)

// ErrRunBusy is returned when input arrives for a run whose loop is still
// executing a turn.
var ErrRunBusy = errors.New("run is still executing")

// ErrUnknownRun is returned when a resume targets a run that is neither
// parked nor known.
var ErrUnknownRun = errors.New("unknown run")

// RunStore is the persistence surface the manager needs beyond TurnStore.
type RunStore interface {
	TurnStore
	CreateRun(ctx context.Context, run model.Run) error
}

// Manager owns run lifecycles: it creates run records and sandbox
// directories, drives each run's loop on its own goroutine, and parks runs
// that suspend awaiting user input so a follow-up submission can resume them.
type Manager struct {
	Loop      *Loop
	Store     RunStore
	RunsDir   string
	TurnLimit int

	mu      sync.Mutex
	parked  map[string]*State
	running map[string]struct{}
}

// NewManager creates a run manager.
func NewManager(loop *Loop, store RunStore, runsDir string, turnLimit int) *Manager {
	return &Manager{
		Loop:      loop,
		Store:     store,
		RunsDir:   runsDir,
		TurnLimit: turnLimit,
		parked:    make(map[string]*State),
		running:   make(map[string]struct{}),
	}
}

// Submit starts a new run, or resumes a parked one when runID names a run
// that is awaiting user input. The loop runs on its own goroutine; the
// returned id is available immediately for event subscription.
func (m *Manager) Submit(ctx context.Context, promptText, fileInfo, apiKey, runID string) (string, error) {
	if runID != "" {
		return m.resume(runID, promptText)
	}

	input := promptText
	if fileInfo != "" {
		input = promptText + "\n\nAttached file info:\n" + fileInfo
	}

	id := uuid.NewString()
	dir := filepath.Join(m.RunsDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}

	run := model.Run{
		ID:        id,
		Status:    model.StatusActive,
		Prompt:    input,
		Dir:       dir,
		TurnLimit: m.TurnLimit,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.Store.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}

	st := NewState(run, apiKey)
	m.start(st)
	return id, nil
}

func (m *Manager) resume(runID, input string) (string, error) {
	m.mu.Lock()
	if _, busy := m.running[runID]; busy {
		m.mu.Unlock()
		return "", ErrRunBusy
	}
	st, ok := m.parked[runID]
	if ok {
		delete(m.parked, runID)
	}
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}

	st.AddUserInput(input)
	st.Run.Status = model.StatusActive
	m.Loop.Bus.Publish(model.DebugEvent{RunID: runID, Type: model.EventUserMessage, Payload: input})
	m.start(st)
	return runID, nil
}

// start marks the run running and drives its loop to the next suspension or
// terminal state on a fresh goroutine. Runs outlive the submitting request,
// so the loop gets a background context.
func (m *Manager) start(st *State) {
	id := st.Run.ID
	m.mu.Lock()
	m.running[id] = struct{}{}
	m.mu.Unlock()

	m.Loop.Bus.Publish(model.DebugEvent{RunID: id, Type: model.EventRunStarted, Payload: st.Run.Prompt})

	go func() {
		run, err := m.Loop.Run(context.Background(), st)
		if err != nil {
			log.Error().Err(err).Str("run_id", id).Msg("run loop aborted")
		}

		m.mu.Lock()
		delete(m.running, id)
		if run.Status == model.StatusAwaitingUser {
			m.parked[id] = st
		}
		m.mu.Unlock()
	}()
}

// Awaiting reports whether the run is parked awaiting user input.
func (m *Manager) Awaiting(runID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.parked[runID]
	return ok
}

// Active reports whether the run's loop is currently executing.
func (m *Manager) Active(runID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[runID]
	return ok
}
