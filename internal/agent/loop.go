// Package agent drives the per-run decision loop: build a prompt, obtain one
// structured decision from the model, dispatch it to an executor, record the
// turn, and repeat until a terminal decision or the turn limit.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/rowanlabs/rowan/internal/events"
	"github.com/rowanlabs/rowan/internal/llm"
	"github.com/rowanlabs/rowan/internal/logging"
	"github.com/rowanlabs/rowan/internal/model"
	"github.com/rowanlabs/rowan/internal/prompt"
	"github.com/rowanlabs/rowan/internal/protocol"
)

// DecisionClient obtains one decision per call. *llm.Client satisfies this;
// tests substitute scripted fakes.
type DecisionClient interface {
	Decide(ctx context.Context, cred model.Credential, system, input string) (protocol.Decision, string, error)
}

// KeyResolver supplies the model credential and supports invalidation after
// an upstream auth failure.
type KeyResolver interface {
	Resolve(ctx context.Context, requestKey string) (model.Credential, error)
	Invalidate()
}

// Dispatcher executes one decision inside the run directory.
type Dispatcher interface {
	Dispatch(ctx context.Context, runDir string, turn int, decision protocol.Decision) model.Outcome
}

// Catalog summarizes registered datasets for prompt context.
type Catalog interface {
	Summaries(ctx context.Context) ([]string, error)
}

// TurnStore persists turns as they are recorded.
type TurnStore interface {
	AppendTurn(ctx context.Context, run model.Run, turn model.Turn) error
	UpdateRun(ctx context.Context, run model.Run) error
}

// Loop ties the collaborators together. One Loop serves all runs; per-run
// mutable state lives in State.
type Loop struct {
	Keys       KeyResolver
	Client     DecisionClient
	Dispatcher Dispatcher
	Catalog    Catalog
	Store      TurnStore
	Bus        *events.Bus
	Builder    prompt.Builder
}

// State is one run's mutable loop state. Owned exclusively by the driving
// goroutine while the loop iterates; parked in the manager between
// AwaitingUser suspensions.
type State struct {
	Run         model.Run
	History     []prompt.HistoryItem
	ToolContext string
	RequestKey  string
}

// NewState initializes loop state for a fresh run.
func NewState(run model.Run, requestKey string) *State {
	return &State{
		Run:        run,
		History:    []prompt.HistoryItem{{Role: "user", Content: run.Prompt}},
		RequestKey: requestKey,
	}
}

// AddUserInput appends new user input, used when resuming an awaiting run.
func (s *State) AddUserInput(input string) {
	s.History = append(s.History, prompt.HistoryItem{Role: "user", Content: input})
}

// loop phases. Transitions follow BuildingPrompt → AwaitingDecision →
// Dispatching → Recording, then loop, suspend, or terminate.
type phase int

const (
	phaseBuildingPrompt phase = iota
	phaseAwaitingDecision
	phaseDispatching
	phaseRecording
)

// Run drives the loop until the run terminates or suspends awaiting user
// input. The returned run carries the final status; err is non-nil only for
// persistence failures, never for model or execution errors, which are
// reflected in the run status instead.
func (l *Loop) Run(ctx context.Context, st *State) (model.Run, error) {
	logger := logging.RunLogger(st.Run.ID)

	var (
		ph       = phaseBuildingPrompt
		system   string
		input    string
		decision protocol.Decision
		raw      string
	)

	for {
		switch ph {
		case phaseBuildingPrompt:
			if st.Run.TurnCount >= st.Run.TurnLimit {
				return l.terminate(ctx, st, model.StatusFailed, model.ReasonTurnLimit,
					fmt.Sprintf("stopped after %d turns without a final answer", st.Run.TurnLimit))
			}
			summaries, err := l.Catalog.Summaries(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("catalog summaries unavailable")
			}
			system = l.Builder.System(summaries)
			input = l.Builder.Transcript(st.History, st.ToolContext)
			// The full prompt is large; stream it whole only in debug mode.
			payload := system + "\n" + input
			if !logging.DebugEnabled() {
				payload = clipRunes(payload, 4000)
			}
			l.publish(st.Run.ID, model.EventPromptSent, payload)
			ph = phaseAwaitingDecision

		case phaseAwaitingDecision:
			cred, err := l.Keys.Resolve(ctx, st.RequestKey)
			if err != nil {
				l.publish(st.Run.ID, model.EventError, err.Error())
				return l.terminate(ctx, st, model.StatusFailed, model.ReasonNoKey,
					"no usable API key: supply one in the request, set OPENAI_API_KEY, or configure a key server")
			}

			decision, raw, err = l.Client.Decide(ctx, cred, system, input)
			if errors.Is(err, llm.ErrAuth) {
				// Stale credential; re-resolve once and retry.
				logger.Warn().Msg("credential rejected, re-resolving")
				l.Keys.Invalidate()
				if cred, err = l.Keys.Resolve(ctx, st.RequestKey); err == nil {
					decision, raw, err = l.Client.Decide(ctx, cred, system, input)
				}
			}
			if err != nil {
				return l.failFromDecisionError(ctx, st, err)
			}
			l.publish(st.Run.ID, model.EventLLMResponse, raw)
			st.History = append(st.History, prompt.HistoryItem{Role: "assistant", Content: raw})
			ph = phaseDispatching

		case phaseDispatching:
			if decision.UserMessage != "" {
				l.publish(st.Run.ID, model.EventUserMessage, decision.UserMessage)
			}
			switch decision.Action {
			case protocol.ActionRunJulia:
				l.publish(st.Run.ID, model.EventCodeExecuted, decision.Code)
			case protocol.ActionShell:
				l.publish(st.Run.ID, model.EventShellExecuted, decision.Cmd)
			}
			ph = phaseRecording

		case phaseRecording:
			outcome := l.Dispatcher.Dispatch(ctx, st.Run.Dir, st.Run.TurnCount, decision)
			turn := model.Turn{
				Index:       st.Run.TurnCount,
				Action:      decision.Action,
				UserMessage: decision.UserMessage,
				Input:       decision.Input(),
				Outcome:     outcome,
				At:          time.Now().UTC(),
			}
			st.Run.TurnCount++
			st.Run.Turns = append(st.Run.Turns, turn)

			switch decision.Action {
			case protocol.ActionRunJulia, protocol.ActionShell:
				l.publish(st.Run.ID, model.EventExecutionResult, outcomeJSON(outcome))
				// Fold the outcome into history so the model can recover
				// from its own failures on the next turn.
				st.History = append(st.History, prompt.HistoryItem{
					Role:    "tool",
					Content: fmt.Sprintf("%s -> %s", decision.Action, outcome.Message),
				})
				st.ToolContext = outcomeJSON(outcome)
				if err := l.Store.AppendTurn(ctx, st.Run, turn); err != nil {
					return st.Run, fmt.Errorf("record turn: %w", err)
				}
				ph = phaseBuildingPrompt

			case protocol.ActionMoreFromUser:
				st.Run.Status = model.StatusAwaitingUser
				l.publish(st.Run.ID, model.EventQuestion, decision.Question)
				st.History = append(st.History, prompt.HistoryItem{Role: "assistant", Content: "question: " + decision.Question})
				if err := l.Store.AppendTurn(ctx, st.Run, turn); err != nil {
					return st.Run, fmt.Errorf("record turn: %w", err)
				}
				logger.Info().Int("turns", st.Run.TurnCount).Msg("run awaiting user input")
				return st.Run, nil

			case protocol.ActionFinal:
				st.Run.Status = model.StatusCompleted
				st.Run.Output = decision.UserOutput
				if err := l.Store.AppendTurn(ctx, st.Run, turn); err != nil {
					return st.Run, fmt.Errorf("record turn: %w", err)
				}
				l.publish(st.Run.ID, model.EventRunCompleted, decision.UserOutput)
				logger.Info().Int("turns", st.Run.TurnCount).Msg("run completed")
				return st.Run, nil
			}
		}
	}
}

// terminate marks the run failed (or completed) with a reason, persists it,
// and emits the terminal event.
func (l *Loop) terminate(ctx context.Context, st *State, status, reason, message string) (model.Run, error) {
	st.Run.Status = status
	st.Run.Reason = reason
	st.Run.Output = message
	l.publish(st.Run.ID, model.EventRunCompleted, message)
	if err := l.Store.UpdateRun(ctx, st.Run); err != nil {
		return st.Run, fmt.Errorf("persist terminal run: %w", err)
	}
	log.Info().Str("run_id", st.Run.ID).Str("status", status).Str("reason", reason).Msg("run terminated")
	return st.Run, nil
}

func (l *Loop) failFromDecisionError(ctx context.Context, st *State, err error) (model.Run, error) {
	l.publish(st.Run.ID, model.EventError, err.Error())
	reason := model.ReasonNoDecision
	message := err.Error()
	switch {
	case errors.Is(err, llm.ErrUnreachable):
		reason = model.ReasonTransport
		message = "could not reach the model: " + err.Error()
	case errors.Is(err, llm.ErrAuth):
		reason = model.ReasonNoKey
		message = "the model API rejected every resolved credential"
	case errors.Is(err, context.Canceled):
		reason = model.ReasonUserStopped
		message = "run cancelled"
	}
	return l.terminate(ctx, st, model.StatusFailed, reason, message)
}

func (l *Loop) publish(runID, eventType, payload string) {
	l.Bus.Publish(model.DebugEvent{RunID: runID, Type: eventType, Payload: payload})
}

// clipRunes shortens s to at most n bytes plus an ellipsis, backing up to a
// rune boundary so the cut never produces invalid UTF-8.
func clipRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}

func outcomeJSON(outcome model.Outcome) string {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Sprintf(`{"ok":false,"error":%q}`, err.Error())
	}
	return string(data)
}
