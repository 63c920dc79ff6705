// Package model defines the core run, turn, and event types shared across rowan.
package model

import (
	"encoding/json"
	"time"
)

// Run statuses. A run is terminal once it reaches StatusCompleted or
// StatusFailed; StatusAwaitingUser suspends the loop until the client
// resubmits with the same run id.
const (
	StatusActive       = "active"
	StatusAwaitingUser = "awaiting_user"
	StatusCompleted    = "completed"
	StatusFailed       = "failed"
)

// Terminal reasons recorded on failed runs so callers can distinguish
// infrastructure failure from policy rejection.
const (
	ReasonTurnLimit   = "turn limit exceeded"
	ReasonNoKey       = "no usable API key"
	ReasonTransport   = "could not reach the model"
	ReasonNoDecision  = "could not obtain a usable answer"
	ReasonUserStopped = "cancelled"
)

// Run is one end-to-end processing of a user request through the agent loop.
type Run struct {
	ID        string    `json:"run_id"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Prompt    string    `json:"prompt"`
	Dir       string    `json:"-"`
	Turns     []Turn    `json:"turns,omitempty"`
	TurnCount int       `json:"turn_count"`
	TurnLimit int       `json:"turn_limit"`
	Output    string    `json:"output,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Turn is one decision+outcome pair within a run. Immutable once recorded.
type Turn struct {
	Index       int       `json:"index"`
	Action      string    `json:"action"`
	UserMessage string    `json:"user_message,omitempty"`
	Input       string    `json:"input,omitempty"` // code or cmd that was executed
	Outcome     Outcome   `json:"outcome"`
	At          time.Time `json:"at"`
}

// Outcome is the normalized result of executing a decision. Elapsed
// serializes as whole milliseconds under elapsed_ms, the same unit the run
// store records.
type Outcome struct {
	Ok       bool
	Message  string
	Stdout   string
	Stderr   string
	ExitCode int
	Elapsed  time.Duration
	Err      string
}

// outcomeWire is the JSON form of Outcome.
type outcomeWire struct {
	Ok        bool   `json:"ok"`
	Message   string `json:"message"`
	Stdout    string `json:"stdout,omitempty"`
	Stderr    string `json:"stderr,omitempty"`
	ExitCode  int    `json:"exit_code"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Err       string `json:"error,omitempty"`
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(outcomeWire{
		Ok:        o.Ok,
		Message:   o.Message,
		Stdout:    o.Stdout,
		Stderr:    o.Stderr,
		ExitCode:  o.ExitCode,
		ElapsedMS: o.Elapsed.Milliseconds(),
		Err:       o.Err,
	})
}

func (o *Outcome) UnmarshalJSON(data []byte) error {
	var w outcomeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*o = Outcome{
		Ok:       w.Ok,
		Message:  w.Message,
		Stdout:   w.Stdout,
		Stderr:   w.Stderr,
		ExitCode: w.ExitCode,
		Elapsed:  time.Duration(w.ElapsedMS) * time.Millisecond,
		Err:      w.Err,
	}
	return nil
}

// Debug event kinds published to the global stream and, where run-scoped,
// to the run's stream.
const (
	EventPromptSent      = "prompt_sent"
	EventLLMResponse     = "llm_response"
	EventCodeExecuted    = "code_executed"
	EventShellExecuted   = "shell_executed"
	EventExecutionResult = "execution_result"
	EventUserMessage     = "user_message"
	EventQuestion        = "agent_question"
	EventRunStarted      = "run_started"
	EventRunCompleted    = "run_completed"
	EventError           = "error"
)

// DebugEvent is a single entry on the live event streams.
type DebugEvent struct {
	RunID   string    `json:"run_id,omitempty"`
	Type    string    `json:"type"`
	Payload string    `json:"payload"`
	At      time.Time `json:"ts"`
}

// Credential sources, in resolution order.
const (
	SourceRequestBody = "request_body"
	SourceLocalEnv    = "local_env"
	SourceKeyServer   = "key_server"
)

// Credential is a resolved model-API key plus provenance. The raw key never
// appears in logs; Fingerprint is a one-way digest for correlation.
type Credential struct {
	Key         string
	Source      string
	Fingerprint string
}
