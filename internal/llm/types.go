package llm

import (
	"errors"
	"time"
)

const (
	defaultTimeout = 60 * time.Second
	retryBaseDelay = 500 * time.Millisecond
)

// Config is decision-client configuration.
type Config struct {
	Model   string
	BaseURL string
	Timeout time.Duration
	// TransportRetries bounds additional attempts after a network/timeout
	// failure; DecisionRetries bounds re-prompts after malformed output.
	TransportRetries int
	DecisionRetries  int
}

// ErrAuth reports that the provider rejected the credential. The caller is
// expected to invalidate its key cache and re-resolve before retrying.
var ErrAuth = errors.New("model API rejected the credential")

// ErrUnreachable reports transport-level failure after all retries.
var ErrUnreachable = errors.New("could not reach the model")

// ErrNoDecision reports that the model never produced a parseable decision
// within the re-prompt budget.
var ErrNoDecision = errors.New("could not obtain a usable decision")
