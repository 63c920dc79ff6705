// Package llm sends assembled prompts to the OpenAI Responses API and
// deserializes the single JSON decision each turn must produce.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/rs/zerolog/log"

	"github.com/rowanlabs/rowan/internal/model"
	"github.com/rowanlabs/rowan/internal/protocol"
)

const jsonOnlyInstruction = "Return only a single valid JSON object for the decision schema. No prose."

// Client wraps the Responses API for one-decision-per-call use.
type Client struct {
	cfg        Config
	httpClient *http.Client

	// Observer, when set, receives raw model output that failed protocol
	// parsing, for debug-event publication. Never called with credentials.
	Observer func(raw, reason string)
}

// NewClient constructs a decision client.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{cfg: cfg, httpClient: httpClient}, nil
}

// Decide sends one prompt and returns the parsed decision plus the raw model
// text. Transport failures retry with backoff; malformed output re-prompts
// with the parse error appended as guidance. Both loops are bounded.
func (c *Client) Decide(ctx context.Context, cred model.Credential, system, input string) (protocol.Decision, string, error) {
	guidance := ""
	var lastParseErr error
	for attempt := 0; attempt <= c.cfg.DecisionRetries; attempt++ {
		raw, err := c.complete(ctx, cred, system, input+guidance)
		if err != nil {
			return protocol.Decision{}, "", err
		}

		decision, err := protocol.Parse([]byte(raw))
		if err == nil {
			return decision, raw, nil
		}

		var perr *protocol.ParseError
		if !errors.As(err, &perr) {
			return protocol.Decision{}, raw, err
		}
		lastParseErr = perr
		if c.Observer != nil {
			c.Observer(raw, perr.Reason)
		}
		log.Warn().Int("attempt", attempt+1).Str("reason", perr.Reason).Msg("malformed decision, re-prompting")
		guidance = fmt.Sprintf(
			"\n--- Correction ---\nYour previous response was rejected: %s.\nPrevious response: %s\nReturn only a valid JSON decision object.\n",
			perr.Reason, truncate(raw, 2000),
		)
	}
	return protocol.Decision{}, "", fmt.Errorf("%w after %d attempts: %v", ErrNoDecision, c.cfg.DecisionRetries+1, lastParseErr)
}

// complete performs a single Responses API request with transport retries.
func (c *Client) complete(ctx context.Context, cred model.Credential, system, input string) (string, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(cred.Key),
		option.WithRequestTimeout(c.cfg.Timeout),
	}
	if c.cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(c.cfg.BaseURL))
	}
	if c.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(c.httpClient))
	}
	client := openai.NewClient(opts...)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.TransportRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			log.Debug().Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying model request")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		resp, err := client.Responses.New(ctx, responses.ResponseNewParams{
			Model:        c.cfg.Model,
			Instructions: openai.String(system + "\n\n" + jsonOnlyInstruction),
			Input: responses.ResponseNewParamsInputUnion{
				OfString: openai.String(input),
			},
		})
		if err != nil {
			var apierr *openai.Error
			if errors.As(err, &apierr) && (apierr.StatusCode == http.StatusUnauthorized || apierr.StatusCode == http.StatusForbidden) {
				return "", fmt.Errorf("%w: status %d", ErrAuth, apierr.StatusCode)
			}
			lastErr = err
			continue
		}
		if msg := strings.TrimSpace(resp.Error.Message); msg != "" {
			lastErr = fmt.Errorf("model response failed: %s", msg)
			continue
		}
		output := strings.TrimSpace(resp.OutputText())
		if output == "" {
			lastErr = fmt.Errorf("model response did not contain output text")
			continue
		}
		return output, nil
	}
	return "", fmt.Errorf("%w: %v", ErrUnreachable, lastErr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
