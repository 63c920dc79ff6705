// Package keyring resolves the model-API credential from an ordered list of
// sources: the request body, the local environment, then a remote key
// service. Resolution is cached for the process lifetime and collapsed with
// single-flight semantics; the raw key never reaches logs.
package keyring

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/rowanlabs/rowan/internal/model"
)

// EnvVar is the local-dev override consulted after the request body.
const EnvVar = "OPENAI_API_KEY"

// ErrNoKey is returned when no source yields a usable credential.
var ErrNoKey = errors.New("no usable API key from any source")

// Resolver caches one resolved credential per process. Concurrent resolution
// requests collapse into a single in-flight attempt.
type Resolver struct {
	serverURL  string
	appToken   string
	httpClient *http.Client

	mu     sync.Mutex
	cached *model.Credential
	group  singleflight.Group
}

// New creates a resolver. serverURL may be empty, disabling the key-server
// source. A nil client falls back to a default with a short timeout.
func New(serverURL, appToken string, client *http.Client) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Resolver{
		serverURL:  strings.TrimRight(serverURL, "/"),
		appToken:   appToken,
		httpClient: client,
	}
}

// Resolve returns a usable credential. A non-empty requestKey wins
// unconditionally (legacy per-request path) and refreshes the cache.
func (r *Resolver) Resolve(ctx context.Context, requestKey string) (model.Credential, error) {
	if requestKey = strings.TrimSpace(requestKey); requestKey != "" {
		cred := model.Credential{
			Key:         requestKey,
			Source:      model.SourceRequestBody,
			Fingerprint: Fingerprint(requestKey),
		}
		r.store(cred)
		log.Debug().Str("source", cred.Source).Str("fingerprint", cred.Fingerprint).Msg("api key resolved")
		return cred, nil
	}

	r.mu.Lock()
	if r.cached != nil {
		cred := *r.cached
		r.mu.Unlock()
		return cred, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do("resolve", func() (any, error) {
		cred, err := r.resolveUncached(ctx)
		if err != nil {
			return nil, err
		}
		r.store(cred)
		return cred, nil
	})
	if err != nil {
		return model.Credential{}, err
	}
	return v.(model.Credential), nil
}

// Invalidate drops the cached credential, forcing re-resolution on the next
// call. Called after an upstream authentication failure.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
	log.Debug().Msg("api key cache invalidated")
}

func (r *Resolver) store(cred model.Credential) {
	r.mu.Lock()
	r.cached = &cred
	r.mu.Unlock()
}

func (r *Resolver) resolveUncached(ctx context.Context) (model.Credential, error) {
	if key := strings.TrimSpace(os.Getenv(EnvVar)); key != "" && looksValid(key) {
		cred := model.Credential{Key: key, Source: model.SourceLocalEnv, Fingerprint: Fingerprint(key)}
		log.Info().Str("source", cred.Source).Str("fingerprint", cred.Fingerprint).Msg("api key resolved")
		return cred, nil
	}

	if r.serverURL != "" {
		key, err := r.fetchFromServer(ctx)
		if err == nil {
			cred := model.Credential{Key: key, Source: model.SourceKeyServer, Fingerprint: Fingerprint(key)}
			log.Info().Str("source", cred.Source).Str("fingerprint", cred.Fingerprint).Msg("api key resolved")
			return cred, nil
		}
		log.Warn().Err(err).Msg("key server resolution failed")
	}

	return model.Credential{}, ErrNoKey
}

type serverKeyResponse struct {
	OpenAIAPIKey string `json:"openai_api_key"`
	Source       string `json:"source"`
}

// fetchFromServer tries the relay endpoint first, then the notebook-server
// endpoint, mirroring the deployed key-service surface.
func (r *Resolver) fetchFromServer(ctx context.Context) (string, error) {
	endpoints := []string{
		r.serverURL + "/v1/key",
		r.serverURL + "/config/openai_key",
	}
	var lastErr error
	for _, url := range endpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", fmt.Errorf("build key request: %w", err)
		}
		if r.appToken != "" {
			req.Header.Set("x-app-token", r.appToken)
		}
		resp, err := r.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("key server %s returned %d", url, resp.StatusCode)
			continue
		}
		var parsed serverKeyResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			lastErr = fmt.Errorf("parse key response: %w", err)
			continue
		}
		if !looksValid(parsed.OpenAIAPIKey) {
			lastErr = fmt.Errorf("key server %s returned an invalid key", url)
			continue
		}
		return parsed.OpenAIAPIKey, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no key endpoints configured")
	}
	return "", lastErr
}

func looksValid(key string) bool {
	return strings.HasPrefix(key, "sk-") && len(key) >= 40
}

// Fingerprint returns a short one-way digest of the key for log correlation.
func Fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:12]
}
