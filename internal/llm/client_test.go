package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rowanlabs/rowan/internal/model"
	"github.com/rowanlabs/rowan/internal/protocol"
)

func testCred() model.Credential {
	return model.Credential{Key: "sk-test", Source: model.SourceLocalEnv, Fingerprint: "abc123def456"}
}

func responsesBody(text string) string {
	quoted, _ := json.Marshal(text)
	return `{
		"error": {"code": "", "message": ""},
		"output": [
			{
				"type": "message",
				"role": "assistant",
				"content": [
					{"type": "output_text", "text": ` + string(quoted) + `, "annotations": []}
				]
			}
		]
	}`
}

func TestDecide_SendsExpectedPayloadAndParsesDecision(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read request body: %v", err)
		}
		if err := json.Unmarshal(body, &gotBody); err != nil {
			t.Fatalf("unmarshal request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(responsesBody(`{"action":"final","user_output":"The answer is 4."}`)))
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{Model: "gpt-5", BaseURL: srv.URL}, srv.Client())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	decision, raw, err := client.Decide(context.Background(), testCred(), "system text", "input text")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.Action != protocol.ActionFinal || decision.UserOutput != "The answer is 4." {
		t.Errorf("decision = %+v", decision)
	}
	if !strings.Contains(raw, "final") {
		t.Errorf("raw = %q", raw)
	}

	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if !strings.HasSuffix(gotPath, "/responses") {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["model"] != "gpt-5" {
		t.Errorf("model = %v", gotBody["model"])
	}
	instructions, _ := gotBody["instructions"].(string)
	if !strings.Contains(instructions, "system text") {
		t.Errorf("instructions = %q", instructions)
	}
	if gotBody["input"] != "input text" {
		t.Errorf("input = %v", gotBody["input"])
	}
}

func TestDecide_RepromptsOnMalformedOutput(t *testing.T) {
	call := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call++
		w.Header().Set("Content-Type", "application/json")
		if call == 1 {
			_, _ = w.Write([]byte(responsesBody("I think the answer is 4, no JSON needed.")))
			return
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "Correction") {
			t.Error("re-prompt should carry correction guidance")
		}
		_, _ = w.Write([]byte(responsesBody(`{"action":"final","user_output":"4"}`)))
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{Model: "gpt-5", BaseURL: srv.URL, DecisionRetries: 2}, srv.Client())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	var observedReason string
	client.Observer = func(raw, reason string) { observedReason = reason }

	decision, _, err := client.Decide(context.Background(), testCred(), "sys", "in")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decision.UserOutput != "4" {
		t.Errorf("decision = %+v", decision)
	}
	if call != 2 {
		t.Errorf("calls = %d, want 2", call)
	}
	if observedReason == "" {
		t.Error("observer not notified of rejected output")
	}
}

func TestDecide_GivesUpAfterRetryBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(responsesBody("still no JSON here")))
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{Model: "gpt-5", BaseURL: srv.URL, DecisionRetries: 1}, srv.Client())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, _, err = client.Decide(context.Background(), testCred(), "sys", "in")
	if !errors.Is(err, ErrNoDecision) {
		t.Errorf("err = %v, want ErrNoDecision", err)
	}
}

func TestDecide_AuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`))
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{Model: "gpt-5", BaseURL: srv.URL}, srv.Client())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, _, err = client.Decide(context.Background(), testCred(), "sys", "in")
	if !errors.Is(err, ErrAuth) {
		t.Errorf("err = %v, want ErrAuth", err)
	}
}

func TestDecide_TransportRetriesThenUnreachable(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{Model: "gpt-5", BaseURL: srv.URL, TransportRetries: 2}, srv.Client())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, _, err = client.Decide(context.Background(), testCred(), "sys", "in")
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("err = %v, want ErrUnreachable", err)
	}
	if calls < 3 {
		t.Errorf("calls = %d, want initial attempt plus 2 retries", calls)
	}
}

func TestNewClient_RequiresModel(t *testing.T) {
	if _, err := NewClient(Config{}, nil); err == nil {
		t.Fatal("NewClient accepted empty model")
	}
}
