package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func responseBody(text string) map[string]any {
	output := []any{}
	if text != "" {
		output = append(output, map[string]any{
			"type":   "message",
			"id":     "msg_1",
			"status": "completed",
			"role":   "assistant",
			"content": []any{
				map[string]any{"type": "output_text", "text": text, "annotations": []any{}},
			},
		})
	}
	return map[string]any{
		"id":         "resp_1",
		"object":     "response",
		"created_at": 1700000000,
		"status":     "completed",
		"model":      "gpt-4o-mini",
		"output":     output,
	}
}

func newTestOpenAI(url string) *OpenAI {
	o := NewOpenAI(NewOpenAIClient("sk-test", url), "gpt-4o-mini")
	o.retry = RetryPolicy{RateLimit: []time.Duration{0, 0}, Server: []time.Duration{0, 0}}
	return o
}

func TestOpenAIComplete_SendsStructuredRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/responses") {
			t.Errorf("expected responses endpoint, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("expected bearer auth, got %q", r.Header.Get("Authorization"))
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["model"] != "gpt-4o-mini" {
			t.Errorf("expected model gpt-4o-mini, got %v", body["model"])
		}
		if body["instructions"] != "summarize" {
			t.Errorf("expected instructions, got %v", body["instructions"])
		}
		format := body["text"].(map[string]any)["format"].(map[string]any)
		if format["type"] != "json_schema" || format["name"] != "Echo" || format["strict"] != true {
			t.Errorf("unexpected format: %v", format)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(responseBody(`{"value": 3}`))
	}))
	defer server.Close()

	o := newTestOpenAI(server.URL)
	out, err := o.Complete(context.Background(), Request{
		Name:         "Echo",
		Instructions: "summarize",
		Input:        "3",
		Schema:       GenerateSchema[echo](),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"value": 3}` {
		t.Errorf("unexpected output %q", out)
	}
}

func TestOpenAIComplete_EmptyOutputIsNoOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(responseBody(""))
	}))
	defer server.Close()

	_, err := newTestOpenAI(server.URL).Complete(context.Background(), Request{Name: "Echo"})
	if !errors.Is(err, ErrNoOutput) {
		t.Fatalf("expected ErrNoOutput, got %v", err)
	}
}

func TestOpenAIComplete_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error": {"message": "boom", "type": "server_error"}}`))
			return
		}
		json.NewEncoder(w).Encode(responseBody(`{"value": 1}`))
	}))
	defer server.Close()

	out, err := newTestOpenAI(server.URL).Complete(context.Background(), Request{Name: "Echo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"value": 1}` {
		t.Errorf("unexpected output %q", out)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestOpenAIComplete_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "bad key", "type": "invalid_request_error"}}`))
	}))
	defer server.Close()

	_, err := newTestOpenAI(server.URL).Complete(context.Background(), Request{Name: "Echo"})
	if err == nil || errors.Is(err, ErrNoOutput) {
		t.Fatalf("expected capability error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single call, got %d", calls.Load())
	}
}
