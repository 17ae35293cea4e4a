package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/cartographer/internal/anthropic"
)

func TestAnthropicComplete_EmbedsSchema(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			System string `json:"system"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if !strings.HasPrefix(body.System, "label it") {
			t.Errorf("expected instructions first, got %q", body.System)
		}
		if !strings.Contains(body.System, `"value"`) {
			t.Errorf("expected schema in system prompt, got %q", body.System)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"type": "text", "text": `{"value": 9}`}},
		})
	}))
	defer server.Close()

	client := anthropic.NewClient("key", "model")
	client.SetTestTransport(server.URL)

	results, err := RunBatch[echo](context.Background(), NewAnthropic(client), []Request{{
		Name:         "Echo",
		Instructions: "label it",
		Input:        "9",
		Schema:       GenerateSchema[echo](),
	}}, BatchOptions{MaxParallel: 1, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !results[0].OK() || results[0].Value.Value != 9 {
		t.Errorf("unexpected result %+v", results[0])
	}
}

func TestAnthropicComplete_EmptyContentIsNoOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"content": []any{}})
	}))
	defer server.Close()

	client := anthropic.NewClient("key", "model")
	client.SetTestTransport(server.URL)

	_, err := NewAnthropic(client).Complete(context.Background(), Request{Name: "Echo"})
	if !errors.Is(err, ErrNoOutput) {
		t.Fatalf("expected ErrNoOutput, got %v", err)
	}
}
