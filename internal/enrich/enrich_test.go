package enrich

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/MikeSquared-Agency/cartographer/internal/cluster"
	"github.com/MikeSquared-Agency/cartographer/internal/llm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type scriptedCompleter struct {
	mu       sync.Mutex
	requests []llm.Request
	reply    func(req llm.Request) (string, error)
}

func (s *scriptedCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	return s.reply(req)
}

func TestEnrich_BuildsRequestsAndCleansResults(t *testing.T) {
	c := &scriptedCompleter{reply: func(req llm.Request) (string, error) {
		if strings.HasPrefix(req.Input, "bad") {
			return `{"summary": "", "tags": []}`, nil
		}
		return `{"summary": "  Talked about Go.  ", "tags": [" go ", "", "testing"]}`, nil
	}}
	e := NewEnricher(c, 4, 10, discardLogger())

	var calls int
	results, err := e.Enrich(context.Background(), []string{"0123456789ABCDEF", "bad transcript"}, func(int) { calls++ })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 progress calls, got %d", calls)
	}

	if !results[0].OK() {
		t.Fatalf("expected first result to succeed, got %v", results[0].Err)
	}
	if results[0].Value.Summary != "Talked about Go." {
		t.Errorf("expected trimmed summary, got %q", results[0].Value.Summary)
	}
	if strings.Join(results[0].Value.Tags, ",") != "go,testing" {
		t.Errorf("expected cleaned tags, got %v", results[0].Value.Tags)
	}
	if !errors.Is(results[1].Err, llm.ErrUnparseable) {
		t.Errorf("expected empty summary to be a failure, got %v", results[1].Err)
	}

	for _, req := range c.requests {
		if req.Name != "ConversationSummary" {
			t.Errorf("unexpected schema name %q", req.Name)
		}
		if !strings.Contains(req.Instructions, "Include between 3-5 tags") {
			t.Errorf("expected tag range in instructions, got %q", req.Instructions)
		}
		if req.Input == "0123456789ABCDEF" {
			t.Error("expected input to be truncated")
		}
	}
	found := false
	for _, req := range c.requests {
		if req.Input == "0123456789..." {
			found = true
		}
	}
	if !found {
		t.Error("expected truncated input with ellipsis")
	}
}

func TestEnrich_CapabilityFailure(t *testing.T) {
	c := &scriptedCompleter{reply: func(llm.Request) (string, error) {
		return "", errors.New("dial tcp: connection refused")
	}}
	_, err := NewEnricher(c, 2, 0, discardLogger()).Enrich(context.Background(), []string{"a"}, nil)
	if err == nil {
		t.Fatal("expected capability error")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("héllo wörld", 4); got != "héll" {
		t.Errorf("expected rune-safe truncation, got %q", got)
	}
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("expected unchanged, got %q", got)
	}
	if got := Truncate("abc", 0); got != "abc" {
		t.Errorf("expected no limit for 0, got %q", got)
	}
}

func TestEmbeddingText(t *testing.T) {
	got := EmbeddingText("Title", []string{"a", "b"}, "Sum", "0123456789", 4)
	want := "Title\nTags: a, b\nSummary: Sum\nConversation: 0123"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if got := EmbeddingText("T", nil, "", "", 4); got != "T\nTags: \nSummary: \nConversation: " {
		t.Errorf("unexpected text for failed enrichment %q", got)
	}
}

func TestLabelPrompt(t *testing.T) {
	got := LabelPrompt(LabelInput{
		Exemplars: []Exemplar{{Title: "A", Summary: "first"}, {Title: "B", Summary: "second"}},
		TagCounts: cluster.TagCounts{{Tag: "go", Count: 3}, {Tag: "sql", Count: 1}},
	})
	want := "# **Example Conversations:**\n\n" +
		"---\n\n**A**\n\nfirst\n\n---\n\n**B**\n\nsecond\n\n---\n\n" +
		"\n\n# **Tag Counts:**\n\n```json\n{\n    \"go\": 3,\n    \"sql\": 1\n}\n```"
	if got != want {
		t.Errorf("unexpected prompt:\n got: %q\nwant: %q", got, want)
	}
}

func TestLabel(t *testing.T) {
	c := &scriptedCompleter{reply: func(req llm.Request) (string, error) {
		if strings.Contains(req.Input, "**broken**") {
			return "not json", nil
		}
		return `{"title": " Go tooling ", "description": "Build and test questions."}`, nil
	}}
	l := NewLabeler(c, 2, discardLogger())
	results, err := l.Label(context.Background(), []LabelInput{
		{Exemplars: []Exemplar{{Title: "ok"}}},
		{Exemplars: []Exemplar{{Title: "broken"}}},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !results[0].OK() || results[0].Value.Title != "Go tooling" {
		t.Errorf("unexpected first label %+v", results[0])
	}
	if results[1].OK() {
		t.Error("expected second label to fail")
	}
}
