// Package enrich turns transcripts into summaries and tags, and clusters
// into labels, through structured LLM calls.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/cartographer/internal/llm"
)

const (
	DefaultMaxContextChars = 4000
	minSuggestedTags       = 3
	maxSuggestedTags       = 5
)

// Enrichment is the structured reply for one conversation.
type Enrichment struct {
	Summary string   `json:"summary" jsonschema_description:"A 1-2 sentence summary of the conversation"`
	Tags    []string `json:"tags" jsonschema_description:"A list of tags that describe the conversation"`
}

func (e Enrichment) Validate() error {
	if strings.TrimSpace(e.Summary) == "" {
		return errors.New("empty summary")
	}
	return nil
}

var enrichmentSchema = llm.GenerateSchema[Enrichment]()

type Enricher struct {
	llm         llm.Completer
	maxParallel int
	maxChars    int
	logger      *slog.Logger
}

func NewEnricher(c llm.Completer, maxParallel, maxChars int, logger *slog.Logger) *Enricher {
	if maxChars <= 0 {
		maxChars = DefaultMaxContextChars
	}
	return &Enricher{llm: c, maxParallel: maxParallel, maxChars: maxChars, logger: logger}
}

// Enrich summarizes and tags each transcript. Results line up with the input.
func (e *Enricher) Enrich(ctx context.Context, transcripts []string, progress func(int)) ([]llm.Result[Enrichment], error) {
	instructions := fmt.Sprintf(summaryInstructions, minSuggestedTags, maxSuggestedTags)
	reqs := make([]llm.Request, len(transcripts))
	for i, md := range transcripts {
		reqs[i] = llm.Request{
			Name:         "ConversationSummary",
			Instructions: instructions,
			Input:        Truncate(md, e.maxChars) + "...",
			Schema:       enrichmentSchema,
		}
	}

	e.logger.Info("enriching conversations", "count", len(reqs), "max_parallel", e.maxParallel)
	results, err := llm.RunBatch[Enrichment](ctx, e.llm, reqs, llm.BatchOptions{
		MaxParallel: e.maxParallel,
		Progress:    progress,
		Logger:      e.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("enrich conversations: %w", err)
	}
	for i := range results {
		if results[i].OK() {
			results[i].Value = cleanEnrichment(results[i].Value)
		}
	}
	return results, nil
}

func cleanEnrichment(e Enrichment) Enrichment {
	e.Summary = strings.TrimSpace(e.Summary)
	tags := make([]string, 0, len(e.Tags))
	for _, t := range e.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	e.Tags = tags
	return e
}

// Truncate keeps at most max characters of s without splitting a rune.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

// EmbeddingText is the text embedded for one conversation: title, tags,
// summary and the head of the transcript.
func EmbeddingText(title string, tags []string, summary, markdown string, maxChars int) string {
	return fmt.Sprintf("%s\nTags: %s\nSummary: %s\nConversation: %s",
		title, strings.Join(tags, ", "), summary, Truncate(markdown, maxChars))
}
