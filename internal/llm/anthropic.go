package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MikeSquared-Agency/cartographer/internal/anthropic"
)

// Anthropic adapts the Messages API client to Completer. The API has no
// schema-constrained mode here, so the schema travels in the system prompt
// and DecodeJSON pulls the object out of the reply.
type Anthropic struct {
	client    *anthropic.Client
	maxTokens int
}

func NewAnthropic(client *anthropic.Client) *Anthropic {
	return &Anthropic{client: client, maxTokens: 1000}
}

func (a *Anthropic) Complete(ctx context.Context, req Request) (string, error) {
	schema, err := json.MarshalIndent(req.Schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal schema %s: %w", req.Name, err)
	}
	system := req.Instructions +
		"\n\nRespond with a single JSON object that validates against this JSON schema and nothing else:\n" +
		string(schema)

	text, err := a.client.Complete(ctx, system, []anthropic.Message{{Role: "user", Content: req.Input}}, a.maxTokens)
	if errors.Is(err, anthropic.ErrEmptyContent) {
		return "", fmt.Errorf("%w: %v", ErrNoOutput, err)
	}
	return text, err
}
