package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/cartographer/internal/cluster"
	"github.com/MikeSquared-Agency/cartographer/internal/llm"
)

// Label is the structured reply for one cluster.
type Label struct {
	Title       string `json:"title" jsonschema_description:"A brief, human-readable title for the cluster."`
	Description string `json:"description" jsonschema_description:"A longer 1-2 sentence description of the cluster."`
}

func (l Label) Validate() error {
	if strings.TrimSpace(l.Title) == "" {
		return errors.New("empty title")
	}
	return nil
}

var labelSchema = llm.GenerateSchema[Label]()

// Exemplar is a conversation shown to the model as representative of a cluster.
type Exemplar struct {
	Title   string
	Summary string
}

type LabelInput struct {
	Exemplars []Exemplar
	TagCounts cluster.TagCounts
}

type Labeler struct {
	llm         llm.Completer
	maxParallel int
	logger      *slog.Logger
}

func NewLabeler(c llm.Completer, maxParallel int, logger *slog.Logger) *Labeler {
	return &Labeler{llm: c, maxParallel: maxParallel, logger: logger}
}

// Label names each cluster. A cluster whose call fails gets a failure result;
// only capability errors are returned.
func (l *Labeler) Label(ctx context.Context, inputs []LabelInput, progress func(int)) ([]llm.Result[Label], error) {
	reqs := make([]llm.Request, len(inputs))
	for i, in := range inputs {
		reqs[i] = llm.Request{
			Name:         "ConversationClusterSummary",
			Instructions: labelInstructions,
			Input:        LabelPrompt(in),
			Schema:       labelSchema,
		}
	}

	l.logger.Info("labeling clusters", "count", len(reqs))
	results, err := llm.RunBatch[Label](ctx, l.llm, reqs, llm.BatchOptions{
		MaxParallel: l.maxParallel,
		Progress:    progress,
		Logger:      l.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("label clusters: %w", err)
	}
	for i := range results {
		if results[i].OK() {
			results[i].Value.Title = strings.TrimSpace(results[i].Value.Title)
			results[i].Value.Description = strings.TrimSpace(results[i].Value.Description)
		}
	}
	return results, nil
}

// LabelPrompt renders a cluster's exemplars and tag counts as markdown.
func LabelPrompt(in LabelInput) string {
	blocks := make([]string, len(in.Exemplars))
	for i, ex := range in.Exemplars {
		blocks[i] = "**" + ex.Title + "**\n\n" + ex.Summary
	}
	examples := "---\n\n" + strings.Join(blocks, "\n\n---\n\n") + "\n\n---\n\n"

	counts := in.TagCounts
	if counts == nil {
		counts = cluster.TagCounts{}
	}
	tags, err := json.MarshalIndent(counts, "", "    ")
	if err != nil {
		tags = []byte("{}")
	}

	var sb strings.Builder
	sb.WriteString("# **Example Conversations:**\n\n")
	sb.WriteString(examples)
	sb.WriteString("\n\n# **Tag Counts:**\n\n```json\n")
	sb.Write(tags)
	sb.WriteString("\n```")
	return sb.String()
}
