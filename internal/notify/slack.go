// Package notify posts run summaries to Slack.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/cartographer/internal/pipeline"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

type Slack struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewSlack(token, channel string, logger *slog.Logger) *Slack {
	return &Slack{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// RunCompleted posts the cluster overview of a finished run.
func (s *Slack) RunCompleted(ctx context.Context, summary pipeline.Summary) error {
	text := formatSummary(summary)

	body, err := json.Marshal(map[string]any{
		"channel": s.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": "Run " + summary.RunID,
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return fmt.Errorf("slack error: %s", slackResp.Error)
	}

	s.logger.Info("posted run summary to slack", "ts", slackResp.TS, "run_id", summary.RunID)
	return nil
}

func formatSummary(s pipeline.Summary) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "*Conversation map ready:* %d conversations in %d clusters (%s)\n", s.Conversations, len(s.Clusters), s.SolutionID)
	fmt.Fprintf(&sb, "*Took:* %s\n\n", s.Duration.Round(time.Second))

	for i, c := range s.Clusters {
		label := c.Label
		if label == "" {
			label = "_unlabelled_"
		}
		fmt.Fprintf(&sb, "%d. %s (%d)\n", i+1, label, c.Size)
	}

	if s.EnrichmentFailures > 0 || s.LabelFailures > 0 {
		fmt.Fprintf(&sb, "\n_%d conversations not summarized, %d clusters not labelled._", s.EnrichmentFailures, s.LabelFailures)
	}
	return sb.String()
}
