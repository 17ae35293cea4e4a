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
)

// NewOpenAIClient builds the shared SDK client. Retries are handled by the
// callers, so the SDK's own retry loop is disabled.
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &client
}

// RetryPolicy lists the waits before each retry of a rate-limited or
// server-failed OpenAI call. Other errors are not retried.
type RetryPolicy struct {
	RateLimit []time.Duration
	Server    []time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	RateLimit: []time.Duration{20 * time.Second, 40 * time.Second, 80 * time.Second},
	Server:    []time.Duration{2 * time.Second, 10 * time.Second, 30 * time.Second},
}

func (p RetryPolicy) wait(err error, attempt int) (time.Duration, bool) {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return 0, false
	}
	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		if attempt < len(p.RateLimit) {
			return p.RateLimit[attempt], true
		}
	case apiErr.StatusCode >= http.StatusInternalServerError:
		if attempt < len(p.Server) {
			return p.Server[attempt], true
		}
	}
	return 0, false
}

// Retry runs call until it succeeds, fails with a non-retryable error, or the
// policy's schedule for that error class is exhausted.
func Retry[T any](ctx context.Context, p RetryPolicy, call func(context.Context) (T, error)) (T, error) {
	for attempt := 0; ; attempt++ {
		v, err := call(ctx)
		if err == nil {
			return v, nil
		}
		wait, ok := p.wait(err, attempt)
		if !ok {
			return v, err
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return v, ctx.Err()
		case <-t.C:
		}
	}
}

// OpenAI completes requests with the Responses API using strict JSON schema
// structured outputs.
type OpenAI struct {
	client          *openai.Client
	model           string
	maxOutputTokens int64
	retry           RetryPolicy
}

func NewOpenAI(client *openai.Client, model string) *OpenAI {
	return &OpenAI{
		client:          client,
		model:           model,
		maxOutputTokens: 1000,
		retry:           DefaultRetryPolicy,
	}
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(o.maxOutputTokens),
		Instructions:    openai.String(req.Instructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(req.Input, responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:   req.Name,
					Schema: req.Schema,
					Strict: openai.Bool(true),
					Type:   "json_schema",
				},
			},
		},
	}

	resp, err := Retry(ctx, o.retry, func(ctx context.Context) (*responses.Response, error) {
		return o.client.Responses.New(ctx, params)
	})
	if err != nil {
		return "", fmt.Errorf("openai responses: %w", err)
	}
	text := resp.OutputText()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: response %s status %s", ErrNoOutput, resp.ID, resp.Status)
	}
	return text, nil
}
