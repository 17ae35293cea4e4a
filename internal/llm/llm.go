// Package llm issues structured-output requests to a language model and
// fans them out with bounded parallelism.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrNoOutput marks a call that reached the model but produced no usable
// structured payload. RunBatch records it as a per-item failure.
var ErrNoOutput = errors.New("no structured output")

// ErrUnparseable marks model output that did not decode into the expected shape.
var ErrUnparseable = errors.New("unparseable structured output")

// Request is one structured-output call.
type Request struct {
	// Name identifies the schema, e.g. "ConversationSummary".
	Name         string
	Instructions string
	Input        string
	Schema       map[string]any
}

// Completer performs a single request and returns the raw model text.
// Any error other than one wrapping ErrNoOutput is treated as a failure of
// the whole capability.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Result is the outcome of one item in a batch: either a value or the reason
// it could not be produced.
type Result[T any] struct {
	Value T
	Err   error
}

func (r Result[T]) OK() bool { return r.Err == nil }

// Success wraps a value.
func Success[T any](v T) Result[T] { return Result[T]{Value: v} }

// Failure wraps a per-item failure reason.
func Failure[T any](err error) Result[T] { return Result[T]{Err: err} }

type BatchOptions struct {
	MaxParallel int
	// Progress is called after each item completes with the number of
	// completed items so far. Calls are serialized and the count strictly
	// increases.
	Progress func(completed int)
	Logger   *slog.Logger
}

// Validator is implemented by result types that can reject a decoded but
// incomplete payload.
type Validator interface {
	Validate() error
}

func validate(v any) error {
	if val, ok := v.(Validator); ok {
		return val.Validate()
	}
	return nil
}

// RunBatch sends every request through c with at most MaxParallel calls in
// flight and decodes each reply into T. Results are returned in request
// order. Items that fail to produce or decode output become failures; a
// capability error aborts the batch.
func RunBatch[T any](ctx context.Context, c Completer, reqs []Request, opts BatchOptions) ([]Result[T], error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := opts.MaxParallel
	if limit < 1 {
		limit = 1
	}

	results := make([]Result[T], len(reqs))
	var (
		mu        sync.Mutex
		completed int
	)
	done := func() {
		mu.Lock()
		defer mu.Unlock()
		completed++
		if opts.Progress != nil {
			opts.Progress(completed)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, req := range reqs {
		g.Go(func() error {
			out, err := c.Complete(gctx, req)
			switch {
			case errors.Is(err, ErrNoOutput):
				logger.Warn("structured request produced no output", "schema", req.Name, "index", i, "error", err)
				results[i] = Failure[T](err)
			case err != nil:
				return fmt.Errorf("%s request %d: %w", req.Name, i, err)
			default:
				var v T
				derr := DecodeJSON(out, &v)
				if derr == nil {
					derr = validate(v)
				}
				if derr != nil {
					logger.Warn("structured output did not parse", "schema", req.Name, "index", i, "error", derr)
					results[i] = Failure[T](fmt.Errorf("%w: %v", ErrUnparseable, derr))
				} else {
					results[i] = Success(v)
				}
			}
			done()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
