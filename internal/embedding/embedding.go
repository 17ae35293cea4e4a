// Package embedding turns text into fixed-width vectors.
package embedding

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/openai/openai-go"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/cartographer/internal/llm"
)

const (
	DefaultModel     = "text-embedding-3-small"
	DefaultBatchSize = 256
)

// Embedder returns one vector per input text, in input order. Progress, when
// set, receives the number of texts embedded so far; calls are serialized and
// the count increases.
type Embedder interface {
	Embed(ctx context.Context, texts []string, progress func(int)) ([][]float32, error)
}

// OpenAI embeds texts with the embeddings endpoint, sending BatchSize texts
// per request and at most MaxParallel requests at once.
type OpenAI struct {
	client      *openai.Client
	model       string
	batchSize   int
	maxParallel int
	retry       llm.RetryPolicy
	logger      *slog.Logger
}

func NewOpenAI(client *openai.Client, model string, batchSize, maxParallel int, logger *slog.Logger) *OpenAI {
	if model == "" {
		model = DefaultModel
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if maxParallel <= 0 {
		maxParallel = 1
	}
	return &OpenAI{
		client:      client,
		model:       model,
		batchSize:   batchSize,
		maxParallel: maxParallel,
		retry:       llm.DefaultRetryPolicy,
		logger:      logger,
	}
}

func (o *OpenAI) Embed(ctx context.Context, texts []string, progress func(int)) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxParallel)
	for start := 0; start < len(texts); start += o.batchSize {
		end := min(start+o.batchSize, len(texts))
		g.Go(func() error {
			vecs, err := o.embedBatch(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embed texts %d-%d: %w", start, end-1, err)
			}
			copy(out[start:end], vecs)

			mu.Lock()
			defer mu.Unlock()
			done += end - start
			if progress != nil {
				progress(done)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	o.logger.Debug("embedded texts", "count", len(texts), "model", o.model)
	return out, nil
}

func (o *OpenAI) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	resp, err := llm.Retry(ctx, o.retry, func(ctx context.Context) (*openai.CreateEmbeddingResponse, error) {
		return o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: batch},
			Model: openai.EmbeddingModel(o.model),
		})
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(batch) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(batch), len(resp.Data))
	}

	vecs := make([][]float32, len(batch))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(batch) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		v := make([]float32, len(d.Embedding))
		for j, f := range d.Embedding {
			v[j] = float32(f)
		}
		vecs[d.Index] = v
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for index %d", i)
		}
	}
	return vecs, nil
}

// Encode packs a vector as little-endian float32 values.
func Encode(v []float32) []byte {
	if v == nil {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// Decode unpacks a blob written by Encode.
func Decode(b []byte) ([]float32, error) {
	if b == nil {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
