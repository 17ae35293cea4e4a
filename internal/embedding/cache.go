package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// CacheObserver receives hit/miss counts per Embed call.
type CacheObserver interface {
	ObserveCache(hits, misses int)
}

// Cached serves repeated texts from an in-process LRU and forwards only the
// misses to the wrapped embedder.
type Cached struct {
	next     Embedder
	cache    *lru.Cache
	observer CacheObserver
}

func NewCached(next Embedder, size int, observer CacheObserver) (*Cached, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Cached{next: next, cache: cache, observer: observer}, nil
}

func (c *Cached) Embed(ctx context.Context, texts []string, progress func(int)) ([][]float32, error) {
	out := make([][]float32, len(texts))

	var missTexts []string
	missIndex := make(map[string][]int)
	for i, t := range texts {
		key := cacheKey(t)
		if v, ok := c.cache.Get(key); ok {
			out[i] = v.([]float32)
			continue
		}
		if _, pending := missIndex[key]; !pending {
			missTexts = append(missTexts, t)
		}
		missIndex[key] = append(missIndex[key], i)
	}

	hits := len(texts) - countIndices(missIndex)
	if c.observer != nil {
		c.observer.ObserveCache(hits, len(missTexts))
	}
	if progress != nil && hits > 0 {
		progress(hits)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	var inner func(int)
	if progress != nil {
		// Scale progress over unique misses back to the full input.
		inner = func(done int) {
			filled := 0
			for _, t := range missTexts[:done] {
				filled += len(missIndex[cacheKey(t)])
			}
			progress(hits + filled)
		}
	}
	vecs, err := c.next.Embed(ctx, missTexts, inner)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missTexts))
	}
	for j, t := range missTexts {
		key := cacheKey(t)
		c.cache.Add(key, vecs[j])
		for _, i := range missIndex[key] {
			out[i] = vecs[j]
		}
	}
	return out, nil
}

func countIndices(m map[string][]int) int {
	n := 0
	for _, idx := range m {
		n += len(idx)
	}
	return n
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
