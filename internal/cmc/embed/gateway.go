// Package embed implements the Context Memory Core's Embedder Gateway
// (C2): obtaining fixed-dimensional vector embeddings for item content,
// batching, caching by content hash, and retrying transient failures.
//
// Grounded on internal/embeddings/{provider.go,service.go} for the
// provider/HTTP client shape and internal/extraction/llm_client.go for the
// rate-limit + exponential-backoff + retryableError pattern reused here
// for batch retry.
package embed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Provider is the external embedding call a Gateway wraps. Implementations
// talk to a concrete embedding service (HTTP, gRPC, in-process model);
// the Gateway owns batching, caching, and retry policy on top.
type Provider interface {
	// Embed returns one vector per input text, in order. An error means
	// the whole batch failed (see isProviderRetryable).
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension returns the fixed output dimension d.
	Dimension() int
	// ModelID identifies the embedding model for cache/vector tagging.
	ModelID() string
}

// retryableProviderError marks a Provider error as transient (network
// failure, 429, 5xx) vs. fatal (malformed request, auth failure) — same
// distinction internal/extraction/llm_client.go's retryableError makes.
type retryableProviderError struct{ err error }

func (e *retryableProviderError) Error() string { return e.err.Error() }
func (e *retryableProviderError) Unwrap() error  { return e.err }

// Retryable wraps err so Gateway retries the batch it came from.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableProviderError{err: err}
}

func isRetryable(err error) bool {
	var r *retryableProviderError
	return errors.As(err, &r)
}

// Request is one item queued for embedding.
type Request struct {
	ContentHash uint64
	Text        string
}

// Result is the outcome for one Request. Pending is true when the vector
// could not be obtained after retries (spec §4.2's embedding_pending
// state) — not an error, the item is persisted without a vector.
type Result struct {
	Vector  []float32
	Pending bool
}

// Config tunes Gateway behavior. Defaults match spec §4.2/§6.2.
type Config struct {
	MaxBatch      int           // provider-imposed max inputs per call, <=128
	MaxRetries    int           // bounded retry attempts per batch
	BaseBackoff   time.Duration // exponential backoff base
	RateLimit     float64       // requests/sec
	RateBurst     int
	CacheCapacity int // not consulted: the cache is an unbounded map with no eviction
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{
		MaxBatch:      128,
		MaxRetries:    3,
		BaseBackoff:   200 * time.Millisecond,
		RateLimit:     10,
		RateBurst:     5,
		CacheCapacity: 10000,
	}
}

type cacheKey struct {
	hash    uint64
	modelID string
}

// Gateway is the Embedder Gateway. Safe for concurrent use; the cache and
// rate limiter are process-wide shared state (spec §5's "global state"
// note), matching the teacher's process-wide embedder cache.
type Gateway struct {
	provider Provider
	cfg      Config
	limiter  *rate.Limiter

	mu    sync.RWMutex
	cache map[cacheKey][]float32
}

// New constructs a Gateway over the given Provider.
func New(provider Provider, cfg Config) *Gateway {
	if cfg.MaxBatch <= 0 || cfg.MaxBatch > 128 {
		cfg.MaxBatch = 128
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 200 * time.Millisecond
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	return &Gateway{
		provider: provider,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		cache:    make(map[cacheKey][]float32),
	}
}

// Dimension returns the provider's fixed output dimension.
func (g *Gateway) Dimension() int { return g.provider.Dimension() }

// ModelID returns the active embedding model id.
func (g *Gateway) ModelID() string { return g.provider.ModelID() }

// Embed resolves a vector for each request, consulting the cache first and
// batching the remainder to the provider (respecting ctx cancellation).
// A request whose vector cannot be resolved after retries is returned
// with Pending=true rather than failing the whole call.
func (g *Gateway) Embed(ctx context.Context, reqs []Request) ([]Result, error) {
	results := make([]Result, len(reqs))
	var misses []int

	g.mu.RLock()
	for i, r := range reqs {
		if v, ok := g.cache[cacheKey{hash: r.ContentHash, modelID: g.provider.ModelID()}]; ok {
			results[i] = Result{Vector: v}
		} else {
			misses = append(misses, i)
		}
	}
	g.mu.RUnlock()

	for start := 0; start < len(misses); start += g.cfg.MaxBatch {
		end := start + g.cfg.MaxBatch
		if end > len(misses) {
			end = len(misses)
		}
		batchIdx := misses[start:end]
		texts := make([]string, len(batchIdx))
		for j, idx := range batchIdx {
			texts[j] = reqs[idx].Text
		}

		vectors, err := g.embedBatchWithRetry(ctx, texts)
		if err != nil {
			// Whole batch failed after retries: every item in it is
			// embedding_pending. Embed still returns a nil error, even
			// when no vector at all was produced during the call.
			for _, idx := range batchIdx {
				results[idx] = Result{Pending: true}
			}
			continue
		}

		g.mu.Lock()
		for j, idx := range batchIdx {
			results[idx] = Result{Vector: vectors[j]}
			g.cache[cacheKey{hash: reqs[idx].ContentHash, modelID: g.provider.ModelID()}] = vectors[j]
		}
		g.mu.Unlock()
	}

	return results, nil
}

// embedBatchWithRetry performs one provider call with bounded exponential
// backoff, honoring ctx cancellation between attempts (spec §4.2
// cancellation: in-flight batches are abandoned on deadline expiry).
func (g *Gateway) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := g.cfg.BaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		vectors, err := g.provider.Embed(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("embed: max retries exceeded: %w", lastErr)
}
