package embed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	dim       int
	model     string
	calls     int32
	failTimes int32 // number of leading calls that fail retryably
}

func (f *fakeProvider) Dimension() int  { return f.dim }
func (f *fakeProvider) ModelID() string { return f.model }

func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failTimes {
		return nil, Retryable(errors.New("transient failure"))
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, f.dim)
		for j := range v {
			v[j] = float32(len(t)+j) / 100.0
		}
		out[i] = v
	}
	return out, nil
}

func TestGateway_EmbedAndCache(t *testing.T) {
	p := &fakeProvider{dim: 4, model: "m1"}
	g := New(p, DefaultConfig())

	reqs := []Request{{ContentHash: 1, Text: "hello"}, {ContentHash: 2, Text: "world"}}
	results, err := g.Embed(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.False(t, results[0].Pending)
	assert.Len(t, results[0].Vector, 4)

	// Second call with the same content hashes must hit the cache, not
	// the provider.
	callsBefore := atomic.LoadInt32(&p.calls)
	results2, err := g.Embed(context.Background(), reqs)
	require.NoError(t, err)
	assert.Equal(t, callsBefore, atomic.LoadInt32(&p.calls))
	assert.Equal(t, results[0].Vector, results2[0].Vector)
}

func TestGateway_RetriesThenSucceeds(t *testing.T) {
	p := &fakeProvider{dim: 2, model: "m1", failTimes: 2}
	cfg := DefaultConfig()
	cfg.MaxRetries = 3
	cfg.BaseBackoff = 1
	g := New(p, cfg)

	results, err := g.Embed(context.Background(), []Request{{ContentHash: 9, Text: "x"}})
	require.NoError(t, err)
	require.False(t, results[0].Pending)
}

func TestGateway_ExhaustedRetriesYieldsPending(t *testing.T) {
	p := &fakeProvider{dim: 2, model: "m1", failTimes: 1000}
	cfg := DefaultConfig()
	cfg.MaxRetries = 1
	cfg.BaseBackoff = 1
	g := New(p, cfg)

	results, err := g.Embed(context.Background(), []Request{{ContentHash: 9, Text: "x"}})
	require.NoError(t, err)
	assert.True(t, results[0].Pending)
	assert.Nil(t, results[0].Vector)
}

func TestGateway_RespectsContextCancellation(t *testing.T) {
	p := &fakeProvider{dim: 2, model: "m1", failTimes: 1000}
	cfg := DefaultConfig()
	cfg.BaseBackoff = 50_000_000 // 50ms; the context is cancelled before Embed, so the rate-limiter wait fails first
	g := New(p, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := g.Embed(ctx, []Request{{ContentHash: 1, Text: "x"}})
	require.NoError(t, err)
	assert.True(t, results[0].Pending)
}
