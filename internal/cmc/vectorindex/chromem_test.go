package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vec(vals ...float32) []float32 { return vals }

func TestChromemIndex_UpsertAndSearch(t *testing.T) {
	ix, err := NewChromemIndex("", false)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ix.Upsert(ctx, "ws1", "S001", vec(1, 0, 0), "m1"))
	require.NoError(t, ix.Upsert(ctx, "ws1", "S002", vec(0, 1, 0), "m1"))
	require.NoError(t, ix.Upsert(ctx, "ws1", "S003", vec(0.99, 0.01, 0), "m1"))

	matches, err := ix.Search(ctx, "ws1", vec(1, 0, 0), 10, Filter{ModelID: "m1"})
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "S001", matches[0].ItemID)
	assert.Equal(t, "S003", matches[1].ItemID)
	assert.Equal(t, "S002", matches[2].ItemID)
}

func TestChromemIndex_WorkspaceIsolation(t *testing.T) {
	ix, err := NewChromemIndex("", false)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ix.Upsert(ctx, "ws1", "S001", vec(1, 0), "m1"))
	require.NoError(t, ix.Upsert(ctx, "ws2", "S001", vec(0, 1), "m1"))

	matches, err := ix.Search(ctx, "ws1", vec(1, 0), 10, Filter{ModelID: "m1"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0, matches[0].Similarity, 0.001)
}

func TestChromemIndex_ExcludesNonActiveModel(t *testing.T) {
	ix, err := NewChromemIndex("", false)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ix.Upsert(ctx, "ws1", "S001", vec(1, 0), "old-model"))
	require.NoError(t, ix.Upsert(ctx, "ws1", "S002", vec(1, 0), "new-model"))

	matches, err := ix.Search(ctx, "ws1", vec(1, 0), 10, Filter{ModelID: "new-model"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "S002", matches[0].ItemID)
}

func TestChromemIndex_DeterministicTieBreak(t *testing.T) {
	ix, err := NewChromemIndex("", false)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ix.Upsert(ctx, "ws1", "S010", vec(1, 0), "m1"))
	require.NoError(t, ix.Upsert(ctx, "ws1", "S002", vec(1, 0), "m1"))
	require.NoError(t, ix.Upsert(ctx, "ws1", "S005", vec(1, 0), "m1"))

	matches, err := ix.Search(ctx, "ws1", vec(1, 0), 10, Filter{ModelID: "m1"})
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, []string{"S002", "S005", "S010"}, []string{matches[0].ItemID, matches[1].ItemID, matches[2].ItemID})
}

func TestChromemIndex_KCap(t *testing.T) {
	ix, err := NewChromemIndex("", false)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ix.Upsert(ctx, "ws1", "S001", vec(1, 0), "m1"))

	matches, err := ix.Search(ctx, "ws1", vec(1, 0), 10000, Filter{ModelID: "m1"})
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestChromemIndex_Delete(t *testing.T) {
	ix, err := NewChromemIndex("", false)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ix.Upsert(ctx, "ws1", "S001", vec(1, 0), "m1"))
	require.NoError(t, ix.Delete(ctx, "ws1", "S001"))

	matches, err := ix.Search(ctx, "ws1", vec(1, 0), 10, Filter{ModelID: "m1"})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine(vec(1, 0), vec(1, 0)), 0.0001)
	assert.InDelta(t, 0.0, cosine(vec(1, 0), vec(0, 1)), 0.0001)
	assert.Equal(t, 0.0, cosine(vec(1, 0), vec(1, 0, 0)))
	assert.Equal(t, 0.0, cosine(nil, nil))
}
