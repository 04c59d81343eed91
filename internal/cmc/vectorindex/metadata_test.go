package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChromemIndex_SetItemMetadataFiltersBySearch(t *testing.T) {
	ix, err := NewChromemIndex("", false)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ix.SetItemMetadata(ctx, "ws1", "S001", "m1", vec(1, 0, 0), "t1", "semantic", "decision", "active"))
	require.NoError(t, ix.SetItemMetadata(ctx, "ws1", "S002", "m1", vec(1, 0, 0), "t2", "semantic", "decision", "active"))

	matches, err := ix.Search(ctx, "ws1", vec(1, 0, 0), 10, Filter{ModelID: "m1", ThreadID: "t1"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "S001", matches[0].ItemID)
}

func TestChromemIndex_SetItemMetadataFiltersByKindAndSubtype(t *testing.T) {
	ix, err := NewChromemIndex("", false)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ix.SetItemMetadata(ctx, "ws1", "S001", "m1", vec(1, 0, 0), "t1", "semantic", "decision", "active"))
	require.NoError(t, ix.SetItemMetadata(ctx, "ws1", "E001", "m1", vec(1, 0, 0), "t1", "episodic", "error", "active"))

	matches, err := ix.Search(ctx, "ws1", vec(1, 0, 0), 10, Filter{ModelID: "m1", Kind: "episodic"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "E001", matches[0].ItemID)

	matches, err = ix.Search(ctx, "ws1", vec(1, 0, 0), 10, Filter{ModelID: "m1", Subtype: "decision"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "S001", matches[0].ItemID)
}

func TestChromemIndex_UpdateStateExcludesRetiredFromSearch(t *testing.T) {
	ix, err := NewChromemIndex("", false)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ix.SetItemMetadata(ctx, "ws1", "S001", "m1", vec(1, 0, 0), "t1", "semantic", "decision", "active"))

	matches, err := ix.Search(ctx, "ws1", vec(1, 0, 0), 10, Filter{ModelID: "m1", ExcludeRetired: true})
	require.NoError(t, err)
	require.Len(t, matches, 1)

	require.NoError(t, ix.UpdateState(ctx, "ws1", "S001", "m1", "retired"))

	matches, err = ix.Search(ctx, "ws1", vec(1, 0, 0), 10, Filter{ModelID: "m1", ExcludeRetired: true})
	require.NoError(t, err)
	assert.Empty(t, matches)

	matches, err = ix.Search(ctx, "ws1", vec(1, 0, 0), 10, Filter{ModelID: "m1"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

// Superseded items are not retired (spec §4.10): they must keep surfacing
// under ExcludeRetired, unlike a genuinely retired item.
func TestChromemIndex_UpdateStateSupersededStillSurfacesUnderExcludeRetired(t *testing.T) {
	ix, err := NewChromemIndex("", false)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ix.SetItemMetadata(ctx, "ws1", "S001", "m1", vec(1, 0, 0), "t1", "semantic", "decision", "active"))
	require.NoError(t, ix.UpdateState(ctx, "ws1", "S001", "m1", "superseded"))

	matches, err := ix.Search(ctx, "ws1", vec(1, 0, 0), 10, Filter{ModelID: "m1", ExcludeRetired: true})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "S001", matches[0].ItemID)
}

func TestChromemIndex_UpdateStateWithoutPriorCacheErrors(t *testing.T) {
	ix, err := NewChromemIndex("", false)
	require.NoError(t, err)
	ctx := context.Background()

	err = ix.UpdateState(ctx, "ws1", "S999", "m1", "retired")
	assert.Error(t, err)
}

func TestChromemIndex_SetTopKCapClampsSearchResults(t *testing.T) {
	ix, err := NewChromemIndex("", false)
	require.NoError(t, err)
	ctx := context.Background()
	ix.SetTopKCap(1)

	require.NoError(t, ix.Upsert(ctx, "ws1", "S001", vec(1, 0, 0), "m1"))
	require.NoError(t, ix.Upsert(ctx, "ws1", "S002", vec(0.9, 0.1, 0), "m1"))

	matches, err := ix.Search(ctx, "ws1", vec(1, 0, 0), 10, Filter{ModelID: "m1"})
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestChromemIndex_SetTopKCapIgnoresOutOfRangeValues(t *testing.T) {
	ix, err := NewChromemIndex("", false)
	require.NoError(t, err)
	ix.SetTopKCap(0)
	assert.Equal(t, TopKCap, ix.topKCap)
	ix.SetTopKCap(TopKCap + 1)
	assert.Equal(t, TopKCap, ix.topKCap)
}
