package consolidate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memforge/cmc/internal/cmc/extract"
	"github.com/memforge/cmc/internal/cmc/model"
	"github.com/memforge/cmc/internal/cmc/store"
	"github.com/memforge/cmc/internal/cmc/vectorindex"
)

func vec(vals ...float32) []float32 { return vals }

func newDeps(t *testing.T) Deps {
	t.Helper()
	idx, err := vectorindex.NewChromemIndex("", false)
	require.NoError(t, err)
	return Deps{Store: store.New(), Index: idx, Thresholds: DefaultThresholds()}
}

func decisionCandidate(hash uint64, body string, v []float32) EmbeddedCandidate {
	return EmbeddedCandidate{
		Candidate: extract.Candidate{
			Kind:        model.KindSemantic,
			Subtype:     model.SubtypeDecision,
			Summary:     body,
			Body:        body,
			RawSentence: body,
			Salience:    extract.InitialSalience[model.SubtypeDecision],
		},
		ContentHash: hash,
		Vector:      v,
		ModelID:     "m1",
	}
}

func TestConsolidate_CreatesNewItemWhenNoNeighbors(t *testing.T) {
	deps := newDeps(t)
	cands := []EmbeddedCandidate{decisionCandidate(1, "Let's use Redis for caching.", vec(1, 0, 0))}

	result, err := Consolidate(context.Background(), deps, "ws1", "t1", "A001", cands)
	require.NoError(t, err)
	require.Len(t, result.Actions, 1)
	assert.Equal(t, ActionCreated, result.Actions[0].Action)
	assert.Empty(t, result.Rejected)
}

func TestConsolidate_ExactHashDuplicateIncrementsUsage(t *testing.T) {
	deps := newDeps(t)
	cands := []EmbeddedCandidate{
		decisionCandidate(42, "Let's use Redis for caching.", vec(1, 0, 0)),
		decisionCandidate(42, "Let's use Redis for caching.", vec(1, 0, 0)),
	}

	result, err := Consolidate(context.Background(), deps, "ws1", "t1", "A001", cands)
	require.NoError(t, err)
	require.Len(t, result.Actions, 2)
	assert.Equal(t, ActionCreated, result.Actions[0].Action)
	assert.Equal(t, ActionExactDuplicate, result.Actions[1].Action)
	assert.Equal(t, result.Actions[0].ItemID, result.Actions[1].ItemID)

	items, err := deps.Store.GetItems(context.Background(), "ws1", []string{result.Actions[0].ItemID})
	require.NoError(t, err)
	require.Len(t, items, 1)
	// creation counts as the first use, the exact-duplicate hit as the second (spec S2).
	assert.Equal(t, 2, items[0].UsageCount)
}

func TestConsolidate_NearDuplicateMergesIntoCanonical(t *testing.T) {
	deps := newDeps(t)
	cands := []EmbeddedCandidate{
		decisionCandidate(1, "Let's use Redis for the session cache.", vec(1, 0, 0)),
		decisionCandidate(2, "Let's use Redis for session caching purposes.", vec(0.999, 0.001, 0)),
	}

	result, err := Consolidate(context.Background(), deps, "ws1", "t1", "A001", cands)
	require.NoError(t, err)
	require.Len(t, result.Actions, 2)
	assert.Equal(t, ActionCreated, result.Actions[0].Action)
	assert.Equal(t, ActionNearDuplicate, result.Actions[1].Action)
	assert.Equal(t, result.Actions[0].ItemID, result.Actions[1].ItemID)

	items, err := deps.Store.GetItems(context.Background(), "ws1", []string{result.Actions[0].ItemID})
	require.NoError(t, err)
	assert.Equal(t, 2, items[0].UsageCount)
	revisions, _ := items[0].Payload["revisions"].([]string)
	assert.Contains(t, revisions, "Let's use Redis for session caching purposes.")
}

func TestConsolidate_ContradictoryDecisionSupersedes(t *testing.T) {
	deps := newDeps(t)
	cands := []EmbeddedCandidate{
		decisionCandidate(1, "Let's use MySQL for storage.", vec(1, 0, 0)),
		decisionCandidate(2, "Don't use MySQL for storage, switch to Postgres.", vec(0.9, 0.44, 0)),
	}

	result, err := Consolidate(context.Background(), deps, "ws1", "t1", "A001", cands)
	require.NoError(t, err)
	require.Len(t, result.Actions, 2)
	assert.Equal(t, ActionCreated, result.Actions[0].Action)
	assert.Equal(t, ActionSuperseded, result.Actions[1].Action)
	assert.NotEqual(t, result.Actions[0].ItemID, result.Actions[1].ItemID)

	links, err := deps.Store.Links(context.Background(), "ws1", result.Actions[0].ItemID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, model.LinkSupersedes, links[0].Type)
	assert.Equal(t, result.Actions[1].ItemID, links[0].FromID)
	assert.Equal(t, result.Actions[0].ItemID, links[0].ToID)

	items, err := deps.Store.GetItems(context.Background(), "ws1", []string{result.Actions[0].ItemID})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.StateSuperseded, items[0].State)
}

func TestConsolidate_UnrelatedNeighborGetsRefersToLink(t *testing.T) {
	deps := newDeps(t)
	cands := []EmbeddedCandidate{
		decisionCandidate(1, "Let's use Redis for caching.", vec(1, 0, 0)),
		decisionCandidate(2, "Let's use Kafka for the event bus.", vec(0.87, 0.49, 0)),
	}

	result, err := Consolidate(context.Background(), deps, "ws1", "t1", "A001", cands)
	require.NoError(t, err)
	require.Len(t, result.Actions, 2)
	assert.Equal(t, ActionCreated, result.Actions[1].Action)

	links, err := deps.Store.Links(context.Background(), "ws1", result.Actions[0].ItemID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, model.LinkRefersTo, links[0].Type)
}

func TestConsolidate_PendingEmbeddingSkipsVectorTiers(t *testing.T) {
	deps := newDeps(t)
	cands := []EmbeddedCandidate{
		decisionCandidate(1, "Let's use Redis for caching.", vec(1, 0, 0)),
		decisionCandidate(2, "Let's use Redis for caching, but slightly different.", nil),
	}

	result, err := Consolidate(context.Background(), deps, "ws1", "t1", "A001", cands)
	require.NoError(t, err)
	require.Len(t, result.Actions, 2)
	assert.Equal(t, ActionCreated, result.Actions[0].Action)
	assert.Equal(t, ActionCreated, result.Actions[1].Action)
}

func TestConsolidate_DifferentKindsDoNotHashDedupe(t *testing.T) {
	deps := newDeps(t)
	cands := []EmbeddedCandidate{
		{
			Candidate: extract.Candidate{Kind: model.KindSemantic, Subtype: model.SubtypeEntity, Summary: "widget.go", Body: "widget.go"},
			ContentHash: 7, Vector: vec(1, 0, 0), ModelID: "m1",
		},
		{
			Candidate: extract.Candidate{Kind: model.KindEpisodic, Subtype: model.SubtypeLog, Summary: "widget.go", Body: "widget.go"},
			ContentHash: 7, Vector: vec(1, 0, 0), ModelID: "m1",
		},
	}

	result, err := Consolidate(context.Background(), deps, "ws1", "t1", "A001", cands)
	require.NoError(t, err)
	require.Len(t, result.Actions, 2)
	assert.Equal(t, ActionCreated, result.Actions[0].Action)
	assert.Equal(t, ActionCreated, result.Actions[1].Action)
}

func TestContradictoryPolarity(t *testing.T) {
	assert.True(t, contradictoryPolarity("Let's use MySQL.", "Don't use MySQL, use Postgres instead."))
	assert.True(t, contradictoryPolarity("Use Redis instead of Memcached.", "Use Memcached for caching."))
	assert.False(t, contradictoryPolarity("Let's use Redis for caching.", "Let's use Redis for session storage."))
}
