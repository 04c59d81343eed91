package rank

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memforge/cmc/internal/cmc/model"
	"github.com/memforge/cmc/internal/cmc/store"
	"github.com/memforge/cmc/internal/cmc/vectorindex"
)

func mustCreate(t *testing.T, st store.Store, it model.Item) {
	t.Helper()
	require.NoError(t, st.CreateItem(context.Background(), it))
}

func TestWeights_Validate(t *testing.T) {
	assert.True(t, DefaultWeights().Validate())
	assert.False(t, Weights{Sim: 0.9, Sal: 0.9}.Validate())
	// within the +/-0.01 tolerance
	assert.True(t, Weights{Sim: 0.45, Sal: 0.15, Rec: 0.15, Use: 0.10, Kind: 0.10, Fresh: 0.049}.Validate())
}

func TestRank_OrdersByScoreDescending(t *testing.T) {
	st := store.New()
	ctx := context.Background()
	now := time.Now().UTC()

	mustCreate(t, st, model.Item{
		ID: "S001", WorkspaceID: "ws1", ThreadID: "t1", Kind: model.KindSemantic,
		Subtype: model.SubtypeDecision, Salience: 0.9, UsageCount: 10,
		CreatedAt: now, LastAccessedAt: now,
	})
	mustCreate(t, st, model.Item{
		ID: "S002", WorkspaceID: "ws1", ThreadID: "t1", Kind: model.KindSemantic,
		Subtype: model.SubtypePreference, Salience: 0.1, UsageCount: 0,
		CreatedAt: now.Add(-30 * 24 * time.Hour), LastAccessedAt: now.Add(-30 * 24 * time.Hour),
	})

	scored, err := Rank(ctx, Deps{Store: st}, DefaultConfig(), "ws1", "t1", "what did we decide", Filter{})
	require.NoError(t, err)
	require.Len(t, scored, 2)
	assert.Equal(t, "S001", scored[0].Item.ID)
	assert.Greater(t, scored[0].Score, scored[1].Score)
}

func TestRank_DeterministicTieBreakByID(t *testing.T) {
	st := store.New()
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"S002", "S001"} {
		mustCreate(t, st, model.Item{
			ID: id, WorkspaceID: "ws1", ThreadID: "t1", Kind: model.KindSemantic,
			Subtype: model.SubtypePreference, Salience: 0.5, UsageCount: 0,
			CreatedAt: now, LastAccessedAt: now,
		})
	}

	scored, err := Rank(ctx, Deps{Store: st}, DefaultConfig(), "ws1", "t1", "purpose", Filter{})
	require.NoError(t, err)
	require.Len(t, scored, 2)
	assert.Equal(t, "S001", scored[0].Item.ID)
	assert.Equal(t, "S002", scored[1].Item.ID)
	assert.Equal(t, scored[0].Score, scored[1].Score)
}

func TestRank_KindPriorBoostsEpisodicForFixPurpose(t *testing.T) {
	st := store.New()
	ctx := context.Background()
	now := time.Now().UTC()

	mustCreate(t, st, model.Item{
		ID: "E001", WorkspaceID: "ws1", ThreadID: "t1", Kind: model.KindEpisodic,
		Subtype: model.SubtypeError, Salience: 0.5, CreatedAt: now, LastAccessedAt: now,
	})
	mustCreate(t, st, model.Item{
		ID: "S001", WorkspaceID: "ws1", ThreadID: "t1", Kind: model.KindSemantic,
		Subtype: model.SubtypePreference, Salience: 0.5, CreatedAt: now, LastAccessedAt: now,
	})

	scored, err := Rank(ctx, Deps{Store: st}, DefaultConfig(), "ws1", "t1", "please fix this bug", Filter{})
	require.NoError(t, err)
	byID := map[string]Scored{}
	for _, s := range scored {
		byID[s.Item.ID] = s
	}
	assert.Greater(t, byID["E001"].SKind, byID["S001"].SKind)
}

func TestRank_SupersededItemHasZeroFreshness(t *testing.T) {
	st := store.New()
	ctx := context.Background()
	now := time.Now().UTC()

	mustCreate(t, st, model.Item{
		ID: "S001", WorkspaceID: "ws1", ThreadID: "t1", Kind: model.KindSemantic,
		Subtype: model.SubtypeDecision, Salience: 0.5, CreatedAt: now, LastAccessedAt: now,
	})
	mustCreate(t, st, model.Item{
		ID: "S002", WorkspaceID: "ws1", ThreadID: "t1", Kind: model.KindSemantic,
		Subtype: model.SubtypeDecision, Salience: 0.5, CreatedAt: now, LastAccessedAt: now,
	})
	require.NoError(t, st.AddLink(ctx, model.Link{WorkspaceID: "ws1", FromID: "S002", ToID: "S001", Type: model.LinkSupersedes}))

	scored, err := Rank(ctx, Deps{Store: st}, DefaultConfig(), "ws1", "t1", "purpose", Filter{})
	require.NoError(t, err)
	byID := map[string]Scored{}
	for _, s := range scored {
		byID[s.Item.ID] = s
	}
	assert.Equal(t, 0.0, byID["S001"].SFresh)
	assert.Equal(t, 1.0, byID["S002"].SFresh)
}

func TestRank_RetiredItemsExcludedByDefault(t *testing.T) {
	st := store.New()
	ctx := context.Background()
	mustCreate(t, st, model.Item{ID: "S001", WorkspaceID: "ws1", ThreadID: "t1", Kind: model.KindSemantic, Subtype: model.SubtypeDecision})
	_, err := st.UpdateItem(ctx, "ws1", "S001", store.Mutation{Retired: true})
	require.NoError(t, err)

	scored, err := Rank(ctx, Deps{Store: st}, DefaultConfig(), "ws1", "t1", "purpose", Filter{})
	require.NoError(t, err)
	assert.Empty(t, scored)
}

func TestRank_FilterIncludeKindsRestrictsPool(t *testing.T) {
	st := store.New()
	ctx := context.Background()
	now := time.Now().UTC()
	mustCreate(t, st, model.Item{ID: "S001", WorkspaceID: "ws1", ThreadID: "t1", Kind: model.KindSemantic, Subtype: model.SubtypeDecision, CreatedAt: now})
	mustCreate(t, st, model.Item{ID: "E001", WorkspaceID: "ws1", ThreadID: "t1", Kind: model.KindEpisodic, Subtype: model.SubtypeError, CreatedAt: now})

	scored, err := Rank(ctx, Deps{Store: st}, DefaultConfig(), "ws1", "t1", "purpose", Filter{IncludeKinds: []model.Kind{model.KindEpisodic}})
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, "E001", scored[0].Item.ID)
}

type fakeEmbedder struct {
	vec     []float32
	ok      bool
	modelID string
}

func (f fakeEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, bool, error) {
	return f.vec, f.ok, nil
}
func (f fakeEmbedder) ModelID() string { return f.modelID }

func TestRank_UsesVectorSimilarityWhenEmbedderAndIndexPresent(t *testing.T) {
	st := store.New()
	idx, err := vectorindex.NewChromemIndex("", false)
	require.NoError(t, err)
	ctx := context.Background()
	now := time.Now().UTC()

	mustCreate(t, st, model.Item{ID: "S001", WorkspaceID: "ws1", ThreadID: "t1", Kind: model.KindSemantic, Subtype: model.SubtypePreference, CreatedAt: now, LastAccessedAt: now})
	mustCreate(t, st, model.Item{ID: "S002", WorkspaceID: "ws1", ThreadID: "t1", Kind: model.KindSemantic, Subtype: model.SubtypePreference, CreatedAt: now, LastAccessedAt: now})
	require.NoError(t, idx.SetItemMetadata(ctx, "ws1", "S001", "m1", []float32{1, 0, 0}, "t1", "semantic", "preference", "active"))
	require.NoError(t, idx.SetItemMetadata(ctx, "ws1", "S002", "m1", []float32{0, 1, 0}, "t1", "semantic", "preference", "active"))

	embedder := fakeEmbedder{vec: []float32{1, 0, 0}, ok: true, modelID: "m1"}
	scored, err := Rank(ctx, Deps{Store: st, Index: idx, Embedder: embedder}, DefaultConfig(), "ws1", "t1", "purpose", Filter{})
	require.NoError(t, err)
	require.Len(t, scored, 2)
	assert.Equal(t, "S001", scored[0].Item.ID)
	assert.InDelta(t, 1.0, scored[0].SSim, 0.001)
}

func TestRank_BackfillsFromStoreWhenIndexSparse(t *testing.T) {
	st := store.New()
	idx, err := vectorindex.NewChromemIndex("", false)
	require.NoError(t, err)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 4; i++ {
		id := []string{"S001", "S002", "S003", "S004"}[i]
		mustCreate(t, st, model.Item{ID: id, WorkspaceID: "ws1", ThreadID: "t1", Kind: model.KindSemantic, Subtype: model.SubtypePreference, CreatedAt: now.Add(time.Duration(i) * time.Minute), LastAccessedAt: now})
	}
	// only one item is actually indexed; the rest must be backfilled
	require.NoError(t, idx.SetItemMetadata(ctx, "ws1", "S001", "m1", []float32{1, 0, 0}, "t1", "semantic", "preference", "active"))

	embedder := fakeEmbedder{vec: []float32{1, 0, 0}, ok: true, modelID: "m1"}
	cfg := DefaultConfig()
	cfg.PoolSize = 10
	scored, err := Rank(ctx, Deps{Store: st, Index: idx, Embedder: embedder}, cfg, "ws1", "t1", "purpose", Filter{})
	require.NoError(t, err)
	assert.Len(t, scored, 4)
}
