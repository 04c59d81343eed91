// Package rank implements the Context Memory Core's Ranker (C7): scoring
// candidate items against a purpose under a weighted, multi-signal
// formula and returning a descending-score ordered candidate set.
//
// Grounded on internal/reranker/{interface.go,simple.go}'s
// weighted-combination-of-signals shape (there: 50/50 original-score and
// term-overlap; here: the spec's six-signal blend) and
// internal/reasoningbank/confidence.go's recency-decay idiom, extended
// with the purpose-conditioned kind prior and freshness signal spec §4.7
// requires.
package rank

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/memforge/cmc/internal/cmc/model"
	"github.com/memforge/cmc/internal/cmc/store"
	"github.com/memforge/cmc/internal/cmc/vectorindex"
)

// Weights are the six-signal blend coefficients (spec §4.7). Defaults sum
// to 1.0.
type Weights struct {
	Sim   float64
	Sal   float64
	Rec   float64
	Use   float64
	Kind  float64
	Fresh float64
}

// DefaultWeights returns the spec-mandated defaults.
func DefaultWeights() Weights {
	return Weights{Sim: 0.45, Sal: 0.15, Rec: 0.15, Use: 0.10, Kind: 0.10, Fresh: 0.05}
}

// Validate reports whether the weights sum to 1.0 within the spec's
// ±0.01 tolerance (spec §6.2 rank.weights).
func (w Weights) Validate() bool {
	sum := w.Sim + w.Sal + w.Rec + w.Use + w.Kind + w.Fresh
	return math.Abs(sum-1.0) <= 0.01
}

// Config tunes the Ranker. Defaults match spec §4.7/§6.2.
type Config struct {
	Weights            Weights
	TauSemantic        time.Duration // default 7 days
	TauEpisodic        time.Duration // default 36 hours
	PoolSize           int           // ranker candidate pool size, default 64
	CrossThreadAllowed bool          // default false: thread-local ranking
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{
		Weights:     DefaultWeights(),
		TauSemantic: 7 * 24 * time.Hour,
		TauEpisodic: 36 * time.Hour,
		PoolSize:    64,
	}
}

// Scored pairs an item with its computed score and the raw signal
// components, useful for diagnostics and for the Working-Set Builder's
// citation bookkeeping.
type Scored struct {
	Item  model.Item
	Score float64

	SSim, SSal, SRec, SUse, SKind, SFresh float64
}

// Filter restricts the candidate pool, mirroring vectorindex.Filter plus
// the retrieval-level knobs spec §6.1's RecallResult filters expose.
type Filter struct {
	IncludeKinds    []model.Kind
	ExcludeSubtypes []model.Subtype
	IncludeRetired  bool
	CrossThread     bool
}

func (f Filter) allows(it model.Item) bool {
	if !f.IncludeRetired && it.State == model.StateRetired {
		return false
	}
	if len(f.IncludeKinds) > 0 {
		ok := false
		for _, k := range f.IncludeKinds {
			if it.Kind == k {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, st := range f.ExcludeSubtypes {
		if it.Subtype == st {
			return false
		}
	}
	return true
}

// Embedder is the subset of the Embedder Gateway contract the Ranker
// needs to vectorize the purpose text.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, bool, error) // vector, ok, err
	ModelID() string
}

// Deps bundles the Ranker's collaborators.
type Deps struct {
	Store    store.Store
	Index    vectorindex.Index
	Embedder Embedder
}

// Rank implements `Rank(workspace, thread, purpose_text, filter,
// candidate_pool_size) → [(item, score)…]` (spec §4.7).
func Rank(ctx context.Context, deps Deps, cfg Config, workspaceID, threadID, purposeText string, filter Filter) ([]Scored, error) {
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultConfig().PoolSize
	}
	if cfg.TauSemantic == 0 {
		cfg.TauSemantic = DefaultConfig().TauSemantic
	}
	if cfg.TauEpisodic == 0 {
		cfg.TauEpisodic = DefaultConfig().TauEpisodic
	}

	pool, similarities, err := candidatePool(ctx, deps, cfg, workspaceID, threadID, purposeText, filter)
	if err != nil {
		return nil, err
	}

	supersededBy := supersededSources(ctx, deps.Store, workspaceID, pool)

	kindBoosts := kindPriors(purposeText)

	now := time.Now().UTC()
	scored := make([]Scored, 0, len(pool))
	for _, it := range pool {
		s := scoreOne(it, similarities[it.ID], kindBoosts, cfg, now, supersededBy[it.ID])
		scored = append(scored, s)
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Item.ID < scored[j].Item.ID
	})
	return scored, nil
}

// candidatePool retrieves up to PoolSize items from the Vector Index,
// backfilling from the Memory Store in reverse-chronological order when
// the index returns fewer than half the requested pool (spec §4.7 step 3
// — an empty workspace or an in-flight embedding backlog).
func candidatePool(ctx context.Context, deps Deps, cfg Config, workspaceID, threadID, purposeText string, filter Filter) ([]model.Item, map[string]float64, error) {
	similarities := make(map[string]float64)

	var queryVec []float32
	if deps.Embedder != nil {
		if v, ok, err := deps.Embedder.EmbedOne(ctx, purposeText); err == nil && ok {
			queryVec = v
		}
	}

	var vectorIDs []string
	if len(queryVec) > 0 && deps.Index != nil {
		vf := vectorindex.Filter{ExcludeRetired: !filter.IncludeRetired}
		if !filter.CrossThread && !cfg.CrossThreadAllowed {
			vf.ThreadID = threadID
		}
		if deps.Embedder != nil {
			vf.ModelID = deps.Embedder.ModelID()
		}
		matches, err := deps.Index.Search(ctx, workspaceID, queryVec, cfg.PoolSize, vf)
		if err != nil {
			return nil, nil, err
		}
		for _, m := range matches {
			vectorIDs = append(vectorIDs, m.ItemID)
			similarities[m.ItemID] = m.Similarity
		}
	}

	items, err := hydrateFiltered(ctx, deps.Store, workspaceID, vectorIDs, filter)
	if err != nil {
		return nil, nil, err
	}

	if len(items) < cfg.PoolSize/2 {
		backfillThread := threadID
		if filter.CrossThread || cfg.CrossThreadAllowed {
			backfillThread = ""
		}
		all, err := deps.Store.ListCandidates(ctx, workspaceID, backfillThread)
		if err != nil {
			return nil, nil, err
		}
		sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

		seen := make(map[string]bool, len(items))
		for _, it := range items {
			seen[it.ID] = true
		}
		for _, it := range all {
			if len(items) >= cfg.PoolSize {
				break
			}
			if seen[it.ID] || !filter.allows(it) {
				continue
			}
			items = append(items, it)
			seen[it.ID] = true
		}
	}

	return items, similarities, nil
}

func hydrateFiltered(ctx context.Context, st store.Store, workspaceID string, ids []string, filter Filter) ([]model.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	items, err := st.GetItems(ctx, workspaceID, ids)
	if err != nil && len(items) == 0 {
		return nil, nil // missing ids are simply omitted (spec §4.4 GetItems)
	}
	out := items[:0:0]
	for _, it := range items {
		if filter.allows(it) {
			out = append(out, it)
		}
	}
	return out, nil
}

// supersededSources maps an item id to true if some other item in the
// pool's workspace supersedes it — s_fresh drops to 0 for a superseded
// item (spec §4.7 / §4.10).
func supersededSources(ctx context.Context, st store.Store, workspaceID string, pool []model.Item) map[string]bool {
	out := make(map[string]bool, len(pool))
	for _, it := range pool {
		links, err := st.Links(ctx, workspaceID, it.ID)
		if err != nil {
			continue
		}
		for _, l := range links {
			if l.Type == model.LinkSupersedes && l.ToID == it.ID {
				out[it.ID] = true
			}
		}
	}
	return out
}

// kindPriors computes the purpose-conditioned kind boost cue table (spec
// §4.7 s_kind: fix|error|bug boosts episodic by +0.2, plan|design|decide
// boosts decision by +0.2, else 0).
func kindPriors(purposeText string) map[string]float64 {
	p := strings.ToLower(purposeText)
	boosts := make(map[string]float64)
	if containsAny(p, "fix", "error", "bug") {
		boosts["episodic"] = 0.2
	}
	if containsAny(p, "plan", "design", "decide") {
		boosts["decision"] = 0.2
	}
	return boosts
}

func containsAny(s string, cues ...string) bool {
	for _, c := range cues {
		if strings.Contains(s, c) {
			return true
		}
	}
	return false
}

func scoreOne(it model.Item, similarity float64, kindBoosts map[string]float64, cfg Config, now time.Time, superseded bool) Scored {
	sSim := similarity

	tau := cfg.TauSemantic
	if it.IsEpisodic() {
		tau = cfg.TauEpisodic
	}
	lastAccessed := it.LastAccessedAt
	if lastAccessed.IsZero() {
		lastAccessed = it.CreatedAt
	}
	deltaSeconds := now.Sub(lastAccessed).Seconds()
	if deltaSeconds < 0 {
		deltaSeconds = 0
	}
	sRec := math.Exp(-deltaSeconds / tau.Seconds())

	sUse := math.Min(1, math.Log2(1+float64(it.UsageCount))/6)

	sSal := clamp01(it.Salience)

	sKind := 0.0
	if it.IsEpisodic() {
		sKind += kindBoosts["episodic"]
	}
	if it.Subtype == model.SubtypeDecision {
		sKind += kindBoosts["decision"]
	}
	sKind = clamp01(sKind)

	sFresh := 1.0
	if superseded {
		sFresh = 0.0
	}

	w := cfg.Weights
	score := w.Sim*sSim + w.Sal*sSal + w.Rec*sRec + w.Use*sUse + w.Kind*sKind + w.Fresh*sFresh

	return Scored{
		Item: it, Score: score,
		SSim: sSim, SSal: sSal, SRec: sRec, SUse: sUse, SKind: sKind, SFresh: sFresh,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
