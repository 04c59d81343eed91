// Package consolidate implements the Context Memory Core's Consolidator
// (C6): deduplicating and linking extraction candidates against existing
// items in the same workspace using content-hash exact matching and
// vector-similarity tiers.
//
// Grounded on internal/reasoningbank/{types.go,service.go}'s
// MemoryConsolidator/SimilarityCluster shape (confidence-gated merge vs.
// link decision) and original_source/services/consolidator.py's exact
// three-tier threshold behavior (content-hash exact / cosine>=0.94
// near-duplicate / cosine>=0.88 contradictory-decision supersession /
// else refers_to) that spec §4.6 requires verbatim.
package consolidate

import (
	"context"
	"strings"

	"github.com/memforge/cmc/internal/cmc/cmcerr"
	"github.com/memforge/cmc/internal/cmc/extract"
	"github.com/memforge/cmc/internal/cmc/model"
	"github.com/memforge/cmc/internal/cmc/store"
	"github.com/memforge/cmc/internal/cmc/vectorindex"
)

// Thresholds tunes the three-tier decision boundary. Defaults match spec
// §4.6 / §6.2's consolidation.* options.
type Thresholds struct {
	Near  float64 // near-duplicate merge threshold, default 0.94
	Refer float64 // minimum neighbor similarity considered at all, default 0.86
	Super float64 // contradictory-decision supersession threshold, default 0.88
}

// DefaultThresholds returns the spec-mandated defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{Near: 0.94, Refer: 0.86, Super: 0.88}
}

// EmbeddedCandidate pairs an extraction candidate with its computed
// content hash and (possibly absent, if embedding_pending) vector, the
// shape the Consolidator receives after the Embedder Gateway stage of the
// ingest pipeline.
type EmbeddedCandidate struct {
	extract.Candidate
	ContentHash uint64
	Vector      []float32 // nil when embedding is pending
	ModelID     string
}

// Action describes what happened to one candidate.
type Action string

const (
	ActionCreated        Action = "created"
	ActionExactDuplicate Action = "exact_duplicate"
	ActionNearDuplicate  Action = "near_duplicate"
	ActionSuperseded     Action = "superseded" // candidate created, supersedes an existing item
)

// PersistedAction records the outcome for one candidate that was not
// rejected.
type PersistedAction struct {
	Action     Action
	CandidateI int    // index into the input slice
	ItemID     string // the item created or updated
}

// Rejected records a candidate that could not be persisted.
type Rejected struct {
	CandidateI int
	Reason     string
}

// Result is the Consolidate contract's return value.
type Result struct {
	Actions  []PersistedAction
	Rejected []Rejected
}

// Deps bundles the Consolidator's collaborators.
type Deps struct {
	Store      store.Store
	Index      vectorindex.Index
	Thresholds Thresholds
}

// Consolidate implements `Consolidate(candidates, workspace, thread) →
// [persisted_actions]` (spec §4.6). Candidates are processed strictly
// sequentially so candidate N observes the effects of candidates 1..N-1 —
// the caller must not parallelize calls into this function for one
// ingestion batch.
func Consolidate(ctx context.Context, deps Deps, workspaceID, threadID, artifactID string, candidates []EmbeddedCandidate) (Result, error) {
	th := deps.Thresholds
	if th.Near == 0 && th.Refer == 0 && th.Super == 0 {
		th = DefaultThresholds()
	}

	var result Result

	for i, cand := range candidates {
		itemID, action, err := consolidateOne(ctx, deps, th, workspaceID, threadID, artifactID, i, cand)
		if err != nil {
			result.Rejected = append(result.Rejected, Rejected{CandidateI: i, Reason: err.Error()})
			continue
		}
		if action == "" {
			continue // dropped silently is not possible; action always set on success
		}
		result.Actions = append(result.Actions, PersistedAction{Action: action, CandidateI: i, ItemID: itemID})
	}

	return result, nil
}

func consolidateOne(ctx context.Context, deps Deps, th Thresholds, workspaceID, threadID, artifactID string, idx int, cand EmbeddedCandidate) (string, Action, error) {
	// Tier 0: exact content-hash duplicate, workspace-wide (spec step 1-2).
	existing, err := deps.Store.ListCandidates(ctx, workspaceID, "")
	if err != nil {
		return "", "", err
	}
	for _, it := range existing {
		if it.Kind != cand.Kind {
			continue
		}
		if it.ContentHash == cand.ContentHash {
			if _, err := deps.Store.UpdateItem(ctx, workspaceID, it.ID, store.Mutation{UsageIncrement: 1}); err != nil {
				return "", "", err
			}
			return it.ID, ActionExactDuplicate, nil
		}
	}

	// Tier 1-3: vector-similarity neighbors, only when the candidate has a
	// resolved vector (embedding_pending candidates skip straight to
	// tier-0-miss creation, per spec §4.2: pending embeddings do not block
	// ingestion).
	var neighbors []vectorindex.Match
	if len(cand.Vector) > 0 && deps.Index != nil {
		matches, err := deps.Index.Search(ctx, workspaceID, cand.Vector, 16, vectorindex.Filter{
			Kind:           string(cand.Kind),
			ExcludeRetired: true,
			ModelID:        cand.ModelID,
		})
		if err != nil {
			return "", "", err
		}
		for _, m := range matches {
			if m.Similarity >= th.Refer {
				neighbors = append(neighbors, m)
			}
		}
	}

	byID := make(map[string]model.Item, len(existing))
	for _, it := range existing {
		byID[it.ID] = it
	}

	var supersedeTargets, referTargets []string
	for _, n := range neighbors {
		neighbor, ok := byID[n.ItemID]
		if !ok {
			continue
		}
		switch {
		case n.Similarity >= th.Near && neighbor.Subtype == cand.Subtype:
			mergedID, err := mergeNearDuplicate(ctx, deps.Store, workspaceID, neighbor, cand)
			if err != nil {
				return "", "", err
			}
			return mergedID, ActionNearDuplicate, nil
		case n.Similarity >= th.Super &&
			cand.Subtype == model.SubtypeDecision && neighbor.Subtype == model.SubtypeDecision &&
			contradictoryPolarity(cand.RawSentence, neighbor.Body):
			supersedeTargets = append(supersedeTargets, neighbor.ID)
		default:
			referTargets = append(referTargets, neighbor.ID)
		}
	}

	// Not dropped: persist as a new item (spec step 4).
	newID, err := createItem(ctx, deps, workspaceID, threadID, artifactID, cand)
	if err != nil {
		return "", "", err
	}

	action := ActionCreated
	for _, target := range supersedeTargets {
		if err := deps.Store.AddLink(ctx, model.Link{WorkspaceID: workspaceID, FromID: newID, ToID: target, Type: model.LinkSupersedes}); err != nil {
			continue // per spec, a single failed action does not abort the batch
		}
		if _, err := deps.Store.UpdateItem(ctx, workspaceID, target, store.Mutation{SupersededBy: newID}); err != nil {
			continue // the link was recorded; the state flip is best-effort like the index tag below
		}
		action = ActionSuperseded
		if deps.Index != nil {
			// Best-effort: the vector index's state tag only gates Search's
			// ExcludeRetired filter (and only for state="retired" — a
			// superseded item still surfaces, spec §4.10, with s_fresh=0
			// computed from the supersedes link itself).
			_ = deps.Index.UpdateState(ctx, workspaceID, target, cand.ModelID, "superseded")
		}
	}
	for _, target := range referTargets {
		_ = deps.Store.AddLink(ctx, model.Link{WorkspaceID: workspaceID, FromID: newID, ToID: target, Type: model.LinkRefersTo})
	}

	return newID, action, nil
}

func createItem(ctx context.Context, deps Deps, workspaceID, threadID, artifactID string, cand EmbeddedCandidate) (string, error) {
	id, err := deps.Store.MintID(ctx, workspaceID, cand.Kind)
	if err != nil {
		return "", err
	}
	item := model.Item{
		ID:          id,
		WorkspaceID: workspaceID,
		ThreadID:    threadID,
		Kind:        cand.Kind,
		Subtype:     cand.Subtype,
		Summary:     cand.Summary,
		Body:        cand.Body,
		Salience:    cand.Salience,
		SourceSpan:  model.Span{ArtifactID: artifactID, Start: cand.SpanStart, End: cand.SpanEnd},
		ContentHash: cand.ContentHash,
		Payload:     cand.Payload,
		UsageCount:  1, // creation counts as the candidate's first use (spec S2/property 8)
	}
	if err := deps.Store.CreateItem(ctx, item); err != nil {
		return "", err
	}
	if len(cand.Vector) > 0 && deps.Index != nil {
		err := deps.Index.SetItemMetadata(ctx, workspaceID, id, cand.ModelID, cand.Vector,
			threadID, string(cand.Kind), string(cand.Subtype), string(model.StateActive))
		if err != nil {
			return "", cmcerr.New("Consolidate.createItem", cmcerr.ClassTransientDependency, err, id)
		}
	}
	return id, nil
}

// mergeNearDuplicate merges a near-duplicate candidate into an existing
// canonical item: the longer/more informative summary wins, and the
// candidate's body is appended to the item's "revisions" payload rather
// than discarded (spec §4.6 tier 2).
func mergeNearDuplicate(ctx context.Context, st store.Store, workspaceID string, canonical model.Item, cand EmbeddedCandidate) (string, error) {
	mutation := store.Mutation{UsageIncrement: 1}
	if len(cand.Summary) > len(canonical.Summary) {
		s := cand.Summary
		mutation.SummaryOverride = &s
	}

	revisions, _ := canonical.Payload["revisions"].([]string)
	revisions = append(revisions, cand.Body)
	mutation.PayloadMerge = map[string]any{"revisions": revisions}

	updated, err := st.UpdateItem(ctx, workspaceID, canonical.ID, mutation)
	if err != nil {
		return "", err
	}
	return updated.ID, nil
}

// negationCues flags a sentence as carrying negative polarity.
var negationCues = []string{"do not", "don't", "must not", "never", "instead of", "no longer", "stop using"}

// contradictoryPolarity reports whether two decision sentences look like
// they contradict (one negates or replaces what the other affirms),
// detected by a negation-cue flip or an explicit "instead of" per spec
// §4.6 tier 3.
func contradictoryPolarity(a, b string) bool {
	al, bl := strings.ToLower(a), strings.ToLower(b)
	if strings.Contains(al, "instead of") || strings.Contains(bl, "instead of") {
		return true
	}
	return hasNegation(al) != hasNegation(bl)
}

func hasNegation(s string) bool {
	for _, cue := range negationCues {
		if cue == "instead of" {
			continue // handled separately above
		}
		if strings.Contains(s, cue) {
			return true
		}
	}
	return false
}
