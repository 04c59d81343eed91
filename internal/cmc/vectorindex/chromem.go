package vectorindex

import (
	"context"
	"fmt"
	"sync"

	"github.com/philippgille/chromem-go"
)

// docID encodes the (item, model) pair chromem-go stores each vector under,
// so re-embedding under a new model does not clobber the prior model's
// vector until it is explicitly deleted (spec invariant 3: vector dimension
// must match the active model; stale-model vectors are excluded by Search's
// filter, not overwritten in place).
func docID(itemID, modelID string) string {
	return itemID + "|" + modelID
}

// noopEmbeddingFunc panics if chromem-go ever tries to embed text itself.
// ChromemIndex always supplies precomputed vectors (via internal/cmc/embed)
// so the embedding function chromem.Collection requires for text-based
// queries is never exercised — matching internal/vectorstore/chromem.go's
// comment that a non-nil embedding func must still be passed for persisted
// collections to avoid chromem-go defaulting to an OpenAI embedder.
func noopEmbeddingFunc(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("vectorindex: text embedding not supported, vectors must be precomputed")
}

// ChromemIndex is the Index implementation backed by an embedded
// philippgille/chromem-go database, one collection per workspace — the
// same per-tenant collection-naming convention internal/vectorstore and
// internal/tenant.CollectionRouter use.
type ChromemIndex struct {
	db      *chromem.DB
	topKCap int

	mu          sync.Mutex
	collections map[string]*chromem.Collection

	// tags mirrors each indexed document's metadata, keyed by
	// workspaceID+"|"+docID, so UpdateState can re-upsert a refreshed
	// state tag without the caller re-supplying the embedding: chromem-go
	// has no in-place metadata patch, only whole-document replace.
	tagsMu sync.Mutex
	tags   map[string]docTags
}

type docTags struct {
	vector                       []float32
	threadID, kind, subtype, st string
}

// NewChromemIndex opens (or creates) a persistent chromem-go database at
// path. An empty path uses an in-memory database, useful for tests.
func NewChromemIndex(path string, compress bool) (*ChromemIndex, error) {
	var db *chromem.DB
	var err error
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, compress)
		if err != nil {
			return nil, fmt.Errorf("vectorindex: open db: %w", err)
		}
	}
	return &ChromemIndex{
		db:          db,
		topKCap:     TopKCap,
		collections: make(map[string]*chromem.Collection),
		tags:        make(map[string]docTags),
	}, nil
}

// SetTopKCap overrides the per-call cap on k (spec §6.2
// vector_index_topk_cap), which defaults to TopKCap. n must be in (0,
// TopKCap]; out-of-range values are ignored.
func (ix *ChromemIndex) SetTopKCap(n int) {
	if n > 0 && n <= TopKCap {
		ix.topKCap = n
	}
}

func tagsKey(workspaceID, itemID, modelID string) string {
	return workspaceID + "|" + docID(itemID, modelID)
}

func collectionName(workspaceID string) string {
	return "cmc_ws_" + workspaceID
}

func (ix *ChromemIndex) collection(workspaceID string) (*chromem.Collection, error) {
	name := collectionName(workspaceID)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if c, ok := ix.collections[name]; ok {
		return c, nil
	}
	c, err := ix.db.GetOrCreateCollection(name, nil, noopEmbeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: get or create collection %s: %w", name, err)
	}
	ix.collections[name] = c
	return c, nil
}

// Upsert implements Index.
func (ix *ChromemIndex) Upsert(ctx context.Context, workspaceID, itemID string, vector []float32, modelID string) error {
	if len(vector) == 0 {
		return ErrEmptyVector
	}
	c, err := ix.collection(workspaceID)
	if err != nil {
		return err
	}
	doc := chromem.Document{
		ID: docID(itemID, modelID),
		Metadata: map[string]string{
			"item_id":  itemID,
			"model_id": modelID,
		},
		Embedding: vector,
	}
	if err := c.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("vectorindex: upsert %s: %w", itemID, err)
	}
	ix.putTags(workspaceID, itemID, modelID, docTags{vector: vector})
	return nil
}

func (ix *ChromemIndex) putTags(workspaceID, itemID, modelID string, t docTags) {
	ix.tagsMu.Lock()
	defer ix.tagsMu.Unlock()
	ix.tags[tagsKey(workspaceID, itemID, modelID)] = t
}

func (ix *ChromemIndex) getTags(workspaceID, itemID, modelID string) (docTags, bool) {
	ix.tagsMu.Lock()
	defer ix.tagsMu.Unlock()
	t, ok := ix.tags[tagsKey(workspaceID, itemID, modelID)]
	return t, ok
}

// Search implements Index. filter.ModelID is required: only vectors tagged
// with the active model id participate, matching invariant 3.
func (ix *ChromemIndex) Search(ctx context.Context, workspaceID string, query []float32, k int, filter Filter) ([]Match, error) {
	k = clampK(k, ix.topKCap)
	if k == 0 || len(query) == 0 {
		return nil, nil
	}

	c, err := ix.collection(workspaceID)
	if err != nil {
		return nil, err
	}

	count := c.Count()
	if count == 0 {
		return nil, nil
	}
	queryK := k
	if queryK > count {
		queryK = count
	}

	where := map[string]string{"model_id": filter.ModelID}
	if filter.ThreadID != "" {
		where["thread_id"] = filter.ThreadID
	}
	if filter.Kind != "" {
		where["kind"] = filter.Kind
	}
	if filter.Subtype != "" {
		where["subtype"] = filter.Subtype
	}

	// chromem-go's where-clause is a strict AND of equality matches, same
	// semantics internal/vectorstore's tenant isolation filter relies on —
	// there is no "not equal" operator, so ExcludeRetired (retired only,
	// spec §4.10: superseded items stay retrievable with s_fresh=0) is
	// applied as a post-query filter on the state tag instead of a where
	// clause, which would otherwise also drop superseded items.
	results, err := c.QueryEmbedding(ctx, query, queryK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: search: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		if filter.ExcludeRetired && r.Metadata["state"] == "retired" {
			continue
		}
		itemID := r.Metadata["item_id"]
		if itemID == "" {
			itemID = r.ID
		}
		matches = append(matches, Match{ItemID: itemID, Similarity: float64(r.Similarity)})
	}
	sortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Delete implements Index, removing every model-versioned vector for itemID.
func (ix *ChromemIndex) Delete(ctx context.Context, workspaceID, itemID string) error {
	c, err := ix.collection(workspaceID)
	if err != nil {
		return err
	}
	if err := c.Delete(ctx, map[string]string{"item_id": itemID}, nil); err != nil {
		return fmt.Errorf("vectorindex: delete %s: %w", itemID, err)
	}
	return nil
}

// SetItemMetadata upserts the vector with its full tag set in one write,
// used by the Consolidator when creating an item (it already knows the
// thread/kind/subtype at write time, spec §4.6) and by UpdateState to
// re-upsert with a single changed tag. chromem-go has no in-place metadata
// update, so this always replaces the whole document.
func (ix *ChromemIndex) SetItemMetadata(ctx context.Context, workspaceID, itemID, modelID string, vector []float32, threadID, kind, subtype, state string) error {
	c, err := ix.collection(workspaceID)
	if err != nil {
		return err
	}
	doc := chromem.Document{
		ID: docID(itemID, modelID),
		Metadata: map[string]string{
			"item_id":   itemID,
			"model_id":  modelID,
			"thread_id": threadID,
			"kind":      kind,
			"subtype":   subtype,
			"state":     state,
		},
		Embedding: vector,
	}
	if err := c.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("vectorindex: set metadata %s: %w", itemID, err)
	}
	ix.putTags(workspaceID, itemID, modelID, docTags{vector: vector, threadID: threadID, kind: kind, subtype: subtype, st: state})
	return nil
}

// UpdateState re-tags an already-indexed item's state, used when the
// Consolidator supersedes a prior decision (spec §4.6 tier 3) or the
// Feedback Applier retires an item (spec §4.9 outdated signal). Only the
// retired state affects Search's ExcludeRetired filter — a superseded
// item keeps surfacing (spec §4.10: included with s_fresh=0), the state
// tag just records provenance for diagnostics and future state checks.
// The prior tags and vector come from the in-memory cache populated by
// Upsert/SetItemMetadata; an item indexed before process start (persistent
// DB reopened) that was never re-touched this process has no cache entry
// and returns an error rather than silently leaving its state stale.
func (ix *ChromemIndex) UpdateState(ctx context.Context, workspaceID, itemID, modelID, state string) error {
	t, ok := ix.getTags(workspaceID, itemID, modelID)
	if !ok {
		return fmt.Errorf("vectorindex: update state %s: no cached tags for this process", itemID)
	}
	return ix.SetItemMetadata(ctx, workspaceID, itemID, modelID, t.vector, t.threadID, t.kind, t.subtype, state)
}
