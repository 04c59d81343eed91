// Package service wires together the Context Memory Core's nine
// components into the external operations spec §6.1 names: Ingest,
// Recall, BuildWorkingSet, Expand, Feedback.
//
// Grounded on internal/checkpoint/service.go's canonical service template
// (constructor validation, mu sync.RWMutex + closed guard, OTEL
// tracer/meter fields with graceful degradation on metric-creation
// failure, fmt.Errorf("...: %w", err) wrapping, span RecordError on
// failure paths).
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/memforge/cmc/internal/cmc/cmcerr"
	"github.com/memforge/cmc/internal/cmc/config"
	"github.com/memforge/cmc/internal/cmc/consolidate"
	"github.com/memforge/cmc/internal/cmc/contenthash"
	"github.com/memforge/cmc/internal/cmc/embed"
	"github.com/memforge/cmc/internal/cmc/extract"
	"github.com/memforge/cmc/internal/cmc/feedback"
	"github.com/memforge/cmc/internal/cmc/model"
	"github.com/memforge/cmc/internal/cmc/rank"
	"github.com/memforge/cmc/internal/cmc/redact"
	"github.com/memforge/cmc/internal/cmc/store"
	"github.com/memforge/cmc/internal/cmc/vectorindex"
	"github.com/memforge/cmc/internal/cmc/workingset"
)

const instrumentationName = "github.com/memforge/cmc/internal/cmc/service"

// Materials mirrors spec §6.1's Ingest input: at least one field must be
// present.
type Materials struct {
	Chat  string
	Diffs string
	Logs  string
}

func (m Materials) empty() bool { return m.Chat == "" && m.Diffs == "" && m.Logs == "" }

// IngestResult is spec §6.1's IngestResult.
type IngestResult struct {
	ArtifactID       string
	CreatedItemIDs   []string
	UpdatedItemIDs   []string
	Rejected         []consolidate.Rejected
}

// Filters is spec §6.1's optional Recall/BuildWorkingSet filter bundle.
type Filters struct {
	IncludeKinds    []model.Kind
	ExcludeSubtypes []model.Subtype
	IncludeRetired  bool
	CrossThread     bool
}

// RecallResult is spec §6.1's RecallResult.
type RecallResult struct {
	Items           []model.Item
	TokensUsed      int
	TokensAvailable int
}

// FeedbackResult mirrors spec §6.1's FeedbackResult.
type FeedbackResult struct {
	PreviousSalience float64
	NewSalience      float64
	Delta            float64
}

// Service is the Context Memory Core's public surface (spec §6.1).
type Service struct {
	cfg      config.Config
	store    store.Store
	index    vectorindex.Index
	gateway  *embed.Gateway
	redactor *redact.Redactor
	logger   *zap.Logger

	tracer trace.Tracer
	meter  metric.Meter

	ingestCounter   metric.Int64Counter
	recallCounter   metric.Int64Counter
	feedbackCounter metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// New constructs a Service. gateway may be nil, in which case ingestion
// persists items without vectors (embedding_pending) and recall falls
// back entirely to the Memory Store's chronological backfill.
func New(cfg config.Config, st store.Store, idx vectorindex.Index, gateway *embed.Gateway, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, errors.New("service: store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	redactCfg := redact.DefaultConfig()
	redactCfg.GitleaksSecondary = cfg.RedactionGitleaksSecondary
	for _, p := range cfg.RedactionPatterns {
		rule, err := redact.CompileRule(p.Name, p.Regex)
		if err != nil {
			return nil, fmt.Errorf("service: %w", err)
		}
		redactCfg.Rules = append(redactCfg.Rules, rule)
	}

	s := &Service{
		cfg:      cfg,
		store:    st,
		index:    idx,
		gateway:  gateway,
		redactor: redact.New(redactCfg),
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		meter:    otel.Meter(instrumentationName),
	}
	s.initMetrics()
	return s, nil
}

func (s *Service) initMetrics() {
	var err error
	if s.ingestCounter, err = s.meter.Int64Counter("cmc.ingest.total", metric.WithDescription("Total Ingest calls")); err != nil {
		s.logger.Warn("failed to create ingest counter", zap.Error(err))
	}
	if s.recallCounter, err = s.meter.Int64Counter("cmc.recall.total", metric.WithDescription("Total Recall calls")); err != nil {
		s.logger.Warn("failed to create recall counter", zap.Error(err))
	}
	if s.feedbackCounter, err = s.meter.Int64Counter("cmc.feedback.total", metric.WithDescription("Total Feedback calls")); err != nil {
		s.logger.Warn("failed to create feedback counter", zap.Error(err))
	}
}

func (s *Service) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("service: closed")
	}
	return nil
}

// Close marks the service closed; in-flight operations already past the
// checkOpen gate are allowed to finish.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ingest implements `Ingest(thread_id, materials) → IngestResult` (spec
// §6.1). Extraction and consolidation within the call are strictly
// sequential (spec §4.6); embedding calls are batched by the Gateway.
func (s *Service) Ingest(ctx context.Context, workspaceID, threadID string, materials Materials) (IngestResult, error) {
	ctx, span := s.tracer.Start(ctx, "cmc.ingest")
	defer span.End()
	span.SetAttributes(attribute.String("workspace_id", workspaceID), attribute.String("thread_id", threadID))

	if err := s.checkOpen(); err != nil {
		return IngestResult{}, err
	}
	if workspaceID == "" || threadID == "" {
		return IngestResult{}, cmcerr.New("Ingest", cmcerr.ClassInputInvalid, errors.New("workspace_id and thread_id are required"))
	}
	if materials.empty() {
		return IngestResult{}, cmcerr.New("Ingest", cmcerr.ClassInputInvalid, errors.New("at least one material field is required"))
	}
	if s.ingestCounter != nil {
		s.ingestCounter.Add(ctx, 1)
	}

	var result IngestResult

	for _, m := range []struct {
		contentType model.ContentType
		body        string
	}{
		{model.ContentTypeChat, materials.Chat},
		{model.ContentTypeDiff, materials.Diffs},
		{model.ContentTypeLogs, materials.Logs},
	} {
		if m.body == "" {
			continue
		}
		redacted := s.redactor.Redact(m.body)
		artifactID := s.store.MintArtifactID(ctx, workspaceID)
		if err := s.store.CreateArtifact(ctx, model.Artifact{
			ID: artifactID, WorkspaceID: workspaceID, ThreadID: threadID,
			ContentType: m.contentType, Body: redacted,
		}); err != nil {
			span.RecordError(err)
			return result, fmt.Errorf("ingest: create artifact: %w", err)
		}
		if result.ArtifactID == "" {
			result.ArtifactID = artifactID
		}

		candidates := extract.Extract(m.contentType, redacted)
		embedded := s.embedCandidates(ctx, candidates)
		for i := range embedded {
			embedded[i].Payload = mergePayload(embedded[i].Payload, "artifact_id", artifactID)
		}

		consResult, err := consolidate.Consolidate(ctx, consolidate.Deps{
			Store: s.store, Index: s.index,
			Thresholds: consolidate.Thresholds{
				Near: s.cfg.Consolidation.NearThreshold, Refer: s.cfg.Consolidation.ReferThreshold,
				Super: consolidate.DefaultThresholds().Super,
			},
		}, workspaceID, threadID, artifactID, embedded)
		if err != nil {
			span.RecordError(err)
			return result, fmt.Errorf("ingest: consolidate: %w", err)
		}
		for _, a := range consResult.Actions {
			switch a.Action {
			case consolidate.ActionCreated, consolidate.ActionSuperseded:
				result.CreatedItemIDs = append(result.CreatedItemIDs, a.ItemID)
			default:
				result.UpdatedItemIDs = append(result.UpdatedItemIDs, a.ItemID)
			}
		}
		result.Rejected = append(result.Rejected, consResult.Rejected...)
	}

	span.SetStatus(codes.Ok, "")
	return result, nil
}

// embedCandidates resolves a content hash and (best-effort) vector for
// each extraction candidate ahead of consolidation. A candidate whose
// vector cannot be resolved is still returned — with a nil Vector — so
// ingestion makes forward progress (spec §4.2 embedding_pending).
func (s *Service) embedCandidates(ctx context.Context, candidates []extract.Candidate) []consolidate.EmbeddedCandidate {
	out := make([]consolidate.EmbeddedCandidate, len(candidates))
	for i, c := range candidates {
		out[i] = consolidate.EmbeddedCandidate{Candidate: c, ContentHash: contenthash.Hash(c.Summary, c.Body)}
	}
	if s.gateway == nil {
		return out
	}

	reqs := make([]embed.Request, len(candidates))
	for i, c := range candidates {
		reqs[i] = embed.Request{ContentHash: out[i].ContentHash, Text: c.Summary + "\n" + c.Body}
	}
	results, err := s.gateway.Embed(ctx, reqs)
	if err != nil {
		s.logger.Warn("embed batch failed, candidates remain embedding_pending", zap.Error(err))
		return out
	}
	for i, r := range results {
		if r.Pending {
			continue
		}
		out[i].Vector = r.Vector
		out[i].ModelID = s.gateway.ModelID()
	}
	return out
}

func mergePayload(p map[string]any, key string, value any) map[string]any {
	if p == nil {
		p = make(map[string]any)
	}
	p[key] = value
	return p
}

// Recall implements `Recall(thread_id, purpose, token_budget, filters?) →
// RecallResult` (spec §6.1): rank then trim to a flat item list under
// budget, without the Working-Set Builder's section structure.
func (s *Service) Recall(ctx context.Context, workspaceID, threadID, purpose string, tokenBudget int, filters Filters) (RecallResult, error) {
	ctx, span := s.tracer.Start(ctx, "cmc.recall")
	defer span.End()

	if err := s.checkOpen(); err != nil {
		return RecallResult{}, err
	}
	if purpose == "" {
		return RecallResult{}, cmcerr.New("Recall", cmcerr.ClassInputInvalid, errors.New("purpose is required"))
	}
	if tokenBudget <= 0 {
		return RecallResult{}, cmcerr.New("Recall", cmcerr.ClassInputInvalid, errors.New("token_budget must be positive"))
	}
	if s.recallCounter != nil {
		s.recallCounter.Add(ctx, 1)
	}

	scored, err := s.rankPurpose(ctx, workspaceID, threadID, purpose, filters)
	if err != nil {
		span.RecordError(err)
		return RecallResult{}, fmt.Errorf("recall: %w", err)
	}

	estimator := s.estimator()
	var items []model.Item
	used := 0
	for _, sc := range scored {
		cost := estimator(sc.Item.Summary)
		if used+cost > tokenBudget {
			continue
		}
		items = append(items, sc.Item)
		used += cost
	}

	return RecallResult{Items: items, TokensUsed: used, TokensAvailable: tokenBudget - used}, nil
}

// BuildWorkingSet implements `BuildWorkingSet(thread_id, purpose,
// token_budget, filters?) → WorkingSet` (spec §4.8/§6.1).
func (s *Service) BuildWorkingSet(ctx context.Context, workspaceID, threadID, purpose string, tokenBudget int, filters Filters) (workingset.WorkingSet, error) {
	ctx, span := s.tracer.Start(ctx, "cmc.build_working_set")
	defer span.End()

	if err := s.checkOpen(); err != nil {
		return workingset.WorkingSet{}, err
	}
	if purpose == "" {
		return workingset.WorkingSet{}, cmcerr.New("BuildWorkingSet", cmcerr.ClassInputInvalid, errors.New("purpose is required"))
	}
	if tokenBudget <= 0 {
		return workingset.WorkingSet{}, cmcerr.New("BuildWorkingSet", cmcerr.ClassInputInvalid, errors.New("token_budget must be positive"))
	}

	scored, err := s.rankPurpose(ctx, workspaceID, threadID, purpose, filters)
	if err != nil {
		span.RecordError(err)
		return workingset.WorkingSet{}, fmt.Errorf("build_working_set: %w", err)
	}

	ws := workingset.Build(scored, purpose, tokenBudget, workingset.Config{
		Estimator:      s.estimator(),
		ArtifactLookup: s.artifactLookup(workspaceID),
	})
	return ws, nil
}

func (s *Service) rankPurpose(ctx context.Context, workspaceID, threadID, purpose string, filters Filters) ([]rank.Scored, error) {
	var embedder rank.Embedder
	if s.gateway != nil {
		embedder = gatewayEmbedder{s.gateway}
	}
	return rank.Rank(ctx, rank.Deps{Store: s.store, Index: s.index, Embedder: embedder}, rank.Config{
		Weights:            s.cfg.Rank.Weights,
		TauSemantic:        time.Duration(s.cfg.Rank.TauSemanticSeconds) * time.Second,
		TauEpisodic:        time.Duration(s.cfg.Rank.TauEpisodicSeconds) * time.Second,
		PoolSize:           s.cfg.PoolSize,
		CrossThreadAllowed: filters.CrossThread,
	}, workspaceID, threadID, purpose, rank.Filter{
		IncludeKinds:    filters.IncludeKinds,
		ExcludeSubtypes: filters.ExcludeSubtypes,
		IncludeRetired:  filters.IncludeRetired,
		CrossThread:     filters.CrossThread,
	})
}

func (s *Service) estimator() workingset.TokenEstimator {
	if s.cfg.WorkingSet.TokenEstimator == "whitespace_tokens" {
		return workingset.WhitespaceTokens
	}
	return workingset.CharsOver4
}

func (s *Service) artifactLookup(workspaceID string) workingset.ArtifactLookup {
	return func(artifactID string) (string, string, bool) {
		a, err := s.store.GetArtifact(context.Background(), workspaceID, artifactID)
		if err != nil {
			return "", "", false
		}
		title := fmt.Sprintf("%s:%s", a.ContentType, artifactID)
		desc := a.Body
		if len(desc) > 120 {
			desc = desc[:120] + "..."
		}
		return title, desc, true
	}
}

// gatewayEmbedder adapts *embed.Gateway to rank.Embedder for the purpose
// text, which is always a cache miss on first use but shares the
// process-wide embedding cache with ingestion for repeat purposes.
type gatewayEmbedder struct{ g *embed.Gateway }

func (e gatewayEmbedder) ModelID() string { return e.g.ModelID() }

func (e gatewayEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, bool, error) {
	results, err := e.g.Embed(ctx, []embed.Request{{ContentHash: contenthash.Hash("", text), Text: text}})
	if err != nil || len(results) == 0 || results[0].Pending {
		return nil, false, err
	}
	return results[0].Vector, true, nil
}

// Expand implements `Expand(item_id, form) → ItemRecord | RawText` (spec
// §6.1). The item record is returned in both forms. With form "full" the
// text is the item's body (its extracted source span, not the whole
// artifact); any other form returns the item's summary as the text.
func (s *Service) Expand(ctx context.Context, workspaceID, itemID, form string) (model.Item, string, error) {
	if err := s.checkOpen(); err != nil {
		return model.Item{}, "", err
	}
	items, err := s.store.GetItems(ctx, workspaceID, []string{itemID})
	if err != nil || len(items) == 0 {
		return model.Item{}, "", cmcerr.New("Expand", cmcerr.ClassNotFound, err, itemID)
	}
	item := items[0]
	if form != "full" {
		return item, item.Summary, nil
	}
	return item, item.Body, nil
}

// Feedback implements `Feedback(item_id, signal, magnitude, comment?) →
// FeedbackResult` (spec §4.9/§6.1).
func (s *Service) Feedback(ctx context.Context, workspaceID, itemID string, signal model.FeedbackSignal, magnitude float64, actor, comment, relatedCanonical string) (FeedbackResult, error) {
	ctx, span := s.tracer.Start(ctx, "cmc.feedback")
	defer span.End()

	if err := s.checkOpen(); err != nil {
		return FeedbackResult{}, err
	}
	if magnitude < -1 || magnitude > 1 {
		return FeedbackResult{}, cmcerr.New("Feedback", cmcerr.ClassInputInvalid, errors.New("magnitude must be in [-1,1]"))
	}
	if s.feedbackCounter != nil {
		s.feedbackCounter.Add(ctx, 1)
	}

	r, err := feedback.Apply(ctx, s.store, workspaceID, itemID, signal, magnitude, actor, comment, relatedCanonical)
	if err != nil {
		span.RecordError(err)
		return FeedbackResult{}, fmt.Errorf("feedback: %w", err)
	}

	if s.index != nil && signal == model.SignalOutdated {
		// The retired-signal path may have flipped item.State to retired;
		// refresh the index's state tag so Search's ExcludeRetired filter
		// stops surfacing it. Best-effort: absence of a cached tag (item
		// embedded in a prior process lifetime) is not fatal to feedback.
		if items, gerr := s.store.GetItems(ctx, workspaceID, []string{itemID}); gerr == nil && len(items) == 1 {
			if items[0].State == model.StateRetired {
				_ = s.index.UpdateState(ctx, workspaceID, itemID, s.cfg.EmbeddingModelID, string(model.StateRetired))
			}
		}
	}

	return FeedbackResult{PreviousSalience: r.PreviousSalience, NewSalience: r.NewSalience, Delta: r.Delta}, nil
}
