// Package workingset implements the Context Memory Core's Working-Set
// Builder (C8): assembling a budgeted, structured working set from ranked
// items with deterministic tie-breaks and citations.
//
// Grounded on internal/folding/budget.go's Allocate/Consume/Remaining
// saturating-accounting idiom for the token-budget bookkeeping, and
// original_source/services/workingset.py's section assembly (mission,
// constraints, focus_decisions, focus_tasks, runbook, artifacts,
// citations, open_questions) for the exact section shape spec §4.8 names.
package workingset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/memforge/cmc/internal/cmc/model"
	"github.com/memforge/cmc/internal/cmc/rank"
)

// TokenEstimator estimates the token cost of a string. Config option
// working_set.token_estimator selects between the two spec-named
// strategies.
type TokenEstimator func(s string) int

// CharsOver4 is the default estimator (spec §4.8): ceil(chars/4).
func CharsOver4(s string) int {
	if s == "" {
		return 0
	}
	return (len([]rune(s)) + 3) / 4
}

// WhitespaceTokens counts whitespace-delimited fields.
func WhitespaceTokens(s string) int {
	return len(strings.Fields(s))
}

// ArtifactLookup resolves an artifact id to a title and one-line
// description for the working set's artifacts section.
type ArtifactLookup func(artifactID string) (title, description string, ok bool)

// Config tunes the builder.
type Config struct {
	Estimator      TokenEstimator
	ArtifactLookup ArtifactLookup
	// UncertaintyLexicon supplements the "?" marker for open_questions
	// detection (spec §4.8).
	UncertaintyLexicon []string
}

// DefaultConfig returns the spec-mandated default estimator.
func DefaultConfig() Config {
	return Config{Estimator: CharsOver4}
}

// WorkingSet is the structured record spec §4.8 defines.
type WorkingSet struct {
	Mission         string
	Constraints     []string
	FocusDecisions  []string
	FocusTasks      []string
	Runbook         []string
	Artifacts       []ArtifactRef
	Citations       map[string][]string
	OpenQuestions   []string
	TokensUsed      int
	TokensAvailable int
}

// ArtifactRef is one entry in the working set's artifacts section.
type ArtifactRef struct {
	ArtifactID  string
	Title       string
	Description string
}

// section names double as citation-map keys.
const (
	sectionMission        = "mission"
	sectionConstraints    = "constraints"
	sectionFocusDecisions = "focus_decisions"
	sectionFocusTasks     = "focus_tasks"
	sectionRunbook        = "runbook"
	sectionOpenQuestions  = "open_questions"
)

// Build implements `Build(ranked, purpose, budget) → working_set` (spec
// §4.8). Given identical inputs, the output is byte-identical
// (determinism property 6): no wall-clock, randomness, or map-iteration
// order leaks into the result.
func Build(ranked []rank.Scored, purpose string, budget int, cfg Config) WorkingSet {
	if cfg.Estimator == nil {
		cfg.Estimator = CharsOver4
	}

	ws := WorkingSet{
		Citations:       map[string][]string{},
		TokensAvailable: budget,
	}

	missionText := buildMission(purpose)
	missionTokens := cfg.Estimator(missionText)
	if missionTokens > budget {
		ws.Mission = truncateToTokens(missionText, budget, cfg.Estimator)
		ws.TokensUsed = cfg.Estimator(ws.Mission)
		ws.TokensAvailable = budget - ws.TokensUsed
		if ws.TokensAvailable < 0 {
			ws.TokensAvailable = 0
		}
		return ws
	}
	ws.Mission = missionText
	used := missionTokens

	artifactRefs := map[string]bool{}
	var selectedTasks []model.Item

	// Best-fit-decreasing with a hard cap: scan every ranked item once in
	// rank order, skip any that would exceed budget, keep scanning lower
	// ranked items to maximize packing (spec §4.8 budget enforcement).
	for _, s := range ranked {
		it := s.Item
		cost := cfg.Estimator(it.Summary)
		if used+cost > budget {
			continue
		}

		switch {
		case it.Subtype == model.SubtypeConstraint:
			ws.Constraints = append(ws.Constraints, it.Summary)
			ws.Citations[sectionConstraints] = append(ws.Citations[sectionConstraints], it.ID)
		case it.Subtype == model.SubtypeDecision:
			ws.FocusDecisions = append(ws.FocusDecisions, it.Summary)
			ws.Citations[sectionFocusDecisions] = append(ws.Citations[sectionFocusDecisions], it.ID)
		case it.Subtype == model.SubtypeTask:
			ws.FocusTasks = append(ws.FocusTasks, it.Summary)
			ws.Citations[sectionFocusTasks] = append(ws.Citations[sectionFocusTasks], it.ID)
			selectedTasks = append(selectedTasks, it)
		case it.Subtype == model.SubtypeRequirement && isOpenQuestion(it, cfg.UncertaintyLexicon):
			ws.OpenQuestions = append(ws.OpenQuestions, it.Summary)
			ws.Citations[sectionOpenQuestions] = append(ws.Citations[sectionOpenQuestions], it.ID)
		default:
			continue // items outside the named sections don't consume budget
		}

		used += cost
		if it.SourceSpan.ArtifactID != "" {
			artifactRefs[it.SourceSpan.ArtifactID] = true
		}
	}

	ws.Runbook, ws.Citations[sectionRunbook] = buildRunbook(selectedTasks, ranked, cfg, &used, budget)

	ws.Artifacts = resolveArtifacts(artifactRefs, cfg.ArtifactLookup)
	ws.TokensUsed = used
	ws.TokensAvailable = budget - used
	if ws.TokensAvailable < 0 {
		ws.TokensAvailable = 0
	}
	return ws
}

// buildRunbook derives a sequence-numbered task list from the tasks the
// main packing loop already selected (and already charged to used); if
// fewer than 3 tasks were selected, requirement items fill the remainder,
// newly charged against the budget (spec §4.8).
func buildRunbook(selectedTasks []model.Item, ranked []rank.Scored, cfg Config, used *int, budget int) ([]string, []string) {
	var runbook []string
	var citations []string
	seq := 1

	for _, it := range selectedTasks {
		runbook = append(runbook, fmt.Sprintf("%d. %s", seq, it.Summary))
		citations = append(citations, it.ID)
		seq++
	}

	if seq-1 >= 3 {
		return runbook, citations
	}

	for _, s := range ranked {
		if seq-1 >= 3 {
			break
		}
		if s.Item.Subtype != model.SubtypeRequirement {
			continue
		}
		cost := cfg.Estimator(s.Item.Summary)
		if *used+cost > budget {
			continue
		}
		runbook = append(runbook, fmt.Sprintf("%d. %s", seq, s.Item.Summary))
		citations = append(citations, s.Item.ID)
		*used += cost
		seq++
	}

	return runbook, citations
}

func isOpenQuestion(it model.Item, lexicon []string) bool {
	if it.Subtype != model.SubtypeRequirement {
		return false
	}
	if strings.Contains(it.Body, "?") {
		return true
	}
	lower := strings.ToLower(it.Body)
	for _, term := range lexicon {
		if strings.Contains(lower, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

func resolveArtifacts(refs map[string]bool, lookup ArtifactLookup) []ArtifactRef {
	if len(refs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(refs))
	for id := range refs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]ArtifactRef, 0, len(ids))
	for _, id := range ids {
		title, desc := id, ""
		if lookup != nil {
			if t, d, ok := lookup(id); ok {
				title, desc = t, d
			}
		}
		out = append(out, ArtifactRef{ArtifactID: id, Title: title, Description: desc})
	}
	return out
}

func buildMission(purpose string) string {
	p := strings.TrimSpace(purpose)
	if p == "" {
		return ""
	}
	return "This working set supports the following purpose: " + p
}

func truncateToTokens(s string, budget int, estimate TokenEstimator) string {
	if budget <= 0 {
		return ""
	}
	r := []rune(s)
	lo, hi := 0, len(r)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if estimate(string(r[:mid])) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(r[:lo])
}
