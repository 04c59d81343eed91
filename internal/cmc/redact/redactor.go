// Package redact implements the Context Memory Core's Redactor (C1):
// scrubbing sensitive patterns from textual fields before persistence and
// before embedding. Grounded on internal/secrets/{scrubber,rules,config}.go's
// keyword-gated regex engine and original_source/services/extractor.py's
// category set, adapted to spec §4.1's exact marker format and category
// list.
package redact

import (
	"sort"
)

// span is a half-open byte range [start, end) tagged with a category.
type span struct {
	start, end int
	category   Category
}

// Config controls the Redactor. GitleaksSecondary enables an additional
// defense-in-depth scan (see internal/pkg/secrets adaptation) over
// already-redacted text; disabled by default since the primary rule set
// already satisfies spec §4.1's minimum category list.
type Config struct {
	Enabled           bool
	Rules             []Rule
	GitleaksSecondary bool
}

// DefaultConfig returns a Config with the spec-mandated rule set enabled.
func DefaultConfig() Config {
	return Config{Enabled: true, Rules: DefaultRules()}
}

// Redactor scrubs sensitive patterns from text.
type Redactor struct {
	cfg Config
}

// New constructs a Redactor. An empty rule set falls back to DefaultRules
// so a zero-value Config still satisfies spec §4.1's minimum guarantee.
func New(cfg Config) *Redactor {
	if len(cfg.Rules) == 0 {
		cfg.Rules = DefaultRules()
	}
	return &Redactor{cfg: cfg}
}

// Redact returns text with every match of a configured sensitive pattern
// replaced by "[REDACTED_<CATEGORY>]". Idempotent: redacting already
// redacted text is a no-op, since replacement tokens do not themselves
// match any configured pattern (spec invariant 8 / property 2).
func (r *Redactor) Redact(text string) string {
	if !r.cfg.Enabled || text == "" {
		return text
	}

	var spans []span
	for _, rule := range r.cfg.Rules {
		for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
			match := text[loc[0]:loc[1]]
			if rule.Validate != nil && !rule.Validate(match) {
				continue
			}
			spans = append(spans, span{start: loc[0], end: loc[1], category: rule.Category})
		}
	}
	for _, loc := range CredentialPattern.FindAllStringSubmatchIndex(text, -1) {
		key := text[loc[2]:loc[3]]
		spans = append(spans, span{start: loc[0], end: loc[1], category: CredentialCategory(key)})
	}

	out := text
	if len(spans) > 0 {
		spans = mergeOverlapping(spans)

		// Replace in descending position order so earlier offsets stay
		// valid, same idiom as internal/secrets/scrubber.go::Scrub.
		sort.Slice(spans, func(i, j int) bool { return spans[i].start > spans[j].start })

		for _, s := range spans {
			out = out[:s.start] + "[REDACTED_" + string(s.category) + "]" + out[s.end:]
		}
	}

	if r.cfg.GitleaksSecondary {
		out = gitleaksSecondary(out)
	}
	return out
}

// mergeOverlapping merges spans whose byte ranges overlap or touch,
// keeping the category of whichever span started first — mirroring
// internal/secrets/scrubber.go::mergeRedactions, which resolves
// overlapping rule matches the same way to guarantee substring boundary
// safety (no partial redactions that split a matched span).
func mergeOverlapping(spans []span) []span {
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	merged := make([]span, 0, len(spans))
	cur := spans[0]
	for _, s := range spans[1:] {
		if s.start <= cur.end {
			if s.end > cur.end {
				cur.end = s.end
			}
			continue
		}
		merged = append(merged, cur)
		cur = s
	}
	merged = append(merged, cur)
	return merged
}
