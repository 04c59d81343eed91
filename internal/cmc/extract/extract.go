// Package extract implements the Context Memory Core's Extractor (C5):
// turning a redacted artifact into candidate items.
//
// Grounded on internal/extraction/{types.go,heuristic.go} for the
// compiled-regex-pattern-table idiom and internal/conversation/parser.go
// for tolerant, error-isolating line-oriented scanning; cue-phrase
// subtype tables and the initial-salience table are grounded on
// original_source/server/app/services/extractor.py's semantic_patterns /
// episodic_patterns / _calculate_initial_salience.
package extract

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/memforge/cmc/internal/cmc/model"
)

// Candidate is one proposed item before consolidation.
type Candidate struct {
	Kind        model.Kind
	Subtype     model.Subtype
	Summary     string
	Body        string
	SpanStart   int
	SpanEnd     int
	Salience    float64
	RawSentence string // the sentence as extracted from the (already redacted) text, used by the consolidator's polarity check
	Payload     map[string]any
}

// InitialSalience is the spec-mandated per-subtype starting salience.
var InitialSalience = map[model.Subtype]float64{
	model.SubtypeDecision:    0.8,
	model.SubtypeRequirement: 0.75,
	model.SubtypeConstraint:  0.7,
	model.SubtypeTask:        0.6,
	model.SubtypeError:       0.75,
	model.SubtypeTestFailure: 0.8,
	model.SubtypeLog:         0.4,
	model.SubtypeEntity:      0.5,
	model.SubtypePreference:  0.55,
}

const maxSummaryGraphemes = 280

func truncateGraphemes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func clean(s string) string {
	return strings.TrimSpace(strings.Join(strings.Fields(s), " "))
}

// turnMarker matches a line-leading role marker, case-insensitive.
var turnMarker = regexp.MustCompile(`(?i)^\s*(user|assistant|system)\s*:`)

type turn struct {
	role string
	text string
}

// splitTurns splits a chat transcript into turns by line-leading role
// markers (spec §4.5).
func splitTurns(text string) []turn {
	lines := strings.Split(text, "\n")
	var turns []turn
	var cur *turn
	for _, line := range lines {
		if m := turnMarker.FindStringSubmatchIndex(line); m != nil {
			if cur != nil {
				turns = append(turns, *cur)
			}
			role := strings.ToLower(line[m[2]:m[3]])
			rest := line[m[1]:]
			cur = &turn{role: role, text: rest}
			continue
		}
		if cur == nil {
			cur = &turn{role: "user", text: ""}
		}
		cur.text += "\n" + line
	}
	if cur != nil {
		turns = append(turns, *cur)
	}
	return turns
}

// sentenceSplit breaks a turn's text into candidate propositions, one per
// line (conversational text is usually already newline-delimited per
// proposition) falling back to '.'-delimited sentences for prose lines.
func sentenceSplit(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, sent := range splitSentences(line) {
			sent = clean(sent)
			if sent != "" {
				out = append(out, sent)
			}
		}
	}
	return out
}

func splitSentences(line string) []string {
	var out []string
	start := 0
	for i, r := range line {
		if r == '.' || r == '!' || r == '?' {
			out = append(out, line[start:i+1])
			start = i + 1
		}
	}
	if start < len(line) {
		out = append(out, line[start:])
	}
	if len(out) == 0 {
		return []string{line}
	}
	return out
}

type cuePattern struct {
	subtype model.Subtype
	regex   *regexp.Regexp
}

// semanticCues mirrors original_source's semantic_patterns table, adapted
// to the spec's cue phrasing.
var semanticCues = []cuePattern{
	{model.SubtypeDecision, regexp.MustCompile(`(?i)\b(let's |lets )(use|go with|choose|pick|switch to)\b`)},
	{model.SubtypeDecision, regexp.MustCompile(`(?i)\bwe will\b`)},
	{model.SubtypeDecision, regexp.MustCompile(`(?i)\bswitch(ing)? to\b`)},
	{model.SubtypeDecision, regexp.MustCompile(`(?i)\buse .+ for .+\b`)},
	{model.SubtypeDecision, regexp.MustCompile(`(?i)\bdecided to\b`)},
	{model.SubtypeRequirement, regexp.MustCompile(`(?i)\b(must|need to|needs to|should|required to)\b`)},
	{model.SubtypeConstraint, regexp.MustCompile(`(?i)\b(do not|don't|must not|never)\b`)},
	{model.SubtypeConstraint, regexp.MustCompile(`(?i)\bonly\b`)},
	{model.SubtypeTask, regexp.MustCompile(`(?i)^(add|fix|update|remove|implement|write|refactor|investigate|review)\b`)},
}

// codeSymbolPattern recognizes code-symbol-looking tokens (a call, a dotted
// name, or a backquoted span); together with hasProperNoun it classifies
// the entity/preference fallback.
var codeSymbolPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*\(|[A-Za-z0-9_]+\.[A-Za-z0-9_]+|` + "`[^`]+`")

func classifySemantic(sentence string) model.Subtype {
	for _, c := range semanticCues {
		if c.regex.MatchString(sentence) {
			return c.subtype
		}
	}
	if codeSymbolPattern.MatchString(sentence) || hasProperNoun(sentence) {
		return model.SubtypeEntity
	}
	return model.SubtypePreference
}

func hasProperNoun(sentence string) bool {
	for _, w := range strings.Fields(sentence) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if len(w) > 1 && unicode.IsUpper(rune(w[0])) {
			return true
		}
	}
	return false
}

// Extract dispatches on content type, implementing the Extractor contract
// `Extract(artifact) → [candidate_item, …]` (spec §4.5).
func Extract(contentType model.ContentType, text string) []Candidate {
	switch contentType {
	case model.ContentTypeChat:
		return ExtractChat(text)
	case model.ContentTypeDiff:
		return ExtractDiff(text)
	case model.ContentTypeLogs:
		return ExtractLogs(text)
	default:
		return nil
	}
}

// ExtractChat implements the chat content-type rule of the Extractor
// contract (spec §4.5).
func ExtractChat(text string) []Candidate {
	var out []Candidate
	offset := 0
	for _, t := range splitTurns(text) {
		if t.role != "user" && t.role != "assistant" && t.role != "system" {
			offset += len(t.text) + 1
			continue
		}
		for _, sentence := range sentenceSplit(t.text) {
			if len(sentence) < 10 {
				continue
			}
			subtype := classifySemantic(sentence)
			start := strings.Index(text[offset:], sentence)
			spanStart, spanEnd := offset, offset+len(sentence)
			if start >= 0 {
				spanStart = offset + start
				spanEnd = spanStart + len(sentence)
			}
			out = append(out, Candidate{
				Kind:        model.KindSemantic,
				Subtype:     subtype,
				Summary:     truncateGraphemes(sentence, maxSummaryGraphemes),
				Body:        sentence,
				SpanStart:   spanStart,
				SpanEnd:     spanEnd,
				Salience:    InitialSalience[subtype],
				RawSentence: sentence,
			})
		}
		offset += len(t.text) + 1
	}
	return out
}
