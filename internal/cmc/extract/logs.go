package extract

import (
	"regexp"
	"strings"

	"github.com/memforge/cmc/internal/cmc/model"
)

// timestampPrefix recognizes a leading ISO-ish or syslog-ish timestamp, the
// boundary spec §4.5's "logs" rule splits on. Deliberately loose: the
// severity/failure classifiers below do the real work.
var timestampPrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}|^[A-Z][a-z]{2}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2}`)

var severityPattern = regexp.MustCompile(`\b(ERROR|FATAL|CRITICAL)\b`)

// testFailurePattern matches "FAIL" or "failed"; an entry is a test failure
// only when it also holds a test identifier (testIdentifierPattern: a token
// containing Test, _test or ::test).
var testFailurePattern = regexp.MustCompile(`(?i)\bFAIL\b|\bfailed\b`)
var testIdentifierPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_./]*(?:Test|_test|::test)[A-Za-z0-9_./]*|Test[A-Za-z0-9_]+`)

// splitLogLines groups raw text into log entries: a line starting a new
// timestamp begins a new entry, subsequent non-timestamped lines (e.g.
// stack trace continuations) attach to it.
func splitLogLines(text string) []string {
	var entries []string
	var cur strings.Builder
	for _, line := range strings.Split(text, "\n") {
		if timestampPrefix.MatchString(line) {
			if cur.Len() > 0 {
				entries = append(entries, cur.String())
			}
			cur.Reset()
			cur.WriteString(line)
			continue
		}
		if cur.Len() == 0 {
			cur.WriteString(line)
			continue
		}
		cur.WriteString("\n")
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		entries = append(entries, cur.String())
	}
	return entries
}

// ExtractLogs implements the logs content-type rule of the Extractor
// contract (spec §4.5): one error candidate per severity-matching line,
// one test_failure candidate per recognized failure line, otherwise log.
func ExtractLogs(text string) []Candidate {
	var out []Candidate
	offset := 0
	for _, entry := range splitLogLines(text) {
		trimmed := clean(entry)
		entryLen := len(entry) + 1
		if trimmed == "" {
			offset += entryLen
			continue
		}

		var subtype model.Subtype
		switch {
		case severityPattern.MatchString(entry):
			subtype = model.SubtypeError
		case testFailurePattern.MatchString(entry) && testIdentifierPattern.MatchString(entry):
			subtype = model.SubtypeTestFailure
		default:
			subtype = model.SubtypeLog
		}

		out = append(out, Candidate{
			Kind:        model.KindEpisodic,
			Subtype:     subtype,
			Summary:     truncateGraphemes(trimmed, maxSummaryGraphemes),
			Body:        entry,
			SpanStart:   offset,
			SpanEnd:     offset + len(entry),
			Salience:    InitialSalience[subtype],
			RawSentence: trimmed,
		})
		offset += entryLen
	}
	return out
}
