package extract

import (
	"regexp"
	"strings"

	"github.com/memforge/cmc/internal/cmc/model"
)

// No third-party unified-diff parser appears anywhere in the example
// pack — iammorganparry-clive/apps/tui-go/internal/process/diff.go
// *generates* diffs rather than parsing pre-existing unified-diff text,
// so it cannot ground a parser. This is a from-scratch stdlib regexp
// implementation, matching the language-agnostic symbol patterns the
// spec calls for rather than any single language's AST.

var hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,\d+)? \+(\d+)(?:,\d+)? @@`)
var fileHeader = regexp.MustCompile(`^\+\+\+ b?/?(.+)$`)

// changedSymbol detects language-agnostic top-level declarations: function
// declarations, class/struct/interface keywords, and top-level bindings.
var changedSymbol = regexp.MustCompile(`(?i)^\s*(?:export\s+)?(func|function|def|class|struct|interface|type|const|var|let)\s+([A-Za-z_][A-Za-z0-9_]*)`)

// ExtractDiff implements the diff content-type rule of the Extractor
// contract: one entity candidate per changed symbol, carrying the file
// path and hunk coordinates (spec §4.5).
func ExtractDiff(text string) []Candidate {
	var out []Candidate
	lines := strings.Split(text, "\n")

	currentFile := ""
	hunkNewLine := 0
	offset := 0

	seen := make(map[string]bool)

	for _, line := range lines {
		lineLen := len(line) + 1

		if m := fileHeader.FindStringSubmatch(line); m != nil {
			currentFile = strings.TrimSpace(m[1])
			offset += lineLen
			continue
		}
		if m := hunkHeader.FindStringSubmatch(line); m != nil {
			hunkNewLine = atoiSafe(m[2])
			offset += lineLen
			continue
		}

		isAdded := strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++")
		content := line
		if isAdded {
			content = line[1:]
		} else if strings.HasPrefix(line, "-") || strings.HasPrefix(line, " ") {
			content = line[1:]
		}

		if isAdded {
			if m := changedSymbol.FindStringSubmatch(content); m != nil {
				key := currentFile + "|" + m[2]
				if !seen[key] {
					seen[key] = true
					summary := strings.TrimSpace(content)
					out = append(out, Candidate{
						Kind:      model.KindSemantic,
						Subtype:   model.SubtypeEntity,
						Summary:   truncateGraphemes(currentFile+": "+summary, maxSummaryGraphemes),
						Body:      summary,
						SpanStart: offset,
						SpanEnd:   offset + len(line),
						Salience:  InitialSalience[model.SubtypeEntity],
						Payload: map[string]any{
							"file":    currentFile,
							"line":    hunkNewLine,
							"symbol":  m[2],
							"keyword": strings.ToLower(m[1]),
						},
					})
				}
			}
			hunkNewLine++
		} else if strings.HasPrefix(line, " ") {
			hunkNewLine++
		}

		offset += lineLen
	}
	return out
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return n
		}
		n = n*10 + int(r-'0')
	}
	return n
}
