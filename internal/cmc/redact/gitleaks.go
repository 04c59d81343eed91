package redact

import (
	"sort"
	"strings"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// gitleaksSecondary runs gitleaks' 800+ built-in detection rules over text
// that has already passed through the primary rule engine, catching
// credential shapes the spec's fixed category list does not enumerate
// (cloud provider keys, CI tokens, private key blocks). Every additional
// finding is masked with the same "[REDACTED_SECRET]" marker the primary
// engine uses for its generic category, rather than gitleaks' own
// rule-id-specific marker, so the output marker contract stays exactly
// what spec §4.1 defines regardless of which pass caught the secret.
//
// Grounded on pkg/secrets/{detector.go,redactor.go}'s
// NewDetectorDefaultConfig + DetectString + line/column replace idiom.
func gitleaksSecondary(text string) string {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return text // best-effort: the primary rule pass already ran
	}

	findings := detector.DetectString(text)
	if len(findings) == 0 {
		return text
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].StartLine != findings[j].StartLine {
			return findings[i].StartLine > findings[j].StartLine
		}
		return findings[i].StartColumn > findings[j].StartColumn
	})

	lines := strings.Split(text, "\n")
	for _, f := range findings {
		if f.StartLine < 1 || f.StartLine > len(lines) {
			continue // gitleaks line numbers are 1-indexed
		}
		line := lines[f.StartLine-1]
		if f.StartColumn < 0 || f.EndColumn > len(line) || f.StartColumn >= f.EndColumn {
			continue
		}
		lines[f.StartLine-1] = line[:f.StartColumn] + "[REDACTED_SECRET]" + line[f.EndColumn:]
	}
	return strings.Join(lines, "\n")
}
