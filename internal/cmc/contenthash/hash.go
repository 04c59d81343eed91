// Package contenthash implements the Context Memory Core's content-hash
// normalization (spec invariant 4 / testable property 3): Unicode NFC
// normalization, ASCII-lowercase folding, whitespace-run collapse, trim.
//
// Go's standard library has no Unicode normalization support (the
// "unicode" package covers categories/case folding, not composition), so
// golang.org/x/text/unicode/norm is used — already part of the module
// graph transitively, promoted here to a direct dependency rather than
// hand-rolling NFC.
package contenthash

import (
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/unicode/norm"
)

// Normalize applies the deterministic normalization spec invariant 4
// requires: NFC composition, ASCII-lowercase folding, collapse of all
// whitespace runs to a single space, and trim.
func Normalize(s string) string {
	composed := norm.NFC.String(s)
	lowered := strings.Map(func(r rune) rune {
		if 'A' <= r && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, composed)
	collapsed := strings.Join(strings.Fields(lowered), " ")
	return collapsed
}

// Hash returns the 64-bit content hash over the normalized summary+body
// concatenation. Identical hash for any whitespace/case variant of the
// same underlying text (property 3).
func Hash(summary, body string) uint64 {
	normalized := Normalize(summary + "\n" + body)
	return xxhash.Sum64String(normalized)
}
