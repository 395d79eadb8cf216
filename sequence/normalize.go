// Package sequence cleans raw protein input before it reaches the aligner or
// the feature extractor.
package sequence

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// StandardAminoAcids lists the 20 canonical residues.
const StandardAminoAcids = "ACDEFGHIKLMNPQRSTVWY"

var whitespace = strings.NewReplacer("\n", "", "\r", "", " ", "")

// Normalize strips FASTA headers, removes newline, carriage-return and space
// characters, uppercases and trims the result. Header records are resolved on
// the raw text so that the line break separating a header from its residues is
// still visible. Any other character is kept.
func Normalize(raw string) string {
	cleaned := stripHeaders(raw)
	cleaned = whitespace.Replace(cleaned)
	return strings.TrimSpace(toUpper(cleaned))
}

// NormalizeLegacy reproduces the historical ordering where line breaks are
// removed before headers are looked for, which leaves header text glued to the
// residues. Kept for comparison with stored results.
func NormalizeLegacy(raw string) string {
	cleaned := whitespace.Replace(raw)
	cleaned = stripHeaders(cleaned)
	return strings.TrimSpace(toUpper(cleaned))
}

// toUpper applies full Unicode case mapping. A Caser keeps state, so one is
// built per call.
func toUpper(s string) string {
	return cases.Upper(language.Und).String(s)
}

// stripHeaders splits on '>' and keeps, for each non-empty piece, the text
// after its first line break, or the whole piece when it has none.
func stripHeaders(s string) string {
	if !strings.Contains(s, ">") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, piece := range strings.Split(s, ">") {
		if piece == "" {
			continue
		}
		if _, body, ok := strings.Cut(piece, "\n"); ok {
			b.WriteString(body)
			continue
		}
		b.WriteString(piece)
	}
	return b.String()
}

// Validate returns the distinct residues of seq that are not one of the
// standard amino acids, in order of first appearance. The core accepts any
// character; this is for callers that want to reject input early.
func Validate(seq string) []rune {
	var bad []rune
	seen := make(map[rune]bool)
	for _, r := range seq {
		if strings.ContainsRune(StandardAminoAcids, r) || seen[r] {
			continue
		}
		seen[r] = true
		bad = append(bad, r)
	}
	return bad
}
