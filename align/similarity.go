package align

import (
	"math"
	"unicode/utf8"
)

// Similarity maps an alignment score to [0,1] as score / (2*max(len1,len2)),
// clamped. Two empty sequences and NaN scores give 0.
func Similarity(score float64, len1, len2 int) float64 {
	longest := max(len1, len2)
	if longest <= 0 || math.IsNaN(score) {
		return 0
	}
	return clamp(score/(2*float64(longest)), 0, 1)
}

// SequenceSimilarity aligns seq1 and seq2 and returns their similarity.
// Alignment failures are returned, not folded into a zero similarity.
func SequenceSimilarity(seq1, seq2 string, scheme Scheme) (float64, error) {
	aln, err := Global(seq1, seq2, scheme)
	if err != nil {
		return 0, err
	}
	return Similarity(aln.Score, utf8.RuneCountInString(seq1), utf8.RuneCountInString(seq2)), nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
