// Package align implements global pairwise alignment of protein sequences
// under an affine gap model, and the similarity derived from its score.
package align

import (
	"errors"
	"fmt"
)

// GapSymbol marks gap positions in aligned strings.
const GapSymbol = '-'

var (
	// ErrComputation reports an alignment that could not be computed, such as
	// a non-finite optimum or a broken traceback. It is never replaced by a
	// zero score.
	ErrComputation = errors.New("alignment computation failed")
	// ErrTooLarge reports inputs whose DP matrix exceeds the configured cap.
	ErrTooLarge = errors.New("alignment too large")
)

// Scheme holds the scoring parameters. A gap of length L scores
// GapOpen + (L-1)*GapExtend. No sign conventions are enforced.
type Scheme struct {
	Match     float64 `json:"match" yaml:"match"`
	Mismatch  float64 `json:"mismatch" yaml:"mismatch"`
	GapOpen   float64 `json:"gap_open" yaml:"gap_open"`
	GapExtend float64 `json:"gap_extend" yaml:"gap_extend"`
}

// DefaultScheme is the scoring used by the service.
var DefaultScheme = Scheme{
	Match:     2,
	Mismatch:  -1,
	GapOpen:   -2,
	GapExtend: -0.5,
}

// String returns a compact form usable as a cache key component.
func (s Scheme) String() string {
	return fmt.Sprintf("%g/%g/%g/%g", s.Match, s.Mismatch, s.GapOpen, s.GapExtend)
}

// GapScore returns the score of a single gap of the given length.
func (s Scheme) GapScore(length int) float64 {
	if length <= 0 {
		return 0
	}
	return s.GapOpen + float64(length-1)*s.GapExtend
}

// CheckSize returns ErrTooLarge when aligning sequences of length n and m
// would need more than maxCells DP cells. maxCells <= 0 disables the check.
func CheckSize(n, m int, maxCells int64) error {
	if maxCells <= 0 {
		return nil
	}
	cells := int64(n+1) * int64(m+1)
	if cells > maxCells {
		return fmt.Errorf("%w: %d x %d needs %d cells, limit %d", ErrTooLarge, n, m, cells, maxCells)
	}
	return nil
}
