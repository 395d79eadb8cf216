package align

import (
	"fmt"
	"math"
	"strings"
)

// state identifies which of the three DP matrices a cell value belongs to.
type state uint8

const (
	stateNone state = iota // no predecessor, the top-left corner
	stateMatch             // residue aligned to residue
	stateGap1              // residue of seq1 against a gap (gap in seq2)
	stateGap2              // residue of seq2 against a gap (gap in seq1)
)

func (s state) String() string {
	switch s {
	case stateMatch:
		return "M"
	case stateGap1:
		return "X"
	case stateGap2:
		return "Y"
	case stateNone:
		return "×"
	}
	return "■"
}

// Alignment is an optimal global alignment of two sequences.
type Alignment struct {
	Seq1  string  `json:"aligned_sequence1"`
	Seq2  string  `json:"aligned_sequence2"`
	Score float64 `json:"score"`
}

// Length returns the number of alignment columns.
func (a Alignment) Length() int {
	return len([]rune(a.Seq1))
}

// Matches returns the number of columns with identical residues.
func (a Alignment) Matches() int {
	r1, r2 := []rune(a.Seq1), []rune(a.Seq2)
	n := 0
	for i := range r1 {
		if r1[i] != GapSymbol && r1[i] == r2[i] {
			n++
		}
	}
	return n
}

// Gaps returns the number of columns holding a gap in either sequence.
func (a Alignment) Gaps() int {
	r1, r2 := []rune(a.Seq1), []rune(a.Seq2)
	n := 0
	for i := range r1 {
		if r1[i] == GapSymbol || r2[i] == GapSymbol {
			n++
		}
	}
	return n
}

// Identity returns Matches/Length, or 0 for an empty alignment.
func (a Alignment) Identity() float64 {
	l := a.Length()
	if l == 0 {
		return 0
	}
	return float64(a.Matches()) / float64(l)
}

// Midline returns the match markup line: '|' for identical residues, '.' for
// mismatches and ' ' for gaps.
func (a Alignment) Midline() string {
	r1, r2 := []rune(a.Seq1), []rune(a.Seq2)
	var b strings.Builder
	b.Grow(len(r1))
	for i := range r1 {
		switch {
		case r1[i] == GapSymbol || r2[i] == GapSymbol:
			b.WriteByte(' ')
		case r1[i] == r2[i]:
			b.WriteByte('|')
		default:
			b.WriteByte('.')
		}
	}
	return b.String()
}

// Global computes an optimal end-to-end alignment of seq1 and seq2 with the
// Gotoh recurrences. Scores are kept for two rows only; the traceback
// pointers of all three matrices are kept for the whole (n+1)x(m+1) grid.
//
// Among equally scoring predecessors the order of preference is match, gap in
// seq2, gap in seq1, which makes the result deterministic.
func Global(seq1, seq2 string, scheme Scheme) (Alignment, error) {
	a, b := []rune(seq1), []rune(seq2)
	n, m := len(a), len(b)
	w := m + 1

	negInf := math.Inf(-1)
	open, extend := scheme.GapOpen, scheme.GapExtend

	ptrM := make([]state, (n+1)*w)
	ptrX := make([]state, (n+1)*w)
	ptrY := make([]state, (n+1)*w)

	prevM, prevX, prevY := make([]float64, w), make([]float64, w), make([]float64, w)
	curM, curX, curY := make([]float64, w), make([]float64, w), make([]float64, w)

	for i := 0; i <= n; i++ {
		for j := 0; j <= m; j++ {
			k := i*w + j
			if i == 0 && j == 0 {
				curM[0], curX[0], curY[0] = 0, negInf, negInf
				ptrM[k] = stateNone
				continue
			}

			curM[j] = negInf
			if i > 0 && j > 0 {
				best, from := max3(prevM[j-1], prevX[j-1], prevY[j-1])
				curM[j] = best + scheme.pair(a[i-1], b[j-1])
				ptrM[k] = from
			}

			curX[j] = negInf
			if i > 0 {
				best, from := max3(prevM[j]+open, prevX[j]+extend, prevY[j]+open)
				curX[j] = best
				ptrX[k] = from
			}

			curY[j] = negInf
			if j > 0 {
				best, from := max3(curM[j-1]+open, curX[j-1]+open, curY[j-1]+extend)
				curY[j] = best
				ptrY[k] = from
			}
		}
		prevM, curM = curM, prevM
		prevX, curX = curX, prevX
		prevY, curY = curY, prevY
	}

	score, final := max3(prevM[m], prevX[m], prevY[m])
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return Alignment{}, fmt.Errorf("%w: optimal score %v for lengths %d and %d", ErrComputation, score, n, m)
	}
	if n == 0 && m == 0 {
		return Alignment{Score: score}, nil
	}

	out1 := make([]rune, 0, n+m)
	out2 := make([]rune, 0, n+m)
	i, j, s := n, m, final
	for i > 0 || j > 0 {
		k := i*w + j
		switch {
		case s == stateMatch && i > 0 && j > 0:
			out1 = append(out1, a[i-1])
			out2 = append(out2, b[j-1])
			s = ptrM[k]
			i--
			j--
		case s == stateGap1 && i > 0:
			out1 = append(out1, a[i-1])
			out2 = append(out2, GapSymbol)
			s = ptrX[k]
			i--
		case s == stateGap2 && j > 0:
			out1 = append(out1, GapSymbol)
			out2 = append(out2, b[j-1])
			s = ptrY[k]
			j--
		default:
			return Alignment{}, fmt.Errorf("%w: traceback reached state %s at (%d,%d)", ErrComputation, s, i, j)
		}
	}
	if s != stateMatch && s != stateNone {
		return Alignment{}, fmt.Errorf("%w: traceback ended in state %s", ErrComputation, s)
	}

	reverse(out1)
	reverse(out2)
	return Alignment{Seq1: string(out1), Seq2: string(out2), Score: score}, nil
}

func (s Scheme) pair(x, y rune) float64 {
	if x == y {
		return s.Match
	}
	return s.Mismatch
}

// max3 returns the largest of the match, gap1 and gap2 candidates and the
// state it came from. Earlier candidates win ties.
func max3(m, x, y float64) (float64, state) {
	best, from := m, stateMatch
	if x > best {
		best, from = x, stateGap1
	}
	if y > best {
		best, from = y, stateGap2
	}
	return best, from
}

func reverse(r []rune) {
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
}
