package align

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Pair is one alignment job.
type Pair struct {
	Seq1 string `json:"sequence1"`
	Seq2 string `json:"sequence2"`
}

// AlignAll aligns every pair concurrently with at most workers goroutines
// (GOMAXPROCS when workers <= 0). Results keep the order of pairs. The first
// failure cancels the remaining jobs and is returned with its index.
func AlignAll(ctx context.Context, pairs []Pair, scheme Scheme, workers int) ([]Alignment, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	results := make([]Alignment, len(pairs))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i, p := range pairs {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			aln, err := Global(p.Seq1, p.Seq2, scheme)
			if err != nil {
				return fmt.Errorf("pair %d: %w", i, err)
			}
			results[i] = aln
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
