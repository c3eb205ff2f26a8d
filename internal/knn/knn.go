// Package knn computes exact top-K cosine neighbours over a fitted TF-IDF space.
//
// Rows are unit length, so cosine similarity is a sparse dot product. Scores are
// accumulated through an inverted index and each source row is handled independently,
// which lets rows be scored in parallel without shared mutable state. Every source gets
// min(K, N-1) neighbours: rows sharing no terms with the source fill the remaining slots
// at similarity zero. Ties are broken by neighbour key so repeated builds over the same
// snapshot emit identical edges.
package knn

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/polyrelated/internal/logger"
	"github.com/rewired-gh/polyrelated/internal/models"
	"github.com/rewired-gh/polyrelated/internal/textvec"
)

// DefaultK is the number of neighbours kept per source.
const DefaultK = 5

// Options controls the neighbour search.
type Options struct {
	K       int
	Workers int
}

type posting struct {
	row   int
	value float64
}

type candidate struct {
	row   int
	score float64
}

// Build returns the directed top-K edges of space ordered by source key, then similarity
// descending, then neighbour key.
func Build(ctx context.Context, space *textvec.Space, opts Options) ([]models.SimilarityEdge, error) {
	n := space.Len()
	if n < 2 {
		return nil, fmt.Errorf("%w: %d rows, need at least 2", textvec.ErrInsufficientData, n)
	}
	k := opts.K
	if k < 1 {
		k = DefaultK
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	postings := make([][]posting, len(space.Vocabulary))
	for row, vec := range space.Rows {
		for i, col := range vec.Indices {
			postings[col] = append(postings[col], posting{row: row, value: vec.Values[i]})
		}
	}

	// Row positions ordered by key, used for zero-score fill and final output order.
	byKey := make([]int, n)
	for i := range byKey {
		byKey[i] = i
	}
	sort.Slice(byKey, func(i, j int) bool { return space.Keys[byKey[i]] < space.Keys[byKey[j]] })

	slots := make([][]candidate, n)
	chunk := (n + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < n; start += chunk {
		start, end := start, min(start+chunk, n)
		g.Go(func() error {
			acc := make([]float64, n)
			touched := make([]int, 0, 64)
			for row := start; row < end; row++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				slots[row], touched = neighbours(space, postings, byKey, row, k, acc, touched)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to score neighbours: %w", err)
	}

	edges := make([]models.SimilarityEdge, 0, n*min(k, n-1))
	for _, row := range byKey {
		for _, c := range slots[row] {
			edges = append(edges, models.SimilarityEdge{
				SourceKey:   space.Keys[row],
				NeighborKey: space.Keys[c.row],
				Similarity:  c.score,
			})
		}
	}

	checkCounts(slots, space.Keys, k)
	return edges, nil
}

// neighbours scores one source row. acc must be all zero on entry and is left that way.
func neighbours(space *textvec.Space, postings [][]posting, byKey []int, row, k int, acc []float64, touched []int) ([]candidate, []int) {
	touched = touched[:0]
	src := space.Rows[row]
	for i, col := range src.Indices {
		w := src.Values[i]
		for _, p := range postings[col] {
			if p.row == row {
				continue
			}
			if acc[p.row] == 0 {
				touched = append(touched, p.row)
			}
			acc[p.row] += w * p.value
		}
	}

	cands := make([]candidate, 0, len(touched))
	for _, r := range touched {
		cands = append(cands, candidate{row: r, score: clamp(acc[r])})
		acc[r] = 0
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return space.Keys[cands[i].row] < space.Keys[cands[j].row]
	})

	want := min(k, len(space.Rows)-1)
	if len(cands) >= want {
		return cands[:want], touched
	}

	scored := make(map[int]struct{}, len(cands))
	for _, c := range cands {
		scored[c.row] = struct{}{}
	}
	for _, r := range byKey {
		if len(cands) == want {
			break
		}
		if r == row {
			continue
		}
		if _, ok := scored[r]; ok {
			continue
		}
		cands = append(cands, candidate{row: r, score: 0})
	}
	return cands, touched
}

func clamp(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}

// checkCounts warns about sources with an unexpected neighbour count.
func checkCounts(slots [][]candidate, keys []string, k int) {
	n := len(slots)
	if n <= k {
		return
	}
	short := 0
	for row, s := range slots {
		if len(s) != k {
			short++
			logger.Warn("Source %s has %d neighbours, expected %d", keys[row], len(s), k)
		}
	}
	if short > 0 {
		logger.Warn("%d of %d sources have an unexpected neighbour count", short, n)
	}
}
