// Package split partitions row indices into named subsets by seeded random
// assignment, for carving a dataset into train/validation/test style splits.
package split

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// ErrConfig reports invalid split weights.
var ErrConfig = errors.New("split: invalid configuration")

// WeightTolerance is the allowed deviation of the weight sum from 1.0.
// Weights are never renormalized; a larger deviation is a hard error.
const WeightTolerance = 1e-6

// Weight names one split and its target fraction of the rows.
type Weight struct {
	Name string
	Frac float64
}

// Partitioner deterministically partitions 0..totalRows-1 into disjoint
// index sets per split name. The same seed, weights and row count always
// produce bit-for-bit identical assignments.
type Partitioner struct {
	weights []Weight
	seed    int64
}

// New validates the weights and creates a partitioner. Weights must be
// non-empty, uniquely named, non-negative, and sum to 1.0 within
// WeightTolerance.
func New(seed int64, weights ...Weight) (*Partitioner, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("%w: no split weights given", ErrConfig)
	}
	sum := 0.0
	names := make(map[string]bool, len(weights))
	for _, w := range weights {
		if w.Name == "" {
			return nil, fmt.Errorf("%w: split name must not be empty", ErrConfig)
		}
		if names[w.Name] {
			return nil, fmt.Errorf("%w: duplicate split name %q", ErrConfig, w.Name)
		}
		names[w.Name] = true
		if w.Frac < 0 {
			return nil, fmt.Errorf("%w: split %q has negative weight %v", ErrConfig, w.Name, w.Frac)
		}
		sum += w.Frac
	}
	if math.Abs(sum-1.0) > WeightTolerance {
		return nil, fmt.Errorf("%w: split weights sum to %v, want 1.0 within %v", ErrConfig, sum, WeightTolerance)
	}
	ws := make([]Weight, len(weights))
	copy(ws, weights)
	return &Partitioner{weights: ws, seed: seed}, nil
}

// Names returns the split names in declaration order.
func (p *Partitioner) Names() []string {
	out := make([]string, len(p.weights))
	for i, w := range p.weights {
		out[i] = w.Name
	}
	return out
}

// Partition assigns every index in 0..totalRows-1 to exactly one split.
//
// The assignment is a seeded shuffle followed by cut points at the cumulative
// weight fractions; any rounding remainder lands in the last-named split, so
// the splits are always exhaustive. Each split's indices are returned sorted
// ascending, which keeps unshuffled iteration over a split in row order.
func (p *Partitioner) Partition(totalRows int64) map[string][]int64 {
	n := int(totalRows)
	perm := rand.New(rand.NewSource(p.seed)).Perm(n)

	out := make(map[string][]int64, len(p.weights))
	cum := 0.0
	start := 0
	for i, w := range p.weights {
		end := n
		if i < len(p.weights)-1 {
			cum += w.Frac
			end = int(math.Round(cum * float64(n)))
			if end > n {
				end = n
			}
			if end < start {
				end = start
			}
		}
		indices := make([]int64, 0, end-start)
		for _, v := range perm[start:end] {
			indices = append(indices, int64(v))
		}
		sort.Slice(indices, func(a, b int) bool { return indices[a] < indices[b] })
		out[w.Name] = indices
		start = end
	}
	return out
}
