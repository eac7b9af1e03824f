package graph

import (
	"fmt"
	"iter"
	"math/rand"

	"github.com/born-ml/perceiver/internal/parallel"
)

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	// Shuffle reorders the dataset at the start of every pass.
	Shuffle bool
	// Rand drives shuffling; required when Shuffle is set.
	Rand *rand.Rand
	// Parallel spreads collation of a batch over goroutines. The zero value
	// collates sequentially.
	Parallel parallel.Config
}

// Loader yields consecutive batches of a dataset. The last batch may be
// smaller than the batch size.
type Loader struct {
	ds        *Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	par       parallel.Config
}

// NewLoader creates a loader over ds.
func NewLoader(ds *Dataset, batchSize int, opts LoaderOptions) (*Loader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if opts.Shuffle && opts.Rand == nil {
		return nil, fmt.Errorf("shuffle requires a random source")
	}
	return &Loader{
		ds:        ds,
		batchSize: batchSize,
		shuffle:   opts.Shuffle,
		rng:       opts.Rand,
		par:       opts.Parallel,
	}, nil
}

// Len returns the number of batches per pass.
func (l *Loader) Len() int {
	return (l.ds.Len() + l.batchSize - 1) / l.batchSize
}

// NumGraphs returns the number of graphs per pass.
func (l *Loader) NumGraphs() int {
	return l.ds.Len()
}

// Dataset returns the underlying dataset.
func (l *Loader) Dataset() *Dataset {
	return l.ds
}

// All iterates one pass over the dataset, yielding (batch index, batch).
// Batches are collated lazily, one at a time.
func (l *Loader) All() iter.Seq2[int, *Batch] {
	return func(yield func(int, *Batch) bool) {
		n := l.ds.Len()
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		if l.shuffle {
			l.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
		}

		graphs := make([]*Graph, 0, l.batchSize)
		for idx, start := 0, 0; start < n; idx, start = idx+1, start+l.batchSize {
			end := min(start+l.batchSize, n)
			graphs = graphs[:0]
			for _, k := range order[start:end] {
				graphs = append(graphs, l.ds.Graphs[k])
			}
			if !yield(idx, Collate(graphs, l.ds.NodeDim, l.ds.EdgeDim, l.par)) {
				return
			}
		}
	}
}
