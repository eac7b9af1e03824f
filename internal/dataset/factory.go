// Package dataset builds the train/valid/test graph datasets from a data
// directory.
//
// Each split is a JSON-lines file, optionally gzip-compressed:
//
//	<data>/train.jsonl[.gz]
//	<data>/valid.jsonl[.gz]
//	<data>/test.jsonl[.gz]   (optional)
//
// with one molecule per line:
//
//	{"num_nodes": 3,
//	 "node_feat": [[...], [...], [...]],
//	 "edge_index": [[0, 1], [1, 0]],
//	 "edge_feat": [[...], [...]],
//	 "y": 5.29}
//
// "y" may be null only in the test split.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/born-ml/perceiver/internal/graph"
)

// Split names.
const (
	Train = "train"
	Valid = "valid"
	Test  = "test"
)

// DebugLimit caps every split when Options.Debug is set.
const DebugLimit = 1000

// ErrMissingSplit is returned when a required split file does not exist.
var ErrMissingSplit = errors.New("missing dataset split")

// ErrInconsistentDims is returned when splits disagree on feature widths.
var ErrInconsistentDims = errors.New("splits have different feature dimensions")

// ErrUnlabelled is returned when a train or valid graph has a null target.
var ErrUnlabelled = errors.New("unlabelled graph")

// Options configures Create.
type Options struct {
	Dir   string
	Debug bool // keep at most DebugLimit graphs per split
	Limit int  // explicit per-split cap, 0 = no cap; overrides Debug
}

func (o Options) limit() int {
	if o.Limit > 0 {
		return o.Limit
	}
	if o.Debug {
		return DebugLimit
	}
	return 0
}

// Create loads the three splits concurrently. A missing test split yields an
// empty dataset; missing train or valid splits are errors, and so is any
// unlabelled graph in them.
func Create(ctx context.Context, opts Options) (train, valid, test *graph.Dataset, err error) {
	splits := []struct {
		name     string
		required bool
		out      **graph.Dataset
	}{
		{Train, true, &train},
		{Valid, true, &valid},
		{Test, false, &test},
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, s := range splits {
		g.Go(func() error {
			path, ok := findSplit(opts.Dir, s.name)
			if !ok {
				if s.required {
					return fmt.Errorf("%w: %s in %s", ErrMissingSplit, s.name, opts.Dir)
				}
				*s.out = &graph.Dataset{Name: s.name}
				return nil
			}
			ds, err := LoadFile(ctx, path, s.name, opts.limit())
			if err != nil {
				return err
			}
			if s.required {
				if err := checkLabels(ds); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
			}
			*s.out = ds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}

	if err := reconcileDims(train, valid, test); err != nil {
		return nil, nil, nil, err
	}
	return train, valid, test, nil
}

func checkLabels(ds *graph.Dataset) error {
	for i, g := range ds.Graphs {
		if !g.Labelled() {
			return fmt.Errorf("%w: %s graph %d", ErrUnlabelled, ds.Name, i)
		}
	}
	return nil
}

// findSplit returns the split file in dir, preferring the uncompressed one.
func findSplit(dir, name string) (string, bool) {
	for _, ext := range []string{".jsonl", ".jsonl.gz"} {
		path := filepath.Join(dir, name+ext)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

// reconcileDims makes every split agree with train's feature widths. A split
// without edges at all inherits train's edge width; if no split has edges the
// width is 1 so edge tensors keep a valid shape.
func reconcileDims(train *graph.Dataset, others ...*graph.Dataset) error {
	if train.EdgeDim == 0 {
		for _, ds := range others {
			train.EdgeDim = max(train.EdgeDim, ds.EdgeDim)
		}
		if train.EdgeDim == 0 {
			train.EdgeDim = 1
		}
	}
	for _, ds := range others {
		if ds.Len() == 0 {
			ds.NodeDim, ds.EdgeDim = train.NodeDim, train.EdgeDim
			continue
		}
		if ds.EdgeDim == 0 {
			ds.EdgeDim = train.EdgeDim
		}
		if ds.NodeDim != train.NodeDim || ds.EdgeDim != train.EdgeDim {
			return fmt.Errorf("%w: %s has (%d, %d), %s has (%d, %d)", ErrInconsistentDims,
				train.Name, train.NodeDim, train.EdgeDim, ds.Name, ds.NodeDim, ds.EdgeDim)
		}
	}
	return nil
}
