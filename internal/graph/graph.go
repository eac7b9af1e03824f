// Package graph holds molecular graphs on the host and merges them into
// dense, padded batches that the model consumes.
package graph

import (
	"errors"
	"fmt"
	"math"
)

// Validation errors.
var (
	ErrEmptyGraph       = errors.New("graph has no nodes")
	ErrFeatureDimension = errors.New("feature dimension mismatch")
	ErrEdgeIndex        = errors.New("edge index out of range")
)

// Graph is a single molecule: atoms are nodes, bonds are directed edges.
type Graph struct {
	NumNodes int
	NodeFeat [][]float32 // [NumNodes][NodeDim]
	Src      []int       // [NumEdges] source node of each edge
	Dst      []int       // [NumEdges] destination node of each edge
	EdgeFeat [][]float32 // [NumEdges][EdgeDim]
	Y        float32     // regression target, NaN when unlabelled
}

// NumEdges returns the number of directed edges.
func (g *Graph) NumEdges() int {
	return len(g.Src)
}

// Labelled reports whether the graph carries a target.
func (g *Graph) Labelled() bool {
	return !math.IsNaN(float64(g.Y))
}

// Validate checks internal consistency against the expected feature widths.
func (g *Graph) Validate(nodeDim, edgeDim int) error {
	if g.NumNodes <= 0 {
		return ErrEmptyGraph
	}
	if len(g.NodeFeat) != g.NumNodes {
		return fmt.Errorf("%w: %d node feature rows for %d nodes", ErrFeatureDimension, len(g.NodeFeat), g.NumNodes)
	}
	for i, row := range g.NodeFeat {
		if len(row) != nodeDim {
			return fmt.Errorf("%w: node %d has %d features, want %d", ErrFeatureDimension, i, len(row), nodeDim)
		}
	}
	if len(g.Src) != len(g.Dst) {
		return fmt.Errorf("%w: %d sources, %d destinations", ErrEdgeIndex, len(g.Src), len(g.Dst))
	}
	if len(g.EdgeFeat) != len(g.Src) {
		return fmt.Errorf("%w: %d edge feature rows for %d edges", ErrFeatureDimension, len(g.EdgeFeat), len(g.Src))
	}
	for e, row := range g.EdgeFeat {
		if len(row) != edgeDim {
			return fmt.Errorf("%w: edge %d has %d features, want %d", ErrFeatureDimension, e, len(row), edgeDim)
		}
	}
	for e := range g.Src {
		if g.Src[e] < 0 || g.Src[e] >= g.NumNodes || g.Dst[e] < 0 || g.Dst[e] >= g.NumNodes {
			return fmt.Errorf("%w: edge %d (%d -> %d) with %d nodes", ErrEdgeIndex, e, g.Src[e], g.Dst[e], g.NumNodes)
		}
	}
	return nil
}

// Dataset is an ordered collection of graphs sharing feature widths.
type Dataset struct {
	Name    string
	Graphs  []*Graph
	NodeDim int
	EdgeDim int
}

// Len returns the number of graphs.
func (d *Dataset) Len() int {
	return len(d.Graphs)
}

// Add validates g against the dataset's feature widths and appends it.
// The first graph added to an empty dataset fixes the widths.
func (d *Dataset) Add(g *Graph) error {
	if len(d.Graphs) == 0 && d.NodeDim == 0 && d.EdgeDim == 0 {
		if len(g.NodeFeat) > 0 {
			d.NodeDim = len(g.NodeFeat[0])
		}
		if len(g.EdgeFeat) > 0 {
			d.EdgeDim = len(g.EdgeFeat[0])
		}
	}
	// A dataset whose first graphs had no edges learns the edge width later.
	if d.EdgeDim == 0 && len(g.EdgeFeat) > 0 {
		d.EdgeDim = len(g.EdgeFeat[0])
	}
	if err := g.Validate(d.NodeDim, d.EdgeDim); err != nil {
		return fmt.Errorf("%s graph %d: %w", d.Name, len(d.Graphs), err)
	}
	d.Graphs = append(d.Graphs, g)
	return nil
}
