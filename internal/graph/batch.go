package graph

import "github.com/born-ml/perceiver/internal/parallel"

// Batch is a set of graphs merged into dense, zero-padded host buffers.
//
// Layouts are row-major:
//
//	NodeFeat  [BatchSize, MaxNodes, NodeDim]
//	EdgeFeat  [BatchSize, MaxEdges, EdgeDim]
//	Incidence [BatchSize, MaxNodes, MaxEdges]  Incidence[b][v][e] = 1/indeg(v) if edge e ends at v
//	NodeMask  [BatchSize, MaxNodes]            1 for real nodes, 0 for padding
//	Labels    [BatchSize]
//
// MaxNodes and MaxEdges are at least 1 so every buffer has a valid shape.
type Batch struct {
	BatchSize int
	MaxNodes  int
	MaxEdges  int
	NodeDim   int
	EdgeDim   int

	NodeFeat  []float32
	EdgeFeat  []float32
	Incidence []float32
	NodeMask  []float32
	Labels    []float32

	NumNodes []int
	NumEdges []int
}

// NodeShape is the shape of NodeFeat.
func (b *Batch) NodeShape() []int {
	return []int{b.BatchSize, b.MaxNodes, b.NodeDim}
}

// EdgeShape is the shape of EdgeFeat.
func (b *Batch) EdgeShape() []int {
	return []int{b.BatchSize, b.MaxEdges, b.EdgeDim}
}

// Collate merges graphs into one Batch. Graphs must already be validated
// against nodeDim and edgeDim. Graphs are written to disjoint regions, so
// par may spread them over several goroutines.
func Collate(graphs []*Graph, nodeDim, edgeDim int, par parallel.Config) *Batch {
	maxNodes, maxEdges := 1, 1
	for _, g := range graphs {
		maxNodes = max(maxNodes, g.NumNodes)
		maxEdges = max(maxEdges, g.NumEdges())
	}

	bs := len(graphs)
	b := &Batch{
		BatchSize: bs,
		MaxNodes:  maxNodes,
		MaxEdges:  maxEdges,
		NodeDim:   nodeDim,
		EdgeDim:   edgeDim,
		NodeFeat:  make([]float32, bs*maxNodes*nodeDim),
		EdgeFeat:  make([]float32, bs*maxEdges*edgeDim),
		Incidence: make([]float32, bs*maxNodes*maxEdges),
		NodeMask:  make([]float32, bs*maxNodes),
		Labels:    make([]float32, bs),
		NumNodes:  make([]int, bs),
		NumEdges:  make([]int, bs),
	}

	parallel.ForRange(bs, func(lo, hi int) {
		indeg := make([]int, maxNodes)
		for i := lo; i < hi; i++ {
			b.fill(i, graphs[i], indeg)
		}
	}, par)
	return b
}

// fill writes graph g into slot i. indeg is scratch of at least MaxNodes.
func (b *Batch) fill(i int, g *Graph, indeg []int) {
	maxNodes, maxEdges := b.MaxNodes, b.MaxEdges
	b.NumNodes[i] = g.NumNodes
	b.NumEdges[i] = g.NumEdges()
	b.Labels[i] = g.Y

	nodeBase := i * maxNodes * b.NodeDim
	for v, row := range g.NodeFeat {
		copy(b.NodeFeat[nodeBase+v*b.NodeDim:], row)
		b.NodeMask[i*maxNodes+v] = 1
	}

	edgeBase := i * maxEdges * b.EdgeDim
	for e, row := range g.EdgeFeat {
		copy(b.EdgeFeat[edgeBase+e*b.EdgeDim:], row)
	}

	indeg = indeg[:g.NumNodes]
	clear(indeg)
	for _, v := range g.Dst {
		indeg[v]++
	}
	incBase := i * maxNodes * maxEdges
	for e, v := range g.Dst {
		b.Incidence[incBase+v*maxEdges+e] = 1 / float32(indeg[v])
	}
}
