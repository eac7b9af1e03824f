package graph

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/perceiver/internal/parallel"
)

// chain builds a path graph 0-1-...-(n-1) with both edge directions.
func chain(n int, y float32) *Graph {
	g := &Graph{NumNodes: n, Y: y}
	for v := 0; v < n; v++ {
		g.NodeFeat = append(g.NodeFeat, []float32{float32(v), 1})
	}
	for v := 0; v+1 < n; v++ {
		g.Src = append(g.Src, v, v+1)
		g.Dst = append(g.Dst, v+1, v)
		g.EdgeFeat = append(g.EdgeFeat, []float32{1}, []float32{2})
	}
	return g
}

func TestGraph_Validate(t *testing.T) {
	require.NoError(t, chain(3, 0).Validate(2, 1))

	tests := []struct {
		name string
		mut  func(g *Graph)
		want error
	}{
		{"no nodes", func(g *Graph) { g.NumNodes = 0 }, ErrEmptyGraph},
		{"short node row", func(g *Graph) { g.NodeFeat[1] = []float32{1} }, ErrFeatureDimension},
		{"missing node row", func(g *Graph) { g.NodeFeat = g.NodeFeat[:2] }, ErrFeatureDimension},
		{"edge out of range", func(g *Graph) { g.Dst[0] = 9 }, ErrEdgeIndex},
		{"negative edge", func(g *Graph) { g.Src[0] = -1 }, ErrEdgeIndex},
		{"edge feature width", func(g *Graph) { g.EdgeFeat[0] = []float32{1, 2} }, ErrFeatureDimension},
		{"src/dst length", func(g *Graph) { g.Dst = g.Dst[:1] }, ErrEdgeIndex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := chain(3, 0)
			tt.mut(g)
			assert.ErrorIs(t, g.Validate(2, 1), tt.want)
		})
	}
}

func TestGraph_Labelled(t *testing.T) {
	assert.True(t, chain(2, 1.5).Labelled())
	assert.False(t, chain(2, float32(math.NaN())).Labelled())
}

func TestDataset_AddFixesWidths(t *testing.T) {
	ds := &Dataset{Name: "train"}
	require.NoError(t, ds.Add(&Graph{NumNodes: 1, NodeFeat: [][]float32{{1, 2}}}))
	assert.Equal(t, 2, ds.NodeDim)
	assert.Equal(t, 0, ds.EdgeDim)

	require.NoError(t, ds.Add(chain(3, 0)))
	assert.Equal(t, 1, ds.EdgeDim)

	err := ds.Add(&Graph{NumNodes: 1, NodeFeat: [][]float32{{1, 2, 3}}})
	assert.ErrorIs(t, err, ErrFeatureDimension)
	assert.Equal(t, 2, ds.Len())
}

func TestCollate_Layout(t *testing.T) {
	small := &Graph{NumNodes: 1, NodeFeat: [][]float32{{7, 8}}, Y: 0.5}
	big := chain(3, 2.5)

	b := Collate([]*Graph{small, big}, 2, 1, parallel.Config{})

	assert.Equal(t, 2, b.BatchSize)
	assert.Equal(t, 3, b.MaxNodes)
	assert.Equal(t, 4, b.MaxEdges)
	assert.Equal(t, []int{2, 3, 2}, b.NodeShape())
	assert.Equal(t, []int{2, 4, 1}, b.EdgeShape())
	assert.Equal(t, []float32{0.5, 2.5}, b.Labels)
	assert.Equal(t, []int{1, 3}, b.NumNodes)
	assert.Equal(t, []int{0, 4}, b.NumEdges)

	// Graph 0 occupies one node slot, the rest is padding.
	assert.Equal(t, []float32{7, 8, 0, 0, 0, 0}, b.NodeFeat[:6])
	assert.Equal(t, []float32{1, 0, 0, 1, 1, 1}, b.NodeMask)

	// Node 1 of the chain receives edges 0 (0->1) and 3 (2->1), each weighted 1/2.
	inc := b.Incidence[1*3*4:]
	row1 := inc[1*4 : 2*4]
	assert.Equal(t, []float32{0.5, 0, 0, 0.5}, row1)
	// Node 0 receives only edge 1 (1->0).
	assert.Equal(t, []float32{0, 1, 0, 0}, inc[0:4])

	// Graph without edges gets an all-zero incidence block.
	for _, v := range b.Incidence[:3*4] {
		assert.Zero(t, v)
	}
}

func TestCollate_ParallelMatchesSequential(t *testing.T) {
	var graphs []*Graph
	for i := range 100 {
		graphs = append(graphs, chain(1+i%7, float32(i)))
	}
	seq := Collate(graphs, 2, 1, parallel.Config{})
	par := Collate(graphs, 2, 1, parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 8})
	assert.Equal(t, seq, par)
}

func newDataset(t *testing.T, n int) *Dataset {
	t.Helper()
	ds := &Dataset{Name: "test"}
	for i := 0; i < n; i++ {
		require.NoError(t, ds.Add(chain(2+i%3, float32(i))))
	}
	return ds
}

func TestLoader_Batches(t *testing.T) {
	ds := newDataset(t, 10)
	loader, err := NewLoader(ds, 4, LoaderOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, loader.Len())
	assert.Equal(t, 10, loader.NumGraphs())

	var sizes []int
	var labels []float32
	for i, b := range loader.All() {
		assert.Equal(t, len(sizes), i)
		sizes = append(sizes, b.BatchSize)
		labels = append(labels, b.Labels...)
	}
	assert.Equal(t, []int{4, 4, 2}, sizes)
	assert.Equal(t, []float32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, labels, "no shuffle keeps order")
}

func TestLoader_ShuffleIsSeeded(t *testing.T) {
	ds := newDataset(t, 10)
	collect := func(seed int64) []float32 {
		loader, err := NewLoader(ds, 3, LoaderOptions{Shuffle: true, Rand: rand.New(rand.NewSource(seed))})
		require.NoError(t, err)
		var labels []float32
		for _, b := range loader.All() {
			labels = append(labels, b.Labels...)
		}
		return labels
	}

	a, b := collect(1), collect(1)
	assert.Equal(t, a, b)
	assert.ElementsMatch(t, []float32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, a)
}

func TestLoader_EarlyStop(t *testing.T) {
	loader, err := NewLoader(newDataset(t, 10), 2, LoaderOptions{})
	require.NoError(t, err)

	seen := 0
	for i := range loader.All() {
		seen++
		if i == 1 {
			break
		}
	}
	assert.Equal(t, 2, seen)
}

func TestNewLoader_Errors(t *testing.T) {
	ds := newDataset(t, 1)
	_, err := NewLoader(ds, 0, LoaderOptions{})
	assert.Error(t, err)
	_, err = NewLoader(ds, 1, LoaderOptions{Shuffle: true})
	assert.Error(t, err)
}
