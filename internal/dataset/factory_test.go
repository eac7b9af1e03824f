package dataset

import (
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/perceiver/internal/graph"
)

const water = `{"num_nodes":3,"node_feat":[[8,0],[1,0],[1,0]],"edge_index":[[0,1,0,2],[1,0,2,0]],"edge_feat":[[1],[1],[1],[1]],"y":0.5}`
const argon = `{"num_nodes":1,"node_feat":[[18,0]],"edge_index":[[],[]],"edge_feat":[],"y":null}`
const neon = `{"num_nodes":1,"node_feat":[[10,0]],"edge_index":[[],[]],"edge_feat":[],"y":0}`

func writeSplit(t *testing.T, dir, name string, lines ...string) {
	t.Helper()
	body := strings.Join(lines, "\n") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".jsonl"), []byte(body), 0o600))
}

func writeGzipSplit(t *testing.T, dir, name string, lines ...string) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, name+".jsonl.gz"))
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n")))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
}

func TestDecode(t *testing.T) {
	ds, err := Decode(context.Background(), strings.NewReader(water+"\n\n"+argon+"\n"), "train", 0)
	require.NoError(t, err)

	require.Equal(t, 2, ds.Len())
	assert.Equal(t, 2, ds.NodeDim)
	assert.Equal(t, 1, ds.EdgeDim)

	g := ds.Graphs[0]
	assert.Equal(t, 3, g.NumNodes)
	assert.Equal(t, []int{0, 1, 0, 2}, g.Src)
	assert.Equal(t, []int{1, 0, 2, 0}, g.Dst)
	assert.InDelta(t, 0.5, g.Y, 1e-6)
	assert.True(t, g.Labelled())

	assert.False(t, ds.Graphs[1].Labelled(), "null target is unlabelled")
}

func TestDecode_Limit(t *testing.T) {
	ds, err := Decode(context.Background(), strings.NewReader(strings.Repeat(water+"\n", 5)), "train", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode(context.Background(), strings.NewReader("{not json"), "train", 0)
	assert.ErrorContains(t, err, "line 1")

	bad := `{"num_nodes":2,"node_feat":[[1,0],[1,0]],"edge_index":[[0],[5]],"edge_feat":[[1]],"y":1}`
	_, err = Decode(context.Background(), strings.NewReader(water+"\n"+bad), "train", 0)
	assert.ErrorIs(t, err, graph.ErrEdgeIndex)
	assert.ErrorContains(t, err, "line 2")
}

func TestCreate(t *testing.T) {
	dir := t.TempDir()
	writeSplit(t, dir, Train, water, water, neon)
	writeGzipSplit(t, dir, Valid, water)

	train, valid, test, err := Create(context.Background(), Options{Dir: dir})
	require.NoError(t, err)

	assert.Equal(t, 3, train.Len())
	assert.Equal(t, 1, valid.Len())
	assert.Equal(t, 0, test.Len(), "missing test split is empty")
	assert.Equal(t, Test, test.Name)
	assert.Equal(t, train.NodeDim, test.NodeDim)
	assert.Equal(t, train.EdgeDim, test.EdgeDim)
}

func TestCreate_Unlabelled(t *testing.T) {
	tests := []struct {
		name  string
		train []string
		valid []string
	}{
		{"train", []string{water, argon}, []string{water}},
		{"valid", []string{water}, []string{argon, water}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeSplit(t, dir, Train, tt.train...)
			writeSplit(t, dir, Valid, tt.valid...)

			_, _, _, err := Create(context.Background(), Options{Dir: dir})
			assert.ErrorIs(t, err, ErrUnlabelled)
			assert.ErrorContains(t, err, tt.name)
		})
	}

	dir := t.TempDir()
	writeSplit(t, dir, Train, water)
	writeSplit(t, dir, Valid, water)
	writeSplit(t, dir, Test, argon, water)
	_, _, test, err := Create(context.Background(), Options{Dir: dir})
	require.NoError(t, err, "the test split may be unlabelled")
	assert.Equal(t, 2, test.Len())
}

func TestCreate_Debug(t *testing.T) {
	dir := t.TempDir()
	lines := make([]string, DebugLimit+5)
	for i := range lines {
		lines[i] = neon
	}
	writeSplit(t, dir, Train, lines...)
	writeSplit(t, dir, Valid, water)

	train, _, _, err := Create(context.Background(), Options{Dir: dir, Debug: true})
	require.NoError(t, err)
	assert.Equal(t, DebugLimit, train.Len())
	assert.Equal(t, 1, train.EdgeDim, "edge width comes from valid")
}

func TestCreate_MissingSplit(t *testing.T) {
	dir := t.TempDir()
	writeSplit(t, dir, Train, water)

	_, _, _, err := Create(context.Background(), Options{Dir: dir})
	assert.ErrorIs(t, err, ErrMissingSplit)
}

func TestCreate_InconsistentDims(t *testing.T) {
	dir := t.TempDir()
	writeSplit(t, dir, Train, water)
	writeSplit(t, dir, Valid, `{"num_nodes":1,"node_feat":[[1,2,3]],"edge_index":[[],[]],"edge_feat":[],"y":1}`)

	_, _, _, err := Create(context.Background(), Options{Dir: dir})
	assert.ErrorIs(t, err, ErrInconsistentDims)
}
