package dataset

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/born-ml/perceiver/internal/graph"
)

// maxLineBytes bounds a single JSON line.
const maxLineBytes = 64 << 20

// record is the on-disk representation of one graph.
type record struct {
	NumNodes  int         `json:"num_nodes"`
	NodeFeat  [][]float32 `json:"node_feat"`
	EdgeIndex [2][]int    `json:"edge_index"`
	EdgeFeat  [][]float32 `json:"edge_feat"`
	Y         *float32    `json:"y"`
}

func (r *record) graph() *graph.Graph {
	g := &graph.Graph{
		NumNodes: r.NumNodes,
		NodeFeat: r.NodeFeat,
		Src:      r.EdgeIndex[0],
		Dst:      r.EdgeIndex[1],
		EdgeFeat: r.EdgeFeat,
		Y:        float32(math.NaN()),
	}
	if r.Y != nil {
		g.Y = *r.Y
	}
	return g
}

// LoadFile reads one split. Files ending in .gz are decompressed on the fly.
// limit > 0 stops after that many graphs.
func LoadFile(ctx context.Context, path, name string, limit int) (*graph.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s split: %w", name, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s split: %w", name, err)
		}
		defer gz.Close()
		r = gz
	}

	ds, err := Decode(ctx, r, name, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

// Decode reads JSON-lines graphs from r. Blank lines are skipped.
func Decode(ctx context.Context, r io.Reader, name string, limit int) (*graph.Dataset, error) {
	ds := &graph.Dataset{Name: name}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		if limit > 0 && ds.Len() >= limit {
			break
		}
		if line%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		raw := sc.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if err := ds.Add(rec.graph()); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s split: %w", name, err)
	}
	return ds, nil
}
