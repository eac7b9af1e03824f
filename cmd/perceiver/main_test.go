package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/perceiver/internal/checkpoint"
	"github.com/born-ml/perceiver/internal/config"
	"github.com/born-ml/perceiver/internal/summary"
)

// writeDataset writes n small molecules per split into a fresh directory.
func writeDataset(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for _, split := range []string{"train", "valid"} {
		var b strings.Builder
		for i := range n {
			fmt.Fprintf(&b,
				`{"num_nodes":3,"node_feat":[[%d,0],[1,1],[1,0]],"edge_index":[[0,1,1,2],[1,0,2,1]],"edge_feat":[[1],[1],[2],[2]],"y":%g}`+"\n",
				i%4, float64(i)/10)
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, split+".jsonl"), []byte(b.String()), 0o600))
	}
	return dir
}

func tinyConfig(t *testing.T, data string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Data = data
	cfg.Output = t.TempDir()
	cfg.BatchSize = 4
	cfg.Epochs = 2
	cfg.EmbDim = 8
	cfg.Depth = 1
	cfg.NumLatents = 4
	cfg.LatentDim = 8
	cfg.LatentHeads = 2
	cfg.MaxHistory = 1
	cfg.RunID = "test-run"
	require.NoError(t, cfg.Validate())
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// runDir returns the single run directory under root.
func runDir(t *testing.T, root string) string {
	t.Helper()
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return filepath.Join(root, entries[0].Name())
}

func readSummary(t *testing.T, dir string) [][]string {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, summary.FileName))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestRun_EndToEnd(t *testing.T) {
	cfg := tinyConfig(t, writeDataset(t, 10))
	require.NoError(t, run(context.Background(), cfg, quietLogger()))

	dir := runDir(t, cfg.Output)
	for _, name := range []string{"args.yaml", checkpoint.LastFile, checkpoint.BestFile} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
	kept, err := filepath.Glob(filepath.Join(dir, "checkpoint-*.born"))
	require.NoError(t, err)
	assert.Len(t, kept, 1, "max-history bounds the per-epoch checkpoints")

	rows := readSummary(t, dir)
	require.Len(t, rows, 3, "header plus one row per epoch")
	assert.Equal(t, []string{"epoch", "train_loss", "eval_loss"}, rows[0])
	assert.Equal(t, "0", rows[1][0])
	assert.Equal(t, "1", rows[2][0])

	st, err := checkpoint.Load(filepath.Join(dir, checkpoint.LastFile))
	require.NoError(t, err)
	assert.Equal(t, 1, st.Epoch)
	assert.Equal(t, "test-run", st.RunID)
	assert.Equal(t, "Adam", st.OptimizerType)
	assert.Equal(t, 1, st.SchedulerEpoch)
	assert.True(t, st.HasBest)
	assert.NotEmpty(t, st.Optimizer)
	assert.InDelta(t, 8, st.Arch["latent_dim"], 0)
}

func TestRun_Resume(t *testing.T) {
	data := writeDataset(t, 8)
	first := tinyConfig(t, data)
	require.NoError(t, run(context.Background(), first, quietLogger()))
	last := filepath.Join(runDir(t, first.Output), checkpoint.LastFile)

	second := tinyConfig(t, data)
	second.Epochs = 3
	second.Resume = last
	require.NoError(t, run(context.Background(), second, quietLogger()))

	dir := runDir(t, second.Output)
	rows := readSummary(t, dir)
	require.Len(t, rows, 2, "header plus the remaining epoch")
	assert.Equal(t, []string{"epoch", "train_loss", "eval_loss"}, rows[0])
	assert.Equal(t, "2", rows[1][0])
	assert.FileExists(t, filepath.Join(dir, checkpoint.BestFile), "the carried-over best is present in the new run")

	prev, err := checkpoint.Load(last)
	require.NoError(t, err)
	best, err := checkpoint.Load(filepath.Join(dir, checkpoint.BestFile))
	require.NoError(t, err)
	if best.Epoch != 2 {
		assert.Equal(t, prev.BestEpoch, best.Epoch)
	}

	st, err := checkpoint.Load(filepath.Join(dir, checkpoint.LastFile))
	require.NoError(t, err)
	assert.Equal(t, 2, st.Epoch)
	assert.Equal(t, 2, st.SchedulerEpoch)
}

func TestRun_ResumeWrongOptimizer(t *testing.T) {
	data := writeDataset(t, 4)
	first := tinyConfig(t, data)
	first.Epochs = 1
	require.NoError(t, run(context.Background(), first, quietLogger()))

	second := tinyConfig(t, data)
	second.Optimizer = "sgd"
	second.Resume = filepath.Join(runDir(t, first.Output), checkpoint.LastFile)
	assert.ErrorContains(t, run(context.Background(), second, quietLogger()), "checkpoint optimizer Adam")
}

func TestRun_Cancelled(t *testing.T) {
	cfg := tinyConfig(t, writeDataset(t, 4))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, run(ctx, cfg, quietLogger()), context.Canceled)
}

func TestRealMain_ExitCodes(t *testing.T) {
	assert.Equal(t, 1, realMain([]string{"--depth", "0"}))
	assert.Equal(t, 1, realMain([]string{"--data", t.TempDir(), "--output", t.TempDir()}), "missing splits")
}
