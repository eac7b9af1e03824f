package checkpoint

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/born-ml/born/tensor"
)

// Write encodes st as a v2 .born checkpoint. Tensors are written in name
// order, so equal states produce equal data sections.
func Write(w io.Writer, st *State) error {
	tensors := make(map[string]*tensor.RawTensor, len(st.Model)+len(st.Optimizer))
	for name, raw := range st.Model {
		tensors[name] = raw
	}
	for name, raw := range st.Optimizer {
		tensors[OptimizerPrefix+name] = raw
	}
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	slices.Sort(names)

	header := Header{
		FormatVersion:  FormatVersionV2,
		BornVersion:    bornVersion,
		ModelType:      ModelType,
		CreatedAt:      time.Now().UTC(),
		Tensors:        make([]TensorMeta, 0, len(names)),
		Metadata:       map[string]string{},
		CheckpointMeta: checkpointMeta(st),
	}
	if st.RunID != "" {
		header.Metadata[metaRunID] = st.RunID
	}

	var offset int64
	for _, name := range names {
		raw := tensors[name]
		size := int64(raw.NumElements() * raw.DType().Size())
		header.Tensors = append(header.Tensors, TensorMeta{
			Name:   name,
			DType:  dtypeToString(raw.DType()),
			Shape:  []int(raw.Shape()),
			Offset: offset,
			Size:   size,
		})
		offset += size
	}

	data := make([]byte, 0, offset)
	for _, name := range names {
		data = append(data, tensors[name].Data()...)
	}
	checksum := computeChecksum(data)

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	flags := FlagHasMetadata
	if len(st.Optimizer) > 0 {
		flags |= FlagHasOptimizer
	}

	fixed := make([]byte, FixedHeaderSizeV2)
	copy(fixed[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(fixed[4:8], uint32(FormatVersionV2))
	binary.LittleEndian.PutUint32(fixed[8:12], flags)
	binary.LittleEndian.PutUint64(fixed[16:24], uint64(len(headerJSON)))
	binary.LittleEndian.PutUint64(fixed[24:32], uint64(len(data)))
	copy(fixed[ChecksumOffsetV2:ChecksumOffsetV2+ChecksumSize], checksum[:])

	if _, err := w.Write(fixed); err != nil {
		return fmt.Errorf("failed to write fixed header: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header JSON: %w", err)
	}

	headerEnd := int64(FixedHeaderSizeV2 + len(headerJSON))
	if padding := alignedDataOffset(headerEnd) - headerEnd; padding > 0 {
		if _, err := w.Write(make([]byte, padding)); err != nil {
			return fmt.Errorf("failed to write padding: %w", err)
		}
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write tensor data: %w", err)
	}
	return nil
}

// WriteFile writes st to path and syncs it to disk.
func WriteFile(path string, st *State) error {
	//nolint:gosec // G304: checkpoint paths come from the output directory
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	bw := bufio.NewWriterSize(f, 1<<20)
	if err := Write(bw, st); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	return f.Close()
}

func checkpointMeta(st *State) *CheckpointMeta {
	training := map[string]any{
		metaSchedulerEpoch: st.SchedulerEpoch,
	}
	if st.Arch != nil {
		training[metaArch] = st.Arch
	}
	if st.Args != nil {
		training[metaArgs] = st.Args
	}
	if st.RunID != "" {
		training[metaRunID] = st.RunID
	}
	if st.HasBest && isFinite(st.BestMetric) {
		training[metaBestMetric] = st.BestMetric
		training[metaBestEpoch] = st.BestEpoch
	}

	// JSON has no NaN or Inf; a diverged run records the fact instead.
	loss := st.Metric
	if !isFinite(loss) {
		training[metaNonFinite] = strconv.FormatFloat(loss, 'g', -1, 64)
		loss = 0
	}

	return &CheckpointMeta{
		IsCheckpoint:    true,
		Epoch:           st.Epoch,
		Step:            st.Step,
		Loss:            loss,
		OptimizerType:   st.OptimizerType,
		OptimizerConfig: st.OptimizerConfig,
		TrainingMeta:    training,
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
