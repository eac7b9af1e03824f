package checkpoint

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/born-ml/born/tensor"
)

// Read decodes a .born file. The v2 checksum is verified before any tensor
// is materialised.
func Read(r io.Reader) (*State, Header, error) {
	var h Header

	prefix := make([]byte, 8)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, h, fmt.Errorf("failed to read magic bytes: %w", err)
	}
	if string(prefix[:4]) != MagicBytes {
		return nil, h, ErrInvalidMagic
	}

	version := binary.LittleEndian.Uint32(prefix[4:8])
	var (
		headerSize uint64
		dataSize   uint64
		checksum   [32]byte
		headerEnd  int64
	)
	switch version {
	case FormatVersion:
		rest := make([]byte, fixedHeaderSizeV1-8)
		if _, err := io.ReadFull(r, rest); err != nil {
			return nil, h, fmt.Errorf("failed to read header: %w", err)
		}
		headerSize = binary.LittleEndian.Uint64(rest[4:12])
		headerEnd = fixedHeaderSizeV1
	case FormatVersionV2:
		rest := make([]byte, FixedHeaderSizeV2-8)
		if _, err := io.ReadFull(r, rest); err != nil {
			return nil, h, fmt.Errorf("failed to read fixed header: %w", err)
		}
		fixed := append(prefix, rest...)
		headerSize = binary.LittleEndian.Uint64(fixed[16:24])
		dataSize = binary.LittleEndian.Uint64(fixed[24:32])
		copy(checksum[:], fixed[ChecksumOffsetV2:ChecksumOffsetV2+ChecksumSize])
		headerEnd = FixedHeaderSizeV2
	default:
		return nil, h, fmt.Errorf("%w: got %d, expected %d or %d", ErrUnsupportedVersion, version, FormatVersion, FormatVersionV2)
	}

	if headerSize > MaxHeaderSize {
		return nil, h, ErrHeaderTooLarge
	}
	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, h, fmt.Errorf("failed to read header JSON: %w", err)
	}
	if err := json.Unmarshal(headerBytes, &h); err != nil {
		return nil, h, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	//nolint:gosec // G115: headerSize is bounded by MaxHeaderSize
	headerEnd += int64(headerSize)
	if _, err := io.CopyN(io.Discard, r, alignedDataOffset(headerEnd)-headerEnd); err != nil {
		return nil, h, fmt.Errorf("failed to read padding: %w", err)
	}

	var data []byte
	if version == FormatVersionV2 {
		//nolint:gosec // G115: bounded by the tensor table below
		data = make([]byte, dataSize)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, h, fmt.Errorf("failed to read tensor data: %w", err)
		}
		if err := validateChecksum(computeChecksum(data), checksum); err != nil {
			return nil, h, err
		}
	} else {
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, r); err != nil {
			return nil, h, fmt.Errorf("failed to read tensor data: %w", err)
		}
		data = buf.Bytes()
	}

	if err := validateHeader(&h, int64(len(data))); err != nil {
		return nil, h, fmt.Errorf("validation failed: %w", err)
	}

	st, err := decodeState(&h, data)
	if err != nil {
		return nil, h, err
	}
	return st, h, nil
}

// ReadFile reads the checkpoint at path.
func ReadFile(path string) (*State, Header, error) {
	//nolint:gosec // G304: path is the user supplied checkpoint to resume from
	f, err := os.Open(path)
	if err != nil {
		return nil, Header{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	st, h, err := Read(f)
	if err != nil {
		return nil, h, fmt.Errorf("%s: %w", path, err)
	}
	return st, h, nil
}

func decodeState(h *Header, data []byte) (*State, error) {
	st := &State{
		Model:     make(map[string]*tensor.RawTensor),
		Optimizer: make(map[string]*tensor.RawTensor),
	}

	for _, meta := range h.Tensors {
		dtype, ok := stringToDtype(meta.DType)
		if !ok {
			return nil, fmt.Errorf("%w: %s for tensor %s", ErrUnsupportedDType, meta.DType, meta.Name)
		}
		shape := tensor.Shape(meta.Shape)
		if err := shape.Validate(); err != nil {
			return nil, fmt.Errorf("invalid shape for tensor %s: %w", meta.Name, err)
		}
		if want := int64(shape.NumElements() * dtype.Size()); want != meta.Size {
			return nil, &ValidationError{
				Type:    "size_mismatch",
				Tensor:  meta.Name,
				Details: fmt.Sprintf("shape %v needs %d bytes, header says %d", meta.Shape, want, meta.Size),
			}
		}

		raw, err := tensor.NewRaw(shape, dtype, tensor.CPU)
		if err != nil {
			return nil, fmt.Errorf("failed to create tensor %s: %w", meta.Name, err)
		}
		copy(raw.Data(), data[meta.Offset:meta.Offset+meta.Size])

		if name, ok := strings.CutPrefix(meta.Name, OptimizerPrefix); ok {
			st.Optimizer[name] = raw
		} else {
			st.Model[meta.Name] = raw
		}
	}

	cm := h.CheckpointMeta
	if cm == nil || !cm.IsCheckpoint {
		return st, nil
	}
	st.Epoch = cm.Epoch
	st.Step = cm.Step
	st.Metric = cm.Loss
	st.OptimizerType = cm.OptimizerType
	st.OptimizerConfig = cm.OptimizerConfig

	tm := cm.TrainingMeta
	if v, ok := tm[metaNonFinite].(string); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			st.Metric = f
		}
	}
	st.SchedulerEpoch = intValue(tm[metaSchedulerEpoch])
	st.Arch, _ = tm[metaArch].(map[string]any)
	st.Args, _ = tm[metaArgs].(map[string]any)
	st.RunID, _ = tm[metaRunID].(string)
	if best, ok := tm[metaBestMetric].(float64); ok {
		st.HasBest = true
		st.BestMetric = best
		st.BestEpoch = intValue(tm[metaBestEpoch])
	}
	return st, nil
}

// intValue converts a JSON number to int.
func intValue(v any) int {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) {
		return 0
	}
	return int(f)
}

// IsCheckpoint reports whether the header carries training state.
func (h Header) IsCheckpoint() bool {
	return h.CheckpointMeta != nil && h.CheckpointMeta.IsCheckpoint
}

// Load reads a checkpoint written by Write and rejects plain weight files.
func Load(path string) (*State, error) {
	st, h, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !h.IsCheckpoint() {
		return nil, fmt.Errorf("%s: %w", path, ErrNotCheckpoint)
	}
	return st, nil
}
