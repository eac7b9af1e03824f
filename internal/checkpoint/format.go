// Package checkpoint persists training state in Born's .born container and
// keeps a bounded history of per-epoch checkpoints.
//
// File layout (format v2):
//
//	0x00  "BORN"
//	0x04  uint32 format version (2)
//	0x08  uint32 flags
//	0x0C  reserved
//	0x10  uint64 JSON header size
//	0x18  uint64 tensor data size
//	0x20  [32]byte SHA-256 of the tensor data
//	0x40  JSON header, zero padded to a 64 byte boundary
//	....  tensor data, in header order
//
// Model tensors are stored under their parameter names, optimizer tensors
// under "optimizer.<name>". Version 1 files (no checksum) can still be read.
package checkpoint

import (
	"time"

	"github.com/born-ml/born/tensor"
)

// Format constants.
const (
	MagicBytes        = "BORN"
	FormatVersion     = 1
	FormatVersionV2   = 2
	HeaderAlignment   = 64
	FixedHeaderSizeV2 = 64
	ChecksumSize      = 32
	ChecksumOffsetV2  = 0x20

	// v1 prefix: magic + version + flags + header size.
	fixedHeaderSizeV1 = 4 + 4 + 4 + 8
)

// Flags for the .born format.
const (
	FlagCompressed   uint32 = 1 << 0
	FlagHasOptimizer uint32 = 1 << 1
	FlagHasMetadata  uint32 = 1 << 2
)

// OptimizerPrefix namespaces optimizer tensors inside a checkpoint.
const OptimizerPrefix = "optimizer."

// ModelType is written to every header.
const ModelType = "GraphPerceiver"

// bornVersion is the framework version recorded in headers.
const bornVersion = "0.6.0"

// Data type names.
const (
	DTypeFloat32 = "float32"
	DTypeFloat64 = "float64"
	DTypeInt32   = "int32"
	DTypeInt64   = "int64"
	DTypeUint8   = "uint8"
	DTypeBool    = "bool"
)

// Header is the JSON header of a .born file.
type Header struct {
	FormatVersion  int               `json:"format_version"`
	BornVersion    string            `json:"born_version"`
	ModelType      string            `json:"model_type"`
	CreatedAt      time.Time         `json:"created_at"`
	Tensors        []TensorMeta      `json:"tensors"`
	Metadata       map[string]string `json:"metadata"`
	CheckpointMeta *CheckpointMeta   `json:"checkpoint,omitempty"`
}

// CheckpointMeta is the training state stored alongside the tensors.
type CheckpointMeta struct {
	IsCheckpoint    bool           `json:"is_checkpoint"`
	Epoch           int            `json:"epoch"`
	Step            int64          `json:"step"`
	Loss            float64        `json:"loss"`
	OptimizerType   string         `json:"optimizer_type"`
	OptimizerConfig map[string]any `json:"optimizer_config"`
	TrainingMeta    map[string]any `json:"training_meta"`
}

// TensorMeta describes one tensor in the data section.
type TensorMeta struct {
	Name   string `json:"name"`
	DType  string `json:"dtype"`
	Shape  []int  `json:"shape"`
	Offset int64  `json:"offset"`
	Size   int64  `json:"size"`
}

// Training metadata keys.
const (
	metaArch           = "arch"
	metaArgs           = "args"
	metaRunID          = "run_id"
	metaSchedulerEpoch = "scheduler_last_epoch"
	metaBestMetric     = "best_metric"
	metaBestEpoch      = "best_epoch"
	metaNonFinite      = "nonfinite_loss"
)

// State is everything needed to resume training.
type State struct {
	Model     map[string]*tensor.RawTensor
	Optimizer map[string]*tensor.RawTensor

	Epoch           int
	Step            int64
	Metric          float64
	OptimizerType   string
	OptimizerConfig map[string]any
	SchedulerEpoch  int
	Arch            map[string]any
	Args            map[string]any
	RunID           string

	// Best metric so far; only meaningful when HasBest is set.
	HasBest    bool
	BestMetric float64
	BestEpoch  int
}

func dtypeToString(dt tensor.DataType) string {
	switch dt {
	case tensor.Float32:
		return DTypeFloat32
	case tensor.Float64:
		return DTypeFloat64
	case tensor.Int32:
		return DTypeInt32
	case tensor.Int64:
		return DTypeInt64
	case tensor.Uint8:
		return DTypeUint8
	case tensor.Bool:
		return DTypeBool
	default:
		return "unknown"
	}
}

func stringToDtype(s string) (tensor.DataType, bool) {
	switch s {
	case DTypeFloat32:
		return tensor.Float32, true
	case DTypeFloat64:
		return tensor.Float64, true
	case DTypeInt32:
		return tensor.Int32, true
	case DTypeInt64:
		return tensor.Int64, true
	case DTypeUint8:
		return tensor.Uint8, true
	case DTypeBool:
		return tensor.Bool, true
	default:
		return 0, false
	}
}

func alignedDataOffset(headerEnd int64) int64 {
	return headerEnd + (HeaderAlignment-(headerEnd%HeaderAlignment))%HeaderAlignment
}
