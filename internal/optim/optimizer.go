package optim

import (
	"errors"
	"fmt"

	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/nn"
	bornoptim "github.com/born-ml/born/optim"
	"github.com/born-ml/born/tensor"
)

// Optimizer names accepted by New.
const (
	NameAdam = "adam"
	NameSGD  = "sgd"
)

// ErrUnknownOptimizer is returned by New for an unrecognized name.
var ErrUnknownOptimizer = errors.New("unknown optimizer")

// Stateful is an optimizer whose full state can be written to a checkpoint
// and restored from it.
//
// Type and Config end up in the checkpoint header; StateDict holds the
// per-parameter buffers keyed by parameter index.
type Stateful interface {
	bornoptim.Optimizer
	LRSetter

	// Type names the optimizer, e.g. "Adam".
	Type() string

	// Config returns hyperparameters in a JSON-friendly form.
	Config() map[string]any

	// LoadConfig restores values produced by Config.
	LoadConfig(cfg map[string]any) error

	// StateDict returns the per-parameter buffers. The tensors are shared,
	// not copied.
	StateDict() map[string]*tensor.RawTensor

	// LoadStateDict copies buffers produced by StateDict.
	LoadStateDict(state map[string]*tensor.RawTensor) error
}

var (
	_ Stateful = (*Adam[*cpu.Backend])(nil)
	_ Stateful = (*SGD[*cpu.Backend])(nil)
)

// Options selects and configures an optimizer for New.
type Options struct {
	Name     string  // NameAdam or NameSGD
	LR       float32 // learning rate
	Momentum float32 // SGD only
}

// New creates the optimizer named by opts.Name over params.
func New[B tensor.Backend](params []*nn.Parameter[B], opts Options, backend B) (Stateful, error) {
	switch opts.Name {
	case NameAdam, "":
		return NewAdam(params, AdamConfig{LR: opts.LR}, backend), nil
	case NameSGD:
		return NewSGD(params, SGDConfig{LR: opts.LR, Momentum: opts.Momentum}, backend), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOptimizer, opts.Name)
	}
}

// checkState validates a buffer restored for parameter i.
func checkState[B tensor.Backend](params []*nn.Parameter[B], key string, i int, raw *tensor.RawTensor) error {
	if i < 0 || i >= len(params) {
		return fmt.Errorf("key %q does not name one of %d parameters", key, len(params))
	}
	want := params[i].Tensor().Shape()
	if !raw.Shape().Equal(want) {
		return fmt.Errorf("%q has shape %v, parameter has %v", key, raw.Shape(), want)
	}
	return nil
}
