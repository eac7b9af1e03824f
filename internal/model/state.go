package model

import (
	"errors"
	"fmt"
	"slices"

	"github.com/born-ml/born/tensor"
)

// ErrStateMismatch is returned when a state dict does not fit the model.
var ErrStateMismatch = errors.New("state dict does not match model")

// StateDict returns every parameter keyed by its dotted name, e.g.
// "layers.0.cross.attn.wq.weight". The tensors are shared, not copied.
func (m *Perceiver[B]) StateDict() map[string]*tensor.RawTensor {
	state := make(map[string]*tensor.RawTensor, len(m.params))
	for _, p := range m.params {
		state[p.name] = p.param.Tensor().Raw()
	}
	return state
}

// ParameterNames lists parameter names in Parameters order.
func (m *Perceiver[B]) ParameterNames() []string {
	names := make([]string, len(m.params))
	for i, p := range m.params {
		names[i] = p.name
	}
	return names
}

// LoadStateDict copies state into the model's parameters in place, so
// references held by an optimizer stay valid. Every parameter must be present
// with its exact shape and no extra keys are allowed.
func (m *Perceiver[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	for _, p := range m.params {
		raw, ok := state[p.name]
		if !ok {
			return fmt.Errorf("%w: missing %q", ErrStateMismatch, p.name)
		}
		want := p.param.Tensor().Shape()
		if !raw.Shape().Equal(want) {
			return fmt.Errorf("%w: %q has shape %v, want %v", ErrStateMismatch, p.name, raw.Shape(), want)
		}
		if raw.DType() != tensor.Float32 {
			return fmt.Errorf("%w: %q has dtype %v, want float32", ErrStateMismatch, p.name, raw.DType())
		}
	}
	if len(state) != len(m.params) {
		names := m.ParameterNames()
		var extra []string
		for name := range state {
			if !slices.Contains(names, name) {
				extra = append(extra, name)
			}
		}
		slices.Sort(extra)
		return fmt.Errorf("%w: unexpected %v", ErrStateMismatch, extra)
	}

	for _, p := range m.params {
		copy(p.param.Tensor().Raw().AsFloat32(), state[p.name].AsFloat32())
	}
	return nil
}
