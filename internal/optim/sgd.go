package optim

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

const keyVelocity = "velocity."

// SGD implements Stochastic Gradient Descent with optional momentum.
//
// Update rule without momentum:
//
//	param = param - lr * gradient
//
// Update rule with momentum:
//
//	velocity = momentum * velocity + gradient
//	param = param - lr * velocity
//
// Example:
//
//	opt := optim.NewSGD(model.Parameters(), optim.SGDConfig{
//	    LR:       0.01,
//	    Momentum: 0.9,
//	}, backend)
type SGD[B tensor.Backend] struct {
	params     []*nn.Parameter[B]
	lr         float32
	momentum   float32
	velocities []*tensor.Tensor[float32, B]
	backend    B
}

// SGDConfig holds configuration for SGD optimizer.
type SGDConfig struct {
	LR       float32 // Learning rate (default: 0.01)
	Momentum float32 // Momentum factor (default: 0.0, range: [0, 1))
}

// NewSGD creates a new SGD optimizer.
func NewSGD[B tensor.Backend](params []*nn.Parameter[B], config SGDConfig, backend B) *SGD[B] {
	if config.LR == 0 {
		config.LR = 0.01
	}

	return &SGD[B]{
		params:     params,
		lr:         config.LR,
		momentum:   config.Momentum,
		velocities: make([]*tensor.Tensor[float32, B], len(params)),
		backend:    backend,
	}
}

// Step performs a single optimization step.
//
// Parameters with no gradient (not in computational graph) are skipped.
func (s *SGD[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	for i, param := range s.params {
		grad := grads[param.Tensor().Raw()]
		if grad == nil {
			continue
		}
		g := grad.AsFloat32()
		p := param.Tensor().Raw().AsFloat32()

		if s.momentum == 0 {
			for k := range p {
				p[k] -= s.lr * g[k]
			}
			continue
		}

		if s.velocities[i] == nil {
			s.velocities[i] = tensor.Zeros[float32](param.Tensor().Shape(), s.backend)
		}
		v := s.velocities[i].Raw().AsFloat32()
		for k := range p {
			v[k] = s.momentum*v[k] + g[k]
			p[k] -= s.lr * v[k]
		}
	}
}

// ZeroGrad clears gradients for all parameters.
func (s *SGD[B]) ZeroGrad() {
	for _, param := range s.params {
		param.ZeroGrad()
	}
}

// GetLR returns the current learning rate.
func (s *SGD[B]) GetLR() float32 {
	return s.lr
}

// SetLR updates the learning rate.
func (s *SGD[B]) SetLR(lr float32) {
	s.lr = lr
}

// Type names the optimizer in checkpoint headers.
func (s *SGD[B]) Type() string {
	return "SGD"
}

// Config returns the learning rate and momentum.
func (s *SGD[B]) Config() map[string]any {
	return map[string]any{
		"lr":       float64(s.lr),
		"momentum": float64(s.momentum),
	}
}

// LoadConfig restores values written by Config.
func (s *SGD[B]) LoadConfig(cfg map[string]any) error {
	for key, dst := range map[string]*float32{"lr": &s.lr, "momentum": &s.momentum} {
		if raw, ok := cfg[key]; ok {
			f, err := toFloat(raw)
			if err != nil {
				return fmt.Errorf("sgd config %q: %w", key, err)
			}
			*dst = float32(f)
		}
	}
	return nil
}

// StateDict returns the velocity buffers keyed "velocity.<i>". Without
// momentum it is empty.
func (s *SGD[B]) StateDict() map[string]*tensor.RawTensor {
	state := make(map[string]*tensor.RawTensor)
	for i, v := range s.velocities {
		if v == nil {
			continue
		}
		state[keyVelocity+strconv.Itoa(i)] = v.Raw()
	}
	return state
}

// LoadStateDict restores velocity buffers produced by StateDict.
func (s *SGD[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	for key, raw := range state {
		idx, ok := strings.CutPrefix(key, keyVelocity)
		if !ok {
			return fmt.Errorf("sgd state: unexpected key %q", key)
		}
		i, err := strconv.Atoi(idx)
		if err != nil {
			i = -1
		}
		if err := checkState(s.params, key, i, raw); err != nil {
			return fmt.Errorf("sgd state: %w", err)
		}

		v := tensor.Zeros[float32](raw.Shape(), s.backend)
		copy(v.Raw().AsFloat32(), raw.AsFloat32())
		s.velocities[i] = v
	}
	return nil
}
