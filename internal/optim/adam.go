// Package optim provides the optimizer and learning-rate schedule used by the
// trainer.
//
// Adam follows Born's optimizer contract (optim.Optimizer) and additionally
// exposes its moment estimates so that training can be checkpointed and
// resumed:
//
//	opt := optim.NewAdam(model.Parameters(), optim.AdamConfig{LR: 1e-3}, backend)
//	sched, _ := optim.NewStepLR(opt, 30, 0.25)
//
//	for epoch := range epochs {
//	    // ... train, calling opt.ZeroGrad / opt.Step(grads) per batch
//	    sched.Step()
//	}
package optim

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

// State dict key prefixes.
const (
	keyExpAvg   = "exp_avg."
	keyExpAvgSq = "exp_avg_sq."
)

// Adam implements the Adam optimizer with bias correction.
//
//	m_t   = beta1 * m_{t-1} + (1-beta1) * g
//	v_t   = beta2 * v_{t-1} + (1-beta2) * g²
//	param = param - lr * m̂_t / (sqrt(v̂_t) + eps)
//
// Moments are allocated lazily on the first step that produces a gradient for
// a parameter. Parameters are identified by their position in the slice given
// to NewAdam, which must therefore be stable across save and restore.
type Adam[B tensor.Backend] struct {
	params  []*nn.Parameter[B]
	lr      float32
	beta1   float32
	beta2   float32
	eps     float32
	t       int
	m       []*tensor.Tensor[float32, B]
	v       []*tensor.Tensor[float32, B]
	backend B
}

// AdamConfig holds configuration for Adam.
type AdamConfig struct {
	LR    float32    // default 0.001
	Betas [2]float32 // default [0.9, 0.999]
	Eps   float32    // default 1e-8
}

// NewAdam creates a new Adam optimizer. Zero config fields take defaults.
func NewAdam[B tensor.Backend](params []*nn.Parameter[B], config AdamConfig, backend B) *Adam[B] {
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}

	return &Adam[B]{
		params:  params,
		lr:      config.LR,
		beta1:   config.Betas[0],
		beta2:   config.Betas[1],
		eps:     config.Eps,
		m:       make([]*tensor.Tensor[float32, B], len(params)),
		v:       make([]*tensor.Tensor[float32, B], len(params)),
		backend: backend,
	}
}

// Step applies one Adam update. Parameters without a gradient are skipped.
func (a *Adam[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	a.t++

	biasCorrection1 := float32(1.0 - math.Pow(float64(a.beta1), float64(a.t)))
	biasCorrection2 := float32(1.0 - math.Pow(float64(a.beta2), float64(a.t)))

	for i, param := range a.params {
		grad := grads[param.Tensor().Raw()]
		if grad == nil {
			continue
		}
		if a.m[i] == nil {
			a.m[i] = tensor.Zeros[float32](param.Tensor().Shape(), a.backend)
			a.v[i] = tensor.Zeros[float32](param.Tensor().Shape(), a.backend)
		}
		a.update(param, grad.AsFloat32(), a.m[i].Raw().AsFloat32(), a.v[i].Raw().AsFloat32(),
			biasCorrection1, biasCorrection2)
	}
}

func (a *Adam[B]) update(param *nn.Parameter[B], g, m, v []float32, bc1, bc2 float32) {
	p := param.Tensor().Raw().AsFloat32()
	for i := range p {
		m[i] = a.beta1*m[i] + (1.0-a.beta1)*g[i]
		v[i] = a.beta2*v[i] + (1.0-a.beta2)*g[i]*g[i]

		mHat := m[i] / bc1
		vHat := v[i] / bc2
		p[i] -= a.lr * mHat / (float32(math.Sqrt(float64(vHat))) + a.eps)
	}
}

// ZeroGrad clears gradients for all parameters.
func (a *Adam[B]) ZeroGrad() {
	for _, param := range a.params {
		param.ZeroGrad()
	}
}

// GetLR returns the current learning rate.
func (a *Adam[B]) GetLR() float32 {
	return a.lr
}

// SetLR updates the learning rate.
func (a *Adam[B]) SetLR(lr float32) {
	a.lr = lr
}

// GetTimestep returns the number of steps taken.
func (a *Adam[B]) GetTimestep() int {
	return a.t
}

// Type names the optimizer in checkpoint headers.
func (a *Adam[B]) Type() string {
	return "Adam"
}

// Config returns the hyperparameters and step count for checkpoint headers.
func (a *Adam[B]) Config() map[string]any {
	return map[string]any{
		"lr":    float64(a.lr),
		"beta1": float64(a.beta1),
		"beta2": float64(a.beta2),
		"eps":   float64(a.eps),
		"step":  a.t,
	}
}

// LoadConfig restores values written by Config. Values decoded from JSON
// arrive as float64; missing keys keep the current setting.
func (a *Adam[B]) LoadConfig(cfg map[string]any) error {
	for key, dst := range map[string]*float32{"lr": &a.lr, "beta1": &a.beta1, "beta2": &a.beta2, "eps": &a.eps} {
		if raw, ok := cfg[key]; ok {
			f, err := toFloat(raw)
			if err != nil {
				return fmt.Errorf("adam config %q: %w", key, err)
			}
			*dst = float32(f)
		}
	}
	if raw, ok := cfg["step"]; ok {
		f, err := toFloat(raw)
		if err != nil {
			return fmt.Errorf("adam config \"step\": %w", err)
		}
		a.t = int(f)
	}
	return nil
}

// StateDict returns the moment estimates keyed "exp_avg.<i>" and
// "exp_avg_sq.<i>", where i is the parameter index. Parameters that have not
// been stepped yet are omitted.
func (a *Adam[B]) StateDict() map[string]*tensor.RawTensor {
	state := make(map[string]*tensor.RawTensor, 2*len(a.params))
	for i := range a.params {
		if a.m[i] == nil {
			continue
		}
		state[keyExpAvg+strconv.Itoa(i)] = a.m[i].Raw()
		state[keyExpAvgSq+strconv.Itoa(i)] = a.v[i].Raw()
	}
	return state
}

// LoadStateDict restores moment estimates produced by StateDict.
func (a *Adam[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	for key, raw := range state {
		var moments []*tensor.Tensor[float32, B]
		var idx string
		switch {
		case strings.HasPrefix(key, keyExpAvgSq):
			moments, idx = a.v, strings.TrimPrefix(key, keyExpAvgSq)
		case strings.HasPrefix(key, keyExpAvg):
			moments, idx = a.m, strings.TrimPrefix(key, keyExpAvg)
		default:
			return fmt.Errorf("adam state: unexpected key %q", key)
		}

		i, err := strconv.Atoi(idx)
		if err != nil {
			i = -1
		}
		if err := checkState(a.params, key, i, raw); err != nil {
			return fmt.Errorf("adam state: %w", err)
		}

		t := tensor.Zeros[float32](raw.Shape(), a.backend)
		copy(t.Raw().AsFloat32(), raw.AsFloat32())
		moments[i] = t
	}

	for i := range a.params {
		if (a.m[i] == nil) != (a.v[i] == nil) {
			return fmt.Errorf("adam state: parameter %d has only one moment", i)
		}
	}
	return nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
