package optim

import (
	"testing"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testBackend = *autodiff.Backend[*cpu.Backend]

func newParam(t *testing.T, b testBackend, name string, data []float32) *nn.Parameter[testBackend] {
	t.Helper()
	x, err := tensor.FromSlice(data, tensor.Shape{len(data)}, b)
	require.NoError(t, err)
	return nn.NewParameter(name, x)
}

func gradFor(t *testing.T, p *nn.Parameter[testBackend], g []float32) map[*tensor.RawTensor]*tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(p.Tensor().Shape(), tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	copy(raw.AsFloat32(), g)
	return map[*tensor.RawTensor]*tensor.RawTensor{p.Tensor().Raw(): raw}
}

func TestAdam_FirstStep(t *testing.T) {
	b := autodiff.New(cpu.New())
	w := newParam(t, b, "w", []float32{1, 2})
	skipped := newParam(t, b, "skipped", []float32{3})

	opt := NewAdam([]*nn.Parameter[testBackend]{w, skipped}, AdamConfig{LR: 0.1}, b)
	opt.Step(gradFor(t, w, []float32{0.5, -0.5}))

	// On the first step m̂ = g and v̂ = g², so the update is lr * sign(g).
	got := w.Tensor().Data()
	assert.InDelta(t, 0.9, got[0], 1e-5)
	assert.InDelta(t, 2.1, got[1], 1e-5)
	assert.Equal(t, []float32{3}, skipped.Tensor().Data())
	assert.Equal(t, 1, opt.GetTimestep())

	state := opt.StateDict()
	assert.Len(t, state, 2, "only stepped parameters are exported")
	assert.Contains(t, state, "exp_avg.0")
	assert.Contains(t, state, "exp_avg_sq.0")
}

func TestAdam_Defaults(t *testing.T) {
	opt := NewAdam[testBackend](nil, AdamConfig{}, autodiff.New(cpu.New()))
	assert.InDelta(t, 0.001, opt.GetLR(), 1e-9)
	cfg := opt.Config()
	assert.InDelta(t, 0.9, cfg["beta1"], 1e-6)
	assert.InDelta(t, 0.999, cfg["beta2"], 1e-6)
	assert.Equal(t, "Adam", opt.Type())
}

func TestAdam_StateRoundTrip(t *testing.T) {
	b := autodiff.New(cpu.New())

	w1 := newParam(t, b, "w", []float32{1, 2})
	opt1 := NewAdam([]*nn.Parameter[testBackend]{w1}, AdamConfig{LR: 0.1}, b)
	for range 3 {
		opt1.Step(gradFor(t, w1, []float32{0.3, 0.1}))
	}

	// A fresh optimizer over a copy of the parameters continues identically.
	w2 := newParam(t, b, "w", w1.Tensor().Data())
	opt2 := NewAdam([]*nn.Parameter[testBackend]{w2}, AdamConfig{}, b)
	require.NoError(t, opt2.LoadStateDict(opt1.StateDict()))
	require.NoError(t, opt2.LoadConfig(opt1.Config()))
	assert.Equal(t, 3, opt2.GetTimestep())
	assert.InDelta(t, 0.1, opt2.GetLR(), 1e-7)

	opt1.Step(gradFor(t, w1, []float32{-0.2, 0.4}))
	opt2.Step(gradFor(t, w2, []float32{-0.2, 0.4}))
	assert.InDeltaSlice(t, w1.Tensor().Data(), w2.Tensor().Data(), 1e-6)
}

func TestAdam_LoadStateDictErrors(t *testing.T) {
	b := autodiff.New(cpu.New())
	w := newParam(t, b, "w", []float32{1, 2})

	wrongShape, err := tensor.NewRaw(tensor.Shape{3}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	rightShape, err := tensor.NewRaw(tensor.Shape{2}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)

	tests := []struct {
		name  string
		state map[string]*tensor.RawTensor
	}{
		{"unknown key", map[string]*tensor.RawTensor{"momentum.0": rightShape}},
		{"index out of range", map[string]*tensor.RawTensor{"exp_avg.1": rightShape, "exp_avg_sq.1": rightShape}},
		{"shape mismatch", map[string]*tensor.RawTensor{"exp_avg.0": wrongShape, "exp_avg_sq.0": wrongShape}},
		{"missing second moment", map[string]*tensor.RawTensor{"exp_avg.0": rightShape}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fresh := NewAdam([]*nn.Parameter[testBackend]{w}, AdamConfig{}, b)
			assert.Error(t, fresh.LoadStateDict(tt.state))
		})
	}
}

type fakeLR struct{ lr float32 }

func (f *fakeLR) GetLR() float32   { return f.lr }
func (f *fakeLR) SetLR(lr float32) { f.lr = lr }

func TestStepLR(t *testing.T) {
	opt := &fakeLR{lr: 1e-3}
	sched, err := NewStepLR(opt, 30, 0.25)
	require.NoError(t, err)

	for epoch := 1; epoch <= 29; epoch++ {
		sched.Step()
	}
	assert.InDelta(t, 1e-3, opt.lr, 1e-9, "no decay before the first boundary")

	sched.Step()
	assert.Equal(t, 30, sched.LastEpoch())
	assert.InDelta(t, 2.5e-4, opt.lr, 1e-9)

	sched.SetLastEpoch(60)
	assert.InDelta(t, 6.25e-5, opt.lr, 1e-10)
	assert.InDelta(t, 6.25e-5, sched.LR(), 1e-10)
}

func TestNewStepLR_Errors(t *testing.T) {
	_, err := NewStepLR(&fakeLR{lr: 1}, 0, 0.5)
	assert.Error(t, err)
	_, err = NewStepLR(&fakeLR{lr: 1}, 10, 0)
	assert.Error(t, err)
}

func TestSGD_Step(t *testing.T) {
	b := autodiff.New(cpu.New())

	plain := newParam(t, b, "w", []float32{1, 1})
	NewSGD([]*nn.Parameter[testBackend]{plain}, SGDConfig{LR: 0.5}, b).
		Step(gradFor(t, plain, []float32{1, -2}))
	assert.InDeltaSlice(t, []float32{0.5, 2}, plain.Tensor().Data(), 1e-6)

	w := newParam(t, b, "w", []float32{0})
	opt := NewSGD([]*nn.Parameter[testBackend]{w}, SGDConfig{LR: 1, Momentum: 0.5}, b)
	opt.Step(gradFor(t, w, []float32{1})) // v = 1
	opt.Step(gradFor(t, w, []float32{1})) // v = 1.5
	assert.InDelta(t, -2.5, w.Tensor().Data()[0], 1e-6)
	assert.Contains(t, opt.StateDict(), "velocity.0")
}

func TestSGD_StateRoundTrip(t *testing.T) {
	b := autodiff.New(cpu.New())

	w1 := newParam(t, b, "w", []float32{1, 2})
	opt1 := NewSGD([]*nn.Parameter[testBackend]{w1}, SGDConfig{LR: 0.1, Momentum: 0.9}, b)
	opt1.Step(gradFor(t, w1, []float32{0.3, 0.1}))

	w2 := newParam(t, b, "w", w1.Tensor().Data())
	opt2 := NewSGD([]*nn.Parameter[testBackend]{w2}, SGDConfig{}, b)
	require.NoError(t, opt2.LoadConfig(opt1.Config()))
	require.NoError(t, opt2.LoadStateDict(opt1.StateDict()))

	opt1.Step(gradFor(t, w1, []float32{-0.2, 0.4}))
	opt2.Step(gradFor(t, w2, []float32{-0.2, 0.4}))
	assert.InDeltaSlice(t, w1.Tensor().Data(), w2.Tensor().Data(), 1e-6)

	assert.Error(t, opt2.LoadStateDict(map[string]*tensor.RawTensor{"exp_avg.0": w1.Tensor().Raw()}))
}

func TestNew(t *testing.T) {
	b := autodiff.New(cpu.New())
	params := []*nn.Parameter[testBackend]{newParam(t, b, "w", []float32{1})}

	for name, want := range map[string]string{"": "Adam", NameAdam: "Adam", NameSGD: "SGD"} {
		opt, err := New(params, Options{Name: name, LR: 0.01}, b)
		require.NoError(t, err)
		assert.Equal(t, want, opt.Type())
		assert.InDelta(t, 0.01, opt.GetLR(), 1e-9)
	}

	_, err := New(params, Options{Name: "rmsprop"}, b)
	assert.ErrorIs(t, err, ErrUnknownOptimizer)
}
