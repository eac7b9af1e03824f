package model

import (
	"testing"

	"github.com/born-ml/born/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerceiver_Names(t *testing.T) {
	m, _ := newTiny(t, 1)
	names := m.ParameterNames()

	assert.Equal(t, "atom_encoder.weight", names[0])
	assert.Equal(t, "head.bias", names[len(names)-1])
	assert.Contains(t, names, "latents")
	assert.Contains(t, names, "layers.0.cross.attn.wq.weight")
	assert.Contains(t, names, "layers.1.self.0.ffn.fc2.bias")
	assert.Contains(t, names, "context_norm.weight")
	assert.Len(t, m.StateDict(), len(names), "names are unique")
	assert.Len(t, m.Parameters(), len(names))
}

func TestPerceiver_ReinitIsSeeded(t *testing.T) {
	a, _ := newTiny(t, 42)
	b, _ := newTiny(t, 42)
	c, _ := newTiny(t, 43)

	sa, sb, sc := a.StateDict(), b.StateDict(), c.StateDict()
	for name, raw := range sa {
		assert.Equal(t, raw.AsFloat32(), sb[name].AsFloat32(), name)
	}
	assert.NotEqual(t, sa["latents"].AsFloat32(), sc["latents"].AsFloat32())

	for _, v := range sa["layers.0.cross.norm.weight"].AsFloat32() {
		assert.InDelta(t, 1, v, 0)
	}
	for _, v := range sa["head.bias"].AsFloat32() {
		assert.Zero(t, v)
	}
	for _, v := range sa["latents"].AsFloat32() {
		assert.LessOrEqual(t, float64(v), 2*latentStd+1e-7)
	}
}

func TestPerceiver_StateRoundTrip(t *testing.T) {
	src, _ := newTiny(t, 1)
	dst, _ := newTiny(t, 2)
	params := dst.Parameters()
	before := params[0].Tensor().Raw()

	require.NoError(t, dst.LoadStateDict(src.StateDict()))

	for name, raw := range src.StateDict() {
		assert.Equal(t, raw.AsFloat32(), dst.StateDict()[name].AsFloat32(), name)
	}
	assert.Same(t, before, dst.Parameters()[0].Tensor().Raw(), "load copies in place")
}

func TestPerceiver_LoadStateDictErrors(t *testing.T) {
	m, _ := newTiny(t, 1)

	clone := func() map[string]*tensor.RawTensor {
		out := map[string]*tensor.RawTensor{}
		for k, v := range m.StateDict() {
			out[k] = v
		}
		return out
	}

	missing := clone()
	delete(missing, "latents")
	assert.ErrorIs(t, m.LoadStateDict(missing), ErrStateMismatch)

	extra := clone()
	extra["bogus"] = extra["head.bias"]
	err := m.LoadStateDict(extra)
	assert.ErrorIs(t, err, ErrStateMismatch)
	assert.ErrorContains(t, err, "bogus")

	wrong := clone()
	raw, rerr := tensor.NewRaw(tensor.Shape{1, 1}, tensor.Float32, tensor.CPU)
	require.NoError(t, rerr)
	wrong["head.bias"] = raw
	assert.ErrorIs(t, m.LoadStateDict(wrong), ErrStateMismatch)
}
