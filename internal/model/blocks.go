package model

import (
	"math"
	"strconv"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

const layerNormEps = 1e-5

// feedForward is Linear(d, 2d) -> ReLU -> Linear(2d, d) over the last axis.
type feedForward[B tensor.Backend] struct {
	fc1 *nn.Linear[B]
	fc2 *nn.Linear[B]
}

func newFeedForward[B tensor.Backend](dim int, backend B) *feedForward[B] {
	return &feedForward[B]{
		fc1: nn.NewLinear(dim, 2*dim, backend),
		fc2: nn.NewLinear(2*dim, dim, backend),
	}
}

// Forward maps [batch, seq, d] to [batch, seq, d].
func (f *feedForward[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	s := x.Shape()
	batch, seq, dim := s[0], s[1], s[2]

	h := f.fc1.Forward(x.Reshape(batch*seq, dim))
	h = nn.ReLUFunc(h)
	h = f.fc2.Forward(h)
	return h.Reshape(batch, seq, dim)
}

func (f *feedForward[B]) named(prefix string) []namedParam[B] {
	return append(linearParams(prefix+"fc1.", f.fc1), linearParams(prefix+"fc2.", f.fc2)...)
}

// attentionBlock is one pre-norm transformer block over the latent array.
// With cross set, keys and values come from the node context instead of the
// latents themselves.
type attentionBlock[B tensor.Backend] struct {
	cross   bool
	backend B
	norm    *nn.LayerNorm[B]
	attn    *nn.MultiHeadAttention[B]
	ffnNorm *nn.LayerNorm[B]
	ffn     *feedForward[B]
}

func newAttentionBlock[B tensor.Backend](dim, heads int, cross bool, backend B) *attentionBlock[B] {
	return &attentionBlock[B]{
		cross:   cross,
		backend: backend,
		norm:    nn.NewLayerNorm(dim, layerNormEps, backend),
		attn:    nn.NewMultiHeadAttention(dim, heads, backend),
		ffnNorm: nn.NewLayerNorm(dim, layerNormEps, backend),
		ffn:     newFeedForward(dim, backend),
	}
}

// Forward updates latents z [batch, latents, d]. For cross blocks ctx is the
// node context [batch, nodes, d] and bias the additive padding mask
// [batch, 1, latents, nodes]; self blocks ignore both.
func (a *attentionBlock[B]) Forward(z, ctx, bias *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	q := a.norm.Forward(z)
	if a.cross {
		z = z.Add(a.attend(q, ctx, bias))
	} else {
		z = z.Add(a.attend(q, q, nil))
	}
	return z.Add(a.ffn.Forward(a.ffnNorm.Forward(z)))
}

// attend is multi-head scaled dot-product attention over the projections of
// a.attn. The queries are scaled with an element-wise Mul: the autodiff tape
// does not record MulScalar, and the scores must stay connected to wq and wk.
func (a *attentionBlock[B]) attend(query, kv, bias *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	mha := a.attn
	batch, seqQ, seqK := query.Shape()[0], query.Shape()[1], kv.Shape()[1]

	q := splitHeads(mha.WQ, query, batch, seqQ, mha.NumHeads, mha.HeadDim)
	k := splitHeads(mha.WK, kv, batch, seqK, mha.NumHeads, mha.HeadDim)
	v := splitHeads(mha.WV, kv, batch, seqK, mha.NumHeads, mha.HeadDim)

	scale := float32(1 / math.Sqrt(float64(mha.HeadDim)))
	q = q.Mul(tensor.Full(q.Shape(), scale, a.backend))

	scores := q.BatchMatMul(k.Transpose(0, 1, 3, 2))
	if bias != nil {
		scores = scores.Add(bias)
	}
	out := scores.Softmax(-1).BatchMatMul(v)

	out = out.Transpose(0, 2, 1, 3).Reshape(batch*seqQ, mha.EmbedDim)
	return mha.WO.Forward(out).Reshape(batch, seqQ, mha.EmbedDim)
}

// splitHeads projects x [batch, seq, d] with l and returns
// [batch, heads, seq, headDim].
func splitHeads[B tensor.Backend](l *nn.Linear[B], x *tensor.Tensor[float32, B], batch, seq, heads, headDim int) *tensor.Tensor[float32, B] {
	h := l.Forward(x.Reshape(batch*seq, heads*headDim))
	return h.Reshape(batch, seq, heads, headDim).Transpose(0, 2, 1, 3)
}

func (a *attentionBlock[B]) named(prefix string) []namedParam[B] {
	var out []namedParam[B]
	out = append(out, layerNormParams(prefix+"norm.", a.norm)...)
	out = append(out, linearParams(prefix+"attn.wq.", a.attn.WQ)...)
	out = append(out, linearParams(prefix+"attn.wk.", a.attn.WK)...)
	out = append(out, linearParams(prefix+"attn.wv.", a.attn.WV)...)
	out = append(out, linearParams(prefix+"attn.wo.", a.attn.WO)...)
	out = append(out, layerNormParams(prefix+"ffn_norm.", a.ffnNorm)...)
	out = append(out, a.ffn.named(prefix+"ffn.")...)
	return out
}

// perceiverLayer is one cross block followed by SelfPerCross self blocks.
type perceiverLayer[B tensor.Backend] struct {
	cross *attentionBlock[B]
	self  []*attentionBlock[B]
}

func (l *perceiverLayer[B]) Forward(z, ctx, bias *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	z = l.cross.Forward(z, ctx, bias)
	for _, s := range l.self {
		z = s.Forward(z, nil, nil)
	}
	return z
}

func (l *perceiverLayer[B]) named(prefix string) []namedParam[B] {
	out := l.cross.named(prefix + "cross.")
	for i, s := range l.self {
		out = append(out, s.named(prefix+"self."+strconv.Itoa(i)+".")...)
	}
	return out
}
