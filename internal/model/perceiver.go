package model

import (
	"fmt"
	"strconv"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

// maskedBias is added to attention scores of padded nodes.
const maskedBias = -1e9

// Inputs is one collated batch on the model's backend.
type Inputs[B tensor.Backend] struct {
	Nodes     *tensor.Tensor[float32, B] // [batch, nodes, NodeDim]
	Edges     *tensor.Tensor[float32, B] // [batch, edges, EdgeDim]
	Incidence *tensor.Tensor[float32, B] // [batch, nodes, edges]
	Bias      *tensor.Tensor[float32, B] // [batch, 1, NumLatents, nodes], see AttentionBias
}

// Perceiver regresses one scalar per graph.
type Perceiver[B tensor.Backend] struct {
	cfg     Config
	backend B

	atom    *nn.Linear[B]
	bond    *nn.Linear[B]
	ctxProj *nn.Linear[B]
	ctxNorm *nn.LayerNorm[B]
	latents *nn.Parameter[B] // [NumLatents, LatentDim]
	layers  []*perceiverLayer[B]
	outNorm *nn.LayerNorm[B]
	head    *nn.Linear[B]

	params []namedParam[B]
}

// New builds a Perceiver on backend. Weights use Born's default
// initialisers; call Reinit for a seeded initialisation.
func New[B tensor.Backend](cfg Config, backend B) (*Perceiver[B], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Perceiver[B]{
		cfg:     cfg,
		backend: backend,
		atom:    nn.NewLinear(cfg.NodeDim, cfg.EmbDim, backend),
		bond:    nn.NewLinear(cfg.EdgeDim, cfg.EmbDim, backend),
		ctxProj: nn.NewLinear(cfg.EmbDim, cfg.LatentDim, backend),
		ctxNorm: nn.NewLayerNorm(cfg.LatentDim, layerNormEps, backend),
		latents: nn.NewParameter("latents",
			nn.Randn(tensor.Shape{cfg.NumLatents, cfg.LatentDim}, backend).MulScalar(latentStd)),
		outNorm: nn.NewLayerNorm(cfg.LatentDim, layerNormEps, backend),
		head:    nn.NewLinear(cfg.LatentDim, 1, backend),
	}
	for range cfg.Depth {
		layer := &perceiverLayer[B]{
			cross: newAttentionBlock(cfg.LatentDim, cfg.CrossHeads, true, backend),
		}
		for range cfg.SelfPerCross {
			layer.self = append(layer.self, newAttentionBlock(cfg.LatentDim, cfg.LatentHeads, false, backend))
		}
		m.layers = append(m.layers, layer)
	}
	m.params = m.collect()
	return m, nil
}

// Config returns the architecture.
func (m *Perceiver[B]) Config() Config {
	return m.cfg
}

// Forward returns predictions of shape [batch, 1].
func (m *Perceiver[B]) Forward(in Inputs[B]) *tensor.Tensor[float32, B] {
	ns, es := in.Nodes.Shape(), in.Edges.Shape()
	batch, nodes, edges := ns[0], ns[1], es[1]
	if in.Incidence.Shape()[1] != nodes || in.Incidence.Shape()[2] != edges {
		panic(fmt.Sprintf("Perceiver.Forward: incidence %v does not match nodes %v and edges %v",
			in.Incidence.Shape(), ns, es))
	}

	// Node embeddings: own atom features plus the mean of incoming bond features.
	atoms := m.atom.Forward(in.Nodes.Reshape(batch*nodes, m.cfg.NodeDim)).Reshape(batch, nodes, m.cfg.EmbDim)
	bonds := m.bond.Forward(in.Edges.Reshape(batch*edges, m.cfg.EdgeDim)).Reshape(batch, edges, m.cfg.EmbDim)
	h := nn.ReLUFunc(atoms.Add(in.Incidence.BatchMatMul(bonds)))

	ctx := m.ctxProj.Forward(h.Reshape(batch*nodes, m.cfg.EmbDim)).Reshape(batch, nodes, m.cfg.LatentDim)
	ctx = m.ctxNorm.Forward(ctx)

	// Broadcast the latent array over the batch.
	z := tensor.Zeros[float32](tensor.Shape{batch, m.cfg.NumLatents, m.cfg.LatentDim}, m.backend)
	z = z.Add(m.latents.Tensor().Reshape(1, m.cfg.NumLatents, m.cfg.LatentDim))

	for _, layer := range m.layers {
		z = layer.Forward(z, ctx, in.Bias)
	}

	pooled := m.outNorm.Forward(z.MeanDim(1, false))
	return m.head.Forward(pooled)
}

// AttentionBias expands a [batch, nodes] node mask (1 real, 0 padding) into
// the additive cross-attention bias [batch, 1, numLatents, nodes].
func AttentionBias(nodeMask []float32, batch, nodes, numLatents int) ([]float32, tensor.Shape) {
	bias := make([]float32, batch*numLatents*nodes)
	for b := range batch {
		row := make([]float32, nodes)
		for v := range nodes {
			if nodeMask[b*nodes+v] == 0 {
				row[v] = maskedBias
			}
		}
		for l := range numLatents {
			copy(bias[(b*numLatents+l)*nodes:], row)
		}
	}
	return bias, tensor.Shape{batch, 1, numLatents, nodes}
}

// Parameters returns all trainable parameters in a fixed order.
func (m *Perceiver[B]) Parameters() []*nn.Parameter[B] {
	out := make([]*nn.Parameter[B], len(m.params))
	for i, p := range m.params {
		out[i] = p.param
	}
	return out
}

// NumParameters counts trainable scalars.
func (m *Perceiver[B]) NumParameters() int {
	total := 0
	for _, p := range m.params {
		total += p.param.Tensor().Shape().NumElements()
	}
	return total
}

type namedParam[B tensor.Backend] struct {
	name  string
	param *nn.Parameter[B]
}

func (m *Perceiver[B]) collect() []namedParam[B] {
	var out []namedParam[B]
	out = append(out, linearParams("atom_encoder.", m.atom)...)
	out = append(out, linearParams("bond_encoder.", m.bond)...)
	out = append(out, linearParams("context_proj.", m.ctxProj)...)
	out = append(out, layerNormParams("context_norm.", m.ctxNorm)...)
	out = append(out, namedParam[B]{"latents", m.latents})
	for i, layer := range m.layers {
		out = append(out, layer.named("layers."+strconv.Itoa(i)+".")...)
	}
	out = append(out, layerNormParams("out_norm.", m.outNorm)...)
	out = append(out, linearParams("head.", m.head)...)
	return out
}

func linearParams[B tensor.Backend](prefix string, l *nn.Linear[B]) []namedParam[B] {
	return []namedParam[B]{
		{prefix + "weight", l.Weight()},
		{prefix + "bias", l.Bias()},
	}
}

func layerNormParams[B tensor.Backend](prefix string, l *nn.LayerNorm[B]) []namedParam[B] {
	return []namedParam[B]{
		{prefix + "weight", l.Gamma},
		{prefix + "bias", l.Beta},
	}
}
