// Package model implements a Perceiver-style regressor over padded graph
// batches, built from Born nn layers.
//
// Architecture:
//
//	h       = ReLU(atom(x) + Inc · bond(e))              node embeddings
//	ctx     = LayerNorm(proj(h))                           keys/values for cross-attention
//	z       = latents                                      learned [NumLatents, LatentDim]
//	repeat Depth times:
//	    z = CrossBlock(z, ctx)                             latents attend to nodes
//	    repeat SelfPerCross times: z = SelfBlock(z)        latents attend to latents
//	y       = head(LayerNorm(mean_latents(z)))            [batch, 1]
//
// Every block is pre-norm attention with a residual followed by a pre-norm
// two-layer feed-forward network with a residual.
package model

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned for unusable architecture settings.
var ErrInvalidConfig = errors.New("invalid model config")

// Config describes the architecture.
type Config struct {
	NodeDim      int `json:"node_dim"`
	EdgeDim      int `json:"edge_dim"`
	EmbDim       int `json:"emb_dim"`
	Depth        int `json:"depth"`
	SelfPerCross int `json:"self_per_cross"`
	NumLatents   int `json:"num_latents"`
	LatentDim    int `json:"latent_dim"`
	CrossHeads   int `json:"cross_heads"`
	LatentHeads  int `json:"latent_heads"`
}

// Validate checks that every layer can be constructed.
func (c Config) Validate() error {
	for _, f := range []struct {
		name string
		v    int
	}{
		{"node_dim", c.NodeDim},
		{"edge_dim", c.EdgeDim},
		{"emb_dim", c.EmbDim},
		{"depth", c.Depth},
		{"num_latents", c.NumLatents},
		{"latent_dim", c.LatentDim},
		{"cross_heads", c.CrossHeads},
		{"latent_heads", c.LatentHeads},
	} {
		if f.v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, f.name, f.v)
		}
	}
	if c.SelfPerCross < 0 {
		return fmt.Errorf("%w: self_per_cross must not be negative, got %d", ErrInvalidConfig, c.SelfPerCross)
	}
	if c.LatentDim%c.CrossHeads != 0 {
		return fmt.Errorf("%w: latent_dim %d not divisible by cross_heads %d", ErrInvalidConfig, c.LatentDim, c.CrossHeads)
	}
	if c.LatentDim%c.LatentHeads != 0 {
		return fmt.Errorf("%w: latent_dim %d not divisible by latent_heads %d", ErrInvalidConfig, c.LatentDim, c.LatentHeads)
	}
	return nil
}

// Map returns the config as checkpoint metadata.
func (c Config) Map() map[string]any {
	return map[string]any{
		"node_dim":       c.NodeDim,
		"edge_dim":       c.EdgeDim,
		"emb_dim":        c.EmbDim,
		"depth":          c.Depth,
		"self_per_cross": c.SelfPerCross,
		"num_latents":    c.NumLatents,
		"latent_dim":     c.LatentDim,
		"cross_heads":    c.CrossHeads,
		"latent_heads":   c.LatentHeads,
	}
}
