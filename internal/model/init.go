package model

import (
	"math"
	"math/rand"
	"strings"
)

// latentStd is the standard deviation of the initial latent array.
const latentStd = 0.02

// Reinit overwrites all parameters from rng so that a given seed always
// yields the same model:
//
//   - linear weights: Xavier uniform
//   - biases: zero
//   - layer norm scales: one
//   - latents: normal(0, latentStd) truncated at two standard deviations
func (m *Perceiver[B]) Reinit(rng *rand.Rand) {
	for _, p := range m.params {
		data := p.param.Tensor().Raw().AsFloat32()
		shape := p.param.Tensor().Shape()

		switch {
		case p.name == "latents":
			for i := range data {
				data[i] = float32(truncNormal(rng) * latentStd)
			}
		case strings.HasSuffix(p.name, "norm.weight"):
			fill(data, 1)
		case strings.HasSuffix(p.name, ".bias"):
			fill(data, 0)
		case len(shape) == 2:
			fanOut, fanIn := shape[0], shape[1]
			bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
			for i := range data {
				data[i] = float32((rng.Float64()*2 - 1) * bound)
			}
		}
	}
}

func truncNormal(rng *rand.Rand) float64 {
	for {
		if v := rng.NormFloat64(); math.Abs(v) <= 2 {
			return v
		}
	}
}

func fill(data []float32, v float32) {
	for i := range data {
		data[i] = v
	}
}
