package engine

import (
	"fmt"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

// L1Loss returns the mean absolute error between pred and target, both
// [batch, 1], as a [1, 1] tensor.
//
// |d| is computed as relu(d) + relu(-d) and the mean as a product with a
// constant 1/batch column, so every step has a gradient on the tape.
func L1Loss[B tensor.Backend](pred, target *tensor.Tensor[float32, B], backend B) *tensor.Tensor[float32, B] {
	shape := pred.Shape()
	if len(shape) != 2 || shape[1] != 1 || !shape.Equal(target.Shape()) {
		panic(fmt.Sprintf("L1Loss: pred %v and target %v must both be [batch, 1]", shape, target.Shape()))
	}
	n := shape[0]

	d := pred.Sub(target)
	neg := tensor.Zeros[float32](shape, backend).Sub(d)
	abs := nn.ReLUFunc(d).Add(nn.ReLUFunc(neg))

	mean := tensor.Full[float32](tensor.Shape{n, 1}, 1/float32(n), backend)
	return abs.Transpose().MatMul(mean)
}

// scalar reads the single value of a loss tensor.
func scalar[B tensor.Backend](loss *tensor.Tensor[float32, B]) float64 {
	return float64(loss.Raw().AsFloat32()[0])
}
