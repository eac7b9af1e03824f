// Package engine runs the per-epoch training and validation passes and the
// epoch loop around them.
//
// A training step follows Born's usual pattern:
//
//	optimizer.ZeroGrad()
//	pred := model.Forward(inputs)
//	loss := engine.L1Loss(pred, labels, backend)
//	grads := autodiff.Backward(loss, backend)
//	optimizer.Step(grads)
//	backend.Tape().Clear()
//
// Batches are moved to the backend through a transfer.Transferer so that the
// node, edge, incidence and mask copies of a batch run concurrently.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/perceiver/internal/graph"
	"github.com/born-ml/perceiver/internal/metrics"
	"github.com/born-ml/perceiver/internal/model"
	"github.com/born-ml/perceiver/internal/transfer"
)

// logEvery is the progress reporting interval in batches.
const logEvery = 10

// Backend is a backend that records operations for backpropagation.
type Backend = autodiff.BackwardCapable

// Model is a graph regressor.
type Model[B Backend] interface {
	// Forward returns predictions of shape [batch, 1].
	Forward(in model.Inputs[B]) *tensor.Tensor[float32, B]
	// Config returns the architecture; NumLatents sizes the attention bias.
	Config() model.Config
}

// Env bundles what both passes need besides the model and data.
type Env[B Backend] struct {
	Transfer *transfer.Transferer[B]
	Logger   *slog.Logger        // nil uses slog.Default()
	Metrics  *metrics.Collectors // optional
}

func (e *Env[B]) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// load copies a collated batch to the backend. All copies are started before
// any is waited on.
func load[B Backend](tr *transfer.Transferer[B], b *graph.Batch, numLatents int) (model.Inputs[B], *tensor.Tensor[float32, B], error) {
	bias, biasShape := model.AttentionBias(b.NodeMask, b.BatchSize, b.MaxNodes, numLatents)

	nodes := tr.AsyncCopy(b.NodeFeat, tensor.Shape(b.NodeShape()))
	edges := tr.AsyncCopy(b.EdgeFeat, tensor.Shape(b.EdgeShape()))
	inc := tr.AsyncCopy(b.Incidence, tensor.Shape{b.BatchSize, b.MaxNodes, b.MaxEdges})
	mask := tr.AsyncCopy(bias, biasShape)
	labels := tr.AsyncCopy(b.Labels, tensor.Shape{b.BatchSize, 1})

	var (
		in   model.Inputs[B]
		y    *tensor.Tensor[float32, B]
		errs [5]error
	)
	in.Nodes, errs[0] = nodes.Wait()
	in.Edges, errs[1] = edges.Wait()
	in.Incidence, errs[2] = inc.Wait()
	in.Bias, errs[3] = mask.Wait()
	y, errs[4] = labels.Wait()
	if err := errors.Join(errs[:]...); err != nil {
		return model.Inputs[B]{}, nil, fmt.Errorf("failed to load batch: %w", err)
	}
	return in, y, nil
}

// progress logs a running average at most every logEvery batches and on the
// last batch.
func progress(log *slog.Logger, msg string, epoch, i, last int, meter *metrics.AverageMeter, start time.Time) {
	if i%logEvery != 0 && i != last {
		return
	}
	log.Info(msg,
		"epoch", epoch,
		"batch", i,
		"batches", last+1,
		"loss", meter.Avg,
		"last", meter.Val,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
}
