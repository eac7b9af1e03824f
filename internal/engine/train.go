package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/born-ml/born/autodiff"
	bornoptim "github.com/born-ml/born/optim"

	"github.com/born-ml/perceiver/internal/graph"
	"github.com/born-ml/perceiver/internal/metrics"
)

// TrainOneEpoch runs one optimization pass over loader and returns the
// sample-weighted average loss as {"loss": avg}.
//
// ctx is checked between batches; a cancelled pass returns ctx.Err() and the
// parameters keep the updates of the batches that completed.
func TrainOneEpoch[B Backend](
	ctx context.Context,
	epoch int,
	m Model[B],
	loader *graph.Loader,
	opt bornoptim.Optimizer,
	env *Env[B],
) (metrics.Values, error) {
	backend := env.Transfer.Backend()
	tape := backend.GetTape()
	log := env.logger()
	numLatents := m.Config().NumLatents

	wasRecording := tape.IsRecording()
	tape.StartRecording()
	defer func() {
		if !wasRecording {
			tape.StopRecording()
		}
	}()

	var meter metrics.AverageMeter
	last := loader.Len() - 1
	start := time.Now()
	for i, batch := range loader.All() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batchStart := time.Now()

		in, labels, err := load(env.Transfer, batch, numLatents)
		if err != nil {
			return nil, fmt.Errorf("epoch %d batch %d: %w", epoch, i, err)
		}

		tape.Clear()
		pred := m.Forward(in)
		loss := L1Loss(pred, labels, backend)

		opt.ZeroGrad()
		grads := autodiff.Backward(loss, backend)
		opt.Step(grads)
		tape.Clear()

		value := scalar(loss)
		if math.IsNaN(value) || math.IsInf(value, 0) {
			log.Warn("non-finite training loss", "epoch", epoch, "batch", i, "loss", value)
		}
		meter.Update(value, batch.BatchSize)
		env.Metrics.ObserveBatch(metrics.PhaseTrain, batch.BatchSize, time.Since(batchStart))
		progress(log, "train", epoch, i, last, &meter, start)
	}

	return metrics.Values{{Name: "loss", Value: meter.Avg}}, nil
}
