package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/born-ml/perceiver/internal/graph"
	"github.com/born-ml/perceiver/internal/metrics"
)

// Validate evaluates m over loader without recording gradients and returns
// the sample-weighted average loss as {"loss": avg}.
func Validate[B Backend](
	ctx context.Context,
	epoch int,
	m Model[B],
	loader *graph.Loader,
	env *Env[B],
) (metrics.Values, error) {
	backend := env.Transfer.Backend()
	tape := backend.GetTape()
	log := env.logger()
	numLatents := m.Config().NumLatents

	if tape.IsRecording() {
		tape.StopRecording()
		defer tape.StartRecording()
	}

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
		loss := L1Loss(m.Forward(in), labels, backend)

		meter.Update(scalar(loss), batch.BatchSize)
		env.Metrics.ObserveBatch(metrics.PhaseEval, batch.BatchSize, time.Since(batchStart))
		progress(log, "valid", epoch, i, last, &meter, start)
	}

	return metrics.Values{{Name: "loss", Value: meter.Avg}}, nil
}
