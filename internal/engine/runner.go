package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	bornoptim "github.com/born-ml/born/optim"

	"github.com/born-ml/perceiver/internal/graph"
	"github.com/born-ml/perceiver/internal/metrics"
)

// Checkpointer persists end-of-epoch state. checkpoint.Saver implements it.
type Checkpointer interface {
	SaveCheckpoint(epoch int, metric float64) (best float64, bestEpoch int, err error)
	Best() (metric float64, epoch int, ok bool)
}

// Scheduler updates the learning rate once per epoch.
type Scheduler interface {
	Step()
}

// SummaryFunc records one epoch of metrics. writeHeader is true only for the
// first epoch run by this Runner, resumed or not; every run writes to a
// fresh summary file.
type SummaryFunc func(epoch int, train, eval metrics.Values, writeHeader bool) error

// Runner drives the epoch loop:
//
//	train -> validate -> summary -> checkpoint -> scheduler
//
// Each stage is optional except training and validation.
type Runner[B Backend] struct {
	Model     Model[B]
	Train     *graph.Loader
	Valid     *graph.Loader
	Optimizer bornoptim.Optimizer
	Scheduler Scheduler
	Saver     Checkpointer
	Summary   SummaryFunc
	Env       *Env[B]

	// StartEpoch is the first epoch index to run, non-zero when resuming.
	StartEpoch int
	// Epochs is the index one past the last epoch to run.
	Epochs int
}

// Result describes a finished run.
type Result struct {
	Epochs     int // epochs run by this call
	BestMetric float64
	BestEpoch  int
	HasBest    bool
}

// Run trains until Epochs or until ctx is cancelled. On cancellation the
// returned Result covers the epochs that completed.
func (r *Runner[B]) Run(ctx context.Context) (Result, error) {
	if r.Model == nil || r.Train == nil || r.Valid == nil || r.Optimizer == nil || r.Env == nil {
		return Result{}, errors.New("engine: runner is missing model, loaders, optimizer or env")
	}
	log := r.Env.logger()

	var res Result
	if r.Saver != nil {
		res.BestMetric, res.BestEpoch, res.HasBest = r.Saver.Best()
	}

	for epoch := r.StartEpoch; epoch < r.Epochs; epoch++ {
		start := time.Now()
		lr := r.Optimizer.GetLR()

		train, err := TrainOneEpoch(ctx, epoch, r.Model, r.Train, r.Optimizer, r.Env)
		if err != nil {
			return res, fmt.Errorf("train epoch %d: %w", epoch, err)
		}
		eval, err := Validate(ctx, epoch, r.Model, r.Valid, r.Env)
		if err != nil {
			return res, fmt.Errorf("validate epoch %d: %w", epoch, err)
		}

		if r.Summary != nil {
			if err := r.Summary(epoch, train, eval, res.Epochs == 0); err != nil {
				return res, fmt.Errorf("summary epoch %d: %w", epoch, err)
			}
		}

		if r.Saver != nil {
			saveStart := time.Now()
			best, bestEpoch, err := r.Saver.SaveCheckpoint(epoch, eval.Loss())
			if err != nil {
				return res, fmt.Errorf("checkpoint epoch %d: %w", epoch, err)
			}
			res.BestMetric, res.BestEpoch, res.HasBest = best, bestEpoch, true
			r.Env.Metrics.ObserveCheckpoint(time.Since(saveStart), best, bestEpoch)
		}

		if r.Scheduler != nil {
			r.Scheduler.Step()
		}
		res.Epochs++

		r.Env.Metrics.ObserveEpoch(epoch, train.Loss(), eval.Loss(), lr)
		attrs := []any{
			"epoch", epoch,
			"train_loss", train.Loss(),
			"eval_loss", eval.Loss(),
			"lr", lr,
			"took", time.Since(start).Round(time.Millisecond),
		}
		if res.HasBest {
			attrs = append(attrs, "best", res.BestMetric, "best_epoch", res.BestEpoch)
		}
		log.Info("epoch done", attrs...)
	}
	return res, nil
}
