package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/perceiver/internal/checkpoint"
	"github.com/born-ml/perceiver/internal/config"
	"github.com/born-ml/perceiver/internal/dataset"
	"github.com/born-ml/perceiver/internal/device"
	"github.com/born-ml/perceiver/internal/engine"
	"github.com/born-ml/perceiver/internal/graph"
	"github.com/born-ml/perceiver/internal/metrics"
	"github.com/born-ml/perceiver/internal/model"
	"github.com/born-ml/perceiver/internal/optim"
	"github.com/born-ml/perceiver/internal/parallel"
	"github.com/born-ml/perceiver/internal/seed"
	"github.com/born-ml/perceiver/internal/summary"
	"github.com/born-ml/perceiver/internal/transfer"
)

// Seed stream names.
const (
	streamInit    = "init"
	streamShuffle = "shuffle"
)

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if err := device.Check(cfg.Device); err != nil {
		return err
	}
	if cfg.Device == device.WebGPU {
		return runWebGPU(ctx, cfg, log)
	}
	return train(ctx, cfg, cpu.New(), log)
}

// train runs the whole job on base, wrapped in an autodiff backend.
func train[B tensor.Backend](ctx context.Context, cfg config.Config, base B, log *slog.Logger) error {
	start := time.Now()
	seeds := seed.New(cfg.Seed)
	backend := autodiff.New(base)

	log.Info("loading dataset", "dir", cfg.Data, "debug", cfg.Debug)
	trainSet, validSet, testSet, err := dataset.Create(ctx, dataset.Options{Dir: cfg.Data, Debug: cfg.Debug})
	if err != nil {
		return err
	}
	log.Info("dataset loaded",
		"train", trainSet.Len(), "valid", validSet.Len(), "test", testSet.Len(),
		"node_dim", trainSet.NodeDim, "edge_dim", trainSet.EdgeDim,
		"took", time.Since(start).Round(time.Millisecond))

	collate := parallel.WithWorkers(device.Host().Threads())
	trainLoader, err := graph.NewLoader(trainSet, cfg.BatchSize, graph.LoaderOptions{
		Shuffle:  cfg.Shuffle,
		Rand:     seeds.Stream(streamShuffle),
		Parallel: collate,
	})
	if err != nil {
		return err
	}
	validLoader, err := graph.NewLoader(validSet, cfg.BatchSize, graph.LoaderOptions{Parallel: collate})
	if err != nil {
		return err
	}

	m, err := model.New(model.Config{
		NodeDim:      trainSet.NodeDim,
		EdgeDim:      trainSet.EdgeDim,
		EmbDim:       cfg.EmbDim,
		Depth:        cfg.Depth,
		SelfPerCross: cfg.SelfPerCross,
		NumLatents:   cfg.NumLatents,
		LatentDim:    cfg.LatentDim,
		CrossHeads:   cfg.CrossHeads,
		LatentHeads:  cfg.LatentHeads,
	}, backend)
	if err != nil {
		return err
	}
	m.Reinit(seeds.Stream(streamInit))

	opt, err := optim.New(m.Parameters(), optim.Options{
		Name:     cfg.Optimizer,
		LR:       float32(cfg.LR),
		Momentum: float32(cfg.Momentum),
	}, backend)
	if err != nil {
		return err
	}
	sched, err := optim.NewStepLR(opt, cfg.LRStep, cfg.LRGamma)
	if err != nil {
		return err
	}

	var collectors *metrics.Collectors
	if cfg.MetricsAddr != "" {
		var stopServer func()
		collectors, stopServer, err = serveMetrics(cfg.MetricsAddr, log)
		if err != nil {
			return err
		}
		defer stopServer()
	}

	outDir, err := cfg.OutputDir(start)
	if err != nil {
		return err
	}
	if err := cfg.WriteFile(filepath.Join(outDir, "args.yaml")); err != nil {
		return err
	}
	args, err := cfg.Map()
	if err != nil {
		return err
	}

	batchesPerEpoch := int64(trainLoader.Len())
	saver, err := checkpoint.NewSaver(outDir, checkpoint.SourceFunc(func(epoch int, metric float64) (*checkpoint.State, error) {
		return &checkpoint.State{
			Model:           m.StateDict(),
			Optimizer:       opt.StateDict(),
			Epoch:           epoch,
			Step:            int64(epoch+1) * batchesPerEpoch,
			Metric:          metric,
			OptimizerType:   opt.Type(),
			OptimizerConfig: opt.Config(),
			SchedulerEpoch:  sched.LastEpoch(),
			Arch:            m.Config().Map(),
			Args:            args,
			RunID:           cfg.RunID,
		}, nil
	}), checkpoint.WithMaxHistory(cfg.MaxHistory), checkpoint.WithLogger(log))
	if err != nil {
		return err
	}

	startEpoch := 0
	if cfg.Resume != "" {
		startEpoch, err = resume(cfg.Resume, m, opt, sched, saver, log)
		if err != nil {
			return err
		}
	}

	log.Info("starting training",
		"run_id", cfg.RunID,
		"backend", backend.Name(),
		"params", m.NumParameters(),
		"optimizer", opt.Type(),
		"epochs", cfg.Epochs,
		"batches", trainLoader.Len(),
		"output", outDir,
		"cpu", device.Host(),
	)

	runner := &engine.Runner[*autodiff.Backend[B]]{
		Model:     m,
		Train:     trainLoader,
		Valid:     validLoader,
		Optimizer: opt,
		Scheduler: sched,
		Saver:     saver,
		Summary: func(epoch int, trainM, evalM metrics.Values, writeHeader bool) error {
			return summary.Update(epoch, trainM, evalM, filepath.Join(outDir, summary.FileName), writeHeader)
		},
		Env: &engine.Env[*autodiff.Backend[B]]{
			Transfer: transfer.New(backend, transfer.WithObserver(collectors.ObserveTransfer)),
			Logger:   log,
			Metrics:  collectors,
		},
		StartEpoch: startEpoch,
		Epochs:     cfg.Epochs,
	}

	res, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	log.Info("training finished",
		"epochs", res.Epochs,
		"best", res.BestMetric,
		"best_epoch", res.BestEpoch,
		"took", time.Since(start).Round(time.Second),
		"output", outDir,
	)
	return nil
}

// resume restores model, optimizer, schedule and best metric from path and
// returns the next epoch to run.
func resume[B tensor.Backend](
	path string,
	m *model.Perceiver[B],
	opt optim.Stateful,
	sched *optim.StepLR,
	saver *checkpoint.Saver,
	log *slog.Logger,
) (int, error) {
	st, err := checkpoint.Load(path)
	if err != nil {
		return 0, fmt.Errorf("failed to resume: %w", err)
	}
	if err := m.LoadStateDict(st.Model); err != nil {
		return 0, fmt.Errorf("failed to resume model: %w", err)
	}
	if st.OptimizerType != "" && st.OptimizerType != opt.Type() {
		return 0, fmt.Errorf("failed to resume: checkpoint optimizer %s, configured %s", st.OptimizerType, opt.Type())
	}
	if err := opt.LoadConfig(st.OptimizerConfig); err != nil {
		return 0, fmt.Errorf("failed to resume optimizer: %w", err)
	}
	if err := opt.LoadStateDict(st.Optimizer); err != nil {
		return 0, fmt.Errorf("failed to resume optimizer: %w", err)
	}
	// The checkpoint is written before the scheduler steps for its epoch.
	sched.SetLastEpoch(st.SchedulerEpoch + 1)
	if st.HasBest {
		src := path
		if st.BestEpoch != st.Epoch {
			src = filepath.Join(filepath.Dir(path), checkpoint.BestFile)
		}
		err := saver.ResumeBest(src, st.BestMetric, st.BestEpoch)
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Warn("best checkpoint not found, model_best.born starts with the next improvement",
				"path", src, "best_epoch", st.BestEpoch)
			saver.SetBest(st.BestMetric, st.BestEpoch)
		case err != nil:
			return 0, fmt.Errorf("failed to resume best checkpoint: %w", err)
		}
	}

	log.Info("resumed", "checkpoint", path, "epoch", st.Epoch, "run_id", st.RunID, "lr", opt.GetLR())
	return st.Epoch + 1, nil
}
