package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/born-ml/born/backend/webgpu"

	"github.com/born-ml/perceiver/internal/config"
)

func runWebGPU(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	gpu, err := webgpu.New()
	if err != nil {
		return fmt.Errorf("failed to create webgpu backend: %w", err)
	}
	defer gpu.Release()
	return train(ctx, cfg, gpu, log)
}
