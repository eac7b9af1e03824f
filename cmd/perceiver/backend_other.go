//go:build !windows

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/born-ml/perceiver/internal/config"
	"github.com/born-ml/perceiver/internal/device"
)

func runWebGPU(context.Context, config.Config, *slog.Logger) error {
	return fmt.Errorf("%w: webgpu", device.ErrUnavailable)
}
