//go:debug randseednop=0

// Command perceiver trains a Perceiver graph regressor on molecular graphs.
//
// Usage:
//
//	perceiver --data ./dataset -b 256 --epochs 100
//
// Every run writes to output/<YYYYmmdd-HHMMSS>/: args.yaml, summary.csv,
// last.born, model_best.born and up to --max-history checkpoint-<epoch>.born
// files. A run can be continued with --resume <checkpoint>.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/born-ml/perceiver/internal/config"
)

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	cfg, err := config.Parse("perceiver", args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "perceiver: %v\n", err)
		return 1
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("training failed", "run_id", cfg.RunID, "err", err)
		return 1
	}
	return 0
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
