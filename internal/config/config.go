// Package config holds the training job configuration.
//
// Values come from three layers, lowest precedence first:
//   - Defaults
//   - an optional YAML file given by --config
//   - command-line flags that were explicitly set
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned by Validate for out-of-range settings.
var ErrInvalid = errors.New("invalid config")

// Supported devices.
const (
	DeviceCPU    = "cpu"
	DeviceWebGPU = "webgpu"
)

// ExperimentTimeLayout names run directories, e.g. 20240131-235959.
const ExperimentTimeLayout = "20060102-150405"

// Config is the full set of options for a training run.
type Config struct {
	// Data
	Data      string `yaml:"data"`
	BatchSize int    `yaml:"batch_size"`
	Epochs    int    `yaml:"epochs"`
	Shuffle   bool   `yaml:"shuffle"`

	// Model
	EmbDim       int `yaml:"emb_dim"`
	Depth        int `yaml:"depth"`
	SelfPerCross int `yaml:"self_per_cross"`
	NumLatents   int `yaml:"num_latents"`
	LatentDim    int `yaml:"latent_dim"`
	CrossHeads   int `yaml:"cross_heads"`
	LatentHeads  int `yaml:"latent_heads"`

	// Optimization
	Optimizer string  `yaml:"optimizer"`
	Momentum  float64 `yaml:"momentum,omitempty"`
	LR        float64 `yaml:"lr"`
	LRStep    int     `yaml:"lr_step"`
	LRGamma   float64 `yaml:"lr_gamma"`

	// Output
	Output     string `yaml:"output"`
	MaxHistory int    `yaml:"max_history"`
	Resume     string `yaml:"resume,omitempty"`

	// Misc
	Debug       bool   `yaml:"debug"`
	Seed        int64  `yaml:"seed"`
	Device      string `yaml:"device"`
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
	LogLevel    string `yaml:"log_level"`

	// ConfigFile is the YAML file the config was read from, if any.
	ConfigFile string `yaml:"-"`
	// RunID identifies a run in logs and checkpoint headers.
	RunID string `yaml:"run_id,omitempty"`
}

// Default returns the configuration the job runs with when nothing is set.
func Default() Config {
	return Config{
		Data:         defaultDataDir(),
		BatchSize:    256,
		Epochs:       100,
		EmbDim:       128,
		Depth:        3,
		SelfPerCross: 1,
		NumLatents:   128,
		LatentDim:    256,
		CrossHeads:   1,
		LatentHeads:  8,
		Optimizer:    "adam",
		LR:           1e-3,
		LRStep:       30,
		LRGamma:      0.25,
		Output:       "output",
		MaxHistory:   10,
		Seed:         42,
		Device:       DeviceCPU,
		LogLevel:     "info",
	}
}

// defaultDataDir resolves ./dataset against the working directory.
func defaultDataDir() string {
	dir, err := filepath.Abs("dataset")
	if err != nil {
		return "dataset"
	}
	return dir
}

// RegisterFlags binds every option to fs, using c's current values as defaults.
//
// The batch size is reachable both as -b and --batch-size.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "YAML config file (flags override it)")

	// train
	fs.StringVar(&c.Data, "data", c.Data, "dataset directory")
	fs.IntVar(&c.BatchSize, "b", c.BatchSize, "batch size (shorthand)")
	fs.IntVar(&c.BatchSize, "batch-size", c.BatchSize, "batch size")
	fs.IntVar(&c.Epochs, "epochs", c.Epochs, "number of epochs")
	fs.BoolVar(&c.Shuffle, "shuffle", c.Shuffle, "shuffle the training set every epoch")

	// model
	fs.IntVar(&c.EmbDim, "emb-dim", c.EmbDim, "node/edge embedding dimension")
	fs.IntVar(&c.Depth, "depth", c.Depth, "number of cross-attention layers")
	fs.IntVar(&c.SelfPerCross, "self-per-cross", c.SelfPerCross, "latent self-attention blocks per cross-attention")
	fs.IntVar(&c.NumLatents, "num-latents", c.NumLatents, "number of latent vectors")
	fs.IntVar(&c.LatentDim, "latent-dim", c.LatentDim, "latent dimension")
	fs.IntVar(&c.CrossHeads, "cross-heads", c.CrossHeads, "cross-attention heads")
	fs.IntVar(&c.LatentHeads, "latent-heads", c.LatentHeads, "latent self-attention heads")

	// optimization
	fs.StringVar(&c.Optimizer, "opt", c.Optimizer, "optimizer: adam or sgd")
	fs.Float64Var(&c.Momentum, "momentum", c.Momentum, "SGD momentum")
	fs.Float64Var(&c.LR, "lr", c.LR, "learning rate")
	fs.IntVar(&c.LRStep, "lr-step", c.LRStep, "epochs between learning rate decays")
	fs.Float64Var(&c.LRGamma, "lr-gamma", c.LRGamma, "learning rate decay factor")

	// output
	fs.StringVar(&c.Output, "output", c.Output, "root directory for run outputs")
	fs.IntVar(&c.MaxHistory, "max-history", c.MaxHistory, "number of per-epoch checkpoints to keep")
	fs.StringVar(&c.Resume, "resume", c.Resume, "checkpoint to resume from")

	// misc
	fs.BoolVar(&c.Debug, "debug", c.Debug, "load a small subset of every split")
	fs.Int64Var(&c.Seed, "seed", c.Seed, "random seed")
	fs.StringVar(&c.Device, "device", c.Device, "compute device: cpu or webgpu")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "serve Prometheus metrics on this address")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn, error")
}

// Parse builds a Config from command-line arguments.
//
// When --config names a file, it is applied on top of the defaults and the
// flags that were set explicitly are re-applied on top of the file.
func Parse(name string, args []string) (Config, error) {
	cfg := Default()
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("%w: unexpected arguments %v", ErrInvalid, fs.Args())
	}

	if cfg.ConfigFile != "" {
		fileCfg := Default()
		if err := fileCfg.LoadFile(cfg.ConfigFile); err != nil {
			return Config{}, err
		}
		fileCfg.ConfigFile = cfg.ConfigFile

		// Re-apply explicit flags over the file values.
		fs2 := flag.NewFlagSet(name, flag.ContinueOnError)
		fileCfg.RegisterFlags(fs2)
		var setErr error
		fs.Visit(func(f *flag.Flag) {
			if err := fs2.Set(f.Name, f.Value.String()); err != nil && setErr == nil {
				setErr = err
			}
		})
		if setErr != nil {
			return Config{}, setErr
		}
		cfg = fileCfg
	}

	return cfg, cfg.Validate()
}

// LoadFile overlays the YAML file at path onto c.
func (c *Config) LoadFile(path string) error {
	//nolint:gosec // G304: config path is supplied by the user
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// WriteFile stores c as YAML at path.
func (c *Config) WriteFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks that sizes are positive and the device is known.
func (c *Config) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"batch-size", c.BatchSize},
		{"emb-dim", c.EmbDim},
		{"depth", c.Depth},
		{"num-latents", c.NumLatents},
		{"latent-dim", c.LatentDim},
		{"cross-heads", c.CrossHeads},
		{"latent-heads", c.LatentHeads},
		{"lr-step", c.LRStep},
		{"max-history", c.MaxHistory},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalid, p.name, p.value)
		}
	}
	if c.Epochs < 0 {
		return fmt.Errorf("%w: epochs must not be negative, got %d", ErrInvalid, c.Epochs)
	}
	if c.SelfPerCross < 0 {
		return fmt.Errorf("%w: self-per-cross must not be negative, got %d", ErrInvalid, c.SelfPerCross)
	}
	if c.LatentDim%c.CrossHeads != 0 {
		return fmt.Errorf("%w: latent-dim %d not divisible by cross-heads %d", ErrInvalid, c.LatentDim, c.CrossHeads)
	}
	if c.LatentDim%c.LatentHeads != 0 {
		return fmt.Errorf("%w: latent-dim %d not divisible by latent-heads %d", ErrInvalid, c.LatentDim, c.LatentHeads)
	}
	if c.LR <= 0 {
		return fmt.Errorf("%w: lr must be positive, got %g", ErrInvalid, c.LR)
	}
	if c.LRGamma <= 0 {
		return fmt.Errorf("%w: lr-gamma must be positive, got %g", ErrInvalid, c.LRGamma)
	}
	if c.Momentum < 0 || c.Momentum >= 1 {
		return fmt.Errorf("%w: momentum must be in [0, 1), got %g", ErrInvalid, c.Momentum)
	}
	switch c.Optimizer {
	case "adam", "sgd":
	default:
		return fmt.Errorf("%w: unknown optimizer %q", ErrInvalid, c.Optimizer)
	}
	switch c.Device {
	case DeviceCPU, DeviceWebGPU:
	default:
		return fmt.Errorf("%w: unknown device %q", ErrInvalid, c.Device)
	}
	return nil
}

// ExperimentName is the run directory name for a run started at t.
func ExperimentName(t time.Time) string {
	return t.Format(ExperimentTimeLayout)
}

// OutputDir creates (if needed) and returns the run directory under c.Output.
// Calling it again for the same start time is a no-op.
func (c *Config) OutputDir(start time.Time) (string, error) {
	dir := filepath.Join(c.Output, ExperimentName(start))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	return dir, nil
}

// Map returns c keyed by its YAML names, for embedding in checkpoint headers.
func (c *Config) Map() (map[string]any, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	out := make(map[string]any)
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to convert config: %w", err)
	}
	return out, nil
}
