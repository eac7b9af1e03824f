// Package device describes the host and checks which compute backends can
// run on it.
package device

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// Backend names.
const (
	CPU    = "cpu"
	WebGPU = "webgpu"
)

// ErrUnavailable is returned by Check for a backend this host cannot run.
var ErrUnavailable = errors.New("device unavailable")

// Check reports whether the named backend can be created on this host.
func Check(name string) error {
	switch name {
	case CPU:
		return nil
	case WebGPU:
		if !WebGPUAvailable() {
			return fmt.Errorf("%w: %s on %s/%s", ErrUnavailable, name, runtime.GOOS, runtime.GOARCH)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown device %q", ErrUnavailable, name)
	}
}

// Info summarises the host CPU.
type Info struct {
	Brand         string
	Vendor        string
	PhysicalCores int
	LogicalCores  int
	CacheL2       int // bytes, -1 if unknown
	AVX2          bool
	AVX512        bool
	FMA3          bool
	Features      []string
}

// Host returns the CPU description detected at start-up.
func Host() Info {
	c := cpuid.CPU
	return Info{
		Brand:         c.BrandName,
		Vendor:        c.VendorString,
		PhysicalCores: c.PhysicalCores,
		LogicalCores:  c.LogicalCores,
		CacheL2:       c.Cache.L2,
		AVX2:          c.Supports(cpuid.AVX2),
		AVX512:        c.Supports(cpuid.AVX512F, cpuid.AVX512DQ),
		FMA3:          c.Supports(cpuid.FMA3),
		Features:      c.FeatureSet(),
	}
}

// Threads is the number of goroutines worth running CPU-bound work on.
func (i Info) Threads() int {
	if i.LogicalCores > 0 {
		return i.LogicalCores
	}
	return runtime.NumCPU()
}

// LogValue implements slog.LogValuer.
func (i Info) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("brand", i.Brand),
		slog.Int("cores", i.PhysicalCores),
		slog.Int("threads", i.Threads()),
		slog.Bool("avx2", i.AVX2),
		slog.Bool("avx512", i.AVX512),
		slog.Bool("fma3", i.FMA3),
	)
}
