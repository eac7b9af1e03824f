// Package seed threads a single training seed through the job.
//
// A Context replaces process-wide seeding: every consumer that needs
// randomness (parameter initialisation, loader shuffling) asks for its own
// named stream, so adding a consumer never shifts another consumer's sequence.
package seed

import (
	"hash/fnv"
	"math/rand"
)

// Context derives deterministic random streams from one seed.
type Context struct {
	seed int64
}

// New returns a Context for seed.
//
// It also seeds the process-wide math/rand source, which Born's weight
// initialisers draw from. That call only takes effect in binaries built with
// the randseednop=0 GODEBUG setting (see cmd/perceiver).
func New(seed int64) *Context {
	//nolint:staticcheck // SA1019: global seeding is needed for Born's initialisers
	rand.Seed(seed)
	return &Context{seed: seed}
}

// Seed returns the root seed.
func (c *Context) Seed() int64 {
	return c.seed
}

// Stream returns a fresh generator for the named consumer.
// Two calls with the same name return generators producing the same sequence.
func (c *Context) Stream(name string) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	//nolint:gosec // G115, G404: hash bits reinterpreted as a seed; reproducibility, not security
	return rand.New(rand.NewSource(c.seed ^ int64(h.Sum64())))
}
