// Package transfer moves host buffers onto a compute backend asynchronously.
//
// A copy is started with AsyncCopy and joined with Handle.Wait:
//
//	tr := transfer.New(backend)
//	nodes := tr.AsyncCopy(batch.NodeFeat, tensor.Shape(batch.NodeShape()))
//	edges := tr.AsyncCopy(batch.EdgeFeat, tensor.Shape(batch.EdgeShape()))
//	x, err := nodes.Wait()
//	...
package transfer

import (
	"fmt"
	"time"

	"github.com/born-ml/born/tensor"
)

// Observer receives the duration of every completed copy.
type Observer func(d time.Duration)

// Transferer copies host float32 buffers into tensors on backend B.
type Transferer[B tensor.Backend] struct {
	backend  B
	observer Observer
}

// Option configures a Transferer.
type Option func(*options)

type options struct {
	observer Observer
}

// WithObserver reports copy durations to fn.
func WithObserver(fn Observer) Option {
	return func(o *options) { o.observer = fn }
}

// New creates a transferer targeting backend.
func New[B tensor.Backend](backend B, opts ...Option) *Transferer[B] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Transferer[B]{backend: backend, observer: o.observer}
}

// Backend returns the target backend.
func (t *Transferer[B]) Backend() B {
	return t.backend
}

// AsyncCopy starts copying data with the given shape to the backend and
// returns immediately. The caller must not modify data until Wait returns.
func (t *Transferer[B]) AsyncCopy(data []float32, shape tensor.Shape) *Handle[B] {
	h := &Handle[B]{done: make(chan struct{})}
	go func() {
		defer close(h.done)
		start := time.Now()
		h.tensor, h.err = copyToBackend(data, shape, t.backend)
		if t.observer != nil {
			t.observer(time.Since(start))
		}
	}()
	return h
}

// Copy is the synchronous form of AsyncCopy.
func (t *Transferer[B]) Copy(data []float32, shape tensor.Shape) (*tensor.Tensor[float32, B], error) {
	return t.AsyncCopy(data, shape).Wait()
}

func copyToBackend[B tensor.Backend](data []float32, shape tensor.Shape, backend B) (*tensor.Tensor[float32, B], error) {
	if n := shape.NumElements(); n != len(data) {
		return nil, fmt.Errorf("transfer: shape %v needs %d elements, got %d", shape, n, len(data))
	}
	t, err := tensor.FromSlice(data, shape, backend)
	if err != nil {
		return nil, fmt.Errorf("transfer: %w", err)
	}
	return t, nil
}

// Handle is a pending copy.
type Handle[B tensor.Backend] struct {
	done   chan struct{}
	tensor *tensor.Tensor[float32, B]
	err    error
}

// Wait blocks until the copy has finished. It may be called any number of
// times and always returns the same result.
func (h *Handle[B]) Wait() (*tensor.Tensor[float32, B], error) {
	<-h.done
	return h.tensor, h.err
}

// Done is closed once the copy has finished.
func (h *Handle[B]) Done() <-chan struct{} {
	return h.done
}
