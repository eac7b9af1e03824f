package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAverageMeter_Weighted(t *testing.T) {
	var m AverageMeter
	m.Update(1.0, 4)
	m.Update(2.0, 6)

	assert.InDelta(t, 1.6, m.Avg, 1e-12)
	assert.InDelta(t, 2.0, m.Val, 1e-12)
	assert.Equal(t, 10, m.Count)
	assert.InDelta(t, 16.0, m.Sum, 1e-12)

	m.Reset()
	assert.Equal(t, AverageMeter{}, m)
}

func TestAverageMeter_ZeroCount(t *testing.T) {
	var m AverageMeter
	m.Update(3.0, 0)
	assert.Zero(t, m.Avg)
	assert.InDelta(t, 3.0, m.Val, 1e-12)
}

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectors(reg)

	c.ObserveBatch(PhaseTrain, 4, 10*time.Millisecond)
	c.ObserveBatch(PhaseTrain, 6, 10*time.Millisecond)
	c.ObserveBatch(PhaseEval, 3, time.Millisecond)
	c.ObserveTransfer(time.Millisecond)
	c.ObserveEpoch(2, 0.5, 0.7, 1e-3)
	c.ObserveCheckpoint(time.Second, 0.7, 2)

	assert.InDelta(t, 2, testutil.ToFloat64(c.Batches.WithLabelValues(PhaseTrain)), 1e-12)
	assert.InDelta(t, 10, testutil.ToFloat64(c.Graphs.WithLabelValues(PhaseTrain)), 1e-12)
	assert.InDelta(t, 3, testutil.ToFloat64(c.Graphs.WithLabelValues(PhaseEval)), 1e-12)
	assert.InDelta(t, 0.7, testutil.ToFloat64(c.Loss.WithLabelValues(PhaseEval)), 1e-12)
	assert.InDelta(t, 2, testutil.ToFloat64(c.BestEpoch), 1e-12)
	assert.InDelta(t, 1e-3, testutil.ToFloat64(c.LearningRate), 1e-9)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestCollectors_NilIsNoop(t *testing.T) {
	var c *Collectors
	assert.NotPanics(t, func() {
		c.ObserveBatch(PhaseTrain, 1, time.Millisecond)
		c.ObserveTransfer(time.Millisecond)
		c.ObserveEpoch(1, 1, 1, 1)
		c.ObserveCheckpoint(time.Millisecond, 1, 1)
	})
}
