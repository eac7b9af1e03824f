package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Phase labels.
const (
	PhaseTrain = "train"
	PhaseEval  = "eval"
)

// Collectors holds the trainer's Prometheus metrics.
type Collectors struct {
	Loss           *prometheus.GaugeVec
	BestMetric     prometheus.Gauge
	BestEpoch      prometheus.Gauge
	LearningRate   prometheus.Gauge
	Epoch          prometheus.Gauge
	Batches        *prometheus.CounterVec
	Graphs         *prometheus.CounterVec
	BatchDuration  *prometheus.HistogramVec
	TransferTime   prometheus.Histogram
	CheckpointTime prometheus.Histogram
}

// NewCollectors creates the collectors and registers them on reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		Loss: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perceiver_epoch_loss",
			Help: "Mean L1 loss of the last finished epoch",
		}, []string{"phase"}),

		BestMetric: f.NewGauge(prometheus.GaugeOpts{
			Name: "perceiver_best_metric",
			Help: "Best validation loss seen so far",
		}),

		BestEpoch: f.NewGauge(prometheus.GaugeOpts{
			Name: "perceiver_best_epoch",
			Help: "Epoch of the best validation loss",
		}),

		LearningRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "perceiver_learning_rate",
			Help: "Current optimizer learning rate",
		}),

		Epoch: f.NewGauge(prometheus.GaugeOpts{
			Name: "perceiver_epoch",
			Help: "Index of the last finished epoch",
		}),

		Batches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perceiver_batches_total",
			Help: "Total number of processed batches",
		}, []string{"phase"}),

		Graphs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perceiver_graphs_total",
			Help: "Total number of processed graphs",
		}, []string{"phase"}),

		BatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perceiver_batch_duration_seconds",
			Help:    "Wall time per batch including transfer, forward and update",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
		}, []string{"phase"}),

		TransferTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perceiver_transfer_duration_seconds",
			Help:    "Duration of host to device copies",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),

		CheckpointTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perceiver_checkpoint_duration_seconds",
			Help:    "Duration of checkpoint saves",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),
	}
}

// ObserveBatch records one processed batch of n graphs.
func (c *Collectors) ObserveBatch(phase string, n int, d time.Duration) {
	if c == nil {
		return
	}
	c.Batches.WithLabelValues(phase).Inc()
	c.Graphs.WithLabelValues(phase).Add(float64(n))
	c.BatchDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// ObserveTransfer records one host to device copy.
func (c *Collectors) ObserveTransfer(d time.Duration) {
	if c == nil {
		return
	}
	c.TransferTime.Observe(d.Seconds())
}

// ObserveEpoch records the outcome of a finished epoch.
func (c *Collectors) ObserveEpoch(epoch int, trainLoss, evalLoss float64, lr float32) {
	if c == nil {
		return
	}
	c.Epoch.Set(float64(epoch))
	c.Loss.WithLabelValues(PhaseTrain).Set(trainLoss)
	c.Loss.WithLabelValues(PhaseEval).Set(evalLoss)
	c.LearningRate.Set(float64(lr))
}

// ObserveCheckpoint records a checkpoint save and the resulting best metric.
func (c *Collectors) ObserveCheckpoint(d time.Duration, best float64, bestEpoch int) {
	if c == nil {
		return
	}
	c.CheckpointTime.Observe(d.Seconds())
	c.BestMetric.Set(best)
	c.BestEpoch.Set(float64(bestEpoch))
}
