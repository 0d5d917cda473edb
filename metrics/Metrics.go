// Package metrics implements running training metrics and their export
// to Prometheus.
package metrics

import (
	"fmt"
	"math"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Mean is the running mean of all values it has been updated with
type Mean struct {
	total float64
	count int
}

// Update adds values to the mean
func (m *Mean) Update(values ...float64) {
	for _, v := range values {
		m.total += v
	}
	m.count += len(values)
}

// Result returns the mean, 0 if no values have been added
func (m *Mean) Result() float64 {
	if m.count == 0 {
		return 0
	}
	return m.total / float64(m.count)
}

// Count returns the number of values added
func (m *Mean) Count() int {
	return m.count
}

// Reset removes all values
func (m *Mean) Reset() {
	m.total, m.count = 0, 0
}

// SquaredErrors returns the mean squared error of each row of
// prediction and target, which are row major with rows of length dim
func SquaredErrors(prediction, target []float64, dim int) ([]float64,
	error) {
	return rowErrors(prediction, target, dim, func(d float64) float64 {
		return d * d
	})
}

// AbsoluteErrors returns the mean absolute error of each row of
// prediction and target, which are row major with rows of length dim
func AbsoluteErrors(prediction, target []float64, dim int) ([]float64,
	error) {
	return rowErrors(prediction, target, dim, math.Abs)
}

func rowErrors(prediction, target []float64, dim int,
	f func(float64) float64) ([]float64, error) {
	if len(prediction) != len(target) {
		return nil, fmt.Errorf("rowErrors: prediction and target lengths "+
			"differ (%v != %v)", len(prediction), len(target))
	}
	if dim < 1 || len(target)%dim != 0 {
		return nil, fmt.Errorf("rowErrors: length %v is not a multiple "+
			"of row length %v", len(target), dim)
	}

	errs := make([]float64, len(target)/dim)
	for i := range errs {
		var sum float64
		for j := i * dim; j < (i+1)*dim; j++ {
			sum += f(prediction[j] - target[j])
		}
		errs[i] = sum / float64(dim)
	}
	return errs, nil
}

// Collector exports training scalars as Prometheus gauges
type Collector struct {
	registry    *prometheus.Registry
	step        prometheus.Gauge
	scalars     *prometheus.GaugeVec
	checkpoints prometheus.Counter
}

// NewCollector returns a Collector with its own registry. Metrics are
// named namespace_step, namespace_scalar{tag=...} and
// namespace_checkpoints_total.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		step: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "step",
			Help:      "Current global training step",
		}),
		scalars: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scalar",
			Help:      "Most recent value of a training scalar",
		}, []string{"tag"}),
		checkpoints: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Number of checkpoints saved",
		}),
	}
}

// Observe sets the step gauge and the gauge of each scalar
func (c *Collector) Observe(step int, scalars map[string]float64) {
	c.step.Set(float64(step))
	for tag, v := range scalars {
		c.scalars.WithLabelValues(tag).Set(v)
	}
}

// CheckpointSaved counts a saved checkpoint
func (c *Collector) CheckpointSaved() {
	c.checkpoints.Inc()
}

// Registry returns the registry of the Collector
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an http.Handler serving the Collector's metrics
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
