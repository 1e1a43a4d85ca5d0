// Package metrics exposes Prometheus metrics for the order producer and the
// order consumer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orderqueue"

// Producer metrics.
var (
	// OrdersPublishedTotal counts orders confirmed by the transport.
	OrdersPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_published_total",
			Help:      "Total number of orders published to the queue",
		},
	)

	// PublishFailuresTotal counts publish calls that did not complete.
	PublishFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Total number of failed publish attempts",
		},
	)

	// PublishLatency measures a single synchronous publish.
	PublishLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_latency_seconds",
			Help:      "Time for one publish call to return",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)
)

// Consumer metrics.
var (
	// MessagesHandledTotal counts terminal outcomes per delivered message.
	MessagesHandledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_handled_total",
			Help:      "Total number of delivered messages by outcome",
		},
		[]string{"outcome"},
	)

	// StepDuration measures each pipeline step.
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_step_duration_seconds",
			Help:      "Time spent in a pipeline step",
			Buckets:   []float64{.001, .01, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"step"},
	)

	// StepFailuresTotal counts failed steps.
	StepFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_step_failures_total",
			Help:      "Total number of pipeline step failures",
		},
		[]string{"step"},
	)

	// PipelineDuration measures a whole pipeline run for one order.
	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Time to run every pipeline step for one order",
			Buckets:   []float64{.01, .1, .25, .5, 1, 1.5, 2.5, 5},
		},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
