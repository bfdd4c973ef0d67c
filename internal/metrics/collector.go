// Package metrics exposes prometheus instruments for frame selection,
// inference calls and replay attempts. A nil *Collector is valid and records
// nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "screenplay"

// Collector holds the process instruments
type Collector struct {
	framesSampled  prometheus.Counter
	framesSelected prometheus.Counter
	changeEvents   *prometheus.CounterVec

	inferenceRequests *prometheus.CounterVec
	inferenceDuration *prometheus.HistogramVec

	attempts   *prometheus.CounterVec
	steps      *prometheus.CounterVec
	confidence prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewCollector registers every instrument on reg
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	c := &Collector{}

	c.framesSampled = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_sampled_total",
		Help:      "Video frames analysed by the frame selector",
	})
	c.framesSelected = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_selected_total",
		Help:      "Frames promoted into the selected sequence",
	})
	c.changeEvents = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frame_change_events_total",
		Help:      "Detected scene changes by decision",
	}, []string{"decision"}) // kept, discarded

	c.inferenceRequests = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inference_requests_total",
		Help:      "Inference requests by provider, operation and status",
	}, []string{"provider", "operation", "status"})
	c.inferenceDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "inference_request_duration_seconds",
		Help:      "Inference request latency",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"provider", "operation"})

	c.attempts = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executor_attempts_total",
		Help:      "Step attempts by outcome",
	}, []string{"outcome"})
	c.steps = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executor_steps_total",
		Help:      "Finished steps by result",
	}, []string{"result"})
	c.confidence = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "locator_confidence",
		Help:      "Confidence reported for located elements",
		Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1},
	})

	c.httpRequests = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by handler, method and status code",
	}, []string{"handler", "method", "code"})
	c.httpDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"handler", "method"})

	return c
}

// FrameSampled counts one analysed frame
func (c *Collector) FrameSampled() {
	if c == nil {
		return
	}
	c.framesSampled.Inc()
}

// ChangeDetected records a change event and whether it was kept
func (c *Collector) ChangeDetected(kept bool) {
	if c == nil {
		return
	}
	if kept {
		c.changeEvents.WithLabelValues("kept").Inc()
		c.framesSelected.Inc()
		return
	}
	c.changeEvents.WithLabelValues("discarded").Inc()
}

// ObserveInference records one provider round trip
func (c *Collector) ObserveInference(provider, operation string, d time.Duration, err error) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.inferenceRequests.WithLabelValues(provider, operation, status).Inc()
	c.inferenceDuration.WithLabelValues(provider, operation).Observe(d.Seconds())
}

// ObserveAttempt counts one executor attempt by its outcome label
func (c *Collector) ObserveAttempt(outcome string) {
	if c == nil {
		return
	}
	c.attempts.WithLabelValues(outcome).Inc()
}

// ObserveStep counts one finished step
func (c *Collector) ObserveStep(result string) {
	if c == nil {
		return
	}
	c.steps.WithLabelValues(result).Inc()
}

// ObserveConfidence records a locator confidence score
func (c *Collector) ObserveConfidence(v float64) {
	if c == nil {
		return
	}
	c.confidence.Observe(v)
}

// InstrumentHandler wraps h with request count and latency instruments
func (c *Collector) InstrumentHandler(name string, h http.Handler) http.Handler {
	if c == nil {
		return h
	}
	labels := prometheus.Labels{"handler": name}
	return promhttp.InstrumentHandlerDuration(
		c.httpDuration.MustCurryWith(labels),
		promhttp.InstrumentHandlerCounter(c.httpRequests.MustCurryWith(labels), h),
	)
}
