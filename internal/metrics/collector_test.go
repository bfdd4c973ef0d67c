package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestFrameCounters(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.FrameSampled()
	c.FrameSampled()
	c.ChangeDetected(true)
	c.ChangeDetected(false)
	c.ChangeDetected(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.framesSampled))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.framesSelected))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.changeEvents.WithLabelValues("kept")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.changeEvents.WithLabelValues("discarded")))
}

func TestExecutorAndInferenceInstruments(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.ObserveAttempt("low_confidence")
	c.ObserveAttempt("succeeded")
	c.ObserveStep("succeeded")
	c.ObserveConfidence(0.95)
	c.ObserveInference("openai", "locate", 300*time.Millisecond, nil)
	c.ObserveInference("openai", "locate", time.Second, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.attempts.WithLabelValues("low_confidence")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.steps.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.inferenceRequests.WithLabelValues("openai", "locate", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.inferenceRequests.WithLabelValues("openai", "locate", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.confidence))
}

func TestInstrumentHandler(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	h := c.InstrumentHandler("healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("healthz", "get", "418")))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.FrameSampled()
		c.ChangeDetected(true)
		c.ObserveAttempt("x")
		c.ObserveStep("x")
		c.ObserveConfidence(1)
		c.ObserveInference("p", "o", time.Second, nil)
	})

	h := http.NotFoundHandler()
	assert.NotNil(t, c.InstrumentHandler("x", h))
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)
	assert.Panics(t, func() { NewCollector(reg) })
}
