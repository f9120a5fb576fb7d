package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveLLMCall("discover", time.Now(), nil)
	m.ObserveLLMCall("discover", time.Now(), errors.New("boom"))
	m.PopulateFinished("ready")
	m.SetOpportunities(3)
	m.SetPhase("ready", []string{"onboarding", "ready"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.llmCalls.WithLabelValues("discover", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.llmCalls.WithLabelValues("discover", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.populateCycles.WithLabelValues("ready")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.opportunities))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.phase.WithLabelValues("ready")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.phase.WithLabelValues("onboarding")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveLLMCall("x", time.Now(), nil)
		m.PopulateFinished("error")
		m.SetOpportunities(1)
		m.SetPhase("ready", []string{"ready"})
		m.EventPublished("x", nil)
	})
}
