package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTransitionCountsByLabels(t *testing.T) {
	m := New()

	m.Transition("", "pending", "create")
	m.Transition("pending", "failed", "dispatch")
	m.Transition("pending", "failed", "dispatch")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CallTransitions.WithLabelValues("none", "pending", "create")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CallTransitions.WithLabelValues("pending", "failed", "dispatch")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.WebhookEvent("ended", "applied")
		m.Transition("pending", "completed", "webhook")
		m.ObserveDispatch("ok", 0.1)
		m.SchedulerTick("skipped")
		m.LogAppendFailed()
	})
}

func TestRegistriesAreIndependent(t *testing.T) {
	a := New()
	b := New()

	a.LogAppendFailed()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.LogAppendFailures))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.LogAppendFailures))
}
