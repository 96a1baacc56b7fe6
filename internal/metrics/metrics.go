// Package metrics holds the Prometheus collectors for call lifecycle,
// webhook ingestion, dispatch and scheduling.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "outreach"

// Metrics bundles all collectors registered for the process.
type Metrics struct {
	Registry *prometheus.Registry

	WebhookEvents      *prometheus.CounterVec
	CallTransitions    *prometheus.CounterVec
	CorrelationMisses  *prometheus.CounterVec
	DispatchDuration   *prometheus.HistogramVec
	SchedulerTicks     *prometheus.CounterVec
	SchedulerDispatch  *prometheus.CounterVec
	LogAppendFailures  prometheus.Counter
	StatusPublishFails prometheus.Counter
}

// New registers collectors on a fresh registry, including Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		WebhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Provider webhook events by kind and handling result.",
		}, []string{"kind", "result"}),
		CallTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_transitions_total",
			Help:      "Call status transitions by source and target status.",
		}, []string{"from", "to", "source"}),
		CorrelationMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_correlation_misses_total",
			Help:      "Webhook events that did not match an active call.",
		}, []string{"kind"}),
		DispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Latency of outbound dispatch gateway requests.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}, []string{"result"}),
		SchedulerTicks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_ticks_total",
			Help:      "Scheduler ticks by result (ran, skipped, locked, error).",
		}, []string{"result"}),
		SchedulerDispatch: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_campaign_results_total",
			Help:      "Per-campaign scheduler outcomes.",
		}, []string{"result"}),
		LogAppendFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_log_append_failures_total",
			Help:      "Call log entries that could not be written.",
		}),
		StatusPublishFails: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_publish_failures_total",
			Help:      "Call status events that could not be published.",
		}),
	}
}

// The helpers below tolerate a nil receiver so components can run without
// a registry in tests and tools.

func (m *Metrics) WebhookEvent(kind, result string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) Transition(from, to, source string) {
	if m == nil {
		return
	}
	if from == "" {
		from = "none"
	}
	m.CallTransitions.WithLabelValues(from, to, source).Inc()
}

func (m *Metrics) CorrelationMiss(kind string) {
	if m == nil {
		return
	}
	m.CorrelationMisses.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveDispatch(result string, seconds float64) {
	if m == nil {
		return
	}
	m.DispatchDuration.WithLabelValues(result).Observe(seconds)
}

func (m *Metrics) SchedulerTick(result string) {
	if m == nil {
		return
	}
	m.SchedulerTicks.WithLabelValues(result).Inc()
}

func (m *Metrics) CampaignResult(result string) {
	if m == nil {
		return
	}
	m.SchedulerDispatch.WithLabelValues(result).Inc()
}

func (m *Metrics) LogAppendFailed() {
	if m == nil {
		return
	}
	m.LogAppendFailures.Inc()
}

func (m *Metrics) StatusPublishFailed() {
	if m == nil {
		return
	}
	m.StatusPublishFails.Inc()
}
