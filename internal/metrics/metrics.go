// Package metrics holds the Prometheus instruments of the meeting bot engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "meetbot"

// Metrics is the engine's metric set. A nil *Metrics records nothing.
type Metrics struct {
	SyncRunsTotal        *prometheus.CounterVec
	MeetingsCreatedTotal prometheus.Counter
	BotDeploymentsTotal  *prometheus.CounterVec
	WakeupsFiredTotal    prometheus.Counter
	PollsTotal           *prometheus.CounterVec
	StatusTransitions    *prometheus.CounterVec
	CompletionRunsTotal  *prometheus.CounterVec
	InsightRunsTotal     *prometheus.CounterVec
	JobsProcessedTotal   *prometheus.CounterVec
	JobProcessingSeconds *prometheus.HistogramVec
	WebhookEventsTotal   *prometheus.CounterVec
}

// New creates the metric set and registers it with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SyncRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calendar_sync_runs_total",
			Help:      "Per-user calendar sync runs by outcome",
		}, []string{"outcome"}),
		MeetingsCreatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "meetings_created_total",
			Help:      "Meetings created from calendar events",
		}),
		BotDeploymentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bot_deployments_total",
			Help:      "Bot deployment attempts by outcome",
		}, []string{"outcome"}),
		WakeupsFiredTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bot_wakeups_fired_total",
			Help:      "Deferred deployments released by the wake-up drainer",
		}),
		PollsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_polls_total",
			Help:      "Vendor status polls by outcome",
		}, []string{"outcome"}),
		StatusTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "meeting_status_transitions_total",
			Help:      "Meeting status transitions by target status and trigger",
		}, []string{"status", "source"}),
		CompletionRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_runs_total",
			Help:      "Completion pipeline runs by transcript source",
		}, []string{"source"}),
		InsightRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insight_runs_total",
			Help:      "Insight generation runs by outcome",
		}, []string{"outcome"}),
		JobsProcessedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Task queue jobs by topic and outcome",
		}, []string{"topic", "outcome"}),
		JobProcessingSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_processing_seconds",
			Help:      "Task handler latency",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		}, []string{"topic"}),
		WebhookEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Inbound vendor webhook events by kind",
		}, []string{"kind"}),
	}
}

// SyncRun records a per-user sync outcome.
func (m *Metrics) SyncRun(outcome string) {
	if m == nil {
		return
	}
	m.SyncRunsTotal.WithLabelValues(outcome).Inc()
}

// MeetingCreated records a new tracked meeting.
func (m *Metrics) MeetingCreated() {
	if m == nil {
		return
	}
	m.MeetingsCreatedTotal.Inc()
}

// BotDeployment records a deployment outcome (deployed, failed, excluded, deferred).
func (m *Metrics) BotDeployment(outcome string) {
	if m == nil {
		return
	}
	m.BotDeploymentsTotal.WithLabelValues(outcome).Inc()
}

// WakeupsFired records released wake-up timers.
func (m *Metrics) WakeupsFired(n int) {
	if m == nil || n == 0 {
		return
	}
	m.WakeupsFiredTotal.Add(float64(n))
}

// Poll records a vendor status poll outcome.
func (m *Metrics) Poll(outcome string) {
	if m == nil {
		return
	}
	m.PollsTotal.WithLabelValues(outcome).Inc()
}

// Transition records a meeting status change.
func (m *Metrics) Transition(status, source string) {
	if m == nil {
		return
	}
	m.StatusTransitions.WithLabelValues(status, source).Inc()
}

// CompletionRun records which source produced a transcript.
func (m *Metrics) CompletionRun(source string) {
	if m == nil {
		return
	}
	m.CompletionRunsTotal.WithLabelValues(source).Inc()
}

// InsightRun records an insight generation outcome.
func (m *Metrics) InsightRun(outcome string) {
	if m == nil {
		return
	}
	m.InsightRunsTotal.WithLabelValues(outcome).Inc()
}

// JobProcessed records a handled job and its latency.
func (m *Metrics) JobProcessed(topic, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.JobsProcessedTotal.WithLabelValues(topic, outcome).Inc()
	m.JobProcessingSeconds.WithLabelValues(topic).Observe(seconds)
}

// WebhookEvent records an inbound webhook by kind.
func (m *Metrics) WebhookEvent(kind string) {
	if m == nil {
		return
	}
	m.WebhookEventsTotal.WithLabelValues(kind).Inc()
}
