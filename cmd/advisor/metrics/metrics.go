// Package metrics provides Prometheus instrumentation for the advisor.
//
// Metrics exposed:
//   - jobadvisor_events_recorded_total: Counter of lifecycle events by type
//   - jobadvisor_completions_recorded_total: Counter of queue samples by target
//   - jobadvisor_notifications_sent_total: Counter of stored notifications
//   - jobadvisor_deliveries_total: Counter of webhook deliveries by result
//   - jobadvisor_persist_failures_total: Counter of failed saves by store
//   - jobadvisor_refresh_seconds: Histogram of background refresh duration
//   - jobadvisor_tracked_users: Gauge of users with a live session
//   - jobadvisor_errors_total: Counter of errors by component and reason
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the advisor.
type Metrics struct {
	EventsRecorded      *prometheus.CounterVec
	CompletionsRecorded *prometheus.CounterVec
	NotificationsSent   prometheus.Counter
	Deliveries          *prometheus.CounterVec
	PersistFailures     *prometheus.CounterVec
	RefreshSeconds      prometheus.Histogram
	TrackedUsers        prometheus.Gauge
	ErrorsTotal         *prometheus.CounterVec
}

// New creates the metrics and registers them with reg. A nil reg uses the
// default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		EventsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobadvisor_events_recorded_total",
			Help: "Lifecycle events appended to job timelines",
		}, []string{"event_type"}),

		CompletionsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobadvisor_completions_recorded_total",
			Help: "Completed-job samples recorded per target",
		}, []string{"target"}),

		NotificationsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "jobadvisor_notifications_sent_total",
			Help: "Notifications stored for users",
		}),

		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobadvisor_deliveries_total",
			Help: "Webhook deliveries by result",
		}, []string{"result"}),

		PersistFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobadvisor_persist_failures_total",
			Help: "Failed snapshot saves by store",
		}, []string{"store"}),

		RefreshSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "jobadvisor_refresh_seconds",
			Help:    "Time spent refreshing tracked users from the job feed",
			Buckets: prometheus.DefBuckets,
		}),

		TrackedUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "jobadvisor_tracked_users",
			Help: "Users with a live session",
		}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobadvisor_errors_total",
			Help: "Total number of errors by component and reason",
		}, []string{"component", "reason"}),
	}
}

// RecordEvent counts an appended lifecycle event.
func (m *Metrics) RecordEvent(eventType string) {
	m.EventsRecorded.WithLabelValues(eventType).Inc()
}

// RecordCompletion counts a queue sample for target.
func (m *Metrics) RecordCompletion(target string) {
	m.CompletionsRecorded.WithLabelValues(target).Inc()
}

// RecordNotification counts a stored notification.
func (m *Metrics) RecordNotification() {
	m.NotificationsSent.Inc()
}

// ObserveDelivery counts a webhook delivery outcome.
func (m *Metrics) ObserveDelivery(err error) {
	if err != nil {
		m.Deliveries.WithLabelValues("failed").Inc()
		return
	}
	m.Deliveries.WithLabelValues("delivered").Inc()
}

// ObservePersist counts failed saves. Successful saves are ignored.
func (m *Metrics) ObservePersist(store string, err error) {
	if err != nil {
		m.PersistFailures.WithLabelValues(store).Inc()
	}
}

// RecordRefresh records the time spent on one refresh pass.
func (m *Metrics) RecordRefresh(seconds float64) {
	m.RefreshSeconds.Observe(seconds)
}

// SetTrackedUsers sets the number of live sessions.
func (m *Metrics) SetTrackedUsers(n int) {
	m.TrackedUsers.Set(float64(n))
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}
