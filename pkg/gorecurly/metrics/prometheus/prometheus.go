package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements gorecurly.Metrics using Prometheus.
type Metrics struct {
	syncTotal                 *prometheus.CounterVec
	syncDuration              prometheus.Histogram
	webhookEventsTotal        *prometheus.CounterVec
	webhookErrorsTotal        *prometheus.CounterVec
	webhookProcessingDuration *prometheus.HistogramVec
	gatewayCallsTotal         *prometheus.CounterVec
	invitesTotal              *prometheus.CounterVec
	redeemsTotal              *prometheus.CounterVec
}

// NewMetrics creates a Prometheus metrics implementation registered on reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		syncTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "sync_total",
			Help:      "Total number of subscription reconciliation passes.",
		}, []string{"result"}),

		syncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "sync_duration_seconds",
			Help:      "Duration of subscription reconciliation passes in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		webhookEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_events_total",
			Help:      "Total number of push notifications received.",
		}, []string{"notification_type", "status"}),

		webhookErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_errors_total",
			Help:      "Total number of push notification processing errors.",
		}, []string{"reason"}),

		webhookProcessingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_processing_duration_seconds",
			Help:      "Duration of push notification handling in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"notification_type"}),

		gatewayCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "gateway_calls_total",
			Help:      "Total number of outbound billing API calls.",
		}, []string{"endpoint", "status"}),

		invitesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "invites_total",
			Help:      "Total number of invitation attempts.",
		}, []string{"outcome"}),

		redeemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "redeems_total",
			Help:      "Total number of ticket redemption attempts.",
		}, []string{"result"}),
	}
}

func (m *Metrics) RecordSync(result string) {
	m.syncTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordSyncDuration(d time.Duration) {
	m.syncDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordWebhookEvent(notificationType, result string) {
	m.webhookEventsTotal.WithLabelValues(notificationType, result).Inc()
}

func (m *Metrics) RecordWebhookError(reason string) {
	m.webhookErrorsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordWebhookProcessingDuration(notificationType string, d time.Duration) {
	m.webhookProcessingDuration.WithLabelValues(notificationType).Observe(d.Seconds())
}

func (m *Metrics) RecordGatewayCall(endpoint, status string) {
	m.gatewayCallsTotal.WithLabelValues(endpoint, status).Inc()
}

func (m *Metrics) RecordInvite(outcome string) {
	m.invitesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordRedeem(result string) {
	m.redeemsTotal.WithLabelValues(result).Inc()
}
