package gorecurly

import "time"

// Metrics is the interface for tracking reconciliation and webhook activity.
// Implementations must be safe for concurrent use. A nil-safe no-op is used
// when no collector is configured.
type Metrics interface {
	// RecordSync records a reconciliation pass outcome
	// (e.g. "success", "no_subscriptions", "error").
	RecordSync(result string)

	// RecordSyncDuration records how long a reconciliation pass took.
	RecordSyncDuration(d time.Duration)

	// RecordWebhookEvent records a processed notification by type and result.
	RecordWebhookEvent(notificationType, result string)

	// RecordWebhookError records a webhook rejection by reason
	// (e.g. "auth_failed", "invalid_payload", "user_resolution").
	RecordWebhookError(reason string)

	// RecordWebhookProcessingDuration records end-to-end webhook handling time.
	RecordWebhookProcessingDuration(notificationType string, d time.Duration)

	// RecordGatewayCall records an outbound billing API call by endpoint and
	// status class.
	RecordGatewayCall(endpoint, status string)

	// RecordInvite records an invitation outcome
	// ("invited", "skipped", "invalid").
	RecordInvite(outcome string)

	// RecordRedeem records a ticket redemption outcome
	// ("success", "conflict", "error").
	RecordRedeem(result string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (NoopMetrics) RecordSync(result string)                                           {}
func (NoopMetrics) RecordSyncDuration(d time.Duration)                                 {}
func (NoopMetrics) RecordWebhookEvent(notificationType, result string)                 {}
func (NoopMetrics) RecordWebhookError(reason string)                                   {}
func (NoopMetrics) RecordWebhookProcessingDuration(t string, d time.Duration)          {}
func (NoopMetrics) RecordGatewayCall(endpoint, status string)                          {}
func (NoopMetrics) RecordInvite(outcome string)                                        {}
func (NoopMetrics) RecordRedeem(result string)                                         {}
