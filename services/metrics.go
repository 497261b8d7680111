package services

import "github.com/prometheus/client_golang/prometheus"

var (
	reconciliationEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_events_total",
			Help: "Payment reconciliation events by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	webhookInternalErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_internal_errors_total",
			Help: "Webhook deliveries acknowledged with internal_error",
		},
	)

	notifierFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifier_failures_total",
			Help: "Thank-you notifications that could not be sent",
		},
	)
)

func init() {
	prometheus.MustRegister(reconciliationEventsTotal)
	prometheus.MustRegister(webhookInternalErrorsTotal)
	prometheus.MustRegister(notifierFailuresTotal)
}

const (
	channelVerify  = "client_verify"
	channelFailure = "client_failure"
	channelWebhook = "webhook"
)

func recordEvent(channel, outcome string) {
	reconciliationEventsTotal.WithLabelValues(channel, outcome).Inc()
}
