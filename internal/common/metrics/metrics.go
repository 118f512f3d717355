package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	webhooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhooks_received_total",
			Help: "Webhook deliveries by provider and outcome (accepted/rejected/malformed/ignored).",
		},
		[]string{"provider", "outcome"},
	)

	activationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activations_total",
			Help: "Activation engine results (activated/renewed/duplicate/failed).",
		},
		[]string{"result"},
	)

	renewalFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renewal_failures_total",
			Help: "Failed renewal events by resulting subscription status.",
		},
		[]string{"status"},
	)

	notificationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_attempts_total",
			Help: "Notification delivery attempts by provider and outcome (sent/failed).",
		},
		[]string{"provider", "outcome"},
	)
)

// MustRegister registers all collectors with Prometheus exactly once.
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(
			webhooksTotal,
			activationsTotal,
			renewalFailuresTotal,
			notificationAttemptsTotal,
		)
	})
}

func IncWebhook(provider, outcome string) {
	webhooksTotal.WithLabelValues(provider, outcome).Inc()
}

func IncActivation(result string) {
	activationsTotal.WithLabelValues(result).Inc()
}

func IncRenewalFailure(status string) {
	renewalFailuresTotal.WithLabelValues(status).Inc()
}

func IncNotificationAttempt(provider, outcome string) {
	notificationAttemptsTotal.WithLabelValues(provider, outcome).Inc()
}
