// Package metrics exposes Prometheus instrumentation for the credential
// lifecycle.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RequestsSubmitted   *prometheus.CounterVec
	RequestsApproved    prometheus.Counter
	RequestsDeclined    prometheus.Counter
	RequestsRevoked     prometheus.Counter
	RequestsDeleted     prometheus.Counter
	ExpiryRunDuration   prometheus.Histogram
	ExpiryNotifications *prometheus.CounterVec
	CredentialsRenewed  prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		RequestsSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "issuant_credential_requests_submitted_total",
			Help: "Total number of credential requests submitted",
		}, []string{"kind"}),
		RequestsApproved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "issuant_credential_requests_approved_total",
			Help: "Total number of credential requests approved",
		}),
		RequestsDeclined: promauto.NewCounter(prometheus.CounterOpts{
			Name: "issuant_credential_requests_declined_total",
			Help: "Total number of credential requests declined",
		}),
		RequestsRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "issuant_credentials_revoked_total",
			Help: "Total number of credentials revoked",
		}),
		RequestsDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "issuant_credentials_deleted_total",
			Help: "Total number of credentials physically deleted by the expiry run",
		}),
		ExpiryRunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "issuant_expiry_run_duration_seconds",
			Help:    "Duration of full expiry classifier runs",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		ExpiryNotifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "issuant_expiry_notifications_total",
			Help: "Total number of expiry notifications sent, by window",
		}, []string{"window"}),
		CredentialsRenewed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "issuant_credentials_renewed_total",
			Help: "Total number of expiring credentials reissued by the renewal run",
		}),
	}
}

func (m *Metrics) IncrementSubmitted(kind string) {
	m.RequestsSubmitted.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveExpiryRun(start time.Time) {
	m.ExpiryRunDuration.Observe(time.Since(start).Seconds())
}
