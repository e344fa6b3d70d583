// Package metrics exposes Prometheus counters for relay and campaign activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Relay metrics, labelled by relay id.
	RelaySendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mail_dispatch_relay_send_success_total",
		Help: "Total number of messages accepted by a relay",
	}, []string{"relay"})
	RelaySendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mail_dispatch_relay_send_failure_total",
		Help: "Total number of failed relay submissions grouped by failure kind",
	}, []string{"relay", "kind"})
	RelayMarkedUnhealthy = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mail_dispatch_relay_marked_unhealthy_total",
		Help: "Total number of times a relay was taken out of rotation",
	}, []string{"relay"})
	RelayHealthResets = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mail_dispatch_relay_health_resets_total",
		Help: "Total number of pool-wide health resets after every relay became unhealthy",
	})

	// Campaign metrics
	CampaignRecipients = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mail_dispatch_campaign_recipients_total",
		Help: "Total number of processed recipients grouped by outcome",
	}, []string{"status"})
	CampaignRenderFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mail_dispatch_campaign_render_failures_total",
		Help: "Total number of attachment render failures",
	})
	PacingDelaySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mail_dispatch_pacing_delay_seconds",
		Help:    "Pacing delay inserted between consecutive sends",
		Buckets: []float64{0.5, 1, 2, 5, 10, 15, 30, 60},
	})
)

func init() {
	prometheus.MustRegister(RelaySendSuccess)
	prometheus.MustRegister(RelaySendFailure)
	prometheus.MustRegister(RelayMarkedUnhealthy)
	prometheus.MustRegister(RelayHealthResets)
	prometheus.MustRegister(CampaignRecipients)
	prometheus.MustRegister(CampaignRenderFailures)
	prometheus.MustRegister(PacingDelaySeconds)
}

// Handler returns an http.Handler exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
