package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// donationsRecorded counts donation rows written, labeled by how the
// donation recurs and the outcome recorded.
var donationsRecorded = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "donations_recorded_total",
		Help: "Total donation records written, by frequency and status.",
	},
	[]string{"frequency", "status"},
)

// webhookEvents counts gateway webhook deliveries by event type and how the
// dispatcher handled them.
var webhookEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "stripe_webhook_events_total",
		Help: "Total Stripe webhook events processed, by type and result.",
	},
	[]string{"type", "result"},
)
