package billing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	processedEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelforge_billing_events_processed_total",
		Help: "Billing webhook events applied, by type.",
	}, []string{"type"})

	duplicateEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reelforge_billing_events_duplicate_total",
		Help: "Replayed billing webhook events skipped by dedup.",
	})

	orphanedEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reelforge_billing_events_orphaned_total",
		Help: "Billing events that could not be mapped to an account.",
	})
)
