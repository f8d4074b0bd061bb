package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	consumptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reelforge_credit_consumptions_total",
		Help: "Successful credit consumptions.",
	})

	denialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelforge_credit_denials_total",
		Help: "Denied paid actions by reason.",
	}, []string{"reason"})

	grantsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelforge_credit_grants_total",
		Help: "Credit grants by reason.",
	}, []string{"reason"})

	refundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reelforge_credit_refunds_total",
		Help: "Consumptions reversed after dispatch failures.",
	})
)

// DenialCounter is shared with the gate so entitlement denials land in the
// same metric family as balance denials.
func DenialCounter(reason string) prometheus.Counter {
	return denialsTotal.WithLabelValues(reason)
}
