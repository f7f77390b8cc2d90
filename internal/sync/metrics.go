package sync

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

var metrics = []prometheus.Collector{
	transactionOutcomes,
	runsTotal,
}

var transactionOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sync_transactions_total",
		Help: "Per-transaction sync outcomes, partitioned by result.",
	},
	[]string{"outcome"},
)

var runsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sync_runs_total",
		Help: "Completed sync runs, partitioned by mode.",
	},
	[]string{"mode"},
)

// RegisterMetrics registers the engine's Prometheus metrics with the default
// registry.
func RegisterMetrics() error {
	for _, c := range metrics {
		if err := prometheus.Register(c); err != nil {
			return fmt.Errorf("could not register %s with Prometheus", c)
		}
	}

	return nil
}

// UnregisterMetrics unregisters all engine metrics.
//
// This is needed to cleanly exit.
func UnregisterMetrics() bool {
	for _, c := range metrics {
		if ok := prometheus.Unregister(c); !ok {
			return false
		}
	}

	return true
}
