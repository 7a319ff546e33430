package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	instancesGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "registry_instances",
			Help: "Registered instances by status, refreshed every sweep",
		},
		[]string{"status"},
	)

	selfPreservationGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_self_preservation",
			Help: "1 while eviction is suspended by self-preservation",
		},
	)

	registrationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_registrations_total",
			Help: "Total number of register calls accepted",
		},
	)

	renewalsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_renewals_total",
			Help: "Total number of successful heartbeats",
		},
	)

	evictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_evictions_total",
			Help: "Total number of instances evicted for an expired lease",
		},
	)
)

func recordCounts(counts map[Status]int) {
	for _, st := range Statuses {
		instancesGauge.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}

func recordSelfPreservation(engaged bool) {
	if engaged {
		selfPreservationGauge.Set(1)
		return
	}
	selfPreservationGauge.Set(0)
}
