package objpool

import "github.com/prometheus/client_golang/prometheus"

// metrics replaces the "prints a diagnostic on long spin counts" behavior
// the original spins off as an open question (spec §9) with a set of
// Prometheus collectors. None of these are touched from a path that must
// stay allocation-free except via Inc/Set, which are lock-free atomic
// operations on already-allocated collectors — no allocation happens on
// the Push/Pop hot path (spec P6).
type metrics struct {
	abandonedPops  prometheus.Counter
	boundedRetries prometheus.Counter
	occupancy      *prometheus.GaugeVec
}

// newMetrics registers the pool's collectors against reg. Passing a nil
// registerer is valid: every Inc/Set below becomes a no-op write to an
// unregistered collector, which is how callers that don't care about
// metrics opt out without branching on a nil *metrics everywhere.
func newMetrics(reg prometheus.Registerer, poolName string) *metrics {
	m := &metrics{
		abandonedPops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "objpool",
			Name:        "abandoned_pops_total",
			Help:        "Pops that abandoned a slot after observing an in-flight push reservation.",
			ConstLabels: prometheus.Labels{"pool": poolName},
		}),
		boundedRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "objpool",
			Name:        "bounded_push_retries_total",
			Help:        "CAS retries taken by the bounded push primitive before it reserved a tail position.",
			ConstLabels: prometheus.Labels{"pool": poolName},
		}),
		occupancy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "objpool",
			Name:        "slot_occupancy",
			Help:        "Objects currently resident in a slot (tail - head).",
			ConstLabels: prometheus.Labels{"pool": poolName},
		}, []string{"slot"}),
	}
	if reg != nil {
		reg.MustRegister(m.abandonedPops, m.boundedRetries, m.occupancy)
	}
	return m
}
