package store

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	sessionsOpen *prometheus.GaugeVec
	transactions *prometheus.CounterVec
	flushes      *prometheus.CounterVec
	written      *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		sessionsOpen: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "persistkit_sessions_open",
			Help: "Persistence sessions currently open, by flavor.",
		}, []string{"flavor"})),
		transactions: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "persistkit_transactions_total",
			Help: "Finished transactions, by outcome.",
		}, []string{"outcome"})),
		flushes: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "persistkit_flushes_total",
			Help: "Session flushes, by flavor.",
		}, []string{"flavor"})),
		written: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "persistkit_entities_written_total",
			Help: "Entities written to storage, by operation.",
		}, []string{"op"})),
	}
}

// register registers c, returning the already registered collector when an
// identical one exists so several contexts can share a registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// RegisterCounter registers a counter vector on the context's registry, or
// returns the one already registered under the same name.
func (c *Context) RegisterCounter(opts prometheus.CounterOpts, labels ...string) *prometheus.CounterVec {
	return register(c.registry, prometheus.NewCounterVec(opts, labels))
}
