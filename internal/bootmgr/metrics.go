package bootmgr

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Attempt outcomes.
const (
	outcomeMissing  = "missing"
	outcomeCorrupt  = "corrupt"
	outcomeInactive = "inactive"
	outcomeFailed   = "failed"
	outcomeLoaded   = "loaded"
)

// Load results.
const (
	resultLoaded          = "loaded"
	resultNoBootOrder     = "no_boot_order"
	resultNoBootableEntry = "no_bootable_entry"
)

type metrics struct {
	attempts *prometheus.CounterVec
	loads    *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bootmgr_attempts_total",
			Help: "Boot option attempts by outcome.",
		}, []string{"outcome"}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bootmgr_loads_total",
			Help: "Boot manager passes by result.",
		}, []string{"result"}),
	}
	if reg == nil {
		return m
	}
	m.attempts = register(reg, m.attempts)
	m.loads = register(reg, m.loads)
	return m
}

// register returns the already registered collector when another manager
// shares the registry.
func register(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return c
}

func (m *metrics) attempt(outcome string) {
	m.attempts.WithLabelValues(outcome).Inc()
}

func (m *metrics) load(result string) {
	m.loads.WithLabelValues(result).Inc()
}
