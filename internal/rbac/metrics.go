package rbac

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts permission cache traffic and authorization outcomes.
// A nil *Metrics records nothing.
type Metrics struct {
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
	decisions   *prometheus.CounterVec
}

// NewMetrics registers the resolver collectors on reg, reusing collectors a
// previous call already registered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	hits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hms_rbac_cache_hits_total",
		Help: "Effective permission sets served from cache.",
	})
	misses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hms_rbac_cache_miss_total",
		Help: "Effective permission sets loaded from the store.",
	})
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hms_rbac_decisions_total",
		Help: "Authorization decisions by outcome.",
	}, []string{"outcome"})

	m := &Metrics{}
	var err error
	if m.cacheHits, err = registerCounter(reg, hits); err != nil {
		return nil, err
	}
	if m.cacheMisses, err = registerCounter(reg, misses); err != nil {
		return nil, err
	}
	if err := reg.Register(decisions); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, fmt.Errorf("rbac metrics: unexpected collector type %T", already.ExistingCollector)
		}
		decisions = existing
	}
	m.decisions = decisions
	return m, nil
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(prometheus.Counter)
		if !ok {
			return nil, fmt.Errorf("rbac metrics: unexpected collector type %T", already.ExistingCollector)
		}
		return existing, nil
	}
	return c, nil
}

func (m *Metrics) hit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

func (m *Metrics) decision(outcome string) {
	if m != nil {
		m.decisions.WithLabelValues(outcome).Inc()
	}
}
