package prometheus

import (
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "speeddial"

// Lookup outcomes.
const (
	OutcomeFound       = "found"
	OutcomeNotFound    = "not_found"
	OutcomeInvalid     = "invalid"
	OutcomeRateLimited = "rate_limited"
	OutcomeError       = "error"
)

// Metrics holds the service counters. A nil *Metrics records nothing.
type Metrics struct {
	lookups    *promclient.CounterVec
	cache      *promclient.CounterVec
	importRows *promclient.CounterVec
	events     *promclient.CounterVec
	invalidate promclient.Counter
}

func NewMetrics(reg promclient.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		lookups: factory.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Public number lookups by outcome.",
		}, []string{"outcome"}),
		cache: factory.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Entry cache reads by result.",
		}, []string{"result"}),
		importRows: factory.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "import_rows_total",
			Help:      "CSV import rows by action.",
		}, []string{"action"}),
		events: factory.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_events_total",
			Help:      "Lookup events emitted by type.",
		}, []string{"type"}),
		invalidate: factory.NewCounter(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "cache_invalidations_total",
			Help:      "Cache keys dropped after writes.",
		}),
	}
}

func (m *Metrics) ObserveLookup(outcome string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cache.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveImportRow(action string) {
	if m == nil {
		return
	}
	m.importRows.WithLabelValues(action).Inc()
}

func (m *Metrics) ObserveEvent(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}

func (m *Metrics) ObserveInvalidation(keys int) {
	if m == nil || keys <= 0 {
		return
	}
	m.invalidate.Add(float64(keys))
}
