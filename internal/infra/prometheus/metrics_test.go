package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sifan077/SpeedDial/config"
	"github.com/stretchr/testify/assert"
)

func TestMetricsCounters(t *testing.T) {
	reg := promclient.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveLookup(OutcomeFound)
	m.ObserveLookup(OutcomeFound)
	m.ObserveLookup(OutcomeNotFound)
	m.ObserveCache(true)
	m.ObserveCache(false)
	m.ObserveCache(false)
	m.ObserveImportRow("created")
	m.ObserveInvalidation(3)
	m.ObserveInvalidation(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.lookups.WithLabelValues(OutcomeFound)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lookups.WithLabelValues(OutcomeNotFound)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cache.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cache.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.importRows.WithLabelValues("created")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.invalidate))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveLookup(OutcomeFound)
	m.ObserveCache(true)
	m.ObserveImportRow("updated")
	m.ObserveEvent("lookup_success")
	m.ObserveInvalidation(1)
}

func TestServerExposesRegistry(t *testing.T) {
	reg := promclient.NewRegistry()
	NewMetrics(reg).ObserveLookup(OutcomeFound)

	srv := NewServer(config.PrometheusConfig{}, reg)
	assert.Equal(t, ":9090", srv.Addr)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `speeddial_lookups_total{outcome="found"} 1`))
}
