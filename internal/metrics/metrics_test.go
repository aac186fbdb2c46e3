package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservePull(t *testing.T) {
	r := New()
	r.ObservePull("bcra_reserves", "ok", 2*time.Second)
	r.ObservePull("bcra_reserves", "ok", time.Second)
	r.ObservePull("fred_us_yields", "error", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.PullsTotal.WithLabelValues("bcra_reserves", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.PullsTotal.WithLabelValues("fred_us_yields", "error")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.PullDuration))
}

func TestGenerationAndLayers(t *testing.T) {
	r := New()
	at := time.Date(2026, 10, 18, 22, 0, 0, 0, time.UTC)
	r.ObserveGeneration(nil, at)
	r.ObserveGeneration(errors.New("boom"), at)
	r.SetLayer("Markets", 1)
	r.ObserveNotification(nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.Generations.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Generations.WithLabelValues("error")))
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(r.LastGeneratedAt))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.LayerStatus.WithLabelValues("Markets")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Notifications.WithLabelValues("sent")))
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.ObservePull("x", "ok", time.Second)
		r.SetLayer("Global", 2)
		r.ObserveGeneration(nil, time.Now())
		r.ObserveNotification(errors.New("x"))
	})
}

func TestHandlerServesText(t *testing.T) {
	r := New()
	r.ObservePull("fx_rates_dolarhoy", "partial", time.Second)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `chaintracker_source_pulls_total{source="fx_rates_dolarhoy",status="partial"} 1`))
}

func TestRouter(t *testing.T) {
	r := New()
	r.SetLayer("Global", 1)
	router := NewRouter(r, "/custom")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/custom", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `chaintracker_layer_status{layer="Global"} 1`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/custom", nil))
	assert.Equal(t, 405, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestGathererExposesCollectors(t *testing.T) {
	r := New()
	r.ObservePull("bcra_reserves", "ok", time.Second)
	r.ObservePull("fred_us_yields", "error", time.Second)

	count, err := testutil.GatherAndCount(r.Gatherer(), "chaintracker_source_pulls_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
