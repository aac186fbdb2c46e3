package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chain-tracker/internal/config"
	"chain-tracker/internal/storage"
)

var fredResponses = map[string]string{
	"DGS2":  `{"observations":[{"date":"2026-10-16","value":"."},{"date":"2026-10-15","value":"3.51"}]}`,
	"DGS10": `{"observations":[{"date":"2026-10-16","value":"4.52"},{"date":"2026-10-15","value":"4.53"}]}`,
	"DGS30": `{"observations":[]}`,
}

func fredServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("api_key") != "test-key" || q.Get("sort_order") != "desc" || q.Get("limit") != "10" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error_message":"bad query"}`))
			return
		}
		body, ok := fredResponses[q.Get("series_id")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func fredConfig(url, key string) config.FREDSourceConfig {
	return config.FREDSourceConfig{
		Enabled: true,
		URL:     url,
		APIKey:  key,
		Limit:   10,
		Series: map[string]string{
			"dgs2":  FieldUS2Y,
			"dgs10": FieldUS10Y,
			"dgs30": FieldUS30Y,
		},
	}
}

func TestFREDPull(t *testing.T) {
	srv := fredServer(t)
	p := NewFRED(fredConfig(srv.URL, "test-key"), testDeps()).Pull(context.Background())

	assert.Equal(t, FREDID, p.SourceID)
	assert.Equal(t, storage.StatusPartial, p.Status)
	assert.Equal(t, 3.51, value(t, p, FieldUS2Y))
	assert.Equal(t, 4.52, value(t, p, FieldUS10Y))
	assert.Nil(t, p.Value(FieldUS30Y))
	assert.Equal(t, []string{"DGS30 observations list is empty"}, p.Errors)
	assert.Equal(t, "2026-10-16", p.DataDate)
	assert.Equal(t, 2, strings.Count(p.RawSnippet, snippetSeparator))
}

func TestFREDMissingAPIKey(t *testing.T) {
	p := NewFRED(fredConfig("http://127.0.0.1:1", ""), testDeps()).Pull(context.Background())

	assert.Equal(t, storage.StatusError, p.Status)
	assert.Equal(t, []string{"FRED_API_KEY not configured"}, p.Errors)
	assert.Len(t, p.Data, 3)
}

func TestFREDRequestFailureRedactsKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := fredConfig(srv.URL, "super-secret")
	cfg.Series = map[string]string{"dgs10": FieldUS10Y}
	p := NewFRED(cfg, testDeps()).Pull(context.Background())

	assert.Equal(t, storage.StatusError, p.Status)
	require.Len(t, p.Errors, 1)
	assert.True(t, strings.HasPrefix(p.Errors[0], "DGS10 request failed"))
	assert.NotContains(t, p.Errors[0], "super-secret")
}

func TestFREDInvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer srv.Close()

	cfg := fredConfig(srv.URL, "k")
	cfg.Series = map[string]string{"dgs2": FieldUS2Y}
	p := NewFRED(cfg, testDeps()).Pull(context.Background())

	require.Len(t, p.Errors, 1)
	assert.True(t, strings.HasPrefix(p.Errors[0], "DGS2 invalid JSON response"))
	assert.Equal(t, "<html>maintenance</html>", p.RawSnippet)
}

func TestLatestObservation(t *testing.T) {
	obs, err := latestObservation("DGS10", []Observation{
		{Date: "2026-10-16", Value: "."},
		{Date: "2026-10-15", Value: "n/a"},
		{Date: "2026-10-14", Value: "4.125"},
	})
	require.NoError(t, err)
	assert.Equal(t, "2026-10-14", obs.date)
	assert.Equal(t, 4.125, obs.value)

	_, err = latestObservation("DGS10", []Observation{{Date: "2026-10-16", Value: "."}})
	assert.EqualError(t, err, "DGS10 has no numeric observation in returned window")
}

func TestFREDSeriesOrder(t *testing.T) {
	src := NewFRED(fredConfig("", "k"), testDeps())
	assert.Equal(t, []string{FieldUS2Y, FieldUS10Y, FieldUS30Y}, src.fields())
}
