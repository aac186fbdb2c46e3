package fetcher

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestFetchDocumentSendsUserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "ArgentinaChainTracker/1.0" {
			t.Errorf("unexpected user agent %q", got)
		}
		_, _ = w.Write([]byte(`<html><body><div class="tile">Dólar blue 1.280</div></body></html>`))
	}))
	defer srv.Close()

	c := New(Options{Timeout: time.Second}, noopLogger())
	doc, err := c.FetchDocument(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch document: %v", err)
	}
	if got := doc.Doc.Find("div.tile").Text(); got != "Dólar blue 1.280" {
		t.Fatalf("unexpected tile text %q", got)
	}
	if !strings.Contains(string(doc.Body), "tile") {
		t.Fatal("raw body should be retained")
	}
}

func TestFetchDocumentTranscodesLatin1(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		_, _ = w.Write([]byte("<html><body><table><tr><td>Reservas Internacionales del BCRA (en millones de d\xf3lares)</td></tr></table></body></html>"))
	}))
	defer srv.Close()

	c := New(Options{Timeout: time.Second}, noopLogger())
	doc, err := c.FetchDocument(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch document: %v", err)
	}
	if got := doc.Doc.Find("td").Text(); !strings.Contains(got, "dólares") {
		t.Fatalf("expected transcoded text, got %q", got)
	}
}

func TestFetchJSONAppendsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("series_id") != "DGS10" || r.URL.Query().Get("file_type") != "json" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"observations":[{"date":"2026-10-16","value":"4.12"}]}`))
	}))
	defer srv.Close()

	var out struct {
		Observations []struct {
			Date  string `json:"date"`
			Value string `json:"value"`
		} `json:"observations"`
	}
	c := New(Options{Timeout: time.Second}, noopLogger())
	query := url.Values{"series_id": {"DGS10"}, "file_type": {"json"}}
	if _, err := c.FetchJSON(context.Background(), srv.URL+"/fred/series/observations", query, &out); err != nil {
		t.Fatalf("fetch json: %v", err)
	}
	if len(out.Observations) != 1 || out.Observations[0].Value != "4.12" {
		t.Fatalf("unexpected observations %+v", out.Observations)
	}
}

func TestFetchLogOmitsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"observations":[]}`))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	c := New(Options{Timeout: time.Second}, zerolog.New(&buf).Level(zerolog.DebugLevel))
	query := url.Values{"series_id": {"DGS10"}, "api_key": {"secret-key"}}
	var out map[string]any
	if _, err := c.FetchJSON(context.Background(), srv.URL+"/fred/series/observations", query, &out); err != nil {
		t.Fatalf("fetch json: %v", err)
	}

	logged := buf.String()
	if !strings.Contains(logged, "/fred/series/observations") {
		t.Fatalf("expected fetched path in log, got %q", logged)
	}
	if strings.Contains(logged, "secret-key") || strings.Contains(logged, "api_key") {
		t.Fatalf("query leaked into log: %q", logged)
	}
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error_code":400,"error_message":"Bad Request. The value for variable api_key is not registered."}`))
	}))
	defer srv.Close()

	c := New(Options{Timeout: time.Second}, noopLogger())
	_, err := c.FetchJSON(context.Background(), srv.URL, nil, nil)

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", httpErr.StatusCode)
	}
	if !strings.Contains(httpErr.Message, "api_key") {
		t.Fatalf("expected api message, got %q", httpErr.Message)
	}
}

func TestBreakerOpensAfterServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(Options{Timeout: time.Second, BreakerFailures: 2, BreakerCooldown: time.Minute}, noopLogger())
	for i := 0; i < 2; i++ {
		if _, err := c.FetchDocument(context.Background(), srv.URL); err == nil {
			t.Fatal("502 should fail")
		}
	}

	_, err := c.FetchDocument(context.Background(), srv.URL)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Fatalf("open breaker should short-circuit, server saw %d hits", got)
	}
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Options{Timeout: time.Second, BreakerFailures: 1}, noopLogger())
	for i := 0; i < 3; i++ {
		_, err := c.FetchDocument(context.Background(), srv.URL)
		var httpErr *HTTPError
		if !errors.As(err, &httpErr) {
			t.Fatalf("attempt %d: expected HTTPError, got %v", i, err)
		}
	}
}

func TestBodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	c := New(Options{Timeout: time.Second, MaxBodyBytes: 16}, noopLogger())
	if _, err := c.FetchDocument(context.Background(), srv.URL); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(Options{RatePerSecond: 1}, noopLogger())
	if _, err := c.FetchDocument(ctx, "http://127.0.0.1:1/"); err == nil {
		t.Fatal("canceled context should fail")
	}
}
