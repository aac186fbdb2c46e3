package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"chain-tracker/internal/extract"
)

const (
	defaultUserAgent    = "ArgentinaChainTracker/1.0"
	defaultTimeout      = 25 * time.Second
	defaultMaxBodyBytes = 8 << 20
)

// ErrBodyTooLarge is returned when a response exceeds MaxBodyBytes.
var ErrBodyTooLarge = errors.New("response body too large")

// Options parameterise the shared HTTP client.
type Options struct {
	Timeout         time.Duration
	UserAgent       string
	RatePerSecond   float64
	Burst           int
	BreakerFailures uint32
	BreakerCooldown time.Duration
	MaxBodyBytes    int64
}

// HTTPError reports a non-200 upstream response.
type HTTPError struct {
	URL        string
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d from %s: %s", e.StatusCode, e.URL, e.Message)
	}
	return fmt.Sprintf("http %d from %s", e.StatusCode, e.URL)
}

// Client performs rate limited GET requests guarded by a per-host circuit
// breaker.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// New constructs a fetch client.
func New(opts Options, logger zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 3
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = time.Minute
	}

	limit := rate.Inf
	burst := opts.Burst
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
	}

	return &Client{
		opts:     opts,
		logger:   logger.With().Str("component", "fetcher").Logger(),
		client:   &http.Client{Timeout: opts.Timeout},
		limiter:  rate.NewLimiter(limit, burst),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

type response struct {
	body        []byte
	contentType string
}

// FetchDocument downloads rawURL and parses it as HTML. Bodies declared in a
// legacy charset (BCRA serves ISO-8859-1) are transcoded to UTF-8 first.
func (c *Client) FetchDocument(ctx context.Context, rawURL string) (*Document, error) {
	resp, err := c.get(ctx, rawURL, "text/html,application/xhtml+xml")
	if err != nil {
		return nil, err
	}
	reader, err := charset.NewReader(bytes.NewReader(resp.body), resp.contentType)
	if err != nil {
		return nil, fmt.Errorf("detect charset: %w", err)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("transcode body: %w", err)
	}
	doc, err := extract.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{Doc: doc, Body: body}, nil
}

// FetchJSON downloads rawURL with query appended and decodes the body into out.
func (c *Client) FetchJSON(ctx context.Context, rawURL string, query url.Values, out any) ([]byte, error) {
	endpoint := rawURL
	if len(query) > 0 {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse url: %w", err)
		}
		q := u.Query()
		for key, values := range query {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}

	resp, err := c.get(ctx, endpoint, "application/json")
	if err != nil {
		return nil, err
	}
	body := resp.body
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return body, fmt.Errorf("decode json: %w", err)
		}
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, rawURL, accept string) (*response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := c.breaker(u.Host).Execute(func() (interface{}, error) {
		return c.do(ctx, rawURL, accept)
	})
	if err != nil {
		c.logger.Debug().Err(err).Str("host", u.Host).Msg("fetch failed")
		return nil, err
	}
	return result.(*response), nil
}

func (c *Client) do(ctx context.Context, rawURL, accept string) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", c.opts.UserAgent)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(payload)) > c.opts.MaxBodyBytes {
		return nil, ErrBodyTooLarge
	}

	c.logger.Debug().
		Str("url", logURL(req.URL)).
		Int("status", resp.StatusCode).
		Int("bytes", len(payload)).
		Dur("elapsed", time.Since(start)).
		Msg("fetched")

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(rawURL, resp.StatusCode, payload)
	}
	return &response{body: payload, contentType: resp.Header.Get("Content-Type")}, nil
}

func (c *Client) breaker(host string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[host]; ok {
		return cb
	}
	failures := c.opts.BreakerFailures
	settings := gobreaker.Settings{
		Name:     host,
		Interval: c.opts.BreakerCooldown,
		Timeout:  c.opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// 4xx means the upstream answered; only transport and 5xx count.
		IsSuccessful: func(err error) bool {
			var httpErr *HTTPError
			if errors.As(err, &httpErr) {
				return httpErr.StatusCode < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().Str("host", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	}
	cb := gobreaker.NewCircuitBreaker(settings)
	c.breakers[host] = cb
	return cb
}

type errorResponse struct {
	ErrorMessage string `json:"error_message"`
	Message      string `json:"message"`
	Description  string `json:"description"`
}

func parseHTTPError(rawURL string, status int, payload []byte) error {
	httpErr := &HTTPError{URL: rawURL, StatusCode: status}
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		switch {
		case apiErr.ErrorMessage != "":
			httpErr.Message = apiErr.ErrorMessage
		case apiErr.Description != "":
			httpErr.Message = apiErr.Description
		case apiErr.Message != "":
			httpErr.Message = apiErr.Message
		}
		if httpErr.Message != "" {
			return httpErr
		}
	}
	if text := strings.TrimSpace(string(payload)); text != "" && len(text) <= 200 {
		httpErr.Message = text
	}
	return httpErr
}

var (
	_ DocumentFetcher = (*Client)(nil)
	_ JSONFetcher     = (*Client)(nil)
)

// logURL drops the query, which may carry credentials such as the FRED key.
func logURL(u *url.URL) string {
	return u.Scheme + "://" + u.Host + u.Path
}
