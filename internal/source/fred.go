package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"chain-tracker/internal/config"
	"chain-tracker/internal/storage"
)

// FRED yield fields.
const (
	FieldUS2Y  = "us_2y_yield"
	FieldUS10Y = "us_10y_yield"
	FieldUS30Y = "us_30y_yield"
)

const (
	fredMissingValue = "."
	snippetSeparator = "\n---\n"
)

// ErrMissingAPIKey aborts the FRED pull before any request is made.
var ErrMissingAPIKey = errors.New("FRED_API_KEY not configured")

// SeriesField maps a FRED series id to its payload field.
type SeriesField struct {
	SeriesID string
	Field    string
}

// Observation is one row of the FRED observations endpoint.
type Observation struct {
	Date  string `json:"date"`
	Value string `json:"value"`
}

type observationsResponse struct {
	Observations []Observation `json:"observations"`
}

// FRED pulls U.S. Treasury constant-maturity yields.
type FRED struct {
	cfg    config.FREDSourceConfig
	series []SeriesField
	deps   Deps
}

// NewFRED constructs the FRED source from its series map.
func NewFRED(cfg config.FREDSourceConfig, deps Deps) *FRED {
	series := make([]SeriesField, 0, len(cfg.Series))
	for id, field := range cfg.Series {
		series = append(series, SeriesField{SeriesID: strings.ToUpper(id), Field: field})
	}
	// shorter ids first so DGS2 precedes DGS10
	sort.Slice(series, func(i, j int) bool {
		a, b := series[i].SeriesID, series[j].SeriesID
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return a < b
	})
	if cfg.Limit <= 0 {
		cfg.Limit = 10
	}
	return &FRED{cfg: cfg, series: series, deps: deps}
}

func (s *FRED) ID() string   { return FREDID }
func (s *FRED) Name() string { return "FRED U.S. Treasury Yields" }

func (s *FRED) fields() []string {
	out := make([]string, 0, len(s.series))
	for _, sf := range s.series {
		out = append(out, sf.Field)
	}
	return out
}

// Pull requests each series in turn. A failing series is recorded and the
// others still proceed.
func (s *FRED) Pull(ctx context.Context) storage.SourcePayload {
	b := NewBuilder(FREDID, s.deps.now(), s.fields())
	if strings.TrimSpace(s.cfg.APIKey) == "" {
		return b.Fail(ErrMissingAPIKey).Build()
	}

	ctx, cancel := withTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var (
		snippets []string
		latest   string
	)
	for _, sf := range s.series {
		query := url.Values{
			"series_id":  {sf.SeriesID},
			"api_key":    {s.cfg.APIKey},
			"file_type":  {"json"},
			"sort_order": {"desc"},
			"limit":      {strconv.Itoa(s.cfg.Limit)},
		}
		var resp observationsResponse
		body, err := s.deps.JSON.FetchJSON(ctx, s.cfg.URL, query, &resp)
		if len(body) > 0 {
			snippets = append(snippets, storage.TruncateSnippet(string(body)))
		}
		if err != nil {
			if len(body) > 0 {
				b.Missing(sf.Field, fmt.Errorf("%s invalid JSON response: %v", sf.SeriesID, err))
			} else {
				b.Missing(sf.Field, fmt.Errorf("%s request failed: %v", sf.SeriesID, redactKey(err, s.cfg.APIKey)))
			}
			continue
		}

		obs, err := latestObservation(sf.SeriesID, resp.Observations)
		if err != nil {
			b.Missing(sf.Field, err)
			continue
		}
		b.Set(sf.Field, &obs.value, "")
		if obs.date > latest {
			latest = obs.date
		}
	}

	if latest != "" {
		b.DataDate(latest)
	}
	return b.Snippet(strings.Join(snippets, snippetSeparator)).Build()
}

type observation struct {
	date  string
	value float64
}

// latestObservation returns the first observation, in response order, whose
// value is neither the "." placeholder nor unparseable.
func latestObservation(seriesID string, observations []Observation) (observation, error) {
	if len(observations) == 0 {
		return observation{}, fmt.Errorf("%s observations list is empty", seriesID)
	}
	for _, o := range observations {
		raw := strings.TrimSpace(o.Value)
		if raw == "" || raw == fredMissingValue {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			continue
		}
		return observation{date: o.Date, value: d.InexactFloat64()}, nil
	}
	return observation{}, fmt.Errorf("%s has no numeric observation in returned window", seriesID)
}

// The key travels in the query string, so transport errors quote it.
func redactKey(err error, key string) string {
	msg := err.Error()
	if key == "" {
		return msg
	}
	return strings.ReplaceAll(msg, key, "REDACTED")
}
