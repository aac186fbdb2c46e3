// Package source pulls one upstream each and normalizes the result into a
// storage.SourcePayload. Parsing is kept in plain functions over goquery
// documents or decoded JSON so layouts can be regression tested against
// recorded fixtures.
package source

import (
	"context"
	"fmt"
	"sort"
	"time"

	"chain-tracker/internal/config"
	"chain-tracker/internal/fetcher"
	"chain-tracker/internal/storage"
)

// Source identifiers, also used as snapshot file names.
const (
	DolarHoyID = "fx_rates_dolarhoy"
	BCRAID     = "bcra_reserves"
	FREDID     = "fred_us_yields"
)

// Source pulls a single upstream. Pull never returns an error: failures are
// reported through the payload status and errors.
type Source interface {
	ID() string
	Name() string
	Pull(ctx context.Context) storage.SourcePayload
}

// Clock returns the current time.
type Clock func() time.Time

// Deps are the collaborators shared by every source.
type Deps struct {
	Documents fetcher.DocumentFetcher
	JSON      fetcher.JSONFetcher
	Now       Clock
}

func (d Deps) now() time.Time {
	if d.Now == nil {
		return time.Now().UTC()
	}
	return d.Now().UTC()
}

// Factory builds a source from configuration. It reports false when the
// source is disabled.
type Factory func(cfg config.SourcesConfig, deps Deps) (Source, bool)

type registration struct {
	id      string
	factory Factory
}

// registry lists sources in pull order.
var registry = []registration{
	{id: FREDID, factory: func(cfg config.SourcesConfig, deps Deps) (Source, bool) {
		if !cfg.FRED.Enabled {
			return nil, false
		}
		return NewFRED(cfg.FRED, deps), true
	}},
	{id: BCRAID, factory: func(cfg config.SourcesConfig, deps Deps) (Source, bool) {
		if !cfg.BCRA.Enabled {
			return nil, false
		}
		return NewBCRA(cfg.BCRA, deps), true
	}},
	{id: DolarHoyID, factory: func(cfg config.SourcesConfig, deps Deps) (Source, bool) {
		if !cfg.DolarHoy.Enabled {
			return nil, false
		}
		return NewDolarHoy(cfg.DolarHoy, deps), true
	}},
}

// IDs lists every registered source identifier.
func IDs() []string {
	ids := make([]string, 0, len(registry))
	for _, r := range registry {
		ids = append(ids, r.id)
	}
	return ids
}

// Select builds the enabled sources. With ids given, only those are built and
// an unknown or disabled id is an error.
func Select(cfg config.SourcesConfig, deps Deps, ids ...string) ([]Source, error) {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	filter := len(ids) > 0
	var out []Source
	for _, r := range registry {
		if filter && !wanted[r.id] {
			continue
		}
		src, ok := r.factory(cfg, deps)
		if !ok {
			if wanted[r.id] {
				return nil, fmt.Errorf("source %s is disabled", r.id)
			}
			continue
		}
		out = append(out, src)
		delete(wanted, r.id)
	}
	if len(wanted) > 0 {
		unknown := make([]string, 0, len(wanted))
		for id := range wanted {
			unknown = append(unknown, id)
		}
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown sources: %v", unknown)
	}
	return out, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
