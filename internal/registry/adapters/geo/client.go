// Package geo adapts an external reference-data service to the pivot
// validator's resolver interface. Lookups are cached, and a circuit breaker
// shields the registry from a flapping upstream: while open, lookups come
// from the cache and the configured fallback only.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"civreg/internal/registry/pivot"
	dErrors "civreg/pkg/domain-errors"
	"civreg/pkg/platform/circuit"
)

// Client resolves city and country codes over HTTP.
type Client struct {
	baseURL  string
	client   *http.Client
	breaker  *circuit.Breaker
	fallback pivot.GeoResolver
	logger   *slog.Logger

	mu        sync.RWMutex
	cities    map[string]pivot.Place
	countries map[string]pivot.Place
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Client) { g.client = c }
}

// WithFallback sets the resolver used while the breaker is open.
func WithFallback(r pivot.GeoResolver) Option {
	return func(g *Client) { g.fallback = r }
}

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Client) { g.logger = l }
}

// New builds a resolver against baseURL.
func New(baseURL string, opts ...Option) *Client {
	g := &Client{
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 5 * time.Second},
		breaker:   circuit.New("geo-reference", circuit.WithFailureThreshold(5), circuit.WithSuccessThreshold(2)),
		cities:    make(map[string]pivot.Place),
		countries: make(map[string]pivot.Place),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CityByCode resolves a birthplace code.
func (g *Client) CityByCode(ctx context.Context, code string) (pivot.Place, error) {
	return g.lookup(ctx, "cities", code, g.cities, func(r pivot.GeoResolver) (pivot.Place, error) {
		return r.CityByCode(ctx, code)
	})
}

// CountryByCode resolves a birth-country code.
func (g *Client) CountryByCode(ctx context.Context, code string) (pivot.Place, error) {
	return g.lookup(ctx, "countries", code, g.countries, func(r pivot.GeoResolver) (pivot.Place, error) {
		return r.CountryByCode(ctx, code)
	})
}

func (g *Client) lookup(
	ctx context.Context,
	kind, code string,
	cache map[string]pivot.Place,
	viaFallback func(pivot.GeoResolver) (pivot.Place, error),
) (pivot.Place, error) {
	g.mu.RLock()
	place, ok := cache[code]
	g.mu.RUnlock()
	if ok {
		return place, nil
	}

	if g.breaker.IsOpen() {
		return g.degraded(kind, code, viaFallback, nil)
	}

	place, err := g.fetch(ctx, kind, code)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			// The upstream answered; an unknown code is not an outage.
			g.breaker.RecordSuccess()
			return pivot.Place{}, err
		}
		if _, change := g.breaker.RecordFailure(); change.Opened {
			g.logEvent(ctx, "geo reference circuit opened", "kind", kind, "error", err)
		}
		return g.degraded(kind, code, viaFallback, err)
	}

	if _, change := g.breaker.RecordSuccess(); change.Closed {
		g.logEvent(ctx, "geo reference circuit closed")
	}
	g.mu.Lock()
	cache[code] = place
	g.mu.Unlock()
	return place, nil
}

func (g *Client) fetch(ctx context.Context, kind, code string) (pivot.Place, error) {
	url := fmt.Sprintf("%s/v1/%s/%s", g.baseURL, kind, code)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return pivot.Place{}, dErrors.Wrap(err, dErrors.CodeInternal, "build geo request")
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return pivot.Place{}, dErrors.Wrap(err, dErrors.CodeInternal, "call geo reference")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return pivot.Place{}, dErrors.Newf(dErrors.CodeNotFound, "unknown %s code %q", kind, code)
	case resp.StatusCode != http.StatusOK:
		return pivot.Place{}, dErrors.Newf(dErrors.CodeInternal, "geo reference returned %d", resp.StatusCode)
	}

	var body struct {
		Code  string `json:"code"`
		Label string `json:"label"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return pivot.Place{}, dErrors.Wrap(err, dErrors.CodeInternal, "decode geo response")
	}
	return pivot.Place{Code: body.Code, Label: body.Label}, nil
}

// degraded serves a lookup without the upstream. The fallback resolver wins
// when configured; otherwise the original error, or not-found, surfaces.
func (g *Client) degraded(
	kind, code string,
	viaFallback func(pivot.GeoResolver) (pivot.Place, error),
	cause error,
) (pivot.Place, error) {
	if g.fallback != nil {
		return viaFallback(g.fallback)
	}
	if cause != nil {
		return pivot.Place{}, cause
	}
	return pivot.Place{}, dErrors.Newf(dErrors.CodeNotFound, "geo reference degraded, %s code %q unresolved", kind, code)
}

func (g *Client) logEvent(ctx context.Context, msg string, attrs ...any) {
	if g.logger != nil {
		g.logger.WarnContext(ctx, msg, attrs...)
	}
}
