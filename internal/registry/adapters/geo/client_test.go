package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civreg/internal/registry/pivot"
	dErrors "civreg/pkg/domain-errors"
)

func newReferenceServer(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		switch r.URL.Path {
		case "/v1/cities/75056":
			_, _ = w.Write([]byte(`{"code":"75056","label":"Paris"}`))
		case "/v1/countries/250":
			_, _ = w.Write([]byte(`{"code":"250","label":"France"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientResolvesAndCaches(t *testing.T) {
	var calls atomic.Int64
	srv := newReferenceServer(t, &calls)
	client := New(srv.URL)

	place, err := client.CityByCode(context.Background(), "75056")
	require.NoError(t, err)
	assert.Equal(t, "Paris", place.Label)

	_, err = client.CityByCode(context.Background(), "75056")
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load(), "second lookup is served from cache")

	country, err := client.CountryByCode(context.Background(), "250")
	require.NoError(t, err)
	assert.Equal(t, "France", country.Label)
}

func TestClientUnknownCodeIsNotFound(t *testing.T) {
	srv := newReferenceServer(t, nil)
	client := New(srv.URL)

	_, err := client.CityByCode(context.Background(), "00000")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestClientFallsBackWhenBreakerOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	fallback := &pivot.StaticGeo{
		Countries: map[string]pivot.Place{"250": {Code: "250", Label: "France"}},
	}
	client := New(srv.URL, WithFallback(fallback))

	// Every failed call falls through to the fallback; after enough failures
	// the breaker opens and the upstream is no longer consulted.
	for range 6 {
		place, err := client.CountryByCode(context.Background(), "250")
		require.NoError(t, err)
		assert.Equal(t, "France", place.Label)
	}

	srv.Close()
	place, err := client.CountryByCode(context.Background(), "250")
	require.NoError(t, err)
	assert.Equal(t, "France", place.Label)
}

func TestClientWithoutFallbackSurfacesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	client := New(srv.URL)
	_, err := client.CountryByCode(context.Background(), "250")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
}
