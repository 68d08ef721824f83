package pokeapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghuser/pokedex/pkg/config"
	"github.com/ghuser/pokedex/pkg/logger"
	"github.com/ghuser/pokedex/services/pokemon/domain"
	"github.com/ghuser/pokedex/services/pokemon/domain/models"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		BaseURL:     srv.URL,
		Timeout:     2 * time.Second,
		MaxRetries:  3,
		BreakerTrip: 10,
	}, logger.New(&config.Config{LogLevel: "error"}))
	c.retry.InitialDelay = time.Millisecond
	c.retry.MaxDelay = 5 * time.Millisecond
	return c, srv
}

func TestFetchPage(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pokemon", r.URL.Path)
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		assert.Equal(t, "40", r.URL.Query().Get("offset"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count":1302,"next":"x","results":[
			{"name":"bulbasaur","url":"https://pokeapi.co/api/v2/pokemon/1/"},
			{"name":"ivysaur","url":"https://pokeapi.co/api/v2/pokemon/2/"}]}`))
	})

	entries, err := c.FetchPage(context.Background(), 20, 40)
	require.NoError(t, err)
	assert.Equal(t, []models.ListEntry{
		{Name: "bulbasaur", URL: "https://pokeapi.co/api/v2/pokemon/1/"},
		{Name: "ivysaur", URL: "https://pokeapi.co/api/v2/pokemon/2/"},
	}, entries)
}

func TestFetchPage_EmptyResults(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"count":0,"next":null,"results":[]}`))
	})
	entries, err := c.FetchPage(context.Background(), 20, 2000)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFetchDetail(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pokemon/pikachu", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"id": 25, "name": "pikachu",
			"sprites": {"front_default": "https://img/25.png"},
			"types": [{"slot": 1, "type": {"name": "electric"}}],
			"abilities": [{"ability": {"name": "static"}}, {"ability": {"name": "lightning-rod"}}],
			"stats": [{"base_stat": 35, "stat": {"name": "hp"}}, {"base_stat": 90, "stat": {"name": "speed"}}]
		}`))
	})

	d, err := c.FetchDetail(context.Background(), "  Pikachu ")
	require.NoError(t, err)
	assert.Equal(t, &models.Details{
		ID:        25,
		Name:      "Pikachu",
		ImageURL:  "https://img/25.png",
		Types:     []string{"Electric"},
		Abilities: []string{"Static", "Lightning-rod"},
		Stats:     []models.Stat{{Name: "hp", Value: 35}, {Name: "speed", Value: 90}},
	}, d)
}

func TestFetchDetail_MissingSpriteFallsBackToArtwork(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": 7, "name": "squirtle", "sprites": {"front_default": null}}`))
	})
	d, err := c.FetchDetail(context.Background(), "squirtle")
	require.NoError(t, err)
	assert.Contains(t, d.ImageURL, "/official-artwork/7.png")
}

func TestFetchDetail_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "Not Found", http.StatusNotFound)
	})

	_, err := c.FetchDetail(context.Background(), "missingno")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPokemonNotFound)
	var statusErr *domain.RemoteStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchDetail_ServerErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.FetchDetail(context.Background(), "pikachu")
	var statusErr *domain.RemoteStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchPage_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"name":"mew","url":"https://pokeapi.co/api/v2/pokemon/151/"}]}`))
	})

	entries, err := c.FetchPage(context.Background(), 20, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchPage_RetriesExhausted(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.FetchPage(context.Background(), 20, 0)
	var statusErr *domain.RemoteStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.True(t, domain.IsRetryable(err))
}

func TestFetchPage_TransportError(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	_, err := c.FetchPage(context.Background(), 20, 0)
	var transportErr *domain.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.True(t, domain.IsRetryable(err))
}

func TestFetchPage_MalformedBody(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	})
	_, err := c.FetchPage(context.Background(), 20, 0)
	require.Error(t, err)
	assert.False(t, domain.IsRetryable(err))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transport", &domain.TransportError{Op: "x", Err: errors.New("reset")}, true},
		{"server error", &domain.RemoteStatusError{StatusCode: 500}, true},
		{"too many requests", &domain.RemoteStatusError{StatusCode: 429}, true},
		{"not found", &domain.RemoteStatusError{StatusCode: 404}, false},
		{"bad request", &domain.RemoteStatusError{StatusCode: 400}, false},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("decode"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryable(tt.err))
		})
	}
}
