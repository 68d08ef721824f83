// Package pokeapi is the RemoteSource backed by the public PokeAPI.
// Calls are rate limited, retried with backoff on retryable failures and
// guarded by a circuit breaker.
package pokeapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/ghuser/pokedex/pkg/logger"
	"github.com/ghuser/pokedex/pkg/resilience/circuitbreaker"
	"github.com/ghuser/pokedex/pkg/resilience/retry"
	"github.com/ghuser/pokedex/services/pokemon/domain"
	"github.com/ghuser/pokedex/services/pokemon/domain/models"
	"github.com/ghuser/pokedex/services/pokemon/domain/repositories"
	domainsvcs "github.com/ghuser/pokedex/services/pokemon/domain/services"
)

const maxErrorBody = 256

// Config tunes the client.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RatePerSec  float64
	Burst       int
	MaxRetries  int
	BreakerTrip uint32
}

// Client implements repositories.RemoteSource.
type Client struct {
	http    *http.Client
	baseURL string
	limiter *rate.Limiter
	breaker *circuitbreaker.CircuitBreaker
	retry   retry.Config
	log     logger.Logger
}

var _ repositories.RemoteSource = (*Client)(nil)

// NewClient returns a client for cfg.BaseURL.
func NewClient(cfg Config, log logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := max(cfg.Burst, 1)

	log = log.With("component", "pokeapi")
	return &Client{
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		limiter: rate.NewLimiter(limit, burst),
		breaker: circuitbreaker.New(circuitbreaker.PokeAPIConfig(cfg.BreakerTrip), log, isRetryable),
		retry:   retry.RemoteConfig(cfg.MaxRetries, isRetryable),
		log:     log,
	}
}

// FetchPage implements repositories.RemoteSource.
func (c *Client) FetchPage(ctx context.Context, limit, offset int) ([]models.ListEntry, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var resp listResponse
	if err := c.get(ctx, c.retry, "list pokemon", "/pokemon", q, &resp); err != nil {
		return nil, err
	}
	entries := make([]models.ListEntry, len(resp.Results))
	for i, r := range resp.Results {
		entries[i] = models.ListEntry{Name: r.Name, URL: r.URL}
	}
	return entries, nil
}

// FetchDetail implements repositories.RemoteSource. The name is lower-cased
// before the request. Detail lookups make a single attempt; the caller
// decides whether to ask again.
func (c *Client) FetchDetail(ctx context.Context, name string) (*models.Details, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("%w: empty name", domain.ErrPokemonNotFound)
	}

	var resp detailResponse
	if err := c.get(ctx, singleAttempt, "get pokemon", "/pokemon/"+url.PathEscape(key), nil, &resp); err != nil {
		return nil, err
	}
	return toDetails(resp), nil
}

// singleAttempt still passes through the limiter and breaker.
var singleAttempt = retry.Config{MaxAttempts: 1}

func (c *Client) get(ctx context.Context, policy retry.Config, op, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	return retry.WithBackoff(ctx, policy, c.log, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: rate limit wait: %w", op, err)
		}
		_, err := c.breaker.Execute(func() (any, error) {
			return nil, c.do(ctx, op, endpoint, out)
		})
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return &domain.TransportError{Op: op, Err: err}
		}
		return err
	})
}

func (c *Client) do(ctx context.Context, op, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &domain.RemoteStatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

// isRetryable limits retries and breaker failures to transport errors and
// server-side statuses. A 404 is an answer, not an outage.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var transportErr *domain.TransportError
	if errors.As(err, &transportErr) {
		return !errors.Is(err, circuitbreaker.ErrOpen)
	}
	var statusErr *domain.RemoteStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode >= 500:
			return true
		case statusErr.StatusCode == http.StatusTooManyRequests, statusErr.StatusCode == http.StatusRequestTimeout:
			return true
		}
	}
	return false
}

func toDetails(r detailResponse) *models.Details {
	d := &models.Details{
		ID:        r.ID,
		Name:      domainsvcs.DisplayName(r.Name),
		Types:     make([]string, 0, len(r.Types)),
		Abilities: make([]string, 0, len(r.Abilities)),
		Stats:     make([]models.Stat, 0, len(r.Stats)),
	}
	if r.Sprites.FrontDefault != nil {
		d.ImageURL = *r.Sprites.FrontDefault
	} else {
		d.ImageURL = domainsvcs.ArtworkURL(r.ID)
	}
	for _, t := range r.Types {
		d.Types = append(d.Types, domainsvcs.DisplayName(t.Type.Name))
	}
	for _, a := range r.Abilities {
		d.Abilities = append(d.Abilities, domainsvcs.DisplayName(a.Ability.Name))
	}
	for _, s := range r.Stats {
		d.Stats = append(d.Stats, models.Stat{Name: s.Stat.Name, Value: s.BaseStat})
	}
	return d
}
