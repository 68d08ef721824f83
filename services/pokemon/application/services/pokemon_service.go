package services

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	pkgcache "github.com/ghuser/pokedex/pkg/cache"
	"github.com/ghuser/pokedex/pkg/logger"
	"github.com/ghuser/pokedex/services/pokemon/application/paging"
	"github.com/ghuser/pokedex/services/pokemon/domain"
	"github.com/ghuser/pokedex/services/pokemon/domain/models"
	"github.com/ghuser/pokedex/services/pokemon/domain/repositories"
)

// DetailCache is the read-through cache in front of remote detail lookups.
// Get must return an error matching pkgcache.IsMiss on a miss.
type DetailCache interface {
	Get(ctx context.Context, name string) (*pkgcache.CachedDetail, error)
	Set(ctx context.Context, d *pkgcache.CachedDetail) error
	Exists(ctx context.Context, name string) (bool, error)
}

// Config tunes PokemonService.
type Config struct {
	PageSize         int
	MaxItems         int
	PrefetchDistance int
	Debounce         time.Duration
}

// PokemonService is the application entry point for browsing the cached
// catalog and looking up details.
type PokemonService struct {
	store    repositories.PokemonStore
	remote   repositories.RemoteSource
	mediator *paging.RemoteMediator
	cache    DetailCache
	pager    paging.PagerConfig
	router   paging.RouterConfig
	log      logger.Logger
}

// NewPokemonService wires a service over store and remote. cache may be nil.
func NewPokemonService(store repositories.PokemonStore, remote repositories.RemoteSource, cache DetailCache, cfg Config, log logger.Logger) *PokemonService {
	if cfg.PageSize <= 0 {
		cfg.PageSize = paging.DefaultPageSize
	}
	return &PokemonService{
		store:    store,
		remote:   remote,
		mediator: paging.NewRemoteMediator(remote, store, paging.MediatorConfig{MaxItems: cfg.MaxItems}, log),
		cache:    cache,
		pager:    paging.PagerConfig{PageSize: cfg.PageSize, PrefetchDistance: cfg.PrefetchDistance},
		router:   paging.RouterConfig{Debounce: cfg.Debounce},
		log:      log.With("component", "pokemon_service"),
	}
}

// NewRouter returns an unstarted query router: a blank query browses the
// remote-backed catalog, anything else searches the local cache only.
func (s *PokemonService) NewRouter() *paging.Router {
	factory := paging.RemoteWhenBlank(s.store, s.mediator, s.pager, s.log)
	return paging.NewRouter(factory, s.router, s.log)
}

// Count returns the number of cached Pokemon.
func (s *PokemonService) Count(ctx context.Context) (int, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count pokemon: %w", err)
	}
	return n, nil
}

// Details returns the details for name using a read-through cache:
//  1. Check the cache first.
//  2. On miss (or cache error), call the remote catalog.
//  3. Write the remote result back to the cache.
func (s *PokemonService) Details(ctx context.Context, name string) (*models.Details, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", domain.ErrInvalidQuery)
	}

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, name)
		if err == nil {
			return fromCached(cached), nil
		}
		if !pkgcache.IsMiss(err) {
			s.log.WarnContext(ctx, "detail cache read failed", "name", name, "error", err)
		}
	}

	d, err := s.remote.FetchDetail(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get details: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, toCached(d)); err != nil {
			s.log.WarnContext(ctx, "detail cache write failed", "name", name, "error", err)
		}
	}
	return d, nil
}

// Lookup resolves name into a terminal DetailResult.
func (s *PokemonService) Lookup(ctx context.Context, name string) DetailResult {
	d, err := s.Details(ctx, name)
	if err != nil {
		return NewDetailError(err)
	}
	return DetailSuccess{Details: *d}
}

// WatchDetails emits DetailLoading, then the terminal result, then closes.
func (s *PokemonService) WatchDetails(ctx context.Context, name string) <-chan DetailResult {
	out := make(chan DetailResult, 2)
	out <- DetailLoading{}
	go func() {
		defer close(out)
		out <- s.Lookup(ctx, name)
	}()
	return out
}

// WarmResult counts the outcome of WarmDetails.
type WarmResult struct {
	Fetched int
	Skipped int
	Failed  int
}

// WarmDetails fills the detail cache for names, at most limit lookups at a
// time. Individual failures are logged and counted; only cancellation of ctx
// is returned as an error.
func (s *PokemonService) WarmDetails(ctx context.Context, names []string, limit int) (WarmResult, error) {
	if s.cache == nil || len(names) == 0 {
		return WarmResult{Skipped: len(names)}, nil
	}
	if limit <= 0 {
		limit = 4
	}

	var fetched, skipped, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ok, err := s.cache.Exists(gctx, name)
			if err == nil && ok {
				skipped.Add(1)
				return nil
			}
			if _, err := s.Details(gctx, name); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.log.WarnContext(gctx, "detail warm failed", "name", name, "error", err)
				failed.Add(1)
				return nil
			}
			fetched.Add(1)
			return nil
		})
	}
	err := g.Wait()
	res := WarmResult{Fetched: int(fetched.Load()), Skipped: int(skipped.Load()), Failed: int(failed.Load())}
	if err != nil {
		return res, fmt.Errorf("warm details: %w", err)
	}
	return res, nil
}

func toCached(d *models.Details) *pkgcache.CachedDetail {
	stats := make([]pkgcache.CachedStat, len(d.Stats))
	for i, st := range d.Stats {
		stats[i] = pkgcache.CachedStat{Name: st.Name, Value: st.Value}
	}
	return &pkgcache.CachedDetail{
		ID:        d.ID,
		Name:      d.Name,
		ImageURL:  d.ImageURL,
		Types:     d.Types,
		Abilities: d.Abilities,
		Stats:     stats,
	}
}

func fromCached(c *pkgcache.CachedDetail) *models.Details {
	stats := make([]models.Stat, len(c.Stats))
	for i, st := range c.Stats {
		stats[i] = models.Stat{Name: st.Name, Value: st.Value}
	}
	return &models.Details{
		ID:        c.ID,
		Name:      c.Name,
		ImageURL:  c.ImageURL,
		Types:     c.Types,
		Abilities: c.Abilities,
		Stats:     stats,
	}
}
