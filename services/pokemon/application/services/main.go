package services

import (
	"context"
	"fmt"

	"github.com/ghuser/pokedex/pkg/app"
	"github.com/ghuser/pokedex/pkg/cache"
	"github.com/ghuser/pokedex/pkg/config"
	"github.com/ghuser/pokedex/pkg/database"
	"github.com/ghuser/pokedex/pkg/httpx"
	"github.com/ghuser/pokedex/pkg/sqlitepool"
	"github.com/ghuser/pokedex/services/pokemon/application/browse"
	"github.com/ghuser/pokedex/services/pokemon/domain/repositories"
	"github.com/ghuser/pokedex/services/pokemon/infrastructure/persistence/memory"
	"github.com/ghuser/pokedex/services/pokemon/infrastructure/persistence/postgres"
	"github.com/ghuser/pokedex/services/pokemon/infrastructure/persistence/sqlite"
	"github.com/ghuser/pokedex/services/pokemon/infrastructure/pokeapi"
)

// Services is the application-layer service container for this bounded context.
// It wires domain services with their infrastructure implementations.
type Services struct {
	Pokemon *PokemonService
	Browse  *browse.Registry
}

// New wires all pokemon application services with infrastructure from the Application container.
func New(a *app.Application) *Services {
	cfg := a.Config
	remote := pokeapi.NewClient(pokeapi.Config{
		BaseURL:     cfg.PokeAPIBaseURL,
		Timeout:     cfg.PokeAPITimeout,
		RatePerSec:  cfg.PokeAPIRatePerSec,
		Burst:       cfg.PokeAPIBurst,
		MaxRetries:  cfg.PokeAPIMaxRetries,
		BreakerTrip: cfg.PokeAPIBreakerTrip,
	}, a.Logger)

	var detailCache DetailCache
	if a.Redis != nil {
		detailCache = cache.NewDetailCache(a.Redis, cfg.DetailCacheTTL)
	}

	svc := NewPokemonService(NewStore(a), remote, detailCache, Config{
		PageSize:         cfg.PageSize,
		MaxItems:         cfg.MaxItems,
		PrefetchDistance: cfg.PrefetchDistance,
		Debounce:         cfg.SearchDebounce,
	}, a.Logger)

	return &Services{
		Pokemon: svc,
		Browse:  browse.NewRegistry(svc.NewRouter, cfg.BrowseSessionTTL, a.Logger),
	}
}

// NewStore picks the local store backend the Application was built with.
func NewStore(a *app.Application) repositories.PokemonStore {
	switch {
	case a.Db != nil:
		var bus postgres.TxPublisher
		if a.EventBus != nil {
			bus = a.EventBus
		}
		return postgres.NewPokemonStore(a.Db, bus)
	case a.SQLite != nil:
		return sqlite.NewPokemonStore(a.SQLite)
	default:
		return memory.NewStore()
	}
}

// OpenLocalStore connects the store backend selected by a.Config.StoreDriver
// and records it on a. The returned func closes it.
func OpenLocalStore(ctx context.Context, a *app.Application) (func(), error) {
	cfg := a.Config
	switch cfg.StoreDriver {
	case config.StorePostgres:
		db, err := database.NewPool(ctx, cfg.DatabaseURL, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		a.Db = db
		a.Logger.Info("database pool connected")
		return func() { _ = db.Close() }, nil
	case config.StoreSQLite:
		pool, err := sqlitepool.Open(sqlitepool.Config{
			Path:      cfg.SQLitePath,
			PoolSize:  cfg.SQLitePool,
			Logger:    a.Logger,
			OnConnect: sqlite.Migrate,
		})
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		a.SQLite = pool
		a.Logger.Info("sqlite store opened", "path", cfg.SQLitePath)
		return func() { _ = pool.Close() }, nil
	case config.StoreMemory:
		a.Logger.Warn("using in-memory store; the cache is lost on exit")
		return func() {}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// StoreHealth returns the health probe for the open store, or nil for the
// in-memory store.
func StoreHealth(a *app.Application) httpx.HealthChecker {
	switch {
	case a.Db != nil:
		return a.Db
	case a.SQLite != nil:
		return a.SQLite
	default:
		return nil
	}
}
