package app

import (
	"github.com/gorilla/sessions"

	"github.com/ghuser/pokedex/pkg/cache"
	"github.com/ghuser/pokedex/pkg/config"
	"github.com/ghuser/pokedex/pkg/database"
	"github.com/ghuser/pokedex/pkg/events"
	"github.com/ghuser/pokedex/pkg/logger"
	"github.com/ghuser/pokedex/pkg/sqlitepool"
	"github.com/ghuser/pokedex/pkg/workflows"
)

// Application holds shared infrastructure dependencies for all services.
// Pass it to every service's route registration during server initialization.
//
// Exactly one local store backend is set: Db for StorePostgres, SQLite for
// StoreSQLite, neither for StoreMemory.
//
// Logging: app.Logger is backed by a trace-aware handler. Use slog's context
// methods and trace_id, span_id and request_id are injected automatically:
//
//	app.Logger.InfoContext(ctx, "page merged", "page", page)
//	app.Logger.ErrorContext(ctx, "merge failed", "error", err)
//
// Use app.Logger.Info/Error (no context) only for startup and shutdown messages.
type Application struct {
	Config         *config.Config
	Db             *database.Database
	SQLite         *sqlitepool.Pool
	Logger         logger.Logger
	EventBus       *events.EventBus   // nil unless the store is Postgres
	Redis          *cache.RedisClient // nil disables the detail cache
	TemporalClient *workflows.TemporalClient
	SessionStore   sessions.Store // Redis-backed session store; nil in worker process
}
