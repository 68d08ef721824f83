// Package sqlitepool provides a fixed-size pool of SQLite connections with
// WAL pragmas applied to every connection, for the embedded local store.
package sqlitepool

import (
	"context"
	"fmt"
	"runtime"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/ghuser/pokedex/pkg/logger"
)

// Config holds the parameters for opening a pool.
type Config struct {
	// Path is the database file. It is created if missing. ":memory:"
	// requires PoolSize 1 since each in-memory connection is independent.
	Path string

	// PoolSize defaults to max(runtime.NumCPU(), 4).
	PoolSize int

	// Logger is required.
	Logger logger.Logger

	// OnConnect runs once per connection after the pragmas, typically to
	// create the schema.
	OnConnect func(conn *sqlite.Conn) error
}

// Pool wraps sqlitex.Pool. It is safe for concurrent use; connections are not.
type Pool struct {
	inner *sqlitex.Pool
	log   logger.Logger
	path  string
}

// Open creates the pool. Connections are initialized lazily on first Take.
func Open(cfg Config) (*Pool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitepool: Path is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("sqlitepool: Logger is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = max(runtime.NumCPU(), 4)
	}

	inner, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConnection(conn, cfg.OnConnect)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", cfg.Path, err)
	}

	log := cfg.Logger.With("component", "sqlitepool", "path", cfg.Path)
	log.Info("sqlite pool opened", "pool_size", poolSize)
	return &Pool{inner: inner, log: log, path: cfg.Path}, nil
}

// Take borrows a connection. The caller must Put it back.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection to the pool. Safe to call with nil.
func (p *Pool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// Read borrows a connection for fn and returns it afterwards.
func (p *Pool) Read(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := p.Take(ctx)
	if err != nil {
		return err
	}
	defer p.Put(conn)
	return fn(conn)
}

// WithImmediateTx runs fn inside a BEGIN IMMEDIATE transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
func (p *Pool) WithImmediateTx(ctx context.Context, fn func(conn *sqlite.Conn) error) (err error) {
	conn, err := p.Take(ctx)
	if err != nil {
		return err
	}
	defer p.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlitepool: begin transaction: %w", err)
	}
	// endFn inspects err: a non-nil value rolls back.
	defer endFn(&err)

	err = fn(conn)
	return err
}

// Ping borrows a connection and runs a trivial query.
func (p *Pool) Ping(ctx context.Context) error {
	return p.Read(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.ExecuteTransient(conn, "SELECT 1", nil); err != nil {
			return fmt.Errorf("sqlitepool: ping: %w", err)
		}
		return nil
	})
}

// Close closes all connections, blocking until borrowed ones are returned.
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		p.log.Error("sqlite pool close error", "error", err)
		return fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
	}
	p.log.Info("sqlite pool closed")
	return nil
}

func prepareConnection(conn *sqlite.Conn, onConnect func(*sqlite.Conn) error) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitepool: %s: %w", pragma, err)
		}
	}
	if onConnect != nil {
		if err := onConnect(conn); err != nil {
			return fmt.Errorf("sqlitepool: OnConnect: %w", err)
		}
	}
	return nil
}
