// Package sqlite is the embedded PokemonStore for single-process use, backed
// by zombiezen.com/go/sqlite through pkg/sqlitepool.
package sqlite

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/ghuser/pokedex/pkg/logger"
	"github.com/ghuser/pokedex/pkg/sqlitepool"
	"github.com/ghuser/pokedex/services/pokemon/domain"
	"github.com/ghuser/pokedex/services/pokemon/domain/models"
	"github.com/ghuser/pokedex/services/pokemon/domain/repositories"
)

// schemaVersion is stored in PRAGMA user_version. The database is a
// disposable cache, so an older file is dropped and rebuilt.
const schemaVersion = 2

const dropSchema = `
DROP TABLE IF EXISTS pokemon;
DROP TABLE IF EXISTS pokemon_page_cursor;
DROP TABLE IF EXISTS page_merge_log;
`

const schema = `
CREATE TABLE IF NOT EXISTS pokemon (
	id          INTEGER PRIMARY KEY,
	name        TEXT NOT NULL,
	search_name TEXT NOT NULL,
	image_url   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS pokemon_page_cursor (
	pokemon_id INTEGER PRIMARY KEY,
	prev_page  INTEGER,
	next_page  INTEGER
);
CREATE TABLE IF NOT EXISTS page_merge_log (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	page        INTEGER NOT NULL,
	refresh     INTEGER NOT NULL,
	end_reached INTEGER NOT NULL,
	item_count  INTEGER NOT NULL,
	merged_at   INTEGER NOT NULL
);
`

// Config for Open.
type Config struct {
	Path     string
	PoolSize int
	Logger   logger.Logger
}

// PokemonStore implements repositories.PokemonStore on SQLite.
type PokemonStore struct {
	pool *sqlitepool.Pool
	now  func() time.Time
}

var _ repositories.PokemonStore = (*PokemonStore)(nil)

// Migrate brings the schema on conn to schemaVersion. Pass it as
// sqlitepool.Config.OnConnect.
func Migrate(conn *sqlite.Conn) (err error) {
	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer endFn(&err)

	var version int
	err = sqlitex.ExecuteTransient(conn, "PRAGMA user_version", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			version = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version == schemaVersion {
		return sqlitex.ExecuteScript(conn, schema, nil)
	}

	if err = sqlitex.ExecuteScript(conn, dropSchema+schema, nil); err != nil {
		return fmt.Errorf("rebuild schema: %w", err)
	}
	if err = sqlitex.ExecuteTransient(conn, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion), nil); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

// NewPokemonStore returns a store over a pool opened with Migrate.
func NewPokemonStore(pool *sqlitepool.Pool) *PokemonStore {
	return &PokemonStore{pool: pool, now: time.Now}
}

// Open opens (and if needed creates) the database at cfg.Path.
func Open(cfg Config) (*PokemonStore, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:      cfg.Path,
		PoolSize:  cfg.PoolSize,
		Logger:    cfg.Logger,
		OnConnect: Migrate,
	})
	if err != nil {
		return nil, fmt.Errorf("pokemon store: %w", err)
	}
	return NewPokemonStore(pool), nil
}

// Close closes the connection pool.
func (s *PokemonStore) Close() error {
	return s.pool.Close()
}

// Ping checks the database is reachable.
func (s *PokemonStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// QueryPage implements repositories.PokemonReader.
func (s *PokemonStore) QueryPage(ctx context.Context, q models.PageQuery) ([]models.Pokemon, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}
	var out []models.Pokemon
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT id, name, image_url FROM pokemon
			WHERE instr(search_name, ?1) > 0 AND id > ?2
			ORDER BY id ASC LIMIT ?3`,
			&sqlitex.ExecOptions{
				Args: []any{q.FoldedFilter(), q.AfterID, limit},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					out = append(out, models.Pokemon{
						ID:       stmt.ColumnInt(0),
						Name:     stmt.ColumnText(1),
						ImageURL: stmt.ColumnText(2),
					})
					return nil
				},
			})
	})
	if err != nil {
		return nil, &domain.StorageError{Op: "query page", Err: err}
	}
	return out, nil
}

// CursorFor implements repositories.PokemonReader.
func (s *PokemonStore) CursorFor(ctx context.Context, pokemonID int) (models.PageCursor, bool, error) {
	var (
		c     models.PageCursor
		found bool
	)
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT pokemon_id, prev_page, next_page FROM pokemon_page_cursor WHERE pokemon_id = ?1`,
			&sqlitex.ExecOptions{
				Args: []any{pokemonID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					found = true
					c.PokemonID = stmt.ColumnInt(0)
					c.PrevPage = nullableInt(stmt, 1)
					c.NextPage = nullableInt(stmt, 2)
					return nil
				},
			})
	})
	if err != nil {
		return models.PageCursor{}, false, &domain.StorageError{Op: "query cursor", Err: err}
	}
	return c, found, nil
}

// Count implements repositories.PokemonReader.
func (s *PokemonStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT COUNT(*) FROM pokemon`, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				n = stmt.ColumnInt(0)
				return nil
			},
		})
	})
	if err != nil {
		return 0, &domain.StorageError{Op: "count pokemon", Err: err}
	}
	return n, nil
}

// MergeCount returns the number of merges recorded in the merge log.
func (s *PokemonStore) MergeCount(ctx context.Context) (int, error) {
	var n int
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT COUNT(*) FROM page_merge_log`, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				n = stmt.ColumnInt(0)
				return nil
			},
		})
	})
	if err != nil {
		return 0, &domain.StorageError{Op: "count merges", Err: err}
	}
	return n, nil
}

// InTx implements repositories.PokemonStore with an IMMEDIATE transaction.
func (s *PokemonStore) InTx(ctx context.Context, fn func(w repositories.PokemonWriter) error) error {
	err := s.pool.WithImmediateTx(ctx, func(conn *sqlite.Conn) error {
		return fn(&txWriter{conn: conn, now: s.now})
	})
	if err != nil {
		return &domain.StorageError{Op: "merge transaction", Err: err}
	}
	return nil
}

type txWriter struct {
	conn *sqlite.Conn
	now  func() time.Time
}

func (w *txWriter) ClearAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sqlitex.ExecuteScript(w.conn, `DELETE FROM pokemon_page_cursor; DELETE FROM pokemon;`, nil); err != nil {
		return fmt.Errorf("clear all: %w", err)
	}
	return nil
}

func (w *txWriter) UpsertPokemon(ctx context.Context, items []models.Pokemon) error {
	for _, p := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := sqlitex.Execute(w.conn,
			`INSERT INTO pokemon (id, name, search_name, image_url) VALUES (?1, ?2, ?3, ?4)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, search_name = excluded.search_name,
				image_url = excluded.image_url`,
			&sqlitex.ExecOptions{Args: []any{p.ID, p.Name, models.FoldName(p.Name), p.ImageURL}})
		if err != nil {
			return fmt.Errorf("upsert pokemon %d: %w", p.ID, err)
		}
	}
	return nil
}

func (w *txWriter) UpsertCursors(ctx context.Context, cursors []models.PageCursor) error {
	for _, c := range cursors {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := sqlitex.Execute(w.conn,
			`INSERT INTO pokemon_page_cursor (pokemon_id, prev_page, next_page) VALUES (?1, ?2, ?3)
			ON CONFLICT(pokemon_id) DO UPDATE SET prev_page = excluded.prev_page, next_page = excluded.next_page`,
			&sqlitex.ExecOptions{Args: []any{c.PokemonID, pageArg(c.PrevPage), pageArg(c.NextPage)}})
		if err != nil {
			return fmt.Errorf("upsert cursor %d: %w", c.PokemonID, err)
		}
	}
	return nil
}

func (w *txWriter) RecordMerge(ctx context.Context, m models.PageMerge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := sqlitex.Execute(w.conn,
		`INSERT INTO page_merge_log (page, refresh, end_reached, item_count, merged_at) VALUES (?1, ?2, ?3, ?4, ?5)`,
		&sqlitex.ExecOptions{Args: []any{m.Page, boolInt(m.Refresh), boolInt(m.EndReached), len(m.PokemonIDs), w.now().UnixMilli()}})
	if err != nil {
		return fmt.Errorf("record merge: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func pageArg(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableInt(stmt *sqlite.Stmt, col int) *int {
	if stmt.ColumnType(col) == sqlite.TypeNull {
		return nil
	}
	return models.IntPtr(stmt.ColumnInt(col))
}
