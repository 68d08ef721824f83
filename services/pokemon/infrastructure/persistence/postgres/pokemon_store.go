package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ghuser/pokedex/pkg/database"
	"github.com/ghuser/pokedex/pkg/events"
	"github.com/ghuser/pokedex/services/pokemon/domain"
	domainevents "github.com/ghuser/pokedex/services/pokemon/domain/events"
	"github.com/ghuser/pokedex/services/pokemon/domain/models"
	"github.com/ghuser/pokedex/services/pokemon/domain/repositories"
)

const (
	queryPageSQL = `SELECT id, name, image_url FROM pokemon
WHERE search_name LIKE $1 AND id > $2
ORDER BY id ASC
LIMIT $3`

	cursorForSQL = `SELECT pokemon_id, prev_page, next_page FROM pokemon_page_cursor WHERE pokemon_id = $1`

	countSQL = `SELECT COUNT(*) FROM pokemon`

	clearCursorsSQL = `DELETE FROM pokemon_page_cursor`
	clearPokemonSQL = `DELETE FROM pokemon`

	upsertPokemonSQL = `INSERT INTO pokemon (id, name, search_name, image_url, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, search_name = EXCLUDED.search_name,
image_url = EXCLUDED.image_url, updated_at = now()`

	upsertCursorSQL = `INSERT INTO pokemon_page_cursor (pokemon_id, prev_page, next_page)
VALUES ($1, $2, $3)
ON CONFLICT (pokemon_id) DO UPDATE SET prev_page = EXCLUDED.prev_page, next_page = EXCLUDED.next_page`
)

// TxPublisher publishes messages inside a SQL transaction.
// *events.EventBus satisfies it.
type TxPublisher interface {
	PublishInTx(ctx context.Context, tx *sql.Tx, topic string, msgs ...*message.Message) error
}

// PokemonStore implements repositories.PokemonStore against PostgreSQL.
type PokemonStore struct {
	db  *database.Database
	bus TxPublisher
	now func() time.Time
}

var _ repositories.PokemonStore = (*PokemonStore)(nil)

// NewPokemonStore returns a store backed by db. When bus is non-nil every
// merge publishes a PageMergedEvent in the merge transaction.
func NewPokemonStore(db *database.Database, bus TxPublisher) *PokemonStore {
	return &PokemonStore{db: db, bus: bus, now: time.Now}
}

// QueryPage implements repositories.PokemonReader.
func (s *PokemonStore) QueryPage(ctx context.Context, q models.PageQuery) ([]models.Pokemon, error) {
	var limit any
	if q.Limit > 0 {
		limit = q.Limit
	}
	rows, err := s.db.DB().QueryContext(ctx, queryPageSQL, likePattern(q.FoldedFilter()), q.AfterID, limit)
	if err != nil {
		return nil, storageErr("query page", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []models.Pokemon
	for rows.Next() {
		var p models.Pokemon
		if err := rows.Scan(&p.ID, &p.Name, &p.ImageURL); err != nil {
			return nil, storageErr("scan pokemon", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate pokemon", err)
	}
	return out, nil
}

// CursorFor implements repositories.PokemonReader.
func (s *PokemonStore) CursorFor(ctx context.Context, pokemonID int) (models.PageCursor, bool, error) {
	var (
		c          models.PageCursor
		prev, next sql.NullInt32
	)
	err := s.db.DB().QueryRowContext(ctx, cursorForSQL, pokemonID).Scan(&c.PokemonID, &prev, &next)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PageCursor{}, false, nil
	}
	if err != nil {
		return models.PageCursor{}, false, storageErr("query cursor", err)
	}
	if prev.Valid {
		c.PrevPage = models.IntPtr(int(prev.Int32))
	}
	if next.Valid {
		c.NextPage = models.IntPtr(int(next.Int32))
	}
	return c, true, nil
}

// Count implements repositories.PokemonReader.
func (s *PokemonStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.DB().QueryRowContext(ctx, countSQL).Scan(&n); err != nil {
		return 0, storageErr("count pokemon", err)
	}
	return n, nil
}

// InTx implements repositories.PokemonStore.
func (s *PokemonStore) InTx(ctx context.Context, fn func(w repositories.PokemonWriter) error) error {
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		return fn(&txWriter{tx: tx, bus: s.bus, now: s.now})
	})
	if err != nil {
		return storageErr("merge transaction", err)
	}
	return nil
}

type txWriter struct {
	tx  *sql.Tx
	bus TxPublisher
	now func() time.Time
}

func (w *txWriter) ClearAll(ctx context.Context) error {
	if _, err := w.tx.ExecContext(ctx, clearCursorsSQL); err != nil {
		return fmt.Errorf("clear cursors: %w", err)
	}
	if _, err := w.tx.ExecContext(ctx, clearPokemonSQL); err != nil {
		return fmt.Errorf("clear pokemon: %w", err)
	}
	return nil
}

func (w *txWriter) UpsertPokemon(ctx context.Context, items []models.Pokemon) error {
	for _, p := range items {
		if _, err := w.tx.ExecContext(ctx, upsertPokemonSQL, p.ID, p.Name, models.FoldName(p.Name), p.ImageURL); err != nil {
			return fmt.Errorf("upsert pokemon %d: %w", p.ID, err)
		}
	}
	return nil
}

func (w *txWriter) UpsertCursors(ctx context.Context, cursors []models.PageCursor) error {
	for _, c := range cursors {
		if _, err := w.tx.ExecContext(ctx, upsertCursorSQL, c.PokemonID, nullPage(c.PrevPage), nullPage(c.NextPage)); err != nil {
			return fmt.Errorf("upsert cursor %d: %w", c.PokemonID, err)
		}
	}
	return nil
}

func (w *txWriter) RecordMerge(ctx context.Context, merge models.PageMerge) error {
	if w.bus == nil {
		return nil
	}
	evt := domainevents.NewPageMergedEvent(merge, w.now())
	msg, err := events.NewJSONMessage(evt.EventID.String(), evt.Version, evt)
	if err != nil {
		return err
	}
	if err := w.bus.PublishInTx(ctx, w.tx, domainevents.TopicPageMerged, msg); err != nil {
		return fmt.Errorf("publish page merged: %w", err)
	}
	return nil
}

func nullPage(p *int) sql.NullInt32 {
	if p == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*p), Valid: true}
}

// likePattern builds a substring pattern for the folded search_name column,
// escaping the LIKE metacharacters in filter.
func likePattern(filter string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(filter) + "%"
}

func storageErr(op string, err error) error {
	var se *domain.StorageError
	if errors.As(err, &se) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		op = fmt.Sprintf("%s (sqlstate %s)", op, pgErr.Code)
	}
	return &domain.StorageError{Op: op, Err: err}
}
