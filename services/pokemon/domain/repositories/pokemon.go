package repositories

import (
	"context"

	"github.com/ghuser/pokedex/services/pokemon/domain/models"
)

// PokemonReader is the read side of the local store. Implementations must
// order results by ascending ID regardless of insertion order.
type PokemonReader interface {
	// QueryPage returns up to q.Limit Pokemon whose name contains q.Filter
	// (case-insensitive) and whose ID is greater than q.AfterID.
	QueryPage(ctx context.Context, q models.PageQuery) ([]models.Pokemon, error)

	// CursorFor returns the page cursor stored for pokemonID. found is false
	// when no cursor row exists.
	CursorFor(ctx context.Context, pokemonID int) (cursor models.PageCursor, found bool, err error)

	// Count returns the number of cached Pokemon.
	Count(ctx context.Context) (int, error)
}

// PokemonWriter mutates the local store. It is only reachable inside
// PokemonStore.InTx, so every write belongs to one atomic unit.
type PokemonWriter interface {
	ClearAll(ctx context.Context) error
	UpsertPokemon(ctx context.Context, items []models.Pokemon) error
	UpsertCursors(ctx context.Context, cursors []models.PageCursor) error

	// RecordMerge is called last in a merge transaction. Stores attached to an
	// event bus publish a PageMergedEvent through the transactional outbox.
	RecordMerge(ctx context.Context, merge models.PageMerge) error
}

// PokemonStore is the persistence interface for the cached catalog.
// The domain layer owns this interface; infrastructure implements it.
type PokemonStore interface {
	PokemonReader

	// InTx runs fn in a single transaction. If fn returns an error every
	// write made through the PokemonWriter is rolled back.
	InTx(ctx context.Context, fn func(w PokemonWriter) error) error
}
