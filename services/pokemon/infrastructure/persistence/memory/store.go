// Package memory is a process-local PokemonStore. It backs the CLI when no
// database is configured and serves as the store in application tests.
package memory

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/ghuser/pokedex/services/pokemon/domain/models"
	"github.com/ghuser/pokedex/services/pokemon/domain/repositories"
)

// Store keeps the catalog in maps guarded by a RWMutex. InTx works on a copy
// and swaps it in only when fn succeeds.
type Store struct {
	mu      sync.RWMutex
	pokemon map[int]models.Pokemon
	cursors map[int]models.PageCursor
	merges  []models.PageMerge
}

var _ repositories.PokemonStore = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		pokemon: make(map[int]models.Pokemon),
		cursors: make(map[int]models.PageCursor),
	}
}

// QueryPage implements repositories.PokemonReader.
func (s *Store) QueryPage(ctx context.Context, q models.PageQuery) ([]models.Pokemon, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	filter := q.FoldedFilter()
	ids := slices.Sorted(maps.Keys(s.pokemon))
	out := make([]models.Pokemon, 0, q.Limit)
	for _, id := range ids {
		if id <= q.AfterID {
			continue
		}
		p := s.pokemon[id]
		if filter != "" && !strings.Contains(models.FoldName(p.Name), filter) {
			continue
		}
		out = append(out, p)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// CursorFor implements repositories.PokemonReader.
func (s *Store) CursorFor(ctx context.Context, pokemonID int) (models.PageCursor, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.PageCursor{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cursors[pokemonID]
	return c, ok, nil
}

// Count implements repositories.PokemonReader.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pokemon), nil
}

// Merges returns every merge recorded so far, oldest first.
func (s *Store) Merges() []models.PageMerge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.merges)
}

// InTx implements repositories.PokemonStore.
func (s *Store) InTx(ctx context.Context, fn func(w repositories.PokemonWriter) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &writer{
		pokemon: maps.Clone(s.pokemon),
		cursors: maps.Clone(s.cursors),
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.pokemon = tx.pokemon
	s.cursors = tx.cursors
	s.merges = append(s.merges, tx.merges...)
	return nil
}

type writer struct {
	pokemon map[int]models.Pokemon
	cursors map[int]models.PageCursor
	merges  []models.PageMerge
}

func (w *writer) ClearAll(ctx context.Context) error {
	clear(w.pokemon)
	clear(w.cursors)
	return ctx.Err()
}

func (w *writer) UpsertPokemon(ctx context.Context, items []models.Pokemon) error {
	for _, p := range items {
		w.pokemon[p.ID] = p
	}
	return ctx.Err()
}

func (w *writer) UpsertCursors(ctx context.Context, cursors []models.PageCursor) error {
	for _, c := range cursors {
		w.cursors[c.PokemonID] = c
	}
	return ctx.Err()
}

func (w *writer) RecordMerge(ctx context.Context, merge models.PageMerge) error {
	w.merges = append(w.merges, merge)
	return ctx.Err()
}
