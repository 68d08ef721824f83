package paging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ghuser/pokedex/pkg/config"
	"github.com/ghuser/pokedex/pkg/logger"
	"github.com/ghuser/pokedex/services/pokemon/domain/models"
	"github.com/ghuser/pokedex/services/pokemon/domain/repositories"
)

func nopLogger() logger.Logger {
	return logger.New(&config.Config{LogLevel: "error"})
}

type fetchCall struct {
	limit, offset int
}

// fakeRemote serves a catalog of total entries. Fetches with an offset in
// blockOffsets wait for release or ctx cancellation.
type fakeRemote struct {
	mu           sync.Mutex
	total        int
	err          error
	calls        []fetchCall
	blockOffsets map[int]bool
	entered      chan int
	release      chan struct{}
}

func newFakeRemote(total int) *fakeRemote {
	return &fakeRemote{
		total:   total,
		entered: make(chan int, 16),
		release: make(chan struct{}),
	}
}

func entryName(id int) string {
	switch id {
	case 25:
		return "pikachu"
	case 26:
		return "raichu"
	default:
		return fmt.Sprintf("mon%d", id)
	}
}

func (f *fakeRemote) FetchPage(ctx context.Context, limit, offset int) ([]models.ListEntry, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{limit: limit, offset: offset})
	err := f.err
	block := f.blockOffsets[offset]
	f.mu.Unlock()

	if block {
		f.entered <- offset
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	var out []models.ListEntry
	for id := offset + 1; id <= offset+limit && id <= f.total; id++ {
		out = append(out, models.ListEntry{
			Name: entryName(id),
			URL:  fmt.Sprintf("https://pokeapi.co/api/v2/pokemon/%d/", id),
		})
	}
	return out, nil
}

func (f *fakeRemote) FetchDetail(ctx context.Context, name string) (*models.Details, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRemote) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeRemote) blockAt(offset int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blockOffsets == nil {
		f.blockOffsets = make(map[int]bool)
	}
	f.blockOffsets[offset] = true
}

func (f *fakeRemote) Calls() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetchCall(nil), f.calls...)
}

// failingStore wraps a store and fails UpsertPokemon inside transactions.
type failingStore struct {
	repositories.PokemonStore
	err error
}

func (s *failingStore) InTx(ctx context.Context, fn func(w repositories.PokemonWriter) error) error {
	return s.PokemonStore.InTx(ctx, func(w repositories.PokemonWriter) error {
		return fn(&failingWriter{PokemonWriter: w, err: s.err})
	})
}

type failingWriter struct {
	repositories.PokemonWriter
	err error
}

func (w *failingWriter) UpsertPokemon(context.Context, []models.Pokemon) error {
	return w.err
}

func ids(items []models.Pokemon) []int {
	out := make([]int, len(items))
	for i, p := range items {
		out[i] = p.ID
	}
	return out
}

func seqIDs(from, to int) []int {
	var out []int
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func waitSnapshot(t *testing.T, ch <-chan Snapshot, pred func(Snapshot) bool) Snapshot {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				t.Fatal("snapshot channel closed")
			}
			if pred(snap) {
				return snap
			}
		case <-timeout:
			t.Fatal("timed out waiting for snapshot")
		}
	}
}

func refreshSettled(s Snapshot) bool {
	_, loading := s.LoadStates.Refresh.(Loading)
	return !loading && s.LoadStates.Refresh != nil
}
