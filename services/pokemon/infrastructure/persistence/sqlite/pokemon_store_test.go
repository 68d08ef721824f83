package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/ghuser/pokedex/pkg/config"
	"github.com/ghuser/pokedex/pkg/logger"
	"github.com/ghuser/pokedex/services/pokemon/domain"
	"github.com/ghuser/pokedex/services/pokemon/domain/models"
	"github.com/ghuser/pokedex/services/pokemon/domain/repositories"
)

func openTestStore(t *testing.T) *PokemonStore {
	t.Helper()
	s, err := Open(Config{
		Path:     filepath.Join(t.TempDir(), "pokedex.db"),
		PoolSize: 2,
		Logger:   logger.New(&config.Config{LogLevel: "error"}),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func merge(t *testing.T, s *PokemonStore, items []models.Pokemon, cursors []models.PageCursor) {
	t.Helper()
	ctx := context.Background()
	err := s.InTx(ctx, func(w repositories.PokemonWriter) error {
		if err := w.UpsertPokemon(ctx, items); err != nil {
			return err
		}
		if err := w.UpsertCursors(ctx, cursors); err != nil {
			return err
		}
		return w.RecordMerge(ctx, models.PageMerge{Page: 0, PokemonIDs: []int{1}})
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
}

func TestPokemonStore_QueryPage(t *testing.T) {
	s := openTestStore(t)
	merge(t, s, []models.Pokemon{
		{ID: 26, Name: "Raichu", ImageURL: "u26"},
		{ID: 1, Name: "Bulbasaur", ImageURL: "u1"},
		{ID: 25, Name: "Pikachu", ImageURL: "u25"},
		{ID: 172, Name: "Pichu", ImageURL: "u172"},
	}, nil)

	tests := []struct {
		name string
		q    models.PageQuery
		want []int
	}{
		{"all", models.PageQuery{Limit: 10}, []int{1, 25, 26, 172}},
		{"unlimited", models.PageQuery{}, []int{1, 25, 26, 172}},
		{"case-insensitive", models.PageQuery{Filter: " CHU ", Limit: 10}, []int{25, 26, 172}},
		{"after id", models.PageQuery{Filter: "chu", AfterID: 25, Limit: 10}, []int{26, 172}},
		{"limit", models.PageQuery{Limit: 2}, []int{1, 25}},
		{"wildcards are literal", models.PageQuery{Filter: "%", Limit: 10}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.QueryPage(context.Background(), tt.q)
			if err != nil {
				t.Fatalf("QueryPage: %v", err)
			}
			var ids []int
			for _, p := range got {
				ids = append(ids, p.ID)
			}
			if diff := cmp.Diff(tt.want, ids); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPokemonStore_QueryPageFoldsUnicode(t *testing.T) {
	s := openTestStore(t)
	merge(t, s, []models.Pokemon{
		{ID: 669, Name: "Flabébé", ImageURL: "u669"},
		{ID: 670, Name: "Floette", ImageURL: "u670"},
	}, nil)

	for _, filter := range []string{"ÉBÉ", "flabébé", "FLABÉBÉ"} {
		t.Run(filter, func(t *testing.T) {
			got, err := s.QueryPage(context.Background(), models.PageQuery{Filter: filter})
			if err != nil {
				t.Fatalf("QueryPage: %v", err)
			}
			if len(got) != 1 || got[0].Name != "Flabébé" {
				t.Fatalf("expected only Flabébé, got %+v", got)
			}
		})
	}
}

func TestOpen_RebuildsOlderSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pokedex.db")
	conn, err := sqlite.OpenConn(path)
	if err != nil {
		t.Fatalf("OpenConn: %v", err)
	}
	err = sqlitex.ExecuteScript(conn, `
CREATE TABLE pokemon (id INTEGER PRIMARY KEY, name TEXT NOT NULL, image_url TEXT NOT NULL);
INSERT INTO pokemon (id, name, image_url) VALUES (1, 'Bulbasaur', 'u1');
`, nil)
	if err != nil {
		t.Fatalf("seed old schema: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatal(err)
	}

	s, err := Open(Config{Path: path, PoolSize: 2, Logger: logger.New(&config.Config{LogLevel: "error"})})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close() //nolint:errcheck

	ctx := context.Background()
	if n, err := s.Count(ctx); err != nil || n != 0 {
		t.Fatalf("expected the old cache to be dropped, got %d rows (err %v)", n, err)
	}
	merge(t, s, []models.Pokemon{{ID: 669, Name: "Flabébé", ImageURL: "u669"}}, nil)
	got, err := s.QueryPage(ctx, models.PageQuery{Filter: "ÉBÉ"})
	if err != nil || len(got) != 1 {
		t.Fatalf("expected the rebuilt schema to be searchable, got %+v (err %v)", got, err)
	}
}

func TestPokemonStore_Cursor(t *testing.T) {
	s := openTestStore(t)
	merge(t, s,
		[]models.Pokemon{{ID: 1, Name: "Bulbasaur"}, {ID: 2, Name: "Ivysaur"}},
		[]models.PageCursor{
			{PokemonID: 1, NextPage: models.IntPtr(1)},
			{PokemonID: 2, PrevPage: models.IntPtr(3), NextPage: nil},
		})

	c, found, err := s.CursorFor(context.Background(), 1)
	if err != nil || !found {
		t.Fatalf("CursorFor(1) = %v, %v", found, err)
	}
	want := models.PageCursor{PokemonID: 1, NextPage: models.IntPtr(1)}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("cursor mismatch (-want +got):\n%s", diff)
	}

	c, _, _ = s.CursorFor(context.Background(), 2)
	if c.PrevPage == nil || *c.PrevPage != 3 || c.NextPage != nil {
		t.Errorf("unexpected cursor for 2: %+v", c)
	}

	_, found, err = s.CursorFor(context.Background(), 99)
	if err != nil || found {
		t.Fatalf("CursorFor(99) = %v, %v", found, err)
	}
}

func TestPokemonStore_UpsertReplaces(t *testing.T) {
	s := openTestStore(t)
	merge(t, s, []models.Pokemon{{ID: 1, Name: "Old"}}, nil)
	merge(t, s, []models.Pokemon{{ID: 1, Name: "Bulbasaur"}}, nil)

	got, err := s.QueryPage(context.Background(), models.PageQuery{})
	if err != nil {
		t.Fatalf("QueryPage: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Bulbasaur" {
		t.Fatalf("expected replaced row, got %+v", got)
	}
	n, _ := s.MergeCount(context.Background())
	if n != 2 {
		t.Fatalf("expected 2 merges logged, got %d", n)
	}
}

func TestPokemonStore_InTxRollback(t *testing.T) {
	s := openTestStore(t)
	merge(t, s, []models.Pokemon{{ID: 1, Name: "Bulbasaur"}}, []models.PageCursor{{PokemonID: 1}})

	boom := errors.New("boom")
	ctx := context.Background()
	err := s.InTx(ctx, func(w repositories.PokemonWriter) error {
		if err := w.ClearAll(ctx); err != nil {
			return err
		}
		if err := w.UpsertPokemon(ctx, []models.Pokemon{{ID: 2, Name: "Ivysaur"}}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	var storageErr *domain.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError, got %T", err)
	}

	n, _ := s.Count(ctx)
	if n != 1 {
		t.Fatalf("expected rollback to keep 1 row, got %d", n)
	}
	if _, found, _ := s.CursorFor(ctx, 1); !found {
		t.Fatal("expected cursor to survive rollback")
	}
}

func TestPokemonStore_ClearAll(t *testing.T) {
	s := openTestStore(t)
	merge(t, s, []models.Pokemon{{ID: 1, Name: "Bulbasaur"}}, []models.PageCursor{{PokemonID: 1}})

	ctx := context.Background()
	err := s.InTx(ctx, func(w repositories.PokemonWriter) error { return w.ClearAll(ctx) })
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
	if n, _ := s.Count(ctx); n != 0 {
		t.Fatalf("expected empty store, got %d", n)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
