package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ghuser/pokedex/pkg/database"
	"github.com/ghuser/pokedex/services/pokemon/domain"
	domainevents "github.com/ghuser/pokedex/services/pokemon/domain/events"
	"github.com/ghuser/pokedex/services/pokemon/domain/models"
	"github.com/ghuser/pokedex/services/pokemon/domain/repositories"
)

type recordingPublisher struct {
	topic string
	msgs  []*message.Message
	tx    *sql.Tx
	err   error
}

func (p *recordingPublisher) PublishInTx(_ context.Context, tx *sql.Tx, topic string, msgs ...*message.Message) error {
	p.tx = tx
	p.topic = topic
	p.msgs = append(p.msgs, msgs...)
	return p.err
}

func newMockStore(t *testing.T, bus TxPublisher) (*PokemonStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s := NewPokemonStore(database.New(db), bus)
	s.now = func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }
	return s, mock
}

func TestQueryPage(t *testing.T) {
	s, mock := newMockStore(t, nil)
	mock.ExpectQuery(regexp.QuoteMeta(queryPageSQL)).
		WithArgs(`%pika%`, 20, 20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "image_url"}).
			AddRow(25, "Pikachu", "https://img/25.png"))

	got, err := s.QueryPage(context.Background(), models.PageQuery{Filter: " pika ", AfterID: 20, Limit: 20})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []models.Pokemon{{ID: 25, Name: "Pikachu", ImageURL: "https://img/25.png"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestQueryPage_FoldsFilter(t *testing.T) {
	s, mock := newMockStore(t, nil)
	mock.ExpectQuery(regexp.QuoteMeta(queryPageSQL)).
		WithArgs(`%flabébé%`, 0, 20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "image_url"}).
			AddRow(669, "Flabébé", "https://img/669.png"))

	got, err := s.QueryPage(context.Background(), models.PageQuery{Filter: "FLABÉBÉ", Limit: 20})
	if err != nil || len(got) != 1 {
		t.Fatalf("expected one match, got %v err=%v", got, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestQueryPage_EmptyFilterMatchesAll(t *testing.T) {
	s, mock := newMockStore(t, nil)
	mock.ExpectQuery(regexp.QuoteMeta(queryPageSQL)).
		WithArgs(`%%`, 0, 20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "image_url"}))

	got, err := s.QueryPage(context.Background(), models.PageQuery{Limit: 20})
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty result, got %v err=%v", got, err)
	}
}

func TestQueryPage_Error(t *testing.T) {
	s, mock := newMockStore(t, nil)
	mock.ExpectQuery(regexp.QuoteMeta(queryPageSQL)).WillReturnError(&pgconn.PgError{Code: "57P01"})

	_, err := s.QueryPage(context.Background(), models.PageQuery{Limit: 20})
	var se *domain.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %v", err)
	}
}

func TestLikePattern(t *testing.T) {
	tests := map[string]string{
		"":       "%%",
		"pika":   "%pika%",
		"100%":   `%100\%%`,
		"mr_m":   `%mr\_m%`,
		`back\s`: `%back\\s%`,
	}
	for in, want := range tests {
		if got := likePattern(in); got != want {
			t.Errorf("likePattern(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCursorFor(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		s, mock := newMockStore(t, nil)
		mock.ExpectQuery(regexp.QuoteMeta(cursorForSQL)).WithArgs(21).
			WillReturnRows(sqlmock.NewRows([]string{"pokemon_id", "prev_page", "next_page"}).AddRow(21, 0, 2))

		c, found, err := s.CursorFor(context.Background(), 21)
		if err != nil || !found {
			t.Fatalf("expected cursor, found=%v err=%v", found, err)
		}
		want := models.PageCursor{PokemonID: 21, PrevPage: models.IntPtr(0), NextPage: models.IntPtr(2)}
		if diff := cmp.Diff(want, c); diff != "" {
			t.Fatalf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("null pages", func(t *testing.T) {
		s, mock := newMockStore(t, nil)
		mock.ExpectQuery(regexp.QuoteMeta(cursorForSQL)).WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"pokemon_id", "prev_page", "next_page"}).AddRow(1, nil, nil))

		c, found, err := s.CursorFor(context.Background(), 1)
		if err != nil || !found {
			t.Fatalf("expected cursor, found=%v err=%v", found, err)
		}
		if c.PrevPage != nil || c.NextPage != nil {
			t.Fatalf("expected nil pages, got %+v", c)
		}
	})

	t.Run("missing", func(t *testing.T) {
		s, mock := newMockStore(t, nil)
		mock.ExpectQuery(regexp.QuoteMeta(cursorForSQL)).WithArgs(999).WillReturnError(sql.ErrNoRows)

		_, found, err := s.CursorFor(context.Background(), 999)
		if err != nil || found {
			t.Fatalf("expected not found without error, found=%v err=%v", found, err)
		}
	})
}

func TestCount(t *testing.T) {
	s, mock := newMockStore(t, nil)
	mock.ExpectQuery(regexp.QuoteMeta(countSQL)).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(40))
	n, err := s.Count(context.Background())
	if err != nil || n != 40 {
		t.Fatalf("expected 40, got %d err=%v", n, err)
	}
}

func TestInTx_RefreshMergePublishesEvent(t *testing.T) {
	bus := &recordingPublisher{}
	s, mock := newMockStore(t, bus)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(clearCursorsSQL)).WillReturnResult(sqlmock.NewResult(0, 20))
	mock.ExpectExec(regexp.QuoteMeta(clearPokemonSQL)).WillReturnResult(sqlmock.NewResult(0, 20))
	mock.ExpectExec(regexp.QuoteMeta(upsertCursorSQL)).
		WithArgs(1, sql.NullInt32{}, sql.NullInt32{Int32: 1, Valid: true}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(upsertPokemonSQL)).
		WithArgs(1, "Bulbasaur", "bulbasaur", "https://img/1.png").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.InTx(context.Background(), func(w repositories.PokemonWriter) error {
		ctx := context.Background()
		if err := w.ClearAll(ctx); err != nil {
			return err
		}
		if err := w.UpsertCursors(ctx, []models.PageCursor{{PokemonID: 1, NextPage: models.IntPtr(1)}}); err != nil {
			return err
		}
		if err := w.UpsertPokemon(ctx, []models.Pokemon{{ID: 1, Name: "Bulbasaur", ImageURL: "https://img/1.png"}}); err != nil {
			return err
		}
		return w.RecordMerge(ctx, models.PageMerge{Page: 0, Refresh: true, PokemonIDs: []int{1}, Names: []string{"Bulbasaur"}})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}

	if bus.topic != domainevents.TopicPageMerged || len(bus.msgs) != 1 || bus.tx == nil {
		t.Fatalf("expected one in-tx page merged message, got topic=%q msgs=%d", bus.topic, len(bus.msgs))
	}
	var evt domainevents.PageMergedEvent
	if err := json.Unmarshal(bus.msgs[0].Payload, &evt); err != nil {
		t.Fatal(err)
	}
	if !evt.Refresh || evt.PokemonIDs[0] != 1 || evt.Version != domainevents.PageMergedVersion {
		t.Fatalf("unexpected event %+v", evt)
	}
	if bus.msgs[0].Metadata.Get("event_id") != evt.EventID.String() {
		t.Fatal("expected event_id metadata to match payload")
	}
}

func TestInTx_RollsBackOnWriteFailure(t *testing.T) {
	bus := &recordingPublisher{}
	s, mock := newMockStore(t, bus)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(upsertPokemonSQL)).
		WithArgs(1, "Bulbasaur", "bulbasaur", "").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.InTx(context.Background(), func(w repositories.PokemonWriter) error {
		ctx := context.Background()
		if err := w.UpsertPokemon(ctx, []models.Pokemon{{ID: 1, Name: "Bulbasaur"}}); err != nil {
			return err
		}
		return w.RecordMerge(ctx, models.PageMerge{})
	})
	var se *domain.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if len(bus.msgs) != 0 {
		t.Fatal("expected no event for a rolled back merge")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestInTx_PublishFailureRollsBack(t *testing.T) {
	bus := &recordingPublisher{err: errors.New("outbox down")}
	s, mock := newMockStore(t, bus)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.InTx(context.Background(), func(w repositories.PokemonWriter) error {
		return w.RecordMerge(context.Background(), models.PageMerge{})
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestNullPage(t *testing.T) {
	if v, _ := nullPage(nil).Value(); v != nil {
		t.Fatalf("expected NULL, got %v", v)
	}
	v, _ := nullPage(models.IntPtr(3)).Value()
	if v != driver.Value(int64(3)) {
		t.Fatalf("expected 3, got %v", v)
	}
}
