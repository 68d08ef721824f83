package paging

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ghuser/pokedex/pkg/logger"
	"github.com/ghuser/pokedex/services/pokemon/domain"
	"github.com/ghuser/pokedex/services/pokemon/domain/models"
	"github.com/ghuser/pokedex/services/pokemon/domain/repositories"
	domainsvcs "github.com/ghuser/pokedex/services/pokemon/domain/services"
)

// Mediator decides, per load event, whether to fetch remote data and merges
// it into the local store. A nil Mediator means local-only paging.
type Mediator interface {
	Load(ctx context.Context, loadType LoadType, state PagingState) MediatorResult
}

// MediatorConfig tunes RemoteMediator.
type MediatorConfig struct {
	// MaxItems caps remote pagination: a load whose starting offset reaches
	// MaxItems resolves as end of pagination without a remote call.
	MaxItems int
}

// RemoteMediator bridges the remote paginated catalog and the local store.
// It keeps no state of its own; cursors live in the store next to the items.
type RemoteMediator struct {
	remote   repositories.RemoteSource
	store    repositories.PokemonStore
	maxItems int
	log      logger.Logger
	metrics  *mediatorMetrics
}

// NewRemoteMediator returns a RemoteMediator over remote and store.
func NewRemoteMediator(remote repositories.RemoteSource, store repositories.PokemonStore, cfg MediatorConfig, log logger.Logger) *RemoteMediator {
	maxItems := cfg.MaxItems
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	return &RemoteMediator{
		remote:   remote,
		store:    store,
		maxItems: maxItems,
		log:      log.With("component", "remote_mediator"),
		metrics:  newMediatorMetrics(),
	}
}

// Load runs one mediator cycle for loadType.
func (m *RemoteMediator) Load(ctx context.Context, loadType LoadType, state PagingState) MediatorResult {
	ctx, span := tracer.Start(ctx, "paging.mediator.load",
		trace.WithAttributes(attribute.String("load_type", loadType.String())))
	defer span.End()

	result := m.load(ctx, loadType, state)
	switch r := result.(type) {
	case MediatorError:
		span.RecordError(r.Err)
		span.SetStatus(codes.Error, r.Err.Error())
		m.metrics.add(ctx, m.metrics.failures, 1, loadType)
	case MediatorSuccess:
		if r.EndOfPaginationReached {
			m.metrics.add(ctx, m.metrics.terminal, 1, loadType)
		}
	}
	return result
}

func (m *RemoteMediator) load(ctx context.Context, loadType LoadType, state PagingState) MediatorResult {
	page, terminal, err := m.startingPage(ctx, loadType, state)
	if err != nil {
		return MediatorError{Err: err}
	}
	if terminal {
		return MediatorSuccess{EndOfPaginationReached: true}
	}

	pageSize := state.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	offset := page * pageSize
	if offset >= m.maxItems {
		m.log.DebugContext(ctx, "item ceiling reached, skipping remote fetch",
			"load_type", loadType.String(), "page", page, "offset", offset, "max_items", m.maxItems)
		return MediatorSuccess{EndOfPaginationReached: true}
	}

	m.metrics.add(ctx, m.metrics.fetches, 1, loadType)
	entries, err := m.remote.FetchPage(ctx, pageSize, offset)
	if err != nil {
		m.log.WarnContext(ctx, "remote page fetch failed",
			"load_type", loadType.String(), "page", page, "offset", offset,
			"retryable", domain.IsRetryable(err), "error", err)
		return MediatorError{Err: fmt.Errorf("fetch page %d: %w", page, err)}
	}
	endReached := len(entries) == 0

	items, err := domainsvcs.ToPokemonList(entries)
	if err != nil {
		return MediatorError{Err: fmt.Errorf("transform page %d: %w", page, err)}
	}

	if err := m.merge(ctx, loadType, page, endReached, items); err != nil {
		m.log.ErrorContext(ctx, "page merge failed",
			"load_type", loadType.String(), "page", page, "error", err)
		return MediatorError{Err: err}
	}
	m.metrics.add(ctx, m.metrics.merged, len(items), loadType)

	m.log.InfoContext(ctx, "page merged",
		"load_type", loadType.String(), "page", page, "items", len(items), "end_reached", endReached)
	return MediatorSuccess{EndOfPaginationReached: endReached}
}

// startingPage resolves the remote page for loadType. terminal is true when
// pagination in that direction is over and no fetch must be issued.
func (m *RemoteMediator) startingPage(ctx context.Context, loadType LoadType, state PagingState) (page int, terminal bool, err error) {
	switch loadType {
	case LoadRefresh:
		return OriginPage, false, nil
	case LoadPrepend:
		return 0, true, nil
	case LoadAppend:
		last, ok := state.LastItem()
		if !ok {
			return 0, true, nil
		}
		cursor, found, err := m.store.CursorFor(ctx, last.ID)
		if err != nil {
			return 0, false, wrapStorage("read cursor", err)
		}
		// A missing cursor row is treated like an exhausted one.
		if !found || cursor.NextPage == nil {
			return 0, true, nil
		}
		return *cursor.NextPage, false, nil
	default:
		return 0, false, fmt.Errorf("unknown load type %v", loadType)
	}
}

// merge writes one page and its cursors atomically. A refresh first clears
// every cached row so stale entries never survive a reload.
func (m *RemoteMediator) merge(ctx context.Context, loadType LoadType, page int, endReached bool, items []models.Pokemon) error {
	var prev, next *int
	if page != OriginPage {
		prev = models.IntPtr(page - 1)
	}
	if !endReached {
		next = models.IntPtr(page + 1)
	}

	cursors := make([]models.PageCursor, len(items))
	ids := make([]int, len(items))
	names := make([]string, len(items))
	for i, p := range items {
		cursors[i] = models.PageCursor{PokemonID: p.ID, PrevPage: prev, NextPage: next}
		ids[i] = p.ID
		names[i] = p.Name
	}

	err := m.store.InTx(ctx, func(w repositories.PokemonWriter) error {
		if loadType == LoadRefresh {
			if err := w.ClearAll(ctx); err != nil {
				return fmt.Errorf("clear all: %w", err)
			}
		}
		if err := w.UpsertCursors(ctx, cursors); err != nil {
			return fmt.Errorf("upsert cursors: %w", err)
		}
		if err := w.UpsertPokemon(ctx, items); err != nil {
			return fmt.Errorf("upsert pokemon: %w", err)
		}
		return w.RecordMerge(ctx, models.PageMerge{
			Page:       page,
			Refresh:    loadType == LoadRefresh,
			EndReached: endReached,
			PokemonIDs: ids,
			Names:      names,
		})
	})
	if err != nil {
		return wrapStorage("merge page", err)
	}
	return nil
}

func wrapStorage(op string, err error) error {
	var storageErr *domain.StorageError
	if errors.As(err, &storageErr) {
		return err
	}
	return &domain.StorageError{Op: op, Err: err}
}
