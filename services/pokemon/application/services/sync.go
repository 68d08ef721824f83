package services

import (
	"context"
	"fmt"

	"github.com/ghuser/pokedex/services/pokemon/application/paging"
	"github.com/ghuser/pokedex/services/pokemon/domain/models"
)

// SyncResult summarizes a full catalog sync.
type SyncResult struct {
	Steps int `json:"steps"`
	Items int `json:"items"`
}

// Sync replaces the cache with the remote origin page, then appends pages
// until the remote signals end of data or the item ceiling is reached.
func (s *PokemonService) Sync(ctx context.Context) (SyncResult, error) {
	var res SyncResult
	end, err := s.SyncRefresh(ctx)
	res.Steps++
	for err == nil && !end {
		end, err = s.SyncAppend(ctx)
		res.Steps++
	}
	if err != nil {
		return res, fmt.Errorf("sync catalog: %w", err)
	}

	n, err := s.store.Count(ctx)
	if err != nil {
		return res, fmt.Errorf("sync catalog: %w", err)
	}
	res.Items = n
	s.log.InfoContext(ctx, "catalog sync finished", "steps", res.Steps, "items", res.Items)
	return res, nil
}

// SyncRefresh runs one refresh cycle from the origin page.
func (s *PokemonService) SyncRefresh(ctx context.Context) (endReached bool, err error) {
	return s.syncStep(ctx, paging.LoadRefresh, paging.PagingState{PageSize: s.pager.PageSize})
}

// SyncAppend runs one append cycle after the highest cached ID.
func (s *PokemonService) SyncAppend(ctx context.Context) (endReached bool, err error) {
	items, err := s.store.QueryPage(ctx, models.PageQuery{})
	if err != nil {
		return false, fmt.Errorf("read cached pokemon: %w", err)
	}
	state := paging.PagingState{PageSize: s.pager.PageSize}
	if n := len(items); n > 0 {
		state.Pages = []paging.Page{{Items: items[n-1:]}}
	}
	return s.syncStep(ctx, paging.LoadAppend, state)
}

func (s *PokemonService) syncStep(ctx context.Context, loadType paging.LoadType, state paging.PagingState) (bool, error) {
	switch r := s.mediator.Load(ctx, loadType, state).(type) {
	case paging.MediatorSuccess:
		return r.EndOfPaginationReached, nil
	case paging.MediatorError:
		return false, r.Err
	default:
		return false, fmt.Errorf("unexpected mediator result %T", r)
	}
}
