// Package paging implements the remote-backed paged cache: a mediator that
// merges remote pages into the local store, a pager that owns the loaded
// window, and a debounced router that swaps windows as the search query changes.
package paging

import (
	"fmt"

	"github.com/ghuser/pokedex/services/pokemon/domain/models"
)

const (
	// DefaultPageSize is the number of items requested per page.
	DefaultPageSize = 20

	// DefaultMaxItems caps how far remote pagination may advance.
	DefaultMaxItems = 100

	// OriginPage is the page a refresh always starts from.
	OriginPage = 0
)

// LoadType tags a load event with its direction.
type LoadType int

const (
	LoadRefresh LoadType = iota
	LoadPrepend
	LoadAppend
)

func (t LoadType) String() string {
	switch t {
	case LoadRefresh:
		return "refresh"
	case LoadPrepend:
		return "prepend"
	case LoadAppend:
		return "append"
	default:
		return fmt.Sprintf("LoadType(%d)", int(t))
	}
}

// LoadState is the per-direction load status of a window.
// Variants: NotLoading, Loading, LoadError.
type LoadState interface {
	isLoadState()
}

// NotLoading means no load is in flight. EndOfPaginationReached is true once
// no further data will be loaded in this direction.
type NotLoading struct {
	EndOfPaginationReached bool
}

// Loading means a load in this direction is in flight.
type Loading struct{}

// LoadError means the last load in this direction failed. Already loaded
// items stay in the window.
type LoadError struct {
	Err error
}

func (NotLoading) isLoadState() {}
func (Loading) isLoadState()    {}
func (LoadError) isLoadState()  {}

// LoadStates groups the three directions.
type LoadStates struct {
	Refresh LoadState
	Prepend LoadState
	Append  LoadState
}

func initialLoadStates() LoadStates {
	return LoadStates{
		Refresh: NotLoading{},
		Prepend: NotLoading{EndOfPaginationReached: true},
		Append:  NotLoading{},
	}
}

func (s *LoadStates) set(t LoadType, st LoadState) {
	switch t {
	case LoadRefresh:
		s.Refresh = st
	case LoadPrepend:
		s.Prepend = st
	case LoadAppend:
		s.Append = st
	}
}

// Get returns the state for direction t.
func (s LoadStates) Get(t LoadType) LoadState {
	switch t {
	case LoadRefresh:
		return s.Refresh
	case LoadPrepend:
		return s.Prepend
	default:
		return s.Append
	}
}

// StateName renders a LoadState for logs and JSON.
func StateName(st LoadState) string {
	switch s := st.(type) {
	case NotLoading:
		if s.EndOfPaginationReached {
			return "end_reached"
		}
		return "idle"
	case Loading:
		return "loading"
	case LoadError:
		return "error"
	default:
		return "unknown"
	}
}

// MediatorResult is the outcome of one mediator load.
// Variants: MediatorSuccess, MediatorError.
type MediatorResult interface {
	isMediatorResult()
}

// MediatorSuccess means the load completed (possibly without a remote call).
// EndOfPaginationReached is the terminal state: no further remote fetch will
// be attempted in this direction.
type MediatorSuccess struct {
	EndOfPaginationReached bool
}

// MediatorError means the load failed; the local store was not modified.
type MediatorError struct {
	Err error
}

func (MediatorSuccess) isMediatorResult() {}
func (MediatorError) isMediatorResult()   {}

// Page is one loaded page of the window.
type Page struct {
	Items []models.Pokemon
}

// PagingState is the snapshot of the window handed to the mediator so it can
// resolve the next remote cursor.
type PagingState struct {
	Pages    []Page
	PageSize int
}

// LastItem returns the last item of the last non-empty page.
func (s PagingState) LastItem() (models.Pokemon, bool) {
	for i := len(s.Pages) - 1; i >= 0; i-- {
		if n := len(s.Pages[i].Items); n > 0 {
			return s.Pages[i].Items[n-1], true
		}
	}
	return models.Pokemon{}, false
}

// Snapshot is what a pager emits to consumers after every load.
type Snapshot struct {
	Query      string
	Items      []models.Pokemon
	LoadStates LoadStates
	// Generation is set by the Router; it identifies the query derivation
	// that produced this snapshot.
	Generation uint64
}
