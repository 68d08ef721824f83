package paging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/ghuser/pokedex/pkg/logger"
	"github.com/ghuser/pokedex/services/pokemon/domain/models"
	"github.com/ghuser/pokedex/services/pokemon/domain/repositories"
)

// ErrPagerClosed is returned by loads on a pager that has been closed.
var ErrPagerClosed = errors.New("pager closed")

// PagerConfig tunes a Pager.
type PagerConfig struct {
	// PageSize is the number of items per local query and per remote page.
	PageSize int
	// PrefetchDistance is how close to the end of the window an Access must
	// land to trigger an append.
	PrefetchDistance int
}

func (c PagerConfig) withDefaults() PagerConfig {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.PrefetchDistance <= 0 {
		c.PrefetchDistance = c.PageSize
	}
	return c
}

// Pager owns one paginated window over the local store. When a Mediator is
// attached, loads that exhaust the local data first ask the mediator to merge
// more remote data, then re-query the store.
//
// Loads run on the pager's own lifetime context; a caller whose ctx ends stops
// waiting but does not cancel the shared load. Close cancels everything.
type Pager struct {
	cfg      PagerConfig
	query    string
	source   *LocalPageSource
	mediator Mediator
	log      logger.Logger

	lifetime context.Context
	cancel   context.CancelFunc
	flight   singleflight.Group

	mu          sync.Mutex
	pages       []Page
	states      LoadStates
	epoch       uint64
	epochCtx    context.Context
	epochCancel context.CancelFunc
	localEnd    bool
	remoteEnd   bool
	closed      bool
	updates     chan Snapshot
}

// NewPager returns a pager for query over reader. Pass a nil mediator for
// local-only (search) paging.
func NewPager(query string, reader repositories.PokemonReader, mediator Mediator, cfg PagerConfig, log logger.Logger) *Pager {
	lifetime, cancel := context.WithCancel(context.Background())
	epochCtx, epochCancel := context.WithCancel(lifetime)
	return &Pager{
		cfg:         cfg.withDefaults(),
		query:       query,
		source:      NewLocalPageSource(reader, query),
		mediator:    mediator,
		log:         log.With("component", "pager", "remote", mediator != nil),
		lifetime:    lifetime,
		cancel:      cancel,
		states:      initialLoadStates(),
		epochCtx:    epochCtx,
		epochCancel: epochCancel,
		updates:     make(chan Snapshot, 1),
	}
}

// Query returns the query the window was built for.
func (p *Pager) Query() string {
	return p.query
}

// RemoteBacked reports whether a mediator is attached.
func (p *Pager) RemoteBacked() bool {
	return p.mediator != nil
}

// Updates delivers the latest snapshot after every load. Intermediate
// snapshots are replaced if the consumer falls behind. The channel is closed
// by Close.
func (p *Pager) Updates() <-chan Snapshot {
	return p.updates
}

// Snapshot returns the current window.
func (p *Pager) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Refresh reloads the window from the origin. With a mediator attached the
// remote origin page is merged first; if that fails the refresh state becomes
// LoadError but the cached rows are still loaded and shown.
func (p *Pager) Refresh(ctx context.Context) error {
	return p.run(ctx, LoadRefresh.String(), p.refresh)
}

// LoadMore appends the next page to the window. It is a no-op while a
// refresh is loading; the refreshed window starts a new append sequence.
func (p *Pager) LoadMore(ctx context.Context) error {
	p.mu.Lock()
	epoch, epochCtx := p.epoch, p.epochCtx
	p.mu.Unlock()
	key := fmt.Sprintf("%s-%d", LoadAppend, epoch)
	return p.run(ctx, key, func() error { return p.appendPage(epochCtx, epoch) })
}

// Prepend is terminal: windows always start at the origin.
func (p *Pager) Prepend(ctx context.Context) error {
	return p.run(ctx, LoadPrepend.String(), func() error {
		if p.mediator != nil {
			p.mu.Lock()
			state := p.pagingStateLocked()
			p.mu.Unlock()
			if r, ok := p.mediator.Load(p.lifetime, LoadPrepend, state).(MediatorError); ok {
				return r.Err
			}
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		p.states.set(LoadPrepend, NotLoading{EndOfPaginationReached: true})
		return nil
	})
}

// Access signals that the consumer read the item at index. When index is
// within PrefetchDistance of the end of the window an append is triggered.
func (p *Pager) Access(ctx context.Context, index int) error {
	p.mu.Lock()
	total := p.countLocked()
	exhausted := p.exhaustedLocked()
	_, failed := p.states.Append.(LoadError)
	p.mu.Unlock()

	if exhausted || failed || index < total-p.cfg.PrefetchDistance {
		return nil
	}
	return p.LoadMore(ctx)
}

// Retry re-runs whichever direction last failed.
func (p *Pager) Retry(ctx context.Context) error {
	p.mu.Lock()
	_, refreshFailed := p.states.Refresh.(LoadError)
	_, appendFailed := p.states.Append.(LoadError)
	p.mu.Unlock()

	switch {
	case refreshFailed:
		return p.Refresh(ctx)
	case appendFailed:
		p.mu.Lock()
		p.states.set(LoadAppend, NotLoading{})
		p.mu.Unlock()
		return p.LoadMore(ctx)
	default:
		return nil
	}
}

// Close cancels in-flight loads and closes Updates. Results of loads that
// complete after Close are discarded.
func (p *Pager) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.cancel()
	close(p.updates)
}

func (p *Pager) run(ctx context.Context, key string, fn func() error) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPagerClosed
	}

	ch := p.flight.DoChan(key, func() (any, error) {
		return nil, fn()
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pager) refresh() error {
	p.mu.Lock()
	// A refresh supersedes any in-flight append.
	p.epochCancel()
	p.epoch++
	epoch := p.epoch
	p.epochCtx, p.epochCancel = context.WithCancel(p.lifetime)
	ctx := p.epochCtx
	p.states.set(LoadRefresh, Loading{})
	state := p.pagingStateLocked()
	p.emitLocked()
	p.mu.Unlock()

	var mediatorErr error
	remoteEnd := false
	if p.mediator != nil {
		switch r := p.mediator.Load(ctx, LoadRefresh, state).(type) {
		case MediatorError:
			mediatorErr = r.Err
		case MediatorSuccess:
			remoteEnd = r.EndOfPaginationReached
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	items, err := p.source.Load(ctx, 0, p.cfg.PageSize)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.epoch != epoch {
		return nil
	}
	// Appends captured while this refresh was running saw the old window;
	// a fresh epoch makes them stale.
	p.epochCancel()
	p.epoch++
	p.epochCtx, p.epochCancel = context.WithCancel(p.lifetime)

	if err != nil {
		p.states.set(LoadRefresh, LoadError{Err: err})
		p.emitLocked()
		return err
	}

	p.pages = nil
	p.appendItemsLocked(items)
	p.localEnd = len(items) < p.cfg.PageSize
	p.remoteEnd = remoteEnd
	if mediatorErr != nil {
		p.states.set(LoadRefresh, LoadError{Err: mediatorErr})
	} else {
		p.states.set(LoadRefresh, NotLoading{})
	}
	p.states.set(LoadAppend, NotLoading{EndOfPaginationReached: p.exhaustedLocked()})
	p.emitLocked()

	if mediatorErr != nil {
		p.log.WarnContext(ctx, "refresh mediator failed, serving cached rows",
			"query", p.query, "cached", len(items), "error", mediatorErr)
	}
	return mediatorErr
}

func (p *Pager) appendPage(ctx context.Context, epoch uint64) error {
	p.mu.Lock()
	_, refreshing := p.states.Refresh.(Loading)
	if p.closed || p.epoch != epoch || refreshing || p.exhaustedLocked() {
		p.mu.Unlock()
		return nil
	}
	p.states.set(LoadAppend, Loading{})
	afterID := p.lastIDLocked()
	p.emitLocked()
	p.mu.Unlock()

	items, err := p.source.Load(ctx, afterID, p.cfg.PageSize)
	if err != nil {
		return p.failAppend(epoch, err)
	}
	if !p.commitAppend(epoch, items) {
		return nil
	}

	if len(items) < p.cfg.PageSize && p.mediator != nil {
		p.mu.Lock()
		remoteEnd := p.remoteEnd
		state := p.pagingStateLocked()
		p.mu.Unlock()

		if !remoteEnd {
			switch r := p.mediator.Load(ctx, LoadAppend, state).(type) {
			case MediatorError:
				return p.failAppend(epoch, r.Err)
			case MediatorSuccess:
				p.mu.Lock()
				if p.epoch == epoch {
					p.remoteEnd = r.EndOfPaginationReached
				}
				afterID = p.lastIDLocked()
				p.mu.Unlock()
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			items, err = p.source.Load(ctx, afterID, p.cfg.PageSize)
			if err != nil {
				return p.failAppend(epoch, err)
			}
			if !p.commitAppend(epoch, items) {
				return nil
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.epoch != epoch {
		return nil
	}
	p.localEnd = len(items) < p.cfg.PageSize
	p.states.set(LoadAppend, NotLoading{EndOfPaginationReached: p.exhaustedLocked()})
	p.emitLocked()
	return nil
}

// commitAppend adds items to the window unless the load was superseded.
func (p *Pager) commitAppend(epoch uint64, items []models.Pokemon) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.epoch != epoch {
		return false
	}
	if len(items) > 0 {
		p.appendItemsLocked(items)
		p.emitLocked()
	}
	return true
}

func (p *Pager) failAppend(epoch uint64, err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.epoch != epoch {
		return nil
	}
	p.states.set(LoadAppend, LoadError{Err: err})
	p.emitLocked()
	p.log.Warn("append failed", "query", p.query, "error", err)
	return err
}

func (p *Pager) appendItemsLocked(items []models.Pokemon) {
	if len(items) == 0 {
		return
	}
	p.pages = append(p.pages, Page{Items: items})
}

func (p *Pager) exhaustedLocked() bool {
	return p.localEnd && (p.mediator == nil || p.remoteEnd)
}

func (p *Pager) countLocked() int {
	n := 0
	for _, pg := range p.pages {
		n += len(pg.Items)
	}
	return n
}

func (p *Pager) lastIDLocked() int {
	state := PagingState{Pages: p.pages}
	if last, ok := state.LastItem(); ok {
		return last.ID
	}
	return 0
}

func (p *Pager) pagingStateLocked() PagingState {
	pages := make([]Page, len(p.pages))
	copy(pages, p.pages)
	return PagingState{Pages: pages, PageSize: p.cfg.PageSize}
}

func (p *Pager) snapshotLocked() Snapshot {
	items := make([]models.Pokemon, 0, p.countLocked())
	for _, pg := range p.pages {
		items = append(items, pg.Items...)
	}
	return Snapshot{Query: p.query, Items: items, LoadStates: p.states}
}

// emitLocked publishes the current snapshot, replacing an unread one.
func (p *Pager) emitLocked() {
	if p.closed {
		return
	}
	snap := p.snapshotLocked()
	select {
	case <-p.updates:
	default:
	}
	select {
	case p.updates <- snap:
	default:
	}
}
