package paging

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ghuser/pokedex/pkg/logger"
	"github.com/ghuser/pokedex/services/pokemon/domain/repositories"
	domainsvcs "github.com/ghuser/pokedex/services/pokemon/domain/services"
)

// DefaultDebounce is the quiet interval after the last query edit before a new
// window is derived.
const DefaultDebounce = 300 * time.Millisecond

// ErrRouterClosed is returned by window operations on a closed router.
var ErrRouterClosed = errors.New("router closed")

// PagerFactory builds the window for query. Implementations attach a mediator
// only when the query is blank.
type PagerFactory func(query string) *Pager

// RouterConfig tunes a Router.
type RouterConfig struct {
	Debounce time.Duration
}

// Router turns a live-edited query into a sequence of windows. Every
// derivation bumps the generation; snapshots from older generations are
// dropped before delivery.
type Router struct {
	factory  PagerFactory
	debounce time.Duration
	log      logger.Logger

	lifetime context.Context
	cancel   context.CancelFunc

	mu       sync.Mutex
	query    string
	gen      uint64
	current  *Pager
	timer    *time.Timer
	timerSeq uint64
	latest   Snapshot
	started  bool
	closed   bool
	out      chan Snapshot
	wg       sync.WaitGroup
}

// NewRouter returns a router that builds windows with factory. Call Start to
// derive the initial window.
func NewRouter(factory PagerFactory, cfg RouterConfig, log logger.Logger) *Router {
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	lifetime, cancel := context.WithCancel(context.Background())
	return &Router{
		factory:  factory,
		debounce: debounce,
		log:      log.With("component", "query_router"),
		lifetime: lifetime,
		cancel:   cancel,
		out:      make(chan Snapshot, 1),
	}
}

// Start derives the window for the current query immediately.
func (r *Router) Start() {
	r.mu.Lock()
	if r.started || r.closed {
		r.mu.Unlock()
		return
	}
	r.started = true
	q := r.query
	r.mu.Unlock()
	r.derive(q)
}

// Query returns the latest query set, including one still inside the
// debounce interval.
func (r *Router) Query() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.query
}

// Generation returns the generation of the current window.
func (r *Router) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen
}

// SetQuery records q and schedules a derivation after the quiet interval.
// Setting the held value again is a no-op.
func (r *Router) SetQuery(q string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || q == r.query {
		return
	}
	r.query = q
	if !r.started {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timerSeq++
	seq := r.timerSeq
	r.timer = time.AfterFunc(r.debounce, func() { r.fire(seq) })
}

func (r *Router) fire(seq uint64) {
	r.mu.Lock()
	if r.closed || seq != r.timerSeq {
		r.mu.Unlock()
		return
	}
	q := r.query
	r.mu.Unlock()

	// A settled burst always gets a fresh window, even when it ends on the
	// query already shown.
	r.derive(q)
}

func (r *Router) derive(q string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.gen++
	gen := r.gen
	old := r.current
	pager := r.factory(q)
	r.current = pager
	r.wg.Add(2)
	r.mu.Unlock()

	if old != nil {
		old.Close()
	}
	r.log.Debug("window derived", "query", q, "generation", gen, "remote", pager.RemoteBacked())

	go func() {
		defer r.wg.Done()
		for snap := range pager.Updates() {
			snap.Generation = gen
			r.deliver(snap)
		}
	}()
	go func() {
		defer r.wg.Done()
		if err := pager.Refresh(r.lifetime); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrPagerClosed) {
			r.log.Warn("initial refresh failed", "query", q, "generation", gen, "error", err)
		}
	}()
}

func (r *Router) deliver(snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || snap.Generation != r.gen {
		return
	}
	r.latest = snap
	select {
	case <-r.out:
	default:
	}
	select {
	case r.out <- snap:
	default:
	}
}

// Snapshots delivers the latest snapshot of the current window. Older
// undelivered snapshots are replaced. The channel is closed by Close.
func (r *Router) Snapshots() <-chan Snapshot {
	return r.out
}

// Latest returns the most recently delivered snapshot.
func (r *Router) Latest() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}

// CurrentSnapshot returns the current window's state tagged with its
// generation, whether or not it has been delivered yet. Before Start it
// carries only the held query.
func (r *Router) CurrentSnapshot() Snapshot {
	r.mu.Lock()
	p, gen, q := r.current, r.gen, r.query
	r.mu.Unlock()
	if p == nil {
		return Snapshot{Query: q, LoadStates: initialLoadStates()}
	}
	snap := p.Snapshot()
	snap.Generation = gen
	return snap
}

// Current returns the current window, or nil before Start.
func (r *Router) Current() *Pager {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// LoadMore appends to the current window.
func (r *Router) LoadMore(ctx context.Context) error {
	p, err := r.window()
	if err != nil {
		return err
	}
	return p.LoadMore(ctx)
}

// Access forwards a read position to the current window.
func (r *Router) Access(ctx context.Context, index int) error {
	p, err := r.window()
	if err != nil {
		return err
	}
	return p.Access(ctx, index)
}

// Refresh reloads the current window.
func (r *Router) Refresh(ctx context.Context) error {
	p, err := r.window()
	if err != nil {
		return err
	}
	return p.Refresh(ctx)
}

// Retry retries the failed direction of the current window.
func (r *Router) Retry(ctx context.Context) error {
	p, err := r.window()
	if err != nil {
		return err
	}
	return p.Retry(ctx)
}

func (r *Router) window() (*Pager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.current == nil {
		return nil, ErrRouterClosed
	}
	return r.current, nil
}

// Close stops the debounce timer, closes the current window and waits for
// its goroutines to exit.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	if r.timer != nil {
		r.timer.Stop()
	}
	current := r.current
	r.cancel()
	r.mu.Unlock()

	if current != nil {
		current.Close()
	}
	r.wg.Wait()

	r.mu.Lock()
	close(r.out)
	r.mu.Unlock()
}

// RemoteWhenBlank returns a PagerFactory that attaches mediator only for
// blank queries, so a search never triggers remote fetches.
func RemoteWhenBlank(reader repositories.PokemonReader, mediator Mediator, cfg PagerConfig, log logger.Logger) PagerFactory {
	return func(query string) *Pager {
		var m Mediator
		if domainsvcs.IsBlankQuery(query) {
			m = mediator
		}
		return NewPager(query, reader, m, cfg, log)
	}
}
