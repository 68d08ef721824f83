package paging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ghuser/pokedex/services/pokemon/domain"
	"github.com/ghuser/pokedex/services/pokemon/infrastructure/persistence/memory"
)

type pagerFixture struct {
	remote *fakeRemote
	store  *memory.Store
	med    *RemoteMediator
}

func newPagerFixture(total int) *pagerFixture {
	remote := newFakeRemote(total)
	store := memory.NewStore()
	return &pagerFixture{
		remote: remote,
		store:  store,
		med:    newTestMediator(remote, store),
	}
}

func (f *pagerFixture) pager(query string, remoteBacked bool, cfg PagerConfig) *Pager {
	var m Mediator
	if remoteBacked {
		m = f.med
	}
	return NewPager(query, f.store, m, cfg, nopLogger())
}

func TestPager_RefreshAndAppendToCeiling(t *testing.T) {
	ctx := context.Background()
	f := newPagerFixture(151)
	p := f.pager("", true, PagerConfig{PageSize: 20})
	defer p.Close()

	if err := p.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	snap := p.Snapshot()
	if diff := cmp.Diff(seqIDs(1, 20), ids(snap.Items)); diff != "" {
		t.Fatalf("window mismatch (-want +got):\n%s", diff)
	}
	if snap.LoadStates.Append != (NotLoading{}) {
		t.Fatalf("expected append idle, got %#v", snap.LoadStates.Append)
	}
	if snap.LoadStates.Prepend != (NotLoading{EndOfPaginationReached: true}) {
		t.Fatalf("expected prepend terminal, got %#v", snap.LoadStates.Prepend)
	}

	for range 10 {
		if err := p.LoadMore(ctx); err != nil {
			t.Fatalf("load more: %v", err)
		}
	}

	snap = p.Snapshot()
	if diff := cmp.Diff(seqIDs(1, 100), ids(snap.Items)); diff != "" {
		t.Fatalf("window mismatch (-want +got):\n%s", diff)
	}
	if snap.LoadStates.Append != (NotLoading{EndOfPaginationReached: true}) {
		t.Fatalf("expected append end reached, got %#v", snap.LoadStates.Append)
	}
	for _, c := range f.remote.Calls() {
		if c.offset >= DefaultMaxItems {
			t.Fatalf("fetched at offset %d, beyond the item ceiling", c.offset)
		}
	}
	if got := len(f.remote.Calls()); got != 5 {
		t.Fatalf("expected 5 remote fetches, got %d", got)
	}
}

func TestPager_EmptyCatalogEndsAppend(t *testing.T) {
	ctx := context.Background()
	f := newPagerFixture(0)
	p := f.pager("", true, PagerConfig{PageSize: 20})
	defer p.Close()

	if err := p.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := p.LoadMore(ctx); err != nil {
		t.Fatalf("load more: %v", err)
	}
	snap := p.Snapshot()
	if len(snap.Items) != 0 {
		t.Fatalf("expected empty window, got %v", ids(snap.Items))
	}
	if snap.LoadStates.Append != (NotLoading{EndOfPaginationReached: true}) {
		t.Fatalf("expected append end reached, got %#v", snap.LoadStates.Append)
	}
	if got := len(f.remote.Calls()); got != 1 {
		t.Fatalf("expected only the refresh fetch, got %d calls", got)
	}
}

func TestPager_SearchIsLocalOnly(t *testing.T) {
	ctx := context.Background()
	f := newPagerFixture(151)
	seed := f.pager("", true, PagerConfig{PageSize: 20})
	if err := seed.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if err := seed.LoadMore(ctx); err != nil {
		t.Fatal(err)
	}
	seed.Close()
	before := len(f.remote.Calls())

	p := f.pager("CHU", false, PagerConfig{PageSize: 20})
	defer p.Close()
	if err := p.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := p.LoadMore(ctx); err != nil {
		t.Fatalf("load more: %v", err)
	}

	snap := p.Snapshot()
	if diff := cmp.Diff([]int{25, 26}, ids(snap.Items)); diff != "" {
		t.Fatalf("window mismatch (-want +got):\n%s", diff)
	}
	if snap.LoadStates.Append != (NotLoading{EndOfPaginationReached: true}) {
		t.Fatalf("expected append end reached, got %#v", snap.LoadStates.Append)
	}
	if after := len(f.remote.Calls()); after != before {
		t.Fatalf("expected no remote calls for a search, got %d new", after-before)
	}
}

func TestPager_RefreshFailureShowsCachedRows(t *testing.T) {
	ctx := context.Background()
	f := newPagerFixture(151)
	seed := f.pager("", true, PagerConfig{PageSize: 20})
	if err := seed.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	seed.Close()

	f.remote.setErr(&domain.TransportError{Op: "list", Err: errors.New("timeout")})
	p := f.pager("", true, PagerConfig{PageSize: 20})
	defer p.Close()

	err := p.Refresh(ctx)
	var transportErr *domain.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected transport error, got %v", err)
	}

	snap := p.Snapshot()
	if _, ok := snap.LoadStates.Refresh.(LoadError); !ok {
		t.Fatalf("expected refresh LoadError, got %#v", snap.LoadStates.Refresh)
	}
	if diff := cmp.Diff(seqIDs(1, 20), ids(snap.Items)); diff != "" {
		t.Fatalf("expected cached rows (-want +got):\n%s", diff)
	}

	f.remote.setErr(nil)
	if err := p.Retry(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if st := p.Snapshot().LoadStates.Refresh; st != (NotLoading{}) {
		t.Fatalf("expected refresh idle after retry, got %#v", st)
	}
}

func TestPager_AppendFailureKeepsWindow(t *testing.T) {
	ctx := context.Background()
	f := newPagerFixture(151)
	p := f.pager("", true, PagerConfig{PageSize: 20})
	defer p.Close()
	if err := p.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	f.remote.setErr(&domain.RemoteStatusError{Op: "list", StatusCode: 503})
	if err := p.LoadMore(ctx); err == nil {
		t.Fatal("expected append error")
	}
	snap := p.Snapshot()
	if _, ok := snap.LoadStates.Append.(LoadError); !ok {
		t.Fatalf("expected append LoadError, got %#v", snap.LoadStates.Append)
	}
	if len(snap.Items) != 20 {
		t.Fatalf("expected 20 items kept, got %d", len(snap.Items))
	}

	f.remote.setErr(nil)
	if err := p.Retry(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := len(p.Snapshot().Items); got != 40 {
		t.Fatalf("expected 40 items after retry, got %d", got)
	}
}

func TestPager_AccessPrefetch(t *testing.T) {
	ctx := context.Background()
	f := newPagerFixture(151)
	p := f.pager("", true, PagerConfig{PageSize: 20, PrefetchDistance: 5})
	defer p.Close()
	if err := p.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	if err := p.Access(ctx, 10); err != nil {
		t.Fatal(err)
	}
	if got := len(p.Snapshot().Items); got != 20 {
		t.Fatalf("expected no prefetch at index 10, got %d items", got)
	}

	if err := p.Access(ctx, 16); err != nil {
		t.Fatal(err)
	}
	if got := len(p.Snapshot().Items); got != 40 {
		t.Fatalf("expected prefetch at index 16, got %d items", got)
	}
}

func TestPager_ConcurrentAppendsShareOneLoad(t *testing.T) {
	ctx := context.Background()
	f := newPagerFixture(151)
	p := f.pager("", true, PagerConfig{PageSize: 20})
	defer p.Close()
	if err := p.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	f.remote.blockAt(20)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- p.LoadMore(ctx)
	}()
	<-f.remote.entered

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- p.LoadMore(ctx)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(f.remote.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("load more: %v", err)
		}
	}

	appends := 0
	for _, c := range f.remote.Calls() {
		if c.offset == 20 {
			appends++
		}
	}
	if appends != 1 {
		t.Fatalf("expected one fetch at offset 20, got %d", appends)
	}
	if diff := cmp.Diff(seqIDs(1, 40), ids(p.Snapshot().Items)); diff != "" {
		t.Fatalf("window mismatch (-want +got):\n%s", diff)
	}
}

func TestPager_RefreshSupersedesAppend(t *testing.T) {
	ctx := context.Background()
	f := newPagerFixture(151)
	p := f.pager("", true, PagerConfig{PageSize: 20})
	defer p.Close()
	if err := p.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	f.remote.blockAt(20)

	appendDone := make(chan error, 1)
	go func() { appendDone <- p.LoadMore(ctx) }()
	<-f.remote.entered

	if err := p.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := <-appendDone; err != nil {
		t.Fatalf("superseded append should end quietly, got %v", err)
	}

	snap := p.Snapshot()
	if diff := cmp.Diff(seqIDs(1, 20), ids(snap.Items)); diff != "" {
		t.Fatalf("window mismatch (-want +got):\n%s", diff)
	}
	if snap.LoadStates.Append != (NotLoading{}) {
		t.Fatalf("expected append idle, got %#v", snap.LoadStates.Append)
	}
	if n, _ := f.store.Count(ctx); n != 20 {
		t.Fatalf("expected only the refreshed page in the store, got %d rows", n)
	}
}

func TestPager_AppendDuringRefreshIsDropped(t *testing.T) {
	ctx := context.Background()
	f := newPagerFixture(151)
	p := f.pager("", true, PagerConfig{PageSize: 20})
	defer p.Close()
	if err := p.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if err := p.LoadMore(ctx); err != nil {
		t.Fatal(err)
	}
	if got := len(p.Snapshot().Items); got != 40 {
		t.Fatalf("expected 40 items before refresh, got %d", got)
	}

	f.remote.blockAt(0)
	f.remote.blockAt(40)
	refreshDone := make(chan error, 1)
	go func() { refreshDone <- p.Refresh(ctx) }()
	<-f.remote.entered

	if err := p.LoadMore(ctx); err != nil {
		t.Fatalf("load more during refresh: %v", err)
	}
	close(f.remote.release)
	if err := <-refreshDone; err != nil {
		t.Fatalf("refresh: %v", err)
	}
	for _, c := range f.remote.Calls() {
		if c.offset == 40 {
			t.Fatal("append mid-refresh must not reach the remote")
		}
	}

	snap := p.Snapshot()
	if diff := cmp.Diff(seqIDs(1, 20), ids(snap.Items)); diff != "" {
		t.Fatalf("window mismatch (-want +got):\n%s", diff)
	}
	if snap.LoadStates.Append != (NotLoading{}) {
		t.Fatalf("expected append open after refresh, got %#v", snap.LoadStates.Append)
	}

	if err := p.Access(ctx, 19); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(seqIDs(1, 40), ids(p.Snapshot().Items)); diff != "" {
		t.Fatalf("window after access mismatch (-want +got):\n%s", diff)
	}
}

func TestPager_AppendCapturedBeforeRefreshCommitIsStale(t *testing.T) {
	ctx := context.Background()
	f := newPagerFixture(151)
	p := f.pager("", true, PagerConfig{PageSize: 20})
	defer p.Close()

	f.remote.blockAt(0)
	refreshDone := make(chan error, 1)
	go func() { refreshDone <- p.Refresh(ctx) }()
	<-f.remote.entered

	p.mu.Lock()
	staleEpoch, staleCtx := p.epoch, p.epochCtx
	p.mu.Unlock()

	close(f.remote.release)
	if err := <-refreshDone; err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if staleCtx.Err() == nil {
		t.Fatal("expected the refresh epoch context to be cancelled on commit")
	}
	if err := p.appendPage(staleCtx, staleEpoch); err != nil {
		t.Fatalf("stale append: %v", err)
	}
	if got := len(p.Snapshot().Items); got != 20 {
		t.Fatalf("stale append changed the window: %d items", got)
	}
}

func TestPager_UpdatesAndClose(t *testing.T) {
	ctx := context.Background()
	f := newPagerFixture(151)
	p := f.pager("", true, PagerConfig{PageSize: 20})

	go func() { _ = p.Refresh(ctx) }()
	snap := waitSnapshot(t, p.Updates(), func(s Snapshot) bool {
		return len(s.Items) == 20 && s.LoadStates.Refresh == (NotLoading{})
	})
	if snap.Query != "" {
		t.Fatalf("expected blank query, got %q", snap.Query)
	}

	p.Close()
	p.Close()
	for range p.Updates() {
	}
	if err := p.LoadMore(ctx); !errors.Is(err, ErrPagerClosed) {
		t.Fatalf("expected ErrPagerClosed, got %v", err)
	}
}
