// Package browse keeps one query router per client browse session and
// expires sessions that sit idle longer than the configured TTL.
package browse

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ghuser/pokedex/pkg/logger"
	"github.com/ghuser/pokedex/services/pokemon/application/paging"
	"github.com/ghuser/pokedex/services/pokemon/domain"
)

// DefaultTTL is used when NewRegistry is given a non-positive TTL.
const DefaultTTL = 15 * time.Minute

// RouterFactory returns a fresh, unstarted router.
type RouterFactory func() *paging.Router

// Session is one client's browse state.
type Session struct {
	ID        uuid.UUID
	Router    *paging.Router
	CreatedAt time.Time

	lastSeen atomic.Int64
}

// LastSeen returns when the session was last used.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

func (s *Session) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

// Registry owns all live sessions.
type Registry struct {
	factory RouterFactory
	ttl     time.Duration
	now     func() time.Time
	log     logger.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	closed   bool
}

// NewRegistry returns an empty registry.
func NewRegistry(factory RouterFactory, ttl time.Duration, log logger.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		factory:  factory,
		ttl:      ttl,
		now:      time.Now,
		log:      log.With("component", "browse_registry"),
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Create starts a new session with the initial blank query.
func (r *Registry) Create() (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, paging.ErrRouterClosed
	}

	now := r.now()
	s := &Session{ID: uuid.New(), Router: r.factory(), CreatedAt: now}
	s.touch(now)
	s.Router.Start()
	r.sessions[s.ID] = s
	r.log.Debug("browse session created", "session_id", s.ID)
	return s, nil
}

// Get returns the session for id and marks it used.
func (r *Registry) Get(id uuid.UUID) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	s.touch(r.now())
	return s, nil
}

// Close ends the session for id.
func (r *Registry) Close(id uuid.UUID) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return domain.ErrSessionNotFound
	}
	s.Router.Close()
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Reap closes sessions idle for longer than the TTL and returns how many.
func (r *Registry) Reap() int {
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	var expired []*Session
	for id, s := range r.sessions {
		if s.LastSeen().Before(cutoff) {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.Router.Close()
	}
	if len(expired) > 0 {
		r.log.Info("expired idle browse sessions", "count", len(expired))
	}
	return len(expired)
}

// Run reaps idle sessions every interval until ctx ends, then closes all
// remaining sessions.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.ttl / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.CloseAll()
			return
		case <-ticker.C:
			r.Reap()
		}
	}
}

// CloseAll closes every session and rejects further Create calls.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	r.closed = true
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.sessions = make(map[uuid.UUID]*Session)
	r.mu.Unlock()

	for _, s := range all {
		s.Router.Close()
	}
}
