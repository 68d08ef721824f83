package events

import "sync"

// recentIDCapacity bounds how many handled event IDs a bus remembers.
const recentIDCapacity = 1024

// recentIDs is a fixed-size set of recently handled event IDs; the oldest
// entry is evicted first.
type recentIDs struct {
	mu   sync.Mutex
	ids  map[string]struct{}
	ring []string
	next int
}

func newRecentIDs(capacity int) *recentIDs {
	return &recentIDs{
		ids:  make(map[string]struct{}, capacity),
		ring: make([]string, capacity),
	}
}

func (r *recentIDs) contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ids[id]
	return ok
}

func (r *recentIDs) add(id string) {
	if id == "" || len(r.ring) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ids[id]; ok {
		return
	}
	if old := r.ring[r.next]; old != "" {
		delete(r.ids, old)
	}
	r.ring[r.next] = id
	r.ids[id] = struct{}{}
	r.next = (r.next + 1) % len(r.ring)
}
