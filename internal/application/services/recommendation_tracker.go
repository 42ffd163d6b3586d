package services

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultTrackerIdle     = 30 * time.Minute
	defaultTrackerSessions = 50000
)

// RecommendationTracker is the set of products already shown to one
// session in the current render cycle
type RecommendationTracker struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewRecommendationTracker creates an empty tracker
func NewRecommendationTracker() *RecommendationTracker {
	return &RecommendationTracker{seen: make(map[string]struct{})}
}

// MarkSeen records ids as shown
func (t *RecommendationTracker) MarkSeen(ids ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		t.seen[id] = struct{}{}
	}
}

// Filter returns the ids not yet seen, preserving order
func (t *RecommendationTracker) Filter(ids []string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := t.seen[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// Claim filters ids and marks the survivors seen in one step, so two
// sections rendering concurrently never receive the same product
func (t *RecommendationTracker) Claim(ids []string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := t.seen[id]; ok {
			continue
		}
		t.seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Reset starts a new render cycle
func (t *RecommendationTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen = make(map[string]struct{})
}

// Len returns the number of products seen
func (t *RecommendationTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}

// TrackerRegistry holds per-session trackers that expire after a period
// without use
type TrackerRegistry struct {
	mu       sync.Mutex
	trackers *expirable.LRU[string, *RecommendationTracker]
}

// NewTrackerRegistry creates a registry of at most size sessions
func NewTrackerRegistry(size int, idle time.Duration) *TrackerRegistry {
	if size <= 0 {
		size = defaultTrackerSessions
	}
	if idle <= 0 {
		idle = defaultTrackerIdle
	}
	return &TrackerRegistry{trackers: expirable.NewLRU[string, *RecommendationTracker](size, nil, idle)}
}

// Get returns the session's tracker, creating it when absent. Each access
// renews the idle timer.
func (r *TrackerRegistry) Get(sessionID string) *RecommendationTracker {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trackers.Get(sessionID)
	if !ok {
		t = NewRecommendationTracker()
	}
	r.trackers.Add(sessionID, t)
	return t
}

// Reset clears the session's tracker if it exists
func (r *TrackerRegistry) Reset(sessionID string) {
	r.mu.Lock()
	t, ok := r.trackers.Peek(sessionID)
	r.mu.Unlock()
	if ok {
		t.Reset()
	}
}

// Len returns the number of live sessions
func (r *TrackerRegistry) Len() int {
	return r.trackers.Len()
}
