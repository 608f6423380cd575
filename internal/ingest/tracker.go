package ingest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/ingestmesh/internal/core/domain"
	"github.com/yndnr/ingestmesh/pkg/cmap"
)

// DefaultTrackerTTL is how long a session nobody touches stays tracked.
const DefaultTrackerTTL = time.Hour

type sessionParts struct {
	mu       sync.Mutex
	accepted map[uint64]bool
	touched  time.Time
}

// PartitionTracker records which partitions of each session passed audit
// on this server. Sessions are dropped when they complete or after they
// sat idle for the TTL.
type PartitionTracker struct {
	sessions *cmap.Map[string, *sessionParts]
	ttl      time.Duration
	now      func() time.Time

	lastPrune atomic.Int64
}

// TrackerOption configures a PartitionTracker.
type TrackerOption func(*PartitionTracker)

// WithTTL sets how long idle sessions are kept.
func WithTTL(ttl time.Duration) TrackerOption {
	return func(t *PartitionTracker) {
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

func withClock(now func() time.Time) TrackerOption {
	return func(t *PartitionTracker) { t.now = now }
}

// NewPartitionTracker creates an empty tracker.
func NewPartitionTracker(opts ...TrackerOption) *PartitionTracker {
	t := &PartitionTracker{
		sessions: cmap.New[string, *sessionParts](),
		ttl:      DefaultTrackerTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.lastPrune.Store(t.now().UnixNano())
	return t
}

// Accept marks page of session as audited.
func (t *PartitionTracker) Accept(k domain.SessionKey, page uint64) {
	now := t.now()
	t.maybePrune(now)

	sp, _ := t.sessions.LoadOrStore(k.String(), &sessionParts{accepted: make(map[uint64]bool)})
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.accepted[page] = true
	sp.touched = now
}

// Accepted reports whether page of session passed audit.
func (t *PartitionTracker) Accepted(k domain.SessionKey, page uint64) bool {
	sp, ok := t.sessions.Get(k.String())
	if !ok {
		return false
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.accepted[page]
}

// Forget drops everything known about session.
func (t *PartitionTracker) Forget(k domain.SessionKey) {
	t.sessions.Delete(k.String())
}

// Len returns the number of tracked sessions.
func (t *PartitionTracker) Len() int {
	return t.sessions.Len()
}

// Prune drops sessions untouched since now minus the TTL and returns how
// many were dropped.
func (t *PartitionTracker) Prune(now time.Time) int {
	cutoff := now.Add(-t.ttl)
	var stale []string
	for k, sp := range t.sessions.All() {
		sp.mu.Lock()
		if sp.touched.Before(cutoff) {
			stale = append(stale, k)
		}
		sp.mu.Unlock()
	}
	for _, k := range stale {
		t.sessions.Delete(k)
	}
	return len(stale)
}

// maybePrune runs Prune at most once per TTL.
func (t *PartitionTracker) maybePrune(now time.Time) {
	last := t.lastPrune.Load()
	if now.UnixNano()-last < int64(t.ttl) || !t.lastPrune.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	t.Prune(now)
}
