// Package statestore abstracts the shared key-value service that backs
// rate-limit counters, the economic breaker, the reserve state, and the
// sponsorship queue (spec §4.1). It never returns an error from Get/Set at
// the interface level: failures are surfaced as absence or no-op and
// logged, so a transient dependency outage degrades a caller rather than
// aborting a cycle.
package statestore

import (
	"context"
	"log"
	"sync"
	"time"
)

// Store is the three-operation interface every component depends on.
type Store interface {
	// Get returns the most recently set value, or ok=false if never set or
	// expired.
	Get(ctx context.Context, key string) (value []byte, ok bool)
	// Set overwrites unconditionally. ttl of zero means persistent.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	// SetNX sets only if the key is absent or expired, atomically, and
	// reports whether the write occurred.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) bool
}

var (
	resolveOnce sync.Once
	resolved    Store
)

// Resolve lazily selects and caches the process-wide Store: a remote
// backend when redisURL is non-empty and reachable, otherwise the
// in-process fallback. Selection happens once per process; callers that
// need a fresh instance (tests) should construct one of the concrete types
// directly instead of calling Resolve.
func Resolve(redisURL string) Store {
	resolveOnce.Do(func() {
		if redisURL != "" {
			if rs, err := NewRedisStore(redisURL); err == nil {
				log.Printf("statestore: using remote backend")
				resolved = rs
				return
			} else {
				log.Printf("statestore: remote backend unavailable, falling back to in-process map: %v", err)
			}
		}
		resolved = NewMemoryStore()
	})
	return resolved
}
