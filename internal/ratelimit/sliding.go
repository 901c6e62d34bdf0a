// Package ratelimit implements the sliding-window sponsorship counters
// (spec §4.2) and the monthly post-budget limiter (spec §4.9), both backed
// by the shared statestore.Store.
package ratelimit

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"aegis/internal/statestore"
)

// Window checks and records events against a sliding time window stored as
// a JSON list of Unix-millisecond timestamps under a single key. It is not
// atomic across the read-filter-write cycle; the design accepts small
// over-admission under contention in exchange for simplicity (spec §4.2).
type Window struct {
	store  statestore.Store
	window time.Duration
	quota  int
}

// NewWindow constructs a sliding-window counter with the given window and
// quota, backed by store.
func NewWindow(store statestore.Store, window time.Duration, quota int) *Window {
	return &Window{store: store, window: window, quota: quota}
}

// Check reports whether key is currently under quota, without recording an
// event. Callers that intend to admit the event must call Record
// separately, and only on the success path (spec §4.4's "only append on
// pass").
func (w *Window) Check(ctx context.Context, key string) bool {
	return len(w.load(ctx, key)) < w.quota
}

// Record appends now to the window, clamping and persisting the list with
// a TTL equal to the window. Callers must only call this after a policy
// pass, never on a rejected decision.
func (w *Window) Record(ctx context.Context, key string) {
	list := w.load(ctx, key)
	list = append(list, time.Now())
	w.persist(ctx, key, list)
}

// Count returns the number of events currently in the window, for stats
// and testing.
func (w *Window) Count(ctx context.Context, key string) int {
	return len(w.load(ctx, key))
}

func (w *Window) load(ctx context.Context, key string) []time.Time {
	raw, ok := w.store.Get(ctx, key)
	if !ok {
		return nil
	}
	var stamps []int64
	if err := json.Unmarshal(raw, &stamps); err != nil {
		log.Printf("ratelimit: corrupt window %q, treating as empty: %v", key, err)
		return nil
	}
	cutoff := time.Now().Add(-w.window)
	out := make([]time.Time, 0, len(stamps))
	for _, ms := range stamps {
		t := time.UnixMilli(ms)
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func (w *Window) persist(ctx context.Context, key string, list []time.Time) {
	stamps := make([]int64, len(list))
	for i, t := range list {
		stamps[i] = t.UnixMilli()
	}
	raw, err := json.Marshal(stamps)
	if err != nil {
		log.Printf("ratelimit: failed to marshal window %q: %v", key, err)
		return
	}
	w.store.Set(ctx, key, raw, w.window)
}

// Key builders for the well-known sliding-window counters from spec §6.

func AgentDailyKey(agentAddr string) string {
	return "aegis:sponsorship:agent:" + agentAddr + ":day"
}

const GlobalMinuteKey = "aegis:sponsorship:global:minute"

func ProtocolMinuteKey(protocolID string) string {
	return "aegis:sponsorship:protocol:" + protocolID + ":minute"
}

func SybilKey(agentAddr string) string {
	return "aegis:abuse:sybil:" + agentAddr
}
