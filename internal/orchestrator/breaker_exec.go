package orchestrator

import (
	"sync"
	"time"
)

// executionBreaker halts a single Mode's own ticker after too many execute
// failures land within a trailing window, distinct from and subordinate to
// the Economic Breaker: it never blocks a decision, it only pauses this
// mode's ticker until Reset is called. Adapted from the teacher's
// CircuitBreaker.RecordError/ErrorRate shape in the (unused)
// liquidity-repositioning strategy contract.
type executionBreaker struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	failures  []time.Time
	halted    bool
	haltedAt  time.Time
}

func newExecutionBreaker(threshold int, window time.Duration) *executionBreaker {
	return &executionBreaker{threshold: threshold, window: window}
}

// RecordFailure appends a failure timestamp, trims the window, and halts
// the breaker if the threshold is reached.
func (b *executionBreaker) RecordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = append(b.failures, now)
	b.trim(now)
	if len(b.failures) >= b.threshold && !b.halted {
		b.halted = true
		b.haltedAt = now
	}
}

// RecordSuccess does not clear accumulated failures (the window alone
// ages them out); it exists for symmetry and potential future use by a
// "half-open" probe.
func (b *executionBreaker) RecordSuccess(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trim(now)
}

func (b *executionBreaker) trim(now time.Time) {
	cutoff := now.Add(-b.window)
	kept := b.failures[:0:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}

// Halted reports whether the breaker is currently halting its mode.
func (b *executionBreaker) Halted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.halted
}

// ErrorRate returns the count of failures currently inside the window.
func (b *executionBreaker) ErrorRate(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trim(now)
	return len(b.failures)
}

// Reset clears the halt and failure history; called by an operator action.
func (b *executionBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.halted = false
	b.failures = nil
}
