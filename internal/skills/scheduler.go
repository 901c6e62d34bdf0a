// Package skills implements the small in-memory skill registry from spec
// §4.10: schedule/event/request-triggered units of work, run at most once
// per interval, with failures caught and logged rather than propagated.
package skills

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// tickBurstLimit caps how many schedule-triggered skills may run in a
// single Tick call, so a pile-up of simultaneously-due skills cannot
// monopolize the goroutine that calls Tick.
const tickBurstLimit = 10

// Trigger is the closed enumeration of how a skill is invoked.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerEvent    Trigger = "event"
	TriggerRequest  Trigger = "request"
)

// Execute is a skill's unit of work. payload is trigger-specific: nil for
// schedule ticks, the event value for TriggerEvent, the caller-supplied
// argument for TriggerRequest.
type Execute func(ctx context.Context, payload any) error

// Descriptor defines one registered skill.
type Descriptor struct {
	Name       string
	Trigger    Trigger
	IntervalMs int64    // required for TriggerSchedule
	Events     []string // required for TriggerEvent
	Enabled    bool
	Run        Execute
}

type entry struct {
	descriptor Descriptor
	lastRun    time.Time
	enabled    bool
}

// Scheduler is a small in-memory skill registry. It is safe for concurrent
// use.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*entry
	gate    *rate.Limiter
}

// NewScheduler constructs an empty Scheduler. The tick gate allows up to
// tickBurstLimit schedule-triggered skills to fire in a single Tick call
// and refills at one token/second, smoothing bursts when many skills fall
// due at once.
func NewScheduler() *Scheduler {
	return &Scheduler{
		entries: make(map[string]*entry),
		gate:    rate.NewLimiter(rate.Limit(1), tickBurstLimit),
	}
}

// Register adds or replaces a skill descriptor.
func (s *Scheduler) Register(d Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[d.Name] = &entry{descriptor: d, enabled: d.Enabled}
}

// SetEnabled toggles a registered skill at runtime.
func (s *Scheduler) SetEnabled(name string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[name]; ok {
		e.enabled = enabled
	}
}

// Tick runs every enabled schedule-triggered skill whose interval has
// elapsed since its last run. cmd/aegisd calls it from its own one-second
// ticker, separately from the orchestrator's mode tickers.
func (s *Scheduler) Tick(ctx context.Context) {
	now := time.Now()
	var due []*entry

	s.mu.Lock()
	for _, e := range s.entries {
		if !e.enabled || e.descriptor.Trigger != TriggerSchedule {
			continue
		}
		interval := time.Duration(e.descriptor.IntervalMs) * time.Millisecond
		if interval <= 0 || now.Sub(e.lastRun) >= interval {
			e.lastRun = now
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		if !s.gate.Allow() {
			log.Printf("skills[%s]: tick gate saturated, deferring to next tick", e.descriptor.Name)
			s.mu.Lock()
			e.lastRun = time.Time{} // make it immediately due again next tick
			s.mu.Unlock()
			continue
		}
		s.runSafely(ctx, e.descriptor, nil)
	}
}

// Emit runs every enabled event-triggered skill subscribed to eventName.
func (s *Scheduler) Emit(ctx context.Context, eventName string, payload any) {
	s.mu.Lock()
	var due []*entry
	for _, e := range s.entries {
		if !e.enabled || e.descriptor.Trigger != TriggerEvent {
			continue
		}
		for _, evt := range e.descriptor.Events {
			if evt == eventName {
				due = append(due, e)
				break
			}
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		s.runSafely(ctx, e.descriptor, payload)
	}
}

// Request runs a single request-triggered skill by name, returning its
// error directly (unlike Tick/Emit, a caller invoking a skill on demand
// needs to know whether it succeeded).
func (s *Scheduler) Request(ctx context.Context, name string, payload any) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok || !e.enabled || e.descriptor.Trigger != TriggerRequest {
		return nil
	}
	return e.descriptor.Run(ctx, payload)
}

func (s *Scheduler) runSafely(ctx context.Context, d Descriptor, payload any) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("skills[%s]: panicked: %v", d.Name, r)
		}
	}()
	if err := d.Run(ctx, payload); err != nil {
		log.Printf("skills[%s]: failed: %v", d.Name, err)
	}
}
