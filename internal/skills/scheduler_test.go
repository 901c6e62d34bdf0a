package skills

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScheduler_TickRunsDueScheduleSkills(t *testing.T) {
	s := NewScheduler()
	var calls int32
	s.Register(Descriptor{
		Name:       "sweep",
		Trigger:    TriggerSchedule,
		IntervalMs: 0, // always due
		Enabled:    true,
		Run: func(context.Context, any) error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
	})

	s.Tick(context.Background())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestScheduler_DisabledSkillNeverRuns(t *testing.T) {
	s := NewScheduler()
	var calls int32
	s.Register(Descriptor{
		Name:       "sweep",
		Trigger:    TriggerSchedule,
		IntervalMs: 0,
		Enabled:    false,
		Run: func(context.Context, any) error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
	})

	s.Tick(context.Background())
	assert.Zero(t, atomic.LoadInt32(&calls))

	s.SetEnabled("sweep", true)
	s.Tick(context.Background())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestScheduler_PanicInSkillIsContained(t *testing.T) {
	s := NewScheduler()
	s.Register(Descriptor{
		Name:       "exploder",
		Trigger:    TriggerSchedule,
		IntervalMs: 0,
		Enabled:    true,
		Run: func(context.Context, any) error {
			panic("boom")
		},
	})

	assert.NotPanics(t, func() {
		s.Tick(context.Background())
	})
}

func TestScheduler_ErrorFromSkillIsLoggedNotPropagated(t *testing.T) {
	s := NewScheduler()
	s.Register(Descriptor{
		Name:       "flaky",
		Trigger:    TriggerSchedule,
		IntervalMs: 0,
		Enabled:    true,
		Run: func(context.Context, any) error {
			return errors.New("transient failure")
		},
	})

	assert.NotPanics(t, func() {
		s.Tick(context.Background())
	})
}

func TestScheduler_EmitOnlyRunsSubscribedSkills(t *testing.T) {
	s := NewScheduler()
	var subscribed, unsubscribed int32
	s.Register(Descriptor{
		Name:    "on-budget-topped-up",
		Trigger: TriggerEvent,
		Events:  []string{"budget.topped_up"},
		Enabled: true,
		Run: func(context.Context, any) error {
			atomic.AddInt32(&subscribed, 1)
			return nil
		},
	})
	s.Register(Descriptor{
		Name:    "on-other-event",
		Trigger: TriggerEvent,
		Events:  []string{"something.else"},
		Enabled: true,
		Run: func(context.Context, any) error {
			atomic.AddInt32(&unsubscribed, 1)
			return nil
		},
	})

	s.Emit(context.Background(), "budget.topped_up", nil)
	assert.Equal(t, int32(1), atomic.LoadInt32(&subscribed))
	assert.Zero(t, atomic.LoadInt32(&unsubscribed))
}

func TestScheduler_RequestReturnsSkillError(t *testing.T) {
	s := NewScheduler()
	want := errors.New("request failed")
	s.Register(Descriptor{
		Name:    "on-demand",
		Trigger: TriggerRequest,
		Enabled: true,
		Run: func(context.Context, any) error {
			return want
		},
	})

	err := s.Request(context.Background(), "on-demand", nil)
	assert.ErrorIs(t, err, want)
}

func TestScheduler_RequestUnknownNameIsNoop(t *testing.T) {
	s := NewScheduler()
	err := s.Request(context.Background(), "missing", nil)
	assert.NoError(t, err)
}

func TestScheduler_TickGateDefersOverflowToNextTick(t *testing.T) {
	s := NewScheduler()
	var calls int32
	for i := 0; i < tickBurstLimit+3; i++ {
		name := "skill"
		s.Register(Descriptor{
			Name:       name + string(rune('a'+i)),
			Trigger:    TriggerSchedule,
			IntervalMs: 0,
			Enabled:    true,
			Run: func(context.Context, any) error {
				atomic.AddInt32(&calls, 1)
				return nil
			},
		})
	}

	s.Tick(context.Background())
	assert.LessOrEqual(t, int(atomic.LoadInt32(&calls)), tickBurstLimit, "a burst above the gate must not all run in one tick")
}
