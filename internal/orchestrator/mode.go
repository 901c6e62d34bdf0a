// Package orchestrator runs one periodic ticker per Mode (spec §4.8): an
// observe -> recall -> reason -> validate -> execute -> record cycle, with
// a buffered phase-event channel adapted from the teacher's strategy
// report contract and a bounded-failure execution breaker that halts a
// single mode's own ticker without touching the Economic Breaker.
package orchestrator

import (
	"context"
	"time"

	"aegis/internal/adapters"
	"aegis/internal/domain"
)

// Phase tags one reported event in a Mode's lifecycle, adapted from the
// teacher's StrategyPhase state machine.
type Phase string

const (
	PhaseCycleStart      Phase = "cycle_start"
	PhaseObserved        Phase = "observed"
	PhasePolicyRejected  Phase = "policy_rejected"
	PhaseLowConfidence   Phase = "low_confidence"
	PhaseExecuted        Phase = "executed"
	PhaseExecuteFailed   Phase = "execute_failed"
	PhaseError           Phase = "error"
	PhaseHalted          Phase = "halted"
	PhaseBreakerOpen     Phase = "breaker_open"
)

// Event is one phase-tagged report emitted onto a Mode's alert channel.
type Event struct {
	ModeID    string
	Phase     Phase
	Message   string
	Timestamp time.Time
}

// Observer produces this cycle's Observations. Returning an empty slice is
// valid and common (e.g. gas-sponsorship mode skipping while in emergency
// mode).
type Observer func(ctx context.Context) ([]domain.Observation, error)

// Reasoner turns Observations plus recalled memories into a single
// Decision for the cycle.
type Reasoner func(ctx context.Context, observations []domain.Observation, memories []adapters.Memory) (domain.Decision, error)

// Mode is one of the two control loops the spec defines (reserve-pipeline,
// gas-sponsorship), or any future addition following the same contract.
type Mode struct {
	ID       string
	Name     string
	Baseline domain.AgentConfig
	Observe  Observer
	Reason   Reasoner
	// OnStart runs once before the first tick; reserve-pipeline mode uses
	// it to seed the Reserve State with a fresh wallet balance read.
	OnStart func(ctx context.Context) error
	// AdaptConfig derives this cycle's effective config from the
	// baseline; gas-sponsorship mode raises its confidence threshold here
	// when the Reserve State's health score is low (spec §4.8).
	AdaptConfig func(ctx context.Context, baseline domain.AgentConfig) domain.AgentConfig
	// RecordSponsorship, when set, persists the Reserve State burn after a
	// successful live sponsorship (spec §2's "the Reserve State is updated
	// after success"). reserve-pipeline mode leaves this nil: its Reason
	// step never produces a SPONSOR_TRANSACTION decision.
	RecordSponsorship func(ctx context.Context, nativeCostETH float64)
}

func (m Mode) effectiveConfig(ctx context.Context) domain.AgentConfig {
	if m.AdaptConfig == nil {
		return m.Baseline
	}
	return m.AdaptConfig(ctx, m.Baseline)
}
