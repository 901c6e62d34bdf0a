package orchestrator

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"aegis/internal/adapters"
	"aegis/internal/breaker"
	"aegis/internal/domain"
	"aegis/internal/policy"
	"aegis/internal/ratelimit"
)

const (
	executionBreakerThreshold = 5
	executionBreakerWindow    = 10 * time.Minute
)

// runner bundles a Mode with the per-mode state the orchestrator tracks:
// its ticker, its execution breaker, and its alert channel.
type runner struct {
	mode    Mode
	interval time.Duration
	breaker *executionBreaker
	events  chan Event
}

// Orchestrator owns one runner per registered Mode and the shared
// collaborators a cycle needs: the policy engine, rate-limited post
// publisher, and memory recorder.
type Orchestrator struct {
	Engine        *policy.Engine
	Executor      adapters.Executor
	Recorder      adapters.MemoryRecorder
	PostLimiter   *ratelimit.PostLimiter
	CurrentGasGwei func() float64

	// Breaker, when set, is consulted before any live sponsorship
	// execution, same as the queue Consumer (spec §2's "the Breaker is
	// consulted before any sponsorship execution" cross-cutting rule).
	Breaker *breaker.Breaker

	// DebitProtocol, when set, subtracts a completed sponsorship's actual
	// cost from the sponsoring protocol's prepaid budget.
	DebitProtocol func(protocolID string, usd float64)

	runners  []*runner
	draining atomic.Bool
	wg       sync.WaitGroup
}

// New constructs an empty Orchestrator; call Register for each Mode before
// Start.
func New() *Orchestrator {
	return &Orchestrator{}
}

// Events returns the alert-event channel for a registered mode id, or nil
// if unknown. Intended for a health/admin surface to drain and log.
func (o *Orchestrator) Events(modeID string) <-chan Event {
	for _, r := range o.runners {
		if r.mode.ID == modeID {
			return r.events
		}
	}
	return nil
}

// Register adds a Mode with its tick interval.
func (o *Orchestrator) Register(mode Mode, interval time.Duration) {
	o.runners = append(o.runners, &runner{
		mode:     mode,
		interval: interval,
		breaker:  newExecutionBreaker(executionBreakerThreshold, executionBreakerWindow),
		events:   make(chan Event, 32),
	})
}

// Start runs OnStart for every mode, then launches one goroutine per mode
// running its ticker to completion-before-next-fire (spec §4.8, §5: no
// overlap within a mode). It returns immediately; Stop blocks until every
// in-flight cycle finishes.
func (o *Orchestrator) Start(ctx context.Context) {
	for _, r := range o.runners {
		if r.mode.OnStart != nil {
			if err := r.mode.OnStart(ctx); err != nil {
				log.Printf("orchestrator[%s]: onStart failed: %v", r.mode.ID, err)
			}
		}
	}
	for _, r := range o.runners {
		o.wg.Add(1)
		go o.runTicker(ctx, r)
	}
}

// Stop sets the draining flag and waits (best-effort, bounded by ctx) for
// in-flight cycles to finish.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.draining.Store(true)
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("orchestrator: stop deadline exceeded with cycles still in flight")
	}
}

func (o *Orchestrator) runTicker(ctx context.Context, r *runner) {
	defer o.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if o.draining.Load() {
				return
			}
			if r.breaker.Halted() {
				o.emit(r, PhaseHalted, "mode halted after repeated execute failures")
				continue
			}
			o.runCycle(ctx, r)
		}
	}
}

func (o *Orchestrator) emit(r *runner, phase Phase, message string) {
	select {
	case r.events <- Event{ModeID: r.mode.ID, Phase: phase, Message: message, Timestamp: time.Now()}:
	default:
		log.Printf("orchestrator[%s]: alert channel full, dropping %s event", r.mode.ID, phase)
	}
}

// runCycle executes one observe -> reason -> validate -> execute -> record
// pass for a single mode. Any step's error aborts the cycle and emits an
// alert event; the next tick still runs (spec §4.8).
func (o *Orchestrator) runCycle(ctx context.Context, r *runner) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("orchestrator[%s]: cycle panicked: %v", r.mode.ID, rec)
			o.emit(r, PhaseError, "cycle panicked")
		}
	}()

	o.emit(r, PhaseCycleStart, "")

	observations, err := r.mode.Observe(ctx)
	if err != nil {
		log.Printf("orchestrator[%s]: observe failed: %v", r.mode.ID, err)
		o.emit(r, PhaseError, "observe failed: "+err.Error())
		return
	}
	o.emit(r, PhaseObserved, "")

	memories := o.recallMemories(ctx, r.mode.ID)

	decision, err := r.mode.Reason(ctx, observations, memories)
	if err != nil {
		log.Printf("orchestrator[%s]: reason failed: %v", r.mode.ID, err)
		o.emit(r, PhaseError, "reason failed: "+err.Error())
		return
	}

	cfg := r.mode.effectiveConfig(ctx)
	if o.CurrentGasGwei != nil {
		cfg.CurrentGasPriceGwei = o.CurrentGasGwei()
	}

	validation := o.Engine.Validate(ctx, decision, cfg)
	if !validation.Passed {
		reason := policy.JoinErrors(validation.Errors)
		o.recordMemory(ctx, r.mode.ID, adapters.OutcomePolicyRejected, reason, validation.Errors)
		o.emit(r, PhasePolicyRejected, reason)
		return
	}

	if decision.Confidence < cfg.ConfidenceThreshold {
		msg := "confidence below threshold"
		o.recordMemory(ctx, r.mode.ID, adapters.OutcomeLowConfidence, msg, nil)
		o.emit(r, PhaseLowConfidence, msg)
		return
	}

	o.execute(ctx, r, decision)
}

func (o *Orchestrator) execute(ctx context.Context, r *runner, decision domain.Decision) {
	cfg := r.mode.effectiveConfig(ctx)
	if o.CurrentGasGwei != nil {
		cfg.CurrentGasPriceGwei = o.CurrentGasGwei()
	}

	if cfg.ExecutionMode == domain.ExecutionReadOnly {
		o.recordMemory(ctx, r.mode.ID, adapters.OutcomeExecuted, "read-only mode, no execution", nil)
		o.emit(r, PhaseExecuted, "read-only")
		return
	}

	if !decision.IsSponsorship() {
		o.recordMemory(ctx, r.mode.ID, adapters.OutcomeExecuted, string(decision.Action), nil)
		o.emit(r, PhaseExecuted, string(decision.Action))
		return
	}

	if o.Breaker != nil {
		gasPrice := cfg.CurrentGasPriceGwei
		if res := o.Breaker.Check(ctx, breaker.CheckInput{CurrentGasPriceGwei: &gasPrice}); res.Open {
			o.recordMemory(ctx, r.mode.ID, adapters.OutcomeError, "economic breaker open: "+res.Reason, []string{res.Reason})
			o.emit(r, PhaseBreakerOpen, res.Reason)
			return
		}
	}

	result, err := o.Executor.Sponsor(ctx, decision.Sponsor.AgentAddress, decision.Sponsor.ProtocolID, decision.Sponsor.MaxGasUnits, decision.Sponsor.TargetContract)
	if err != nil || !result.Success {
		msg := "execute failed"
		if err != nil {
			msg = err.Error()
		} else if result.Error != "" {
			msg = result.Error
		}
		r.breaker.RecordFailure(time.Now())
		o.recordMemory(ctx, r.mode.ID, adapters.OutcomeExecuteFailed, msg, []string{msg})
		o.emit(r, PhaseExecuteFailed, msg)
		return
	}

	r.breaker.RecordSuccess(time.Now())
	o.publishTransparencyPost(ctx, decision)
	if r.mode.RecordSponsorship != nil {
		nativeCost := domain.EstimateNativeCost(decision.Sponsor.MaxGasUnits, cfg.CurrentGasPriceGwei)
		r.mode.RecordSponsorship(ctx, nativeCost)
	}
	if o.DebitProtocol != nil {
		o.DebitProtocol(decision.Sponsor.ProtocolID, result.ActualCostUSD)
	}
	o.recordMemory(ctx, r.mode.ID, adapters.OutcomeExecuted, "sponsorship executed", nil)
	o.emit(r, PhaseExecuted, result.TxHash)
}

func (o *Orchestrator) publishTransparencyPost(ctx context.Context, decision domain.Decision) {
	if o.PostLimiter == nil {
		return
	}
	if !o.PostLimiter.Consume(ctx, ratelimit.CategoryProof) {
		log.Printf("orchestrator: transparency post suppressed, monthly proof budget exhausted")
	}
}

func (o *Orchestrator) recordMemory(ctx context.Context, modeID string, outcome adapters.MemoryOutcome, reason string, errs []string) {
	if o.Recorder == nil {
		return
	}
	if err := o.Recorder.Record(ctx, adapters.Memory{
		ModeID:    modeID,
		Outcome:   outcome,
		Reason:    reason,
		Errors:    errs,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		log.Printf("orchestrator[%s]: failed to record memory: %v", modeID, err)
	}
}

// recallMemories is a narrow seam for a future durable recall source; the
// core cycle only needs whatever the recorder chooses to surface, and
// nothing in SPEC_FULL.md requires querying history back in, so this
// returns nil until a MemoryRecorder implementation adds a matching read
// path.
func (o *Orchestrator) recallMemories(ctx context.Context, modeID string) []adapters.Memory {
	return nil
}
