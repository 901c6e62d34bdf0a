package queue

import (
	"context"
	"log"
	"time"

	"aegis/internal/adapters"
	"aegis/internal/breaker"
	"aegis/internal/domain"
	"aegis/internal/policy"
	"aegis/internal/signing"
)

// maxItemsPerRun bounds how many pending requests a single consumer tick
// drains, so one slow bundler call cannot starve stale-request recovery.
const maxItemsPerRun = 5

// Consumer drains the sponsorship queue on a tick: verify signature, build
// a synthetic SPONSOR_TRANSACTION Decision, validate against the policy
// engine, execute, and record the outcome (spec §4.6).
type Consumer struct {
	Queue    *Queue
	Engine   *policy.Engine
	Breaker  *breaker.Breaker
	Executor adapters.Executor
	Abuse    *policy.AbuseDetector
	Recorder adapters.MemoryRecorder

	// RequestSecret resolves the HMAC secret for a given protocol id, so a
	// request whose signature was forged against a stale/wrong secret is
	// rejected before it ever reaches the policy engine.
	RequestSecret func(protocolID string) string

	// BaselineConfig resolves the effective gas-sponsorship AgentConfig
	// (spec §5.2) for a protocol, before CurrentGasPriceGwei is injected.
	BaselineConfig func(protocolID string) domain.AgentConfig

	CurrentGasPriceGwei func() float64

	// RecordSponsorship, when set, persists the Reserve State burn after a
	// successful sponsorship, the same as the orchestrator's gas-sponsorship
	// mode does for its own execution path (spec §2).
	RecordSponsorship func(ctx context.Context, nativeCostETH float64)

	// DebitProtocol, when set, subtracts a completed sponsorship's actual
	// cost from the sponsoring protocol's prepaid budget.
	DebitProtocol func(protocolID string, usd float64)
}

// Run drains up to maxItemsPerRun of the requests that are pending when it
// starts, so a request that fails and is re-queued during this run waits
// for the next run, then recovers stale processing entries. Intended to be
// called on a fixed tick by the queue consumer mode.
func (c *Consumer) Run(ctx context.Context) {
	n := c.Queue.GetStats(ctx).Pending
	if n > maxItemsPerRun {
		n = maxItemsPerRun
	}
	for i := 0; i < n; i++ {
		req, ok := c.Queue.Dequeue(ctx)
		if !ok {
			break
		}
		c.process(ctx, req)
	}
	c.Queue.RecoverStaleRequests(ctx)
}

func (c *Consumer) process(ctx context.Context, req Request) {
	if c.RequestSecret != nil && req.Metadata.Signature != "" {
		secret := c.RequestSecret(req.ProtocolID)
		err := signing.VerifyRequest(secret, req.AgentAddress, req.ProtocolID, req.Metadata.Signature, req.Metadata.SignatureTimestamp, time.Now())
		if err != nil {
			c.Queue.Reject(ctx, req.ID, "signature verification failed: "+err.Error())
			c.record(ctx, adapters.OutcomePolicyRejected, "signature verification failed", nil)
			return
		}
	}

	if res := c.Breaker.Check(ctx, breaker.CheckInput{}); res.Open {
		c.Queue.Fail(ctx, req.ID, "economic breaker open: "+res.Reason, true)
		c.record(ctx, adapters.OutcomeError, "economic breaker open", []string{res.Reason})
		return
	}

	cfg := domain.AgentConfig{}
	if c.BaselineConfig != nil {
		cfg = c.BaselineConfig(req.ProtocolID)
	}
	if c.CurrentGasPriceGwei != nil {
		cfg.CurrentGasPriceGwei = c.CurrentGasPriceGwei()
	}

	decision := domain.Decision{
		Action:     domain.ActionSponsorTransaction,
		Confidence: 1.0,
		Reason:     "queued sponsorship request",
		Sponsor: &domain.SponsorParams{
			AgentAddress:    req.AgentAddress,
			ProtocolID:      req.ProtocolID,
			EstimatedCostUS: req.EstimatedCostUSD,
			MaxGasUnits:     req.MaxGasLimit,
			TargetContract:  req.TargetContract,
		},
	}

	result := c.Engine.Validate(ctx, decision, cfg)
	if !result.Passed {
		reason := policy.JoinErrors(result.Errors)
		c.Queue.Reject(ctx, req.ID, reason)
		c.record(ctx, adapters.OutcomePolicyRejected, reason, result.Errors)
		return
	}

	sponsorResult, err := c.safeExecute(ctx, decision)
	if err != nil {
		c.Queue.Fail(ctx, req.ID, err.Error(), true)
		c.record(ctx, adapters.OutcomeExecuteFailed, err.Error(), []string{err.Error()})
		return
	}
	if !sponsorResult.Success {
		c.Queue.Fail(ctx, req.ID, sponsorResult.Error, true)
		c.record(ctx, adapters.OutcomeExecuteFailed, sponsorResult.Error, []string{sponsorResult.Error})
		return
	}

	c.Queue.Complete(ctx, req.ID, CompleteResult{
		TxHash:        sponsorResult.TxHash,
		UserOpHash:    sponsorResult.UserOpHash,
		ActualCostUSD: sponsorResult.ActualCostUSD,
	})
	if c.Abuse != nil {
		c.Abuse.RecordSybilSample(ctx, req.AgentAddress)
	}
	if c.RecordSponsorship != nil {
		nativeCost := domain.EstimateNativeCost(req.MaxGasLimit, cfg.CurrentGasPriceGwei)
		c.RecordSponsorship(ctx, nativeCost)
	}
	if c.DebitProtocol != nil {
		c.DebitProtocol(req.ProtocolID, sponsorResult.ActualCostUSD)
	}
	c.record(ctx, adapters.OutcomeExecuted, "sponsorship executed", nil)
}

// safeExecute converts a panicking executor into a retryable failure
// rather than taking the consumer's tick down with it.
func (c *Consumer) safeExecute(ctx context.Context, decision domain.Decision) (result adapters.SponsorResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("queue: executor panicked: %v", r)
			err = &executorPanicError{r}
		}
	}()
	return c.Executor.Sponsor(ctx, decision.Sponsor.AgentAddress, decision.Sponsor.ProtocolID, decision.Sponsor.MaxGasUnits, decision.Sponsor.TargetContract)
}

type executorPanicError struct{ value any }

func (e *executorPanicError) Error() string {
	return "executor panicked"
}

func (c *Consumer) record(ctx context.Context, outcome adapters.MemoryOutcome, reason string, errs []string) {
	if c.Recorder == nil {
		return
	}
	if err := c.Recorder.Record(ctx, adapters.Memory{
		ModeID:    "queue-consumer",
		Outcome:   outcome,
		Reason:    reason,
		Errors:    errs,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		log.Printf("queue: failed to record memory: %v", err)
	}
}
