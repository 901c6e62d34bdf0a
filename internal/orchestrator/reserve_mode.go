package orchestrator

import (
	"context"
	"fmt"
	"time"

	"aegis/internal/adapters"
	"aegis/internal/breaker"
	"aegis/internal/domain"
	"aegis/internal/statestore"
)

// ReservePipelineDeps bundles the collaborators the reserve-pipeline mode
// needs to observe and reason about the paymaster's own reserve.
type ReservePipelineDeps struct {
	Store          statestore.Store
	Balances       adapters.NativeBalanceReader
	WalletAddress  string
	TargetReserveETH     float64
	CriticalThresholdETH float64
	ChainID              int64
	SponsorshipHistory   func(ctx context.Context) ([]domain.SponsorshipSample, error)
	PendingPayments      func(ctx context.Context) (float64, error)
}

// NewReservePipelineMode builds the reserve-pipeline Mode (spec §4.8):
// baseline confidence 0.85, LIVE execution, max gas 5 Gwei; onStart seeds
// the Reserve State with a fresh wallet-balance read; observe aggregates
// burn-rate, runway, forecast, and pending-payment signals.
func NewReservePipelineMode(d ReservePipelineDeps) Mode {
	baseline := domain.AgentConfig{
		ConfidenceThreshold: 0.85,
		ExecutionMode:       domain.ExecutionLive,
		MaxGasPriceGwei:     5,
	}

	onStart := func(ctx context.Context) error {
		if d.Balances == nil {
			return nil
		}
		balance, err := d.Balances.NativeBalance(ctx, d.WalletAddress)
		if err != nil {
			return fmt.Errorf("reserve-pipeline onStart: %w", err)
		}
		state := loadReserveState(ctx, d.Store, d.TargetReserveETH, d.CriticalThresholdETH)
		state.NativeBalance = balance
		state.LastUpdated = time.Now().UTC().Format(time.RFC3339)
		saveReserveState(ctx, d.Store, state)
		return nil
	}

	observe := func(ctx context.Context) ([]domain.Observation, error) {
		var out []domain.Observation
		now := time.Now()

		state := loadReserveState(ctx, d.Store, d.TargetReserveETH, d.CriticalThresholdETH)
		out = append(out, domain.Observation{
			ID: "reserve-state", Timestamp: now, Source: domain.SourceAPI,
			Data: state, Context: "current reserve state snapshot",
		})

		if d.SponsorshipHistory != nil {
			samples, err := d.SponsorshipHistory(ctx)
			if err == nil {
				estimate := breaker.EstimateRunway(state.NativeBalance, samples, now)
				out = append(out, domain.Observation{
					ID: "runway-estimate", Timestamp: now, Source: domain.SourceBlockchain,
					Data: estimate, Context: "trailing-24h burn-derived runway estimate",
				})
			}
		}

		if d.PendingPayments != nil {
			if usd, err := d.PendingPayments(ctx); err == nil {
				out = append(out, domain.Observation{
					ID: "pending-payments", Timestamp: now, Source: domain.SourceAPI,
					Data: usd, Context: "USD value of protocol payments awaiting settlement",
				})
			}
		}

		return out, nil
	}

	reason := func(ctx context.Context, observations []domain.Observation, memories []adapters.Memory) (domain.Decision, error) {
		// Reserve replenishment strategy (which DEX route, which stable
		// to swap) is the external Reasoner adapter's concern; absent one
		// wired up, the mode conservatively waits.
		return domain.Decision{Action: domain.ActionWait, Confidence: 1, Reason: "no reserve action reasoner configured"}, nil
	}

	return Mode{
		ID:       "reserve-pipeline",
		Name:     "Reserve Pipeline",
		Baseline: baseline,
		Observe:  observe,
		Reason:   reason,
		OnStart:  onStart,
	}
}
