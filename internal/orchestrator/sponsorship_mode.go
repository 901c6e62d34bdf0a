package orchestrator

import (
	"context"

	"aegis/internal/adapters"
	"aegis/internal/domain"
	"aegis/internal/statestore"
)

const gasSponsorshipHealthSkipThreshold = 10
const lowHealthConfidenceThreshold = 50
const adaptiveConfidenceThreshold = 0.90

// SponsorshipOpportunity is one externally observed candidate
// transaction the gas-sponsorship mode might choose to sponsor.
type SponsorshipOpportunity interface {
	Observe(ctx context.Context) ([]domain.Observation, error)
}

// GasSponsorshipDeps bundles the collaborators the gas-sponsorship mode
// needs.
type GasSponsorshipDeps struct {
	Store                statestore.Store
	TargetReserveETH     float64
	CriticalThresholdETH float64
	Observers            []SponsorshipOpportunity
	Reason               Reasoner
}

// NewGasSponsorshipMode builds the gas-sponsorship Mode (spec §4.8):
// baseline confidence 0.80, LIVE execution, max gas 2 Gwei. Its observe
// step skips entirely in emergency mode or when the health score is below
// gasSponsorshipHealthSkipThreshold, a fixed 10 (Config's
// GasSponsorshipHealthSkipThreshold is not read by this mode); its
// adaptive config raises the confidence
// threshold to 0.90 when the health score is below 50 and not emergency.
func NewGasSponsorshipMode(d GasSponsorshipDeps) Mode {
	baseline := domain.AgentConfig{
		ConfidenceThreshold: 0.80,
		ExecutionMode:       domain.ExecutionLive,
		MaxGasPriceGwei:     2,
	}

	observe := func(ctx context.Context) ([]domain.Observation, error) {
		state := loadReserveState(ctx, d.Store, d.TargetReserveETH, d.CriticalThresholdETH)
		if state.EmergencyMode {
			return nil, nil
		}
		if state.HealthScore < gasSponsorshipHealthSkipThreshold {
			return nil, nil
		}

		var out []domain.Observation
		for _, observer := range d.Observers {
			obs, err := observer.Observe(ctx)
			if err != nil {
				continue
			}
			out = append(out, obs...)
		}
		return out, nil
	}

	adapt := func(ctx context.Context, baseline domain.AgentConfig) domain.AgentConfig {
		state := loadReserveState(ctx, d.Store, d.TargetReserveETH, d.CriticalThresholdETH)
		cfg := baseline
		if !state.EmergencyMode && state.HealthScore < lowHealthConfidenceThreshold {
			cfg.ConfidenceThreshold = adaptiveConfidenceThreshold
		}
		return cfg
	}

	reason := d.Reason
	if reason == nil {
		reason = func(ctx context.Context, observations []domain.Observation, memories []adapters.Memory) (domain.Decision, error) {
			return domain.Decision{Action: domain.ActionWait, Confidence: 1, Reason: "no sponsorship reasoner configured"}, nil
		}
	}

	return Mode{
		ID:          "gas-sponsorship",
		Name:        "Gas Sponsorship",
		Baseline:    baseline,
		Observe:     observe,
		Reason:      reason,
		AdaptConfig: adapt,
		RecordSponsorship: func(ctx context.Context, nativeCostETH float64) {
			RecordSponsorshipBurn(ctx, d.Store, d.TargetReserveETH, d.CriticalThresholdETH, nativeCostETH)
		},
	}
}
