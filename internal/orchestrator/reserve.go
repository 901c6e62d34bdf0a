package orchestrator

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"aegis/internal/domain"
	"aegis/internal/statestore"
)

// loadReserveState reads the single Reserve State record, merging in
// configured defaults for fields an older record predates (spec §4.7).
func loadReserveState(ctx context.Context, store statestore.Store, targetReserveETH, criticalThresholdETH float64) domain.ReserveState {
	raw, ok := store.Get(ctx, domain.ReserveStateKey)
	if !ok {
		return domain.DefaultReserveState(targetReserveETH, criticalThresholdETH)
	}
	var state domain.ReserveState
	if err := json.Unmarshal(raw, &state); err != nil {
		log.Printf("orchestrator: corrupt reserve state, using defaults: %v", err)
		return domain.DefaultReserveState(targetReserveETH, criticalThresholdETH)
	}
	return state.MergeDefaults(targetReserveETH, criticalThresholdETH)
}

func saveReserveState(ctx context.Context, store statestore.Store, state domain.ReserveState) {
	raw, err := json.Marshal(state)
	if err != nil {
		log.Printf("orchestrator: failed to marshal reserve state: %v", err)
		return
	}
	store.Set(ctx, domain.ReserveStateKey, raw, 0)
}

// UpdateReserveState merges a partial update into the persisted record,
// recomputes derived fields (runway, forecasted runway, health score), and
// writes back with a fresh LastUpdated timestamp (spec §4.7).
func UpdateReserveState(ctx context.Context, store statestore.Store, targetReserveETH, criticalThresholdETH float64, apply func(*domain.ReserveState)) domain.ReserveState {
	state := loadReserveState(ctx, store, targetReserveETH, criticalThresholdETH)
	apply(&state)

	if state.DailyBurnRate > 0 {
		state.RunwayDays = state.NativeBalance / state.DailyBurnRate
	} else {
		state.RunwayDays = 0
	}
	if state.ForecastedBurnRate7d > 0 {
		state.ForecastedRunwayDays7d = state.NativeBalance / state.ForecastedBurnRate7d
	} else {
		state.ForecastedRunwayDays7d = 0
	}
	state.HealthScore = domain.HealthScore(state.NativeBalance, state.TargetReserve, state.ChainID, state.RunwayDays, state.SponsorshipCount24h)
	state.LastUpdated = time.Now().UTC().Format(time.RFC3339)

	saveReserveState(ctx, store, state)
	return state
}

// RecordSponsorshipBurn updates the Reserve State after a successful
// sponsorship: decrements the native balance, counts the sponsorship
// toward the trailing-24h activity score, and appends a burn snapshot
// (spec §2's "the Reserve State is updated after success"). Exported so
// the queue Consumer, which cannot import this package's unexported
// helpers without a cross-package dependency on orchestrator internals,
// can drive the same update through a closure built where both packages
// are already in scope (cmd/aegisd/main.go).
func RecordSponsorshipBurn(ctx context.Context, store statestore.Store, targetReserveETH, criticalThresholdETH, nativeCostETH float64) domain.ReserveState {
	return UpdateReserveState(ctx, store, targetReserveETH, criticalThresholdETH, func(s *domain.ReserveState) {
		s.NativeBalance -= nativeCostETH
		s.SponsorshipCount24h++
		if s.AvgBurnPerSponsorship > 0 {
			s.AvgBurnPerSponsorship = (s.AvgBurnPerSponsorship + nativeCostETH) / 2
		} else {
			s.AvgBurnPerSponsorship = nativeCostETH
		}
		s.DailyBurnRate = s.AvgBurnPerSponsorship * float64(s.SponsorshipCount24h)
		snapshot := domain.BurnSnapshot{
			Timestamp:     time.Now(),
			NativeBalance: s.NativeBalance,
			DailyBurnRate: s.DailyBurnRate,
			HealthScore:   s.HealthScore,
		}
		*s = s.AppendBurnSnapshot(snapshot)
	})
}
