// Package breaker implements the economic circuit breaker (spec §4.3): a
// single global breaker per process, state shared through the State Store,
// with hysteresis on a moving gas-price average plus runway and reserve
// gates.
package breaker

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"aegis/internal/domain"
	"aegis/internal/statestore"
)

// StateKey is the single State Store key the breaker's persisted state
// lives at.
const StateKey = "economic-breaker:state"

const stateTTL = time.Hour

// Config holds the breaker's thresholds. config.Load reads all of them
// from the environment except GasPriceCloseThresholdGwei and
// GasPriceWindowMs, which keep their DefaultConfig values.
type Config struct {
	MaxGasPriceGwei           float64
	MinRunwayHours            float64
	MinReserveETH             float64
	MinReserveUSDC            float64
	MaxBudgetUtilizationPct   float64
	GasPriceCloseThresholdGwei float64
	GasPriceWindowMs          int64
}

// DefaultConfig returns the spec §4.3 defaults.
func DefaultConfig() Config {
	return Config{
		MaxGasPriceGwei:            5,
		MinRunwayHours:             24,
		MinReserveETH:              0.1,
		MinReserveUSDC:             100,
		MaxBudgetUtilizationPct:    90,
		GasPriceCloseThresholdGwei: 3,
		GasPriceWindowMs:           5 * 60 * 1000,
	}
}

// State is the persisted breaker record (spec's BreakerState).
type State struct {
	IsOpen         bool               `json:"isOpen"`
	OpenReason     string             `json:"openReason,omitempty"`
	OpenedAt       string             `json:"openedAt,omitempty"`
	GasSamples     []domain.GasSample `json:"gasSamples"`
	LastRunway     float64            `json:"lastRunway"`
	LastCheckedAt  string             `json:"lastCheckedAt"`
}

// CheckInput is the per-call context the breaker evaluates against.
type CheckInput struct {
	CurrentGasPriceGwei  *float64
	ReservesETH          *float64
	ReservesUSDC         *float64
	EstimatedRunwayHours *float64
	ProtocolBudgets      []domain.ProtocolBudget
}

// Result is the outcome of one Check call.
type Result struct {
	Open     bool
	Reason   string
	Warnings []string
}

// Breaker evaluates and persists the economic circuit breaker state.
type Breaker struct {
	store  statestore.Store
	config Config
}

// New constructs a Breaker backed by store.
func New(store statestore.Store, config Config) *Breaker {
	return &Breaker{store: store, config: config}
}

func (b *Breaker) load(ctx context.Context) State {
	raw, ok := b.store.Get(ctx, StateKey)
	if !ok {
		// A State Store load failure must not cause the breaker to falsely
		// report unhealthy (spec §7): absence is treated as CLOSED.
		return State{}
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		log.Printf("breaker: corrupt state, treating as closed: %v", err)
		return State{}
	}
	return s
}

func (b *Breaker) persist(ctx context.Context, s State) {
	raw, err := json.Marshal(s)
	if err != nil {
		log.Printf("breaker: failed to marshal state: %v", err)
		return
	}
	b.store.Set(ctx, StateKey, raw, stateTTL)
}

func movingAverage(samples []domain.GasSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s.PriceGwei
	}
	return sum / float64(len(samples))
}

// Check runs the full breaker protocol from spec §4.3 at the current time
// and persists the result. checkAt takes the time explicitly, for
// deterministic tests.
func (b *Breaker) Check(ctx context.Context, in CheckInput) Result {
	return b.checkAt(ctx, in, time.Now())
}

func (b *Breaker) checkAt(ctx context.Context, in CheckInput, now time.Time) Result {
	state := b.load(ctx)
	var result Result
	result.Open = state.IsOpen

	// 1. Append gas sample and recompute moving average over the window.
	if in.CurrentGasPriceGwei != nil {
		state.GasSamples = append(state.GasSamples, domain.GasSample{Timestamp: now, PriceGwei: *in.CurrentGasPriceGwei})
	}
	cutoff := now.Add(-time.Duration(b.config.GasPriceWindowMs) * time.Millisecond)
	kept := state.GasSamples[:0:0]
	for _, s := range state.GasSamples {
		if s.Timestamp.After(cutoff) {
			kept = append(kept, s)
		}
	}
	state.GasSamples = kept
	avgGwei := movingAverage(state.GasSamples)

	wasOpen := state.IsOpen
	forcedOpenReason := ""

	// 2. Hysteresis on the moving average.
	if state.IsOpen {
		if avgGwei <= b.config.GasPriceCloseThresholdGwei {
			// eligible to close; final decision deferred to step 6 so a
			// later gate (runway/reserve/budget) can still re-open it.
		} else {
			forcedOpenReason = "gas price moving average above close threshold"
		}
	} else if avgGwei > b.config.MaxGasPriceGwei {
		forcedOpenReason = "gas price moving average above max threshold"
	}

	// 3. Runway gates.
	if in.EstimatedRunwayHours != nil {
		state.LastRunway = *in.EstimatedRunwayHours
		if *in.EstimatedRunwayHours < b.config.MinRunwayHours {
			if forcedOpenReason == "" {
				forcedOpenReason = "estimated runway below minimum"
			}
		} else if *in.EstimatedRunwayHours < 2*b.config.MinRunwayHours {
			result.Warnings = append(result.Warnings, "runway approaching minimum threshold")
		}
	}

	// 4. Reserve gates.
	if in.ReservesETH != nil && *in.ReservesETH < b.config.MinReserveETH {
		if forcedOpenReason == "" {
			forcedOpenReason = "native reserve below minimum"
		}
	}
	if in.ReservesUSDC != nil && *in.ReservesUSDC < b.config.MinReserveUSDC {
		result.Warnings = append(result.Warnings, "stable reserve below minimum")
	}

	// 5. Per-protocol budget warnings (advisory only, never force open).
	for _, pb := range in.ProtocolBudgets {
		if pb.DailyBurnRateUSD <= 0 {
			continue
		}
		runwayHours := pb.BalanceUSD / pb.DailyBurnRateUSD * 24
		if runwayHours < 24 {
			result.Warnings = append(result.Warnings, "protocol "+pb.ProtocolID+" budget critically low")
		}
		if pb.BalanceUSD < 10 {
			result.Warnings = append(result.Warnings, "protocol "+pb.ProtocolID+" budget depleted")
		}
	}

	// 6. Apply the state transition.
	switch {
	case forcedOpenReason != "":
		state.IsOpen = true
		state.OpenReason = forcedOpenReason
		if !wasOpen {
			state.OpenedAt = now.UTC().Format(time.RFC3339)
		}
	case wasOpen && avgGwei <= b.config.GasPriceCloseThresholdGwei:
		// all gates passed and gas average at/below close threshold: close.
		log.Printf("breaker: closing after open period starting %s", state.OpenedAt)
		state.IsOpen = false
		state.OpenReason = ""
		state.OpenedAt = ""
	}

	result.Open = state.IsOpen
	result.Reason = state.OpenReason

	// 7. Persist with a one-hour TTL.
	state.LastCheckedAt = now.UTC().Format(time.RFC3339)
	b.persist(ctx, state)

	return result
}
