package domain

import "time"

// ReserveStateKey is the single well-known State Store key the Reserve
// State record lives at.
const ReserveStateKey = "aegis:reserve_state"

// BurnSnapshot is one point in the ReserveState's bounded burn-rate
// history.
type BurnSnapshot struct {
	Timestamp      time.Time `json:"timestamp"`
	NativeBalance  float64   `json:"nativeBalance"`
	DailyBurnRate  float64   `json:"dailyBurnRate"`
	HealthScore    float64   `json:"healthScore"`
}

const maxBurnHistory = 168 // 7 days at one sample/hour

// ReserveState is the single logical record tracking the paymaster's
// native/stable reserves, derived runway, and health.
type ReserveState struct {
	NativeBalance           float64        `json:"nativeBalance"`
	StableBalance           float64        `json:"stableBalance"`
	ChainID                 int64          `json:"chainId"`
	AvgBurnPerSponsorship   float64        `json:"avgBurnPerSponsorship"`
	SponsorshipCount24h     int            `json:"sponsorshipCount24h"`
	DailyBurnRate           float64        `json:"dailyBurnRate"`
	RunwayDays              float64        `json:"runwayDays"`
	TargetReserve           float64        `json:"targetReserve"`
	CriticalThreshold       float64        `json:"criticalThreshold"`
	HealthScore             float64        `json:"healthScore"`
	ProtocolBudgets         []ProtocolBudget `json:"protocolBudgets"`
	LastUpdated             string         `json:"lastUpdated"` // ISO-8601
	EmergencyMode           bool           `json:"emergencyMode"`
	ForecastedBurnRate7d    float64        `json:"forecastedBurnRate7d"`
	ForecastedRunwayDays7d  float64        `json:"forecastedRunwayDays7d"`
	LastFarcasterPost       string         `json:"lastFarcasterPost,omitempty"`
	BurnRateHistory         []BurnSnapshot `json:"burnRateHistory"`
}

// DefaultReserveState returns the zero-value record merged with configured
// defaults, used when no record has ever been written.
func DefaultReserveState(targetReserveETH, criticalThresholdETH float64) ReserveState {
	return ReserveState{
		TargetReserve:     targetReserveETH,
		CriticalThreshold: criticalThresholdETH,
		ProtocolBudgets:   []ProtocolBudget{},
		BurnRateHistory:   []BurnSnapshot{},
	}
}

// MergeDefaults fills in zero-value fields that predate a schema addition,
// the way an older persisted record is upgraded on read per spec §4.7.
// Only fields with an unambiguous "never set" zero value are defaulted;
// numeric reserve fields are left as-is since 0 is a legitimate balance.
func (r ReserveState) MergeDefaults(targetReserveETH, criticalThresholdETH float64) ReserveState {
	if r.TargetReserve == 0 {
		r.TargetReserve = targetReserveETH
	}
	if r.CriticalThreshold == 0 {
		r.CriticalThreshold = criticalThresholdETH
	}
	if r.ProtocolBudgets == nil {
		r.ProtocolBudgets = []ProtocolBudget{}
	}
	if r.BurnRateHistory == nil {
		r.BurnRateHistory = []BurnSnapshot{}
	}
	return r
}

// adaptiveTarget halves the configured target reserve on testnet chains, as
// the health score weighting in spec §3 requires.
func adaptiveTarget(target float64, chainID int64) float64 {
	switch chainID {
	case 84532: // base-sepolia
		return target / 2
	default:
		return target
	}
}

// balanceScore is the 0-1 ratio of balance to adaptive target, clamped at 1.
func balanceScore(balance, target float64) float64 {
	if target <= 0 {
		return 0
	}
	ratio := balance / target
	if ratio > 1 {
		ratio = 1
	}
	if ratio < 0 {
		ratio = 0
	}
	return ratio
}

// runwayScore implements the piecewise runway contribution from spec §3,
// already scaled to its 0-40 share of the composite.
func runwayScore(runwayDays float64) float64 {
	switch {
	case runwayDays >= 30:
		return 40
	case runwayDays >= 7:
		// linear from 25 (at 7 days) to 40 (at 30 days)
		return 25 + (runwayDays-7)/(30-7)*(40-25)
	case runwayDays >= 1:
		// linear from 10 (at 1 day) to 25 (at 7 days)
		return 10 + (runwayDays-1)/(7-1)*(25-10)
	default:
		if runwayDays < 0 {
			runwayDays = 0
		}
		// linear from 0 to 10 over [0,1)
		return runwayDays * 10
	}
}

// activityScore implements the piecewise 24h-activity contribution from
// spec §3, scaled to its 0-20 share of the composite.
func activityScore(sponsorships24h int, balance float64) float64 {
	n := float64(sponsorships24h)
	switch {
	case n >= 50:
		return 20
	case n >= 10:
		return 12 + (n-10)/(50-10)*(20-12)
	case n >= 1:
		return 5 + (n-1)/(10-1)*(12-5)
	default:
		if balance > 0 {
			return 3
		}
		return 0
	}
}

// HealthScore computes the weighted 0-100 composite health score per spec
// §3: 40% balance-vs-adaptive-target, 40% piecewise runway, 20% piecewise
// activity. It never reads or mutates state; callers persist the result.
func HealthScore(nativeBalance, target float64, chainID int64, runwayDays float64, sponsorships24h int) float64 {
	bal := balanceScore(nativeBalance, adaptiveTarget(target, chainID)) * 40
	run := runwayScore(runwayDays)
	act := activityScore(sponsorships24h, nativeBalance)
	score := bal + run + act
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// clampBurnHistory trims a burn-snapshot history to the bounded window,
// dropping the oldest entries first.
func clampBurnHistory(h []BurnSnapshot) []BurnSnapshot {
	if len(h) <= maxBurnHistory {
		return h
	}
	return h[len(h)-maxBurnHistory:]
}

// AppendBurnSnapshot appends a new snapshot and clamps the history.
func (r ReserveState) AppendBurnSnapshot(s BurnSnapshot) ReserveState {
	r.BurnRateHistory = clampBurnHistory(append(r.BurnRateHistory, s))
	return r
}

// EstimateNativeCost converts gas units and a Gwei price into a
// native-token cost estimate: the same units-times-price-in-Gwei
// arithmetic breaker.EstimateRunway applies to historical burn samples,
// dividing by 1e9 to convert Gwei to native units.
func EstimateNativeCost(gasUnits uint64, gasPriceGwei float64) float64 {
	return float64(gasUnits) * gasPriceGwei / 1e9
}
