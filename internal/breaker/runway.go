package breaker

import (
	"math"
	"math/big"
	"time"

	"aegis/internal/domain"
	"aegis/pkg/bignum"
)

// Confidence is the qualitative confidence level for a runway estimate,
// driven by the sample count (spec §4.3).
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// RunwayEstimate is the result of EstimateRunway.
type RunwayEstimate struct {
	RunwayHours float64 // math.Inf(1) if hourly burn is zero
	HourlyBurn  float64
	Confidence  Confidence
	SampleCount int
}

const gweiDivisor = 1e9

// EstimateRunway keeps only sponsorships within the trailing 24h, sums
// native burned using arbitrary-precision integer multiplication of
// gasUnits*gasPriceGwei to avoid precision loss on large gas values, and
// derives an hourly burn rate and runway estimate.
func EstimateRunway(nativeBalance float64, samples []domain.SponsorshipSample, now time.Time) RunwayEstimate {
	cutoff := now.Add(-24 * time.Hour)
	var units, prices []*big.Int
	count := 0
	for _, s := range samples {
		if s.Timestamp.Before(cutoff) {
			continue
		}
		if s.GasUnits == nil || s.GasPriceGwei == nil {
			continue
		}
		units = append(units, s.GasUnits)
		prices = append(prices, s.GasPriceGwei)
		count++
	}

	// dividing by 1e9 converts Gwei to native units (1 native = 1e9 Gwei),
	// matching spec §4.3's formula.
	totalBurnNative := bignum.DivFloat64(bignum.SumProducts(units, prices), gweiDivisor)

	hourlyBurn := totalBurnNative / 24

	var runwayHours float64
	if hourlyBurn <= 0 {
		runwayHours = math.Inf(1)
	} else {
		runwayHours = nativeBalance / hourlyBurn
	}

	confidence := ConfidenceLow
	if count >= 50 {
		confidence = ConfidenceHigh
	} else if count >= 10 {
		confidence = ConfidenceMedium
	}

	return RunwayEstimate{
		RunwayHours: runwayHours,
		HourlyBurn:  hourlyBurn,
		Confidence:  confidence,
		SampleCount: count,
	}
}
