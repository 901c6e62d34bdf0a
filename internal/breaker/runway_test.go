package breaker

import (
	"math"
	"math/big"
	"testing"
	"time"

	"aegis/internal/domain"

	"github.com/stretchr/testify/assert"
)

func sample(hoursAgo float64, gasUnits, gasPriceGwei int64) domain.SponsorshipSample {
	return domain.SponsorshipSample{
		Timestamp:    time.Now().Add(-time.Duration(hoursAgo * float64(time.Hour))),
		GasUnits:     big.NewInt(gasUnits),
		GasPriceGwei: big.NewInt(gasPriceGwei),
	}
}

func TestEstimateRunway_NoSamplesIsInfiniteRunway(t *testing.T) {
	est := EstimateRunway(1.0, nil, time.Now())
	assert.True(t, math.IsInf(est.RunwayHours, 1))
	assert.Zero(t, est.SampleCount)
	assert.Equal(t, ConfidenceLow, est.Confidence)
}

func TestEstimateRunway_ExcludesSamplesOlderThan24h(t *testing.T) {
	now := time.Now()
	samples := []domain.SponsorshipSample{
		sample(1, 21000, 5),
		sample(25, 1_000_000_000, 5), // far outside the window; would dominate if counted
	}
	est := EstimateRunway(1.0, samples, now)
	assert.Equal(t, 1, est.SampleCount)
}

func TestEstimateRunway_SkipsNilGasFields(t *testing.T) {
	samples := []domain.SponsorshipSample{
		{Timestamp: time.Now(), GasUnits: nil, GasPriceGwei: big.NewInt(5)},
		sample(0, 21000, 5),
	}
	est := EstimateRunway(1.0, samples, time.Now())
	assert.Equal(t, 1, est.SampleCount)
}

func TestEstimateRunway_ComputesHourlyBurnAndRunway(t *testing.T) {
	// 21000 gas units * 5 gwei = 105000 gwei = 1.05e-4 native over 24h.
	samples := []domain.SponsorshipSample{sample(0, 21000, 5)}
	est := EstimateRunway(1.0, samples, time.Now())

	wantHourlyBurn := (21000.0 * 5.0 / 1e9) / 24
	assert.InDelta(t, wantHourlyBurn, est.HourlyBurn, 1e-12)
	assert.InDelta(t, 1.0/wantHourlyBurn, est.RunwayHours, 1e-6)
}

func TestEstimateRunway_ConfidenceScalesWithSampleCount(t *testing.T) {
	few := make([]domain.SponsorshipSample, 3)
	for i := range few {
		few[i] = sample(0, 21000, 5)
	}
	assert.Equal(t, ConfidenceLow, EstimateRunway(1, few, time.Now()).Confidence)

	medium := make([]domain.SponsorshipSample, 10)
	for i := range medium {
		medium[i] = sample(0, 21000, 5)
	}
	assert.Equal(t, ConfidenceMedium, EstimateRunway(1, medium, time.Now()).Confidence)

	high := make([]domain.SponsorshipSample, 50)
	for i := range high {
		high[i] = sample(0, 21000, 5)
	}
	assert.Equal(t, ConfidenceHigh, EstimateRunway(1, high, time.Now()).Confidence)
}
