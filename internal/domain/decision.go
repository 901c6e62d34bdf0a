// Package domain holds the data model shared across the orchestrator, the
// policy engine, and the sponsorship queue: Decisions, Observations, the
// effective per-cycle AgentConfig, and the Reserve State record.
package domain

import (
	"math/big"
	"time"
)

// ActionKind is the closed enumeration of Decision actions.
type ActionKind string

const (
	ActionSponsorTransaction ActionKind = "SPONSOR_TRANSACTION"
	ActionSwapReserves       ActionKind = "SWAP_RESERVES"
	ActionAlertProtocol      ActionKind = "ALERT_PROTOCOL"
	ActionWait               ActionKind = "WAIT"
)

// SponsorParams carries the action-specific parameters for a
// SPONSOR_TRANSACTION Decision.
type SponsorParams struct {
	AgentAddress    string  `json:"agentAddress"` // 40-hex, no 0x prefix required by callers
	ProtocolID      string  `json:"protocolId"`
	EstimatedCostUS float64 `json:"estimatedCostUsd"`
	MaxGasUnits     uint64  `json:"maxGasUnits"`
	TargetContract  *string `json:"targetContract,omitempty"`
}

// Decision is an immutable record produced once per cycle by a Mode's Reason
// step. Non-sponsorship actions leave Sponsor nil.
type Decision struct {
	Action     ActionKind
	Confidence float64 // [0,1]
	Reason     string
	Sponsor    *SponsorParams
}

// IsSponsorship reports whether this Decision requires the sponsorship rule
// chain to run.
func (d Decision) IsSponsorship() bool {
	return d.Action == ActionSponsorTransaction && d.Sponsor != nil
}

// ExecutionMode controls whether Execute performs a live on-chain effect.
type ExecutionMode string

const (
	ExecutionLive       ExecutionMode = "LIVE"
	ExecutionSimulation ExecutionMode = "SIMULATION"
	ExecutionReadOnly   ExecutionMode = "READONLY"
)

// AgentConfig is the effective policy/execution configuration for one
// cycle. CurrentGasPriceGwei is injected by the orchestrator immediately
// before validation, never supplied by a Mode's baseline.
type AgentConfig struct {
	ConfidenceThreshold float64
	ExecutionMode       ExecutionMode
	MaxGasPriceGwei      float64
	CurrentGasPriceGwei  float64
	AllowedRecipients    map[string]struct{} // lower-cased hex addresses, empty = unrestricted
	MaxSlippagePct       float64
	RateLimitWindow      time.Duration
	RateLimitQuota       int
	TriggerSource        string

	RequireAgentApproval          bool
	GasPassportMinSponsorships    int
	GasPassportMinSuccessRateBps  int
	MaxSponsorshipsPerUserDay     int
	MaxSponsorshipsPerMinute      int
	MaxSponsorshipsPerProtocolMin int
	MaxSponsorshipCostUSD         float64
	ReserveThresholdETH           float64
	ReputationAttestationEnabled  bool
}

// AllowsRecipient reports whether addr (lower-cased hex, no 0x assumed
// already stripped by the caller) is in the allowed set, or whether the set
// is unrestricted.
func (c AgentConfig) AllowsRecipient(addr string) bool {
	if len(c.AllowedRecipients) == 0 {
		return true
	}
	_, ok := c.AllowedRecipients[addr]
	return ok
}

// ObservationSource is the closed enumeration of Observation origins.
type ObservationSource string

const (
	SourceBlockchain ObservationSource = "blockchain"
	SourceAPI        ObservationSource = "api"
)

// Observation is a single lazily-produced, finite, non-restartable signal
// gathered during a Mode's Observe step.
type Observation struct {
	ID        string
	Timestamp time.Time
	Source    ObservationSource
	ChainID   *int64
	Data      any
	Context   string
}

// GasSample is one point in the breaker's trailing gas-price window.
type GasSample struct {
	Timestamp time.Time
	PriceGwei float64
}

// SponsorshipSample is one historical sponsorship used by the runway
// estimate helper.
type SponsorshipSample struct {
	Timestamp    time.Time
	GasUnits     *big.Int
	GasPriceGwei *big.Int // integer Gwei, arbitrary precision to avoid overflow on gasUnits*gasPriceGwei
}

// ProtocolBudget is one protocol's live budget snapshot, the input to the
// breaker's per-protocol budget warnings.
type ProtocolBudget struct {
	ProtocolID        string
	BalanceUSD        float64
	DailyBurnRateUSD  float64
	WhitelistContract []string // lower-cased; empty means unrestricted
}
