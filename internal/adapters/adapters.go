// Package adapters declares the interfaces for every external collaborator
// the spec treats as out of scope but whose contract the core depends on:
// the on-chain observation layer, the database of approvals/protocols, the
// explorer scraper used by abuse detection, the execute adapter, the LLM
// reasoning adapter, and reputation attestation. Concrete implementations
// (RPC clients, the relational database, the bundler/paymaster client,
// the LLM call) live outside this module's core and are injected at
// startup; this package only fixes the boundary.
package adapters

import (
	"context"
	"errors"
)

// ErrDependencyUnavailable is returned by a security-critical dependency
// (approval lookup, whitelist lookup) when it cannot be reached. Callers on
// the fail-closed path (spec §4.4 rules 2 and 9) turn this into a failed
// rule rather than retrying.
var ErrDependencyUnavailable = errors.New("dependency unavailable")

// ChainObserver exposes the minimal on-chain read the legitimacy rule
// needs.
type ChainObserver interface {
	TransactionCount(ctx context.Context, address string) (uint64, error)
}

// GasPassport is the reputation side-channel the legitimacy rule consults
// as an alternative to a minimum transaction count.
type GasPassport struct {
	SponsorCount    int
	SuccessRateBps  int
}

// GasPassportLookup resolves an agent's Gas Passport, if any.
type GasPassportLookup interface {
	Lookup(ctx context.Context, agentAddress string) (GasPassport, bool, error)
}

// Approval is one protocol's standing authorization for an agent wallet.
type Approval struct {
	Revoked         bool
	DailyBudgetUSD  float64
	SpentTodayUSD   float64
}

// ApprovalStore resolves the approved-agent rule's (protocolId,
// agentAddress) lookup. A database outage must return
// ErrDependencyUnavailable so the rule fails closed.
type ApprovalStore interface {
	GetApproval(ctx context.Context, protocolID, agentAddress string) (Approval, bool, error)
}

// ProtocolRecord is the protocol budget and whitelist the budget and
// whitelist rules consult.
type ProtocolRecord struct {
	BudgetUSD           float64
	BudgetKnown         bool
	WhitelistContracts  []string // lower-cased; empty means unrestricted
}

// ProtocolStore resolves protocol records. A database outage on the
// whitelist lookup must return ErrDependencyUnavailable (spec §4.4 rule 9).
type ProtocolStore interface {
	GetProtocol(ctx context.Context, protocolID string) (ProtocolRecord, error)
}

// NativeBalanceReader resolves an agent wallet's native balance for the
// agent-reserve rule.
type NativeBalanceReader interface {
	NativeBalance(ctx context.Context, address string) (float64, error)
}

// ExplorerClient is the optional third-party block-explorer scraper used
// by the dust-spam abuse check. A nil ExplorerClient (no
// BLOCKSCOUT_API_URL configured) disables that check.
type ExplorerClient interface {
	RecentTransactionValues(ctx context.Context, address string, limit int) ([]float64, error)
}

// SponsorResult is the outcome of invoking the execute adapter for a
// SPONSOR_TRANSACTION Decision.
type SponsorResult struct {
	Success      bool
	TxHash       string
	UserOpHash   string
	ActualCostUSD float64
	Error        string
}

// Executor performs the actual on-chain sponsorship effect (bundler
// submission) or a dry-run in SIMULATION/READONLY mode. Implementations
// outside this module own signing, bundler submission, and receipt
// polling.
type Executor interface {
	Sponsor(ctx context.Context, agentAddress, protocolID string, maxGasUnits uint64, targetContract *string) (SponsorResult, error)
}

// Reasoner produces a Decision from a set of Observations and recalled
// memories. The LLM reasoning adapter implements this outside the module.
type Reasoner interface {
	Reason(ctx context.Context, observations []any, memories []any) (any, error)
}

// ReputationAttestor optionally submits an on-chain attestation as a side
// effect of a passed legitimacy check. Gated on
// AgentConfig.ReputationAttestationEnabled per the Open Question decision
// in SPEC_FULL.md; NoopReputationAttestor is the default.
type ReputationAttestor interface {
	SubmitAttestation(ctx context.Context, agentAddress string, sponsorCount int) error
}

// NoopReputationAttestor never attempts an attestation.
type NoopReputationAttestor struct{}

func (NoopReputationAttestor) SubmitAttestation(context.Context, string, int) error { return nil }

// MemoryRecorder writes a best-effort cycle memory record, possibly also
// to the external database (spec §2's "written to memory and possibly to
// the external database"). Implementations must never block the
// orchestrator indefinitely; a slow sink should apply its own timeout.
type MemoryRecorder interface {
	Record(ctx context.Context, m Memory) error
}

// MemoryOutcome is the closed enumeration of a recorded cycle's outcome.
type MemoryOutcome string

const (
	OutcomeExecuted       MemoryOutcome = "EXECUTED"
	OutcomePolicyRejected MemoryOutcome = "POLICY_REJECTED"
	OutcomeLowConfidence  MemoryOutcome = "LOW_CONFIDENCE"
	OutcomeExecuteFailed  MemoryOutcome = "EXECUTE_FAILED"
	OutcomeError          MemoryOutcome = "ERROR"
)

// Memory is one cycle's recorded result.
type Memory struct {
	ModeID    string
	Outcome   MemoryOutcome
	Reason    string
	Errors    []string
	Timestamp string
}
