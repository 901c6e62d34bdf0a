package policy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"aegis/internal/adapters"
	"aegis/internal/domain"
	"aegis/internal/ratelimit"
)

const legitimacyMinTxCount = 5
const defaultDailyCap = 3
const defaultGlobalPerMinute = 10
const defaultProtocolPerMinute = 5
const defaultCostCapUSD = 0.5
const defaultReserveThresholdETH = 0.1

// Deps bundles every external collaborator the sponsorship rule chain
// needs. Fields may be nil where the corresponding feature is disabled
// (e.g. RequireAgentApproval off skips the ApprovalStore entirely).
type Deps struct {
	ChainObserver   adapters.ChainObserver
	GasPassports    adapters.GasPassportLookup
	Abuse           *AbuseDetector
	Approvals       adapters.ApprovalStore
	Protocols       adapters.ProtocolStore
	NativeBalances  adapters.NativeBalanceReader
	DailyWindow     *ratelimit.Window
	GlobalWindow    *ratelimit.Window
	ProtocolWindows map[string]*ratelimit.Window // lazily created per protocol id by the caller
	NewProtocolWindow func(protocolID string) *ratelimit.Window
	Reputation      adapters.ReputationAttestor
}

// attestIfEnabled submits a best-effort reputation attestation after a
// legitimacy pass, gated on the cycle's AgentConfig. Failure is logged,
// never fails the rule: attestation is a side effect, not a gate.
func (d *Deps) attestIfEnabled(ctx context.Context, cfg domain.AgentConfig, agentAddress string, sponsorCount int) {
	if !cfg.ReputationAttestationEnabled || d.Reputation == nil {
		return
	}
	if err := d.Reputation.SubmitAttestation(ctx, agentAddress, sponsorCount); err != nil {
		log.Printf("policy: reputation attestation failed for %s: %v", agentAddress, err)
	}
}

func (d *Deps) protocolWindow(protocolID string) *ratelimit.Window {
	if d.ProtocolWindows == nil {
		d.ProtocolWindows = make(map[string]*ratelimit.Window)
	}
	if w, ok := d.ProtocolWindows[protocolID]; ok {
		return w
	}
	w := d.NewProtocolWindow(protocolID)
	d.ProtocolWindows[protocolID] = w
	return w
}

// BuildSponsorshipRules returns the ten ordered sponsorship rules from
// spec §4.4. Rules 5-7 have a write side effect and only append on pass.
func BuildSponsorshipRules(d *Deps) []Rule {
	return []Rule{
		legitimacyRule(d),
		approvedAgentRule(d),
		protocolBudgetRule(d),
		agentReserveRule(d),
		dailyCapRule(d),
		globalRateLimitRule(d),
		protocolRateLimitRule(d),
		costCapRule(),
		whitelistRule(d),
		gasPriceCeilingRule(),
	}
}

func legitimacyRule(d *Deps) Rule {
	return Rule{
		Name:        "legitimacy",
		Description: "agent wallet must show real activity or a qualifying Gas Passport, and must not be flagged abusive",
		Severity:    SeverityError,
		Validate: func(ctx context.Context, dec domain.Decision, cfg domain.AgentConfig) Outcome {
			if !dec.IsSponsorship() {
				return skip()
			}
			addr := dec.Sponsor.AgentAddress

			if d.Abuse != nil {
				if res := d.Abuse.Check(ctx, addr); res.Abusive {
					return Outcome{Passed: false, Message: res.Reason}
				}
			}

			var txCount uint64
			if d.ChainObserver != nil {
				n, err := d.ChainObserver.TransactionCount(ctx, addr)
				if err == nil {
					txCount = n
				}
			}
			if txCount >= legitimacyMinTxCount {
				d.attestIfEnabled(ctx, cfg, addr, int(txCount))
				return Outcome{Passed: true}
			}

			if d.GasPassports != nil {
				passport, found, err := d.GasPassports.Lookup(ctx, addr)
				if err == nil && found {
					if passport.SponsorCount >= cfg.GasPassportMinSponsorships &&
						passport.SuccessRateBps >= cfg.GasPassportMinSuccessRateBps {
						d.attestIfEnabled(ctx, cfg, addr, passport.SponsorCount)
						return Outcome{Passed: true}
					}
				}
			}

			return Outcome{Passed: false, Message: fmt.Sprintf("agent has fewer than %d transactions and no qualifying Gas Passport", legitimacyMinTxCount)}
		},
	}
}

func approvedAgentRule(d *Deps) Rule {
	return Rule{
		Name:        "approved-agent",
		Description: "protocol must have an active (not revoked) approval for the agent, within its daily budget, when approval is required",
		Severity:    SeverityError,
		Validate: func(ctx context.Context, dec domain.Decision, cfg domain.AgentConfig) Outcome {
			if !dec.IsSponsorship() {
				return skip()
			}
			if !cfg.RequireAgentApproval {
				return Outcome{Passed: true, Message: "approval not required"}
			}
			if d.Approvals == nil {
				return Outcome{Passed: false, Message: "approval store unavailable"}
			}
			approval, found, err := d.Approvals.GetApproval(ctx, dec.Sponsor.ProtocolID, dec.Sponsor.AgentAddress)
			if err != nil || errors.Is(err, adapters.ErrDependencyUnavailable) {
				return Outcome{Passed: false, Message: "approval lookup unavailable, failing closed"}
			}
			if !found || approval.Revoked {
				return Outcome{Passed: false, Message: "no active approval for this agent"}
			}
			if approval.SpentTodayUSD+dec.Sponsor.EstimatedCostUS > approval.DailyBudgetUSD {
				return Outcome{Passed: false, Message: "approval daily budget would be exceeded"}
			}
			return Outcome{Passed: true}
		},
	}
}

func protocolBudgetRule(d *Deps) Rule {
	return Rule{
		Name:        "protocol-budget",
		Description: "protocol must have enough prepaid budget for the estimated cost",
		Severity:    SeverityError,
		Validate: func(ctx context.Context, dec domain.Decision, cfg domain.AgentConfig) Outcome {
			if !dec.IsSponsorship() {
				return skip()
			}
			if d.Protocols == nil {
				return Outcome{Passed: false, Message: "protocol store unavailable"}
			}
			record, err := d.Protocols.GetProtocol(ctx, dec.Sponsor.ProtocolID)
			if err != nil {
				return Outcome{Passed: false, Message: "protocol lookup failed: " + err.Error()}
			}
			if !record.BudgetKnown {
				return Outcome{Passed: false, Message: "protocol has no budget on record"}
			}
			if record.BudgetUSD < dec.Sponsor.EstimatedCostUS {
				return Outcome{Passed: false, Message: "protocol budget below estimated cost"}
			}
			return Outcome{Passed: true}
		},
	}
}

func agentReserveRule(d *Deps) Rule {
	return Rule{
		Name:        "agent-reserve",
		Description: "paymaster native reserve must be above threshold",
		Severity:    SeverityError,
		Validate: func(ctx context.Context, dec domain.Decision, cfg domain.AgentConfig) Outcome {
			if !dec.IsSponsorship() {
				return skip()
			}
			if d.NativeBalances == nil {
				return Outcome{Passed: false, Message: "balance reader unavailable"}
			}
			balance, err := d.NativeBalances.NativeBalance(ctx, dec.Sponsor.AgentAddress)
			if err != nil {
				return Outcome{Passed: false, Message: "balance lookup failed: " + err.Error()}
			}
			threshold := cfg.ReserveThresholdETH
			if threshold == 0 {
				threshold = defaultReserveThresholdETH
			}
			if balance < threshold {
				return Outcome{Passed: false, Message: "native reserve below threshold"}
			}
			return Outcome{Passed: true}
		},
	}
}

func dailyCapRule(d *Deps) Rule {
	return Rule{
		Name:        "daily-cap-per-user",
		Description: "agent wallet must be under its daily sponsorship cap",
		Severity:    SeverityError,
		Validate: func(ctx context.Context, dec domain.Decision, cfg domain.AgentConfig) Outcome {
			if !dec.IsSponsorship() {
				return skip()
			}
			max := cfg.MaxSponsorshipsPerUserDay
			if max == 0 {
				max = defaultDailyCap
			}
			key := ratelimit.AgentDailyKey(strings.ToLower(dec.Sponsor.AgentAddress))
			if d.DailyWindow.Count(ctx, key) >= max {
				return Outcome{Passed: false, Message: "agent exceeded daily sponsorship cap"}
			}
			d.DailyWindow.Record(ctx, key)
			return Outcome{Passed: true}
		},
	}
}

func globalRateLimitRule(d *Deps) Rule {
	return Rule{
		Name:        "global-rate-limit",
		Description: "global per-minute sponsorship quota must not be exceeded",
		Severity:    SeverityError,
		Validate: func(ctx context.Context, dec domain.Decision, cfg domain.AgentConfig) Outcome {
			if !dec.IsSponsorship() {
				return skip()
			}
			max := cfg.MaxSponsorshipsPerMinute
			if max == 0 {
				max = defaultGlobalPerMinute
			}
			if d.GlobalWindow.Count(ctx, ratelimit.GlobalMinuteKey) >= max {
				return Outcome{Passed: false, Message: "global per-minute sponsorship quota exceeded"}
			}
			d.GlobalWindow.Record(ctx, ratelimit.GlobalMinuteKey)
			return Outcome{Passed: true}
		},
	}
}

func protocolRateLimitRule(d *Deps) Rule {
	return Rule{
		Name:        "protocol-rate-limit",
		Description: "per-protocol per-minute sponsorship quota must not be exceeded",
		Severity:    SeverityError,
		Validate: func(ctx context.Context, dec domain.Decision, cfg domain.AgentConfig) Outcome {
			if !dec.IsSponsorship() {
				return skip()
			}
			max := cfg.MaxSponsorshipsPerProtocolMin
			if max == 0 {
				max = defaultProtocolPerMinute
			}
			w := d.protocolWindow(dec.Sponsor.ProtocolID)
			key := ratelimit.ProtocolMinuteKey(dec.Sponsor.ProtocolID)
			if w.Count(ctx, key) >= max {
				return Outcome{Passed: false, Message: "protocol per-minute sponsorship quota exceeded"}
			}
			w.Record(ctx, key)
			return Outcome{Passed: true}
		},
	}
}

func costCapRule() Rule {
	return Rule{
		Name:        "cost-cap",
		Description: "estimated sponsorship cost must not exceed the per-sponsorship maximum",
		Severity:    SeverityError,
		Validate: func(ctx context.Context, dec domain.Decision, cfg domain.AgentConfig) Outcome {
			if !dec.IsSponsorship() {
				return skip()
			}
			max := cfg.MaxSponsorshipCostUSD
			if max == 0 {
				max = defaultCostCapUSD
			}
			if dec.Sponsor.EstimatedCostUS > max {
				return Outcome{Passed: false, Message: "estimated cost exceeds per-sponsorship maximum"}
			}
			return Outcome{Passed: true}
		},
	}
}

func whitelistRule(d *Deps) Rule {
	return Rule{
		Name:        "whitelist",
		Description: "target contract must be on the protocol's whitelist, if one is configured",
		Severity:    SeverityError,
		Validate: func(ctx context.Context, dec domain.Decision, cfg domain.AgentConfig) Outcome {
			if !dec.IsSponsorship() {
				return skip()
			}
			if d.Protocols == nil {
				return Outcome{Passed: false, Message: "protocol store unavailable"}
			}
			record, err := d.Protocols.GetProtocol(ctx, dec.Sponsor.ProtocolID)
			if err != nil || errors.Is(err, adapters.ErrDependencyUnavailable) {
				return Outcome{Passed: false, Message: "protocol lookup unavailable, failing closed"}
			}
			if len(record.WhitelistContracts) == 0 {
				return Outcome{Passed: true, Message: "no whitelist configured"}
			}
			if dec.Sponsor.TargetContract == nil {
				return Outcome{Passed: false, Message: "target contract required by whitelist"}
			}
			target := strings.ToLower(*dec.Sponsor.TargetContract)
			for _, allowed := range record.WhitelistContracts {
				if strings.ToLower(allowed) == target {
					return Outcome{Passed: true}
				}
			}
			return Outcome{Passed: false, Message: "target contract not on protocol whitelist"}
		},
	}
}

func gasPriceCeilingRule() Rule {
	return Rule{
		Name:        "gas-price-optimization",
		Description: "current gas price must be below the configured ceiling",
		Severity:    SeverityError,
		Validate: func(ctx context.Context, dec domain.Decision, cfg domain.AgentConfig) Outcome {
			if !dec.IsSponsorship() {
				return skip()
			}
			if cfg.CurrentGasPriceGwei >= cfg.MaxGasPriceGwei {
				return Outcome{Passed: false, Message: "current gas price at or above configured maximum"}
			}
			return Outcome{Passed: true}
		},
	}
}
