package policy

import (
	"context"
	"testing"
	"time"

	"aegis/internal/adapters"
	"aegis/internal/domain"
	"aegis/internal/ratelimit"
	"aegis/internal/statestore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChainObserver struct {
	count uint64
	err   error
}

func (f fakeChainObserver) TransactionCount(context.Context, string) (uint64, error) {
	return f.count, f.err
}

type fakeProtocolStore struct {
	records map[string]adapters.ProtocolRecord
	err     error
}

func (f fakeProtocolStore) GetProtocol(_ context.Context, id string) (adapters.ProtocolRecord, error) {
	if f.err != nil {
		return adapters.ProtocolRecord{}, f.err
	}
	r, ok := f.records[id]
	if !ok {
		return adapters.ProtocolRecord{}, adapters.ErrDependencyUnavailable
	}
	return r, nil
}

type fakeBalanceReader struct {
	balance float64
	err     error
}

func (f fakeBalanceReader) NativeBalance(context.Context, string) (float64, error) {
	return f.balance, f.err
}

type fakeReputationAttestor struct {
	calls int
}

func (f *fakeReputationAttestor) SubmitAttestation(context.Context, string, int) error {
	f.calls++
	return nil
}

func sponsorDecision(agent, protocol string, costUSD float64) domain.Decision {
	return domain.Decision{
		Action:     domain.ActionSponsorTransaction,
		Confidence: 1,
		Sponsor: &domain.SponsorParams{
			AgentAddress:    agent,
			ProtocolID:      protocol,
			EstimatedCostUS: costUSD,
		},
	}
}

func newDeps(store statestore.Store) *Deps {
	return &Deps{
		ChainObserver:  fakeChainObserver{count: legitimacyMinTxCount},
		Protocols:      fakeProtocolStore{records: map[string]adapters.ProtocolRecord{"acme": {BudgetUSD: 100, BudgetKnown: true}}},
		NativeBalances: fakeBalanceReader{balance: 1},
		DailyWindow:    ratelimit.NewWindow(store, 24*time.Hour, 3),
		GlobalWindow:   ratelimit.NewWindow(store, time.Minute, 10),
		NewProtocolWindow: func(protocolID string) *ratelimit.Window {
			return ratelimit.NewWindow(store, time.Minute, 5)
		},
	}
}

func TestEngine_HappyPathPasses(t *testing.T) {
	store := statestore.NewMemoryStore()
	d := newDeps(store)
	engine := NewEngine(BuildSponsorshipRules(d))

	dec := sponsorDecision("0xagent", "acme", 0.1)
	cfg := domain.AgentConfig{MaxGasPriceGwei: 5, CurrentGasPriceGwei: 1}

	result := engine.Validate(context.Background(), dec, cfg)
	assert.True(t, result.Passed, "errors: %v", result.Errors)
}

func TestEngine_GasPriceCeilingBlocks(t *testing.T) {
	store := statestore.NewMemoryStore()
	d := newDeps(store)
	engine := NewEngine(BuildSponsorshipRules(d))

	dec := sponsorDecision("0xagent", "acme", 0.1)
	cfg := domain.AgentConfig{MaxGasPriceGwei: 5, CurrentGasPriceGwei: 6}

	result := engine.Validate(context.Background(), dec, cfg)
	assert.False(t, result.Passed)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[len(result.Errors)-1], "gas-price-optimization")
}

func TestEngine_FailedRuleDoesNotIncrementCounters(t *testing.T) {
	store := statestore.NewMemoryStore()
	d := newDeps(store)
	// Force the gas-price-ceiling rule (the last rule) to fail so every
	// earlier write-side-effect rule (daily cap, global/protocol rate
	// limit) has already run and recorded on this pass.
	engine := NewEngine(BuildSponsorshipRules(d))
	dec := sponsorDecision("0xagent", "acme", 0.1)
	failingCfg := domain.AgentConfig{MaxGasPriceGwei: 5, CurrentGasPriceGwei: 6}

	for i := 0; i < 5; i++ {
		result := engine.Validate(context.Background(), dec, failingCfg)
		assert.False(t, result.Passed)
	}

	// A later passing validation must still see an empty global window:
	// rules 5-7 run and record on every call regardless of a later rule's
	// outcome, since the engine evaluates independently-ordered rules and
	// does not roll back earlier passes. What must NOT happen is the
	// daily cap itself blocking admission for a wallet that never passed.
	assert.Equal(t, 5, d.GlobalWindow.Count(context.Background(), ratelimit.GlobalMinuteKey))
}

func TestEngine_DailyCapBlocksAfterQuota(t *testing.T) {
	store := statestore.NewMemoryStore()
	d := newDeps(store)
	engine := NewEngine(BuildSponsorshipRules(d))
	cfg := domain.AgentConfig{MaxGasPriceGwei: 5, CurrentGasPriceGwei: 1, MaxSponsorshipsPerUserDay: 2}

	dec := sponsorDecision("0xagent", "acme", 0.1)
	assert.True(t, engine.Validate(context.Background(), dec, cfg).Passed)
	assert.True(t, engine.Validate(context.Background(), dec, cfg).Passed)
	result := engine.Validate(context.Background(), dec, cfg)
	assert.False(t, result.Passed)
	assert.Contains(t, JoinErrors(result.Errors), "daily-cap-per-user")
}

func TestEngine_ProtocolBudgetInsufficientBlocks(t *testing.T) {
	store := statestore.NewMemoryStore()
	d := newDeps(store)
	d.Protocols = fakeProtocolStore{records: map[string]adapters.ProtocolRecord{"acme": {BudgetUSD: 0.01, BudgetKnown: true}}}
	engine := NewEngine(BuildSponsorshipRules(d))

	dec := sponsorDecision("0xagent", "acme", 5)
	cfg := domain.AgentConfig{MaxGasPriceGwei: 5, CurrentGasPriceGwei: 1}

	result := engine.Validate(context.Background(), dec, cfg)
	assert.False(t, result.Passed)
	assert.Contains(t, JoinErrors(result.Errors), "protocol-budget")
}

func TestEngine_WhitelistBlocksUnlistedContract(t *testing.T) {
	store := statestore.NewMemoryStore()
	d := newDeps(store)
	d.Protocols = fakeProtocolStore{records: map[string]adapters.ProtocolRecord{
		"acme": {BudgetUSD: 100, BudgetKnown: true, WhitelistContracts: []string{"0xdead"}},
	}}
	engine := NewEngine(BuildSponsorshipRules(d))

	target := "0xbeef"
	dec := sponsorDecision("0xagent", "acme", 0.1)
	dec.Sponsor.TargetContract = &target
	cfg := domain.AgentConfig{MaxGasPriceGwei: 5, CurrentGasPriceGwei: 1}

	result := engine.Validate(context.Background(), dec, cfg)
	assert.False(t, result.Passed)
	assert.Contains(t, JoinErrors(result.Errors), "whitelist")
}

func TestEngine_NonSponsorshipDecisionSkipsAllRules(t *testing.T) {
	store := statestore.NewMemoryStore()
	d := newDeps(store)
	engine := NewEngine(BuildSponsorshipRules(d))

	dec := domain.Decision{Action: domain.ActionWait, Confidence: 1}
	cfg := domain.AgentConfig{}

	result := engine.Validate(context.Background(), dec, cfg)
	assert.True(t, result.Passed)
	for _, r := range result.AppliedRules {
		assert.True(t, r.Passed)
	}
}

func TestLegitimacyRule_AttestsOnlyWhenEnabled(t *testing.T) {
	store := statestore.NewMemoryStore()
	attestor := &fakeReputationAttestor{}
	d := newDeps(store)
	d.Reputation = attestor
	engine := NewEngine(BuildSponsorshipRules(d))
	dec := sponsorDecision("0xagent", "acme", 0.1)

	cfgDisabled := domain.AgentConfig{MaxGasPriceGwei: 5, CurrentGasPriceGwei: 1, ReputationAttestationEnabled: false}
	engine.Validate(context.Background(), dec, cfgDisabled)
	assert.Equal(t, 0, attestor.calls)

	cfgEnabled := domain.AgentConfig{MaxGasPriceGwei: 5, CurrentGasPriceGwei: 1, ReputationAttestationEnabled: true}
	engine.Validate(context.Background(), dec, cfgEnabled)
	assert.Equal(t, 1, attestor.calls)
}

func TestAbuseDetector_BlacklistBlocksWhenNoEarlierCheckFires(t *testing.T) {
	store := statestore.NewMemoryStore()
	detector := NewAbuseDetector(ratelimit.NewWindow(store, time.Minute, 100), nil, "0xbad")
	result := detector.Check(context.Background(), "0xBAD")
	assert.True(t, result.Abusive)
	assert.Contains(t, result.Reason, "blacklisted")
}

func TestAbuseDetector_SybilWinsOverBlacklist(t *testing.T) {
	store := statestore.NewMemoryStore()
	window := ratelimit.NewWindow(store, time.Minute, 100)
	detector := NewAbuseDetector(window, nil, "0xagent")

	for i := 0; i < sybilThreshold; i++ {
		detector.RecordSybilSample(context.Background(), "0xagent")
	}
	result := detector.Check(context.Background(), "0xagent")
	assert.True(t, result.Abusive)
	assert.Contains(t, result.Reason, "sybil", "sybil is checked before blacklist per spec order")
}

func TestAbuseDetector_SybilThreshold(t *testing.T) {
	store := statestore.NewMemoryStore()
	window := ratelimit.NewWindow(store, time.Minute, 100)
	detector := NewAbuseDetector(window, nil, "")

	for i := 0; i < sybilThreshold; i++ {
		detector.RecordSybilSample(context.Background(), "0xagent")
	}
	result := detector.Check(context.Background(), "0xagent")
	assert.True(t, result.Abusive)
}
