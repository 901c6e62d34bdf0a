package policy

import (
	"context"
	"strings"

	"aegis/internal/adapters"
	"aegis/internal/ratelimit"
)

const sybilThreshold = 10
const dustMinSamples = 5
const dustRatioThreshold = 0.8
const dustValueUSD = 1.0 // sub-dust threshold

// AbuseResult reports whether an agent wallet is abusive and why.
type AbuseResult struct {
	Abusive bool
	Reason  string
}

// AbuseDetector is the conjunction of the sybil, dust-spam, and blacklist
// checks from spec §4.4. The first abusive result wins.
type AbuseDetector struct {
	SybilWindow *ratelimit.Window
	Explorer    adapters.ExplorerClient // nil disables the dust-spam check
	Blacklist   map[string]struct{}     // lower-cased addresses
}

// NewAbuseDetector builds a detector from a comma-separated blacklist
// string (spec §6's ABUSE_BLACKLIST).
func NewAbuseDetector(sybilWindow *ratelimit.Window, explorer adapters.ExplorerClient, blacklistCSV string) *AbuseDetector {
	set := make(map[string]struct{})
	for _, addr := range strings.Split(blacklistCSV, ",") {
		addr = strings.ToLower(strings.TrimSpace(addr))
		if addr != "" {
			set[addr] = struct{}{}
		}
	}
	return &AbuseDetector{SybilWindow: sybilWindow, Explorer: explorer, Blacklist: set}
}

// Check runs sybil, dust-spam, and blacklist checks in order, short
// circuiting on the first abusive result (spec §4.4's stated order).
func (a *AbuseDetector) Check(ctx context.Context, agentAddress string) AbuseResult {
	lower := strings.ToLower(agentAddress)

	if a.SybilWindow != nil && a.SybilWindow.Count(ctx, ratelimit.SybilKey(lower)) >= sybilThreshold {
		return AbuseResult{Abusive: true, Reason: "agent wallet exceeds sybil sponsorship threshold"}
	}

	if a.Explorer != nil {
		values, err := a.Explorer.RecentTransactionValues(ctx, agentAddress, 20)
		if err == nil && len(values) >= dustMinSamples {
			dustCount := 0
			for _, v := range values {
				if v < dustValueUSD {
					dustCount++
				}
			}
			if float64(dustCount)/float64(len(values)) >= dustRatioThreshold {
				return AbuseResult{Abusive: true, Reason: "agent wallet exhibits dust-spam transaction pattern"}
			}
		}
	}

	if _, blacklisted := a.Blacklist[lower]; blacklisted {
		return AbuseResult{Abusive: true, Reason: "agent wallet is blacklisted"}
	}

	return AbuseResult{Abusive: false}
}

// RecordSybilSample appends a sponsorship timestamp to the sybil window.
// Called by the queue consumer only after a queued sponsorship completes,
// so rejected decisions never inflate the sybil count; sponsorships
// executed by the orchestrator's modes are not recorded here.
func (a *AbuseDetector) RecordSybilSample(ctx context.Context, agentAddress string) {
	if a.SybilWindow != nil {
		a.SybilWindow.Record(ctx, ratelimit.SybilKey(strings.ToLower(agentAddress)))
	}
}
