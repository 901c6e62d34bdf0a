package adapters

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// StaticProtocolStore is an in-memory ProtocolStore seeded from the YAML
// topology file and updated at runtime as prepaid budgets change (e.g. via
// a protocol top-up webhook). It is the default ProtocolStore until a
// database-backed one is wired in.
type StaticProtocolStore struct {
	mu        sync.RWMutex
	protocols map[string]ProtocolRecord
}

// NewStaticProtocolStore seeds the store from a set of protocol ids and
// their whitelist contracts; budgets start at zero until credited.
func NewStaticProtocolStore(ids map[string][]string) *StaticProtocolStore {
	protocols := make(map[string]ProtocolRecord, len(ids))
	for id, whitelist := range ids {
		lower := make([]string, len(whitelist))
		for i, w := range whitelist {
			lower[i] = strings.ToLower(w)
		}
		protocols[id] = ProtocolRecord{WhitelistContracts: lower}
	}
	return &StaticProtocolStore{protocols: protocols}
}

// GetProtocol implements ProtocolStore.
func (s *StaticProtocolStore) GetProtocol(ctx context.Context, protocolID string) (ProtocolRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.protocols[protocolID]
	if !ok {
		return ProtocolRecord{}, fmt.Errorf("unknown protocol %q", protocolID)
	}
	return record, nil
}

// Credit adds usd to a protocol's prepaid budget, registering the protocol
// if it is not already known.
func (s *StaticProtocolStore) Credit(protocolID string, usd float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record := s.protocols[protocolID]
	record.BudgetUSD += usd
	record.BudgetKnown = true
	s.protocols[protocolID] = record
}

// Debit subtracts usd from a protocol's prepaid budget after a sponsorship
// completes.
func (s *StaticProtocolStore) Debit(protocolID string, usd float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.protocols[protocolID]
	if !ok {
		return
	}
	record.BudgetUSD -= usd
	if record.BudgetUSD < 0 {
		record.BudgetUSD = 0
	}
	s.protocols[protocolID] = record
}

// Snapshot returns a copy of every known protocol record.
func (s *StaticProtocolStore) Snapshot() map[string]ProtocolRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ProtocolRecord, len(s.protocols))
	for k, v := range s.protocols {
		out[k] = v
	}
	return out
}
