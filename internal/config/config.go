// Package config loads Aegis's runtime configuration: environment
// variables for secrets and deployment thresholds (spec §6), combined with
// an optional YAML file for static topology (protocol registry, rule
// threshold overrides), matching the teacher's configs/config.go
// LoadConfig + To*Config() pattern.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"aegis/internal/breaker"
	"aegis/internal/domain"
)

// NetworkID is the closed enumeration of supported chains.
type NetworkID string

const (
	NetworkBase        NetworkID = "base"
	NetworkBaseSepolia NetworkID = "base-sepolia"
)

// Config is the fully-resolved runtime configuration.
type Config struct {
	AgentNetworkID       NetworkID
	ExecuteWalletPrivateKey string
	AgentWalletAddress   string
	USDCAddress          string
	BaseRPCURL           string

	ReserveThresholdETH           float64
	MaxSponsorshipsPerUserDay     int
	MaxSponsorshipsPerMinute      int
	MaxSponsorshipsPerProtocolMin int
	MaxSponsorshipCostUSD         float64
	GasPriceMaxGwei               float64
	RequireAgentApproval          bool
	GasPassportMinSponsorships    int
	GasPassportMinSuccessRateBps  int

	EconomicBreakerEnabled bool
	Breaker                breaker.Config

	TargetReserveETH               float64
	ReserveCriticalETH             float64
	GasSponsorshipHealthSkipThreshold float64

	RedisURL               string
	RequestSignatureSecret string
	ProtocolWebhookSecret  string

	BlockscoutAPIURL             string
	WhitelistedLowGasCandidates  []string
	WhitelistedNewWalletCandidates []string
	AbuseBlacklist               string
	AbuseScamContracts           []string

	Topology Topology
}

// Topology is the static YAML-configured protocol registry and rule
// threshold override set (the AMBIENT STACK's yaml.v3 topology file).
type Topology struct {
	Protocols []ProtocolTopology `yaml:"protocols"`
}

// ProtocolTopology is one statically-registered protocol.
type ProtocolTopology struct {
	ID                 string   `yaml:"id"`
	WhitelistContracts []string `yaml:"whitelistContracts"`
}

// Load builds a Config from the process environment, optionally merging a
// YAML topology file if topologyPath is non-empty.
func Load(topologyPath string) (Config, error) {
	cfg := Config{
		AgentNetworkID:       NetworkID(getenvDefault("AGENT_NETWORK_ID", string(NetworkBase))),
		AgentWalletAddress:   os.Getenv("AGENT_WALLET_ADDRESS"),
		USDCAddress:          os.Getenv("USDC_ADDRESS"),
		BaseRPCURL:           os.Getenv("BASE_RPC_URL"),

		ReserveThresholdETH:           getenvFloat("RESERVE_THRESHOLD_ETH", 0.1),
		MaxSponsorshipsPerUserDay:     getenvInt("MAX_SPONSORSHIPS_PER_USER_DAY", 3),
		MaxSponsorshipsPerMinute:      getenvInt("MAX_SPONSORSHIPS_PER_MINUTE", 10),
		MaxSponsorshipsPerProtocolMin: getenvInt("MAX_SPONSORSHIPS_PER_PROTOCOL_MINUTE", 5),
		MaxSponsorshipCostUSD:         getenvFloat("MAX_SPONSORSHIP_COST_USD", 0.5),
		GasPriceMaxGwei:               getenvFloat("GAS_PRICE_MAX_GWEI", 2),
		RequireAgentApproval:          getenvBool("REQUIRE_AGENT_APPROVAL", false),
		GasPassportMinSponsorships:    getenvInt("GAS_PASSPORT_PREFERENTIAL_MIN_SPONSORSHIPS", 10),
		GasPassportMinSuccessRateBps:  getenvInt("GAS_PASSPORT_PREFERENTIAL_MIN_SUCCESS_BPS", 9500),

		EconomicBreakerEnabled: getenvBool("ECONOMIC_BREAKER_ENABLED", true),

		TargetReserveETH:                 getenvFloat("TARGET_RESERVE_ETH", 0.5),
		ReserveCriticalETH:               getenvFloat("RESERVE_CRITICAL_ETH", 0.05),
		GasSponsorshipHealthSkipThreshold: getenvFloat("GAS_SPONSORSHIP_HEALTH_SKIP_THRESHOLD", 10),

		RedisURL:               os.Getenv("REDIS_URL"),
		RequestSignatureSecret: os.Getenv("REQUEST_SIGNATURE_SECRET"),
		ProtocolWebhookSecret:  os.Getenv("PROTOCOL_WEBHOOK_SECRET"),

		BlockscoutAPIURL:               os.Getenv("BLOCKSCOUT_API_URL"),
		WhitelistedLowGasCandidates:    splitCSV(os.Getenv("WHITELISTED_LOW_GAS_CANDIDATES")),
		WhitelistedNewWalletCandidates: splitCSV(os.Getenv("WHITELISTED_NEW_WALLET_CANDIDATES")),
		AbuseBlacklist:                 os.Getenv("ABUSE_BLACKLIST"),
		AbuseScamContracts:             splitCSV(os.Getenv("ABUSE_SCAM_CONTRACTS")),
	}

	cfg.Breaker = breaker.Config{
		MaxGasPriceGwei:            getenvFloat("ECONOMIC_BREAKER_MAX_GAS_GWEI", 5),
		MinRunwayHours:             getenvFloat("ECONOMIC_BREAKER_MIN_RUNWAY_HOURS", 24),
		MinReserveETH:              getenvFloat("ECONOMIC_BREAKER_MIN_RESERVE_ETH", 0.1),
		MinReserveUSDC:             getenvFloat("ECONOMIC_BREAKER_MIN_RESERVE_USDC", 100),
		MaxBudgetUtilizationPct:    getenvFloat("ECONOMIC_BREAKER_MAX_BUDGET_PCT", 90),
		GasPriceCloseThresholdGwei: breaker.DefaultConfig().GasPriceCloseThresholdGwei,
		GasPriceWindowMs:           breaker.DefaultConfig().GasPriceWindowMs,
	}

	cfg.ExecuteWalletPrivateKey = firstNonEmpty(os.Getenv("EXECUTE_WALLET_PRIVATE_KEY"), os.Getenv("AGENT_PRIVATE_KEY"))

	if cfg.AgentNetworkID != NetworkBase && cfg.AgentNetworkID != NetworkBaseSepolia {
		return Config{}, fmt.Errorf("config: unsupported AGENT_NETWORK_ID %q", cfg.AgentNetworkID)
	}

	if topologyPath != "" {
		topology, err := loadTopology(topologyPath)
		if err != nil {
			return Config{}, fmt.Errorf("config: failed to load topology: %w", err)
		}
		cfg.Topology = topology
	}

	return cfg, nil
}

func loadTopology(path string) (Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Topology{}, fmt.Errorf("failed to read topology file: %w", err)
	}
	var topology Topology
	if err := yaml.Unmarshal(data, &topology); err != nil {
		return Topology{}, fmt.Errorf("failed to parse topology YAML: %w", err)
	}
	return topology, nil
}

// ChainID returns the numeric chain id for the configured network.
func (c Config) ChainID() int64 {
	if c.AgentNetworkID == NetworkBaseSepolia {
		return 84532
	}
	return 8453
}

// ReserveDefaults returns the reserve-pipeline mode's target reserve and
// critical threshold.
func (c Config) ReserveDefaults() (targetReserveETH, criticalThresholdETH float64) {
	return c.TargetReserveETH, c.ReserveCriticalETH
}

// ToAgentConfigBaseline renders the policy thresholds as a
// domain.AgentConfig; cmd/aegisd supplies it as the queue consumer's
// baseline. The orchestrator modes build their own baselines and do not
// use it.
func (c Config) ToAgentConfigBaseline() domain.AgentConfig {
	return domain.AgentConfig{
		RequireAgentApproval:          c.RequireAgentApproval,
		GasPassportMinSponsorships:    c.GasPassportMinSponsorships,
		GasPassportMinSuccessRateBps:  c.GasPassportMinSuccessRateBps,
		MaxSponsorshipsPerUserDay:     c.MaxSponsorshipsPerUserDay,
		MaxSponsorshipsPerMinute:      c.MaxSponsorshipsPerMinute,
		MaxSponsorshipsPerProtocolMin: c.MaxSponsorshipsPerProtocolMin,
		MaxSponsorshipCostUSD:         c.MaxSponsorshipCostUSD,
		ReserveThresholdETH:           c.ReserveThresholdETH,
		MaxGasPriceGwei:               c.GasPriceMaxGwei,
	}
}

func getenvDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getenvFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

func getenvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getenvBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
