// Package config loads the node's runtime configuration from environment
// variables, with an optional YAML file layered on top. The flat struct of
// scalar tuning knobs keeps every consensus-relevant parameter visible in
// one place.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every staking-protocol tunable plus the node/network wiring
// the embedded consensus engine needs.
type Config struct {
	// Staking parameters.
	MinRequiredStaking    uint64
	MaxValidators         int
	MaxEvidenceAge        time.Duration
	SlashWaitPeriod       time.Duration
	JailDuration          time.Duration
	RewardPeriod          time.Duration
	UnbondingPeriod       time.Duration
	BlockSigningWindow    int
	ByzantineSlashPercent int // integer percent, e.g. 20 for 20%
	LivenessSlashPercent  int
	MissedBlockThreshold  int

	// Base unit of voting power (glossary: "base unit").
	BaseUnit uint64

	// Node/network wiring.
	ChainID     string
	GenesisFile string
	DataDir     string
	DBBackend   string

	// CometBFT node wiring.
	ListenAddr string
	RPCAddr    string
	P2PAddr    string

	// Ambient observability.
	MetricsAddr string
	LogLevel    string
}

// Load reads configuration from environment variables, falling back to
// sane defaults for every setting, chain identity included.
func Load() *Config {
	return &Config{
		MinRequiredStaking:    getEnvUint64("MIN_REQUIRED_STAKING", 1_0000_0000),
		MaxValidators:         getEnvInt("MAX_VALIDATORS", 10),
		MaxEvidenceAge:        getEnvDuration("MAX_EVIDENCE_AGE", 48*time.Hour),
		SlashWaitPeriod:       getEnvDuration("SLASH_WAIT_PERIOD", 10*time.Minute),
		JailDuration:          getEnvDuration("JAIL_DURATION", 24*time.Hour),
		RewardPeriod:          getEnvDuration("REWARD_PERIOD", time.Hour),
		UnbondingPeriod:       getEnvDuration("UNBONDING_PERIOD", 21*24*time.Hour),
		BlockSigningWindow:    getEnvInt("BLOCK_SIGNING_WINDOW", 100),
		ByzantineSlashPercent: getEnvInt("BYZANTINE_SLASH_PERCENT", 20),
		LivenessSlashPercent:  getEnvInt("LIVENESS_SLASH_PERCENT", 1),
		MissedBlockThreshold:  getEnvInt("MISSED_BLOCK_THRESHOLD", 50),

		BaseUnit: getEnvUint64("BASE_UNIT", 1_0000_0000),

		ChainID:     getEnv("CHAIN_ID", "stakechain-devnet-01"),
		GenesisFile: getEnv("GENESIS_FILE", "./config/genesis.json"),
		DataDir:     getEnv("DATA_DIR", "./data"),
		DBBackend:   getEnv("DB_BACKEND", "goleveldb"),

		ListenAddr: getEnv("ABCI_LISTEN_ADDR", "tcp://127.0.0.1:26658"),
		RPCAddr:    getEnv("RPC_ADDR", "tcp://127.0.0.1:26657"),
		P2PAddr:    getEnv("P2P_ADDR", "tcp://0.0.0.0:26656"),

		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}
}

// Validate checks the configuration is internally consistent enough to
// start the node; a failure here is a startup-time fatal error, not a
// per-block one.
func (c *Config) Validate() error {
	if len(c.ChainID) < 2 {
		return fmt.Errorf("config: chain id %q too short to carry a network identifier byte", c.ChainID)
	}
	if c.MaxValidators <= 0 {
		return fmt.Errorf("config: max validators must be positive, got %d", c.MaxValidators)
	}
	if c.BlockSigningWindow <= 0 {
		return fmt.Errorf("config: block signing window must be positive, got %d", c.BlockSigningWindow)
	}
	if c.ByzantineSlashPercent < 0 || c.ByzantineSlashPercent > 100 {
		return fmt.Errorf("config: byzantine slash percent out of range: %d", c.ByzantineSlashPercent)
	}
	if c.LivenessSlashPercent < 0 || c.LivenessSlashPercent > 100 {
		return fmt.Errorf("config: liveness slash percent out of range: %d", c.LivenessSlashPercent)
	}
	if c.BaseUnit == 0 {
		return fmt.Errorf("config: base unit must be non-zero")
	}
	return nil
}

// NetworkByte returns the one-byte network identifier carried in the last
// two hex characters of the chain ID; it participates in transaction
// hashing for cross-network replay protection.
func (c *Config) NetworkByte() (byte, error) {
	if len(c.ChainID) < 2 {
		return 0, fmt.Errorf("config: chain id too short")
	}
	suffix := c.ChainID[len(c.ChainID)-2:]
	v, err := strconv.ParseUint(suffix, 16, 8)
	if err != nil {
		return 0, fmt.Errorf("config: chain id suffix %q is not hex: %w", suffix, err)
	}
	return byte(v), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseUint(value, 10, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
