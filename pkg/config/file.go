package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config for YAML unmarshalling. Durations are strings in
// Go duration syntax ("48h", "10m"); zero values mean "keep the default".
type fileConfig struct {
	MinRequiredStaking    uint64 `yaml:"min_required_staking"`
	MaxValidators         int    `yaml:"max_validators"`
	MaxEvidenceAge        string `yaml:"max_evidence_age"`
	SlashWaitPeriod       string `yaml:"slash_wait_period"`
	JailDuration          string `yaml:"jail_duration"`
	RewardPeriod          string `yaml:"reward_period"`
	UnbondingPeriod       string `yaml:"unbonding_period"`
	BlockSigningWindow    int    `yaml:"block_signing_window"`
	ByzantineSlashPercent int    `yaml:"byzantine_slash_percent"`
	LivenessSlashPercent  int    `yaml:"liveness_slash_percent"`
	MissedBlockThreshold  int    `yaml:"missed_block_threshold"`

	BaseUnit uint64 `yaml:"base_unit"`

	ChainID     string `yaml:"chain_id"`
	GenesisFile string `yaml:"genesis_file"`
	DataDir     string `yaml:"data_dir"`
	DBBackend   string `yaml:"db_backend"`

	ListenAddr string `yaml:"abci_listen_addr"`
	RPCAddr    string `yaml:"rpc_addr"`
	P2PAddr    string `yaml:"p2p_addr"`

	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// LoadFile layers a YAML configuration file over the environment-derived
// defaults from Load. File values win; fields absent from the file keep
// whatever Load produced.
func LoadFile(path string) (*Config, error) {
	cfg := Load()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if fc.MinRequiredStaking != 0 {
		cfg.MinRequiredStaking = fc.MinRequiredStaking
	}
	if fc.MaxValidators != 0 {
		cfg.MaxValidators = fc.MaxValidators
	}
	if err := overlayDuration(&cfg.MaxEvidenceAge, fc.MaxEvidenceAge, "max_evidence_age"); err != nil {
		return nil, err
	}
	if err := overlayDuration(&cfg.SlashWaitPeriod, fc.SlashWaitPeriod, "slash_wait_period"); err != nil {
		return nil, err
	}
	if err := overlayDuration(&cfg.JailDuration, fc.JailDuration, "jail_duration"); err != nil {
		return nil, err
	}
	if err := overlayDuration(&cfg.RewardPeriod, fc.RewardPeriod, "reward_period"); err != nil {
		return nil, err
	}
	if err := overlayDuration(&cfg.UnbondingPeriod, fc.UnbondingPeriod, "unbonding_period"); err != nil {
		return nil, err
	}
	if fc.BlockSigningWindow != 0 {
		cfg.BlockSigningWindow = fc.BlockSigningWindow
	}
	if fc.ByzantineSlashPercent != 0 {
		cfg.ByzantineSlashPercent = fc.ByzantineSlashPercent
	}
	if fc.LivenessSlashPercent != 0 {
		cfg.LivenessSlashPercent = fc.LivenessSlashPercent
	}
	if fc.MissedBlockThreshold != 0 {
		cfg.MissedBlockThreshold = fc.MissedBlockThreshold
	}
	if fc.BaseUnit != 0 {
		cfg.BaseUnit = fc.BaseUnit
	}
	if fc.ChainID != "" {
		cfg.ChainID = fc.ChainID
	}
	if fc.GenesisFile != "" {
		cfg.GenesisFile = fc.GenesisFile
	}
	if fc.DataDir != "" {
		cfg.DataDir = fc.DataDir
	}
	if fc.DBBackend != "" {
		cfg.DBBackend = fc.DBBackend
	}
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	if fc.RPCAddr != "" {
		cfg.RPCAddr = fc.RPCAddr
	}
	if fc.P2PAddr != "" {
		cfg.P2PAddr = fc.P2PAddr
	}
	if fc.MetricsAddr != "" {
		cfg.MetricsAddr = fc.MetricsAddr
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	return cfg, nil
}

func overlayDuration(dst *time.Duration, raw, field string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: %s %q: %w", field, raw, err)
	}
	*dst = d
	return nil
}
