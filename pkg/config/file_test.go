package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFileOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	doc := `
chain_id: stakechain-yaml-2a
max_validators: 25
jail_duration: 12h
base_unit: 50000000
metrics_addr: ":9191"
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ChainID != "stakechain-yaml-2a" {
		t.Fatalf("chain id = %q", cfg.ChainID)
	}
	if cfg.MaxValidators != 25 {
		t.Fatalf("max validators = %d", cfg.MaxValidators)
	}
	if cfg.JailDuration != 12*time.Hour {
		t.Fatalf("jail duration = %v", cfg.JailDuration)
	}
	if cfg.BaseUnit != 50000000 {
		t.Fatalf("base unit = %d", cfg.BaseUnit)
	}
	if cfg.MetricsAddr != ":9191" {
		t.Fatalf("metrics addr = %q", cfg.MetricsAddr)
	}
	// Untouched fields keep their defaults.
	if cfg.BlockSigningWindow != 100 {
		t.Fatalf("block signing window = %d, want default", cfg.BlockSigningWindow)
	}

	nb, err := cfg.NetworkByte()
	if err != nil {
		t.Fatal(err)
	}
	if nb != 0x2a {
		t.Fatalf("network byte = %#x, want 0x2a", nb)
	}
}

func TestLoadFileRejectsBadDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	if err := os.WriteFile(path, []byte("jail_duration: soon\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("accepted unparseable duration")
	}
}
