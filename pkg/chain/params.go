// Package chain implements the block-lifecycle driver: it owns the single
// ChainNodeState, composes the staking engine (pkg/staking) with the
// versioned Merkle store (pkg/merkle, pkg/kv) across the
// Init/Begin/Deliver/End/Commit sequence, and computes the per-version
// app-hash handed back to consensus.
package chain

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/stakechain/chaincore/pkg/config"
)

// NetworkParams is the consensus-critical parameter set: every field here
// participates in the app-hash, so two nodes disagreeing on any of them
// diverge immediately rather than silently.
type NetworkParams struct {
	MinRequiredStaking    uint64
	MaxValidators         uint64
	MaxEvidenceAge        time.Duration
	SlashWaitPeriod       time.Duration
	JailDuration          time.Duration
	RewardPeriod          time.Duration
	UnbondingPeriod       time.Duration
	BlockSigningWindow    uint64
	ByzantineSlashPercent uint64
	LivenessSlashPercent  uint64
	MissedBlockThreshold  uint64
	BaseUnit              uint64
	NetworkByte           byte
}

// ParamsFromConfig lifts the node configuration into the hashed parameter
// set. The network byte is derived from the chain ID, so a config whose
// chain ID fails the hex-suffix convention is rejected here.
func ParamsFromConfig(cfg *config.Config) (NetworkParams, error) {
	nb, err := cfg.NetworkByte()
	if err != nil {
		return NetworkParams{}, err
	}
	return NetworkParams{
		MinRequiredStaking:    cfg.MinRequiredStaking,
		MaxValidators:         uint64(cfg.MaxValidators),
		MaxEvidenceAge:        cfg.MaxEvidenceAge,
		SlashWaitPeriod:       cfg.SlashWaitPeriod,
		JailDuration:          cfg.JailDuration,
		RewardPeriod:          cfg.RewardPeriod,
		UnbondingPeriod:       cfg.UnbondingPeriod,
		BlockSigningWindow:    uint64(cfg.BlockSigningWindow),
		ByzantineSlashPercent: uint64(cfg.ByzantineSlashPercent),
		LivenessSlashPercent:  uint64(cfg.LivenessSlashPercent),
		MissedBlockThreshold:  uint64(cfg.MissedBlockThreshold),
		BaseUnit:              cfg.BaseUnit,
		NetworkByte:           nb,
	}, nil
}

// Encode renders the parameters as thirteen fixed-width big-endian fields.
// This is the byte string hashed into the app-hash: field order is frozen.
func (p NetworkParams) Encode() []byte {
	out := make([]byte, 0, 12*8+1)
	for _, v := range []uint64{
		p.MinRequiredStaking,
		p.MaxValidators,
		uint64(p.MaxEvidenceAge / time.Second),
		uint64(p.SlashWaitPeriod / time.Second),
		uint64(p.JailDuration / time.Second),
		uint64(p.RewardPeriod / time.Second),
		uint64(p.UnbondingPeriod / time.Second),
		p.BlockSigningWindow,
		p.ByzantineSlashPercent,
		p.LivenessSlashPercent,
		p.MissedBlockThreshold,
		p.BaseUnit,
	} {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], v)
		out = append(out, buf[:]...)
	}
	return append(out, p.NetworkByte)
}

// DecodeNetworkParams is the exact inverse of Encode.
func DecodeNetworkParams(data []byte) (NetworkParams, int, error) {
	const size = 12*8 + 1
	if len(data) < size {
		return NetworkParams{}, 0, fmt.Errorf("chain: network params truncated")
	}
	at := func(i int) uint64 { return binary.BigEndian.Uint64(data[i*8:]) }
	return NetworkParams{
		MinRequiredStaking:    at(0),
		MaxValidators:         at(1),
		MaxEvidenceAge:        time.Duration(at(2)) * time.Second,
		SlashWaitPeriod:       time.Duration(at(3)) * time.Second,
		JailDuration:          time.Duration(at(4)) * time.Second,
		RewardPeriod:          time.Duration(at(5)) * time.Second,
		UnbondingPeriod:       time.Duration(at(6)) * time.Second,
		BlockSigningWindow:    at(7),
		ByzantineSlashPercent: at(8),
		LivenessSlashPercent:  at(9),
		MissedBlockThreshold:  at(10),
		BaseUnit:              at(11),
		NetworkByte:           data[12*8],
	}, size, nil
}
