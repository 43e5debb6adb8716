// Package domain holds the data model shared across the guardian pipeline:
// deposit events, registry keys, staking modules and the per-cycle structs
// the decision pipeline (C10) builds and discards on every tick.
package domain

import (
	"math/big"
	"time"
)

// VerifiedDepositEvent is an immutable, BLS-checked DepositEvent log entry.
// Ordered by (BlockNumber, LogIndex).
type VerifiedDepositEvent struct {
	BlockNumber           uint64
	BlockHash             [32]byte
	LogIndex              uint64
	Pubkey                [48]byte
	WithdrawalCredentials [32]byte
	AmountGwei            uint64
	Signature             [96]byte
	DepositCount          uint64
	DepositDataRoot       [32]byte
	TxHash                [32]byte
	Valid                 bool
}

// Less implements the (blockNumber, logIndex) ordering used throughout the
// pipeline (event store ordering, front-run earliest-deposit comparisons).
func (e *VerifiedDepositEvent) Less(o *VerifiedDepositEvent) bool {
	if e.BlockNumber != o.BlockNumber {
		return e.BlockNumber < o.BlockNumber
	}
	return e.LogIndex < o.LogIndex
}

// CacheHeader tracks the inclusive block range covered by a persisted cache.
type CacheHeader struct {
	StartBlock uint64
	EndBlock   uint64
}

// DepositEventCache is the in-memory view of the C2 persisted cache.
type DepositEventCache struct {
	Headers        CacheHeader
	Data           []*VerifiedDepositEvent
	LastValidEvent *VerifiedDepositEvent
}

// DepositCacheDefault is the value returned when no cache has been
// persisted yet.
func DepositCacheDefault() DepositEventCache {
	return DepositEventCache{Headers: CacheHeader{StartBlock: 0, EndBlock: 0}}
}

// SigningKeyAddedEvent is a single entry from the staking-router's
// SigningKeyAdded log, cached per module for duplicate ordering (C5/C7).
type SigningKeyAddedEvent struct {
	ModuleAddress [20]byte
	ModuleID      uint32
	BlockNumber   uint64
	LogIndex      uint64
	OperatorIndex uint32
	Pubkey        [48]byte
}

// EarlierThan implements the isFirstEventEarlier ordering from spec.md §4.8:
// same-block compares LogIndex, else compares BlockNumber.
func (k *SigningKeyAddedEvent) EarlierThan(o *SigningKeyAddedEvent) bool {
	if k.BlockNumber == o.BlockNumber {
		return k.LogIndex < o.LogIndex
	}
	return k.BlockNumber < o.BlockNumber
}

// RegistryKey is a key as reported by the keys-index, refreshed every cycle.
type RegistryKey struct {
	Key              [48]byte
	DepositSignature [96]byte
	OperatorIndex    uint32
	Used             bool
	Index            uint32
	ModuleAddress    [20]byte
	ModuleID         uint32
}

// PubkeyHex is a convenience accessor used for map keys and logging.
func (k *RegistryKey) PubkeyHex() string {
	return hexEncode(k.Key[:])
}

// StakingModuleType enumerates the module implementations the spec names.
type StakingModuleType string

const (
	ModuleCuratedOnchainV1   StakingModuleType = "curated-onchain-v1"
	ModuleCommunityOnchainV1 StakingModuleType = "community-onchain-v1"
	ModuleSDVT               StakingModuleType = "sdvt"
)

// StakingModule is static metadata about a staking router module.
type StakingModule struct {
	ID      uint32
	Address [20]byte
	Nonce   uint64
	Type    StakingModuleType
}

// Operator is a node operator within a staking module.
type Operator struct {
	Index                     uint32
	StakingLimit              uint64
	TotalDepositedValidators  uint64
	TotalAddedValidators      uint64
	RewardAddress             [20]byte
}

// VettedUnusedCount implements spec.md §7:
// vettedUnused = max(0, min(stakingLimit, totalAddedValidators) - totalDepositedValidators).
func (op *Operator) VettedUnusedCount() uint64 {
	limit := op.StakingLimit
	if op.TotalAddedValidators < limit {
		limit = op.TotalAddedValidators
	}
	if limit <= op.TotalDepositedValidators {
		return 0
	}
	return limit - op.TotalDepositedValidators
}

// IsVetted reports whether a key at the given index (ascending, per-operator)
// falls within the operator's staking limit.
func (op *Operator) IsVetted(keyIndex uint64) bool {
	return keyIndex < op.StakingLimit
}

// StakingModuleData is the per-cycle, per-module working set C10 builds.
type StakingModuleData struct {
	ModuleID            uint32
	Nonce               uint64
	BlockHash           [32]byte
	LastChangedBlockHash [32]byte
	UnusedKeys          []*RegistryKey
	VettedUnusedKeys    []*RegistryKey
	DuplicatedKeys      []*RegistryKey
	FrontRunKeys        []*RegistryKey
	InvalidKeys         []*RegistryKey
}

// CanDeposit implements spec.md §4.10 step 10's gate.
func (d *StakingModuleData) CanDeposit(theftHappened, alreadyPausedDeposits bool) bool {
	if theftHappened || alreadyPausedDeposits {
		return false
	}
	return len(d.FrontRunKeys) == 0 && len(d.InvalidKeys) == 0 && len(d.DuplicatedKeys) == 0
}

// NeedsUnvetting reports whether this module requires an unvet broadcast.
func (d *StakingModuleData) NeedsUnvetting() bool {
	return len(d.FrontRunKeys) > 0 || len(d.InvalidKeys) > 0 || len(d.DuplicatedKeys) > 0
}

// BlockData is the per-cycle chain snapshot C10 builds once per tick.
type BlockData struct {
	BlockNumber           uint64
	BlockHash             [32]byte
	DepositRoot           [32]byte
	DepositedEvents       []*VerifiedDepositEvent
	GuardianAddress       [20]byte
	GuardianIndex         int
	LidoWithdrawalCreds   [32]byte
	SecurityVersion       uint64
	AlreadyPausedDeposits bool
	TheftHappened         bool
	WalletBalanceCritical bool
}

// ContractsState is the last-seen on-chain state for a module, used by C9/
// the re-signing gate in §4.10 step 10.
type ContractsState struct {
	DepositRoot          [32]byte
	Nonce                uint64
	BlockNumber          uint64
	LastChangedBlockHash [32]byte
}

// Equal reports whether two contract-state snapshots are identical for the
// purposes of the re-signing gate (ignores BlockNumber itself; callers
// additionally check the re-signing window via BlockNumber).
func (s *ContractsState) Equal(o *ContractsState) bool {
	return s.DepositRoot == o.DepositRoot && s.Nonce == o.Nonce && s.LastChangedBlockHash == o.LastChangedBlockHash
}

// StateMeta identifies a block for the block-guard (C9).
type StateMeta struct {
	BlockHash   [32]byte
	BlockNumber uint64
}

// KeysApiMeta mirrors meta.elBlockSnapshot from the keys-index responses.
type KeysApiMeta struct {
	BlockNumber          uint64
	BlockHash            [32]byte
	LastChangedBlockHash [32]byte
	Timestamp            time.Time
}

// GuardianConfig identifies this daemon's own signing identity, resolved
// once at startup from DSM.getGuardians()/getGuardianIndex().
type GuardianConfig struct {
	Address    [20]byte
	Index      int
	PrivateKey []byte
}

// DSMMessagePrefixes are the cached contract-read prefixes used to build
// every signed message (§6).
type DSMMessagePrefixes struct {
	AttestPrefix [32]byte
	PausePrefix  [32]byte
	UnvetPrefix  [32]byte
}

// WeiBalance is a thin alias to keep big.Int usage localized to the signer.
type WeiBalance = big.Int

func hexEncode(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 2+len(b)*2)
	out[0], out[1] = '0', 'x'
	for i, v := range b {
		out[2+i*2] = hextable[v>>4]
		out[3+i*2] = hextable[v&0x0f]
	}
	return string(out)
}
