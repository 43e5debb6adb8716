package guardian

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/lidofinance/council-daemon/internal/domain"
	"github.com/lidofinance/council-daemon/internal/elclient"
)

// dsmReadABI covers the DSM view functions spec.md §6 lists: getGuardians,
// getGuardianIndex, version, getAttestMessagePrefix,
// getPauseMessagePrefix, getUnvetMessagePrefix, isDepositsPaused, and the
// per-module nonce lives on the staking router, read via
// getStakingModuleNonce.
const dsmReadABI = `[` +
	`{"inputs":[],"name":"getGuardians","outputs":[{"internalType":"address[]","name":"","type":"address[]"}],"stateMutability":"view","type":"function"},` +
	`{"inputs":[{"internalType":"address","name":"_addr","type":"address"}],"name":"getGuardianIndex","outputs":[{"internalType":"int256","name":"","type":"int256"}],"stateMutability":"view","type":"function"},` +
	`{"inputs":[],"name":"version","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},` +
	`{"inputs":[],"name":"getAttestMessagePrefix","outputs":[{"internalType":"bytes32","name":"","type":"bytes32"}],"stateMutability":"view","type":"function"},` +
	`{"inputs":[],"name":"getPauseMessagePrefix","outputs":[{"internalType":"bytes32","name":"","type":"bytes32"}],"stateMutability":"view","type":"function"},` +
	`{"inputs":[],"name":"getUnvetMessagePrefix","outputs":[{"internalType":"bytes32","name":"","type":"bytes32"}],"stateMutability":"view","type":"function"},` +
	`{"inputs":[{"internalType":"uint256","name":"_stakingModuleId","type":"uint256"}],"name":"isDepositsPaused","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},` +
	`{"inputs":[{"internalType":"uint256","name":"_stakingModuleId","type":"uint256"}],"name":"getStakingModuleNonce","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}` +
	`]`

// ContractReader is C10 step 2's "cached on-chain contract bindings",
// pinned to a single block so every read within one tick is consistent.
type ContractReader struct {
	el          *elclient.Client
	dsm         common.Address
	abi         abi.ABI
	atBlockHash common.Hash
}

// NewContractReader parses the DSM read ABI once; callers get a fresh
// ContractReader per tick via AtBlock so every call pins the same block.
func NewContractReader(el *elclient.Client, dsmContract common.Address) (*ContractReader, error) {
	a, err := abi.JSON(strings.NewReader(dsmReadABI))
	if err != nil {
		return nil, fmt.Errorf("could not parse DSM read ABI: %v", err)
	}
	return &ContractReader{el: el, dsm: dsmContract, abi: a}, nil
}

// AtBlock returns a reader pinned to the given block hash, matching
// "initialize cached on-chain contract bindings at meta.elBlockSnapshot.blockHash".
func (r *ContractReader) AtBlock(blockHash common.Hash) *ContractReader {
	return &ContractReader{el: r.el, dsm: r.dsm, abi: r.abi, atBlockHash: blockHash}
}

func (r *ContractReader) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	calldata, err := r.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("could not encode %s call: %v", method, err)
	}

	msg := ethereum.CallMsg{To: &r.dsm, Data: calldata}

	var out []byte
	if r.atBlockHash != (common.Hash{}) {
		out, err = r.el.CallContractAtHash(ctx, msg, r.atBlockHash)
	} else {
		out, err = r.el.CallContract(ctx, msg)
	}
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %v", method, err)
	}

	return r.abi.Unpack(method, out)
}

// GuardianIndex resolves this guardian's index within DSM.getGuardians(),
// per spec.md §4.10 step 6.
func (r *ContractReader) GuardianIndex(ctx context.Context, addr common.Address) (int, error) {
	vals, err := r.call(ctx, "getGuardianIndex", addr)
	if err != nil {
		return -1, err
	}
	return int(vals[0].(*big.Int).Int64()), nil
}

// Version reads DSM.version(), used for the v2/v3 pause-message branch.
func (r *ContractReader) Version(ctx context.Context) (uint64, error) {
	vals, err := r.call(ctx, "version")
	if err != nil {
		return 0, err
	}
	return vals[0].(*big.Int).Uint64(), nil
}

// Prefixes reads the three message-signing prefixes in one pass.
func (r *ContractReader) Prefixes(ctx context.Context) (domain.DSMMessagePrefixes, error) {
	var out domain.DSMMessagePrefixes

	attest, err := r.call(ctx, "getAttestMessagePrefix")
	if err != nil {
		return out, err
	}
	out.AttestPrefix = attest[0].([32]byte)

	pause, err := r.call(ctx, "getPauseMessagePrefix")
	if err != nil {
		return out, err
	}
	out.PausePrefix = pause[0].([32]byte)

	unvet, err := r.call(ctx, "getUnvetMessagePrefix")
	if err != nil {
		return out, err
	}
	out.UnvetPrefix = unvet[0].([32]byte)

	return out, nil
}

// IsDepositsPaused reads whether a module's deposits are already paused.
func (r *ContractReader) IsDepositsPaused(ctx context.Context, stakingModuleID uint64) (bool, error) {
	vals, err := r.call(ctx, "isDepositsPaused", new(big.Int).SetUint64(stakingModuleID))
	if err != nil {
		return false, err
	}
	return vals[0].(bool), nil
}

// StakingModuleNonce reads a module's current nonce, included in every
// signed unvet message.
func (r *ContractReader) StakingModuleNonce(ctx context.Context, stakingModuleID uint64) (uint64, error) {
	vals, err := r.call(ctx, "getStakingModuleNonce", new(big.Int).SetUint64(stakingModuleID))
	if err != nil {
		return 0, err
	}
	return vals[0].(*big.Int).Uint64(), nil
}
