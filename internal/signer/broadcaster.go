package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/lidofinance/council-daemon/internal/bus"
	"github.com/lidofinance/council-daemon/internal/elclient"
	"github.com/lidofinance/council-daemon/internal/metrics"
)

// dsmABI carries only the two state-changing calls the broadcaster submits
// on-chain; read-only DSM views (prefixes, guardian list) live in the
// guardian package's contract-state reader since they're read once per
// cycle rather than signed.
const dsmABI = `[{"inputs":[{"internalType":"uint256","name":"blockNumber","type":"uint256"},{"internalType":"uint256","name":"stakingModuleId","type":"uint256"},{"internalType":"bytes","name":"signature","type":"bytes"}],"name":"pauseDeposits","outputs":[],"stateMutability":"nonpayable","type":"function"},{"inputs":[{"internalType":"uint256","name":"blockNumber","type":"uint256"},{"internalType":"bytes32","name":"blockHash","type":"bytes32"},{"internalType":"uint256","name":"stakingModuleId","type":"uint256"},{"internalType":"uint256","name":"nonce","type":"uint256"},{"internalType":"bytes","name":"operatorIds","type":"bytes"},{"internalType":"bytes","name":"vettedKeysByOperator","type":"bytes"},{"internalType":"bytes","name":"signature","type":"bytes"}],"name":"unvetSigningKeys","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

// Broadcaster is C11's fan-out half: it publishes every signed message to
// the bus and, for pause/unvet, also submits the corresponding on-chain
// transaction. Per spec.md §4.11 both are fire-and-forget with logging —
// a failure here never aborts the tick.
type Broadcaster struct {
	el        *elclient.Client
	publisher bus.Publisher
	dsm       common.Address
	key       *ecdsa.PrivateKey
	logger    logrus.FieldLogger

	// onchainInFlight implements the @OneAtTime guard over on-chain
	// submission specifically (spec.md testable property 9): overlapping
	// ticks must not submit the same pause/unvet transaction twice.
	onchainInFlight inFlightGuard
}

// inFlightGuard is a minimal atomic-bool CAS guard, mirroring the same
// pattern guardian.Pipeline uses for whole-tick reentrancy (@OneAtTime).
type inFlightGuard struct{ flag atomic.Bool }

func (g *inFlightGuard) tryAcquire() bool {
	return g.flag.CompareAndSwap(false, true)
}

func (g *inFlightGuard) release() {
	g.flag.Store(false)
}

// NewBroadcaster builds a Broadcaster publishing to pub and submitting
// on-chain pause/unvet transactions through el, signed by key.
func NewBroadcaster(el *elclient.Client, pub bus.Publisher, dsmContract common.Address, key *ecdsa.PrivateKey, logger logrus.FieldLogger) *Broadcaster {
	return &Broadcaster{el: el, publisher: pub, dsm: dsmContract, key: key, logger: logger.WithField("component", "broadcaster")}
}

// PublishDeposit fire-and-forgets a signed deposit-allow message to the bus.
func (b *Broadcaster) PublishDeposit(signed *Signed, stakingModuleID uint64) {
	b.publisher.Publish(bus.Message{Kind: bus.KindDeposit, Body: map[string]interface{}{
		"signature":       signed.Signature,
		"stakingModuleId": stakingModuleID,
	}})
}

// PublishAndPause broadcasts a signed pause message and, if this guardian
// hasn't already submitted one in-flight, also submits pauseDeposits
// on-chain.
func (b *Broadcaster) PublishAndPause(ctx context.Context, signed *Signed, blockNumber, stakingModuleID uint64) {
	b.publisher.Publish(bus.Message{Kind: bus.KindPause, Body: map[string]interface{}{
		"signature":       signed.Signature,
		"blockNumber":     blockNumber,
		"stakingModuleId": stakingModuleID,
	}})

	if !b.onchainInFlight.tryAcquire() {
		b.logger.Warn("skipping on-chain pauseDeposits submission: a previous submission is still in flight")
		return
	}
	defer b.onchainInFlight.release()

	if err := b.submitPause(ctx, blockNumber, stakingModuleID, signed.Signature); err != nil {
		b.logger.WithError(err).Error("could not submit on-chain pauseDeposits transaction")
	}
}

// PublishAndUnvet broadcasts a signed unvet message and submits
// unvetSigningKeys on-chain, guarded the same way as PublishAndPause.
func (b *Broadcaster) PublishAndUnvet(ctx context.Context, signed *Signed, blockNumber uint64, blockHash [32]byte, stakingModuleID, nonce uint64, operatorIDs, vettedKeysByOperator []byte) {
	b.publisher.Publish(bus.Message{Kind: bus.KindUnvet, Body: map[string]interface{}{
		"signature":       signed.Signature,
		"blockNumber":     blockNumber,
		"stakingModuleId": stakingModuleID,
		"nonce":           nonce,
	}})

	if !b.onchainInFlight.tryAcquire() {
		b.logger.Warn("skipping on-chain unvetSigningKeys submission: a previous submission is still in flight")
		return
	}
	defer b.onchainInFlight.release()

	if err := b.submitUnvet(ctx, blockNumber, blockHash, stakingModuleID, nonce, operatorIDs, vettedKeysByOperator, signed.Signature); err != nil {
		b.logger.WithError(err).Error("could not submit on-chain unvetSigningKeys transaction")
	}
}

// Ping publishes a heartbeat message, matching the "ping" kind spec.md §6
// reserves on the bus topic.
func (b *Broadcaster) Ping() {
	b.publisher.Publish(bus.Message{Kind: bus.KindPing, Body: nil})
}

func parseDSMABI() (abi.ABI, error) {
	a, err := abi.JSON(strings.NewReader(dsmABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("could not parse DSM ABI: %v", err)
	}
	return a, nil
}

func (b *Broadcaster) submitPause(ctx context.Context, blockNumber, stakingModuleID uint64, signature []byte) error {
	abiObj, err := parseDSMABI()
	if err != nil {
		return err
	}

	data, err := abiObj.Pack("pauseDeposits", new(big.Int).SetUint64(blockNumber), new(big.Int).SetUint64(stakingModuleID), signature)
	if err != nil {
		return fmt.Errorf("could not encode pauseDeposits call: %v", err)
	}

	return b.sendTx(ctx, data)
}

func (b *Broadcaster) submitUnvet(ctx context.Context, blockNumber uint64, blockHash [32]byte, stakingModuleID, nonce uint64, operatorIDs, vettedKeysByOperator, signature []byte) error {
	abiObj, err := parseDSMABI()
	if err != nil {
		return err
	}

	data, err := abiObj.Pack("unvetSigningKeys", new(big.Int).SetUint64(blockNumber), blockHash, new(big.Int).SetUint64(stakingModuleID), new(big.Int).SetUint64(nonce), operatorIDs, vettedKeysByOperator, signature)
	if err != nil {
		return fmt.Errorf("could not encode unvetSigningKeys call: %v", err)
	}

	return b.sendTx(ctx, data)
}

func (b *Broadcaster) sendTx(ctx context.Context, data []byte) error {
	from := crypto.PubkeyToAddress(b.key.PublicKey)

	nonce, err := b.el.PendingNonceAt(ctx, from)
	if err != nil {
		return fmt.Errorf("could not fetch nonce: %v", err)
	}

	gasPrice, err := b.el.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("could not fetch gas price: %v", err)
	}

	chainID, err := b.el.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("could not fetch chain id: %v", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &b.dsm,
		Value:    big.NewInt(0),
		Gas:      300_000,
		GasPrice: gasPrice,
		Data:     data,
	})

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), b.key)
	if err != nil {
		return fmt.Errorf("could not sign transaction: %v", err)
	}

	return b.el.SendTransaction(ctx, signedTx)
}

// RefreshBalance fetches the guardian wallet's balance and publishes it to
// the account-balance gauge, matching spec.md §4.11's
// WALLET_BALANCE_UPDATE_BLOCK_RATE subscription.
func (b *Broadcaster) RefreshBalance(ctx context.Context) error {
	from := crypto.PubkeyToAddress(b.key.PublicKey)

	balance, err := b.el.BalanceAt(ctx, from)
	if err != nil {
		return fmt.Errorf("could not fetch wallet balance: %v", err)
	}

	f, _ := new(big.Float).SetInt(balance).Float64()
	metrics.AccountBalanceWei.Set(f)
	return nil
}
