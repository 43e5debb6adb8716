package guardian

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/lidofinance/council-daemon/internal/blockguard"
	"github.com/lidofinance/council-daemon/internal/bus"
	"github.com/lidofinance/council-daemon/internal/domain"
	"github.com/lidofinance/council-daemon/internal/keysapi"
	"github.com/lidofinance/council-daemon/internal/signer"
)

func testKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

// newTestPipeline builds a Pipeline with enough wiring for the
// handleCorrectKeys/tickInFlight properties below; it has no live chain or
// keys-index connection, which is fine since those two call paths never
// touch p.el/p.deposits/p.validator.
func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	logger, _ := test.NewNullLogger()
	key := testKey(t)
	broadcaster := signer.NewBroadcaster(nil, bus.NewLoggingPublisher(logger), common.Address{}, key, logger)

	contracts, err := NewContractReader(nil, common.Address{})
	require.NoError(t, err)

	return New(Config{
		Contracts:       contracts,
		Guard:           blockguard.New(),
		Broadcaster:     broadcaster,
		Key:             key,
		ResigningBlocks: 10,
		Logger:          logger,
	})
}

// Property 8: within the re-signing window, an unchanged contract state
// (deposit root, nonce, lastChangedBlockHash) must not re-sign.
func TestHandleCorrectKeysSkipsWithinResigningWindowWhenStateUnchanged(t *testing.T) {
	p := newTestPipeline(t)
	module := &domain.StakingModule{ID: 1, Nonce: 5}
	md := &domain.StakingModuleData{ModuleID: 1, LastChangedBlockHash: [32]byte{0xAA}}
	prefixes := domain.DSMMessagePrefixes{}

	blockData1 := &domain.BlockData{BlockNumber: 100, BlockHash: [32]byte{0x01}, DepositRoot: [32]byte{0x02}}
	require.NoError(t, p.handleCorrectKeys(context.Background(), prefixes, blockData1, module, md))

	p.mu.Lock()
	first := p.lastModuleState[module.ID]
	p.mu.Unlock()

	blockData2 := &domain.BlockData{BlockNumber: 105, BlockHash: [32]byte{0x01}, DepositRoot: [32]byte{0x02}}
	require.NoError(t, p.handleCorrectKeys(context.Background(), prefixes, blockData2, module, md))

	p.mu.Lock()
	second := p.lastModuleState[module.ID]
	p.mu.Unlock()

	require.Equal(t, first, second, "state must not have been overwritten on the skipped resign")
}

// Property 8 (converse): once the window elapses, or the underlying state
// actually changes, a new message is signed and the tracked state advances.
func TestHandleCorrectKeysResignsAfterResigningWindowElapses(t *testing.T) {
	p := newTestPipeline(t)
	module := &domain.StakingModule{ID: 1, Nonce: 5}
	md := &domain.StakingModuleData{ModuleID: 1, LastChangedBlockHash: [32]byte{0xAA}}
	prefixes := domain.DSMMessagePrefixes{}

	blockData1 := &domain.BlockData{BlockNumber: 100, BlockHash: [32]byte{0x01}, DepositRoot: [32]byte{0x02}}
	require.NoError(t, p.handleCorrectKeys(context.Background(), prefixes, blockData1, module, md))

	blockData2 := &domain.BlockData{BlockNumber: 111, BlockHash: [32]byte{0x01}, DepositRoot: [32]byte{0x02}}
	require.NoError(t, p.handleCorrectKeys(context.Background(), prefixes, blockData2, module, md))

	p.mu.Lock()
	last := p.lastModuleState[module.ID]
	p.mu.Unlock()

	require.Equal(t, uint64(111), last.BlockNumber)
}

// Property 8 (boundary): the window is floor(blockNumber/resigningBlocks)
// equality, not a rolling distance — a pair that straddles a window
// boundary must resign even though it's well within resigningBlocks apart.
func TestHandleCorrectKeysResignsAcrossWindowBoundaryEvenWhenClose(t *testing.T) {
	p := newTestPipeline(t)
	module := &domain.StakingModule{ID: 1, Nonce: 5}
	md := &domain.StakingModuleData{ModuleID: 1, LastChangedBlockHash: [32]byte{0xAA}}
	prefixes := domain.DSMMessagePrefixes{}

	blockData1 := &domain.BlockData{BlockNumber: 9, BlockHash: [32]byte{0x01}, DepositRoot: [32]byte{0x02}}
	require.NoError(t, p.handleCorrectKeys(context.Background(), prefixes, blockData1, module, md))

	blockData2 := &domain.BlockData{BlockNumber: 11, BlockHash: [32]byte{0x01}, DepositRoot: [32]byte{0x02}}
	require.NoError(t, p.handleCorrectKeys(context.Background(), prefixes, blockData2, module, md))

	p.mu.Lock()
	last := p.lastModuleState[module.ID]
	p.mu.Unlock()

	require.Equal(t, uint64(11), last.BlockNumber, "window=10 crosses from floor 0 to floor 1 between blocks 9 and 11: must resign")
}

// Property 9: a tick already in flight must not be re-entered; runOneTick
// must bail out before touching p.tick (which would panic here given the
// nil keysAPI/deposits dependencies this pipeline was built without).
func TestRunOneTickSkipsWhileAlreadyInFlight(t *testing.T) {
	p := newTestPipeline(t)
	p.tickInFlight.Store(true)

	require.NotPanics(t, func() {
		p.runOneTick(context.Background())
	})

	require.True(t, p.tickInFlight.Load(), "the in-flight flag set by the caller must be left untouched by the skipped tick")
}

// Property 7: two keys-index reads disagreeing on lastChangedBlockHash
// within one tick must abort with ErrInconsistentLastChangedBlockHash.
func TestTickAbortsOnInconsistentLastChangedBlockHash(t *testing.T) {
	blockHash := "0x01" + strings.Repeat("00", 31)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/operators":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []interface{}{},
				"meta": map[string]interface{}{
					"elBlockSnapshot": map[string]interface{}{
						"blockNumber":          1,
						"blockHash":            blockHash,
						"lastChangedBlockHash": "0x" + strings.Repeat("aa", 32),
						"timestamp":            time.Now(),
					},
				},
			})
		case "/v1/keys":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []interface{}{},
				"meta": map[string]interface{}{
					"elBlockSnapshot": map[string]interface{}{
						"blockNumber":          1,
						"blockHash":            blockHash,
						"lastChangedBlockHash": "0x" + strings.Repeat("bb", 32),
						"timestamp":            time.Now(),
					},
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	p := newTestPipeline(t)
	p.keysAPI = keysapi.New(server.URL, 5*time.Second)

	err := p.tick(context.Background())
	require.ErrorIs(t, err, ErrInconsistentLastChangedBlockHash)
}
