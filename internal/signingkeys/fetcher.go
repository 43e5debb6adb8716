package signingkeys

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/lidofinance/council-daemon/internal/domain"
	"github.com/lidofinance/council-daemon/internal/elclient"
)

// signingKeyAddedABI is the staking-module event the registry contracts
// emit when a node operator's keys are added: SigningKeyAdded(uint256
// indexed nodeOperatorId, bytes pubkey).
const signingKeyAddedABI = `[{"anonymous":false,"inputs":[{"indexed":true,"internalType":"uint256","name":"nodeOperatorId","type":"uint256"},{"indexed":false,"internalType":"bytes","name":"pubkey","type":"bytes"}],"name":"SigningKeyAdded","type":"event"}]`

// Fetcher pulls SigningKeyAdded history for a single staking module from the
// chain and hands it to Cache for persistence, mirroring the teacher's
// loadFilteredLogs/batched-range idiom in deposit_indexer.go.
type Fetcher struct {
	el          *elclient.Client
	cache       *Cache
	contractABI abi.ABI
	eventTopic  common.Hash
	step        uint64
	logger      logrus.FieldLogger
}

// NewFetcher builds a Fetcher. step is the same REGISTRY_KEYS_QUERY batch
// size used elsewhere for log-range chunking.
func NewFetcher(el *elclient.Client, cache *Cache, step uint64, logger logrus.FieldLogger) (*Fetcher, error) {
	contractABI, err := abi.JSON(strings.NewReader(signingKeyAddedABI))
	if err != nil {
		return nil, fmt.Errorf("could not parse SigningKeyAdded ABI: %v", err)
	}

	return &Fetcher{
		el:          el,
		cache:       cache,
		contractABI: contractABI,
		eventTopic:  contractABI.Events["SigningKeyAdded"].ID,
		step:        step,
		logger:      logger.WithField("component", "signingkeys.fetcher"),
	}, nil
}

// SyncModule fetches every SigningKeyAdded event for module between
// fromBlock and toBlock (inclusive) and persists them. Callers track
// fromBlock per module themselves (the deployment block the first time, the
// module's own cached high-water mark afterwards) since C5's header only
// records which modules are known, not a per-module cursor.
func (f *Fetcher) SyncModule(ctx context.Context, module domain.StakingModule, fromBlock, toBlock uint64) error {
	for from := fromBlock; from <= toBlock; from += f.step {
		to := from + f.step - 1
		if to > toBlock {
			to = toBlock
		}

		events, err := f.fetchRange(ctx, module, from, to)
		if err != nil {
			return fmt.Errorf("could not fetch SigningKeyAdded logs for module %d (%d-%d): %v", module.ID, from, to, err)
		}

		if len(events) == 0 {
			continue
		}

		if err := f.cache.InsertEventsBatch(module.Address, events); err != nil {
			return fmt.Errorf("could not persist SigningKeyAdded events for module %d: %v", module.ID, err)
		}

		f.logger.WithFields(logrus.Fields{"module": module.ID, "from": from, "to": to, "count": len(events)}).Info("indexed signing key events batch")
	}

	return nil
}

func (f *Fetcher) fetchRange(ctx context.Context, module domain.StakingModule, fromBlock, toBlock uint64) ([]*domain.SigningKeyAddedEvent, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{common.Address(module.Address)},
		Topics:    [][]common.Hash{{f.eventTopic}},
	}

	logs, err := f.el.FilterLogs(ctx, query)
	if err != nil {
		return nil, err
	}

	events := make([]*domain.SigningKeyAddedEvent, 0, len(logs))
	for i := range logs {
		l := &logs[i]

		if len(l.Topics) < 2 {
			continue
		}
		operatorIndex := uint32(new(big.Int).SetBytes(l.Topics[1][:]).Uint64())

		decoded, err := f.contractABI.Unpack("SigningKeyAdded", l.Data)
		if err != nil {
			return nil, fmt.Errorf("could not decode SigningKeyAdded event (tx %s): %v", l.TxHash, err)
		}
		pubkeyBytes := decoded[0].([]byte)

		e := &domain.SigningKeyAddedEvent{
			ModuleAddress: module.Address,
			ModuleID:      module.ID,
			BlockNumber:   l.BlockNumber,
			LogIndex:      uint64(l.Index),
			OperatorIndex: operatorIndex,
		}
		copy(e.Pubkey[:], pubkeyBytes)
		events = append(events, e)
	}

	return events, nil
}

// operatorIndexFromTopic is exposed for tests that want to check the
// left-padded uint256 decoding matches binary.BigEndian semantics.
func operatorIndexFromTopic(topic common.Hash) uint32 {
	return binary.BigEndian.Uint32(topic[28:32])
}
