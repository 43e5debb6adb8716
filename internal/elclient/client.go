// Package elclient is the execution-layer RPC gateway C1 reads through. It
// wraps one or more go-ethereum ethclient.Client connections behind a single
// fall-over-capable Client, mirroring the teacher's getFinalizedClients/
// retryCount%len(clients) pattern in indexer/execution/deposit_indexer.go:
// any RPC call is retried against the next configured endpoint before it is
// reported as failed.
package elclient

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// Client fans out RPC calls across one or more endpoints, retrying the next
// endpoint in line whenever the current one errors.
type Client struct {
	endpoints []*ethclient.Client
	urls      []string
	timeout   time.Duration
	logger    logrus.FieldLogger
}

// Dial connects to every URL in urls upfront; at least one must succeed.
func Dial(ctx context.Context, urls []string, timeout time.Duration, logger logrus.FieldLogger) (*Client, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("no RPC_URL endpoints configured")
	}

	c := &Client{timeout: timeout, logger: logger}
	for _, url := range urls {
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		ec, err := ethclient.DialContext(dialCtx, url)
		cancel()
		if err != nil {
			logger.WithError(err).WithField("url", url).Warn("could not connect to execution client, skipping")
			continue
		}
		c.endpoints = append(c.endpoints, ec)
		c.urls = append(c.urls, url)
	}

	if len(c.endpoints) == 0 {
		return nil, fmt.Errorf("could not connect to any of %d configured execution clients", len(urls))
	}

	return c, nil
}

// Close closes every underlying connection.
func (c *Client) Close() {
	for _, ec := range c.endpoints {
		ec.Close()
	}
}

// call retries fn against each endpoint in turn (starting from a rotating
// offset so a single bad endpoint doesn't always eat the first attempt),
// giving each one c.timeout, and returns the first success.
func (c *Client) call(ctx context.Context, name string, fn func(context.Context, *ethclient.Client) error) error {
	var lastErr error
	for i := 0; i < len(c.endpoints); i++ {
		ec := c.endpoints[i]
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := fn(callCtx, ec)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		c.logger.WithError(err).WithFields(logrus.Fields{"call": name, "url": c.urls[i]}).Warn("execution client call failed, trying next endpoint")
	}
	return fmt.Errorf("%s failed on all %d execution clients: %v", name, len(c.endpoints), lastErr)
}

// CallContract executes a read-only contract call (eth_call) against the
// latest block, used for the DSM/deposit-contract view functions C1 and C4
// depend on (get_deposit_root, get_deposit_count, getGuardians, prefixes).
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	var out []byte
	err := c.call(ctx, "CallContract", func(ctx context.Context, ec *ethclient.Client) error {
		var err error
		out, err = ec.CallContract(ctx, msg, nil)
		return err
	})
	return out, err
}

// CallContractAtHash executes a read-only contract call pinned to a specific
// block hash, used wherever a tick must read every contract view through
// the same snapshot (spec.md §4.10 step 2 / §5(ii)) instead of drifting to
// whatever "latest" happens to be by the time the call lands.
func (c *Client) CallContractAtHash(ctx context.Context, msg ethereum.CallMsg, blockHash common.Hash) ([]byte, error) {
	var out []byte
	err := c.call(ctx, "CallContractAtHash", func(ctx context.Context, ec *ethclient.Client) error {
		var err error
		out, err = ec.CallContractAtHash(ctx, msg, blockHash)
		return err
	})
	return out, err
}

// FilterLogs fetches logs matching q, falling over to the next endpoint on
// error, per spec.md C1's "retries with fall-over across nodes".
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := c.call(ctx, "FilterLogs", func(ctx context.Context, ec *ethclient.Client) error {
		var err error
		logs, err = ec.FilterLogs(ctx, q)
		return err
	})
	return logs, err
}

// HeaderByNumber fetches a block header; number == nil means "latest".
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	var header *types.Header
	err := c.call(ctx, "HeaderByNumber", func(ctx context.Context, ec *ethclient.Client) error {
		var err error
		header, err = ec.HeaderByNumber(ctx, number)
		return err
	})
	return header, err
}

// BlockByNumber fetches a full block; number == nil means "latest".
func (c *Client) BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	var block *types.Block
	err := c.call(ctx, "BlockByNumber", func(ctx context.Context, ec *ethclient.Client) error {
		var err error
		block, err = ec.BlockByNumber(ctx, number)
		return err
	})
	return block, err
}

// FinalizedHeader fetches the chain's latest finalized header, used to
// derive the finality-lagged window spec.md §4.1 reads deposit logs through.
func (c *Client) FinalizedHeader(ctx context.Context) (*types.Header, error) {
	return c.HeaderByNumber(ctx, big.NewInt(int64(ethRPCFinalized)))
}

// ethRPCFinalized is the go-ethereum sentinel for the "finalized" block tag.
const ethRPCFinalized = -3 // rpc.FinalizedBlockNumber

// BalanceAt fetches the wallet balance used by C11's balance gauge.
func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	var balance *big.Int
	err := c.call(ctx, "BalanceAt", func(ctx context.Context, ec *ethclient.Client) error {
		var err error
		balance, err = ec.BalanceAt(ctx, account, nil)
		return err
	})
	return balance, err
}

// ChainID fetches the connected chain's ID, used to validate configuration
// at startup.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	err := c.call(ctx, "ChainID", func(ctx context.Context, ec *ethclient.Client) error {
		var err error
		id, err = ec.ChainID(ctx)
		return err
	})
	return id, err
}

// TransactionByHash fetches a transaction's full details, used to recover
// the deposit's sender per spec.md C1.
func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, error) {
	var tx *types.Transaction
	err := c.call(ctx, "TransactionByHash", func(ctx context.Context, ec *ethclient.Client) error {
		fetched, _, err := ec.TransactionByHash(ctx, hash)
		tx = fetched
		return err
	})
	return tx, err
}

// SendTransaction broadcasts a signed pause/unvet transaction directly to
// the chain, used by C11 when GUARDIAN_DEPOSIT_RESIGNING doesn't apply.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.call(ctx, "SendTransaction", func(ctx context.Context, ec *ethclient.Client) error {
		return ec.SendTransaction(ctx, tx)
	})
}

// PendingNonceAt fetches the next usable nonce for a pause/unvet submission.
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var nonce uint64
	err := c.call(ctx, "PendingNonceAt", func(ctx context.Context, ec *ethclient.Client) error {
		var err error
		nonce, err = ec.PendingNonceAt(ctx, account)
		return err
	})
	return nonce, err
}

// SuggestGasPrice fetches a gas price suggestion for pause/unvet submission.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := c.call(ctx, "SuggestGasPrice", func(ctx context.Context, ec *ethclient.Client) error {
		var err error
		price, err = ec.SuggestGasPrice(ctx)
		return err
	})
	return price, err
}
