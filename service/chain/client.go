// Package chain reads wallet receipts from an EVM node.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/brojonat/walletfeed/service/metrics"
	"github.com/brojonat/walletfeed/service/receipt"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"
)

// RPC is the subset of the node API the client needs. *ethclient.Client
// satisfies it.
type RPC interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// Options tunes the client.
type Options struct {
	// RateLimit caps RPC calls per second. Zero disables the limiter.
	RateLimit    float64
	MaxAttempts  int
	RetryBackoff time.Duration
	// SeenSize bounds how many delivered transactions are remembered for
	// deduplication.
	SeenSize int
}

const (
	defaultMaxAttempts  = 3
	defaultRetryBackoff = time.Second
	defaultSeenSize     = 4096
	blockTimeCacheSize  = 1024
)

// Client fetches and decodes receipts for one wallet.
type Client struct {
	rpc       RPC
	decoder   *Decoder
	contracts receipt.Contracts
	limiter   *rate.Limiter
	opts      Options
	metrics   *metrics.Metrics
	logger    *slog.Logger

	blockTimes *boundedCache[uint64, time.Time]
	seen       *boundedCache[common.Hash, struct{}]
}

// Dial connects to a node. Subscriptions need a websocket URL.
func Dial(ctx context.Context, url string) (*ethclient.Client, error) {
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc node: %w", err)
	}
	return c, nil
}

// NewClient creates a Client over rpc.
func NewClient(rpc RPC, contracts receipt.Contracts, opts Options, m *metrics.Metrics, logger *slog.Logger) (*Client, error) {
	decoder, err := NewDecoder()
	if err != nil {
		return nil, err
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	if opts.SeenSize <= 0 {
		opts.SeenSize = defaultSeenSize
	}
	c := &Client{
		rpc:        rpc,
		decoder:    decoder,
		contracts:  contracts,
		opts:       opts,
		metrics:    m,
		logger:     logger,
		blockTimes: newBoundedCache[uint64, time.Time](blockTimeCacheSize),
		seen:       newBoundedCache[common.Hash, struct{}](opts.SeenSize),
	}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), max(1, int(opts.RateLimit)))
	}
	return c, nil
}

// Contracts returns the wallet and contract addresses.
func (c *Client) Contracts() receipt.Contracts {
	return c.contracts
}

// GetReceiptWithLogs returns the decoded receipt of txHash, or (nil, nil)
// when the node does not know the transaction.
func (c *Client) GetReceiptWithLogs(ctx context.Context, txHash string) (*receipt.Receipt, error) {
	if !isTxHash(txHash) {
		return nil, nil
	}
	hash := common.HexToHash(txHash)

	var raw *types.Receipt
	err := c.call(ctx, "eth_getTransactionReceipt", func(ctx context.Context) error {
		var err error
		raw, err = c.rpc.TransactionReceipt(ctx, hash)
		return err
	})
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt %s: %w", txHash, err)
	}
	return c.decoder.DecodeReceipt(raw), nil
}

// BlockTime returns the timestamp of a block.
func (c *Client) BlockTime(ctx context.Context, blockNumber uint64) (time.Time, error) {
	if t, ok := c.blockTimes.get(blockNumber); ok {
		return t, nil
	}

	var header *types.Header
	err := c.call(ctx, "eth_getBlockByNumber", func(ctx context.Context) error {
		var err error
		header, err = c.rpc.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
		return err
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get block %d: %w", blockNumber, err)
	}

	t := time.Unix(int64(header.Time), 0).UTC()
	c.blockTimes.put(blockNumber, t)
	return t, nil
}

// call runs fn through the rate limiter, retrying transient failures with
// exponential backoff.
func (c *Client) call(ctx context.Context, method string, fn func(context.Context) error) error {
	var err error
	for attempt := range c.opts.MaxAttempts {
		if werr := c.wait(ctx, method); werr != nil {
			return werr
		}

		start := time.Now()
		err = fn(ctx)
		c.metrics.RecordRPCCall(method, err, time.Since(start).Seconds())
		if err == nil || errors.Is(err, ethereum.NotFound) {
			return err
		}
		if ctx.Err() != nil || attempt == c.opts.MaxAttempts-1 {
			break
		}

		backoff := c.opts.RetryBackoff << attempt
		if strings.Contains(err.Error(), "429") {
			backoff *= 2
		}
		c.logger.WarnContext(ctx, "rpc call failed, retrying",
			"method", method,
			"attempt", attempt+1,
			"backoff_seconds", backoff.Seconds(),
			"error", err,
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (c *Client) wait(ctx context.Context, method string) error {
	if c.limiter == nil {
		return nil
	}
	r := c.limiter.Reserve()
	delay := r.Delay()
	if delay == 0 {
		return nil
	}
	c.metrics.RecordRPCThrottled(method)
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

// filterQueries selects every log that can mark a wallet receipt: token
// transfers from and to the wallet, payment link events by the wallet and
// UBI claims by the wallet.
func (c *Client) filterQueries() []ethereum.FilterQuery {
	wallet := common.BytesToHash(c.contracts.Wallet.Bytes())
	transfer := c.decoder.Topic(receipt.EventTransfer)

	queries := []ethereum.FilterQuery{
		{
			Addresses: []common.Address{c.contracts.Token},
			Topics:    [][]common.Hash{{transfer}, {wallet}},
		},
		{
			Addresses: []common.Address{c.contracts.Token},
			Topics:    [][]common.Hash{{transfer}, nil, {wallet}},
		},
	}
	if c.contracts.OneTimePayments != (common.Address{}) {
		queries = append(queries, ethereum.FilterQuery{
			Addresses: []common.Address{c.contracts.OneTimePayments},
			Topics: [][]common.Hash{{
				c.decoder.Topic(receipt.EventPaymentDeposit),
				c.decoder.Topic(receipt.EventPaymentWithdraw),
				c.decoder.Topic(receipt.EventPaymentCancel),
			}, {wallet}},
		})
	}
	if len(c.contracts.UBI) > 0 {
		queries = append(queries, ethereum.FilterQuery{
			Addresses: c.contracts.UBI,
			Topics:    [][]common.Hash{{c.decoder.Topic(receipt.EventUBIClaimed)}, {wallet}},
		})
	}
	return queries
}

// Subscribe streams receipts of transactions that touch the wallet to
// handler until ctx is done or a subscription fails. Each transaction is
// delivered once even when several of its logs match.
func (c *Client) Subscribe(ctx context.Context, handler func(context.Context, *receipt.Receipt)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logs := make(chan types.Log, 256)
	errc := make(chan error, 1)
	var wg sync.WaitGroup

	for _, q := range c.filterQueries() {
		sub, err := c.rpc.SubscribeFilterLogs(ctx, q, logs)
		if err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("failed to subscribe to logs: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sub.Unsubscribe()
			select {
			case err := <-sub.Err():
				if err != nil {
					select {
					case errc <- err:
					default:
					}
				}
			case <-ctx.Done():
			}
		}()
	}
	defer func() {
		cancel()
		wg.Wait()
	}()

	c.logger.InfoContext(ctx, "subscribed to wallet logs",
		"wallet", c.contracts.Wallet.Hex(),
		"queries", len(c.filterQueries()),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return fmt.Errorf("log subscription failed: %w", err)
		case l := <-logs:
			if l.Removed {
				continue
			}
			if c.seen.has(l.TxHash) {
				continue
			}
			r, err := c.GetReceiptWithLogs(ctx, l.TxHash.Hex())
			if err != nil {
				c.logger.WarnContext(ctx, "failed to fetch receipt for log",
					"tx_hash", l.TxHash.Hex(),
					"error", err,
				)
				continue
			}
			if r == nil {
				continue
			}
			c.seen.put(l.TxHash, struct{}{})
			handler(ctx, r)
		}
	}
}

func isTxHash(s string) bool {
	if !strings.HasPrefix(s, "0x") || len(s) != 66 {
		return false
	}
	_, err := hexutil.Decode(s)
	return err == nil
}
