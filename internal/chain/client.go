package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"

	"github.com/devblac/chain-sentinel/internal/txn"
)

var (
	// ErrNotFound is returned when the node has no record (yet) for a lookup.
	ErrNotFound = errors.New("not found")
	// ErrDisconnected is returned by every query while no node is attached.
	ErrDisconnected = errors.New("chain client disconnected")
	// ErrNoStream is returned by watch calls when no websocket endpoint is attached.
	ErrNoStream = errors.New("streaming endpoint not configured")
)

const defaultTimeout = 10 * time.Second

// Node captures the subset of ethclient used by the client.
type Node interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	BlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Caller issues raw JSON-RPC calls; *rpc.Client satisfies it.
type Caller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// Block is a fetched block. Transactions is nil unless requested.
type Block struct {
	Number       uint64
	Hash         common.Hash
	Time         time.Time
	TxCount      int
	Transactions []*types.Transaction
}

// Client is a thin, connection-owning wrapper over an EVM node. Every query
// fails with ErrDisconnected until Connect succeeds.
type Client struct {
	log     *slog.Logger
	timeout time.Duration

	mu      sync.RWMutex
	node    Node
	raw     Caller
	stream  Caller
	chainID *big.Int
	closers []func()
}

// NewClient returns a disconnected client.
func NewClient(log *slog.Logger, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{log: log, timeout: timeout}
}

// Attach builds a connected client over already-established transports.
// stream may be nil to disable watches.
func Attach(log *slog.Logger, node Node, raw, stream Caller, chainID *big.Int) *Client {
	c := NewClient(log, 0)
	c.node, c.raw, c.stream, c.chainID = node, raw, stream, chainID
	return c
}

// Connect dials rpcURL and performs an eth_chainId handshake. When wsURL is
// set a second connection is dialed for filters; its failure only disables
// streaming. Connect never returns an error: false means degraded mode.
func (c *Client) Connect(ctx context.Context, rpcURL, wsURL string) bool {
	if rpcURL == "" {
		c.log.Warn("no rpc url configured, running degraded")
		return false
	}

	dctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	rc, err := rpc.DialContext(dctx, rpcURL)
	if err != nil {
		c.log.Error("dial rpc failed", "error", err)
		return false
	}
	node := ethclient.NewClient(rc)
	id, err := node.ChainID(dctx)
	if err != nil {
		rc.Close()
		c.log.Error("rpc handshake failed", "error", err)
		return false
	}

	closers := []func(){rc.Close}
	var stream Caller
	if wsURL != "" {
		wc, err := rpc.DialContext(dctx, wsURL)
		if err != nil {
			c.log.Warn("dial websocket failed, streaming disabled", "error", err)
		} else {
			stream = wc
			closers = append(closers, wc.Close)
		}
	}

	c.mu.Lock()
	c.closeLocked()
	c.node, c.raw, c.stream, c.chainID, c.closers = node, rc, stream, id, closers
	c.mu.Unlock()

	c.log.Info("connected to chain", "chain_id", id.String(), "streaming", stream != nil)
	return true
}

// Close drops all connections; the client reports disconnected afterwards.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	for _, fn := range c.closers {
		fn()
	}
	c.node, c.raw, c.stream, c.chainID, c.closers = nil, nil, nil, nil, nil
}

// Connected reports whether a node is attached.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.node != nil
}

// Streaming reports whether filters can be installed.
func (c *Client) Streaming() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.node != nil && c.stream != nil
}

// ChainID returns the handshake chain id, or nil when disconnected.
func (c *Client) ChainID() *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.chainID == nil {
		return nil
	}
	return new(big.Int).Set(c.chainID)
}

func (c *Client) current() (Node, Caller, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.node == nil {
		return nil, nil, ErrDisconnected
	}
	return c.node, c.raw, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// Ping checks node liveness.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.LatestBlockNumber(ctx)
	return err
}

// LatestBlockNumber returns the current head height.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	node, _, err := c.current()
	if err != nil {
		return 0, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	n, err := node.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("block number: %w", err)
	}
	return n, nil
}

type rpcBlockSummary struct {
	Number       hexutil.Uint64 `json:"number"`
	Hash         common.Hash    `json:"hash"`
	Timestamp    hexutil.Uint64 `json:"timestamp"`
	Transactions []common.Hash  `json:"transactions"`
}

// GetBlock fetches block n. Without includeTxs only the summary and
// transaction count are returned.
func (c *Client) GetBlock(ctx context.Context, n uint64, includeTxs bool) (*Block, error) {
	node, raw, err := c.current()
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if includeTxs {
		b, err := node.BlockByNumber(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", n, notFound(err))
		}
		return fromBlock(b), nil
	}

	var summary *rpcBlockSummary
	if err := raw.CallContext(ctx, &summary, "eth_getBlockByNumber", hexutil.EncodeUint64(n), false); err != nil {
		return nil, fmt.Errorf("block %d: %w", n, err)
	}
	if summary == nil {
		return nil, fmt.Errorf("block %d: %w", n, ErrNotFound)
	}
	return &Block{
		Number:  uint64(summary.Number),
		Hash:    summary.Hash,
		Time:    time.Unix(int64(summary.Timestamp), 0).UTC(),
		TxCount: len(summary.Transactions),
	}, nil
}

// GetBlockByHash fetches a block with its transactions.
func (c *Client) GetBlockByHash(ctx context.Context, hash common.Hash) (*Block, error) {
	node, _, err := c.current()
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	b, err := node.BlockByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("block %s: %w", hash.Hex(), notFound(err))
	}
	return fromBlock(b), nil
}

func fromBlock(b *types.Block) *Block {
	txs := b.Transactions()
	return &Block{
		Number:       b.NumberU64(),
		Hash:         b.Hash(),
		Time:         time.Unix(int64(b.Time()), 0).UTC(),
		TxCount:      len(txs),
		Transactions: txs,
	}
}

// TransactionReceipt returns the receipt or ErrNotFound when the node has
// none yet. Transport failures are returned as-is.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	node, _, err := c.current()
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	r, err := node.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, notFound(err)
	}
	return r, nil
}

// PendingTransaction fetches a transaction by hash; ErrNotFound when it
// vanished from the pool.
func (c *Client) PendingTransaction(ctx context.Context, hash common.Hash) (*types.Transaction, error) {
	node, _, err := c.current()
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	tx, _, err := node.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, notFound(err)
	}
	return tx, nil
}

// Sender recovers the signer of tx using the connected chain id.
func (c *Client) Sender(tx *types.Transaction) (common.Address, error) {
	id := c.ChainID()
	if id == nil {
		return common.Address{}, ErrDisconnected
	}
	from, err := types.Sender(types.LatestSignerForChainID(id), tx)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover sender: %w", err)
	}
	return from, nil
}

// GasPrice returns the node's suggested gas price in wei.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	node, _, err := c.current()
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	p, err := node.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	return p, nil
}

// GasPriceGwei returns the suggested gas price in gwei.
func (c *Client) GasPriceGwei(ctx context.Context) (decimal.Decimal, error) {
	p, err := c.GasPrice(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return txn.WeiToGwei(p), nil
}

func notFound(err error) error {
	if errors.Is(err, ethereum.NotFound) {
		return ErrNotFound
	}
	return err
}
