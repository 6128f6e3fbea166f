package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Watch kinds.
const (
	WatchBlocks  = "blocks"
	WatchPending = "pending"
)

// Watch is an installed node-side filter. Poll returns the hashes seen since
// the previous poll.
type Watch struct {
	Kind string
	ID   string

	caller Caller
}

// NewWatch wraps an already-installed filter id.
func NewWatch(kind, id string, caller Caller) *Watch {
	return &Watch{Kind: kind, ID: id, caller: caller}
}

// WatchNewBlocks installs a new-block filter on the streaming endpoint.
func (c *Client) WatchNewBlocks(ctx context.Context) (*Watch, error) {
	return c.install(ctx, WatchBlocks, "eth_newBlockFilter")
}

// WatchPendingTransactions installs a pending-transaction filter.
func (c *Client) WatchPendingTransactions(ctx context.Context) (*Watch, error) {
	return c.install(ctx, WatchPending, "eth_newPendingTransactionFilter")
}

func (c *Client) install(ctx context.Context, kind, method string) (*Watch, error) {
	c.mu.RLock()
	stream, connected := c.stream, c.node != nil
	c.mu.RUnlock()
	if !connected {
		return nil, ErrDisconnected
	}
	if stream == nil {
		return nil, ErrNoStream
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var id string
	if err := stream.CallContext(ctx, &id, method); err != nil {
		return nil, fmt.Errorf("install %s filter: %w", kind, err)
	}
	c.log.Debug("filter installed", "kind", kind, "id", id)
	return NewWatch(kind, id, stream), nil
}

// Poll fetches filter changes.
func (w *Watch) Poll(ctx context.Context) ([]common.Hash, error) {
	var hashes []common.Hash
	if err := w.caller.CallContext(ctx, &hashes, "eth_getFilterChanges", w.ID); err != nil {
		return nil, fmt.Errorf("poll %s filter: %w", w.Kind, err)
	}
	return hashes, nil
}

// Close uninstalls the filter. Nodes drop idle filters on their own, so
// failures are only informative.
func (w *Watch) Close(ctx context.Context) error {
	var ok bool
	if err := w.caller.CallContext(ctx, &ok, "eth_uninstallFilter", w.ID); err != nil {
		return fmt.Errorf("uninstall %s filter: %w", w.Kind, err)
	}
	return nil
}
