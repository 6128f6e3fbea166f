package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/devblac/chain-sentinel/internal/chain"
	"github.com/devblac/chain-sentinel/internal/txn"
)

// Stream names, also used as metric and alert labels.
const (
	StreamBlock   = "block"
	StreamPending = "pending"
)

const releaseTimeout = 2 * time.Second

type stream struct {
	name   string
	watch  func(ctx context.Context) (*chain.Watch, error)
	handle func(ctx context.Context, hash common.Hash) error
}

func (m *Monitor) streams() []stream {
	return []stream{
		{name: StreamBlock, watch: m.client.WatchNewBlocks, handle: m.handleBlock},
		{name: StreamPending, watch: m.client.WatchPendingTransactions, handle: m.handlePending},
	}
}

// runStream installs the stream's watch and polls it until ctx is done. Any
// install, poll or fetch error is logged and followed by a backoff; a failed
// poll drops the watch so it is reinstalled.
func (m *Monitor) runStream(ctx context.Context, s stream) {
	log := m.log.With("stream", s.name)
	var w *chain.Watch
	defer func() {
		if w != nil {
			m.release(ctx, w)
		}
	}()

	for {
		if w == nil {
			var err error
			w, err = s.watch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn("install watch failed", "error", err)
				m.metrics.Errors("watch")
				if !sleep(ctx, m.opts.Backoff) {
					return
				}
				continue
			}
		}

		hashes, err := w.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("poll failed", "error", err)
			m.metrics.Errors("poll")
			m.release(ctx, w)
			w = nil
			if !sleep(ctx, m.opts.Backoff) {
				return
			}
			continue
		}

		for _, h := range hashes {
			if ctx.Err() != nil {
				return
			}
			if err := s.handle(ctx, h); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn("fetch failed", "hash", h.Hex(), "error", err)
				m.metrics.Errors("fetch")
				if !sleep(ctx, m.opts.Backoff) {
					return
				}
			}
		}

		if !sleep(ctx, m.opts.PollInterval) {
			return
		}
	}
}

func (m *Monitor) release(ctx context.Context, w *chain.Watch) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := w.Close(ctx); err != nil {
		m.log.Debug("release watch", "kind", w.Kind, "error", err)
	}
}

// handleBlock scores every transaction of the announced block and records
// the block cursor.
func (m *Monitor) handleBlock(ctx context.Context, hash common.Hash) error {
	b, err := m.client.GetBlockByHash(ctx, hash)
	if errors.Is(err, chain.ErrNotFound) {
		m.log.Debug("announced block vanished", "hash", hash.Hex())
		return nil
	}
	if err != nil {
		return err
	}

	for _, tx := range b.Transactions {
		if ctx.Err() != nil {
			return nil
		}
		t, err := m.normalize(ctx, tx, b.Number, b.Time, true)
		if err != nil {
			m.log.Warn("skip transaction", "tx", tx.Hash().Hex(), "error", err)
			continue
		}
		m.evaluate(ctx, t, tx, StreamBlock)
	}
	m.metrics.BlocksProcessed()

	if m.opts.Cursor != nil {
		if err := m.opts.Cursor.UpsertCursor(ctx, CursorBlocks, b.Number, b.Hash.Hex()); err != nil {
			m.log.Warn("record cursor", "block", b.Number, "error", err)
			m.metrics.Errors("cursor")
		}
	}
	return nil
}

// handlePending scores a mempool transaction. Transactions already gone from
// the pool are skipped.
func (m *Monitor) handlePending(ctx context.Context, hash common.Hash) error {
	tx, err := m.client.PendingTransaction(ctx, hash)
	if errors.Is(err, chain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	t, err := m.normalize(ctx, tx, 0, time.Now(), false)
	if err != nil {
		m.log.Warn("skip pending transaction", "tx", hash.Hex(), "error", err)
		return nil
	}
	m.evaluate(ctx, t, tx, StreamPending)
	return nil
}

// normalize builds a scored Transaction. Receipts are best-effort; without
// one the transaction stays pending.
func (m *Monitor) normalize(ctx context.Context, tx *types.Transaction, blockNumber uint64, ts time.Time, withReceipt bool) (txn.Transaction, error) {
	from, err := m.client.Sender(tx)
	if err != nil {
		return txn.Transaction{}, err
	}
	var receipt *types.Receipt
	if withReceipt {
		receipt = m.receipt(ctx, tx.Hash())
	}
	t := txn.Normalize(txn.Raw{Tx: tx, From: from, BlockNumber: blockNumber}, ts, receipt)
	return t.WithRiskScore(m.scorer.Score(t)), nil
}

func (m *Monitor) receipt(ctx context.Context, hash common.Hash) *types.Receipt {
	r, err := m.client.TransactionReceipt(ctx, hash)
	if err != nil {
		if !errors.Is(err, chain.ErrNotFound) {
			m.log.Debug("receipt unavailable", "tx", hash.Hex(), "error", err)
		}
		return nil
	}
	return r
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
