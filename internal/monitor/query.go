package monitor

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/devblac/chain-sentinel/internal/chain"
	"github.com/devblac/chain-sentinel/internal/txn"
)

const (
	statsLookback = 20
	statsFetchers = 4
)

// DashboardStats summarizes recent chain activity.
type DashboardStats struct {
	TotalTransactions     int             `json:"totalTransactions"`
	TransactionsPerSecond float64         `json:"tps"`
	AverageGasPrice       decimal.Decimal `json:"averageGasPrice"`
	LatestBlock           uint64          `json:"latestBlock"`
	NetworkSymbol         string          `json:"networkSymbol"`
}

// GetRecentTransactions walks back from the latest block and returns up to
// limit transactions, newest first. A disconnected monitor returns an empty
// slice; unreadable blocks are skipped.
func (m *Monitor) GetRecentTransactions(ctx context.Context, limit int) []txn.Transaction {
	out := []txn.Transaction{}
	if limit <= 0 || !m.Connected() {
		return out
	}

	latest, err := m.client.LatestBlockNumber(ctx)
	if err != nil {
		m.log.Warn("recent transactions: latest block", "error", err)
		return out
	}

	var scanned uint64
	for n := latest; n > 0 && len(out) < limit; n-- {
		if ctx.Err() != nil {
			break
		}
		if m.opts.MaxScanBlocks > 0 && scanned >= m.opts.MaxScanBlocks {
			break
		}
		scanned++

		b, err := m.client.GetBlock(ctx, n, true)
		if err != nil {
			m.log.Warn("recent transactions: block", "block", n, "error", err)
			continue
		}
		for i := len(b.Transactions) - 1; i >= 0 && len(out) < limit; i-- {
			tx := b.Transactions[i]
			t, err := m.normalize(ctx, tx, b.Number, b.Time, true)
			if err != nil {
				m.log.Warn("recent transactions: skip", "tx", tx.Hash().Hex(), "error", err)
				continue
			}
			out = append(out, t)
		}
	}
	return out
}

// GetDashboardStats computes throughput over the last blocks. TPS is the
// transaction count of blocks (latest-lookback, latest] divided by the time
// between blocks latest-lookback and latest. A disconnected monitor returns
// the zero value; individual read failures leave their field at zero.
func (m *Monitor) GetDashboardStats(ctx context.Context) DashboardStats {
	if !m.Connected() {
		return DashboardStats{}
	}

	latest, err := m.client.LatestBlockNumber(ctx)
	if err != nil {
		m.log.Warn("dashboard stats: latest block", "error", err)
		return DashboardStats{}
	}
	stats := DashboardStats{LatestBlock: latest, NetworkSymbol: m.opts.NetworkSymbol}

	lookback := min(uint64(statsLookback), latest)
	blocks, err := m.fetchSummaries(ctx, latest-lookback, latest)
	if err != nil {
		m.log.Warn("dashboard stats: blocks", "error", err)
	} else {
		head := blocks[latest]
		stats.TotalTransactions = head.TxCount
		if lookback > 0 {
			txs := 0
			for n := latest - lookback + 1; n <= latest; n++ {
				txs += blocks[n].TxCount
			}
			elapsed := head.Time.Sub(blocks[latest-lookback].Time).Seconds()
			if elapsed > 0 {
				stats.TransactionsPerSecond = float64(txs) / elapsed
			}
		}
	}

	gas, err := m.client.GasPriceGwei(ctx)
	if err != nil {
		m.log.Warn("dashboard stats: gas price", "error", err)
	} else {
		stats.AverageGasPrice = gas
	}
	return stats
}

// fetchSummaries loads header-only blocks from..to inclusive.
func (m *Monitor) fetchSummaries(ctx context.Context, from, to uint64) (map[uint64]*chain.Block, error) {
	var mu sync.Mutex
	blocks := make(map[uint64]*chain.Block, to-from+1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statsFetchers)
	for n := from; n <= to; n++ {
		n := n
		g.Go(func() error {
			b, err := m.client.GetBlock(gctx, n, false)
			if err != nil {
				return err
			}
			mu.Lock()
			blocks[n] = b
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return blocks, nil
}
