// Package monitor ties the chain client, risk scoring, alert policy and
// subscriptions together into a running blockchain monitor.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/devblac/chain-sentinel/internal/alert"
	"github.com/devblac/chain-sentinel/internal/chain"
	"github.com/devblac/chain-sentinel/internal/engine"
	"github.com/devblac/chain-sentinel/internal/logging"
	"github.com/devblac/chain-sentinel/internal/metrics"
	"github.com/devblac/chain-sentinel/internal/risk"
	"github.com/devblac/chain-sentinel/internal/subscription"
	"github.com/devblac/chain-sentinel/internal/txn"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultBackoff      = 5 * time.Second
	defaultEmitTimeout  = 5 * time.Second

	// CursorBlocks is the cursor stream name written after each processed block.
	CursorBlocks = "blocks"
)

// ChainClient is the subset of *chain.Client the monitor depends on.
type ChainClient interface {
	Connect(ctx context.Context, rpcURL, wsURL string) bool
	Connected() bool
	Streaming() bool
	LatestBlockNumber(ctx context.Context) (uint64, error)
	GetBlock(ctx context.Context, n uint64, includeTxs bool) (*chain.Block, error)
	GetBlockByHash(ctx context.Context, hash common.Hash) (*chain.Block, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	PendingTransaction(ctx context.Context, hash common.Hash) (*types.Transaction, error)
	Sender(tx *types.Transaction) (common.Address, error)
	GasPriceGwei(ctx context.Context) (decimal.Decimal, error)
	WatchNewBlocks(ctx context.Context) (*chain.Watch, error)
	WatchPendingTransactions(ctx context.Context) (*chain.Watch, error)
}

// CursorStore records the last fully processed block.
type CursorStore interface {
	UpsertCursor(ctx context.Context, stream string, height uint64, hash string) error
}

// Options tune a Monitor. Threshold is used as given; start from
// DefaultOptions to get the stock value.
type Options struct {
	Threshold     float64
	PollInterval  time.Duration
	Backoff       time.Duration
	EmitTimeout   time.Duration
	NetworkSymbol string
	// Protocols maps lowercased contract addresses to protocol names.
	Protocols map[string]string
	ABIs      *chain.MethodIndex
	Policy    *engine.Policy
	Cursor    CursorStore
	Scorer    risk.Scorer
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	// MaxScanBlocks bounds how far GetRecentTransactions walks back. Zero
	// walks until genesis.
	MaxScanBlocks uint64
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{
		Threshold:     risk.DefaultThreshold,
		PollInterval:  defaultPollInterval,
		Backoff:       defaultBackoff,
		EmitTimeout:   defaultEmitTimeout,
		NetworkSymbol: "BNB",
	}
}

// State is a snapshot of the monitor lifecycle.
type State struct {
	Running        bool `json:"running"`
	ChainConnected bool `json:"chainConnected"`
}

// Monitor watches new blocks and pending transactions, scores them and
// raises alerts. The zero value is not usable; call New.
type Monitor struct {
	client   ChainClient
	emitter  alert.Emitter
	registry *subscription.Registry
	scorer   risk.Scorer
	opts     Options
	log      *slog.Logger
	metrics  *metrics.Metrics

	// lifecycle serializes Start and Stop, including the wait for streams
	lifecycle sync.Mutex

	mu        sync.Mutex
	running   bool
	connected bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// New wires a monitor. A nil emitter drops alerts, a nil registry starts empty.
func New(client ChainClient, emitter alert.Emitter, registry *subscription.Registry, opts Options) *Monitor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.EmitTimeout <= 0 {
		opts.EmitTimeout = defaultEmitTimeout
	}
	if emitter == nil {
		emitter = alert.EmitterFunc(func(context.Context, string, alert.Alert) error { return nil })
	}
	if registry == nil {
		registry = subscription.NewRegistry()
	}
	scorer := opts.Scorer
	if scorer == nil {
		scorer = risk.DefaultHeuristic()
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Monitor{
		client:   client,
		emitter:  emitter,
		registry: registry,
		scorer:   scorer,
		opts:     opts,
		log:      log.With("component", "monitor"),
		metrics:  opts.Metrics,
	}
}

// Initialize connects the chain client. A false return means the monitor
// runs degraded: queries return empty results and Start launches nothing.
func (m *Monitor) Initialize(ctx context.Context, rpcURL, wsURL string) bool {
	ok := m.client.Connect(ctx, rpcURL, wsURL)
	m.mu.Lock()
	m.connected = ok
	m.mu.Unlock()
	m.metrics.SetChainConnected(ok)
	if ok {
		m.log.Info("monitor initialized", "streaming", m.client.Streaming())
	} else {
		m.log.Warn("monitor running without chain connection")
	}
	return ok
}

// Connected reports whether Initialize reached the node.
func (m *Monitor) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Status returns the lifecycle snapshot.
func (m *Monitor) Status() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{Running: m.running, ChainConnected: m.connected}
}

// Registry exposes the subscription registry used for protocol alerts.
func (m *Monitor) Registry() *subscription.Registry {
	return m.registry
}

// Start launches the block and pending streams. Calling it while running is
// a no-op. Without a streaming connection the monitor is marked running but
// nothing is launched. Cancelling ctx stops the streams and clears the
// running state, so a later Start launches them again.
func (m *Monitor) Start(ctx context.Context) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.metrics.SetRunning(true)

	if !m.connected || !m.client.Streaming() {
		m.log.Warn("streams not started", "connected", m.connected, "streaming", m.client.Streaming())
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range m.streams() {
		s := s
		g.Go(func() error {
			m.runStream(gctx, s)
			return nil
		})
	}
	done := make(chan struct{})
	m.cancel, m.done = cancel, done
	go m.reap(g, cancel, done)
	m.log.Info("monitor started")
}

// reap waits for the streams of one Start. When they exit on their own
// (caller context cancelled) it clears the running state.
func (m *Monitor) reap(g *errgroup.Group, cancel context.CancelFunc, done chan struct{}) {
	_ = g.Wait()
	cancel()

	m.mu.Lock()
	if m.done == done {
		m.running = false
		m.cancel, m.done = nil, nil
		m.metrics.SetRunning(false)
		m.log.Info("monitor streams exited")
	}
	m.mu.Unlock()
	close(done)
}

// Stop cancels the streams and waits for them to exit. Safe to call twice.
// No alert is emitted after Stop returns.
func (m *Monitor) Stop() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	m.metrics.SetRunning(false)
	m.log.Info("monitor stopped")
}

// Score returns the risk score for tx.
func (m *Monitor) Score(tx txn.Transaction) float64 {
	return m.scorer.Score(tx)
}

// evaluate raises an alert for tx when its score crosses the threshold.
// Failures are logged; they never reach the stream loop.
func (m *Monitor) evaluate(ctx context.Context, tx txn.Transaction, raw *types.Transaction, stream string) {
	m.metrics.TransactionScored(stream, tx.RiskScore)
	if !risk.Exceeds(tx.RiskScore, m.opts.Threshold) {
		return
	}

	a := m.riskAlert(tx, raw, stream)
	decision, err := m.opts.Policy.Admit(ctx, engine.Candidate{
		TxHash: tx.Hash,
		Stream: stream,
		Args:   policyArgs(tx, stream, a.Metadata),
	})
	if err != nil {
		// fail open
		m.log.Warn("alert policy failed", "tx", tx.Hash, "error", err)
		m.metrics.Errors("policy")
		decision = engine.Admit
	}

	switch decision {
	case engine.Admit:
		m.emit(ctx, a)
	case engine.DryRun:
		m.log.Info("dry-run alert", "tx", tx.Hash, "score", tx.RiskScore, "severity", a.Severity)
	default:
		m.log.Debug("alert suppressed", "tx", tx.Hash, "decision", decision.String())
		m.metrics.AlertsDropped()
	}
}

func (m *Monitor) riskAlert(tx txn.Transaction, raw *types.Transaction, stream string) alert.Alert {
	kind, severity := risk.Classify(tx.RiskScore)
	meta := map[string]any{
		"txHash":        tx.Hash,
		"walletAddress": tx.From,
		"riskScore":     tx.RiskScore,
		"valueNative":   tx.ValueNative.String(),
		"gasPriceGwei":  tx.GasPriceGwei.String(),
		"network":       m.opts.NetworkSymbol,
		"stream":        stream,
		"blockNumber":   tx.BlockNumber,
		"status":        string(tx.Status),
	}
	if tx.To != nil {
		meta["to"] = *tx.To
		if protocol, ok := m.opts.Protocols[*tx.To]; ok {
			meta["protocol"] = protocol
			meta["notifiedAddresses"] = m.registry.AddressesFor(protocol)
		}
	}
	if raw != nil {
		if method, ok := m.opts.ABIs.MethodName(raw.Data()); ok {
			meta["method"] = method
		}
	}

	target := "contract creation"
	if tx.To != nil {
		target = *tx.To
	}
	message := fmt.Sprintf("%s sent %s %s to %s at %s gwei (risk %.0f)",
		tx.From, tx.ValueNative.String(), m.opts.NetworkSymbol, target, tx.GasPriceGwei.String(), tx.RiskScore)
	return alert.New(kind, severity, "High-risk transaction detected", message, alert.SourceMonitor, meta)
}

func policyArgs(tx txn.Transaction, stream string, meta map[string]any) map[string]any {
	args := map[string]any{
		"hash":       tx.Hash,
		"from":       tx.From,
		"to":         tx.ToAddress(),
		"value":      tx.ValueNative,
		"gas_price":  tx.GasPriceGwei,
		"risk_score": tx.RiskScore,
		"status":     string(tx.Status),
		"stream":     stream,
		"protocol":   "",
	}
	if p, ok := meta["protocol"]; ok {
		args["protocol"] = p
	}
	if method, ok := meta["method"]; ok {
		args["method"] = method
	}
	return args
}

// emit hands a to the emitter under EmitTimeout. Errors and panics from the
// emitter are logged and swallowed.
func (m *Monitor) emit(ctx context.Context, a alert.Alert) {
	m.metrics.AlertRaised(string(a.Severity))
	if err := m.safeEmit(ctx, a); err != nil {
		m.log.Error("emit alert failed", "alert", a.ID, "error", err)
		m.metrics.EmitFailed()
	}
}

func (m *Monitor) safeEmit(ctx context.Context, a alert.Alert) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("emitter panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, m.opts.EmitTimeout)
	defer cancel()
	return m.emitter.Emit(ctx, alert.EventAlert, a)
}

// TriggerExploit raises a critical security alert for protocol and returns
// how many subscribed addresses it targets.
func (m *Monitor) TriggerExploit(ctx context.Context, protocol, title, message string) (int, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	if protocol == "" {
		return 0, errors.New("protocol is required")
	}
	if title == "" {
		title = "Exploit detected"
	}
	if message == "" {
		message = "Known vulnerability is being exploited"
	}

	addrs := m.registry.AddressesFor(protocol)
	a := alert.New(alert.KindError, alert.SeverityCritical, title,
		fmt.Sprintf("%s (protocol: %s)", message, protocol), alert.SourceSecurity,
		map[string]any{"protocol": protocol, "notifiedAddresses": addrs})

	m.metrics.AlertRaised(string(a.Severity))
	if err := m.safeEmit(ctx, a); err != nil {
		m.metrics.EmitFailed()
		return len(addrs), fmt.Errorf("emit exploit alert: %w", err)
	}
	m.log.Warn("exploit alert raised", "protocol", protocol, "notified", len(addrs))
	return len(addrs), nil
}
