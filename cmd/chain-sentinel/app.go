package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/devblac/chain-sentinel/internal/alert"
	"github.com/devblac/chain-sentinel/internal/chain"
	"github.com/devblac/chain-sentinel/internal/config"
	"github.com/devblac/chain-sentinel/internal/engine"
	"github.com/devblac/chain-sentinel/internal/logging"
	"github.com/devblac/chain-sentinel/internal/metrics"
	"github.com/devblac/chain-sentinel/internal/monitor"
	"github.com/devblac/chain-sentinel/internal/sink"
	"github.com/devblac/chain-sentinel/internal/storage"
	"github.com/devblac/chain-sentinel/internal/subscription"
)

var errNoStore = errors.New("this command requires global.db_path")

// app bundles what every command builds from the config file.
type app struct {
	cfg   *config.Config
	log   *slog.Logger
	store *storage.Store // nil without global.db_path
}

func loadApp() (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := logLevel
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if level == "" {
		level = cfg.Global.LogLevel
	}
	if level == "" {
		level = "info"
	}
	a := &app{cfg: cfg, log: logging.NewWithLevel(level)}

	if cfg.Global.DBPath != "" {
		store, err := storage.Open(cfg.Global.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.store = store
	}
	return a, nil
}

func (a *app) Close() {
	if a.store != nil {
		_ = a.store.Close()
	}
}

func (a *app) requireStore() (*storage.Store, error) {
	if a.store == nil {
		return nil, errNoStore
	}
	return a.store, nil
}

// registry seeds config subscriptions into the store, then loads every
// persisted pair into a fresh registry.
func (a *app) registry(ctx context.Context) (*subscription.Registry, error) {
	reg := subscription.NewRegistry()
	seeds := []storage.Subscription{}
	for _, s := range a.cfg.Subscriptions {
		for _, addr := range s.Addresses {
			reg.Subscribe(addr, s.Protocol)
			seeds = append(seeds, storage.Subscription{Protocol: s.Protocol, Address: addr})
		}
	}
	if a.store == nil {
		return reg, nil
	}

	if err := a.store.SeedSubscriptions(ctx, seeds); err != nil {
		return nil, err
	}
	subs, err := a.store.ListSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range subs {
		reg.Subscribe(s.Address, s.Protocol)
	}
	return reg, nil
}

func (a *app) targets() ([]sink.Target, error) {
	out := make([]sink.Target, 0, len(a.cfg.Sinks))
	for _, s := range a.cfg.Sinks {
		var (
			sender sink.Sender
			err    error
		)
		switch strings.ToLower(s.Type) {
		case "slack":
			sender, err = sink.NewSlackSender(s.WebhookURL, s.Template)
		case "teams":
			sender, err = sink.NewTeamsSender(s.WebhookURL, s.Template)
		case "webhook":
			sender, err = sink.NewWebhookSender(s.URL, s.Method, s.Template, s.Headers)
		case "nats":
			sender, err = sink.NewNATSSender(s.URL, s.Subject)
		case "kafka":
			sender, err = sink.NewKafkaSender(s.Brokers, s.Topic, nil)
		case "redis":
			sender, err = sink.NewRedisSender(s.Addr, s.Password, s.DB, s.Channel)
		case "store":
			sender = sink.NewStoreSender(a.store)
		case "log":
			sender = sink.NewLogSender(a.log.With("sink", s.ID))
		default:
			err = fmt.Errorf("unsupported sink type: %s", s.Type)
		}
		if err != nil {
			closeTargets(out)
			return nil, fmt.Errorf("sink %s: %w", s.ID, err)
		}
		out = append(out, sink.Target{ID: s.ID, Sender: sender})
	}
	return out, nil
}

func closeTargets(targets []sink.Target) {
	for _, t := range targets {
		if c, ok := t.Sender.(io.Closer); ok {
			_ = c.Close()
		}
	}
}

func (a *app) broadcaster(targets []sink.Target, mtr *metrics.Metrics) *sink.Broadcaster {
	opts := sink.BroadcasterOptions{
		Timeout:     a.cfg.Alerts.EmitTimeout,
		MaxInFlight: a.cfg.Alerts.MaxInFlight,
		Metrics:     mtr,
		Logger:      a.log,
	}
	if a.store != nil {
		opts.Recorder = a.store
	}
	return sink.NewBroadcaster(targets, opts)
}

func (a *app) policy(dryRun bool) (*engine.Policy, error) {
	al := a.cfg.Alerts
	opts := engine.PolicyOptions{Where: al.Where, DryRun: al.DryRun || dryRun}
	if al.Dedupe != nil {
		opts.DedupeKey, opts.DedupeTTL = al.Dedupe.Key, al.Dedupe.TTL
		if a.store != nil {
			opts.Deduper = a.store
		} else {
			opts.Deduper = engine.NewMemoryDeduper()
		}
	}
	if al.RateLimit != nil {
		opts.RateCapacity, opts.RatePerSecond = al.RateLimit.Capacity, al.RateLimit.PerSecond
	}
	return engine.NewPolicy(opts, a.log)
}

// monitorOptions maps the config onto monitor tuning.
func (a *app) monitorOptions(policy *engine.Policy, mtr *metrics.Metrics) (monitor.Options, error) {
	abis, err := chain.LoadABIs(a.cfg.Chain.ABIDirs)
	if err != nil {
		return monitor.Options{}, fmt.Errorf("load abis: %w", err)
	}

	opts := monitor.DefaultOptions()
	opts.Threshold = a.cfg.Alerts.Threshold()
	opts.PollInterval = a.cfg.Chain.PollInterval
	opts.Backoff = a.cfg.Chain.Backoff
	opts.EmitTimeout = a.cfg.Alerts.EmitTimeout
	opts.NetworkSymbol = a.cfg.Chain.NetworkSymbol
	opts.Protocols = a.cfg.ProtocolContracts()
	opts.ABIs = abis
	opts.Policy = policy
	opts.Metrics = mtr
	opts.Logger = a.log
	if a.store != nil {
		opts.Cursor = a.store
	}
	return opts, nil
}

// monitor builds and initializes a monitor against rpcURL and wsURL. The
// returned client must be closed by the caller.
func (a *app) monitor(ctx context.Context, opts monitor.Options, emitter alert.Emitter, reg *subscription.Registry, rpcURL, wsURL string) (*monitor.Monitor, *chain.Client) {
	client := chain.NewClient(a.log, a.cfg.Chain.RequestTimeout)
	m := monitor.New(client, emitter, reg, opts)
	m.Initialize(ctx, rpcURL, wsURL)
	return m, client
}
