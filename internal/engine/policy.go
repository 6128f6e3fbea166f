package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/devblac/chain-sentinel/internal/logging"
)

const defaultDedupeTTL = 24 * time.Hour

// Decision is the outcome of Policy.Admit.
type Decision int

const (
	Admit Decision = iota
	Filtered
	Duplicate
	RateLimited
	DryRun
)

func (d Decision) String() string {
	switch d {
	case Admit:
		return "admit"
	case Filtered:
		return "filtered"
	case Duplicate:
		return "duplicate"
	case RateLimited:
		return "rate_limited"
	case DryRun:
		return "dry_run"
	default:
		return "unknown"
	}
}

// Candidate is an alert about to be emitted.
type Candidate struct {
	TxHash string
	Stream string
	Args   map[string]any
}

// Deduper remembers keys until they expire. *storage.Store satisfies it.
type Deduper interface {
	IsDuplicate(ctx context.Context, key string, now time.Time) (bool, error)
	MarkDedupe(ctx context.Context, key string, expiresAt time.Time) error
}

// PolicyOptions configures admission. The zero value admits everything.
type PolicyOptions struct {
	Where         []string
	DedupeKey     string
	DedupeTTL     time.Duration
	Deduper       Deduper // nil disables dedupe
	RateCapacity  float64
	RatePerSecond float64 // <= 0 disables rate limiting
	DryRun        bool
}

// Policy decides whether a scored candidate becomes an emitted alert.
type Policy struct {
	preds     []Predicate
	deduper   Deduper
	dedupeKey string
	dedupeTTL time.Duration
	bucket    *TokenBucket
	dryRun    bool
	nowFunc   func() time.Time
	log       *slog.Logger

	// admit makes the dedupe check and mark one step across streams
	admit sync.Mutex
}

// NewPolicy compiles opts.
func NewPolicy(opts PolicyOptions, log *slog.Logger) (*Policy, error) {
	if log == nil {
		log = logging.Discard()
	}
	preds, err := CompilePredicates(opts.Where)
	if err != nil {
		return nil, fmt.Errorf("alert predicates: %w", err)
	}
	p := &Policy{
		preds:     preds,
		deduper:   opts.Deduper,
		dedupeKey: opts.DedupeKey,
		dedupeTTL: opts.DedupeTTL,
		dryRun:    opts.DryRun,
		nowFunc:   time.Now,
		log:       log,
	}
	if p.dedupeTTL <= 0 {
		p.dedupeTTL = defaultDedupeTTL
	}
	if opts.RatePerSecond > 0 {
		capacity := opts.RateCapacity
		if capacity < 1 {
			capacity = 1
		}
		p.bucket = NewTokenBucket(capacity, opts.RatePerSecond)
	}
	return p, nil
}

// Admit evaluates c. A nil policy admits everything. Dedupe keys are only
// marked once the candidate passes the rate limit, so a throttled alert may
// still be raised later.
func (p *Policy) Admit(ctx context.Context, c Candidate) (Decision, error) {
	if p == nil {
		return Admit, nil
	}
	pass, err := allPredicates(p.preds, c.Args)
	if err != nil {
		return Filtered, err
	}
	if !pass {
		return Filtered, nil
	}

	p.admit.Lock()
	defer p.admit.Unlock()

	now := p.nowFunc()
	var key string
	if p.deduper != nil {
		key = buildDedupeKey(p.dedupeKey, c)
		isDup, err := p.deduper.IsDuplicate(ctx, key, now)
		if err != nil {
			return Filtered, fmt.Errorf("dedupe check: %w", err)
		}
		if isDup {
			p.log.Debug("duplicate alert suppressed", "fingerprint", key)
			return Duplicate, nil
		}
	}

	if p.bucket != nil && !p.bucket.Allow(now) {
		p.log.Debug("alert rate limited", "tx", c.TxHash)
		return RateLimited, nil
	}

	if key != "" {
		if err := p.deduper.MarkDedupe(ctx, key, now.Add(p.dedupeTTL)); err != nil {
			return Filtered, fmt.Errorf("dedupe mark: %w", err)
		}
	}

	if p.dryRun {
		return DryRun, nil
	}
	return Admit, nil
}

func allPredicates(preds []Predicate, args map[string]any) (bool, error) {
	for _, p := range preds {
		ok, err := p(args)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// buildDedupeKey expands txhash, stream, from, and protocol tokens in pattern.
func buildDedupeKey(pattern string, c Candidate) string {
	if pattern == "" {
		pattern = "txhash"
	}
	key := strings.ReplaceAll(pattern, "txhash", c.TxHash)
	key = strings.ReplaceAll(key, "stream", c.Stream)
	key = strings.ReplaceAll(key, "from", fmt.Sprint(argOrEmpty(c.Args, "from")))
	key = strings.ReplaceAll(key, "protocol", fmt.Sprint(argOrEmpty(c.Args, "protocol")))
	return key
}

func argOrEmpty(args map[string]any, k string) any {
	if v, ok := args[k]; ok && v != nil {
		return v
	}
	return ""
}

// MemoryDeduper is an in-process Deduper used when no database is configured.
type MemoryDeduper struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

// NewMemoryDeduper returns an empty deduper.
func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{entries: map[string]time.Time{}}
}

// IsDuplicate returns true if key is present and unexpired; expired keys are pruned.
func (m *MemoryDeduper) IsDuplicate(_ context.Context, key string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	if exp.After(now) {
		return true, nil
	}
	delete(m.entries, key)
	return false, nil
}

// MarkDedupe sets or refreshes key until expiresAt.
func (m *MemoryDeduper) MarkDedupe(_ context.Context, key string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = expiresAt
	return nil
}
