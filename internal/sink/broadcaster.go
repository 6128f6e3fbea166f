package sink

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devblac/chain-sentinel/internal/alert"
	"github.com/devblac/chain-sentinel/internal/logging"
	"github.com/devblac/chain-sentinel/internal/metrics"
	"github.com/devblac/chain-sentinel/internal/storage"
	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("broadcaster closed")

const (
	defaultEmitTimeout = 5 * time.Second
	defaultMaxInFlight = 64
)

// Target is a named sender.
type Target struct {
	ID     string
	Sender Sender
}

// SendRecorder records delivery attempts. *storage.Store satisfies it.
type SendRecorder interface {
	InsertSend(ctx context.Context, s storage.Send) error
}

// BroadcasterOptions tunes delivery.
type BroadcasterOptions struct {
	Timeout     time.Duration
	MaxInFlight int64
	Recorder    SendRecorder // optional
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Broadcaster is the alert.Emitter handed to the monitor. Emit never blocks
// on a destination: each target is delivered on its own goroutine, and when
// MaxInFlight deliveries are already running further ones are dropped.
type Broadcaster struct {
	targets  []Target
	timeout  time.Duration
	sem      *semaphore.Weighted
	recorder SendRecorder
	metrics  *metrics.Metrics
	log      *slog.Logger

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Int64
}

var _ alert.Emitter = (*Broadcaster)(nil)

// NewBroadcaster builds a broadcaster over targets.
func NewBroadcaster(targets []Target, opts BroadcasterOptions) *Broadcaster {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultEmitTimeout
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = defaultMaxInFlight
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Broadcaster{
		targets:  targets,
		timeout:  opts.Timeout,
		sem:      semaphore.NewWeighted(opts.MaxInFlight),
		recorder: opts.Recorder,
		metrics:  opts.Metrics,
		log:      opts.Logger,
	}
}

// Emit schedules delivery of a to every target and returns immediately.
func (b *Broadcaster) Emit(ctx context.Context, event string, a alert.Alert) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	// deliveries outlive the caller's deadline but keep its values
	base := context.WithoutCancel(ctx)
	for _, t := range b.targets {
		if !b.sem.TryAcquire(1) {
			b.dropped.Add(1)
			b.metrics.AlertsDropped()
			b.log.Warn("emission dropped, too many in flight", "sink", t.ID, "alert", a.ID)
			continue
		}
		b.wg.Add(1)
		go b.deliver(base, t, event, a)
	}
	return nil
}

func (b *Broadcaster) deliver(base context.Context, t Target, event string, a alert.Alert) {
	defer b.wg.Done()
	defer b.sem.Release(1)

	ctx, cancel := context.WithTimeout(base, b.timeout)
	defer cancel()

	rec := storage.Send{AlertID: a.ID, SinkID: t.ID, Status: storage.SendSent}
	if err := t.Sender.Send(ctx, a); err != nil {
		rec.Status = storage.SendFailed
		var se *StatusError
		if errors.As(err, &se) {
			rec.ResponseCode = se.Code
		}
		b.metrics.EmitFailed()
		b.log.Error("alert delivery failed", "sink", t.ID, "event", event, "alert", a.ID, "error", err)
	} else {
		b.metrics.AlertsSent()
		b.log.Debug("alert delivered", "sink", t.ID, "event", event, "alert", a.ID)
	}

	if b.recorder != nil {
		rctx, rcancel := context.WithTimeout(base, b.timeout)
		defer rcancel()
		if err := b.recorder.InsertSend(rctx, rec); err != nil {
			b.log.Warn("record send failed", "sink", t.ID, "alert", a.ID, "error", err)
		}
	}
}

// Dropped reports how many deliveries were skipped for lack of capacity.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

// Close stops accepting alerts, waits for in-flight deliveries until ctx is
// done, then closes every target that holds a connection.
func (b *Broadcaster) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	for _, t := range b.targets {
		if c, ok := t.Sender.(io.Closer); ok {
			if cerr := c.Close(); cerr != nil {
				b.log.Warn("close sink failed", "sink", t.ID, "error", cerr)
			}
		}
	}
	return err
}
