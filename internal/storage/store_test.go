package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/devblac/chain-sentinel/internal/alert"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCursorUpsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, _, ok, err := store.GetCursor(ctx, "blocks"); err != nil || ok {
		t.Fatalf("expected no cursor, ok=%v err=%v", ok, err)
	}
	if err := store.UpsertCursor(ctx, "blocks", 10, "hashA"); err != nil {
		t.Fatalf("upsert cursor: %v", err)
	}
	h, hash, ok, err := store.GetCursor(ctx, "blocks")
	if err != nil || !ok {
		t.Fatalf("get cursor failed err=%v ok=%v", err, ok)
	}
	if h != 10 || hash != "hashA" {
		t.Fatalf("unexpected cursor: %d %s", h, hash)
	}

	if err := store.UpsertCursor(ctx, "blocks", 20, "hashB"); err != nil {
		t.Fatalf("upsert cursor update: %v", err)
	}
	h, hash, ok, err = store.GetCursor(ctx, "blocks")
	if err != nil || !ok || h != 20 || hash != "hashB" {
		t.Fatalf("cursor not updated: %d %s err=%v ok=%v", h, hash, err, ok)
	}

	if err := store.UpsertCursor(ctx, "", 1, "x"); err == nil {
		t.Fatalf("expected empty stream to fail")
	}
}

func TestDedupeTTL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.MarkDedupe(ctx, "k1", now.Add(1*time.Second)); err != nil {
		t.Fatalf("mark dedupe: %v", err)
	}
	dup, err := store.IsDuplicate(ctx, "k1", now)
	if err != nil {
		t.Fatalf("is duplicate: %v", err)
	}
	if !dup {
		t.Fatalf("expected duplicate before expiry")
	}

	later := now.Add(2 * time.Second)
	dup, err = store.IsDuplicate(ctx, "k1", later)
	if err != nil {
		t.Fatalf("is duplicate later: %v", err)
	}
	if dup {
		t.Fatalf("expected non-duplicate after expiry")
	}
}

func TestAlertInsertOnceAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := alert.New(alert.KindWarning, alert.SeverityHigh, "High risk transaction detected",
		"Transaction 0xabc flagged", alert.SourceMonitor, map[string]any{"txHash": "0xabc", "riskScore": 72.0})
	older.Timestamp = time.Now().Add(-time.Minute).UTC()
	newer := alert.New(alert.KindError, alert.SeverityCritical, "Exploit detected",
		"Known vulnerability is being exploited (protocol: venus)", alert.SourceSecurity, map[string]any{"protocol": "venus"})

	if err := store.InsertAlert(ctx, older); err != nil {
		t.Fatalf("insert alert: %v", err)
	}
	if err := store.InsertAlert(ctx, older); err == nil {
		t.Fatalf("expected duplicate alert insert to fail")
	}
	if err := store.InsertAlert(ctx, newer); err != nil {
		t.Fatalf("insert alert: %v", err)
	}

	got, err := store.ListAlerts(ctx, 0)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(got))
	}
	if got[0].ID != newer.ID || got[1].ID != older.ID {
		t.Fatalf("expected newest first, got %s then %s", got[0].ID, got[1].ID)
	}
	if got[1].TxHash() != "0xabc" || got[1].Metadata["riskScore"] != 72.0 {
		t.Fatalf("metadata not round-tripped: %v", got[1].Metadata)
	}
	if got[0].Kind != alert.KindError || got[0].Severity != alert.SeverityCritical || got[0].Source != alert.SourceSecurity {
		t.Fatalf("unexpected alert fields: %+v", got[0])
	}

	limited, err := store.ListAlerts(ctx, 1)
	if err != nil {
		t.Fatalf("list alerts limited: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != newer.ID {
		t.Fatalf("unexpected limited result: %+v", limited)
	}
}

func TestInsertSendOncePerSink(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := Send{AlertID: "a1", SinkID: "slack", Status: SendSent, ResponseCode: 200}
	if err := store.InsertSend(ctx, rec); err != nil {
		t.Fatalf("insert send: %v", err)
	}
	if err := store.InsertSend(ctx, rec); err == nil {
		t.Fatalf("expected duplicate send to fail")
	}
	if err := store.InsertSend(ctx, Send{AlertID: "a1", SinkID: "nats"}); err == nil {
		t.Fatalf("expected missing status to fail")
	}
}

func TestSubscriptions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SeedSubscriptions(ctx, []Subscription{
		{Protocol: "Venus", Address: "0xABC"},
		{Protocol: "pancake", Address: "0xdef"},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.AddSubscription(ctx, "venus", "0xabc"); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if err := store.AddSubscription(ctx, "", "0x1"); err == nil {
		t.Fatalf("expected empty protocol to fail")
	}

	subs, err := store.ListSubscriptions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []Subscription{{Protocol: "pancake", Address: "0xdef"}, {Protocol: "venus", Address: "0xabc"}}
	if len(subs) != len(want) {
		t.Fatalf("expected %v, got %v", want, subs)
	}
	for i := range want {
		if subs[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, subs)
		}
	}

	if err := store.RemoveSubscription(ctx, "VENUS", "0xAbc"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	subs, err = store.ListSubscriptions(ctx)
	if err != nil || len(subs) != 1 || subs[0].Protocol != "pancake" {
		t.Fatalf("unexpected after remove: %v err=%v", subs, err)
	}
}

func TestSeedSubscriptionsIsAtomic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.SeedSubscriptions(ctx, []Subscription{
		{Protocol: "venus", Address: "0x1"},
		{Protocol: "", Address: "0x2"},
	})
	if err == nil {
		t.Fatalf("expected seed to fail")
	}
	subs, err := store.ListSubscriptions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 0 {
		t.Fatalf("expected rollback, got %v", subs)
	}
}

func TestPing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	store.Close()
	if err := store.Ping(ctx); err == nil {
		t.Fatalf("expected ping to fail after close")
	}
}

func TestConcurrentWritesAllLand(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers*3)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("alert-%d", i)
			errs <- store.InsertSend(ctx, Send{AlertID: id, SinkID: "hook", Status: SendSent})
			errs <- store.MarkDedupe(ctx, id, time.Now().Add(time.Hour))
			errs <- store.UpsertCursor(ctx, "blocks", uint64(i), id)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent write: %v", err)
		}
	}

	for i := 0; i < writers; i++ {
		id := fmt.Sprintf("alert-%d", i)
		if err := store.InsertSend(ctx, Send{AlertID: id, SinkID: "hook", Status: SendSent}); err == nil {
			t.Fatalf("send %s was not recorded", id)
		}
		dup, err := store.IsDuplicate(ctx, id, time.Now())
		if err != nil || !dup {
			t.Fatalf("dedupe %s not recorded: dup=%v err=%v", id, dup, err)
		}
	}
}
