package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/wpp-archive/internal/bus"
	"github.com/matheus3301/wpp-archive/internal/chat"
	"github.com/matheus3301/wpp-archive/internal/store"
	"go.uber.org/zap"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func inbound(jid, msgID, body string, ts int64) *store.Inbound {
	return &store.Inbound{
		Dialog:  store.RemoteDialog{JID: jid, Title: jid, Type: chat.Group},
		Message: store.RemoteMessage{MsgID: msgID, Body: body, Timestamp: ts},
	}
}

func cached(t *testing.T, db *store.DB, jid string) []store.RemoteMessage {
	t.Helper()
	ctx := context.Background()
	dialogs, err := db.RemoteDialogs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range dialogs {
		if d.JID != jid {
			continue
		}
		msgs, err := db.RemoteMessages(ctx, d.ID, store.RemoteQuery{})
		if err != nil {
			t.Fatal(err)
		}
		return msgs
	}
	return nil
}

func TestEngineIngestMessage(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := NewEngine(db, b, nil)
	ctx := context.Background()

	ch, unsub := b.Subscribe(bus.KindCacheUpdated, 10)
	defer unsub()

	if err := e.IngestMessage(ctx, inbound("chat@g.us", "m1", "hello", 1000)); err != nil {
		t.Fatal(err)
	}

	msgs := cached(t, db, "chat@g.us")
	if len(msgs) != 1 || msgs[0].Body != "hello" {
		t.Errorf("got %+v, want one message with body=hello", msgs)
	}

	select {
	case evt := <-ch:
		update, ok := evt.Payload.(*CacheUpdate)
		if !ok || update.Messages != 1 || len(update.DialogIDs) != 1 {
			t.Errorf("payload = %#v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for cache.updated event")
	}

	last, err := e.LastMessageAt(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if last != 1000 {
		t.Errorf("LastMessageAt() = %d, want 1000", last)
	}
}

func TestEngineIngestHistoryBatch(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := NewEngine(db, b, nil)
	ctx := context.Background()

	ch, unsub := b.Subscribe(bus.KindCacheUpdated, 10)
	defer unsub()

	batch := []*store.Inbound{
		inbound("a@g.us", "m1", "one", 1000),
		inbound("a@g.us", "m2", "two", 3000),
		inbound("b@g.us", "m3", "three", 2000),
	}
	if err := e.IngestHistoryBatch(ctx, batch); err != nil {
		t.Fatal(err)
	}

	if a, b := cached(t, db, "a@g.us"), cached(t, db, "b@g.us"); len(a) != 2 || len(b) != 1 {
		t.Errorf("got %d+%d messages, want 2+1", len(a), len(b))
	}

	select {
	case evt := <-ch:
		update := evt.Payload.(*CacheUpdate)
		if update.Messages != 3 || len(update.DialogIDs) != 2 {
			t.Errorf("update = %+v", update)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for cache.updated event")
	}

	// An older message never moves the checkpoint back.
	if err := e.IngestMessage(ctx, inbound("a@g.us", "m0", "zero", 500)); err != nil {
		t.Fatal(err)
	}
	if last, _ := e.LastMessageAt(ctx); last != 3000 {
		t.Errorf("LastMessageAt() = %d, want 3000", last)
	}
	if n, _ := db.Checkpoint(ctx, CheckpointHistory); n != "1" {
		t.Errorf("history checkpoint = %q, want 1", n)
	}
}

func TestEngineReingestReplacesMessage(t *testing.T) {
	tests := []struct {
		name   string
		ingest func(ctx context.Context, e *Engine, in *store.Inbound) error
	}{
		{"live", func(ctx context.Context, e *Engine, in *store.Inbound) error {
			return e.IngestMessage(ctx, in)
		}},
		{"history", func(ctx context.Context, e *Engine, in *store.Inbound) error {
			return e.IngestHistoryBatch(ctx, []*store.Inbound{in})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testDB(t)
			e := NewEngine(db, bus.New(), nil)
			ctx := context.Background()

			for _, body := range []string{"draft", "edited"} {
				if err := tt.ingest(ctx, e, inbound("chat@g.us", "m1", body, 1000)); err != nil {
					t.Fatal(err)
				}
			}
			msgs := cached(t, db, "chat@g.us")
			if len(msgs) != 1 || msgs[0].Body != "edited" {
				t.Errorf("cache = %+v, want the edited message once", msgs)
			}
		})
	}
}

func TestEngineUpdateDialogKeepsMessages(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), nil)
	ctx := context.Background()

	if err := e.IngestMessage(ctx, inbound("chat@g.us", "m1", "hello", 1000)); err != nil {
		t.Fatal(err)
	}
	if err := e.UpdateDialog(ctx, &store.RemoteDialog{JID: "chat@g.us", Title: "Renamed"}); err != nil {
		t.Fatal(err)
	}

	dialogs, err := db.RemoteDialogs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(dialogs) != 1 || dialogs[0].Title != "Renamed" || dialogs[0].LastMessageAt != 1000 {
		t.Errorf("dialogs = %+v", dialogs)
	}
	if msgs := cached(t, db, "chat@g.us"); len(msgs) != 1 {
		t.Errorf("got %d messages, want 1", len(msgs))
	}
}

// TestEngineBusSubscription verifies the engine processes events from the bus.
func TestEngineBusSubscription(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	logger, _ := zap.NewDevelopment()
	e := NewEngine(db, b, logger)

	e.Start(context.Background())
	defer e.Stop()

	updates, unsub := b.Subscribe(bus.KindCacheUpdated, 10)
	defer unsub()
	waitUpdate := func() {
		t.Helper()
		select {
		case <-updates:
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for ingestion")
		}
	}

	b.Emit(bus.KindWAMessage, inbound("bus-test@g.us", "bm1", "from bus", 5000))
	waitUpdate()
	if msgs := cached(t, db, "bus-test@g.us"); len(msgs) != 1 || msgs[0].Body != "from bus" {
		t.Fatalf("got %+v, want one message from the bus", msgs)
	}

	b.Emit(bus.KindWAHistoryBatch, []*store.Inbound{
		inbound("batch@g.us", "hm1", "history", 6000),
		inbound("batch@g.us", "hm2", "history2", 7000),
	})
	waitUpdate()
	if msgs := cached(t, db, "batch@g.us"); len(msgs) != 2 {
		t.Errorf("got %d messages, want 2 (history batch via bus)", len(msgs))
	}

	b.Emit(bus.KindWARevoke, &store.Revoke{DialogJID: "batch@g.us", MsgID: "hm1"})
	deadline := time.Now().Add(time.Second)
	for len(cached(t, db, "batch@g.us")) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("revoked message still cached")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
