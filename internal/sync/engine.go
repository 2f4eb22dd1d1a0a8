// Package sync ingests chat service events into the message cache the
// transport serves fetches from.
package sync

import (
	"context"
	"fmt"
	"strconv"

	"github.com/matheus3301/wpp-archive/internal/bus"
	"github.com/matheus3301/wpp-archive/internal/store"
	"go.uber.org/zap"
)

// Checkpoint keys kept in sync_state.
const (
	CheckpointLastMessage = "last_message_at"
	CheckpointHistory     = "history_batches"
)

// CacheUpdate is the payload of a cache.updated event.
type CacheUpdate struct {
	DialogIDs []int64 `json:"dialog_ids"`
	Messages  int     `json:"messages"`
}

// Engine handles idempotent ingestion of messages into the cache.
// It subscribes to "wa.*" events on the bus and processes them.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a new sync engine.
func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to inbound chat service events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	ch, unsub := e.bus.Subscribe("wa.", 256)

	go func() {
		defer close(e.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and waits for the event loop to exit.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.KindWAMessage:
		in, ok := evt.Payload.(*store.Inbound)
		if !ok {
			return
		}
		if err := e.IngestMessage(ctx, in); err != nil {
			e.logger.Error("failed to ingest message", zap.Error(err), zap.String("msg_id", in.Message.MsgID))
		}
	case bus.KindWAHistoryBatch:
		batch, ok := evt.Payload.([]*store.Inbound)
		if !ok {
			return
		}
		if err := e.IngestHistoryBatch(ctx, batch); err != nil {
			e.logger.Error("failed to ingest history batch", zap.Error(err), zap.Int("count", len(batch)))
		} else {
			e.logger.Info("history batch ingested", zap.Int("messages", len(batch)))
		}
	case bus.KindWADialog:
		d, ok := evt.Payload.(*store.RemoteDialog)
		if !ok {
			return
		}
		if err := e.UpdateDialog(ctx, d); err != nil {
			e.logger.Error("failed to update dialog", zap.Error(err), zap.String("jid", d.JID))
		}
	case bus.KindWARevoke:
		r, ok := evt.Payload.(*store.Revoke)
		if !ok {
			return
		}
		if err := e.db.MarkRemoteDeleted(ctx, r.DialogJID, r.MsgID); err != nil {
			e.logger.Error("failed to mark message deleted", zap.Error(err), zap.String("msg_id", r.MsgID))
		}
	}
}

// IngestMessage caches a single message and its dialog (idempotent).
func (e *Engine) IngestMessage(ctx context.Context, in *store.Inbound) error {
	var dialogID int64
	err := e.db.InTx(ctx, func(tx *store.Tx) error {
		var err error
		dialogID, err = ingest(tx, in)
		if err != nil {
			return err
		}
		return advance(tx, in.Message.Timestamp)
	})
	if err != nil {
		return err
	}

	e.bus.Emit(bus.KindCacheUpdated, &CacheUpdate{DialogIDs: []int64{dialogID}, Messages: 1})
	return nil
}

// IngestHistoryBatch caches a batch of history messages in one transaction.
func (e *Engine) IngestHistoryBatch(ctx context.Context, batch []*store.Inbound) error {
	if len(batch) == 0 {
		return nil
	}

	seen := make(map[int64]bool)
	var update CacheUpdate
	err := e.db.InTx(ctx, func(tx *store.Tx) error {
		var latest int64
		for _, in := range batch {
			dialogID, err := ingest(tx, in)
			if err != nil {
				return err
			}
			if !seen[dialogID] {
				seen[dialogID] = true
				update.DialogIDs = append(update.DialogIDs, dialogID)
			}
			update.Messages++
			latest = max(latest, in.Message.Timestamp)
		}
		if err := advance(tx, latest); err != nil {
			return err
		}
		n, err := tx.Checkpoint(CheckpointHistory)
		if err != nil {
			return err
		}
		count, _ := strconv.Atoi(n)
		return tx.SetCheckpoint(CheckpointHistory, strconv.Itoa(count+1))
	})
	if err != nil {
		return err
	}

	e.bus.Emit(bus.KindCacheUpdated, &update)
	return nil
}

// UpdateDialog caches dialog metadata without a message, e.g. a renamed
// group or a contact's new push name. Empty fields keep their cached value.
func (e *Engine) UpdateDialog(ctx context.Context, d *store.RemoteDialog) error {
	id, err := e.db.UpsertRemoteDialog(ctx, d)
	if err != nil {
		return fmt.Errorf("upsert dialog %s: %w", d.JID, err)
	}
	e.bus.Emit(bus.KindCacheUpdated, &CacheUpdate{DialogIDs: []int64{id}})
	return nil
}

// LastMessageAt returns the timestamp in unix ms of the newest cached
// message, or 0 before the first ingestion.
func (e *Engine) LastMessageAt(ctx context.Context) (int64, error) {
	v, err := e.db.Checkpoint(ctx, CheckpointLastMessage)
	if err != nil || v == "" {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

func ingest(tx *store.Tx, in *store.Inbound) (int64, error) {
	d := in.Dialog
	d.LastMessageAt = max(d.LastMessageAt, in.Message.Timestamp)
	dialogID, err := tx.UpsertRemoteDialog(&d)
	if err != nil {
		return 0, fmt.Errorf("upsert dialog %s: %w", d.JID, err)
	}
	m := in.Message
	m.DialogID = dialogID
	if _, err := tx.UpsertRemoteMessage(&m); err != nil {
		return 0, fmt.Errorf("upsert message %s: %w", m.MsgID, err)
	}
	return dialogID, nil
}

// advance moves the last-message checkpoint forward, never back.
func advance(tx *store.Tx, ts int64) error {
	v, err := tx.Checkpoint(CheckpointLastMessage)
	if err != nil {
		return err
	}
	if cur, _ := strconv.ParseInt(v, 10, 64); cur >= ts {
		return nil
	}
	return tx.SetCheckpoint(CheckpointLastMessage, strconv.FormatInt(ts, 10))
}
