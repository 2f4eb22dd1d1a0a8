package store

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/matheus3301/wpp-archive/internal/chat"
)

func cacheDialog(t *testing.T, db *DB, jid string, msgs ...RemoteMessage) (int64, []int64) {
	t.Helper()
	ctx := context.Background()
	d := &RemoteDialog{JID: jid, Title: "Family", Type: chat.Group}
	id, err := db.UpsertRemoteDialog(ctx, d)
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]int64, len(msgs))
	for i := range msgs {
		msgs[i].DialogID = id
		if ids[i], err = db.UpsertRemoteMessage(ctx, &msgs[i]); err != nil {
			t.Fatal(err)
		}
	}
	return id, ids
}

func TestUpsertRemoteDialogKeepsKnownFields(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	id, _ := cacheDialog(t, db, "123@g.us")
	again, err := db.UpsertRemoteDialog(ctx, &RemoteDialog{JID: "123@g.us", LastMessageAt: 5000})
	if err != nil {
		t.Fatal(err)
	}
	if again != id {
		t.Errorf("id changed: %d -> %d", id, again)
	}

	d, err := db.RemoteDialog(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if d.Title != "Family" || d.Type != chat.Group || d.LastMessageAt != 5000 {
		t.Errorf("dialog = %+v", d)
	}

	if _, err := db.RemoteDialog(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("RemoteDialog(999) err = %v", err)
	}
}

func TestRemoteMessagesBounds(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	dialog, ids := cacheDialog(t, db, "123@g.us",
		RemoteMessage{MsgID: "a", Timestamp: 1000, Body: "first"},
		RemoteMessage{MsgID: "b", Timestamp: 2000, Body: "Second"},
		RemoteMessage{MsgID: "c", Timestamp: 2000, Body: "third"},
		RemoteMessage{MsgID: "d", Timestamp: 3000, Body: "fourth"},
	)

	tests := []struct {
		name string
		q    RemoteQuery
		want []string
	}{
		{"all", RemoteQuery{}, []string{"a", "b", "c", "d"}},
		{"exclusive bounds", RemoteQuery{MinID: ids[0], MaxID: ids[3]}, []string{"b", "c"}},
		{"same timestamp orders by id", RemoteQuery{MinID: ids[1]}, []string{"c", "d"}},
		{"reverse with limit", RemoteQuery{Reverse: true, Limit: 2}, []string{"d", "c"}},
		{"search", RemoteQuery{Search: "second"}, []string{"b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := db.RemoteMessages(ctx, dialog, tt.q)
			if err != nil {
				t.Fatal(err)
			}
			var got []string
			for _, m := range msgs {
				got = append(got, m.MsgID)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRemoteMessageIDAt(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	dialog, ids := cacheDialog(t, db, "123@g.us",
		RemoteMessage{MsgID: "a", Timestamp: 1000},
		RemoteMessage{MsgID: "b", Timestamp: 2000},
		RemoteMessage{MsgID: "c", Timestamp: 3000},
	)

	tests := []struct {
		ts    int64
		after bool
		want  int64
	}{
		{2000, false, ids[0]},
		{2000, true, ids[1]},
		{500, false, 0},
		{3500, true, 0},
	}
	for _, tt := range tests {
		got, err := db.RemoteMessageIDAt(ctx, dialog, tt.ts, tt.after)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("RemoteMessageIDAt(%d, %t) = %d, want %d", tt.ts, tt.after, got, tt.want)
		}
	}
}

func TestRemoteMessageUpsertAndRevoke(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	dialog, ids := cacheDialog(t, db, "123@g.us",
		RemoteMessage{MsgID: "a", Timestamp: 1000, Body: "v1", AlbumKey: "alb", Payload: []byte{1}},
	)
	// A re-delivery without album or payload keeps both.
	again := RemoteMessage{DialogID: dialog, MsgID: "a", Timestamp: 1000, Body: "v2"}
	id, err := db.UpsertRemoteMessage(ctx, &again)
	if err != nil {
		t.Fatal(err)
	}
	if id != ids[0] {
		t.Errorf("id changed: %d -> %d", ids[0], id)
	}

	msgs, err := db.RemoteMessagesByID(ctx, dialog, ids)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Body != "v2" || msgs[0].AlbumKey != "alb" || len(msgs[0].Payload) != 1 {
		t.Fatalf("messages = %+v", msgs)
	}

	if err := db.MarkRemoteDeleted(ctx, "123@g.us", "a"); err != nil {
		t.Fatal(err)
	}
	msgs, err = db.RemoteMessagesByID(ctx, dialog, ids)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("revoked message still listed: %+v", msgs)
	}
}

func TestCheckpoints(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	v, err := db.Checkpoint(ctx, "history")
	if err != nil || v != "" {
		t.Fatalf("unset checkpoint = %q, %v", v, err)
	}
	err = db.InTx(ctx, func(tx *Tx) error { return tx.SetCheckpoint("history", "1") })
	if err != nil {
		t.Fatal(err)
	}
	if err := db.SetCheckpoint(ctx, "history", "2"); err != nil {
		t.Fatal(err)
	}
	if v, _ := db.Checkpoint(ctx, "history"); v != "2" {
		t.Errorf("checkpoint = %q, want 2", v)
	}
}
