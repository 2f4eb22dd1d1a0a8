package wa

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/wpp-archive/internal/chat"
	"github.com/matheus3301/wpp-archive/internal/media"
	"github.com/matheus3301/wpp-archive/internal/store"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"
)

// fakeMedia serves downloads from memory.
type fakeMedia struct {
	data  []byte
	err   error
	calls int
}

func (f *fakeMedia) Download(_ context.Context, _ whatsmeow.DownloadableMessage) ([]byte, error) {
	f.calls++
	return f.data, f.err
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// cacheMessage stores msg the way the sync engine does and returns the
// dialog and message ids.
func cacheMessage(t *testing.T, db *store.DB, jid, msgID string, ts int64, msg *waE2E.Message) (int64, int64) {
	t.Helper()
	ctx := context.Background()
	parsed, err := Parse(msgID, msg)
	if err != nil || parsed == nil {
		t.Fatalf("Parse(%s) = %v, %v", msgID, parsed, err)
	}
	dialogID, err := db.UpsertRemoteDialog(ctx, &store.RemoteDialog{JID: jid, Type: chat.Group, LastMessageAt: ts})
	if err != nil {
		t.Fatal(err)
	}
	id, err := db.UpsertRemoteMessage(ctx, &store.RemoteMessage{
		DialogID:  dialogID,
		MsgID:     msgID,
		Timestamp: ts,
		Body:      parsed.Text,
		AlbumKey:  parsed.AlbumKey,
		Payload:   parsed.Payload,
	})
	if err != nil {
		t.Fatal(err)
	}
	return dialogID, id
}

func TestTransportListsAndFetches(t *testing.T) {
	db := testDB(t)
	tr := NewTransport(db, &fakeMedia{}, nil)
	ctx := context.Background()

	dialog, first := cacheMessage(t, db, "120363123456@g.us", "m1", 1000, &waE2E.Message{Conversation: proto.String("hello")})
	_, second := cacheMessage(t, db, "120363123456@g.us", "m2", 2000, albumItem("alb", &waE2E.ImageMessage{
		Caption: proto.String("beach"), Mimetype: proto.String("image/jpeg"), FileLength: proto.Uint64(100),
	}))

	dialogs, err := tr.ListDialogs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(dialogs) != 1 {
		t.Fatalf("got %d dialogs, want 1", len(dialogs))
	}
	if d := dialogs[0]; d.ID != dialog || d.Title != "120363123456" || d.Type != chat.Group || !d.LastMessageAt.Equal(time.UnixMilli(2000)) {
		t.Errorf("dialog = %+v", d)
	}

	msgs, err := tr.FetchMessages(ctx, dialog, chat.Query{Reverse: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].ID != second || msgs[1].ID != first {
		t.Fatalf("messages = %+v", msgs)
	}
	img := msgs[0]
	if img.GroupKey != "alb" || img.Text != "beach" || !img.Date.Equal(time.UnixMilli(2000)) {
		t.Errorf("image message = %+v", img)
	}
	if img.Attachment == nil || img.Attachment.Kind != media.AttachmentPhoto {
		t.Errorf("attachment = %+v, want photo", img.Attachment)
	}
	if msgs[1].Attachment != nil {
		t.Error("text message has an attachment")
	}

	got, err := tr.GetMessages(ctx, dialog, []int64{first, 999})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Text != "hello" {
		t.Errorf("GetMessages() = %+v", got)
	}

	id, err := tr.MessageIDAt(ctx, dialog, time.UnixMilli(1500), true)
	if err != nil || id != second {
		t.Errorf("MessageIDAt(after) = %d, %v; want %d", id, err, second)
	}
}

func TestTransportDownload(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	dir := t.TempDir()

	dialog, video := cacheMessage(t, db, "g@g.us", "v1", 1000, &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
		Mimetype: proto.String("video/mp4"), FileLength: proto.Uint64(5), JPEGThumbnail: []byte("thumb"),
	}})
	_, link := cacheMessage(t, db, "g@g.us", "l1", 2000, &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
		Text: proto.String("https://example.com"), MatchedText: proto.String("https://example.com"), JPEGThumbnail: []byte("preview"),
	}})

	mc := &fakeMedia{data: []byte("video")}
	tr := NewTransport(db, mc, nil)

	tests := []struct {
		name      string
		id        int64
		thumbnail bool
		want      string
		calls     int
	}{
		{"media", video, false, "video", 1},
		{"thumbnail", video, true, "thumb", 1},
		{"web page preview", link, false, "preview", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := filepath.Join(dir, tt.name)
			if err := tr.Download(ctx, dialog, tt.id, tt.thumbnail, dst); err != nil {
				t.Fatalf("Download() error = %v", err)
			}
			data, err := os.ReadFile(dst)
			if err != nil {
				t.Fatal(err)
			}
			if string(data) != tt.want {
				t.Errorf("content = %q, want %q", data, tt.want)
			}
			if mc.calls != tt.calls {
				t.Errorf("media downloads = %d, want %d", mc.calls, tt.calls)
			}
		})
	}
}

func TestTransportDownloadErrors(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	dst := filepath.Join(t.TempDir(), "out")

	dialog, video := cacheMessage(t, db, "g@g.us", "v1", 1000, &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
		Mimetype: proto.String("video/mp4"), FileLength: proto.Uint64(5),
	}})
	_, text := cacheMessage(t, db, "g@g.us", "t1", 2000, &waE2E.Message{Conversation: proto.String("hi")})
	_, revoked := cacheMessage(t, db, "g@g.us", "r1", 3000, &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}})
	if err := db.MarkRemoteDeleted(ctx, "g@g.us", "r1"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		mediaErr  error
		id        int64
		thumbnail bool
		want      error
	}{
		{"expired media", fmt.Errorf("wrapped: %w", whatsmeow.ErrMediaDownloadFailedWith410), video, false, chat.ErrMessageNotFound},
		{"missing media", whatsmeow.ErrMediaDownloadFailedWith404, video, false, chat.ErrMessageNotFound},
		{"revoked", nil, revoked, false, chat.ErrMessageNotFound},
		{"unknown id", nil, 999, false, chat.ErrMessageNotFound},
		{"text only", nil, text, false, ErrNoMedia},
		{"no thumbnail", nil, video, true, ErrNoMedia},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTransport(db, &fakeMedia{err: tt.mediaErr}, nil)
			err := tr.Download(ctx, dialog, tt.id, tt.thumbnail, dst)
			if !errors.Is(err, tt.want) {
				t.Errorf("Download() error = %v, want %v", err, tt.want)
			}
		})
	}

	transient := errors.New("connection reset")
	tr := NewTransport(db, &fakeMedia{err: transient}, nil)
	err := tr.Download(ctx, dialog, video, false, dst)
	if !errors.Is(err, transient) || errors.Is(err, chat.ErrMessageNotFound) {
		t.Errorf("transient error = %v, want wrapped connection reset", err)
	}
}
