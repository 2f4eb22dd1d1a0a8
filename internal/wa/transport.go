package wa

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/matheus3301/wpp-archive/internal/chat"
	"github.com/matheus3301/wpp-archive/internal/store"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.uber.org/zap"
)

// ErrNoMedia is returned when downloading a message without the requested media.
var ErrNoMedia = errors.New("message has no downloadable media")

// MediaClient downloads encrypted WhatsApp media. *Adapter implements it.
type MediaClient interface {
	Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error)
}

var _ chat.Transport = (*Transport)(nil)

// Transport serves the chat.Transport contract from the message cache the
// sync engine fills. Only downloads reach WhatsApp.
type Transport struct {
	db     *store.DB
	media  MediaClient
	logger *zap.Logger
}

// NewTransport creates a transport over db downloading through mc.
func NewTransport(db *store.DB, mc MediaClient, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{db: db, media: mc, logger: logger}
}

// ListDialogs lists every cached dialog.
func (t *Transport) ListDialogs(ctx context.Context) ([]chat.Dialog, error) {
	remote, err := t.db.RemoteDialogs(ctx)
	if err != nil {
		return nil, err
	}
	dialogs := make([]chat.Dialog, 0, len(remote))
	for _, d := range remote {
		dialogs = append(dialogs, toDialog(d))
	}
	return dialogs, nil
}

func toDialog(d store.RemoteDialog) chat.Dialog {
	title := d.Title
	if title == "" {
		title, _, _ = strings.Cut(d.JID, "@")
	}
	return chat.Dialog{
		ID:            d.ID,
		Title:         title,
		Type:          d.Type,
		UnreadCount:   d.UnreadCount,
		LastMessageAt: time.UnixMilli(d.LastMessageAt),
	}
}

// FetchMessages lists cached messages of a dialog.
func (t *Transport) FetchMessages(ctx context.Context, dialogID int64, q chat.Query) ([]chat.Message, error) {
	remote, err := t.db.RemoteMessages(ctx, dialogID, store.RemoteQuery(q))
	if err != nil {
		return nil, err
	}
	return t.toMessages(remote), nil
}

// GetMessages returns the cached messages of a dialog with the given ids.
// Revoked and unknown ids are left out.
func (t *Transport) GetMessages(ctx context.Context, dialogID int64, ids []int64) ([]chat.Message, error) {
	remote, err := t.db.RemoteMessagesByID(ctx, dialogID, ids)
	if err != nil {
		return nil, err
	}
	return t.toMessages(remote), nil
}

// MessageIDAt returns the id of the last message before at, or of the first
// message at or after it when after is set.
func (t *Transport) MessageIDAt(ctx context.Context, dialogID int64, at time.Time, after bool) (int64, error) {
	return t.db.RemoteMessageIDAt(ctx, dialogID, at.UnixMilli(), after)
}

func (t *Transport) toMessages(remote []store.RemoteMessage) []chat.Message {
	msgs := make([]chat.Message, 0, len(remote))
	for _, rm := range remote {
		m := chat.Message{
			ID:       rm.ID,
			DialogID: rm.DialogID,
			Date:     time.UnixMilli(rm.Timestamp),
			SenderID: rm.SenderJID,
			Text:     rm.Body,
			GroupKey: rm.AlbumKey,
		}
		if len(rm.Payload) > 0 {
			decoded, err := DecodePayload(rm.Payload)
			if err != nil {
				t.logger.Warn("dropping undecodable media", zap.String("msg_id", rm.MsgID), zap.Error(err))
			} else {
				m.Attachment = Attachment(decoded)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs
}

// Download writes the media of a cached message to dst. Thumbnails and web
// page previews come from the inline preview and never reach WhatsApp.
// Messages revoked upstream or whose media expired yield chat.ErrMessageNotFound.
func (t *Transport) Download(ctx context.Context, dialogID, messageID int64, thumbnail bool, dst string) error {
	remote, err := t.db.RemoteMessagesByID(ctx, dialogID, []int64{messageID})
	if err != nil {
		return err
	}
	if len(remote) == 0 {
		return fmt.Errorf("message %d: %w", messageID, chat.ErrMessageNotFound)
	}
	if len(remote[0].Payload) == 0 {
		return fmt.Errorf("message %d: %w", messageID, ErrNoMedia)
	}
	msg, err := DecodePayload(remote[0].Payload)
	if err != nil {
		return err
	}

	var data []byte
	if thumbnail || msg.GetExtendedTextMessage() != nil {
		data = Thumbnail(msg)
		if len(data) == 0 {
			return fmt.Errorf("message %d thumbnail: %w", messageID, ErrNoMedia)
		}
	} else {
		dm := downloadable(msg)
		if dm == nil {
			return fmt.Errorf("message %d: %w", messageID, ErrNoMedia)
		}
		data, err = t.media.Download(ctx, dm)
		if errors.Is(err, whatsmeow.ErrMediaDownloadFailedWith404) || errors.Is(err, whatsmeow.ErrMediaDownloadFailedWith410) {
			return fmt.Errorf("message %d media expired: %w", messageID, chat.ErrMessageNotFound)
		}
		if err != nil {
			return fmt.Errorf("download message %d: %w", messageID, err)
		}
	}

	if err := os.WriteFile(dst, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

func downloadable(msg *waE2E.Message) whatsmeow.DownloadableMessage {
	switch {
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage()
	case msg.GetAudioMessage() != nil:
		return msg.GetAudioMessage()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage()
	case msg.GetStickerMessage() != nil:
		return msg.GetStickerMessage()
	}
	return nil
}
