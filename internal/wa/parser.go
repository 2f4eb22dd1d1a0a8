package wa

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/matheus3301/wpp-archive/internal/chat"
	"github.com/matheus3301/wpp-archive/internal/media"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

// Parsed is the archive view of one WhatsApp message.
type Parsed struct {
	Text string
	// AlbumKey is the id of the album a media message belongs to.
	AlbumKey   string
	Attachment *media.Attachment
	// Payload is the proto encoding of the unwrapped message, kept for
	// messages with media so they can be downloaded later.
	Payload []byte
}

// Parse extracts text, album key and attachment from the message with the
// given id. It returns nil for messages with nothing to archive (reactions,
// protocol messages, receipts).
func Parse(id string, msg *waE2E.Message) (*Parsed, error) {
	msg = Unwrap(msg)
	if msg == nil {
		return nil, nil
	}
	p := &Parsed{
		Text:       extractText(msg),
		AlbumKey:   albumKey(msg),
		Attachment: Attachment(msg),
	}
	if msg.GetAlbumMessage() != nil {
		p.AlbumKey = id
		return p, nil
	}
	if p.Text == "" && p.Attachment == nil {
		return nil, nil
	}
	if p.Attachment != nil {
		payload, err := proto.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("encode message: %w", err)
		}
		p.Payload = payload
	}
	return p, nil
}

// DecodePayload decodes a payload produced by Parse.
func DecodePayload(payload []byte) (*waE2E.Message, error) {
	var msg waE2E.Message
	if err := proto.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &msg, nil
}

// Unwrap strips the ephemeral, view-once and device-sent envelopes.
func Unwrap(msg *waE2E.Message) *waE2E.Message {
	for msg != nil {
		switch {
		case msg.GetDeviceSentMessage().GetMessage() != nil:
			msg = msg.GetDeviceSentMessage().GetMessage()
		case msg.GetEphemeralMessage().GetMessage() != nil:
			msg = msg.GetEphemeralMessage().GetMessage()
		case msg.GetViewOnceMessage().GetMessage() != nil:
			msg = msg.GetViewOnceMessage().GetMessage()
		case msg.GetViewOnceMessageV2().GetMessage() != nil:
			msg = msg.GetViewOnceMessageV2().GetMessage()
		case msg.GetDocumentWithCaptionMessage().GetMessage() != nil:
			msg = msg.GetDocumentWithCaptionMessage().GetMessage()
		default:
			return msg
		}
	}
	return nil
}

func extractText(msg *waE2E.Message) string {
	switch {
	case msg.GetConversation() != "":
		return msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		return msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetCaption()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetCaption()
	}
	return ""
}

// albumKey returns the id of the album announcement a media item belongs to.
func albumKey(msg *waE2E.Message) string {
	assoc := msg.GetMessageContextInfo().GetMessageAssociation()
	if assoc.GetAssociationType() == waE2E.MessageAssociation_MEDIA_ALBUM {
		return assoc.GetParentMessageKey().GetID()
	}
	return ""
}

// Attachment maps the media of msg to an attachment descriptor, or nil.
func Attachment(msg *waE2E.Message) *media.Attachment {
	switch {
	case msg.GetImageMessage() != nil:
		img := msg.GetImageMessage()
		variants := []media.SizeVariant{{Kind: media.VariantSized, Size: int64(img.GetFileLength())}}
		if thumb := img.GetJPEGThumbnail(); len(thumb) > 0 {
			variants = append(variants, media.SizeVariant{Kind: media.VariantStripped, Bytes: thumb})
		}
		return &media.Attachment{Kind: media.AttachmentPhoto, MimeType: img.GetMimetype(), Variants: variants}
	case msg.GetVideoMessage() != nil:
		v := msg.GetVideoMessage()
		return document(v.GetMimetype(), "", v.GetFileLength(), v.GetJPEGThumbnail())
	case msg.GetAudioMessage() != nil:
		a := msg.GetAudioMessage()
		return document(a.GetMimetype(), "", a.GetFileLength(), nil)
	case msg.GetDocumentMessage() != nil:
		d := msg.GetDocumentMessage()
		return document(d.GetMimetype(), filepath.Ext(d.GetFileName()), d.GetFileLength(), d.GetJPEGThumbnail())
	case msg.GetStickerMessage() != nil:
		s := msg.GetStickerMessage()
		return document(s.GetMimetype(), "", s.GetFileLength(), s.GetPngThumbnail())
	case msg.GetExtendedTextMessage().GetMatchedText() != "":
		ext := msg.GetExtendedTextMessage()
		att := &media.Attachment{
			Kind:        media.AttachmentWebPage,
			URL:         ext.GetMatchedText(),
			Title:       ext.GetTitle(),
			Description: ext.GetDescription(),
		}
		if thumb := ext.GetJPEGThumbnail(); len(thumb) > 0 {
			att.Variants = []media.SizeVariant{{Kind: media.VariantCached, Bytes: thumb}}
		}
		return att
	}
	return nil
}

func document(mimeType, extHint string, size uint64, thumb []byte) *media.Attachment {
	att := &media.Attachment{
		Kind:     media.AttachmentDocument,
		MimeType: mimeType,
		ExtHint:  extHint,
		Size:     int64(size),
	}
	if len(thumb) > 0 {
		att.Thumbs = []media.SizeVariant{{Kind: media.VariantCached, Bytes: thumb}}
	}
	return att
}

// Thumbnail returns the inline preview image of msg, if any.
func Thumbnail(msg *waE2E.Message) []byte {
	switch {
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetJPEGThumbnail()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetJPEGThumbnail()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetJPEGThumbnail()
	case msg.GetStickerMessage() != nil:
		return msg.GetStickerMessage().GetPngThumbnail()
	case msg.GetExtendedTextMessage() != nil:
		return msg.GetExtendedTextMessage().GetJPEGThumbnail()
	}
	return nil
}

// RevokedID returns the id of the message msg deletes, if it is a revoke.
func RevokedID(msg *waE2E.Message) (string, bool) {
	pm := Unwrap(msg).GetProtocolMessage()
	if pm == nil || pm.GetType() != waE2E.ProtocolMessage_REVOKE {
		return "", false
	}
	id := pm.GetKey().GetID()
	return id, id != ""
}

// DialogType derives the dialog type from the server part of a chat JID.
func DialogType(jid types.JID) chat.DialogType {
	switch jid.Server {
	case types.GroupServer:
		return chat.Group
	case types.NewsletterServer, types.BroadcastServer:
		return chat.Channel
	case types.DefaultUserServer, types.HiddenUserServer:
		return chat.User
	}
	return chat.UnknownDialog
}

// NormalizeJID strips the device suffix of a JID string. Unparseable input
// is returned unchanged.
func NormalizeJID(s string) string {
	if s == "" || !strings.Contains(s, "@") {
		return s
	}
	jid, err := types.ParseJID(s)
	if err != nil {
		return s
	}
	return jid.ToNonAD().String()
}
