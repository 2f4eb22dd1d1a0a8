package wa

import (
	"testing"

	"github.com/matheus3301/wpp-archive/internal/chat"
	"github.com/matheus3301/wpp-archive/internal/media"
	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

func albumItem(parent string, img *waE2E.ImageMessage) *waE2E.Message {
	return &waE2E.Message{
		ImageMessage: img,
		MessageContextInfo: &waE2E.MessageContextInfo{
			MessageAssociation: &waE2E.MessageAssociation{
				AssociationType:  waE2E.MessageAssociation_MEDIA_ALBUM.Enum(),
				ParentMessageKey: &waCommon.MessageKey{ID: proto.String(parent)},
			},
		},
	}
}

func TestParseText(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"conversation", &waE2E.Message{Conversation: proto.String("hello")}, "hello"},
		{"extended", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("see [this](http://x)")}}, "see [this](http://x)"},
		{"image caption", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("beach")}}, "beach"},
		{"video caption", &waE2E.Message{VideoMessage: &waE2E.VideoMessage{Caption: proto.String("clip")}}, "clip"},
		{"ephemeral", &waE2E.Message{EphemeralMessage: &waE2E.FutureProofMessage{
			Message: &waE2E.Message{Conversation: proto.String("gone soon")},
		}}, "gone soon"},
		{"view once", &waE2E.Message{ViewOnceMessage: &waE2E.FutureProofMessage{
			Message: &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("once")}},
		}}, "once"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse("m1", tt.msg)
			if err != nil {
				t.Fatal(err)
			}
			if p == nil {
				t.Fatal("Parse() = nil")
			}
			if p.Text != tt.want {
				t.Errorf("Text = %q, want %q", p.Text, tt.want)
			}
		})
	}
}

func TestParseSkipsNonArchivable(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
	}{
		{"nil", nil},
		{"empty", &waE2E.Message{}},
		{"reaction", &waE2E.Message{ReactionMessage: &waE2E.ReactionMessage{Text: proto.String("👍")}}},
		{"revoke", &waE2E.Message{ProtocolMessage: &waE2E.ProtocolMessage{
			Type: waE2E.ProtocolMessage_REVOKE.Enum(),
			Key:  &waCommon.MessageKey{ID: proto.String("m0")},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse("m1", tt.msg)
			if err != nil || p != nil {
				t.Errorf("Parse() = %+v, %v; want nil, nil", p, err)
			}
		})
	}
}

func TestParseAttachmentClassification(t *testing.T) {
	thumb := []byte("jpeg")
	tests := []struct {
		name    string
		msg     *waE2E.Message
		want    media.FileType
		wantExt string
		size    int64
	}{
		{"image", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Mimetype: proto.String("image/jpeg"), FileLength: proto.Uint64(1200), JPEGThumbnail: thumb,
		}}, media.Photo, ".jpg", 1200},
		{"video", &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Mimetype: proto.String("video/mp4"), FileLength: proto.Uint64(5000),
		}}, media.Video, ".mp4", 5000},
		{"voice note", &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype: proto.String("audio/ogg; codecs=opus"), FileLength: proto.Uint64(300),
		}}, media.Audio, media.Audio.Ext(), 300},
		{"sticker", &waE2E.Message{StickerMessage: &waE2E.StickerMessage{
			Mimetype: proto.String("image/webp"), FileLength: proto.Uint64(40),
		}}, media.Image, media.Image.Ext(), 40},
		{"document", &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Mimetype: proto.String("application/octet-stream"), FileName: proto.String("Report.PDF"), FileLength: proto.Uint64(77),
		}}, media.Unknown, ".pdf", 77},
		{"link preview", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String("look https://example.com"), MatchedText: proto.String("https://example.com"),
			Title: proto.String("Example"), JPEGThumbnail: thumb,
		}}, media.WebPage, media.WebPage.Ext(), int64(len(thumb))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse("m1", tt.msg)
			if err != nil {
				t.Fatal(err)
			}
			if p == nil || p.Attachment == nil {
				t.Fatal("no attachment parsed")
			}
			if len(p.Payload) == 0 {
				t.Error("media message without payload")
			}
			c := media.Classify(p.Attachment, false)
			if c.Type != tt.want || c.Ext != tt.wantExt || c.Size != tt.size {
				t.Errorf("Classify() = %v %q %d, want %v %q %d", c.Type, c.Ext, c.Size, tt.want, tt.wantExt, tt.size)
			}
		})
	}
}

func TestParseVideoThumbnail(t *testing.T) {
	msg := &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
		Mimetype: proto.String("video/mp4"), FileLength: proto.Uint64(5000), JPEGThumbnail: []byte("thumb"),
	}}
	p, err := Parse("m1", msg)
	if err != nil {
		t.Fatal(err)
	}
	c := media.Classify(p.Attachment, true)
	if c.Type != media.Thumbnail || c.Size != 5 {
		t.Errorf("Classify(thumbnail) = %v %d, want Thumbnail 5", c.Type, c.Size)
	}
}

func TestParseAlbumKey(t *testing.T) {
	announce, err := Parse("alb", &waE2E.Message{AlbumMessage: &waE2E.AlbumMessage{ExpectedImageCount: proto.Uint32(2)}})
	if err != nil {
		t.Fatal(err)
	}
	if announce == nil || announce.AlbumKey != "alb" {
		t.Fatalf("album announcement = %+v, want AlbumKey alb", announce)
	}

	item, err := Parse("m2", albumItem("alb", &waE2E.ImageMessage{Mimetype: proto.String("image/jpeg")}))
	if err != nil {
		t.Fatal(err)
	}
	if item.AlbumKey != "alb" {
		t.Errorf("item AlbumKey = %q, want alb", item.AlbumKey)
	}

	single, err := Parse("m3", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}})
	if err != nil {
		t.Fatal(err)
	}
	if single.AlbumKey != "" {
		t.Errorf("standalone AlbumKey = %q, want empty", single.AlbumKey)
	}
}

func TestDecodePayloadRoundTrip(t *testing.T) {
	msg := &waE2E.Message{EphemeralMessage: &waE2E.FutureProofMessage{Message: &waE2E.Message{
		ImageMessage: &waE2E.ImageMessage{Caption: proto.String("beach"), JPEGThumbnail: []byte("jpeg")},
	}}}
	p, err := Parse("m1", msg)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodePayload(p.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.GetEphemeralMessage() != nil {
		t.Error("payload kept the ephemeral envelope")
	}
	if string(Thumbnail(decoded)) != "jpeg" {
		t.Errorf("Thumbnail() = %q, want jpeg", Thumbnail(decoded))
	}

	if _, err := DecodePayload([]byte{0xff, 0xff}); err == nil {
		t.Error("DecodePayload(garbage) should fail")
	}
}

func TestRevokedID(t *testing.T) {
	revoke := &waE2E.Message{ProtocolMessage: &waE2E.ProtocolMessage{
		Type: waE2E.ProtocolMessage_REVOKE.Enum(),
		Key:  &waCommon.MessageKey{ID: proto.String("m0")},
	}}
	if id, ok := RevokedID(revoke); !ok || id != "m0" {
		t.Errorf("RevokedID(revoke) = %q, %t", id, ok)
	}
	if _, ok := RevokedID(&waE2E.Message{Conversation: proto.String("hi")}); ok {
		t.Error("RevokedID(text) reported a revoke")
	}
}

func TestDialogType(t *testing.T) {
	tests := []struct {
		jid  types.JID
		want chat.DialogType
	}{
		{types.JID{User: "120363123456", Server: types.GroupServer}, chat.Group},
		{types.JID{User: "558592403672", Server: types.DefaultUserServer}, chat.User},
		{types.JID{User: "3917077286968", Server: types.HiddenUserServer}, chat.User},
		{types.JID{User: "1203", Server: types.NewsletterServer}, chat.Channel},
		{types.JID{User: "x", Server: "example"}, chat.UnknownDialog},
	}
	for _, tt := range tests {
		if got := DialogType(tt.jid); got != tt.want {
			t.Errorf("DialogType(%s) = %v, want %v", tt.jid, got, tt.want)
		}
	}
}

// TestNormalizeJID verifies that device/agent suffixes are stripped.
// History sync and live messages carry different JIDs for the same contact
// (e.g. "558592403672:0@s.whatsapp.net" vs "558592403672@s.whatsapp.net").
func TestNormalizeJID(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"558592403672@s.whatsapp.net", "558592403672@s.whatsapp.net"},
		{"558592403672:0@s.whatsapp.net", "558592403672@s.whatsapp.net"},
		{"558592403672:5@s.whatsapp.net", "558592403672@s.whatsapp.net"},
		{"120363123456@g.us", "120363123456@g.us"},
		{"", ""},
		{"invalid", "invalid"},
		{"3917077286968@lid", "3917077286968@lid"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := NormalizeJID(tt.input)
			if got != tt.want {
				t.Errorf("NormalizeJID(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
