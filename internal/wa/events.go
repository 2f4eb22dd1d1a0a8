package wa

import (
	"context"

	"github.com/matheus3301/wpp-archive/internal/bus"
	"github.com/matheus3301/wpp-archive/internal/chat"
	"github.com/matheus3301/wpp-archive/internal/status"
	"github.com/matheus3301/wpp-archive/internal/store"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// Directory resolves identities from the device store.
type Directory interface {
	ResolveLID(ctx context.Context, jid types.JID) types.JID
	ContactName(ctx context.Context, jid types.JID) string
}

// EventHandler processes whatsmeow events, drives the state machine,
// and publishes parsed messages on the bus. It does NOT call the
// sync engine directly; the engine subscribes to the bus independently.
type EventHandler struct {
	bus     *bus.Bus
	machine *status.Machine
	dir     Directory
	logger  *zap.Logger
}

// NewEventHandler creates a new event handler. dir may be nil, in which
// case LIDs stay unresolved and dialogs are titled from push names only.
func NewEventHandler(b *bus.Bus, machine *status.Machine, dir Directory, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		bus:     b,
		machine: machine,
		dir:     dir,
		logger:  logger,
	}
}

// Handle is the main whatsmeow event handler function.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		h.handleMessage(evt)
	case *events.HistorySync:
		h.handleHistorySync(evt)
	case *events.Connected:
		h.logger.Info("WhatsApp connected")
		if cur := h.machine.Current(); cur != status.Connecting && cur != status.Reconnecting {
			h.transition(status.Connecting)
		}
		h.transition(status.Online)
	case *events.Disconnected:
		h.logger.Warn("WhatsApp disconnected")
		h.transition(status.Reconnecting)
	case *events.PairSuccess:
		h.logger.Info("device paired", zap.String("jid", evt.ID.String()))
		h.transition(status.Connecting)
	case *events.LoggedOut:
		h.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		h.transition(status.PairingRequired)
	case *events.PushName:
		jid := h.resolve(evt.JID)
		if evt.NewPushName != "" && h.contactName(jid) == "" {
			h.bus.Emit(bus.KindWADialog, &store.RemoteDialog{JID: jid.String(), Title: evt.NewPushName, Type: chat.User})
		}
	case *events.GroupInfo:
		if evt.Name != nil && evt.Name.Name != "" {
			h.bus.Emit(bus.KindWADialog, &store.RemoteDialog{JID: evt.JID.ToNonAD().String(), Title: evt.Name.Name, Type: chat.Group})
		}
	}
}

func (h *EventHandler) transition(to status.State) {
	if err := h.machine.Transition(to); err != nil {
		h.logger.Warn("ignored state transition", zap.Error(err))
	}
}

func (h *EventHandler) handleMessage(evt *events.Message) {
	chatJID := h.resolve(evt.Info.Chat)
	if id, ok := RevokedID(evt.Message); ok {
		h.bus.Emit(bus.KindWARevoke, &store.Revoke{DialogJID: chatJID.String(), MsgID: id})
		return
	}

	var title string
	if DialogType(chatJID) == chat.User {
		title = h.contactName(chatJID)
		if title == "" && !evt.Info.IsFromMe {
			title = evt.Info.PushName
		}
	}
	in := h.inbound(chatJID, title, string(evt.Info.ID), h.resolve(evt.Info.Sender).String(),
		evt.Info.Timestamp.UnixMilli(), evt.Message)
	if in != nil {
		h.bus.Emit(bus.KindWAMessage, in)
	}
}

func (h *EventHandler) handleHistorySync(evt *events.HistorySync) {
	data := evt.Data
	if data == nil {
		return
	}

	var batch []*store.Inbound
	for _, conv := range data.GetConversations() {
		chatJID, err := types.ParseJID(conv.GetID())
		if err != nil {
			h.logger.Warn("skipping conversation with invalid JID", zap.String("jid", conv.GetID()))
			continue
		}
		chatJID = h.resolve(chatJID)
		title := conv.GetName()
		if title == "" && DialogType(chatJID) == chat.User {
			title = h.contactName(chatJID)
		}

		for _, hm := range conv.GetMessages() {
			wmsg := hm.GetMessage()
			if wmsg == nil || wmsg.GetMessage() == nil {
				continue
			}
			key := wmsg.GetKey()
			sender := h.resolveJID(key.GetParticipant())
			if sender == "" && !key.GetFromMe() {
				sender = chatJID.String()
			}
			in := h.inbound(chatJID, title, key.GetID(), sender,
				int64(wmsg.GetMessageTimestamp())*1000, wmsg.GetMessage())
			if in == nil {
				continue
			}
			in.Dialog.UnreadCount = int(conv.GetUnreadCount())
			batch = append(batch, in)
		}
	}

	if len(batch) > 0 {
		h.bus.Emit(bus.KindWAHistoryBatch, batch)
	}
}

// inbound builds the cache record of a message, or nil when it has nothing
// to archive.
func (h *EventHandler) inbound(chatJID types.JID, title, msgID, sender string, ts int64, msg *waE2E.Message) *store.Inbound {
	parsed, err := Parse(msgID, msg)
	if err != nil {
		h.logger.Warn("failed to parse message", zap.String("msg_id", msgID), zap.Error(err))
		return nil
	}
	if parsed == nil {
		return nil
	}
	return &store.Inbound{
		Dialog: store.RemoteDialog{
			JID:   chatJID.String(),
			Title: title,
			Type:  DialogType(chatJID),
		},
		Message: store.RemoteMessage{
			MsgID:     msgID,
			SenderJID: sender,
			Timestamp: ts,
			Body:      parsed.Text,
			AlbumKey:  parsed.AlbumKey,
			Payload:   parsed.Payload,
		},
	}
}

// resolve strips the device suffix and maps LIDs to phone number JIDs.
func (h *EventHandler) resolve(jid types.JID) types.JID {
	jid = jid.ToNonAD()
	if h.dir != nil {
		jid = h.dir.ResolveLID(context.Background(), jid).ToNonAD()
	}
	return jid
}

// resolveJID is resolve for JID strings; unparseable input is only normalized.
func (h *EventHandler) resolveJID(s string) string {
	if s == "" {
		return ""
	}
	jid, err := types.ParseJID(s)
	if err != nil {
		return NormalizeJID(s)
	}
	return h.resolve(jid).String()
}

func (h *EventHandler) contactName(jid types.JID) string {
	if h.dir == nil {
		return ""
	}
	return h.dir.ContactName(context.Background(), jid)
}
