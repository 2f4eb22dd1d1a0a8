// Package chat defines the contract between the archive engine and a chat
// service client.
package chat

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/wpp-archive/internal/media"
)

// ErrMessageNotFound is returned when a message no longer exists upstream.
var ErrMessageNotFound = errors.New("message not found")

// DialogType classifies a conversation. Values are persisted.
type DialogType int

const (
	Channel       DialogType = 1
	Group         DialogType = 2
	User          DialogType = 3
	UnknownDialog DialogType = 4
)

// DialogTypes lists every dialog type in id order.
var DialogTypes = []DialogType{Channel, Group, User, UnknownDialog}

func (t DialogType) String() string {
	switch t {
	case Channel:
		return "CHANNEL"
	case Group:
		return "GROUP"
	case User:
		return "USER"
	default:
		return "UNKNOWN"
	}
}

// DialogTypeByID resolves a persisted id, mapping unknown ids to UnknownDialog.
func DialogTypeByID(id int) DialogType {
	switch t := DialogType(id); t {
	case Channel, Group, User:
		return t
	}
	return UnknownDialog
}

// Dialog is a conversation as reported by the chat service.
type Dialog struct {
	ID            int64      `json:"id"`
	Title         string     `json:"title"`
	Type          DialogType `json:"type"`
	UnreadCount   int        `json:"unread_count"`
	LastMessageAt time.Time  `json:"last_message_at"`
}

// Message is one raw message as delivered by the chat service.
type Message struct {
	ID       int64
	DialogID int64
	Date     time.Time
	SenderID string
	Text     string
	// GroupKey is the service's album identifier, empty for standalone messages.
	GroupKey   string
	Attachment *media.Attachment
}

// Query bounds a message fetch. Zero values mean unbounded.
type Query struct {
	MinID   int64
	MaxID   int64
	Reverse bool
	Search  string
	Limit   int
}

// Transport is the chat service client used by the archive engine.
// Every call blocks until the operation completes.
type Transport interface {
	ListDialogs(ctx context.Context) ([]Dialog, error)
	FetchMessages(ctx context.Context, dialogID int64, q Query) ([]Message, error)
	GetMessages(ctx context.Context, dialogID int64, ids []int64) ([]Message, error)
	// MessageIDAt returns the id of the last message before t, or the first
	// message at or after t when after is set. It returns 0 if none exists.
	MessageIDAt(ctx context.Context, dialogID int64, t time.Time, after bool) (int64, error)
	// Download writes the attachment of a message to dst. When thumbnail is
	// set the attachment's thumbnail variant is written instead.
	Download(ctx context.Context, dialogID, messageID int64, thumbnail bool, dst string) error
}
