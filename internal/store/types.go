package store

import (
	"time"

	"github.com/matheus3301/wpp-archive/internal/chat"
	"github.com/matheus3301/wpp-archive/internal/media"
)

// Dialog is an archived conversation.
type Dialog struct {
	ID     int64           `json:"id"`
	Title  string          `json:"title"`
	Type   chat.DialogType `json:"type"`
	Groups int             `json:"groups"`
}

// MessageGroup is an archived message group.
type MessageGroup struct {
	ID            int64     `json:"id"`
	GroupedID     string    `json:"grouped_id"`
	DialogID      int64     `json:"dialog_id"`
	DialogTitle   string    `json:"dialog_title,omitempty"`
	Date          time.Time `json:"date"`
	SenderID      string    `json:"sender_id"`
	Text          string    `json:"text"`
	TruncatedText string    `json:"truncated_text"`
	FilesReport   string    `json:"files_report"`
	// Selected marks a group whose save has not finished.
	Selected bool     `json:"selected"`
	Files    []File   `json:"files,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// File is an archived file. Its bytes may be absent from disk.
type File struct {
	ID        int64          `json:"id"`
	Path      string         `json:"path"`
	GroupedID string         `json:"grouped_id"`
	DialogID  int64          `json:"dialog_id"`
	MessageID int64          `json:"message_id"`
	Size      int64          `json:"size"`
	Type      media.FileType `json:"type"`
}

// Tag is a label attached to message groups.
type Tag struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	UsageCount int       `json:"usage_count"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// MaintainResult reports what Maintain removed.
type MaintainResult struct {
	DialogsDeleted int64 `json:"dialogs_deleted"`
	TagsUpdated    int64 `json:"tags_updated"`
	TagsDeleted    int64 `json:"tags_deleted"`
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
