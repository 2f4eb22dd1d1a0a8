// Package chattest provides an in-memory chat.Transport for tests.
package chattest

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/wpp-archive/internal/chat"
)

var _ chat.Transport = (*Fake)(nil)

// Fake is an in-memory chat.Transport. Messages are ordered by (Date, ID).
type Fake struct {
	mu        sync.Mutex
	dialogs   []chat.Dialog
	messages  map[int64][]chat.Message
	deleted   map[int64]bool
	downloads []Download
	// DownloadErr, when set, fails every download.
	DownloadErr error
}

// Download records one Download call.
type Download struct {
	DialogID  int64
	MessageID int64
	Thumbnail bool
	Dst       string
}

// New creates an empty fake.
func New() *Fake {
	return &Fake{messages: make(map[int64][]chat.Message), deleted: make(map[int64]bool)}
}

// AddDialog registers a dialog.
func (f *Fake) AddDialog(d chat.Dialog) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialogs = append(f.dialogs, d)
}

// AddMessages registers messages of a dialog.
func (f *Fake) AddMessages(dialogID int64, msgs ...chat.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		m.DialogID = dialogID
		f.messages[dialogID] = append(f.messages[dialogID], m)
	}
	slices.SortFunc(f.messages[dialogID], compare)
}

// Delete makes a message disappear upstream.
func (f *Fake) Delete(messageID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted[messageID] = true
}

// Downloads returns the Download calls made so far.
func (f *Fake) Downloads() []Download {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.downloads)
}

func compare(a, b chat.Message) int {
	if c := a.Date.Compare(b.Date); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func (f *Fake) ListDialogs(ctx context.Context) ([]chat.Dialog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.dialogs), nil
}

func (f *Fake) find(dialogID, id int64) (chat.Message, bool) {
	for _, m := range f.messages[dialogID] {
		if m.ID == id {
			return m, true
		}
	}
	return chat.Message{}, false
}

func (f *Fake) FetchMessages(ctx context.Context, dialogID int64, q chat.Query) ([]chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	lo, hasLo := f.find(dialogID, q.MinID)
	hi, hasHi := f.find(dialogID, q.MaxID)
	var out []chat.Message
	for _, m := range f.messages[dialogID] {
		if f.deleted[m.ID] {
			continue
		}
		if q.MinID > 0 && hasLo && compare(m, lo) <= 0 {
			continue
		}
		if q.MaxID > 0 && hasHi && compare(m, hi) >= 0 {
			continue
		}
		if q.Search != "" && !strings.Contains(strings.ToLower(m.Text), strings.ToLower(q.Search)) {
			continue
		}
		out = append(out, m)
	}
	if q.Reverse {
		slices.Reverse(out)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (f *Fake) GetMessages(ctx context.Context, dialogID int64, ids []int64) ([]chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []chat.Message
	for _, id := range ids {
		if m, ok := f.find(dialogID, id); ok && !f.deleted[id] {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *Fake) MessageIDAt(ctx context.Context, dialogID int64, t time.Time, after bool) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[dialogID]
	if after {
		for _, m := range msgs {
			if !m.Date.Before(t) {
				return m.ID, nil
			}
		}
		return 0, nil
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Date.Before(t) {
			return msgs[i].ID, nil
		}
	}
	return 0, nil
}

// Download writes deterministic bytes naming the message and variant.
func (f *Fake) Download(ctx context.Context, dialogID, messageID int64, thumbnail bool, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads = append(f.downloads, Download{DialogID: dialogID, MessageID: messageID, Thumbnail: thumbnail, Dst: dst})
	if f.DownloadErr != nil {
		return f.DownloadErr
	}
	if _, ok := f.find(dialogID, messageID); !ok || f.deleted[messageID] {
		return fmt.Errorf("message %d: %w", messageID, chat.ErrMessageNotFound)
	}
	return os.WriteFile(dst, Content(messageID, thumbnail), 0600)
}

// Content returns the bytes Download writes for a message.
func Content(messageID int64, thumbnail bool) []byte {
	return fmt.Appendf(nil, "message=%d thumbnail=%t", messageID, thumbnail)
}
