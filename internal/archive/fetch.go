// Package archive fetches message groups from the chat service and saves
// selected groups, with their files and an HTML export, into the archive.
package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/wpp-archive/internal/aggregate"
	"github.com/matheus3301/wpp-archive/internal/chat"
	"github.com/matheus3301/wpp-archive/internal/store"
)

// ErrDialogNotFound is returned for dialogs the chat service does not list.
var ErrDialogNotFound = errors.New("dialog not found")

// Query selects the messages a fetch aggregates.
type Query struct {
	// From is inclusive, To exclusive. Both zero means the last DefaultDays.
	From  time.Time       `json:"from,omitzero"`
	To    time.Time       `json:"to,omitzero"`
	Text  string          `json:"text,omitempty"`
	Order aggregate.Order `json:"order,omitempty"`
}

// Settings are the tunables shared by fetch and save.
type Settings struct {
	DefaultDays    int
	TruncateLength int
	TruncateSlack  int
}

// Fetcher turns chat service messages into message groups.
type Fetcher struct {
	transport chat.Transport
	agg       *aggregate.Aggregator
	db        *store.DB
	settings  Settings
	now       func() time.Time
}

// NewFetcher creates a fetcher.
func NewFetcher(t chat.Transport, agg *aggregate.Aggregator, db *store.DB, settings Settings) *Fetcher {
	return &Fetcher{transport: t, agg: agg, db: db, settings: settings, now: time.Now}
}

// Dialogs lists the chat service's dialogs through filter.
func (f *Fetcher) Dialogs(ctx context.Context, filter chat.DialogFilter) ([]chat.Dialog, error) {
	dialogs, err := f.transport.ListDialogs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list dialogs: %w", err)
	}
	return filter.Apply(dialogs), nil
}

// Dialog returns one dialog by id.
func (f *Fetcher) Dialog(ctx context.Context, id int64) (chat.Dialog, error) {
	dialogs, err := f.transport.ListDialogs(ctx)
	if err != nil {
		return chat.Dialog{}, fmt.Errorf("list dialogs: %w", err)
	}
	for _, d := range dialogs {
		if d.ID == id {
			return d, nil
		}
	}
	return chat.Dialog{}, fmt.Errorf("dialog %d: %w", id, ErrDialogNotFound)
}

// Groups fetches the messages of dialog selected by q and aggregates them.
// Groups already in the archive are marked Saved.
func (f *Fetcher) Groups(ctx context.Context, dialog chat.Dialog, q Query) ([]*aggregate.Group, error) {
	if q.From.IsZero() && q.To.IsZero() && f.settings.DefaultDays > 0 {
		q.From = f.now().AddDate(0, 0, -f.settings.DefaultDays)
	}

	var cq chat.Query
	var err error
	if !q.From.IsZero() {
		if cq.MinID, err = f.transport.MessageIDAt(ctx, dialog.ID, q.From, false); err != nil {
			return nil, fmt.Errorf("resolve from date: %w", err)
		}
	}
	if !q.To.IsZero() {
		if cq.MaxID, err = f.transport.MessageIDAt(ctx, dialog.ID, q.To, true); err != nil {
			return nil, fmt.Errorf("resolve to date: %w", err)
		}
	}

	msgs, err := f.transport.FetchMessages(ctx, dialog.ID, cq)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	groups := f.agg.Aggregate(dialog, msgs, aggregate.Options{
		Search:         q.Text,
		Order:          q.Order,
		TruncateLength: f.settings.TruncateLength,
		TruncateSlack:  f.settings.TruncateSlack,
	})
	for _, g := range groups {
		if g.Saved, err = f.db.GroupExists(ctx, g.Key); err != nil {
			return nil, err
		}
	}
	return groups, nil
}
