// Package aggregate folds raw chat messages into message groups.
package aggregate

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/matheus3301/wpp-archive/internal/chat"
	"github.com/matheus3301/wpp-archive/internal/media"
)

// Order is the chronological order of aggregated groups.
type Order string

const (
	Ascending  Order = "asc"
	Descending Order = "desc"
)

// File describes one attachment of a group before it is persisted.
type File struct {
	Path      string         `json:"path"`
	MessageID int64          `json:"message_id"`
	Size      int64          `json:"size"`
	Type      media.FileType `json:"type"`
	// Thumbnail marks the preview variant of a video attachment.
	Thumbnail bool `json:"thumbnail,omitempty"`
}

// Group is one logical message: an album or a standalone message.
type Group struct {
	Key         string    `json:"grouped_id"`
	DialogID    int64     `json:"dialog_id"`
	IDs         []int64   `json:"ids"`
	Date        time.Time `json:"date"`
	SenderID    string    `json:"sender_id"`
	Text        string    `json:"text"`
	HTML        string    `json:"html"`
	Truncated   string    `json:"truncated_text"`
	Files       []File    `json:"files"`
	FilesReport string    `json:"files_report"`
	// Saved reports whether the group already exists in the archive.
	Saved bool `json:"saved"`
}

// Options controls the post-pass of an aggregation.
type Options struct {
	// Search keeps only groups whose text contains it, case-insensitively.
	Search         string
	Order          Order
	TruncateLength int
	TruncateSlack  int
}

// Aggregator groups messages and derives their file descriptors.
type Aggregator struct {
	deriver *media.Deriver
}

// New creates an Aggregator deriving file paths with d.
func New(d *media.Deriver) *Aggregator {
	if d == nil {
		d = media.NewDeriver(nil)
	}
	return &Aggregator{deriver: d}
}

// Deriver returns the path deriver used for file descriptors.
func (a *Aggregator) Deriver() *media.Deriver { return a.deriver }

// GroupKey returns the key that merges m with the rest of its album.
func GroupKey(dialogID int64, m chat.Message) string {
	if m.GroupKey != "" {
		return fmt.Sprintf("%d_%s", dialogID, m.GroupKey)
	}
	return fmt.Sprintf("%d_%d", dialogID, m.ID)
}

// Aggregate folds msgs of dialog into groups in a single pass.
func (a *Aggregator) Aggregate(dialog chat.Dialog, msgs []chat.Message, opts Options) []*Group {
	if opts.TruncateLength <= 0 {
		opts.TruncateLength = DefaultTruncateLength
	}
	if opts.TruncateSlack < 0 {
		opts.TruncateSlack = 0
	}

	byKey := make(map[string]*Group)
	var order []*Group
	texts := make(map[*Group][]string)

	for _, m := range msgs {
		key := GroupKey(dialog.ID, m)
		g, ok := byKey[key]
		if !ok {
			g = &Group{Key: key, DialogID: dialog.ID, Date: m.Date}
			byKey[key] = g
			order = append(order, g)
		}
		if m.Date.Before(g.Date) {
			g.Date = m.Date
		}
		g.IDs = append(g.IDs, m.ID)
		if g.SenderID == "" {
			g.SenderID = m.SenderID
		}
		if text := strings.TrimSpace(m.Text); text != "" {
			texts[g] = append(texts[g], text)
		}
		if m.Attachment == nil {
			continue
		}
		if m.Attachment.Kind == media.AttachmentWebPage {
			texts[g] = append(texts[g], webPageText(m.Attachment, opts.TruncateLength)...)
		}
		g.Files = append(g.Files, a.files(dialog, key, m)...)
	}

	out := make([]*Group, 0, len(order))
	search := strings.ToLower(opts.Search)
	for _, g := range order {
		g.Text = strings.TrimSpace(strings.Join(texts[g], "\n\n"))
		if search != "" && !strings.Contains(strings.ToLower(g.Text), search) {
			continue
		}
		g.FilesReport = FilesReport(g.Files)
		g.HTML = ConvertLinks(g.Text)
		g.Truncated = Truncate(g.HTML, opts.TruncateLength, opts.TruncateSlack)
		out = append(out, g)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			if opts.Order == Descending {
				return out[i].Date.After(out[j].Date)
			}
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func (a *Aggregator) files(dialog chat.Dialog, key string, m chat.Message) []File {
	in := media.PathInput{
		DialogTitle: dialog.Title,
		DialogID:    dialog.ID,
		GroupKey:    key,
		Date:        m.Date,
		Ordinal:     m.ID,
	}

	c := media.Classify(m.Attachment, false)
	in.Type, in.Ext = c.Type, c.Ext
	files := []File{{Path: a.deriver.Derive(in), MessageID: m.ID, Size: c.Size, Type: c.Type}}

	if c.Type == media.Video {
		if tc := media.Classify(m.Attachment, true); tc.Type == media.Thumbnail {
			in.Type, in.Ext = tc.Type, tc.Ext
			files = append(files, File{Path: a.deriver.Derive(in), MessageID: m.ID, Size: tc.Size, Type: tc.Type, Thumbnail: true})
		}
	}
	return files
}

// ContentFile returns the descriptor of a group's HTML export.
func (a *Aggregator) ContentFile(dialog chat.Dialog, g *Group) File {
	var ordinal int64
	if len(g.IDs) > 0 {
		ordinal = slices.Min(g.IDs)
	}
	path := a.deriver.Derive(media.PathInput{
		DialogTitle: dialog.Title,
		DialogID:    dialog.ID,
		GroupKey:    g.Key,
		Date:        g.Date,
		Type:        media.Content,
		Ordinal:     ordinal,
		Ext:         media.Content.Ext(),
	})
	return File{Path: path, MessageID: ordinal, Type: media.Content}
}

func webPageText(att *media.Attachment, width int) []string {
	var parts []string
	if att.URL != "" {
		parts = append(parts, fmt.Sprintf("[%s](%s)", att.URL, att.URL))
	}
	if desc := strings.TrimSpace(att.Description); desc != "" {
		parts = append(parts, shorten(desc, width))
	}
	return parts
}

// FilesReport summarizes files by label, e.g. "Image (2) Video".
// A thumbnail counts as a Video unless its own video is also present.
func FilesReport(files []File) string {
	videos := make(map[int64]bool)
	for _, f := range files {
		if f.Type == media.Video {
			videos[f.MessageID] = true
		}
	}

	counts := make(map[string]int)
	for _, f := range files {
		if f.Type == media.Thumbnail && videos[f.MessageID] {
			continue
		}
		counts[f.Type.Label()]++
	}

	labels := make([]string, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	parts := make([]string, 0, len(labels))
	for _, label := range labels {
		if n := counts[label]; n > 1 {
			parts = append(parts, fmt.Sprintf("%s (%d)", label, n))
		} else {
			parts = append(parts, label)
		}
	}
	return strings.Join(parts, " ")
}
