package chat

import (
	"cmp"
	"slices"
	"strings"
)

// DialogSort selects the ordering of a dialog listing.
type DialogSort string

const (
	SortByDate  DialogSort = "date"
	SortByTitle DialogSort = "title"
)

// DialogFilter narrows and orders a dialog listing.
type DialogFilter struct {
	// Types keeps only dialogs of these types. Empty keeps all.
	Types []DialogType `json:"types,omitempty"`
	// Title keeps dialogs whose title contains it, case-insensitively.
	Title      string     `json:"title,omitempty"`
	SortBy     DialogSort `json:"sort_by,omitempty"`
	Descending bool       `json:"descending,omitempty"`
}

// Apply returns the dialogs matching f in f's order. The input is not modified.
func (f DialogFilter) Apply(dialogs []Dialog) []Dialog {
	title := strings.ToLower(strings.TrimSpace(f.Title))

	out := make([]Dialog, 0, len(dialogs))
	for _, d := range dialogs {
		if len(f.Types) > 0 && !slices.Contains(f.Types, d.Type) {
			continue
		}
		if title != "" && !strings.Contains(strings.ToLower(d.Title), title) {
			continue
		}
		out = append(out, d)
	}

	slices.SortStableFunc(out, func(a, b Dialog) int {
		var c int
		switch f.SortBy {
		case SortByTitle:
			c = cmp.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
		default:
			c = a.LastMessageAt.Compare(b.LastMessageAt)
		}
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if f.Descending {
			return -c
		}
		return c
	})
	return out
}
