package chat

import (
	"testing"
	"time"
)

func TestDialogFilterApply(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	dialogs := []Dialog{
		{ID: 1, Title: "Family", Type: Group, LastMessageAt: base.Add(2 * time.Hour)},
		{ID: 2, Title: "alice", Type: User, LastMessageAt: base},
		{ID: 3, Title: "News", Type: Channel, LastMessageAt: base.Add(time.Hour)},
		{ID: 4, Title: "family office", Type: Group, LastMessageAt: base.Add(3 * time.Hour)},
	}

	tests := []struct {
		name   string
		filter DialogFilter
		want   []int64
	}{
		{"default sorts by date ascending", DialogFilter{}, []int64{2, 3, 1, 4}},
		{"date descending", DialogFilter{Descending: true}, []int64{4, 1, 3, 2}},
		{"title ascending", DialogFilter{SortBy: SortByTitle}, []int64{2, 1, 4, 3}},
		{"groups only", DialogFilter{Types: []DialogType{Group}}, []int64{1, 4}},
		{"title contains", DialogFilter{Title: "FAMILY", SortBy: SortByTitle, Descending: true}, []int64{4, 1}},
		{"no match", DialogFilter{Title: "zzz"}, []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.filter.Apply(dialogs)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d dialogs, want %d", len(got), len(tt.want))
			}
			for i, d := range got {
				if d.ID != tt.want[i] {
					t.Errorf("position %d: id %d, want %d", i, d.ID, tt.want[i])
				}
			}
		})
	}
}

func TestDialogTypeByID(t *testing.T) {
	if DialogTypeByID(2) != Group {
		t.Error("id 2 should be Group")
	}
	if DialogTypeByID(99) != UnknownDialog {
		t.Error("unrecognized id should be UnknownDialog")
	}
}
