package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wpp-archive/internal/aggregate"
	"github.com/matheus3301/wpp-archive/internal/archive"
	"github.com/matheus3301/wpp-archive/internal/chat"
	"github.com/matheus3301/wpp-archive/internal/progress"
	"github.com/matheus3301/wpp-archive/internal/reconcile"
	"github.com/matheus3301/wpp-archive/internal/status"
	"github.com/matheus3301/wpp-archive/internal/store"
	"github.com/matheus3301/wpp-archive/internal/tags"
)

type ListDialogsRequest struct {
	Filter chat.DialogFilter `json:"filter"`
}

type ListDialogsResponse struct {
	Dialogs []chat.Dialog `json:"dialogs"`
}

type FetchGroupsRequest struct {
	DialogID int64         `json:"dialog_id"`
	Query    archive.Query `json:"query"`
}

type FetchGroupsResponse struct {
	Dialog chat.Dialog        `json:"dialog"`
	Groups []*aggregate.Group `json:"groups"`
}

// SaveGroupsRequest selects groups of a fetch by key. The query must match
// the one the groups were fetched with.
type SaveGroupsRequest struct {
	DialogID   int64         `json:"dialog_id"`
	Query      archive.Query `json:"query"`
	GroupedIDs []string      `json:"grouped_ids"`
}

type SaveGroupsResponse struct {
	Result *archive.SaveResult `json:"result"`
	// Unknown lists requested keys the fetch did not return.
	Unknown []string `json:"unknown,omitempty"`
}

type ListArchivedRequest struct {
	Query store.GroupQuery `json:"query"`
}

type ListArchivedResponse struct {
	Dialogs []store.Dialog       `json:"dialogs"`
	Groups  []store.MessageGroup `json:"groups"`
}

type GetArchivedRequest struct {
	GroupedID string `json:"grouped_id"`
}

type GetArchivedResponse struct {
	Group *store.MessageGroup `json:"group"`
}

type ListTagsRequest struct {
	Sort store.TagSort `json:"sort"`
}

type ListTagsResponse struct {
	Tags []store.Tag `json:"tags"`
}

// TagRequest names a tag and the group it applies to.
type TagRequest struct {
	Name      string `json:"name"`
	GroupedID string `json:"grouped_id"`
}

// RenameTagRequest renames OldName to NewName. GroupedID is ignored by
// RenameTagEverywhere.
type RenameTagRequest struct {
	OldName   string `json:"old_name"`
	NewName   string `json:"new_name"`
	GroupedID string `json:"grouped_id,omitempty"`
}

type TagResponse struct {
	Result *tags.Result `json:"result"`
}

type ReconcileRequest struct{}

type ReconcileResponse struct {
	Report *reconcile.Report `json:"report"`
}

// ProgressRequest selects progress entries: those of Operation when set,
// otherwise the latest Limit entries (all when zero).
type ProgressRequest struct {
	Operation uuid.UUID `json:"operation,omitzero"`
	Limit     int       `json:"limit,omitempty"`
}

type ProgressResponse struct {
	Entries []progress.Entry `json:"entries"`
}

type StatusRequest struct{}

type StatusResponse struct {
	Session     string       `json:"session"`
	State       status.State `json:"state"`
	StateSince  time.Time    `json:"state_since"`
	UptimeMs    int64        `json:"uptime_ms"`
	PhoneNumber string       `json:"phone_number,omitempty"`
	// Activity is the archive-mutating activity in progress, if any.
	Activity string `json:"activity,omitempty"`
	// DroppedEvents counts bus deliveries lost to slow subscribers.
	DroppedEvents uint64            `json:"dropped_events,omitempty"`
	Dialogs       int               `json:"dialogs"`
	Groups        int               `json:"groups"`
	LastReconcile *reconcile.Report `json:"last_reconcile,omitempty"`
}

type PairRequest struct{}

type LogoutRequest struct{}

type LogoutResponse struct{}
