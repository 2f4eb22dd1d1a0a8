package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/matheus3301/wpp-archive/internal/chat"
	"github.com/matheus3301/wpp-archive/internal/media"
)

// UpsertDialog creates or patches a dialog keyed by its id.
func (tx *Tx) UpsertDialog(d Dialog) error {
	_, err := tx.Upsert(KindDialog, Fields{"id": d.ID}, Fields{
		"title":          d.Title,
		"dialog_type_id": int(chat.DialogTypeByID(int(d.Type))),
		"updated_at":     time.Now().UnixMilli(),
	})
	return err
}

// UpsertMessageGroup creates or patches a group keyed by its grouped id.
func (tx *Tx) UpsertMessageGroup(g *MessageGroup) (int64, error) {
	return tx.Upsert(KindMessageGroup, Fields{"grouped_id": g.GroupedID}, Fields{
		"dialog_id":      g.DialogID,
		"date":           toMillis(g.Date),
		"sender_id":      g.SenderID,
		"text":           g.Text,
		"truncated_text": g.TruncatedText,
		"files_report":   g.FilesReport,
		"selected":       g.Selected,
		"updated_at":     time.Now().UnixMilli(),
	})
}

// UpsertFile creates or patches a file keyed by its path.
func (tx *Tx) UpsertFile(f *File) (int64, error) {
	return tx.Upsert(KindFile, Fields{"path": f.Path}, Fields{
		"grouped_id":   f.GroupedID,
		"message_id":   f.MessageID,
		"size":         f.Size,
		"file_type_id": f.Type.ID(),
	})
}

// UpsertTag returns the id of the named tag, creating it with zero usage.
func (tx *Tx) UpsertTag(name string) (int64, error) {
	return tx.Upsert(KindTag, Fields{"name": name}, Fields{"updated_at": time.Now().UnixMilli()})
}

// Seed writes the static dialog type and file type reference rows.
func (db *DB) Seed(ctx context.Context) error {
	return db.InTx(ctx, func(tx *Tx) error {
		for _, t := range chat.DialogTypes {
			if _, err := tx.Upsert(KindDialogType, Fields{"id": int(t)}, Fields{"name": t.String()}); err != nil {
				return err
			}
		}
		for _, ft := range media.AllFileTypes() {
			if _, err := tx.Upsert(KindFileType, Fields{"id": ft.ID()}, Fields{
				"name":  ft.Name(),
				"label": ft.Label(),
				"ext":   ft.Ext(),
				"sign":  ft.Sign(),
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// Maintain deletes dialogs without groups and recomputes tag usage, pruning
// unused tags, in one transaction.
func (db *DB) Maintain(ctx context.Context) (*MaintainResult, error) {
	var res *MaintainResult
	err := db.InTx(ctx, func(tx *Tx) error {
		var err error
		res, err = tx.Maintain()
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Maintain is the transactional form of DB.Maintain.
func (tx *Tx) Maintain() (*MaintainResult, error) {
	res := &MaintainResult{}

	r, err := tx.tx.ExecContext(tx.ctx, `
		DELETE FROM dialogs
		WHERE id NOT IN (SELECT DISTINCT dialog_id FROM message_groups)`)
	if err != nil {
		return nil, fmt.Errorf("dialog gc: %w", err)
	}
	res.DialogsDeleted, _ = r.RowsAffected()

	r, err = tx.tx.ExecContext(tx.ctx, `
		UPDATE tags SET usage_count = (SELECT COUNT(*) FROM group_tags WHERE tag_id = tags.id)
		WHERE usage_count != (SELECT COUNT(*) FROM group_tags WHERE tag_id = tags.id)`)
	if err != nil {
		return nil, fmt.Errorf("recompute tag usage: %w", err)
	}
	res.TagsUpdated, _ = r.RowsAffected()

	if res.TagsDeleted, err = tx.PruneTags(); err != nil {
		return nil, err
	}
	return res, nil
}

// ListDialogs returns archived dialogs with their group counts, by title.
func (db *DB) ListDialogs(ctx context.Context) ([]Dialog, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT d.id, d.title, d.dialog_type_id, COUNT(g.id)
		FROM dialogs d
		LEFT JOIN message_groups g ON g.dialog_id = d.id
		GROUP BY d.id
		ORDER BY d.title COLLATE NOCASE, d.id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var dialogs []Dialog
	for rows.Next() {
		var d Dialog
		var typeID int
		if err := rows.Scan(&d.ID, &d.Title, &typeID, &d.Groups); err != nil {
			return nil, err
		}
		d.Type = chat.DialogTypeByID(typeID)
		dialogs = append(dialogs, d)
	}
	return dialogs, rows.Err()
}

// GroupSort selects the ordering of archived groups.
type GroupSort string

const (
	GroupSortDate  GroupSort = "date"
	GroupSortTitle GroupSort = "title"
)

// TagSeparator separates alternatives in GroupQuery.Tags.
const TagSeparator = ";"

// GroupQuery filters a listing of archived groups. Zero fields do not filter.
type GroupQuery struct {
	DialogIDs []int64   `json:"dialog_ids,omitempty"`
	From      time.Time `json:"from,omitzero"`
	To        time.Time `json:"to,omitzero"`
	// Text keeps groups whose text contains it, case-insensitively.
	Text string `json:"text,omitempty"`
	// Tags keeps groups carrying any tag whose name contains one of the
	// TagSeparator-separated terms.
	Tags       string    `json:"tags,omitempty"`
	SortBy     GroupSort `json:"sort_by,omitempty"`
	Descending bool      `json:"descending,omitempty"`
	Limit      int       `json:"limit,omitempty"`
	Offset     int       `json:"offset,omitempty"`
}

const groupColumns = `
	g.id, g.grouped_id, g.dialog_id, COALESCE(d.title, ''), g.date, g.sender_id, g.text,
	g.truncated_text, g.files_report, g.selected,
	COALESCE((SELECT group_concat(t.name, ';') FROM group_tags gt JOIN tags t ON t.id = gt.tag_id
		WHERE gt.grouped_id = g.grouped_id), '')`

// ListGroups returns archived groups matching q.
func (db *DB) ListGroups(ctx context.Context, q GroupQuery) ([]MessageGroup, error) {
	var conds []string
	var args []any

	if len(q.DialogIDs) > 0 {
		conds = append(conds, "g.dialog_id IN ("+strings.TrimSuffix(strings.Repeat("?, ", len(q.DialogIDs)), ", ")+")")
		for _, id := range q.DialogIDs {
			args = append(args, id)
		}
	}
	if !q.From.IsZero() {
		conds = append(conds, "g.date >= ?")
		args = append(args, q.From.UnixMilli())
	}
	if !q.To.IsZero() {
		conds = append(conds, "g.date <= ?")
		args = append(args, q.To.UnixMilli())
	}
	if text := strings.TrimSpace(q.Text); text != "" {
		conds = append(conds, "g.text LIKE '%' || ? || '%'")
		args = append(args, text)
	}
	if terms := splitTags(q.Tags); len(terms) > 0 {
		likes := make([]string, len(terms))
		for i, term := range terms {
			likes[i] = "t.name LIKE '%' || ? || '%'"
			args = append(args, term)
		}
		conds = append(conds, `EXISTS (SELECT 1 FROM group_tags gt JOIN tags t ON t.id = gt.tag_id
			WHERE gt.grouped_id = g.grouped_id AND (`+strings.Join(likes, " OR ")+`))`)
	}

	query := "SELECT " + groupColumns + " FROM message_groups g LEFT JOIN dialogs d ON d.id = g.dialog_id"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	dir := "ASC"
	if q.Descending {
		dir = "DESC"
	}
	switch q.SortBy {
	case GroupSortTitle:
		query += fmt.Sprintf(" ORDER BY d.title COLLATE NOCASE %s, g.date %s, g.grouped_id", dir, dir)
	default:
		query += fmt.Sprintf(" ORDER BY g.date %s, g.grouped_id", dir)
	}
	if q.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, q.Limit, max(q.Offset, 0))
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var groups []MessageGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGroup(s scanner) (*MessageGroup, error) {
	var g MessageGroup
	var date int64
	var tags string
	if err := s.Scan(&g.ID, &g.GroupedID, &g.DialogID, &g.DialogTitle, &date, &g.SenderID, &g.Text,
		&g.TruncatedText, &g.FilesReport, &g.Selected, &tags); err != nil {
		return nil, err
	}
	g.Date = fromMillis(date)
	g.Tags = splitTags(tags)
	slices.Sort(g.Tags)
	return &g, nil
}

func splitTags(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, TagSeparator) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GetGroup returns a group with its files and tags.
func (db *DB) GetGroup(ctx context.Context, groupedID string) (*MessageGroup, error) {
	row := db.QueryRowContext(ctx, "SELECT "+groupColumns+`
		FROM message_groups g LEFT JOIN dialogs d ON d.id = g.dialog_id
		WHERE g.grouped_id = ?`, groupedID)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %s: %w", groupedID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, path, grouped_id, message_id, size, file_type_id
		FROM files WHERE grouped_id = ? ORDER BY message_id, file_type_id, path`, groupedID)
	if err != nil {
		return nil, fmt.Errorf("group files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var f File
		var typeID int
		if err := rows.Scan(&f.ID, &f.Path, &f.GroupedID, &f.MessageID, &f.Size, &typeID); err != nil {
			return nil, err
		}
		f.DialogID = g.DialogID
		f.Type = media.FileTypeByID(typeID)
		g.Files = append(g.Files, f)
	}
	return g, rows.Err()
}

// GroupExists reports whether a group with the grouped id is archived.
func (db *DB) GroupExists(ctx context.Context, groupedID string) (bool, error) {
	return groupExists(ctx, db, groupedID)
}

func groupExists(ctx context.Context, q querier, groupedID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM message_groups WHERE grouped_id = ?`, groupedID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("group exists: %w", err)
	}
	return n > 0, nil
}

// FilePaths returns the paths of archived files whose extension is one of
// exts, compared case-insensitively. An empty exts returns every path.
func (db *DB) FilePaths(ctx context.Context, exts []string) ([]string, error) {
	query := `SELECT path FROM files`
	var args []any
	if len(exts) > 0 {
		likes := make([]string, len(exts))
		for i, ext := range exts {
			likes[i] = "lower(path) LIKE ?"
			args = append(args, "%"+strings.ToLower(ext))
		}
		query += " WHERE " + strings.Join(likes, " OR ")
	}
	query += " ORDER BY path"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("file paths: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// FileByPath returns the file stored at path along with its dialog.
func (db *DB) FileByPath(ctx context.Context, path string) (*File, error) {
	var f File
	var typeID int
	err := db.QueryRowContext(ctx, `
		SELECT f.id, f.path, f.grouped_id, g.dialog_id, f.message_id, f.size, f.file_type_id
		FROM files f JOIN message_groups g ON g.grouped_id = f.grouped_id
		WHERE f.path = ?`, path).
		Scan(&f.ID, &f.Path, &f.GroupedID, &f.DialogID, &f.MessageID, &f.Size, &typeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("file by path: %w", err)
	}
	f.Type = media.FileTypeByID(typeID)
	return &f, nil
}

// SetSelected marks or clears a group's pending-save flag.
func (db *DB) SetSelected(ctx context.Context, groupedID string, selected bool) error {
	_, err := db.ExecContext(ctx, `UPDATE message_groups SET selected = ? WHERE grouped_id = ?`, selected, groupedID)
	if err != nil {
		return fmt.Errorf("set selected: %w", err)
	}
	return nil
}

// ResetSelected clears every pending-save flag and returns how many were set.
func (db *DB) ResetSelected(ctx context.Context) (int64, error) {
	res, err := db.ExecContext(ctx, `UPDATE message_groups SET selected = 0 WHERE selected != 0`)
	if err != nil {
		return 0, fmt.Errorf("reset selected: %w", err)
	}
	return res.RowsAffected()
}

// Backup writes a consistent snapshot of the database to dest.
func (db *DB) Backup(ctx context.Context, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
		return fmt.Errorf("backup dir: %w", err)
	}
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("backup %s: already exists", dest)
	}
	if _, err := db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	return nil
}
