package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TagSortField orders a tag listing.
type TagSortField string

const (
	TagSortName       TagSortField = "name"
	TagSortUsageCount TagSortField = "usage_count"
	TagSortUpdatedAt  TagSortField = "updated_at"
)

// TagSort selects the order of a tag listing. The zero value sorts by name.
type TagSort struct {
	By         TagSortField `json:"by,omitempty"`
	Descending bool         `json:"descending,omitempty"`
}

func (s TagSort) orderBy() string {
	col := "name COLLATE NOCASE"
	switch s.By {
	case TagSortUsageCount:
		col = "usage_count"
	case TagSortUpdatedAt:
		col = "updated_at"
	}
	if s.Descending {
		return col + " DESC, name"
	}
	return col + " ASC, name"
}

// ListTags returns every tag in the requested order.
func (db *DB) ListTags(ctx context.Context, sort TagSort) ([]Tag, error) {
	return listTags(ctx, db, sort)
}

// ListTags is the transactional form of DB.ListTags.
func (tx *Tx) ListTags(sort TagSort) ([]Tag, error) {
	return listTags(tx.ctx, tx.tx, sort)
}

func listTags(ctx context.Context, q querier, sort TagSort) ([]Tag, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, name, usage_count, updated_at FROM tags ORDER BY `+sort.orderBy())
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tags []Tag
	for rows.Next() {
		var t Tag
		var updated int64
		if err := rows.Scan(&t.ID, &t.Name, &t.UsageCount, &updated); err != nil {
			return nil, err
		}
		t.UpdatedAt = fromMillis(updated)
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// TagByName returns the named tag or ErrNotFound.
func (tx *Tx) TagByName(name string) (*Tag, error) {
	var t Tag
	var updated int64
	err := tx.tx.QueryRowContext(tx.ctx, `SELECT id, name, usage_count, updated_at FROM tags WHERE name = ?`, name).
		Scan(&t.ID, &t.Name, &t.UsageCount, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tag %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("tag by name: %w", err)
	}
	t.UpdatedAt = fromMillis(updated)
	return &t, nil
}

// GroupExists reports whether the group is archived.
func (tx *Tx) GroupExists(groupedID string) (bool, error) {
	return groupExists(tx.ctx, tx.tx, groupedID)
}

// LinkTag attaches a tag to a group. It reports false if the link existed.
func (tx *Tx) LinkTag(groupedID string, tagID int64) (bool, error) {
	res, err := tx.tx.ExecContext(tx.ctx, `INSERT OR IGNORE INTO group_tags (grouped_id, tag_id) VALUES (?, ?)`, groupedID, tagID)
	if err != nil {
		return false, fmt.Errorf("link tag: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UnlinkTag detaches a tag from a group. It reports false if no link existed.
func (tx *Tx) UnlinkTag(groupedID string, tagID int64) (bool, error) {
	res, err := tx.tx.ExecContext(tx.ctx, `DELETE FROM group_tags WHERE grouped_id = ? AND tag_id = ?`, groupedID, tagID)
	if err != nil {
		return false, fmt.Errorf("unlink tag: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// AddTagUsage adjusts a tag's usage count by delta.
func (tx *Tx) AddTagUsage(tagID int64, delta int) error {
	_, err := tx.tx.ExecContext(tx.ctx, `UPDATE tags SET usage_count = usage_count + ?, updated_at = ? WHERE id = ?`,
		delta, time.Now().UnixMilli(), tagID)
	if err != nil {
		return fmt.Errorf("tag usage: %w", err)
	}
	return nil
}

// PruneTags deletes tags that are no longer used.
func (tx *Tx) PruneTags() (int64, error) {
	res, err := tx.tx.ExecContext(tx.ctx, `DELETE FROM tags WHERE usage_count <= 0`)
	if err != nil {
		return 0, fmt.Errorf("prune tags: %w", err)
	}
	return res.RowsAffected()
}

// GroupTags returns the names of a group's tags, sorted.
func (tx *Tx) GroupTags(groupedID string) ([]string, error) {
	return tx.strings(`
		SELECT t.name FROM group_tags gt JOIN tags t ON t.id = gt.tag_id
		WHERE gt.grouped_id = ? ORDER BY t.name COLLATE NOCASE`, groupedID)
}

// GroupsWithTag returns the grouped ids linked to a tag.
func (tx *Tx) GroupsWithTag(tagID int64) ([]string, error) {
	return tx.strings(`SELECT grouped_id FROM group_tags WHERE tag_id = ? ORDER BY grouped_id`, tagID)
}

func (tx *Tx) strings(query string, args ...any) ([]string, error) {
	rows, err := tx.tx.QueryContext(tx.ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
