package store

import (
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Kind names an upsertable entity.
type Kind int

const (
	KindDialog Kind = iota
	KindDialogType
	KindMessageGroup
	KindFile
	KindFileType
	KindTag
)

// Fields maps column names to values.
type Fields map[string]any

type kindSpec struct {
	name    string
	table   string
	columns []string
}

var kinds = map[Kind]kindSpec{
	KindDialog:     {"dialog", "dialogs", []string{"id", "title", "dialog_type_id", "updated_at"}},
	KindDialogType: {"dialog type", "dialog_types", []string{"id", "name"}},
	KindMessageGroup: {"message group", "message_groups", []string{
		"grouped_id", "dialog_id", "date", "sender_id", "text", "truncated_text", "files_report", "selected", "updated_at",
	}},
	KindFile:     {"file", "files", []string{"path", "grouped_id", "message_id", "size", "file_type_id"}},
	KindFileType: {"file type", "file_types", []string{"id", "name", "label", "ext", "sign"}},
	KindTag:      {"tag", "tags", []string{"name", "usage_count", "updated_at"}},
}

func (k Kind) String() string {
	if s, ok := kinds[k]; ok {
		return s.name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Upsert finds the single row of kind matching every filter field, inserting
// one built from filter and update when none exists, then patches the update
// fields. Columns outside update are never touched on an existing row.
// It returns the row id.
func (tx *Tx) Upsert(kind Kind, filter, update Fields) (int64, error) {
	ks, ok := kinds[kind]
	if !ok {
		return 0, fmt.Errorf("upsert: unknown kind %d", int(kind))
	}
	if len(filter) == 0 {
		return 0, fmt.Errorf("upsert %s: empty filter", ks.name)
	}
	if err := ks.validate(filter); err != nil {
		return 0, err
	}
	if err := ks.validate(update); err != nil {
		return 0, err
	}

	where, args := whereClause(filter)
	var id int64
	err := tx.tx.QueryRowContext(tx.ctx, "SELECT id FROM "+ks.table+" WHERE "+where+" LIMIT 1", args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return tx.insert(ks, filter, update)
	}
	if err != nil {
		return 0, fmt.Errorf("upsert %s: lookup: %w", ks.name, err)
	}

	if len(update) == 0 {
		return id, nil
	}
	cols := sortedColumns(update)
	sets := make([]string, len(cols))
	vals := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		sets[i] = c + " = ?"
		vals = append(vals, update[c])
	}
	vals = append(vals, id)
	if _, err := tx.tx.ExecContext(tx.ctx, "UPDATE "+ks.table+" SET "+strings.Join(sets, ", ")+" WHERE id = ?", vals...); err != nil {
		return 0, fmt.Errorf("upsert %s: update: %w", ks.name, err)
	}
	return id, nil
}

func (tx *Tx) insert(ks kindSpec, filter, update Fields) (int64, error) {
	row := make(Fields, len(filter)+len(update))
	maps.Copy(row, filter)
	maps.Copy(row, update)

	cols := sortedColumns(row)
	vals := make([]any, len(cols))
	for i, c := range cols {
		vals[i] = row[c]
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	res, err := tx.tx.ExecContext(tx.ctx,
		"INSERT INTO "+ks.table+" ("+strings.Join(cols, ", ")+") VALUES ("+placeholders+")", vals...)
	if err != nil {
		return 0, fmt.Errorf("upsert %s: insert: %w", ks.name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("upsert %s: insert id: %w", ks.name, err)
	}
	return id, nil
}

func (s kindSpec) validate(f Fields) error {
	for c := range f {
		if !slices.Contains(s.columns, c) {
			return fmt.Errorf("upsert %s: unknown column %q", s.name, c)
		}
	}
	return nil
}

func whereClause(filter Fields) (string, []any) {
	cols := sortedColumns(filter)
	conds := make([]string, len(cols))
	args := make([]any, 0, len(cols))
	for i, c := range cols {
		if filter[c] == nil {
			conds[i] = c + " IS NULL"
			continue
		}
		conds[i] = c + " = ?"
		args = append(args, filter[c])
	}
	return strings.Join(conds, " AND "), args
}

func sortedColumns(f Fields) []string {
	return slices.Sorted(maps.Keys(f))
}
