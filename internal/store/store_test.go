package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/wpp-archive/internal/chat"
	"github.com/matheus3301/wpp-archive/internal/media"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Startup(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// seedGroup archives a dialog with one group and its files.
func seedGroup(t *testing.T, db *DB, dialogID int64, groupedID string, paths ...string) {
	t.Helper()
	ctx := context.Background()
	err := db.InTx(ctx, func(tx *Tx) error {
		if err := tx.UpsertDialog(Dialog{ID: dialogID, Title: "Dialog", Type: chat.Group}); err != nil {
			return err
		}
		if _, err := tx.UpsertMessageGroup(&MessageGroup{GroupedID: groupedID, DialogID: dialogID, Date: time.UnixMilli(1000), Text: "hello"}); err != nil {
			return err
		}
		for i, p := range paths {
			if _, err := tx.UpsertFile(&File{Path: p, GroupedID: groupedID, MessageID: int64(i + 1), Size: 10, Type: media.Photo}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestMigrate(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "fresh.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	first, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if first.From != 0 || first.Version != 2 || !first.Changed {
		t.Errorf("first Migrate() = %+v, want 0 -> 2 (archive + message cache)", first)
	}

	again, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if again.Changed || again.From != 2 || again.Version != 2 {
		t.Errorf("second Migrate() = %+v, want unchanged at 2", again)
	}

	if _, err := db.Exec(`UPDATE schema_migrations SET dirty = 1`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); !errors.Is(err, ErrDirtySchema) {
		t.Errorf("Migrate() on dirty schema error = %v, want ErrDirtySchema", err)
	}
}

func TestSeedReferenceTables(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	// Seeding twice must not duplicate rows.
	if err := db.Seed(ctx); err != nil {
		t.Fatal(err)
	}

	var fileTypes, dialogTypes int
	if err := db.QueryRow(`SELECT COUNT(*) FROM file_types`).Scan(&fileTypes); err != nil {
		t.Fatal(err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM dialog_types`).Scan(&dialogTypes); err != nil {
		t.Fatal(err)
	}
	if fileTypes != 8 || dialogTypes != 4 {
		t.Errorf("file_types=%d dialog_types=%d, want 8 and 4", fileTypes, dialogTypes)
	}

	var sign string
	if err := db.QueryRow(`SELECT sign FROM file_types WHERE id = 4`).Scan(&sign); err != nil {
		t.Fatal(err)
	}
	if sign != "vth" {
		t.Errorf("thumbnail sign = %q, want vth", sign)
	}
}

func TestUpsertCreatesThenPatches(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	var firstID, secondID int64
	err := db.InTx(ctx, func(tx *Tx) error {
		var err error
		firstID, err = tx.Upsert(KindTag, Fields{"name": "trip"}, Fields{"updated_at": int64(1)})
		if err != nil {
			return err
		}
		if _, err := tx.tx.ExecContext(ctx, `UPDATE tags SET usage_count = 3 WHERE id = ?`, firstID); err != nil {
			return err
		}
		secondID, err = tx.Upsert(KindTag, Fields{"name": "trip"}, Fields{"updated_at": int64(2)})
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if firstID != secondID {
		t.Fatalf("upsert created a second row: %d vs %d", firstID, secondID)
	}

	var n, usage int
	var updated int64
	if err := db.QueryRow(`SELECT COUNT(*), MAX(usage_count), MAX(updated_at) FROM tags WHERE name = 'trip'`).Scan(&n, &usage, &updated); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("got %d rows, want 1", n)
	}
	if usage != 3 {
		t.Errorf("usage_count = %d, want 3 (untouched by patch)", usage)
	}
	if updated != 2 {
		t.Errorf("updated_at = %d, want 2", updated)
	}
}

func TestUpsertRejectsUnknownColumns(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter Fields
		update Fields
	}{
		{"unknown filter column", Fields{"nope": 1}, nil},
		{"unknown update column", Fields{"name": "x"}, Fields{"name; DROP TABLE tags": 1}},
		{"empty filter", Fields{}, Fields{"name": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := db.InTx(ctx, func(tx *Tx) error {
				_, err := tx.Upsert(KindTag, tt.filter, tt.update)
				return err
			})
			if err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestUpsertMessageGroupKeepsOneRow(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	seedGroup(t, db, 1, "1_g1", "a/1.jpg")
	seedGroup(t, db, 1, "1_g1", "a/1.jpg", "a/2.jpg")

	g, err := db.GetGroup(ctx, "1_g1")
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Files) != 2 {
		t.Errorf("got %d files, want 2", len(g.Files))
	}
	if g.DialogTitle != "Dialog" || g.Text != "hello" {
		t.Errorf("group = %+v", g)
	}

	var groups int
	if err := db.QueryRow(`SELECT COUNT(*) FROM message_groups`).Scan(&groups); err != nil {
		t.Fatal(err)
	}
	if groups != 1 {
		t.Errorf("got %d groups, want 1", groups)
	}
}

func TestGetGroupNotFound(t *testing.T) {
	db := testDB(t)
	if _, err := db.GetGroup(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFileCascadeOnGroupDelete(t *testing.T) {
	db := testDB(t)
	seedGroup(t, db, 1, "1_g1", "a/1.jpg")

	if _, err := db.Exec(`DELETE FROM message_groups WHERE grouped_id = '1_g1'`); err != nil {
		t.Fatal(err)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM files`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("got %d files after group delete, want 0", n)
	}
}

func TestMaintain(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	seedGroup(t, db, 1, "1_g1")
	err := db.InTx(ctx, func(tx *Tx) error {
		if err := tx.UpsertDialog(Dialog{ID: 2, Title: "Empty"}); err != nil {
			return err
		}
		used, err := tx.UpsertTag("used")
		if err != nil {
			return err
		}
		if _, err := tx.LinkTag("1_g1", used); err != nil {
			return err
		}
		// Drift the counter on purpose.
		if err := tx.AddTagUsage(used, 5); err != nil {
			return err
		}
		_, err = tx.UpsertTag("unused")
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := db.Maintain(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.DialogsDeleted != 1 || res.TagsDeleted != 1 {
		t.Errorf("result = %+v, want 1 dialog and 1 tag deleted", res)
	}

	tags, err := db.ListTags(ctx, TagSort{})
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 1 || tags[0].Name != "used" || tags[0].UsageCount != 1 {
		t.Errorf("tags = %+v", tags)
	}

	dialogs, err := db.ListDialogs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(dialogs) != 1 || dialogs[0].ID != 1 || dialogs[0].Groups != 1 {
		t.Errorf("dialogs = %+v", dialogs)
	}
}

func TestListGroups(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	err := db.InTx(ctx, func(tx *Tx) error {
		if err := tx.UpsertDialog(Dialog{ID: 1, Title: "Beta"}); err != nil {
			return err
		}
		if err := tx.UpsertDialog(Dialog{ID: 2, Title: "alpha"}); err != nil {
			return err
		}
		groups := []MessageGroup{
			{GroupedID: "1_a", DialogID: 1, Date: time.UnixMilli(3000), Text: "Holiday in Lisbon"},
			{GroupedID: "1_b", DialogID: 1, Date: time.UnixMilli(1000), Text: "groceries"},
			{GroupedID: "2_c", DialogID: 2, Date: time.UnixMilli(2000), Text: "holiday plans"},
		}
		for i := range groups {
			if _, err := tx.UpsertMessageGroup(&groups[i]); err != nil {
				return err
			}
		}
		tag, err := tx.UpsertTag("travel")
		if err != nil {
			return err
		}
		_, err = tx.LinkTag("1_a", tag)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		q    GroupQuery
		want []string
	}{
		{"all by date", GroupQuery{}, []string{"1_b", "2_c", "1_a"}},
		{"date descending", GroupQuery{Descending: true}, []string{"1_a", "2_c", "1_b"}},
		{"by dialog title", GroupQuery{SortBy: GroupSortTitle}, []string{"2_c", "1_b", "1_a"}},
		{"dialog filter", GroupQuery{DialogIDs: []int64{2}}, []string{"2_c"}},
		{"date range", GroupQuery{From: time.UnixMilli(1500), To: time.UnixMilli(2500)}, []string{"2_c"}},
		{"text case-insensitive", GroupQuery{Text: "HOLIDAY"}, []string{"2_c", "1_a"}},
		{"tags any of", GroupQuery{Tags: "nothing; trav"}, []string{"1_a"}},
		{"limit", GroupQuery{Limit: 1, Offset: 1}, []string{"2_c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups, err := db.ListGroups(ctx, tt.q)
			if err != nil {
				t.Fatal(err)
			}
			got := make([]string, len(groups))
			for i, g := range groups {
				got[i] = g.GroupedID
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	groups, err := db.ListGroups(ctx, GroupQuery{Tags: "travel"})
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 || len(groups[0].Tags) != 1 || groups[0].Tags[0] != "travel" {
		t.Errorf("tags not loaded: %+v", groups)
	}
}

func TestFilePathsAndFileByPath(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedGroup(t, db, 7, "7_g", "d/x.JPG", "d/y.mp4", "d/z.html")

	paths, err := db.FilePaths(ctx, []string{".jpg", ".html"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(paths, ",") != "d/x.JPG,d/z.html" {
		t.Errorf("paths = %v", paths)
	}

	f, err := db.FileByPath(ctx, "d/y.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if f.DialogID != 7 || f.GroupedID != "7_g" || f.MessageID != 2 || f.Type != media.Photo {
		t.Errorf("file = %+v", f)
	}

	if _, err := db.FileByPath(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSelectedResetOnStartup(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedGroup(t, db, 1, "1_g")

	if err := db.SetSelected(ctx, "1_g", true); err != nil {
		t.Fatal(err)
	}
	res, err := db.Startup(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Interrupted != 1 {
		t.Errorf("Interrupted = %d, want 1", res.Interrupted)
	}
	g, err := db.GetGroup(ctx, "1_g")
	if err != nil {
		t.Fatal(err)
	}
	if g.Selected {
		t.Error("selected flag survived startup")
	}
}

func TestBackup(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedGroup(t, db, 1, "1_g", "a.jpg")

	dest := filepath.Join(t.TempDir(), "backups", "archive.db")
	if err := db.Backup(ctx, dest); err != nil {
		t.Fatal(err)
	}

	copyDB, err := Open(dest)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = copyDB.Close() }()

	exists, err := copyDB.GroupExists(ctx, "1_g")
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Error("backup is missing archived group")
	}

	if err := db.Backup(ctx, dest); err == nil {
		t.Error("expected error when backup target exists")
	}
}
