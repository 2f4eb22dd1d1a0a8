// Package reconcile converges the media tree, the archive store and the chat
// service: files nobody references are removed, referenced files that went
// missing are fetched again, and the store is backed up and maintained.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/matheus3301/wpp-archive/internal/archive"
	"github.com/matheus3301/wpp-archive/internal/bus"
	"github.com/matheus3301/wpp-archive/internal/chat"
	"github.com/matheus3301/wpp-archive/internal/media"
	"github.com/matheus3301/wpp-archive/internal/progress"
	"github.com/matheus3301/wpp-archive/internal/store"
	"go.uber.org/zap"
)

const backupLayout = "20060102_150405"

// Report counts the outcome of one run.
type Report struct {
	Started      time.Time             `json:"started"`
	Finished     time.Time             `json:"finished"`
	Local        int                   `json:"local"`
	Stored       int                   `json:"stored"`
	OrphansFound int                   `json:"orphans_found"`
	Deleted      int                   `json:"deleted"`
	DirsPruned   int                   `json:"dirs_pruned"`
	Missing      int                   `json:"missing"`
	Downloaded   int                   `json:"downloaded"`
	Regenerated  int                   `json:"regenerated"`
	Skipped      int                   `json:"skipped"`
	NotFound     int                   `json:"not_found"`
	Failed       int                   `json:"failed"`
	Backup       string                `json:"backup,omitempty"`
	Maintenance  *store.MaintainResult `json:"maintenance,omitempty"`
	Errors       []string              `json:"errors,omitempty"`
}

// Changed reports whether the run touched the filesystem or the archive.
func (r *Report) Changed() bool {
	changed := r.Deleted + r.DirsPruned + r.Downloaded + r.Regenerated
	if m := r.Maintenance; m != nil {
		changed += int(m.DialogsDeleted + m.TagsUpdated + m.TagsDeleted)
	}
	return changed > 0
}

// Options configures an Engine.
type Options struct {
	// Extensions limits both sides of the comparison. Empty means every file.
	Extensions []string
	// BackupDir receives a store snapshot per run. Empty disables backups.
	BackupDir string
}

// Engine runs reconciliation.
type Engine struct {
	db         *store.DB
	downloader *archive.Downloader
	exporter   *archive.Exporter
	gate       *archive.Gate
	progress   *progress.Log
	bus        *bus.Bus
	logger     *zap.Logger
	opts       Options
	now        func() time.Time
}

// New creates an engine. exporter may be nil, in which case missing exported
// pages are skipped.
func New(db *store.DB, d *archive.Downloader, e *archive.Exporter, gate *archive.Gate,
	p *progress.Log, b *bus.Bus, logger *zap.Logger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	exts := make([]string, 0, len(opts.Extensions))
	for _, ext := range opts.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	opts.Extensions = exts
	return &Engine{db: db, downloader: d, exporter: e, gate: gate, progress: p, bus: b, logger: logger, opts: opts, now: time.Now}
}

// Run reconciles once. It waits for any running save to finish first.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	release, err := e.gate.Enter(ctx, "reconcile")
	if err != nil {
		return nil, err
	}
	defer release()

	rep := e.progress.Begin("reconcile")
	res := &Report{Started: e.now()}

	if err := e.run(ctx, rep, res); err != nil {
		rep.Fail("Reconciliation failed: %v", err)
		e.logger.Error("reconciliation failed", zap.Error(err))
		return res, err
	}
	res.Finished = e.now()

	rep.Report("Deleted: %d, pruned dirs: %d, downloaded: %d, regenerated: %d, skipped: %d, not found: %d, failed: %d",
		res.Deleted, res.DirsPruned, res.Downloaded, res.Regenerated, res.Skipped, res.NotFound, res.Failed)
	e.logger.Info("reconciliation finished",
		zap.Int("deleted", res.Deleted),
		zap.Int("dirs_pruned", res.DirsPruned),
		zap.Int("missing", res.Missing),
		zap.Int("downloaded", res.Downloaded),
		zap.Int("failed", res.Failed))
	e.bus.Emit(bus.KindReconciled, res)
	return res, nil
}

func (e *Engine) run(ctx context.Context, rep *progress.Reporter, res *Report) error {
	stored, err := e.db.FilePaths(ctx, e.opts.Extensions)
	if err != nil {
		return err
	}
	local, staging, err := e.scan()
	if err != nil {
		return fmt.Errorf("scan media root: %w", err)
	}
	res.Stored, res.Local = len(stored), len(local)
	rep.Report("Files in archive: %d, files on disk: %d", res.Stored, res.Local)

	storedSet := make(map[string]bool, len(stored))
	for _, p := range stored {
		storedSet[p] = true
	}
	localSet := make(map[string]bool, len(local))
	for _, p := range local {
		localSet[p] = true
	}

	orphans := slices.Clone(staging)
	for _, p := range local {
		if !storedSet[p] {
			orphans = append(orphans, p)
		}
	}
	slices.Sort(orphans)
	e.deleteOrphans(rep, res, orphans)

	pruned, err := pruneEmptyDirs(e.downloader.Root())
	if err != nil {
		return fmt.Errorf("prune directories: %w", err)
	}
	res.DirsPruned = pruned
	if pruned > 0 {
		rep.Report("Empty directories removed: %d", pruned)
	}

	var missing []string
	for _, p := range stored {
		if !localSet[p] {
			missing = append(missing, p)
		}
	}
	res.Missing = len(missing)
	rep.Report("Files to download: %d", res.Missing)
	for i, p := range missing {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.restore(ctx, rep, res, i+1, p)
	}

	if e.opts.BackupDir != "" {
		dest := backupPath(e.opts.BackupDir, e.now())
		if err := e.db.Backup(ctx, dest); err != nil {
			res.Errors = append(res.Errors, err.Error())
			rep.Fail("Backup failed: %v", err)
			e.logger.Warn("store backup failed", zap.Error(err))
		} else {
			res.Backup = dest
			rep.Report("Backup written to %s", dest)
		}
	}

	m, err := e.db.Maintain(ctx)
	if err != nil {
		return err
	}
	res.Maintenance = m
	rep.Report("Dialogs removed: %d, tags recounted: %d, tags removed: %d", m.DialogsDeleted, m.TagsUpdated, m.TagsDeleted)
	return nil
}

// scan lists the media root, slash separated and relative. Staging files are
// returned apart so they are always treated as orphans.
func (e *Engine) scan() (files, staging []string, err error) {
	root := e.downloader.Root()
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == root {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		switch {
		case archive.IsStaging(rel):
			staging = append(staging, rel)
		case e.matches(rel):
			files = append(files, rel)
		}
		return nil
	})
	return files, staging, err
}

func (e *Engine) matches(rel string) bool {
	if len(e.opts.Extensions) == 0 {
		return true
	}
	return slices.Contains(e.opts.Extensions, strings.ToLower(path.Ext(rel)))
}

func (e *Engine) deleteOrphans(rep *progress.Reporter, res *Report, orphans []string) {
	res.OrphansFound = len(orphans)
	rep.Report("Files to delete: %d", len(orphans))
	for i, p := range orphans {
		if err := os.Remove(e.downloader.Abs(p)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("delete %s: %v", p, err))
			rep.StepFailed(i+1, len(orphans), "Failed to delete %s: %v", p, err)
			continue
		}
		res.Deleted++
		rep.Step(i+1, len(orphans), "Deleted %s", p)
	}
}

func (e *Engine) restore(ctx context.Context, rep *progress.Reporter, res *Report, n int, p string) {
	total := res.Missing
	f, err := e.db.FileByPath(ctx, p)
	if err != nil {
		res.Failed++
		res.Errors = append(res.Errors, err.Error())
		rep.StepFailed(n, total, "Lookup failed for %s: %v", p, err)
		return
	}

	if f.Type.Generated() {
		if e.exporter == nil {
			res.Skipped++
			rep.Step(n, total, "Skipped %s", p)
			return
		}
		if err := e.exporter.Regenerate(ctx, p); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, err.Error())
			rep.StepFailed(n, total, "Export failed for %s: %v", p, err)
			return
		}
		res.Regenerated++
		rep.Step(n, total, "Regenerated %s", p)
		return
	}

	if !e.downloader.Allowed(f.Size) {
		res.Skipped++
		rep.Step(n, total, "Skipped %s (%d bytes)", p, f.Size)
		return
	}

	_, err = e.downloader.Fetch(ctx, archive.FileRef{
		DialogID:  f.DialogID,
		MessageID: f.MessageID,
		Thumbnail: f.Type == media.Thumbnail,
		Size:      f.Size,
		Path:      f.Path,
	})
	switch {
	case errors.Is(err, chat.ErrMessageNotFound):
		res.NotFound++
		rep.StepFailed(n, total, "No message found for dialog %d and message id %d", f.DialogID, f.MessageID)
	case err != nil:
		res.Failed++
		res.Errors = append(res.Errors, err.Error())
		rep.StepFailed(n, total, "Download failed for %s: %v", p, err)
	default:
		res.Downloaded++
		rep.Step(n, total, "Downloaded %s", p)
	}
}

// pruneEmptyDirs removes empty directories below root, deepest first, and
// returns how many were removed. root itself is kept.
func pruneEmptyDirs(root string) (int, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == root {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() && p != root {
			dirs = append(dirs, p)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	// Children sort after their parents, so reverse order visits them first.
	slices.Sort(dirs)
	removed := 0
	for _, dir := range slices.Backward(dirs) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return removed, err
		}
		if len(entries) > 0 {
			continue
		}
		if err := os.Remove(dir); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// backupPath names the snapshot of a run started at t. Runs within the same
// second get a numeric suffix.
func backupPath(dir string, t time.Time) string {
	base := filepath.Join(dir, "archive_"+t.Format(backupLayout))
	dest := base + ".db"
	for i := 1; ; i++ {
		if _, err := os.Lstat(dest); err != nil {
			return dest
		}
		dest = fmt.Sprintf("%s_%d.db", base, i)
	}
}
