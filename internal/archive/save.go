package archive

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/matheus3301/wpp-archive/internal/aggregate"
	"github.com/matheus3301/wpp-archive/internal/bus"
	"github.com/matheus3301/wpp-archive/internal/chat"
	"github.com/matheus3301/wpp-archive/internal/progress"
	"github.com/matheus3301/wpp-archive/internal/store"
	"go.uber.org/zap"
)

// SaveResult summarizes a save.
type SaveResult struct {
	DialogID   int64    `json:"dialog_id"`
	Saved      []string `json:"saved"`
	Failed     []string `json:"failed,omitempty"`
	Files      int      `json:"files"`
	Downloaded int      `json:"downloaded"`
	Existing   int      `json:"existing"`
	Skipped    int      `json:"skipped"`
	Errors     int      `json:"errors"`
}

// Saver persists selected groups with their files and HTML exports.
type Saver struct {
	db         *store.DB
	agg        *aggregate.Aggregator
	downloader *Downloader
	exporter   *Exporter
	gate       *Gate
	progress   *progress.Log
	bus        *bus.Bus
	logger     *zap.Logger
}

// NewSaver creates a saver.
func NewSaver(db *store.DB, agg *aggregate.Aggregator, d *Downloader, e *Exporter, gate *Gate,
	p *progress.Log, b *bus.Bus, logger *zap.Logger) *Saver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Saver{db: db, agg: agg, downloader: d, exporter: e, gate: gate, progress: p, bus: b, logger: logger}
}

// Save archives groups of dialog. For each group the files are downloaded to
// staging first, then the rows are committed, then the files are moved into
// place and the page is exported. A failure is reported and the next group
// proceeds; leftovers are repaired by reconciliation.
func (s *Saver) Save(ctx context.Context, dialog chat.Dialog, groups []*aggregate.Group) (*SaveResult, error) {
	release, err := s.gate.Enter(ctx, "save")
	if err != nil {
		return nil, err
	}
	defer release()

	rep := s.progress.Begin("save")
	res := &SaveResult{DialogID: dialog.ID}
	for _, g := range groups {
		res.Files += len(g.Files)
	}
	rep.Report("Files to download: %d", res.Files)

	n := 0
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := s.saveGroup(ctx, dialog, g, rep, res, &n); err != nil {
			res.Failed = append(res.Failed, g.Key)
			rep.Fail("Group %s failed: %v", g.Key, err)
			continue
		}
		res.Saved = append(res.Saved, g.Key)
	}

	rep.Report("Downloaded: %d, existing: %d, skipped: %d, failed: %d", res.Downloaded, res.Existing, res.Skipped, res.Errors)
	s.logger.Info("save finished",
		zap.Int64("dialog_id", dialog.ID),
		zap.Int("groups", len(res.Saved)),
		zap.Int("failed", len(res.Failed)),
		zap.Int("downloaded", res.Downloaded))
	s.bus.Emit(bus.KindArchiveSaved, res)
	return res, nil
}

func (s *Saver) saveGroup(ctx context.Context, dialog chat.Dialog, g *aggregate.Group,
	rep *progress.Reporter, res *SaveResult, n *int) error {
	type stagedFile struct {
		tmp  string
		step int
	}
	staged := make(map[string]stagedFile)
	discard := func() {
		for _, sf := range staged {
			s.downloader.Discard(sf.tmp)
		}
	}

	var failed error
	for _, f := range g.Files {
		*n++
		tmp, err := s.downloader.Stage(ctx, FileRef{
			DialogID:  dialog.ID,
			MessageID: f.MessageID,
			Thumbnail: f.Thumbnail,
			Size:      f.Size,
			Path:      f.Path,
		})
		switch {
		case errors.Is(err, ErrSizeLimit):
			res.Skipped++
			rep.Step(*n, res.Files, "Skipped %s (%d bytes)", f.Path, f.Size)
		case err != nil:
			res.Errors++
			rep.StepFailed(*n, res.Files, "Failed %s: %v", f.Path, err)
			failed = err
		case tmp == "":
			res.Existing++
			rep.Step(*n, res.Files, "Exists %s", f.Path)
		default:
			staged[f.Path] = stagedFile{tmp: tmp, step: *n}
		}
	}

	content := s.agg.ContentFile(dialog, g)
	err := s.db.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.UpsertDialog(store.Dialog{ID: dialog.ID, Title: dialog.Title, Type: dialog.Type}); err != nil {
			return err
		}
		if _, err := tx.UpsertMessageGroup(&store.MessageGroup{
			GroupedID:     g.Key,
			DialogID:      dialog.ID,
			Date:          g.Date,
			SenderID:      g.SenderID,
			Text:          g.Text,
			TruncatedText: g.Truncated,
			FilesReport:   g.FilesReport,
			Selected:      true,
		}); err != nil {
			return err
		}
		for _, f := range append(slices.Clip(g.Files), content) {
			if _, err := tx.UpsertFile(&store.File{
				Path:      f.Path,
				GroupedID: g.Key,
				MessageID: f.MessageID,
				Size:      f.Size,
				Type:      f.Type,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		discard()
		return fmt.Errorf("commit rows: %w", err)
	}

	for _, f := range g.Files {
		sf, ok := staged[f.Path]
		if !ok {
			continue
		}
		delete(staged, f.Path)
		if err := s.downloader.Commit(sf.tmp, f.Path); err != nil {
			res.Errors++
			rep.StepFailed(sf.step, res.Files, "Failed %s: %v", f.Path, err)
			failed = err
			continue
		}
		res.Downloaded++
		rep.Step(sf.step, res.Files, "Downloaded %s", f.Path)
	}

	if err := s.exporter.Export(ctx, g.Key, content.Path); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if failed != nil {
		return failed
	}
	return s.db.SetSelected(ctx, g.Key, false)
}
