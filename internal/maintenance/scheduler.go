// Package maintenance schedules reconciliation of the archive.
package maintenance

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/matheus3301/wpp-archive/internal/archive"
	"github.com/matheus3301/wpp-archive/internal/bus"
	"github.com/matheus3301/wpp-archive/internal/reconcile"
	"go.uber.org/zap"
)

const defaultDebounce = 2 * time.Second

// Runner performs one reconciliation.
type Runner interface {
	Run(ctx context.Context) (*reconcile.Report, error)
}

// Options controls when reconciliation runs.
type Options struct {
	// Interval between periodic runs. Zero disables the ticker.
	Interval time.Duration
	// AfterSave runs reconciliation after every archive save.
	AfterSave bool
	// Watch runs reconciliation when files disappear from Root.
	Watch    bool
	Root     string
	Debounce time.Duration
}

// Scheduler triggers reconciliation periodically, after saves and on
// out-of-band changes to the media tree. Runs never overlap.
type Scheduler struct {
	runner  Runner
	bus     *bus.Bus
	logger  *zap.Logger
	opts    Options
	trigger chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	last   *reconcile.Report
}

// New creates a scheduler.
func New(r Runner, b *bus.Bus, logger *zap.Logger, opts Options) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	return &Scheduler{
		runner:  r,
		bus:     b,
		logger:  logger,
		opts:    opts,
		trigger: make(chan struct{}, 1),
	}
}

// Start begins scheduling. It fails only when the media root cannot be watched.
func (s *Scheduler) Start(ctx context.Context) error {
	var watcher *fsnotify.Watcher
	if s.opts.Watch {
		var err error
		if watcher, err = s.watch(); err != nil {
			return err
		}
	}

	var saved <-chan bus.Event
	unsub := func() {}
	if s.opts.AfterSave && s.bus != nil {
		saved, unsub = s.bus.Subscribe(bus.KindArchiveSaved, 16)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer unsub()
		if watcher != nil {
			defer func() { _ = watcher.Close() }()
		}
		s.loop(ctx, saved, watcher)
	}()
	return nil
}

// Stop stops the loop and waits for a running reconciliation to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Trigger requests a run without waiting for it. Requests made while a run
// is pending are merged.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Last returns the report of the latest successful run, or nil.
func (s *Scheduler) Last() *reconcile.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Scheduler) loop(ctx context.Context, saved <-chan bus.Event, watcher *fsnotify.Watcher) {
	var tick <-chan time.Time
	if s.opts.Interval > 0 {
		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if watcher != nil {
		events, watchErrs = watcher.Events, watcher.Errors
	}

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	reconcileNow := func(reason string) {
		s.run(ctx, reason)
		// A run deletes and restores files itself; those events are not
		// out-of-band changes.
		s.skipPending(watcher, events)
		debounce.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			reconcileNow("interval")
		case <-s.trigger:
			reconcileNow("manual")
		case _, ok := <-saved:
			if !ok {
				saved = nil
				continue
			}
			drain(saved)
			reconcileNow("save")
		case evt, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if s.relevant(watcher, evt) {
				debounce.Reset(s.opts.Debounce)
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			s.logger.Warn("media watcher error", zap.Error(err))
		case <-debounce.C:
			reconcileNow("watch")
		}
	}
}

func (s *Scheduler) skipPending(watcher *fsnotify.Watcher, events <-chan fsnotify.Event) {
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			s.relevant(watcher, evt)
		default:
			return
		}
	}
}

// relevant reports whether evt should schedule a run. New directories are
// added to the watch list as a side effect.
func (s *Scheduler) relevant(watcher *fsnotify.Watcher, evt fsnotify.Event) bool {
	if archive.IsStaging(evt.Name) {
		return false
	}
	if evt.Has(fsnotify.Create) {
		if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
			if err := addTree(watcher, evt.Name); err != nil {
				s.logger.Warn("failed to watch directory", zap.String("path", evt.Name), zap.Error(err))
			}
		}
		return false
	}
	return evt.Has(fsnotify.Remove) || evt.Has(fsnotify.Rename)
}

func (s *Scheduler) run(ctx context.Context, reason string) {
	s.logger.Info("reconciliation scheduled", zap.String("reason", reason))
	res, err := s.runner.Run(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Error("scheduled reconciliation failed", zap.String("reason", reason), zap.Error(err))
		}
		return
	}
	s.mu.Lock()
	s.last = res
	s.mu.Unlock()
}

func (s *Scheduler) watch() (*fsnotify.Watcher, error) {
	if err := os.MkdirAll(s.opts.Root, 0755); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := addTree(watcher, s.opts.Root); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	return watcher, nil
}

// addTree watches dir and every directory below it. fsnotify is not recursive.
func addTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return watcher.Add(p)
	})
}

func drain(ch <-chan bus.Event) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
