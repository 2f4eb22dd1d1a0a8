// Package daemon composes the archive daemon with fx.
package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/wpp-archive/internal/aggregate"
	"github.com/matheus3301/wpp-archive/internal/api"
	"github.com/matheus3301/wpp-archive/internal/archive"
	"github.com/matheus3301/wpp-archive/internal/bus"
	"github.com/matheus3301/wpp-archive/internal/chat"
	"github.com/matheus3301/wpp-archive/internal/config"
	"github.com/matheus3301/wpp-archive/internal/lock"
	"github.com/matheus3301/wpp-archive/internal/logging"
	"github.com/matheus3301/wpp-archive/internal/maintenance"
	"github.com/matheus3301/wpp-archive/internal/media"
	"github.com/matheus3301/wpp-archive/internal/progress"
	"github.com/matheus3301/wpp-archive/internal/reconcile"
	"github.com/matheus3301/wpp-archive/internal/session"
	"github.com/matheus3301/wpp-archive/internal/status"
	"github.com/matheus3301/wpp-archive/internal/store"
	intsync "github.com/matheus3301/wpp-archive/internal/sync"
	"github.com/matheus3301/wpp-archive/internal/tags"
	"github.com/matheus3301/wpp-archive/internal/wa"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Config      *config.Config
	SocketPath  string // optional override for testing; empty = use default
}

// MediaRoot returns the directory archived files are written under.
func (p Params) MediaRoot() string {
	if p.Config != nil && p.Config.Archive.MediaRoot != "" {
		return p.Config.Archive.MediaRoot
	}
	return session.MediaRoot(p.SessionName)
}

func (p Params) config() *config.Config {
	if p.Config == nil {
		return config.Default()
	}
	return p.Config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideAdapter,
			provideEventHandler,
			provideSyncEngine,
			provideTransport,
			provideLocation,
			provideAggregator,
			provideFetcher,
			provideDownloader,
			provideExporter,
			archive.NewGate,
			provideProgress,
			provideSaver,
			provideTagManager,
			provideReconciler,
			provideScheduler,
			provideArchiveService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(p.config().LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	return logging.New(session.LogPath(p.SessionName), p.SessionName, level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore opens the archive once the lock is held.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.ArchiveDBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	res, err := db.Startup(context.Background())
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("store initialized",
		zap.String("path", dbPath),
		zap.Uint("schema_version", res.Migration.Version),
		zap.Bool("migrated", res.Migration.Changed),
		zap.Int64("interrupted_saves", res.Interrupted),
		zap.Int64("dialogs_removed", res.Maintenance.DialogsDeleted),
		zap.Int64("tags_removed", res.Maintenance.TagsDeleted))
	return db, nil
}

func provideAdapter(p Params, _ *lock.Lock, b *bus.Bus, machine *status.Machine, logger *zap.Logger) (*wa.Adapter, error) {
	return wa.NewAdapter(context.Background(), session.SessionDBPath(p.SessionName), b, machine, logger)
}

func provideEventHandler(b *bus.Bus, machine *status.Machine, adapter *wa.Adapter, logger *zap.Logger) *wa.EventHandler {
	return wa.NewEventHandler(b, machine, adapter, logger)
}

func provideSyncEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, logger)
}

func provideTransport(db *store.DB, adapter *wa.Adapter, logger *zap.Logger) chat.Transport {
	return wa.NewTransport(db, adapter, logger)
}

func provideLocation(p Params) (*time.Location, error) {
	return p.config().Location()
}

func provideAggregator(loc *time.Location) *aggregate.Aggregator {
	return aggregate.New(media.NewDeriver(loc))
}

func provideFetcher(p Params, t chat.Transport, agg *aggregate.Aggregator, db *store.DB) *archive.Fetcher {
	a := p.config().Archive
	return archive.NewFetcher(t, agg, db, archive.Settings{
		DefaultDays:    a.DefaultDays,
		TruncateLength: a.TruncateLength,
		TruncateSlack:  a.TruncateSlack,
	})
}

func provideDownloader(p Params, t chat.Transport, logger *zap.Logger) *archive.Downloader {
	a := p.config().Archive
	return archive.NewDownloader(t, p.MediaRoot(), archive.Limits{
		MaxSize:   a.MaxDownloadSize,
		PerSecond: a.DownloadsPerSecond,
		Retries:   a.DownloadRetries,
	}, logger)
}

func provideExporter(p Params, db *store.DB, loc *time.Location) *archive.Exporter {
	return archive.NewExporter(db, p.MediaRoot(), loc)
}

func provideProgress(b *bus.Bus, logger *zap.Logger) *progress.Log {
	return progress.New(b, logger.Named("progress"))
}

func provideSaver(db *store.DB, agg *aggregate.Aggregator, d *archive.Downloader, e *archive.Exporter,
	gate *archive.Gate, plog *progress.Log, b *bus.Bus, logger *zap.Logger) *archive.Saver {
	return archive.NewSaver(db, agg, d, e, gate, plog, b, logger)
}

func provideTagManager(db *store.DB, logger *zap.Logger) *tags.Manager {
	return tags.NewManager(db, logger)
}

func provideReconciler(p Params, db *store.DB, d *archive.Downloader, e *archive.Exporter,
	gate *archive.Gate, plog *progress.Log, b *bus.Bus, logger *zap.Logger) *reconcile.Engine {
	return reconcile.New(db, d, e, gate, plog, b, logger, reconcile.Options{
		Extensions: p.config().Archive.SyncExtensions,
		BackupDir:  session.BackupDir(p.SessionName),
	})
}

func provideScheduler(p Params, engine *reconcile.Engine, b *bus.Bus, logger *zap.Logger) *maintenance.Scheduler {
	m := p.config().Maintenance
	return maintenance.New(engine, b, logger, maintenance.Options{
		Interval:  m.Interval,
		AfterSave: m.AfterSave,
		Watch:     m.Watch,
		Root:      p.MediaRoot(),
	})
}

type serviceParams struct {
	fx.In

	Params     Params
	Bus        *bus.Bus
	DB         *store.DB
	Fetcher    *archive.Fetcher
	Saver      *archive.Saver
	Gate       *archive.Gate
	Tags       *tags.Manager
	Reconciler *reconcile.Engine
	Progress   *progress.Log
	Machine    *status.Machine
	Adapter    *wa.Adapter
	Scheduler  *maintenance.Scheduler
	Logger     *zap.Logger
}

func provideArchiveService(sp serviceParams) *api.ArchiveService {
	return api.NewArchiveService(api.Deps{
		Session:    sp.Params.SessionName,
		Bus:        sp.Bus,
		DB:         sp.DB,
		Fetcher:    sp.Fetcher,
		Saver:      sp.Saver,
		Gate:       sp.Gate,
		Tags:       sp.Tags,
		Reconciler: sp.Reconciler,
		Progress:   sp.Progress,
		Machine:    sp.Machine,
		Account:    sp.Adapter,
		LastReport: sp.Scheduler.Last,
		Logger:     sp.Logger,
	})
}

type lifecycleParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Server    *Server
	Lock      *lock.Lock
	DB        *store.DB
	Adapter   *wa.Adapter
	Handler   *wa.EventHandler
	Engine    *intsync.Engine
	Scheduler *maintenance.Scheduler
	Machine   *status.Machine
	Logger    *zap.Logger
}

func registerLifecycle(lp lifecycleParams) {
	logger := lp.Logger
	lp.Lifecycle.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Ingestion subscribes before any whatsmeow event can arrive.
			lp.Engine.Start(context.Background())
			lp.Adapter.RegisterEventHandler(lp.Handler.Handle)

			go func() {
				if err := lp.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if err := lp.Scheduler.Start(context.Background()); err != nil {
				return fmt.Errorf("start maintenance: %w", err)
			}

			go func() {
				if err := lp.Adapter.Start(); err != nil {
					logger.Error("connect failed", zap.Error(err))
					if err := lp.Machine.Transition(status.Error); err != nil {
						logger.Warn("ignored state transition", zap.Error(err))
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			lp.Scheduler.Stop()
			lp.Adapter.Disconnect()
			lp.Engine.Stop()
			lp.Server.Stop(ctx)
			if err := lp.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lp.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
