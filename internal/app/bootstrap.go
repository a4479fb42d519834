package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"paper_go/internal/checkpoint"
	"paper_go/internal/engine"
	"paper_go/internal/execution"
	"paper_go/internal/infra"
	"paper_go/internal/metrics"
	"paper_go/internal/storage"
)

// Bootstrap owns everything the daemon builds at startup, in dependency order.
type Bootstrap struct {
	Config      *infra.Config
	Logger      *slog.Logger
	Paths       infra.Paths
	Journal     *storage.SQLiteStore // nil when journaling is off
	Store       storage.CheckpointStore
	Checkpoints *checkpoint.Manager
	Metrics     *metrics.Metrics
	Sequencer   *engine.Sequencer

	syncLog func() error
	unlock  func()
}

// NewBootstrap creates an empty Bootstrap for cfg.
func NewBootstrap(cfg *infra.Config) *Bootstrap {
	return &Bootstrap{Config: cfg}
}

// Initialize builds logger, data layout, stores, metrics, engine and sequencer,
// then recovers state from the latest checkpoint and the journal tail.
// On error everything opened so far is closed.
func (b *Bootstrap) Initialize(ctx context.Context, logOut io.Writer) (err error) {
	cfg := b.Config
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	// 1. Logger
	logger, syncLog, err := infra.NewLogger(cfg.Logging.Level, cfg.Logging.Format, logOut)
	if err != nil {
		return err
	}
	b.Logger, b.syncLog = logger.With(slog.String("identity", cfg.Engine.Identity)), syncLog
	slog.SetDefault(b.Logger)

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}

	// 2. Data layout and instance lock
	root := cfg.Storage.Dir
	if root == "" {
		root = filepath.Join(infra.GetWorkspaceDir(), "data")
	}
	b.Paths = infra.ResolvePaths(root, cfg.Engine.Identity)
	if err := b.Paths.Ensure(); err != nil {
		return err
	}
	if b.unlock, err = infra.CreateLockFile(root, cfg.Engine.Identity); err != nil {
		return err
	}

	if !cfg.Checkpoint.RestoreOnStart {
		if err := archiveJournal(b.Paths.Journal); err != nil {
			return err
		}
	}

	// 3. Stores
	if cfg.Storage.Journal {
		if b.Journal, err = storage.NewSQLiteStore(b.Paths.Journal); err != nil {
			return err
		}
		b.Logger.Info("JOURNAL_OPENED", slog.String("path", b.Paths.Journal))

		// Record which config and version wrote to this journal.
		raw, err := json.Marshal(engineCfg)
		if err != nil {
			return err
		}
		now := time.Now().UnixMicro()
		if err := b.Journal.UpsertMetadata(ctx, "engine.config", string(raw), now); err != nil {
			return fmt.Errorf("failed to record journal metadata: %w", err)
		}
		if err := b.Journal.UpsertMetadata(ctx, "app.version", cfg.App.Version, now); err != nil {
			return fmt.Errorf("failed to record journal metadata: %w", err)
		}
	}
	b.Store, err = storage.Open(ctx, storage.Options{
		Backend:       cfg.Storage.Backend,
		Dir:           root,
		RedisAddr:     cfg.Storage.RedisAddr,
		RedisPassword: cfg.Storage.RedisPassword,
		RedisDB:       cfg.Storage.RedisDB,
		RedisPrefix:   cfg.Storage.RedisPrefix,
	})
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}

	// 4. Metrics, wired into the engine, the checkpoint manager and the breaker
	b.Metrics = metrics.New(cfg.Engine.Identity)
	if g, ok := b.Store.(*storage.GuardedStore); ok {
		g.Breaker().OnTransition(b.Metrics.BreakerTransition)
	}
	b.Checkpoints = checkpoint.NewManager(b.Store,
		checkpoint.WithLogger(b.Logger),
		checkpoint.WithObserver(b.Metrics))

	// 5. Engine and sequencer
	engineOpts := []execution.Option{
		execution.WithLogger(b.Logger),
		execution.WithObserver(b.Metrics),
	}
	eng, err := execution.New(engineCfg, engineOpts...)
	if err != nil {
		return err
	}

	seqCfg := engine.Config{
		InboxSize:  cfg.Engine.InboxSize,
		DumpPath:   b.Paths.DumpFile(cfg.Engine.Identity),
		Logger:     b.Logger,
		EngineOpts: engineOpts,
	}
	if b.Journal != nil {
		seqCfg.Journal = b.Journal
	}
	seqCfg.Checkpoints = b.Checkpoints
	b.Sequencer = engine.NewSequencer(eng, seqCfg)

	// 6. Recovery
	if cfg.Checkpoint.RestoreOnStart {
		if err := b.Sequencer.RecoverFromWAL(ctx); err != nil {
			return fmt.Errorf("recovery failed: %w", err)
		}
	}

	b.Logger.Info("BOOTSTRAP_COMPLETE",
		slog.String("backend", cfg.Storage.Backend),
		slog.Bool("journal", b.Journal != nil),
		slog.Uint64("next_seq", b.Sequencer.NextSeq()),
		slog.String("engine_time", b.Sequencer.Now().String()))
	return nil
}

// Close releases stores, the instance lock and flushes the logger. Safe to call twice.
func (b *Bootstrap) Close() error {
	var errs []error
	if b.Store != nil {
		errs = append(errs, b.Store.Close())
		b.Store = nil
	}
	if b.Journal != nil {
		errs = append(errs, b.Journal.Close())
		b.Journal = nil
	}
	if b.unlock != nil {
		b.unlock()
		b.unlock = nil
	}
	if b.syncLog != nil {
		// zap returns EINVAL syncing stdout/stderr on some platforms.
		_ = b.syncLog()
		b.syncLog = nil
	}
	return errors.Join(errs...)
}

// archiveJournal moves an existing journal aside so a fresh engine does not
// collide with old sequence numbers.
func archiveJournal(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	suffix := "." + time.Now().UTC().Format("20060102T150405") + ".bak"
	for _, ext := range []string{"", "-wal", "-shm"} {
		src := path + ext
		if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := os.Rename(src, src+suffix); err != nil {
			return fmt.Errorf("failed to archive journal: %w", err)
		}
	}
	slog.Warn("JOURNAL_ARCHIVED", slog.String("path", path+suffix))
	return nil
}
