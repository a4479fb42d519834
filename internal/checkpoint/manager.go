// Package checkpoint captures, persists and restores versioned engine checkpoints.
package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"paper_go/internal/domain"
	"paper_go/internal/execution"
	"paper_go/internal/storage"
	"paper_go/pkg/quant"
)

// SchemaVersion is the document version this build writes.
const SchemaVersion = 1

// SupportedVersions lists every schema version this build can read.
var SupportedVersions = []int{1}

// Checkpoint is an immutable, self-describing snapshot of one engine.
// All decimals encode as exact strings.
type Checkpoint struct {
	SchemaVersion int                   `json:"schema_version"`
	Identity      string                `json:"identity"`
	CreatedAt     time.Time             `json:"created_at"`
	EngineTime    quant.TimeStamp       `json:"engine_time"`
	JournalSeq    uint64                `json:"journal_seq"` // last journaled command folded into State
	State         execution.EngineState `json:"state"`
}

// Key is the store key: creation time in Unix microseconds.
func (c Checkpoint) Key() int64 {
	return c.CreatedAt.UnixMicro()
}

// Source is anything that can copy out engine state.
type Source interface {
	Identity() string
	Snapshot() (execution.EngineState, error)
}

// Observer receives persistence outcomes.
type Observer interface {
	CheckpointPersisted(identity string, size int, took time.Duration)
	CheckpointFailed(identity string, err error)
}

type nopObserver struct{}

func (nopObserver) CheckpointPersisted(string, int, time.Duration) {}
func (nopObserver) CheckpointFailed(string, error)                 {}

// Encode renders cp as indented JSON so stored checkpoints stay diffable.
func Encode(cp Checkpoint) ([]byte, error) {
	return json.MarshalIndent(cp, "", "  ")
}

// Decode parses a checkpoint document. The version header is checked before
// the body so an unknown layout is never half-loaded.
func Decode(data []byte) (Checkpoint, error) {
	var header struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return Checkpoint{}, fmt.Errorf("failed to read checkpoint header: %w", err)
	}
	if err := checkVersion(header.SchemaVersion); err != nil {
		return Checkpoint{}, err
	}

	var cp Checkpoint
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cp); err != nil {
		return Checkpoint{}, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return cp, nil
}

func checkVersion(v int) error {
	if !slices.Contains(SupportedVersions, v) {
		return &domain.IncompatibleCheckpointError{Version: v, Supported: slices.Clone(SupportedVersions)}
	}
	return nil
}

// Manager creates checkpoints and moves them in and out of a store.
type Manager struct {
	store    storage.CheckpointStore
	logger   *slog.Logger
	observer Observer
	now      func() time.Time

	mu      sync.Mutex
	lastKey int64
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithObserver registers persistence hooks.
func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithClock overrides the wall clock used for CreatedAt.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a manager over store.
func NewManager(store storage.CheckpointStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    store,
		logger:   slog.Default(),
		observer: nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create copies the state out of src. The returned checkpoint shares no memory
// with the engine. CreatedAt is strictly increasing per manager so keys never collide.
func (m *Manager) Create(src Source, journalSeq uint64) (Checkpoint, error) {
	st, err := src.Snapshot()
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to snapshot engine: %w", err)
	}

	m.mu.Lock()
	created := m.now().UTC().Truncate(time.Microsecond)
	if key := created.UnixMicro(); key <= m.lastKey {
		created = time.UnixMicro(m.lastKey + 1).UTC()
	}
	m.lastKey = created.UnixMicro()
	m.mu.Unlock()

	return Checkpoint{
		SchemaVersion: SchemaVersion,
		Identity:      src.Identity(),
		CreatedAt:     created,
		EngineTime:    st.Clock,
		JournalSeq:    journalSeq,
		State:         st,
	}, nil
}

// Persist writes cp and moves the identity's latest pointer to it.
func (m *Manager) Persist(ctx context.Context, cp Checkpoint) error {
	start := time.Now()
	data, err := Encode(cp)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := m.store.Put(ctx, cp.Identity, cp.Key(), data); err != nil {
		m.observer.CheckpointFailed(cp.Identity, err)
		return fmt.Errorf("failed to persist checkpoint: %w", err)
	}
	took := time.Since(start)
	m.observer.CheckpointPersisted(cp.Identity, len(data), took)
	m.logger.Info("CHECKPOINT_PERSISTED",
		slog.String("identity", cp.Identity),
		slog.Int64("key", cp.Key()),
		slog.Uint64("journal_seq", cp.JournalSeq),
		slog.Int("bytes", len(data)),
		slog.Duration("took", took))
	return nil
}

// Save is Create followed by Persist.
func (m *Manager) Save(ctx context.Context, src Source, journalSeq uint64) (Checkpoint, error) {
	cp, err := m.Create(src, journalSeq)
	if err != nil {
		return Checkpoint{}, err
	}
	return cp, m.Persist(ctx, cp)
}

// LoadLatest reads the checkpoint the identity's latest pointer names.
func (m *Manager) LoadLatest(ctx context.Context, identity string) (Checkpoint, error) {
	_, data, err := m.store.Latest(ctx, identity)
	if err != nil {
		return Checkpoint{}, err
	}
	return decodeFor(identity, data)
}

// Load reads one checkpoint by key.
func (m *Manager) Load(ctx context.Context, identity string, key int64) (Checkpoint, error) {
	data, err := m.store.Get(ctx, identity, key)
	if err != nil {
		return Checkpoint{}, err
	}
	return decodeFor(identity, data)
}

func decodeFor(identity string, data []byte) (Checkpoint, error) {
	cp, err := Decode(data)
	if err != nil {
		return Checkpoint{}, err
	}
	if cp.Identity != identity {
		return Checkpoint{}, fmt.Errorf("checkpoint belongs to %q, not %q", cp.Identity, identity)
	}
	return cp, nil
}

// List returns stored checkpoint keys for identity, oldest first.
func (m *Manager) List(ctx context.Context, identity string) ([]int64, error) {
	return m.store.List(ctx, identity)
}

// Prune deletes all but the newest keep checkpoints. The latest pointer's
// target is never deleted. Returns the number removed.
func (m *Manager) Prune(ctx context.Context, identity string, keep int) (int, error) {
	if keep < 1 {
		return 0, errors.New("keep must be >= 1")
	}
	keys, err := m.store.List(ctx, identity)
	if err != nil {
		return 0, err
	}
	if len(keys) <= keep {
		return 0, nil
	}
	latest, _, err := m.store.Latest(ctx, identity)
	if err != nil && !errors.Is(err, domain.ErrCheckpointNotFound) {
		return 0, err
	}

	removed := 0
	for _, k := range keys[:len(keys)-keep] {
		if k == latest {
			continue
		}
		if err := m.store.Delete(ctx, identity, k); err != nil {
			return removed, fmt.Errorf("failed to delete checkpoint %d: %w", k, err)
		}
		removed++
	}
	if removed > 0 {
		m.logger.Info("CHECKPOINTS_PRUNED", slog.String("identity", identity), slog.Int("removed", removed))
	}
	return removed, nil
}

// Restore rebuilds an engine from cp. It is all-or-nothing: a version or
// state problem returns an error and no engine.
func Restore(cp Checkpoint, opts ...execution.Option) (*execution.PaperEngine, error) {
	if err := checkVersion(cp.SchemaVersion); err != nil {
		return nil, err
	}
	if cp.Identity != cp.State.Config.Identity {
		return nil, fmt.Errorf("checkpoint identity %q does not match state identity %q",
			cp.Identity, cp.State.Config.Identity)
	}
	e, err := execution.Restore(cp.State, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to restore checkpoint %d: %w", cp.Key(), err)
	}
	return e, nil
}
