package storage

import (
	"context"
	"fmt"
	"sort"

	"paper_go/internal/domain"
)

// CheckpointStore persists encoded checkpoints keyed by (identity, ts), where ts
// is the checkpoint's wall-clock creation time in Unix microseconds.
// Put also moves the identity's latest pointer to ts.
type CheckpointStore interface {
	Put(ctx context.Context, identity string, ts int64, data []byte) error
	Get(ctx context.Context, identity string, ts int64) ([]byte, error)
	// Latest returns the document the latest pointer names, and its ts.
	Latest(ctx context.Context, identity string) (int64, []byte, error)
	// List returns every stored ts for identity, ascending.
	List(ctx context.Context, identity string) ([]int64, error)
	Delete(ctx context.Context, identity string, ts int64) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

func notFound(identity string, ts int64) error {
	key := "latest"
	if ts != 0 {
		key = fmt.Sprintf("%d", ts)
	}
	return &domain.CheckpointNotFoundError{Identity: identity, Key: key}
}

func sortedKeys[M ~map[int64]V, V any](m M) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
