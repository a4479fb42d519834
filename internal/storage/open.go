package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"paper_go/internal/infra"
)

// Options selects and configures a checkpoint backend.
type Options struct {
	Backend string
	Dir     string // file, sqlite and badger backends

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Open builds the configured checkpoint store. The Redis backend is wrapped
// in a circuit breaker; local backends are not.
func Open(ctx context.Context, opts Options) (CheckpointStore, error) {
	switch opts.Backend {
	case BackendFile, "":
		return NewFileStore(filepath.Join(opts.Dir, "checkpoints"))
	case BackendSQLite:
		return NewSQLiteStore(filepath.Join(opts.Dir, "checkpoints.db"))
	case BackendBadger:
		return NewBadgerStore(filepath.Join(opts.Dir, "badger"))
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendRedis:
		rs, err := NewRedisStore(ctx, opts.RedisAddr, opts.RedisPassword, opts.RedisDB, opts.RedisPrefix)
		if err != nil {
			return nil, err
		}
		return NewGuardedStore(rs, infra.NewCircuitBreaker(infra.DefaultCircuitBreakerConfig("redis-checkpoints"))), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", opts.Backend)
	}
}
