package storage

import (
	"context"
	"errors"

	"paper_go/internal/domain"
	"paper_go/internal/infra"
)

// GuardedStore wraps a remote CheckpointStore in a circuit breaker so callers
// fail fast with infra.ErrCircuitOpen while the backend is down.
// Not-found results are answers, not failures, and do not trip the breaker.
type GuardedStore struct {
	inner   CheckpointStore
	breaker *infra.CircuitBreaker
}

// NewGuardedStore wraps inner with breaker.
func NewGuardedStore(inner CheckpointStore, breaker *infra.CircuitBreaker) *GuardedStore {
	return &GuardedStore{inner: inner, breaker: breaker}
}

// Breaker exposes the breaker for metrics hooks.
func (g *GuardedStore) Breaker() *infra.CircuitBreaker { return g.breaker }

func (g *GuardedStore) run(fn func() error) error {
	var answer error
	err := g.breaker.Execute(func() error {
		err := fn()
		if errors.Is(err, domain.ErrCheckpointNotFound) {
			answer = err
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	return answer
}

func (g *GuardedStore) Put(ctx context.Context, identity string, ts int64, data []byte) error {
	return g.run(func() error { return g.inner.Put(ctx, identity, ts, data) })
}

func (g *GuardedStore) Get(ctx context.Context, identity string, ts int64) ([]byte, error) {
	var data []byte
	err := g.run(func() (err error) {
		data, err = g.inner.Get(ctx, identity, ts)
		return err
	})
	return data, err
}

func (g *GuardedStore) Latest(ctx context.Context, identity string) (int64, []byte, error) {
	var ts int64
	var data []byte
	err := g.run(func() (err error) {
		ts, data, err = g.inner.Latest(ctx, identity)
		return err
	})
	return ts, data, err
}

func (g *GuardedStore) List(ctx context.Context, identity string) ([]int64, error) {
	var out []int64
	err := g.run(func() (err error) {
		out, err = g.inner.List(ctx, identity)
		return err
	})
	return out, err
}

func (g *GuardedStore) Delete(ctx context.Context, identity string, ts int64) error {
	return g.run(func() error { return g.inner.Delete(ctx, identity, ts) })
}

func (g *GuardedStore) Close() error {
	return g.inner.Close()
}
