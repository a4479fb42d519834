package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps checkpoints in Redis.
// Keys: "<prefix>:ckpt:<identity>:<ts>" (document), "<prefix>:idx:<identity>" (sorted set of ts),
// "<prefix>:latest:<identity>" (ts).
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to addr and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	if prefix == "" {
		prefix = "paper"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) docKey(identity string, ts int64) string {
	return fmt.Sprintf("%s:ckpt:%s:%d", s.prefix, identity, ts)
}

func (s *RedisStore) indexKey(identity string) string {
	return s.prefix + ":idx:" + identity
}

func (s *RedisStore) latestKey(identity string) string {
	return s.prefix + ":latest:" + identity
}

func (s *RedisStore) Put(ctx context.Context, identity string, ts int64, data []byte) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.docKey(identity, ts), data, 0)
		pipe.ZAdd(ctx, s.indexKey(identity), redis.Z{Score: float64(ts), Member: strconv.FormatInt(ts, 10)})
		pipe.Set(ctx, s.latestKey(identity), ts, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store checkpoint: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, identity string, ts int64) ([]byte, error) {
	data, err := s.client.Get(ctx, s.docKey(identity, ts)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(identity, ts)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	return data, nil
}

func (s *RedisStore) Latest(ctx context.Context, identity string) (int64, []byte, error) {
	ts, err := s.client.Get(ctx, s.latestKey(identity)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil, notFound(identity, 0)
	}
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read latest pointer: %w", err)
	}
	data, err := s.Get(ctx, identity, ts)
	return ts, data, err
}

func (s *RedisStore) List(ctx context.Context, identity string) ([]int64, error) {
	members, err := s.client.ZRange(ctx, s.indexKey(identity), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	out := make([]int64, 0, len(members))
	for _, m := range members {
		ts, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, ts)
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, identity string, ts int64) error {
	latest, err := s.client.Get(ctx, s.latestKey(identity)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to read latest pointer: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.docKey(identity, ts))
		pipe.ZRem(ctx, s.indexKey(identity), strconv.FormatInt(ts, 10))
		if latest == ts {
			pipe.Del(ctx, s.latestKey(identity))
		}
		return nil
	})
	return err
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
