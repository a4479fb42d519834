package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore persists checkpoints in BadgerDB.
// Keys: "ckpt/<identity>/<ts zero-padded>" -> document, "latest/<identity>" -> ts (big-endian).
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens a store at path. An empty path runs in memory.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func badgerPrefix(identity string) []byte {
	return []byte("ckpt/" + identity + "/")
}

func badgerKey(identity string, ts int64) []byte {
	return []byte(fmt.Sprintf("ckpt/%s/%020d", identity, ts))
}

func badgerLatestKey(identity string) []byte {
	return []byte("latest/" + identity)
}

func (s *BadgerStore) Put(_ context.Context, identity string, ts int64, data []byte) error {
	if ts < 0 {
		return fmt.Errorf("negative checkpoint ts %d", ts)
	}
	var ptr [8]byte
	binary.BigEndian.PutUint64(ptr[:], uint64(ts))
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(badgerKey(identity, ts), data); err != nil {
			return err
		}
		return txn.Set(badgerLatestKey(identity), ptr[:])
	})
}

func (s *BadgerStore) Get(_ context.Context, identity string, ts int64) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(identity, ts))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, notFound(identity, ts)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	return data, nil
}

func (s *BadgerStore) Latest(ctx context.Context, identity string) (int64, []byte, error) {
	var ts int64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerLatestKey(identity))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			if len(v) != 8 {
				return fmt.Errorf("corrupt latest pointer for %s", identity)
			}
			ts = int64(binary.BigEndian.Uint64(v))
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil, notFound(identity, 0)
	}
	if err != nil {
		return 0, nil, err
	}
	data, err := s.Get(ctx, identity, ts)
	return ts, data, err
}

func (s *BadgerStore) List(_ context.Context, identity string) ([]int64, error) {
	prefix := badgerPrefix(identity)
	var out []int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			ts, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				continue
			}
			out = append(out, ts)
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) Delete(_ context.Context, identity string, ts int64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(badgerKey(identity, ts)); err != nil {
			return err
		}
		item, err := txn.Get(badgerLatestKey(identity))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		ptr, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if len(ptr) == 8 && int64(binary.BigEndian.Uint64(ptr)) == ts {
			return txn.Delete(badgerLatestKey(identity))
		}
		return nil
	})
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
