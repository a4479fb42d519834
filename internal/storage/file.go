package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const latestFile = "LATEST"

// FileStore writes each checkpoint as an indented JSON file:
// <dir>/<identity>/checkpoint_<ts>.json, plus a LATEST file holding the ts.
type FileStore struct {
	dir string
}

// NewFileStore creates a file store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (fs *FileStore) identityDir(identity string) (string, error) {
	if identity == "" || strings.ContainsAny(identity, `/\`) || identity == "." || identity == ".." {
		return "", fmt.Errorf("invalid identity %q", identity)
	}
	return filepath.Join(fs.dir, identity), nil
}

func checkpointFile(ts int64) string {
	return fmt.Sprintf("checkpoint_%d.json", ts)
}

// writeAtomic writes via a temp file and rename so readers never see a partial file.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (fs *FileStore) Put(_ context.Context, identity string, ts int64, data []byte) error {
	dir, err := fs.identityDir(identity)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint dir: %w", err)
	}

	path := filepath.Join(dir, checkpointFile(ts))
	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, latestFile), []byte(strconv.FormatInt(ts, 10))); err != nil {
		return fmt.Errorf("failed to update latest pointer: %w", err)
	}

	slog.Debug("Checkpoint file written", slog.String("path", path))
	return nil
}

func (fs *FileStore) Get(_ context.Context, identity string, ts int64) ([]byte, error) {
	dir, err := fs.identityDir(identity)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, checkpointFile(ts)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, notFound(identity, ts)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	return data, nil
}

func (fs *FileStore) Latest(ctx context.Context, identity string) (int64, []byte, error) {
	dir, err := fs.identityDir(identity)
	if err != nil {
		return 0, nil, err
	}
	raw, err := os.ReadFile(filepath.Join(dir, latestFile))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil, notFound(identity, 0)
	}
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read latest pointer: %w", err)
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("corrupt latest pointer for %s: %w", identity, err)
	}
	data, err := fs.Get(ctx, identity, ts)
	return ts, data, err
}

func (fs *FileStore) List(_ context.Context, identity string) ([]int64, error) {
	dir, err := fs.identityDir(identity)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint dir: %w", err)
	}

	var out []int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var ts int64
		if _, err := fmt.Sscanf(entry.Name(), "checkpoint_%d.json", &ts); err != nil {
			continue // Not a checkpoint file
		}
		if entry.Name() != checkpointFile(ts) {
			continue // e.g. a leftover .tmp
		}
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (fs *FileStore) Delete(_ context.Context, identity string, ts int64) error {
	dir, err := fs.identityDir(identity)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(dir, checkpointFile(ts))); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove checkpoint: %w", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, latestFile))
	if err == nil && strings.TrimSpace(string(raw)) == strconv.FormatInt(ts, 10) {
		return os.Remove(filepath.Join(dir, latestFile))
	}
	return nil
}

func (fs *FileStore) Close() error { return nil }
