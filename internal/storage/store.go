package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"paper_go/internal/event"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteStore is the command journal (WAL-first event log), a metadata KV table
// and a checkpoint store in one SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database with WAL mode enabled.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One writer; SQLite serializes anyway and this avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;", // 2MB cache
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY,
			type INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			payload BLOB NOT NULL,
			version INTEGER NOT NULL DEFAULT 1
		);`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			identity TEXT NOT NULL,
			ts INTEGER NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (identity, ts)
		);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// SaveEvent appends a command to the journal. The event's Seq is its primary key,
// so a replayed or duplicated seq fails instead of overwriting history.
func (s *SQLiteStore) SaveEvent(ctx context.Context, ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO events (id, type, ts, payload) VALUES (?, ?, ?, ?)",
		ev.GetSeq(), ev.GetType(), ev.GetTs(), payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// GetLastSeq returns the highest journaled sequence number, or 0 if empty.
func (s *SQLiteStore) GetLastSeq(ctx context.Context) (uint64, error) {
	var lastSeq sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT MAX(id) FROM events").Scan(&lastSeq)
	if err != nil {
		return 0, fmt.Errorf("failed to get last seq: %w", err)
	}
	if !lastSeq.Valid {
		return 0, nil
	}
	return uint64(lastSeq.Int64), nil
}

// LoadEvents returns journaled commands with seq >= fromSeq, in order.
func (s *SQLiteStore) LoadEvents(ctx context.Context, fromSeq uint64) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, type, payload FROM events WHERE id >= ? ORDER BY id ASC",
		fromSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var id int64
		var evType int
		var payload []byte
		if err := rows.Scan(&id, &evType, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev, err := event.Decode(event.Type(evType), payload)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", id, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return events, nil
}

// UpsertMetadata saves a key-value pair to the metadata table.
func (s *SQLiteStore) UpsertMetadata(ctx context.Context, key, value string, ts int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at",
		key, value, ts,
	)
	return err
}

// GetMetadata retrieves a value from the metadata table. Missing keys return "".
func (s *SQLiteStore) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func latestMetaKey(identity string) string {
	return "checkpoint.latest." + identity
}

func (s *SQLiteStore) Put(ctx context.Context, identity string, ts int64, data []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO checkpoints (identity, ts, payload) VALUES (?, ?, ?) ON CONFLICT(identity, ts) DO UPDATE SET payload=excluded.payload",
		identity, ts, string(data),
	); err != nil {
		return fmt.Errorf("failed to insert checkpoint: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at",
		latestMetaKey(identity), strconv.FormatInt(ts, 10), time.Now().UnixMicro(),
	); err != nil {
		return fmt.Errorf("failed to update latest pointer: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, identity string, ts int64) ([]byte, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM checkpoints WHERE identity = ? AND ts = ?", identity, ts,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(identity, ts)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	return []byte(payload), nil
}

func (s *SQLiteStore) Latest(ctx context.Context, identity string) (int64, []byte, error) {
	raw, err := s.GetMetadata(ctx, latestMetaKey(identity))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read latest pointer: %w", err)
	}
	if raw == "" {
		return 0, nil, notFound(identity, 0)
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("corrupt latest pointer for %s: %w", identity, err)
	}
	data, err := s.Get(ctx, identity, ts)
	return ts, data, err
}

func (s *SQLiteStore) List(ctx context.Context, identity string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT ts FROM checkpoints WHERE identity = ? ORDER BY ts ASC", identity)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, identity string, ts int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM checkpoints WHERE identity = ? AND ts = ?", identity, ts); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM metadata WHERE key = ? AND value = ?", latestMetaKey(identity), strconv.FormatInt(ts, 10)); err != nil {
		return fmt.Errorf("failed to clear latest pointer: %w", err)
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
