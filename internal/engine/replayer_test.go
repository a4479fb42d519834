package engine

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"paper_go/internal/checkpoint"
	"paper_go/internal/storage"
)

func TestReplayer_VerifiesCheckpoint(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "wal.db")
	mgr := checkpoint.NewManager(storage.NewMemoryStore())

	live := NewSequencer(newEngine(t), Config{Journal: newJournal(t, dbPath), Checkpoints: mgr})
	start(t, live)
	drive(t, live, 0)
	cp, err := live.Checkpoint(context.Background())
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	drive(t, live, 300) // commands after the checkpoint are ignored

	r := NewReplayer(newJournal(t, dbPath), nil)
	if err := r.Verify(context.Background(), cp); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestReplayer_ReplayAll(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "wal.db")

	live := NewSequencer(newEngine(t), Config{Journal: newJournal(t, dbPath)})
	start(t, live)
	drive(t, live, 0)
	want := stateJSON(t, live)

	r := NewReplayer(newJournal(t, dbPath), nil)
	eng, last, err := r.Replay(context.Background(), newEngine(t).Config(), 0)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if last != live.NextSeq()-1 {
		t.Errorf("last = %d, want %d", last, live.NextSeq()-1)
	}
	if got := stateJSON(t, NewSequencer(eng, Config{})); got != want {
		t.Errorf("replayed state diverged:\n got %s\nwant %s", got, want)
	}
}

func TestReplayer_DetectsDivergence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "wal.db")
	mgr := checkpoint.NewManager(storage.NewMemoryStore())

	live := NewSequencer(newEngine(t), Config{Journal: newJournal(t, dbPath), Checkpoints: mgr})
	start(t, live)
	drive(t, live, 0)
	cp, err := live.Checkpoint(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	cp.State.Account.Cash = cp.State.Account.Cash.Add(dec("1"))
	err = NewReplayer(newJournal(t, dbPath), nil).Verify(context.Background(), cp)
	if err == nil || !strings.Contains(err.Error(), "REPLAY_DIVERGED") {
		t.Errorf("expected divergence, got %v", err)
	}
}

func TestReplayer_JournalTooShort(t *testing.T) {
	r := NewReplayer(newJournal(t, filepath.Join(t.TempDir(), "wal.db")), nil)
	if _, _, err := r.Replay(context.Background(), newEngine(t).Config(), 3); err == nil {
		t.Error("expected error replaying past the end of an empty journal")
	}
}
