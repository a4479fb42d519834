package engine

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"paper_go/internal/checkpoint"
	"paper_go/internal/domain"
	"paper_go/internal/execution"
	"paper_go/internal/latency"
	"paper_go/internal/storage"
	"paper_go/pkg/quant"
)

var dec = quant.MustDecimal

func ms(n int64) quant.TimeStamp { return quant.TimeStamp(n * 1000) }

func newEngine(t *testing.T) *execution.PaperEngine {
	t.Helper()
	e, err := execution.New(execution.Config{
		Identity:    "seq-test",
		InitialCash: dec("10000"),
		Symbols:     []string{"X"},
		Latency:     latency.Fast(),
		Seed:        42,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e
}

func newJournal(t *testing.T, path string) *storage.SQLiteStore {
	t.Helper()
	j, err := storage.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("failed to create journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

// start runs the loop until the test ends.
func start(t *testing.T, s *Sequencer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-s.Done()
	})
}

func buy(qty string) execution.OrderRequest {
	return execution.OrderRequest{Symbol: "X", Side: domain.SideBuy, Quantity: dec(qty), Type: domain.Market()}
}

// drive issues a fixed command script and returns the id of the second order.
func drive(t *testing.T, s *Sequencer, from int64) string {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Submit(ctx, buy("2"), ms(from)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	res, err := s.Submit(ctx, execution.OrderRequest{
		Symbol: "X", Side: domain.SideBuy, Quantity: dec("1"), Type: domain.Limit(dec("50")),
	}, ms(from))
	if err != nil {
		t.Fatalf("Submit limit: %v", err)
	}
	for i := int64(1); i <= 4; i++ {
		if _, err := s.Tick(ctx, "X", dec("100"), ms(from+i*40)); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}
	return res.OrderID
}

func stateJSON(t *testing.T, s *Sequencer) string {
	t.Helper()
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, err := s.engine.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := json.Marshal(st)
	return string(b)
}

func TestSequencer_Replay_EmptyWAL(t *testing.T) {
	s := NewSequencer(newEngine(t), Config{Journal: newJournal(t, filepath.Join(t.TempDir(), "wal.db"))})

	if err := s.RecoverFromWAL(context.Background()); err != nil {
		t.Fatalf("RecoverFromWAL failed on empty WAL: %v", err)
	}
	if s.NextSeq() != 1 {
		t.Errorf("expected nextSeq=1, got %d", s.NextSeq())
	}
}

// A restarted sequencer that replays the journal reaches the same state.
func TestSequencer_Replay_ReproducesState(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "wal.db")

	live := NewSequencer(newEngine(t), Config{Journal: newJournal(t, dbPath)})
	start(t, live)
	drive(t, live, 0)
	want := stateJSON(t, live)

	replayed := NewSequencer(newEngine(t), Config{Journal: newJournal(t, dbPath)})
	if err := replayed.RecoverFromWAL(context.Background()); err != nil {
		t.Fatalf("RecoverFromWAL failed: %v", err)
	}

	if got := stateJSON(t, replayed); got != want {
		t.Errorf("replayed state diverged:\n got %s\nwant %s", got, want)
	}
	if replayed.NextSeq() != live.NextSeq() {
		t.Errorf("nextSeq: replayed %d, live %d", replayed.NextSeq(), live.NextSeq())
	}
}

// Recovery restores the latest checkpoint and replays only the journal tail.
func TestSequencer_Recover_CheckpointPlusTail(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "wal.db")
	mgr := checkpoint.NewManager(storage.NewMemoryStore())

	live := NewSequencer(newEngine(t), Config{Journal: newJournal(t, dbPath), Checkpoints: mgr})
	start(t, live)
	resting := drive(t, live, 0)

	cp, err := live.Checkpoint(context.Background())
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if cp.JournalSeq != 6 {
		t.Errorf("checkpoint journal_seq = %d, want 6", cp.JournalSeq)
	}

	if _, err := live.Cancel(context.Background(), resting, ms(200)); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	drive(t, live, 300)
	want := stateJSON(t, live)

	// The fresh engine's config is replaced by the checkpoint's; the journal head is never re-run.
	recovered := NewSequencer(newEngine(t), Config{Journal: newJournal(t, dbPath), Checkpoints: mgr})
	if err := recovered.RecoverFromWAL(context.Background()); err != nil {
		t.Fatalf("RecoverFromWAL: %v", err)
	}
	if got := stateJSON(t, recovered); got != want {
		t.Errorf("recovered state diverged:\n got %s\nwant %s", got, want)
	}

	o, err := recovered.GetOrder(resting)
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != domain.StatusCancelled {
		t.Errorf("resting order = %s, want CANCELLED", o.Status)
	}
}

func TestSequencer_ZeroTimestampUsesEngineClock(t *testing.T) {
	s := NewSequencer(newEngine(t), Config{})
	start(t, s)
	ctx := context.Background()

	if _, err := s.Tick(ctx, "X", dec("10"), ms(5)); err != nil {
		t.Fatal(err)
	}
	res, err := s.Submit(ctx, buy("1"), 0)
	if err != nil {
		t.Fatalf("Submit with zero ts: %v", err)
	}
	o, err := s.GetOrder(res.OrderID)
	if err != nil {
		t.Fatal(err)
	}
	if o.CreatedAt != ms(5) {
		t.Errorf("CreatedAt = %s, want %s", o.CreatedAt, ms(5))
	}
}

func TestSequencer_ErrorsPassThrough(t *testing.T) {
	s := NewSequencer(newEngine(t), Config{})
	start(t, s)
	ctx := context.Background()

	if _, err := s.Tick(ctx, "X", dec("10"), ms(10)); err != nil {
		t.Fatal(err)
	}
	_, err := s.Tick(ctx, "X", dec("10"), ms(9))
	var cr *domain.ClockRegressionError
	if !errors.As(err, &cr) {
		t.Errorf("Tick backwards = %v, want ClockRegressionError", err)
	}

	_, err = s.Submit(ctx, execution.OrderRequest{Symbol: "X", Side: domain.SideBuy, Quantity: dec("-1"), Type: domain.Market()}, 0)
	if !errors.Is(err, domain.ErrMalformedOrder) {
		t.Errorf("bad submit = %v, want ErrMalformedOrder", err)
	}

	_, err = s.Cancel(ctx, "missing", 0)
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("cancel unknown = %v, want ErrOrderNotFound", err)
	}

	if s.NextSeq() != 5 {
		t.Errorf("failed commands must still consume a seq: nextSeq=%d", s.NextSeq())
	}
}

func TestSequencer_ClearKillSwitch(t *testing.T) {
	s := NewSequencer(newEngine(t), Config{})
	start(t, s)

	cleared, err := s.ClearKillSwitch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if cleared || s.KillSwitch() {
		t.Errorf("clearing an unset switch reported %v", cleared)
	}
}

func TestSequencer_StoppedRejectsCommands(t *testing.T) {
	s := NewSequencer(newEngine(t), Config{InboxSize: 1})
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	cancel()
	<-s.Done()

	if _, err := s.Tick(context.Background(), "X", dec("1"), ms(1)); !errors.Is(err, ErrStopped) {
		t.Errorf("Tick after stop = %v, want ErrStopped", err)
	}
}

func TestSequencer_CheckpointWithoutManager(t *testing.T) {
	s := NewSequencer(newEngine(t), Config{})
	if _, err := s.Checkpoint(context.Background()); err == nil {
		t.Error("expected error without a checkpoint manager")
	}
}

func TestSequencer_DumpState(t *testing.T) {
	s := NewSequencer(newEngine(t), Config{})
	path := filepath.Join(t.TempDir(), "dump.json")
	s.DumpState(path)

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("dump not written: %v", err)
	}
	var dump struct {
		NextSeq uint64                `json:"next_seq"`
		State   execution.EngineState `json:"state"`
	}
	if err := json.Unmarshal(b, &dump); err != nil {
		t.Fatalf("dump is not valid JSON: %v", err)
	}
	if dump.NextSeq != 1 || dump.State.Config.Identity != "seq-test" {
		t.Errorf("unexpected dump: next_seq=%d identity=%s", dump.NextSeq, dump.State.Config.Identity)
	}
}
