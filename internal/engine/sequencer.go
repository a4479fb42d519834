package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"paper_go/internal/checkpoint"
	"paper_go/internal/domain"
	"paper_go/internal/event"
	"paper_go/internal/execution"
	"paper_go/pkg/quant"

	"github.com/shopspring/decimal"
)

// ErrStopped is returned to callers whose command could not be delivered
// because the sequencer loop has exited.
var ErrStopped = errors.New("sequencer stopped")

// Journal is the write-ahead command log.
type Journal interface {
	SaveEvent(ctx context.Context, ev event.Event) error
	LoadEvents(ctx context.Context, fromSeq uint64) ([]event.Event, error)
	GetLastSeq(ctx context.Context) (uint64, error)
}

// Result is what the engine returned for one command.
type Result struct {
	Submit     execution.SubmitResult
	Cancel     execution.CancelResult
	Executions []domain.Execution
	Cleared    bool
	Err        error
}

type envelope struct {
	ev    event.Event
	reply chan Result
}

// Config wires a Sequencer.
type Config struct {
	InboxSize   int
	Journal     Journal             // optional
	Checkpoints *checkpoint.Manager // optional
	DumpPath    string              // panic dump file, "" disables
	Logger      *slog.Logger
	EngineOpts  []execution.Option // applied when an engine is restored from a checkpoint
}

// Sequencer owns one PaperEngine and is the only goroutine that mutates it.
// Every command is stamped, journaled, then dispatched, in that order.
type Sequencer struct {
	inbox   chan envelope
	done    chan struct{}
	engine  *execution.PaperEngine
	journal Journal
	ckpt    *checkpoint.Manager
	nextSeq uint64

	dumpPath   string
	logger     *slog.Logger
	engineOpts []execution.Option

	mu sync.RWMutex // write-held during dispatch; read-held by queries and checkpoints
}

// NewSequencer creates a sequencer around a freshly built engine.
func NewSequencer(eng *execution.PaperEngine, cfg Config) *Sequencer {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sequencer{
		inbox:      make(chan envelope, cfg.InboxSize),
		done:       make(chan struct{}),
		engine:     eng,
		journal:    cfg.Journal,
		ckpt:       cfg.Checkpoints,
		nextSeq:    1,
		dumpPath:   cfg.DumpPath,
		logger:     cfg.Logger,
		engineOpts: cfg.EngineOpts,
	}
}

// RecoverFromWAL restores the latest checkpoint (if any) and replays every
// journaled command after it through the same dispatch path as live traffic.
// Must be called before Run.
func (s *Sequencer) RecoverFromWAL(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity := s.engine.Identity()
	if s.ckpt != nil {
		cp, err := s.ckpt.LoadLatest(ctx, identity)
		switch {
		case errors.Is(err, domain.ErrCheckpointNotFound):
			s.logger.Info("No checkpoint found, starting from config", slog.String("identity", identity))
		case err != nil:
			return fmt.Errorf("failed to load checkpoint: %w", err)
		default:
			eng, err := checkpoint.Restore(cp, s.engineOpts...)
			if err != nil {
				return err
			}
			s.engine = eng
			s.nextSeq = cp.JournalSeq + 1
			s.logger.Info("CHECKPOINT_RESTORED",
				slog.String("identity", identity),
				slog.Int64("key", cp.Key()),
				slog.Uint64("journal_seq", cp.JournalSeq))
		}
	}

	if s.journal == nil {
		return nil
	}

	lastSeq, err := s.journal.GetLastSeq(ctx)
	if err != nil {
		return fmt.Errorf("failed to get last seq: %w", err)
	}
	if lastSeq < s.nextSeq {
		s.logger.Info("WAL has nothing to replay", slog.Uint64("next_seq", s.nextSeq))
		return nil
	}

	events, err := s.journal.LoadEvents(ctx, s.nextSeq)
	if err != nil {
		return fmt.Errorf("failed to load events: %w", err)
	}

	s.logger.Info("Replaying events from WAL", slog.Int("count", len(events)))
	for _, ev := range events {
		if err := s.replay(ev); err != nil {
			return err
		}
	}

	s.logger.Info("State recovered from WAL",
		slog.Uint64("next_seq", s.nextSeq),
		slog.String("engine_time", s.engine.Now().String()))
	return nil
}

func (s *Sequencer) replay(ev event.Event) error {
	if ev.GetSeq() != s.nextSeq {
		return fmt.Errorf("REPLAY_GAP_DETECTED: expected %d, got %d", s.nextSeq, ev.GetSeq())
	}
	// Commands that failed live fail identically here; only the state matters.
	if res := s.dispatch(ev); res.Err != nil {
		s.logger.Debug("Replayed command failed", slog.Uint64("seq", ev.GetSeq()), slog.Any("error", res.Err))
	}
	s.nextSeq++
	return nil
}

// Run starts the main loop. It MUST be run in a single goroutine.
func (s *Sequencer) Run(ctx context.Context) {
	s.logger.Info("Sequencer started", slog.String("identity", s.engine.Identity()))
	defer close(s.done)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			if s.dumpPath != "" {
				s.DumpState(s.dumpPath)
			}
			// Halt after dump.
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sequencer stopping...")
			return
		case env := <-s.inbox:
			env.reply <- s.process(env.ev)
		}
	}
}

// Done is closed when Run returns.
func (s *Sequencer) Done() <-chan struct{} {
	return s.done
}

func (s *Sequencer) process(ev event.Event) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	stamp(ev, s.nextSeq, s.engine.Now())

	// WAL-first
	if s.journal != nil {
		if err := s.journal.SaveEvent(context.Background(), ev); err != nil {
			panic(fmt.Sprintf("PERSISTENCE_FAILURE: %v", err))
		}
	}

	res := s.dispatch(ev)
	s.nextSeq++
	return res
}

// stamp assigns the sequence number and, for commands sent without a
// timestamp, the engine's current time.
func stamp(ev event.Event, seq uint64, now quant.TimeStamp) {
	var base *event.BaseEvent
	switch e := ev.(type) {
	case *event.MarketUpdateEvent:
		base = &e.BaseEvent
	case *event.OrderSubmitEvent:
		base = &e.BaseEvent
	case *event.OrderCancelEvent:
		base = &e.BaseEvent
	case *event.KillSwitchClearEvent:
		base = &e.BaseEvent
	default:
		return
	}
	base.Seq = seq
	if base.Ts == 0 {
		base.Ts = now
	}
}

func (s *Sequencer) dispatch(ev event.Event) Result {
	var res Result
	switch e := ev.(type) {
	case *event.MarketUpdateEvent:
		res.Executions, res.Err = s.engine.OnTick(e.Symbol, e.Price, e.Ts)
	case *event.OrderSubmitEvent:
		res.Submit, res.Err = s.engine.Submit(execution.OrderRequest{
			Symbol:   e.Symbol,
			Side:     e.Side,
			Quantity: e.Quantity,
			Type:     e.Type,
		}, e.Ts)
	case *event.OrderCancelEvent:
		res.Cancel, res.Err = s.engine.Cancel(e.OrderID, e.Ts)
	case *event.KillSwitchClearEvent:
		res.Cleared = s.engine.ClearKillSwitch()
	default:
		res.Err = fmt.Errorf("unknown event type %s", ev.GetType())
		s.logger.Warn("Unknown event type", slog.Any("type", ev.GetType()))
	}
	return res
}

func (s *Sequencer) send(ctx context.Context, ev event.Event) (Result, error) {
	env := envelope{ev: ev, reply: make(chan Result, 1)}
	select {
	case s.inbox <- env:
	case <-s.done:
		return Result{}, ErrStopped
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case res := <-env.reply:
		return res, res.Err
	case <-s.done:
		return Result{}, ErrStopped
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Submit journals and applies an order submission. A zero ts means "engine now".
func (s *Sequencer) Submit(ctx context.Context, req execution.OrderRequest, ts quant.TimeStamp) (execution.SubmitResult, error) {
	res, err := s.send(ctx, &event.OrderSubmitEvent{
		BaseEvent: event.BaseEvent{Ts: ts},
		Symbol:    req.Symbol,
		Side:      req.Side,
		Quantity:  req.Quantity,
		Type:      req.Type,
	})
	return res.Submit, err
}

// Cancel journals and applies an order cancellation. A zero ts means "engine now".
func (s *Sequencer) Cancel(ctx context.Context, orderID string, ts quant.TimeStamp) (execution.CancelResult, error) {
	res, err := s.send(ctx, &event.OrderCancelEvent{BaseEvent: event.BaseEvent{Ts: ts}, OrderID: orderID})
	return res.Cancel, err
}

// Tick journals and applies a market tick.
func (s *Sequencer) Tick(ctx context.Context, symbol string, price decimal.Decimal, ts quant.TimeStamp) ([]domain.Execution, error) {
	res, err := s.send(ctx, &event.MarketUpdateEvent{BaseEvent: event.BaseEvent{Ts: ts}, Symbol: symbol, Price: price})
	return res.Executions, err
}

// ClearKillSwitch journals and applies a manual kill-switch reset.
func (s *Sequencer) ClearKillSwitch(ctx context.Context) (bool, error) {
	res, err := s.send(ctx, &event.KillSwitchClearEvent{})
	return res.Cleared, err
}

// Checkpoint captures and persists the engine state. It reads a copy under
// the read lock, so the loop is only paused for the copy.
func (s *Sequencer) Checkpoint(ctx context.Context) (checkpoint.Checkpoint, error) {
	if s.ckpt == nil {
		return checkpoint.Checkpoint{}, errors.New("checkpointing is not configured")
	}
	s.mu.RLock()
	cp, err := s.ckpt.Create(s.engine, s.nextSeq-1)
	s.mu.RUnlock()
	if err != nil {
		return checkpoint.Checkpoint{}, err
	}
	return cp, s.ckpt.Persist(ctx, cp)
}

// RunCheckpoints persists a checkpoint every interval and prunes to keep
// (keep <= 0 disables pruning) until ctx is done.
func (s *Sequencer) RunCheckpoints(ctx context.Context, interval time.Duration, keep int) {
	if s.ckpt == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cp, err := s.Checkpoint(ctx)
			if err != nil {
				s.logger.Error("CHECKPOINT_FAILED", slog.Any("error", err))
				continue
			}
			if keep > 0 {
				if _, err := s.ckpt.Prune(ctx, cp.Identity, keep); err != nil {
					s.logger.Warn("CHECKPOINT_PRUNE_FAILED", slog.Any("error", err))
				}
			}
		}
	}
}

// GetOrder returns a copy of an order (external read).
func (s *Sequencer) GetOrder(orderID string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine.GetOrder(orderID)
}

// ListOrders returns copies of orders, optionally filtered by status.
func (s *Sequencer) ListOrders(statuses ...domain.Status) []domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine.ListOrders(statuses...)
}

// Account returns a copy of the account.
func (s *Sequencer) Account() *domain.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine.Account()
}

// KillSwitch reports whether new orders are currently blocked.
func (s *Sequencer) KillSwitch() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine.KillSwitch()
}

// Now returns the engine clock.
func (s *Sequencer) Now() quant.TimeStamp {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine.Now()
}

// Identity returns the simulator identity.
func (s *Sequencer) Identity() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine.Identity()
}

// NextSeq returns the sequence number the next command will get.
func (s *Sequencer) NextSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextSeq
}

// DumpState writes the engine state to a file for post-mortem.
func (s *Sequencer) DumpState(filename string) {
	s.logger.Info("Dumping internal state...", slog.String("file", filename))

	s.mu.RLock()
	defer s.mu.RUnlock()
	st, err := s.engine.Snapshot()
	if err != nil {
		s.logger.Error("Failed to snapshot engine", slog.Any("error", err))
		return
	}
	data := struct {
		NextSeq uint64                `json:"next_seq"`
		State   execution.EngineState `json:"state"`
	}{
		NextSeq: s.nextSeq,
		State:   st,
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		s.logger.Error("Failed to marshal state", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(filename, b, 0644); err != nil {
		s.logger.Error("Failed to write state dump", slog.Any("error", err))
	}
}
