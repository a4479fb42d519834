package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"paper_go/internal/checkpoint"
	"paper_go/internal/execution"
)

// Replayer re-executes a journal against a fresh engine, independent of any
// running sequencer. It is how a checkpoint is audited against its history.
type Replayer struct {
	journal Journal
	logger  *slog.Logger
}

// NewReplayer creates a replayer over journal.
func NewReplayer(journal Journal, logger *slog.Logger) *Replayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Replayer{journal: journal, logger: logger}
}

// Replay builds an engine from cfg and applies journaled commands 1..until
// (until == 0 replays everything). It returns the engine and the last applied seq.
func (r *Replayer) Replay(ctx context.Context, cfg execution.Config, until uint64, opts ...execution.Option) (*execution.PaperEngine, uint64, error) {
	eng, err := execution.New(cfg, opts...)
	if err != nil {
		return nil, 0, err
	}
	events, err := r.journal.LoadEvents(ctx, 1)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load events: %w", err)
	}

	s := NewSequencer(eng, Config{Logger: r.logger})
	for _, ev := range events {
		if until > 0 && ev.GetSeq() > until {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		if err := s.replay(ev); err != nil {
			return nil, 0, err
		}
	}
	if until > 0 && s.nextSeq-1 < until {
		return nil, 0, fmt.Errorf("journal ends at seq %d, before %d", s.nextSeq-1, until)
	}
	return s.engine, s.nextSeq - 1, nil
}

// Verify replays the journal up to the checkpoint's JournalSeq, starting from
// the checkpoint's own config, and reports whether the result matches the
// checkpointed state exactly.
func (r *Replayer) Verify(ctx context.Context, cp checkpoint.Checkpoint) error {
	var eng *execution.PaperEngine
	var last uint64
	var err error
	if cp.JournalSeq == 0 {
		eng, err = execution.New(cp.State.Config)
	} else {
		eng, last, err = r.Replay(ctx, cp.State.Config, cp.JournalSeq)
	}
	if err != nil {
		return err
	}

	got, err := eng.Snapshot()
	if err != nil {
		return err
	}
	gotJSON, err := json.Marshal(got)
	if err != nil {
		return err
	}
	wantJSON, err := json.Marshal(cp.State)
	if err != nil {
		return err
	}
	if !bytes.Equal(gotJSON, wantJSON) {
		return fmt.Errorf("REPLAY_DIVERGED: state after seq %d differs from checkpoint %d", last, cp.Key())
	}
	r.logger.Info("REPLAY_VERIFIED", slog.String("identity", cp.Identity), slog.Uint64("journal_seq", last))
	return nil
}
