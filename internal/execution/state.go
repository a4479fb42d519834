package execution

import (
	"errors"
	"fmt"

	"paper_go/internal/domain"
	"paper_go/internal/event"
	"paper_go/internal/latency"
	"paper_go/internal/ledger"
	"paper_go/internal/risk"
	"paper_go/pkg/quant"
)

// EngineState is a deep copy of everything an engine needs to continue
// exactly where it left off. It shares no memory with the live engine.
type EngineState struct {
	Config       Config           `json:"config"`
	Clock        quant.TimeStamp  `json:"clock"`
	ClockSet     bool             `json:"clock_set"`
	NextOrderSeq uint64           `json:"next_order_seq"`
	Account      *domain.Account  `json:"account"`
	Orders       []domain.Order   `json:"orders"`
	Queue        event.QueueState `json:"queue"`
	Risk         risk.State       `json:"risk"`
	Sampler      []byte           `json:"sampler"`
}

// Snapshot copies the engine state out.
func (e *PaperEngine) Snapshot() (EngineState, error) {
	sampler, err := e.sampler.State()
	if err != nil {
		return EngineState{}, fmt.Errorf("failed to capture sampler: %w", err)
	}
	return EngineState{
		Config:       e.cfg.clone(),
		Clock:        e.clock,
		ClockSet:     e.clockSet,
		NextOrderSeq: e.nextOrderSeq,
		Account:      e.account.Clone(),
		Orders:       e.ledger.Snapshot(),
		Queue:        e.queue.Snapshot(),
		Risk:         e.risk,
		Sampler:      sampler,
	}, nil
}

// Restore builds a new engine from st. Either every part is valid and a
// working engine is returned, or nothing is built.
func Restore(st EngineState, opts ...Option) (*PaperEngine, error) {
	if err := st.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if st.Account == nil {
		return nil, errors.New("state has no account")
	}
	if st.NextOrderSeq == 0 {
		return nil, errors.New("next_order_seq must be >= 1")
	}

	e := newEngine(st.Config.clone(), opts)

	l, err := ledger.Restore(st.Orders, e.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to restore ledger: %w", err)
	}
	for _, o := range st.Orders {
		if o.Seq >= st.NextOrderSeq {
			return nil, fmt.Errorf("order %s seq %d >= next_order_seq %d", o.ID, o.Seq, st.NextOrderSeq)
		}
		if _, ok := e.symbols[o.Symbol]; !ok {
			return nil, fmt.Errorf("order %s on unconfigured symbol %q", o.ID, o.Symbol)
		}
	}

	q, err := event.RestoreQueue(st.Queue)
	if err != nil {
		return nil, fmt.Errorf("failed to restore queue: %w", err)
	}
	for _, a := range st.Queue.Actions {
		if err := checkAction(l, a); err != nil {
			return nil, err
		}
	}
	if last, advanced := q.Last(); advanced && (!st.ClockSet || last > st.Clock) {
		return nil, fmt.Errorf("queue clock %d ahead of engine clock %d", last, st.Clock)
	}

	sampler, err := latency.RestoreSampler(st.Sampler)
	if err != nil {
		return nil, err
	}

	if err := checkAccount(st.Account, e.symbols, st.Config.Risk.AllowMargin); err != nil {
		return nil, fmt.Errorf("invalid account: %w", err)
	}
	acct := st.Account.Clone()

	e.ledger = l
	e.queue = q
	e.account = acct
	e.risk = st.Risk
	e.sampler = sampler
	e.nextOrderSeq = st.NextOrderSeq
	e.clock = st.Clock
	e.clockSet = st.ClockSet
	return e, nil
}

// checkAccount rejects account state the engine could not safely hold.
func checkAccount(a *domain.Account, symbols map[string]struct{}, allowMargin bool) error {
	for sym, p := range a.Positions {
		if p == nil {
			return fmt.Errorf("position %q is null", sym)
		}
		if _, ok := symbols[sym]; !ok {
			return fmt.Errorf("position on unconfigured symbol %q", sym)
		}
		if p.Symbol != sym {
			return fmt.Errorf("position keyed %q holds symbol %q", sym, p.Symbol)
		}
	}
	for sym, mark := range a.Marks {
		if _, ok := symbols[sym]; !ok {
			return fmt.Errorf("mark on unconfigured symbol %q", sym)
		}
		if !mark.IsPositive() {
			return fmt.Errorf("mark %s for %q must be > 0", mark, sym)
		}
	}
	if !allowMargin && a.Cash.IsNegative() {
		return fmt.Errorf("cash %s is negative without margin", a.Cash)
	}
	return nil
}

// checkAction verifies a pending action targets an order in a state that can receive it.
func checkAction(l *ledger.Ledger, a event.Action) error {
	st, ok := l.Status(a.OrderID)
	if !ok {
		return fmt.Errorf("pending %s for unknown order %s", a.Kind, a.OrderID)
	}
	switch a.Kind {
	case event.ActSubmit:
		if st != domain.StatusNew {
			return fmt.Errorf("pending %s for %s order %s", a.Kind, st, a.OrderID)
		}
	case event.ActCancel:
		if st != domain.StatusNew && !isLive(st) {
			return fmt.Errorf("pending %s for %s order %s", a.Kind, st, a.OrderID)
		}
	case event.ActFill:
		if !isLive(st) {
			return fmt.Errorf("pending %s for %s order %s", a.Kind, st, a.OrderID)
		}
	}
	return nil
}

func isLive(s domain.Status) bool {
	return s == domain.StatusSubmitted || s == domain.StatusPartiallyFilled
}
