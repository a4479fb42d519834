package execution

import (
	"fmt"
	"log/slog"

	"paper_go/internal/domain"
	"paper_go/internal/event"
	"paper_go/internal/latency"
	"paper_go/internal/ledger"
	"paper_go/internal/risk"
	"paper_go/pkg/quant"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var _ Engine = (*PaperEngine)(nil)

// OrderRequest is the caller-supplied shape of a new order.
type OrderRequest struct {
	Symbol   string           `json:"symbol"`
	Side     domain.Side      `json:"side"`
	Quantity decimal.Decimal  `json:"quantity"`
	Type     domain.OrderType `json:"type"`
}

// SubmitResult carries the order id and, for rejections, the reason.
// Rejected orders still get an id and are kept in the ledger.
type SubmitResult struct {
	OrderID  string              `json:"order_id"`
	Accepted bool                `json:"accepted"`
	Reason   domain.RejectReason `json:"reason,omitempty"`
	Detail   string              `json:"detail,omitempty"`
}

// CancelResult describes what a cancel call did.
type CancelResult string

const (
	CancelScheduled      CancelResult = "SCHEDULED"
	CancelAlreadyPending CancelResult = "ALREADY_PENDING"
	CancelNoopTerminal   CancelResult = "NOOP_TERMINAL"
)

// PaperEngine simulates order processing against ticks.
// It has no internal locking: every mutation happens synchronously inside
// Submit, Cancel and OnTick, and callers must serialize those calls.
type PaperEngine struct {
	cfg     Config
	symbols map[string]struct{}
	idSpace uuid.UUID

	ledger  *ledger.Ledger
	queue   *event.Queue
	account *domain.Account
	risk    risk.State
	sampler *latency.Sampler

	nextOrderSeq uint64
	clock        quant.TimeStamp // latest time seen by any call
	clockSet     bool

	logger   *slog.Logger
	observer Observer
}

// Identity is the simulator identity this engine runs under.
func (e *PaperEngine) Identity() string { return e.cfg.Identity }

// Config returns a copy of the engine configuration.
func (e *PaperEngine) Config() Config { return e.cfg.clone() }

// Now is the latest timestamp the engine has seen.
func (e *PaperEngine) Now() quant.TimeStamp { return e.clock }

// Pending is the number of scheduled actions.
func (e *PaperEngine) Pending() int { return e.queue.Len() }

// KillSwitch reports whether new orders are blocked.
func (e *PaperEngine) KillSwitch() bool { return e.risk.KillSwitch }

func (e *PaperEngine) checkClock(now quant.TimeStamp) error {
	if e.clockSet && now < e.clock {
		return &domain.ClockRegressionError{Last: e.clock, Got: now}
	}
	return nil
}

func (e *PaperEngine) setClock(now quant.TimeStamp) {
	e.clock = now
	e.clockSet = true
}

func (e *PaperEngine) validate(req OrderRequest) error {
	if req.Symbol == "" {
		return &domain.MalformedOrderError{Field: "symbol", Reason: "empty"}
	}
	if _, ok := e.symbols[req.Symbol]; !ok {
		return &domain.MalformedOrderError{Field: "symbol", Reason: fmt.Sprintf("unknown symbol %q", req.Symbol)}
	}
	if !req.Side.Valid() {
		return &domain.MalformedOrderError{Field: "side", Reason: fmt.Sprintf("unknown side %q", req.Side)}
	}
	if !req.Quantity.IsPositive() {
		return &domain.MalformedOrderError{Field: "quantity", Reason: "must be positive"}
	}
	switch req.Type.Kind {
	case domain.KindMarket:
		if !req.Type.LimitPrice.IsZero() {
			return &domain.MalformedOrderError{Field: "limit_price", Reason: "not allowed on market orders"}
		}
	case domain.KindLimit:
		if !req.Type.LimitPrice.IsPositive() {
			return &domain.MalformedOrderError{Field: "limit_price", Reason: "must be positive"}
		}
	default:
		return &domain.MalformedOrderError{Field: "type", Reason: fmt.Sprintf("unknown order type %q", req.Type.Kind)}
	}
	return nil
}

// Submit validates the order, consults the risk gate and either rejects it
// synchronously or schedules it to become SUBMITTED after the submission latency.
func (e *PaperEngine) Submit(req OrderRequest, now quant.TimeStamp) (SubmitResult, error) {
	if err := e.validate(req); err != nil {
		return SubmitResult{}, err
	}
	if err := e.checkClock(now); err != nil {
		return SubmitResult{}, err
	}
	e.setClock(now)

	seq := e.nextOrderSeq
	e.nextOrderSeq++
	order := domain.Order{
		ID:        orderID(e.idSpace, seq),
		Seq:       seq,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Quantity:  req.Quantity,
		Type:      req.Type,
		Status:    domain.StatusNew,
		CreatedAt: now,
	}
	if err := e.ledger.Open(order); err != nil {
		return SubmitResult{}, err
	}

	verdict := risk.Evaluate(e.proposal(req), e.account, e.risk, e.cfg.Risk)
	if verdict.TripKillSwitch && !e.risk.KillSwitch {
		e.logger.Warn("KILL_SWITCH_TRIPPED",
			slog.String("reason", verdict.Detail),
			slog.String("value", e.account.Value().String()),
			slog.String("peak", e.account.PeakValue.String()))
		e.observer.KillSwitchChanged(true)
	}
	e.risk = verdict.Apply(e.risk, now)

	if !verdict.Accepted {
		if err := e.ledger.Reject(order.ID, verdict.Reason, now); err != nil {
			return SubmitResult{}, err
		}
		e.logger.Info("ORDER_REJECTED",
			slog.String("order_id", order.ID),
			slog.String("symbol", order.Symbol),
			slog.String("reason", string(verdict.Reason)),
			slog.String("detail", verdict.Detail))
		o, _ := e.ledger.Get(order.ID)
		e.observer.OrderRejected(o, verdict.Reason)
		return SubmitResult{OrderID: order.ID, Reason: verdict.Reason, Detail: verdict.Detail}, nil
	}

	due := now.Add(e.sampler.Draw(e.cfg.Latency.Submission))
	e.queue.Schedule(event.Action{Kind: event.ActSubmit, OrderID: order.ID, Due: due})

	e.logger.Debug("ORDER_ACCEPTED",
		slog.String("order_id", order.ID),
		slog.String("symbol", order.Symbol),
		slog.String("side", string(order.Side)),
		slog.String("qty", order.Quantity.String()),
		slog.Int64("due", int64(due)))
	e.observer.OrderAccepted(order)
	e.observer.QueueDepth(e.queue.Len())
	return SubmitResult{OrderID: order.ID, Accepted: true}, nil
}

// proposal values the order at its limit, or at the latest mark for market orders.
func (e *PaperEngine) proposal(req OrderRequest) risk.Proposal {
	price := req.Type.LimitPrice
	if req.Type.Kind == domain.KindMarket {
		price, _ = e.account.MarkPrice(req.Symbol)
	}
	return risk.Proposal{Symbol: req.Symbol, Side: req.Side, Quantity: req.Quantity, Price: price}
}

// Cancel purges pending fills immediately and schedules the cancellation.
// A NEW order's cancellation is never due before its submission.
func (e *PaperEngine) Cancel(orderID string, now quant.TimeStamp) (CancelResult, error) {
	st, ok := e.ledger.Status(orderID)
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	if err := e.checkClock(now); err != nil {
		return "", err
	}
	if st.IsTerminal() {
		return CancelNoopTerminal, nil
	}
	if _, pending := e.queue.Pending(orderID, event.ActCancel); pending {
		return CancelAlreadyPending, nil
	}
	e.setClock(now)

	purged := e.queue.Purge(orderID, event.ActFill)

	due := now.Add(e.sampler.Draw(e.cfg.Latency.Cancellation))
	if sub, ok := e.queue.Pending(orderID, event.ActSubmit); ok && sub.Due > due {
		due = sub.Due
	}
	e.queue.Schedule(event.Action{Kind: event.ActCancel, OrderID: orderID, Due: due})

	e.logger.Debug("CANCEL_SCHEDULED",
		slog.String("order_id", orderID),
		slog.Int("purged_fills", purged),
		slog.Int64("due", int64(due)))
	e.observer.QueueDepth(e.queue.Len())
	return CancelScheduled, nil
}

// OnTick marks symbol at price, runs every action due by ts, schedules fills
// for eligible live orders and runs the ones already due.
// On a malformed tick or clock regression nothing changes.
func (e *PaperEngine) OnTick(symbol string, price decimal.Decimal, ts quant.TimeStamp) ([]domain.Execution, error) {
	if _, ok := e.symbols[symbol]; !ok {
		return nil, fmt.Errorf("%w: unknown symbol %q", domain.ErrMalformedTick, symbol)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("%w: price must be positive, got %s", domain.ErrMalformedTick, price)
	}
	if err := e.checkClock(ts); err != nil {
		return nil, err
	}

	e.setClock(ts)
	e.account.Mark(symbol, price, ts)

	var out []domain.Execution
	if err := e.drain(ts, &out); err != nil {
		return out, err
	}
	e.scheduleFills(symbol, price, ts)
	if err := e.drain(ts, &out); err != nil {
		return out, err
	}

	e.observer.QueueDepth(e.queue.Len())
	return out, nil
}

func (e *PaperEngine) drain(ts quant.TimeStamp, out *[]domain.Execution) error {
	due, err := e.queue.AdvanceTo(ts)
	if err != nil {
		return err
	}
	for _, a := range due {
		if err := e.run(a, out); err != nil {
			return err
		}
	}
	return nil
}

func (e *PaperEngine) run(a event.Action, out *[]domain.Execution) error {
	switch a.Kind {
	case event.ActSubmit:
		return e.ledger.MarkSubmitted(a.OrderID)

	case event.ActCancel:
		if err := e.ledger.Cancel(a.OrderID); err != nil {
			return err
		}
		// Anything scheduled between the cancel call and now goes too.
		e.queue.Purge(a.OrderID)
		o, _ := e.ledger.Get(a.OrderID)
		e.logger.Info("ORDER_CANCELLED",
			slog.String("order_id", o.ID),
			slog.String("filled", o.FilledQty().String()))
		e.observer.OrderCancelled(o)
		return nil

	case event.ActFill:
		exec, recorded, err := e.fill(a)
		if err != nil {
			return err
		}
		if recorded {
			*out = append(*out, exec)
		}
		return nil
	}
	return fmt.Errorf("unknown action kind %d", a.Kind)
}

// scheduleFills walks live orders on symbol oldest first. Orders with a pending
// cancel or fill are skipped. MaxQtyPerTick is shared across the walk.
func (e *PaperEngine) scheduleFills(symbol string, tick decimal.Decimal, ts quant.TimeStamp) {
	limited := e.cfg.Fill.MaxQtyPerTick.IsPositive()
	liquidity := e.cfg.Fill.MaxQtyPerTick

	for _, o := range e.ledger.Live(symbol) {
		if limited && !liquidity.IsPositive() {
			return
		}
		if _, ok := e.queue.Pending(o.ID, event.ActCancel); ok {
			continue
		}
		if _, ok := e.queue.Pending(o.ID, event.ActFill); ok {
			continue
		}
		price, ok := e.cfg.Fill.FillPrice(o.Side, o.Type, tick)
		if !ok {
			continue
		}
		qty := o.RemainingQty()
		if limited {
			qty = decimal.Min(qty, liquidity)
			liquidity = liquidity.Sub(qty)
		}
		due := ts.Add(e.sampler.Draw(e.cfg.Latency.Fill))
		e.queue.Schedule(event.NewFillAction(o.ID, due, tick, price, qty))
	}
}

// fill applies a due fill. Without margin, a fill the account cannot cover is
// recorded as a rejection execution and the order stays live. A rejection that
// repeats the order's previous execution is not recorded again.
func (e *PaperEngine) fill(a event.Action) (domain.Execution, bool, error) {
	o, err := e.ledger.Get(a.OrderID)
	if err != nil {
		return domain.Execution{}, false, err
	}
	qty := decimal.Min(a.Fill.Quantity, o.RemainingQty())
	price := a.Fill.Price
	commission := e.cfg.Fill.Commission(qty)

	if !e.cfg.Risk.AllowMargin {
		reason := domain.RejectReason("")
		if o.Side == domain.SideBuy {
			if qty.Mul(price).Add(commission).GreaterThan(e.account.Cash) {
				reason = domain.ReasonInsufficientCash
			}
		} else if e.account.PositionQty(o.Symbol).Sub(qty).IsNegative() {
			reason = domain.ReasonInsufficientPosition
		} else if e.account.Cash.Add(qty.Mul(price)).Sub(commission).IsNegative() {
			reason = domain.ReasonInsufficientCash
		}
		if reason != "" {
			if n := len(o.Executions); n > 0 && o.Executions[n-1].RejectReason == reason {
				return domain.Execution{}, false, nil
			}
			exec := domain.NewRejection(o.ID, reason, a.Due)
			if err := e.ledger.RecordRejection(exec); err != nil {
				return domain.Execution{}, false, err
			}
			e.logger.Info("FILL_REJECTED",
				slog.String("order_id", o.ID),
				slog.String("reason", string(reason)),
				slog.String("cash", e.account.Cash.String()))
			e.observer.Executed(o, exec)
			return exec, true, nil
		}
	}

	exec := domain.NewFill(o.ID, qty, price, commission, a.Due)
	status, err := e.ledger.ApplyFill(exec)
	if err != nil {
		return domain.Execution{}, false, err
	}
	e.account.ApplyFill(o.Symbol, o.Side, qty, price, commission)

	e.logger.Info("ORDER_FILLED",
		slog.String("order_id", o.ID),
		slog.String("symbol", o.Symbol),
		slog.String("side", string(o.Side)),
		slog.String("qty", qty.String()),
		slog.String("price", price.String()),
		slog.String("status", string(status)))
	filled, _ := e.ledger.Get(o.ID)
	e.observer.Executed(filled, exec)
	return exec, true, nil
}

// GetOrder returns a copy of the order.
func (e *PaperEngine) GetOrder(orderID string) (domain.Order, error) {
	return e.ledger.Get(orderID)
}

// ListOrders returns copies in creation order, optionally filtered by status.
func (e *PaperEngine) ListOrders(statuses ...domain.Status) []domain.Order {
	return e.ledger.List(statuses...)
}

// Account returns a deep copy of the account.
func (e *PaperEngine) Account() *domain.Account {
	return e.account.Clone()
}

// ClearKillSwitch re-enables order entry. Reports whether the switch was set.
func (e *PaperEngine) ClearKillSwitch() bool {
	if !e.risk.KillSwitch {
		return false
	}
	e.risk = risk.State{}
	e.logger.Warn("KILL_SWITCH_CLEARED")
	e.observer.KillSwitchChanged(false)
	return true
}
