package ledger

import (
	"errors"
	"fmt"
	"log/slog"

	"paper_go/internal/domain"
	"paper_go/pkg/quant"
)

// ErrOverfill is returned when a fill would exceed the order's remaining quantity.
var ErrOverfill = errors.New("fill exceeds remaining quantity")

// transitions is the complete state machine. Anything not listed is invalid.
var transitions = map[domain.Status][]domain.Status{
	domain.StatusNew:             {domain.StatusSubmitted, domain.StatusRejected},
	domain.StatusSubmitted:       {domain.StatusPartiallyFilled, domain.StatusFilled, domain.StatusCancelled},
	domain.StatusPartiallyFilled: {domain.StatusPartiallyFilled, domain.StatusFilled, domain.StatusCancelled},
}

// CanTransition reports whether from -> to is a defined edge.
func CanTransition(from, to domain.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Ledger owns the canonical state of every order and its executions.
// It is the only place order status changes. Not safe for concurrent use.
type Ledger struct {
	orders map[string]*domain.Order
	ids    []string // creation order
	logger *slog.Logger
}

// New creates an empty ledger. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		orders: make(map[string]*domain.Order),
		logger: logger,
	}
}

// Open records a new order in state NEW.
func (l *Ledger) Open(o domain.Order) error {
	if _, exists := l.orders[o.ID]; exists {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	if n := len(l.ids); n > 0 && o.Seq <= l.orders[l.ids[n-1]].Seq {
		return fmt.Errorf("order %s seq %d not after %d", o.ID, o.Seq, l.orders[l.ids[n-1]].Seq)
	}
	c := o.Clone()
	c.Status = domain.StatusNew
	c.Executions = nil
	l.orders[c.ID] = &c
	l.ids = append(l.ids, c.ID)
	return nil
}

// Reject moves a NEW order to REJECTED and records the rejection execution.
func (l *Ledger) Reject(id string, reason domain.RejectReason, ts quant.TimeStamp) error {
	o, err := l.lookup(id)
	if err != nil {
		return err
	}
	if err := l.transition(o, domain.StatusRejected); err != nil {
		return err
	}
	o.RejectReason = reason
	o.Executions = append(o.Executions, domain.NewRejection(id, reason, ts))
	return nil
}

// MarkSubmitted moves a NEW order to SUBMITTED.
func (l *Ledger) MarkSubmitted(id string) error {
	o, err := l.lookup(id)
	if err != nil {
		return err
	}
	return l.transition(o, domain.StatusSubmitted)
}

// Cancel moves a live order to CANCELLED.
func (l *Ledger) Cancel(id string) error {
	o, err := l.lookup(id)
	if err != nil {
		return err
	}
	return l.transition(o, domain.StatusCancelled)
}

// ApplyFill appends a fill and moves the order to PARTIALLY_FILLED or FILLED.
// Returns the resulting status.
func (l *Ledger) ApplyFill(exec domain.Execution) (domain.Status, error) {
	o, err := l.lookup(exec.OrderID)
	if err != nil {
		return "", err
	}
	if !exec.IsFill() || !exec.Quantity.IsPositive() {
		return o.Status, fmt.Errorf("order %s: not a positive fill", o.ID)
	}
	remaining := o.RemainingQty()
	if exec.Quantity.GreaterThan(remaining) {
		l.logger.Error("OVERFILL_BLOCKED",
			slog.String("order_id", o.ID),
			slog.String("qty", exec.Quantity.String()),
			slog.String("remaining", remaining.String()))
		return o.Status, fmt.Errorf("order %s: %w (qty=%s remaining=%s)", o.ID, ErrOverfill, exec.Quantity, remaining)
	}
	if err := checkOrdered(o, exec.Timestamp); err != nil {
		return o.Status, err
	}

	next := domain.StatusPartiallyFilled
	if exec.Quantity.Equal(remaining) {
		next = domain.StatusFilled
	}
	if err := l.transition(o, next); err != nil {
		return o.Status, err
	}
	o.Executions = append(o.Executions, exec)
	return o.Status, nil
}

// RecordRejection appends a fill-time rejection to a live order without changing its status.
func (l *Ledger) RecordRejection(exec domain.Execution) error {
	o, err := l.lookup(exec.OrderID)
	if err != nil {
		return err
	}
	if exec.IsFill() {
		return fmt.Errorf("order %s: execution is not a rejection", o.ID)
	}
	if !o.IsLive() {
		l.logInvalid(o, o.Status)
		return &domain.InvalidTransitionError{OrderID: o.ID, From: o.Status, To: o.Status}
	}
	if err := checkOrdered(o, exec.Timestamp); err != nil {
		return err
	}
	o.Executions = append(o.Executions, exec)
	return nil
}

func checkOrdered(o *domain.Order, ts quant.TimeStamp) error {
	if n := len(o.Executions); n > 0 && ts < o.Executions[n-1].Timestamp {
		return &domain.ClockRegressionError{Last: o.Executions[n-1].Timestamp, Got: ts}
	}
	return nil
}

func (l *Ledger) transition(o *domain.Order, to domain.Status) error {
	if !CanTransition(o.Status, to) {
		l.logInvalid(o, to)
		return &domain.InvalidTransitionError{OrderID: o.ID, From: o.Status, To: to}
	}
	o.Status = to
	return nil
}

func (l *Ledger) logInvalid(o *domain.Order, to domain.Status) {
	l.logger.Error("INVALID_TRANSITION",
		slog.String("order_id", o.ID),
		slog.String("from", string(o.Status)),
		slog.String("to", string(to)))
}

func (l *Ledger) lookup(id string) (*domain.Order, error) {
	o, ok := l.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
	}
	return o, nil
}

// Get returns a copy of the order.
func (l *Ledger) Get(id string) (domain.Order, error) {
	o, err := l.lookup(id)
	if err != nil {
		return domain.Order{}, err
	}
	return o.Clone(), nil
}

// Status returns the current status of id.
func (l *Ledger) Status(id string) (domain.Status, bool) {
	o, ok := l.orders[id]
	if !ok {
		return "", false
	}
	return o.Status, true
}

// List returns copies of orders in creation order. With no statuses every order is returned.
func (l *Ledger) List(statuses ...domain.Status) []domain.Order {
	out := make([]domain.Order, 0, len(l.ids))
	for _, id := range l.ids {
		o := l.orders[id]
		if len(statuses) > 0 && !hasStatus(statuses, o.Status) {
			continue
		}
		out = append(out, o.Clone())
	}
	return out
}

func hasStatus(set []domain.Status, s domain.Status) bool {
	for _, c := range set {
		if c == s {
			return true
		}
	}
	return false
}

// Live returns copies of the live orders on symbol, oldest first.
func (l *Ledger) Live(symbol string) []domain.Order {
	var out []domain.Order
	for _, id := range l.ids {
		o := l.orders[id]
		if o.Symbol == symbol && o.IsLive() {
			out = append(out, o.Clone())
		}
	}
	return out
}

// Len is the number of orders ever opened.
func (l *Ledger) Len() int {
	return len(l.ids)
}

// Snapshot returns deep copies of all orders in creation order.
func (l *Ledger) Snapshot() []domain.Order {
	return l.List()
}

// Restore rebuilds a ledger from a snapshot, checking every order invariant first.
func Restore(orders []domain.Order, logger *slog.Logger) (*Ledger, error) {
	l := New(logger)
	for i := range orders {
		o := orders[i].Clone()
		if err := validate(&o); err != nil {
			return nil, fmt.Errorf("order %d (%s): %w", i, o.ID, err)
		}
		if _, exists := l.orders[o.ID]; exists {
			return nil, fmt.Errorf("duplicate order id %s", o.ID)
		}
		if n := len(l.ids); n > 0 && o.Seq <= l.orders[l.ids[n-1]].Seq {
			return nil, fmt.Errorf("order %s out of creation order", o.ID)
		}
		l.orders[o.ID] = &o
		l.ids = append(l.ids, o.ID)
	}
	return l, nil
}

func validate(o *domain.Order) error {
	if o.ID == "" {
		return errors.New("empty id")
	}
	if !o.Status.Valid() {
		return fmt.Errorf("unknown status %q", o.Status)
	}
	if !o.Quantity.IsPositive() {
		return errors.New("non-positive quantity")
	}
	var last quant.TimeStamp
	for i, e := range o.Executions {
		if e.OrderID != o.ID {
			return fmt.Errorf("execution %d belongs to %s", i, e.OrderID)
		}
		if i > 0 && e.Timestamp < last {
			return fmt.Errorf("execution %d out of time order", i)
		}
		last = e.Timestamp
		if e.IsFill() {
			if !e.Quantity.IsPositive() || !e.Price.IsPositive() {
				return fmt.Errorf("execution %d: fill without positive quantity and price", i)
			}
		} else if !e.Quantity.IsZero() || !e.Price.IsZero() {
			return fmt.Errorf("execution %d: rejection carries a fill", i)
		}
	}

	filled := o.FilledQty()
	switch {
	case filled.GreaterThan(o.Quantity):
		return ErrOverfill
	case o.Status == domain.StatusFilled && !filled.Equal(o.Quantity):
		return errors.New("FILLED with remaining quantity")
	case o.Status != domain.StatusFilled && filled.Equal(o.Quantity):
		return fmt.Errorf("%s but fully filled", o.Status)
	case o.Status == domain.StatusPartiallyFilled && filled.IsZero():
		return errors.New("PARTIALLY_FILLED without fills")
	case (o.Status == domain.StatusNew || o.Status == domain.StatusSubmitted || o.Status == domain.StatusRejected) && !filled.IsZero():
		return fmt.Errorf("%s with fills", o.Status)
	case o.Status == domain.StatusNew && len(o.Executions) > 0:
		return errors.New("NEW with executions")
	}
	return nil
}
