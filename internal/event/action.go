package event

import (
	"paper_go/pkg/quant"

	"github.com/shopspring/decimal"
)

// ActionKind identifies what a scheduled action does when it becomes due.
type ActionKind uint8

const (
	ActSubmit ActionKind = iota + 1 // NEW -> SUBMITTED
	ActFill                         // attempt a fill
	ActCancel                       // live -> CANCELLED
)

func (k ActionKind) String() string {
	switch k {
	case ActSubmit:
		return "BECOME_SUBMITTED"
	case ActFill:
		return "ATTEMPT_FILL"
	case ActCancel:
		return "BECOME_CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// FillPayload is the snapshot taken when a fill is scheduled.
type FillPayload struct {
	TickPrice decimal.Decimal `json:"tick_price"`
	Price     decimal.Decimal `json:"price"` // after slippage and limit clamp
	Quantity  decimal.Decimal `json:"quantity"`
}

// Action is a pending future event on one order.
// Seq is assigned by the Queue and breaks ties between equal Due times (FIFO).
type Action struct {
	Seq     uint64          `json:"seq"`
	Kind    ActionKind      `json:"kind"`
	OrderID string          `json:"order_id"`
	Due     quant.TimeStamp `json:"due"`
	Fill    *FillPayload    `json:"fill,omitempty"`
}

// Clone returns a copy that shares no pointer with a.
func (a Action) Clone() Action {
	if a.Fill != nil {
		f := *a.Fill
		a.Fill = &f
	}
	return a
}

// Valid reports whether the action is well-formed for its kind.
func (a Action) Valid() bool {
	if a.OrderID == "" {
		return false
	}
	switch a.Kind {
	case ActSubmit, ActCancel:
		return a.Fill == nil
	case ActFill:
		return a.Fill != nil && a.Fill.Quantity.IsPositive() && a.Fill.Price.IsPositive()
	}
	return false
}

// NewFillAction builds an attempt-fill action for the given order.
func NewFillAction(orderID string, due quant.TimeStamp, tickPrice, price, qty decimal.Decimal) Action {
	return Action{
		Kind:    ActFill,
		OrderID: orderID,
		Due:     due,
		Fill:    &FillPayload{TickPrice: tickPrice, Price: price, Quantity: qty},
	}
}
