package domain

import (
	"paper_go/pkg/quant"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() decimal.Decimal {
	if s == SideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// OrderKind tags the OrderType variant.
type OrderKind string

const (
	KindMarket OrderKind = "MARKET"
	KindLimit  OrderKind = "LIMIT"
)

// OrderType is a closed tagged variant: Market, or Limit carrying its price.
// LimitPrice is meaningful only when Kind == KindLimit.
type OrderType struct {
	Kind       OrderKind       `json:"kind"`
	LimitPrice decimal.Decimal `json:"limit_price"`
}

// Market returns the market order type.
func Market() OrderType {
	return OrderType{Kind: KindMarket}
}

// Limit returns a limit order type at price.
func Limit(price decimal.Decimal) OrderType {
	return OrderType{Kind: KindLimit, LimitPrice: price}
}

// Status is the lifecycle state of an order.
type Status string

const (
	StatusNew             Status = "NEW"
	StatusSubmitted       Status = "SUBMITTED"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCancelled       Status = "CANCELLED"
	StatusRejected        Status = "REJECTED"
)

// IsTerminal reports whether no further transition is defined out of s.
func (s Status) IsTerminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusSubmitted, StatusPartiallyFilled, StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// Order is the canonical order record. Only the ledger mutates it.
type Order struct {
	ID           string          `json:"id"`
	Seq          uint64          `json:"seq"` // creation sequence, FIFO priority
	Symbol       string          `json:"symbol"`
	Side         Side            `json:"side"`
	Quantity     decimal.Decimal `json:"quantity"`
	Type         OrderType       `json:"type"`
	Status       Status          `json:"status"`
	CreatedAt    quant.TimeStamp `json:"created_at"`
	RejectReason RejectReason    `json:"reject_reason,omitempty"`
	Executions   []Execution     `json:"executions"`
}

// IsLive checks if the order can still be filled or cancelled.
func (o *Order) IsLive() bool {
	return o.Status == StatusSubmitted || o.Status == StatusPartiallyFilled
}

// FilledQty sums fill quantities across executions. Rejection records count zero.
func (o *Order) FilledQty() decimal.Decimal {
	filled := decimal.Zero
	for _, e := range o.Executions {
		if e.IsFill() {
			filled = filled.Add(e.Quantity)
		}
	}
	return filled
}

// RemainingQty is the requested quantity not yet filled.
func (o *Order) RemainingQty() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQty())
}

// Clone returns a deep copy; executions are copied so the result shares no slice with o.
func (o *Order) Clone() Order {
	c := *o
	c.Executions = make([]Execution, len(o.Executions))
	copy(c.Executions, o.Executions)
	return c
}
