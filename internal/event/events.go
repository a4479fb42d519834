package event

import (
	"encoding/json"
	"fmt"

	"paper_go/internal/domain"
	"paper_go/pkg/quant"

	"github.com/shopspring/decimal"
)

// Type defines the type of event.
type Type uint16

const (
	EvMarketUpdate Type = iota + 1
	EvOrderSubmit
	EvOrderCancel
	EvKillSwitchClear
)

func (t Type) String() string {
	switch t {
	case EvMarketUpdate:
		return "MARKET_UPDATE"
	case EvOrderSubmit:
		return "ORDER_SUBMIT"
	case EvOrderCancel:
		return "ORDER_CANCEL"
	case EvKillSwitchClear:
		return "KILL_SWITCH_CLEAR"
	default:
		return fmt.Sprintf("Type(%d)", uint16(t))
	}
}

// Event is the interface for all sequencer events.
// Events are commands against the engine; they are journaled before dispatch.
type Event interface {
	GetSeq() uint64
	GetTs() quant.TimeStamp
	GetType() Type
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	Seq uint64          `json:"seq"`
	Ts  quant.TimeStamp `json:"ts"`
}

func (e BaseEvent) GetSeq() uint64         { return e.Seq }
func (e BaseEvent) GetTs() quant.TimeStamp { return e.Ts }

// MarketUpdateEvent is a price tick for one symbol.
type MarketUpdateEvent struct {
	BaseEvent
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

func (e MarketUpdateEvent) GetType() Type { return EvMarketUpdate }

// OrderSubmitEvent asks the engine to accept a new order.
type OrderSubmitEvent struct {
	BaseEvent
	Symbol   string           `json:"symbol"`
	Side     domain.Side      `json:"side"`
	Quantity decimal.Decimal  `json:"quantity"`
	Type     domain.OrderType `json:"type"`
}

func (e OrderSubmitEvent) GetType() Type { return EvOrderSubmit }

// OrderCancelEvent asks the engine to cancel a live order.
type OrderCancelEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
}

func (e OrderCancelEvent) GetType() Type { return EvOrderCancel }

// KillSwitchClearEvent manually re-arms order entry after a drawdown trip.
type KillSwitchClearEvent struct {
	BaseEvent
}

func (e KillSwitchClearEvent) GetType() Type { return EvKillSwitchClear }

// Decode rebuilds a journaled event from its type tag and JSON payload.
func Decode(t Type, payload []byte) (Event, error) {
	var ev Event
	switch t {
	case EvMarketUpdate:
		ev = &MarketUpdateEvent{}
	case EvOrderSubmit:
		ev = &OrderSubmitEvent{}
	case EvOrderCancel:
		ev = &OrderCancelEvent{}
	case EvKillSwitchClear:
		ev = &KillSwitchClearEvent{}
	default:
		return nil, fmt.Errorf("unknown event type %d", t)
	}
	if err := json.Unmarshal(payload, ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s event: %w", t, err)
	}
	return ev, nil
}
