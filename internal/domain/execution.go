package domain

import (
	"paper_go/pkg/quant"

	"github.com/shopspring/decimal"
)

// RejectReason explains a policy rejection. Rejections are values, not errors.
type RejectReason string

const (
	ReasonKillSwitch           RejectReason = "KILL_SWITCH"
	ReasonPositionLimit        RejectReason = "POSITION_LIMIT"
	ReasonExposureLimit        RejectReason = "EXPOSURE_LIMIT"
	ReasonDrawdownLimit        RejectReason = "DRAWDOWN_LIMIT"
	ReasonInsufficientCash     RejectReason = "INSUFFICIENT_CASH"
	ReasonInsufficientPosition RejectReason = "INSUFFICIENT_POSITION"
)

// Execution is an immutable fact about an order: either a fill or a rejection, never both.
type Execution struct {
	OrderID      string          `json:"order_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	Commission   decimal.Decimal `json:"commission"`
	Timestamp    quant.TimeStamp `json:"ts"`
	RejectReason RejectReason    `json:"reject_reason,omitempty"`
}

// NewFill builds a fill record.
func NewFill(orderID string, qty, price, commission decimal.Decimal, ts quant.TimeStamp) Execution {
	return Execution{
		OrderID:    orderID,
		Quantity:   qty,
		Price:      price,
		Commission: commission,
		Timestamp:  ts,
	}
}

// NewRejection builds a rejection record. Quantity, price and commission stay zero.
func NewRejection(orderID string, reason RejectReason, ts quant.TimeStamp) Execution {
	return Execution{
		OrderID:      orderID,
		Timestamp:    ts,
		RejectReason: reason,
	}
}

// IsFill reports whether the record is a fill.
func (e Execution) IsFill() bool {
	return e.RejectReason == ""
}

// Notional is quantity times price.
func (e Execution) Notional() decimal.Decimal {
	return e.Quantity.Mul(e.Price)
}
