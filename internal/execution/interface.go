package execution

import (
	"paper_go/internal/domain"
	"paper_go/pkg/quant"

	"github.com/shopspring/decimal"
)

// Engine is the order API of a simulator instance.
// Implementations are not safe for concurrent use; callers serialize access.
type Engine interface {
	// Submit validates and risk-checks an order. Rejections are returned synchronously.
	Submit(req OrderRequest, now quant.TimeStamp) (SubmitResult, error)

	// Cancel schedules cancellation of a live order. Cancelling a terminal order is a no-op.
	Cancel(orderID string, now quant.TimeStamp) (CancelResult, error)

	// OnTick advances the clock and returns the executions produced by this call.
	OnTick(symbol string, price decimal.Decimal, ts quant.TimeStamp) ([]domain.Execution, error)

	GetOrder(orderID string) (domain.Order, error)
	ListOrders(statuses ...domain.Status) []domain.Order
	Account() *domain.Account
	ClearKillSwitch() bool
	Now() quant.TimeStamp
	Snapshot() (EngineState, error)
}

// Observer receives engine lifecycle notifications. Calls happen inline on the
// engine's goroutine and must not call back into the engine.
type Observer interface {
	OrderAccepted(o domain.Order)
	OrderRejected(o domain.Order, reason domain.RejectReason)
	Executed(o domain.Order, e domain.Execution)
	OrderCancelled(o domain.Order)
	KillSwitchChanged(on bool)
	QueueDepth(n int)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) OrderAccepted(domain.Order)                      {}
func (NopObserver) OrderRejected(domain.Order, domain.RejectReason) {}
func (NopObserver) Executed(domain.Order, domain.Execution)         {}
func (NopObserver) OrderCancelled(domain.Order)                     {}
func (NopObserver) KillSwitchChanged(bool)                          {}
func (NopObserver) QueueDepth(int)                                  {}
