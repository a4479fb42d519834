package domain

import (
	"errors"
	"fmt"

	"paper_go/pkg/quant"
)

// Sentinels for errors.Is. The typed errors below unwrap to them.
var (
	ErrMalformedOrder         = errors.New("malformed order")
	ErrMalformedTick          = errors.New("malformed tick")
	ErrInvalidTransition      = errors.New("invalid order state transition")
	ErrClockRegression        = errors.New("clock regression")
	ErrIncompatibleCheckpoint = errors.New("incompatible checkpoint")
	ErrCheckpointNotFound     = errors.New("checkpoint not found")
	ErrOrderNotFound          = errors.New("order not found")
)

// MalformedOrderError is an input error: the caller supplied an invalid order shape.
type MalformedOrderError struct {
	Field  string
	Reason string
}

func (e *MalformedOrderError) Error() string {
	return fmt.Sprintf("malformed order: %s: %s", e.Field, e.Reason)
}

func (e *MalformedOrderError) Unwrap() error { return ErrMalformedOrder }

// InvalidTransitionError reports an attempt to move an order along an undefined edge.
type InvalidTransitionError struct {
	OrderID string
	From    Status
	To      Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for order %s: %s -> %s", e.OrderID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// ClockRegressionError reports a timestamp earlier than the last one seen.
type ClockRegressionError struct {
	Last quant.TimeStamp
	Got  quant.TimeStamp
}

func (e *ClockRegressionError) Error() string {
	return fmt.Sprintf("clock regression: last=%d got=%d", e.Last, e.Got)
}

func (e *ClockRegressionError) Unwrap() error { return ErrClockRegression }

// IncompatibleCheckpointError reports a schema version this build cannot read.
type IncompatibleCheckpointError struct {
	Version   int
	Supported []int
}

func (e *IncompatibleCheckpointError) Error() string {
	return fmt.Sprintf("incompatible checkpoint: schema version %d, supported %v", e.Version, e.Supported)
}

func (e *IncompatibleCheckpointError) Unwrap() error { return ErrIncompatibleCheckpoint }

// CheckpointNotFoundError reports a missing checkpoint or latest pointer.
type CheckpointNotFoundError struct {
	Identity string
	Key      string
}

func (e *CheckpointNotFoundError) Error() string {
	return fmt.Sprintf("checkpoint not found: identity=%s key=%s", e.Identity, e.Key)
}

func (e *CheckpointNotFoundError) Unwrap() error { return ErrCheckpointNotFound }
