// Package errdefs defines the error taxonomy shared by the sizing, batch and
// risk packages. Callers wrap these sentinels with fmt.Errorf("...: %w") and
// match them with errors.Is.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrMarketDataUnavailable means a quote, candle series or symbol spec
	// could not be read this tick. The tick is skipped and prior state kept.
	ErrMarketDataUnavailable = errors.New("market data unavailable")

	// ErrGatewayUnavailable covers timeouts and transient gateway faults.
	ErrGatewayUnavailable = errors.New("gateway unavailable")

	// ErrGatewayRejected means the broker refused the request outright.
	ErrGatewayRejected = errors.New("gateway rejected")

	// ErrRiskHalted is the expected rejection while the guard is halted.
	ErrRiskHalted = errors.New("risk halted")

	// ErrCloseFailed is returned once close retries are exhausted.
	ErrCloseFailed = errors.New("close failed")

	ErrInvalidSymbol    = errors.New("invalid symbol")
	ErrInvalidStop      = errors.New("invalid stop")
	ErrVolumeOutOfRange = errors.New("volume out of range")

	// ErrCancelled marks legs interrupted before they reached the gateway.
	ErrCancelled = errors.New("cancelled")
)

// ValidationError rejects a single leg or config value. It never halts trading.
type ValidationError struct {
	Field string
	Value any
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s (%v): %s", e.Field, e.Value, e.Msg)
}

// NewValidation builds a *ValidationError.
func NewValidation(field string, value any, msg string) error {
	return &ValidationError{Field: field, Value: value, Msg: msg}
}

// IsValidation reports whether err wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Severity grades how far an error is escalated.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityWarn
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Classify maps an error onto its logging severity. A halted rejection is an
// expected outcome and stays at debug; a failed close needs the operator.
func Classify(err error) Severity {
	switch {
	case err == nil:
		return SeverityDebug
	case errors.Is(err, ErrRiskHalted), errors.Is(err, ErrCancelled):
		return SeverityDebug
	case errors.Is(err, ErrCloseFailed):
		return SeverityCritical
	case errors.Is(err, ErrGatewayUnavailable), errors.Is(err, ErrMarketDataUnavailable):
		return SeverityWarn
	default:
		return SeverityError
	}
}
