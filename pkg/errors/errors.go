package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

// Pipeline errors
var (
	ErrNoVenueAvailable    = errors.New("no venue available")
	ErrNoActiveDeployments = errors.New("no active deployments")
	ErrNoWalletForVenue    = errors.New("no wallet configured for venue")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrOrderRejected       = errors.New("order rejected")
	ErrUnexpected          = errors.New("unexpected error")
	ErrMetricsUnavailable  = errors.New("external metrics unavailable")
)

// Store errors
var (
	ErrNotFound           = errors.New("not found")
	ErrAgentNotFound      = fmt.Errorf("agent %w", ErrNotFound)
	ErrSignalNotFound     = fmt.Errorf("signal %w", ErrNotFound)
	ErrPositionNotFound   = fmt.Errorf("position %w", ErrNotFound)
	ErrDeploymentNotFound = fmt.Errorf("deployment %w", ErrNotFound)
	ErrVenueNotFound      = fmt.Errorf("venue %w", ErrNotFound)
	ErrDuplicateSignal    = errors.New("duplicate signal for bucket")
	ErrPositionExists     = errors.New("position already exists for signal and deployment")
)

// NoVenueAvailableError carries the venues that were checked before routing gave up.
type NoVenueAvailableError struct {
	Token   string
	Checked []string
}

func (e *NoVenueAvailableError) Error() string {
	return fmt.Sprintf("no venue available for %s (checked: %s)", e.Token, strings.Join(e.Checked, ", "))
}

func (e *NoVenueAvailableError) Unwrap() error { return ErrNoVenueAvailable }

// OrderRejectedError is returned by venues that refuse an order.
type OrderRejectedError struct {
	Reason string
}

func (e *OrderRejectedError) Error() string {
	return "order rejected: " + e.Reason
}

func (e *OrderRejectedError) Unwrap() error { return ErrOrderRejected }

// FailureKind is the failure taxonomy recorded on signals and execution attempts.
type FailureKind string

const (
	KindNone                FailureKind = ""
	KindNoVenueAvailable    FailureKind = "NoVenueAvailable"
	KindNoActiveDeployments FailureKind = "NoActiveDeployments"
	KindNoWalletForVenue    FailureKind = "NoWalletForVenue"
	KindInsufficientBalance FailureKind = "InsufficientBalance"
	KindOrderRejected       FailureKind = "OrderRejected"
	KindUnexpected          FailureKind = "Unexpected"
)

// FailureKindOf classifies an error chain. Unknown errors are Unexpected.
func FailureKindOf(err error) FailureKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNoVenueAvailable):
		return KindNoVenueAvailable
	case errors.Is(err, ErrNoActiveDeployments):
		return KindNoActiveDeployments
	case errors.Is(err, ErrNoWalletForVenue):
		return KindNoWalletForVenue
	case errors.Is(err, ErrInsufficientBalance):
		return KindInsufficientBalance
	case errors.Is(err, ErrOrderRejected):
		return KindOrderRejected
	default:
		return KindUnexpected
	}
}

// Reason formats an error as a persisted failure reason, e.g. "OrderRejected: min size".
func Reason(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", FailureKindOf(err), err.Error())
}
