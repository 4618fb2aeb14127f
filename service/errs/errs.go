// Package errs defines the failure taxonomy surfaced to users and the
// normalizer that maps raw provider and contract errors onto it.
package errs

import (
	"errors"
	"fmt"
)

// Category is a user-facing error class.
type Category string

const (
	CategoryProviderUnavailable Category = "ProviderUnavailable"
	CategoryUserRejected        Category = "UserRejected"
	CategoryNotConnected        Category = "NotConnectedError"
	CategoryInsufficientFunds   Category = "InsufficientFunds"
	CategoryContractReverted    Category = "ContractReverted"
	CategoryReadFailure         Category = "ReadFailure"
	CategoryPersistenceCorrupt  Category = "PersistenceCorrupt"
	CategoryUnknown             Category = "Unknown"
)

// Structured provider error codes. They follow the codes used by browser wallet
// libraries so that errors relayed from a browser keep their classification.
const (
	CodeActionRejected    = "ACTION_REJECTED"
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodeCallException     = "CALL_EXCEPTION"
	CodeUnknown           = "UNKNOWN_ERROR"
)

var (
	// ErrProviderUnavailable is returned when no wallet provider is configured or reachable.
	ErrProviderUnavailable = errors.New("wallet provider not available")

	// ErrNotConnected is returned when a write action is attempted without an active session.
	ErrNotConnected = errors.New("wallet not connected")

	// ErrNoAccounts is returned when the provider grants access to zero accounts.
	ErrNoAccounts = errors.New("no accounts authorized")
)

// ProviderError is a structured failure reported by the wallet provider or a contract call.
type ProviderError struct {
	Code    string
	Reason  string // revert reason, when the contract supplied one
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ReadError wraps a failure of a read-only contract query.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("contract read failed: %v", e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}
