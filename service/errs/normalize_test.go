package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// jsonRPCError mimics the error values returned by go-ethereum's rpc client.
type jsonRPCError struct {
	code int
	msg  string
	data interface{}
}

func (e *jsonRPCError) Error() string { return e.msg }
func (e *jsonRPCError) ErrorCode() int { return e.code }
func (e *jsonRPCError) ErrorData() interface{} { return e.data }

func revertData(t *testing.T, reason string) string {
	t.Helper()
	stringType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: stringType}}.Pack(reason)
	require.NoError(t, err)
	// Error(string) selector
	return hexutil.Encode(append([]byte{0x08, 0xc3, 0x79, 0xa0}, packed...))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category Category
		message  string
		reason   string
	}{
		{
			name:     "nil",
			err:      nil,
			category: CategoryUnknown,
			message:  MsgUnknown,
		},
		{
			name:     "action rejected uses fixed message",
			err:      &ProviderError{Code: CodeActionRejected, Message: "user rejected action (action=\"sendTransaction\", code=ACTION_REJECTED)"},
			category: CategoryUserRejected,
			message:  "Transaction rejected by user.",
		},
		{
			name:     "insufficient funds",
			err:      &ProviderError{Code: CodeInsufficientFunds, Message: "insufficient funds for intrinsic transaction cost"},
			category: CategoryInsufficientFunds,
			message:  "Insufficient funds for transaction.",
		},
		{
			name:     "call exception with reason",
			err:      &ProviderError{Code: CodeCallException, Reason: "paused", Message: "execution reverted"},
			category: CategoryContractReverted,
			message:  "Transaction reverted: paused",
			reason:   "paused",
		},
		{
			name:     "call exception below zero",
			err:      &ProviderError{Code: CodeCallException, Reason: "Counter: cannot decrement below zero"},
			category: CategoryContractReverted,
			message:  "Cannot decrement below zero.",
			reason:   "Counter: cannot decrement below zero",
		},
		{
			name:     "below zero in message only",
			err:      errors.New("transaction failed: cannot decrement below zero"),
			category: CategoryContractReverted,
			message:  "Cannot decrement below zero.",
			reason:   "cannot decrement below zero",
		},
		{
			name:     "call exception without reason",
			err:      &ProviderError{Code: CodeCallException, Message: "missing revert data"},
			category: CategoryContractReverted,
			message:  MsgReverted,
		},
		{
			name:     "eip-1193 user rejection",
			err:      &jsonRPCError{code: 4001, msg: "MetaMask Tx Signature: User denied transaction signature."},
			category: CategoryUserRejected,
			message:  "Transaction rejected by user.",
		},
		{
			name:     "rpc revert with encoded reason",
			err:      &jsonRPCError{code: 3, msg: "execution reverted", data: revertData(t, "not owner")},
			category: CategoryContractReverted,
			message:  "Transaction reverted: not owner",
			reason:   "not owner",
		},
		{
			name:     "plain revert message",
			err:      errors.New("execution reverted: out of gas"),
			category: CategoryContractReverted,
			message:  "Transaction reverted: out of gas",
			reason:   "out of gas",
		},
		{
			name:     "provider unavailable",
			err:      fmt.Errorf("dial: %w", ErrProviderUnavailable),
			category: CategoryProviderUnavailable,
			message:  MsgProviderUnavailable,
		},
		{
			name:     "not connected",
			err:      ErrNotConnected,
			category: CategoryNotConnected,
			message:  "Wallet not connected",
		},
		{
			name:     "no accounts",
			err:      ErrNoAccounts,
			category: CategoryUserRejected,
			message:  MsgNoAccounts,
		},
		{
			name:     "cancelled",
			err:      fmt.Errorf("send: %w", context.Canceled),
			category: CategoryUnknown,
			message:  MsgCancelled,
		},
		{
			name:     "unknown is truncated at parenthesis",
			err:      errors.New("could not coalesce error (error={ \"code\": -32603 }, payload=...)"),
			category: CategoryUnknown,
			message:  "could not coalesce error",
		},
		{
			name:     "unknown preserved when truncation is empty",
			err:      errors.New("(weird)"),
			category: CategoryUnknown,
			message:  "(weird)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.err)
			assert.Equal(t, tt.category, got.Category)
			assert.Equal(t, tt.message, got.Message)
			assert.Equal(t, tt.reason, got.Reason)
		})
	}
}

func TestNormalize_ReadErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		message string
	}{
		{
			name:    "call exception",
			err:     &ReadError{Err: &ProviderError{Code: CodeCallException}},
			message: MsgReadCallException,
		},
		{
			name:    "network failure message is cleaned",
			err:     &ReadError{Err: errors.New("connection refused (dial tcp 127.0.0.1:8545)")},
			message: "connection refused",
		},
		{
			name:    "missing cause",
			err:     &ReadError{},
			message: MsgReadDefault,
		},
		{
			name:    "wrapped read error",
			err:     fmt.Errorf("count: %w", &ReadError{Err: errors.New("  ")}),
			message: MsgReadDefault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.err)
			assert.Equal(t, CategoryReadFailure, got.Category)
			assert.Equal(t, tt.message, got.Message)
		})
	}
}

func TestFromRPC(t *testing.T) {
	assert.Nil(t, FromRPC(nil))

	raw := errors.New("dial tcp: connection refused")
	assert.Same(t, raw, FromRPC(raw))

	converted := FromRPC(&jsonRPCError{code: 4001, msg: "User rejected the request."})
	var pe *ProviderError
	require.True(t, errors.As(converted, &pe))
	assert.Equal(t, CodeActionRejected, pe.Code)
	assert.Equal(t, "User rejected the request.", pe.Error())

	already := &ProviderError{Code: CodeInsufficientFunds}
	assert.Same(t, already, FromRPC(already))
}

func TestCleanMessage(t *testing.T) {
	assert.Equal(t, "boom", CleanMessage("  boom (details)"))
	assert.Equal(t, "no details", CleanMessage("no details  "))
	assert.Equal(t, "(only)", CleanMessage("(only)"))
	assert.Equal(t, "", CleanMessage(""))
}
