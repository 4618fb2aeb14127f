package errs

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// User-facing messages for the fixed categories.
const (
	MsgUserRejected        = "Transaction rejected by user."
	MsgInsufficientFunds   = "Insufficient funds for transaction."
	MsgNotConnected        = "Wallet not connected"
	MsgProviderUnavailable = "Wallet provider not available. Install or unlock a wallet and try again."
	MsgNoAccounts          = "No accounts were authorized by the wallet."
	MsgBelowZero           = "Cannot decrement below zero."
	MsgReverted            = "Smart Contract Error: The transaction was reverted by the blockchain. This might be due to contract conditions not being met."
	MsgReadCallException   = "Contract read failed. Please check your connection or try again later."
	MsgReadDefault         = "Error reading contract data"
	MsgCancelled           = "Request was cancelled"
	MsgUnknown             = "Unknown error"
)

const (
	eip1193UserRejected  = 4001
	rpcExecutionReverted = 3
)

// Normalized is the user-facing form of an error.
type Normalized struct {
	Category Category `json:"category"`
	Message  string   `json:"message"`
	Reason   string   `json:"reason,omitempty"`
}

// Normalize maps any error onto a category and display message. It never panics;
// unrecognized shapes become CategoryUnknown with the original message kept.
func Normalize(err error) Normalized {
	if err == nil {
		return Normalized{Category: CategoryUnknown, Message: MsgUnknown}
	}

	var readErr *ReadError
	if errors.As(err, &readErr) {
		return normalizeRead(readErr.Err)
	}

	switch {
	case errors.Is(err, ErrProviderUnavailable):
		return Normalized{Category: CategoryProviderUnavailable, Message: MsgProviderUnavailable}
	case errors.Is(err, ErrNotConnected):
		return Normalized{Category: CategoryNotConnected, Message: MsgNotConnected}
	case errors.Is(err, ErrNoAccounts):
		return Normalized{Category: CategoryUserRejected, Message: MsgNoAccounts}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Normalized{Category: CategoryUnknown, Message: MsgCancelled}
	}

	code, reason := Classify(err)
	switch code {
	case CodeActionRejected:
		return Normalized{Category: CategoryUserRejected, Message: MsgUserRejected}
	case CodeInsufficientFunds:
		return Normalized{Category: CategoryInsufficientFunds, Message: MsgInsufficientFunds}
	case CodeCallException:
		if reason != "" {
			if strings.Contains(reason, "cannot decrement below zero") {
				return Normalized{Category: CategoryContractReverted, Message: MsgBelowZero, Reason: reason}
			}
			return Normalized{Category: CategoryContractReverted, Message: "Transaction reverted: " + reason, Reason: reason}
		}
	}

	msg := err.Error()
	if strings.Contains(msg, "cannot decrement below zero") {
		return Normalized{Category: CategoryContractReverted, Message: MsgBelowZero, Reason: "cannot decrement below zero"}
	}
	if code == CodeCallException || strings.Contains(strings.ToLower(msg), "revert") {
		return Normalized{Category: CategoryContractReverted, Message: MsgReverted}
	}

	return Normalized{Category: CategoryUnknown, Message: CleanMessage(msg)}
}

func normalizeRead(err error) Normalized {
	if code, _ := Classify(err); code == CodeCallException {
		return Normalized{Category: CategoryReadFailure, Message: MsgReadCallException}
	}
	if err == nil {
		return Normalized{Category: CategoryReadFailure, Message: MsgReadDefault}
	}
	msg := CleanMessage(err.Error())
	if msg == "" {
		msg = MsgReadDefault
	}
	return Normalized{Category: CategoryReadFailure, Message: msg}
}

// CleanMessage truncates msg at its first parenthesis, which is where wallet
// libraries start appending call details. If nothing would remain, msg is
// returned unchanged apart from surrounding whitespace.
func CleanMessage(msg string) string {
	if idx := strings.Index(msg, "("); idx > 0 {
		if head := strings.TrimSpace(msg[:idx]); head != "" {
			return head
		}
	}
	return strings.TrimSpace(msg)
}

// Classify extracts a structured code and revert reason from err. It understands
// ProviderError and the JSON-RPC error shapes produced by go-ethereum's rpc package.
// An empty code means err carries no recognizable structure.
func Classify(err error) (code, reason string) {
	if err == nil {
		return "", ""
	}

	var pe *ProviderError
	if errors.As(err, &pe) && pe.Code != "" {
		return pe.Code, pe.Reason
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case eip1193UserRejected:
			return CodeActionRejected, ""
		case rpcExecutionReverted:
			return CodeCallException, revertReason(err)
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "user rejected"), strings.Contains(msg, "user denied"):
		return CodeActionRejected, ""
	case strings.Contains(msg, "insufficient funds"):
		return CodeInsufficientFunds, ""
	case strings.Contains(msg, "execution reverted"):
		return CodeCallException, revertReason(err)
	}
	return "", ""
}

// FromRPC converts a raw provider error into a *ProviderError when it can be
// classified, and returns it unchanged otherwise.
func FromRPC(err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	code, reason := Classify(err)
	if code == "" {
		return err
	}
	return &ProviderError{Code: code, Reason: reason, Message: err.Error(), Err: err}
}

func revertReason(err error) string {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if data, ok := dataErr.ErrorData().(string); ok {
			if raw, decErr := hexutil.Decode(data); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
					return reason
				}
			}
		}
	}

	const marker = "execution reverted: "
	msg := err.Error()
	if idx := strings.Index(msg, marker); idx >= 0 {
		return strings.TrimSpace(msg[idx+len(marker):])
	}
	return ""
}
