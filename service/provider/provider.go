// Package provider is the wallet provider capability: account access, chain and
// balance queries, transaction submission and receipt waiting, plus a stream of
// account/chain/disconnect events.
package provider

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// Provider is the interface for the wallet operations the session needs.
// This allows us to swap the JSON-RPC wallet for a mock in tests.
type Provider interface {
	// RequestAccounts asks the wallet for account access and may prompt the user.
	RequestAccounts(ctx context.Context) ([]common.Address, error)

	// Accounts lists already-authorized accounts without prompting.
	Accounts(ctx context.Context) ([]common.Address, error)

	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)

	// CallContract executes a read-only call at the latest block.
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)

	// SendTransaction submits msg for signing by the wallet and returns its hash.
	SendTransaction(ctx context.Context, msg ethereum.CallMsg) (common.Hash, error)

	// WaitForReceipt blocks until hash is mined or ctx is done.
	WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)

	// SubscribeEvents delivers provider events to ch in arrival order.
	SubscribeEvents(ch chan<- Event) event.Subscription
}

// EventKind identifies a provider event.
type EventKind string

const (
	EventAccountsChanged EventKind = "accountsChanged"
	EventChainChanged    EventKind = "chainChanged"
	EventDisconnect      EventKind = "disconnect"
)

// Event is a provider-originated notification.
type Event struct {
	Kind       EventKind
	Accounts   []common.Address // EventAccountsChanged
	ChainIDHex string           // EventChainChanged, e.g. "0x89"
	Err        error            // EventDisconnect
}

// AccountsChanged builds an accountsChanged event.
func AccountsChanged(accounts ...common.Address) Event {
	return Event{Kind: EventAccountsChanged, Accounts: accounts}
}

// ChainChanged builds a chainChanged event.
func ChainChanged(chainIDHex string) Event {
	return Event{Kind: EventChainChanged, ChainIDHex: chainIDHex}
}

// Disconnected builds a disconnect event.
func Disconnected(err error) Event {
	return Event{Kind: EventDisconnect, Err: err}
}
