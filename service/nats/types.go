package nats

import (
	"fmt"
	"strings"
	"time"

	"github.com/brojonat/counterwallet/service/networks"
	"github.com/brojonat/counterwallet/service/session"
	"github.com/brojonat/counterwallet/service/txn"
)

// SessionEvent is published to "wallet.session" whenever the session tuple changes.
type SessionEvent struct {
	Status  string `json:"status"`
	Address string `json:"address,omitempty"`
	ChainID int64  `json:"chain_id,omitempty"`
	Network string `json:"network,omitempty"`
	Balance string `json:"balance,omitempty"`

	PublishedAt time.Time `json:"published_at"`
}

// TransactionEvent is published to "wallet.txns.{hash}" on every status change
// of a tracked transaction.
type TransactionEvent struct {
	Hash      string `json:"hash"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`

	// Session the transaction was observed under
	Address     string `json:"address,omitempty"`
	ChainID     int64  `json:"chain_id,omitempty"`
	ExplorerURL string `json:"explorer_url,omitempty"`

	PublishedAt time.Time `json:"published_at"`
}

// SessionSubject is the subject session events are published on.
const SessionSubject = "wallet.session"

// TransactionSubject returns the subject for events about hash.
func TransactionSubject(hash string) string {
	return fmt.Sprintf("wallet.txns.%s", strings.ToLower(hash))
}

// FromSession converts a session to a SessionEvent for publishing.
func FromSession(s session.Session, registry *networks.Registry) *SessionEvent {
	event := &SessionEvent{
		Status:      string(s.Status),
		Address:     s.Address,
		ChainID:     s.ChainID,
		Balance:     s.Balance,
		PublishedAt: time.Now().UTC(),
	}
	if s.Connected() && registry != nil {
		event.Network = registry.Name(s.ChainID)
	}
	return event
}

// FromRecord converts a transaction record to a TransactionEvent for publishing.
func FromRecord(rec txn.Record, s session.Session, registry *networks.Registry) *TransactionEvent {
	event := &TransactionEvent{
		Hash:        rec.Hash,
		Status:      string(rec.Status),
		Timestamp:   rec.Timestamp,
		Address:     s.Address,
		ChainID:     s.ChainID,
		PublishedAt: time.Now().UTC(),
	}
	if s.Connected() && registry != nil {
		event.ExplorerURL = registry.ExplorerTxURL(s.ChainID, rec.Hash)
	}
	return event
}
