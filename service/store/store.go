// Package store persists the last-known wallet session snapshot so a restarted
// process can rehydrate it. Loading never fails: missing or unreadable data is
// reported as absent.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/counterwallet/service/metrics"
	"github.com/brojonat/counterwallet/service/txn"
	"github.com/ethereum/go-ethereum/common"
)

// SnapshotKey is the key the snapshot is stored under in every backend.
const SnapshotKey = "walletState"

// ErrNotFound is returned by a Backend when no snapshot is stored.
var ErrNotFound = errors.New("snapshot not found")

// Snapshot is the serialized session plus transaction state.
type Snapshot struct {
	Address   string       `json:"address,omitempty"`
	ChainID   int64        `json:"chainId,omitempty"`
	Balance   string       `json:"balance,omitempty"`
	Connected bool         `json:"isConnected"`
	Pending   []string     `json:"pendingTransactions"`
	History   []txn.Record `json:"transactionHistory"`
	SavedAt   time.Time    `json:"savedAt"`
}

// Store is durable storage for the session snapshot.
type Store interface {
	// Load returns the stored snapshot, or false when none is stored or it
	// cannot be decoded.
	Load(ctx context.Context) (*Snapshot, bool)
	Save(ctx context.Context, snap Snapshot) error
	Clear(ctx context.Context) error
	Close() error
}

// Backend is raw key-value storage for the encoded snapshot.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// SessionStore encodes snapshots onto a Backend.
type SessionStore struct {
	backend Backend
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New wraps backend. m may be nil.
func New(backend Backend, logger *slog.Logger, m *metrics.Metrics) *SessionStore {
	return &SessionStore{
		backend: backend,
		logger:  logger,
		metrics: m,
	}
}

// Load implements Store. Corrupt data is removed so the next start is clean.
func (s *SessionStore) Load(ctx context.Context) (*Snapshot, bool) {
	raw, err := s.backend.Get(ctx, SnapshotKey)
	if errors.Is(err, ErrNotFound) {
		s.metrics.RecordSnapshotLoad("absent")
		return nil, false
	}
	if err != nil {
		s.logger.WarnContext(ctx, "failed to read session snapshot", "error", err)
		s.metrics.RecordSnapshotLoad("error")
		return nil, false
	}

	snap, err := Decode(raw)
	if err != nil {
		s.logger.WarnContext(ctx, "discarding corrupt session snapshot", "error", err)
		s.metrics.RecordSnapshotLoad("corrupt")
		if delErr := s.backend.Delete(ctx, SnapshotKey); delErr != nil {
			s.logger.WarnContext(ctx, "failed to remove corrupt session snapshot", "error", delErr)
		}
		return nil, false
	}

	s.metrics.RecordSnapshotLoad("found")
	return snap, true
}

// Save implements Store.
func (s *SessionStore) Save(ctx context.Context, snap Snapshot) error {
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now().UTC()
	}
	data, err := json.Marshal(snap)
	if err != nil {
		s.metrics.RecordPersistence("save", err)
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	err = s.backend.Put(ctx, SnapshotKey, data)
	s.metrics.RecordPersistence("save", err)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Clear implements Store.
func (s *SessionStore) Clear(ctx context.Context) error {
	err := s.backend.Delete(ctx, SnapshotKey)
	s.metrics.RecordPersistence("clear", err)
	if err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SessionStore) Close() error {
	return s.backend.Close()
}

// Decode parses and validates an encoded snapshot. A connected snapshot must
// carry a valid address and a positive chain id; a disconnected one has its
// session fields dropped.
func Decode(raw []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("invalid snapshot encoding: %w", err)
	}

	if !snap.Connected {
		snap.Address = ""
		snap.ChainID = 0
		snap.Balance = ""
		return &snap, nil
	}

	if !common.IsHexAddress(snap.Address) {
		return nil, fmt.Errorf("connected snapshot has invalid address %q", snap.Address)
	}
	if snap.ChainID <= 0 {
		return nil, fmt.Errorf("connected snapshot has invalid chain id %d", snap.ChainID)
	}
	snap.Address = strings.ToLower(snap.Address)
	return &snap, nil
}
