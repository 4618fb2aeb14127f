// Package session owns the wallet session: connection status, account, chain
// and balance. It reconciles user commands and provider events into state
// transitions, persists the result, and publishes views to subscribers.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/brojonat/counterwallet/service/errs"
	"github.com/brojonat/counterwallet/service/metrics"
	"github.com/brojonat/counterwallet/service/provider"
	"github.com/brojonat/counterwallet/service/store"
	"github.com/brojonat/counterwallet/service/txn"
	"github.com/ethereum/go-ethereum/common"
)

// Status is the connection status of the session.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnected    Status = "connected"
)

// DefaultMaxSubscribers bounds concurrent view subscribers when Config leaves it unset.
const DefaultMaxSubscribers = 16

var (
	// ErrSuperseded is returned when a newer session change overtook an operation
	// while it waited on the provider. Its result was discarded.
	ErrSuperseded = errors.New("operation superseded by a newer session change")

	// ErrTooManySubscribers is returned by Subscribe when the subscriber bound is reached.
	ErrTooManySubscribers = errors.New("too many subscribers")
)

// Session is the current wallet binding. Zero values mean absent: Address and
// ChainID are either both set (Connected) or both zero (Disconnected).
type Session struct {
	Status  Status `json:"status"`
	Address string `json:"address,omitempty"`
	ChainID int64  `json:"chainId,omitempty"`
	Balance string `json:"balance,omitempty"`
}

// Connected reports whether the session is bound to an account.
func (s Session) Connected() bool {
	return s.Status == StatusConnected
}

// View is the published state surface.
type View struct {
	Version uint64       `json:"version"`
	Session Session      `json:"session"`
	Error   *Notice      `json:"error,omitempty"`
	Pending []string     `json:"pending"`
	History []txn.Record `json:"history"`
	Count   string       `json:"count,omitempty"`
	Loading bool         `json:"loading"`
}

// Config tunes a Machine.
type Config struct {
	ErrorWindow    time.Duration
	MaxSubscribers int
}

// ReloadFunc is called after a chain switch so dependents can rebind.
type ReloadFunc func(ctx context.Context, s Session)

// Machine is the session state machine. All mutations of the state tuple
// happen under one lock and are tagged with an epoch; a provider result is
// applied only if no other session change happened while it was in flight.
type Machine struct {
	provider provider.Provider
	store    store.Store
	tracker  *txn.Tracker
	errors   *ErrorState
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	session Session
	epoch   uint64
	// switching is the account an accountsChanged event is binding to while
	// its chain lookup is in flight; empty otherwise.
	switching string

	persist *persister

	notifyMu sync.Mutex
	version  uint64
	hub      *hub

	hooksMu     sync.Mutex
	onReload    []ReloadFunc
	countSource func() (string, bool)

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewMachine creates a disconnected machine. Call Restore to rehydrate from st
// and Close to flush persistence on shutdown. st may be nil for an unpersisted session.
func NewMachine(p provider.Provider, st store.Store, tracker *txn.Tracker, logger *slog.Logger, m *metrics.Metrics, cfg Config) *Machine {
	if cfg.MaxSubscribers <= 0 {
		cfg.MaxSubscribers = DefaultMaxSubscribers
	}
	machine := &Machine{
		provider: p,
		store:    st,
		tracker:  tracker,
		errors:   NewErrorState(cfg.ErrorWindow, logger, m),
		logger:   logger,
		metrics:  m,
		session:  Session{Status: StatusDisconnected},
		persist:  newPersister(st, logger),
		hub:      newHub(cfg.MaxSubscribers),
	}
	machine.errors.setOnChange(machine.notify)
	tracker.OnChange(machine.onTransaction)
	return machine
}

// Errors returns the machine's error state.
func (m *Machine) Errors() *ErrorState {
	return m.errors
}

// Tracker returns the transaction tracker the machine persists.
func (m *Machine) Tracker() *txn.Tracker {
	return m.tracker
}

// Session returns a copy of the current session.
func (m *Machine) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// OnReload registers fn to run after every chain switch.
func (m *Machine) OnReload(fn ReloadFunc) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.onReload = append(m.onReload, fn)
}

// SetCountSource registers the provider of the counter fields in View.
func (m *Machine) SetCountSource(fn func() (count string, loading bool)) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.countSource = fn
}

// Connect requests account access and binds the session to the first account.
// On failure the session is unchanged and the error is published.
func (m *Machine) Connect(ctx context.Context) error {
	if m.provider == nil {
		m.errors.Raise(errs.ErrProviderUnavailable)
		return errs.ErrProviderUnavailable
	}

	epoch := m.advance()

	accounts, err := m.provider.RequestAccounts(ctx)
	if err == nil && len(accounts) == 0 {
		err = errs.ErrNoAccounts
	}
	if err != nil {
		return m.failed(ctx, epoch, "connect", fmt.Errorf("failed to request accounts: %w", err))
	}

	chainID, err := m.provider.ChainID(ctx)
	if err != nil {
		return m.failed(ctx, epoch, "connect", fmt.Errorf("failed to get chain id: %w", err))
	}

	next := Session{
		Status:  StatusConnected,
		Address: strings.ToLower(accounts[0].Hex()),
		ChainID: chainID.Int64(),
	}
	if !m.commit(epoch, "connect", next) {
		return ErrSuperseded
	}

	m.logger.InfoContext(ctx, "wallet connected", "address", next.Address, "chain_id", next.ChainID)
	m.errors.Dismiss()
	if err := m.RefreshBalance(ctx); err != nil {
		m.logger.WarnContext(ctx, "balance fetch after connect failed", "error", err)
	}
	return nil
}

// Disconnect unconditionally clears the session and the persisted snapshot.
func (m *Machine) Disconnect(ctx context.Context) {
	m.disconnect(ctx, "user")
}

// RefreshBalance re-queries the balance of the connected account. It is a
// no-op while disconnected. Failures are published but leave the session as is.
func (m *Machine) RefreshBalance(ctx context.Context) error {
	m.mu.Lock()
	if !m.session.Connected() || m.provider == nil {
		m.mu.Unlock()
		return nil
	}
	epoch := m.epoch
	address := m.session.Address
	m.mu.Unlock()

	wei, err := m.provider.BalanceAt(ctx, common.HexToAddress(address))
	if err != nil {
		if m.stale(epoch) {
			m.metrics.RecordStaleUpdate("balance")
			return nil
		}
		if ctx.Err() == nil {
			m.errors.Raise(err)
		}
		return fmt.Errorf("failed to fetch balance: %w", err)
	}

	balance := FormatEther(wei)
	m.mu.Lock()
	if m.epoch != epoch || !m.session.Connected() {
		m.mu.Unlock()
		m.metrics.RecordStaleUpdate("balance")
		m.logger.DebugContext(ctx, "dropping stale balance", "address", address)
		return nil
	}
	m.session.Balance = balance
	m.persistLocked()
	m.mu.Unlock()

	m.notify()
	return nil
}

// Restore seeds state from the persisted snapshot. Transaction history is
// always restored; the session is restored only if the provider still lists
// an authorized account, using eth_accounts so the user is not prompted.
func (m *Machine) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	snap, ok := m.store.Load(ctx)
	if !ok {
		m.notify()
		return nil
	}
	m.tracker.Restore(snap.History, snap.Pending)

	if !snap.Connected || m.provider == nil {
		m.notify()
		return nil
	}

	epoch := m.advance()
	accounts, err := m.provider.Accounts(ctx)
	if err != nil || len(accounts) == 0 {
		if m.stale(epoch) {
			return ErrSuperseded
		}
		m.logger.InfoContext(ctx, "persisted session no longer authorized", "error", err)
		m.disconnect(ctx, "restore")
		return nil
	}
	chainID, err := m.provider.ChainID(ctx)
	if err != nil {
		if m.stale(epoch) {
			return ErrSuperseded
		}
		m.logger.WarnContext(ctx, "failed to confirm chain for persisted session", "error", err)
		m.disconnect(ctx, "restore")
		return nil
	}

	next := Session{
		Status:  StatusConnected,
		Address: strings.ToLower(accounts[0].Hex()),
		ChainID: chainID.Int64(),
	}
	if next.Address == snap.Address && next.ChainID == snap.ChainID {
		next.Balance = snap.Balance
	}
	if !m.commit(epoch, "restore", next) {
		return ErrSuperseded
	}

	m.logger.InfoContext(ctx, "session restored", "address", next.Address, "chain_id", next.ChainID)
	if err := m.RefreshBalance(ctx); err != nil {
		m.logger.WarnContext(ctx, "balance fetch after restore failed", "error", err)
	}
	return nil
}

// Sync blocks until all persistence queued before the call is written.
func (m *Machine) Sync(ctx context.Context) error {
	return m.persist.sync(ctx)
}

// Wait blocks until follow-up work started by provider events has finished.
func (m *Machine) Wait() {
	m.wg.Wait()
}

// Close waits for follow-up work, flushes persistence and stops the error timer.
// Cancel the contexts passed to the machine first so follow-ups can end.
func (m *Machine) Close() {
	m.closeOnce.Do(func() {
		m.wg.Wait()
		m.persist.close()
		m.errors.Close()
	})
}

// advance starts a session-changing operation and returns its epoch.
func (m *Machine) advance() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch++
	m.switching = ""
	return m.epoch
}

func (m *Machine) stale(epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch != epoch
}

// commit replaces the whole session if epoch is still current.
func (m *Machine) commit(epoch uint64, reason string, next Session) bool {
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		m.metrics.RecordStaleUpdate(reason)
		m.logger.Debug("dropping superseded session update", "reason", reason)
		return false
	}
	m.session = next
	m.switching = ""
	m.persistLocked()
	m.mu.Unlock()

	m.metrics.RecordSessionTransition(string(next.Status), reason)
	m.notify()
	return true
}

func (m *Machine) failed(ctx context.Context, epoch uint64, operation string, err error) error {
	if m.stale(epoch) {
		m.metrics.RecordStaleUpdate(operation)
		return ErrSuperseded
	}
	if ctx.Err() == nil {
		m.errors.Raise(err)
	}
	m.logger.WarnContext(ctx, "session operation failed", "operation", operation, "error", err)
	return err
}

func (m *Machine) disconnect(ctx context.Context, reason string) {
	m.mu.Lock()
	m.epoch++
	m.switching = ""
	was := m.session.Status
	m.session = Session{Status: StatusDisconnected}
	m.persist.clear()
	m.mu.Unlock()

	if was == StatusConnected {
		m.logger.InfoContext(ctx, "wallet disconnected", "reason", reason)
	}
	m.metrics.RecordSessionTransition(string(StatusDisconnected), reason)
	m.notify()
}

// persistLocked queues a snapshot of the current state. m.mu must be held.
func (m *Machine) persistLocked() {
	if !m.session.Connected() {
		return
	}
	tx := m.tracker.Snapshot()
	m.persist.save(store.Snapshot{
		Address:   m.session.Address,
		ChainID:   m.session.ChainID,
		Balance:   m.session.Balance,
		Connected: true,
		Pending:   tx.Pending,
		History:   tx.History,
	})
}

func (m *Machine) onTransaction(txn.Record) {
	m.mu.Lock()
	m.persistLocked()
	m.mu.Unlock()
	m.notify()
}
