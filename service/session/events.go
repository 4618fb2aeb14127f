package session

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/brojonat/counterwallet/service/errs"
	"github.com/brojonat/counterwallet/service/provider"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// eventBuffer is how many provider events may queue while one is handled.
const eventBuffer = 32

// Run subscribes to provider events and applies them one at a time in
// arrival order until ctx is done.
func (m *Machine) Run(ctx context.Context) error {
	if m.provider == nil {
		return errs.ErrProviderUnavailable
	}
	events := make(chan provider.Event, eventBuffer)
	sub := m.provider.SubscribeEvents(events)
	defer sub.Unsubscribe()

	m.logger.InfoContext(ctx, "session event loop started")
	for {
		select {
		case <-ctx.Done():
			m.logger.InfoContext(ctx, "session event loop stopped")
			return ctx.Err()
		case ev := <-events:
			m.HandleEvent(ctx, ev)
		}
	}
}

// HandleEvent applies one provider event. The state change itself is
// synchronous; provider round trips it triggers run in the background and
// are discarded if the session changes again before they finish.
func (m *Machine) HandleEvent(ctx context.Context, ev provider.Event) {
	m.logger.DebugContext(ctx, "provider event", "kind", ev.Kind)
	switch ev.Kind {
	case provider.EventAccountsChanged:
		m.onAccountsChanged(ctx, ev.Accounts)
	case provider.EventChainChanged:
		m.onChainChanged(ctx, ev.ChainIDHex)
	case provider.EventDisconnect:
		m.onDisconnect(ctx, ev.Err)
	default:
		m.logger.WarnContext(ctx, "ignoring unknown provider event", "kind", ev.Kind)
	}
}

func (m *Machine) onAccountsChanged(ctx context.Context, accounts []common.Address) {
	if len(accounts) == 0 {
		m.disconnect(ctx, "accounts_changed")
		return
	}

	address := strings.ToLower(accounts[0].Hex())
	m.mu.Lock()
	if m.session.Connected() && m.session.Address == address && m.switching == "" {
		m.mu.Unlock()
		return
	}
	if m.switching == address {
		m.mu.Unlock()
		return
	}
	m.epoch++
	m.switching = address
	epoch := m.epoch
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "active account changed", "address", address)
	m.spawn(ctx, func(ctx context.Context) {
		chainID, err := m.provider.ChainID(ctx)
		if err != nil {
			m.mu.Lock()
			if m.epoch == epoch {
				m.switching = ""
			}
			m.mu.Unlock()
			_ = m.failed(ctx, epoch, "accounts_changed", fmt.Errorf("failed to get chain id: %w", err))
			return
		}
		next := Session{Status: StatusConnected, Address: address, ChainID: chainID.Int64()}
		if !m.commit(epoch, "accounts_changed", next) {
			return
		}
		_ = m.RefreshBalance(ctx)
	})
}

func (m *Machine) onChainChanged(ctx context.Context, chainIDHex string) {
	id, ok := parseChainID(chainIDHex)
	if !ok {
		m.logger.WarnContext(ctx, "ignoring invalid chain id", "chain_id", chainIDHex)
		return
	}

	m.mu.Lock()
	if !m.session.Connected() && m.switching == "" {
		m.mu.Unlock()
		m.logger.DebugContext(ctx, "ignoring chain change while disconnected", "chain_id", id)
		return
	}
	m.epoch++
	if m.switching != "" {
		// the account switch still in flight lands on the new chain
		m.session = Session{Status: StatusConnected, Address: m.switching}
		m.switching = ""
	}
	m.session.ChainID = id
	// the old balance belongs to the previous network
	m.session.Balance = ""
	m.persistLocked()
	current := m.session
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "chain changed", "chain_id", current.ChainID)
	m.metrics.RecordSessionTransition(string(StatusConnected), "chain_changed")
	m.notify()

	m.hooksMu.Lock()
	hooks := append([]ReloadFunc(nil), m.onReload...)
	m.hooksMu.Unlock()

	m.spawn(ctx, func(ctx context.Context) {
		_ = m.RefreshBalance(ctx)
		for _, hook := range hooks {
			hook(ctx, current)
		}
	})
}

func (m *Machine) onDisconnect(ctx context.Context, cause error) {
	m.disconnect(ctx, "provider_disconnect")
	if cause == nil {
		cause = errs.ErrProviderUnavailable
	}
	m.errors.Raise(cause)
}

func (m *Machine) spawn(ctx context.Context, fn func(context.Context)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn(ctx)
	}()
}

// parseChainID decodes a hex chain id, tolerating leading zeros and a missing prefix.
func parseChainID(s string) (int64, bool) {
	id, err := hexutil.DecodeBig(s)
	if err != nil {
		digits := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
		var ok bool
		if id, ok = new(big.Int).SetString(digits, 16); !ok {
			return 0, false
		}
	}
	if id.Sign() <= 0 || !id.IsInt64() {
		return 0, false
	}
	return id.Int64(), true
}
