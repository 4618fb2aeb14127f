package counter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/brojonat/counterwallet/service/errs"
	"github.com/brojonat/counterwallet/service/metrics"
	"github.com/brojonat/counterwallet/service/networks"
	"github.com/brojonat/counterwallet/service/provider"
	"github.com/brojonat/counterwallet/service/session"
	"github.com/brojonat/counterwallet/service/txn"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Action names a contract operation.
type Action string

const (
	ActionRead      Action = "read"
	ActionIncrement Action = "increment"
	ActionDecrement Action = "decrement"
)

// DefaultSettleDelay is the pause between a confirmed write and the count re-read.
const DefaultSettleDelay = time.Second

// ErrUnknownAction is returned by ParseAction for names outside the Action set.
var ErrUnknownAction = errors.New("unknown counter action")

// ParseAction maps a case-insensitive name to an Action.
func ParseAction(name string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(name))); a {
	case ActionRead, ActionIncrement, ActionDecrement:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
}

// Writes reports whether a submits a transaction.
func (a Action) Writes() bool {
	return a == ActionIncrement || a == ActionDecrement
}

// Config tunes an Executor.
type Config struct {
	// SettleDelay is waited after a successful confirmation before the count
	// is read again. Zero re-reads immediately.
	SettleDelay time.Duration
}

// Executor runs counter actions for the machine's current session. Failures
// are normalized and published to the machine's error state; callers only
// see whether the action succeeded.
type Executor struct {
	provider provider.Provider
	machine  *session.Machine
	tracker  *txn.Tracker
	registry *networks.Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics
	settle   time.Duration

	mu       sync.Mutex
	count    string
	inflight int
	gen      uint64

	wg sync.WaitGroup
}

// NewExecutor creates an Executor and registers it with machine as the source
// of the counter fields and as a chain-switch reload hook.
func NewExecutor(p provider.Provider, machine *session.Machine, registry *networks.Registry, logger *slog.Logger, m *metrics.Metrics, cfg Config) *Executor {
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	e := &Executor{
		provider: p,
		machine:  machine,
		tracker:  machine.Tracker(),
		registry: registry,
		logger:   logger,
		metrics:  m,
		settle:   cfg.SettleDelay,
	}
	machine.SetCountSource(e.Count)
	machine.OnReload(e.Rebind)
	return e
}

// Count returns the last count read and whether an action is in flight.
func (e *Executor) Count() (count string, loading bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count, e.inflight > 0
}

// ContractAddress returns the counter contract for the session's chain.
func (e *Executor) ContractAddress() common.Address {
	return e.registry.AddressFor(e.machine.Session().ChainID)
}

// Invoke runs action and reports whether it succeeded. Write actions block
// until the transaction is confirmed or ctx is done.
func (e *Executor) Invoke(ctx context.Context, action Action) bool {
	switch action {
	case ActionRead:
		_, err := e.Read(ctx)
		return err == nil
	case ActionIncrement, ActionDecrement:
		ok := e.write(ctx, action)
		e.metrics.RecordContractAction(string(action), ok)
		return ok
	default:
		e.logger.WarnContext(ctx, "ignoring unknown counter action", "action", action)
		return false
	}
}

// Read queries the current count without submitting a transaction. It
// returns errs.ErrNotConnected while disconnected; any other failure is
// returned as *errs.ReadError and published.
func (e *Executor) Read(ctx context.Context) (*big.Int, error) {
	s := e.machine.Session()
	if !s.Connected() || e.provider == nil {
		return nil, errs.ErrNotConnected
	}
	data, err := packCall("count")
	if err != nil {
		return nil, err
	}

	gen := e.begin()
	defer e.end()

	to := e.registry.AddressFor(s.ChainID)
	out, err := e.provider.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data})
	var n *big.Int
	if err == nil {
		n, err = unpackCount(out)
	}
	if err != nil {
		readErr := &errs.ReadError{Err: err}
		if ctx.Err() == nil {
			e.machine.Errors().Raise(readErr)
		}
		e.logger.WarnContext(ctx, "counter read failed", "contract", to.Hex(), "error", err)
		e.metrics.RecordContractAction(string(ActionRead), false)
		return nil, readErr
	}

	e.mu.Lock()
	if e.gen == gen {
		e.count = n.String()
	} else {
		e.metrics.RecordStaleUpdate("count")
	}
	e.mu.Unlock()

	e.metrics.RecordContractAction(string(ActionRead), true)
	return n, nil
}

// Rebind drops the count read on the previous network and reads it again
// from the contract for s. It is registered as the machine's reload hook.
func (e *Executor) Rebind(ctx context.Context, s session.Session) {
	e.mu.Lock()
	e.gen++
	e.count = ""
	e.mu.Unlock()
	e.machine.Touch()

	if !s.Connected() {
		return
	}
	e.logger.InfoContext(ctx, "counter rebound",
		"chain_id", s.ChainID,
		"network", e.registry.Name(s.ChainID),
		"contract", e.registry.AddressFor(s.ChainID).Hex(),
	)
	_, _ = e.Read(ctx)
}

// ResumePending re-watches every pending transaction, typically restored from
// a snapshot, until it reaches a terminal status or ctx is done. It returns
// how many waits were started.
func (e *Executor) ResumePending(ctx context.Context) int {
	pending := e.tracker.Pending()
	for _, hash := range pending {
		h := common.HexToHash(hash)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.await(ctx, h)
		}()
	}
	if len(pending) > 0 {
		e.logger.InfoContext(ctx, "resumed pending confirmations", "count", len(pending))
	}
	return len(pending)
}

// Wait blocks until resumed confirmation waits have finished.
func (e *Executor) Wait() {
	e.wg.Wait()
}

func (e *Executor) write(ctx context.Context, action Action) bool {
	s := e.machine.Session()
	if !s.Connected() || e.provider == nil {
		e.machine.Errors().Raise(errs.ErrNotConnected)
		return false
	}
	data, err := packCall(string(action))
	if err != nil {
		return e.fail(ctx, action, err)
	}

	e.begin()
	defer e.end()

	to := e.registry.AddressFor(s.ChainID)
	msg := ethereum.CallMsg{From: common.HexToAddress(s.Address), To: &to, Data: data}
	hash, err := e.provider.SendTransaction(ctx, msg)
	if err != nil {
		return e.fail(ctx, action, err)
	}
	if err := e.tracker.Submit(hash.Hex()); err != nil {
		return e.fail(ctx, action, err)
	}
	e.logger.InfoContext(ctx, "counter transaction submitted",
		"action", action,
		"hash", hash.Hex(),
		"contract", to.Hex(),
	)

	return e.await(ctx, hash)
}

// await waits for the receipt of hash and records the outcome. Cancellation
// leaves the hash pending and publishes nothing.
func (e *Executor) await(ctx context.Context, hash common.Hash) bool {
	receipt, err := e.provider.WaitForReceipt(ctx, hash)
	if err != nil {
		if ctx.Err() != nil {
			e.logger.DebugContext(ctx, "confirmation wait released", "hash", hash.Hex())
			return false
		}
		e.machine.Errors().Raise(err)
		e.logger.WarnContext(ctx, "confirmation failed", "hash", hash.Hex(), "error", err)
		return false
	}

	succeeded := receipt.Status == types.ReceiptStatusSuccessful
	e.tracker.Confirm(hash.Hex(), succeeded)
	if !succeeded {
		e.machine.Errors().Raise(&errs.ProviderError{
			Code:    errs.CodeCallException,
			Message: "transaction reverted",
		})
		return false
	}

	if !e.sleep(ctx) {
		return true
	}
	_, _ = e.Read(ctx)
	if err := e.machine.RefreshBalance(ctx); err != nil {
		e.logger.WarnContext(ctx, "balance refresh after confirmation failed", "error", err)
	}
	return true
}

func (e *Executor) fail(ctx context.Context, action Action, err error) bool {
	if ctx.Err() == nil {
		e.machine.Errors().Raise(err)
	}
	e.logger.WarnContext(ctx, "counter action failed", "action", action, "error", err)
	return false
}

// sleep waits out the settle delay. It reports false if ctx ended first.
func (e *Executor) sleep(ctx context.Context) bool {
	if e.settle <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(e.settle)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *Executor) begin() uint64 {
	e.mu.Lock()
	e.inflight++
	gen := e.gen
	e.mu.Unlock()
	e.machine.Touch()
	return gen
}

func (e *Executor) end() {
	e.mu.Lock()
	e.inflight--
	e.mu.Unlock()
	e.machine.Touch()
}
