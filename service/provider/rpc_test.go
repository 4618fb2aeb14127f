package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/counterwallet/service/errs"
	"github.com/brojonat/counterwallet/service/metrics"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Provider = (*RPCProvider)(nil)
	_ Provider = (*MockProvider)(nil)
)

var testAccount = common.HexToAddress("0xabc0000000000000000000000000000000000123")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// codedError is returned by the fake node to produce JSON-RPC error codes.
type codedError struct {
	code int
	msg  string
	data interface{}
}

func (e *codedError) Error() string { return e.msg }

func (e *codedError) ErrorCode() int { return e.code }

func (e *codedError) ErrorData() interface{} { return e.data }

// fakeNode serves the eth namespace without eth_requestAccounts.
type fakeNode struct {
	mu             sync.Mutex
	accounts       []common.Address
	chainID        *big.Int
	balance        *big.Int
	callResult     hexutil.Bytes
	sendErr        error
	sent           []map[string]interface{}
	pendingLookups int
	receiptStatus  uint64
	lookupErr      error
}

func (f *fakeNode) Accounts() ([]common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts, nil
}

func (f *fakeNode) ChainId() (*hexutil.Big, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*hexutil.Big)(f.chainID), nil
}

func (f *fakeNode) GetBalance(account common.Address, block string) (*hexutil.Big, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*hexutil.Big)(f.balance), nil
}

func (f *fakeNode) Call(args map[string]interface{}, block string) (hexutil.Bytes, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callResult, nil
}

func (f *fakeNode) SendTransaction(args map[string]interface{}) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	f.sent = append(f.sent, args)
	return common.HexToHash("0xfeed"), nil
}

func (f *fakeNode) GetTransactionReceipt(hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	if f.pendingLookups > 0 {
		f.pendingLookups--
		return nil, nil
	}
	return &types.Receipt{
		Status:      f.receiptStatus,
		TxHash:      hash,
		BlockNumber: big.NewInt(7),
		Logs:        []*types.Log{},
	}, nil
}

// walletNode adds eth_requestAccounts.
type walletNode struct {
	*fakeNode
	requestErr error
}

func (w *walletNode) RequestAccounts() ([]common.Address, error) {
	if w.requestErr != nil {
		return nil, w.requestErr
	}
	return w.Accounts()
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		accounts:      []common.Address{testAccount},
		chainID:       big.NewInt(1337),
		balance:       big.NewInt(1500000000000000000),
		receiptStatus: types.ReceiptStatusSuccessful,
	}
}

func startProvider(t *testing.T, service interface{}, opts ...Option) *RPCProvider {
	t.Helper()
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", service))
	client := rpc.DialInProc(server)
	t.Cleanup(func() {
		client.Close()
		server.Stop()
	})
	return NewRPCProvider(client, testLogger(), opts...)
}

func TestRPCProvider_Queries(t *testing.T) {
	node := newFakeNode()
	node.callResult = common.LeftPadBytes([]byte{42}, 32)
	p := startProvider(t, &walletNode{fakeNode: node}, WithMetrics(metrics.NewMetrics(prometheus.NewRegistry())))
	ctx := context.Background()

	accounts, err := p.RequestAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{testAccount}, accounts)

	id, err := p.ChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1337), id.Int64())

	balance, err := p.BalanceAt(ctx, testAccount)
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", balance.String())

	contract := common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0")
	out, err := p.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: []byte{0x06, 0x66, 0x1a, 0xbd}})
	require.NoError(t, err)
	assert.Equal(t, byte(42), out[31])
}

func TestRPCProvider_RequestAccountsFallsBack(t *testing.T) {
	p := startProvider(t, newFakeNode())

	accounts, err := p.RequestAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []common.Address{testAccount}, accounts)
}

func TestRPCProvider_RequestAccountsRejected(t *testing.T) {
	p := startProvider(t, &walletNode{
		fakeNode:   newFakeNode(),
		requestErr: &codedError{code: 4001, msg: "User rejected the request."},
	})

	_, err := p.RequestAccounts(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.CategoryUserRejected, errs.Normalize(err).Category)
}

func TestRPCProvider_SendTransaction(t *testing.T) {
	node := newFakeNode()
	p := startProvider(t, node)
	contract := common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0")

	hash, err := p.SendTransaction(context.Background(), ethereum.CallMsg{
		From: testAccount,
		To:   &contract,
		Data: []byte{0xd0, 0x9d, 0xe0, 0x8a},
	})
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xfeed"), hash)

	require.Len(t, node.sent, 1)
	assert.Equal(t, "0xd09de08a", node.sent[0]["data"])
	assert.Equal(t, "0x9fe46736679d2d9a65f0992f2272de9f3c7fa6e0", node.sent[0]["to"])
	_, hasValue := node.sent[0]["value"]
	assert.False(t, hasValue)
}

func TestRPCProvider_SendTransactionErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category errs.Category
		message  string
	}{
		{
			name:     "insufficient funds",
			err:      &codedError{code: -32000, msg: "insufficient funds for gas * price + value"},
			category: errs.CategoryInsufficientFunds,
			message:  errs.MsgInsufficientFunds,
		},
		{
			name:     "revert with reason",
			err:      &codedError{code: 3, msg: "execution reverted: Counter: cannot decrement below zero"},
			category: errs.CategoryContractReverted,
			message:  errs.MsgBelowZero,
		},
		{
			name:     "user rejected",
			err:      &codedError{code: 4001, msg: "User denied transaction signature."},
			category: errs.CategoryUserRejected,
			message:  errs.MsgUserRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := newFakeNode()
			node.sendErr = tt.err
			p := startProvider(t, node)

			_, err := p.SendTransaction(context.Background(), ethereum.CallMsg{From: testAccount})
			require.Error(t, err)
			n := errs.Normalize(err)
			assert.Equal(t, tt.category, n.Category)
			assert.Equal(t, tt.message, n.Message)
		})
	}
}

func TestRPCProvider_WaitForReceipt(t *testing.T) {
	node := newFakeNode()
	node.pendingLookups = 2
	node.receiptStatus = types.ReceiptStatusFailed
	p := startProvider(t, node, WithReceiptInterval(5*time.Millisecond))

	receipt, err := p.WaitForReceipt(context.Background(), common.HexToHash("0xfeed"))
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusFailed, receipt.Status)
	assert.Equal(t, 0, node.pendingLookups)
}

func TestRPCProvider_WaitForReceiptCancelled(t *testing.T) {
	node := newFakeNode()
	node.pendingLookups = 1 << 30
	p := startProvider(t, node, WithReceiptInterval(5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := p.WaitForReceipt(ctx, common.HexToHash("0xfeed"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRPCProvider_WaitForReceiptGivesUp(t *testing.T) {
	node := newFakeNode()
	node.lookupErr = &codedError{code: -32000, msg: "header not found"}
	p := startProvider(t, node, WithReceiptInterval(time.Millisecond))

	_, err := p.WaitForReceipt(context.Background(), common.HexToHash("0xfeed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "header not found")
}

func TestDial_EmptyURL(t *testing.T) {
	_, err := Dial(context.Background(), "", testLogger())
	assert.True(t, errors.Is(err, errs.ErrProviderUnavailable))
}

// stubSource feeds scripted results to a watcher.
type stubSource struct {
	accounts []common.Address
	chainID  int64
	err      error
}

func (s *stubSource) Accounts(context.Context) ([]common.Address, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.accounts, nil
}

func (s *stubSource) ChainID(context.Context) (*big.Int, error) {
	if s.err != nil {
		return nil, s.err
	}
	return big.NewInt(s.chainID), nil
}

func TestWatcher(t *testing.T) {
	ctx := context.Background()
	src := &stubSource{accounts: []common.Address{testAccount}, chainID: 1}
	var events []Event
	w := &watcher{source: src, emit: func(ev Event) { events = append(events, ev) }, healthy: true}

	// first step only records the baseline
	w.step(ctx)
	assert.Empty(t, events)

	other := common.HexToAddress("0xdef0000000000000000000000000000000000456")
	src.accounts = []common.Address{other}
	src.chainID = 137
	w.step(ctx)
	require.Len(t, events, 2)
	assert.Equal(t, EventAccountsChanged, events[0].Kind)
	assert.Equal(t, []common.Address{other}, events[0].Accounts)
	assert.Equal(t, EventChainChanged, events[1].Kind)
	assert.Equal(t, "0x89", events[1].ChainIDHex)

	// no change, no events
	w.step(ctx)
	assert.Len(t, events, 2)

	// outage emits one disconnect
	src.err = errors.New("connection refused")
	w.step(ctx)
	w.step(ctx)
	require.Len(t, events, 3)
	assert.Equal(t, EventDisconnect, events[2].Kind)

	// recovery re-baselines silently even if state moved
	src.err = nil
	src.chainID = 1
	w.step(ctx)
	assert.Len(t, events, 3)

	src.accounts = nil
	w.step(ctx)
	require.Len(t, events, 4)
	assert.Equal(t, EventAccountsChanged, events[3].Kind)
	assert.Empty(t, events[3].Accounts)
}

func TestRPCProvider_WatchPublishesToSubscribers(t *testing.T) {
	node := newFakeNode()
	p := startProvider(t, node)

	ch := make(chan Event, 4)
	sub := p.SubscribeEvents(ch)
	defer sub.Unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Watch(ctx, 5*time.Millisecond) }()

	// let the watcher take its baseline, then switch chains
	time.Sleep(20 * time.Millisecond)
	node.mu.Lock()
	node.chainID = big.NewInt(5)
	node.mu.Unlock()

	select {
	case ev := <-ch:
		assert.Equal(t, EventChainChanged, ev.Kind)
		assert.Equal(t, "0x5", ev.ChainIDHex)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for chainChanged")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
