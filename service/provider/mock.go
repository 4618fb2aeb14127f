package provider

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// MockProvider is a mock implementation of Provider for testing.
// Receipts are released with Confirm unless auto-confirm is enabled, and any
// method can be held open with Hold to exercise races.
type MockProvider struct {
	mu sync.Mutex

	accounts   []common.Address
	requestErr error
	accountErr error

	chainID  *big.Int
	chainErr error

	balances   map[common.Address]*big.Int
	balanceErr error

	callHandler func(ethereum.CallMsg) ([]byte, error)

	sendErr  error
	sent     []ethereum.CallMsg
	nextHash uint64

	autoConfirm *bool
	receiptErr  error
	receipts    map[common.Hash]chan bool

	holds map[string]chan struct{}
	calls map[string]int

	feed event.Feed
}

// NewMockProvider creates a mock on chain 1 with no accounts.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		chainID:  big.NewInt(1),
		balances: make(map[common.Address]*big.Int),
		receipts: make(map[common.Hash]chan bool),
		holds:    make(map[string]chan struct{}),
		calls:    make(map[string]int),
	}
}

// SetAccounts configures the accounts returned by RequestAccounts and Accounts.
func (m *MockProvider) SetAccounts(accounts ...common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = accounts
}

// SetRequestError configures RequestAccounts to fail with err.
func (m *MockProvider) SetRequestError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestErr = err
}

// SetAccountsError configures Accounts to fail with err.
func (m *MockProvider) SetAccountsError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountErr = err
}

// SetChainID configures the chain reported by ChainID.
func (m *MockProvider) SetChainID(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chainID = big.NewInt(id)
}

// SetChainError configures ChainID to fail with err.
func (m *MockProvider) SetChainError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chainErr = err
}

// SetBalance configures the balance in wei for account.
func (m *MockProvider) SetBalance(account common.Address, wei *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[account] = new(big.Int).Set(wei)
}

// SetBalanceError configures BalanceAt to fail with err.
func (m *MockProvider) SetBalanceError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceErr = err
}

// SetCallHandler configures the response to CallContract.
func (m *MockProvider) SetCallHandler(fn func(ethereum.CallMsg) ([]byte, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callHandler = fn
}

// SetSendError configures SendTransaction to fail with err.
func (m *MockProvider) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// SetAutoConfirm makes every receipt available immediately with the given outcome.
func (m *MockProvider) SetAutoConfirm(succeeded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoConfirm = &succeeded
}

// SetReceiptError configures WaitForReceipt to fail with err.
func (m *MockProvider) SetReceiptError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receiptErr = err
}

// Confirm releases the receipt for hash. It may be called before or after
// WaitForReceipt starts waiting.
func (m *MockProvider) Confirm(hash common.Hash, succeeded bool) {
	ch := m.receiptChan(hash)
	select {
	case ch <- succeeded:
	default:
	}
}

// Hold makes calls to method block until the returned release func is called
// or the call's context is done. Method names are the Provider method names.
func (m *MockProvider) Hold(method string) (release func()) {
	ch := make(chan struct{})
	m.mu.Lock()
	m.holds[method] = ch
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.holds[method] == ch {
				delete(m.holds, method)
			}
			m.mu.Unlock()
			close(ch)
		})
	}
}

// Emit delivers ev to subscribers and returns how many received it.
func (m *MockProvider) Emit(ev Event) int {
	return m.feed.Send(ev)
}

// Calls returns how many times method was invoked.
func (m *MockProvider) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// Sent returns the messages passed to SendTransaction.
func (m *MockProvider) Sent() []ethereum.CallMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ethereum.CallMsg(nil), m.sent...)
}

// RequestAccounts implements Provider.
func (m *MockProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	if err := m.enter(ctx, "RequestAccounts"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.requestErr != nil {
		return nil, m.requestErr
	}
	return append([]common.Address(nil), m.accounts...), nil
}

// Accounts implements Provider.
func (m *MockProvider) Accounts(ctx context.Context) ([]common.Address, error) {
	if err := m.enter(ctx, "Accounts"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.accountErr != nil {
		return nil, m.accountErr
	}
	return append([]common.Address(nil), m.accounts...), nil
}

// ChainID implements Provider.
func (m *MockProvider) ChainID(ctx context.Context) (*big.Int, error) {
	if err := m.enter(ctx, "ChainID"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chainErr != nil {
		return nil, m.chainErr
	}
	return new(big.Int).Set(m.chainID), nil
}

// BalanceAt implements Provider. Unknown accounts have a zero balance.
func (m *MockProvider) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	if err := m.enter(ctx, "BalanceAt"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balanceErr != nil {
		return nil, m.balanceErr
	}
	if b, ok := m.balances[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

// CallContract implements Provider.
func (m *MockProvider) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	if err := m.enter(ctx, "CallContract"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	handler := m.callHandler
	m.mu.Unlock()
	if handler == nil {
		return nil, nil
	}
	return handler(msg)
}

// SendTransaction implements Provider. Hashes are assigned sequentially.
func (m *MockProvider) SendTransaction(ctx context.Context, msg ethereum.CallMsg) (common.Hash, error) {
	if err := m.enter(ctx, "SendTransaction"); err != nil {
		return common.Hash{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return common.Hash{}, m.sendErr
	}
	m.sent = append(m.sent, msg)
	m.nextHash++
	return common.BigToHash(new(big.Int).SetUint64(0xa000 + m.nextHash)), nil
}

// WaitForReceipt implements Provider.
func (m *MockProvider) WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if err := m.enter(ctx, "WaitForReceipt"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	receiptErr := m.receiptErr
	auto := m.autoConfirm
	m.mu.Unlock()

	if receiptErr != nil {
		return nil, receiptErr
	}
	if auto != nil {
		return mockReceipt(hash, *auto), nil
	}

	select {
	case ok := <-m.receiptChan(hash):
		return mockReceipt(hash, ok), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SubscribeEvents implements Provider.
func (m *MockProvider) SubscribeEvents(ch chan<- Event) event.Subscription {
	return m.feed.Subscribe(ch)
}

func (m *MockProvider) enter(ctx context.Context, method string) error {
	m.mu.Lock()
	m.calls[method]++
	hold := m.holds[method]
	m.mu.Unlock()

	if hold == nil {
		return nil
	}
	select {
	case <-hold:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MockProvider) receiptChan(hash common.Hash) chan bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.receipts[hash]
	if !ok {
		ch = make(chan bool, 1)
		m.receipts[hash] = ch
	}
	return ch
}

func mockReceipt(hash common.Hash, succeeded bool) *types.Receipt {
	status := types.ReceiptStatusFailed
	if succeeded {
		status = types.ReceiptStatusSuccessful
	}
	return &types.Receipt{
		Status:      status,
		TxHash:      hash,
		BlockNumber: big.NewInt(1),
		Logs:        []*types.Log{},
	}
}
