package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu              sync.RWMutex
	sessions        []*SessionEvent
	transactions    []*TransactionEvent
	publishError    error
	publishTxnError error
	closed          bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishSession records the event and returns any configured error.
func (m *MockPublisher) PublishSession(ctx context.Context, event *SessionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.sessions = append(m.sessions, event)
	return nil
}

// PublishTransaction records the event and returns any configured error.
func (m *MockPublisher) PublishTransaction(ctx context.Context, event *TransactionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	if m.publishTxnError != nil {
		return m.publishTxnError
	}
	m.transactions = append(m.transactions, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedSessions returns all published session events.
func (m *MockPublisher) GetPublishedSessions() []*SessionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*SessionEvent(nil), m.sessions...)
}

// GetPublishedTransactions returns all published transaction events.
func (m *MockPublisher) GetPublishedTransactions() []*TransactionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*TransactionEvent(nil), m.transactions...)
}

// GetTransactionsForHash returns events published for a specific transaction.
func (m *MockPublisher) GetTransactionsForHash(hash string) []*TransactionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*TransactionEvent, 0)
	for _, event := range m.transactions {
		if event.Hash == hash {
			events = append(events, event)
		}
	}
	return events
}

// SetPublishError makes every publish fail with err.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// SetPublishTransactionError makes only transaction publishes fail with err.
func (m *MockPublisher) SetPublishTransactionError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishTxnError = err
}

// Reset clears all published events and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = nil
	m.transactions = nil
	m.publishError = nil
	m.publishTxnError = nil
	m.closed = false
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
