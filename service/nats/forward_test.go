package nats

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/brojonat/counterwallet/service/networks"
	"github.com/brojonat/counterwallet/service/provider"
	"github.com/brojonat/counterwallet/service/session"
	"github.com/brojonat/counterwallet/service/txn"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var connected = session.Session{
	Status:  session.StatusConnected,
	Address: "0xabc0000000000000000000000000000000000123",
	ChainID: networks.EthereumMainnet,
	Balance: "1.0",
}

func TestTransactionSubject(t *testing.T) {
	assert.Equal(t, "wallet.txns.0xab12", TransactionSubject("0xAB12"))
}

func TestFromSession(t *testing.T) {
	event := FromSession(connected, networks.Default())
	assert.Equal(t, "connected", event.Status)
	assert.Equal(t, "Ethereum Mainnet", event.Network)
	assert.False(t, event.PublishedAt.IsZero())

	event = FromSession(session.Session{Status: session.StatusDisconnected}, networks.Default())
	assert.Empty(t, event.Network)
}

func TestFromRecord_ExplorerURL(t *testing.T) {
	rec := txn.Record{Hash: "0xfeed", Status: txn.StatusSuccess, Timestamp: 42}
	event := FromRecord(rec, connected, networks.Default())
	assert.Equal(t, "https://etherscan.io/tx/0xfeed", event.ExplorerURL)
	assert.Equal(t, int64(42), event.Timestamp)
}

func TestForwarder_PublishesOnlyChanges(t *testing.T) {
	pub := NewMockPublisher()
	f := NewForwarder(pub, networks.Default(), testLogger())
	ctx := context.Background()

	pending := txn.Record{Hash: "0xfeed", Status: txn.StatusPending, Timestamp: 1}
	f.Handle(ctx, session.View{Session: connected, History: []txn.Record{pending}})
	f.Handle(ctx, session.View{Session: connected, History: []txn.Record{pending}})

	assert.Len(t, pub.GetPublishedSessions(), 1)
	assert.Len(t, pub.GetPublishedTransactions(), 1)

	done := pending
	done.Status = txn.StatusSuccess
	f.Handle(ctx, session.View{Session: connected, History: []txn.Record{done}})

	events := pub.GetTransactionsForHash("0xfeed")
	require.Len(t, events, 2)
	assert.Equal(t, "pending", events[0].Status)
	assert.Equal(t, "success", events[1].Status)
	assert.Len(t, pub.GetPublishedSessions(), 1)

	f.Handle(ctx, session.View{Session: session.Session{Status: session.StatusDisconnected}, History: []txn.Record{done}})
	sessions := pub.GetPublishedSessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "disconnected", sessions[1].Status)
	assert.Len(t, pub.GetPublishedTransactions(), 2)
}

func TestForwarder_RetriesAfterFailure(t *testing.T) {
	pub := NewMockPublisher()
	f := NewForwarder(pub, networks.Default(), testLogger())
	ctx := context.Background()
	rec := txn.Record{Hash: "0xfeed", Status: txn.StatusPending, Timestamp: 1}

	pub.SetPublishError(errors.New("nats: timeout"))
	f.Handle(ctx, session.View{Session: connected, History: []txn.Record{rec}})
	assert.Empty(t, pub.GetPublishedSessions())

	pub.SetPublishError(nil)
	f.Handle(ctx, session.View{Session: connected, History: []txn.Record{rec}})
	assert.Len(t, pub.GetPublishedSessions(), 1)
	assert.Len(t, pub.GetPublishedTransactions(), 1)
}

func TestForwarder_Run(t *testing.T) {
	p := provider.NewMockProvider()
	p.SetAccounts(common.HexToAddress(connected.Address))
	tracker := txn.NewTracker(testLogger())
	m := session.NewMachine(p, nil, tracker, testLogger(), nil, session.Config{})
	defer m.Close()

	sub, err := m.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	pub := NewMockPublisher()
	f := NewForwarder(pub, networks.Default(), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx, sub) }()

	require.NoError(t, m.Connect(ctx))
	require.NoError(t, tracker.Submit("0xfeed"))

	assert.Eventually(t, func() bool {
		return len(pub.GetTransactionsForHash("0xfeed")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		sessions := pub.GetPublishedSessions()
		return len(sessions) > 0 && sessions[len(sessions)-1].Status == "connected"
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestForwarder_AttachedPublishesEveryTransition(t *testing.T) {
	p := provider.NewMockProvider()
	p.SetAccounts(common.HexToAddress(connected.Address))
	tracker := txn.NewTracker(testLogger())
	m := session.NewMachine(p, nil, tracker, testLogger(), nil, session.Config{})
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Connect(ctx))

	sub, err := m.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	pub := NewMockPublisher()
	f := NewForwarder(pub, networks.Default(), testLogger())
	f.Attach(tracker)

	// settles before the forwarder sees any view, so the latest view only
	// ever shows success
	require.NoError(t, tracker.Submit("0xFEED"))
	require.True(t, tracker.Confirm("0xfeed", true))

	done := make(chan error, 1)
	go func() { done <- f.Run(ctx, sub) }()

	require.Eventually(t, func() bool {
		return len(pub.GetTransactionsForHash("0xfeed")) == 2
	}, time.Second, 5*time.Millisecond)
	events := pub.GetTransactionsForHash("0xfeed")
	assert.Equal(t, "pending", events[0].Status)
	assert.Equal(t, "success", events[1].Status)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestForwarder_AttachedIgnoresViewHistory(t *testing.T) {
	pub := NewMockPublisher()
	f := NewForwarder(pub, networks.Default(), testLogger())
	f.Attach(txn.NewTracker(testLogger()))

	rec := txn.Record{Hash: "0xfeed", Status: txn.StatusSuccess, Timestamp: 1}
	f.Handle(context.Background(), session.View{Session: connected, History: []txn.Record{rec}})

	assert.Len(t, pub.GetPublishedSessions(), 1)
	assert.Empty(t, pub.GetPublishedTransactions())
}
