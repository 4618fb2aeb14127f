package nats

import (
	"context"
	"log/slog"
	"sync"

	"github.com/brojonat/counterwallet/service/networks"
	"github.com/brojonat/counterwallet/service/session"
	"github.com/brojonat/counterwallet/service/txn"
)

// Forwarder turns the session view stream into NATS events. Only changes are
// published: the session tuple when it differs from the last one sent, and a
// transaction each time its status changes.
//
// Views are latest-value, so a transaction that settles between two views
// would skip its pending event. Attach a tracker to publish every transition
// from its change events instead.
type Forwarder struct {
	pub      Publisher
	registry *networks.Registry
	logger   *slog.Logger

	last    *session.Session
	current session.Session
	seen    map[string]txn.Status

	mu       sync.Mutex
	attached bool
	queue    []txn.Record
	wake     chan struct{}
}

// NewForwarder creates a Forwarder publishing to pub.
func NewForwarder(pub Publisher, registry *networks.Registry, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		pub:      pub,
		registry: registry,
		logger:   logger,
		seen:     make(map[string]txn.Status),
		wake:     make(chan struct{}, 1),
	}
}

// Attach queues every status change of tracker for publishing by Run, in the
// order the tracker reports them. Transactions are then no longer derived
// from views. Call it before Run.
func (f *Forwarder) Attach(tracker *txn.Tracker) {
	f.mu.Lock()
	f.attached = true
	f.mu.Unlock()
	tracker.OnChange(f.enqueue)
}

// enqueue runs on the tracker's caller, so it never blocks.
func (f *Forwarder) enqueue(rec txn.Record) {
	f.mu.Lock()
	f.queue = append(f.queue, rec)
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *Forwarder) drain() []txn.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.queue
	f.queue = nil
	return out
}

// Run publishes changes from sub until ctx is done. It does not close sub.
func (f *Forwarder) Run(ctx context.Context, sub *session.Subscription) error {
	f.logger.Info("NATS forwarder started")
	for {
		select {
		case <-ctx.Done():
			f.logger.Info("NATS forwarder stopped")
			return ctx.Err()
		case v := <-sub.C:
			f.Handle(ctx, v)
		case <-f.wake:
			for _, rec := range f.drain() {
				f.publishTransaction(ctx, rec)
			}
		}
	}
}

// Handle publishes whatever changed in v since the previous view. Publish
// failures are logged and retried on the next view. With a tracker attached
// only the session is taken from v.
func (f *Forwarder) Handle(ctx context.Context, v session.View) {
	s := v.Session
	f.current = s
	if f.last == nil || *f.last != s {
		if err := f.pub.PublishSession(ctx, FromSession(v.Session, f.registry)); err != nil {
			f.logger.Error("failed to publish session event", "error", err)
		} else {
			f.last = &s
		}
	}

	f.mu.Lock()
	attached := f.attached
	f.mu.Unlock()
	if attached {
		return
	}

	present := make(map[string]struct{}, len(v.History))
	for _, rec := range v.History {
		present[rec.Hash] = struct{}{}
		if f.seen[rec.Hash] == rec.Status {
			continue
		}
		if f.publishTransaction(ctx, rec) {
			f.seen[rec.Hash] = rec.Status
		}
	}
	for hash := range f.seen {
		if _, ok := present[hash]; !ok {
			delete(f.seen, hash)
		}
	}
}

// publishTransaction sends rec with the most recent session as context.
func (f *Forwarder) publishTransaction(ctx context.Context, rec txn.Record) bool {
	if err := f.pub.PublishTransaction(ctx, FromRecord(rec, f.current, f.registry)); err != nil {
		f.logger.Error("failed to publish transaction event",
			"hash", rec.Hash,
			"status", rec.Status,
			"error", err,
		)
		return false
	}
	return true
}
