// Package txn tracks the lifecycle of submitted transactions: the pending set
// and the ordered history of records, independent of which contract call
// produced them.
package txn

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/brojonat/counterwallet/service/metrics"
)

// Status is the confirmation state of a transaction.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// ErrDuplicateTransaction is returned by Submit for a hash that is already tracked.
var ErrDuplicateTransaction = errors.New("transaction already tracked")

// Record is one submitted transaction.
type Record struct {
	Hash      string `json:"hash"`
	Status    Status `json:"status"`
	Timestamp int64  `json:"timestamp"` // creation time, epoch milliseconds
}

// Snapshot is a consistent copy of the tracker state.
type Snapshot struct {
	Pending []string `json:"pending"`
	History []Record `json:"history"`
}

// Tracker owns every transaction record. It is safe for concurrent use;
// a record's terminal transition and its removal from the pending set
// happen under one lock so observers never see them apart.
type Tracker struct {
	mu      sync.Mutex
	records map[string]*Record
	order   []string // insertion order, used to break timestamp ties
	pending []string

	now      func() time.Time
	onChange []func(Record)
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// NewTracker creates an empty tracker.
func NewTracker(logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		records: make(map[string]*Record),
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnChange registers fn to be called after every record creation or status
// change. Observers are invoked outside the tracker lock, in registration
// order, and in mutation order for a single hash.
func (t *Tracker) OnChange(fn func(Record)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = append(t.onChange, fn)
}

// Submit starts tracking hash as pending.
func (t *Tracker) Submit(hash string) error {
	hash = normalizeHash(hash)
	if hash == "" {
		return fmt.Errorf("empty transaction hash")
	}

	t.mu.Lock()
	if _, exists := t.records[hash]; exists {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateTransaction, hash)
	}
	rec := &Record{
		Hash:      hash,
		Status:    StatusPending,
		Timestamp: t.now().UnixMilli(),
	}
	t.records[hash] = rec
	t.order = append(t.order, hash)
	t.pending = append(t.pending, hash)
	pendingCount := len(t.pending)
	observers := t.onChange
	t.mu.Unlock()

	t.logger.Info("transaction submitted", "hash", hash)
	t.metrics.RecordTransaction(string(StatusPending))
	t.metrics.SetPendingTransactions(pendingCount)

	for _, fn := range observers {
		fn(*rec)
	}
	return nil
}

// Confirm moves a pending transaction to its terminal status. It reports
// whether anything changed: untracked hashes and already-terminal records
// are left untouched.
func (t *Tracker) Confirm(hash string, succeeded bool) bool {
	hash = normalizeHash(hash)

	t.mu.Lock()
	rec, ok := t.records[hash]
	if !ok || rec.Status.Terminal() {
		t.mu.Unlock()
		if !ok {
			t.logger.Debug("confirmation for untracked transaction dropped", "hash", hash)
		}
		return false
	}

	rec.Status = StatusFailed
	if succeeded {
		rec.Status = StatusSuccess
	}
	t.pending = removeHash(t.pending, hash)
	out := *rec
	pendingCount := len(t.pending)
	observers := t.onChange
	t.mu.Unlock()

	elapsed := t.now().Sub(time.UnixMilli(out.Timestamp))
	t.logger.Info("transaction confirmed",
		"hash", hash,
		"status", out.Status,
		"elapsed", elapsed,
	)
	t.metrics.RecordTransaction(string(out.Status))
	t.metrics.RecordConfirmation(string(out.Status), elapsed.Seconds())
	t.metrics.SetPendingTransactions(pendingCount)

	for _, fn := range observers {
		fn(out)
	}
	return true
}

// Lookup returns the record for hash.
func (t *Tracker) Lookup(hash string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[normalizeHash(hash)]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// History returns every record, most recent first.
func (t *Tracker) History() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.historyLocked()
}

// Pending returns the hashes awaiting confirmation, in submission order.
func (t *Tracker) Pending() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.pending...)
}

// Snapshot returns the pending set and history taken under one lock.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		Pending: append([]string(nil), t.pending...),
		History: t.historyLocked(),
	}
}

// Restore replaces the tracker contents with persisted state. Records are
// trusted for status, and the pending set is rebuilt from history so that
// every pending hash has a pending record. Pending hashes without a record
// get one stamped now.
func (t *Tracker) Restore(history []Record, pending []string) {
	t.mu.Lock()

	t.records = make(map[string]*Record, len(history))
	t.order = t.order[:0]
	t.pending = t.pending[:0]

	// oldest first so insertion order matches submission order
	sorted := append([]Record(nil), history...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	for _, r := range sorted {
		hash := normalizeHash(r.Hash)
		if hash == "" {
			continue
		}
		if _, dup := t.records[hash]; dup {
			continue
		}
		switch r.Status {
		case StatusPending, StatusSuccess, StatusFailed:
		default:
			r.Status = StatusPending
		}
		rec := &Record{Hash: hash, Status: r.Status, Timestamp: r.Timestamp}
		t.records[hash] = rec
		t.order = append(t.order, hash)
		if rec.Status == StatusPending {
			t.pending = append(t.pending, hash)
		}
	}

	stamp := t.now().UnixMilli()
	for _, h := range pending {
		hash := normalizeHash(h)
		if hash == "" {
			continue
		}
		if _, ok := t.records[hash]; ok {
			continue
		}
		t.records[hash] = &Record{Hash: hash, Status: StatusPending, Timestamp: stamp}
		t.order = append(t.order, hash)
		t.pending = append(t.pending, hash)
	}

	pendingCount := len(t.pending)
	total := len(t.records)
	t.mu.Unlock()

	t.metrics.SetPendingTransactions(pendingCount)
	t.logger.Debug("transaction state restored", "records", total, "pending", pendingCount)
}

func (t *Tracker) historyLocked() []Record {
	out := make([]Record, 0, len(t.order))
	// newest insertion first, then a stable sort keeps that order among equal timestamps
	for i := len(t.order) - 1; i >= 0; i-- {
		out = append(out, *t.records[t.order[i]])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out
}

func removeHash(list []string, hash string) []string {
	for i, h := range list {
		if h == hash {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func normalizeHash(hash string) string {
	return strings.ToLower(strings.TrimSpace(hash))
}
