package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/counterwallet/service/errs"
	"github.com/brojonat/counterwallet/service/metrics"
)

// DefaultErrorWindow is how long an error stays visible unless replaced or dismissed.
const DefaultErrorWindow = 5 * time.Second

// Notice is the error currently shown to the user.
type Notice struct {
	ID        uint64        `json:"id"`
	Category  errs.Category `json:"category"`
	Message   string        `json:"message"`
	Reason    string        `json:"reason,omitempty"`
	RaisedAt  time.Time     `json:"raisedAt"`
	ExpiresAt time.Time     `json:"expiresAt"`
}

// ErrorState holds at most one active error. A new error replaces the current
// one and restarts the display window.
type ErrorState struct {
	mu      sync.Mutex
	current *Notice
	seq     uint64
	timer   *time.Timer

	window   time.Duration
	now      func() time.Time
	onChange func()

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewErrorState creates an ErrorState. A non-positive window uses DefaultErrorWindow.
func NewErrorState(window time.Duration, logger *slog.Logger, m *metrics.Metrics) *ErrorState {
	if window <= 0 {
		window = DefaultErrorWindow
	}
	return &ErrorState{
		window:  window,
		now:     time.Now,
		logger:  logger,
		metrics: m,
	}
}

// Raise normalizes err and publishes it.
func (e *ErrorState) Raise(err error) Notice {
	return e.Publish(errs.Normalize(err))
}

// Publish makes n the active error. PersistenceCorrupt errors are recovered
// silently and never shown; Publish returns a zero Notice for them.
func (e *ErrorState) Publish(n errs.Normalized) Notice {
	if n.Category == errs.CategoryPersistenceCorrupt {
		return Notice{}
	}

	e.mu.Lock()
	e.seq++
	now := e.now()
	notice := Notice{
		ID:        e.seq,
		Category:  n.Category,
		Message:   n.Message,
		Reason:    n.Reason,
		RaisedAt:  now,
		ExpiresAt: now.Add(e.window),
	}
	e.current = &notice
	if e.timer != nil {
		e.timer.Stop()
	}
	id := notice.ID
	e.timer = time.AfterFunc(e.window, func() { e.expire(id) })
	notify := e.onChange
	e.mu.Unlock()

	e.logger.Info("error published", "category", n.Category, "message", n.Message)
	e.metrics.RecordErrorPublished(string(n.Category))
	if notify != nil {
		notify()
	}
	return notice
}

// Current returns the active error, if any.
func (e *ErrorState) Current() *Notice {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return nil
	}
	n := *e.current
	return &n
}

// Dismiss clears the active error. It reports whether there was one.
func (e *ErrorState) Dismiss() bool {
	e.mu.Lock()
	had := e.clearLocked()
	notify := e.onChange
	e.mu.Unlock()

	if had && notify != nil {
		notify()
	}
	return had
}

// Close stops the expiry timer.
func (e *ErrorState) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (e *ErrorState) setOnChange(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onChange = fn
}

func (e *ErrorState) expire(id uint64) {
	e.mu.Lock()
	if e.current == nil || e.current.ID != id {
		// replaced or dismissed since the timer was armed
		e.mu.Unlock()
		return
	}
	e.clearLocked()
	notify := e.onChange
	e.mu.Unlock()

	if notify != nil {
		notify()
	}
}

func (e *ErrorState) clearLocked() bool {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	had := e.current != nil
	e.current = nil
	return had
}
