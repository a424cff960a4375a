package att

import (
	"fmt"
	"sync"
	"time"
)

// RequestTracker tracks the single outstanding request on a link.
// Only one request may be outstanding at a time per connection; Start
// refuses a second one. When a timeout is configured, a request that is not
// completed in time is cleared and reported through the timeout callback.
type RequestTracker struct {
	mu        sync.Mutex
	pending   *PendingRequest
	timer     *time.Timer
	nextID    uint64
	timeout   time.Duration
	onTimeout func(PendingRequest)
}

// PendingRequest represents a single outstanding request
type PendingRequest struct {
	Ticket uint64 // Monotonic id, never reused by a tracker
	Label  string // Human-readable operation, for logs
	SentAt time.Time
}

// NewRequestTracker creates a tracker. A zero timeout disables the watchdog.
func NewRequestTracker(timeout time.Duration, onTimeout func(PendingRequest)) *RequestTracker {
	return &RequestTracker{
		timeout:   timeout,
		onTimeout: onTimeout,
	}
}

// Start registers a new outstanding request and returns its ticket.
// Returns error if another request is already pending.
func (rt *RequestTracker) Start(label string) (uint64, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.pending != nil {
		return 0, fmt.Errorf("request already pending (ticket %d: %s)", rt.pending.Ticket, rt.pending.Label)
	}

	rt.nextID++
	req := &PendingRequest{
		Ticket: rt.nextID,
		Label:  label,
		SentAt: time.Now(),
	}
	rt.pending = req

	if rt.timeout > 0 {
		ticket := req.Ticket
		rt.timer = time.AfterFunc(rt.timeout, func() { rt.expire(ticket) })
	}
	return req.Ticket, nil
}

// expire clears the request if it is still the one the timer was armed for.
func (rt *RequestTracker) expire(ticket uint64) {
	rt.mu.Lock()
	if rt.pending == nil || rt.pending.Ticket != ticket {
		rt.mu.Unlock()
		return // Already completed
	}
	req := *rt.pending
	rt.pending = nil
	rt.timer = nil
	cb := rt.onTimeout
	rt.mu.Unlock()

	if cb != nil {
		cb(req)
	}
}

// Complete clears the pending request identified by ticket.
// Returns error if no matching request is pending.
func (rt *RequestTracker) Complete(ticket uint64) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.pending == nil {
		return fmt.Errorf("no pending request for ticket %d", ticket)
	}
	if rt.pending.Ticket != ticket {
		return fmt.Errorf("ticket %d does not match pending ticket %d", ticket, rt.pending.Ticket)
	}
	rt.clearLocked()
	return nil
}

// CancelPending drops any pending request without invoking the timeout
// callback (used during disconnection).
func (rt *RequestTracker) CancelPending() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.clearLocked()
}

func (rt *RequestTracker) clearLocked() {
	if rt.timer != nil {
		rt.timer.Stop()
		rt.timer = nil
	}
	rt.pending = nil
}

// HasPending returns true if there is a pending request
func (rt *RequestTracker) HasPending() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.pending != nil
}

// GetPendingInfo returns a copy of the pending request and how long it has
// been outstanding.
func (rt *RequestTracker) GetPendingInfo() (req PendingRequest, age time.Duration, ok bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.pending == nil {
		return PendingRequest{}, 0, false
	}
	return *rt.pending, time.Since(rt.pending.SentAt), true
}
