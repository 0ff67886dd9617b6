package apnstest

import (
	"sync"

	"github.com/dmitrymomot/apnskit/pkg/apns"
)

// rejector decides which received notification a test gateway refuses.
// It counts notifications across all connections, like the real gateway
// sees a single stream of traffic from one client.
type rejector struct {
	mu       sync.Mutex
	received []apns.Notification
	failAt   int
	code     apns.ErrorCode
	failID   *uint32
	waiters  []waiter
}

type waiter struct {
	count int
	ch    chan struct{}
}

// failWithErrorAfter arms the rejector: the count-th notification received
// from now on (1-based, counted across connections) is refused with code.
// A nil id reports the refused notification's own id.
func (r *rejector) failWithErrorAfter(code apns.ErrorCode, count int, id *uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.code = code
	r.failAt = len(r.received) + count
	r.failID = id
}

// receive records n and returns the error frame to send, if any.
func (r *rejector) receive(n apns.Notification) (apns.DeliveryResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.received = append(r.received, n)
	r.notifyLocked()

	if len(r.received) != r.failAt {
		return apns.DeliveryResult{}, false
	}
	result := apns.DeliveryResult{Code: r.code, ID: n.ID}
	if r.failID != nil {
		result.ID = *r.failID
	}
	return result, true
}

func (r *rejector) snapshot() []apns.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]apns.Notification, len(r.received))
	copy(out, r.received)
	return out
}

// wait returns a channel closed once at least count notifications arrived.
func (r *rejector) wait(count int) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan struct{})
	if len(r.received) >= count {
		close(ch)
		return ch
	}
	r.waiters = append(r.waiters, waiter{count: count, ch: ch})
	return ch
}

// Must be called with lock held.
func (r *rejector) notifyLocked() {
	kept := r.waiters[:0]
	for _, w := range r.waiters {
		if len(r.received) >= w.count {
			close(w.ch)
			continue
		}
		kept = append(kept, w)
	}
	r.waiters = kept
}
