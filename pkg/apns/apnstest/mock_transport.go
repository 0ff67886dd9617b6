package apnstest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/apnskit/pkg/apns"
)

// ErrInjected is the default error returned by writes after FailWrites.
var ErrInjected = errors.New("apnstest: injected write failure")

// MockTransport is an in-memory apns.Transport that behaves like a gateway:
// it decodes every written frame, refuses notifications on demand by
// reporting an error frame and hanging up, and ignores whatever is written
// to a channel after it refused something.
//
// Channel events are delivered on their own goroutine, as a network
// transport would. Call Wait to let them settle.
type MockTransport struct {
	rejector

	mu         sync.Mutex
	listener   apns.ResultListener
	channels   []*MockChannel
	current    *MockChannel
	closed     bool
	closeCalls int
	acquireErr error
	writeErr   error
	writeFails int

	events   sync.Mutex
	inflight sync.WaitGroup
}

// NewMockTransport creates a transport that accepts everything.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// FailWithErrorAfter makes the count-th notification received from now on
// fail with code, reporting its own id.
func (t *MockTransport) FailWithErrorAfter(code apns.ErrorCode, count int) {
	t.failWithErrorAfter(code, count, nil)
}

// FailWithErrorAfterID is like FailWithErrorAfter but reports id instead of
// the refused notification's id.
func (t *MockTransport) FailWithErrorAfterID(code apns.ErrorCode, count int, id uint32) {
	t.failWithErrorAfter(code, count, &id)
}

// FailAcquire makes Acquire return err until called again with nil.
func (t *MockTransport) FailAcquire(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acquireErr = err
}

// FailWrites makes the next n writes fail with err (ErrInjected when nil).
// A failed write breaks its channel, which then reports OnChannelClosed.
func (t *MockTransport) FailWrites(n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	t.writeFails = n
	t.writeErr = err
}

// Received returns every notification the gateway processed, in order,
// including refused ones.
func (t *MockTransport) Received() []apns.Notification {
	return t.snapshot()
}

// WaitForNotifications blocks until count notifications were received or
// timeout elapses.
func (t *MockTransport) WaitForNotifications(count int, timeout time.Duration) bool {
	select {
	case <-t.wait(count):
		return true
	case <-time.After(timeout):
		return false
	}
}

// Channels returns every channel opened so far.
func (t *MockTransport) Channels() []*MockChannel {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*MockChannel, len(t.channels))
	copy(out, t.channels)
	return out
}

// CloseCalls returns how many times Close was called.
func (t *MockTransport) CloseCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCalls
}

// Wait blocks until every channel event delivered so far, and any event it
// caused, has been handled.
func (t *MockTransport) Wait() {
	t.inflight.Wait()
}

func (t *MockTransport) Listen(l apns.ResultListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listener = l
}

func (t *MockTransport) Acquire(ctx context.Context) (apns.Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, apns.ErrTransportClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.acquireErr != nil {
		return nil, t.acquireErr
	}
	if t.current != nil {
		return t.current, nil
	}

	ch := &MockChannel{id: uuid.NewString(), transport: t}
	t.channels = append(t.channels, ch)
	t.current = ch
	return ch, nil
}

func (t *MockTransport) Close() error {
	t.mu.Lock()
	t.closeCalls++
	t.closed = true
	ch := t.current
	t.current = nil
	t.mu.Unlock()

	if ch != nil {
		return ch.Close()
	}
	return nil
}

func (t *MockTransport) takeWriteFailure() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeFails <= 0 {
		return nil
	}
	t.writeFails--
	return t.writeErr
}

func (t *MockTransport) drop(ch *MockChannel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == ch {
		t.current = nil
	}
}

// deliver reports one channel event asynchronously.
func (t *MockTransport) deliver(fn func(l apns.ResultListener)) {
	t.mu.Lock()
	l := t.listener
	t.mu.Unlock()
	if l == nil {
		return
	}

	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		t.events.Lock()
		defer t.events.Unlock()
		fn(l)
	}()
}

// MockChannel is a channel of a MockTransport.
type MockChannel struct {
	id        string
	transport *MockTransport

	mu       sync.Mutex
	frames   int
	ignored  int
	rejected bool
	broken   bool
	closed   bool
	reported bool
}

func (c *MockChannel) ID() string { return c.id }

// Frames returns how many frames were written to the channel.
func (c *MockChannel) Frames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// Ignored returns how many notifications arrived after the channel refused
// one and were dropped unprocessed.
func (c *MockChannel) Ignored() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ignored
}

// IsClosed reports whether Close was called on the channel.
func (c *MockChannel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *MockChannel) Write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken || c.closed {
		return &apns.TransportError{Op: "write", ChannelID: c.id, Err: io.ErrClosedPipe}
	}

	if err := c.transport.takeWriteFailure(); err != nil {
		c.broken = true
		c.transport.drop(c)
		c.reportLocked(func(l apns.ResultListener) { l.OnChannelClosed(c, err) })
		return err
	}

	r := bytes.NewReader(frame)
	for r.Len() > 0 {
		n, err := apns.ReadNotification(r)
		c.frames++
		if c.rejected {
			c.ignored++
			continue
		}

		var fe *apns.FrameError
		if errors.As(err, &fe) {
			c.rejectLocked(apns.DeliveryResult{Code: fe.Code, ID: fe.ID})
			return nil
		}
		if err != nil {
			return &apns.TransportError{Op: "write", ChannelID: c.id, Err: err}
		}

		if result, refuse := c.transport.receive(n); refuse {
			c.rejectLocked(result)
		}
	}
	return nil
}

func (c *MockChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.broken = true
	c.transport.drop(c)
	return nil
}

// rejectLocked reports result. Until the client closes the channel, later
// writes still succeed but are ignored, as they would be on a socket the
// gateway stopped reading. Must be called with lock held.
func (c *MockChannel) rejectLocked(result apns.DeliveryResult) {
	c.rejected = true
	c.reportLocked(func(l apns.ResultListener) { l.OnDeliveryResult(c, result) })
}

// Must be called with lock held.
func (c *MockChannel) reportLocked(fn func(l apns.ResultListener)) {
	if c.reported {
		return
	}
	c.reported = true
	c.transport.deliver(fn)
}
