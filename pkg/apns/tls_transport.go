package apns

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/apnskit/pkg/logger"
)

const (
	ProductionGateway = "gateway.push.apple.com:2195"
	SandboxGateway    = "gateway.sandbox.push.apple.com:2195"
)

// errChannelBroken is returned by writes on a channel that already failed.
var errChannelBroken = errors.New("channel broken")

// Dialer opens a raw connection to the gateway.
type Dialer func(ctx context.Context) (net.Conn, error)

// TLSTransport keeps at most one live connection to the gateway and opens a
// new one on demand. Each connection gets a reader goroutine that waits for
// the gateway's error frame and reports it, or the end of the connection,
// to the registered listener exactly once.
type TLSTransport struct {
	dial         Dialer
	dialTimeout  time.Duration
	writeTimeout time.Duration
	linger       time.Duration
	attempts     int
	backoff      BackoffStrategy
	logger       *slog.Logger

	mu       sync.Mutex
	listener ResultListener
	current  *tlsChannel
	closed   bool

	events sync.Mutex // serializes listener callbacks
}

// TransportOption configures a TLSTransport.
type TransportOption func(*TLSTransport)

// WithDialer replaces the TLS dialer, for example with a plain TCP dialer
// against a test gateway.
func WithDialer(d Dialer) TransportOption {
	return func(t *TLSTransport) {
		if d != nil {
			t.dial = d
		}
	}
}

// WithDialTimeout bounds a single dial attempt.
func WithDialTimeout(d time.Duration) TransportOption {
	return func(t *TLSTransport) {
		if d > 0 {
			t.dialTimeout = d
		}
	}
}

// WithWriteTimeout bounds a single frame write. Zero disables the deadline.
func WithWriteTimeout(d time.Duration) TransportOption {
	return func(t *TLSTransport) {
		if d >= 0 {
			t.writeTimeout = d
		}
	}
}

// WithLinger sets how long a channel whose write failed keeps reading for
// a pending error frame before it is given up.
func WithLinger(d time.Duration) TransportOption {
	return func(t *TLSTransport) {
		if d > 0 {
			t.linger = d
		}
	}
}

// WithReconnect sets how many times a dial is attempted and the delay
// between attempts.
func WithReconnect(attempts int, b BackoffStrategy) TransportOption {
	return func(t *TLSTransport) {
		if attempts > 0 {
			t.attempts = attempts
		}
		if b != nil {
			t.backoff = b
		}
	}
}

// WithTransportLogger sets the logger for the TLSTransport.
func WithTransportLogger(l *slog.Logger) TransportOption {
	return func(t *TLSTransport) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTLSTransport creates a transport dialing addr with tlsConfig.
func NewTLSTransport(addr string, tlsConfig *tls.Config, opts ...TransportOption) *TLSTransport {
	t := &TLSTransport{
		dialTimeout:  30 * time.Second,
		writeTimeout: 10 * time.Second,
		linger:       time.Second,
		attempts:     3,
		backoff:      DefaultBackoffStrategy(),
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(t)
	}

	t.logger = t.logger.With(logger.Component("transport"))

	if t.dial == nil {
		t.dial = func(ctx context.Context) (net.Conn, error) {
			d := &tls.Dialer{
				NetDialer: &net.Dialer{Timeout: t.dialTimeout},
				Config:    tlsConfig,
			}
			return d.DialContext(ctx, "tcp", addr)
		}
	}

	return t
}

func (t *TLSTransport) Listen(l ResultListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listener = l
}

func (t *TLSTransport) Acquire(ctx context.Context) (Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrTransportClosed
	}
	if t.current != nil && t.current.usable() {
		return t.current, nil
	}

	conn, err := t.dialWithRetry(ctx)
	if err != nil {
		return nil, err
	}

	ch := &tlsChannel{
		id:           uuid.NewString(),
		conn:         conn,
		writeTimeout: t.writeTimeout,
		linger:       t.linger,
	}
	t.current = ch

	t.logger.LogAttrs(ctx, slog.LevelInfo, "Gateway channel opened",
		logger.ChannelID(ch.id),
		slog.String("remote_addr", conn.RemoteAddr().String()),
	)

	go t.readLoop(ch, t.listener)
	return ch, nil
}

func (t *TLSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	ch := t.current
	t.current = nil
	t.mu.Unlock()

	if ch != nil {
		return ch.Close()
	}
	return nil
}

// Must be called with lock held.
func (t *TLSTransport) dialWithRetry(ctx context.Context) (net.Conn, error) {
	for attempt := 1; ; attempt++ {
		conn, err := t.dial(ctx)
		if err == nil {
			return conn, nil
		}

		t.logger.LogAttrs(ctx, slog.LevelWarn, "Failed to dial gateway",
			slog.Int("attempt", attempt),
			logger.Error(err),
		)

		if attempt >= t.attempts {
			return nil, &TransportError{Op: "dial", Err: err}
		}

		delay := t.backoff.NextInterval(attempt)
		t.logger.LogAttrs(ctx, slog.LevelDebug, "Waiting before next dial", logger.Duration(delay))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &TransportError{Op: "dial", Err: errors.Join(err, ctx.Err())}
		case <-timer.C:
		}
	}
}

func (t *TLSTransport) readLoop(ch *tlsChannel, listener ResultListener) {
	result, err := ReadErrorFrame(bufio.NewReader(ch.conn))
	ch.markBroken()

	t.mu.Lock()
	if t.current == ch {
		t.current = nil
	}
	t.mu.Unlock()

	if err == nil {
		t.logger.LogAttrs(context.Background(), slog.LevelDebug, "Gateway reported error",
			logger.ChannelID(ch.id),
			logger.ErrorCode(result.Code.String()),
			logger.NotificationID(result.ID),
		)
	} else if ch.closedLocally() {
		err = ErrTransportClosed
	}

	if listener != nil {
		t.events.Lock()
		if err == nil {
			listener.OnDeliveryResult(ch, result)
		} else {
			listener.OnChannelClosed(ch, err)
		}
		t.events.Unlock()
	}

	_ = ch.Close()
}

type tlsChannel struct {
	id           string
	conn         net.Conn
	writeTimeout time.Duration
	linger       time.Duration

	mu     sync.Mutex
	broken bool
	closed bool
}

func (c *tlsChannel) ID() string { return c.id }

func (c *tlsChannel) Write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken {
		return &TransportError{Op: "write", ChannelID: c.id, Err: errChannelBroken}
	}

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := c.conn.Write(frame); err != nil {
		c.broken = true
		// The gateway may have written its error frame before hanging up;
		// give the reader a moment to pick it up.
		_ = c.conn.SetReadDeadline(time.Now().Add(c.linger))
		return &TransportError{Op: "write", ChannelID: c.id, Err: err}
	}
	return nil
}

func (c *tlsChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.broken = true
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return &TransportError{Op: "close", ChannelID: c.id, Err: err}
	}
	return nil
}

func (c *tlsChannel) usable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.broken
}

func (c *tlsChannel) markBroken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broken = true
}

func (c *tlsChannel) closedLocally() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
