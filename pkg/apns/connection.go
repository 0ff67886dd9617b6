package apns

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"

	"github.com/valyala/bytebufferpool"

	"github.com/dmitrymomot/apnskit/pkg/cache"
	"github.com/dmitrymomot/apnskit/pkg/logger"
)

// DefaultCacheLength is the initial retry cache capacity.
const DefaultCacheLength = 100

// Connection writes notifications to the gateway and recovers from the
// gateway's asynchronous error reports.
//
// Every written notification is kept in a bounded retry cache. When the
// gateway reports a failing notification and hangs up, the cache is split:
// notifications sent before the failing one are presumed delivered, the
// failing one is reported to the delegate, and the ones sent after it are
// written again on a new channel, in their original order. Only
// notifications written on the failed channel are resent; anything already
// written on a newer channel stays in the cache.
type Connection struct {
	transport   Transport
	delegate    Delegate
	logger      *slog.Logger
	cacheLength int
	cache       *cache.Window[uint32, written]

	mu      sync.Mutex
	pending []Notification
	closed  bool

	// Channels are numbered in the order they were first written to.
	generation  uint64
	lastChannel string
	generations map[string]uint64
}

// written is a cached notification tagged with the generation of the channel
// it went out on.
type written struct {
	Notification
	generation uint64
}

// ConnectionOption configures a Connection.
type ConnectionOption func(*Connection)

// WithDelegate sets the delegate notified of connection events.
func WithDelegate(d Delegate) ConnectionOption {
	return func(c *Connection) {
		if d != nil {
			c.delegate = d
		}
	}
}

// WithConnectionLogger sets the logger for the Connection.
func WithConnectionLogger(l *slog.Logger) ConnectionOption {
	return func(c *Connection) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCacheLength sets the initial retry cache capacity.
// Non-positive values are ignored.
func WithCacheLength(n int) ConnectionOption {
	return func(c *Connection) {
		if n > 0 {
			c.cacheLength = n
		}
	}
}

// NewConnection creates a connection on top of transport and registers
// itself as the transport's listener. No channel is opened until the first
// Send.
func NewConnection(transport Transport, opts ...ConnectionOption) *Connection {
	c := &Connection{
		transport:   transport,
		delegate:    NoOpDelegate{},
		logger:      slog.Default(),
		cacheLength: DefaultCacheLength,
		generations: make(map[string]uint64),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.With(logger.Component("connection"))
	c.cache = cache.NewWindow(c.cacheLength, func(w written) uint32 { return w.ID })
	c.cache.SetEvictCallback(func(n written) {
		c.logger.LogAttrs(context.Background(), slog.LevelDebug, "Notification presumed delivered",
			logger.NotificationID(n.ID),
		)
	})
	c.cache.SetDiscardCallback(func(n written) {
		c.logger.LogAttrs(context.Background(), slog.LevelDebug, "Notification accepted before gateway error",
			logger.NotificationID(n.ID),
		)
	})

	transport.Listen(c)
	return c
}

// Send writes n to the gateway and records it in the retry cache.
//
// A transport failure is returned as a *TransportError and reported to the
// delegate. The notification stays in the retry cache in that case, since it
// may have reached the gateway. After a successful write any notifications
// waiting to be resent are written too.
func (c *Connection) Send(ctx context.Context, n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}

	if err := c.send(ctx, n, false); err != nil {
		return err
	}

	c.drain(ctx)
	return nil
}

// OnDeliveryResult handles the error frame the gateway sent on ch before
// closing it.
func (c *Connection) OnDeliveryResult(ch Channel, result DeliveryResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	failed, found, after := c.cache.Correlate(result.ID)
	resend := c.retain(after, c.forget(ch))

	if found {
		c.delegate.MessageSendFailed(&failed.Notification, &DeliveryError{Code: result.Code, ID: result.ID})
	} else {
		c.logger.LogAttrs(context.Background(), slog.LevelWarn, "Received error for notification not in retry cache",
			logger.NotificationID(result.ID),
			logger.ErrorCode(result.Code.String()),
			logger.ChannelID(ch.ID()),
			slog.Int("resend_count", len(resend)),
		)
		newCapacity := c.cache.Grow(len(resend))
		c.delegate.CacheLengthExceeded(newCapacity)
		c.delegate.MessageSendFailed(nil, &UnknownNotificationError{
			Code:  result.Code,
			ID:    result.ID,
			Batch: len(resend),
		})
	}

	if !c.closed {
		c.pending = append(c.pending, resend...)
		c.delegate.NotificationsResent(resend)
	}
	c.delegate.ConnectionClosed(result.Code, result.ID)

	if err := ch.Close(); err != nil {
		c.logger.LogAttrs(context.Background(), slog.LevelError, "Failed to close channel",
			logger.ChannelID(ch.ID()),
			logger.Error(err),
		)
	}

	c.drain(context.Background())
}

// retain puts entries written on a channel newer than generation back into
// the cache and returns the rest for resending, oldest first.
// Must be called with lock held.
func (c *Connection) retain(entries []written, generation uint64) []Notification {
	var resend []Notification
	for _, e := range entries {
		if e.generation > generation {
			c.cache.Insert(e)
			continue
		}
		resend = append(resend, e.Notification)
	}
	return resend
}

// forget drops the bookkeeping for ch and returns its generation. A channel
// that was never written to is treated as the newest one.
// Must be called with lock held.
func (c *Connection) forget(ch Channel) uint64 {
	gen, ok := c.generations[ch.ID()]
	if !ok {
		return math.MaxUint64
	}
	delete(c.generations, ch.ID())
	return gen
}

// generationOf returns the generation of ch, numbering it if it is new.
// Must be called with lock held.
func (c *Connection) generationOf(ch Channel) uint64 {
	id := ch.ID()
	if _, known := c.generations[id]; !known || id != c.lastChannel {
		c.generation++
		c.lastChannel = id
		c.generations[id] = c.generation
	}
	return c.generation
}

// OnChannelClosed handles a channel that ended without an error frame.
// The retry cache is left untouched; pending resends move to a new channel.
func (c *Connection) OnChannelClosed(ch Channel, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	level := slog.LevelDebug
	if err != nil && !errors.Is(err, ErrTransportClosed) {
		level = slog.LevelWarn
	}
	c.logger.LogAttrs(context.Background(), level, "Channel closed without error frame",
		logger.ChannelID(ch.ID()),
		logger.Error(err),
	)

	c.forget(ch)
	_ = ch.Close()
	c.drain(context.Background())
}

// Close shuts the transport down. Later sends fail with ErrConnectionClosed.
// Calling Close more than once has no further effect.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	dropped := len(c.pending)
	c.pending = nil
	clear(c.generations)
	c.mu.Unlock()

	if dropped > 0 {
		c.logger.LogAttrs(context.Background(), slog.LevelWarn, "Connection closed with notifications awaiting resend",
			slog.Int("notification_count", dropped),
		)
	}
	return c.transport.Close()
}

// SetCacheLength raises the retry cache capacity. It never shrinks.
func (c *Connection) SetCacheLength(n int) {
	c.cache.SetCapacity(n)
}

// CacheLength returns the current retry cache capacity.
func (c *Connection) CacheLength() int {
	return c.cache.Capacity()
}

// Cached returns the notifications held in the retry cache, oldest first.
func (c *Connection) Cached() []Notification {
	items := c.cache.Items()
	out := make([]Notification, len(items))
	for i, w := range items {
		out[i] = w.Notification
	}
	return out
}

// Pending returns the number of notifications waiting to be resent.
func (c *Connection) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// send writes one notification. Must be called with lock held.
func (c *Connection) send(ctx context.Context, n Notification, resent bool) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	frame, err := AppendNotification(buf.B[:0], n)
	if err != nil {
		c.delegate.MessageSendFailed(&n, err)
		return err
	}
	buf.B = frame

	ch, err := c.transport.Acquire(ctx)
	if err != nil {
		err = asTransportError("acquire", "", err)
		if !resent {
			c.delegate.MessageSendFailed(&n, err)
		}
		return err
	}

	entry := written{Notification: n, generation: c.generationOf(ch)}
	if err := ch.Write(buf.B); err != nil {
		err = asTransportError("write", ch.ID(), err)
		if resent {
			return err
		}
		c.cache.Insert(entry)
		c.delegate.MessageSendFailed(&n, err)
		return err
	}

	c.cache.Insert(entry)
	c.delegate.MessageSent(n, resent)
	return nil
}

// drain resends pending notifications in order. A notification whose resend
// fails stays at the head of the list until the next channel event or
// successful send. Must be called with lock held.
func (c *Connection) drain(ctx context.Context) {
	for len(c.pending) > 0 && !c.closed {
		n := c.pending[0]
		if err := c.send(ctx, n, true); err != nil {
			c.logger.LogAttrs(ctx, slog.LevelWarn, "Resend interrupted",
				logger.NotificationID(n.ID),
				slog.Int("pending", len(c.pending)),
				logger.Error(err),
			)
			return
		}
		c.pending[0] = Notification{}
		c.pending = c.pending[1:]
	}
	if len(c.pending) == 0 {
		c.pending = nil
	}
}

func asTransportError(op, channelID string, err error) error {
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, ChannelID: channelID, Err: err}
}
