package apns

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/apnskit/pkg/logger"
)

// Delegate observes what a Connection does with notifications.
// Callbacks run while the connection lock is held: they must return quickly
// and must not call back into the Connection.
type Delegate interface {
	// MessageSent is called after n was written to the gateway. resent is
	// true when n was sent again after a connection failure.
	MessageSent(n Notification, resent bool)

	// MessageSendFailed is called when n could not be delivered. n is nil
	// when the gateway reported a notification the retry cache no longer
	// holds.
	MessageSendFailed(n *Notification, err error)

	// ConnectionClosed is called after the gateway closed the connection
	// with an error frame.
	ConnectionClosed(code ErrorCode, lastID uint32)

	// CacheLengthExceeded is called after the retry cache grew.
	CacheLengthExceeded(newCapacity int)

	// NotificationsResent is called with the notifications queued for
	// resending, in send order.
	NotificationsResent(ns []Notification)
}

// NoOpDelegate ignores every event.
type NoOpDelegate struct{}

func (NoOpDelegate) MessageSent(Notification, bool) {}
func (NoOpDelegate) MessageSendFailed(*Notification, error) {}
func (NoOpDelegate) ConnectionClosed(ErrorCode, uint32) {}
func (NoOpDelegate) CacheLengthExceeded(int) {}
func (NoOpDelegate) NotificationsResent([]Notification) {}

// MultiDelegate fans every event out to several delegates in order.
type MultiDelegate []Delegate

func (m MultiDelegate) MessageSent(n Notification, resent bool) {
	for _, d := range m {
		d.MessageSent(n, resent)
	}
}

func (m MultiDelegate) MessageSendFailed(n *Notification, err error) {
	for _, d := range m {
		d.MessageSendFailed(n, err)
	}
}

func (m MultiDelegate) ConnectionClosed(code ErrorCode, lastID uint32) {
	for _, d := range m {
		d.ConnectionClosed(code, lastID)
	}
}

func (m MultiDelegate) CacheLengthExceeded(newCapacity int) {
	for _, d := range m {
		d.CacheLengthExceeded(newCapacity)
	}
}

func (m MultiDelegate) NotificationsResent(ns []Notification) {
	for _, d := range m {
		d.NotificationsResent(ns)
	}
}

// LoggingDelegate writes every event to a structured logger.
type LoggingDelegate struct {
	logger *slog.Logger
}

// NewLoggingDelegate creates a delegate logging to l, or to slog.Default
// when l is nil.
func NewLoggingDelegate(l *slog.Logger) *LoggingDelegate {
	if l == nil {
		l = slog.Default()
	}
	return &LoggingDelegate{logger: l}
}

func (d *LoggingDelegate) MessageSent(n Notification, resent bool) {
	d.logger.LogAttrs(context.Background(), slog.LevelDebug, "Notification sent",
		logger.NotificationID(n.ID),
		logger.DeviceToken(n.TokenHex()),
		slog.Bool("resent", resent),
	)
}

func (d *LoggingDelegate) MessageSendFailed(n *Notification, err error) {
	attrs := []slog.Attr{logger.Error(err)}
	if n != nil {
		attrs = append(attrs, logger.NotificationID(n.ID), logger.DeviceToken(n.TokenHex()))
	}
	d.logger.LogAttrs(context.Background(), slog.LevelError, "Failed to deliver notification", attrs...)
}

func (d *LoggingDelegate) ConnectionClosed(code ErrorCode, lastID uint32) {
	d.logger.LogAttrs(context.Background(), slog.LevelWarn, "Gateway closed connection",
		logger.ErrorCode(code.String()),
		logger.NotificationID(lastID),
	)
}

func (d *LoggingDelegate) CacheLengthExceeded(newCapacity int) {
	d.logger.LogAttrs(context.Background(), slog.LevelWarn, "Retry cache grown",
		logger.CacheCapacity(newCapacity),
	)
}

func (d *LoggingDelegate) NotificationsResent(ns []Notification) {
	if len(ns) == 0 {
		return
	}
	d.logger.LogAttrs(context.Background(), slog.LevelInfo, "Queued notifications for resend",
		slog.Int("notification_count", len(ns)),
		logger.NotificationID(ns[0].ID),
	)
}
