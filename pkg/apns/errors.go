package apns

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedFrame is returned when bytes on the wire do not form a valid frame.
	ErrMalformedFrame = errors.New("apns: malformed frame")

	// ErrTransport is matched by every *TransportError.
	ErrTransport = errors.New("apns: transport error")

	// ErrTransportClosed is returned by a transport after Close.
	ErrTransportClosed = errors.New("apns: transport closed")

	// ErrConnectionClosed is returned by Connection.Send after Close.
	ErrConnectionClosed = errors.New("apns: connection closed")

	// ErrServiceStopped is matched by every *ServiceStoppedError.
	ErrServiceStopped = errors.New("apns: service stopped")

	// ErrDeliveryFailed is matched by every *DeliveryError.
	ErrDeliveryFailed = errors.New("apns: delivery failed")

	// ErrUnknownNotification is matched by every *UnknownNotificationError.
	ErrUnknownNotification = errors.New("apns: error for notification not in retry cache")

	ErrInvalidConfig = errors.New("apns: invalid configuration")
	ErrCertificate   = errors.New("apns: failed to load certificate")
)

// FrameError describes a frame a conformant gateway would reject.
// ID is the notification id read before the problem was found (zero if the
// frame was rejected before its id) and Code is the status the gateway
// reports for it.
type FrameError struct {
	ID     uint32
	Code   ErrorCode
	Reason string
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("apns: malformed frame (id=%d, code=%s): %s", e.ID, e.Code, e.Reason)
}

func (e *FrameError) Is(target error) bool { return target == ErrMalformedFrame }

// TransportError wraps a failure of the underlying channel.
type TransportError struct {
	Op        string
	ChannelID string
	Err       error
}

func (e *TransportError) Error() string {
	if e.ChannelID == "" {
		return fmt.Sprintf("apns: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("apns: %s on channel %s: %v", e.Op, e.ChannelID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ServiceStoppedError rejects a push made after the service was stopped.
// Token is the hex encoded device token of the rejected notification.
type ServiceStoppedError struct {
	Token string
}

func (e *ServiceStoppedError) Error() string {
	return fmt.Sprintf("apns: service stopped, notification for %s rejected", e.Token)
}

func (e *ServiceStoppedError) Is(target error) bool { return target == ErrServiceStopped }

// DeliveryError is reported for a notification the gateway refused.
type DeliveryError struct {
	Code ErrorCode
	ID   uint32
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("apns: notification %d rejected: %s", e.ID, e.Code)
}

func (e *DeliveryError) Is(target error) bool { return target == ErrDeliveryFailed }

// UnknownNotificationError is reported once for a whole batch when the
// gateway refers to a notification no longer held in the retry cache.
// Batch is the number of notifications queued for resending as a result.
type UnknownNotificationError struct {
	Code  ErrorCode
	ID    uint32
	Batch int
}

func (e *UnknownNotificationError) Error() string {
	return fmt.Sprintf("apns: gateway rejected unknown notification %d (%s), resending %d", e.ID, e.Code, e.Batch)
}

func (e *UnknownNotificationError) Is(target error) bool {
	return target == ErrUnknownNotification || target == ErrDeliveryFailed
}
