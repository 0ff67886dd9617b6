package apns

import "context"

// Channel is one connected, authenticated stream to the gateway.
type Channel interface {
	// ID identifies the channel in logs and callbacks.
	ID() string
	// Write sends one or more complete frames. It fails with a transport
	// error when the channel is no longer usable.
	Write(frame []byte) error
	// Close tears the channel down. Closing twice is a no-op.
	Close() error
}

// Transport hands out gateway channels and reports what the gateway says
// about them.
type Transport interface {
	// Listen registers the listener for channel events. It must be called
	// before the first Acquire.
	Listen(l ResultListener)
	// Acquire returns the live channel, opening a new one when there is none.
	Acquire(ctx context.Context) (Channel, error)
	// Close closes the live channel and makes every later Acquire fail with
	// ErrTransportClosed.
	Close() error
}

// ResultListener receives exactly one event per channel: either the error
// frame the gateway sent before hanging up, or the fact that the channel
// ended without one. Events for one transport never run concurrently.
type ResultListener interface {
	OnDeliveryResult(ch Channel, result DeliveryResult)
	OnChannelClosed(ch Channel, err error)
}
