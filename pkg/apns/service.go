package apns

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dmitrymomot/apnskit/pkg/logger"
)

// Sender is the part of a Connection a Service drives.
type Sender interface {
	Send(ctx context.Context, n Notification) error
	Close() error
}

// Service is the entry point for application code. Any number of goroutines
// may Push concurrently; Stop waits for in-flight pushes to finish writing,
// closes the connection once, and makes every later Push fail with a
// *ServiceStoppedError.
type Service struct {
	conn    Sender
	logger  *slog.Logger
	stopped atomic.Bool
	mu      sync.RWMutex
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the logger for the Service.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService wraps conn.
func NewService(conn Sender, opts ...ServiceOption) *Service {
	s := &Service{
		conn:   conn,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Push sends n unless the service has been stopped.
func (s *Service) Push(ctx context.Context, n Notification) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped.Load() {
		return &ServiceStoppedError{Token: n.TokenHex()}
	}

	err := s.conn.Send(ctx, n)
	if errors.Is(err, ErrTransportClosed) || errors.Is(err, ErrConnectionClosed) {
		// Stopped concurrently by someone else.
		return &ServiceStoppedError{Token: n.TokenHex()}
	}
	return err
}

// Start exists for symmetry with Stop; the connection opens lazily.
func (s *Service) Start() error {
	return nil
}

// Stop closes the underlying connection. Only the first call has an effect.
func (s *Service) Stop() error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.Close(); err != nil {
		s.logger.LogAttrs(context.Background(), slog.LevelError, "Failed to close connection",
			logger.Error(err),
		)
		return err
	}
	return nil
}

// Stopped reports whether Stop has been called.
func (s *Service) Stopped() bool {
	return s.stopped.Load()
}
