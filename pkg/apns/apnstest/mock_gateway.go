package apnstest

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/apnskit/pkg/apns"
	"github.com/dmitrymomot/apnskit/pkg/logger"
)

// MockGateway is a TCP server speaking the gateway side of the binary
// protocol. It refuses malformed frames with the status a real gateway
// would use, can be told to refuse the n-th notification, and always hangs
// up after sending an error frame.
type MockGateway struct {
	rejector

	listener net.Listener
	logger   *slog.Logger
	group    *errgroup.Group
	cancel   context.CancelFunc

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	accepted int
}

// GatewayOption configures a MockGateway.
type GatewayOption func(*gatewayOptions)

type gatewayOptions struct {
	addr      string
	tlsConfig *tls.Config
	logger    *slog.Logger
}

// WithAddr sets the listen address. Defaults to a random local port.
func WithAddr(addr string) GatewayOption {
	return func(o *gatewayOptions) {
		if addr != "" {
			o.addr = addr
		}
	}
}

// WithTLS serves TLS with the given server configuration.
func WithTLS(cfg *tls.Config) GatewayOption {
	return func(o *gatewayOptions) { o.tlsConfig = cfg }
}

// WithGatewayLogger sets the logger for the MockGateway.
func WithGatewayLogger(l *slog.Logger) GatewayOption {
	return func(o *gatewayOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// StartMockGateway listens and starts serving in the background.
func StartMockGateway(opts ...GatewayOption) (*MockGateway, error) {
	o := &gatewayOptions{
		addr:   "127.0.0.1:0",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	ln, err := net.Listen("tcp", o.addr)
	if err != nil {
		return nil, err
	}
	if o.tlsConfig != nil {
		ln = tls.NewListener(ln, o.tlsConfig)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	gw := &MockGateway{
		listener: ln,
		logger:   o.logger.With(logger.Component("mock_gateway")),
		group:    g,
		cancel:   cancel,
		conns:    make(map[net.Conn]struct{}),
	}

	g.Go(func() error { return gw.acceptLoop(ctx) })
	return gw, nil
}

// Addr returns the address the gateway listens on.
func (g *MockGateway) Addr() string {
	return g.listener.Addr().String()
}

// Dialer returns a plain TCP dialer for this gateway, for use with
// apns.WithDialer.
func (g *MockGateway) Dialer() apns.Dialer {
	addr := g.Addr()
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
}

// FailWithErrorAfter makes the count-th notification received from now on
// fail with code, reporting its own id.
func (g *MockGateway) FailWithErrorAfter(code apns.ErrorCode, count int) {
	g.failWithErrorAfter(code, count, nil)
}

// FailWithErrorAfterID is like FailWithErrorAfter but reports id.
func (g *MockGateway) FailWithErrorAfterID(code apns.ErrorCode, count int, id uint32) {
	g.failWithErrorAfter(code, count, &id)
}

// Received returns every notification processed so far, in order.
func (g *MockGateway) Received() []apns.Notification {
	return g.snapshot()
}

// WaitForNotifications blocks until count notifications were received or
// timeout elapses.
func (g *MockGateway) WaitForNotifications(count int, timeout time.Duration) bool {
	select {
	case <-g.wait(count):
		return true
	case <-time.After(timeout):
		return false
	}
}

// Connections returns how many client connections were accepted.
func (g *MockGateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.accepted
}

// Close stops accepting, drops every connection and waits for the serving
// goroutines to exit.
func (g *MockGateway) Close() error {
	g.cancel()
	err := g.listener.Close()

	g.mu.Lock()
	for c := range g.conns {
		_ = c.Close()
	}
	g.mu.Unlock()

	if werr := g.group.Wait(); werr != nil {
		return werr
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (g *MockGateway) acceptLoop(ctx context.Context) error {
	for {
		conn, err := g.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		g.mu.Lock()
		g.conns[conn] = struct{}{}
		g.accepted++
		g.mu.Unlock()

		g.group.Go(func() error {
			defer g.forget(conn)
			g.serve(conn)
			return nil
		})
	}
}

func (g *MockGateway) forget(conn net.Conn) {
	_ = conn.Close()
	g.mu.Lock()
	delete(g.conns, conn)
	g.mu.Unlock()
}

func (g *MockGateway) serve(conn net.Conn) {
	r := bufio.NewReader(conn)
	for {
		n, err := apns.ReadNotification(r)
		if err != nil {
			var fe *apns.FrameError
			if errors.As(err, &fe) {
				g.reject(conn, r, apns.DeliveryResult{Code: fe.Code, ID: fe.ID})
				return
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				g.logger.LogAttrs(context.Background(), slog.LevelDebug, "Mock gateway read failed",
					logger.Error(err),
				)
			}
			return
		}

		if result, refuse := g.receive(n); refuse {
			g.reject(conn, r, result)
			return
		}
	}
}

// rejectLinger bounds how long a refusing connection keeps reading so the
// client sees the error frame instead of a reset.
const rejectLinger = 2 * time.Second

// reject writes the error frame, half-closes the connection and discards
// whatever the client still sends until it hangs up.
func (g *MockGateway) reject(conn net.Conn, r io.Reader, result apns.DeliveryResult) {
	if _, err := conn.Write(apns.EncodeErrorFrame(result.Code, result.ID)); err != nil {
		g.logger.LogAttrs(context.Background(), slog.LevelDebug, "Mock gateway failed to write error frame",
			logger.Error(err),
		)
		return
	}

	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
	_ = conn.SetReadDeadline(time.Now().Add(rejectLinger))
	_, _ = io.Copy(io.Discard, r)
}
