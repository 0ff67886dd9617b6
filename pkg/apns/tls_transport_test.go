package apns_test

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/apnskit/pkg/apns"
	"github.com/dmitrymomot/apnskit/pkg/apns/apnstest"
)

func startGateway(t *testing.T, opts ...apnstest.GatewayOption) *apnstest.MockGateway {
	t.Helper()
	gw, err := apnstest.StartMockGateway(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })
	return gw
}

func TestTLSTransport_ReusesChannel(t *testing.T) {
	t.Parallel()

	gw := startGateway(t)
	transport := apns.NewTLSTransport(gw.Addr(), nil, apns.WithDialer(gw.Dialer()))
	transport.Listen(newRecordingListener())
	t.Cleanup(func() { _ = transport.Close() })

	a, err := transport.Acquire(context.Background())
	require.NoError(t, err)
	b, err := transport.Acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, a.ID(), b.ID())
	assert.NotEmpty(t, a.ID())
}

func TestTLSTransport_ReportsErrorFrame(t *testing.T) {
	t.Parallel()

	gw := startGateway(t)
	gw.FailWithErrorAfter(apns.InvalidToken, 2)

	listener := newRecordingListener()
	transport := apns.NewTLSTransport(gw.Addr(), nil, apns.WithDialer(gw.Dialer()))
	transport.Listen(listener)
	t.Cleanup(func() { _ = transport.Close() })

	ch, err := transport.Acquire(context.Background())
	require.NoError(t, err)

	for id := uint32(1); id <= 2; id++ {
		frame, err := apns.EncodeNotification(notification(id))
		require.NoError(t, err)
		require.NoError(t, ch.Write(frame))
	}

	ev := listener.next(t)
	require.NotNil(t, ev.result)
	assert.Equal(t, apns.DeliveryResult{Code: apns.InvalidToken, ID: 2}, *ev.result)
	assert.Equal(t, ch.ID(), ev.ch.ID())

	// The channel that reported is gone; the next Acquire dials again.
	next, err := transport.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, ch.ID(), next.ID())
	assert.Eventually(t, func() bool { return gw.Connections() == 2 }, time.Second, 10*time.Millisecond)
}

func TestTLSTransport_ReportsHangUp(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			_ = conn.Close()
		}
	}()

	listener := newRecordingListener()
	transport := apns.NewTLSTransport(ln.Addr().String(), nil, apns.WithDialer(func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", ln.Addr().String())
	}))
	transport.Listen(listener)
	t.Cleanup(func() { _ = transport.Close() })

	_, err = transport.Acquire(context.Background())
	require.NoError(t, err)

	ev := listener.next(t)
	assert.Nil(t, ev.result)
	require.Error(t, ev.err)
	assert.NotErrorIs(t, ev.err, apns.ErrTransportClosed)
}

func TestTLSTransport_Close(t *testing.T) {
	t.Parallel()

	gw := startGateway(t)
	listener := newRecordingListener()
	transport := apns.NewTLSTransport(gw.Addr(), nil, apns.WithDialer(gw.Dialer()))
	transport.Listen(listener)

	ch, err := transport.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, transport.Close())
	require.NoError(t, transport.Close())

	ev := listener.next(t)
	assert.ErrorIs(t, ev.err, apns.ErrTransportClosed)

	assert.ErrorIs(t, ch.Write([]byte{1}), apns.ErrTransport)
	_, err = transport.Acquire(context.Background())
	assert.ErrorIs(t, err, apns.ErrTransportClosed)
}

func TestTLSTransport_DialRetries(t *testing.T) {
	t.Parallel()

	var dials atomic.Int32
	dialErr := errors.New("connection refused")
	transport := apns.NewTLSTransport("127.0.0.1:1", nil,
		apns.WithDialer(func(context.Context) (net.Conn, error) {
			dials.Add(1)
			return nil, dialErr
		}),
		apns.WithReconnect(3, apns.FixedBackoff{Interval: time.Millisecond}),
	)

	_, err := transport.Acquire(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apns.ErrTransport)
	assert.ErrorIs(t, err, dialErr)

	var te *apns.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "dial", te.Op)
	assert.Equal(t, int32(3), dials.Load())
}

func TestTLSTransport_DialHonoursContext(t *testing.T) {
	t.Parallel()

	transport := apns.NewTLSTransport("127.0.0.1:1", nil,
		apns.WithDialer(func(context.Context) (net.Conn, error) {
			return nil, errors.New("connection refused")
		}),
		apns.WithReconnect(5, apns.FixedBackoff{Interval: time.Minute}),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := transport.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestTLSTransport_ConnectionEndToEnd(t *testing.T) {
	t.Parallel()

	gw := startGateway(t)
	gw.FailWithErrorAfter(apns.InvalidToken, 3)

	delegate := &recordingDelegate{}
	transport := apns.NewTLSTransport(gw.Addr(), nil, apns.WithDialer(gw.Dialer()))
	conn := apns.NewConnection(transport, apns.WithDelegate(delegate))
	t.Cleanup(func() { _ = conn.Close() })

	sendAll(t, conn, 1, 5)

	require.True(t, gw.WaitForNotifications(5, 5*time.Second))
	require.Eventually(t, func() bool { return len(delegate.closedEvents()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return conn.Pending() == 0 }, 5*time.Second, 10*time.Millisecond)

	// 4 and 5 were either dropped by the refusing gateway and resent, or
	// written to a fresh connection: either way each arrives once.
	assert.Equal(t, []uint32{1, 2, 3, 4, 5}, ids(gw.Received()))

	failed := delegate.failedEvents()
	require.Len(t, failed, 1)
	assert.Equal(t, uint32(3), failed[0].n.ID)
	assert.Equal(t, []apns.DeliveryResult{{Code: apns.InvalidToken, ID: 3}}, delegate.closedEvents())
	assert.Equal(t, 2, gw.Connections())
}

func TestTLSTransport_TLSGateway(t *testing.T) {
	t.Parallel()

	certFile, keyFile, certPEM := writePEMFiles(t)
	cert, err := apns.LoadPEMCertificate(certFile, keyFile)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(certPEM))

	gw := startGateway(t, apnstest.WithTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS12,
	}))

	transport := apns.NewTLSTransport(gw.Addr(), &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		ServerName:   "127.0.0.1",
		MinVersion:   tls.VersionTLS12,
	})
	conn := apns.NewConnection(transport)
	t.Cleanup(func() { _ = conn.Close() })

	sendAll(t, conn, 1, 3)
	require.True(t, gw.WaitForNotifications(3, 5*time.Second))
	assert.Equal(t, []uint32{1, 2, 3}, ids(gw.Received()))
}
