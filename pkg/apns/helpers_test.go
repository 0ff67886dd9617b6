package apns_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/apnskit/pkg/apns"
)

// recordingDelegate keeps every event for later assertions.
type recordingDelegate struct {
	mu     sync.Mutex
	sent   []sentEvent
	failed []failedEvent
	closed []apns.DeliveryResult
	grown  []int
	resent [][]apns.Notification
}

type sentEvent struct {
	id     uint32
	resent bool
}

type failedEvent struct {
	n   *apns.Notification
	err error
}

func (d *recordingDelegate) MessageSent(n apns.Notification, resent bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sentEvent{id: n.ID, resent: resent})
}

func (d *recordingDelegate) MessageSendFailed(n *apns.Notification, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failed = append(d.failed, failedEvent{n: n, err: err})
}

func (d *recordingDelegate) ConnectionClosed(code apns.ErrorCode, lastID uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = append(d.closed, apns.DeliveryResult{Code: code, ID: lastID})
}

func (d *recordingDelegate) CacheLengthExceeded(newCapacity int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.grown = append(d.grown, newCapacity)
}

func (d *recordingDelegate) NotificationsResent(ns []apns.Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]apns.Notification, len(ns))
	copy(cp, ns)
	d.resent = append(d.resent, cp)
}

func (d *recordingDelegate) sentEvents() []sentEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sentEvent(nil), d.sent...)
}

func (d *recordingDelegate) failedEvents() []failedEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]failedEvent(nil), d.failed...)
}

func (d *recordingDelegate) closedEvents() []apns.DeliveryResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]apns.DeliveryResult(nil), d.closed...)
}

func (d *recordingDelegate) grownEvents() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.grown...)
}

func (d *recordingDelegate) resentEvents() [][]apns.Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]apns.Notification(nil), d.resent...)
}

func notification(id uint32) apns.Notification {
	return apns.Notification{
		ID:          id,
		DeviceToken: []byte{0xde, 0xad, 0xbe, 0xef},
		Payload:     []byte(`{"aps":{"alert":"test"}}`),
	}
}

func ids(ns []apns.Notification) []uint32 {
	out := make([]uint32, len(ns))
	for i, n := range ns {
		out[i] = n.ID
	}
	return out
}

// selfSignedPEM returns a PEM encoded certificate and key valid for
// 127.0.0.1, usable both as a server and as a client certificate.
func selfSignedPEM(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "apnskit test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}

// writePEMFiles stores a fresh certificate and key in t.TempDir.
func writePEMFiles(t *testing.T) (certFile, keyFile string, certPEM []byte) {
	t.Helper()

	certPEM, keyPEM := selfSignedPEM(t)
	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, certPEM, 0o600))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0o600))
	return certFile, keyFile, certPEM
}

// recordingListener collects transport events on a channel.
type recordingListener struct {
	events chan listenerEvent
}

type listenerEvent struct {
	ch     apns.Channel
	result *apns.DeliveryResult
	err    error
}

func newRecordingListener() *recordingListener {
	return &recordingListener{events: make(chan listenerEvent, 16)}
}

func (l *recordingListener) OnDeliveryResult(ch apns.Channel, result apns.DeliveryResult) {
	l.events <- listenerEvent{ch: ch, result: &result}
}

func (l *recordingListener) OnChannelClosed(ch apns.Channel, err error) {
	l.events <- listenerEvent{ch: ch, err: err}
}

func (l *recordingListener) next(t *testing.T) listenerEvent {
	t.Helper()
	select {
	case ev := <-l.events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no transport event")
		return listenerEvent{}
	}
}
