package apns_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/apnskit/pkg/apns"
)

func TestEncodeNotification(t *testing.T) {
	t.Parallel()

	n := apns.Notification{
		ID:          0x01020304,
		DeviceToken: []byte{0xaa, 0xbb},
		Payload:     []byte(`{}`),
		Expiry:      time.Unix(0x0a0b0c0d, 0),
	}

	frame, err := apns.EncodeNotification(n)
	require.NoError(t, err)

	want := []byte{
		1,                      // command
		0x01, 0x02, 0x03, 0x04, // id
		0x0a, 0x0b, 0x0c, 0x0d, // expiry
		0x00, 0x02, 0xaa, 0xbb, // token
		0x00, 0x02, '{', '}', // payload
	}
	assert.Equal(t, want, frame)
}

func TestEncodeNotification_ZeroExpiry(t *testing.T) {
	t.Parallel()

	frame, err := apns.EncodeNotification(apns.Notification{ID: 1, DeviceToken: []byte{1}, Payload: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(frame[5:9]))
}

func TestAppendNotification_Appends(t *testing.T) {
	t.Parallel()

	a := apns.Notification{ID: 1, DeviceToken: []byte{1}, Payload: []byte("a")}
	b := apns.Notification{ID: 2, DeviceToken: []byte{2}, Payload: []byte("b")}

	buf, err := apns.AppendNotification(nil, a)
	require.NoError(t, err)
	buf, err = apns.AppendNotification(buf, b)
	require.NoError(t, err)

	r := bytes.NewReader(buf)
	got, err := apns.ReadNotification(r)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), got.ID)
	got, err = apns.ReadNotification(r)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), got.ID)

	_, err = apns.ReadNotification(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestAppendNotification_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		n    apns.Notification
		code apns.ErrorCode
	}{
		{
			name: "empty token",
			n:    apns.Notification{ID: 7, Payload: []byte("x")},
			code: apns.MissingDeviceToken,
		},
		{
			name: "token too long",
			n:    apns.Notification{ID: 7, DeviceToken: make([]byte, 1<<16), Payload: []byte("x")},
			code: apns.InvalidTokenSize,
		},
		{
			name: "payload too long",
			n:    apns.Notification{ID: 7, DeviceToken: []byte{1}, Payload: make([]byte, 1<<16)},
			code: apns.InvalidPayloadSize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dst := []byte("keep")
			out, err := apns.AppendNotification(dst, tt.n)
			require.ErrorIs(t, err, apns.ErrMalformedFrame)

			var fe *apns.FrameError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.code, fe.Code)
			assert.Equal(t, uint32(7), fe.ID)
			assert.Equal(t, []byte("keep"), out)
		})
	}
}

func TestReadNotification_RoundTrip(t *testing.T) {
	t.Parallel()

	expiry := time.Unix(1700000000, 0)
	n := apns.Notification{
		ID:          42,
		DeviceToken: bytes.Repeat([]byte{0xab}, 32),
		Payload:     []byte(`{"aps":{"alert":"hi"}}`),
		Expiry:      expiry,
	}
	frame, err := apns.EncodeNotification(n)
	require.NoError(t, err)

	got, err := apns.ReadNotification(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.Equal(t, n.ID, got.ID)
	assert.Equal(t, n.DeviceToken, got.DeviceToken)
	assert.Equal(t, n.Payload, got.Payload)
	assert.True(t, expiry.Equal(got.Expiry))
}

func TestReadNotification_Rejected(t *testing.T) {
	t.Parallel()

	valid := func(token, payload []byte) []byte {
		b := []byte{1, 0, 0, 0, 9, 0, 0, 0, 0}
		b = binary.BigEndian.AppendUint16(b, uint16(len(token)))
		b = append(b, token...)
		b = binary.BigEndian.AppendUint16(b, uint16(len(payload)))
		return append(b, payload...)
	}

	tests := []struct {
		name  string
		frame []byte
		code  apns.ErrorCode
		id    uint32
	}{
		{
			name:  "unknown command",
			frame: []byte{2, 0, 0, 0, 9},
			code:  apns.Unknown,
			id:    0,
		},
		{
			name:  "missing token",
			frame: valid(nil, []byte("x")),
			code:  apns.MissingDeviceToken,
			id:    9,
		},
		{
			name:  "empty payload",
			frame: valid([]byte{1}, nil),
			code:  apns.InvalidPayloadSize,
			id:    9,
		},
		{
			name:  "payload over limit",
			frame: valid([]byte{1}, make([]byte, apns.MaxPayloadSize+1)),
			code:  apns.InvalidPayloadSize,
			id:    9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := apns.ReadNotification(bytes.NewReader(tt.frame))
			var fe *apns.FrameError
			require.True(t, errors.As(err, &fe), "got %v", err)
			assert.Equal(t, tt.code, fe.Code)
			assert.Equal(t, tt.id, fe.ID)
		})
	}
}

func TestReadNotification_Truncated(t *testing.T) {
	t.Parallel()

	frame, err := apns.EncodeNotification(apns.Notification{ID: 1, DeviceToken: []byte{1, 2}, Payload: []byte("abc")})
	require.NoError(t, err)

	for cut := 1; cut < len(frame); cut++ {
		_, err := apns.ReadNotification(bytes.NewReader(frame[:cut]))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF, "cut at %d", cut)
	}
}

func TestErrorFrame(t *testing.T) {
	t.Parallel()

	frame := apns.EncodeErrorFrame(apns.InvalidToken, 0xdeadbeef)
	assert.Equal(t, []byte{8, 8, 0xde, 0xad, 0xbe, 0xef}, frame)

	result, err := apns.DecodeErrorFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, apns.DeliveryResult{Code: apns.InvalidToken, ID: 0xdeadbeef}, result)

	result, err = apns.ReadErrorFrame(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.Equal(t, apns.InvalidToken, result.Code)
}

func TestDecodeErrorFrame_Malformed(t *testing.T) {
	t.Parallel()

	_, err := apns.DecodeErrorFrame([]byte{8, 1, 0})
	assert.ErrorIs(t, err, apns.ErrMalformedFrame)

	_, err = apns.DecodeErrorFrame([]byte{1, 8, 0, 0, 0, 1})
	assert.ErrorIs(t, err, apns.ErrMalformedFrame)
}

func TestReadErrorFrame_EndOfStream(t *testing.T) {
	t.Parallel()

	_, err := apns.ReadErrorFrame(bytes.NewReader(nil))
	assert.ErrorIs(t, err, io.EOF)
	assert.NotErrorIs(t, err, apns.ErrMalformedFrame)

	_, err = apns.ReadErrorFrame(bytes.NewReader([]byte{8, 8, 0}))
	assert.ErrorIs(t, err, apns.ErrMalformedFrame)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
