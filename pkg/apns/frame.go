package apns

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

const (
	// CommandNotification opens an enhanced notification frame.
	CommandNotification byte = 1
	// CommandError opens a gateway error frame.
	CommandError byte = 8

	// ErrorFrameLength is the fixed size of a gateway error frame.
	ErrorFrameLength = 6

	// MaxPayloadSize is the largest payload a conformant gateway accepts.
	MaxPayloadSize = 256

	// opcode + id + expiry + token length + payload length
	notificationHeaderLength = 1 + 4 + 4 + 2 + 2
)

// EncodeNotification returns the wire frame for n.
func EncodeNotification(n Notification) ([]byte, error) {
	return AppendNotification(make([]byte, 0, notificationHeaderLength+len(n.DeviceToken)+len(n.Payload)), n)
}

// AppendNotification appends the wire frame for n to dst.
// It only rejects notifications that cannot be framed at all: an empty
// token, or a token or payload longer than a 16-bit length prefix allows.
// Payload limits of the gateway are left to the caller.
func AppendNotification(dst []byte, n Notification) ([]byte, error) {
	if len(n.DeviceToken) == 0 {
		return dst, &FrameError{ID: n.ID, Code: MissingDeviceToken, Reason: "empty device token"}
	}
	if len(n.DeviceToken) > math.MaxUint16 {
		return dst, &FrameError{ID: n.ID, Code: InvalidTokenSize, Reason: "device token too long"}
	}
	if len(n.Payload) > math.MaxUint16 {
		return dst, &FrameError{ID: n.ID, Code: InvalidPayloadSize, Reason: "payload too long"}
	}

	dst = append(dst, CommandNotification)
	dst = binary.BigEndian.AppendUint32(dst, n.ID)
	dst = binary.BigEndian.AppendUint32(dst, expirySeconds(n.Expiry))
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(n.DeviceToken)))
	dst = append(dst, n.DeviceToken...)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(n.Payload)))
	dst = append(dst, n.Payload...)
	return dst, nil
}

// DecodeErrorFrame parses a complete gateway error frame.
func DecodeErrorFrame(b []byte) (DeliveryResult, error) {
	if len(b) != ErrorFrameLength {
		return DeliveryResult{}, fmt.Errorf("%w: error frame is %d bytes, want %d", ErrMalformedFrame, len(b), ErrorFrameLength)
	}
	if b[0] != CommandError {
		return DeliveryResult{}, fmt.Errorf("%w: unexpected command %d in error frame", ErrMalformedFrame, b[0])
	}
	return DeliveryResult{
		Code: ErrorCode(b[1]),
		ID:   binary.BigEndian.Uint32(b[2:]),
	}, nil
}

// EncodeErrorFrame returns the wire frame a gateway sends to report a failure.
func EncodeErrorFrame(code ErrorCode, id uint32) []byte {
	b := make([]byte, ErrorFrameLength)
	b[0] = CommandError
	b[1] = byte(code)
	binary.BigEndian.PutUint32(b[2:], id)
	return b
}

// ReadErrorFrame reads one error frame from r. A clean end of stream before
// the first byte is returned as io.EOF.
func ReadErrorFrame(r io.Reader) (DeliveryResult, error) {
	var b [ErrorFrameLength]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return DeliveryResult{}, errors.Join(ErrMalformedFrame, err)
		}
		return DeliveryResult{}, err
	}
	return DecodeErrorFrame(b[:])
}

// ReadNotification reads one notification frame from r the way a conformant
// gateway does. Frames the gateway would refuse yield a *FrameError carrying
// the status it would report. I/O errors are returned unchanged; a clean end
// of stream before the first byte is io.EOF.
func ReadNotification(r io.Reader) (Notification, error) {
	var head [9]byte
	if _, err := io.ReadFull(r, head[:1]); err != nil {
		return Notification{}, err
	}
	if head[0] != CommandNotification {
		return Notification{}, &FrameError{Code: Unknown, Reason: fmt.Sprintf("unexpected command %d", head[0])}
	}

	if _, err := io.ReadFull(r, head[1:]); err != nil {
		return Notification{}, unexpectedEOF(err)
	}
	n := Notification{ID: binary.BigEndian.Uint32(head[1:5])}
	if exp := binary.BigEndian.Uint32(head[5:9]); exp != 0 {
		n.Expiry = time.Unix(int64(exp), 0)
	}

	tokenLen, err := readLength(r)
	if err != nil {
		return n, err
	}
	if tokenLen == 0 {
		return n, &FrameError{ID: n.ID, Code: MissingDeviceToken, Reason: "empty device token"}
	}
	n.DeviceToken = make([]byte, tokenLen)
	if _, err := io.ReadFull(r, n.DeviceToken); err != nil {
		return n, unexpectedEOF(err)
	}

	payloadLen, err := readLength(r)
	if err != nil {
		return n, err
	}
	if payloadLen == 0 || payloadLen > MaxPayloadSize {
		return n, &FrameError{ID: n.ID, Code: InvalidPayloadSize, Reason: fmt.Sprintf("payload of %d bytes", payloadLen)}
	}
	n.Payload = make([]byte, payloadLen)
	if _, err := io.ReadFull(r, n.Payload); err != nil {
		return n, unexpectedEOF(err)
	}
	return n, nil
}

func readLength(r io.Reader) (int, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, unexpectedEOF(err)
	}
	return int(binary.BigEndian.Uint16(b[:])), nil
}

// A frame cut short after its first byte is never a clean end of stream.
func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
