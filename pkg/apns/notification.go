package apns

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// ErrorCode is the status byte of a gateway error frame.
type ErrorCode uint8

const (
	NoError            ErrorCode = 0
	ProcessingError    ErrorCode = 1
	MissingDeviceToken ErrorCode = 2
	MissingTopic       ErrorCode = 3
	MissingPayload     ErrorCode = 4
	InvalidTokenSize   ErrorCode = 5
	InvalidTopicSize   ErrorCode = 6
	InvalidPayloadSize ErrorCode = 7
	InvalidToken       ErrorCode = 8
	Shutdown           ErrorCode = 10
	Unknown            ErrorCode = 255
)

var errorCodeNames = map[ErrorCode]string{
	NoError:            "no-error",
	ProcessingError:    "processing-error",
	MissingDeviceToken: "missing-device-token",
	MissingTopic:       "missing-topic",
	MissingPayload:     "missing-payload",
	InvalidTokenSize:   "invalid-token-size",
	InvalidTopicSize:   "invalid-topic-size",
	InvalidPayloadSize: "invalid-payload-size",
	InvalidToken:       "invalid-token",
	Shutdown:           "shutdown",
	Unknown:            "unknown",
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(c))
}

// DeliveryResult is the content of a gateway error frame: the reason and the
// id of the first notification the gateway refused. ID may be zero when the
// gateway could not identify the notification.
type DeliveryResult struct {
	Code ErrorCode
	ID   uint32
}

// Notification is a single push message. Treat it as immutable once sent.
type Notification struct {
	ID          uint32
	DeviceToken []byte
	Payload     []byte
	Expiry      time.Time // Sent with second resolution; zero means "do not store"
}

// sequence starts at zero so the first generated id is 1; gateways use 0
// for unidentifiable notifications.
var sequence atomic.Uint32

// NextID returns the next id of the process-wide notification sequence.
func NextID() uint32 {
	for {
		if id := sequence.Add(1); id != 0 {
			return id
		}
	}
}

// NewNotification builds a notification with the next sequence id.
func NewNotification(token, payload []byte, expiry time.Time) Notification {
	return Notification{
		ID:          NextID(),
		DeviceToken: token,
		Payload:     payload,
		Expiry:      expiry,
	}
}

// TokenHex returns the device token as lowercase hex.
func (n Notification) TokenHex() string {
	return hex.EncodeToString(n.DeviceToken)
}

func (n Notification) String() string {
	return fmt.Sprintf("Notification{id=%d, token=%s, payload=%dB}", n.ID, n.TokenHex(), len(n.Payload))
}

// DecodeToken parses a hex device token. Spaces and angle brackets, as
// printed by device logs ("<740f4707 bebcf74f ...>"), are ignored.
func DecodeToken(s string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '<', '>':
			return -1
		}
		return r
	}, s)
	token, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("apns: invalid device token: %w", err)
	}
	return token, nil
}

func expirySeconds(t time.Time) uint32 {
	if t.IsZero() {
		return 0
	}
	return uint32(t.Unix())
}
