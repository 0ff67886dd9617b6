package logger

import (
	"log/slog"
	"strconv"
	"time"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Errors groups multiple non-nil errors under the key "errors".
// If all errors are nil, it returns an empty Attr.
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// NotificationID records a notification sequence number under "notification_id".
func NotificationID(id uint32) slog.Attr {
	return slog.Uint64("notification_id", uint64(id))
}

// DeviceToken records a hex device token under "device_token".
// Empty tokens produce an empty Attr.
func DeviceToken(token string) slog.Attr {
	if token == "" {
		return slog.Attr{}
	}
	return slog.String("device_token", token)
}

// ChannelID records a gateway channel identifier under "channel_id".
func ChannelID(id string) slog.Attr {
	return slog.String("channel_id", id)
}

// ErrorCode records a gateway status name under "error_code".
func ErrorCode(code string) slog.Attr {
	return slog.String("error_code", code)
}

// CacheCapacity records the retry cache capacity under "cache_capacity".
func CacheCapacity(n int) slog.Attr {
	return slog.Int("cache_capacity", n)
}

// Duration records a duration under the key "duration".
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}
