package logger_test

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/apnskit/pkg/logger"
)

func TestGroup(t *testing.T) {
	attr := logger.Group("frame", slog.String("cmd", "1"), slog.Int("len", 2))
	require.Equal(t, "frame", attr.Key)
	require.Equal(t, slog.KindGroup, attr.Value.Kind())
	g := attr.Value.Group()
	require.Len(t, g, 2)
	assert.Equal(t, "cmd", g[0].Key)
	assert.Equal(t, "len", g[1].Key)
}

func TestErrors(t *testing.T) {
	err1 := errors.New("first")
	err2 := errors.New("second")

	attr := logger.Errors(err1, nil, err2)
	require.Equal(t, "errors", attr.Key)
	require.Equal(t, slog.KindGroup, attr.Value.Kind())
	g := attr.Value.Group()
	require.Len(t, g, 2)
	assert.Equal(t, err1, g[0].Value.Any())
	assert.Equal(t, err2, g[1].Value.Any())

	empty := logger.Errors(nil)
	assert.True(t, empty.Equal(slog.Attr{}))
}

func TestError(t *testing.T) {
	err := errors.New("boom")
	attr := logger.Error(err)
	require.Equal(t, "error", attr.Key)
	assert.Equal(t, err, attr.Value.Any())

	empty := logger.Error(nil)
	assert.True(t, empty.Equal(slog.Attr{}))
}

func TestNotificationID(t *testing.T) {
	attr := logger.NotificationID(42)
	require.Equal(t, "notification_id", attr.Key)
	assert.Equal(t, uint64(42), attr.Value.Uint64())
}

func TestDeviceToken(t *testing.T) {
	attr := logger.DeviceToken("abcd")
	require.Equal(t, "device_token", attr.Key)
	assert.Equal(t, "abcd", attr.Value.String())

	assert.True(t, logger.DeviceToken("").Equal(slog.Attr{}))
}

func TestDomainAttrs(t *testing.T) {
	tests := []struct {
		name string
		attr slog.Attr
		key  string
		want any
	}{
		{name: "channel id", attr: logger.ChannelID("ch-1"), key: "channel_id", want: "ch-1"},
		{name: "error code", attr: logger.ErrorCode("invalid-token"), key: "error_code", want: "invalid-token"},
		{name: "cache capacity", attr: logger.CacheCapacity(128), key: "cache_capacity", want: int64(128)},
		{name: "component", attr: logger.Component("connection"), key: "component", want: "connection"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.key, tt.attr.Key)
			assert.Equal(t, tt.want, tt.attr.Value.Any())
		})
	}
}
