// Package logger builds *slog.Logger instances through functional options
// and provides attribute helpers that keep key names consistent across the
// gateway client.
//
// New picks a text or JSON handler and applies static attributes. Values
// registered with WithContextValue are read from the context passed to
// LogAttrs or InfoContext and added to the record.
//
// # Usage
//
//	log := logger.New(
//		logger.WithEnvironment(os.Getenv("APP_ENV"), "apnspush"),
//		logger.WithLevelName(os.Getenv("APNS_LOG_LEVEL")),
//	)
//	logger.SetAsDefault(log)
//
//	log.LogAttrs(ctx, slog.LevelWarn, "Gateway closed connection",
//		logger.ErrorCode(code.String()),
//		logger.NotificationID(id),
//	)
//
// # Configuration
//
//   - WithDevelopment / WithStaging / WithProduction / WithEnvironment: presets.
//   - WithFormat / WithTextFormatter / WithJSONFormatter: output format.
//   - WithLevel / WithLevelName: minimum level.
//   - WithAttr: static attributes.
//   - WithContextValue: attributes pulled from context.
//
// Error and Errors return an empty attribute for nil errors, so
//
//	log.Info("channel closed", logger.Error(err))
//
// needs no nil check.
package logger
