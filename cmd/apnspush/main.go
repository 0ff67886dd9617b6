// Command apnspush sends notifications through the legacy binary gateway
// and runs a local fake gateway for testing.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/apnskit/pkg/config"
	"github.com/dmitrymomot/apnskit/pkg/logger"
)

const serviceName = "apnspush"

type rootFlags struct {
	envFiles []string
	logLevel string
	appEnv   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Push notifications through the binary gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return config.LoadEnv(flags.envFiles...)
		},
	}

	root.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", nil, "additional .env files to load")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", envOr("APNS_LOG_LEVEL", "info"), "debug, info, warn or error")
	root.PersistentFlags().StringVar(&flags.appEnv, "app-env", os.Getenv("APP_ENV"), "development, staging or production")

	root.AddCommand(newSendCmd(&flags), newGatewayCmd(&flags))
	return root
}

// batchIDKey carries the id shared by every log line of one send run.
type batchIDKey struct{}

// newLogger writes to w. Commands pass stderr so their output stays clean.
func (f *rootFlags) newLogger(w io.Writer) *slog.Logger {
	return logger.New(
		logger.WithEnvironment(f.appEnv, serviceName),
		logger.WithLevelName(f.logLevel),
		logger.WithOutput(w),
		logger.WithContextValue("batch_id", batchIDKey{}),
	)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
