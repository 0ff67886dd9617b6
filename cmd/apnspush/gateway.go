package main

import (
	"context"
	"crypto/tls"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/apnskit/pkg/apns"
	"github.com/dmitrymomot/apnskit/pkg/apns/apnstest"
	"github.com/dmitrymomot/apnskit/pkg/logger"
)

type gatewayFlags struct {
	addr      string
	certFile  string
	keyFile   string
	failAfter int
	failCode  uint8
	failID    uint32
}

func newGatewayCmd(root *rootFlags) *cobra.Command {
	var flags gatewayFlags

	cmd := &cobra.Command{
		Use:   "mock-gateway",
		Short: "Run a local gateway that can refuse a chosen notification",
		Example: `  apnspush mock-gateway --addr 127.0.0.1:2195 --fail-after 3 --fail-code 8
  APNS_INSECURE=true apnspush send --gateway 127.0.0.1:2195 --batch notifications.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := root.newLogger(os.Stderr)

			opts := []apnstest.GatewayOption{
				apnstest.WithAddr(flags.addr),
				apnstest.WithGatewayLogger(log),
			}
			if flags.certFile != "" {
				cert, err := apns.LoadPEMCertificate(flags.certFile, flags.keyFile)
				if err != nil {
					return err
				}
				opts = append(opts, apnstest.WithTLS(&tls.Config{
					Certificates: []tls.Certificate{cert},
					ClientAuth:   tls.RequestClientCert,
					MinVersion:   tls.VersionTLS12,
				}))
			}

			gw, err := apnstest.StartMockGateway(opts...)
			if err != nil {
				return err
			}

			if flags.failAfter > 0 {
				code := apns.ErrorCode(flags.failCode)
				if cmd.Flags().Changed("fail-id") {
					gw.FailWithErrorAfterID(code, flags.failAfter, flags.failID)
				} else {
					gw.FailWithErrorAfter(code, flags.failAfter)
				}
			}

			log.LogAttrs(cmd.Context(), slog.LevelInfo, "Mock gateway listening",
				slog.String("addr", gw.Addr()),
				slog.Bool("tls", flags.certFile != ""),
			)

			return serveUntilDone(cmd.Context(), log, gw)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.addr, "addr", "127.0.0.1:2195", "listen address")
	f.StringVar(&flags.certFile, "cert", "", "PEM server certificate; serves plain TCP when empty")
	f.StringVar(&flags.keyFile, "key", "", "PEM server key")
	f.IntVar(&flags.failAfter, "fail-after", 0, "refuse the n-th received notification, 0 to accept all")
	f.Uint8Var(&flags.failCode, "fail-code", uint8(apns.InvalidToken), "status code reported for the refused notification")
	f.Uint32Var(&flags.failID, "fail-id", 0, "report this id instead of the refused notification's own")
	cmd.MarkFlagsRequiredTogether("cert", "key")

	return cmd
}

func serveUntilDone(ctx context.Context, log *slog.Logger, gw *apnstest.MockGateway) error {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			err := gw.Close()
			log.LogAttrs(context.Background(), slog.LevelInfo, "Mock gateway stopped", gatewayStats(gw))
			return err
		case <-ticker.C:
			log.LogAttrs(ctx, slog.LevelDebug, "Mock gateway stats", gatewayStats(gw))
		}
	}
}

func gatewayStats(gw *apnstest.MockGateway) slog.Attr {
	return logger.Group("gateway",
		slog.Int("notifications", len(gw.Received())),
		slog.Int("connections", gw.Connections()),
	)
}
