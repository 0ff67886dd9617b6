package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/apnskit/pkg/apns"
	"github.com/dmitrymomot/apnskit/pkg/config"
	"github.com/dmitrymomot/apnskit/pkg/environment"
	"github.com/dmitrymomot/apnskit/pkg/logger"
)

var errInsecureInProduction = errors.New("insecure gateway connections are not allowed in production")

type sendFlags struct {
	token    string
	payload  string
	alert    string
	expiry   time.Duration
	batch    string
	gateway  string
	sandbox  bool
	insecure bool
	settle   time.Duration
}

func newSendCmd(root *rootFlags) *cobra.Command {
	var flags sendFlags

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one notification, or every notification of a YAML batch",
		Example: `  apnspush send --token "<740f4707 bebcf74f ...>" --alert "Hello"
  apnspush send --batch notifications.yaml --sandbox`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := root.newLogger(os.Stderr)

			notifications, err := flags.notifications(time.Now())
			if err != nil {
				return err
			}

			var cfg apns.Config
			if err := config.Load(&cfg); err != nil {
				return err
			}
			if cmd.Flags().Changed("gateway") {
				cfg.GatewayAddr = flags.gateway
			}
			if cmd.Flags().Changed("sandbox") {
				cfg.Sandbox = flags.sandbox
			}
			if cmd.Flags().Changed("insecure") {
				cfg.Insecure = flags.insecure
			}
			if cfg.Insecure && environment.Parse(root.appEnv).IsProduction() {
				return errInsecureInProduction
			}

			return runSend(cmd.Context(), log, cfg, notifications, flags.settle)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.token, "token", "", "hex device token")
	f.StringVar(&flags.payload, "payload", "", "raw JSON payload")
	f.StringVar(&flags.alert, "alert", "", "alert text, used when --payload is empty")
	f.DurationVar(&flags.expiry, "expiry", 0, "how long the gateway may store the notification, 0 for not at all")
	f.StringVar(&flags.batch, "batch", "", "YAML file with notifications to send")
	f.StringVar(&flags.gateway, "gateway", "", "gateway host:port, overrides APNS_GATEWAY_ADDR")
	f.BoolVar(&flags.sandbox, "sandbox", false, "use the sandbox gateway")
	f.BoolVar(&flags.insecure, "insecure", false, "plain TCP without client certificate, for mock gateways")
	f.DurationVar(&flags.settle, "settle", 2*time.Second, "how long to wait for gateway error reports before exiting")
	cmd.MarkFlagsMutuallyExclusive("token", "batch")
	cmd.MarkFlagsOneRequired("token", "batch")

	return cmd
}

func (f sendFlags) notifications(now time.Time) ([]apns.Notification, error) {
	if f.batch != "" {
		file, err := os.Open(f.batch)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return parseBatch(file, now)
	}

	n, err := batchEntry{Token: f.token, Payload: f.payload, Alert: f.alert, Expiry: f.expiry}.notification(now)
	if err != nil {
		return nil, err
	}
	return []apns.Notification{n}, nil
}

// runSend pushes every notification, then waits for the gateway to report
// refusals and for resends to finish before stopping. Log lines written
// with the run's context carry a batch_id.
func runSend(ctx context.Context, log *slog.Logger, cfg apns.Config, notifications []apns.Notification, settle time.Duration) error {
	ctx = context.WithValue(ctx, batchIDKey{}, uuid.NewString())

	reg := prometheus.NewRegistry()
	metrics, err := apns.NewMetricsDelegate(reg, serviceName)
	if err != nil {
		return err
	}

	svc, conn, err := apns.NewServiceFromConfig(cfg, log, apns.MultiDelegate{apns.NewLoggingDelegate(log), metrics})
	if err != nil {
		return err
	}
	if err := svc.Start(); err != nil {
		return err
	}

	var pushErrs []error
	for _, n := range notifications {
		if err := svc.Push(ctx, n); err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			pushErrs = append(pushErrs, fmt.Errorf("notification %d: %w", n.ID, err))
		}
	}

	if len(pushErrs) > 0 {
		log.LogAttrs(ctx, slog.LevelError, "Some notifications were not sent",
			slog.Int("failed", len(pushErrs)),
			logger.Errors(pushErrs...),
		)
	}

	settleDown(ctx, conn, settle)

	if err := svc.Stop(); err != nil {
		pushErrs = append(pushErrs, err)
	}
	logSummary(ctx, log, reg)
	return errors.Join(pushErrs...)
}

// settleDown waits out the settle period, and then for pending resends,
// unless ctx ends first.
func settleDown(ctx context.Context, conn *apns.Connection, settle time.Duration) {
	timer := time.NewTimer(settle)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for conn.Pending() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// logSummary logs the final value of every collected series.
func logSummary(ctx context.Context, log *slog.Logger, reg prometheus.Gatherer) {
	families, err := reg.Gather()
	if err != nil {
		log.LogAttrs(ctx, slog.LevelWarn, "Failed to gather metrics", logger.Error(err))
		return
	}

	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			attrs := []slog.Attr{slog.String("metric", mf.GetName())}
			for _, lp := range m.GetLabel() {
				attrs = append(attrs, slog.String(lp.GetName(), lp.GetValue()))
			}
			switch {
			case m.GetCounter() != nil:
				attrs = append(attrs, slog.Float64("value", m.GetCounter().GetValue()))
			case m.GetGauge() != nil:
				attrs = append(attrs, slog.Float64("value", m.GetGauge().GetValue()))
			}
			log.LogAttrs(ctx, slog.LevelInfo, "Summary", attrs...)
		}
	}
}
