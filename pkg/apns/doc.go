// Package apns is a client for the legacy binary push notification gateway.
//
// The gateway protocol is fire-and-forget: the client writes notification
// frames back to back and the gateway only answers when something is wrong,
// with a single error frame naming the first notification it refused,
// before closing the connection. Everything written after that notification
// is silently dropped.
//
// The package is layered:
//
//   - frame.go encodes notification frames and decodes error frames.
//   - Transport and Channel abstract the network; TLSTransport is the real
//     implementation, apnstest.MockTransport the in-memory one.
//   - Connection keeps every written notification in a bounded retry cache
//     (see pkg/cache) and, when the gateway reports a failure, resends the
//     notifications that followed the failing one on a new channel.
//   - Service guards a Connection against use after Stop.
//   - Delegate receives every connection event. LoggingDelegate,
//     MetricsDelegate and MultiDelegate cover the usual needs.
//
// # Usage
//
//	cfg, err := config.Load[apns.Config]()
//	if err != nil {
//		return err
//	}
//	svc, _, err := apns.NewServiceFromConfig(cfg, log, apns.NewLoggingDelegate(log))
//	if err != nil {
//		return err
//	}
//	defer svc.Stop()
//
//	token, _ := apns.DecodeToken("740f4707bebcf74f9b7c25d48e3358945f6aa01da5ddb387462c7eaf61bb78ad")
//	n := apns.NewNotification(token, []byte(`{"aps":{"alert":"Hello"}}`), time.Now().Add(time.Hour))
//	if err := svc.Push(ctx, n); err != nil {
//		return err
//	}
//
// # Error handling
//
// Push only reports failures it can see synchronously: transport errors
// (ErrTransport), frames that cannot be encoded (ErrMalformedFrame) and
// pushes after Stop (ErrServiceStopped). Refusals by the gateway arrive
// later and are reported to the Delegate as *DeliveryError, or as a single
// *UnknownNotificationError when the refused notification already left the
// retry cache. In that case the cache grows so the next refusal can be
// correlated.
package apns
