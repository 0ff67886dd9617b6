package apns

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsDelegate records connection events as Prometheus metrics.
type MetricsDelegate struct {
	sent          *prometheus.CounterVec
	failed        *prometheus.CounterVec
	resent        prometheus.Counter
	closed        *prometheus.CounterVec
	cacheCapacity prometheus.Gauge
}

// NewMetricsDelegate creates the metrics and registers them with reg.
// A nil reg registers with prometheus.DefaultRegisterer.
func NewMetricsDelegate(reg prometheus.Registerer, namespace string) (*MetricsDelegate, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &MetricsDelegate{
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apns_notifications_sent_total",
			Help:      "Notifications written to the gateway.",
		}, []string{"resent"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apns_notifications_failed_total",
			Help:      "Notifications that could not be delivered, by reason.",
		}, []string{"reason"}),
		resent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apns_notifications_queued_for_resend_total",
			Help:      "Notifications queued for resending after a gateway error.",
		}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apns_connections_closed_total",
			Help:      "Connections closed by the gateway with an error frame, by code.",
		}, []string{"code"}),
		cacheCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "apns_retry_cache_capacity",
			Help:      "Current retry cache capacity.",
		}),
	}

	for _, c := range []prometheus.Collector{m.sent, m.failed, m.resent, m.closed, m.cacheCapacity} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *MetricsDelegate) MessageSent(_ Notification, resent bool) {
	label := "false"
	if resent {
		label = "true"
	}
	m.sent.WithLabelValues(label).Inc()
}

func (m *MetricsDelegate) MessageSendFailed(_ *Notification, err error) {
	m.failed.WithLabelValues(failureReason(err)).Inc()
}

func (m *MetricsDelegate) ConnectionClosed(code ErrorCode, _ uint32) {
	m.closed.WithLabelValues(code.String()).Inc()
}

func (m *MetricsDelegate) CacheLengthExceeded(newCapacity int) {
	m.cacheCapacity.Set(float64(newCapacity))
}

func (m *MetricsDelegate) NotificationsResent(ns []Notification) {
	m.resent.Add(float64(len(ns)))
}

func failureReason(err error) string {
	var de *DeliveryError
	switch {
	case errors.Is(err, ErrUnknownNotification):
		return "unknown_notification"
	case errors.As(err, &de):
		return de.Code.String()
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrMalformedFrame):
		return "malformed"
	default:
		return "other"
	}
}
