package apns

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Config describes a gateway client. Field tags follow
// github.com/caarlos0/env so it can be loaded with config.Load.
type Config struct {
	GatewayAddr       string        `env:"APNS_GATEWAY_ADDR"`
	Sandbox           bool          `env:"APNS_SANDBOX" envDefault:"false"`
	CertFile          string        `env:"APNS_CERT_FILE"`
	KeyFile           string        `env:"APNS_KEY_FILE"`
	P12File           string        `env:"APNS_P12_FILE"`
	P12Password       string        `env:"APNS_P12_PASSWORD"`
	CacheLength       int           `env:"APNS_CACHE_LENGTH" envDefault:"100"`
	DialTimeout       time.Duration `env:"APNS_DIAL_TIMEOUT" envDefault:"30s"`
	WriteTimeout      time.Duration `env:"APNS_WRITE_TIMEOUT" envDefault:"10s"`
	ReconnectAttempts int           `env:"APNS_RECONNECT_ATTEMPTS" envDefault:"3"`
	ReconnectBackoff  time.Duration `env:"APNS_RECONNECT_BACKOFF" envDefault:"1s"`
	Insecure          bool          `env:"APNS_INSECURE" envDefault:"false"` // Plain TCP, for mock gateways only
}

// Addr returns the configured gateway address, falling back to the
// production or sandbox gateway.
func (c Config) Addr() string {
	if c.GatewayAddr != "" {
		return c.GatewayAddr
	}
	if c.Sandbox {
		return SandboxGateway
	}
	return ProductionGateway
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var errs []error
	if _, _, err := net.SplitHostPort(c.Addr()); err != nil {
		errs = append(errs, fmt.Errorf("gateway address: %w", err))
	}
	if !c.Insecure {
		hasPEM := c.CertFile != "" && c.KeyFile != ""
		if !hasPEM && c.P12File == "" {
			errs = append(errs, errors.New("either APNS_CERT_FILE and APNS_KEY_FILE or APNS_P12_FILE is required"))
		}
	}
	if c.CacheLength <= 0 {
		errs = append(errs, fmt.Errorf("cache length must be positive, got %d", c.CacheLength))
	}
	if c.ReconnectAttempts <= 0 {
		errs = append(errs, fmt.Errorf("reconnect attempts must be positive, got %d", c.ReconnectAttempts))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
	}
	return nil
}

// TLSConfig loads the client certificate and returns the TLS configuration
// for the gateway.
func (c Config) TLSConfig() (*tls.Config, error) {
	var (
		cert tls.Certificate
		err  error
	)
	if c.P12File != "" {
		cert, err = LoadP12Certificate(c.P12File, c.P12Password)
	} else {
		cert, err = LoadPEMCertificate(c.CertFile, c.KeyFile)
	}
	if err != nil {
		return nil, err
	}

	host, _, err := net.SplitHostPort(c.Addr())
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ServerName:   host,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// NewServiceFromConfig builds the whole client stack described by cfg: a TLS
// transport, a connection with its retry cache, and the service guard.
func NewServiceFromConfig(cfg Config, log *slog.Logger, delegate Delegate) (*Service, *Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	opts := []TransportOption{
		WithDialTimeout(cfg.DialTimeout),
		WithWriteTimeout(cfg.WriteTimeout),
		WithReconnect(cfg.ReconnectAttempts, ExponentialBackoff{
			InitialInterval: cfg.ReconnectBackoff,
			MaxInterval:     30 * time.Second,
			Multiplier:      2,
			JitterFactor:    0.1,
		}),
		WithTransportLogger(log),
	}

	var tlsConfig *tls.Config
	if cfg.Insecure {
		addr := cfg.Addr()
		opts = append(opts, WithDialer(func(ctx context.Context) (net.Conn, error) {
			d := &net.Dialer{Timeout: cfg.DialTimeout}
			return d.DialContext(ctx, "tcp", addr)
		}))
	} else {
		var err error
		if tlsConfig, err = cfg.TLSConfig(); err != nil {
			return nil, nil, err
		}
	}

	transport := NewTLSTransport(cfg.Addr(), tlsConfig, opts...)
	conn := NewConnection(transport,
		WithCacheLength(cfg.CacheLength),
		WithDelegate(delegate),
		WithConnectionLogger(log),
	)
	return NewService(conn, WithServiceLogger(log)), conn, nil
}
