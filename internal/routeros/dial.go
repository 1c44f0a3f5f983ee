package routeros

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Default API ports.
const (
	DefaultPort    = 8728
	DefaultTLSPort = 8729
)

// DialOptions describes how to reach and authenticate with a device.
type DialOptions struct {
	Host     string
	Port     int // 0 selects DefaultPort or DefaultTLSPort
	Username string
	Password string

	Secure        bool
	TLSSkipVerify bool
	TLSConfig     *tls.Config // Optional: overrides Secure/TLSSkipVerify defaults

	Timeout time.Duration
	Trace   TraceFunc
}

// Address returns host:port with the port defaulted from Secure.
func (o DialOptions) Address() string {
	port := o.Port
	if port == 0 {
		port = DefaultPort
		if o.Secure {
			port = DefaultTLSPort
		}
	}
	return net.JoinHostPort(o.Host, strconv.Itoa(port))
}

// Dial connects to the device and returns an unauthenticated session.
func Dial(ctx context.Context, opts DialOptions) (*Session, error) {
	dialer := &net.Dialer{Timeout: opts.Timeout, KeepAlive: 30 * time.Second}
	addr := opts.Address()

	var conn net.Conn
	var err error
	if opts.Secure {
		cfg := opts.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{
				ServerName:         opts.Host,
				InsecureSkipVerify: opts.TLSSkipVerify, //nolint:gosec // devices commonly use self-signed API certificates
				MinVersion:         tls.VersionTLS12,
			}
		}
		td := &tls.Dialer{NetDialer: dialer, Config: cfg}
		conn, err = td.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	sessOpts := []SessionOption{WithTimeout(opts.Timeout)}
	if opts.Trace != nil {
		sessOpts = append(sessOpts, WithTrace(opts.Trace))
	}
	return NewSession(conn, sessOpts...), nil
}

// Connect dials and logs in. The session is closed if login fails.
func Connect(ctx context.Context, opts DialOptions) (*Session, error) {
	s, err := Dial(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := s.Login(ctx, opts.Username, opts.Password); err != nil {
		s.Close()
		return nil, fmt.Errorf("login as %s: %w", opts.Username, err)
	}
	return s, nil
}
