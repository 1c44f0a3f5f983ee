// Package device pushes access decisions to the firewall's address
// lists. RouterOS devices are driven over their binary API; anything else
// gets a rendered command template, run over SSH or in a local shell.
package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"grimm.is/knockgate/internal/config"
	"grimm.is/knockgate/internal/logging"
	"grimm.is/knockgate/internal/routeros"
)

// ErrPushRejected means the device answered but refused the command.
var ErrPushRejected = errors.New("device rejected command")

// ProbeMessage is written to the device log by Probe.
const ProbeMessage = "knock-knock"

// Entry is one address-list addition.
type Entry struct {
	Address string
	List    string
	Comment string
	// Timeout uses RouterOS notation. Empty means no timeout.
	Timeout string
}

// Result is the device's answer to a successful command.
type Result struct {
	Message string
}

// Gateway is the outbound side of a decision.
type Gateway interface {
	// PushAddress adds an address to a list. A refused command returns
	// an error wrapping ErrPushRejected; transport failures are returned
	// as they are.
	PushAddress(ctx context.Context, e Entry) (Result, error)
	// Probe checks connectivity and credentials.
	Probe(ctx context.Context) error
	Close() error
}

// Option configures a gateway built by New.
type Option func(*options)

type options struct {
	logger *logging.Logger
	trace  bool
	runner Runner
}

// WithLogger sets the gateway logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTrace logs every API word at debug level.
func WithTrace(on bool) Option {
	return func(o *options) { o.trace = on }
}

// WithRunner overrides the runner chosen for command-template devices.
func WithRunner(r Runner) Option {
	return func(o *options) { o.runner = r }
}

// New selects a gateway implementation from the device type.
func New(cfg *config.Device, opts ...Option) (Gateway, error) {
	o := options{logger: logging.WithComponent("device")}
	for _, opt := range opts {
		opt(&o)
	}
	timeout := cfg.TimeoutDuration()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	if cfg.IsRouterOS() {
		dial := routeros.DialOptions{
			Host:          cfg.Host,
			Port:          cfg.Port,
			Username:      cfg.Username,
			Password:      cfg.Password,
			Secure:        cfg.IsSecure(),
			TLSSkipVerify: cfg.SkipVerify(),
			Timeout:       timeout,
		}
		if o.trace {
			l := o.logger
			dial.Trace = func(direction, word string) {
				l.Debug(direction + " " + word)
			}
		}
		return NewRouterOSGateway(dial, o.logger), nil
	}

	runner := o.runner
	if runner == nil {
		if cfg.IsLocal() {
			runner = NewExecRunner("")
		} else {
			hostKey, err := HostKeyCallback(cfg.SSHKnownHosts)
			if err != nil {
				return nil, fmt.Errorf("device.ssh_known_hosts: %w", err)
			}
			runner = NewSSHRunner(SSHOptions{
				Host:            cfg.Host,
				Port:            cfg.SSHPort,
				Username:        cfg.Username,
				Password:        cfg.Password,
				Timeout:         timeout,
				HostKeyCallback: hostKey,
			})
		}
	}
	if cfg.Cmd == "" {
		return nil, fmt.Errorf("device type %q needs a cmd template", cfg.DeviceType)
	}
	return NewCommandGateway(cfg.Cmd, runner, timeout, o.logger), nil
}

// withDefaultTimeout bounds ctx when the caller set no deadline.
func withDefaultTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
