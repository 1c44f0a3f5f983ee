package device

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHOptions describes an SSH login on the device.
type SSHOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
	// HostKeyCallback defaults to accepting any key; see HostKeyCallback.
	HostKeyCallback ssh.HostKeyCallback
}

// HostKeyCallback verifies host keys against an OpenSSH known_hosts
// file. An empty path accepts any key, which is what most network
// devices without distributed host keys need.
func HostKeyCallback(knownHostsFile string) (ssh.HostKeyCallback, error) {
	if knownHostsFile == "" {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // opt-in verification via device.ssh_known_hosts
	}
	cb, err := knownhosts.New(knownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("known hosts %s: %w", knownHostsFile, err)
	}
	return cb, nil
}

// SSHRunner runs each command in a fresh SSH connection.
type SSHRunner struct {
	addr   string
	config *ssh.ClientConfig
}

// NewSSHRunner creates a runner authenticating with a password, falling
// back to keyboard-interactive with the same password.
func NewSSHRunner(opts SSHOptions) *SSHRunner {
	port := opts.Port
	if port == 0 {
		port = 22
	}
	hostKey := opts.HostKeyCallback
	if hostKey == nil {
		hostKey, _ = HostKeyCallback("")
	}
	password := opts.Password
	return &SSHRunner{
		addr: net.JoinHostPort(opts.Host, strconv.Itoa(port)),
		config: &ssh.ClientConfig{
			User: opts.Username,
			Auth: []ssh.AuthMethod{
				ssh.Password(password),
				ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
					answers := make([]string, len(questions))
					for i := range answers {
						answers[i] = password
					}
					return answers, nil
				}),
			},
			HostKeyCallback: hostKey,
			Timeout:         opts.Timeout,
		},
	}
}

// Addr returns host:port.
func (r *SSHRunner) Addr() string {
	return r.addr
}

// Run executes command and returns its combined output.
func (r *SSHRunner) Run(ctx context.Context, command string) (string, error) {
	client, stop, err := r.dial(ctx)
	if err != nil {
		return "", err
	}
	defer stop()

	sess, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("ssh session: %w", err)
	}
	defer sess.Close()

	out, err := sess.CombinedOutput(command)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return string(out), ctxErr
	}
	if err != nil {
		return string(out), fmt.Errorf("ssh run: %w", err)
	}
	return string(out), nil
}

// Check dials and authenticates without running anything.
func (r *SSHRunner) Check(ctx context.Context) error {
	_, stop, err := r.dial(ctx)
	if err != nil {
		return err
	}
	stop()
	return nil
}

// dial connects and logs in. The returned stop func closes the client;
// cancelling ctx closes it early.
func (r *SSHRunner) dial(ctx context.Context) (*ssh.Client, func(), error) {
	d := net.Dialer{Timeout: r.config.Timeout}
	conn, err := d.DialContext(ctx, "tcp", r.addr)
	if err != nil {
		return nil, nil, fmt.Errorf("ssh dial %s: %w", r.addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, r.addr, r.config)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("ssh login %s@%s: %w", r.config.User, r.addr, err)
	}
	client := ssh.NewClient(c, chans, reqs)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			client.Close()
		case <-done:
		}
	}()
	return client, func() {
		close(done)
		client.Close()
	}, nil
}
