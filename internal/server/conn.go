package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// trackedConn remembers what happened on a connection so that traffic
// which never became a request can still be judged when it closes.
type trackedConn struct {
	net.Conn

	read     atomic.Int64
	requests atomic.Int32

	mu      sync.Mutex
	readErr error
}

func (c *trackedConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	c.read.Add(int64(n))
	if err != nil {
		c.mu.Lock()
		if c.readErr == nil {
			c.readErr = err
		}
		c.mu.Unlock()
	}
	return n, err
}

// wasReset reports whether the peer reset the connection.
func (c *trackedConn) wasReset() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return errors.Is(c.readErr, unix.ECONNRESET)
}

// trackingListener wraps every accepted connection in a trackedConn.
type trackingListener struct {
	net.Listener
}

func (l trackingListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return &trackedConn{Conn: c}, nil
}

type connKey struct{}

func withConn(ctx context.Context, c net.Conn) context.Context {
	if tc, ok := c.(*trackedConn); ok {
		return context.WithValue(ctx, connKey{}, tc)
	}
	return ctx
}

func connFrom(ctx context.Context) *trackedConn {
	tc, _ := ctx.Value(connKey{}).(*trackedConn)
	return tc
}

// remoteIP returns the host part of a remote address.
func remoteIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
