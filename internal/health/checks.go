package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"
)

// DirWritable passes if a file can be created in dir. Failure is only
// degraded: the gateway keeps deciding without persistence.
func DirWritable(dir string) CheckFunc {
	return func(context.Context) Check {
		f, err := os.CreateTemp(dir, ".health-*")
		if err != nil {
			return Check{Status: StatusDegraded, Message: fmt.Sprintf("not writable: %v", err)}
		}
		f.Close()
		os.Remove(f.Name())
		return Check{Status: StatusHealthy, Message: filepath.Clean(dir) + " writable"}
	}
}

// Reachable passes if a TCP connection to addr opens within timeout. It
// does not log in, so a device refusing the credentials still passes.
func Reachable(addr string, timeout time.Duration) CheckFunc {
	return func(ctx context.Context) Check {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return Check{Status: StatusUnhealthy, Message: fmt.Sprintf("%s unreachable: %v", addr, err)}
		}
		conn.Close()
		return Check{Status: StatusHealthy, Message: addr + " reachable"}
	}
}
