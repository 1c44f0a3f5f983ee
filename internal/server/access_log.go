package server

import (
	"net/http"
	"time"

	"grimm.is/knockgate/internal/logging"
)

// accessLogWriter wraps http.ResponseWriter to capture the status code
type accessLogWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (rw *accessLogWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *accessLogWriter) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

// AccessLogger logs every request at debug level. Paths are logged
// masked so passcodes stay out of the log.
func AccessLogger(l *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &accessLogWriter{ResponseWriter: w}
		next.ServeHTTP(rw, r)

		l.WithAddress(remoteIP(r.RemoteAddr)).Debug("request",
			"method", r.Method,
			"path", maskPath(r.URL.Path),
			"status", rw.status,
			"size", rw.size,
			"duration", time.Since(start).Round(time.Microsecond),
		)
	})
}
