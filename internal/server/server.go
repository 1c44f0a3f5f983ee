// Package server is the HTTP front-end: the knock listener that turns
// requests into engine decisions, and the admin listener that serves
// metrics, health and recent logs.
//
// Every client sees the same page whatever went wrong. Traffic that never
// reaches a handler is judged when its connection closes: a reset counts
// as a port scan and bytes that did not parse as a request as a
// malformed request.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"grimm.is/knockgate/internal/audit"
	"grimm.is/knockgate/internal/clock"
	"grimm.is/knockgate/internal/engine"
	"grimm.is/knockgate/internal/health"
	"grimm.is/knockgate/internal/i18n"
	"grimm.is/knockgate/internal/logging"
	"grimm.is/knockgate/internal/metrics"
	"grimm.is/knockgate/internal/ratelimit"
)

// Request outcomes used as metric labels.
const (
	OutcomePage    = "page"
	OutcomeRaw     = "raw"
	OutcomeFavicon = "favicon"
	OutcomeMethod  = "wrong_method"
	OutcomeLimited = "rate_limited"
	OutcomePanic   = "panic"
)

const faviconBody = `<link rel="icon" href="data:,">`

// Config holds the listener settings. They are read once at startup.
type Config struct {
	Listen         string
	AdminListen    string
	MaxConnections int
	RateLimit      int
	RateWindow     time.Duration
	// AccessLog logs every request at debug level.
	AccessLog bool
}

// ServerConfig holds HTTP server timeouts and limits.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration
}

// DefaultServerConfig returns the timeouts used by both listeners. The
// write timeout covers a device push.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 14,
		ShutdownTimeout:   5 * time.Second,
	}
}

// Server serves knocks for one engine.
type Server struct {
	cfg     Config
	engine  *engine.Engine
	limiter *ratelimit.Limiter
	metrics *metrics.Registry
	logger  *logging.Logger
	clk     clock.Clock
	pages   *pages
	logs    *logging.RingBuffer
	health  *health.Checker
	http    *ServerConfig
}

// Option configures a Server.
type Option func(*Server)

// WithClock sets the time source.
func WithClock(clk clock.Clock) Option {
	return func(s *Server) { s.clk = clk }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics sets the metrics registry.
func WithMetrics(r *metrics.Registry) Option {
	return func(s *Server) { s.metrics = r }
}

// WithLogBuffer sets the buffer served on /logs.
func WithLogBuffer(rb *logging.RingBuffer) Option {
	return func(s *Server) { s.logs = rb }
}

// WithHealth serves the checker's report on /readyz.
func WithHealth(c *health.Checker) Option {
	return func(s *Server) { s.health = c }
}

// New creates a server in front of eng.
func New(cfg Config, eng *engine.Engine, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		engine: eng,
		clk:    clock.Real,
		logger: logging.WithComponent("http"),
		http:   DefaultServerConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.Get()
	}
	if s.logs == nil {
		s.logs = logging.GetAppLogBuffer()
	}
	s.limiter = ratelimit.NewLimiter(cfg.RateLimit, cfg.RateWindow, s.clk)
	s.pages = newPages(s.logger)
	return s
}

// Handler returns the knock handler.
func (s *Server) Handler() http.Handler {
	h := http.Handler(http.HandlerFunc(s.handleKnock))
	if s.cfg.AccessLog {
		h = AccessLogger(s.logger, h)
	}
	return h
}

// Run listens on the knock and admin addresses until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("knock listener: %w", err)
	}
	var admin net.Listener
	if s.cfg.AdminListen != "" {
		admin, err = net.Listen("tcp", s.cfg.AdminListen)
		if err != nil {
			ln.Close()
			return fmt.Errorf("admin listener: %w", err)
		}
	}
	return s.Serve(ctx, ln, admin)
}

// Serve serves on the given listeners until ctx is done. admin may be
// nil.
func (s *Server) Serve(ctx context.Context, ln, admin net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	knock := s.newHTTPServer(s.Handler())
	knock.ConnContext = withConn
	knock.ConnState = s.connState
	s.logger.Info("knock listener started", "addr", ln.Addr().String())
	g.Go(func() error { return serve(ctx, knock, trackingListener{ln}, s.http.ShutdownTimeout) })

	if admin != nil {
		srv := s.newHTTPServer(s.AdminHandler())
		s.logger.Info("admin listener started", "addr", admin.Addr().String())
		g.Go(func() error { return serve(ctx, srv, admin, s.http.ShutdownTimeout) })
	}

	if s.limiter.Enabled() {
		g.Go(func() error {
			s.limiter.Run(ctx, s.cfg.RateWindow)
			return nil
		})
	}
	return g.Wait()
}

func (s *Server) newHTTPServer(h http.Handler) *http.Server {
	return &http.Server{
		Handler:           h,
		ReadHeaderTimeout: s.http.ReadHeaderTimeout,
		ReadTimeout:       s.http.ReadTimeout,
		WriteTimeout:      s.http.WriteTimeout,
		IdleTimeout:       s.http.IdleTimeout,
		MaxHeaderBytes:    s.http.MaxHeaderBytes,
		ErrorLog:          s.logger.StdLogger(logging.LevelDebug),
	}
}

func serve(ctx context.Context, srv *http.Server, ln net.Listener, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
		}
		<-errCh
		return nil
	}
}

// connState keeps the connection gauge and judges connections that
// closed without a request.
func (s *Server) connState(c net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.metrics.ActiveConnections.Inc()
	case http.StateClosed, http.StateHijacked:
		s.metrics.ActiveConnections.Dec()
		if tc, ok := c.(*trackedConn); ok {
			s.judgeClosed(tc)
		}
	}
}

func (s *Server) judgeClosed(tc *trackedConn) {
	if tc.requests.Load() > 0 {
		return
	}
	addr := remoteIP(tc.RemoteAddr().String())
	ctx := engine.WithRequestID(context.Background(), audit.NewRequestID())

	switch {
	case tc.wasReset():
		s.logger.WithAddress(addr).Debug("connection reset")
		s.engine.Process(ctx, addr, engine.Bad, engine.ReasonPortScan)
	case tc.read.Load() > 0:
		s.logger.WithAddress(addr).Debug("connection closed without a valid request", "bytes", tc.read.Load())
		s.engine.Process(ctx, addr, engine.Danger, engine.ReasonMalformed)
	}
}

func (s *Server) handleKnock(w http.ResponseWriter, r *http.Request) {
	start := s.clk.Now()
	outcome := OutcomePage
	defer func() {
		s.metrics.RecordRequest(outcome, s.clk.Since(start))
	}()

	if tc := connFrom(r.Context()); tc != nil {
		tc.requests.Add(1)
	}

	id := audit.NewRequestID()
	ctx := engine.WithRequestID(r.Context(), id)
	addr := remoteIP(r.RemoteAddr)
	log := s.logger.WithAddress(addr)
	w.Header().Set("X-Request-ID", id)

	defer func() {
		if rec := recover(); rec != nil {
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			outcome = OutcomePanic
			log.Error("handler panic", "path", r.URL.Path, "panic", fmt.Sprint(rec), "request_id", id)
			s.engine.Process(ctx, addr, engine.Danger, engine.ReasonHandlerPanic)
			s.writeBan(w, addr, http.StatusOK)
		}
	}()

	st := s.engine.State()
	if !st.General().IsSafeHost(addr) {
		switch s.limiter.Check(addr) {
		case ratelimit.Exceeded:
			outcome = OutcomeLimited
			s.metrics.RateLimited.Inc()
			log.Info("rate limit exceeded")
			s.engine.Process(ctx, addr, engine.Bad, engine.ReasonRequestFlood)
			s.writeBan(w, addr, http.StatusTooManyRequests)
			return
		case ratelimit.Throttled:
			outcome = OutcomeLimited
			s.metrics.RateLimited.Inc()
			s.writeBan(w, addr, http.StatusTooManyRequests)
			return
		}
	}

	if strings.Contains(r.URL.Path, "favicon.") {
		outcome = OutcomeFavicon
		log.Debug("favicon request", "path", r.URL.Path)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(faviconBody))
		return
	}

	if r.Method != http.MethodGet {
		outcome = OutcomeMethod
		s.engine.Process(ctx, addr, engine.Danger, engine.ReasonWrongMethod)
		s.writeBan(w, addr, http.StatusOK)
		return
	}

	msg, err := s.engine.Decide(ctx, r.URL.Path, addr)
	if err != nil {
		log.Error("decision error", "path", r.URL.Path, "error", err, "request_id", id)
	}

	if r.URL.Path == engine.StatusPath || r.URL.Path == engine.ReloadPath {
		if st := s.engine.State(); st.General().IsSafeHost(addr) {
			outcome = OutcomeRaw
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Write([]byte(msg))
			return
		}
	}
	s.writePage(w, msg, addr, http.StatusOK)
}

func (s *Server) writeBan(w http.ResponseWriter, addr string, code int) {
	st := s.engine.State()
	s.writePage(w, st.Printer.Sprintf(i18n.Ban), addr, code)
}

func (s *Server) writePage(w http.ResponseWriter, msg, addr string, code int) {
	st := s.engine.State()
	body, err := s.pages.render(st.General().PageTemplate, st.Printer, msg, addr, s.clk.Now())
	if err != nil {
		s.logger.WithAddress(addr).Error("page render failed", "error", err)
		body, _ = s.pages.render("", st.Printer, msg, addr, s.clk.Now())
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	w.Write(body)
}
