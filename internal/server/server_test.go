package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/knockgate/internal/clock"
	"grimm.is/knockgate/internal/config"
	"grimm.is/knockgate/internal/credentials"
	"grimm.is/knockgate/internal/device"
	"grimm.is/knockgate/internal/engine"
	"grimm.is/knockgate/internal/health"
	"grimm.is/knockgate/internal/logging"
	"grimm.is/knockgate/internal/metrics"
	"grimm.is/knockgate/internal/reputation"
)

const (
	safeHost = "192.0.2.250"
	client   = "203.0.113.5"
)

type fakeGateway struct {
	pushes    atomic.Int32
	panicOnce atomic.Bool
}

func (g *fakeGateway) PushAddress(context.Context, device.Entry) (device.Result, error) {
	g.pushes.Add(1)
	if g.panicOnce.CompareAndSwap(true, false) {
		panic("gateway exploded")
	}
	return device.Result{Message: "*1"}, nil
}
func (g *fakeGateway) Probe(context.Context) error { return nil }
func (g *fakeGateway) Close() error                { return nil }

type fixture struct {
	srv     *Server
	engine  *engine.Engine
	gw      *fakeGateway
	metrics *metrics.Registry
	logs    *logging.RingBuffer
}

func newFixture(t *testing.T, cfgMutate func(*config.Config), srvCfg Config) *fixture {
	t.Helper()
	cfg := &config.Config{
		General: &config.General{SafeHosts: []string{safeHost}, BlackThreshold: 10},
		Device:  &config.Device{Host: "192.0.2.1"},
		Users:   []config.User{{Name: "John", Passcode: "s3cret"}},
	}
	cfg.ApplyDefaults()
	if cfgMutate != nil {
		cfgMutate(cfg)
	}
	users, err := credentials.New(cfg.Users)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	f := &fixture{gw: &fakeGateway{}, metrics: metrics.NewRegistry(reg, reg), logs: logging.NewRingBuffer(50)}
	clk := clock.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local))
	f.engine = engine.New(engine.NewState(cfg, users, nil, f.gw),
		engine.WithClock(clk), engine.WithMetrics(f.metrics))
	f.srv = New(srvCfg, f.engine, WithClock(clk), WithMetrics(f.metrics), WithLogBuffer(f.logs))
	return f
}

func (f *fixture) do(method, path, addr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = net.JoinHostPort(addr, "40000")
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) record(t *testing.T, addr string) reputation.AddressRecord {
	t.Helper()
	rec, ok := f.engine.Lookup(addr)
	require.True(t, ok, "no record for %s", addr)
	return rec
}

func TestKnock_AccessGranted(t *testing.T) {
	f := newFixture(t, nil, Config{})

	rec := f.do(http.MethodGet, "/access_s3cret", client)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	body := rec.Body.String()
	assert.Contains(t, body, "You are logged in as «John»<br>Access granted")
	assert.Contains(t, body, "Your IP: "+client)
	assert.Contains(t, body, "Time: 2026.03.01 12:00:00")
	assert.Contains(t, body, "<title>Knock-knock</title>")

	assert.Equal(t, reputation.StatusTrusted, f.record(t, client).Status)
	assert.Equal(t, int32(1), f.gw.pushes.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Requests.WithLabelValues(OutcomePage)))
}

func TestKnock_BanPage(t *testing.T) {
	f := newFixture(t, nil, Config{})

	rec := f.do(http.MethodGet, "/", client)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<p>Ban</p>")
	assert.Equal(t, reputation.StatusBlocked, f.record(t, client).Status)
}

func TestKnock_RussianPage(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.General.Language = "ru" }, Config{})

	rec := f.do(http.MethodGet, "/", client)
	assert.NotContains(t, rec.Body.String(), "<p>Ban</p>")
	assert.NotContains(t, rec.Body.String(), "Your IP")
}

func TestKnock_Favicon(t *testing.T) {
	f := newFixture(t, nil, Config{})

	rec := f.do(http.MethodGet, "/favicon.ico", client)
	assert.Equal(t, faviconBody, rec.Body.String())
	_, ok := f.engine.Lookup(client)
	assert.False(t, ok)
}

func TestKnock_WrongMethod(t *testing.T) {
	for _, method := range []string{http.MethodPost, http.MethodHead, http.MethodPut, "PROPFIND"} {
		t.Run(method, func(t *testing.T) {
			f := newFixture(t, nil, Config{})

			rec := f.do(method, "/access_s3cret", client)
			assert.Equal(t, http.StatusOK, rec.Code)
			r := f.record(t, client)
			assert.Equal(t, reputation.StatusBlocked, r.Status)
			assert.Equal(t, engine.ReasonWrongMethod, r.Reason)
		})
	}
}

func TestKnock_StatusAndReloadAreRawForSafeHosts(t *testing.T) {
	f := newFixture(t, nil, Config{})

	rec := f.do(http.MethodGet, "/status", safeHost)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, engine.StatusNobody, rec.Body.String())

	rec = f.do(http.MethodGet, "/reload", safeHost)
	assert.Equal(t, "reload failed: reload is not available", rec.Body.String())

	rec = f.do(http.MethodGet, "/status", client)
	assert.Contains(t, rec.Body.String(), "<p>Ban</p>")
	assert.Equal(t, engine.ReasonStatusUnsafe, f.record(t, client).Reason)
}

func TestKnock_RateLimit(t *testing.T) {
	f := newFixture(t, nil, Config{RateLimit: 2, RateWindow: time.Minute})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/favicon.ico", client).Code)
	}

	rec := f.do(http.MethodGet, "/favicon.ico", client)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "Ban")
	r := f.record(t, client)
	assert.Equal(t, 1, r.Strikes)
	assert.Equal(t, "request flood (1/10)", r.Reason)

	// Later requests in the same window do not add strikes.
	rec = f.do(http.MethodGet, "/favicon.ico", client)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 1, f.record(t, client).Strikes)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.RateLimited))

	// Safe hosts are not limited.
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/status", safeHost).Code)
	}
}

func TestKnock_CustomTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	require.NoError(t, os.WriteFile(path, []byte(`<b>{{.Message}}</b>|{{.Address}}|{{.Title}}`), 0o600))
	f := newFixture(t, func(c *config.Config) { c.General.PageTemplate = path }, Config{})

	rec := f.do(http.MethodGet, "/", client)
	assert.Equal(t, "<b>Ban</b>|"+client+"|Knock-knock", rec.Body.String())
}

func TestKnock_BrokenTemplateFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	require.NoError(t, os.WriteFile(path, []byte(`{{.Message`), 0o600))
	f := newFixture(t, func(c *config.Config) { c.General.PageTemplate = path }, Config{})

	rec := f.do(http.MethodGet, "/", client)
	assert.Contains(t, rec.Body.String(), "<!DOCTYPE html>")
	assert.Contains(t, rec.Body.String(), "Ban")
}

func TestKnock_EscapesMessage(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Users = []config.User{{Name: "<script>", Passcode: "x"}}
	}, Config{})

	rec := f.do(http.MethodGet, "/access_x", client)
	assert.NotContains(t, rec.Body.String(), "<script>")
	assert.Contains(t, rec.Body.String(), "&lt;script&gt;")
}

func TestKnock_PanicIsBanned(t *testing.T) {
	f := newFixture(t, nil, Config{})
	f.gw.panicOnce.Store(true)

	rec := f.do(http.MethodGet, "/", client)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Ban")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Requests.WithLabelValues(OutcomePanic)))
	assert.Equal(t, reputation.StatusBlocked, f.record(t, client).Status)
}

func TestAccessLogger_MasksPasscode(t *testing.T) {
	var buf bytes.Buffer
	l := logging.New(logging.Config{Level: logging.LevelDebug, Output: &buf})
	f := newFixture(t, nil, Config{AccessLog: true})
	f.srv.logger = l

	f.do(http.MethodGet, "/access_s3cret", client)
	assert.Contains(t, buf.String(), "/access_***")
	assert.NotContains(t, buf.String(), "s3cret")
}

func TestAdmin(t *testing.T) {
	f := newFixture(t, nil, Config{})
	f.do(http.MethodGet, "/", client)
	f.logs.Add(logging.AppLogEntry{Source: "engine", Message: "add to black list"})
	f.logs.Add(logging.AppLogEntry{Source: "device", Message: "push failed"})

	admin := httptest.NewServer(f.srv.AdminHandler())
	defer admin.Close()

	get := func(path string) (*http.Response, []byte) {
		resp, err := http.Get(admin.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp, body
	}

	resp, body := get("/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Users)
	assert.Equal(t, 1, health.Addresses["blocked"])

	_, body = get("/metrics")
	assert.Contains(t, string(body), "knockgate_requests_total")
	assert.Contains(t, string(body), "knockgate_blocks_total 1")

	_, body = get("/logs?source=device")
	var entries []logging.AppLogEntry
	require.NoError(t, json.Unmarshal(body, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "push failed", entries[0].Message)

	resp, _ = get("/logs?limit=abc")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = get("/logs?level=loud")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, body = get("/logs?limit=1")
	entries = nil
	require.NoError(t, json.Unmarshal(body, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "push failed", entries[0].Message)

	_, body = get("/addresses")
	var addrs []reputation.AddressRecord
	require.NoError(t, json.Unmarshal(body, &addrs))
	require.Len(t, addrs, 1)
	assert.Equal(t, client, addrs[0].Address)

	resp, _ = get("/nothing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// No checker configured.
	resp, _ = get("/readyz")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdmin_Readiness(t *testing.T) {
	f := newFixture(t, nil, Config{})
	checker := health.NewChecker(nil, 0)
	checker.Register("device", func(context.Context) health.Check {
		return health.Check{Status: health.StatusUnhealthy, Message: "192.0.2.1:8728 unreachable"}
	})
	f.srv.health = checker

	rec := httptest.NewRecorder()
	f.srv.AdminHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report health.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, health.StatusUnhealthy, report.Status)
	assert.Contains(t, report.Checks["device"].Message, "unreachable")
}

// serveFixture runs the knock listener on loopback, which is not a safe
// host in these tests.
func serveFixture(t *testing.T) (*fixture, string) {
	t.Helper()
	f := newFixture(t, nil, Config{MaxConnections: 8})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.Serve(ctx, ln, nil) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return f, ln.Addr().String()
}

func TestServe_Request(t *testing.T) {
	f, addr := serveFixture(t)

	resp, err := http.Get(fmt.Sprintf("http://%s/access_s3cret", addr))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "Access granted")
	assert.Equal(t, reputation.StatusTrusted, f.record(t, "127.0.0.1").Status)
}

func TestServe_MalformedRequest(t *testing.T) {
	f, addr := serveFixture(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	_, err = conn.Write([]byte("\x16\x03\x01\x02\x00garbage\r\n\r\n"))
	require.NoError(t, err)
	io.Copy(io.Discard, conn)
	conn.Close()

	require.Eventually(t, func() bool {
		rec, ok := f.engine.Lookup("127.0.0.1")
		return ok && rec.Reason == engine.ReasonMalformed
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, reputation.StatusBlocked, f.record(t, "127.0.0.1").Status)
}

func TestServe_ResetIsPortScan(t *testing.T) {
	f, addr := serveFixture(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	tcp := conn.(*net.TCPConn)
	require.NoError(t, tcp.SetLinger(0))
	time.Sleep(50 * time.Millisecond)
	tcp.Close()

	require.Eventually(t, func() bool {
		rec, ok := f.engine.Lookup("127.0.0.1")
		return ok && strings.HasPrefix(rec.Reason, engine.ReasonPortScan)
	}, 3*time.Second, 10*time.Millisecond)
	r := f.record(t, "127.0.0.1")
	assert.Equal(t, reputation.StatusUntrusted, r.Status)
	assert.Equal(t, 1, r.Strikes)
}

func TestServe_EmptyConnectionIsIgnored(t *testing.T) {
	f, addr := serveFixture(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	conn.Close()

	// A real request afterwards proves the close was processed first.
	time.Sleep(100 * time.Millisecond)
	_, ok := f.engine.Lookup("127.0.0.1")
	assert.False(t, ok)
}
