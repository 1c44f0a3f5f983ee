package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"grimm.is/knockgate/internal/clock"
)

type fakeSource struct {
	counts map[string]int
	users  int
}

func (f *fakeSource) StatusCounts() map[string]int { return f.counts }
func (f *fakeSource) UserCount() int               { return f.users }

func newTestRegistry() *Registry {
	reg := prometheus.NewRegistry()
	return NewRegistry(reg, reg)
}

func TestCollector_Collect(t *testing.T) {
	r := newTestRegistry()
	clk := clock.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	src := &fakeSource{counts: map[string]int{"trusted": 2, "blocked": 1}, users: 3}
	c := NewCollector(r, src, nil, time.Minute, clk)

	if !c.GetLastUpdate().IsZero() {
		t.Fatal("expected zero lastUpdate before first sample")
	}

	clk.Advance(90 * time.Second)
	c.Collect()

	if got := testutil.ToFloat64(r.Addresses.WithLabelValues("trusted")); got != 2 {
		t.Errorf("trusted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.Users); got != 3 {
		t.Errorf("users = %v, want 3", got)
	}
	if got := testutil.ToFloat64(r.Uptime); got != 90 {
		t.Errorf("uptime = %v, want 90", got)
	}
	if !c.GetLastUpdate().Equal(clk.Now()) {
		t.Errorf("lastUpdate = %v, want %v", c.GetLastUpdate(), clk.Now())
	}

	// A status that vanishes is reset rather than left stale.
	src.counts = map[string]int{"trusted": 2}
	c.Collect()
	if got := testutil.ToFloat64(r.Addresses.WithLabelValues("blocked")); got != 0 {
		t.Errorf("blocked = %v, want 0", got)
	}
}

func TestCollector_RunStops(t *testing.T) {
	c := NewCollector(newTestRegistry(), &fakeSource{counts: map[string]int{}}, nil, 5*time.Millisecond, nil)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	c.Stop()
	c.Stop() // idempotent

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("collector did not stop")
	}
	if c.GetLastUpdate().IsZero() {
		t.Error("expected at least one sample")
	}
}

func TestRegistry_RecordReload(t *testing.T) {
	r := newTestRegistry()

	r.RecordReload(true)
	r.RecordReload(false)
	r.RecordReload(false)

	if got := testutil.ToFloat64(r.ConfigReload.WithLabelValues("success")); got != 1 {
		t.Errorf("success counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.ConfigReload.WithLabelValues("failure")); got != 2 {
		t.Errorf("failure counter = %v, want 2", got)
	}
}

func TestRegistry_Handler(t *testing.T) {
	r := newTestRegistry()
	r.RecordPush("KNOCKING_WHITE", PushOK, 20*time.Millisecond)
	r.RecordDecision("bad", "untrusted")
	r.SetVersion("1.2.3")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`knockgate_device_pushes_total{list="KNOCKING_WHITE",result="ok"} 1`,
		`knockgate_decisions_total{behavior="bad",status="untrusted"} 1`,
		`knockgate_build_info{version="1.2.3"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
