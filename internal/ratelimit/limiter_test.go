package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"grimm.is/knockgate/internal/clock"
)

func newTestLimiter(limit int) (*Limiter, *clock.MockClock) {
	clk := clock.NewMockClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	return NewLimiter(limit, time.Minute, clk), clk
}

func TestLimiter_Allow_Basic(t *testing.T) {
	l, _ := newTestLimiter(3)

	// First 3 requests should succeed
	for i := 0; i < 3; i++ {
		if !l.Allow("test-key") {
			t.Errorf("Request %d should be allowed", i+1)
		}
	}

	// 4th request should be denied
	if l.Allow("test-key") {
		t.Error("4th request should be denied (over limit)")
	}
}

func TestLimiter_Check_ReportsOncePerWindow(t *testing.T) {
	l, clk := newTestLimiter(1)

	if v := l.Check("10.0.0.1"); v != Allowed {
		t.Fatalf("first request verdict = %v", v)
	}
	if v := l.Check("10.0.0.1"); v != Exceeded {
		t.Errorf("second request verdict = %v, want Exceeded", v)
	}
	for i := 0; i < 3; i++ {
		if v := l.Check("10.0.0.1"); v != Throttled {
			t.Errorf("later request verdict = %v, want Throttled", v)
		}
	}

	clk.Advance(time.Minute)
	if v := l.Check("10.0.0.1"); v != Allowed {
		t.Errorf("after window verdict = %v, want Allowed", v)
	}
	if v := l.Check("10.0.0.1"); v != Exceeded {
		t.Errorf("new window should report again, got %v", v)
	}
}

func TestLimiter_Allow_DifferentKeys(t *testing.T) {
	l, _ := newTestLimiter(2)

	for i := 0; i < 2; i++ {
		if !l.Allow("key1") {
			t.Errorf("key1 request %d should be allowed", i+1)
		}
	}
	if l.Allow("key1") {
		t.Error("key1 should be exhausted")
	}
	if !l.Allow("key2") {
		t.Error("key2 has its own budget")
	}
}

func TestLimiter_Disabled(t *testing.T) {
	l, _ := newTestLimiter(0)
	for i := 0; i < 100; i++ {
		if !l.Allow("k") {
			t.Fatal("disabled limiter denied a request")
		}
	}
	if l.Len() != 0 {
		t.Error("disabled limiter should not track keys")
	}
}

func TestLimiter_Reset(t *testing.T) {
	l, _ := newTestLimiter(1)
	l.Allow("k")
	if l.Allow("k") {
		t.Fatal("expected limit")
	}
	l.Reset("k")
	if !l.Allow("k") {
		t.Error("Reset should restore the budget")
	}
}

func TestLimiter_CleanupExpired(t *testing.T) {
	l, clk := newTestLimiter(5)
	l.Allow("old")
	clk.Advance(5 * time.Minute)
	l.Allow("fresh")

	l.CleanupExpired(time.Minute)

	if l.Len() != 1 {
		t.Errorf("expected 1 bucket after cleanup, got %d", l.Len())
	}
}

func TestLimiter_Run_StopsOnCancel(t *testing.T) {
	l, _ := newTestLimiter(5)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestLimiter_ConcurrentAccess(t *testing.T) {
	l, _ := newTestLimiter(100)
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if l.Allow("shared") {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if allowed != 100 {
		t.Errorf("expected exactly 100 allowed, got %d", allowed)
	}
}
