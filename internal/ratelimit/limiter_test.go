package ratelimit

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eternisai/enchanted-chat/internal/logger"
)

func newTestLimiter(t *testing.T, perMinute, perHour int) (*Limiter, *time.Time) {
	t.Helper()

	log := logger.New(logger.Config{Level: slog.LevelError})
	l := New(Config{PerMinute: perMinute, PerHour: perHour}, log)
	t.Cleanup(l.Destroy)

	// Fixed clock the tests can advance.
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	return l, &now
}

func TestCheckLimitAllowsUpToMinuteCapacity(t *testing.T) {
	l, _ := newTestLimiter(t, 60, 500)

	for i := 0; i < 60; i++ {
		d := l.CheckLimit("u2")
		if !d.Allowed {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
	}

	d := l.CheckLimit("u2")
	if d.Allowed {
		t.Fatal("61st request allowed, want denied")
	}
	if d.LimitType != LimitTypeMinute {
		t.Errorf("limit type = %q, want %q", d.LimitType, LimitTypeMinute)
	}
	if d.RetryAfter != time.Minute {
		t.Errorf("retry after = %v, want %v (time to next minute boundary)", d.RetryAfter, time.Minute)
	}
	if d.Remaining.Minute != 0 {
		t.Errorf("remaining minute = %d, want 0", d.Remaining.Minute)
	}
	if d.Remaining.Hour != 440 {
		t.Errorf("remaining hour = %d, want 440", d.Remaining.Hour)
	}
}

func TestCheckLimitHourWindowBlocks(t *testing.T) {
	l, now := newTestLimiter(t, 60, 100)

	for i := 0; i < 100; i++ {
		if d := l.CheckLimit("u1"); !d.Allowed {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
		// Stay inside the minute window by spreading requests out.
		if (i+1)%50 == 0 {
			*now = now.Add(time.Minute)
		}
	}

	d := l.CheckLimit("u1")
	if d.Allowed {
		t.Fatal("101st request allowed, want denied by hour window")
	}
	if d.LimitType != LimitTypeHour {
		t.Errorf("limit type = %q, want %q", d.LimitType, LimitTypeHour)
	}
}

func TestCheckLimitInvalidUser(t *testing.T) {
	l, _ := newTestLimiter(t, 60, 500)

	d := l.CheckLimit("")
	if d.Allowed {
		t.Fatal("empty user allowed, want soft deny")
	}
	if d.LimitType != LimitTypeError {
		t.Errorf("limit type = %q, want %q", d.LimitType, LimitTypeError)
	}
	if d.RetryAfter != time.Minute {
		t.Errorf("retry after = %v, want 60s", d.RetryAfter)
	}
	if d.Remaining.Minute != 0 || d.Remaining.Hour != 0 {
		t.Errorf("remaining = %+v, want zero", d.Remaining)
	}
}

func TestRefillAfterIntervalBoundary(t *testing.T) {
	l, now := newTestLimiter(t, 60, 500)

	for i := 0; i < 60; i++ {
		l.CheckLimit("u1")
	}
	if d := l.CheckLimit("u1"); d.Allowed {
		t.Fatal("bucket should be empty")
	}

	*now = now.Add(time.Minute)

	d := l.CheckLimit("u1")
	if !d.Allowed {
		t.Fatal("request after refill interval denied, want allowed")
	}
	if d.Remaining.Minute != 59 {
		t.Errorf("remaining minute after full refill = %d, want 59", d.Remaining.Minute)
	}
}

func TestBackwardClockGrantsNothing(t *testing.T) {
	l, now := newTestLimiter(t, 60, 500)

	for i := 0; i < 60; i++ {
		l.CheckLimit("u1")
	}

	*now = now.Add(-10 * time.Minute)

	d := l.CheckLimit("u1")
	if d.Allowed {
		t.Fatal("request allowed after backward clock step, want denied")
	}
	if d.Remaining.Minute != 0 {
		t.Errorf("remaining minute = %d, want 0", d.Remaining.Minute)
	}
}

func TestForwardJumpCappedAtTwoIntervals(t *testing.T) {
	l, now := newTestLimiter(t, 10, 500)

	for i := 0; i < 10; i++ {
		l.CheckLimit("u1")
	}

	// A huge jump must grant at most 2 intervals' worth, clamped to capacity.
	*now = now.Add(48 * time.Hour)

	s := l.GetStatus("u1")
	if s.Remaining.Minute != 10 {
		t.Errorf("remaining minute = %d, want capacity 10", s.Remaining.Minute)
	}
	if s.Remaining.Hour != 500 {
		t.Errorf("remaining hour = %d, want capacity 500", s.Remaining.Hour)
	}
}

func TestTokensNeverExceedCapacity(t *testing.T) {
	l, now := newTestLimiter(t, 60, 500)

	l.CheckLimit("u1")
	for i := 0; i < 10; i++ {
		*now = now.Add(time.Minute)
		s := l.GetStatus("u1")
		if s.Remaining.Minute < 0 || s.Remaining.Minute > 60 {
			t.Fatalf("minute tokens %d out of [0,60]", s.Remaining.Minute)
		}
		if s.Remaining.Hour < 0 || s.Remaining.Hour > 500 {
			t.Fatalf("hour tokens %d out of [0,500]", s.Remaining.Hour)
		}
	}
}

func TestConcurrentBurstConsumesExactly(t *testing.T) {
	l, _ := newTestLimiter(t, 25, 500)

	const n = 100
	var allowed int64
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d := l.CheckLimit("burst-user"); d.Allowed {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	if allowed != 25 {
		t.Errorf("allowed = %d, want exactly 25 (bucket capacity)", allowed)
	}
}

func TestIndependentUsers(t *testing.T) {
	l, _ := newTestLimiter(t, 5, 500)

	for i := 0; i < 5; i++ {
		l.CheckLimit("a")
	}
	if d := l.CheckLimit("a"); d.Allowed {
		t.Fatal("user a over limit, want denied")
	}
	if d := l.CheckLimit("b"); !d.Allowed {
		t.Fatal("user b denied, want allowed (separate bucket)")
	}
}

func TestGetStatusDoesNotConsume(t *testing.T) {
	l, _ := newTestLimiter(t, 60, 500)

	l.CheckLimit("u1")
	before := l.GetStatus("u1")
	after := l.GetStatus("u1")

	if before.Remaining != after.Remaining {
		t.Errorf("GetStatus consumed tokens: %+v != %+v", before.Remaining, after.Remaining)
	}
	if before.Remaining.Minute != 59 {
		t.Errorf("remaining minute = %d, want 59", before.Remaining.Minute)
	}
}

func TestStats(t *testing.T) {
	l, _ := newTestLimiter(t, 60, 500)

	for i := 0; i < 7; i++ {
		l.CheckLimit(fmt.Sprintf("user-%d", i))
	}

	s := l.Stats()
	if s.TotalUsers != 7 {
		t.Errorf("total users = %d, want 7", s.TotalUsers)
	}
	if s.Config.PerMinute != 60 || s.Config.PerHour != 500 {
		t.Errorf("config = %+v", s.Config)
	}
}

func TestSweepRemovesIdleRecords(t *testing.T) {
	l, now := newTestLimiter(t, 60, 500)

	l.CheckLimit("idle")
	*now = now.Add(recordTTL + time.Hour)
	l.CheckLimit("fresh")

	l.mu.Lock()
	removed := l.sweepLocked(l.now())
	total := len(l.users)
	l.mu.Unlock()

	if removed != 1 {
		t.Errorf("swept %d records, want 1", removed)
	}
	if total != 1 {
		t.Errorf("tracked users after sweep = %d, want 1", total)
	}
}
