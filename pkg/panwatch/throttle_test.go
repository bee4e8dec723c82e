package panwatch

import (
	"context"
	"sync"
	"testing"
	"time"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func TestThrottleWindow(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, ShanghaiLocation())
	clock := &testClock{now: base}
	core, cleanup := setupTestDBWithClock(t, clock.Now)
	defer cleanup()
	ctx := context.Background()
	key := ThrottleKey{AgentName: "intraday_monitor", Symbol: "AAPL"}
	window := 30 * time.Minute

	ok, err := core.AllowNotify(ctx, key, window)
	assertNoError(t, err, "allow without record")
	if !ok {
		t.Fatal("expected allow when no record exists")
	}
	assertNoError(t, core.RecordNotify(ctx, key), "record")

	clock.Set(base.Add(10 * time.Minute))
	ok, err = core.AcquireNotify(ctx, key, window)
	assertNoError(t, err, "acquire at T+10")
	if ok {
		t.Fatal("expected deny at T+10m")
	}
	rec, err := core.GetThrottle(ctx, key)
	assertNoError(t, err, "get throttle")
	if !rec.LastNotifyAt.Equal(base) {
		t.Fatalf("denied attempt moved last_notify_at to %v", rec.LastNotifyAt)
	}

	clock.Set(base.Add(31 * time.Minute))
	ok, err = core.AcquireNotify(ctx, key, window)
	assertNoError(t, err, "acquire at T+31")
	if !ok {
		t.Fatal("expected allow at T+31m")
	}
	rec, err = core.GetThrottle(ctx, key)
	assertNoError(t, err, "get throttle")
	if !rec.LastNotifyAt.Equal(base.Add(31 * time.Minute)) {
		t.Fatalf("last_notify_at = %v", rec.LastNotifyAt)
	}
	if rec.NotifyCount != 2 {
		t.Fatalf("notify_count = %d, want 2", rec.NotifyCount)
	}
}

func TestThrottleDayRollover(t *testing.T) {
	day := time.Date(2026, 3, 2, 14, 0, 0, 0, ShanghaiLocation())
	clock := &testClock{now: day}
	core, cleanup := setupTestDBWithClock(t, clock.Now)
	defer cleanup()
	ctx := context.Background()
	key := ThrottleKey{AgentName: "intraday_monitor", Symbol: "600519"}

	for i := 0; i < 5; i++ {
		clock.Set(day.Add(time.Duration(i) * time.Minute))
		assertNoError(t, core.RecordNotify(ctx, key), "record same day")
	}
	rec, err := core.GetThrottle(ctx, key)
	assertNoError(t, err, "get throttle")
	if rec.NotifyCount != 5 {
		t.Fatalf("notify_count = %d, want 5", rec.NotifyCount)
	}

	clock.Set(day.AddDate(0, 0, 1))
	assertNoError(t, core.RecordNotify(ctx, key), "record next day")
	rec, err = core.GetThrottle(ctx, key)
	assertNoError(t, err, "get throttle")
	if rec.NotifyCount != 1 {
		t.Fatalf("notify_count after rollover = %d, want 1", rec.NotifyCount)
	}
}

func TestThrottleRolloverUsesLocalDate(t *testing.T) {
	// 23:30 UTC on Mar 1 is 07:30 Mar 2 in Shanghai.
	first := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	clock := &testClock{now: first}
	core, cleanup := setupTestDBWithClock(t, clock.Now)
	defer cleanup()
	ctx := context.Background()
	key := ThrottleKey{AgentName: "a", Symbol: "X"}

	assertNoError(t, core.RecordNotify(ctx, key), "record")
	clock.Set(time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC))
	assertNoError(t, core.RecordNotify(ctx, key), "record")

	rec, err := core.GetThrottle(ctx, key)
	assertNoError(t, err, "get throttle")
	if rec.NotifyCount != 2 {
		t.Fatalf("notify_count = %d, want 2 (same Shanghai day)", rec.NotifyCount)
	}
}

func TestAcquireNotifyConcurrentSameKey(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, ShanghaiLocation())}
	core, cleanup := setupTestDBWithClock(t, clock.Now)
	defer cleanup()
	ctx := context.Background()
	key := ThrottleKey{AgentName: "intraday_monitor", Symbol: "AAPL"}

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := core.AcquireNotify(ctx, key, 30*time.Minute)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			if ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if granted != 1 {
		t.Fatalf("granted = %d, want exactly 1", granted)
	}
}

func TestThrottleKeysAreIndependent(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, ShanghaiLocation())}
	core, cleanup := setupTestDBWithClock(t, clock.Now)
	defer cleanup()
	ctx := context.Background()

	ok, err := core.AcquireNotify(ctx, ThrottleKey{AgentName: "a", Symbol: "X"}, time.Hour)
	assertNoError(t, err, "acquire X")
	if !ok {
		t.Fatal("expected X allowed")
	}
	ok, err = core.AcquireNotify(ctx, ThrottleKey{AgentName: "a", Symbol: "Y"}, time.Hour)
	assertNoError(t, err, "acquire Y")
	if !ok {
		t.Fatal("expected Y allowed")
	}
	ok, err = core.AcquireNotify(ctx, ThrottleKey{AgentName: "b", Symbol: "X"}, time.Hour)
	assertNoError(t, err, "acquire b/X")
	if !ok {
		t.Fatal("expected other agent allowed")
	}
}
