package rategate

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock drives a Gate with simulated time. Sleeping advances the clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 2, 9, 15, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func newTestGate(clock *fakeClock, windows []Window) *Gate {
	return New(windows, WithClock(clock.Now, clock.Sleep))
}

func TestAcquireNeverExceedsCapacity(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(clock, []Window{
		{Capacity: 3, Duration: time.Second},
		{Capacity: 10, Duration: 10 * time.Second},
	})

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		if err := g.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		for _, w := range g.Snapshot().Windows {
			if w.Used > w.Capacity {
				t.Fatalf("window %v holds %d stamps, capacity %d", w.Duration, w.Used, w.Capacity)
			}
		}
	}
}

func TestAcquireConcurrentRespectsAllWindows(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()
	g := newTestGate(clock, []Window{
		{Capacity: 2, Duration: time.Second},
		{Capacity: 5, Duration: 5 * time.Second},
		{Capacity: 8, Duration: 30 * time.Second},
		{Capacity: 10, Duration: time.Hour}, // audit window, never constrains
	})

	const total = 10
	const workers = 4

	work := make(chan struct{}, total)
	for i := 0; i < total; i++ {
		work <- struct{}{}
	}
	close(work)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range work {
				if err := g.Acquire(context.Background()); err != nil {
					t.Errorf("Acquire() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	// The widest window never constrains (capacity == total requests) and
	// never expires during the test, so its stamps are the exact admission
	// instants.
	g.mu.Lock()
	admitted := append([]time.Time(nil), g.windows[len(g.windows)-1].stamps...)
	g.mu.Unlock()

	if len(admitted) != total {
		t.Fatalf("admitted %d requests, want %d", len(admitted), total)
	}

	// The 30s window admits 8, so the 9th request cannot land before
	// start+30s: total elapsed must be at least that.
	elapsed := clock.Now().Sub(start)
	if elapsed < 30*time.Second {
		t.Errorf("elapsed = %v, want >= 30s (8 req / 30s window)", elapsed)
	}

	// No trailing 1-second slice may hold more than 2 admissions.
	for _, pivot := range admitted {
		n := 0
		for _, ts := range admitted {
			d := pivot.Sub(ts)
			if d >= 0 && d < time.Second {
				n++
			}
		}
		if n > 2 {
			t.Fatalf("%d admissions within one second ending %v, want <= 2", n, pivot)
		}
	}
}

func TestAcquireWaitsForOldestStampToExpire(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()
	g := newTestGate(clock, []Window{{Capacity: 2, Duration: time.Second}})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := g.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}

	// Third acquisition had to wait out the 1s window.
	if elapsed := clock.Now().Sub(start); elapsed < time.Second {
		t.Errorf("elapsed = %v, want >= 1s", elapsed)
	}
}

func TestAcquireCancelled(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(clock, []Window{{Capacity: 1, Duration: time.Hour}})

	ctx, cancel := context.WithCancel(context.Background())
	if err := g.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}

	cancel()
	if err := g.Acquire(ctx); err != context.Canceled {
		t.Errorf("Acquire() after cancel = %v, want context.Canceled", err)
	}
}

func TestOnRejectionShrinksEffectiveCapacity(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(clock, []Window{{Capacity: 10, Duration: time.Minute}})

	for i := 0; i < 5; i++ {
		g.OnRejection(0)
	}

	s := g.Snapshot()
	if s.BackoffFactor != 1.5 {
		t.Errorf("backoff factor = %v, want 1.5", s.BackoffFactor)
	}
	if eff := s.Windows[0].Effective; eff != 6 {
		t.Errorf("effective capacity = %d, want 6", eff)
	}
}

func TestOnSuccessRestoresCapacity(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(clock, []Window{{Capacity: 10, Duration: time.Minute}})

	for i := 0; i < 5; i++ {
		g.OnRejection(0)
	}
	for i := 0; i < 20; i++ {
		g.OnSuccess()
	}

	s := g.Snapshot()
	if s.BackoffFactor != 1.0 {
		t.Errorf("backoff factor = %v, want fully restored 1.0", s.BackoffFactor)
	}
	if eff := s.Windows[0].Effective; eff != 10 {
		t.Errorf("effective capacity = %d, want 10", eff)
	}
}

func TestOnRejectionRetryAfterPausesAdmission(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(clock, []Window{{Capacity: 100, Duration: time.Minute}})

	g.OnRejection(45 * time.Second)
	start := clock.Now()

	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if elapsed := clock.Now().Sub(start); elapsed < 45*time.Second {
		t.Errorf("elapsed = %v, want >= retry-after of 45s", elapsed)
	}
}

func TestSnapshotCountsRecentRequests(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(clock, []Window{{Capacity: 5, Duration: time.Second}})

	ctx := context.Background()
	g.Acquire(ctx)
	g.Acquire(ctx)

	s := g.Snapshot()
	if s.TotalRequests != 2 {
		t.Errorf("total requests = %d, want 2", s.TotalRequests)
	}
	if s.Windows[0].Used != 2 {
		t.Errorf("used = %d, want 2", s.Windows[0].Used)
	}

	// After the window passes, stamps are pruned from the snapshot.
	clock.Sleep(ctx, 2*time.Second)
	if used := g.Snapshot().Windows[0].Used; used != 0 {
		t.Errorf("used after expiry = %d, want 0", used)
	}
}

func TestDefaultWindows(t *testing.T) {
	ws := DefaultWindows()
	if len(ws) != 3 {
		t.Fatalf("len = %d, want 3", len(ws))
	}
	if ws[0].Capacity != 45 || ws[0].Duration != time.Second {
		t.Errorf("per-second window = %+v", ws[0])
	}
	// Each window must be strictly wider and roomier than the previous,
	// or the tighter one would never bind.
	for i := 1; i < len(ws); i++ {
		if ws[i].Duration <= ws[i-1].Duration || ws[i].Capacity <= ws[i-1].Capacity {
			t.Errorf("windows not ordered: %+v then %+v", ws[i-1], ws[i])
		}
	}
}
