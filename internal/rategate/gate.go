package rategate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/expirytrack/collector/internal/metrics"
)

// epsilon is added to computed waits so a re-check after sleeping lands
// strictly past the window boundary.
const epsilon = 10 * time.Millisecond

// maxBackoffFactor caps how far rejections shrink effective capacity.
const maxBackoffFactor = 2.0

// Window is one time-bounded request quota dimension.
type Window struct {
	Capacity int
	Duration time.Duration
}

// DefaultWindows mirrors the upstream limits (50/s, 500/min, 2000/30min)
// with a safety margin.
func DefaultWindows() []Window {
	return []Window{
		{Capacity: 45, Duration: time.Second},
		{Capacity: 450, Duration: time.Minute},
		{Capacity: 1800, Duration: 30 * time.Minute},
	}
}

// window pairs a quota with its recorded request instants, oldest first.
type window struct {
	Window
	stamps []time.Time
}

// Gate admits requests subject to every configured window simultaneously.
// Safe for concurrent use.
type Gate struct {
	mu          sync.Mutex
	windows     []window
	errorCount  int
	backoff     float64 // effective capacity divisor, 1.0 = no backoff
	pausedUntil time.Time
	total       int64

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

// WithClock replaces the wall clock, for tests driving simulated time.
// sleep must advance the same clock.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Gate) {
		g.now = now
		g.sleep = sleep
	}
}

// New creates a Gate over the given windows.
func New(windows []Window, opts ...Option) *Gate {
	g := &Gate{
		windows: make([]window, len(windows)),
		backoff: 1.0,
		now:     time.Now,
		sleep:   sleepCtx,
		logger:  slog.Default(),
	}
	for i, w := range windows {
		g.windows[i] = window{Window: w}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Acquire blocks until one more request is admissible under every window,
// then records the request instant in all of them. The only error it
// returns is the context's, so callers bound the worst-case wait with a
// deadline or cancellation.
func (g *Gate) Acquire(ctx context.Context) error {
	waited := time.Duration(0)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		wait, ok := g.tryAdmit()
		if ok {
			if waited > 0 {
				metrics.GateWaitSeconds.Observe(waited.Seconds())
			}
			return nil
		}

		g.logger.Debug("rate limit reached, waiting", "wait", wait)
		metrics.GateWaits.Inc()
		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
		waited += wait
		// Loop and re-validate: other callers may have consumed slots
		// freed while we slept.
	}
}

// tryAdmit attempts to record one request. On refusal it returns the wait
// until the limiting window frees a slot.
func (g *Gate) tryAdmit() (wait time.Duration, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()

	if g.pausedUntil.After(now) {
		return g.pausedUntil.Sub(now), false
	}

	for i := range g.windows {
		w := &g.windows[i]
		w.prune(now)

		if len(w.stamps) >= g.effectiveCapacity(w.Capacity) {
			need := w.Duration - now.Sub(w.stamps[0]) + epsilon
			if need > wait {
				wait = need
			}
		}
	}
	if wait > 0 {
		return wait, false
	}

	for i := range g.windows {
		g.windows[i].stamps = append(g.windows[i].stamps, now)
	}
	g.total++
	return 0, true
}

// prune drops stamps older than the window duration.
func (w *window) prune(now time.Time) {
	i := 0
	for i < len(w.stamps) && now.Sub(w.stamps[i]) > w.Duration {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

func (g *Gate) effectiveCapacity(capacity int) int {
	eff := int(float64(capacity) / g.backoff)
	if eff < 1 {
		eff = 1
	}
	return eff
}

// OnRejection records an upstream overload signal: effective capacity
// shrinks and, when the upstream supplied a retry-after hint, admission
// pauses entirely for that long.
func (g *Gate) OnRejection(retryAfter time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.errorCount++
	g.backoff = 1.0 + float64(g.errorCount)*0.1
	if g.backoff > maxBackoffFactor {
		g.backoff = maxBackoffFactor
	}
	if retryAfter > 0 {
		until := g.now().Add(retryAfter)
		if until.After(g.pausedUntil) {
			g.pausedUntil = until
		}
	}

	g.logger.Warn("upstream rate limit hit, shrinking capacity",
		"backoff_factor", g.backoff,
		"retry_after", retryAfter,
	)
	metrics.GateRejections.Inc()
}

// OnSuccess records a successful upstream call, gradually restoring
// capacity reduced by earlier rejections.
func (g *Gate) OnSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.errorCount > 0 {
		g.errorCount--
	}
	g.backoff -= 0.05
	if g.backoff < 1.0 {
		g.backoff = 1.0
	}
}

// WindowStats reports usage of a single window.
type WindowStats struct {
	Capacity  int           `json:"capacity"`
	Effective int           `json:"effective"`
	Duration  time.Duration `json:"duration"`
	Used      int           `json:"used"`
}

// Stats is a point-in-time snapshot for the status API.
type Stats struct {
	Windows       []WindowStats `json:"windows"`
	TotalRequests int64         `json:"total_requests"`
	BackoffFactor float64       `json:"backoff_factor"`
	PausedUntil   time.Time     `json:"paused_until,omitzero"`
}

// Snapshot returns current usage across all windows.
func (g *Gate) Snapshot() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	s := Stats{
		TotalRequests: g.total,
		BackoffFactor: g.backoff,
	}
	if g.pausedUntil.After(now) {
		s.PausedUntil = g.pausedUntil
	}
	for i := range g.windows {
		w := &g.windows[i]
		w.prune(now)
		s.Windows = append(s.Windows, WindowStats{
			Capacity:  w.Capacity,
			Effective: g.effectiveCapacity(w.Capacity),
			Duration:  w.Duration,
			Used:      len(w.stamps),
		})
	}
	return s
}
