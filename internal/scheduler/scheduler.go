package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/expirytrack/collector/internal/config"
	"github.com/expirytrack/collector/internal/fetch"
	"github.com/expirytrack/collector/internal/model"
)

// ProgressStore is the durable run and unit state the scheduler drives.
// *progress.Store implements it.
type ProgressStore interface {
	CreateRun(ctx context.Context, run model.Run) error
	GetRun(ctx context.Context, runID uuid.UUID) (model.Run, error)
	SetRunStatus(ctx context.Context, runID uuid.UUID, status model.RunStatus, runErr string) error
	IncompleteRuns(ctx context.Context) ([]model.Run, error)

	Enqueue(ctx context.Context, units []model.Unit) error
	Reserve(ctx context.Context, runID uuid.UUID) (model.Unit, error)
	Complete(ctx context.Context, u model.Unit) error
	Fail(ctx context.Context, u model.Unit, cause string, retryAt time.Time, terminal bool) error
	ResetInFlight(ctx context.Context, runID uuid.UUID) (int, error)
	Counts(ctx context.Context, runID uuid.UUID) (model.RunCounts, error)
	ListIncomplete(ctx context.Context, runID uuid.UUID, phase model.Phase) ([]model.Unit, error)
	FailedUnits(ctx context.Context, runID uuid.UUID) ([]model.Unit, error)

	SaveExpiries(ctx context.Context, instrumentKey string, expiries []string) error
	SaveContracts(ctx context.Context, contracts []model.Contract) error
	Watermark(ctx context.Context, contractKey, interval string) (int64, error)
}

// Gate admits upstream requests. *rategate.Gate implements it.
type Gate interface {
	Acquire(ctx context.Context) error
	OnRejection(retryAfter time.Duration)
	OnSuccess()
}

// CandleSink receives fetched candle records. *queue.Buffer implements it.
type CandleSink interface {
	Send(rec model.CandleRecord) bool
}

// ErrRunNotActive is returned by Cancel when the run is not being worked
// by this process.
var ErrRunNotActive = errors.New("run not active")

// Scheduler owns the worker pools of active runs.
type Scheduler struct {
	cfg     config.CollectorConfig
	store   ProgressStore
	fetcher fetch.Fetcher
	gate    Gate
	sink    CandleSink
	retry   RetryPolicy
	logger  *slog.Logger

	mu   sync.Mutex
	runs map[uuid.UUID]*runHandle

	// Tests shorten this to keep drain detection fast.
	idlePoll time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// runHandle tracks one active run's workers.
type runHandle struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	cancelled bool
	haltErr   error
}

// halt records the first fatal error and stops the run's workers.
func (h *runHandle) halt(err error) {
	h.mu.Lock()
	if h.haltErr == nil {
		h.haltErr = err
	}
	h.mu.Unlock()
	h.cancel()
}

// New creates a Scheduler.
func New(
	cfg config.CollectorConfig,
	store ProgressStore,
	fetcher fetch.Fetcher,
	gate Gate,
	sink CandleSink,
	logger *slog.Logger,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:     cfg,
		store:   store,
		fetcher: fetcher,
		gate:    gate,
		sink:    sink,
		retry: RetryPolicy{
			MaxAttempts: cfg.Workers.MaxAttempts,
			BaseDelay:   cfg.Workers.RetryBaseDelay,
			MaxDelay:    cfg.Workers.RetryMaxDelay,
		},
		logger:   logger,
		runs:     make(map[uuid.UUID]*runHandle),
		idlePoll: 200 * time.Millisecond,
	}
}

// Start prepares the scheduler for accepting runs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.logger.Info("scheduler started", "workers", s.cfg.Workers.Count)
	return nil
}

// Stop cancels all active runs and waits for their workers. Interrupted
// runs stay in the running state and are picked up by ResumeIncomplete on
// the next boot.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
	}
	return nil
}

// StartRun creates a run over the selection, seeds the discovery units,
// and starts its worker pool.
func (s *Scheduler) StartRun(ctx context.Context, sel model.Selection, opts model.RunOptions) (model.Run, error) {
	if len(sel.InstrumentKeys) == 0 {
		return model.Run{}, errors.New("selection has no instruments")
	}
	opts = s.applyRunDefaults(opts)
	if !fetch.ValidInterval(opts.Interval) {
		return model.Run{}, fmt.Errorf("unsupported interval %q", opts.Interval)
	}

	run := model.Run{
		ID:        uuid.New(),
		Selection: sel,
		Options:   opts,
		Status:    model.RunRunning,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return model.Run{}, err
	}

	units := make([]model.Unit, 0, len(sel.InstrumentKeys))
	for _, key := range sel.InstrumentKeys {
		units = append(units, model.Unit{
			RunID: run.ID,
			Phase: model.PhaseDiscoverExpiries,
			Key:   key,
		})
	}
	if err := s.store.Enqueue(ctx, units); err != nil {
		return model.Run{}, err
	}

	s.launch(run)
	s.logger.Info("run started",
		"run_id", run.ID,
		"instruments", len(sel.InstrumentKeys),
		"interval", opts.Interval,
		"months_back", opts.MonthsBack,
	)
	return run, nil
}

// ResumeIncomplete restarts every run left in the running state. In-flight
// units from the interrupted process are reset to pending first.
func (s *Scheduler) ResumeIncomplete(ctx context.Context) ([]model.Run, error) {
	runs, err := s.store.IncompleteRuns(ctx)
	if err != nil {
		return nil, err
	}

	var resumed []model.Run
	for _, run := range runs {
		s.mu.Lock()
		_, active := s.runs[run.ID]
		s.mu.Unlock()
		if active {
			continue
		}

		reset, err := s.store.ResetInFlight(ctx, run.ID)
		if err != nil {
			return resumed, err
		}
		counts, err := s.store.Counts(ctx, run.ID)
		if err != nil {
			return resumed, err
		}
		remaining, err := s.store.ListIncomplete(ctx, run.ID, counts.ActivePhase())
		if err != nil {
			return resumed, err
		}
		s.logger.Info("resuming run",
			"run_id", run.ID,
			"reset_units", reset,
			"phase", counts.ActivePhase(),
			"phase_remaining", len(remaining),
		)
		s.launch(run)
		resumed = append(resumed, run)
	}
	return resumed, nil
}

// Progress returns the poll-friendly progress view of a run.
func (s *Scheduler) Progress(ctx context.Context, runID uuid.UUID) (model.RunProgress, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return model.RunProgress{}, err
	}
	counts, err := s.store.Counts(ctx, runID)
	if err != nil {
		return model.RunProgress{}, err
	}

	var percent float64
	if total := counts.Total(); total > 0 {
		percent = float64(counts.Done+counts.Failed) / float64(total) * 100
	}
	return model.RunProgress{
		RunID:   run.ID,
		Status:  run.Status,
		Phase:   counts.ActivePhase(),
		Percent: percent,
		Counts:  counts,
	}, nil
}

// FailedUnits lists a run's terminally failed units, for inspection and
// targeted re-collection.
func (s *Scheduler) FailedUnits(ctx context.Context, runID uuid.UUID) ([]model.Unit, error) {
	if _, err := s.store.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.store.FailedUnits(ctx, runID)
}

// Cancel stops an active run's workers, waits for them, and marks the run
// cancelled with no units left in flight.
func (s *Scheduler) Cancel(ctx context.Context, runID uuid.UUID) error {
	s.mu.Lock()
	h, ok := s.runs[runID]
	s.mu.Unlock()
	if !ok {
		return ErrRunNotActive
	}

	h.mu.Lock()
	h.cancelled = true
	h.mu.Unlock()
	h.cancel()

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// launch registers a handle and starts the run's worker pool goroutine.
func (s *Scheduler) launch(run model.Run) {
	runCtx, cancel := context.WithCancel(s.ctx)
	h := &runHandle{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.runs[run.ID] = h
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runCollection(runCtx, run, h)
	}()
}

// runCollection runs the worker pool for one run and settles its final
// status.
func (s *Scheduler) runCollection(ctx context.Context, run model.Run, h *runHandle) {
	defer func() {
		s.mu.Lock()
		delete(s.runs, run.ID)
		s.mu.Unlock()
		close(h.done)
	}()

	workers := run.Options.Concurrency
	if workers < 1 {
		workers = s.cfg.Workers.Count
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		id := i
		g.Go(func() error {
			return s.workerLoop(gctx, run, h, id)
		})
	}
	err := g.Wait()

	// Status updates must survive the run context being cancelled.
	bg, bgCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer bgCancel()

	h.mu.Lock()
	haltErr := h.haltErr
	cancelled := h.cancelled
	h.mu.Unlock()

	switch {
	case haltErr != nil:
		if _, rerr := s.store.ResetInFlight(bg, run.ID); rerr != nil {
			s.logger.Error("resetting in-flight units", "run_id", run.ID, "error", rerr)
		}
		if serr := s.store.SetRunStatus(bg, run.ID, model.RunFailed, haltErr.Error()); serr != nil {
			s.logger.Error("marking run failed", "run_id", run.ID, "error", serr)
		}
		s.logger.Error("run halted", "run_id", run.ID, "error", haltErr)

	case cancelled:
		if _, rerr := s.store.ResetInFlight(bg, run.ID); rerr != nil {
			s.logger.Error("resetting in-flight units", "run_id", run.ID, "error", rerr)
		}
		if serr := s.store.SetRunStatus(bg, run.ID, model.RunCancelled, ""); serr != nil {
			s.logger.Error("marking run cancelled", "run_id", run.ID, "error", serr)
		}
		s.logger.Info("run cancelled", "run_id", run.ID)

	case ctx.Err() != nil:
		// Process shutdown: leave the run in the running state for resume.
		s.logger.Info("run interrupted", "run_id", run.ID)

	case err != nil:
		if serr := s.store.SetRunStatus(bg, run.ID, model.RunFailed, err.Error()); serr != nil {
			s.logger.Error("marking run failed", "run_id", run.ID, "error", serr)
		}
		s.logger.Error("run failed", "run_id", run.ID, "error", err)

	default:
		s.settleDrainedRun(bg, run)
	}
}

// settleDrainedRun marks a fully drained run complete, or complete with
// failures when terminally failed units remain.
func (s *Scheduler) settleDrainedRun(ctx context.Context, run model.Run) {
	counts, err := s.store.Counts(ctx, run.ID)
	if err != nil {
		s.logger.Error("reading final counts", "run_id", run.ID, "error", err)
		return
	}

	status := model.RunComplete
	if counts.Failed > 0 {
		status = model.RunCompleteWithFailures
	}
	if err := s.store.SetRunStatus(ctx, run.ID, status, ""); err != nil {
		s.logger.Error("marking run complete", "run_id", run.ID, "error", err)
		return
	}
	s.logger.Info("run finished",
		"run_id", run.ID,
		"status", status,
		"done", counts.Done,
		"failed", counts.Failed,
	)
}

// applyRunDefaults fills unset run options from the collector config.
func (s *Scheduler) applyRunDefaults(opts model.RunOptions) model.RunOptions {
	if opts.Interval == "" {
		opts.Interval = s.cfg.Collect.Interval
	}
	if opts.MonthsBack <= 0 {
		opts.MonthsBack = s.cfg.Collect.MonthsBack
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = s.cfg.Workers.Count
	}
	return opts
}
