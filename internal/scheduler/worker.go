package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/expirytrack/collector/internal/database"
	"github.com/expirytrack/collector/internal/fetch"
	"github.com/expirytrack/collector/internal/metrics"
	"github.com/expirytrack/collector/internal/model"
	"github.com/expirytrack/collector/internal/progress"
)

// workerLoop claims and processes units until the run drains or the
// context is cancelled. Returning nil on cancellation keeps the errgroup
// quiet; the final status is settled from the run handle.
func (s *Scheduler) workerLoop(ctx context.Context, run model.Run, h *runHandle, id int) error {
	logger := s.logger.With("run_id", run.ID, "worker", id)

	for {
		if ctx.Err() != nil {
			return nil
		}

		u, err := s.store.Reserve(ctx, run.ID)
		if errors.Is(err, progress.ErrNoWork) {
			counts, cerr := s.store.Counts(ctx, run.ID)
			if cerr != nil {
				if database.IsFatalStorage(cerr) {
					h.halt(cerr)
					return nil
				}
				logger.Warn("reading counts", "error", cerr)
			} else if counts.Remaining() == 0 {
				// Nothing pending or in flight anywhere: drained.
				return nil
			}
			// Units are in flight elsewhere or waiting out a retry delay.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.idlePoll):
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if database.IsFatalStorage(err) {
				h.halt(err)
				return nil
			}
			logger.Warn("reserving unit", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.idlePoll):
			}
			continue
		}

		s.processUnit(ctx, run, h, u)
	}
}

// processUnit executes one unit and records the outcome.
func (s *Scheduler) processUnit(ctx context.Context, run model.Run, h *runHandle, u model.Unit) {
	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	err := s.executeUnit(ctx, run, u)
	if err == nil {
		if cerr := s.store.Complete(ctx, u); cerr != nil {
			if database.IsFatalStorage(cerr) {
				h.halt(cerr)
				return
			}
			s.logger.Warn("completing unit", "run_id", run.ID, "key", u.Key, "error", cerr)
			return
		}
		metrics.UnitsCompleted.WithLabelValues(string(u.Phase)).Inc()
		return
	}

	s.handleUnitFailure(ctx, run, h, u, err)
}

// executeUnit dispatches a unit to its phase handler.
func (s *Scheduler) executeUnit(ctx context.Context, run model.Run, u model.Unit) error {
	switch u.Phase {
	case model.PhaseDiscoverExpiries:
		return s.runDiscover(ctx, run, u)
	case model.PhaseEnumerateContracts:
		return s.runEnumerate(ctx, run, u)
	case model.PhaseFetchSeries:
		return s.runFetchSeries(ctx, run, u)
	default:
		return &fetch.ValidationError{Reason: fmt.Sprintf("unknown phase %q", u.Phase)}
	}
}

// runDiscover lists an instrument's expiry dates and enqueues one
// enumerate-contracts unit per expiry inside the collection window.
func (s *Scheduler) runDiscover(ctx context.Context, run model.Run, u model.Unit) error {
	if err := s.gate.Acquire(ctx); err != nil {
		return err
	}
	fctx, cancel := s.fetchContext(ctx)
	expiries, err := s.fetcher.ListExpiries(fctx, u.Key)
	cancel()
	if err != nil {
		return err
	}
	s.gate.OnSuccess()

	if err := s.store.SaveExpiries(ctx, u.Key, expiries); err != nil {
		return err
	}

	eligible := filterExpiries(expiries, run.Options.MonthsBack, time.Now().UTC())
	children := make([]model.Unit, 0, len(eligible))
	for _, expiry := range eligible {
		children = append(children, model.Unit{
			RunID:     run.ID,
			Phase:     model.PhaseEnumerateContracts,
			Key:       enumerateKey(u.Key, expiry),
			ParentKey: u.Key,
		})
	}

	// Children go in before the parent is marked done. A crash in between
	// re-runs the parent, and the idempotent enqueue absorbs the overlap.
	if err := s.store.Enqueue(ctx, children); err != nil {
		return err
	}

	s.logger.Debug("discovered expiries",
		"run_id", run.ID,
		"instrument", u.Key,
		"total", len(expiries),
		"in_window", len(eligible),
	)
	return nil
}

// runEnumerate lists the contracts of one instrument+expiry and enqueues
// fetch-series units for each contract's history chunks.
func (s *Scheduler) runEnumerate(ctx context.Context, run model.Run, u model.Unit) error {
	parts := model.SplitKey(u.Key)
	if len(parts) != 2 {
		return &fetch.ValidationError{Reason: fmt.Sprintf("malformed enumerate key %q", u.Key)}
	}
	instrumentKey, expiry := parts[0], parts[1]

	if err := s.gate.Acquire(ctx); err != nil {
		return err
	}
	fctx, cancel := s.fetchContext(ctx)
	contracts, err := s.fetcher.ListContracts(fctx, instrumentKey, expiry)
	cancel()
	if err != nil {
		return err
	}
	s.gate.OnSuccess()

	if err := s.store.SaveContracts(ctx, contracts); err != nil {
		return err
	}

	var children []model.Unit
	for _, c := range contracts {
		ranges, err := chunkRanges(c.Expiry, run.Options.MonthsBack, s.cfg.Collect.ChunkDays)
		if err != nil {
			return &fetch.ValidationError{Reason: err.Error()}
		}
		for _, r := range ranges {
			children = append(children, model.Unit{
				RunID:     run.ID,
				Phase:     model.PhaseFetchSeries,
				Key:       seriesUnitKey(c.ContractKey, r),
				ParentKey: u.Key,
			})
		}
	}
	if err := s.store.Enqueue(ctx, children); err != nil {
		return err
	}

	s.logger.Debug("enumerated contracts",
		"run_id", run.ID,
		"instrument", instrumentKey,
		"expiry", expiry,
		"contracts", len(contracts),
		"series_units", len(children),
	)
	return nil
}

// runFetchSeries fetches one contract's candle chunk and hands the records
// to the writer. The stored watermark clips ranges already collected by a
// previous run.
func (s *Scheduler) runFetchSeries(ctx context.Context, run model.Run, u model.Unit) error {
	parts := model.SplitKey(u.Key)
	if len(parts) != 3 {
		return &fetch.ValidationError{Reason: fmt.Sprintf("malformed series key %q", u.Key)}
	}
	contractKey, from, to := parts[0], parts[1], parts[2]

	wm, err := s.store.Watermark(ctx, contractKey, run.Options.Interval)
	if err != nil {
		return err
	}
	if wm > 0 {
		wmDate := time.UnixMicro(wm).UTC().Format(dateLayout)
		if wmDate >= to {
			// Chunk fully behind the watermark.
			return nil
		}
		if wmDate > from {
			// Refetch the watermark day; the upsert dedups the overlap.
			from = wmDate
		}
	}

	if err := s.gate.Acquire(ctx); err != nil {
		return err
	}
	fctx, cancel := s.fetchContext(ctx)
	candles, err := s.fetcher.FetchCandles(fctx, contractKey, run.Options.Interval, from, to)
	cancel()
	if err != nil {
		return err
	}
	s.gate.OnSuccess()

	if err := fetch.ValidateCandles(candles); err != nil {
		return err
	}

	for _, c := range candles {
		rec := model.CandleRecord{
			ContractKey: contractKey,
			Interval:    run.Options.Interval,
			Candle:      c,
		}
		if !s.sink.Send(rec) {
			return errors.New("candle sink closed")
		}
	}
	return nil
}

// handleUnitFailure classifies the error and schedules the retry or marks
// the unit failed for good.
func (s *Scheduler) handleUnitFailure(ctx context.Context, run model.Run, h *runHandle, u model.Unit, err error) {
	// Cancellation mid-unit: leave the unit in flight, the reset on
	// cancel or resume returns it to pending.
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return
	}

	cause := err.Error()
	now := time.Now().UTC()
	logger := s.logger.With("run_id", run.ID, "phase", u.Phase, "key", u.Key)

	var authErr *fetch.AuthError
	if errors.As(err, &authErr) {
		// A bad token fails every subsequent request; stop the run and
		// keep the unit retryable so a resume with fresh credentials
		// picks it up.
		s.failUnit(ctx, h, u, cause, now, false)
		h.halt(err)
		logger.Error("authentication failure, halting run", "error", err)
		return
	}
	if database.IsFatalStorage(err) {
		h.halt(err)
		logger.Error("fatal storage error, halting run", "error", err)
		return
	}

	var rlErr *fetch.RateLimitError
	if errors.As(err, &rlErr) {
		s.gate.OnRejection(rlErr.RetryAfter)
	}

	if !fetch.Retryable(err) {
		s.failUnit(ctx, h, u, cause, now, true)
		metrics.UnitsFailed.WithLabelValues(string(u.Phase)).Inc()
		logger.Warn("unit failed terminally", "attempts", u.Attempts+1, "error", err)
		return
	}

	if s.retry.Exhausted(u.Attempts + 1) {
		s.failUnit(ctx, h, u, cause, now, true)
		metrics.UnitsFailed.WithLabelValues(string(u.Phase)).Inc()
		logger.Warn("unit retries exhausted", "attempts", u.Attempts+1, "error", err)
		return
	}

	delay := s.retry.NextDelay(u.Attempts + 1)
	if rlErr != nil && rlErr.RetryAfter > delay {
		delay = rlErr.RetryAfter
	}
	s.failUnit(ctx, h, u, cause, now.Add(delay), false)
	metrics.UnitsRetried.WithLabelValues(string(u.Phase)).Inc()
	logger.Debug("unit scheduled for retry",
		"attempts", u.Attempts+1,
		"delay", delay,
		"error", err,
	)
}

// failUnit records a failure, halting the run if the store itself fails
// fatally.
func (s *Scheduler) failUnit(ctx context.Context, h *runHandle, u model.Unit, cause string, retryAt time.Time, terminal bool) {
	if err := s.store.Fail(ctx, u, cause, retryAt, terminal); err != nil {
		if database.IsFatalStorage(err) {
			h.halt(err)
			return
		}
		s.logger.Warn("recording unit failure", "key", u.Key, "error", err)
	}
}

// fetchContext bounds one upstream request.
func (s *Scheduler) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Workers.FetchTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.Workers.FetchTimeout)
	}
	return context.WithCancel(ctx)
}
