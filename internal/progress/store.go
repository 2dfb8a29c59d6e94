package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/expirytrack/collector/internal/database"
	"github.com/expirytrack/collector/internal/model"
)

// ErrNoWork is returned by Reserve when no unit is currently claimable.
var ErrNoWork = errors.New("no claimable unit")

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// Store persists runs and units of work in Postgres.
type Store struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a Store over the given pool.
func NewStore(db *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// CreateRun persists a new run in the running state.
func (s *Store) CreateRun(ctx context.Context, run model.Run) error {
	sel, err := json.Marshal(run.Selection)
	if err != nil {
		return fmt.Errorf("marshaling selection: %w", err)
	}
	opts, err := json.Marshal(run.Options)
	if err != nil {
		return fmt.Errorf("marshaling options: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO runs (id, selection, options, status)
		VALUES ($1, $2, $3, $4)
	`, run.ID, sel, opts, run.Status)
	return database.WrapError(err)
}

// GetRun loads a run by ID. Returns ErrNotFound for unknown IDs.
func (s *Store) GetRun(ctx context.Context, runID uuid.UUID) (model.Run, error) {
	var (
		run       model.Run
		sel, opts []byte
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, selection, options, status, error, created_at, updated_at
		FROM runs WHERE id = $1
	`, runID).Scan(&run.ID, &sel, &opts, &run.Status, &run.Error, &run.CreatedAt, &run.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Run{}, ErrNotFound
	}
	if err != nil {
		return model.Run{}, database.WrapError(err)
	}
	if err := json.Unmarshal(sel, &run.Selection); err != nil {
		return model.Run{}, fmt.Errorf("unmarshaling selection: %w", err)
	}
	if err := json.Unmarshal(opts, &run.Options); err != nil {
		return model.Run{}, fmt.Errorf("unmarshaling options: %w", err)
	}
	return run, nil
}

// SetRunStatus transitions a run to the given status, recording runErr (if
// any) as the run-level error message.
func (s *Store) SetRunStatus(ctx context.Context, runID uuid.UUID, status model.RunStatus, runErr string) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE runs SET status = $2, error = $3, updated_at = now()
		WHERE id = $1
	`, runID, status, runErr)
	if err != nil {
		return database.WrapError(err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IncompleteRuns lists runs still in the running state, oldest first. Used
// by resume to find work interrupted by a crash.
func (s *Store) IncompleteRuns(ctx context.Context) ([]model.Run, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM runs WHERE status = $1 ORDER BY created_at
	`, model.RunRunning)
	if err != nil {
		return nil, database.WrapError(err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, database.WrapError(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, database.WrapError(err)
	}

	runs := make([]model.Run, 0, len(ids))
	for _, id := range ids {
		run, err := s.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// Enqueue inserts units in the pending state. Re-inserting an existing
// (run, phase, key) is a no-op, which makes re-running a parent unit after
// a crash safe: already-spawned children keep their state.
func (s *Store) Enqueue(ctx context.Context, units []model.Unit) error {
	if len(units) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, u := range units {
		batch.Queue(`
			INSERT INTO uow (run_id, phase, key, parent_key, status)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (run_id, phase, key) DO NOTHING
		`, u.RunID, u.Phase, u.Key, u.ParentKey, model.UnitPending)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range units {
		if _, err := results.Exec(); err != nil {
			return database.WrapError(err)
		}
	}
	return nil
}

// Reserve atomically claims the next eligible pending unit of the run and
// marks it in-flight. Eligible means next_retry_at is unset or past.
// Claim order is phase rank then key, so earlier phases drain first and
// workers spread over distinct units via SKIP LOCKED.
func (s *Store) Reserve(ctx context.Context, runID uuid.UUID) (model.Unit, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return model.Unit{}, database.WrapError(err)
	}
	defer tx.Rollback(ctx)

	var u model.Unit
	err = tx.QueryRow(ctx, `
		SELECT run_id, phase, key, parent_key, attempts, last_error
		FROM uow
		WHERE run_id = $1
		  AND status = $2
		  AND (next_retry_at IS NULL OR next_retry_at <= now())
		ORDER BY CASE phase
			WHEN 'discover_expiries' THEN 0
			WHEN 'enumerate_contracts' THEN 1
			ELSE 2
		END, key
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, runID, model.UnitPending).Scan(&u.RunID, &u.Phase, &u.Key, &u.ParentKey, &u.Attempts, &u.LastError)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Unit{}, ErrNoWork
	}
	if err != nil {
		return model.Unit{}, database.WrapError(err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE uow SET status = $4, updated_at = now()
		WHERE run_id = $1 AND phase = $2 AND key = $3
	`, u.RunID, u.Phase, u.Key, model.UnitInFlight)
	if err != nil {
		return model.Unit{}, database.WrapError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Unit{}, database.WrapError(err)
	}

	u.Status = model.UnitInFlight
	return u, nil
}

// Complete marks a unit done.
func (s *Store) Complete(ctx context.Context, u model.Unit) error {
	_, err := s.db.Exec(ctx, `
		UPDATE uow SET status = $4, last_error = '', next_retry_at = NULL, updated_at = now()
		WHERE run_id = $1 AND phase = $2 AND key = $3
	`, u.RunID, u.Phase, u.Key, model.UnitDone)
	return database.WrapError(err)
}

// Fail records a unit failure. When terminal is false the unit returns to
// pending with attempts incremented and becomes claimable again at retryAt;
// when true it is marked failed for good.
func (s *Store) Fail(ctx context.Context, u model.Unit, cause string, retryAt time.Time, terminal bool) error {
	status := model.UnitPending
	var nextRetry *time.Time
	if terminal {
		status = model.UnitFailed
	} else {
		nextRetry = &retryAt
	}

	_, err := s.db.Exec(ctx, `
		UPDATE uow
		SET status = $4, attempts = attempts + 1, last_error = $5,
		    next_retry_at = $6, updated_at = now()
		WHERE run_id = $1 AND phase = $2 AND key = $3
	`, u.RunID, u.Phase, u.Key, status, cause, nextRetry)
	return database.WrapError(err)
}

// ResetInFlight returns every in-flight unit of the run to pending. Called
// on resume and on cancellation, after the workers have stopped.
func (s *Store) ResetInFlight(ctx context.Context, runID uuid.UUID) (int, error) {
	ct, err := s.db.Exec(ctx, `
		UPDATE uow SET status = $3, updated_at = now()
		WHERE run_id = $1 AND status = $2
	`, runID, model.UnitInFlight, model.UnitPending)
	if err != nil {
		return 0, database.WrapError(err)
	}
	return int(ct.RowsAffected()), nil
}

// Counts returns the per-status and per-phase unit counts for a run.
func (s *Store) Counts(ctx context.Context, runID uuid.UUID) (model.RunCounts, error) {
	rows, err := s.db.Query(ctx, `
		SELECT phase, status, count(*) FROM uow
		WHERE run_id = $1
		GROUP BY phase, status
	`, runID)
	if err != nil {
		return model.RunCounts{}, database.WrapError(err)
	}
	defer rows.Close()

	counts := model.RunCounts{ByPhase: make(map[model.Phase]int)}
	for rows.Next() {
		var (
			phase  model.Phase
			status model.UnitStatus
			n      int
		)
		if err := rows.Scan(&phase, &status, &n); err != nil {
			return model.RunCounts{}, database.WrapError(err)
		}
		switch status {
		case model.UnitPending:
			counts.Pending += n
			counts.ByPhase[phase] += n
		case model.UnitInFlight:
			counts.InFlight += n
			counts.ByPhase[phase] += n
		case model.UnitDone:
			counts.Done += n
		case model.UnitFailed:
			counts.Failed += n
		}
	}
	if err := rows.Err(); err != nil {
		return model.RunCounts{}, database.WrapError(err)
	}
	return counts, nil
}

// ListIncomplete returns the units of one phase not yet in a terminal
// state, in claim order. Workers consume the same set lazily through
// Reserve; this view is for resume reporting and inspection.
func (s *Store) ListIncomplete(ctx context.Context, runID uuid.UUID, phase model.Phase) ([]model.Unit, error) {
	rows, err := s.db.Query(ctx, `
		SELECT run_id, phase, key, parent_key, status, attempts, last_error
		FROM uow
		WHERE run_id = $1 AND phase = $2 AND status IN ($3, $4)
		ORDER BY key
	`, runID, phase, model.UnitPending, model.UnitInFlight)
	if err != nil {
		return nil, database.WrapError(err)
	}
	defer rows.Close()

	var units []model.Unit
	for rows.Next() {
		var u model.Unit
		if err := rows.Scan(&u.RunID, &u.Phase, &u.Key, &u.ParentKey, &u.Status, &u.Attempts, &u.LastError); err != nil {
			return nil, database.WrapError(err)
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, database.WrapError(err)
	}
	return units, nil
}

// FailedUnits lists the terminally failed units of a run, for reporting.
func (s *Store) FailedUnits(ctx context.Context, runID uuid.UUID) ([]model.Unit, error) {
	rows, err := s.db.Query(ctx, `
		SELECT run_id, phase, key, parent_key, attempts, last_error
		FROM uow
		WHERE run_id = $1 AND status = $2
		ORDER BY phase, key
	`, runID, model.UnitFailed)
	if err != nil {
		return nil, database.WrapError(err)
	}
	defer rows.Close()

	var units []model.Unit
	for rows.Next() {
		var u model.Unit
		if err := rows.Scan(&u.RunID, &u.Phase, &u.Key, &u.ParentKey, &u.Attempts, &u.LastError); err != nil {
			return nil, database.WrapError(err)
		}
		u.Status = model.UnitFailed
		units = append(units, u)
	}
	return units, rows.Err()
}
