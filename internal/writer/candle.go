package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/expirytrack/collector/internal/config"
	"github.com/expirytrack/collector/internal/database"
	"github.com/expirytrack/collector/internal/metrics"
	"github.com/expirytrack/collector/internal/model"
	"github.com/expirytrack/collector/internal/queue"
)

// Stats are cumulative writer counters.
type Stats struct {
	Upserts int64
	Flushes int64
	Errors  int64
}

// CandleWriter consumes CandleRecord from the buffer and upserts candles
// in batches. On a fatal storage error it stops accepting work and invokes
// the configured callback so the scheduler can abort the run.
type CandleWriter struct {
	cfg    config.WriterConfig
	logger *slog.Logger

	input *queue.Buffer[model.CandleRecord]
	db    *pgxpool.Pool

	// onFatal is called at most once, from the flush path.
	onFatal   func(error)
	fatalOnce sync.Once

	batch       []model.CandleRecord
	batchMu     sync.Mutex
	flushMu     sync.Mutex // one flush in flight at a time
	stats       Stats
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCandleWriter creates a CandleWriter. onFatal may be nil.
func NewCandleWriter(
	cfg config.WriterConfig,
	input *queue.Buffer[model.CandleRecord],
	db *pgxpool.Pool,
	onFatal func(error),
	logger *slog.Logger,
) *CandleWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CandleWriter{
		cfg:     cfg,
		input:   input,
		db:      db,
		onFatal: onFatal,
		logger:  logger,
		batch:   make([]model.CandleRecord, 0, cfg.BatchSize),
	}
}

// Start begins consuming records and flushing batches.
func (w *CandleWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("candle writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains the buffer, flushes the final batch, and shuts down.
func (w *CandleWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping candle writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("candle writer stop timed out")
	}

	// Anything still buffered goes into the final flush.
	for _, rec := range w.input.DrainTo(0) {
		w.batchMu.Lock()
		w.batch = append(w.batch, rec)
		w.batchMu.Unlock()
	}
	w.flush(context.Background())

	w.logger.Info("candle writer stopped")
	return nil
}

// Stats returns the cumulative counters.
func (w *CandleWriter) Stats() Stats {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.stats
}

func (w *CandleWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			rec, ok := w.input.TryReceive()
			if !ok {
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}

			w.batchMu.Lock()
			w.batch = append(w.batch, rec)
			shouldFlush := len(w.batch) >= w.cfg.BatchSize
			w.batchMu.Unlock()

			if shouldFlush {
				w.flush(w.ctx)
			}
		}
	}
}

func (w *CandleWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// flush writes the current batch. On a transient failure the batch is put
// back so the next flush retries it; on a fatal one it is dropped and the
// fatal callback fires.
func (w *CandleWriter) flush(ctx context.Context) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]model.CandleRecord, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()
	err := w.batchUpsert(ctx, batch)
	metrics.FlushDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		w.logger.Error("candle flush failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.stats.Errors++
		w.batchMu.Unlock()

		if database.IsFatalStorage(err) {
			if w.onFatal != nil {
				w.fatalOnce.Do(func() { w.onFatal(err) })
			}
			return
		}

		// Transient: keep the records for the next flush attempt.
		w.batchMu.Lock()
		w.batch = append(batch, w.batch...)
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.stats.Upserts += int64(len(batch))
	w.stats.Flushes++
	w.batchMu.Unlock()
	metrics.CandlesWritten.Add(float64(len(batch)))

	w.logger.Debug("flushed candles",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

// Upserting on the series primary key makes replaying a batch idempotent:
// a re-fetched or corrected candle overwrites, never duplicates.
const upsertCandleSQL = `
	INSERT INTO candles (contract_key, interval, ts, open, high, low, close, volume, open_interest)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (contract_key, interval, ts) DO UPDATE SET
		open = EXCLUDED.open,
		high = EXCLUDED.high,
		low = EXCLUDED.low,
		close = EXCLUDED.close,
		volume = EXCLUDED.volume,
		open_interest = EXCLUDED.open_interest
`

// GREATEST keeps the watermark monotone even when an older chunk is
// replayed after a newer one.
const upsertWatermarkSQL = `
	INSERT INTO candle_watermarks (contract_key, interval, last_ts)
	VALUES ($1, $2, $3)
	ON CONFLICT (contract_key, interval) DO UPDATE SET
		last_ts = GREATEST(candle_watermarks.last_ts, EXCLUDED.last_ts),
		updated_at = now()
`

// batchUpsert writes the records and advances the per-contract watermarks
// in one pgx batch.
func (w *CandleWriter) batchUpsert(ctx context.Context, records []model.CandleRecord) error {
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(upsertCandleSQL,
			r.ContractKey, r.Interval, r.Candle.Ts,
			r.Candle.Open, r.Candle.High, r.Candle.Low, r.Candle.Close,
			r.Candle.Volume, r.Candle.OpenInterest)
	}
	for key, ts := range maxTimestamps(records) {
		batch.Queue(upsertWatermarkSQL, key.contractKey, key.interval, ts)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return database.WrapError(err)
		}
	}
	return nil
}

type seriesKey struct {
	contractKey string
	interval    string
}

// maxTimestamps returns the newest candle timestamp per series in the batch.
func maxTimestamps(records []model.CandleRecord) map[seriesKey]int64 {
	out := make(map[seriesKey]int64)
	for _, r := range records {
		k := seriesKey{r.ContractKey, r.Interval}
		if r.Candle.Ts > out[k] {
			out[k] = r.Candle.Ts
		}
	}
	return out
}
