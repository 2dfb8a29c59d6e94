package progress

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/expirytrack/collector/internal/database"
	"github.com/expirytrack/collector/internal/model"
)

// SaveExpiries upserts the discovered expiry dates of an instrument.
func (s *Store) SaveExpiries(ctx context.Context, instrumentKey string, expiries []string) error {
	if len(expiries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range expiries {
		batch.Queue(`
			INSERT INTO expiries (instrument_key, expiry)
			VALUES ($1, $2)
			ON CONFLICT (instrument_key, expiry) DO UPDATE SET fetched_at = now()
		`, instrumentKey, e)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range expiries {
		if _, err := results.Exec(); err != nil {
			return database.WrapError(err)
		}
	}
	return nil
}

// SaveContracts upserts enumerated contract metadata.
func (s *Store) SaveContracts(ctx context.Context, contracts []model.Contract) error {
	if len(contracts) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range contracts {
		batch.Queue(`
			INSERT INTO contracts (contract_key, instrument_key, trading_symbol, expiry, kind, strike, option_type)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (contract_key) DO UPDATE SET
				trading_symbol = EXCLUDED.trading_symbol,
				strike = EXCLUDED.strike,
				option_type = EXCLUDED.option_type,
				fetched_at = now()
		`, c.ContractKey, c.InstrumentKey, c.TradingSymbol, c.Expiry, c.Kind, c.Strike, c.OptionType)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range contracts {
		if _, err := results.Exec(); err != nil {
			return database.WrapError(err)
		}
	}
	return nil
}

// Watermark returns the newest stored candle timestamp (µs) for the
// contract and interval, or 0 when nothing has been written yet.
func (s *Store) Watermark(ctx context.Context, contractKey, interval string) (int64, error) {
	var ts int64
	err := s.db.QueryRow(ctx, `
		SELECT last_ts FROM candle_watermarks
		WHERE contract_key = $1 AND interval = $2
	`, contractKey, interval).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, database.WrapError(err)
	}
	return ts, nil
}
