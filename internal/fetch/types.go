package fetch

import (
	"context"

	"github.com/expirytrack/collector/internal/model"
)

// Fetcher is the upstream capability the collection engine depends on.
type Fetcher interface {
	// ListExpiries returns the expiry dates (YYYY-MM-DD, ascending) for
	// which expired contracts exist under the instrument.
	ListExpiries(ctx context.Context, instrumentKey string) ([]string, error)

	// ListContracts returns the option and future contracts of one expiry.
	ListContracts(ctx context.Context, instrumentKey, expiry string) ([]model.Contract, error)

	// FetchCandles returns the candle series of an expired contract over
	// [from, to] (YYYY-MM-DD, inclusive), oldest first.
	FetchCandles(ctx context.Context, contractKey, interval, from, to string) ([]model.Candle, error)
}

// expiriesResponse from GET /v2/expired-instruments/expiries
type expiriesResponse struct {
	Status string   `json:"status"`
	Data   []string `json:"data"`
}

// contractsResponse from GET /v2/expired-instruments/{option,future}/contract
type contractsResponse struct {
	Status string        `json:"status"`
	Data   []apiContract `json:"data"`
}

// apiContract is a contract descriptor as the upstream returns it.
type apiContract struct {
	InstrumentKey  string  `json:"instrument_key"`
	TradingSymbol  string  `json:"trading_symbol"`
	Expiry         string  `json:"expiry"`
	InstrumentType string  `json:"instrument_type"` // CE, PE or FUT
	StrikePrice    float64 `json:"strike_price"`
	Segment        string  `json:"segment"`
}

// candlesResponse from GET /v3/historical-candle/...
//
// Candles arrive as positional arrays:
// [timestamp, open, high, low, close, volume, open_interest]
type candlesResponse struct {
	Status string `json:"status"`
	Data   struct {
		Candles [][]any `json:"candles"`
	} `json:"data"`
}
