package fetch

import (
	"fmt"
	"time"

	"github.com/expirytrack/collector/internal/model"
)

// convertContract maps an upstream contract descriptor to the domain type.
func convertContract(ac apiContract, instrumentKey string) model.Contract {
	c := model.Contract{
		ContractKey:   ac.InstrumentKey,
		InstrumentKey: instrumentKey,
		TradingSymbol: ac.TradingSymbol,
		Expiry:        ac.Expiry,
	}
	switch ac.InstrumentType {
	case "CE", "PE":
		c.Kind = model.ContractOption
		c.OptionType = ac.InstrumentType
		c.Strike = ac.StrikePrice
	default:
		c.Kind = model.ContractFuture
	}
	return c
}

// convertCandles parses the positional candle arrays of the v3 endpoint:
// [timestamp, open, high, low, close, volume, open_interest].
func convertCandles(raw [][]any) ([]model.Candle, error) {
	candles := make([]model.Candle, 0, len(raw))
	for i, row := range raw {
		c, err := convertCandle(row)
		if err != nil {
			return nil, &ValidationError{Reason: fmt.Sprintf("candle %d: %v", i, err)}
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func convertCandle(row []any) (model.Candle, error) {
	if len(row) < 6 {
		return model.Candle{}, fmt.Errorf("expected at least 6 fields, got %d", len(row))
	}

	tsStr, ok := row[0].(string)
	if !ok {
		return model.Candle{}, fmt.Errorf("timestamp is %T, want string", row[0])
	}
	ts, err := time.Parse(time.RFC3339, tsStr)
	if err != nil {
		return model.Candle{}, fmt.Errorf("parse timestamp %q: %w", tsStr, err)
	}

	c := model.Candle{Ts: ts.UnixMicro()}

	prices := []*float64{&c.Open, &c.High, &c.Low, &c.Close}
	for i, dst := range prices {
		f, ok := row[i+1].(float64)
		if !ok {
			return model.Candle{}, fmt.Errorf("field %d is %T, want number", i+1, row[i+1])
		}
		*dst = f
	}

	vol, ok := row[5].(float64)
	if !ok {
		return model.Candle{}, fmt.Errorf("volume is %T, want number", row[5])
	}
	c.Volume = int64(vol)

	// Open interest is only present for derivatives endpoints.
	if len(row) > 6 {
		oi, ok := row[6].(float64)
		if !ok {
			return model.Candle{}, fmt.Errorf("open interest is %T, want number", row[6])
		}
		c.OpenInterest = int64(oi)
	}

	return c, nil
}
