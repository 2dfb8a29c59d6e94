package fetch

import (
	"errors"
	"testing"

	"github.com/expirytrack/collector/internal/model"
)

func goodCandle(ts int64) model.Candle {
	return model.Candle{Ts: ts, Open: 101, High: 103, Low: 100, Close: 102, Volume: 10, OpenInterest: 5}
}

func TestValidateCandles_OK(t *testing.T) {
	candles := []model.Candle{goodCandle(1000), goodCandle(2000), goodCandle(3000)}
	if err := ValidateCandles(candles); err != nil {
		t.Errorf("ValidateCandles() error = %v", err)
	}
	if err := ValidateCandles(nil); err != nil {
		t.Errorf("ValidateCandles(nil) error = %v", err)
	}
}

func TestValidateCandles_Violations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.Candle)
	}{
		{"high below low", func(c *model.Candle) { c.High = 99 }},
		{"open above high", func(c *model.Candle) { c.Open = 110 }},
		{"close below low", func(c *model.Candle) { c.Close = 90 }},
		{"negative volume", func(c *model.Candle) { c.Volume = -1 }},
		{"negative open interest", func(c *model.Candle) { c.OpenInterest = -1 }},
		{"zero timestamp", func(c *model.Candle) { c.Ts = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := goodCandle(1000)
			tt.mutate(&c)
			err := ValidateCandles([]model.Candle{c})
			var valErr *ValidationError
			if !errors.As(err, &valErr) {
				t.Errorf("ValidateCandles() = %v, want ValidationError", err)
			}
		})
	}
}

func TestValidateCandles_OutOfOrder(t *testing.T) {
	candles := []model.Candle{goodCandle(2000), goodCandle(1000)}
	err := ValidateCandles(candles)
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Errorf("ValidateCandles() = %v, want ValidationError for descending timestamps", err)
	}
}

func TestConvertCandle_ShortRow(t *testing.T) {
	_, err := convertCandles([][]any{{"2024-01-24T09:15:00+05:30", 1.0, 2.0}})
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Errorf("convertCandles() = %v, want ValidationError", err)
	}
}

func TestConvertCandle_NoOpenInterest(t *testing.T) {
	candles, err := convertCandles([][]any{
		{"2024-01-24T09:15:00+05:30", 101.0, 103.0, 100.0, 102.0, 50.0},
	})
	if err != nil {
		t.Fatalf("convertCandles() error = %v", err)
	}
	if candles[0].OpenInterest != 0 {
		t.Errorf("OpenInterest = %d, want 0", candles[0].OpenInterest)
	}
	if candles[0].Volume != 50 {
		t.Errorf("Volume = %d, want 50", candles[0].Volume)
	}
}
