package fetch

import (
	"fmt"

	"github.com/expirytrack/collector/internal/model"
)

// ValidateCandles checks shape and ranges of a fetched series. A violation
// returns a ValidationError naming the first offending candle; the series
// is rejected wholesale since partial corruption is not distinguishable
// from systematic corruption.
func ValidateCandles(candles []model.Candle) error {
	var prev int64
	for i, c := range candles {
		if err := validateCandle(c); err != nil {
			return &ValidationError{Reason: fmt.Sprintf("candle %d: %v", i, err)}
		}
		if c.Ts < prev {
			return &ValidationError{Reason: fmt.Sprintf("candle %d: timestamps not ascending", i)}
		}
		prev = c.Ts
	}
	return nil
}

func validateCandle(c model.Candle) error {
	if c.Ts <= 0 {
		return fmt.Errorf("timestamp %d not positive", c.Ts)
	}
	if c.High < c.Low {
		return fmt.Errorf("high %g below low %g", c.High, c.Low)
	}
	if c.Open < c.Low || c.Open > c.High {
		return fmt.Errorf("open %g outside [%g, %g]", c.Open, c.Low, c.High)
	}
	if c.Close < c.Low || c.Close > c.High {
		return fmt.Errorf("close %g outside [%g, %g]", c.Close, c.Low, c.High)
	}
	if c.Open < 0 || c.Low < 0 {
		return fmt.Errorf("negative price")
	}
	if c.Volume < 0 {
		return fmt.Errorf("negative volume %d", c.Volume)
	}
	if c.OpenInterest < 0 {
		return fmt.Errorf("negative open interest %d", c.OpenInterest)
	}
	return nil
}
