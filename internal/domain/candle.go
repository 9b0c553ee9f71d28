package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Candle is one OHLCV aggregate for a fixed time bucket.
// OpenTime marks the start of the bucket.
type Candle struct {
	OpenTime time.Time `json:"openTime"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Validate checks basic OHLC consistency.
func (c *Candle) Validate() error {
	if c.OpenTime.IsZero() {
		return errors.New("candle open time is zero")
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return errors.New("candle prices must be positive")
	}
	if c.High < c.Low {
		return errors.New("candle high cannot be less than low")
	}
	if c.Open < c.Low || c.Open > c.High {
		return errors.New("candle open must be within high/low")
	}
	if c.Close < c.Low || c.Close > c.High {
		return errors.New("candle close must be within high/low")
	}
	if c.Volume < 0 {
		return errors.New("candle volume cannot be negative")
	}
	return nil
}

// Interval is a candle bucket duration ("1m", "5m", "1h", ...).
type Interval struct {
	Name     string
	Duration time.Duration
}

// ParseInterval parses compact interval notation: <n><unit> with unit one of
// s, m, h, d, w.
func ParseInterval(s string) (Interval, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if len(s) < 2 {
		return Interval{}, fmt.Errorf("invalid interval %q", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return Interval{}, fmt.Errorf("invalid interval %q", s)
	}
	var unit time.Duration
	switch s[len(s)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return Interval{}, fmt.Errorf("invalid interval unit in %q", s)
	}
	return Interval{Name: s, Duration: time.Duration(n) * unit}, nil
}

// Bucket returns the open time of the candle the timestamp falls into.
// Alignment follows time.Truncate, which counts multiples of the duration
// from Jan 1 of year 1 UTC (a Monday): "1d" buckets open at midnight UTC
// and "1w" buckets open on Monday 00:00 UTC.
func (iv Interval) Bucket(ts time.Time) time.Time {
	return ts.Truncate(iv.Duration)
}
