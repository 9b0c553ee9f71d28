package port

import (
	"context"
	"time"

	"papertrade/internal/domain"
)

// HistoryRange describes which slice of history to fetch. End is exclusive;
// a zero End means "up to now". Limit caps the number of candles when the
// provider supports it.
type HistoryRange struct {
	Start time.Time
	End   time.Time
	Limit int
}

// HistoryProvider fetches historical candles. Implementations normalize the
// provider-native payload (field layout, timestamp units, sort order) into
// ascending canonical candles before returning.
type HistoryProvider interface {
	Name() string
	FetchCandles(ctx context.Context, symbol string, interval domain.Interval, rng HistoryRange) ([]domain.Candle, error)
}

// QuoteProvider is a pull transport: one request, one normalized tick.
type QuoteProvider interface {
	Name() string
	Quote(ctx context.Context, symbol string) (domain.Tick, error)
}

// StatsProvider serves the expensive 24h aggregates that refresh on a slower
// cadence than the price itself.
type StatsProvider interface {
	Name() string
	Stats(ctx context.Context, symbol string) (domain.DayStats, error)
}
