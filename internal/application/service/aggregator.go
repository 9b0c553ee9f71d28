package service

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"papertrade/internal/application/port"
	"papertrade/internal/domain"
	"papertrade/internal/state"
)

// LatePolicy decides what happens to a tick whose candle boundary is older
// than the current last candle.
type LatePolicy int

const (
	// DropLate discards late ticks; historical candles are never rewritten.
	DropLate LatePolicy = iota
	// RewriteLate folds a late tick into the historical candle it belongs
	// to, adjusting that candle's high/low/close.
	RewriteLate
)

// AggregatorConfig bounds the series and selects the late-tick policy.
type AggregatorConfig struct {
	// MaxCandles caps the retained series length; older candles are evicted
	// from the front. Zero means the default of 1000.
	MaxCandles int
	Late       LatePolicy
}

const defaultMaxCandles = 1000

// CandleAggregator owns the authoritative OHLCV series for one chart slot's
// (symbol, timeframe) pair. It merges historical batches, folds live ticks
// into the rightmost candle, and opens new candles on boundary crossings.
// All series writes go through the store, keeping them atomic.
type CandleAggregator struct {
	store    *state.Store
	slot     int
	symbol   string
	interval domain.Interval
	cfg      AggregatorConfig
	log      zerolog.Logger
}

// NewCandleAggregator creates an aggregator bound to one store slot.
func NewCandleAggregator(store *state.Store, slot int, symbol string, interval domain.Interval, cfg AggregatorConfig) *CandleAggregator {
	if cfg.MaxCandles <= 0 {
		cfg.MaxCandles = defaultMaxCandles
	}
	return &CandleAggregator{
		store:    store,
		slot:     slot,
		symbol:   symbol,
		interval: interval,
		cfg:      cfg,
		log: log.With().
			Str("component", "aggregator").
			Str("symbol", symbol).
			Str("interval", interval.Name).
			Logger(),
	}
}

// Symbol returns the symbol this aggregator serves.
func (a *CandleAggregator) Symbol() string { return a.symbol }

// Interval returns the timeframe this aggregator serves.
func (a *CandleAggregator) Interval() domain.Interval { return a.interval }

// MergeHistory folds a historical batch into the series: the batch is
// normalized to ascending order, overlap with the existing series is
// filtered out on OpenTime, and the result stays strictly increasing. Used
// for both the initial load and backward pagination.
func (a *CandleAggregator) MergeHistory(batch []domain.Candle) {
	batch = NormalizeSeries(batch)
	if len(batch) == 0 {
		return
	}
	a.store.MutateCandles(a.slot, func(existing []domain.Candle) []domain.Candle {
		merged := MergeSeries(existing, batch)
		return a.trim(merged)
	})
}

// ApplyTick folds a live tick into the series. A tick inside the current
// last candle's bucket updates high/low/close; a later bucket opens a new
// candle seeded from the price; an older bucket is dropped or rewritten per
// the configured policy.
func (a *CandleAggregator) ApplyTick(t domain.Tick) {
	if t.Price <= 0 || t.Time.IsZero() {
		return
	}
	bucket := a.interval.Bucket(t.Time)
	a.store.MutateCandles(a.slot, func(series []domain.Candle) []domain.Candle {
		if len(series) == 0 {
			return append(series, seedCandle(bucket, t.Price))
		}
		last := &series[len(series)-1]
		switch {
		case bucket.Equal(last.OpenTime):
			foldPrice(last, t.Price)
		case bucket.After(last.OpenTime):
			series = append(series, seedCandle(bucket, t.Price))
			series = a.trim(series)
		default:
			if a.cfg.Late == DropLate {
				a.log.Debug().Time("bucket", bucket).Msg("late tick dropped")
				break
			}
			if i := findBucket(series, bucket); i >= 0 {
				foldPrice(&series[i], t.Price)
			}
		}
		return series
	})
}

// Backfill fetches one older contiguous block ending at the current oldest
// candle and prepends it. Called when the visible range approaches the front
// of the series.
func (a *CandleAggregator) Backfill(ctx context.Context, provider port.HistoryProvider, count int) error {
	series := a.store.Candles(a.slot)
	if len(series) == 0 || count <= 0 {
		return nil
	}
	oldest := series[0].OpenTime
	rng := port.HistoryRange{
		Start: oldest.Add(-time.Duration(count) * a.interval.Duration),
		End:   oldest,
		Limit: count,
	}
	batch, err := provider.FetchCandles(ctx, a.symbol, a.interval, rng)
	if err != nil {
		return err
	}
	a.MergeHistory(batch)
	return nil
}

func (a *CandleAggregator) trim(series []domain.Candle) []domain.Candle {
	if over := len(series) - a.cfg.MaxCandles; over > 0 {
		series = append(series[:0:0], series[over:]...)
	}
	return series
}

func seedCandle(bucket time.Time, price float64) domain.Candle {
	return domain.Candle{
		OpenTime: bucket,
		Open:     price,
		High:     price,
		Low:      price,
		Close:    price,
	}
}

func foldPrice(c *domain.Candle, price float64) {
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Close = price
}

// findBucket locates the candle with the given open time, or -1.
func findBucket(series []domain.Candle, bucket time.Time) int {
	i := sort.Search(len(series), func(i int) bool {
		return !series[i].OpenTime.Before(bucket)
	})
	if i < len(series) && series[i].OpenTime.Equal(bucket) {
		return i
	}
	return -1
}

// NormalizeSeries sorts a provider batch ascending by open time, dropping
// zero-time entries and duplicate buckets. Adapters already convert units
// and field layouts; this is the last line of defense before the merge.
func NormalizeSeries(batch []domain.Candle) []domain.Candle {
	out := make([]domain.Candle, 0, len(batch))
	for _, c := range batch {
		if c.OpenTime.IsZero() {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })
	dedup := out[:0]
	for _, c := range out {
		if len(dedup) > 0 && dedup[len(dedup)-1].OpenTime.Equal(c.OpenTime) {
			continue
		}
		dedup = append(dedup, c)
	}
	return dedup
}

// MergeSeries combines an existing series with a normalized batch. Existing
// candles win on overlapping open times, and the result is strictly
// increasing.
func MergeSeries(existing, batch []domain.Candle) []domain.Candle {
	if len(existing) == 0 {
		return batch
	}
	have := make(map[int64]struct{}, len(existing))
	for _, c := range existing {
		have[c.OpenTime.UnixMilli()] = struct{}{}
	}
	merged := make([]domain.Candle, 0, len(existing)+len(batch))
	for _, c := range batch {
		if _, dup := have[c.OpenTime.UnixMilli()]; dup {
			continue
		}
		merged = append(merged, c)
	}
	merged = append(merged, existing...)
	sort.Slice(merged, func(i, j int) bool { return merged[i].OpenTime.Before(merged[j].OpenTime) })
	return merged
}
