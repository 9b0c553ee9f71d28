// Package equities adapts the Yahoo Finance v8 chart API for listed stocks:
// historical candles, polled quotes with market-session awareness, and day
// stats. Yahoo delivers parallel arrays with second-precision timestamps and
// occasional null rows; everything is normalized here before it reaches the
// aggregator.
package equities

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"papertrade/internal/application/port"
	"papertrade/internal/domain"
)

const (
	defaultBaseURL = "https://query1.finance.yahoo.com"
	requestTimeout = 4 * time.Second
	// Yahoo blocks requests without a browser user agent.
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// ErrNoChartData reports an empty or unusable chart response.
var ErrNoChartData = errors.New("no chart data returned")

// Yahoo adapter. Implements HistoryProvider, QuoteProvider and
// StatsProvider; equities have no push transport, so polling is the only
// live path.
type Yahoo struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

// NewYahoo creates the adapter; an empty URL selects the public endpoint.
func NewYahoo(baseURL string) *Yahoo {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Yahoo{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: requestTimeout},
		now:     time.Now,
	}
}

// Name returns the provider name.
func (y *Yahoo) Name() string { return "yahoo" }

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
	} `json:"chart"`
}

type tradingPeriod struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

type chartMeta struct {
	Symbol               string   `json:"symbol"`
	RegularMarketPrice   float64  `json:"regularMarketPrice"`
	PreviousClose        float64  `json:"previousClose"`
	RegularMarketDayHigh float64  `json:"regularMarketDayHigh"`
	RegularMarketDayLow  float64  `json:"regularMarketDayLow"`
	RegularMarketVolume  float64  `json:"regularMarketVolume"`
	PostMarketPrice      *float64 `json:"postMarketPrice"`
	PreMarketPrice       *float64 `json:"preMarketPrice"`
	PostMarketChange     *float64 `json:"postMarketChange"`
	PreMarketChange      *float64 `json:"preMarketChange"`
	CurrentTradingPeriod *struct {
		Pre     tradingPeriod `json:"pre"`
		Regular tradingPeriod `json:"regular"`
		Post    tradingPeriod `json:"post"`
	} `json:"currentTradingPeriod"`
}

type chartResult struct {
	Meta       chartMeta `json:"meta"`
	Timestamp  []int64   `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

// FetchCandles loads the chart for a symbol. Rows with any null OHLC value
// are skipped; timestamps arrive in seconds.
func (y *Yahoo) FetchCandles(ctx context.Context, symbol string, interval domain.Interval, rng port.HistoryRange) ([]domain.Candle, error) {
	result, err := y.fetchChart(ctx, symbol, interval.Name, rangeForInterval(interval, rng))
	if err != nil {
		return nil, err
	}
	if len(result.Indicators.Quote) == 0 {
		return nil, ErrNoChartData
	}
	quote := result.Indicators.Quote[0]

	candles := make([]domain.Candle, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		o := at(quote.Open, i)
		h := at(quote.High, i)
		l := at(quote.Low, i)
		c := at(quote.Close, i)
		if o == nil || h == nil || l == nil || c == nil {
			continue
		}
		candle := domain.Candle{
			OpenTime: time.Unix(ts, 0),
			Open:     *o,
			High:     *h,
			Low:      *l,
			Close:    *c,
		}
		if v := at(quote.Volume, i); v != nil {
			candle.Volume = *v
		}
		if candle.Validate() != nil {
			continue
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// Quote polls the 1m/1d chart with extended hours included and derives the
// session phase from the current trading periods. The price follows the
// phase: post-market price after hours, pre-market price before the open,
// the regular close when the market is closed.
func (y *Yahoo) Quote(ctx context.Context, symbol string) (domain.Tick, error) {
	result, err := y.fetchChart(ctx, symbol, "1m", "1d", "includePrePost=true")
	if err != nil {
		return domain.Tick{}, err
	}
	meta := &result.Meta

	regular := meta.RegularMarketPrice
	previousClose := meta.PreviousClose
	if previousClose == 0 {
		previousClose = regular
	}

	now := y.now().Unix()
	phase := domain.PhaseRegular
	if p := meta.CurrentTradingPeriod; p != nil {
		switch {
		case now >= p.Pre.Start && now < p.Pre.End:
			phase = domain.PhasePre
		case now >= p.Regular.Start && now < p.Regular.End:
			phase = domain.PhaseRegular
		case now >= p.Post.Start && now < p.Post.End:
			phase = domain.PhasePost
		default:
			phase = domain.PhaseClosed
		}
	}

	lastClose := lastValidClose(result, regular)

	var price, change float64
	switch phase {
	case domain.PhasePost:
		price = orElse(meta.PostMarketPrice, lastClose)
		change = orElse(meta.PostMarketChange, price-previousClose)
	case domain.PhasePre:
		price = orElse(meta.PreMarketPrice, lastClose)
		change = orElse(meta.PreMarketChange, price-previousClose)
	default:
		price = regular
		change = regular - previousClose
	}
	if price <= 0 {
		return domain.Tick{}, ErrNoChartData
	}

	stats := &domain.DayStats{
		Change: change,
		High:   meta.RegularMarketDayHigh,
		Low:    meta.RegularMarketDayLow,
		Volume: meta.RegularMarketVolume,
	}
	if previousClose > 0 {
		stats.ChangePercent = change / previousClose * 100
	}
	return domain.Tick{
		Price:  price,
		Time:   y.now(),
		Stats:  stats,
		Phase:  phase,
		Source: y.Name(),
	}, nil
}

// Stats reuses the quote path; Yahoo's day figures ride on the same chart
// metadata.
func (y *Yahoo) Stats(ctx context.Context, symbol string) (domain.DayStats, error) {
	tick, err := y.Quote(ctx, symbol)
	if err != nil {
		return domain.DayStats{}, err
	}
	return *tick.Stats, nil
}

func (y *Yahoo) fetchChart(ctx context.Context, symbol, interval, rangeSpec string, extra ...string) (*chartResult, error) {
	// The _t parameter busts intermediary caches.
	params := []string{
		"interval=" + url.QueryEscape(interval),
		"range=" + url.QueryEscape(rangeSpec),
		"_t=" + strconv.FormatInt(y.now().Unix(), 10),
	}
	params = append(params, extra...)
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", y.baseURL, url.PathEscape(symbol), strings.Join(params, "&"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo http %d: %s", resp.StatusCode, string(body))
	}

	var payload chartResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("yahoo payload: %w", err)
	}
	if len(payload.Chart.Result) == 0 {
		return nil, ErrNoChartData
	}
	return &payload.Chart.Result[0], nil
}

// rangeForInterval maps a history request onto Yahoo's coarse range
// parameter.
func rangeForInterval(interval domain.Interval, rng port.HistoryRange) string {
	span := interval.Duration * time.Duration(rng.Limit)
	if !rng.Start.IsZero() && !rng.End.IsZero() {
		span = rng.End.Sub(rng.Start)
	}
	switch {
	case span <= 0:
		return "1d"
	case span <= 24*time.Hour:
		return "1d"
	case span <= 5*24*time.Hour:
		return "5d"
	case span <= 30*24*time.Hour:
		return "1mo"
	case span <= 90*24*time.Hour:
		return "3mo"
	case span <= 365*24*time.Hour:
		return "1y"
	default:
		return "max"
	}
}

// lastValidClose walks backwards to the last non-null close, falling back to
// the regular market price.
func lastValidClose(result *chartResult, fallback float64) float64 {
	if len(result.Indicators.Quote) == 0 {
		return fallback
	}
	closes := result.Indicators.Quote[0].Close
	for i := len(closes) - 1; i >= 0; i-- {
		if closes[i] != nil && *closes[i] > 0 {
			return *closes[i]
		}
	}
	return fallback
}

func at(values []*float64, i int) *float64 {
	if i < len(values) {
		return values[i]
	}
	return nil
}

func orElse(v *float64, fallback float64) float64 {
	if v != nil {
		return *v
	}
	return fallback
}
