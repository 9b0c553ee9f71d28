// Package exchange holds the crypto exchange adapters. Binance serves all
// three roles for exchange-traded pairs: push price stream, poll fallback,
// and historical klines.
package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"papertrade/internal/application/port"
	"papertrade/internal/domain"
)

const (
	defaultWSBaseURL   = "wss://stream.binance.com:9443"
	defaultRESTBaseURL = "https://api.binance.com"
	requestTimeout     = 4 * time.Second
)

// Binance adapter. Implements PriceFeed, QuoteProvider, StatsProvider and
// HistoryProvider.
type Binance struct {
	wsBaseURL   string
	restBaseURL string
	client      *http.Client
	validate    *validator.Validate
}

// NewBinance creates the adapter; empty URLs select the public endpoints.
func NewBinance(wsBaseURL, restBaseURL string) *Binance {
	if wsBaseURL == "" {
		wsBaseURL = defaultWSBaseURL
	}
	if restBaseURL == "" {
		restBaseURL = defaultRESTBaseURL
	}
	return &Binance{
		wsBaseURL:   strings.TrimRight(wsBaseURL, "/"),
		restBaseURL: strings.TrimRight(restBaseURL, "/"),
		client:      &http.Client{Timeout: requestTimeout},
		validate:    validator.New(),
	}
}

// Name returns the provider name.
func (b *Binance) Name() string { return "binance" }

// miniTicker is the Binance 24h mini-ticker stream payload.
type miniTicker struct {
	Symbol    string `json:"s" validate:"required"`
	Close     string `json:"c" validate:"required,numeric"`
	Open      string `json:"o" validate:"required,numeric"`
	High      string `json:"h" validate:"required,numeric"`
	Low       string `json:"l" validate:"required,numeric"`
	Volume    string `json:"v" validate:"required,numeric"`
	EventTime int64  `json:"E" validate:"required,gt=0"`
}

type combinedMsg struct {
	Stream string          `json:"stream" validate:"required"`
	Data   json.RawMessage `json:"data" validate:"required"`
}

// Subscribe opens the combined miniTicker stream for one symbol. Ticks carry
// 24h stats, so streamed symbols need no separate stats loop.
func (b *Binance) Subscribe(ctx context.Context, symbol string) (<-chan domain.Tick, error) {
	stream := strings.ToLower(symbol) + "@miniTicker"
	wsURL := fmt.Sprintf("%s/stream?streams=%s", b.wsBaseURL, stream)

	helper := &WSHelper{URL: wsURL}
	conn, err := helper.DialWS(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance dial: %w", err)
	}

	ticks := make(chan domain.Tick, 256)
	go func() {
		defer close(ticks)
		defer conn.Close()
		err := helper.ReadWithPing(ctx, conn, func(data []byte) {
			tick, err := b.parseMiniTicker(data)
			if err != nil {
				log.Debug().Err(err).Str("feed", "binance").Msg("stream payload discarded")
				return
			}
			select {
			case ticks <- tick:
			case <-ctx.Done():
			}
		})
		if err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("feed", "binance").Msg("stream read ended")
		}
	}()
	return ticks, nil
}

func (b *Binance) parseMiniTicker(data []byte) (domain.Tick, error) {
	var outer combinedMsg
	if err := json.Unmarshal(data, &outer); err != nil {
		return domain.Tick{}, fmt.Errorf("outer payload: %w", err)
	}
	var mt miniTicker
	if err := json.Unmarshal(outer.Data, &mt); err != nil {
		return domain.Tick{}, fmt.Errorf("miniTicker payload: %w", err)
	}
	if err := b.validate.Struct(&mt); err != nil {
		return domain.Tick{}, fmt.Errorf("miniTicker shape: %w", err)
	}

	closeP, err := strconv.ParseFloat(mt.Close, 64)
	if err != nil || closeP <= 0 {
		return domain.Tick{}, fmt.Errorf("invalid close %q", mt.Close)
	}
	openP, _ := strconv.ParseFloat(mt.Open, 64)
	high, _ := strconv.ParseFloat(mt.High, 64)
	low, _ := strconv.ParseFloat(mt.Low, 64)
	volume, _ := strconv.ParseFloat(mt.Volume, 64)

	stats := &domain.DayStats{
		Change: closeP - openP,
		High:   high,
		Low:    low,
		Volume: volume,
	}
	if openP > 0 {
		stats.ChangePercent = (closeP - openP) / openP * 100
	}
	return domain.Tick{
		Price:  closeP,
		Time:   time.UnixMilli(mt.EventTime),
		Stats:  stats,
		Source: b.Name(),
	}, nil
}

// Quote is the poll fallback when the stream cannot go live.
func (b *Binance) Quote(ctx context.Context, symbol string) (domain.Tick, error) {
	var payload struct {
		Symbol string `json:"symbol" validate:"required"`
		Price  string `json:"price" validate:"required,numeric"`
	}
	params := url.Values{"symbol": {strings.ToUpper(symbol)}}
	if err := b.getJSON(ctx, "/api/v3/ticker/price", params, &payload); err != nil {
		return domain.Tick{}, err
	}
	if err := b.validate.Struct(&payload); err != nil {
		return domain.Tick{}, fmt.Errorf("ticker shape: %w", err)
	}
	price, err := strconv.ParseFloat(payload.Price, 64)
	if err != nil || price <= 0 {
		return domain.Tick{}, fmt.Errorf("invalid price %q", payload.Price)
	}
	return domain.Tick{Price: price, Time: time.Now(), Source: b.Name()}, nil
}

// Stats fetches the 24h rolling statistics.
func (b *Binance) Stats(ctx context.Context, symbol string) (domain.DayStats, error) {
	var payload struct {
		PriceChange        string `json:"priceChange" validate:"required,numeric"`
		PriceChangePercent string `json:"priceChangePercent" validate:"required,numeric"`
		HighPrice          string `json:"highPrice" validate:"required,numeric"`
		LowPrice           string `json:"lowPrice" validate:"required,numeric"`
		Volume             string `json:"volume" validate:"required,numeric"`
	}
	params := url.Values{"symbol": {strings.ToUpper(symbol)}}
	if err := b.getJSON(ctx, "/api/v3/ticker/24hr", params, &payload); err != nil {
		return domain.DayStats{}, err
	}
	if err := b.validate.Struct(&payload); err != nil {
		return domain.DayStats{}, fmt.Errorf("24hr shape: %w", err)
	}
	change, _ := strconv.ParseFloat(payload.PriceChange, 64)
	changePct, _ := strconv.ParseFloat(payload.PriceChangePercent, 64)
	high, _ := strconv.ParseFloat(payload.HighPrice, 64)
	low, _ := strconv.ParseFloat(payload.LowPrice, 64)
	volume, _ := strconv.ParseFloat(payload.Volume, 64)
	return domain.DayStats{
		Change:        change,
		ChangePercent: changePct,
		High:          high,
		Low:           low,
		Volume:        volume,
	}, nil
}

// FetchCandles loads klines. Binance returns an array of arrays with
// millisecond open times and string prices, already ascending.
func (b *Binance) FetchCandles(ctx context.Context, symbol string, interval domain.Interval, rng port.HistoryRange) ([]domain.Candle, error) {
	params := url.Values{
		"symbol":   {strings.ToUpper(symbol)},
		"interval": {interval.Name},
	}
	if rng.Limit > 0 {
		params.Set("limit", strconv.Itoa(rng.Limit))
	}
	if !rng.Start.IsZero() {
		params.Set("startTime", strconv.FormatInt(rng.Start.UnixMilli(), 10))
	}
	if !rng.End.IsZero() {
		params.Set("endTime", strconv.FormatInt(rng.End.UnixMilli()-1, 10))
	}

	var rows [][]json.RawMessage
	if err := b.getJSON(ctx, "/api/v3/klines", params, &rows); err != nil {
		return nil, err
	}

	candles := make([]domain.Candle, 0, len(rows))
	for _, row := range rows {
		c, err := parseKlineRow(row)
		if err != nil {
			return nil, fmt.Errorf("kline row: %w", err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// parseKlineRow decodes one kline entry:
// [openTimeMs, "open", "high", "low", "close", "volume", ...].
func parseKlineRow(row []json.RawMessage) (domain.Candle, error) {
	if len(row) < 6 {
		return domain.Candle{}, fmt.Errorf("short row (%d fields)", len(row))
	}
	var openTime int64
	if err := json.Unmarshal(row[0], &openTime); err != nil {
		return domain.Candle{}, err
	}
	fields := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		var s string
		if err := json.Unmarshal(row[i], &s); err != nil {
			return domain.Candle{}, err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return domain.Candle{}, err
		}
		fields[i-1] = v
	}
	c := domain.Candle{
		OpenTime: time.UnixMilli(openTime),
		Open:     fields[0],
		High:     fields[1],
		Low:      fields[2],
		Close:    fields[3],
		Volume:   fields[4],
	}
	if err := c.Validate(); err != nil {
		return domain.Candle{}, err
	}
	return c, nil
}

func (b *Binance) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := b.restBaseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("binance http %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("binance payload: %w", err)
	}
	return nil
}
