package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade/internal/application/port"
	"papertrade/internal/domain"
)

func TestParseMiniTicker(t *testing.T) {
	b := NewBinance("", "")
	payload := []byte(`{"stream":"btcusdt@miniTicker","data":{
		"e":"24hrMiniTicker","E":1717243800000,"s":"BTCUSDT",
		"c":"50500.10","o":"50000.00","h":"51000.00","l":"49500.00",
		"v":"1234.5","q":"62000000"}}`)

	tick, err := b.parseMiniTicker(payload)
	require.NoError(t, err)
	assert.InDelta(t, 50500.10, tick.Price, 1e-9)
	assert.Equal(t, time.UnixMilli(1717243800000), tick.Time)
	assert.Equal(t, "binance", tick.Source)

	require.NotNil(t, tick.Stats)
	assert.InDelta(t, 500.10, tick.Stats.Change, 1e-6)
	assert.InDelta(t, 1.0002, tick.Stats.ChangePercent, 1e-4)
	assert.InDelta(t, 51000, tick.Stats.High, 1e-9)
	assert.InDelta(t, 49500, tick.Stats.Low, 1e-9)
}

func TestParseMiniTickerRejectsBadPayloads(t *testing.T) {
	b := NewBinance("", "")

	cases := [][]byte{
		[]byte(`not json`),
		[]byte(`{"stream":"x","data":{"s":"BTCUSDT"}}`),
		[]byte(`{"stream":"x","data":{"e":"t","E":1,"s":"BTCUSDT","c":"-1","o":"1","h":"1","l":"1","v":"1"}}`),
	}
	for _, payload := range cases {
		_, err := b.parseMiniTicker(payload)
		assert.Error(t, err, string(payload))
	}
}

func TestQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"symbol":"BTCUSDT","price":"50000.25"}`))
	}))
	defer srv.Close()

	b := NewBinance("", srv.URL)
	tick, err := b.Quote(context.Background(), "btcusdt")
	require.NoError(t, err)
	assert.InDelta(t, 50000.25, tick.Price, 1e-9)
}

func TestQuoteErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":-1121,"msg":"Invalid symbol."}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	b := NewBinance("", srv.URL)
	_, err := b.Quote(context.Background(), "NOPE")
	assert.Error(t, err)
}

func TestStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/24hr", r.URL.Path)
		w.Write([]byte(`{"priceChange":"-94.99","priceChangePercent":"-0.19",
			"highPrice":"50500","lowPrice":"49000","volume":"2000.5"}`))
	}))
	defer srv.Close()

	b := NewBinance("", srv.URL)
	stats, err := b.Stats(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, -94.99, stats.Change, 1e-9)
	assert.InDelta(t, -0.19, stats.ChangePercent, 1e-9)
	assert.InDelta(t, 2000.5, stats.Volume, 1e-9)
}

func TestFetchCandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "BTCUSDT", q.Get("symbol"))
		assert.Equal(t, "1m", q.Get("interval"))
		assert.Equal(t, "2", q.Get("limit"))
		w.Write([]byte(`[
			[1717243800000,"100.0","110.0","99.0","105.0","12.5",1717243859999,"0",1,"0","0","0"],
			[1717243860000,"105.0","106.0","101.0","102.0","8.1",1717243919999,"0",1,"0","0","0"]
		]`))
	}))
	defer srv.Close()

	b := NewBinance("", srv.URL)
	iv := domain.Interval{Name: "1m", Duration: time.Minute}
	candles, err := b.FetchCandles(context.Background(), "BTCUSDT", iv, port.HistoryRange{Limit: 2})
	require.NoError(t, err)
	require.Len(t, candles, 2)

	assert.Equal(t, time.UnixMilli(1717243800000), candles[0].OpenTime)
	assert.InDelta(t, 100, candles[0].Open, 1e-9)
	assert.InDelta(t, 110, candles[0].High, 1e-9)
	assert.InDelta(t, 99, candles[0].Low, 1e-9)
	assert.InDelta(t, 105, candles[0].Close, 1e-9)
	assert.InDelta(t, 12.5, candles[0].Volume, 1e-9)
	assert.True(t, candles[1].OpenTime.After(candles[0].OpenTime))
}

func TestFetchCandlesRejectsMalformedRow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[[1717243800000,"100.0"]]`))
	}))
	defer srv.Close()

	b := NewBinance("", srv.URL)
	iv := domain.Interval{Name: "1m", Duration: time.Minute}
	_, err := b.FetchCandles(context.Background(), "BTCUSDT", iv, port.HistoryRange{})
	assert.Error(t, err)
}
