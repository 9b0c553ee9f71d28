package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade/internal/application/service"
	"papertrade/internal/domain"
	"papertrade/internal/state"
)

type fakeSlots struct {
	instruments map[int]string
	active      int
	backfilled  int
}

func (f *fakeSlots) SetInstrument(_ context.Context, slot int, symbol, interval string) error {
	if f.instruments == nil {
		f.instruments = make(map[int]string)
	}
	f.instruments[slot] = symbol + "/" + interval
	return nil
}

func (f *fakeSlots) SetActive(slot int) { f.active = slot }
func (f *fakeSlots) Backfill(_ context.Context, _ int, count int) error {
	f.backfilled = count
	return nil
}

func newTestAPI(t *testing.T) (*gin.Engine, *state.Store, *fakeSlots) {
	t.Helper()
	store := state.New(2, 100_000)
	minute := domain.Interval{Name: "1m", Duration: time.Minute}
	store.SetSlotInstrument(0, "BTCUSDT", minute)
	store.SetSlotInstrument(1, "AAPL", minute)

	slots := &fakeSlots{}
	handler := NewHandler(store, service.NewLedger(store), slots)
	return handler.SetupRoutes(), store, slots
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	router, _, _ := newTestAPI(t)
	w := doJSON(router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"OK"`)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestGetPortfolio(t *testing.T) {
	router, _, _ := newTestAPI(t)
	w := doJSON(router, http.MethodGet, "/portfolio", "")
	require.Equal(t, http.StatusOK, w.Code)

	var pf domain.Portfolio
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pf))
	assert.Equal(t, 100_000.0, pf.Balance)
	assert.Equal(t, 100_000.0, pf.Equity)
}

func TestPlaceOrderFills(t *testing.T) {
	router, store, _ := newTestAPI(t)

	w := doJSON(router, http.MethodPost, "/orders",
		`{"symbol":"BTCUSDT","side":"buy","quantity":1,"price":50000}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var order domain.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
	assert.Equal(t, domain.OrderFilled, order.Status)

	pf := store.Portfolio()
	assert.Equal(t, 50_000.0, pf.Balance)
	require.Len(t, pf.Positions, 1)
}

func TestPlaceOrderUsesLiveTickerWhenPriceOmitted(t *testing.T) {
	router, store, _ := newTestAPI(t)
	store.SetTicker(0, domain.Ticker{Symbol: "BTCUSDT", Price: 42_000})

	w := doJSON(router, http.MethodPost, "/orders",
		`{"symbol":"BTCUSDT","side":"buy","quantity":1}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var order domain.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
	assert.InDelta(t, 42_000, order.Price, 1e-9)
}

func TestPlaceOrderWithoutPriceOrTickerRejected(t *testing.T) {
	router, _, _ := newTestAPI(t)
	w := doJSON(router, http.MethodPost, "/orders",
		`{"symbol":"DOGEUSDT","side":"buy","quantity":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPlaceOrderRejections(t *testing.T) {
	router, _, _ := newTestAPI(t)

	// Sell with no position.
	w := doJSON(router, http.MethodPost, "/orders",
		`{"symbol":"AAPL","side":"sell","quantity":1,"price":100}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Order value above buying power.
	w = doJSON(router, http.MethodPost, "/orders",
		`{"symbol":"BTCUSDT","side":"buy","quantity":100,"price":50000}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// Malformed body.
	w = doJSON(router, http.MethodPost, "/orders", `{"symbol":"BTCUSDT"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Unknown side fails binding.
	w = doJSON(router, http.MethodPost, "/orders",
		`{"symbol":"BTCUSDT","side":"hold","quantity":1,"price":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClosePositionEndpoint(t *testing.T) {
	router, store, _ := newTestAPI(t)

	w := doJSON(router, http.MethodPost, "/orders",
		`{"symbol":"BTCUSDT","side":"buy","quantity":1,"price":50000}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(router, http.MethodPost, "/positions/BTCUSDT/close", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Empty(t, store.Portfolio().Positions)

	w = doJSON(router, http.MethodPost, "/positions/BTCUSDT/close", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetBalanceEndpoint(t *testing.T) {
	router, store, _ := newTestAPI(t)

	w := doJSON(router, http.MethodPost, "/balance", `{"amount":250000}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 250_000.0, store.Portfolio().Balance)

	w = doJSON(router, http.MethodPost, "/balance", `{"amount":-5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetSlots(t *testing.T) {
	router, store, _ := newTestAPI(t)
	store.SetActiveSlot(1)

	w := doJSON(router, http.MethodGet, "/slots", "")
	require.Equal(t, http.StatusOK, w.Code)

	var views []struct {
		Slot   int    `json:"slot"`
		Symbol string `json:"symbol"`
		Active bool   `json:"active"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	require.Len(t, views, 2)
	assert.Equal(t, "BTCUSDT", views[0].Symbol)
	assert.False(t, views[0].Active)
	assert.True(t, views[1].Active)
}

func TestGetCandlesWithLimit(t *testing.T) {
	router, store, _ := newTestAPI(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.MutateCandles(0, func(c []domain.Candle) []domain.Candle {
		for i := 0; i < 5; i++ {
			c = append(c, domain.Candle{OpenTime: base.Add(time.Duration(i) * time.Minute), Close: float64(i)})
		}
		return c
	})

	w := doJSON(router, http.MethodGet, "/slots/0/candles?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)

	var candles []domain.Candle
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &candles))
	require.Len(t, candles, 2)
	assert.Equal(t, 3.0, candles[0].Close)
	assert.Equal(t, 4.0, candles[1].Close)

	w = doJSON(router, http.MethodGet, "/slots/9/candles", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, http.MethodGet, "/slots/0/candles?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTickerEndpoint(t *testing.T) {
	router, store, _ := newTestAPI(t)
	store.SetTicker(0, domain.Ticker{Symbol: "BTCUSDT", Price: 50_000})
	store.SetStatus(0, domain.StatusConnected)

	w := doJSON(router, http.MethodGet, "/slots/0/ticker", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"connected"`)
	assert.Contains(t, w.Body.String(), `50000`)
}

func TestSetInstrumentEndpoint(t *testing.T) {
	router, _, slots := newTestAPI(t)

	w := doJSON(router, http.MethodPost, "/slots/1/instrument",
		`{"symbol":"tsla","interval":"5m"}`)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	assert.Equal(t, "TSLA/5m", slots.instruments[1])

	w = doJSON(router, http.MethodPost, "/slots/1/instrument", `{"symbol":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestActivateSlotEndpoint(t *testing.T) {
	router, _, slots := newTestAPI(t)

	w := doJSON(router, http.MethodPost, "/slots/1/activate", "")
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, slots.active)
}

func TestBackfillEndpoint(t *testing.T) {
	router, _, slots := newTestAPI(t)

	w := doJSON(router, http.MethodPost, "/slots/0/backfill", `{"count":150}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 150, slots.backfilled)

	// Empty body selects the default block size.
	w = doJSON(router, http.MethodPost, "/slots/0/backfill", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 300, slots.backfilled)
}

func TestCORSPreflight(t *testing.T) {
	router, _, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodOptions, "/portfolio", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDPropagated(t *testing.T) {
	router, _, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/portfolio", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "fixed-id", w.Header().Get("X-Request-ID"))
}
