package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade/internal/domain"
	"papertrade/internal/state"
)

func newTestLedger(balance float64) (*Ledger, *state.Store) {
	store := state.New(1, balance)
	return NewLedger(store), store
}

func TestExecuteOrderOpensPosition(t *testing.T) {
	ledger, store := newTestLedger(100_000)

	order, err := ledger.ExecuteOrder("BTCUSDT", domain.SideBuy, 1, 50_000)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFilled, order.Status)
	assert.Equal(t, 1.0, order.FilledQuantity)
	assert.Equal(t, 50_000.0, order.AvgFillPrice)

	pf := store.Portfolio()
	assert.Equal(t, 50_000.0, pf.Balance)
	assert.Equal(t, 100_000.0, pf.Equity)
	assert.Equal(t, pf.Balance, pf.BuyingPower)
	require.Len(t, pf.Positions, 1)
	assert.Equal(t, domain.SideBuy, pf.Positions[0].Side)
	assert.Equal(t, 1.0, pf.Positions[0].Quantity)

	require.Len(t, store.Trades(), 1)
	assert.Equal(t, 0.0, store.Trades()[0].PnL)
}

func TestRoundTripRestoresBalance(t *testing.T) {
	ledger, store := newTestLedger(10_000)

	_, err := ledger.ExecuteOrder("ETHUSDT", domain.SideBuy, 2, 1_000)
	require.NoError(t, err)
	_, err = ledger.ExecuteOrder("ETHUSDT", domain.SideSell, 2, 1_000)
	require.NoError(t, err)

	pf := store.Portfolio()
	assert.InDelta(t, 10_000, pf.Balance, 1e-9)
	assert.InDelta(t, 10_000, pf.Equity, 1e-9)
	assert.Empty(t, pf.Positions)
	assert.InDelta(t, 0, pf.TotalPnL, 1e-9)
}

func TestBuyTickSellScenario(t *testing.T) {
	ledger, store := newTestLedger(100_000)

	_, err := ledger.ExecuteOrder("BTCUSDT", domain.SideBuy, 1, 50_000)
	require.NoError(t, err)

	ledger.OnPriceUpdate("BTCUSDT", 55_000)
	pf := store.Portfolio()
	assert.InDelta(t, 105_000, pf.Equity, 1e-9)
	assert.InDelta(t, 50_000, pf.Balance, 1e-9)

	_, err = ledger.ExecuteOrder("BTCUSDT", domain.SideSell, 1, 55_000)
	require.NoError(t, err)

	pf = store.Portfolio()
	assert.InDelta(t, 105_000, pf.Balance, 1e-9)
	assert.InDelta(t, 105_000, pf.Equity, 1e-9)
	assert.InDelta(t, 5_000, pf.DailyPnL, 1e-9)
	assert.InDelta(t, 5_000, pf.TotalPnL, 1e-9)
	assert.Empty(t, pf.Positions)
}

func TestBuyAddsWeightedAverage(t *testing.T) {
	ledger, store := newTestLedger(10_000)

	_, err := ledger.ExecuteOrder("AAPL", domain.SideBuy, 10, 100)
	require.NoError(t, err)
	_, err = ledger.ExecuteOrder("AAPL", domain.SideBuy, 10, 200)
	require.NoError(t, err)

	pf := store.Portfolio()
	require.Len(t, pf.Positions, 1)
	assert.InDelta(t, 150, pf.Positions[0].AvgEntryPrice, 1e-9)
	assert.InDelta(t, 20, pf.Positions[0].Quantity, 1e-9)
}

func TestPartialCloseSplitEquivalence(t *testing.T) {
	run := func(fractions []float64) domain.Portfolio {
		ledger, store := newTestLedger(100_000)
		_, err := ledger.ExecuteOrder("AAPL", domain.SideBuy, 100, 100)
		require.NoError(t, err)
		for _, f := range fractions {
			_, err = ledger.ExecuteOrder("AAPL", domain.SideSell, 100*f, 110)
			require.NoError(t, err)
		}
		return store.Portfolio()
	}

	half := run([]float64{0.5, 0.5})
	skew := run([]float64{0.75, 0.25})

	assert.InDelta(t, half.Balance, skew.Balance, 1e-9)
	assert.InDelta(t, half.TotalPnL, skew.TotalPnL, 1e-9)
	assert.Empty(t, half.Positions)
	assert.Empty(t, skew.Positions)
	assert.InDelta(t, 1_000, half.TotalPnL, 1e-9)
}

func TestFlipRealizesAndOpensOpposite(t *testing.T) {
	ledger, store := newTestLedger(100_000)

	_, err := ledger.ExecuteOrder("TSLA", domain.SideBuy, 10, 100)
	require.NoError(t, err)
	_, err = ledger.ExecuteOrder("TSLA", domain.SideSell, 15, 120)
	require.NoError(t, err)

	pf := store.Portfolio()
	require.Len(t, pf.Positions, 1)
	pos := pf.Positions[0]
	assert.Equal(t, domain.SideSell, pos.Side)
	assert.InDelta(t, 5, pos.Quantity, 1e-9)
	assert.InDelta(t, 120, pos.AvgEntryPrice, 1e-9)

	// (120-100)*10 realized on the close leg.
	assert.InDelta(t, 200, pf.TotalPnL, 1e-9)

	trades := store.Trades()
	require.Len(t, trades, 3)
	assert.InDelta(t, 200, trades[1].PnL, 1e-9)
	assert.InDelta(t, 0, trades[2].PnL, 1e-9)
	assert.InDelta(t, 10, trades[1].Quantity, 1e-9)
	assert.InDelta(t, 5, trades[2].Quantity, 1e-9)

	// One order for the flip, one for the open.
	assert.Len(t, store.Orders(), 2)
}

func TestCloseWithinDustEpsilonIsFullClose(t *testing.T) {
	ledger, store := newTestLedger(100_000)

	_, err := ledger.ExecuteOrder("BTCUSDT", domain.SideBuy, 1, 10_000)
	require.NoError(t, err)
	_, err = ledger.ExecuteOrder("BTCUSDT", domain.SideSell, 0.99995, 10_000)
	require.NoError(t, err)

	pf := store.Portfolio()
	assert.Empty(t, pf.Positions)
	assert.InDelta(t, 100_000, pf.Balance, 1e-9)
}

func TestSellWithoutPositionRejected(t *testing.T) {
	ledger, store := newTestLedger(1_000)

	_, err := ledger.ExecuteOrder("AAPL", domain.SideSell, 1, 100)
	assert.ErrorIs(t, err, ErrNoPosition)
	assert.Empty(t, store.Orders())
	assert.Empty(t, store.Trades())
}

func TestBuyBeyondBuyingPowerRejected(t *testing.T) {
	ledger, store := newTestLedger(100)

	_, err := ledger.ExecuteOrder("AAPL", domain.SideBuy, 2, 100)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Empty(t, store.Orders())

	pf := store.Portfolio()
	assert.Equal(t, 100.0, pf.Balance)
}

func TestBuyToCoverShortSkipsFundsCheck(t *testing.T) {
	ledger, store := newTestLedger(1_000)

	_, err := ledger.ExecuteOrder("AAPL", domain.SideSell, 5, 100)
	require.NoError(t, err)
	require.Len(t, store.Portfolio().Positions, 1)

	// Covering the short is not opening exposure, so buying power does not
	// gate it even though 5*100 exceeds the remaining cash.
	_, err = ledger.ExecuteOrder("AAPL", domain.SideBuy, 5, 100)
	require.NoError(t, err)
	assert.Empty(t, store.Portfolio().Positions)
}

func TestInvalidIntentRejected(t *testing.T) {
	ledger, _ := newTestLedger(1_000)

	_, err := ledger.ExecuteOrder("AAPL", domain.SideBuy, 0, 100)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = ledger.ExecuteOrder("AAPL", domain.SideBuy, 1, -5)
	assert.ErrorIs(t, err, ErrInvalidPrice)
	_, err = ledger.ExecuteOrder("AAPL", "hold", 1, 100)
	assert.Error(t, err)
}

func TestClosePositionUsesMarkPrice(t *testing.T) {
	ledger, store := newTestLedger(100_000)

	_, err := ledger.ExecuteOrder("BTCUSDT", domain.SideBuy, 1, 50_000)
	require.NoError(t, err)
	ledger.OnPriceUpdate("BTCUSDT", 52_000)

	order, err := ledger.ClosePosition("BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 52_000, order.Price, 1e-9)

	pf := store.Portfolio()
	assert.Empty(t, pf.Positions)
	assert.InDelta(t, 102_000, pf.Balance, 1e-9)

	_, err = ledger.ClosePosition("BTCUSDT")
	assert.ErrorIs(t, err, ErrNoPosition)
}

func TestSetBalance(t *testing.T) {
	ledger, store := newTestLedger(1_000)

	require.NoError(t, ledger.SetBalance(5_000))
	pf := store.Portfolio()
	assert.Equal(t, 5_000.0, pf.Balance)
	assert.Equal(t, 5_000.0, pf.Equity)

	assert.Error(t, ledger.SetBalance(-1))
}

func TestOnPriceUpdateIgnoresUnknownSymbol(t *testing.T) {
	ledger, store := newTestLedger(1_000)

	ledger.OnPriceUpdate("DOGEUSDT", 0.1)
	pf := store.Portfolio()
	assert.Equal(t, 1_000.0, pf.Equity)
	assert.Empty(t, pf.Positions)
}

func TestDailyPnLResetsOnDayRollover(t *testing.T) {
	ledger, store := newTestLedger(100_000)
	day1 := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return day1 }

	_, err := ledger.ExecuteOrder("AAPL", domain.SideBuy, 10, 100)
	require.NoError(t, err)
	_, err = ledger.ExecuteOrder("AAPL", domain.SideSell, 10, 110)
	require.NoError(t, err)
	assert.InDelta(t, 100, store.Portfolio().DailyPnL, 1e-9)

	ledger.now = func() time.Time { return day1.Add(24 * time.Hour) }
	_, err = ledger.ExecuteOrder("AAPL", domain.SideBuy, 10, 100)
	require.NoError(t, err)
	_, err = ledger.ExecuteOrder("AAPL", domain.SideSell, 10, 105)
	require.NoError(t, err)

	pf := store.Portfolio()
	assert.InDelta(t, 50, pf.DailyPnL, 1e-9)
	assert.InDelta(t, 150, pf.TotalPnL, 1e-9)
}
