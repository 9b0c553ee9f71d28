package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade/internal/application/port"
	"papertrade/internal/domain"
	"papertrade/internal/state"
)

func newTestSlotManager(t *testing.T, build ChainBuilder) (*SlotManager, *state.Store) {
	t.Helper()
	store := state.New(2, 100_000)
	m := NewSlotManager(store, NewLedger(store), build, fastConfig(), AggregatorConfig{})
	t.Cleanup(m.StopAll)
	return m, store
}

func TestSetInstrumentStartsSession(t *testing.T) {
	q := &fakeQuote{name: "q", price: 10}
	build := func(symbol string, class domain.MarketClass) (ProviderChain, error) {
		assert.Equal(t, domain.MarketCrypto, class)
		return ProviderChain{Quotes: []port.QuoteProvider{q}}, nil
	}
	m, store := newTestSlotManager(t, build)

	require.NoError(t, m.SetInstrument(context.Background(), 0, "BTCUSDT", "1m"))

	sym, iv := store.SlotInstrument(0)
	assert.Equal(t, "BTCUSDT", sym)
	assert.Equal(t, time.Minute, iv.Duration)
	require.NotNil(t, m.Controller(0))

	assert.Eventually(t, func() bool {
		return store.Status(0) == domain.StatusConnected
	}, time.Second, 5*time.Millisecond)
}

func TestSetInstrumentReplacesSession(t *testing.T) {
	a := &fakeQuote{name: "a", price: 1}
	b := &fakeQuote{name: "b", price: 2}
	current := a
	build := func(string, domain.MarketClass) (ProviderChain, error) {
		return ProviderChain{Quotes: []port.QuoteProvider{current}}, nil
	}
	m, _ := newTestSlotManager(t, build)

	require.NoError(t, m.SetInstrument(context.Background(), 0, "BTCUSDT", "1m"))
	require.Eventually(t, func() bool { return a.callCount() > 0 }, time.Second, 5*time.Millisecond)

	current = b
	require.NoError(t, m.SetInstrument(context.Background(), 0, "ETHUSDT", "1m"))

	calls := a.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, a.callCount(), "old session must stop polling")
	assert.Greater(t, b.callCount(), 0)
}

func TestSetInstrumentValidation(t *testing.T) {
	build := func(string, domain.MarketClass) (ProviderChain, error) {
		return ProviderChain{}, nil
	}
	m, _ := newTestSlotManager(t, build)

	assert.Error(t, m.SetInstrument(context.Background(), 5, "BTCUSDT", "1m"))
	assert.Error(t, m.SetInstrument(context.Background(), 0, "BTCUSDT", "nope"))
}

func TestSetInstrumentBuilderFailure(t *testing.T) {
	build := func(string, domain.MarketClass) (ProviderChain, error) {
		return ProviderChain{}, errors.New("no providers for chain")
	}
	m, _ := newTestSlotManager(t, build)

	err := m.SetInstrument(context.Background(), 0, "tron:TAddr", "1m")
	assert.Error(t, err)
	assert.Nil(t, m.Controller(0))
}

func TestBackfillWithoutInstrument(t *testing.T) {
	build := func(string, domain.MarketClass) (ProviderChain, error) {
		return ProviderChain{}, nil
	}
	m, _ := newTestSlotManager(t, build)
	assert.Error(t, m.Backfill(context.Background(), 0, 100))
}

func TestSetActivePromotesSlot(t *testing.T) {
	build := func(string, domain.MarketClass) (ProviderChain, error) {
		return ProviderChain{}, nil
	}
	m, store := newTestSlotManager(t, build)

	m.SetActive(1)
	assert.Equal(t, 1, store.ActiveSlot())
}
