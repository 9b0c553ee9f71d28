package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"papertrade/internal/domain"
	"papertrade/internal/state"
)

// ChainBuilder assembles the provider chain for a symbol once its market
// class is known. Wired in main from the infrastructure adapters.
type ChainBuilder func(symbol string, class domain.MarketClass) (ProviderChain, error)

// SlotManager runs one session/aggregator pair per chart slot. Background
// slots keep updating alongside the active one, so promoting a slot hands
// over its existing state without a re-fetch.
type SlotManager struct {
	store   *state.Store
	ledger  *Ledger
	build   ChainBuilder
	failCfg FailoverConfig
	aggCfg  AggregatorConfig

	mu          sync.Mutex
	controllers []*FailoverController
}

// NewSlotManager creates a manager for as many slots as the store holds.
func NewSlotManager(store *state.Store, ledger *Ledger, build ChainBuilder, failCfg FailoverConfig, aggCfg AggregatorConfig) *SlotManager {
	return &SlotManager{
		store:       store,
		ledger:      ledger,
		build:       build,
		failCfg:     failCfg,
		aggCfg:      aggCfg,
		controllers: make([]*FailoverController, store.SlotCount()),
	}
}

// SetInstrument points a slot at a symbol and timeframe. The previous
// session for the slot is stopped synchronously before the new one starts.
func (m *SlotManager) SetInstrument(ctx context.Context, slot int, symbol, intervalName string) error {
	if slot < 0 || slot >= m.store.SlotCount() {
		return fmt.Errorf("slot %d out of range", slot)
	}
	interval, err := domain.ParseInterval(intervalName)
	if err != nil {
		return err
	}
	class := domain.ClassifySymbol(symbol)
	chain, err := m.build(symbol, class)
	if err != nil {
		return fmt.Errorf("build provider chain for %s: %w", symbol, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev := m.controllers[slot]; prev != nil {
		prev.Stop()
	}
	m.store.SetSlotInstrument(slot, symbol, interval)

	agg := NewCandleAggregator(m.store, slot, symbol, interval, m.aggCfg)
	ctrl := NewFailoverController(m.store, slot, agg, chain, m.failCfg, m.ledger.OnPriceUpdate)
	m.controllers[slot] = ctrl
	ctrl.Start(ctx)

	log.Info().
		Int("slot", slot).
		Str("symbol", symbol).
		Str("interval", interval.Name).
		Str("class", class.String()).
		Msg("slot instrument set")
	return nil
}

// SetActive promotes a slot. Its session already runs in the background, so
// switching is a pure state change.
func (m *SlotManager) SetActive(slot int) {
	m.store.SetActiveSlot(slot)
}

// Backfill loads one older block of candles into a slot's series.
func (m *SlotManager) Backfill(ctx context.Context, slot, count int) error {
	m.mu.Lock()
	ctrl := m.controllers[slot]
	m.mu.Unlock()
	if ctrl == nil {
		return fmt.Errorf("slot %d has no instrument", slot)
	}
	return ctrl.Backfill(ctx, count)
}

// Controller exposes a slot's controller, mainly for tests.
func (m *SlotManager) Controller(slot int) *FailoverController {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.controllers[slot]
}

// StopAll tears down every running session. After it returns no session
// emits further effects.
func (m *SlotManager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ctrl := range m.controllers {
		if ctrl != nil {
			ctrl.Stop()
		}
	}
}
