// Package state holds the process-wide observable state container: per-slot
// candle series, tickers and connection status, plus the single portfolio.
// The ledger and the candle aggregators are the only writers; every other
// component reads deep-copied snapshots or subscribes to change events.
package state

import (
	"sync"

	"papertrade/internal/domain"
)

// ChangeKind identifies which part of the store a notification covers.
type ChangeKind int

const (
	KindCandles ChangeKind = iota
	KindTicker
	KindStatus
	KindPortfolio
	KindActiveSlot
)

// Change is delivered to subscribers on every write. Slot is -1 for
// portfolio changes; active-slot changes carry the newly active slot.
type Change struct {
	Kind ChangeKind
	Slot int
}

// Subscriber receives change events synchronously in the writer's goroutine.
// Subscribers must be fast and must not write back into the store.
type Subscriber func(Change)

type slot struct {
	symbol   string
	interval domain.Interval
	candles  []domain.Candle
	ticker   domain.Ticker
	status   domain.ConnectionStatus
}

// Store is an explicit, constructed state container, passed to the
// components that need it rather than held as a package-level singleton.
type Store struct {
	mu        sync.RWMutex
	slots     []slot
	active    int
	portfolio domain.Portfolio
	orders    []domain.Order
	trades    []domain.TradeRecord

	subMu  sync.Mutex
	subs   map[int]Subscriber
	nextID int
}

// New creates a store with the given number of chart slots and starting cash
// balance. Slot 0 is active initially.
func New(slotCount int, initialBalance float64) *Store {
	s := &Store{
		slots: make([]slot, slotCount),
		subs:  make(map[int]Subscriber),
	}
	for i := range s.slots {
		s.slots[i].status = domain.StatusDisconnected
	}
	s.portfolio = domain.Portfolio{
		Balance:     initialBalance,
		Equity:      initialBalance,
		BuyingPower: initialBalance,
	}
	return s
}

// Subscribe registers a change listener and returns its unsubscribe func.
// Unsubscribing is deterministic: once it returns, the subscriber will not
// be called again.
func (s *Store) Subscribe(fn Subscriber) (unsubscribe func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) notify(ch Change) {
	s.subMu.Lock()
	subs := make([]Subscriber, 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()
	for _, fn := range subs {
		fn(ch)
	}
}

// SlotCount returns the number of chart slots.
func (s *Store) SlotCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slots)
}

// ActiveSlot returns the currently active slot index.
func (s *Store) ActiveSlot() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SetActiveSlot promotes a slot to active. Its existing state is already in
// the store, so no re-fetch accompanies the switch.
func (s *Store) SetActiveSlot(i int) {
	s.mu.Lock()
	if i < 0 || i >= len(s.slots) || i == s.active {
		s.mu.Unlock()
		return
	}
	s.active = i
	s.mu.Unlock()
	s.notify(Change{Kind: KindActiveSlot, Slot: i})
}

// SetSlotInstrument records which symbol and timeframe a slot is showing and
// clears its series.
func (s *Store) SetSlotInstrument(i int, symbol string, interval domain.Interval) {
	s.mu.Lock()
	s.slots[i].symbol = symbol
	s.slots[i].interval = interval
	s.slots[i].candles = nil
	s.slots[i].ticker = domain.Ticker{Symbol: symbol}
	s.mu.Unlock()
	s.notify(Change{Kind: KindCandles, Slot: i})
}

// SlotInstrument returns the symbol and timeframe a slot is wired to.
func (s *Store) SlotInstrument(i int) (string, domain.Interval) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slots[i].symbol, s.slots[i].interval
}

// MutateCandles applies fn to a slot's series under the store lock, keeping
// the read-modify-write atomic. fn receives the live slice and returns the
// replacement.
func (s *Store) MutateCandles(i int, fn func([]domain.Candle) []domain.Candle) {
	s.mu.Lock()
	s.slots[i].candles = fn(s.slots[i].candles)
	s.mu.Unlock()
	s.notify(Change{Kind: KindCandles, Slot: i})
}

// Candles returns a copy of a slot's series.
func (s *Store) Candles(i int) []domain.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Candle, len(s.slots[i].candles))
	copy(out, s.slots[i].candles)
	return out
}

// SetTicker replaces a slot's ticker projection.
func (s *Store) SetTicker(i int, t domain.Ticker) {
	s.mu.Lock()
	s.slots[i].ticker = t
	s.mu.Unlock()
	s.notify(Change{Kind: KindTicker, Slot: i})
}

// Ticker returns a slot's ticker snapshot.
func (s *Store) Ticker(i int) domain.Ticker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slots[i].ticker
}

// SetStatus updates a slot's connection status.
func (s *Store) SetStatus(i int, st domain.ConnectionStatus) {
	s.mu.Lock()
	if s.slots[i].status == st {
		s.mu.Unlock()
		return
	}
	s.slots[i].status = st
	s.mu.Unlock()
	s.notify(Change{Kind: KindStatus, Slot: i})
}

// Status returns a slot's connection status.
func (s *Store) Status(i int) domain.ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slots[i].status
}

// MutatePortfolio runs fn against the canonical portfolio under the store
// lock and appends whatever orders and trade records the mutation produced.
// This is the ledger's single write path.
func (s *Store) MutatePortfolio(fn func(*domain.Portfolio) ([]domain.Order, []domain.TradeRecord)) {
	s.mu.Lock()
	orders, trades := fn(&s.portfolio)
	s.orders = append(s.orders, orders...)
	s.trades = append(s.trades, trades...)
	s.mu.Unlock()
	s.notify(Change{Kind: KindPortfolio, Slot: -1})
}

// Portfolio returns a deep-copied account snapshot.
func (s *Store) Portfolio() domain.Portfolio {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.portfolio.Clone()
}

// Orders returns a copy of the order history.
func (s *Store) Orders() []domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Order, len(s.orders))
	copy(out, s.orders)
	return out
}

// Trades returns a copy of the trade history.
func (s *Store) Trades() []domain.TradeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TradeRecord, len(s.trades))
	copy(out, s.trades)
	return out
}
