package service

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"papertrade/internal/domain"
	"papertrade/internal/state"
)

// Order intent validation errors. Invalid intents are rejected before any
// portfolio mutation; the accounting core itself never fails.
var (
	ErrInvalidQuantity   = errors.New("order quantity must be finite and positive")
	ErrInvalidPrice      = errors.New("order price must be finite and positive")
	ErrNoPosition        = errors.New("no open position for symbol")
	ErrInsufficientFunds = errors.New("order value exceeds buying power")
)

// closeEpsilon treats a close within 0.01% of the full position size as a
// full close, so rounding on the caller side never leaves dust behind.
const closeEpsilon = 1e-4

// Ledger converts order intents and price updates into consistent account
// state. It is the single writer of the portfolio; all mutations go through
// the store so they are atomic with respect to each other.
type Ledger struct {
	store *state.Store
	log   zerolog.Logger
	now   func() time.Time

	pnlDay time.Time
}

// NewLedger creates a ledger bound to the given store.
func NewLedger(store *state.Store) *Ledger {
	return &Ledger{
		store: store,
		log:   log.With().Str("component", "ledger").Logger(),
		now:   time.Now,
	}
}

// ExecuteOrder fills a market order at the given price and applies the
// resulting position arithmetic: open, weighted-average add, partial close,
// full close, or flip. Every accepted order appends one filled Order and one
// or more TradeRecords.
func (l *Ledger) ExecuteOrder(symbol string, side domain.Side, quantity, price float64) (domain.Order, error) {
	if err := validateIntent(quantity, price); err != nil {
		return domain.Order{}, err
	}
	if side != domain.SideBuy && side != domain.SideSell {
		return domain.Order{}, fmt.Errorf("unknown order side %q", side)
	}

	var (
		order    domain.Order
		rejected error
	)
	l.store.MutatePortfolio(func(pf *domain.Portfolio) ([]domain.Order, []domain.TradeRecord) {
		pos := pf.FindPosition(symbol)
		if err := l.guardIntent(pf, pos, side, quantity, price); err != nil {
			rejected = err
			return nil, nil
		}

		now := l.now()
		trades := l.apply(pf, pos, symbol, side, quantity, price, now)
		order = domain.Order{
			ID:             uuid.NewString(),
			Symbol:         symbol,
			Side:           side,
			Type:           domain.OrderMarket,
			Quantity:       quantity,
			Price:          price,
			Status:         domain.OrderFilled,
			FilledQuantity: quantity,
			AvgFillPrice:   price,
			CreatedAt:      now,
			FilledAt:       now,
		}
		pf.RecomputeEquity()
		return []domain.Order{order}, trades
	})
	if rejected != nil {
		return domain.Order{}, rejected
	}

	l.log.Info().
		Str("symbol", symbol).
		Str("side", string(side)).
		Float64("qty", quantity).
		Float64("price", price).
		Msg("order filled")
	return order, nil
}

// guardIntent enforces the caller-side rejections: a sell with nothing to
// sell and a buy whose value exceeds buying power. These are not ledger
// invariants, so they run before any mutation.
func (l *Ledger) guardIntent(pf *domain.Portfolio, pos *domain.Position, side domain.Side, quantity, price float64) error {
	if pos == nil && side == domain.SideSell {
		return ErrNoPosition
	}
	opensExposure := pos == nil || pos.Side == side
	if side == domain.SideBuy && opensExposure && quantity*price > pf.BuyingPower {
		return ErrInsufficientFunds
	}
	return nil
}

// apply performs the position arithmetic. Inputs are already validated; this
// is pure accounting and cannot fail.
func (l *Ledger) apply(pf *domain.Portfolio, pos *domain.Position, symbol string, side domain.Side, quantity, price float64, now time.Time) []domain.TradeRecord {
	if pos == nil {
		pf.Positions = append(pf.Positions, newPosition(symbol, side, quantity, price, now))
		pf.Balance -= quantity * price
		return []domain.TradeRecord{l.record(symbol, side, quantity, price, 0, now)}
	}

	if pos.Side == side {
		// Same direction: weighted-average the entry price.
		total := pos.Quantity + quantity
		pos.AvgEntryPrice = (pos.AvgEntryPrice*pos.Quantity + price*quantity) / total
		pos.Quantity = total
		pos.MarkToMarket(price)
		pf.Balance -= quantity * price
		return []domain.TradeRecord{l.record(symbol, side, quantity, price, 0, now)}
	}

	// Opposite direction: close some, all, or flip.
	fullClose := math.Abs(quantity-pos.Quantity) <= pos.Quantity*closeEpsilon
	if fullClose || quantity < pos.Quantity {
		closeQty := quantity
		if fullClose {
			closeQty = pos.Quantity
		}
		pnl := (price - pos.AvgEntryPrice) * closeQty * pos.Direction()
		pf.Balance += pos.AvgEntryPrice*closeQty + pnl
		l.realize(pf, pnl, now)
		if fullClose {
			pf.RemovePosition(symbol)
		} else {
			pos.Quantity -= closeQty
			pos.MarkToMarket(price)
		}
		return []domain.TradeRecord{l.record(symbol, side, closeQty, price, pnl, now)}
	}

	// Flip: realize over the whole position, then open the remainder in the
	// order's direction. Two trade records.
	closeQty := pos.Quantity
	pnl := (price - pos.AvgEntryPrice) * closeQty * pos.Direction()
	pf.Balance += pos.AvgEntryPrice*closeQty + pnl
	l.realize(pf, pnl, now)
	pf.RemovePosition(symbol)

	remainder := quantity - closeQty
	pf.Positions = append(pf.Positions, newPosition(symbol, side, remainder, price, now))
	pf.Balance -= remainder * price

	return []domain.TradeRecord{
		l.record(symbol, side, closeQty, price, pnl, now),
		l.record(symbol, side, remainder, price, 0, now),
	}
}

// ClosePosition fully closes the open position for symbol at its current
// mark price.
func (l *Ledger) ClosePosition(symbol string) (domain.Order, error) {
	pf := l.store.Portfolio()
	pos := pf.FindPosition(symbol)
	if pos == nil {
		return domain.Order{}, ErrNoPosition
	}
	price := pos.CurrentPrice
	if price <= 0 {
		price = pos.AvgEntryPrice
	}
	return l.ExecuteOrder(symbol, pos.Side.Opposite(), pos.Quantity, price)
}

// SetBalance resets the cash balance. Open positions are untouched; equity
// is recomputed.
func (l *Ledger) SetBalance(amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return errors.New("balance must be finite and non-negative")
	}
	l.store.MutatePortfolio(func(pf *domain.Portfolio) ([]domain.Order, []domain.TradeRecord) {
		pf.Balance = amount
		pf.RecomputeEquity()
		return nil, nil
	})
	return nil
}

// OnPriceUpdate marks the open position for symbol to market and recomputes
// equity. Symbols without a position are ignored.
func (l *Ledger) OnPriceUpdate(symbol string, price float64) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return
	}
	pf := l.store.Portfolio()
	if pf.FindPosition(symbol) == nil {
		return
	}
	l.store.MutatePortfolio(func(pf *domain.Portfolio) ([]domain.Order, []domain.TradeRecord) {
		if pos := pf.FindPosition(symbol); pos != nil {
			pos.MarkToMarket(price)
			pf.RecomputeEquity()
		}
		return nil, nil
	})
}

// realize accumulates realized P&L into the running totals. The daily total
// resets when the calendar day rolls over.
func (l *Ledger) realize(pf *domain.Portfolio, pnl float64, now time.Time) {
	day := now.UTC().Truncate(24 * time.Hour)
	if !day.Equal(l.pnlDay) {
		l.pnlDay = day
		pf.DailyPnL = 0
	}
	pf.DailyPnL += pnl
	pf.TotalPnL += pnl
}

func (l *Ledger) record(symbol string, side domain.Side, quantity, price, pnl float64, now time.Time) domain.TradeRecord {
	return domain.TradeRecord{
		ID:       uuid.NewString(),
		Symbol:   symbol,
		Side:     side,
		Quantity: quantity,
		Price:    price,
		PnL:      pnl,
		Time:     now,
	}
}

func newPosition(symbol string, side domain.Side, quantity, price float64, now time.Time) domain.Position {
	pos := domain.Position{
		Symbol:        symbol,
		Side:          side,
		Quantity:      quantity,
		AvgEntryPrice: price,
		OpenedAt:      now,
	}
	pos.MarkToMarket(price)
	return pos
}

func validateIntent(quantity, price float64) error {
	if quantity <= 0 || math.IsNaN(quantity) || math.IsInf(quantity, 0) {
		return ErrInvalidQuantity
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return ErrInvalidPrice
	}
	return nil
}
