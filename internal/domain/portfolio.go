package domain

import "time"

// Side is an order or position direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other direction.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus is the lifecycle state of an order. Market orders in this
// system fill immediately and completely, so filled is the only terminal
// state ever produced.
type OrderStatus string

const (
	OrderFilled   OrderStatus = "filled"
	OrderRejected OrderStatus = "rejected"
)

// OrderType distinguishes order kinds. Only market orders are modeled.
type OrderType string

const OrderMarket OrderType = "market"

// Order is a paper order. Created on execution, immediately terminal.
type Order struct {
	ID             string      `json:"id"`
	Symbol         string      `json:"symbol"`
	Side           Side        `json:"side"`
	Type           OrderType   `json:"type"`
	Quantity       float64     `json:"quantity"`
	Price          float64     `json:"price"`
	Status         OrderStatus `json:"status"`
	FilledQuantity float64     `json:"filledQuantity"`
	AvgFillPrice   float64     `json:"avgFillPrice"`
	CreatedAt      time.Time   `json:"createdAt"`
	FilledAt       time.Time   `json:"filledAt"`
}

// Position is the single open exposure for a symbol. Long XOR short, no
// hedging; destroyed when quantity reaches zero.
type Position struct {
	Symbol               string    `json:"symbol"`
	Side                 Side      `json:"side"`
	Quantity             float64   `json:"quantity"`
	AvgEntryPrice        float64   `json:"avgEntryPrice"`
	CurrentPrice         float64   `json:"currentPrice"`
	UnrealizedPnL        float64   `json:"unrealizedPnL"`
	UnrealizedPnLPercent float64   `json:"unrealizedPnLPercent"`
	OpenedAt             time.Time `json:"openedAt"`
}

// Direction returns +1 for long positions and -1 for short ones.
func (p *Position) Direction() float64 {
	if p.Side == SideSell {
		return -1
	}
	return 1
}

// MarkToMarket recomputes the position value fields at the given price.
func (p *Position) MarkToMarket(price float64) {
	p.CurrentPrice = price
	p.UnrealizedPnL = (price - p.AvgEntryPrice) * p.Quantity * p.Direction()
	if basis := p.AvgEntryPrice * p.Quantity; basis > 0 {
		p.UnrealizedPnLPercent = p.UnrealizedPnL / basis * 100
	} else {
		p.UnrealizedPnLPercent = 0
	}
}

// TradeRecord is an immutable, append-only ledger entry. PnL holds only the
// realized portion of the trade.
type TradeRecord struct {
	ID       string    `json:"id"`
	Symbol   string    `json:"symbol"`
	Side     Side      `json:"side"`
	Quantity float64   `json:"quantity"`
	Price    float64   `json:"price"`
	PnL      float64   `json:"pnl"`
	Time     time.Time `json:"time"`
}

// Portfolio is the full account state. Equity must always equal balance plus
// the mark-to-market value of open positions; buying power equals balance
// because no margin is modeled.
type Portfolio struct {
	Balance     float64    `json:"balance"`
	Equity      float64    `json:"equity"`
	BuyingPower float64    `json:"buyingPower"`
	Positions   []Position `json:"positions"`
	DailyPnL    float64    `json:"dailyPnL"`
	TotalPnL    float64    `json:"totalPnL"`
}

// FindPosition returns the open position for symbol, or nil.
func (pf *Portfolio) FindPosition(symbol string) *Position {
	for i := range pf.Positions {
		if pf.Positions[i].Symbol == symbol {
			return &pf.Positions[i]
		}
	}
	return nil
}

// RemovePosition drops the position for symbol, if present.
func (pf *Portfolio) RemovePosition(symbol string) {
	for i := range pf.Positions {
		if pf.Positions[i].Symbol == symbol {
			pf.Positions = append(pf.Positions[:i], pf.Positions[i+1:]...)
			return
		}
	}
}

// RecomputeEquity rederives equity and buying power from balance and open
// positions. Called after every mutation; equity is never drifted
// independently.
func (pf *Portfolio) RecomputeEquity() {
	equity := pf.Balance
	for i := range pf.Positions {
		equity += pf.Positions[i].CurrentPrice * pf.Positions[i].Quantity
	}
	pf.Equity = equity
	pf.BuyingPower = pf.Balance
}

// Clone returns a deep copy safe to hand to readers.
func (pf *Portfolio) Clone() Portfolio {
	out := *pf
	out.Positions = make([]Position, len(pf.Positions))
	copy(out.Positions, pf.Positions)
	return out
}
