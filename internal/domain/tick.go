package domain

import (
	"strings"
	"time"
)

// DayStats carries 24h aggregate figures attached to some ticks. They are
// refreshed on a slower cadence than the price itself.
type DayStats struct {
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Volume        float64 `json:"volume"`
}

// Tick is a single real-time price observation. Ticks are ephemeral: they
// fold into the current candle and the ticker projection, nothing else.
type Tick struct {
	Price  float64
	Time   time.Time
	Stats  *DayStats
	Phase  MarketPhase
	Source string
}

// MarketPhase is the trading session an equity quote was taken in.
type MarketPhase string

const (
	PhasePre     MarketPhase = "pre"
	PhaseRegular MarketPhase = "regular"
	PhasePost    MarketPhase = "post"
	PhaseClosed  MarketPhase = "closed"
)

// Ticker is the denormalized display snapshot for one symbol, recomputed on
// every tick.
type Ticker struct {
	Symbol        string      `json:"symbol"`
	Price         float64     `json:"price"`
	Change        float64     `json:"change"`
	ChangePercent float64     `json:"changePercent"`
	High          float64     `json:"high"`
	Low           float64     `json:"low"`
	Volume        float64     `json:"volume"`
	MarketPhase   MarketPhase `json:"marketPhase,omitempty"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// ConnectionStatus describes the health of one slot's data path.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)

// MarketClass determines which provider chain serves a symbol.
type MarketClass int

const (
	// MarketCrypto is an exchange-traded pair, e.g. "BTCUSDT".
	MarketCrypto MarketClass = iota
	// MarketEquity is a listed stock, e.g. "AAPL".
	MarketEquity
	// MarketOnChain is a token priced by on-chain services, written as
	// "<chain>:<address>", e.g. "solana:So11111111111111111111111111111112".
	MarketOnChain
)

func (m MarketClass) String() string {
	switch m {
	case MarketCrypto:
		return "crypto"
	case MarketOnChain:
		return "onchain"
	default:
		return "equity"
	}
}

// cryptoQuoteSuffixes are the quote assets that mark a symbol as an exchange
// pair.
var cryptoQuoteSuffixes = []string{"USDT", "USDC", "BUSD", "BTC", "ETH"}

// ClassifySymbol derives the market class from symbol syntax: a
// "chain:address" form is an on-chain token, a known quote-asset suffix is a
// crypto pair, anything else is an equity.
func ClassifySymbol(symbol string) MarketClass {
	s := strings.TrimSpace(symbol)
	if strings.Contains(s, ":") {
		return MarketOnChain
	}
	u := strings.ToUpper(s)
	for _, suffix := range cryptoQuoteSuffixes {
		if strings.HasSuffix(u, suffix) && len(u) > len(suffix) {
			return MarketCrypto
		}
	}
	return MarketEquity
}

// SplitOnChainSymbol splits a "chain:address" symbol. The boolean is false
// when the symbol is not in on-chain form.
func SplitOnChainSymbol(symbol string) (chain, address string, ok bool) {
	chain, address, ok = strings.Cut(strings.TrimSpace(symbol), ":")
	if !ok || chain == "" || address == "" {
		return "", "", false
	}
	return strings.ToLower(chain), address, true
}
