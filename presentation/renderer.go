package presentation

import (
	"fmt"
	"strings"

	"papertrade/internal/domain"
)

// ANSI color codes
const (
	ansiReset    = "\033[0m"
	ansiRed      = "\033[31m"
	ansiGreen    = "\033[32m"
	ansiYellow   = "\033[33m"
	ansiDim      = "\033[2m"
	ansiClearEOL = "\033[K"
)

// Colorize applies ANSI color to a string
func Colorize(s, color string) string {
	return color + s + ansiReset
}

// Renderer renders the active ticker and portfolio line to the terminal.
type Renderer struct{}

// NewRenderer creates a new Renderer
func NewRenderer() *Renderer {
	return &Renderer{}
}

// RenderLine renders one status line: active symbol, price with day change,
// connection status, and the account totals.
func (r *Renderer) RenderLine(ticker domain.Ticker, status domain.ConnectionStatus, pf domain.Portfolio, live bool) string {
	var sb strings.Builder

	if live {
		sb.WriteString("\r")
	}

	sb.WriteString(Colorize("[PAPER] ", ansiDim))

	sym := ticker.Symbol
	if sym == "" {
		sym = "--"
	}
	sb.WriteString(sym)
	sb.WriteString(" ")

	price := "--"
	pCol := ansiYellow
	if ticker.Price > 0 {
		price = fmt.Sprintf("%.4f", ticker.Price)
		switch {
		case ticker.Change > 0:
			pCol = ansiGreen
		case ticker.Change < 0:
			pCol = ansiRed
		}
	}
	sb.WriteString(Colorize(price, pCol))
	if ticker.Price > 0 {
		sb.WriteString(" ")
		sb.WriteString(Colorize(fmt.Sprintf("%+.2f%%", ticker.ChangePercent), pCol))
	}
	if ticker.MarketPhase != "" && ticker.MarketPhase != domain.PhaseRegular {
		sb.WriteString(Colorize(" ["+string(ticker.MarketPhase)+"]", ansiDim))
	}

	stCol := ansiYellow
	switch status {
	case domain.StatusConnected:
		stCol = ansiGreen
	case domain.StatusError, domain.StatusDisconnected:
		stCol = ansiRed
	}
	sb.WriteString(" ")
	sb.WriteString(Colorize(string(status), stCol))

	sb.WriteString(Colorize("  ||  ", ansiDim))
	sb.WriteString(fmt.Sprintf("bal=%.2f eq=%.2f", pf.Balance, pf.Equity))

	dCol := ansiYellow
	switch {
	case pf.DailyPnL > 0:
		dCol = ansiGreen
	case pf.DailyPnL < 0:
		dCol = ansiRed
	}
	sb.WriteString(" ")
	sb.WriteString(Colorize(fmt.Sprintf("day=%+.2f", pf.DailyPnL), dCol))
	sb.WriteString(Colorize(fmt.Sprintf(" pos=%d", len(pf.Positions)), ansiDim))

	if live {
		sb.WriteString(ansiClearEOL)
	}

	return sb.String()
}
