package onchain

import (
	"context"
	"fmt"
	"time"

	"papertrade/internal/domain"
)

const defaultJupiterBaseURL = "https://lite-api.jup.ag"

// Jupiter prices Solana mints via the Lite v3 price API: free, no key,
// real-time. Always attempted first for Solana tokens.
type Jupiter struct {
	baseURL string
	client  *client
}

// NewJupiter creates the provider; an empty URL selects the public endpoint.
func NewJupiter(baseURL string) *Jupiter {
	if baseURL == "" {
		baseURL = defaultJupiterBaseURL
	}
	return &Jupiter{baseURL: baseURL, client: newClient(priceTimeout)}
}

// Name returns the provider name.
func (j *Jupiter) Name() string { return "jupiter" }

// jupiterPrice is one entry of the v3 response, which is a top-level map of
// mint address to price data with no wrapper object.
type jupiterPrice struct {
	USDPrice       *float64 `json:"usdPrice"`
	PriceChange24h *float64 `json:"priceChange24h"`
}

// Quote fetches the USD price for one Solana mint.
func (j *Jupiter) Quote(ctx context.Context, symbol string) (domain.Tick, error) {
	chain, address, err := splitSymbol(symbol)
	if err != nil {
		return domain.Tick{}, err
	}
	if chain != "solana" {
		return domain.Tick{}, ErrUnsupportedChain
	}

	endpoint := fmt.Sprintf("%s/price/v3?ids=%s", j.baseURL, address)
	var payload map[string]jupiterPrice
	if err := j.client.getJSON(ctx, endpoint, &payload); err != nil {
		return domain.Tick{}, fmt.Errorf("jupiter: %w", err)
	}

	token, ok := payload[address]
	if !ok {
		return domain.Tick{}, fmt.Errorf("jupiter: %w", ErrTokenNotFound)
	}
	if token.USDPrice == nil || *token.USDPrice <= 0 {
		return domain.Tick{}, fmt.Errorf("jupiter: missing or zero price")
	}

	tick := domain.Tick{Price: *token.USDPrice, Time: time.Now(), Source: j.Name()}
	if token.PriceChange24h != nil {
		tick.Stats = &domain.DayStats{ChangePercent: *token.PriceChange24h}
	}
	return tick, nil
}
