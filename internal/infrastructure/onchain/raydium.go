package onchain

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"papertrade/internal/domain"
)

const defaultRaydiumBaseURL = "https://api-v3.raydium.io"

// Raydium prices Solana mints via the v3 mint price API. Second in line
// after Jupiter for Solana tokens.
type Raydium struct {
	baseURL string
	client  *client
}

// NewRaydium creates the provider; an empty URL selects the public endpoint.
func NewRaydium(baseURL string) *Raydium {
	if baseURL == "" {
		baseURL = defaultRaydiumBaseURL
	}
	return &Raydium{baseURL: baseURL, client: newClient(priceTimeout)}
}

// Name returns the provider name.
func (r *Raydium) Name() string { return "raydium" }

// Quote fetches the USD price for one Solana mint. Raydium returns prices
// as strings keyed by mint under a data object.
func (r *Raydium) Quote(ctx context.Context, symbol string) (domain.Tick, error) {
	chain, address, err := splitSymbol(symbol)
	if err != nil {
		return domain.Tick{}, err
	}
	if chain != "solana" {
		return domain.Tick{}, ErrUnsupportedChain
	}

	endpoint := fmt.Sprintf("%s/mint/price?mints=%s", r.baseURL, address)
	var payload struct {
		Data map[string]string `json:"data"`
	}
	if err := r.client.getJSON(ctx, endpoint, &payload); err != nil {
		return domain.Tick{}, fmt.Errorf("raydium: %w", err)
	}

	raw, ok := payload.Data[address]
	if !ok {
		return domain.Tick{}, fmt.Errorf("raydium: %w", ErrTokenNotFound)
	}
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil || price <= 0 {
		return domain.Tick{}, fmt.Errorf("raydium: invalid price %q", raw)
	}
	return domain.Tick{Price: price, Time: time.Now(), Source: r.Name()}, nil
}
