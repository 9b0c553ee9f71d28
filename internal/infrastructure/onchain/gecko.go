package onchain

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"papertrade/internal/domain"
)

const defaultGeckoBaseURL = "https://api.geckoterminal.com"

// Gecko prices tokens on the chains GeckoTerminal indexes. Chains outside
// the network map are skipped so the chain falls through to DexScreener.
type Gecko struct {
	baseURL string
	client  *client
}

// NewGecko creates the provider; an empty URL selects the public endpoint.
func NewGecko(baseURL string) *Gecko {
	if baseURL == "" {
		baseURL = defaultGeckoBaseURL
	}
	return &Gecko{baseURL: baseURL, client: newClient(priceTimeout)}
}

// Name returns the provider name.
func (g *Gecko) Name() string { return "gecko" }

// Quote fetches the USD price via the simple token-price endpoint. Prices
// arrive as strings keyed by address, sometimes lowercased.
func (g *Gecko) Quote(ctx context.Context, symbol string) (domain.Tick, error) {
	chain, address, err := splitSymbol(symbol)
	if err != nil {
		return domain.Tick{}, err
	}
	network, ok := geckoNetworks[chain]
	if !ok {
		return domain.Tick{}, fmt.Errorf("gecko: %w: %s", ErrUnsupportedChain, chain)
	}

	endpoint := fmt.Sprintf("%s/api/v2/simple/networks/%s/token_price/%s", g.baseURL, network, address)
	var payload struct {
		Data *struct {
			Attributes *struct {
				TokenPrices map[string]*string `json:"token_prices"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := g.client.getJSON(ctx, endpoint, &payload); err != nil {
		return domain.Tick{}, fmt.Errorf("gecko: %w", err)
	}
	if payload.Data == nil || payload.Data.Attributes == nil {
		return domain.Tick{}, fmt.Errorf("gecko: empty response")
	}

	prices := payload.Data.Attributes.TokenPrices
	raw := prices[address]
	if raw == nil {
		raw = prices[strings.ToLower(address)]
	}
	if raw == nil {
		return domain.Tick{}, fmt.Errorf("gecko: %w", ErrTokenNotFound)
	}
	price, err := strconv.ParseFloat(*raw, 64)
	if err != nil || price <= 0 {
		return domain.Tick{}, fmt.Errorf("gecko: invalid price %q", *raw)
	}
	return domain.Tick{Price: price, Time: time.Now(), Source: g.Name()}, nil
}
