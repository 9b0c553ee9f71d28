// Package onchain prices tokens written as "<chain>:<address>" through the
// free on-chain price services: Jupiter and Raydium for Solana mints,
// GeckoTerminal and DexScreener for everything else. Each provider is one
// attempt in the failover chain; DexScreener additionally serves the slow
// 24h stats.
package onchain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"papertrade/internal/domain"
)

const (
	priceTimeout = 5 * time.Second
	statsTimeout = 10 * time.Second
	// Several of these services reject requests without a browser UA.
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

var (
	// ErrUnsupportedChain marks a chain the provider cannot price; the
	// failover chain skips to the next provider.
	ErrUnsupportedChain = errors.New("unsupported chain")
	// ErrTokenNotFound reports a well-formed response without the token.
	ErrTokenNotFound = errors.New("token not found in response")
	// ErrBadSymbol reports a symbol not in chain:address form.
	ErrBadSymbol = errors.New("symbol is not in chain:address form")
)

// geckoNetworks maps a chain id to GeckoTerminal's network slug.
var geckoNetworks = map[string]string{
	"solana":    "solana",
	"ethereum":  "eth",
	"bsc":       "bsc",
	"base":      "base",
	"arbitrum":  "arbitrum",
	"polygon":   "polygon_pos",
	"avalanche": "avax",
	"optimism":  "optimism",
}

// client is the shared HTTP plumbing for all on-chain providers.
type client struct {
	http *http.Client
}

func newClient(timeout time.Duration) *client {
	return &client{http: &http.Client{Timeout: timeout}}
}

func (c *client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("payload: %w", err)
	}
	return nil
}

func splitSymbol(symbol string) (chain, address string, err error) {
	chain, address, ok := domain.SplitOnChainSymbol(symbol)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrBadSymbol, symbol)
	}
	return chain, address, nil
}
