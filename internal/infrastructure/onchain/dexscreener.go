package onchain

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"papertrade/internal/domain"
)

const defaultDexScreenerBaseURL = "https://api.dexscreener.com"

// DexScreener is the last resort in the price chain and the sole 24h stats
// source for on-chain tokens, since it is the only free service carrying
// change and volume figures per pair. Once a token resolves to a pair, the
// pair address is remembered and the direct pairs endpoint is tried first on
// later cycles, skipping the full token scan.
type DexScreener struct {
	baseURL string
	price   *client
	stats   *client

	mu        sync.Mutex
	pairCache map[string]string // symbol -> best pair address
}

// NewDexScreener creates the provider; an empty URL selects the public
// endpoint.
func NewDexScreener(baseURL string) *DexScreener {
	if baseURL == "" {
		baseURL = defaultDexScreenerBaseURL
	}
	return &DexScreener{
		baseURL:   baseURL,
		price:     newClient(priceTimeout),
		stats:     newClient(statsTimeout),
		pairCache: make(map[string]string),
	}
}

// Name returns the provider name.
func (d *DexScreener) Name() string { return "dexscreener" }

type dexPair struct {
	ChainID     string  `json:"chainId"`
	PairAddress string  `json:"pairAddress"`
	PriceUSD    *string `json:"priceUsd"`
	Volume      *struct {
		H24 *float64 `json:"h24"`
	} `json:"volume"`
	PriceChange *struct {
		H24 *float64 `json:"h24"`
	} `json:"priceChange"`
	Liquidity *struct {
		USD *float64 `json:"usd"`
	} `json:"liquidity"`
}

type dexResponse struct {
	Pairs []dexPair `json:"pairs"`
	Pair  *dexPair  `json:"pair"`
}

// Quote fetches the price of the most liquid pair for the token on its
// chain.
func (d *DexScreener) Quote(ctx context.Context, symbol string) (domain.Tick, error) {
	pair, err := d.bestPair(ctx, d.price, symbol)
	if err != nil {
		return domain.Tick{}, err
	}
	price, err := pairPrice(pair)
	if err != nil {
		return domain.Tick{}, err
	}
	return domain.Tick{
		Price:  price,
		Time:   time.Now(),
		Stats:  pairStats(pair),
		Source: d.Name(),
	}, nil
}

// Stats serves the slow 24h loop: change percent and volume for the most
// liquid pair.
func (d *DexScreener) Stats(ctx context.Context, symbol string) (domain.DayStats, error) {
	pair, err := d.bestPair(ctx, d.stats, symbol)
	if err != nil {
		return domain.DayStats{}, err
	}
	stats := pairStats(pair)
	if stats == nil {
		return domain.DayStats{}, fmt.Errorf("dexscreener: no stats on pair")
	}
	return *stats, nil
}

// bestPair resolves the pair serving a token. A remembered pair address is
// queried directly first; on a miss the token endpoint is scanned for the
// pair with the deepest USD liquidity on the requested chain, falling back
// to the first pair returned, and the winner's address is cached.
func (d *DexScreener) bestPair(ctx context.Context, c *client, symbol string) (*dexPair, error) {
	chain, address, err := splitSymbol(symbol)
	if err != nil {
		return nil, err
	}

	if pa := d.cachedPair(symbol); pa != "" {
		if pair, err := d.fetchPair(ctx, c, chain, pa); err == nil {
			d.rememberPair(symbol, pair.PairAddress)
			return pair, nil
		}
	}

	endpoint := fmt.Sprintf("%s/latest/dex/tokens/%s", d.baseURL, address)
	var payload dexResponse
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, fmt.Errorf("dexscreener: %w", err)
	}

	pairs := payload.Pairs
	if len(pairs) == 0 && payload.Pair != nil {
		pairs = []dexPair{*payload.Pair}
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("dexscreener: %w", ErrTokenNotFound)
	}

	var best *dexPair
	bestLiq := -1.0
	for i := range pairs {
		p := &pairs[i]
		if !strings.EqualFold(p.ChainID, chain) {
			continue
		}
		liq := 0.0
		if p.Liquidity != nil && p.Liquidity.USD != nil {
			liq = *p.Liquidity.USD
		}
		if liq > bestLiq {
			best = p
			bestLiq = liq
		}
	}
	if best == nil {
		best = &pairs[0]
	}
	d.rememberPair(symbol, best.PairAddress)
	return best, nil
}

// fetchPair hits the direct pairs endpoint. The result is only usable when
// it carries a parseable price, otherwise the caller re-scans the token.
func (d *DexScreener) fetchPair(ctx context.Context, c *client, chain, pairAddress string) (*dexPair, error) {
	endpoint := fmt.Sprintf("%s/latest/dex/pairs/%s/%s", d.baseURL, chain, pairAddress)
	var payload dexResponse
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, fmt.Errorf("dexscreener: %w", err)
	}
	pair := payload.Pair
	if len(payload.Pairs) > 0 {
		pair = &payload.Pairs[0]
	}
	if pair == nil {
		return nil, fmt.Errorf("dexscreener: pair %s not found", pairAddress)
	}
	if _, err := pairPrice(pair); err != nil {
		return nil, err
	}
	return pair, nil
}

func (d *DexScreener) cachedPair(symbol string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pairCache[symbol]
}

func (d *DexScreener) rememberPair(symbol, pairAddress string) {
	if pairAddress == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pairCache[symbol] = pairAddress
}

func pairPrice(pair *dexPair) (float64, error) {
	if pair.PriceUSD == nil {
		return 0, fmt.Errorf("dexscreener: no price on pair")
	}
	price, err := strconv.ParseFloat(*pair.PriceUSD, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("dexscreener: invalid price %q", *pair.PriceUSD)
	}
	return price, nil
}

func pairStats(pair *dexPair) *domain.DayStats {
	stats := &domain.DayStats{}
	populated := false
	if pair.PriceChange != nil && pair.PriceChange.H24 != nil {
		stats.ChangePercent = *pair.PriceChange.H24
		populated = true
	}
	if pair.Volume != nil && pair.Volume.H24 != nil {
		stats.Volume = *pair.Volume.H24
		populated = true
	}
	if !populated {
		return nil
	}
	return stats
}
