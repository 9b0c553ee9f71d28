package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"papertrade/internal/application/port"
	"papertrade/internal/domain"
	"papertrade/internal/state"
)

// ErrAllProvidersFailed reports that every provider in a fallback chain was
// tried and none answered.
var ErrAllProvidersFailed = errors.New("all providers in chain failed")

// ProviderChain is the ordered data path for one symbol: an optional stream
// feed tried first, a fallback chain of poll providers, and the slower stats
// and history providers.
type ProviderChain struct {
	Feed   port.PriceFeed
	Quotes []port.QuoteProvider
	// Pinned marks the first N quote providers as always attempted in
	// order before the cached preference is consulted. Used for sources
	// that are strictly faster than the rest of the chain.
	Pinned  int
	Stats   port.StatsProvider
	History port.HistoryProvider
}

// FailoverConfig tunes the transport and failover timing.
type FailoverConfig struct {
	// ConnectTimeout bounds how long a stream may take to deliver its first
	// tick before the session falls back to polling. Default 5s.
	ConnectTimeout time.Duration
	// PollInterval is the fast price cadence. Default 1s.
	PollInterval time.Duration
	// StatsInterval is the slow 24h-stats cadence. Default 30s.
	StatsInterval time.Duration
	// PreferenceResetCycles clears the cached last-good provider every N
	// fast cycles so a faster provider can be rediscovered. Default 60.
	PreferenceResetCycles int
	// HistoryLimit is the initial candle load size. Default 300.
	HistoryLimit int
}

func (c *FailoverConfig) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = 30 * time.Second
	}
	if c.PreferenceResetCycles <= 0 {
		c.PreferenceResetCycles = 60
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 300
	}
}

// SourceSession is one cancellable unit of work: it owns the stream handle
// or polling tickers for one symbol and guarantees that after Stop returns
// no further effects are observable.
type SourceSession struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the session and waits for its loops to finish.
func (s *SourceSession) Stop() {
	if s == nil {
		return
	}
	s.cancel()
	<-s.done
}

// FailoverController picks and runs the data path for one chart slot:
// stream first when available, polling otherwise, promoting fallback
// providers on failure. It updates the slot's connection status and ticker,
// feeds the slot's aggregator, and forwards prices to the ledger.
type FailoverController struct {
	store *state.Store
	slot  int
	agg   *CandleAggregator
	chain ProviderChain
	cfg   FailoverConfig
	log   zerolog.Logger

	// onPrice receives every accepted tick price, wired to the ledger's
	// mark-to-market path.
	onPrice func(symbol string, price float64)

	mu       sync.Mutex
	pref     string // last-good quote provider, cleared periodically
	session  *SourceSession
	gotPrice bool
	price    float64
	priceAt  time.Time
	stats    domain.DayStats
	phase    domain.MarketPhase
}

// NewFailoverController wires a controller to one slot.
func NewFailoverController(store *state.Store, slot int, agg *CandleAggregator, chain ProviderChain, cfg FailoverConfig, onPrice func(string, float64)) *FailoverController {
	cfg.applyDefaults()
	if onPrice == nil {
		onPrice = func(string, float64) {}
	}
	return &FailoverController{
		store:   store,
		slot:    slot,
		agg:     agg,
		chain:   chain,
		cfg:     cfg,
		onPrice: onPrice,
		log: log.With().
			Str("component", "failover").
			Int("slot", slot).
			Str("symbol", agg.Symbol()).
			Logger(),
	}
}

// Start tears down any previous session and launches a new one. The old
// session is fully stopped before the new one begins, so overlapping
// sessions for the same slot never coexist.
func (c *FailoverController) Start(ctx context.Context) {
	c.Stop()

	sctx, cancel := context.WithCancel(ctx)
	sess := &SourceSession{cancel: cancel, done: make(chan struct{})}
	c.mu.Lock()
	c.session = sess
	c.gotPrice = false
	c.price = 0
	c.priceAt = time.Time{}
	c.mu.Unlock()

	c.store.SetStatus(c.slot, domain.StatusConnecting)

	go func() {
		defer close(sess.done)
		c.run(sctx)
	}()
}

// Stop cancels the running session, if any, and waits for it.
func (c *FailoverController) Stop() {
	c.mu.Lock()
	sess := c.session
	c.session = nil
	c.mu.Unlock()
	sess.Stop()
}

// Backfill prepends one older block of candles from the session's history
// provider.
func (c *FailoverController) Backfill(ctx context.Context, count int) error {
	if c.chain.History == nil {
		return errors.New("no history provider for slot")
	}
	return c.agg.Backfill(ctx, c.chain.History, count)
}

// Preference returns the cached last-good poll provider name.
func (c *FailoverController) Preference() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pref
}

func (c *FailoverController) run(ctx context.Context) {
	c.loadHistory(ctx)

	if c.chain.Feed != nil && c.runStream(ctx) {
		return
	}
	if ctx.Err() != nil {
		return
	}
	c.runPolling(ctx)
}

// loadHistory performs the initial candle load. A failure here degrades the
// chart but not the live price path.
func (c *FailoverController) loadHistory(ctx context.Context) {
	if c.chain.History == nil {
		return
	}
	rng := port.HistoryRange{Limit: c.cfg.HistoryLimit}
	candles, err := c.chain.History.FetchCandles(ctx, c.agg.Symbol(), c.agg.Interval(), rng)
	if err != nil {
		c.log.Warn().Err(err).Str("provider", c.chain.History.Name()).Msg("initial history load failed")
		return
	}
	c.agg.MergeHistory(candles)
}

// runStream drives the push transport with reconnects. It returns true when
// the session ended by cancellation, false when streaming is given up and
// the caller should fall back to polling.
func (c *FailoverController) runStream(ctx context.Context) bool {
	backoff := 500 * time.Millisecond
	const maxBackoff = 10 * time.Second

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return true
		}
		live, err := c.streamOnce(ctx)
		if ctx.Err() != nil {
			return true
		}
		if !live {
			// Never reached a live state within the connect timeout: hard
			// cutover to polling.
			c.log.Warn().Err(err).Str("feed", c.chain.Feed.Name()).Msg("stream never went live, switching to polling")
			return false
		}
		c.log.Warn().Err(err).Str("feed", c.chain.Feed.Name()).Msg("stream dropped, reconnecting")
		select {
		case <-ctx.Done():
			return true
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// streamOnce subscribes and consumes until the stream dies. live reports
// whether the first tick arrived within the connect timeout.
func (c *FailoverController) streamOnce(ctx context.Context) (live bool, err error) {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ticks, err := c.chain.Feed.Subscribe(sctx, c.agg.Symbol())
	if err != nil {
		return false, err
	}

	connectTimer := time.NewTimer(c.cfg.ConnectTimeout)
	defer connectTimer.Stop()

	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-connectTimer.C:
		return false, errors.New("no data within connect timeout")
	case t, ok := <-ticks:
		if !ok {
			return false, errors.New("stream closed before first tick")
		}
		c.accept(t)
	}

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case t, ok := <-ticks:
			if !ok {
				return true, errors.New("stream closed")
			}
			c.accept(t)
		}
	}
}

// runPolling drives the two independent pull loops: the fast price loop and
// the slow stats loop. One loop failing never blocks the other.
func (c *FailoverController) runPolling(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.priceLoop(ctx)
	}()
	if c.chain.Stats != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.statsLoop(ctx)
		}()
	}
	wg.Wait()
}

func (c *FailoverController) priceLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	cycle := 0
	c.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cycle++
			if cycle%c.cfg.PreferenceResetCycles == 0 {
				c.mu.Lock()
				c.pref = ""
				c.mu.Unlock()
			}
			c.pollOnce(ctx)
		}
	}
}

// pollOnce tries the cached last-good provider first (a single request on
// the happy path), then walks the fixed chain. Individual failures are
// swallowed; status flips to error only if no price was ever obtained.
func (c *FailoverController) pollOnce(ctx context.Context) {
	c.mu.Lock()
	pref := c.pref
	c.mu.Unlock()

	tick, name, err := c.attemptChain(ctx, pref)
	if err != nil {
		c.mu.Lock()
		degraded := c.gotPrice
		c.mu.Unlock()
		if !degraded {
			c.store.SetStatus(c.slot, domain.StatusError)
		}
		c.log.Debug().Err(err).Msg("poll cycle failed")
		return
	}

	c.mu.Lock()
	c.pref = name
	c.mu.Unlock()
	c.accept(tick)
}

// attemptChain iterates providers until one answers: pinned providers in
// order, then the preferred one, then the rest of the fixed chain.
func (c *FailoverController) attemptChain(ctx context.Context, pref string) (domain.Tick, string, error) {
	symbol := c.agg.Symbol()
	pinned := c.chain.Pinned
	if pinned > len(c.chain.Quotes) {
		pinned = len(c.chain.Quotes)
	}

	var lastErr error = ErrAllProvidersFailed
	for _, p := range c.chain.Quotes[:pinned] {
		t, err := p.Quote(ctx, symbol)
		if err == nil {
			return t, p.Name(), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return domain.Tick{}, "", lastErr
		}
	}

	rest := c.chain.Quotes[pinned:]
	if pref != "" {
		for _, p := range rest {
			if p.Name() != pref {
				continue
			}
			if t, err := p.Quote(ctx, symbol); err == nil {
				return t, p.Name(), nil
			}
			break
		}
	}
	for _, p := range rest {
		if p.Name() == pref {
			continue
		}
		t, err := p.Quote(ctx, symbol)
		if err == nil {
			return t, p.Name(), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return domain.Tick{}, "", lastErr
}

func (c *FailoverController) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.StatsInterval)
	defer ticker.Stop()

	c.statsOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.statsOnce(ctx)
		}
	}
}

func (c *FailoverController) statsOnce(ctx context.Context) {
	stats, err := c.chain.Stats.Stats(ctx, c.agg.Symbol())
	if err != nil {
		c.log.Debug().Err(err).Str("provider", c.chain.Stats.Name()).Msg("stats refresh failed")
		return
	}
	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
	c.refreshTicker()
}

// accept applies one normalized tick: candle series, ticker projection,
// status, and the ledger's mark-to-market path.
func (c *FailoverController) accept(t domain.Tick) {
	if t.Price <= 0 {
		return
	}
	if t.Time.IsZero() {
		t.Time = time.Now()
	}

	c.mu.Lock()
	c.gotPrice = true
	c.price = t.Price
	c.priceAt = t.Time
	if t.Stats != nil {
		c.stats = *t.Stats
	}
	if t.Phase != "" {
		c.phase = t.Phase
	}
	c.mu.Unlock()

	c.agg.ApplyTick(t)
	c.refreshTicker()
	c.store.SetStatus(c.slot, domain.StatusConnected)
	c.onPrice(c.agg.Symbol(), t.Price)
}

// refreshTicker rebuilds the denormalized ticker snapshot from the last
// accepted price and the last known 24h stats. It never reads the store
// back, and the write happens under the controller mutex, so a concurrent
// stats refresh cannot revert the displayed price to a stale value.
func (c *FailoverController) refreshTicker() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.SetTicker(c.slot, domain.Ticker{
		Symbol:        c.agg.Symbol(),
		Price:         c.price,
		Change:        c.stats.Change,
		ChangePercent: c.stats.ChangePercent,
		High:          c.stats.High,
		Low:           c.stats.Low,
		Volume:        c.stats.Volume,
		MarketPhase:   c.phase,
		UpdatedAt:     c.priceAt,
	})
}
