package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"papertrade/api"
	"papertrade/internal/application/port"
	"papertrade/internal/application/service"
	"papertrade/internal/domain"
	"papertrade/internal/infrastructure/equities"
	"papertrade/internal/infrastructure/exchange"
	"papertrade/internal/infrastructure/onchain"
	"papertrade/internal/state"
	"papertrade/presentation"
)

func setupLogger() {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// newChainBuilder maps a symbol's market class to its provider chain:
// exchange pairs stream from Binance, equities poll Yahoo, on-chain tokens
// walk the aggregator-service fallback chain. Solana tokens always try
// Jupiter then Raydium before anything else.
func newChainBuilder(cfg *Config) service.ChainBuilder {
	binance := exchange.NewBinance(cfg.Providers.Binance.WsURL, cfg.Providers.Binance.RestURL)
	yahoo := equities.NewYahoo(cfg.Providers.Yahoo.BaseURL)
	jupiter := onchain.NewJupiter(cfg.Providers.Onchain.JupiterURL)
	raydium := onchain.NewRaydium(cfg.Providers.Onchain.RaydiumURL)
	gecko := onchain.NewGecko(cfg.Providers.Onchain.GeckoURL)
	dexscreener := onchain.NewDexScreener(cfg.Providers.Onchain.DexScreenerURL)

	return func(symbol string, class domain.MarketClass) (service.ProviderChain, error) {
		switch class {
		case domain.MarketCrypto:
			return service.ProviderChain{
				Feed:    binance,
				Quotes:  []port.QuoteProvider{binance},
				Stats:   binance,
				History: binance,
			}, nil
		case domain.MarketOnChain:
			chain, _, ok := domain.SplitOnChainSymbol(symbol)
			if !ok {
				return service.ProviderChain{}, fmt.Errorf("malformed on-chain symbol %q", symbol)
			}
			pc := service.ProviderChain{Stats: dexscreener}
			if chain == "solana" {
				pc.Quotes = []port.QuoteProvider{jupiter, raydium, gecko, dexscreener}
				pc.Pinned = 2
			} else {
				pc.Quotes = []port.QuoteProvider{gecko, dexscreener}
			}
			return pc, nil
		default:
			return service.ProviderChain{
				Quotes:  []port.QuoteProvider{yahoo},
				Stats:   yahoo,
				History: yahoo,
			}, nil
		}
	}
}

func main() {
	setupLogger()

	configPath := flag.String("config", "config.toml", "path to config.toml")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}

	store := state.New(len(cfg.Slots.List), cfg.Account.InitialBalance)
	ledger := service.NewLedger(store)

	failCfg := service.FailoverConfig{
		ConnectTimeout:        cfg.ConnectTimeout(),
		PollInterval:          cfg.PollInterval(),
		StatsInterval:         cfg.StatsInterval(),
		PreferenceResetCycles: cfg.Feed.PreferenceCycles,
		HistoryLimit:          cfg.Feed.HistoryLimit,
	}
	aggCfg := service.AggregatorConfig{MaxCandles: cfg.Feed.MaxCandles}
	if cfg.Feed.RewriteLateTicks {
		aggCfg.Late = service.RewriteLate
	}

	slots := service.NewSlotManager(store, ledger, newChainBuilder(cfg), failCfg, aggCfg)

	fmt.Print("\n")
	log.Info().
		Str("config", *configPath).
		Int("slots", len(cfg.Slots.List)).
		Float64("balance", cfg.Account.InitialBalance).
		Bool("api", cfg.API.Enabled).
		Msg("started")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for i, slot := range cfg.Slots.List {
		if err := slots.SetInstrument(ctx, i, slot.Symbol, slot.Interval); err != nil {
			log.Fatal().Err(err).Int("slot", i).Str("symbol", slot.Symbol).Msg("slot setup failed")
		}
	}
	slots.SetActive(cfg.Slots.Active)

	if cfg.API.Enabled {
		handler := api.NewHandler(store, ledger, slots)
		go func() {
			if err := handler.Run(cfg.API.Port); err != nil {
				log.Error().Err(err).Int("port", cfg.API.Port).Msg("api server stopped")
			}
		}()
	}

	// Live status line
	renderer := presentation.NewRenderer()
	go func() {
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				active := store.ActiveSlot()
				line := renderer.RenderLine(store.Ticker(active), store.Status(active), store.Portfolio(), true)
				fmt.Print(line)
			}
		}
	}()

	<-ctx.Done()
	slots.StopAll()
	fmt.Print("\n")
	log.Warn().Msg("exit")
}
