package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"papertrade/internal/domain"
)

type SlotConfig struct {
	Symbol   string `toml:"symbol"`
	Interval string `toml:"interval"`
}

type Config struct {
	Account struct {
		InitialBalance float64 `toml:"initial_balance"`
	} `toml:"account"`

	Slots struct {
		List   []SlotConfig `toml:"list"`
		Active int          `toml:"active"`
	} `toml:"slots"`

	Feed struct {
		ConnectTimeoutSec int  `toml:"connect_timeout_sec"` // stream go-live bound
		PollIntervalMs    int  `toml:"poll_interval_ms"`    // fast price cadence
		StatsIntervalSec  int  `toml:"stats_interval_sec"`  // slow 24h stats cadence
		PreferenceCycles  int  `toml:"preference_cycles"`   // poll cycles between preference resets
		HistoryLimit      int  `toml:"history_limit"`
		MaxCandles        int  `toml:"max_candles"`
		RewriteLateTicks  bool `toml:"rewrite_late_ticks"`
	} `toml:"feed"`

	Providers struct {
		Binance struct {
			WsURL   string `toml:"ws_url"`
			RestURL string `toml:"rest_url"`
		} `toml:"binance"`
		Yahoo struct {
			BaseURL string `toml:"base_url"`
		} `toml:"yahoo"`
		Onchain struct {
			JupiterURL     string `toml:"jupiter_url"`
			RaydiumURL     string `toml:"raydium_url"`
			GeckoURL       string `toml:"gecko_url"`
			DexScreenerURL string `toml:"dexscreener_url"`
		} `toml:"onchain"`
	} `toml:"providers"`

	API struct {
		Enabled bool `toml:"enabled"`
		Port    int  `toml:"port"`
	} `toml:"api"`
}

func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func ApplyDefaults(cfg *Config) {
	if cfg.Account.InitialBalance <= 0 {
		cfg.Account.InitialBalance = 100_000
	}
	if len(cfg.Slots.List) == 0 {
		cfg.Slots.List = []SlotConfig{{Symbol: "BTCUSDT", Interval: "1m"}}
	}
	if cfg.Feed.ConnectTimeoutSec <= 0 {
		cfg.Feed.ConnectTimeoutSec = 5
	}
	if cfg.Feed.PollIntervalMs <= 0 {
		cfg.Feed.PollIntervalMs = 1000
	}
	if cfg.Feed.StatsIntervalSec <= 0 {
		cfg.Feed.StatsIntervalSec = 30
	}
	if cfg.Feed.PreferenceCycles <= 0 {
		cfg.Feed.PreferenceCycles = 60
	}
	if cfg.Feed.HistoryLimit <= 0 {
		cfg.Feed.HistoryLimit = 300
	}
	if cfg.Feed.MaxCandles <= 0 {
		cfg.Feed.MaxCandles = 1000
	}
	if cfg.API.Port <= 0 {
		cfg.API.Port = 8787
	}
}

func ValidateConfig(cfg *Config) error {
	for i := range cfg.Slots.List {
		slot := &cfg.Slots.List[i]
		slot.Symbol = NormalizeSymbol(slot.Symbol)
		if slot.Symbol == "" {
			return fmt.Errorf("slots.list[%d].symbol is empty", i)
		}
		if slot.Interval == "" {
			slot.Interval = "1m"
		}
		if _, err := domain.ParseInterval(slot.Interval); err != nil {
			return fmt.Errorf("slots.list[%d]: %w", i, err)
		}
	}
	if cfg.Slots.Active < 0 || cfg.Slots.Active >= len(cfg.Slots.List) {
		return errors.New("slots.active out of range")
	}
	return nil
}

// NormalizeSymbol trims and uppercases plain symbols. On-chain
// "chain:address" symbols keep their case because token addresses are
// case-sensitive.
func NormalizeSymbol(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ":") {
		return s
	}
	return strings.ToUpper(s)
}

func (cfg *Config) ConnectTimeout() time.Duration {
	return time.Duration(cfg.Feed.ConnectTimeoutSec) * time.Second
}

func (cfg *Config) PollInterval() time.Duration {
	return time.Duration(cfg.Feed.PollIntervalMs) * time.Millisecond
}

func (cfg *Config) StatsInterval() time.Duration {
	return time.Duration(cfg.Feed.StatsIntervalSec) * time.Second
}
