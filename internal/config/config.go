package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/web3guy0/gapscanner/types"
)

// Config holds all configuration for the scanner
type Config struct {
	// Mode
	DryRun bool
	Debug  bool

	// Instruments (immutable after Load)
	Instruments []types.Instrument
	Timeframes  []types.Timeframe

	// Feeds
	BinanceWSURL   string
	BinanceRESTURL string
	RTDSURL        string
	GammaURL       string
	CLOBURL        string

	// Cadence
	ScanInterval    time.Duration
	OddsInterval    time.Duration
	CircuitInterval time.Duration
	SettleInterval  time.Duration
	WinRateInterval time.Duration
	QuoteMaxAge     time.Duration
	QuoteTimeout    time.Duration
	AdvisorTimeout  time.Duration

	// Risk
	MaxSpread      float64
	InitialBalance decimal.Decimal
	MinBalance     decimal.Decimal
	MinBet         decimal.Decimal
	MinStreak      int
	ReverseEnabled bool
	SpikeEnabled   bool
	CircuitLosses  int
	CircuitPause   time.Duration

	// Infrastructure
	DatabaseURL string
	RedisURL    string
	MetricsAddr string

	// Telegram
	TelegramToken  string
	TelegramChatID int64

	// Wallet / CLOB credentials
	PrivateKey string
	APIKey     string
	APISecret  string
	Passphrase string
}

// DefaultInstruments is the built-in instrument table
var DefaultInstruments = []types.Instrument{
	{Label: "BTC", BinanceSymbol: "btcusdt", ChainlinkSymbol: "btc/usd", HourlySlug: "bitcoin", MinMovePct: 0.06},
	{Label: "ETH", BinanceSymbol: "ethusdt", ChainlinkSymbol: "eth/usd", HourlySlug: "ethereum", MinMovePct: 0.08},
	{Label: "SOL", BinanceSymbol: "solusdt", ChainlinkSymbol: "sol/usd", HourlySlug: "solana", MinMovePct: 0.10},
	{Label: "XRP", BinanceSymbol: "xrpusdt", ChainlinkSymbol: "xrp/usd", HourlySlug: "xrp", MinMovePct: 0.10},
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		DryRun: getEnvBool("DRY_RUN", true),
		Debug:  getEnvBool("DEBUG", false),

		BinanceWSURL:   getEnv("BINANCE_WS_URL", "wss://stream.binance.com:9443/stream"),
		BinanceRESTURL: getEnv("BINANCE_REST_URL", "https://api.binance.com"),
		RTDSURL:        getEnv("RTDS_URL", "wss://ws-live-data.polymarket.com"),
		GammaURL:       getEnv("POLYMARKET_API_URL", "https://gamma-api.polymarket.com"),
		CLOBURL:        getEnv("POLYMARKET_CLOB_URL", "https://clob.polymarket.com"),

		ScanInterval:    getEnvDuration("SCAN_INTERVAL", time.Second),
		OddsInterval:    getEnvDuration("ODDS_INTERVAL", 3*time.Second),
		CircuitInterval: getEnvDuration("CIRCUIT_INTERVAL", 30*time.Second),
		SettleInterval:  getEnvDuration("SETTLE_INTERVAL", time.Minute),
		WinRateInterval: getEnvDuration("WIN_RATE_INTERVAL", time.Minute),
		QuoteMaxAge:     getEnvDuration("QUOTE_MAX_AGE", 8*time.Second),
		QuoteTimeout:    getEnvDuration("QUOTE_TIMEOUT", 5*time.Second),
		AdvisorTimeout:  getEnvDuration("ADVISOR_TIMEOUT", 3*time.Second),

		MaxSpread:      getEnvFloat("MAX_SPREAD", 1.05),
		InitialBalance: getEnvDecimal("INITIAL_BALANCE", decimal.NewFromInt(50)),
		MinBalance:     getEnvDecimal("MIN_BALANCE", decimal.NewFromInt(1)),
		MinBet:         getEnvDecimal("MIN_BET", decimal.NewFromInt(1)),
		MinStreak:      getEnvInt("MIN_STREAK", 1),
		ReverseEnabled: getEnvBool("REVERSE_ENABLED", false),
		SpikeEnabled:   getEnvBool("SPIKE_ENABLED", true),
		CircuitLosses:  getEnvInt("CIRCUIT_LOSSES", 3),
		CircuitPause:   getEnvDuration("CIRCUIT_PAUSE", 5*time.Minute),

		DatabaseURL: getEnv("DATABASE_URL", "data/gapscanner.db"),
		RedisURL:    os.Getenv("REDIS_URL"),
		MetricsAddr: os.Getenv("METRICS_ADDR"),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		PrivateKey: os.Getenv("ETH_PRIVATE_KEY"),
		APIKey:     os.Getenv("POLY_API_KEY"),
		APISecret:  os.Getenv("POLY_API_SECRET"),
		Passphrase: os.Getenv("POLY_PASSPHRASE"),
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	table := DefaultInstruments
	if path := os.Getenv("INSTRUMENTS_FILE"); path != "" {
		loaded, err := LoadInstruments(path)
		if err != nil {
			return nil, err
		}
		table = loaded
	}

	instruments, err := selectInstruments(table, getEnv("INSTRUMENTS", "BTC,ETH,SOL,XRP"))
	if err != nil {
		return nil, err
	}
	cfg.Instruments = instruments

	timeframes, err := parseTimeframes(getEnv("TIMEFRAMES", "5M,15M,1H"))
	if err != nil {
		return nil, err
	}
	cfg.Timeframes = timeframes

	if cfg.MinStreak < 1 {
		cfg.MinStreak = 1
	}
	if !cfg.DryRun && cfg.PrivateKey == "" {
		return nil, fmt.Errorf("ETH_PRIVATE_KEY is required when DRY_RUN=false")
	}

	return cfg, nil
}

// Instrument looks up an instrument by label
func (c *Config) Instrument(label string) (types.Instrument, bool) {
	for _, inst := range c.Instruments {
		if inst.Label == label {
			return inst, true
		}
	}
	return types.Instrument{}, false
}

// Keys returns every tracked instrument×timeframe pair
func (c *Config) Keys() []types.Key {
	keys := make([]types.Key, 0, len(c.Instruments)*len(c.Timeframes))
	for _, inst := range c.Instruments {
		for _, tf := range c.Timeframes {
			keys = append(keys, types.Key{Instrument: inst.Label, Timeframe: tf})
		}
	}
	return keys
}

// Labels returns the instrument labels in table order
func (c *Config) Labels() []string {
	labels := make([]string, len(c.Instruments))
	for i, inst := range c.Instruments {
		labels[i] = inst.Label
	}
	return labels
}

// ═══════════════════════════════════════════════════════════════════════════════
// INSTRUMENT TABLE
// ═══════════════════════════════════════════════════════════════════════════════

type instrumentFile struct {
	Instruments []types.Instrument `yaml:"instruments"`
}

// LoadInstruments reads an instrument table from a YAML file
func LoadInstruments(path string) ([]types.Instrument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read instruments file: %w", err)
	}
	return parseInstruments(data)
}

func parseInstruments(data []byte) ([]types.Instrument, error) {
	var f instrumentFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse instruments file: %w", err)
	}
	if len(f.Instruments) == 0 {
		return nil, fmt.Errorf("instruments file has no instruments")
	}

	seen := make(map[string]bool, len(f.Instruments))
	for i := range f.Instruments {
		inst := &f.Instruments[i]
		inst.Label = strings.ToUpper(strings.TrimSpace(inst.Label))
		if inst.Label == "" {
			return nil, fmt.Errorf("instrument %d: label is required", i)
		}
		if seen[inst.Label] {
			return nil, fmt.Errorf("instrument %s: duplicate label", inst.Label)
		}
		seen[inst.Label] = true
		if inst.BinanceSymbol == "" {
			inst.BinanceSymbol = strings.ToLower(inst.Label) + "usdt"
		}
		if inst.ChainlinkSymbol == "" {
			inst.ChainlinkSymbol = strings.ToLower(inst.Label) + "/usd"
		}
		if inst.HourlySlug == "" {
			inst.HourlySlug = strings.ToLower(inst.Label)
		}
		if inst.MinMovePct <= 0 {
			inst.MinMovePct = 0.10
		}
	}
	return f.Instruments, nil
}

func selectInstruments(table []types.Instrument, list string) ([]types.Instrument, error) {
	var out []types.Instrument
	for _, label := range strings.Split(list, ",") {
		label = strings.ToUpper(strings.TrimSpace(label))
		if label == "" {
			continue
		}
		found := false
		for _, inst := range table {
			if inst.Label == label {
				out = append(out, inst)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown instrument %q", label)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no instruments configured")
	}
	return out, nil
}

func parseTimeframes(list string) ([]types.Timeframe, error) {
	var out []types.Timeframe
	for _, s := range strings.Split(list, ",") {
		if strings.TrimSpace(s) == "" {
			continue
		}
		tf, err := types.ParseTimeframe(s)
		if err != nil {
			return nil, err
		}
		out = append(out, tf)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no timeframes configured")
	}
	return out, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
