package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/web3guy0/gapscanner/bot"
	"github.com/web3guy0/gapscanner/core"
	"github.com/web3guy0/gapscanner/exec"
	"github.com/web3guy0/gapscanner/feeds"
	"github.com/web3guy0/gapscanner/internal/config"
	"github.com/web3guy0/gapscanner/metrics"
	"github.com/web3guy0/gapscanner/risk"
	"github.com/web3guy0/gapscanner/storage"
	"github.com/web3guy0/gapscanner/types"
)

const (
	windowOracleCapacity = 1000
	hourlyOracleCapacity = 4000
)

func main() {
	// ═══════════════════════════════════════════════════════════════════════════════
	// BOOTSTRAP
	// ═══════════════════════════════════════════════════════════════════════════════

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Msg("═══════════════════════════════════════════════════════════════")
	log.Info().Msg("              GAP SCANNER - ODDS vs PROBABILITY")
	log.Info().Msg("═══════════════════════════════════════════════════════════════")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ═══════════════════════════════════════════════════════════════════════════════
	// INITIALIZE COMPONENTS
	// ═══════════════════════════════════════════════════════════════════════════════

	m := metrics.New()
	labels := cfg.Labels()

	// 1. Storage
	db, err := storage.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Database connection failed")
	}
	defer db.Close()

	ledger := core.NewLedger(db)
	if err := ledger.Restore(); err != nil {
		log.Warn().Err(err).Msg("Failed to restore wagers")
	}
	log.Info().Int("pending", len(ledger.Pending())).Msg("✅ Storage layer initialized")

	// 2. Execution client
	executor, err := exec.NewClient(exec.Config{
		BaseURL:    cfg.CLOBURL,
		PrivateKey: cfg.PrivateKey,
		APIKey:     cfg.APIKey,
		APISecret:  cfg.APISecret,
		Passphrase: cfg.Passphrase,
		DryRun:     cfg.DryRun,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize executor")
	}

	// 3. Bankroll
	bankroll := core.NewBankroll(startingBalance(ctx, cfg, executor, db, ledger))
	bankroll.OnChange(func(b decimal.Decimal) { m.SetBankroll(b.InexactFloat64()) })
	m.SetBankroll(bankroll.Balance().InexactFloat64())
	log.Info().Str("balance", bankroll.Balance().StringFixed(2)).Msg("✅ Bankroll ready")

	// 4. Price feeds and boundary oracles
	prices := feeds.NewPriceStream(labels)
	prices.OnSpike(m.Spike)

	windowOracle := feeds.NewBoundaryPriceOracle("chainlink", labels, []types.Timeframe{types.TF5M, types.TF15M}, windowOracleCapacity)
	hourlyOracle := feeds.NewBoundaryPriceOracle("binance", labels, []types.Timeframe{types.TF1H}, hourlyOracleCapacity)

	binance := feeds.NewBinanceStream(cfg.BinanceWSURL, cfg.Instruments, prices, hourlyOracle, m)
	binance.OnReconnect(m.Reconnect)
	chainlink := feeds.NewChainlinkStream(cfg.RTDSURL, cfg.Instruments, windowOracle)
	chainlink.OnReconnect(m.Reconnect)

	candles := feeds.NewKlineClient(cfg.BinanceRESTURL, cfg.QuoteTimeout)
	refs := core.NewReferences(windowOracle, hourlyOracle, candles, cfg.Instruments)
	log.Info().Strs("instruments", labels).Msg("✅ Price feeds initialized")

	// 5. Odds
	quotes := feeds.NewOddsCache(
		feeds.NewGammaQuoteSource(cfg.GammaURL, cfg.CLOBURL, cfg.QuoteTimeout),
		cfg.Instruments, cfg.Timeframes,
		feeds.OddsCacheConfig{Timeout: cfg.QuoteTimeout, MaxAge: cfg.QuoteMaxAge, MaxSpread: cfg.MaxSpread},
	)
	quotes.OnPoll(m.QuotePoll)

	// 6. Risk
	var reservations risk.Reservations
	if cfg.RedisURL != "" {
		redis, err := risk.NewRedisReservations(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Redis connection failed")
		}
		defer redis.Close()
		reservations = redis
		log.Info().Msg("✅ Shared cooldowns via Redis")
	}
	limiter := risk.NewLimiter(reservations)
	breaker := risk.NewCircuitBreaker(cfg.CircuitLosses, cfg.CircuitPause)

	// 7. Telegram
	var notifier core.Notifier
	var telegram *bot.TelegramBot
	if cfg.TelegramToken != "" {
		telegram, err = bot.NewTelegramBot(cfg.TelegramToken, cfg.TelegramChatID, cfg.DryRun)
		if err != nil {
			log.Warn().Err(err).Msg("Telegram disabled")
			telegram = nil
		} else {
			notifier = telegram
		}
	}

	// 8. Scanner
	scanCfg := core.DefaultScannerConfig()
	scanCfg.Interval = cfg.ScanInterval
	scanCfg.CircuitInterval = cfg.CircuitInterval
	scanCfg.WinRateInterval = cfg.WinRateInterval
	scanCfg.AdvisorTimeout = cfg.AdvisorTimeout
	scanCfg.MinBalance = cfg.MinBalance
	scanCfg.MinBet = cfg.MinBet
	scanCfg.MinStreak = cfg.MinStreak
	scanCfg.ReverseEnabled = cfg.ReverseEnabled

	scanner := core.NewScanner(cfg.Instruments, cfg.Timeframes, core.Components{
		Prices:   prices,
		Quotes:   quotes,
		Refs:     refs,
		Guards:   risk.NewGuards(),
		EV:       risk.NewEVEngine(),
		Limiter:  limiter,
		Breaker:  breaker,
		Ledger:   ledger,
		Bankroll: bankroll,
		Advisor:  core.ProceedAdvisor{},
		Executor: executor,
		Notifier: notifier,
		Metrics:  m,
	}, scanCfg)
	telegram.Attach(scanner)

	settler := core.NewSettler(ledger, bankroll, refs, notifier, m)

	// ═══════════════════════════════════════════════════════════════════════════════
	// PRINT CONFIG
	// ═══════════════════════════════════════════════════════════════════════════════

	mode := "LIVE TRADING"
	if cfg.DryRun {
		mode = "PAPER TRADING"
	}
	log.Info().
		Str("mode", mode).
		Strs("instruments", labels).
		Int("markets", len(cfg.Keys())).
		Bool("reverse", cfg.ReverseEnabled).
		Bool("spike", cfg.SpikeEnabled).
		Int("min_streak", cfg.MinStreak).
		Msg("🎯 Gap scanner configured")

	// ═══════════════════════════════════════════════════════════════════════════════
	// START
	// ═══════════════════════════════════════════════════════════════════════════════

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return binance.Run(gctx) })
	g.Go(func() error { return chainlink.Run(gctx) })
	g.Go(func() error { return quotes.Run(gctx, cfg.OddsInterval) })
	g.Go(func() error { return scanner.Run(gctx) })
	g.Go(func() error { return settler.Run(gctx, cfg.SettleInterval) })
	if cfg.SpikeEnabled {
		spikes := core.NewSpikeDetector(scanner, prices.Spikes())
		g.Go(func() error { return spikes.Run(gctx) })
	}
	if telegram != nil {
		g.Go(func() error { return telegram.Run(gctx) })
	}
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return m.Serve(gctx, cfg.MetricsAddr) })
	}

	log.Info().Msg("🚀 All systems running...")

	// ═══════════════════════════════════════════════════════════════════════════════
	// GRACEFUL SHUTDOWN
	// ═══════════════════════════════════════════════════════════════════════════════

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Component failed")
	}

	log.Info().Msg("🛑 Shutting down...")
	scanner.Wait()

	s := ledger.Stats()
	log.Info().
		Int("wagers", s.Total).
		Int("pending", s.Pending).
		Str("pnl", s.PnL.StringFixed(2)).
		Str("balance", bankroll.Balance().StringFixed(2)).
		Msg("👋 Goodbye!")
}

// startingBalance rebuilds the paper balance from the whole wager table, or
// asks the exchange in live mode
func startingBalance(ctx context.Context, cfg *config.Config, client *exec.Client, db *storage.Database, ledger *core.Ledger) decimal.Decimal {
	if cfg.DryRun {
		stats, err := db.Stats()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to sum wager history, using INITIAL_BALANCE")
			return cfg.InitialBalance
		}
		return core.RebuildBalance(cfg.InitialBalance, stats.PnL, ledger.Pending())
	}
	balance, err := client.GetBalance(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to fetch balance, using INITIAL_BALANCE")
		return cfg.InitialBalance
	}
	return balance
}
