package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/gapscanner/feeds"
	"github.com/web3guy0/gapscanner/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// REFERENCES - Window open/close prices, one authoritative source per timeframe
// ═══════════════════════════════════════════════════════════════════════════════
//
//   5M / 15M: Chainlink boundary oracle
//   1H:       Binance boundary oracle, then the Binance 1h kline of the same window
//
// Closes of every timeframe fall back to the finished Binance kline, so wagers
// restored after downtime still settle.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	candleTimeout    = 3 * time.Second
	candleRetryDelay = 10 * time.Second
)

// CandleSource fetches one exchange kline
type CandleSource interface {
	Candle(ctx context.Context, symbol string, tf types.Timeframe, start time.Time) (feeds.Candle, error)
}

type candleOpen struct {
	start   time.Time
	price   float64
	ok      bool
	retryAt time.Time
}

// References resolves the open and close used to judge a window
type References struct {
	windows     *feeds.BoundaryPriceOracle
	hourly      *feeds.BoundaryPriceOracle
	candles     CandleSource
	instruments map[string]types.Instrument

	mu    sync.Mutex
	opens map[types.Key]candleOpen
}

// NewReferences wires the oracles. hourly and candles may be nil.
func NewReferences(windows, hourly *feeds.BoundaryPriceOracle, candles CandleSource, instruments []types.Instrument) *References {
	byLabel := make(map[string]types.Instrument, len(instruments))
	for _, inst := range instruments {
		byLabel[inst.Label] = inst
	}
	return &References{
		windows:     windows,
		hourly:      hourly,
		candles:     candles,
		instruments: byLabel,
		opens:       make(map[types.Key]candleOpen),
	}
}

func (r *References) oracleFor(tf types.Timeframe) *feeds.BoundaryPriceOracle {
	if tf == types.TF1H {
		return r.hourly
	}
	return r.windows
}

// Open returns the open of the window in progress at now
func (r *References) Open(ctx context.Context, key types.Key, now time.Time) (float64, bool) {
	if o := r.oracleFor(key.Timeframe); o != nil {
		if p, ok := o.Open(key.Instrument, key.Timeframe); ok {
			return p, true
		}
	}
	if key.Timeframe != types.TF1H || r.candles == nil {
		return 0, false
	}
	return r.candleOpen(ctx, key, feeds.WindowStart(key.Timeframe, now), now)
}

func (r *References) candleOpen(ctx context.Context, key types.Key, start, now time.Time) (float64, bool) {
	r.mu.Lock()
	cached, found := r.opens[key]
	r.mu.Unlock()
	if found && cached.start.Equal(start) {
		if cached.ok {
			return cached.price, true
		}
		if now.Before(cached.retryAt) {
			return 0, false
		}
	}

	inst, ok := r.instruments[key.Instrument]
	if !ok {
		return 0, false
	}
	fetchCtx, cancel := context.WithTimeout(ctx, candleTimeout)
	defer cancel()
	c, err := r.candles.Candle(fetchCtx, inst.BinanceSymbol, key.Timeframe, start)

	entry := candleOpen{start: start}
	if err != nil || c.Open <= 0 {
		entry.retryAt = now.Add(candleRetryDelay)
		log.Debug().Err(err).Str("key", key.String()).Msg("Kline open unavailable")
	} else {
		entry.price, entry.ok = c.Open, true
	}

	r.mu.Lock()
	r.opens[key] = entry
	r.mu.Unlock()
	return entry.price, entry.ok
}

// Close returns the settlement close of a wager's window
func (r *References) Close(ctx context.Context, w types.Wager) (float64, bool) {
	if o := r.oracleFor(w.Timeframe); o != nil {
		if p, ok := o.Close(w.Instrument, w.Timeframe, w.WindowStart); ok {
			return p, true
		}
	}
	if r.candles == nil {
		return 0, false
	}
	inst, ok := r.instruments[w.Instrument]
	if !ok {
		return 0, false
	}
	fetchCtx, cancel := context.WithTimeout(ctx, candleTimeout)
	defer cancel()
	c, err := r.candles.Candle(fetchCtx, inst.BinanceSymbol, w.Timeframe, w.WindowStart)
	if err != nil || !c.Closed || c.Close <= 0 {
		return 0, false
	}
	return c.Close, true
}
