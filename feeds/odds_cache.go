package feeds

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/web3guy0/gapscanner/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ODDS CACHE - Last-good quote per instrument×timeframe
// ═══════════════════════════════════════════════════════════════════════════════
//
// Quotes are replaced wholesale on each successful poll and never mutated.
// Readers check Fresh/Tradeable themselves; a stale quote is as good as none.
//
// ═══════════════════════════════════════════════════════════════════════════════

const oddsPollConcurrency = 4

// OddsCache polls a QuoteSource for every tracked key
type OddsCache struct {
	source      QuoteSource
	instruments []types.Instrument
	timeframes  []types.Timeframe
	quotes      map[types.Key]*atomic.Pointer[types.Quote] // keys fixed at construction

	timeout   time.Duration
	maxAge    time.Duration
	maxSpread float64
	now       func() time.Time

	onPoll func(key types.Key, err error)
}

// OddsCacheConfig tunes polling and freshness
type OddsCacheConfig struct {
	Timeout   time.Duration // per fetch
	MaxAge    time.Duration // freshness bound
	MaxSpread float64       // up+down ceiling
}

// NewOddsCache creates a cache for every instrument×timeframe pair
func NewOddsCache(source QuoteSource, instruments []types.Instrument, timeframes []types.Timeframe, cfg OddsCacheConfig) *OddsCache {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 8 * time.Second
	}
	if cfg.MaxSpread <= 0 {
		cfg.MaxSpread = 1.05
	}
	c := &OddsCache{
		source:      source,
		instruments: instruments,
		timeframes:  timeframes,
		quotes:      make(map[types.Key]*atomic.Pointer[types.Quote]),
		timeout:     cfg.Timeout,
		maxAge:      cfg.MaxAge,
		maxSpread:   cfg.MaxSpread,
		now:         time.Now,
	}
	for _, inst := range instruments {
		for _, tf := range timeframes {
			c.quotes[types.Key{Instrument: inst.Label, Timeframe: tf}] = &atomic.Pointer[types.Quote]{}
		}
	}
	return c
}

// SetClock overrides the clock used for window resolution and freshness
func (c *OddsCache) SetClock(now func() time.Time) {
	c.now = now
}

// OnPoll registers a hook called after every fetch (metrics)
func (c *OddsCache) OnPoll(fn func(key types.Key, err error)) {
	c.onPoll = fn
}

// Run polls every interval until ctx is cancelled
func (c *OddsCache) Run(ctx context.Context, interval time.Duration) error {
	log.Info().Dur("interval", interval).Int("keys", len(c.quotes)).Msg("📊 Odds cache started")

	c.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}

// Refresh fetches every key once. Failures keep the previous quote, which
// ages into staleness.
func (c *OddsCache) Refresh(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(oddsPollConcurrency)

	now := c.now()
	for _, inst := range c.instruments {
		for _, tf := range c.timeframes {
			inst, tf := inst, tf
			g.Go(func() error {
				c.refreshOne(ctx, inst, tf, now)
				return nil
			})
		}
	}
	_ = g.Wait()
}

func (c *OddsCache) refreshOne(ctx context.Context, inst types.Instrument, tf types.Timeframe, now time.Time) {
	key := types.Key{Instrument: inst.Label, Timeframe: tf}

	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q, err := c.source.FetchQuote(fetchCtx, inst, tf, now)
	if c.onPoll != nil {
		c.onPoll(key, err)
	}
	if err != nil {
		if errors.Is(err, ErrNoMarket) {
			log.Debug().Str("key", key.String()).Msg("No market for window")
		} else {
			log.Debug().Err(err).Str("key", key.String()).Msg("Quote fetch failed")
		}
		return
	}
	c.Put(key, q)
}

// Put replaces the cached quote for key
func (c *OddsCache) Put(key types.Key, q types.Quote) {
	slot, ok := c.quotes[key]
	if !ok {
		return
	}
	if q.FetchedAt.IsZero() {
		q.FetchedAt = c.now()
	}
	slot.Store(&q)
}

// Get returns the last cached quote. The zero Quote means none.
func (c *OddsCache) Get(key types.Key) types.Quote {
	slot, ok := c.quotes[key]
	if !ok {
		return types.Quote{}
	}
	if q := slot.Load(); q != nil {
		return *q
	}
	return types.Quote{}
}

// Fresh reports whether q is available, recent and for the window in progress
func (c *OddsCache) Fresh(key types.Key, q types.Quote, now time.Time) bool {
	if !q.Available || q.FetchedAt.IsZero() {
		return false
	}
	if now.Sub(q.FetchedAt) > c.maxAge {
		return false
	}
	return q.WindowStart.Equal(WindowStart(key.Timeframe, now))
}

// Tradeable is Fresh plus a sane spread and prices inside (0,1)
func (c *OddsCache) Tradeable(key types.Key, q types.Quote, now time.Time) bool {
	if !c.Fresh(key, q, now) {
		return false
	}
	if q.Up <= 0 || q.Down <= 0 || q.Up >= 1 || q.Down >= 1 {
		return false
	}
	return q.Spread() <= c.maxSpread
}

// Lookup returns the quote for key only when it is tradeable now
func (c *OddsCache) Lookup(key types.Key, now time.Time) (types.Quote, bool) {
	q := c.Get(key)
	return q, c.Tradeable(key, q, now)
}
