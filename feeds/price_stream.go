package feeds

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/gapscanner/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PRICE STREAM - Latest price, rolling ticks, spikes and velocity per instrument
// ═══════════════════════════════════════════════════════════════════════════════

const (
	tickHistory     = 120
	spikeLookback   = 10 * time.Second
	spikeMinTicks   = 5
	spikeThreshold  = 0.25 // % move inside the lookback
	spikeBufferSize = 100
)

// TickSink receives trade ticks from a feed
type TickSink interface {
	Update(instrument string, price float64, ts time.Time)
}

type tickSeries struct {
	mu    sync.Mutex
	last  types.PriceTick
	prev  types.PriceTick
	ticks *ring[types.PriceTick]
}

// PriceStream tracks the live trade price of every configured instrument.
// Ingestion never blocks: spikes are handed off on a buffered channel and
// dropped when the consumer falls behind.
type PriceStream struct {
	series  map[string]*tickSeries // built once, read-only afterwards
	spikes  chan types.Spike
	dropped atomic.Int64

	onSpike func(types.Spike)
}

// NewPriceStream creates a stream for the given instrument labels
func NewPriceStream(labels []string) *PriceStream {
	ps := &PriceStream{
		series: make(map[string]*tickSeries, len(labels)),
		spikes: make(chan types.Spike, spikeBufferSize),
	}
	for _, label := range labels {
		ps.series[label] = &tickSeries{ticks: newRing[types.PriceTick](tickHistory)}
	}
	return ps
}

// OnSpike registers a hook called for every detected spike (metrics)
func (ps *PriceStream) OnSpike(fn func(types.Spike)) {
	ps.onSpike = fn
}

// Spikes returns the spike event channel
func (ps *PriceStream) Spikes() <-chan types.Spike {
	return ps.spikes
}

// Dropped returns how many spikes were discarded because the channel was full
func (ps *PriceStream) Dropped() int64 {
	return ps.dropped.Load()
}

// Update ingests one tick. Malformed ticks and unknown instruments are ignored.
func (ps *PriceStream) Update(instrument string, price float64, ts time.Time) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) || ts.IsZero() {
		return
	}
	s, ok := ps.series[instrument]
	if !ok {
		return
	}

	tick := types.PriceTick{Price: price, Time: ts}

	s.mu.Lock()
	s.prev = s.last
	s.last = tick
	s.ticks.push(tick)
	spike, found := detectSpike(instrument, s.ticks, tick)
	s.mu.Unlock()

	if found {
		ps.emit(spike)
	}
}

// detectSpike compares the newest tick with the oldest retained tick inside
// the lookback window
func detectSpike(instrument string, ticks *ring[types.PriceTick], now types.PriceTick) (types.Spike, bool) {
	n := ticks.len()
	if n < spikeMinTicks {
		return types.Spike{}, false
	}

	cutoff := now.Time.Add(-spikeLookback)
	var from types.PriceTick
	found := false
	for i := 0; i < n; i++ {
		t := ticks.at(i)
		if !t.Time.Before(cutoff) {
			from = t
			found = true
			break
		}
	}
	if !found || from.Price <= 0 {
		return types.Spike{}, false
	}

	change := (now.Price - from.Price) / from.Price * 100
	if math.Abs(change) < spikeThreshold {
		return types.Spike{}, false
	}

	return types.Spike{
		Instrument: instrument,
		From:       from.Price,
		To:         now.Price,
		ChangePct:  change,
		DurationMs: now.Time.Sub(from.Time).Milliseconds(),
		At:         now.Time,
	}, true
}

func (ps *PriceStream) emit(spike types.Spike) {
	if ps.onSpike != nil {
		ps.onSpike(spike)
	}
	select {
	case ps.spikes <- spike:
		log.Debug().
			Str("asset", spike.Instrument).
			Float64("change_pct", spike.ChangePct).
			Int64("ms", spike.DurationMs).
			Msg("⚡ Spike detected")
	default:
		ps.dropped.Add(1)
	}
}

// Price returns the latest price, or 0 when the instrument has no data
func (ps *PriceStream) Price(instrument string) float64 {
	s, ok := ps.series[instrument]
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last.Price
}

// Velocity returns the % change per second between the two most recent ticks
func (ps *PriceStream) Velocity(instrument string) float64 {
	s, ok := ps.series[instrument]
	if !ok {
		return 0
	}
	s.mu.Lock()
	last, prev := s.last, s.prev
	s.mu.Unlock()

	if prev.Price <= 0 || last.Price <= 0 {
		return 0
	}
	elapsed := last.Time.Sub(prev.Time).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return (last.Price - prev.Price) / prev.Price * 100 / elapsed
}
