package feeds

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/gapscanner/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BOUNDARY PRICE ORACLE - Window open/close at settlement boundaries
// ═══════════════════════════════════════════════════════════════════════════════
//
// Markets settle on the oracle sample that was current at the boundary: the
// most recent sample at or before the boundary timestamp. Never interpolate,
// never use a later sample.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	DefaultOracleCapacity = 1000
	maxClosesPerWindow    = 100
)

type boundarySample struct {
	ts    int64 // unix seconds
	price float64
}

type windowState struct {
	boundary int64
	open     float64
	openOK   bool
	closes   map[int64]float64 // previous window start -> close
	order    []int64
}

type oracleSeries struct {
	mu      sync.RWMutex
	samples *ring[boundarySample]
	windows map[types.Timeframe]*windowState
}

// BoundaryPriceOracle keeps a capped, time-ordered sample buffer per instrument
// and snapshots window opens and closes as boundaries pass.
type BoundaryPriceOracle struct {
	name   string
	series map[string]*oracleSeries
	now    func() time.Time
}

// NewBoundaryPriceOracle creates an oracle tracking rollovers for timeframes
func NewBoundaryPriceOracle(name string, labels []string, timeframes []types.Timeframe, capacity int) *BoundaryPriceOracle {
	if capacity <= 0 {
		capacity = DefaultOracleCapacity
	}
	o := &BoundaryPriceOracle{
		name:   name,
		series: make(map[string]*oracleSeries, len(labels)),
		now:    time.Now,
	}
	for _, label := range labels {
		s := &oracleSeries{
			samples: newRing[boundarySample](capacity),
			windows: make(map[types.Timeframe]*windowState, len(timeframes)),
		}
		for _, tf := range timeframes {
			s.windows[tf] = &windowState{closes: make(map[int64]float64)}
		}
		o.series[label] = s
	}
	return o
}

// SetClock overrides the wall clock used for rollover detection
func (o *BoundaryPriceOracle) SetClock(now func() time.Time) {
	o.now = now
}

// Update implements TickSink
func (o *BoundaryPriceOracle) Update(instrument string, price float64, ts time.Time) {
	o.RecordSample(instrument, price, ts.Unix())
}

// RecordSample appends a sample. A sample in the same second as the newest one
// replaces it; samples older than the newest are dropped to keep the buffer
// ordered.
func (o *BoundaryPriceOracle) RecordSample(instrument string, price float64, tsSec int64) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) || tsSec <= 0 {
		return
	}
	s, ok := o.series[instrument]
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var before float64
	if newest := s.samples.newest(); newest != nil {
		before = newest.price
		switch {
		case tsSec == newest.ts:
			newest.price = price
		case tsSec < newest.ts:
			return
		default:
			s.samples.push(boundarySample{ts: tsSec, price: price})
		}
	} else {
		s.samples.push(boundarySample{ts: tsSec, price: price})
	}

	nowSec := o.now().Unix()
	for tf, w := range s.windows {
		o.rollover(instrument, tf, s, w, nowSec, before)
	}
}

// rollover must be called with s.mu held
func (o *BoundaryPriceOracle) rollover(instrument string, tf types.Timeframe, s *oracleSeries, w *windowState, nowSec int64, before float64) {
	b := Boundary(tf, nowSec)

	if w.boundary == b {
		if !w.openOK {
			w.open, w.openOK = s.at(b)
		}
		return
	}

	if w.boundary != 0 && b > w.boundary {
		closePrice, ok := s.at(b)
		if !ok {
			closePrice, ok = before, before > 0
		}
		if ok {
			w.storeClose(w.boundary, closePrice)
			log.Debug().
				Str("oracle", o.name).
				Str("asset", instrument).
				Str("tf", string(tf)).
				Int64("window", w.boundary).
				Float64("close", closePrice).
				Msg("📍 Window closed")
		}
	}

	w.boundary = b
	w.open, w.openOK = s.at(b)
}

func (w *windowState) storeClose(start int64, price float64) {
	if _, exists := w.closes[start]; !exists {
		w.order = append(w.order, start)
	}
	w.closes[start] = price
	for len(w.order) > maxClosesPerWindow {
		delete(w.closes, w.order[0])
		w.order = w.order[1:]
	}
}

// at scans newest to oldest for the first sample at or before boundary.
// Caller holds s.mu.
func (s *oracleSeries) at(boundary int64) (float64, bool) {
	for i := s.samples.len() - 1; i >= 0; i-- {
		sample := s.samples.at(i)
		if sample.ts <= boundary {
			return sample.price, true
		}
	}
	return 0, false
}

// PriceAtBoundary returns the most recent sample at or before boundary
func (o *BoundaryPriceOracle) PriceAtBoundary(instrument string, boundary int64) (float64, bool) {
	s, ok := o.series[instrument]
	if !ok {
		return 0, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.at(boundary)
}

// Open returns the open of the window currently in progress
func (o *BoundaryPriceOracle) Open(instrument string, tf types.Timeframe) (float64, bool) {
	s, ok := o.series[instrument]
	if !ok {
		return 0, false
	}
	b := Boundary(tf, o.now().Unix())

	s.mu.RLock()
	defer s.mu.RUnlock()
	if w, tracked := s.windows[tf]; tracked && w.boundary == b && w.openOK {
		return w.open, true
	}
	return s.at(b)
}

// Close returns the close of the window that started at windowStart. Falls
// back to a boundary lookup once a sample after the window end has arrived.
func (o *BoundaryPriceOracle) Close(instrument string, tf types.Timeframe, windowStart time.Time) (float64, bool) {
	s, ok := o.series[instrument]
	if !ok {
		return 0, false
	}
	start := windowStart.Unix()
	end := start + tf.Seconds()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if w, tracked := s.windows[tf]; tracked {
		if p, found := w.closes[start]; found {
			return p, true
		}
	}
	newest := s.samples.newest()
	if newest == nil || newest.ts <= end {
		return 0, false
	}
	return s.at(end)
}

// Latest returns the newest sample price, or 0
func (o *BoundaryPriceOracle) Latest(instrument string) float64 {
	s, ok := o.series[instrument]
	if !ok {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if newest := s.samples.newest(); newest != nil {
		return newest.price
	}
	return 0
}

// Len returns the number of retained samples
func (o *BoundaryPriceOracle) Len(instrument string) int {
	s, ok := o.series[instrument]
	if !ok {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.samples.len()
}
