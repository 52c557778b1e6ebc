package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/web3guy0/gapscanner/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// GUARDS - Reject choppy or directionless conditions
// ═══════════════════════════════════════════════════════════════════════════════
//
//   Momentum:  signed average of the last 10 displacement signs
//   Crossings: sign flips of (current - open) in the current window
//   Range:     (max-min)/min over the last 60 ticks
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	momentumWindow     = 10
	momentumMinSamples = 3
	minConsistency     = 0.4
	maxCrossings       = 5
	rangeTicks         = 60
	rangeMinTicks      = 10
	rangeFraction      = 0.8
)

// Reading is a snapshot of one key's guard statistics
type Reading struct {
	Consistency float64 // [-1,1], 0 below momentumMinSamples
	Samples     int
	Crossings   int
	RangePct    float64 // -1 below rangeMinTicks
}

type guardState struct {
	mu sync.Mutex

	signs  [momentumWindow]int8
	next   int
	filled int

	window    time.Time
	lastSign  int8
	crossings int

	min, max float64
	ticks    int
}

// Guards holds per-key statistics, one lock per key
type Guards struct {
	mu     sync.Mutex // guards the map only
	states map[types.Key]*guardState
}

// NewGuards creates an empty guard set
func NewGuards() *Guards {
	return &Guards{states: make(map[types.Key]*guardState)}
}

func (g *Guards) state(key types.Key) *guardState {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.states[key]
	if !ok {
		s = &guardState{}
		g.states[key] = s
	}
	return s
}

// Observe records one scan observation and returns the updated reading
func (g *Guards) Observe(key types.Key, current, open float64, windowStart time.Time) Reading {
	s := g.state(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	var sign int8 = 1
	if current-open < 0 {
		sign = -1
	}

	// momentum
	s.signs[s.next] = sign
	s.next = (s.next + 1) % momentumWindow
	if s.filled < momentumWindow {
		s.filled++
	}

	// crossings, per window
	if !s.window.Equal(windowStart) {
		s.window = windowStart
		s.crossings = 0
		s.lastSign = 0
	}
	if s.lastSign != 0 && sign != s.lastSign {
		s.crossings++
	}
	s.lastSign = sign

	// range, reset once the tracker is full
	if s.ticks >= rangeTicks {
		s.ticks = 0
	}
	if s.ticks == 0 {
		s.min, s.max = current, current
	} else {
		s.min = math.Min(s.min, current)
		s.max = math.Max(s.max, current)
	}
	s.ticks++

	return s.reading()
}

// Reading returns the current statistics without recording anything
func (g *Guards) Reading(key types.Key) Reading {
	s := g.state(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reading()
}

func (s *guardState) reading() Reading {
	r := Reading{Samples: s.filled, Crossings: s.crossings, RangePct: -1}
	if s.filled >= momentumMinSamples {
		sum := 0
		for i := 0; i < s.filled; i++ {
			sum += int(s.signs[i])
		}
		r.Consistency = float64(sum) / float64(s.filled)
	}
	if s.ticks >= rangeMinTicks && s.min > 0 {
		r.RangePct = (s.max - s.min) / s.min * 100
	}
	return r
}

// Check applies the three guards. minMovePct is the instrument's displacement
// requirement for the key's timeframe.
func Check(r Reading, minMovePct float64) (bool, string) {
	if math.Abs(r.Consistency) < minConsistency {
		return false, fmt.Sprintf("momentum %.2f", r.Consistency)
	}
	if r.Crossings >= maxCrossings {
		return false, fmt.Sprintf("crossings %d", r.Crossings)
	}
	if r.RangePct > 0 && r.RangePct < rangeFraction*minMovePct {
		return false, fmt.Sprintf("range %.3f%%", r.RangePct)
	}
	return true, ""
}
