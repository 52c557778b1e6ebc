package risk

import (
	"math"
	"time"

	"github.com/web3guy0/gapscanner/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXPECTED VALUE ENGINE - Probability estimate, EV gate, adaptive thresholds
// ═══════════════════════════════════════════════════════════════════════════════
//
//   p  = base(|displacement|) + timeframe + time-in-window + velocity + momentum
//   ev = min(p/q - 1, 1.0)         q clamped to [0.20, 0.80]
//   act iff ev > threshold(recent win rate)
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	MinProbability = 0.50
	MaxProbability = 0.92
	EVCap          = 1.0

	ForwardGapBase = 0.06
	ReverseGapBase = 0.08

	minResolvedForWinRate = 5
)

// Forward and reverse quote clamps
var (
	forwardQuoteMin, forwardQuoteMax = 0.20, 0.80
	reverseQuoteMin, reverseQuoteMax = 0.10, 0.50
)

// WinRate is the realised win rate over recent resolved wagers
type WinRate struct {
	Rate     float64
	Resolved int
}

// Known reports whether enough wagers resolved for the rate to count
func (w WinRate) Known() bool {
	return w.Resolved >= minResolvedForWinRate
}

// NewWinRate builds a WinRate from win/resolved counts
func NewWinRate(wins, resolved int) WinRate {
	if resolved <= 0 {
		return WinRate{}
	}
	return WinRate{Rate: float64(wins) / float64(resolved), Resolved: resolved}
}

// ProbabilityInput is everything EstimateProbability looks at
type ProbabilityInput struct {
	DisplacementPct float64 // signed % from window open
	Timeframe       types.Timeframe
	Velocity        float64 // %/s, signed
	Momentum        float64 // consistency in [-1,1]
	Elapsed         time.Duration
}

// Decision is the EV gate's verdict
type Decision struct {
	EV        float64
	Action    types.Direction
	Threshold float64
	Quoted    float64 // after clamping
}

// Fire reports whether the decision is to bet
func (d Decision) Fire() bool {
	return d.Action != types.Hold
}

// EVEngine computes probabilities and EV decisions. Stateless.
type EVEngine struct{}

// NewEVEngine creates an engine
func NewEVEngine() *EVEngine {
	return &EVEngine{}
}

// baseProbability is a monotonic step of |displacement| in %
func baseProbability(absPct float64) float64 {
	switch {
	case absPct >= 1.0:
		return 0.85
	case absPct >= 0.7:
		return 0.80
	case absPct >= 0.5:
		return 0.73
	case absPct >= 0.35:
		return 0.66
	case absPct >= 0.25:
		return 0.61
	case absPct >= 0.15:
		return 0.57
	case absPct >= 0.10:
		return 0.54
	case absPct >= 0.08:
		return 0.52
	default:
		return 0.51
	}
}

func timeframeBonus(tf types.Timeframe) float64 {
	switch tf {
	case types.TF5M:
		return 0.05
	case types.TF15M:
		return 0.03
	}
	return 0
}

// timeBonus rewards moves that have held for longer into the window
func timeBonus(tf types.Timeframe, elapsed time.Duration) float64 {
	var marks [4]time.Duration // thresholds for +0.07, +0.05, +0.03, +0.01
	switch tf {
	case types.TF5M:
		marks = [4]time.Duration{4 * time.Minute, 3 * time.Minute, 2 * time.Minute, time.Minute}
	case types.TF15M:
		marks = [4]time.Duration{12 * time.Minute, 10 * time.Minute, 7 * time.Minute, 4 * time.Minute}
	default:
		marks = [4]time.Duration{50 * time.Minute, 40 * time.Minute, 30 * time.Minute, 15 * time.Minute}
	}
	bonuses := [4]float64{0.07, 0.05, 0.03, 0.01}
	for i, m := range marks {
		if elapsed >= m {
			return bonuses[i]
		}
	}
	return 0
}

// velocityBonus treats zero displacement as up, like DirectionOf
func velocityBonus(displacement, velocity float64) float64 {
	if velocity == 0 {
		return 0
	}
	if (displacement >= 0) != (velocity > 0) {
		return -0.02
	}
	v := math.Abs(velocity)
	switch {
	case v >= 0.05:
		return 0.06
	case v >= 0.02:
		return 0.04
	case v >= 0.01:
		return 0.02
	}
	return 0
}

func momentumBonus(m float64) float64 {
	a := math.Abs(m)
	switch {
	case a >= 0.8:
		return 0.04
	case a >= 0.6:
		return 0.02
	case a < 0.3:
		return -0.02
	}
	return 0
}

// EstimateProbability returns the win probability of betting in the direction
// of the displacement, within [MinProbability, MaxProbability]
func (e *EVEngine) EstimateProbability(in ProbabilityInput) float64 {
	p := baseProbability(math.Abs(in.DisplacementPct))
	p += timeframeBonus(in.Timeframe)
	p += timeBonus(in.Timeframe, in.Elapsed)
	p += velocityBonus(in.DisplacementPct, in.Velocity)
	p += momentumBonus(in.Momentum)
	return clamp(p, MinProbability, MaxProbability)
}

// SpikeProbability is the coarser estimate used on spike-triggered entries
func (e *EVEngine) SpikeProbability(changePct float64) float64 {
	a := math.Abs(changePct)
	switch {
	case a >= 1.0:
		return 0.82
	case a >= 0.7:
		return 0.77
	case a >= 0.5:
		return 0.72
	case a >= 0.35:
		return 0.66
	case a >= 0.25:
		return 0.60
	}
	return 0.55
}

// Calculate gates a forward bet in direction at the quoted price
func (e *EVEngine) Calculate(p, quoted float64, direction types.Direction, wr WinRate) Decision {
	return decide(p, clamp(quoted, forwardQuoteMin, forwardQuoteMax), direction, AdaptiveThreshold(wr))
}

// CalculateReverse gates a contrarian bet on the cheap side
func (e *EVEngine) CalculateReverse(p, quoted float64, direction types.Direction, wr WinRate) Decision {
	return decide(p, clamp(quoted, reverseQuoteMin, reverseQuoteMax), direction, AdaptiveThreshold(wr))
}

func decide(p, q float64, direction types.Direction, threshold float64) Decision {
	d := Decision{Action: types.Hold, Threshold: threshold, Quoted: q}
	if q <= 0 || math.IsNaN(p) {
		return d
	}
	d.EV = math.Min(p/q-1, EVCap)
	if d.EV > threshold && direction != types.Hold {
		d.Action = direction
	}
	return d
}

// AdaptiveThreshold lowers the EV bar when recent results are good
func AdaptiveThreshold(wr WinRate) float64 {
	switch {
	case !wr.Known():
		return 0.15
	case wr.Rate >= 0.65:
		return 0.08
	case wr.Rate >= 0.55:
		return 0.15
	}
	return 0.25
}

// AdaptiveGap adjusts the minimum probability-minus-price gap
func AdaptiveGap(base float64, wr WinRate) float64 {
	switch {
	case !wr.Known():
		return base
	case wr.Rate >= 0.65:
		return base - 0.02
	case wr.Rate >= 0.55:
		return base
	case wr.Rate >= 0.45:
		return base + 0.03
	}
	return base + 0.05
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
