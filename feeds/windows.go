package feeds

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/web3guy0/gapscanner/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// WINDOWS - Settlement window math and market identifiers
// ═══════════════════════════════════════════════════════════════════════════════
//
// Windows are aligned to fixed 5/15/60 minute boundaries. Markets name them in
// US Eastern time, whose offset is a whole number of hours, so the boundaries
// coincide with Unix-epoch multiples of the window length.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Eastern is the timezone markets use to name hourly windows
var Eastern = mustLoadLocation("America/New_York")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// Candle positions returned by CandlePosition
const (
	PositionOpening = 0 // inside the excluded opening edge
	PositionEarly   = 1 // < 30% elapsed
	PositionMid     = 2 // < 70% elapsed
	PositionLate    = 3 // >= 70% elapsed
	PositionClosing = 4 // inside the excluded closing edge
)

// Boundary returns the window start (unix seconds) containing unixSec
func Boundary(tf types.Timeframe, unixSec int64) int64 {
	span := tf.Seconds()
	if span <= 0 {
		return unixSec
	}
	return unixSec - unixSec%span
}

// WindowStart returns the start of the window containing t
func WindowStart(tf types.Timeframe, t time.Time) time.Time {
	return time.Unix(Boundary(tf, t.Unix()), 0).UTC()
}

// Elapsed returns how far t is into its window
func Elapsed(tf types.Timeframe, t time.Time) time.Duration {
	return t.Sub(WindowStart(tf, t))
}

func edgeFor(tf types.Timeframe) time.Duration {
	switch tf {
	case types.TF5M:
		return 40 * time.Second
	case types.TF15M:
		return 2 * time.Minute
	default:
		return 3 * time.Minute
	}
}

// CandlePosition classifies t within its window. The opening and closing
// edges (40s for 5M, 2m for 15M, 3m for 1H) are excluded from trading.
func CandlePosition(tf types.Timeframe, t time.Time) int {
	total := tf.Duration()
	elapsed := Elapsed(tf, t)
	edge := edgeFor(tf)

	if elapsed < edge {
		return PositionOpening
	}
	if total-elapsed < edge {
		return PositionClosing
	}

	pct := float64(elapsed) / float64(total)
	switch {
	case pct < 0.30:
		return PositionEarly
	case pct < 0.70:
		return PositionMid
	default:
		return PositionLate
	}
}

// Slug resolves the market identifier of the window containing t.
//
//	5M:  btc-updown-5m-1771122000
//	15M: btc-updown-15m-1770942600
//	1H:  bitcoin-up-or-down-february-12-4am-et
func Slug(inst types.Instrument, tf types.Timeframe, t time.Time) string {
	start := WindowStart(tf, t)
	prefix := strings.ToLower(inst.Label)

	switch tf {
	case types.TF5M:
		return fmt.Sprintf("%s-updown-5m-%d", prefix, start.Unix())
	case types.TF15M:
		return fmt.Sprintf("%s-updown-15m-%d", prefix, start.Unix())
	}

	et := start.In(Eastern)
	hour := et.Hour()
	ampm := "am"
	if hour >= 12 {
		ampm = "pm"
	}
	hour12 := hour % 12
	if hour12 == 0 {
		hour12 = 12
	}
	month := strings.ToLower(et.Month().String())
	return fmt.Sprintf("%s-up-or-down-%s-%d-%d%s-et", inst.HourlySlug, month, et.Day(), hour12, ampm)
}
