package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/gapscanner/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CIRCUIT BREAKER - Per-instrument suspension after consecutive losses
// ═══════════════════════════════════════════════════════════════════════════════

// CircuitBreaker suspends an instrument when its most recent settled wagers
// are all losses. Only a loss newer than the one behind the last trip can
// trip it again, so an idle instrument is not re-suspended forever.
type CircuitBreaker struct {
	mu sync.RWMutex

	// Configuration
	maxLosses int
	pause     time.Duration

	// State
	suspendedUntil map[string]time.Time
	lastTripLoss   map[string]time.Time
	reason         map[string]string

	onTrip func(instrument string, until time.Time, reason string)
}

// NewCircuitBreaker creates a breaker tripping after maxLosses for pause
func NewCircuitBreaker(maxLosses int, pause time.Duration) *CircuitBreaker {
	if maxLosses < 1 {
		maxLosses = 3
	}
	if pause <= 0 {
		pause = 5 * time.Minute
	}
	return &CircuitBreaker{
		maxLosses:      maxLosses,
		pause:          pause,
		suspendedUntil: make(map[string]time.Time),
		lastTripLoss:   make(map[string]time.Time),
		reason:         make(map[string]string),
	}
}

// OnTrip registers a callback fired on every trip
func (cb *CircuitBreaker) OnTrip(fn func(instrument string, until time.Time, reason string)) {
	cb.mu.Lock()
	cb.onTrip = fn
	cb.mu.Unlock()
}

// Evaluate inspects an instrument's settled wagers, newest first, and trips the
// breaker when the newest maxLosses are all losses. Returns true on a new trip.
func (cb *CircuitBreaker) Evaluate(instrument string, settled []types.Wager, now time.Time) bool {
	if len(settled) < cb.maxLosses {
		return false
	}
	for _, w := range settled[:cb.maxLosses] {
		if w.Result != types.Lose {
			return false
		}
	}
	newest := settled[0].ResolvedAt

	cb.mu.Lock()
	if now.Before(cb.suspendedUntil[instrument]) || !newest.After(cb.lastTripLoss[instrument]) {
		cb.mu.Unlock()
		return false
	}
	until := now.Add(cb.pause)
	cb.suspendedUntil[instrument] = until
	cb.lastTripLoss[instrument] = newest
	cb.reason[instrument] = "consecutive losses"
	onTrip := cb.onTrip
	cb.mu.Unlock()

	log.Warn().
		Str("asset", instrument).
		Int("consecutive_losses", cb.maxLosses).
		Dur("cooldown", cb.pause).
		Msg("🚨 CIRCUIT BREAKER TRIPPED")

	if onTrip != nil {
		onTrip(instrument, until, "consecutive losses")
	}
	return true
}

// Trip suspends an instrument manually until the given time
func (cb *CircuitBreaker) Trip(instrument string, until time.Time, reason string) {
	cb.mu.Lock()
	cb.suspendedUntil[instrument] = until
	cb.reason[instrument] = reason
	cb.mu.Unlock()
	log.Warn().Str("asset", instrument).Time("until", until).Str("reason", reason).Msg("⏸️ Instrument suspended")
}

// Suspended reports whether scanning of instrument is blocked at now
func (cb *CircuitBreaker) Suspended(instrument string, now time.Time) bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return now.Before(cb.suspendedUntil[instrument])
}

// Until returns the suspension expiry and reason, zero when never suspended
func (cb *CircuitBreaker) Until(instrument string) (time.Time, string) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.suspendedUntil[instrument], cb.reason[instrument]
}

// Reset lifts a suspension immediately
func (cb *CircuitBreaker) Reset(instrument string) {
	cb.mu.Lock()
	delete(cb.suspendedUntil, instrument)
	delete(cb.reason, instrument)
	cb.mu.Unlock()
	log.Info().Str("asset", instrument).Msg("✅ Circuit breaker reset")
}
