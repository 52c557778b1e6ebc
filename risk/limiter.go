package risk

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/gapscanner/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// LIMITER - Cooldown and hourly trade cap per instrument×timeframe
// ═══════════════════════════════════════════════════════════════════════════════
//
// Every signal path (scan, spike, reverse) goes through Acquire, which checks
// and registers under the key's lock. The commit callback (wager creation)
// runs under the same lock, so two concurrent fires for one key yield at most
// one wager per cooldown.
//
// ═══════════════════════════════════════════════════════════════════════════════

var (
	ErrCooldown    = errors.New("cooldown active")
	ErrHourlyLimit = errors.New("hourly limit reached")
	ErrReserved    = errors.New("reserved by another instance")
)

// CooldownFor returns the minimum spacing between trades on one key
func CooldownFor(tf types.Timeframe) time.Duration {
	if tf == types.TF5M {
		return 90 * time.Second
	}
	return 180 * time.Second
}

// HourlyLimitFor returns the per-hour trade cap of one key
func HourlyLimitFor(tf types.Timeframe) int {
	if tf == types.TF5M {
		return 5
	}
	return 3
}

// Reservations is a cross-process cooldown (Redis)
type Reservations interface {
	Reserve(ctx context.Context, key types.Key, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key types.Key) error
}

type limitSlot struct {
	mu        sync.Mutex
	lastTrade time.Time
	hour      int64 // unix hour of count
	count     int
}

// Limiter enforces cooldowns and hourly limits
type Limiter struct {
	mu           sync.Mutex // map only
	slots        map[types.Key]*limitSlot
	reservations Reservations
}

// NewLimiter creates a limiter; reservations may be nil
func NewLimiter(reservations Reservations) *Limiter {
	return &Limiter{
		slots:        make(map[types.Key]*limitSlot),
		reservations: reservations,
	}
}

func (l *Limiter) slot(key types.Key) *limitSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &limitSlot{}
		l.slots[key] = s
	}
	return s
}

func (s *limitSlot) check(key types.Key, now time.Time) error {
	if !s.lastTrade.IsZero() && now.Sub(s.lastTrade) < CooldownFor(key.Timeframe) {
		return ErrCooldown
	}
	if s.hour == now.Unix()/3600 && s.count >= HourlyLimitFor(key.Timeframe) {
		return ErrHourlyLimit
	}
	return nil
}

// Blocked is a read-only pre-check used to skip scanning a key
func (l *Limiter) Blocked(key types.Key, now time.Time) error {
	s := l.slot(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.check(key, now)
}

// Acquire checks the key's limits and, if clear, runs commit and registers the
// trade. Nothing is registered when commit fails.
func (l *Limiter) Acquire(ctx context.Context, key types.Key, now time.Time, commit func() error) error {
	s := l.slot(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(key, now); err != nil {
		return err
	}

	reserved := false
	if l.reservations != nil {
		ok, err := l.reservations.Reserve(ctx, key, CooldownFor(key.Timeframe))
		switch {
		case err != nil:
			// local limits still hold
			log.Warn().Err(err).Str("key", key.String()).Msg("Cooldown reservation unavailable")
		case !ok:
			return ErrReserved
		default:
			reserved = true
		}
	}

	if err := commit(); err != nil {
		if reserved {
			if rerr := l.reservations.Release(ctx, key); rerr != nil {
				log.Warn().Err(rerr).Str("key", key.String()).Msg("Cooldown release failed")
			}
		}
		return err
	}

	hour := now.Unix() / 3600
	if s.hour != hour {
		s.hour = hour
		s.count = 0
	}
	s.count++
	s.lastTrade = now
	return nil
}

// Usage returns the trades counted in the current hour and the last trade time
func (l *Limiter) Usage(key types.Key, now time.Time) (int, time.Time) {
	s := l.slot(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hour != now.Unix()/3600 {
		return 0, s.lastTrade
	}
	return s.count, s.lastTrade
}
