package core

import (
	"sync"
	"time"

	"github.com/web3guy0/gapscanner/types"
)

// streakKind separates forward and reverse signals on the same key
type streakKind string

const (
	streakForward streakKind = "FWD"
	streakReverse streakKind = "REV"
)

// Streak counts consecutive scan ticks with the same signal
type Streak struct {
	Direction types.Direction
	Count     int
	AvgGap    float64 // running mean over Count observations
	Started   time.Time
}

type streakKey struct {
	key  types.Key
	kind streakKind
}

type streakBook struct {
	mu      sync.Mutex
	streaks map[streakKey]Streak
}

func newStreakBook() *streakBook {
	return &streakBook{streaks: make(map[streakKey]Streak)}
}

// observe extends the streak or restarts it on a direction change
func (b *streakBook) observe(key types.Key, kind streakKind, dir types.Direction, gap float64, now time.Time) Streak {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := streakKey{key, kind}
	s, ok := b.streaks[k]
	if !ok || s.Direction != dir {
		s = Streak{Direction: dir, Started: now}
	}
	s.AvgGap = (s.AvgGap*float64(s.Count) + gap) / float64(s.Count+1)
	s.Count++
	b.streaks[k] = s
	return s
}

func (b *streakBook) clear(key types.Key, kind streakKind) {
	b.mu.Lock()
	delete(b.streaks, streakKey{key, kind})
	b.mu.Unlock()
}

func (b *streakBook) get(key types.Key, kind streakKind) (Streak, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streaks[streakKey{key, kind}]
	return s, ok
}
