package core

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/gapscanner/risk"
	"github.com/web3guy0/gapscanner/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// LEDGER - In-memory book of wagers, mirrored to the store
// ═══════════════════════════════════════════════════════════════════════════════

var (
	ErrAlreadyResolved = errors.New("wager already resolved")
	ErrUnknownWager    = errors.New("unknown wager")
)

const (
	maxResolvedHistory = 500
	restoreLimit       = 200
)

// Ledger owns every wager the process knows about. Pending wagers are never
// pruned; resolved history is capped.
type Ledger struct {
	mu     sync.RWMutex
	wagers map[string]*types.Wager
	order  []string // creation order
	store  WagerStore
	now    func() time.Time
}

// NewLedger creates a ledger; store may be nil
func NewLedger(store WagerStore) *Ledger {
	return &Ledger{
		wagers: make(map[string]*types.Wager),
		store:  store,
		now:    time.Now,
	}
}

// SetClock overrides the clock used for CreatedAt
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// Open records a new PENDING wager and returns it with its ID assigned
func (l *Ledger) Open(w types.Wager) types.Wager {
	w.ID = uuid.NewString()
	w.Result = types.Pending
	if w.CreatedAt.IsZero() {
		w.CreatedAt = l.now()
	}

	l.mu.Lock()
	stored := w
	l.wagers[w.ID] = &stored
	l.order = append(l.order, w.ID)
	l.mu.Unlock()
	return w
}

// SetOrderID attaches the execution confirmation to a wager
func (l *Ledger) SetOrderID(id, orderID string) {
	l.mu.Lock()
	if w, ok := l.wagers[id]; ok {
		w.OrderID = orderID
	}
	l.mu.Unlock()
}

// Persist writes a wager to the store once. Failures are logged only.
func (l *Ledger) Persist(id string) {
	if l.store == nil {
		return
	}
	w, ok := l.Get(id)
	if !ok {
		return
	}
	if err := l.store.CreateWager(w); err != nil {
		log.Error().Err(err).Str("wager", id).Msg("Failed to persist wager")
	}
}

// Get returns a copy of one wager
func (l *Ledger) Get(id string) (types.Wager, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	w, ok := l.wagers[id]
	if !ok {
		return types.Wager{}, false
	}
	return *w, true
}

// Resolve moves a PENDING wager to WIN or LOSE exactly once
func (l *Ledger) Resolve(id string, result types.Result, exit float64, pnl decimal.Decimal, at time.Time) (types.Wager, error) {
	l.mu.Lock()
	w, ok := l.wagers[id]
	if !ok {
		l.mu.Unlock()
		return types.Wager{}, ErrUnknownWager
	}
	if w.Resolved() {
		l.mu.Unlock()
		return *w, ErrAlreadyResolved
	}
	w.Result = result
	w.ExitPrice = exit
	w.ProfitLoss = pnl
	w.ResolvedAt = at
	resolved := *w
	l.pruneLocked()
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.UpdateWager(resolved); err != nil {
			log.Error().Err(err).Str("wager", id).Msg("Failed to persist settlement")
		}
	}
	return resolved, nil
}

func (l *Ledger) pruneLocked() {
	resolved := 0
	for _, id := range l.order {
		if l.wagers[id].Resolved() {
			resolved++
		}
	}
	if resolved <= maxResolvedHistory {
		return
	}
	drop := resolved - maxResolvedHistory
	kept := l.order[:0]
	for _, id := range l.order {
		if drop > 0 && l.wagers[id].Resolved() {
			delete(l.wagers, id)
			drop--
			continue
		}
		kept = append(kept, id)
	}
	l.order = kept
}

// Pending returns every PENDING wager, oldest first
func (l *Ledger) Pending() []types.Wager {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []types.Wager
	for _, id := range l.order {
		if w := l.wagers[id]; w.Result == types.Pending {
			out = append(out, *w)
		}
	}
	return out
}

// Settled returns up to n resolved wagers of an instrument, newest first
func (l *Ledger) Settled(instrument string, n int) []types.Wager {
	l.mu.RLock()
	var out []types.Wager
	for _, w := range l.wagers {
		if w.Resolved() && (instrument == "" || w.Instrument == instrument) {
			out = append(out, *w)
		}
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ResolvedAt.After(out[j].ResolvedAt)
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Recent returns up to n wagers, newest first
func (l *Ledger) Recent(n int) []types.Wager {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []types.Wager
	for i := len(l.order) - 1; i >= 0 && (n <= 0 || len(out) < n); i-- {
		out = append(out, *l.wagers[l.order[i]])
	}
	return out
}

// WinRate is the realised win rate over the last n resolved wagers
func (l *Ledger) WinRate(n int) risk.WinRate {
	settled := l.Settled("", n)
	wins := 0
	for _, w := range settled {
		if w.Result == types.Win {
			wins++
		}
	}
	return risk.NewWinRate(wins, len(settled))
}

// Stats summarises everything in memory
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := Stats{PnL: decimal.Zero}
	for _, w := range l.wagers {
		s.Total++
		switch w.Result {
		case types.Win:
			s.Wins++
		case types.Lose:
			s.Losses++
		default:
			s.Pending++
		}
		s.PnL = s.PnL.Add(w.ProfitLoss)
	}
	return s
}

// Restore loads pending and recent wagers from the store
func (l *Ledger) Restore() error {
	if l.store == nil {
		return nil
	}
	pending, err := l.store.PendingWagers()
	if err != nil {
		return err
	}
	recent, err := l.store.RecentWagers(restoreLimit)
	if err != nil {
		return err
	}

	all := append(recent, pending...)
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range all {
		if _, exists := l.wagers[w.ID]; exists || w.ID == "" {
			continue
		}
		stored := w
		l.wagers[w.ID] = &stored
		l.order = append(l.order, w.ID)
	}
	l.pruneLocked()

	log.Info().Int("pending", len(pending)).Int("loaded", len(l.order)).Msg("📒 Ledger restored")
	return nil
}
