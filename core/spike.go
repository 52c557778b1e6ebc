package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/gapscanner/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SPIKE DETECTOR - Spike-triggered entries alongside the periodic scan
// ═══════════════════════════════════════════════════════════════════════════════

const (
	spikeWorkers  = 2
	spikeDebounce = 15 * time.Second
	spikeMinGap   = 0.10
)

// Spike outcomes
const (
	OutcomeDebounced = "debounced"
	OutcomeUnknown   = "unknown_instrument"
)

// spikeTimeframes are tried in order for a quote
var spikeTimeframes = []types.Timeframe{types.TF15M, types.TF1H}

// SpikeDetector consumes PriceStream spikes and fires through the scanner
type SpikeDetector struct {
	scanner *Scanner
	spikes  <-chan types.Spike

	mu   sync.Mutex
	last map[string]types.Spike // instrument -> last handled spike
}

// NewSpikeDetector creates a detector reading spikes
func NewSpikeDetector(scanner *Scanner, spikes <-chan types.Spike) *SpikeDetector {
	return &SpikeDetector{
		scanner: scanner,
		spikes:  spikes,
		last:    make(map[string]types.Spike),
	}
}

// Run starts the workers and blocks until ctx is cancelled
func (d *SpikeDetector) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < spikeWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case spike := <-d.spikes:
					d.handleSafe(ctx, spike)
				}
			}
		}()
	}
	log.Info().Int("workers", spikeWorkers).Msg("⚡ Spike detector started")
	wg.Wait()
	return nil
}

func (d *SpikeDetector) handleSafe(ctx context.Context, spike types.Spike) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("asset", spike.Instrument).Interface("panic", r).Msg("Spike handler panicked")
		}
	}()
	d.Handle(ctx, spike)
}

// debounced reports whether a same-direction spike was handled recently, and
// records this one otherwise
func (d *SpikeDetector) debounced(spike types.Spike) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev, ok := d.last[spike.Instrument]
	if ok && prev.Direction() == spike.Direction() && spike.At.Sub(prev.At) < spikeDebounce {
		return true
	}
	d.last[spike.Instrument] = spike
	return false
}

// Handle evaluates one spike and returns how it ended
func (d *SpikeDetector) Handle(ctx context.Context, spike types.Spike) string {
	s := d.scanner
	now := s.now()

	if s.paused.Load() {
		return OutcomePaused
	}
	if d.debounced(spike) {
		return OutcomeDebounced
	}
	known := false
	for _, inst := range s.instruments {
		if inst.Label == spike.Instrument {
			known = true
			break
		}
	}
	if !known {
		return OutcomeUnknown
	}
	if s.breaker.Suspended(spike.Instrument, now) {
		return OutcomeSuspended
	}

	var (
		key   types.Key
		quote types.Quote
		found bool
	)
	for _, tf := range spikeTimeframes {
		key = types.Key{Instrument: spike.Instrument, Timeframe: tf}
		if quote, found = s.quotes.Lookup(key, now); found {
			break
		}
	}
	if !found {
		return OutcomeNoQuote
	}
	if err := s.limiter.Blocked(key, now); err != nil {
		return OutcomeCooldown
	}
	open, ok := s.refs.Open(ctx, key, now)
	if !ok || open <= 0 {
		return OutcomeNoOpen
	}

	dir := spike.Direction()
	p := s.ev.SpikeProbability(spike.ChangePct)
	quoted := quote.PriceFor(dir)
	gap := p - quoted
	if gap < spikeMinGap {
		return OutcomeGap
	}
	decision := s.ev.Calculate(p, quoted, dir, s.WinRate())
	if decision.EV <= 0 {
		return OutcomeEV
	}
	decision.Action = dir

	sig := Signal{
		Key:             key,
		Direction:       dir,
		Source:          types.SourceSpike,
		Probability:     p,
		Quoted:          quoted,
		EV:              decision.EV,
		Gap:             gap,
		DisplacementPct: spike.ChangePct,
		OpenPrice:       open,
		EntryPrice:      spike.To,
		Quote:           quote,
		At:              now,
	}

	log.Info().
		Str("asset", spike.Instrument).
		Float64("change_pct", spike.ChangePct).
		Int64("ms", spike.DurationMs).
		Float64("gap", gap).
		Msg("⚡ Spike entry")

	if err := s.fire(ctx, sig, decision); err != nil {
		log.Debug().Err(err).Str("key", key.String()).Msg("Spike fire rejected")
		return OutcomeFireFailed
	}
	return OutcomeFired
}
