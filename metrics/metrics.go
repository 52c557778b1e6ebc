package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/gapscanner/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// METRICS - Prometheus collectors for the scanner
// ═══════════════════════════════════════════════════════════════════════════════
//
// All methods are safe on a nil *Metrics so components can run without them.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Metrics holds every collector the scanner exports
type Metrics struct {
	registry *prometheus.Registry

	TicksTotal       *prometheus.CounterVec // instrument
	SpikesTotal      *prometheus.CounterVec // instrument
	QuotePollsTotal  *prometheus.CounterVec // timeframe, outcome
	RejectionsTotal  *prometheus.CounterVec // timeframe, reason
	FiredTotal       *prometheus.CounterVec // source
	SettledTotal     *prometheus.CounterVec // result
	CircuitTrips     *prometheus.CounterVec // instrument
	WSReconnects     *prometheus.CounterVec // stream
	Bankroll         prometheus.Gauge
	PendingWagers    prometheus.Gauge
	DecisionDuration prometheus.Histogram
}

// New creates the collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gapscanner_ticks_total",
			Help: "Trade ticks ingested",
		}, []string{"instrument"}),
		SpikesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gapscanner_spikes_total",
			Help: "Price spikes detected",
		}, []string{"instrument"}),
		QuotePollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gapscanner_quote_polls_total",
			Help: "Quote source polls by outcome",
		}, []string{"timeframe", "outcome"}),
		RejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gapscanner_scan_rejections_total",
			Help: "Scan ticks that ended without a trade, by reason",
		}, []string{"timeframe", "reason"}),
		FiredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gapscanner_wagers_fired_total",
			Help: "Wagers opened, by signal source",
		}, []string{"source"}),
		SettledTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gapscanner_wagers_settled_total",
			Help: "Wagers settled, by result",
		}, []string{"result"}),
		CircuitTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gapscanner_circuit_trips_total",
			Help: "Circuit breaker trips",
		}, []string{"instrument"}),
		WSReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gapscanner_ws_reconnects_total",
			Help: "Websocket reconnection attempts",
		}, []string{"stream"}),
		Bankroll: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gapscanner_bankroll_usd",
			Help: "Current bankroll balance",
		}),
		PendingWagers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gapscanner_pending_wagers",
			Help: "Wagers awaiting settlement",
		}),
		DecisionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gapscanner_decision_duration_seconds",
			Help:    "Time to evaluate one instrument×timeframe scan",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		}),
	}

	m.registry.MustRegister(
		m.TicksTotal,
		m.SpikesTotal,
		m.QuotePollsTotal,
		m.RejectionsTotal,
		m.FiredTotal,
		m.SettledTotal,
		m.CircuitTrips,
		m.WSReconnects,
		m.Bankroll,
		m.PendingWagers,
		m.DecisionDuration,
		prometheus.NewGoCollector(),
	)
	return m
}

// Gatherer exposes the registry for tests and the HTTP handler
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Update counts a trade tick. Satisfies feeds.TickSink.
func (m *Metrics) Update(instrument string, price float64, ts time.Time) {
	if m == nil {
		return
	}
	m.TicksTotal.WithLabelValues(instrument).Inc()
}

// Spike counts a detected spike
func (m *Metrics) Spike(s types.Spike) {
	if m == nil {
		return
	}
	m.SpikesTotal.WithLabelValues(s.Instrument).Inc()
}

// QuotePoll records one quote source poll
func (m *Metrics) QuotePoll(key types.Key, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.QuotePollsTotal.WithLabelValues(string(key.Timeframe), outcome).Inc()
}

// Rejected records a scan that ended without a trade
func (m *Metrics) Rejected(key types.Key, reason string) {
	if m == nil {
		return
	}
	m.RejectionsTotal.WithLabelValues(string(key.Timeframe), reason).Inc()
}

// Fired records an opened wager
func (m *Metrics) Fired(source types.Source) {
	if m == nil {
		return
	}
	m.FiredTotal.WithLabelValues(string(source)).Inc()
}

// Settled records a settled wager
func (m *Metrics) Settled(result types.Result) {
	if m == nil {
		return
	}
	m.SettledTotal.WithLabelValues(string(result)).Inc()
}

// CircuitTrip records a breaker trip
func (m *Metrics) CircuitTrip(instrument string) {
	if m == nil {
		return
	}
	m.CircuitTrips.WithLabelValues(instrument).Inc()
}

// Reconnect records a websocket reconnection attempt
func (m *Metrics) Reconnect(stream string) {
	if m == nil {
		return
	}
	m.WSReconnects.WithLabelValues(stream).Inc()
}

// SetBankroll publishes the balance
func (m *Metrics) SetBankroll(balance float64) {
	if m == nil {
		return
	}
	m.Bankroll.Set(balance)
}

// SetPending publishes the number of pending wagers
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingWagers.Set(float64(n))
}

// ObserveDecision records how long one scan took
func (m *Metrics) ObserveDecision(d time.Duration) {
	if m == nil {
		return
	}
	m.DecisionDuration.Observe(d.Seconds())
}

// Serve exposes /metrics on addr until ctx is cancelled
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("📈 Metrics listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
