package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/gapscanner/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BINANCE TRADE STREAM - Real-time trade ticks over a combined websocket
// ═══════════════════════════════════════════════════════════════════════════════
//
// Feeds:
//   - PriceStream (latest price, velocity, spikes)
//   - the hourly BoundaryPriceOracle
//
// Combined stream format: /stream?streams=btcusdt@trade/ethusdt@trade
// The subscription lives in the URL, so every reconnect resubscribes the full
// instrument set.
//
// ═══════════════════════════════════════════════════════════════════════════════

// BinanceStream delivers trade ticks for every configured instrument
type BinanceStream struct {
	baseURL     string
	streams     []string
	bySymbol    map[string]string // BTCUSDT -> BTC
	sinks       []TickSink
	onReconnect func(string)
}

// NewBinanceStream creates a stream for instruments, fanning ticks out to sinks
func NewBinanceStream(baseURL string, instruments []types.Instrument, sinks ...TickSink) *BinanceStream {
	s := &BinanceStream{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		bySymbol: make(map[string]string, len(instruments)),
		sinks:    sinks,
	}
	for _, inst := range instruments {
		symbol := strings.ToLower(inst.BinanceSymbol)
		s.streams = append(s.streams, symbol+"@trade")
		s.bySymbol[strings.ToUpper(symbol)] = inst.Label
	}
	return s
}

// OnReconnect registers a hook called on every reconnect attempt
func (s *BinanceStream) OnReconnect(fn func(feed string)) {
	s.onReconnect = fn
}

// URL returns the combined stream URL
func (s *BinanceStream) URL() string {
	return fmt.Sprintf("%s?streams=%s", s.baseURL, strings.Join(s.streams, "/"))
}

// Run connects and reads until ctx is cancelled
func (s *BinanceStream) Run(ctx context.Context) error {
	log.Info().Strs("streams", s.streams).Msg("📈 Binance trade stream started")
	reconnectLoop(ctx, "binance", s.onReconnect, s.session)
	return nil
}

func (s *BinanceStream) session(ctx context.Context) error {
	conn, _, err := dialer.DialContext(ctx, s.URL(), nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	log.Info().Int("streams", len(s.streams)).Msg("🔌 WebSocket connected to Binance")
	return readLoop(ctx, conn, s.handleMessage)
}

func (s *BinanceStream) handleMessage(data []byte) {
	// {"stream":"btcusdt@trade","data":{"s":"BTCUSDT","p":"97000.10","T":1770000000123}}
	var wrapper struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil || len(wrapper.Data) == 0 {
		return
	}

	var trade struct {
		Symbol string `json:"s"`
		Price  string `json:"p"`
		Time   int64  `json:"T"`
	}
	if err := json.Unmarshal(wrapper.Data, &trade); err != nil {
		return
	}

	label, ok := s.bySymbol[strings.ToUpper(trade.Symbol)]
	if !ok {
		return
	}
	price, err := strconv.ParseFloat(trade.Price, 64)
	if err != nil || price <= 0 {
		return
	}
	ts := time.UnixMilli(trade.Time)
	if trade.Time <= 0 {
		ts = time.Now()
	}

	for _, sink := range s.sinks {
		sink.Update(label, price, ts)
	}
}
