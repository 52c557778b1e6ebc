package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/gapscanner/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CHAINLINK STREAM - Settlement oracle prices via the Polymarket RTDS socket
// ═══════════════════════════════════════════════════════════════════════════════
//
// 5M and 15M markets resolve against Chainlink Data Streams. RTDS relays the
// same series, so boundary lookups on it agree with settlement.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	rtdsTopic        = "crypto_prices_chainlink"
	rtdsPingInterval = 5 * time.Second
)

var rtdsSubscribe = []byte(`{"action":"subscribe","subscriptions":[{"topic":"` + rtdsTopic + `","type":"*","filters":""}]}`)

// ChainlinkStream feeds oracle samples into sinks (normally the 5M/15M oracle)
type ChainlinkStream struct {
	url         string
	bySymbol    map[string]string // btc/usd -> BTC
	sinks       []TickSink
	onReconnect func(string)
}

// NewChainlinkStream creates an RTDS client for instruments
func NewChainlinkStream(url string, instruments []types.Instrument, sinks ...TickSink) *ChainlinkStream {
	s := &ChainlinkStream{
		url:      url,
		bySymbol: make(map[string]string, len(instruments)),
		sinks:    sinks,
	}
	for _, inst := range instruments {
		s.bySymbol[strings.ToLower(inst.ChainlinkSymbol)] = inst.Label
	}
	return s
}

// OnReconnect registers a hook called on every reconnect attempt
func (s *ChainlinkStream) OnReconnect(fn func(feed string)) {
	s.onReconnect = fn
}

// Run connects and reads until ctx is cancelled
func (s *ChainlinkStream) Run(ctx context.Context) error {
	log.Info().Int("symbols", len(s.bySymbol)).Msg("⛓️ Chainlink RTDS stream started")
	reconnectLoop(ctx, "chainlink", s.onReconnect, s.session)
	return nil
}

func (s *ChainlinkStream) session(ctx context.Context) error {
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, rtdsSubscribe); err != nil {
		conn.Close()
		return fmt.Errorf("subscribe failed: %w", err)
	}
	log.Info().Msg("🔌 WebSocket connected to Chainlink RTDS")

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.keepAlive(sessionCtx, conn)

	return readLoop(sessionCtx, conn, s.handleMessage)
}

// keepAlive sends the text PING the relay expects
func (s *ChainlinkStream) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(rtdsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, []byte("PING")); err != nil {
				return
			}
		}
	}
}

type rtdsMessage struct {
	Topic   string `json:"topic"`
	Payload struct {
		Symbol    string  `json:"symbol"`
		Value     float64 `json:"value"`
		Timestamp float64 `json:"timestamp"`
	} `json:"payload"`
}

func (s *ChainlinkStream) handleMessage(data []byte) {
	if len(data) == 0 || data[0] != '{' {
		return // PONG and other keepalive frames
	}
	var msg rtdsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if msg.Topic != rtdsTopic {
		return
	}
	label, ok := s.bySymbol[strings.ToLower(msg.Payload.Symbol)]
	if !ok || msg.Payload.Value <= 0 {
		return
	}

	ts := rtdsTime(msg.Payload.Timestamp)
	for _, sink := range s.sinks {
		sink.Update(label, msg.Payload.Value, ts)
	}
}

// rtdsTime accepts seconds or milliseconds
func rtdsTime(raw float64) time.Time {
	if raw <= 0 {
		return time.Now()
	}
	if raw > 1e12 {
		return time.UnixMilli(int64(raw))
	}
	return time.Unix(int64(raw), 0)
}
