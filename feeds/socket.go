package feeds

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	minBackoff       = time.Second
	maxBackoff       = 30 * time.Second
	stableSession    = time.Minute
	handshakeTimeout = 10 * time.Second
	readTimeout      = 60 * time.Second
)

var dialer = websocket.Dialer{
	HandshakeTimeout: handshakeTimeout,
}

// reconnectLoop runs session until ctx is done, doubling the pause between
// failed sessions up to maxBackoff. A session that stayed up for a while
// resets the backoff.
func reconnectLoop(ctx context.Context, name string, onReconnect func(string), session func(ctx context.Context) error) {
	delay := minBackoff
	for {
		started := time.Now()
		err := session(ctx)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > stableSession {
			delay = minBackoff
		}

		log.Warn().Err(err).Str("feed", name).Dur("retry_in", delay).Msg("🔌 WebSocket disconnected, reconnecting")
		if onReconnect != nil {
			onReconnect(name)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}
}

// readLoop reads frames until the connection fails or ctx is done. The
// connection is closed on return.
func readLoop(ctx context.Context, conn *websocket.Conn, handle func([]byte)) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()

	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		handle(message)
	}
}
