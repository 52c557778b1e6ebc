package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/web3guy0/gapscanner/types"
)

// KlineClient reads candle open/close from the Binance REST API. It backs up
// the hourly oracle when the process started mid-window.
type KlineClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewKlineClient creates a kline client
func NewKlineClient(baseURL string, timeout time.Duration) *KlineClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KlineClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Candle is one kline's open and close
type Candle struct {
	OpenTime time.Time
	Open     float64
	Close    float64
	Closed   bool
}

func klineInterval(tf types.Timeframe) string {
	switch tf {
	case types.TF5M:
		return "5m"
	case types.TF15M:
		return "15m"
	default:
		return "1h"
	}
}

// Candle returns the kline of tf that starts at start
func (c *KlineClient) Candle(ctx context.Context, symbol string, tf types.Timeframe, start time.Time) (Candle, error) {
	endpoint := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&startTime=%d&limit=1",
		c.baseURL, strings.ToUpper(symbol), klineInterval(tf), start.UnixMilli())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Candle{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Candle{}, fmt.Errorf("klines: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Candle{}, fmt.Errorf("klines: status %d", resp.StatusCode)
	}

	// [[openTime,"open","high","low","close","volume",closeTime,...]]
	var rows [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return Candle{}, fmt.Errorf("klines: %w", err)
	}
	return parseKline(rows, start, time.Now())
}

func parseKline(rows [][]json.RawMessage, start, now time.Time) (Candle, error) {
	if len(rows) == 0 || len(rows[0]) < 7 {
		return Candle{}, fmt.Errorf("klines: no candle at %s", start.UTC().Format(time.RFC3339))
	}
	row := rows[0]

	var openMs, closeMs int64
	var openStr, closeStr string
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return Candle{}, fmt.Errorf("klines: open time: %w", err)
	}
	if openMs != start.UnixMilli() {
		return Candle{}, fmt.Errorf("klines: no candle at %s", start.UTC().Format(time.RFC3339))
	}
	if err := json.Unmarshal(row[1], &openStr); err != nil {
		return Candle{}, fmt.Errorf("klines: open: %w", err)
	}
	if err := json.Unmarshal(row[4], &closeStr); err != nil {
		return Candle{}, fmt.Errorf("klines: close: %w", err)
	}
	if err := json.Unmarshal(row[6], &closeMs); err != nil {
		return Candle{}, fmt.Errorf("klines: close time: %w", err)
	}

	open, err := strconv.ParseFloat(openStr, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("klines: open: %w", err)
	}
	closePrice, err := strconv.ParseFloat(closeStr, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("klines: close: %w", err)
	}

	return Candle{
		OpenTime: time.UnixMilli(openMs),
		Open:     open,
		Close:    closePrice,
		Closed:   now.UnixMilli() > closeMs,
	}, nil
}
