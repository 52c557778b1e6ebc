package feeds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/gapscanner/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// GAMMA QUOTE SOURCE - Up/Down prices for the current window's market
// ═══════════════════════════════════════════════════════════════════════════════
//
// 1. Resolve the slug from wall-clock time (see Slug)
// 2. gamma /events?slug= (fallback /markets/slug/<slug>) for token IDs and
//    outcomePrices
// 3. CLOB /book?token_id= best asks for the tradeable price, when available
//
// ═══════════════════════════════════════════════════════════════════════════════

// ErrNoMarket is returned when no market exists for the current window
var ErrNoMarket = errors.New("no market for current window")

// QuoteSource returns the two-sided quote for the window containing now
type QuoteSource interface {
	FetchQuote(ctx context.Context, inst types.Instrument, tf types.Timeframe, now time.Time) (types.Quote, error)
}

// GammaQuoteSource implements QuoteSource against the Polymarket APIs
type GammaQuoteSource struct {
	gammaURL   string
	clobURL    string
	httpClient *http.Client
}

// NewGammaQuoteSource creates a quote source
func NewGammaQuoteSource(gammaURL, clobURL string, timeout time.Duration) *GammaQuoteSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &GammaQuoteSource{
		gammaURL:   strings.TrimSuffix(gammaURL, "/"),
		clobURL:    strings.TrimSuffix(clobURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type gammaMarket struct {
	ID            string `json:"id"`
	ConditionID   string `json:"conditionId"`
	Slug          string `json:"slug"`
	Closed        bool   `json:"closed"`
	Outcomes      string `json:"outcomes"`      // "[\"Up\", \"Down\"]"
	OutcomePrices string `json:"outcomePrices"` // "[\"0.51\", \"0.49\"]"
	ClobTokenIds  string `json:"clobTokenIds"`
}

type clobBook struct {
	Asks []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"asks"`
}

// FetchQuote resolves and prices the market of the window containing now
func (g *GammaQuoteSource) FetchQuote(ctx context.Context, inst types.Instrument, tf types.Timeframe, now time.Time) (types.Quote, error) {
	slug := Slug(inst, tf, now)

	market, err := g.marketBySlug(ctx, slug)
	if err != nil {
		return types.Quote{}, err
	}

	quote, err := parseMarket(market)
	if err != nil {
		return types.Quote{}, fmt.Errorf("%s: %w", slug, err)
	}
	quote.Slug = slug
	quote.WindowStart = WindowStart(tf, now)

	// Live asks are the price we would actually pay
	if up, ok := g.bestAsk(ctx, quote.UpTokenID); ok {
		if down, ok := g.bestAsk(ctx, quote.DownTokenID); ok {
			quote.Up, quote.Down = up, down
		}
	}

	quote.Available = !market.Closed && quote.Up > 0 && quote.Down > 0
	quote.FetchedAt = time.Now()
	return quote, nil
}

func (g *GammaQuoteSource) marketBySlug(ctx context.Context, slug string) (gammaMarket, error) {
	var events []struct {
		Slug    string        `json:"slug"`
		Closed  bool          `json:"closed"`
		Markets []gammaMarket `json:"markets"`
	}
	err := g.getJSON(ctx, fmt.Sprintf("%s/events?slug=%s", g.gammaURL, url.QueryEscape(slug)), &events)
	if err == nil && len(events) > 0 && len(events[0].Markets) > 0 {
		m := events[0].Markets[0]
		m.Closed = m.Closed || events[0].Closed
		return m, nil
	}

	var market gammaMarket
	if err := g.getJSON(ctx, fmt.Sprintf("%s/markets/slug/%s", g.gammaURL, url.PathEscape(slug)), &market); err != nil {
		return gammaMarket{}, fmt.Errorf("%s: %w", slug, ErrNoMarket)
	}
	if market.ConditionID == "" && market.ClobTokenIds == "" {
		return gammaMarket{}, fmt.Errorf("%s: %w", slug, ErrNoMarket)
	}
	return market, nil
}

// parseMarket decodes the JSON-in-string fields and orders sides as Up, Down
func parseMarket(m gammaMarket) (types.Quote, error) {
	var tokenIDs, prices, outcomes []string
	if err := json.Unmarshal([]byte(m.ClobTokenIds), &tokenIDs); err != nil || len(tokenIDs) < 2 {
		return types.Quote{}, fmt.Errorf("bad clobTokenIds: %w", ErrNoMarket)
	}
	if m.OutcomePrices != "" && m.OutcomePrices != "null" {
		if err := json.Unmarshal([]byte(m.OutcomePrices), &prices); err != nil {
			return types.Quote{}, fmt.Errorf("bad outcomePrices: %w", err)
		}
	}
	if m.Outcomes != "" {
		_ = json.Unmarshal([]byte(m.Outcomes), &outcomes)
	}

	up, down := 0, 1
	if len(outcomes) >= 2 && strings.EqualFold(outcomes[0], "down") {
		up, down = 1, 0
	}

	q := types.Quote{
		MarketID:    m.ConditionID,
		UpTokenID:   tokenIDs[up],
		DownTokenID: tokenIDs[down],
	}
	if len(prices) >= 2 {
		q.Up, _ = strconv.ParseFloat(prices[up], 64)
		q.Down, _ = strconv.ParseFloat(prices[down], 64)
	}
	return q, nil
}

// bestAsk returns the lowest ask on the token's book
func (g *GammaQuoteSource) bestAsk(ctx context.Context, tokenID string) (float64, bool) {
	if tokenID == "" || g.clobURL == "" {
		return 0, false
	}
	var book clobBook
	if err := g.getJSON(ctx, fmt.Sprintf("%s/book?token_id=%s", g.clobURL, url.QueryEscape(tokenID)), &book); err != nil {
		log.Debug().Err(err).Str("token", tokenID).Msg("CLOB book unavailable")
		return 0, false
	}
	best := 0.0
	for _, a := range book.Asks {
		p, err := strconv.ParseFloat(a.Price, 64)
		if err != nil || p <= 0 {
			continue
		}
		if best == 0 || p < best {
			best = p
		}
	}
	return best, best > 0
}

func (g *GammaQuoteSource) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d from %s", resp.StatusCode, endpoint)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
