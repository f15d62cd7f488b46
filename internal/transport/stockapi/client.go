// Package stockapi is a thin client for an Alpha Vantage-compatible
// quote endpoint.
package stockapi

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

	"github.com/veramoney/assistant/internal/domain"
)

// Typed failures callers branch on.
var (
	ErrUnknownSymbol = errors.New("unknown stock symbol")
	ErrQuotaExceeded = errors.New("stock API quota exceeded")
)

// Quote is a single stock quote.
type Quote struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent string  `json:"change_percent"`
	Volume        int64   `json:"volume"`
	TradingDay    string  `json:"latest_trading_day"`
}

// Client calls the quote service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Config holds client settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// New creates a stock quote client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// quoteResponse mirrors the GLOBAL_QUOTE payload. An empty "Global
// Quote" object means the symbol is unknown; a "Note" field signals
// rate limiting.
type quoteResponse struct {
	GlobalQuote map[string]string `json:"Global Quote"`
	Note        string            `json:"Note"`
	ErrorMsg    string            `json:"Error Message"`
}

// Quote fetches the latest quote for a symbol.
func (c *Client) Quote(ctx context.Context, symbol string) (Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	u := fmt.Sprintf("%s/query?function=GLOBAL_QUOTE&symbol=%s&apikey=%s",
		c.baseURL, url.QueryEscape(symbol), url.QueryEscape(c.apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("quote request: %w: %w", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("stock API status %d: %w", resp.StatusCode, domain.ErrTransport)
	}

	var body quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Quote{}, fmt.Errorf("decode quote response: %w: %w", domain.ErrTransport, err)
	}

	switch {
	case body.Note != "":
		return Quote{}, ErrQuotaExceeded
	case body.ErrorMsg != "":
		return Quote{}, fmt.Errorf("%q: %w", symbol, ErrUnknownSymbol)
	case len(body.GlobalQuote) == 0:
		return Quote{}, fmt.Errorf("%q: %w", symbol, ErrUnknownSymbol)
	}

	q := Quote{
		Symbol:        body.GlobalQuote["01. symbol"],
		ChangePercent: body.GlobalQuote["10. change percent"],
		TradingDay:    body.GlobalQuote["07. latest trading day"],
	}
	q.Price, _ = strconv.ParseFloat(body.GlobalQuote["05. price"], 64)
	q.Change, _ = strconv.ParseFloat(body.GlobalQuote["09. change"], 64)
	q.Volume, _ = strconv.ParseInt(body.GlobalQuote["06. volume"], 10, 64)

	if q.Symbol == "" {
		q.Symbol = symbol
	}
	return q, nil
}
