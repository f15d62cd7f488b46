package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/veramoney/assistant/internal/domain"
	"github.com/veramoney/assistant/internal/transport/stockapi"
)

// stockClient is the consumer interface over the stock transport.
type stockClient interface {
	Quote(ctx context.Context, symbol string) (stockapi.Quote, error)
}

// Stock returns the latest quote for a ticker symbol.
type Stock struct {
	client stockClient
}

// NewStock creates the stock quote tool.
func NewStock(c stockClient) *Stock {
	return &Stock{client: c}
}

func (s *Stock) Name() string { return "get_stock_price" }

func (s *Stock) Description() string {
	return "Get the latest stock quote for a ticker symbol. " +
		"Use when the user asks about share prices or market data."
}

var stockSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"symbol": {
			"type": "string",
			"description": "Ticker symbol, e.g. AAPL"
		}
	},
	"required": ["symbol"]
}`)

func (s *Stock) Parameters() json.RawMessage { return stockSchema }

// Invoke validates the arguments and returns the quote as JSON.
func (s *Stock) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("decode arguments: %w: %w", domain.ErrValidation, err)
	}
	in.Symbol = strings.TrimSpace(in.Symbol)
	if in.Symbol == "" {
		return "", fmt.Errorf("symbol is required: %w", domain.ErrValidation)
	}

	quote, err := s.client.Quote(ctx, in.Symbol)
	if err != nil {
		return "", err
	}

	out, err := json.Marshal(quote)
	if err != nil {
		return "", fmt.Errorf("encode quote: %w", err)
	}
	return string(out), nil
}
