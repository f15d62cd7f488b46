package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/veramoney/assistant/internal/domain"
	"github.com/veramoney/assistant/internal/transport/weatherapi"
)

// weatherClient is the consumer interface over the weather transport.
type weatherClient interface {
	Current(ctx context.Context, city, country string) (weatherapi.Report, error)
}

// Weather reports current conditions for a city.
type Weather struct {
	client weatherClient
}

// NewWeather creates the weather tool.
func NewWeather(c weatherClient) *Weather {
	return &Weather{client: c}
}

func (w *Weather) Name() string { return "get_weather" }

func (w *Weather) Description() string {
	return "Get the current weather conditions for a city. " +
		"Use when the user asks about weather or temperature."
}

var weatherSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"city": {
			"type": "string",
			"description": "City name, e.g. Lima"
		},
		"country": {
			"type": "string",
			"description": "Optional country to disambiguate the city"
		}
	},
	"required": ["city"]
}`)

func (w *Weather) Parameters() json.RawMessage { return weatherSchema }

// Invoke validates the arguments and returns the report as JSON.
func (w *Weather) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		City    string `json:"city"`
		Country string `json:"country"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("decode arguments: %w: %w", domain.ErrValidation, err)
	}
	in.City = strings.TrimSpace(in.City)
	if in.City == "" {
		return "", fmt.Errorf("city is required: %w", domain.ErrValidation)
	}

	report, err := w.client.Current(ctx, in.City, strings.TrimSpace(in.Country))
	if err != nil {
		return "", err
	}

	out, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	return string(out), nil
}
