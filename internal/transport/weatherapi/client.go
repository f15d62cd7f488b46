// Package weatherapi is a thin client for the current-conditions
// endpoint of a WeatherAPI-compatible service.
package weatherapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/veramoney/assistant/internal/domain"
)

// Typed failures callers branch on.
var (
	ErrCityNotFound  = errors.New("city not found")
	ErrQuotaExceeded = errors.New("weather API quota exceeded")
)

// Report is the current weather for a location.
type Report struct {
	City        string  `json:"city"`
	Country     string  `json:"country"`
	Description string  `json:"description"`
	TempC       float64 `json:"temp_c"`
	FeelsLikeC  float64 `json:"feels_like_c"`
	Humidity    int     `json:"humidity"`
	WindKph     float64 `json:"wind_kph"`
}

// Client calls the weather service.
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

// New creates a weather client.
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

// currentResponse mirrors the WeatherAPI current.json payload.
type currentResponse struct {
	Location struct {
		Name    string `json:"name"`
		Country string `json:"country"`
	} `json:"location"`
	Current struct {
		TempC     float64 `json:"temp_c"`
		FeelsLike float64 `json:"feelslike_c"`
		Humidity  int     `json:"humidity"`
		WindKph   float64 `json:"wind_kph"`
		Condition struct {
			Text string `json:"text"`
		} `json:"condition"`
	} `json:"current"`
}

// Current fetches current conditions for a city, optionally qualified
// by country.
func (c *Client) Current(ctx context.Context, city, country string) (Report, error) {
	query := city
	if country != "" {
		query = city + "," + country
	}

	u := fmt.Sprintf("%s/current.json?key=%s&q=%s",
		c.baseURL, url.QueryEscape(c.apiKey), url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Report{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Report{}, fmt.Errorf("weather request: %w: %w", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest, http.StatusNotFound:
		return Report{}, fmt.Errorf("%q: %w", query, ErrCityNotFound)
	case http.StatusForbidden, http.StatusTooManyRequests:
		return Report{}, ErrQuotaExceeded
	default:
		return Report{}, fmt.Errorf("weather API status %d: %w", resp.StatusCode, domain.ErrTransport)
	}

	var body currentResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Report{}, fmt.Errorf("decode weather response: %w: %w", domain.ErrTransport, err)
	}

	return Report{
		City:        body.Location.Name,
		Country:     body.Location.Country,
		Description: body.Current.Condition.Text,
		TempC:       body.Current.TempC,
		FeelsLikeC:  body.Current.FeelsLike,
		Humidity:    body.Current.Humidity,
		WindKph:     body.Current.WindKph,
	}, nil
}
