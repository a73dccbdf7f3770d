// Package weather looks up the current conditions of a city. Lookups are
// best-effort; callers store nil when they fail.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"walkingbus/internal/domain"
)

const DefaultBaseURL = "https://api.openweathermap.org/data/2.5/weather"

// Lookup returns the current weather of a city.
type Lookup interface {
	Current(ctx context.Context, city string) (*domain.Weather, error)
}

// Client queries an OpenWeatherMap compatible endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger.With("component", "weather"),
	}
}

type apiResponse struct {
	Main struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Message string `json:"message,omitempty"`
}

func (c *Client) Current(ctx context.Context, city string) (*domain.Weather, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return nil, fmt.Errorf("weather: empty city")
	}
	params := url.Values{}
	params.Set("q", city)
	params.Set("appid", c.apiKey)
	params.Set("units", "metric")

	reqURL := fmt.Sprintf("%s?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	var body apiResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && body.Message != "" {
			return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, body.Message)
		}
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decoding response: %w", decodeErr)
	}
	if len(body.Weather) == 0 {
		return nil, fmt.Errorf("response for %q carries no conditions", city)
	}

	c.logger.Debug("weather fetched", "city", city, "condition", body.Weather[0].Main, "duration_ms", time.Since(start).Milliseconds())
	return &domain.Weather{
		TemperatureC: body.Main.Temp,
		Condition:    body.Weather[0].Main,
	}, nil
}
