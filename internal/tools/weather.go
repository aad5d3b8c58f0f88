package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minhdn/ragserve/internal/llm"
)

// DefaultWeatherBaseURL is the wttr.in endpoint, which needs no API key.
const DefaultWeatherBaseURL = "https://wttr.in"

// WeatherTool reports current weather for a city via wttr.in.
type WeatherTool struct {
	baseURL string
	client  *http.Client
}

// NewWeatherTool creates the tool. An empty baseURL uses wttr.in.
func NewWeatherTool(baseURL string) *WeatherTool {
	if baseURL == "" {
		baseURL = DefaultWeatherBaseURL
	}
	return &WeatherTool{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *WeatherTool) Name() string { return "get_weather" }

func (t *WeatherTool) Definition() llm.ToolDef {
	return schema(t.Name(),
		"Get the current weather for a city.",
		`{
			"type": "object",
			"properties": {
				"city": {"type": "string", "description": "City name, e.g. Hanoi"}
			},
			"required": ["city"]
		}`)
}

type weatherArgs struct {
	City string `json:"city"`
}

func (t *WeatherTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	var a weatherArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("invalid weather arguments: %w", err)
	}
	if strings.TrimSpace(a.City) == "" {
		return "", fmt.Errorf("city is required")
	}

	// format=3 returns a one-line plain text summary.
	reqURL := fmt.Sprintf("%s/%s?format=3", t.baseURL, url.PathEscape(a.City))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("weather service unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("weather service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}
