package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

var (
	// ErrLocationNotFound means geocoding returned no match for city/state.
	ErrLocationNotFound = errors.New("location not found")
	// ErrUpstream covers transport failures and non-200 upstream responses.
	ErrUpstream = errors.New("weather upstream failed")
)

// Client talks to the OpenWeather geocoding and current-conditions APIs.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Report is the shape returned to API consumers.
type Report struct {
	Location  string  `json:"location"`
	Temp      float64 `json:"temp"`
	FeelsLike float64 `json:"feels_like"`
	Condition string  `json:"condition"`
	Icon      string  `json:"icon"`
	Wind      float64 `json:"wind"`
}

type geoResult struct {
	Name  string  `json:"name"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	State string  `json:"state"`
}

type currentConditions struct {
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

// Fetch geocodes city/state (US only, first match) and then pulls current
// conditions for the resolved coordinates.
func (c *Client) Fetch(ctx context.Context, city, state, units string) (*Report, error) {
	geoURL := fmt.Sprintf("%s/geo/1.0/direct?q=%s&limit=1&appid=%s",
		c.baseURL,
		url.QueryEscape(fmt.Sprintf("%s,%s,US", city, state)),
		url.QueryEscape(c.apiKey),
	)
	var locations []geoResult
	if err := c.getJSON(ctx, geoURL, &locations); err != nil {
		return nil, fmt.Errorf("%w: geocode: %v", ErrUpstream, err)
	}
	if len(locations) == 0 {
		return nil, ErrLocationNotFound
	}
	loc := locations[0]
	stateName := loc.State
	if stateName == "" {
		stateName = state
	}

	conditionsURL := fmt.Sprintf("%s/data/2.5/weather?lat=%v&lon=%v&units=%s&appid=%s",
		c.baseURL, loc.Lat, loc.Lon, url.QueryEscape(units), url.QueryEscape(c.apiKey))
	var cur currentConditions
	if err := c.getJSON(ctx, conditionsURL, &cur); err != nil {
		return nil, fmt.Errorf("%w: conditions: %v", ErrUpstream, err)
	}

	report := &Report{
		Location:  fmt.Sprintf("%s, %s", loc.Name, stateName),
		Temp:      cur.Main.Temp,
		FeelsLike: cur.Main.FeelsLike,
		Wind:      cur.Wind.Speed,
	}
	if len(cur.Weather) > 0 {
		report.Condition = cur.Weather[0].Description
		report.Icon = cur.Weather[0].Icon
	}
	return report, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}
