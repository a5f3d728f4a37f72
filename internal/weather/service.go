package weather

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/skycast-app/skycast/internal/cache"
	"github.com/skycast-app/skycast/internal/observability"
)

// Service fronts the upstream client with a TTL cache so repeated lookups of
// the same city/state/units tuple do not hit OpenWeather.
type Service struct {
	client *Client
	cache  *cache.Cache
	ttl    time.Duration
}

func NewService(client *Client, c *cache.Cache, ttl time.Duration) *Service {
	return &Service{client: client, cache: c, ttl: ttl}
}

// Get returns the report plus whether it was served from cache. Cache
// failures degrade to upstream fetches rather than failing the lookup.
func (s *Service) Get(ctx context.Context, city, state, units string) (*Report, bool, error) {
	key := cacheKey(city, state, units)

	var cached Report
	hit, err := s.cache.GetJSON(ctx, key, &cached)
	if err != nil {
		slog.Warn("weather cache read failed", "key", key, "error", err)
	}
	if hit {
		observability.RecordWeatherLookup(ctx, "cache", "hit")
		return &cached, true, nil
	}

	report, err := s.client.Fetch(ctx, city, state, units)
	if err != nil {
		observability.RecordWeatherLookup(ctx, "upstream", "error")
		return nil, false, err
	}
	observability.RecordWeatherLookup(ctx, "upstream", "success")

	if err := s.cache.SetJSON(ctx, key, report, s.ttl); err != nil {
		slog.Warn("weather cache write failed", "key", key, "error", err)
	}
	return report, false, nil
}

func cacheKey(city, state, units string) string {
	return strings.ToLower(fmt.Sprintf("wx:%s,%s,us:%s",
		strings.TrimSpace(city), strings.TrimSpace(state), units))
}
