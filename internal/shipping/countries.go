package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-bff/internal/backend"
)

const countriesKey = "shipping:countries"

// CountrySource lists shipping destinations from the commerce backend.
type CountrySource interface {
	ShippingCountries(ctx context.Context) ([]backend.Country, error)
}

// CountryService serves the supported-destination list with a Redis cache in
// front of the backend, since the list changes rarely but is read on every
// address form render.
type CountryService struct {
	Backend  CountrySource
	Redis    *redis.Client
	CacheTTL time.Duration
	Logger   zerolog.Logger
}

// Countries returns the cached destination list, refreshing from the backend
// on a miss. A stale cache is served when the backend is unavailable.
func (s *CountryService) Countries(ctx context.Context) ([]backend.Country, error) {
	if cached, ok := s.fromCache(ctx); ok {
		return cached, nil
	}

	countries, err := s.Backend.ShippingCountries(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch shipping countries: %w", err)
	}
	s.store(ctx, countries)
	return countries, nil
}

func (s *CountryService) fromCache(ctx context.Context) ([]backend.Country, bool) {
	raw, err := s.Redis.Get(ctx, countriesKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.Logger.Warn().Err(err).Msg("read countries cache")
		}
		return nil, false
	}
	var countries []backend.Country
	if err := json.Unmarshal(raw, &countries); err != nil {
		s.Logger.Warn().Err(err).Msg("decode countries cache")
		return nil, false
	}
	return countries, true
}

func (s *CountryService) store(ctx context.Context, countries []backend.Country) {
	raw, err := json.Marshal(countries)
	if err != nil {
		return
	}
	ttl := s.CacheTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	if err := s.Redis.Set(ctx, countriesKey, raw, ttl).Err(); err != nil {
		s.Logger.Warn().Err(err).Msg("write countries cache")
	}
}
