package weather

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"miraqua/internal/types"
)

// Service caches forecast windows per location grid cell. Plots within the
// same ~1km cell share a window, and concurrent fetches for one cell are
// coalesced into a single upstream call.
type Service struct {
	provider Provider
	ttl      time.Duration
	clock    types.Clock
	logger   *slog.Logger

	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]*types.ForecastWindow
}

// NewService creates a forecast cache in front of the given provider.
func NewService(provider Provider, ttl time.Duration, clock types.Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		provider: provider,
		ttl:      ttl,
		clock:    clock,
		logger:   logger,
		cache:    make(map[string]*types.ForecastWindow),
	}
}

// Window returns the forecast window for a location, fetching from the
// provider when the cached entry is missing or older than the TTL. On fetch
// failure a stale cached window is served as a degraded fallback; with no
// cached window the provider error propagates and the caller degrades to
// schedule-only evaluation.
func (s *Service) Window(ctx context.Context, loc types.Location) (*types.ForecastWindow, error) {
	key := loc.Key()
	now := s.clock.Now()

	if w := s.cached(key); w != nil && now.Sub(w.FetchedAt) <= s.ttl {
		return w, nil
	}

	v, err, shared := s.group.Do(key, func() (interface{}, error) {
		// Re-check under the flight: another caller may have refreshed
		// while this one waited.
		if w := s.cached(key); w != nil && s.clock.Now().Sub(w.FetchedAt) <= s.ttl {
			return w, nil
		}

		w, err := s.provider.Forecast(ctx, loc)
		if err != nil {
			return nil, err
		}
		s.store(key, w)
		return w, nil
	})
	if err != nil {
		if stale := s.cached(key); stale != nil {
			s.logger.WarnContext(ctx, "forecast refresh failed, serving stale window",
				slog.String("location_key", key),
				slog.Time("fetched_at", stale.FetchedAt),
				slog.String("error", err.Error()),
			)
			return stale, nil
		}
		return nil, err
	}

	w := v.(*types.ForecastWindow)
	if shared {
		s.logger.DebugContext(ctx, "forecast fetch coalesced",
			slog.String("location_key", key))
	}
	return w, nil
}

// Invalidate drops the cached window for a location. Used by tests and by
// maintenance when a provider incident produced bad data.
func (s *Service) Invalidate(loc types.Location) {
	s.mu.Lock()
	delete(s.cache, loc.Key())
	s.mu.Unlock()
}

func (s *Service) cached(key string) *types.ForecastWindow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache[key]
}

func (s *Service) store(key string, w *types.ForecastWindow) {
	s.mu.Lock()
	s.cache[key] = w
	s.mu.Unlock()
}
