package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
	"github.com/zatekoja/discoveryrank/backend/internal/infrastructure/observability"
)

// Recommender computes ranked lists through the cache
type Recommender interface {
	Recommend(ctx context.Context, strategy entities.Strategy, params entities.RecommendParams, user entities.UserContext) (*entities.RankedList, error)
}

// WarmTarget is one anonymous list kept warm
type WarmTarget struct {
	Strategy entities.Strategy
	Params   entities.RecommendParams
}

// DefaultWarmTargets are the anonymous landing-page sections
func DefaultWarmTargets() []WarmTarget {
	return []WarmTarget{
		{Strategy: entities.StrategyTrending, Params: entities.RecommendParams{Limit: DefaultLimit}},
		{Strategy: entities.StrategyNew, Params: entities.RecommendParams{Limit: DefaultLimit}},
		{Strategy: entities.StrategyPopular, Params: entities.RecommendParams{Limit: DefaultLimit}},
	}
}

// CacheWarmingService precomputes frequently requested anonymous lists
type CacheWarmingService struct {
	recommender Recommender
	cache       PatternDeleter
	targets     []WarmTarget
	logger      zerolog.Logger
}

// NewCacheWarmingService creates a new cache warming service
func NewCacheWarmingService(recommender Recommender, cache PatternDeleter, targets []WarmTarget) *CacheWarmingService {
	if len(targets) == 0 {
		targets = DefaultWarmTargets()
	}
	return &CacheWarmingService{
		recommender: recommender,
		cache:       cache,
		targets:     targets,
		logger:      observability.ComponentLogger("cache_warming"),
	}
}

// WarmCache computes every target. Individual failures are logged; the
// count of warmed targets is returned.
func (s *CacheWarmingService) WarmCache(ctx context.Context) int {
	s.logger.Debug().Int("targets", len(s.targets)).Msg("Starting cache warming")

	warmed := 0
	for _, t := range s.targets {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.recommender.Recommend(ctx, t.Strategy, t.Params, entities.UserContext{}); err != nil {
			s.logger.Warn().Err(err).Str("strategy", string(t.Strategy)).Msg("Failed to warm recommendations")
			continue
		}
		warmed++
	}

	s.logger.Info().Int("warmed", warmed).Int("targets", len(s.targets)).Msg("Cache warming completed")
	return warmed
}

// WarmSimilar precomputes the similar list for one product
func (s *CacheWarmingService) WarmSimilar(ctx context.Context, productID string) error {
	params := entities.RecommendParams{Limit: DefaultLimit, ProductID: productID}
	if _, err := s.recommender.Recommend(ctx, entities.StrategySimilar, params, entities.UserContext{}); err != nil {
		return fmt.Errorf("failed to warm similar products for %s: %w", productID, err)
	}
	return nil
}

// StartPeriodicWarming warms once, then again every interval until ctx is done
func (s *CacheWarmingService) StartPeriodicWarming(ctx context.Context, interval time.Duration) {
	s.WarmCache(ctx)

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("Stopping cache warming service")
				return
			case <-ticker.C:
				s.WarmCache(ctx)
			}
		}
	}()
	s.logger.Info().Dur("interval", interval).Msg("Started periodic cache warming")
}

// InvalidateAll drops every cached recommendation (after bulk imports)
func (s *CacheWarmingService) InvalidateAll(ctx context.Context) (int, error) {
	n, err := s.cache.DeletePattern(ctx, KeyPrefix)
	if err != nil {
		return n, fmt.Errorf("failed to invalidate recommendations: %w", err)
	}
	s.logger.Info().Int("deleted", n).Msg("Recommendation cache invalidated")
	return n, nil
}
