package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/discoveryrank/backend/internal/adapters/cache"
	"github.com/zatekoja/discoveryrank/backend/internal/adapters/database"
	"github.com/zatekoja/discoveryrank/backend/internal/adapters/events"
	"github.com/zatekoja/discoveryrank/backend/internal/adapters/search"
	"github.com/zatekoja/discoveryrank/backend/internal/application/scoring"
	"github.com/zatekoja/discoveryrank/backend/internal/application/services"
	"github.com/zatekoja/discoveryrank/backend/internal/application/strategies"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/providers"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/repositories"
	"github.com/zatekoja/discoveryrank/backend/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/discoveryrank/backend/internal/infrastructure/clients/redis"
	"github.com/zatekoja/discoveryrank/backend/internal/infrastructure/clients/typesense"
	"github.com/zatekoja/discoveryrank/backend/internal/infrastructure/observability"
	"github.com/zatekoja/discoveryrank/backend/pkg/config"
)

func main() {
	var invalidateAll bool
	flag.BoolVar(&invalidateAll, "invalidate-all", false, "drop every cached recommendation on startup")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	observability.InitLogger(cfg.OTEL.ServiceName, cfg.Log.Env, cfg.Log.Level)
	log.Info().
		Str("service", cfg.OTEL.ServiceName).
		Str("version", cfg.OTEL.ServiceVersion).
		Str("env", cfg.Log.Env).
		Msg("Starting ranker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry if enabled
	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to set up OpenTelemetry")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(shutdownCtx); err != nil {
					log.Error().Err(err).Msg("Error shutting down OpenTelemetry")
				}
			}()
			log.Info().Msg("OpenTelemetry initialized successfully")
		}
	}

	metrics, err := observability.InitMetrics()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize metrics")
	}

	pgClient, err := postgres.NewClient(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize PostgreSQL client")
	}
	defer pgClient.Close()

	// Redis backs both the cache and the event stream; without it the
	// ranker runs on the in-process cache and routes events inline
	var redisClient *redis.Client
	if cfg.Cache.Backend == "redis" {
		redisClient, err = redis.NewClient(&cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Redis client, using in-process cache")
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	var store providers.CacheStore
	var queue providers.EngagementQueue
	if redisClient != nil {
		store = cache.NewRedisAdapter(redisClient)
		queue = events.NewRedisStreamQueue(redisClient, events.StreamConfig{
			Stream:   cfg.Worker.EventStream,
			Group:    cfg.Worker.ConsumerGroup,
			Consumer: cfg.Worker.ConsumerName,
		})
		defer queue.Close()
	} else {
		store = cache.NewMemoryAdapter(cfg.Cache.MemorySize, nil)
	}

	var searchIndex repositories.ProductSearchRepository
	tsClient, err := typesense.NewClient(&cfg.Typesense)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Typesense client, search falls back to listing")
	} else {
		searchIndex = search.NewTypesenseAdapter(tsClient)
	}

	core := wire(cfg, pgClient, store, queue, searchIndex, metrics)

	warmer := services.NewCacheWarmingService(core.recommender, core.cache, services.DefaultWarmTargets())
	if invalidateAll {
		if _, err := warmer.InvalidateAll(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to invalidate recommendation cache")
		}
	}

	if queue != nil {
		if err := core.invalidator.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start cache invalidation")
		}
		defer core.invalidator.Stop()
	} else {
		log.Warn().Msg("Event stream disabled (Redis not available), invalidating inline")
	}

	warmer.StartPeriodicWarming(ctx, cfg.Worker.WarmInterval)

	<-ctx.Done()
	log.Info().Msg("Ranker shutting down")
}

type wiring struct {
	recommender *services.RecommendationService
	cache       *services.RecommendationCache
	invalidator *services.CacheInvalidationService
}

// wire assembles the recommendation core over the given stores
func wire(cfg *config.Config, pgClient *postgres.Client, store providers.CacheStore, queue providers.EngagementQueue, searchIndex repositories.ProductSearchRepository, metrics *observability.Metrics) wiring {
	candidates := database.NewResilientCandidateAdapter(
		database.NewProductAdapter(pgClient, nil),
		database.BreakerConfig{Timeout: cfg.Database.BreakerTimeout},
	).WithMetrics(metrics)

	engines := strategies.NewEngines(candidates, strategies.Config{
		DefaultDays: cfg.Trending.DefaultWindowDays,
		TieBreaks:   cfg.Score.TieBreaks,
	}, nil)

	recCache := services.NewRecommendationCache(store, services.RecommendationCacheConfig{
		DefaultTTL: time.Duration(cfg.Cache.DefaultTTLSeconds) * time.Second,
		ScanBatch:  cfg.Cache.ScanBatch,
		ScanBudget: cfg.Cache.ScanBudget,
	}, metrics)

	invalidator := services.NewCacheInvalidationService(recCache, queue, services.CacheInvalidationConfig{
		Lanes:        cfg.Worker.Lanes,
		DedupSize:    cfg.Worker.DedupSize,
		EventTimeout: cfg.Worker.EventTimeout,
	}, metrics)

	scorer := scoring.NewRelevanceScorer(cfg.Search.FieldWeights, scoring.Thresholds{
		Name:        cfg.Search.Thresholds.Name,
		Tag:         cfg.Search.Thresholds.Tag,
		Description: cfg.Search.Thresholds.Description,
	}, nil)
	expansion := services.NewTermExpansionService(cfg.Search.Synonyms, cfg.Search.MaxExpansions)
	keys := services.NewCacheKeyBuilder(
		time.Duration(cfg.Cache.AuthTimeWindowMs)*time.Millisecond,
		time.Duration(cfg.Cache.AnonTimeWindowMs)*time.Millisecond,
		cfg.Cache.MaxKeyLen,
		nil,
	)

	recommender := services.NewRecommendationService(services.RecommendationServiceDeps{
		Engines:              engines,
		Blender:              services.NewHybridBlender(engines, services.BlendProfilesFromConfig(cfg.Blend.Profiles)),
		Cache:                recCache,
		Keys:                 keys,
		Trackers:             services.NewTrackerRegistry(0, 0),
		Candidates:           candidates,
		Ranking:              services.NewSearchRankingService(scorer, expansion, cfg.Score.TieBreaks, cfg.Search.MinScore, nil),
		SearchIndex:          searchIndex,
		Engagement:           database.NewEngagementAdapter(pgClient),
		Queue:                queue,
		Invalidator:          invalidator,
		Metrics:              metrics,
		StrategyTTL:          strategyTTL(cfg.Cache.StrategyTTL),
		SearchCandidateLimit: cfg.Search.CandidateLimit,
		RetryAfter:           cfg.Database.BreakerTimeout,
	})

	return wiring{recommender: recommender, cache: recCache, invalidator: invalidator}
}

// strategyTTL converts configured lifetimes, ignoring unknown strategy names
func strategyTTL(in map[string]time.Duration) map[entities.Strategy]time.Duration {
	out := make(map[entities.Strategy]time.Duration, len(in))
	for name, ttl := range in {
		s, ok := entities.ParseStrategy(name)
		if !ok {
			log.Warn().Str("strategy", name).Msg("Ignoring TTL for unknown strategy")
			continue
		}
		out[s] = ttl
	}
	return out
}
