package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zatekoja/discoveryrank/backend/internal/application/strategies"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/providers"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/repositories"
	"github.com/zatekoja/discoveryrank/backend/internal/infrastructure/observability"
	"github.com/zatekoja/discoveryrank/backend/internal/loaders"
	apperrors "github.com/zatekoja/discoveryrank/backend/pkg/errors"
)

const (
	DefaultLimit      = 20
	MaxLimit          = 100
	defaultRetryAfter = 30 * time.Second
)

// RecommendationServiceDeps wires the orchestrator. Engagement, Queue,
// Invalidator and SearchIndex are optional.
type RecommendationServiceDeps struct {
	Engines     *strategies.Engines
	Blender     *HybridBlender
	Cache       *RecommendationCache
	Keys        *CacheKeyBuilder
	Trackers    *TrackerRegistry
	Candidates  repositories.CandidateRepository
	Ranking     *SearchRankingService
	SearchIndex repositories.ProductSearchRepository
	Engagement  repositories.EngagementRepository
	Queue       providers.EngagementQueue
	Invalidator *CacheInvalidationService
	Metrics     *observability.Metrics

	StrategyTTL          map[entities.Strategy]time.Duration
	SearchCandidateLimit int
	RetryAfter           time.Duration
	Now                  providers.Clock
}

// RecommendationService binds a request to cache lookup, strategy
// execution, blending and per-session deduplication
type RecommendationService struct {
	deps   RecommendationServiceDeps
	logger zerolog.Logger
}

// NewRecommendationService creates the request orchestrator
func NewRecommendationService(deps RecommendationServiceDeps) *RecommendationService {
	if deps.Trackers == nil {
		deps.Trackers = NewTrackerRegistry(0, 0)
	}
	if deps.SearchCandidateLimit <= 0 {
		deps.SearchCandidateLimit = 200
	}
	if deps.RetryAfter <= 0 {
		deps.RetryAfter = defaultRetryAfter
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &RecommendationService{
		deps:   deps,
		logger: observability.ComponentLogger("recommendation_service"),
	}
}

// Recommend returns the ranked list for strategy. Results are cached per
// derived key; concurrent identical requests share one computation. When
// the user carries a session, products already shown in the session are
// removed.
func (s *RecommendationService) Recommend(ctx context.Context, strategy entities.Strategy, params entities.RecommendParams, user entities.UserContext) (*entities.RankedList, error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "RecommendationService.Recommend")
	defer span.End()
	observability.SetSpanAttributes(span,
		attribute.String("strategy", string(strategy)),
		attribute.Int("limit", params.Limit),
		attribute.Bool("authenticated", user.Authenticated()),
	)

	outcome := "error"
	defer func() {
		observability.RecordRecommendMetric(ctx, s.deps.Metrics, string(strategy), outcome, time.Since(start))
	}()

	params, err := s.validate(strategy, params, user)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	if params.ResetTracker && user.SessionID != "" {
		s.deps.Trackers.Reset(user.SessionID)
	}

	key := s.deps.Keys.Key(strategy, params, user)
	var list *entities.RankedList
	switch {
	case key.Fallback:
		outcome = "uncached"
		list, err = s.compute(ctx, strategy, params, user)
	default:
		var status CacheStatus
		list, status = s.deps.Cache.Get(ctx, key.Key)
		if status == CacheHit {
			outcome = "hit"
			break
		}
		if guest, ok := s.guestKey(strategy, params, user); ok {
			// anonymous lists do not depend on the visitor, reuse the warmed one
			if list, status = s.deps.Cache.Get(ctx, guest); status == CacheHit {
				outcome = "hit"
				break
			}
		}
		var shared bool
		list, shared, err = s.deps.Cache.Singleflight(ctx, key.Key, func(ctx context.Context) (*entities.RankedList, error) {
			// a flight that started after another one stored the value
			if cached, st := s.deps.Cache.Get(ctx, key.Key); st == CacheHit {
				return cached, nil
			}
			computed, err := s.compute(ctx, strategy, params, user)
			if err != nil {
				return nil, err
			}
			if !computed.Partial {
				if err := s.deps.Cache.Set(ctx, key.Key, computed, s.ttl(strategy)); err != nil {
					s.logger.Warn().Err(err).Str("key", key.Key).Msg("Failed to cache recommendations")
				}
			}
			return computed, nil
		})
		outcome = "miss"
		if shared {
			outcome = "shared"
		}
	}
	if err != nil {
		outcome = "error"
		observability.RecordError(span, err)
		return nil, err
	}

	return s.track(list, user), nil
}

// guestKey returns the shared anonymous key a visitor-scoped request can
// be served from
func (s *RecommendationService) guestKey(strategy entities.Strategy, params entities.RecommendParams, user entities.UserContext) (string, bool) {
	if user.Authenticated() || AuthScope(user) == guestScope {
		return "", false
	}
	key := s.deps.Keys.Key(strategy, params, entities.UserContext{})
	if key.Fallback {
		return "", false
	}
	return key.Key, true
}

// compute runs the strategy or blend and applies engine substitution
func (s *RecommendationService) compute(ctx context.Context, strategy entities.Strategy, params entities.RecommendParams, user entities.UserContext) (*entities.RankedList, error) {
	ctx = loaders.WithLoaders(ctx, loaders.NewLoaders(s.deps.Candidates))
	req := strategies.Request{Params: params, User: user}

	if strategy == entities.StrategyHybrid {
		return s.deps.Blender.Blend(ctx, req)
	}

	res, err := s.deps.Engines.Run(ctx, strategy, req)
	if err != nil {
		return nil, err
	}

	list := &entities.RankedList{Strategy: res.Strategy, Items: res.Items, GeneratedAt: s.deps.Now().UTC()}
	if res.Strategy != strategy {
		// cold-start personalized
		list.FallbackOf = strategy
		observability.RecordStrategyFallback(ctx, s.deps.Metrics, string(strategy), string(res.Strategy))
	}

	if res.Unavailable() && strategy.RequiresUser() {
		s.logger.Warn().Str("strategy", string(strategy)).Msg("Strategy unavailable, substituting trending")
		observability.RecordStrategyFallback(ctx, s.deps.Metrics, string(strategy), string(entities.StrategyTrending))
		res, err = s.deps.Engines.Run(ctx, entities.StrategyTrending, req)
		if err != nil {
			return nil, err
		}
		list = &entities.RankedList{Strategy: res.Strategy, Items: res.Items, FallbackOf: strategy, GeneratedAt: s.deps.Now().UTC()}
	}
	if res.Unavailable() {
		return nil, apperrors.NewUnavailableError("candidate store unavailable", nil, s.deps.RetryAfter)
	}
	return list, nil
}

// track copies list without the products the session has already seen
// and marks the returned ones as seen
func (s *RecommendationService) track(list *entities.RankedList, user entities.UserContext) *entities.RankedList {
	out := *list
	out.Items = append([]entities.RankedItem(nil), list.Items...)
	if user.SessionID == "" {
		return &out
	}

	unseen := s.deps.Trackers.Get(user.SessionID).Claim(list.ProductIDs())
	keep := make(map[string]struct{}, len(unseen))
	for _, id := range unseen {
		keep[id] = struct{}{}
	}
	filtered := out.Items[:0]
	for _, it := range out.Items {
		if _, ok := keep[it.ProductID]; ok {
			filtered = append(filtered, it)
		}
	}
	out.Items = filtered
	return &out
}

func (s *RecommendationService) validate(strategy entities.Strategy, params entities.RecommendParams, user entities.UserContext) (entities.RecommendParams, error) {
	if parsed, ok := entities.ParseStrategy(string(strategy)); !ok || parsed != strategy {
		return params, apperrors.NewInvalidArgumentError("unknown strategy: " + string(strategy))
	}
	if params.Limit < 0 || params.Offset < 0 || params.Days < 0 {
		return params, apperrors.NewInvalidArgumentError("limit, offset and days must not be negative")
	}
	if params.Limit == 0 {
		params.Limit = DefaultLimit
	}
	if params.Limit > MaxLimit {
		return params, apperrors.NewInvalidArgumentError("limit exceeds maximum")
	}
	if len(params.Tags) > entities.MaxTags {
		return params, apperrors.NewInvalidArgumentError("too many tags")
	}
	if strategy.RequiresUser() && !user.Authenticated() {
		return params, apperrors.NewUnauthenticatedError(string(strategy) + " recommendations require a user")
	}
	return params, nil
}

func (s *RecommendationService) ttl(strategy entities.Strategy) time.Duration {
	return s.deps.StrategyTTL[strategy]
}

// Search ranks products matching query by text relevance
func (s *RecommendationService) Search(ctx context.Context, query string, filters entities.SearchFilters, user entities.UserContext) (*entities.RankedList, error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "RecommendationService.Search")
	defer span.End()

	outcome := "error"
	defer func() {
		observability.RecordRecommendMetric(ctx, s.deps.Metrics, entities.ReasonSearch, outcome, time.Since(start))
	}()

	if query == "" {
		return nil, apperrors.NewInvalidArgumentError("search query is required")
	}
	if filters.Limit < 0 || filters.Offset < 0 || filters.Limit > MaxLimit {
		return nil, apperrors.NewInvalidArgumentError("invalid search pagination")
	}
	if filters.Limit == 0 {
		filters.Limit = DefaultLimit
	}

	ctx = loaders.WithLoaders(ctx, loaders.NewLoaders(s.deps.Candidates))
	candidates, err := s.searchCandidates(ctx, query, filters)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	results := s.deps.Ranking.Rank(query, candidates)
	observability.SetSpanAttributes(span, attribute.Int("candidates", len(candidates)), attribute.Int("matches", len(results)))
	outcome = "ok"
	return &entities.RankedList{
		Strategy:    entities.StrategySearch,
		Items:       entities.Page(RankedItems(results), filters.Offset, filters.Limit),
		GeneratedAt: s.deps.Now().UTC(),
	}, nil
}

// searchCandidates asks the search index for candidates and falls back to
// listing published products when no index is configured or it fails
func (s *RecommendationService) searchCandidates(ctx context.Context, query string, filters entities.SearchFilters) ([]*entities.Product, error) {
	if s.deps.SearchIndex != nil {
		ids, err := s.deps.SearchIndex.Search(ctx, query, filters, s.deps.SearchCandidateLimit)
		if err == nil {
			byID, err := loaders.ListByIDs(ctx, s.deps.Candidates, ids)
			if err != nil {
				return nil, err
			}
			out := make([]*entities.Product, 0, len(ids))
			for _, id := range ids {
				if p, ok := byID[id]; ok && p.IsPublished() && matchesFilters(p, filters) {
					out = append(out, p)
				}
			}
			return out, nil
		}
		s.logger.Warn().Err(err).Msg("Search index failed, scanning published products")
	}

	products, err := s.deps.Candidates.ListPublished(ctx, repositories.ListFilter{
		CategoryID: filters.CategoryID,
		Tags:       entities.NormalizeTags(filters.Tags),
		Limit:      s.deps.SearchCandidateLimit,
		Sort:       repositories.SortTrending,
	})
	if err != nil {
		return nil, err
	}
	return products, nil
}

func matchesFilters(p *entities.Product, f entities.SearchFilters) bool {
	if f.CategoryID != "" && p.CategoryID != f.CategoryID {
		return false
	}
	if len(f.Tags) == 0 {
		return true
	}
	for _, t := range f.Tags {
		if p.HasTag(t) {
			return true
		}
	}
	return false
}

// RecordEngagement stores an engagement event and publishes it for cache
// invalidation
func (s *RecommendationService) RecordEngagement(ctx context.Context, event *entities.EngagementEvent) error {
	if event == nil || !event.Kind.Valid() {
		return apperrors.NewInvalidArgumentError("invalid engagement event kind")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.At.IsZero() {
		event.At = s.deps.Now().UTC()
	}

	if interaction, ok := event.Interaction(); ok {
		if interaction.ProductID == "" {
			return apperrors.NewInvalidArgumentError("engagement event requires a product id")
		}
		if err := s.recordInteraction(ctx, interaction); err != nil {
			return err
		}
	}

	if s.deps.Queue != nil {
		err := s.deps.Queue.Enqueue(ctx, event)
		if err == nil {
			return nil
		}
		s.logger.Warn().Err(err).Str("event_id", event.ID).Msg("Failed to enqueue engagement event, invalidating inline")
	}
	if s.deps.Invalidator != nil {
		s.deps.Invalidator.HandleEvent(ctx, event)
	}
	return nil
}

func (s *RecommendationService) recordInteraction(ctx context.Context, i *entities.Interaction) error {
	repo := s.deps.Engagement
	if repo == nil {
		return nil
	}
	switch {
	case i.Kind == entities.InteractionView:
		_, err := repo.RecordView(ctx, i)
		return err
	case i.Kind.IsToggle():
		if i.UserID == "" {
			return apperrors.NewUnauthenticatedError(string(i.Kind) + " requires a user")
		}
		_, err := repo.Toggle(ctx, i)
		return err
	default:
		return repo.Record(ctx, i)
	}
}

// ResetSessionTracker starts a new render cycle for the session
func (s *RecommendationService) ResetSessionTracker(sessionID string) {
	if sessionID == "" {
		return
	}
	s.deps.Trackers.Reset(sessionID)
}
