package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/providers"
	"github.com/zatekoja/discoveryrank/backend/internal/infrastructure/observability"
)

// PatternDeleter removes cache entries by key prefix
type PatternDeleter interface {
	DeletePattern(ctx context.Context, prefix string) (int, error)
}

// CacheInvalidationConfig configures the invalidation router
type CacheInvalidationConfig struct {
	Lanes        int
	DedupSize    int
	EventTimeout time.Duration
}

// CacheInvalidationService maps engagement events to cache prefixes and
// deletes them. Events for one product are handled in arrival order on a
// single lane.
type CacheInvalidationService struct {
	cache   PatternDeleter
	queue   providers.EngagementQueue
	cfg     CacheInvalidationConfig
	seen    *lru.Cache[string, struct{}]
	lanes   []chan providers.Delivery

	// inflight holds IDs dispatched to a lane and not yet handled
	inflightMu sync.Mutex
	inflight   map[string]struct{}
	metrics *observability.Metrics
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCacheInvalidationService creates a new cache invalidation service
func NewCacheInvalidationService(cache PatternDeleter, queue providers.EngagementQueue, cfg CacheInvalidationConfig, metrics *observability.Metrics) *CacheInvalidationService {
	if cfg.Lanes <= 0 {
		cfg.Lanes = 1
	}
	if cfg.DedupSize <= 0 {
		cfg.DedupSize = 10000
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = 5 * time.Second
	}
	seen, _ := lru.New[string, struct{}](cfg.DedupSize)

	ctx, cancel := context.WithCancel(context.Background())
	return &CacheInvalidationService{
		cache:    cache,
		queue:    queue,
		cfg:      cfg,
		seen:     seen,
		inflight: make(map[string]struct{}),
		metrics:  metrics,
		logger:   observability.ComponentLogger("cache_invalidation"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins consuming events from the queue
func (s *CacheInvalidationService) Start() error {
	if s.queue == nil {
		return fmt.Errorf("cache invalidation requires an engagement queue")
	}
	deliveries, err := s.queue.Consume(s.ctx)
	if err != nil {
		return fmt.Errorf("failed to consume engagement events: %w", err)
	}

	s.lanes = make([]chan providers.Delivery, s.cfg.Lanes)
	for i := range s.lanes {
		s.lanes[i] = make(chan providers.Delivery, 64)
		s.wg.Add(1)
		go s.runLane(s.lanes[i])
	}

	s.wg.Add(1)
	go s.dispatch(deliveries)

	s.logger.Info().Int("lanes", s.cfg.Lanes).Msg("Cache invalidation service started")
	return nil
}

// Stop stops consuming and waits for in-flight events
func (s *CacheInvalidationService) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info().Msg("Cache invalidation service stopped")
}

// dispatch routes deliveries to lanes by product
func (s *CacheInvalidationService) dispatch(deliveries <-chan providers.Delivery) {
	defer s.wg.Done()
	defer func() {
		for _, lane := range s.lanes {
			close(lane)
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			if d.Event == nil {
				continue
			}
			switch s.claim(d.Event) {
			case claimHandled:
				s.logger.Debug().Str("event_id", d.Event.ID).Msg("Skipping redelivered event")
				s.ack(d)
				continue
			case claimInFlight:
				// the copy already on a lane acks the entry once handled
				s.logger.Debug().Str("event_id", d.Event.ID).Msg("Skipping event already in flight")
				continue
			}
			select {
			case s.lanes[s.laneFor(d.Event.ProductID)] <- d:
			case <-s.ctx.Done():
				s.release(d.Event, false)
				return
			}
		}
	}
}

func (s *CacheInvalidationService) runLane(in <-chan providers.Delivery) {
	defer s.wg.Done()
	for d := range in {
		// left unacked on shutdown so the queue redelivers
		if s.ctx.Err() != nil {
			s.release(d.Event, false)
			continue
		}
		s.HandleEvent(s.ctx, d.Event)
		s.release(d.Event, true)
		s.ack(d)
	}
}

// laneFor hashes a product onto a lane; events without a product use lane 0
func (s *CacheInvalidationService) laneFor(productID string) int {
	if productID == "" {
		return 0
	}
	return int(xxhash.Sum64String(productID) % uint64(len(s.lanes)))
}

type claimState int

const (
	claimNew claimState = iota
	claimInFlight
	claimHandled
)

// claim reports whether the event was already handled or is on a lane,
// and marks it in flight otherwise
func (s *CacheInvalidationService) claim(e *entities.EngagementEvent) claimState {
	if e.ID == "" {
		return claimNew
	}
	if s.seen.Contains(e.ID) {
		return claimHandled
	}
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[e.ID]; ok {
		return claimInFlight
	}
	s.inflight[e.ID] = struct{}{}
	return claimNew
}

// release clears the in-flight mark; handled events are remembered so a
// later redelivery is acked without being reprocessed
func (s *CacheInvalidationService) release(e *entities.EngagementEvent, handled bool) {
	if e.ID == "" {
		return
	}
	if handled {
		s.seen.Add(e.ID, struct{}{})
	}
	s.inflightMu.Lock()
	delete(s.inflight, e.ID)
	s.inflightMu.Unlock()
}

func (s *CacheInvalidationService) ack(d providers.Delivery) {
	if d.Ack == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.EventTimeout)
	defer cancel()
	if err := d.Ack(ctx); err != nil {
		s.logger.Warn().Err(err).Str("event_id", d.Event.ID).Msg("Failed to acknowledge event")
	}
}

// HandleEvent invalidates every prefix the event affects. Failures are
// logged and the entries are left to expire.
func (s *CacheInvalidationService) HandleEvent(ctx context.Context, event *entities.EngagementEvent) {
	if event == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.EventTimeout)
	defer cancel()
	ctx, span := observability.StartSpan(ctx, "CacheInvalidationService.handleEvent")
	defer span.End()

	prefixes := InvalidationPrefixes(event)
	observability.SetSpanAttributes(span,
		attribute.String("event.kind", string(event.Kind)),
		attribute.String("event.product_id", event.ProductID),
		attribute.Int("prefixes", len(prefixes)),
	)

	for _, prefix := range prefixes {
		n, err := s.cache.DeletePattern(ctx, prefix)
		observability.RecordInvalidation(ctx, s.metrics, string(event.Kind), err != nil)
		if err != nil {
			observability.LoggerFromContext(ctx).Warn().Err(err).Str("prefix", prefix).Str("event_id", event.ID).Msg("Failed to invalidate cache prefix")
			continue
		}
		s.logger.Debug().Str("prefix", prefix).Int("deleted", n).Msg("Invalidated cache prefix")
	}
}

// InvalidationPrefixes returns the cache key prefixes an event invalidates
func InvalidationPrefixes(e *entities.EngagementEvent) []string {
	if e == nil {
		return nil
	}
	var out []string
	user := func(seg string) {
		if e.UserID != "" {
			out = append(out, KeyPrefix+seg+":auth:u:"+sanitizeKeyPart(e.UserID))
		}
	}
	feeds := func() {
		out = append(out, KeyPrefix+"trending", KeyPrefix+entities.StrategyTrending.KeySegment())
	}
	catalog := func(categoryID string, tags []string) {
		out = append(out, KeyPrefix+"new")
		if categoryID != "" {
			out = append(out, KeyPrefix+"category:c:"+sanitizeKeyPart(categoryID))
		}
		if joined := TagsKey(tags); joined != "" {
			for _, t := range entities.NormalizeTags(tags) {
				out = append(out, KeyPrefix+"tag:t:"+sanitizeKeyPart(t))
			}
			out = append(out, KeyPrefix+"tag:t:"+joined)
		}
	}
	similar := func(id string) {
		if id != "" {
			out = append(out, KeyPrefix+"similar:p:"+sanitizeKeyPart(id))
		}
	}

	switch e.Kind {
	case entities.EventView:
		user(entities.StrategyHybrid.KeySegment())
	case entities.EventUpvote, entities.EventBookmark, entities.EventComment:
		user("personalized")
		user(entities.StrategyHybrid.KeySegment())
		user("collaborative")
		feeds()
		out = append(out, KeyPrefix+"popular")
		similar(e.ProductID)
	case entities.EventProductPublished:
		feeds()
		catalog(e.CategoryID, e.Tags)
	case entities.EventProductUpdated:
		feeds()
		catalog(e.CategoryID, e.Tags)
		similar(e.ProductID)
		if e.PreviousCategoryID != "" || len(e.PreviousTags) > 0 {
			catalog(e.PreviousCategoryID, e.PreviousTags)
		}
	}
	return uniquePrefixes(out)
}

func uniquePrefixes(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, p := range in {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
