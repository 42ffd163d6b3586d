package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/providers"
	"github.com/zatekoja/discoveryrank/backend/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/discoveryrank/backend/pkg/errors"
)

const rankedListType = "ranked_list"

// CacheStatus is the outcome of a cache lookup
type CacheStatus int

const (
	CacheMiss CacheStatus = iota
	CacheHit
	CacheCorrupted
)

func (s CacheStatus) String() string {
	switch s {
	case CacheHit:
		return "hit"
	case CacheCorrupted:
		return "corrupted"
	}
	return "miss"
}

// cacheEnvelope tags stored values with their type
type cacheEnvelope struct {
	Type  string          `json:"t"`
	Value json.RawMessage `json:"v"`
}

// RecommendationCacheConfig configures the recommendation cache
type RecommendationCacheConfig struct {
	DefaultTTL time.Duration
	ScanBatch  int64
	ScanBudget int // max keys examined per DeletePattern call, counted as ScanBatch per page
}

// RecommendationCache stores ranked lists with TTL, prefix deletion and
// coalesced computation
type RecommendationCache struct {
	store   providers.CacheStore
	group   singleflight.Group
	cfg     RecommendationCacheConfig
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewRecommendationCache creates a recommendation cache over a key-value store
func NewRecommendationCache(store providers.CacheStore, cfg RecommendationCacheConfig, metrics *observability.Metrics) *RecommendationCache {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}
	if cfg.ScanBatch <= 0 {
		cfg.ScanBatch = 500
	}
	if cfg.ScanBudget <= 0 {
		cfg.ScanBudget = 20000
	}
	return &RecommendationCache{
		store:   store,
		cfg:     cfg,
		metrics: metrics,
		logger:  observability.ComponentLogger("recommendation_cache"),
	}
}

// Get looks up a ranked list. Store failures are reported as a miss.
// Wrong-typed entries are deleted and reported as CacheCorrupted.
func (c *RecommendationCache) Get(ctx context.Context, key string) (*entities.RankedList, CacheStatus) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, providers.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("key", key).Msg("Cache read failed, treating as miss")
		}
		return nil, CacheMiss
	}

	list, err := decodeRankedList(data)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Corrupted cache entry, deleting")
		observability.RecordCacheCorrupted(ctx, c.metrics)
		if delErr := c.store.Delete(ctx, key); delErr != nil {
			c.logger.Warn().Err(delErr).Str("key", key).Msg("Failed to delete corrupted cache entry")
		}
		return nil, CacheCorrupted
	}
	return list, CacheHit
}

// Set stores a ranked list. ttl <= 0 uses the default TTL. Values other
// than ranked lists are rejected.
func (c *RecommendationCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	var list *entities.RankedList
	switch v := value.(type) {
	case *entities.RankedList:
		list = v
	case entities.RankedList:
		list = &v
	}
	if list == nil {
		return apperrors.NewInvalidArgumentError(fmt.Sprintf("cache value must be a ranked list, got %T", value))
	}

	data, err := encodeRankedList(list)
	if err != nil {
		return apperrors.NewInternalError("failed to encode ranked list", err)
	}
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		return apperrors.NewUnavailableError("cache write failed", err, 0)
	}
	return nil
}

// DeletePattern deletes every key beginning with prefix. Each page counts
// ScanBatch examined keys against the scan budget whether or not any of
// them matched; keys beyond the budget expire by TTL. Stores that cannot
// enumerate keys are logged and skipped.
func (c *RecommendationCache) DeletePattern(ctx context.Context, prefix string) (int, error) {
	var (
		cursor  uint64
		deleted int
		scanned int
	)
	for {
		keys, next, err := c.store.ScanPrefix(ctx, prefix, cursor, c.cfg.ScanBatch)
		if err != nil {
			if errors.Is(err, providers.ErrScanUnsupported) {
				c.logger.Warn().Str("prefix", prefix).Msg("Store cannot enumerate keys, relying on TTL")
				return deleted, nil
			}
			return deleted, apperrors.NewUnavailableError("cache scan failed", err, 0)
		}
		scanned += int(c.cfg.ScanBatch)
		if len(keys) > 0 {
			if err := c.store.Delete(ctx, keys...); err != nil {
				return deleted, apperrors.NewUnavailableError("cache delete failed", err, 0)
			}
			deleted += len(keys)
		}
		if next == 0 {
			return deleted, nil
		}
		if scanned >= c.cfg.ScanBudget {
			c.logger.Warn().Str("prefix", prefix).Int("deleted", deleted).Int("examined", scanned).Msg("Scan budget exhausted, remaining keys expire by TTL")
			return deleted, nil
		}
		if err := apperrors.FromContext(ctx); err != nil {
			return deleted, err
		}
		cursor = next
	}
}

// Singleflight runs compute at most once concurrently per key. Callers
// that join an in-flight computation get its result and shared=true. The
// computation keeps running when an individual caller gives up; it is
// bounded by the deadline of the caller that started it.
func (c *RecommendationCache) Singleflight(ctx context.Context, key string, compute func(ctx context.Context) (*entities.RankedList, error)) (*entities.RankedList, bool, error) {
	ch := c.group.DoChan(key, func() (interface{}, error) {
		runCtx := context.WithoutCancel(ctx)
		if deadline, ok := ctx.Deadline(); ok {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithDeadline(runCtx, deadline)
			defer cancel()
		}
		return compute(runCtx)
	})

	select {
	case res := <-ch:
		return c.flightResult(ctx, res)
	case <-ctx.Done():
		// a result published together with the deadline still wins
		select {
		case res := <-ch:
			return c.flightResult(ctx, res)
		default:
		}
		return nil, false, apperrors.FromContext(ctx)
	}
}

func (c *RecommendationCache) flightResult(ctx context.Context, res singleflight.Result) (*entities.RankedList, bool, error) {
	if res.Shared {
		observability.RecordSingleflightShared(ctx, c.metrics)
	}
	if res.Err != nil {
		return nil, res.Shared, res.Err
	}
	list, _ := res.Val.(*entities.RankedList)
	return list, res.Shared, nil
}

func encodeRankedList(list *entities.RankedList) ([]byte, error) {
	value, err := json.Marshal(list)
	if err != nil {
		return nil, err
	}
	return json.Marshal(cacheEnvelope{Type: rankedListType, Value: value})
}

func decodeRankedList(data []byte) (*entities.RankedList, error) {
	var env cacheEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, apperrors.NewCorruptedCacheError("undecodable cache entry", err)
	}
	if env.Type != rankedListType {
		return nil, apperrors.NewCorruptedCacheError(fmt.Sprintf("unexpected cache entry type %q", env.Type), nil)
	}
	var list entities.RankedList
	if err := json.Unmarshal(env.Value, &list); err != nil {
		return nil, apperrors.NewCorruptedCacheError("undecodable ranked list", err)
	}
	return &list, nil
}
