package services

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/providers"
	"github.com/zatekoja/discoveryrank/backend/internal/infrastructure/observability"
)

// KeyPrefix is the namespace of every recommendation cache key
const KeyPrefix = "rec:"

const anonVisitorLen = 8

const guestScope = "anon:guest"

// CacheKey is a derived cache key. Fallback keys are never stored.
type CacheKey struct {
	Key      string
	Fallback bool
}

// CacheKeyBuilder derives rec:<strategy>:<scope>:<context>:<bucket> keys
type CacheKeyBuilder struct {
	authWindow time.Duration
	anonWindow time.Duration
	maxLen     int
	now        providers.Clock
	logger     zerolog.Logger
}

// NewCacheKeyBuilder creates a key builder
func NewCacheKeyBuilder(authWindow, anonWindow time.Duration, maxLen int, now providers.Clock) *CacheKeyBuilder {
	if now == nil {
		now = time.Now
	}
	return &CacheKeyBuilder{
		authWindow: authWindow,
		anonWindow: anonWindow,
		maxLen:     maxLen,
		now:        now,
		logger:     observability.ComponentLogger("cache_keys"),
	}
}

// AuthScope returns the auth segment for a user context
func AuthScope(user entities.UserContext) string {
	if user.UserID != "" {
		return "auth:u:" + sanitizeKeyPart(user.UserID)
	}
	visitor := sanitizeKeyPart(user.VisitorID)
	if visitor == "" {
		return guestScope
	}
	if r := []rune(visitor); len(r) > anonVisitorLen {
		visitor = string(r[:anonVisitorLen])
	}
	return "anon:" + visitor
}

// StrategyPrefix returns the key prefix for a strategy, including the
// addressed parameter for similar, category and tag listings
func StrategyPrefix(strategy entities.Strategy, params entities.RecommendParams) (string, error) {
	seg := KeyPrefix + strategy.KeySegment()
	switch strategy {
	case entities.StrategySimilar:
		if params.ProductID == "" {
			return "", fmt.Errorf("similar requires a product id")
		}
		return seg + ":p:" + sanitizeKeyPart(params.ProductID), nil
	case entities.StrategyCategory:
		if params.CategoryID == "" {
			return "", fmt.Errorf("category requires a category id")
		}
		return seg + ":c:" + sanitizeKeyPart(params.CategoryID), nil
	case entities.StrategyTag:
		tags := TagsKey(params.Tags)
		if tags == "" {
			return "", fmt.Errorf("tag requires at least one tag")
		}
		return seg + ":t:" + tags, nil
	}
	return seg, nil
}

// TagsKey joins normalized, sorted tags for use in a key
func TagsKey(tags []string) string {
	norm := entities.NormalizeTags(tags)
	for i := range norm {
		norm[i] = sanitizeKeyPart(norm[i])
	}
	sort.Strings(norm)
	return strings.Join(norm, "+")
}

// Key derives the cache key for a request
func (b *CacheKeyBuilder) Key(strategy entities.Strategy, params entities.RecommendParams, user entities.UserContext) CacheKey {
	now := b.now()
	prefix, err := StrategyPrefix(strategy, params)
	if err != nil || strategy == "" {
		b.logger.Warn().Err(err).Str("strategy", string(strategy)).Msg("Invalid cache key parameters, using fallback key")
		return CacheKey{
			Key:      fmt.Sprintf("%s%s:fallback:%d", KeyPrefix, strategy.KeySegment(), now.UnixMilli()),
			Fallback: true,
		}
	}

	window := b.anonWindow
	if user.Authenticated() {
		window = b.authWindow
	}
	bucket := int64(0)
	if ms := window.Milliseconds(); ms > 0 {
		bucket = now.UnixMilli() / ms
	}

	key := strings.Join([]string{prefix, AuthScope(user), contextSegment(strategy, params), strconv.FormatInt(bucket, 10)}, ":")
	if b.maxLen > 0 && len(key) > b.maxLen {
		b.logger.Warn().Int("length", len(key)).Int("max", b.maxLen).Str("prefix", prefix).Msg("Cache key too long, truncating")
		key = truncateKey(key, b.maxLen)
	}
	return CacheKey{Key: key}
}

// contextSegment renders the request parameters as sorted letter=value pairs
func contextSegment(strategy entities.Strategy, params entities.RecommendParams) string {
	pairs := []string{"s=" + string(strategy)}
	if params.Blend != "" {
		pairs = append(pairs, "b="+sanitizeKeyPart(string(params.Blend)))
	}
	if params.CategoryID != "" {
		pairs = append(pairs, "c="+sanitizeKeyPart(params.CategoryID))
	}
	if params.ProductID != "" {
		pairs = append(pairs, "p="+sanitizeKeyPart(params.ProductID))
	}
	if params.MakerID != "" {
		pairs = append(pairs, "m="+sanitizeKeyPart(params.MakerID))
	}
	pairs = append(pairs, "l="+strconv.Itoa(params.Limit))
	if params.Offset > 0 {
		pairs = append(pairs, "o="+strconv.Itoa(params.Offset))
	}
	if params.Days > 0 {
		pairs = append(pairs, "d="+strconv.Itoa(params.Days))
	}
	if tags := TagsKey(params.Tags); tags != "" {
		pairs = append(pairs, "t="+tags)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

// truncateKey cuts key to max bytes, ending with a hash of the full key so
// distinct long keys stay distinct
func truncateKey(key string, max int) string {
	suffix := "~" + strconv.FormatUint(xxhash.Sum64String(key), 36)
	cut := max - len(suffix)
	if cut < 0 {
		cut = 0
	}
	return key[:cut] + suffix
}

func sanitizeKeyPart(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case ':', ',', '*', ' ', '\n', '\t', '[', ']', '?':
			return '_'
		}
		return r
	}, s)
}
