package services_test

import (
	"strconv"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/zatekoja/discoveryrank/backend/internal/application/services"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newKeyBuilder(now time.Time) *services.CacheKeyBuilder {
	return services.NewCacheKeyBuilder(3*time.Minute, 15*time.Minute, 250, func() time.Time { return now })
}

func TestCacheKey_AuthVsAnon(t *testing.T) {
	kb := newKeyBuilder(testNow)
	params := entities.RecommendParams{Limit: 20, Days: 7}

	auth := kb.Key(entities.StrategyTrending, params, entities.UserContext{UserID: "u1"})
	anon := kb.Key(entities.StrategyTrending, params, entities.UserContext{VisitorID: "v123abcxy"})

	assert.NotEqual(t, auth.Key, anon.Key)
	assert.True(t, strings.HasPrefix(auth.Key, "rec:trend:auth:u:u1"), auth.Key)
	assert.True(t, strings.HasPrefix(anon.Key, "rec:trend:anon:v123abcx:"), anon.Key)
	assert.False(t, auth.Fallback)
}

func TestCacheKey_AnonVisitorTruncatesByRune(t *testing.T) {
	kb := newKeyBuilder(testNow)
	params := entities.RecommendParams{Limit: 20, Days: 7}

	key := kb.Key(entities.StrategyTrending, params, entities.UserContext{VisitorID: "visitéur-42"})

	assert.True(t, strings.HasPrefix(key.Key, "rec:trend:anon:visitéur:"), key.Key)
	assert.True(t, utf8.ValidString(key.Key), key.Key)
	assert.Equal(t, "anon:日本語の訪問者で", services.AuthScope(entities.UserContext{VisitorID: "日本語の訪問者です番号"}))
}

func TestCacheKey_Format(t *testing.T) {
	kb := newKeyBuilder(testNow)
	key := kb.Key(entities.StrategyTrending, entities.RecommendParams{Limit: 20, Days: 7}, entities.UserContext{UserID: "u1"})

	bucket := testNow.UnixMilli() / (3 * time.Minute).Milliseconds()
	assert.Equal(t, "rec:trend:auth:u:u1:d=7,l=20,s=trending:"+itoa(bucket), key.Key)
}

func TestCacheKey_ParamOrderIrrelevant(t *testing.T) {
	kb := newKeyBuilder(testNow)
	user := entities.UserContext{UserID: "u1"}

	a := kb.Key(entities.StrategyHybrid, entities.RecommendParams{Limit: 10, Tags: []string{"ai", "Go"}, Blend: entities.BlendStandard}, user)
	b := kb.Key(entities.StrategyHybrid, entities.RecommendParams{Limit: 10, Tags: []string{"go", "ai"}, Blend: entities.BlendStandard}, user)

	assert.Equal(t, a.Key, b.Key)
	assert.True(t, strings.HasPrefix(a.Key, "rec:feed:auth:u:u1:"))
}

func TestCacheKey_BucketsByAuthState(t *testing.T) {
	params := entities.RecommendParams{Limit: 20}
	auth := entities.UserContext{UserID: "u1"}
	anon := entities.UserContext{VisitorID: "visitor-1"}

	base := time.UnixMilli((testNow.UnixMilli() / (15 * time.Minute).Milliseconds()) * (15 * time.Minute).Milliseconds())
	later := base.Add(4 * time.Minute)

	assert.NotEqual(t, newKeyBuilder(base).Key(entities.StrategyNew, params, auth).Key,
		newKeyBuilder(later).Key(entities.StrategyNew, params, auth).Key)
	assert.Equal(t, newKeyBuilder(base).Key(entities.StrategyNew, params, anon).Key,
		newKeyBuilder(later).Key(entities.StrategyNew, params, anon).Key)
}

func TestCacheKey_ParameterisedPrefixes(t *testing.T) {
	kb := newKeyBuilder(testNow)
	user := entities.UserContext{UserID: "u1"}

	similar := kb.Key(entities.StrategySimilar, entities.RecommendParams{Limit: 5, ProductID: "p9"}, user)
	category := kb.Key(entities.StrategyCategory, entities.RecommendParams{Limit: 5, CategoryID: "c3"}, user)
	tag := kb.Key(entities.StrategyTag, entities.RecommendParams{Limit: 5, Tags: []string{"js", "ai"}}, user)

	assert.True(t, strings.HasPrefix(similar.Key, "rec:similar:p:p9:auth:u:u1:"), similar.Key)
	assert.True(t, strings.HasPrefix(category.Key, "rec:category:c:c3:"), category.Key)
	assert.True(t, strings.HasPrefix(tag.Key, "rec:tag:t:ai+js:"), tag.Key)
}

func TestCacheKey_FallbackOnInvalidParams(t *testing.T) {
	kb := newKeyBuilder(testNow)
	key := kb.Key(entities.StrategySimilar, entities.RecommendParams{Limit: 5}, entities.UserContext{})

	assert.True(t, key.Fallback)
	assert.Equal(t, "rec:similar:fallback:"+itoa(testNow.UnixMilli()), key.Key)
}

func TestCacheKey_Truncated(t *testing.T) {
	kb := newKeyBuilder(testNow)
	long := strings.Repeat("x", 400)

	a := kb.Key(entities.StrategyTrending, entities.RecommendParams{Limit: 5, MakerID: long + "a"}, entities.UserContext{UserID: "u1"})
	b := kb.Key(entities.StrategyTrending, entities.RecommendParams{Limit: 5, MakerID: long + "b"}, entities.UserContext{UserID: "u1"})

	assert.LessOrEqual(t, len(a.Key), 250)
	assert.True(t, strings.HasPrefix(a.Key, "rec:trend:auth:u:u1:"))
	assert.NotEqual(t, a.Key, b.Key)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
