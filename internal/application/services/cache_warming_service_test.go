package services_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/discoveryrank/backend/internal/application/services"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
)

type MockRecommender struct {
	mock.Mock
}

func (m *MockRecommender) Recommend(ctx context.Context, strategy entities.Strategy, params entities.RecommendParams, user entities.UserContext) (*entities.RankedList, error) {
	args := m.Called(ctx, strategy, params, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.RankedList), args.Error(1)
}

func TestWarmCache_StoresAnonymousSections(t *testing.T) {
	f := newServiceFixture(t, nil)
	warmer := services.NewCacheWarmingService(f.service, f.cache, nil)

	warmed := warmer.WarmCache(context.Background())

	assert.Equal(t, 3, warmed)
	keys := f.store.Keys()
	require.Len(t, keys, 3)
	var segments []string
	for _, k := range keys {
		assert.Contains(t, k, ":anon:guest:")
		segments = append(segments, strings.Split(k, ":")[1])
	}
	assert.ElementsMatch(t, []string{"trend", "new", "popular"}, segments)
}

func TestWarmCache_ServesVisitorScopedRequests(t *testing.T) {
	f := newServiceFixture(t, nil)
	warmer := services.NewCacheWarmingService(f.service, f.cache, nil)
	require.Equal(t, 3, warmer.WarmCache(context.Background()))
	reads, sets := f.repo.ListCalls(), f.store.SetCount()

	list, err := f.service.Recommend(context.Background(), entities.StrategyTrending,
		entities.RecommendParams{Limit: services.DefaultLimit}, entities.UserContext{VisitorID: "visitor-9"})

	require.NoError(t, err)
	assert.NotEmpty(t, list.Items)
	assert.Equal(t, reads, f.repo.ListCalls())
	assert.Equal(t, sets, f.store.SetCount())
}

func TestWarmCache_FailuresDoNotStopOtherTargets(t *testing.T) {
	rec := new(MockRecommender)
	rec.On("Recommend", mock.Anything, entities.StrategyTrending, mock.Anything, entities.UserContext{}).Return(nil, errors.New("boom"))
	rec.On("Recommend", mock.Anything, entities.StrategyNew, mock.Anything, entities.UserContext{}).Return(&entities.RankedList{}, nil)
	rec.On("Recommend", mock.Anything, entities.StrategyPopular, mock.Anything, entities.UserContext{}).Return(&entities.RankedList{}, nil)

	warmed := services.NewCacheWarmingService(rec, nil, nil).WarmCache(context.Background())

	assert.Equal(t, 2, warmed)
	rec.AssertNumberOfCalls(t, "Recommend", 3)
}

func TestWarmSimilar(t *testing.T) {
	f := newServiceFixture(t, nil)
	warmer := services.NewCacheWarmingService(f.service, f.cache, nil)

	require.NoError(t, warmer.WarmSimilar(context.Background(), "p1"))
	keys := f.store.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "rec:similar:p:p1:"))

	assert.Error(t, warmer.WarmSimilar(context.Background(), "missing"))
}

func TestInvalidateAll(t *testing.T) {
	f := newServiceFixture(t, nil)
	warmer := services.NewCacheWarmingService(f.service, f.cache, nil)
	warmer.WarmCache(context.Background())
	f.store.Put("other:key", []byte("x"))

	n, err := warmer.InvalidateAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"other:key"}, f.store.Keys())
}
