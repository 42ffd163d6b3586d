package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/discoveryrank/backend/internal/adapters/cache"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
	"github.com/zatekoja/discoveryrank/backend/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/discoveryrank/backend/pkg/config"
	apperrors "github.com/zatekoja/discoveryrank/backend/pkg/errors"
)

func TestStrategyTTL(t *testing.T) {
	ttl := strategyTTL(map[string]time.Duration{
		"trending": time.Hour,
		"hybrid":   30 * time.Minute,
		"bogus":    time.Minute,
	})

	assert.Len(t, ttl, 2)
	assert.Equal(t, time.Hour, ttl[entities.StrategyTrending])
	assert.Equal(t, 30*time.Minute, ttl[entities.StrategyHybrid])
}

func TestWire_StoreFailureSurfacesUnavailable(t *testing.T) {
	t.Setenv("DB_BREAKER_TIMEOUT", "45s")
	cfg, err := config.Load()
	require.NoError(t, err)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.ExpectQuery(`FROM "products"`).WillReturnError(errors.New("dial tcp: connection refused"))

	core := wire(cfg, postgres.NewClientFromDB(db), cache.NewMemoryAdapter(100, nil), nil, nil, nil)
	require.NotNil(t, core.recommender)
	require.NotNil(t, core.invalidator)

	_, err = core.recommender.Recommend(context.Background(), entities.StrategyTrending, entities.RecommendParams{}, entities.UserContext{})

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeUnavailable))
	assert.Equal(t, 45*time.Second, apperrors.RetryAfterOf(err))
}
