package database

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/repositories"
	"github.com/zatekoja/discoveryrank/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/discoveryrank/backend/pkg/errors"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func setupMockDB(t *testing.T) (*postgres.Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return postgres.NewClientFromDB(db), mock
}

func productRows() *sqlmock.Rows {
	cols := make([]string, len(productColumns))
	for i, c := range productColumns {
		cols[i] = c.(string)
	}
	return sqlmock.NewRows(cols)
}

func addProductRow(rows *sqlmock.Rows, id string, views interface{}, history []byte) *sqlmock.Rows {
	return rows.AddRow(
		id, id+"-slug", "Product "+id, "tagline", nil, "{javascript,build}",
		"dev", "Developer Tools", "maker-1", false, "published",
		testNow.Add(-24*time.Hour), nil,
		views, int64(4), int64(12), int64(3), int64(1),
		int64(0), int64(0), nil, history,
	)
}

func TestProductAdapter_GetProduct(t *testing.T) {
	client, mock := setupMockDB(t)
	adapter := NewProductAdapter(client, func() time.Time { return testNow })

	history := []byte(`[{"date":"2026-05-01T00:00:00Z","count":3},{"date":"2026-04-30T00:00:00Z","count":2}]`)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "products" WHERE ("id" = 'p1') LIMIT 1`)).
		WillReturnRows(addProductRow(productRows(), "p1", int64(20), history))

	p, err := adapter.GetProduct(context.Background(), "p1")

	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, []string{"javascript", "build"}, p.Tags)
	assert.Equal(t, "", p.Description)
	assert.Equal(t, entities.ProductStatusPublished, p.Status)
	assert.Nil(t, p.LaunchedAt)
	assert.Equal(t, int64(20), p.Engagement.Views.Count)
	assert.Equal(t, int64(12), p.Engagement.Upvotes)
	require.Len(t, p.Engagement.Views.History, 2)
	assert.Equal(t, int64(5), p.Engagement.RecentViews(testNow, 7))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductAdapter_GetProductNotFound(t *testing.T) {
	client, mock := setupMockDB(t)
	adapter := NewProductAdapter(client, nil)

	mock.ExpectQuery(`FROM "products"`).WillReturnRows(productRows())

	_, err := adapter.GetProduct(context.Background(), "missing")

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeNotFound))
}

func TestProductAdapter_TransportFailureIsUnavailable(t *testing.T) {
	client, mock := setupMockDB(t)
	adapter := NewProductAdapter(client, nil)

	mock.ExpectQuery(`FROM "products"`).WillReturnError(errors.New("dial tcp: connection refused"))

	_, err := adapter.ListPublished(context.Background(), repositories.ListFilter{})

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeUnavailable))
	assert.Equal(t, apperrors.DefaultRetryAfter, apperrors.RetryAfterOf(err))
}

func TestProductAdapter_CoercesCounters(t *testing.T) {
	client, mock := setupMockDB(t)
	adapter := NewProductAdapter(client, nil)

	rows := productRows()
	addProductRow(rows, "p1", "17", nil)
	addProductRow(rows, "p2", "lots", []byte(`not json`))
	mock.ExpectQuery(`FROM "products"`).WillReturnRows(rows)

	byID, err := adapter.ListByIDs(context.Background(), []string{"p1", "p2"})

	require.NoError(t, err)
	require.Len(t, byID, 2)
	assert.Equal(t, int64(17), byID["p1"].Engagement.Views.Count)
	assert.Equal(t, int64(0), byID["p2"].Engagement.Views.Count)
	assert.Empty(t, byID["p2"].Engagement.Views.History)
}

func TestProductAdapter_ListByIDsEmpty(t *testing.T) {
	client, mock := setupMockDB(t)
	adapter := NewProductAdapter(client, nil)

	byID, err := adapter.ListByIDs(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, byID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductAdapter_ListPublishedFilters(t *testing.T) {
	client, mock := setupMockDB(t)
	adapter := NewProductAdapter(client, func() time.Time { return testNow })

	mock.ExpectQuery(`"status" = 'published'.*"category_id" = 'dev'.*tags && .*ORDER BY "upvotes" DESC, "created_at" DESC, "id" ASC LIMIT 10`).
		WillReturnRows(addProductRow(productRows(), "p1", int64(1), nil))

	products, err := adapter.ListPublished(context.Background(), repositories.ListFilter{
		CategoryID: "dev",
		Tags:       []string{"AI", "build"},
		Limit:      10,
		Sort:       repositories.SortTrending,
	})

	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductAdapter_ListPublishedNewestFirst(t *testing.T) {
	client, mock := setupMockDB(t)
	adapter := NewProductAdapter(client, func() time.Time { return testNow })

	mock.ExpectQuery(`"created_at" >= .*ORDER BY "created_at" DESC, "id" ASC LIMIT 5 OFFSET 5`).
		WillReturnRows(productRows())

	products, err := adapter.ListPublished(context.Background(), repositories.ListFilter{
		SinceDays: 7,
		Limit:     5,
		Offset:    5,
		Sort:      repositories.SortCreatedAtDesc,
	})

	require.NoError(t, err)
	assert.Empty(t, products)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductAdapter_GetUserInteractions(t *testing.T) {
	client, mock := setupMockDB(t)
	adapter := NewProductAdapter(client, func() time.Time { return testNow })

	rows := sqlmock.NewRows([]string{"id", "user_id", "client_id", "product_id", "kind", "bot", "at"}).
		AddRow("i1", "u1", "", "p1", "upvote", false, testNow.Add(-time.Hour)).
		AddRow("i2", "u1", "", "p2", "view", false, testNow.Add(-2*time.Hour))
	mock.ExpectQuery(`FROM "interactions" WHERE .*"kind" IN \('upvote', 'view'\).*ORDER BY "at" DESC`).WillReturnRows(rows)

	got, err := adapter.GetUserInteractions(context.Background(), "u1",
		[]entities.InteractionKind{entities.InteractionUpvote, entities.InteractionView}, 90)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, entities.InteractionUpvote, got[0].Kind)
	assert.Equal(t, "p2", got[1].ProductID)
}

func TestProductAdapter_GetCollaborators(t *testing.T) {
	client, mock := setupMockDB(t)
	adapter := NewProductAdapter(client, nil)

	rows := sqlmock.NewRows([]string{"user_id", "shared"}).AddRow("u2", int64(3)).AddRow("u3", int64(1))
	mock.ExpectQuery(`GROUP BY "other"."user_id" ORDER BY "shared" DESC, "other"."user_id" ASC LIMIT 2`).WillReturnRows(rows)

	users, err := adapter.GetCollaborators(context.Background(), "u1", 2)

	require.NoError(t, err)
	assert.Equal(t, []string{"u2", "u3"}, users)

	none, err := adapter.GetCollaborators(context.Background(), "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NoError(t, mock.ExpectationsWereMet())
}
