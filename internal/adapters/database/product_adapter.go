package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/goccy/go-json"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/providers"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/repositories"
	"github.com/zatekoja/discoveryrank/backend/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/discoveryrank/backend/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/discoveryrank/backend/pkg/errors"
)

const (
	productsTable     = "products"
	interactionsTable = "interactions"
)

var productColumns = []interface{}{
	"id", "slug", "name", "tagline", "description", "tags",
	"category_id", "category_name", "maker_id", "featured", "status",
	"created_at", "launched_at",
	"views_count", "views_unique", "upvotes", "bookmarks", "comments",
	"impressions", "clicks", "last_recommended_at", "view_history",
}

var interactionColumns = []interface{}{"id", "user_id", "client_id", "product_id", "kind", "bot", "at"}

// ProductAdapter implements CandidateRepository over PostgreSQL
type ProductAdapter struct {
	client *postgres.Client
	db     *goqu.Database
	now    providers.Clock
	logger zerolog.Logger
}

// NewProductAdapter creates a new product adapter
func NewProductAdapter(client *postgres.Client, now providers.Clock) *ProductAdapter {
	if now == nil {
		now = time.Now
	}
	return &ProductAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
		now:    now,
		logger: observability.ComponentLogger("product_adapter"),
	}
}

// GetProduct retrieves a product by ID
func (a *ProductAdapter) GetProduct(ctx context.Context, id string) (*entities.Product, error) {
	query, args, err := a.db.From(productsTable).Select(productColumns...).
		Where(goqu.Ex{"id": id}).
		Limit(1).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError(ctx, "failed to get product", err)
	}
	defer rows.Close()

	products, err := a.scanProducts(rows)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, apperrors.NewNotFoundError("product not found: " + id)
	}
	return products[0], nil
}

// ListPublished lists published products matching filter
func (a *ProductAdapter) ListPublished(ctx context.Context, filter repositories.ListFilter) ([]*entities.Product, error) {
	ds := a.db.From(productsTable).Select(productColumns...).
		Where(goqu.Ex{"status": string(entities.ProductStatusPublished)})

	if filter.CategoryID != "" {
		ds = ds.Where(goqu.Ex{"category_id": filter.CategoryID})
	}
	if filter.MakerID != "" {
		ds = ds.Where(goqu.Ex{"maker_id": filter.MakerID})
	}
	if filter.SinceDays > 0 {
		ds = ds.Where(goqu.C("created_at").Gte(a.now().UTC().AddDate(0, 0, -filter.SinceDays)))
	}
	if tags := entities.NormalizeTags(filter.Tags); len(tags) > 0 {
		ds = ds.Where(goqu.L("tags && ?", pq.Array(tags)))
	}

	switch filter.Sort {
	case repositories.SortTrending:
		// coarse pre-order; engines rescore
		ds = ds.Order(goqu.C("upvotes").Desc(), goqu.C("created_at").Desc(), goqu.C("id").Asc())
	case repositories.SortViewsDesc:
		ds = ds.Order(goqu.C("views_count").Desc(), goqu.C("id").Asc())
	default:
		ds = ds.Order(goqu.C("created_at").Desc(), goqu.C("id").Asc())
	}
	if filter.Limit > 0 {
		ds = ds.Limit(uint(filter.Limit))
	}
	if filter.Offset > 0 {
		ds = ds.Offset(uint(filter.Offset))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}
	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError(ctx, "failed to list products", err)
	}
	defer rows.Close()

	return a.scanProducts(rows)
}

// ListByIDs retrieves products by ID; missing IDs are omitted
func (a *ProductAdapter) ListByIDs(ctx context.Context, ids []string) (map[string]*entities.Product, error) {
	out := make(map[string]*entities.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := a.db.From(productsTable).Select(productColumns...).
		Where(goqu.Ex{"id": ids}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}
	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError(ctx, "failed to get products by ids", err)
	}
	defer rows.Close()

	products, err := a.scanProducts(rows)
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

// GetUserInteractions retrieves a user's non-bot interactions of the given
// kinds within the last sinceDays days, newest first
func (a *ProductAdapter) GetUserInteractions(ctx context.Context, userID string, kinds []entities.InteractionKind, sinceDays int) ([]*entities.Interaction, error) {
	ds := a.db.From(interactionsTable).Select(interactionColumns...).
		Where(goqu.Ex{"user_id": userID, "bot": false})

	if len(kinds) > 0 {
		names := make([]string, len(kinds))
		for i, k := range kinds {
			names[i] = string(k)
		}
		ds = ds.Where(goqu.Ex{"kind": names})
	}
	if sinceDays > 0 {
		ds = ds.Where(goqu.C("at").Gte(a.now().UTC().AddDate(0, 0, -sinceDays)))
	}

	query, args, err := ds.Order(goqu.C("at").Desc()).ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}
	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError(ctx, "failed to get user interactions", err)
	}
	defer rows.Close()

	var interactions []*entities.Interaction
	for rows.Next() {
		i := &entities.Interaction{}
		var kind string
		if err := rows.Scan(&i.ID, &i.UserID, &i.ClientID, &i.ProductID, &kind, &i.Bot, &i.At); err != nil {
			return nil, apperrors.NewInternalError("failed to scan interaction", err)
		}
		i.Kind = entities.InteractionKind(kind)
		interactions = append(interactions, i)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(ctx, "failed to read interactions", err)
	}
	return interactions, nil
}

// GetCollaborators returns up to k users who interacted with the products
// userID interacted with, ordered by the number of shared products
func (a *ProductAdapter) GetCollaborators(ctx context.Context, userID string, k int) ([]string, error) {
	if k <= 0 {
		return []string{}, nil
	}

	query, args, err := a.db.From(goqu.T(interactionsTable).As("mine")).
		Join(goqu.T(interactionsTable).As("other"), goqu.On(goqu.I("other.product_id").Eq(goqu.I("mine.product_id")))).
		Select(goqu.I("other.user_id"), goqu.COUNT(goqu.DISTINCT(goqu.I("other.product_id"))).As("shared")).
		Where(
			goqu.I("mine.user_id").Eq(userID),
			goqu.I("mine.bot").IsFalse(),
			goqu.I("other.user_id").Neq(userID),
			goqu.I("other.user_id").Neq(""),
			goqu.I("other.bot").IsFalse(),
		).
		GroupBy(goqu.I("other.user_id")).
		Order(goqu.I("shared").Desc(), goqu.I("other.user_id").Asc()).
		Limit(uint(k)).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError(ctx, "failed to get collaborators", err)
	}
	defer rows.Close()

	users := make([]string, 0, k)
	for rows.Next() {
		var (
			user   string
			shared int64
		)
		if err := rows.Scan(&user, &shared); err != nil {
			return nil, apperrors.NewInternalError("failed to scan collaborator", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(ctx, "failed to read collaborators", err)
	}
	return users, nil
}

func (a *ProductAdapter) scanProducts(rows *sql.Rows) ([]*entities.Product, error) {
	var products []*entities.Product
	for rows.Next() {
		p := &entities.Product{}
		var (
			tagline, description, categoryName sql.NullString
			status                             string
			launchedAt, lastRecommendedAt      sql.NullTime
			history                            []byte
			counters                           [7]interface{}
		)
		err := rows.Scan(
			&p.ID, &p.Slug, &p.Name, &tagline, &description, pq.Array(&p.Tags),
			&p.CategoryID, &categoryName, &p.MakerID, &p.Featured, &status,
			&p.CreatedAt, &launchedAt,
			&counters[0], &counters[1], &counters[2], &counters[3], &counters[4],
			&counters[5], &counters[6], &lastRecommendedAt, &history,
		)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan product", err)
		}

		p.Tagline = tagline.String
		p.Description = description.String
		p.CategoryName = categoryName.String
		p.Status = entities.ProductStatus(status)
		if launchedAt.Valid {
			t := launchedAt.Time
			p.LaunchedAt = &t
		}
		if lastRecommendedAt.Valid {
			t := lastRecommendedAt.Time
			p.Engagement.LastRecommendedAt = &t
		}

		e := &p.Engagement
		targets := []*int64{&e.Views.Count, &e.Views.Unique, &e.Upvotes, &e.Bookmarks, &e.Comments, &e.Impressions, &e.Clicks}
		for i, v := range counters {
			n, ok := entities.CoerceCount(v)
			if !ok {
				a.logger.Warn().Str("product_id", p.ID).Str("column", productColumns[13+i].(string)).Interface("value", v).Msg("Non-numeric engagement count, using 0")
			}
			*targets[i] = n
		}

		if len(history) > 0 {
			if err := json.Unmarshal(history, &e.Views.History); err != nil {
				a.logger.Warn().Err(err).Str("product_id", p.ID).Msg("Undecodable view history, ignoring")
				e.Views.History = nil
			}
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewUnavailableError("failed to read products", err, 0)
	}
	return products, nil
}

// storeError maps a query failure to a typed error. Transport failures are
// reported as unavailable.
func storeError(ctx context.Context, msg string, err error) error {
	if ctxErr := apperrors.FromContext(ctx); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperrors.NewDeadlineExceededError(msg, err)
	}
	return apperrors.NewUnavailableError(msg, err, 0)
}
