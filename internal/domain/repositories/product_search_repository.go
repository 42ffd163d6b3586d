package repositories

import (
	"context"

	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
)

// ProductSearchRepository retrieves text-search candidates from a search engine
type ProductSearchRepository interface {
	// Search returns candidate product IDs for the query, best match first
	Search(ctx context.Context, query string, filters entities.SearchFilters, limit int) ([]string, error)

	// Index upserts a product document
	Index(ctx context.Context, product *entities.Product) error

	// Delete removes a product document
	Delete(ctx context.Context, id string) error
}
