package repositories

import (
	"context"

	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
)

// SortOrder is the ordering requested from ListPublished
type SortOrder string

const (
	SortCreatedAtDesc SortOrder = "createdAt-desc"
	SortTrending      SortOrder = "trending"
	SortViewsDesc     SortOrder = "views-desc"
)

// CandidateRepository is the read-only query interface over product and
// interaction storage. Implementations return NOT_FOUND when a product does
// not exist and UNAVAILABLE on transport failure.
type CandidateRepository interface {
	// GetProduct retrieves a product by ID
	GetProduct(ctx context.Context, id string) (*entities.Product, error)

	// ListPublished lists published products matching the filter
	ListPublished(ctx context.Context, filter ListFilter) ([]*entities.Product, error)

	// ListByIDs retrieves products by ID; missing IDs are omitted
	ListByIDs(ctx context.Context, ids []string) (map[string]*entities.Product, error)

	// GetUserInteractions retrieves a user's interactions of the given kinds
	// within the last sinceDays days
	GetUserInteractions(ctx context.Context, userID string, kinds []entities.InteractionKind, sinceDays int) ([]*entities.Interaction, error)

	// GetCollaborators returns up to k users who interacted with the same
	// products as userID, most shared first
	GetCollaborators(ctx context.Context, userID string, k int) ([]string, error)
}

// ListFilter defines filters for listing published products
type ListFilter struct {
	CategoryID string
	Tags       []string // any of
	MakerID    string
	SinceDays  int
	Limit      int
	Offset     int
	Sort       SortOrder
}
