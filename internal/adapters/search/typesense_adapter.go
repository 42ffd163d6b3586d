package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/typesense/typesense-go/v2/typesense"
	"github.com/typesense/typesense-go/v2/typesense/api"
	"github.com/typesense/typesense-go/v2/typesense/api/pointer"

	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/repositories"
	tsclient "github.com/zatekoja/discoveryrank/backend/internal/infrastructure/clients/typesense"
	apperrors "github.com/zatekoja/discoveryrank/backend/pkg/errors"
)

const (
	queryBy = "name,tagline,tags,keywords,description"
	sortBy  = "_text_match:desc,upvotes:desc,created_at:desc"

	// MaxKeywords caps the keyword bag stored per document
	MaxKeywords = 40
)

// TypesenseAdapter implements product search using Typesense
type TypesenseAdapter struct {
	client *tsclient.Client
}

var _ repositories.ProductSearchRepository = (*TypesenseAdapter)(nil)

// NewTypesenseAdapter creates a new Typesense adapter
func NewTypesenseAdapter(client *tsclient.Client) *TypesenseAdapter {
	return &TypesenseAdapter{client: client}
}

// Index upserts a product. Unpublished products are removed from the index.
func (a *TypesenseAdapter) Index(ctx context.Context, product *entities.Product) error {
	if product == nil {
		return apperrors.NewInvalidArgumentError("product is required")
	}
	if !product.IsPublished() {
		return a.Delete(ctx, product.ID)
	}

	if _, err := a.client.Client().Collection(a.client.Collection()).Documents().Upsert(ctx, BuildDocument(product)); err != nil {
		return apperrors.NewUnavailableError("failed to index product", err, 0)
	}
	return nil
}

// Delete removes a product from the index. Missing documents are ignored.
func (a *TypesenseAdapter) Delete(ctx context.Context, id string) error {
	_, err := a.client.Client().Collection(a.client.Collection()).Document(id).Delete(ctx)
	if err != nil && !isNotFound(err) {
		return apperrors.NewUnavailableError("failed to delete product from index", err, 0)
	}
	return nil
}

// Search returns matching product IDs, best match first
func (a *TypesenseAdapter) Search(ctx context.Context, query string, filters entities.SearchFilters, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}

	params := &api.SearchCollectionParams{
		Q:       pointer.String(query),
		QueryBy: pointer.String(queryBy),
		SortBy:  pointer.String(sortBy),
		Page:    pointer.Int(1),
		PerPage: pointer.Int(limit),
	}
	if filter := FilterBy(filters); filter != "" {
		params.FilterBy = pointer.String(filter)
	}

	result, err := a.client.Client().Collection(a.client.Collection()).Documents().Search(ctx, params)
	if err != nil {
		if ctxErr := apperrors.FromContext(ctx); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperrors.NewUnavailableError("failed to search products", err, 0)
	}
	if result.Hits == nil {
		return []string{}, nil
	}

	ids := make([]string, 0, len(*result.Hits))
	for _, hit := range *result.Hits {
		if hit.Document == nil {
			continue
		}
		if id, ok := (*hit.Document)["id"].(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// BuildDocument converts a product into its search document
func BuildDocument(p *entities.Product) map[string]interface{} {
	return map[string]interface{}{
		"id":            p.ID,
		"slug":          p.Slug,
		"name":          p.Name,
		"tagline":       p.Tagline,
		"description":   p.Description,
		"tags":          entities.NormalizeTags(p.Tags),
		"category_id":   p.CategoryID,
		"category_name": p.CategoryName,
		"maker_id":      p.MakerID,
		"keywords":      BuildKeywords(p),
		"featured":      p.Featured,
		"upvotes":       p.Engagement.Upvotes,
		"views":         p.Engagement.Views.Count,
		"created_at":    p.CreatedAt.Unix(),
	}
}

// BuildKeywords collects lowercase terms from the product name, tags and
// category, deduplicated in first-seen order
func BuildKeywords(p *entities.Product) []string {
	if p == nil {
		return nil
	}

	seen := make(map[string]struct{})
	keywords := []string{}
	add := func(terms ...string) {
		for _, t := range terms {
			t = strings.ToLower(strings.TrimSpace(t))
			if t == "" || len(keywords) >= MaxKeywords {
				continue
			}
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			keywords = append(keywords, t)
		}
	}

	add(p.Name, p.CategoryName)
	add(strings.Fields(p.Name)...)
	for _, tag := range p.Tags {
		add(tag, strings.ReplaceAll(tag, "-", " "))
	}
	return keywords
}

// FilterBy renders search filters in Typesense filter syntax
func FilterBy(f entities.SearchFilters) string {
	var clauses []string
	if f.CategoryID != "" {
		clauses = append(clauses, "category_id:="+quote(f.CategoryID))
	}
	if tags := entities.NormalizeTags(f.Tags); len(tags) > 0 {
		quoted := make([]string, len(tags))
		for i, t := range tags {
			quoted[i] = quote(t)
		}
		clauses = append(clauses, fmt.Sprintf("tags:=[%s]", strings.Join(quoted, ",")))
	}
	return strings.Join(clauses, " && ")
}

func quote(v string) string {
	return "`" + strings.ReplaceAll(v, "`", "") + "`"
}

func isNotFound(err error) bool {
	var httpErr *typesense.HTTPError
	return errors.As(err, &httpErr) && httpErr.Status == http.StatusNotFound
}
