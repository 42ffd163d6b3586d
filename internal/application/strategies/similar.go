package strategies

import (
	"context"
	"fmt"
	"strings"

	"github.com/zatekoja/discoveryrank/backend/internal/application/scoring"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/repositories"
	apperrors "github.com/zatekoja/discoveryrank/backend/pkg/errors"
)

const (
	similarTagWeight      = 0.6
	similarCategoryWeight = 0.2
	similarTrendingWeight = 0.2
)

// Similar ranks products sharing tags or the category of the given product.
// Returns NOT_FOUND when the product does not exist.
func (e *Engines) Similar(ctx context.Context, req Request) (*entities.StrategyResult, error) {
	if req.Params.ProductID == "" {
		return nil, apperrors.NewInvalidArgumentError("similar strategy requires a product id")
	}

	source, err := e.repo.GetProduct(ctx, req.Params.ProductID)
	if err != nil {
		return e.degrade(entities.StrategySimilar, err)
	}

	var candidates []*entities.Product
	if len(source.Tags) > 0 {
		byTag, err := e.listAll(ctx, repositories.ListFilter{Tags: source.Tags, Sort: repositories.SortTrending})
		if err != nil {
			return e.degrade(entities.StrategySimilar, err)
		}
		candidates = append(candidates, byTag...)
	}
	if source.CategoryID != "" {
		byCategory, err := e.listAll(ctx, repositories.ListFilter{CategoryID: source.CategoryID, Sort: repositories.SortTrending})
		if err != nil {
			return e.degrade(entities.StrategySimilar, err)
		}
		candidates = append(candidates, byCategory...)
	}

	now := e.now()
	candidates = dedupe(published(candidates))
	trending := make(map[string]float64, len(candidates))
	maxTrending := 0.0
	for _, c := range candidates {
		t := scoring.ProductTrendingScore(c, now)
		trending[c.ID] = t
		if t > maxTrending {
			maxTrending = t
		}
	}

	scored := make([]scoredProduct, 0, len(candidates))
	for _, c := range candidates {
		if c.ID == source.ID {
			continue
		}
		normTrending := 0.0
		if maxTrending > 0 {
			normTrending = trending[c.ID] / maxTrending
		}
		sameCategory := 0.0
		if source.CategoryID != "" && c.CategoryID == source.CategoryID {
			sameCategory = 1
		}
		score := similarTagWeight*scoring.Jaccard(source.Tags, c.Tags) +
			similarCategoryWeight*sameCategory +
			similarTrendingWeight*normTrending

		scored = append(scored, scoredProduct{
			product:     c,
			score:       score,
			trending:    trending[c.ID],
			explanation: similarExplanation(source, c),
		})
	}

	return &entities.StrategyResult{
		Strategy: entities.StrategySimilar,
		Items:    e.rank(scored, entities.ReasonSimilar, req.Params),
	}, nil
}

func similarExplanation(source, c *entities.Product) string {
	var shared []string
	for _, t := range c.Tags {
		if source.HasTag(t) {
			shared = append(shared, t)
		}
	}
	switch {
	case len(shared) > 0 && c.CategoryID == source.CategoryID:
		return fmt.Sprintf("Same category as %s, shares %s", source.Name, strings.Join(shared, ", "))
	case len(shared) > 0:
		return fmt.Sprintf("Shares %s with %s", strings.Join(shared, ", "), source.Name)
	default:
		return fmt.Sprintf("Same category as %s", source.Name)
	}
}
