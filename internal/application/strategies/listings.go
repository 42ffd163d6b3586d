package strategies

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/zatekoja/discoveryrank/backend/internal/application/scoring"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/repositories"
	apperrors "github.com/zatekoja/discoveryrank/backend/pkg/errors"
)

// Trending ranks products created within the window by trending score
func (e *Engines) Trending(ctx context.Context, req Request) (*entities.StrategyResult, error) {
	return e.listByTrending(ctx, entities.StrategyTrending, entities.ReasonTrending, req.Params, repositories.ListFilter{
		SinceDays: e.days(req.Params),
		MakerID:   req.Params.MakerID,
		Sort:      repositories.SortTrending,
	})
}

// New lists products created within the window, newest first. Equal
// creation times fall back to trending score.
func (e *Engines) New(ctx context.Context, req Request) (*entities.StrategyResult, error) {
	products, err := e.repo.ListPublished(ctx, repositories.ListFilter{
		SinceDays: e.days(req.Params),
		MakerID:   req.Params.MakerID,
		Limit:     e.cfg.CandidateLimit,
		Sort:      repositories.SortCreatedAtDesc,
	})
	if err != nil {
		return e.degrade(entities.StrategyNew, err)
	}

	now := e.now()
	scored := make([]scoredProduct, 0, len(products))
	for _, p := range dedupe(published(products)) {
		ageDays := now.Sub(p.CreatedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		trending := scoring.ProductTrendingScore(p, now)
		scored = append(scored, scoredProduct{
			product:     p,
			score:       1 / (1 + ageDays),
			trending:    trending,
			explanation: fmt.Sprintf("Launched %s", humanAge(ageDays)),
		})
	}

	items := e.rankNew(scored, req.Params)
	return &entities.StrategyResult{Strategy: entities.StrategyNew, Items: items}, nil
}

// Category ranks a category's products by trending score
func (e *Engines) Category(ctx context.Context, req Request) (*entities.StrategyResult, error) {
	if req.Params.CategoryID == "" {
		return nil, apperrors.NewInvalidArgumentError("category strategy requires a category id")
	}
	return e.listByTrending(ctx, entities.StrategyCategory, entities.ReasonCategory, req.Params, repositories.ListFilter{
		CategoryID: req.Params.CategoryID,
		MakerID:    req.Params.MakerID,
		SinceDays:  req.Params.Days,
		Sort:       repositories.SortTrending,
	})
}

// Tag ranks products carrying any of the requested tags by trending score
func (e *Engines) Tag(ctx context.Context, req Request) (*entities.StrategyResult, error) {
	tags := entities.NormalizeTags(req.Params.Tags)
	if len(tags) == 0 {
		return nil, apperrors.NewInvalidArgumentError("tag strategy requires at least one tag")
	}
	return e.listByTrending(ctx, entities.StrategyTag, entities.ReasonTag, req.Params, repositories.ListFilter{
		Tags:      tags,
		MakerID:   req.Params.MakerID,
		SinceDays: req.Params.Days,
		Sort:      repositories.SortTrending,
	})
}

// Popular ranks the most viewed products of the popular window by trending score
func (e *Engines) Popular(ctx context.Context, req Request) (*entities.StrategyResult, error) {
	days := req.Params.Days
	if days <= 0 {
		days = e.cfg.PopularWindowDays
	}
	return e.listByTrending(ctx, entities.StrategyPopular, entities.ReasonPopular, req.Params, repositories.ListFilter{
		SinceDays: days,
		MakerID:   req.Params.MakerID,
		Sort:      repositories.SortViewsDesc,
	})
}

func (e *Engines) listByTrending(ctx context.Context, s entities.Strategy, reason string, params entities.RecommendParams, filter repositories.ListFilter) (*entities.StrategyResult, error) {
	products, err := e.listAll(ctx, filter)
	if err != nil {
		return e.degrade(s, err)
	}

	now := e.now()
	candidates := dedupe(published(products))
	scored := make([]scoredProduct, 0, len(candidates))
	for _, p := range candidates {
		score := scoring.ProductTrendingScore(p, now)
		scored = append(scored, scoredProduct{
			product:     p,
			score:       score,
			trending:    score,
			explanation: trendingExplanation(p),
		})
	}
	return &entities.StrategyResult{Strategy: s, Items: e.rank(scored, reason, params)}, nil
}

// rankNew orders newest first; identical creation times rank by trending
// score, then by the configured tie-breaks
func (e *Engines) rankNew(scored []scoredProduct, p entities.RecommendParams) []entities.RankedItem {
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if !a.product.CreatedAt.Equal(b.product.CreatedAt) {
			return a.product.CreatedAt.After(b.product.CreatedAt)
		}
		if a.trending != b.trending {
			return a.trending > b.trending
		}
		return e.tb.Less(
			scoring.Candidate{ID: a.product.ID, Upvotes: a.product.Engagement.Upvotes, CreatedAt: a.product.CreatedAt},
			scoring.Candidate{ID: b.product.ID, Upvotes: b.product.Engagement.Upvotes, CreatedAt: b.product.CreatedAt},
		)
	})

	items := make([]entities.RankedItem, 0, len(scored))
	for _, s := range scored {
		items = append(items, entities.RankedItem{
			ProductID:     s.product.ID,
			Score:         s.score,
			Reason:        entities.ReasonNew,
			Explanation:   s.explanation,
			TrendingScore: s.trending,
		})
	}
	return entities.Page(items, p.Offset, p.Limit)
}

func trendingExplanation(p *entities.Product) string {
	e := p.Engagement
	parts := []string{fmt.Sprintf("%d upvotes", e.Upvotes)}
	if e.Comments > 0 {
		parts = append(parts, fmt.Sprintf("%d comments", e.Comments))
	}
	if e.Views.Count > 0 {
		parts = append(parts, fmt.Sprintf("%d views", e.Views.Count))
	}
	return "Trending: " + strings.Join(parts, ", ")
}

func humanAge(days float64) string {
	switch {
	case days < 1:
		return "today"
	case days < 2:
		return "yesterday"
	default:
		return fmt.Sprintf("%d days ago", int(days))
	}
}

func dedupe(products []*entities.Product) []*entities.Product {
	seen := make(map[string]struct{}, len(products))
	out := make([]*entities.Product, 0, len(products))
	for _, p := range products {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}
