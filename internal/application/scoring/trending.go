// Package scoring holds the pure ranking functions: trending score,
// tie-breaking, word similarity and search relevance. Nothing here blocks
// or fails; degenerate inputs produce documented fallback values.
package scoring

import (
	"math"
	"time"

	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
)

// FallbackTrendingScore is returned when the computation degenerates
const FallbackTrendingScore = 0.01

// RecentViewDays is the window used for the recent-views term
const RecentViewDays = 7

// TrendingInput is the snapshot the trending score is computed from.
// Zero values stand in for missing observations.
type TrendingInput struct {
	CreatedAt   time.Time
	Upvotes     float64
	Views       float64
	UniqueViews float64
	Bookmarks   float64
	Comments    float64
	RecentViews float64
	RecClicks   float64
	RecImpr     float64
}

// InputFromProduct builds the trending input for p as of now
func InputFromProduct(p *entities.Product, now time.Time) TrendingInput {
	e := p.Engagement
	return TrendingInput{
		CreatedAt:   p.CreatedAt,
		Upvotes:     float64(e.Upvotes),
		Views:       float64(e.Views.Count),
		UniqueViews: float64(e.Views.Unique),
		Bookmarks:   float64(e.Bookmarks),
		Comments:    float64(e.Comments),
		RecentViews: float64(e.RecentViews(now, RecentViewDays)),
		RecClicks:   float64(e.Clicks),
		RecImpr:     float64(e.Impressions),
	}
}

// TrendingScore computes the time-decayed engagement score. The result is
// always finite and non-negative.
func TrendingScore(in TrendingInput, now time.Time) float64 {
	ageH := 1.0
	if !in.CreatedAt.IsZero() {
		ageH = math.Max(1, now.Sub(in.CreatedAt).Hours())
	}
	ageD := ageH / 24

	engagement := 5*in.Upvotes +
		0.5*in.Views +
		1*in.UniqueViews +
		3*in.Bookmarks +
		2*in.Comments +
		1.5*in.RecentViews

	recency := math.Min(30/(ageD+1), 3)
	velocity := math.Min(engagement/math.Max(ageD, 1), 100)
	raw := (engagement + velocity) * recency

	recAdj := (2*in.RecClicks + 0.1*in.RecImpr) / math.Max(1, ageD)
	blended := 0.7*raw + 0.3*recAdj

	score := blended / (math.Max(in.Views, 1) * math.Pow(ageH+12, 1.8))
	if math.IsNaN(score) || math.IsInf(score, 0) || score < 0 {
		return FallbackTrendingScore
	}
	return score
}

// ProductTrendingScore is TrendingScore over a product snapshot
func ProductTrendingScore(p *entities.Product, now time.Time) float64 {
	return TrendingScore(InputFromProduct(p, now), now)
}
