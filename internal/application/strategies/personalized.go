package strategies

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zatekoja/discoveryrank/backend/internal/application/scoring"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/repositories"
	"github.com/zatekoja/discoveryrank/backend/internal/loaders"
	apperrors "github.com/zatekoja/discoveryrank/backend/pkg/errors"
)

// interest weights per interaction kind
var interestKindWeights = map[entities.InteractionKind]float64{
	entities.InteractionUpvote:   3,
	entities.InteractionBookmark: 2,
	entities.InteractionView:     1,
}

const (
	interestTopTags    = 10
	categoryInterest   = 0.5
	recencyPriorWeight = 0.1
	recencyPriorDays   = 7.0
	interestDecayDays  = 30.0
)

// Interest is a user's normalised affinity for tags and categories
type Interest struct {
	Tags       map[string]float64
	Categories map[string]float64
}

// TopTags returns the n strongest tags
func (i Interest) TopTags(n int) []string {
	return topKeys(i.Tags, n)
}

// TopCategory returns the strongest category, or ""
func (i Interest) TopCategory() string {
	if top := topKeys(i.Categories, 1); len(top) > 0 {
		return top[0]
	}
	return ""
}

// coldStart serves trending to users without interests. A blend lane
// gets nothing, the blend already carries its own trending lane.
func (e *Engines) coldStart(ctx context.Context, req Request) (*entities.StrategyResult, error) {
	if req.Lane {
		return &entities.StrategyResult{Strategy: entities.StrategyPersonalized, Items: []entities.RankedItem{}}, nil
	}
	return e.Trending(ctx, req)
}

// Personalized ranks products by the user's tag and category interests.
// Products the user already upvoted or bookmarked are excluded. Users with
// no history get the trending result.
func (e *Engines) Personalized(ctx context.Context, req Request) (*entities.StrategyResult, error) {
	if !req.User.Authenticated() {
		return nil, apperrors.NewUnauthenticatedError("personalized recommendations require a user")
	}

	history, err := e.repo.GetUserInteractions(ctx, req.User.UserID,
		[]entities.InteractionKind{entities.InteractionUpvote, entities.InteractionBookmark, entities.InteractionView},
		e.cfg.HistoryDays)
	if err != nil {
		return e.degrade(entities.StrategyPersonalized, err)
	}
	if len(history) == 0 {
		e.logger.Debug().Str("user_id", req.User.UserID).Bool("lane", req.Lane).Msg("Cold-start user")
		return e.coldStart(ctx, req)
	}

	ids := make([]string, 0, len(history))
	excluded := make(map[string]bool)
	for _, in := range history {
		ids = append(ids, in.ProductID)
		if in.Kind.IsToggle() {
			excluded[in.ProductID] = true
		}
	}
	seen, err := loaders.ListByIDs(ctx, e.repo, uniqueStrings(ids))
	if err != nil {
		return e.degrade(entities.StrategyPersonalized, err)
	}

	now := e.now()
	interest := BuildInterest(history, seen, now)
	if len(interest.Tags) == 0 && len(interest.Categories) == 0 {
		return e.coldStart(ctx, req)
	}

	var candidates []*entities.Product
	if tags := interest.TopTags(interestTopTags); len(tags) > 0 {
		byTag, err := e.listAll(ctx, repositories.ListFilter{Tags: tags, Sort: repositories.SortTrending})
		if err != nil {
			return e.degrade(entities.StrategyPersonalized, err)
		}
		candidates = append(candidates, byTag...)
	}
	if cat := interest.TopCategory(); cat != "" {
		byCategory, err := e.listAll(ctx, repositories.ListFilter{CategoryID: cat, Sort: repositories.SortTrending})
		if err != nil {
			return e.degrade(entities.StrategyPersonalized, err)
		}
		candidates = append(candidates, byCategory...)
	}

	scored := make([]scoredProduct, 0, len(candidates))
	for _, c := range dedupe(published(candidates)) {
		if excluded[c.ID] {
			continue
		}
		score, matched := interest.Score(c, now)
		if score <= 0 {
			continue
		}
		scored = append(scored, scoredProduct{
			product:     c,
			score:       score,
			trending:    scoring.ProductTrendingScore(c, now),
			explanation: personalizedExplanation(matched, c),
		})
	}

	return &entities.StrategyResult{
		Strategy: entities.StrategyPersonalized,
		Items:    e.rank(scored, entities.ReasonPersonalized, req.Params),
	}, nil
}

// BuildInterest derives tag and category affinities from interactions,
// weighted by kind and decayed by age. Weights are normalised to sum to 1
// per dimension.
func BuildInterest(history []*entities.Interaction, products map[string]*entities.Product, now time.Time) Interest {
	interest := Interest{Tags: map[string]float64{}, Categories: map[string]float64{}}
	for _, in := range history {
		p, ok := products[in.ProductID]
		if !ok {
			continue
		}
		ageDays := now.Sub(in.At).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		w := interestKindWeights[in.Kind] / (1 + ageDays/interestDecayDays)
		for _, t := range p.Tags {
			interest.Tags[strings.ToLower(t)] += w
		}
		if p.CategoryID != "" {
			interest.Categories[p.CategoryID] += w
		}
	}
	normalize(interest.Tags)
	normalize(interest.Categories)
	return interest
}

// Score sums the interest weight of matching tags, the category affinity
// and a recency prior. Returns the matched tags.
func (i Interest) Score(p *entities.Product, now time.Time) (float64, []string) {
	score := 0.0
	var matched []string
	for _, t := range p.Tags {
		if w, ok := i.Tags[t]; ok {
			score += w
			matched = append(matched, t)
		}
	}
	score += categoryInterest * i.Categories[p.CategoryID]
	if score == 0 {
		return 0, nil
	}
	ageDays := now.Sub(p.CreatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	score += recencyPriorWeight / (1 + ageDays/recencyPriorDays)
	return score, matched
}

func personalizedExplanation(matched []string, p *entities.Product) string {
	if len(matched) == 0 {
		return fmt.Sprintf("Popular in %s, a category you follow", p.CategoryName)
	}
	if len(matched) > 3 {
		matched = matched[:3]
	}
	return "Because you like " + strings.Join(matched, ", ")
}

func normalize(m map[string]float64) {
	total := 0.0
	for _, v := range m {
		total += v
	}
	if total <= 0 {
		return
	}
	for k, v := range m {
		m[k] = v / total
	}
}

func topKeys(m map[string]float64, n int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
