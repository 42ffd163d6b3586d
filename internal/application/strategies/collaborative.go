package strategies

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/zatekoja/discoveryrank/backend/internal/application/scoring"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
	"github.com/zatekoja/discoveryrank/backend/internal/loaders"
	apperrors "github.com/zatekoja/discoveryrank/backend/pkg/errors"
)

// collaborator interaction weights
var collabKindWeights = map[entities.InteractionKind]float64{
	entities.InteractionUpvote:   1.0,
	entities.InteractionBookmark: 0.7,
	entities.InteractionView:     0.3,
}

// Collaborative ranks products upvoted or bookmarked by users with
// overlapping history but not by the user. Each collaborator contributes
// the weight of their strongest interaction with the product.
func (e *Engines) Collaborative(ctx context.Context, req Request) (*entities.StrategyResult, error) {
	if !req.User.Authenticated() {
		return nil, apperrors.NewUnauthenticatedError("collaborative recommendations require a user")
	}
	userID := req.User.UserID

	own, err := e.repo.GetUserInteractions(ctx, userID,
		[]entities.InteractionKind{entities.InteractionUpvote, entities.InteractionBookmark}, e.cfg.HistoryDays)
	if err != nil {
		return e.degrade(entities.StrategyCollaborative, err)
	}
	mine := make(map[string]bool, len(own))
	for _, in := range own {
		mine[in.ProductID] = true
	}

	collaborators, err := e.repo.GetCollaborators(ctx, userID, e.cfg.Collaborators)
	if err != nil {
		return e.degrade(entities.StrategyCollaborative, err)
	}
	if len(collaborators) == 0 {
		return &entities.StrategyResult{Strategy: entities.StrategyCollaborative, Items: []entities.RankedItem{}}, nil
	}

	var (
		mu        sync.Mutex
		weights   = make(map[string]float64)
		endorsers = make(map[string]int)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.CollabFanout)
	for _, collab := range collaborators {
		if collab == userID {
			continue
		}
		g.Go(func() error {
			history, err := e.repo.GetUserInteractions(gctx, collab,
				[]entities.InteractionKind{entities.InteractionUpvote, entities.InteractionBookmark, entities.InteractionView}, e.cfg.HistoryDays)
			if err != nil {
				return err
			}
			best := make(map[string]float64)
			endorsed := make(map[string]bool)
			for _, in := range history {
				if w := collabKindWeights[in.Kind]; w > best[in.ProductID] {
					best[in.ProductID] = w
				}
				if in.Kind.IsToggle() {
					endorsed[in.ProductID] = true
				}
			}

			mu.Lock()
			defer mu.Unlock()
			for pid := range endorsed {
				if mine[pid] {
					continue
				}
				weights[pid] += best[pid]
				endorsers[pid]++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return e.degrade(entities.StrategyCollaborative, err)
	}

	ids := make([]string, 0, len(weights))
	for pid := range weights {
		ids = append(ids, pid)
	}
	products, err := loaders.ListByIDs(ctx, e.repo, ids)
	if err != nil {
		return e.degrade(entities.StrategyCollaborative, err)
	}

	now := e.now()
	scored := make([]scoredProduct, 0, len(products))
	for _, pid := range ids {
		p, ok := products[pid]
		if !ok || !p.IsPublished() {
			continue
		}
		scored = append(scored, scoredProduct{
			product:     p,
			score:       weights[pid],
			trending:    scoring.ProductTrendingScore(p, now),
			explanation: collaborativeExplanation(endorsers[pid]),
		})
	}

	return &entities.StrategyResult{
		Strategy: entities.StrategyCollaborative,
		Items:    e.rank(scored, entities.ReasonCollaborative, req.Params),
	}, nil
}

func collaborativeExplanation(n int) string {
	if n == 1 {
		return "Liked by 1 person with similar taste"
	}
	return fmt.Sprintf("Liked by %d people with similar taste", n)
}
