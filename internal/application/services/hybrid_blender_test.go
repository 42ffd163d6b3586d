package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/discoveryrank/backend/internal/application/services"
	"github.com/zatekoja/discoveryrank/backend/internal/application/strategies"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
	"github.com/zatekoja/discoveryrank/backend/pkg/config"
	apperrors "github.com/zatekoja/discoveryrank/backend/pkg/errors"
)

// stubRunner returns canned lane results
type stubRunner struct {
	mu      sync.Mutex
	results map[entities.Strategy][]entities.RankedItem
	errs    map[entities.Strategy]error
	block   map[entities.Strategy]bool
	calls   []entities.Strategy
	limits  []int
	lanes   []bool
}

func newStubRunner() *stubRunner {
	return &stubRunner{
		results: map[entities.Strategy][]entities.RankedItem{},
		errs:    map[entities.Strategy]error{},
		block:   map[entities.Strategy]bool{},
	}
}

func (r *stubRunner) Run(ctx context.Context, s entities.Strategy, req strategies.Request) (*entities.StrategyResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.limits = append(r.limits, req.Params.Limit)
	r.lanes = append(r.lanes, req.Lane)
	items, err, block := r.results[s], r.errs[s], r.block[s]
	r.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, apperrors.FromContext(ctx)
	}
	if err != nil {
		return nil, err
	}
	return &entities.StrategyResult{Strategy: s, Items: items}, nil
}

func (r *stubRunner) Calls() []entities.Strategy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entities.Strategy(nil), r.calls...)
}

func items(pairs ...interface{}) []entities.RankedItem {
	var out []entities.RankedItem
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, entities.RankedItem{ProductID: pairs[i].(string), Score: pairs[i+1].(float64)})
	}
	return out
}

func newBlender(r services.LaneRunner) *services.HybridBlender {
	return services.NewHybridBlender(r, services.BlendProfilesFromConfig(config.DefaultBlendProfiles()))
}

func TestBlender_AnonymousCollapsesUserLanes(t *testing.T) {
	b := newBlender(newStubRunner())

	w, err := b.Weights(entities.BlendStandard, false)
	require.NoError(t, err)

	assert.NotContains(t, w, entities.LanePersonalized)
	assert.NotContains(t, w, entities.LaneCollaborative)
	assert.InDelta(t, 0.545, w[entities.LaneTrending], 0.001)
	assert.InDelta(t, 0.273, w[entities.LaneNew], 0.001)
	assert.InDelta(t, 0.182, w[entities.LaneSimilar], 0.001)
}

func TestBlender_WeightsSumToOne(t *testing.T) {
	b := newBlender(newStubRunner())
	for _, blend := range []entities.Blend{entities.BlendStandard, entities.BlendDiscovery, entities.BlendTrending} {
		for _, auth := range []bool{true, false} {
			w, err := b.Weights(blend, auth)
			require.NoError(t, err)
			total := 0.0
			for _, v := range w {
				total += v
			}
			assert.InDelta(t, 1.0, total, 1e-9, "%s auth=%v", blend, auth)
		}
	}
}

func TestBlender_UnknownProfile(t *testing.T) {
	_, err := newBlender(newStubRunner()).Weights("chaotic", true)
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeInvalidArgument))
}

func TestNormalizeScores(t *testing.T) {
	assert.Equal(t, []float64{1, 0.5, 0}, services.NormalizeScores(items("a", 4.0, "b", 3.0, "c", 2.0)))
	assert.Equal(t, []float64{0.5, 0.5}, services.NormalizeScores(items("a", 7.0, "b", 7.0)))
	assert.Empty(t, services.NormalizeScores(nil))
}

func TestBlender_MergesLanes(t *testing.T) {
	r := newStubRunner()
	r.results[entities.StrategyTrending] = items("p1", 9.0, "p2", 5.0, "p3", 1.0)
	r.results[entities.StrategyNew] = items("p3", 2.0, "p4", 1.0)

	list, err := newBlender(r).Blend(context.Background(), strategies.Request{
		Params: entities.RecommendParams{Limit: 10, Blend: entities.BlendStandard},
	})
	require.NoError(t, err)

	// anonymous standard without an anchor renormalises over trending and new
	assert.Equal(t, entities.StrategyHybrid, list.Strategy)
	assert.False(t, list.Partial)
	assert.ElementsMatch(t, []entities.Strategy{entities.StrategyTrending, entities.StrategyNew}, r.Calls())

	ids := list.ProductIDs()
	assert.Equal(t, "p1", ids[0])
	assert.Len(t, ids, 4)
	byID := map[string]entities.RankedItem{}
	for _, it := range list.Items {
		byID[it.ProductID] = it
	}
	assert.InDelta(t, 0.3/0.45, byID["p1"].Score, 1e-9)
	assert.Equal(t, []string{"trending", "new"}, byID["p3"].Lanes)
	assert.Equal(t, entities.ReasonHybrid, byID["p3"].Reason)
}

func TestBlender_MissingAnchorRenormalisesWeights(t *testing.T) {
	r := newStubRunner()
	r.results[entities.StrategyTrending] = items("top", 2.0, "low", 1.0)
	r.results[entities.StrategyNew] = items("top", 2.0, "low", 1.0)

	list, err := newBlender(r).Blend(context.Background(), strategies.Request{
		Params: entities.RecommendParams{Limit: 5, Blend: entities.BlendStandard},
	})
	require.NoError(t, err)

	// first in every lane that ran collects the full weight
	require.NotEmpty(t, list.Items)
	assert.Equal(t, "top", list.Items[0].ProductID)
	assert.InDelta(t, 1.0, list.Items[0].Score, 1e-9)
	assert.NotContains(t, r.Calls(), entities.StrategySimilar)
}

func TestBlender_LaneRequestsAreMarked(t *testing.T) {
	r := newStubRunner()
	_, err := newBlender(r).Blend(context.Background(), strategies.Request{
		Params: entities.RecommendParams{Limit: 5},
		User:   entities.UserContext{UserID: "u1"},
	})
	require.NoError(t, err)

	// personalized lanes skip their trending fallback inside a blend
	assert.Contains(t, r.Calls(), entities.StrategyPersonalized)
	require.NotEmpty(t, r.lanes)
	for _, lane := range r.lanes {
		assert.True(t, lane)
	}
}

func TestBlender_LaneLimitIsDoubled(t *testing.T) {
	r := newStubRunner()
	_, err := newBlender(r).Blend(context.Background(), strategies.Request{
		Params: entities.RecommendParams{Limit: 10, Offset: 5},
	})
	require.NoError(t, err)

	for _, l := range r.limits {
		assert.Equal(t, 30, l)
	}
}

func TestBlender_TieBreaksByLaneCount(t *testing.T) {
	r := newStubRunner()
	r.results[entities.StrategyTrending] = items("solo", 3.0, "both", 1.0)
	r.results[entities.StrategyNew] = items("both", 1.0)
	r.results[entities.StrategyPersonalized] = items("x", 1.0)
	r.results[entities.StrategyCollaborative] = items("y", 1.0)

	list, err := newBlender(r).Blend(context.Background(), strategies.Request{
		Params: entities.RecommendParams{Limit: 10, Blend: entities.BlendTrending},
		User:   entities.UserContext{UserID: "u1"},
	})
	require.NoError(t, err)

	assert.Contains(t, list.ProductIDs(), "both")
	assert.Len(t, r.Calls(), 4)
}

func TestBlender_OffsetAppliedAfterMerge(t *testing.T) {
	r := newStubRunner()
	r.results[entities.StrategyTrending] = items("a", 3.0, "b", 2.0, "c", 1.0)

	list, err := newBlender(r).Blend(context.Background(), strategies.Request{
		Params: entities.RecommendParams{Limit: 1, Offset: 1, Blend: entities.BlendTrending},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"b"}, list.ProductIDs())
}

func TestBlender_DeadlineReturnsPartial(t *testing.T) {
	r := newStubRunner()
	r.results[entities.StrategyTrending] = items("fast", 1.0)
	r.block[entities.StrategyNew] = true

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	list, err := newBlender(r).Blend(ctx, strategies.Request{Params: entities.RecommendParams{Limit: 5}})
	require.NoError(t, err)

	assert.True(t, list.Partial)
	assert.Equal(t, []string{"fast"}, list.ProductIDs())
}

func TestBlender_FatalLaneErrorPropagates(t *testing.T) {
	r := newStubRunner()
	r.errs[entities.StrategySimilar] = apperrors.NewNotFoundError("product not found")

	_, err := newBlender(r).Blend(context.Background(), strategies.Request{
		Params: entities.RecommendParams{Limit: 5, ProductID: "missing", Blend: entities.BlendDiscovery},
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeNotFound))
}
