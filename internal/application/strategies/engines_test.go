package strategies_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/discoveryrank/backend/internal/application/strategies"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/repositories"
	apperrors "github.com/zatekoja/discoveryrank/backend/pkg/errors"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type memRepo struct {
	products     map[string]*entities.Product
	interactions []*entities.Interaction
	collabs      map[string][]string
	err          error
	offsets      []int
}

func newMemRepo(products ...*entities.Product) *memRepo {
	r := &memRepo{products: map[string]*entities.Product{}, collabs: map[string][]string{}}
	for _, p := range products {
		r.products[p.ID] = p
	}
	return r
}

func (r *memRepo) interact(user, product string, kind entities.InteractionKind) {
	r.interactions = append(r.interactions, &entities.Interaction{UserID: user, ProductID: product, Kind: kind, At: now.Add(-time.Hour)})
}

func (r *memRepo) GetProduct(ctx context.Context, id string) (*entities.Product, error) {
	if r.err != nil {
		return nil, r.err
	}
	if p, ok := r.products[id]; ok {
		return p, nil
	}
	return nil, apperrors.NewNotFoundError("product not found")
}

func (r *memRepo) ListPublished(ctx context.Context, f repositories.ListFilter) ([]*entities.Product, error) {
	if r.err != nil {
		return nil, r.err
	}
	var out []*entities.Product
	for _, p := range r.products {
		if !p.IsPublished() {
			continue
		}
		if f.CategoryID != "" && p.CategoryID != f.CategoryID {
			continue
		}
		if f.SinceDays > 0 && p.CreatedAt.Before(now.AddDate(0, 0, -f.SinceDays)) {
			continue
		}
		if len(f.Tags) > 0 {
			ok := false
			for _, t := range f.Tags {
				ok = ok || p.HasTag(t)
			}
			if !ok {
				continue
			}
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if f.Sort == repositories.SortTrending && out[i].Engagement.Upvotes != out[j].Engagement.Upvotes {
			return out[i].Engagement.Upvotes > out[j].Engagement.Upvotes
		}
		return out[i].ID < out[j].ID
	})
	r.offsets = append(r.offsets, f.Offset)
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *memRepo) ListByIDs(ctx context.Context, ids []string) (map[string]*entities.Product, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := map[string]*entities.Product{}
	for _, id := range ids {
		if p, ok := r.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (r *memRepo) GetUserInteractions(ctx context.Context, userID string, kinds []entities.InteractionKind, sinceDays int) ([]*entities.Interaction, error) {
	if r.err != nil {
		return nil, r.err
	}
	want := map[entities.InteractionKind]bool{}
	for _, k := range kinds {
		want[k] = true
	}
	var out []*entities.Interaction
	for _, in := range r.interactions {
		if in.UserID == userID && want[in.Kind] {
			out = append(out, in)
		}
	}
	return out, nil
}

func (r *memRepo) GetCollaborators(ctx context.Context, userID string, k int) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.collabs[userID], nil
}

func product(id string, age time.Duration, upvotes int64, tags ...string) *entities.Product {
	return &entities.Product{
		ID: id, Name: id, Slug: id, Status: entities.ProductStatusPublished,
		CreatedAt: now.Add(-age), Tags: tags, CategoryID: "dev", CategoryName: "Developer Tools",
		Engagement: entities.Engagement{Upvotes: upvotes, Views: entities.ViewStats{Count: 100, Unique: 50}},
	}
}

func newEngines(repo repositories.CandidateRepository) *strategies.Engines {
	return strategies.NewEngines(repo, strategies.DefaultConfig(), func() time.Time { return now })
}

func ids(res *entities.StrategyResult) []string {
	out := make([]string, len(res.Items))
	for i, it := range res.Items {
		out[i] = it.ProductID
	}
	return out
}

func TestTrending_OrdersByScoreWithinWindow(t *testing.T) {
	repo := newMemRepo(
		product("hot", 24*time.Hour, 50),
		product("warm", 24*time.Hour, 5),
		product("old", 30*24*time.Hour, 500),
	)
	draft := product("draft", time.Hour, 1000)
	draft.Status = entities.ProductStatusDraft
	repo.products["draft"] = draft

	res, err := newEngines(repo).Trending(context.Background(), strategies.Request{Params: entities.RecommendParams{Limit: 10, Days: 7}})
	require.NoError(t, err)

	assert.Equal(t, []string{"hot", "warm"}, ids(res))
	assert.Equal(t, entities.ReasonTrending, res.Items[0].Reason)
	assert.Greater(t, res.Items[0].Score, res.Items[1].Score)
}

func TestTrending_LimitAndOffset(t *testing.T) {
	repo := newMemRepo(
		product("a", 24*time.Hour, 30),
		product("b", 24*time.Hour, 20),
		product("c", 24*time.Hour, 10),
	)

	res, err := newEngines(repo).Trending(context.Background(), strategies.Request{Params: entities.RecommendParams{Limit: 1, Offset: 1}})
	require.NoError(t, err)

	assert.Equal(t, []string{"b"}, ids(res))
}

func TestNew_NewestFirstTiesByTrending(t *testing.T) {
	repo := newMemRepo(
		product("older", 48*time.Hour, 100),
		product("tie-low", time.Hour, 1),
		product("tie-high", time.Hour, 40),
	)

	res, err := newEngines(repo).New(context.Background(), strategies.Request{Params: entities.RecommendParams{Limit: 10}})
	require.NoError(t, err)

	assert.Equal(t, []string{"tie-high", "tie-low", "older"}, ids(res))
}

func TestSimilar_ScoresTagOverlap(t *testing.T) {
	x := product("x", 24*time.Hour, 10, "go", "cli", "devops")
	near := product("near", 24*time.Hour, 1, "go", "cli")
	far := product("far", 24*time.Hour, 1, "devops")
	other := product("other", 24*time.Hour, 1, "design")
	other.CategoryID = "design"
	repo := newMemRepo(x, near, far, other)

	res, err := newEngines(repo).Similar(context.Background(), strategies.Request{Params: entities.RecommendParams{Limit: 10, ProductID: "x"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"near", "far"}, ids(res))
	assert.NotContains(t, ids(res), "x")
	assert.Contains(t, res.Items[0].Explanation, "go")
}

func TestSimilar_UnknownProduct(t *testing.T) {
	_, err := newEngines(newMemRepo()).Similar(context.Background(), strategies.Request{Params: entities.RecommendParams{Limit: 5, ProductID: "nope"}})
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeNotFound))
}

func TestPersonalized_RequiresUser(t *testing.T) {
	_, err := newEngines(newMemRepo()).Personalized(context.Background(), strategies.Request{Params: entities.RecommendParams{Limit: 5}})
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeUnauthenticated))
}

func TestPersonalized_ColdStartFallsBackToTrending(t *testing.T) {
	repo := newMemRepo(product("a", 24*time.Hour, 3))

	res, err := newEngines(repo).Personalized(context.Background(), strategies.Request{
		Params: entities.RecommendParams{Limit: 5},
		User:   entities.UserContext{UserID: "u1"},
	})
	require.NoError(t, err)

	assert.Equal(t, entities.StrategyTrending, res.Strategy)
	assert.Equal(t, []string{"a"}, ids(res))
}

func TestPersonalized_ColdStartBlendLaneIsEmpty(t *testing.T) {
	repo := newMemRepo(product("a", 24*time.Hour, 3))

	res, err := newEngines(repo).Personalized(context.Background(), strategies.Request{
		Params: entities.RecommendParams{Limit: 5},
		User:   entities.UserContext{UserID: "u1"},
		Lane:   true,
	})
	require.NoError(t, err)

	assert.Equal(t, entities.StrategyPersonalized, res.Strategy)
	assert.Empty(t, res.Items)
	assert.False(t, res.Unavailable())
}

func TestPersonalized_UsesInterestsAndExcludesEndorsed(t *testing.T) {
	liked := product("liked", 24*time.Hour, 5, "go", "cli")
	match := product("match", 24*time.Hour, 1, "go")
	weak := product("weak", 24*time.Hour, 1, "rust")
	weak.CategoryID = "systems"
	repo := newMemRepo(liked, match, weak)
	repo.interact("u1", "liked", entities.InteractionUpvote)

	res, err := newEngines(repo).Personalized(context.Background(), strategies.Request{
		Params: entities.RecommendParams{Limit: 5},
		User:   entities.UserContext{UserID: "u1"},
	})
	require.NoError(t, err)

	assert.Equal(t, entities.StrategyPersonalized, res.Strategy)
	assert.Equal(t, []string{"match"}, ids(res))
	assert.Contains(t, res.Items[0].Explanation, "go")
}

func TestCollaborative_WeightsByKind(t *testing.T) {
	repo := newMemRepo(
		product("shared", 24*time.Hour, 1),
		product("upvoted", 24*time.Hour, 1),
		product("bookmarked", 24*time.Hour, 1),
		product("viewed", 24*time.Hour, 1),
	)
	repo.interact("u1", "shared", entities.InteractionUpvote)
	repo.interact("c1", "shared", entities.InteractionUpvote)
	repo.interact("c1", "upvoted", entities.InteractionUpvote)
	repo.interact("c2", "upvoted", entities.InteractionUpvote)
	repo.interact("c2", "bookmarked", entities.InteractionBookmark)
	repo.interact("c2", "viewed", entities.InteractionView)
	repo.collabs["u1"] = []string{"c1", "c2"}

	res, err := newEngines(repo).Collaborative(context.Background(), strategies.Request{
		Params: entities.RecommendParams{Limit: 10},
		User:   entities.UserContext{UserID: "u1"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"upvoted", "bookmarked"}, ids(res))
	assert.InDelta(t, 2.0, res.Items[0].Score, 1e-9)
	assert.InDelta(t, 0.7, res.Items[1].Score, 1e-9)
}

func TestEngines_UnavailableDegradesToEmpty(t *testing.T) {
	repo := newMemRepo()
	repo.err = apperrors.NewUnavailableError("store down", errors.New("dial tcp"), 0)

	res, err := newEngines(repo).Trending(context.Background(), strategies.Request{Params: entities.RecommendParams{Limit: 5}})
	require.NoError(t, err)

	assert.True(t, res.Unavailable())
	assert.Empty(t, res.Items)
}

func TestEngines_DispatchTable(t *testing.T) {
	e := newEngines(newMemRepo())
	for _, s := range entities.Strategies {
		_, ok := e.Lookup(s)
		assert.Equal(t, s != entities.StrategyHybrid, ok, string(s))
	}

	_, err := e.Run(context.Background(), entities.Strategy("bogus"), strategies.Request{})
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeInvalidArgument))
}

func TestCategoryAndTag_RequireParams(t *testing.T) {
	e := newEngines(newMemRepo())
	_, err := e.Category(context.Background(), strategies.Request{})
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeInvalidArgument))
	_, err = e.Tag(context.Background(), strategies.Request{})
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeInvalidArgument))
}

func TestTag_FiltersByTag(t *testing.T) {
	repo := newMemRepo(product("a", 24*time.Hour, 1, "ai"), product("b", 24*time.Hour, 1, "go"))

	res, err := newEngines(repo).Tag(context.Background(), strategies.Request{Params: entities.RecommendParams{Limit: 5, Tags: []string{"AI"}}})
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, ids(res))
}

func TestTrending_ScoresWholeWindowBeyondUpvoteOrder(t *testing.T) {
	rising := product("rising", 2*time.Hour, 3)
	rising.Engagement.Views = entities.ViewStats{Count: 10, Unique: 5}
	repo := newMemRepo(
		product("old-a", 6*24*time.Hour, 100),
		product("old-b", 6*24*time.Hour, 90),
		product("old-c", 6*24*time.Hour, 80),
		product("old-d", 6*24*time.Hour, 70),
		rising,
	)
	cfg := strategies.DefaultConfig()
	cfg.CandidateLimit = 2
	e := strategies.NewEngines(repo, cfg, func() time.Time { return now })

	res, err := e.Trending(context.Background(), strategies.Request{Params: entities.RecommendParams{Limit: 1}})
	require.NoError(t, err)

	// rising sorts last by upvotes and only arrives on the third page
	assert.Equal(t, []string{"rising"}, ids(res))
	assert.Equal(t, []int{0, 2, 4}, repo.offsets)
}

func TestTrending_CandidateCapStopsPaging(t *testing.T) {
	var products []*entities.Product
	for i := 0; i < 10; i++ {
		products = append(products, product(fmt.Sprintf("p%02d", i), time.Hour, int64(i)))
	}
	repo := newMemRepo(products...)
	cfg := strategies.DefaultConfig()
	cfg.CandidateLimit = 2
	cfg.MaxCandidates = 4
	e := strategies.NewEngines(repo, cfg, func() time.Time { return now })

	res, err := e.Trending(context.Background(), strategies.Request{Params: entities.RecommendParams{Limit: 10}})
	require.NoError(t, err)

	assert.Len(t, res.Items, 4)
	assert.Equal(t, []int{0, 2}, repo.offsets)
}
