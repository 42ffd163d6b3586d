package services

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/zatekoja/discoveryrank/backend/internal/application/strategies"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
	"github.com/zatekoja/discoveryrank/backend/internal/infrastructure/observability"
	"github.com/zatekoja/discoveryrank/backend/pkg/config"
	apperrors "github.com/zatekoja/discoveryrank/backend/pkg/errors"
)

// LaneRunner executes a single strategy for a blend lane
type LaneRunner interface {
	Run(ctx context.Context, s entities.Strategy, req strategies.Request) (*entities.StrategyResult, error)
}

// BlendProfiles maps a blend name to its per-lane weights
type BlendProfiles map[entities.Blend]map[entities.Lane]float64

// BlendProfilesFromConfig converts configured profiles to typed profiles
func BlendProfilesFromConfig(cfg map[string]config.LaneWeights) BlendProfiles {
	out := make(BlendProfiles, len(cfg))
	for name, weights := range cfg {
		lanes := make(map[entities.Lane]float64, len(weights))
		for lane, w := range weights {
			lanes[entities.Lane(strings.ToLower(lane))] = w
		}
		out[entities.Blend(strings.ToLower(name))] = lanes
	}
	return out
}

// HybridBlender merges lane results by blend profile
type HybridBlender struct {
	runner   LaneRunner
	profiles BlendProfiles
	logger   zerolog.Logger
}

// NewHybridBlender creates a new hybrid blender
func NewHybridBlender(runner LaneRunner, profiles BlendProfiles) *HybridBlender {
	return &HybridBlender{
		runner:   runner,
		profiles: profiles,
		logger:   observability.ComponentLogger("hybrid_blender"),
	}
}

// Weights returns the effective lane weights for a blend. Anonymous callers
// lose the user-scoped lanes and the rest are renormalised to sum to 1.
func (b *HybridBlender) Weights(blend entities.Blend, authenticated bool) (map[entities.Lane]float64, error) {
	if blend == "" {
		blend = entities.BlendStandard
	}
	profile, ok := b.profiles[blend]
	if !ok {
		return nil, apperrors.NewInvalidArgumentError("unknown blend profile: " + string(blend))
	}

	weights := make(map[entities.Lane]float64, len(profile))
	total := 0.0
	for _, lane := range entities.Lanes {
		w := profile[lane]
		if w <= 0 || (!authenticated && lane.RequiresUser()) {
			continue
		}
		weights[lane] = w
		total += w
	}
	if total <= 0 {
		return nil, apperrors.NewInvalidArgumentError("blend profile " + string(blend) + " has no usable lanes")
	}
	for lane, w := range weights {
		weights[lane] = w / total
	}
	return weights, nil
}

// laneWeights drops lanes the request cannot run and renormalises the rest
func (b *HybridBlender) laneWeights(req strategies.Request) (map[entities.Lane]float64, error) {
	weights, err := b.Weights(req.Params.Blend, req.User.Authenticated())
	if err != nil {
		return nil, err
	}
	// similar needs an anchor product
	if req.Params.ProductID == "" {
		delete(weights, entities.LaneSimilar)
	}
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return nil, apperrors.NewInvalidArgumentError("blend " + string(req.Params.Blend) + " needs a product id")
	}
	for lane, w := range weights {
		weights[lane] = w / total
	}
	return weights, nil
}

// mergeMargin is the time kept back from the caller's deadline for merging
// completed lanes
func mergeMargin(remaining time.Duration) time.Duration {
	m := remaining / 10
	switch {
	case m < time.Millisecond:
		return time.Millisecond
	case m > 50*time.Millisecond:
		return 50 * time.Millisecond
	}
	return m
}

type laneResult struct {
	lane   entities.Lane
	weight float64
	result *entities.StrategyResult
}

// Blend runs the weighted lanes in parallel and merges their results.
// Lanes are gathered until shortly before the ctx deadline; lanes still
// running then are abandoned and the completed ones are returned as a
// partial list while the caller is still waiting.
func (b *HybridBlender) Blend(ctx context.Context, req strategies.Request) (*entities.RankedList, error) {
	ctx, span := observability.StartSpan(ctx, "HybridBlender.Blend")
	defer span.End()

	weights, err := b.laneWeights(req)
	if err != nil {
		return nil, err
	}
	observability.SetSpanAttributes(span, attribute.String("blend", string(req.Params.Blend)), attribute.Int("lanes", len(weights)))

	laneParams := req.Params
	laneParams.Limit = (req.Params.Limit + req.Params.Offset) * 2
	laneParams.Offset = 0
	laneParams.Blend = ""
	laneParams.ResetTracker = false

	var (
		mu      sync.Mutex
		done    []laneResult
		partial bool
	)

	gatherCtx := ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		gatherCtx, cancel = context.WithDeadline(ctx, deadline.Add(-mergeMargin(time.Until(deadline))))
		defer cancel()
	}

	g, gctx := errgroup.WithContext(gatherCtx)
	for _, lane := range entities.Lanes {
		w, ok := weights[lane]
		if !ok {
			continue
		}
		g.Go(func() error {
			lctx, lspan := observability.StartSpan(gctx, "HybridBlender.lane."+string(lane))
			defer lspan.End()

			res, err := b.runner.Run(lctx, lane.Strategy(), strategies.Request{Params: laneParams, User: req.User, Lane: true})
			if err != nil {
				if apperrors.Is(err, apperrors.ErrorTypeDeadlineExceeded) {
					mu.Lock()
					partial = true
					mu.Unlock()
					return nil
				}
				observability.RecordError(lspan, err)
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			if res.Unavailable() {
				partial = true
			}
			done = append(done, laneResult{lane: lane, weight: w, result: res})
			return nil
		})
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- g.Wait() }()

	select {
	case err := <-waitErr:
		if err != nil {
			return nil, err
		}
	case <-gatherCtx.Done():
		mu.Lock()
		partial = true
		mu.Unlock()
		b.logger.Warn().Err(gatherCtx.Err()).Msg("Blend deadline reached, returning completed lanes")
	}

	mu.Lock()
	completed := append([]laneResult(nil), done...)
	isPartial := partial
	mu.Unlock()

	if len(completed) == 0 && gatherCtx.Err() != nil {
		return nil, apperrors.FromContext(gatherCtx)
	}

	return &entities.RankedList{
		Strategy:    entities.StrategyHybrid,
		Items:       entities.Page(merge(completed), req.Params.Offset, req.Params.Limit),
		Partial:     isPartial,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

type blendedItem struct {
	id       string
	score    float64
	trending float64
	lanes    []string
}

// merge sums min-max normalised, weighted lane scores per product
func merge(results []laneResult) []entities.RankedItem {
	// lanes are merged in profile order so explanations are stable
	sort.Slice(results, func(i, j int) bool { return laneIndex(results[i].lane) < laneIndex(results[j].lane) })

	byID := make(map[string]*blendedItem)
	for _, lr := range results {
		norm := NormalizeScores(lr.result.Items)
		for i, it := range lr.result.Items {
			bi, ok := byID[it.ProductID]
			if !ok {
				bi = &blendedItem{id: it.ProductID}
				byID[it.ProductID] = bi
			}
			bi.score += lr.weight * norm[i]
			bi.trending = math.Max(bi.trending, it.TrendingScore)
			bi.lanes = append(bi.lanes, string(lr.lane))
		}
	}

	blended := make([]*blendedItem, 0, len(byID))
	for _, bi := range byID {
		blended = append(blended, bi)
	}
	sort.Slice(blended, func(i, j int) bool {
		a, b := blended[i], blended[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if len(a.lanes) != len(b.lanes) {
			return len(a.lanes) > len(b.lanes)
		}
		if a.trending != b.trending {
			return a.trending > b.trending
		}
		return a.id < b.id
	})

	items := make([]entities.RankedItem, len(blended))
	for i, bi := range blended {
		items[i] = entities.RankedItem{
			ProductID:     bi.id,
			Score:         bi.score,
			Reason:        entities.ReasonHybrid,
			Explanation:   "Picked from " + strings.Join(bi.lanes, ", "),
			TrendingScore: bi.trending,
			Lanes:         bi.lanes,
		}
	}
	return items
}

// NormalizeScores min-max scales item scores to [0,1]. A lane whose items
// all share one score maps every item to 0.5.
func NormalizeScores(items []entities.RankedItem) []float64 {
	out := make([]float64, len(items))
	if len(items) == 0 {
		return out
	}
	lo, hi := items[0].Score, items[0].Score
	for _, it := range items[1:] {
		lo = math.Min(lo, it.Score)
		hi = math.Max(hi, it.Score)
	}
	spread := hi - lo
	for i, it := range items {
		if spread == 0 {
			out[i] = 0.5
			continue
		}
		out[i] = (it.Score - lo) / spread
	}
	return out
}

func laneIndex(l entities.Lane) int {
	for i, lane := range entities.Lanes {
		if lane == l {
			return i
		}
	}
	return len(entities.Lanes)
}
