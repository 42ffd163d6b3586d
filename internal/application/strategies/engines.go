// Package strategies implements the candidate-generating ranking engines.
// Each engine reads through the CandidateRepository, scores with the
// scoring package and returns a StrategyResult. Storage outages degrade to
// an empty result tagged unavailable instead of an error.
package strategies

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/zatekoja/discoveryrank/backend/internal/application/scoring"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/providers"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/repositories"
	"github.com/zatekoja/discoveryrank/backend/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/discoveryrank/backend/pkg/errors"
)

// Request is the input to a strategy engine
type Request struct {
	Params entities.RecommendParams
	User   entities.UserContext

	// Lane marks a request made for one lane of a blend
	Lane bool
}

// Engine produces a ranked result for one strategy
type Engine func(ctx context.Context, req Request) (*entities.StrategyResult, error)

// Config configures the strategy engines
type Config struct {
	DefaultDays       int
	CandidateLimit    int // page size for candidate reads
	MaxCandidates     int
	HistoryDays       int
	Collaborators     int
	TieBreaks         []string
	CollabFanout      int
	PopularWindowDays int
}

// DefaultConfig returns the standard engine configuration
func DefaultConfig() Config {
	return Config{
		DefaultDays:       7,
		CandidateLimit:    500,
		MaxCandidates:     20000,
		HistoryDays:       90,
		Collaborators:     25,
		TieBreaks:         scoring.DefaultTieBreaks,
		CollabFanout:      8,
		PopularWindowDays: 30,
	}
}

// Engines holds the strategy engines and their dispatch table
type Engines struct {
	repo   repositories.CandidateRepository
	cfg    Config
	tb     *scoring.TieBreaker
	now    providers.Clock
	table  map[entities.Strategy]Engine
	logger zerolog.Logger
}

// NewEngines creates the strategy engines
func NewEngines(repo repositories.CandidateRepository, cfg Config, now providers.Clock) *Engines {
	def := DefaultConfig()
	if cfg.DefaultDays <= 0 {
		cfg.DefaultDays = def.DefaultDays
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = def.CandidateLimit
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = def.HistoryDays
	}
	if cfg.Collaborators <= 0 {
		cfg.Collaborators = def.Collaborators
	}
	if cfg.CollabFanout <= 0 {
		cfg.CollabFanout = def.CollabFanout
	}
	if cfg.PopularWindowDays <= 0 {
		cfg.PopularWindowDays = def.PopularWindowDays
	}
	if now == nil {
		now = time.Now
	}

	e := &Engines{
		repo:   repo,
		cfg:    cfg,
		tb:     scoring.NewTieBreaker(cfg.TieBreaks),
		now:    now,
		logger: observability.ComponentLogger("strategies"),
	}
	e.table = map[entities.Strategy]Engine{
		entities.StrategyTrending:      e.Trending,
		entities.StrategyNew:           e.New,
		entities.StrategySimilar:       e.Similar,
		entities.StrategyPersonalized:  e.Personalized,
		entities.StrategyCollaborative: e.Collaborative,
		entities.StrategyCategory:      e.Category,
		entities.StrategyTag:           e.Tag,
		entities.StrategyPopular:       e.Popular,
	}
	return e
}

// Lookup returns the engine for a strategy
func (e *Engines) Lookup(s entities.Strategy) (Engine, bool) {
	eng, ok := e.table[s]
	return eng, ok
}

// Run dispatches a request to the engine for s
func (e *Engines) Run(ctx context.Context, s entities.Strategy, req Request) (*entities.StrategyResult, error) {
	eng, ok := e.Lookup(s)
	if !ok {
		return nil, apperrors.NewInvalidArgumentError("unknown strategy: " + string(s))
	}
	return eng(ctx, req)
}

// Now returns the engines' clock reading
func (e *Engines) Now() time.Time {
	return e.now()
}

func (e *Engines) days(p entities.RecommendParams) int {
	if p.Days > 0 {
		return p.Days
	}
	return e.cfg.DefaultDays
}

// degrade converts storage outages into an empty unavailable result
func (e *Engines) degrade(s entities.Strategy, err error) (*entities.StrategyResult, error) {
	if apperrors.Is(err, apperrors.ErrorTypeUnavailable) {
		e.logger.Warn().Err(err).Str("strategy", string(s)).Msg("Candidate store unavailable, returning empty result")
		return &entities.StrategyResult{Strategy: s, Items: []entities.RankedItem{}, Reason: entities.ReasonUnavailable}, nil
	}
	return nil, err
}

// listAll pages through every published product matching filter. The
// store's order is only a pre-order, so no page may be skipped before
// rescoring. Reads stop at MaxCandidates.
func (e *Engines) listAll(ctx context.Context, filter repositories.ListFilter) ([]*entities.Product, error) {
	filter.Limit = e.cfg.CandidateLimit
	var out []*entities.Product
	for offset := 0; ; offset += filter.Limit {
		filter.Offset = offset
		page, err := e.repo.ListPublished(ctx, filter)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < filter.Limit {
			return out, nil
		}
		if len(out) >= e.cfg.MaxCandidates {
			e.logger.Warn().Int("candidates", len(out)).Msg("Candidate cap reached, ranking a truncated window")
			return out, nil
		}
		if err := apperrors.FromContext(ctx); err != nil {
			return nil, err
		}
	}
}

func published(products []*entities.Product) []*entities.Product {
	out := products[:0:0]
	for _, p := range products {
		if p != nil && p.IsPublished() {
			out = append(out, p)
		}
	}
	return out
}

// scoredProduct pairs a product with a strategy score and explanation
type scoredProduct struct {
	product     *entities.Product
	score       float64
	trending    float64
	explanation string
}

// rank orders scored products with the tie-breaker and returns the page
func (e *Engines) rank(scored []scoredProduct, reason string, p entities.RecommendParams) []entities.RankedItem {
	cands := make([]scoring.Candidate, len(scored))
	byID := make(map[string]scoredProduct, len(scored))
	for i, s := range scored {
		cands[i] = scoring.Candidate{
			ID:        s.product.ID,
			Score:     s.score,
			Upvotes:   s.product.Engagement.Upvotes,
			CreatedAt: s.product.CreatedAt,
		}
		byID[s.product.ID] = s
	}
	e.tb.Sort(cands)

	items := make([]entities.RankedItem, 0, len(cands))
	for _, c := range cands {
		s := byID[c.ID]
		items = append(items, entities.RankedItem{
			ProductID:     c.ID,
			Score:         s.score,
			Reason:        reason,
			Explanation:   s.explanation,
			TrendingScore: s.trending,
		})
	}
	return entities.Page(items, p.Offset, p.Limit)
}
