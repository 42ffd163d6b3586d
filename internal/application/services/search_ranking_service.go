package services

import (
	"strings"
	"time"

	"github.com/zatekoja/discoveryrank/backend/internal/application/scoring"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/providers"
)

const (
	defaultSearchMinScore = 0.1
	searchExplanations    = 2
)

// ScoredResult is a product with its best relevance across query expansions
type ScoredResult struct {
	Product        *entities.Product
	Score          float64
	ScoreBreakdown map[string]float64
	MatchedQuery   string
	Explanation    string
}

// SearchRankingService scores candidates against an expanded query
type SearchRankingService struct {
	scorer    *scoring.RelevanceScorer
	expansion *TermExpansionService
	tb        *scoring.TieBreaker
	minScore  float64
	now       providers.Clock
}

// NewSearchRankingService creates a new search ranking service
func NewSearchRankingService(scorer *scoring.RelevanceScorer, expansion *TermExpansionService, tieBreaks []string, minScore float64, now providers.Clock) *SearchRankingService {
	if minScore < 0 {
		minScore = defaultSearchMinScore
	}
	if now == nil {
		now = time.Now
	}
	return &SearchRankingService{
		scorer:    scorer,
		expansion: expansion,
		tb:        scoring.NewTieBreaker(tieBreaks),
		minScore:  minScore,
		now:       now,
	}
}

// Rank scores every candidate against each expansion of query, keeps the
// best per candidate and returns those at or above the minimum score,
// highest first
func (s *SearchRankingService) Rank(query string, candidates []*entities.Product) []ScoredResult {
	if len(candidates) == 0 || strings.TrimSpace(query) == "" {
		return nil
	}

	expansions := []string{strings.ToLower(strings.TrimSpace(query))}
	if s.expansion != nil {
		expansions = s.expansion.Expand(query, Vocabulary(candidates))
	}

	now := s.now()
	byID := make(map[string]ScoredResult, len(candidates))
	cands := make([]scoring.Candidate, 0, len(candidates))
	for _, p := range candidates {
		if p == nil {
			continue
		}
		if _, dup := byID[p.ID]; dup {
			continue
		}
		best, matched := scoring.Relevance{}, ""
		for _, q := range expansions {
			if rel := s.scorer.Score(q, p, now); rel.Total > best.Total {
				best, matched = rel, q
			}
		}
		if best.Total < s.minScore || best.Total == 0 {
			continue
		}

		breakdown := make(map[string]float64, len(best.Fields)+1)
		for f, v := range best.Fields {
			breakdown[f] = v
		}
		breakdown["boost"] = best.Boost

		explanations := best.Explanations
		if len(explanations) > searchExplanations {
			explanations = explanations[:searchExplanations]
		}
		byID[p.ID] = ScoredResult{
			Product:        p,
			Score:          best.Total,
			ScoreBreakdown: breakdown,
			MatchedQuery:   matched,
			Explanation:    strings.Join(explanations, "; "),
		}
		cands = append(cands, scoring.Candidate{ID: p.ID, Score: best.Total, Upvotes: p.Engagement.Upvotes, CreatedAt: p.CreatedAt})
	}

	s.tb.Sort(cands)
	scored := make([]ScoredResult, len(cands))
	for i, c := range cands {
		scored[i] = byID[c.ID]
	}
	return scored
}

// RankedItems converts scored results into ranked items
func RankedItems(results []ScoredResult) []entities.RankedItem {
	items := make([]entities.RankedItem, len(results))
	for i, r := range results {
		items[i] = entities.RankedItem{
			ProductID:   r.Product.ID,
			Score:       r.Score,
			Reason:      entities.ReasonSearch,
			Explanation: r.Explanation,
		}
	}
	return items
}

// Vocabulary collects the lowercased words of the candidates' searchable
// fields
func Vocabulary(candidates []*entities.Product) map[string]struct{} {
	vocab := make(map[string]struct{})
	addWords := func(s string) {
		for _, w := range scoring.Tokenize(s) {
			vocab[w] = struct{}{}
		}
	}
	for _, p := range candidates {
		if p == nil {
			continue
		}
		addWords(p.Name)
		addWords(p.Tagline)
		addWords(p.CategoryName)
		for _, t := range p.Tags {
			vocab[strings.ToLower(t)] = struct{}{}
			addWords(t)
		}
	}
	return vocab
}
