package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/providers"
)

// Scored fields
const (
	FieldName         = "name"
	FieldTagline      = "tagline"
	FieldTags         = "tags"
	FieldCategoryName = "categoryName"
	FieldDescription  = "description"
)

// FieldType selects the similarity threshold applied to a field
type FieldType int

const (
	FieldTypeName FieldType = iota
	FieldTypeTag
	FieldTypeDescription
)

var fieldTypes = map[string]FieldType{
	FieldName:         FieldTypeName,
	FieldCategoryName: FieldTypeName,
	FieldTags:         FieldTypeTag,
	FieldTagline:      FieldTypeDescription,
	FieldDescription:  FieldTypeDescription,
}

// Thresholds are the minimum semantic similarities per field type
type Thresholds struct {
	Name        float64
	Tag         float64
	Description float64
}

// DefaultThresholds returns the standard thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{Name: 0.7, Tag: 0.6, Description: 0.8}
}

// nameSimilarityFloor applies to name-type fields without a substring relation
const nameSimilarityFloor = 0.8

const (
	maxExplanations   = 3
	recencyBonusDays  = 30.0
	recencyBonusScale = 3.0
	featuredBonus     = 6.0
)

// FieldScore is the best match found in one field
type FieldScore struct {
	Field       string
	Score       float64
	Explanation string
}

// Relevance is the search relevance of one product for one query
type Relevance struct {
	Total        float64
	FieldScore   float64
	Boost        float64
	Fields       map[string]float64
	Explanations []string
}

// RelevanceScorer computes weighted field matches plus engagement boosts
type RelevanceScorer struct {
	fields     []string
	weights    map[string]float64
	thresholds Thresholds
	sim        providers.Similarity
}

// NewRelevanceScorer creates a scorer. A nil similarity uses TokenSimilarity.
func NewRelevanceScorer(weights map[string]float64, thresholds Thresholds, sim providers.Similarity) *RelevanceScorer {
	if sim == nil {
		sim = providers.SimilarityFunc(TokenSimilarity)
	}
	fields := make([]string, 0, len(weights))
	for f := range weights {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return &RelevanceScorer{fields: fields, weights: weights, thresholds: thresholds, sim: sim}
}

// Score computes the relevance of p for query as of now. Boosts are only
// added when at least one field matched.
func (s *RelevanceScorer) Score(query string, p *entities.Product, now time.Time) Relevance {
	q := strings.ToLower(strings.TrimSpace(query))
	rel := Relevance{Fields: make(map[string]float64)}
	if q == "" || p == nil {
		return rel
	}

	var matches []FieldScore
	for _, field := range s.fields {
		weight := s.weights[field]
		if weight <= 0 {
			continue
		}
		best := s.scoreField(field, weight, q, p)
		if best.Score <= 0 {
			continue
		}
		rel.Fields[field] = best.Score
		rel.FieldScore += best.Score
		matches = append(matches, best)
	}
	if rel.FieldScore == 0 {
		return rel
	}

	e := p.Engagement
	rel.Boost += math.Min(float64(e.Upvotes)*0.3, 10)
	rel.Boost += math.Min(float64(e.Views.Count)*0.015, 5)
	if !p.CreatedAt.IsZero() {
		ageDays := now.Sub(p.CreatedAt).Hours() / 24
		if ageDays >= 0 && ageDays < recencyBonusDays {
			rel.Boost += recencyBonusScale * (1 - ageDays/recencyBonusDays)
		}
	}
	if p.Featured {
		rel.Boost += featuredBonus
	}
	rel.Total = rel.FieldScore + rel.Boost

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Field < matches[j].Field
	})
	for i := 0; i < len(matches) && i < maxExplanations; i++ {
		rel.Explanations = append(rel.Explanations, matches[i].Explanation)
	}
	return rel
}

func (s *RelevanceScorer) scoreField(field string, weight float64, q string, p *entities.Product) FieldScore {
	switch field {
	case FieldName:
		return s.matchValue(field, FieldTypeName, weight, q, p.Name)
	case FieldTagline:
		return s.matchValue(field, fieldTypes[field], weight, q, p.Tagline)
	case FieldCategoryName:
		return s.matchValue(field, FieldTypeName, weight, q, p.CategoryName)
	case FieldDescription:
		return s.matchValue(field, FieldTypeDescription, weight, q, p.Description)
	case FieldTags:
		best := FieldScore{Field: field}
		for _, tag := range p.Tags {
			if m := s.matchValue(field, FieldTypeTag, weight, q, tag); m.Score > best.Score {
				best = m
			}
		}
		return best
	}
	return FieldScore{Field: field}
}

// matchValue keeps the best of exact, substring, query-contains-field and
// semantic matches
func (s *RelevanceScorer) matchValue(field string, ft FieldType, weight float64, q, value string) FieldScore {
	v := strings.ToLower(strings.TrimSpace(value))
	out := FieldScore{Field: field}
	if v == "" {
		return out
	}

	label := fieldLabel(field, value)
	consider := func(score float64, explanation string) {
		if score > out.Score {
			out.Score = score
			out.Explanation = explanation
		}
	}

	if v == q {
		consider(weight, fmt.Sprintf("exact match on %s", label))
		return out
	}
	substring := false
	if strings.Contains(v, q) {
		substring = true
		consider(0.8*weight, fmt.Sprintf("%s contains %q", label, q))
	}
	if strings.Contains(q, v) {
		substring = true
		consider(0.7*weight, fmt.Sprintf("query mentions %s", label))
	}

	sim := s.sim.Similarity(q, v)
	if sim >= s.threshold(ft) && (ft != FieldTypeName || sim >= nameSimilarityFloor || substring) {
		consider(sim*weight, fmt.Sprintf("%s is similar to %q (%.2f)", label, q, sim))
	}
	return out
}

func (s *RelevanceScorer) threshold(ft FieldType) float64 {
	switch ft {
	case FieldTypeName:
		return s.thresholds.Name
	case FieldTypeTag:
		return s.thresholds.Tag
	}
	return s.thresholds.Description
}

func fieldLabel(field, value string) string {
	switch field {
	case FieldTags:
		return fmt.Sprintf("tag %q", value)
	case FieldCategoryName:
		return fmt.Sprintf("category %q", value)
	}
	return field
}
