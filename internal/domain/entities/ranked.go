package entities

import "time"

// Reason tags attached to ranked items and strategy results
const (
	ReasonTrending      = "trending"
	ReasonNew           = "new"
	ReasonSimilar       = "similar"
	ReasonPersonalized  = "personalized"
	ReasonCollaborative = "collaborative"
	ReasonCategory      = "category"
	ReasonTag           = "tag"
	ReasonPopular       = "popular"
	ReasonHybrid        = "hybrid"
	ReasonSearch        = "search"
	ReasonUnavailable   = "unavailable"
)

// RankedItem is one product reference in a ranked result
type RankedItem struct {
	ProductID     string   `json:"product_id"`
	Score         float64  `json:"score"`
	Reason        string   `json:"reason"`
	Explanation   string   `json:"explanation,omitempty"`
	TrendingScore float64  `json:"trending_score,omitempty"`
	Lanes         []string `json:"lanes,omitempty"`
}

// StrategyResult is the output of a single strategy engine. Scores are only
// comparable within one result.
type StrategyResult struct {
	Strategy Strategy     `json:"strategy"`
	Items    []RankedItem `json:"items"`

	// Reason is ReasonUnavailable when storage could not be reached
	Reason string `json:"reason,omitempty"`
}

// Unavailable reports whether the engine degraded to an empty result
func (r *StrategyResult) Unavailable() bool {
	return r.Reason == ReasonUnavailable
}

// RankedList is the value returned to callers and stored in the cache
type RankedList struct {
	Strategy    Strategy     `json:"strategy"`
	Items       []RankedItem `json:"items"`
	Partial     bool         `json:"partial,omitempty"`
	FallbackOf  Strategy     `json:"fallback_of,omitempty"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// ProductIDs returns the item identifiers in rank order
func (l *RankedList) ProductIDs() []string {
	ids := make([]string, len(l.Items))
	for i, it := range l.Items {
		ids[i] = it.ProductID
	}
	return ids
}

// Page applies offset and limit to items
func Page(items []RankedItem, offset, limit int) []RankedItem {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []RankedItem{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
