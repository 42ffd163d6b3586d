package scoring

import (
	"sort"
	"time"
)

// Tie-break keys
const (
	TieBreakUpvotes   = "upvotes"
	TieBreakCreatedAt = "createdAt"
	TieBreakID        = "id"
)

// DefaultTieBreaks is the tie-break order used when none is configured
var DefaultTieBreaks = []string{TieBreakUpvotes, TieBreakCreatedAt, TieBreakID}

// Candidate is the minimal view of a scored product used for ordering
type Candidate struct {
	ID        string
	Score     float64
	Upvotes   int64
	CreatedAt time.Time
}

// TieBreaker orders candidates by score descending, then by its keys
type TieBreaker struct {
	order []string
}

// NewTieBreaker creates a tie-breaker. The id key is always appended when
// missing so the order is total.
func NewTieBreaker(order []string) *TieBreaker {
	if len(order) == 0 {
		order = DefaultTieBreaks
	}
	keys := make([]string, 0, len(order)+1)
	hasID := false
	for _, k := range order {
		keys = append(keys, k)
		if k == TieBreakID {
			hasID = true
		}
	}
	if !hasID {
		keys = append(keys, TieBreakID)
	}
	return &TieBreaker{order: keys}
}

// Less reports whether a ranks before b
func (t *TieBreaker) Less(a, b Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	for _, k := range t.order {
		switch k {
		case TieBreakUpvotes:
			if a.Upvotes != b.Upvotes {
				return a.Upvotes > b.Upvotes
			}
		case TieBreakCreatedAt:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
		case TieBreakID:
			if a.ID != b.ID {
				return a.ID < b.ID
			}
		}
	}
	return false
}

// Sort orders candidates in place
func (t *TieBreaker) Sort(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		return t.Less(cands[i], cands[j])
	})
}
