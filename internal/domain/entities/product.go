package entities

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ProductStatus represents the lifecycle state of a product
type ProductStatus string

const (
	ProductStatusDraft     ProductStatus = "draft"
	ProductStatusPublished ProductStatus = "published"
	ProductStatusArchived  ProductStatus = "archived"
)

const (
	// MaxTags is the number of tags retained on a product
	MaxTags = 10

	// MaxViewHistory is the number of daily view buckets retained
	MaxViewHistory = 90
)

// Product represents a listed product with its engagement record
type Product struct {
	ID           string        `json:"id" db:"id"`
	Slug         string        `json:"slug" db:"slug"`
	Name         string        `json:"name" db:"name"`
	Tagline      string        `json:"tagline" db:"tagline"`
	Description  string        `json:"description" db:"description"`
	Tags         []string      `json:"tags" db:"tags"`
	CategoryID   string        `json:"category_id" db:"category_id"`
	CategoryName string        `json:"category_name" db:"category_name"`
	MakerID      string        `json:"maker_id" db:"maker_id"`
	Featured     bool          `json:"featured" db:"featured"`
	Status       ProductStatus `json:"status" db:"status"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
	LaunchedAt   *time.Time    `json:"launched_at,omitempty" db:"launched_at"`
	Engagement   Engagement    `json:"engagement"`
}

// Engagement holds the telemetry used for ranking
type Engagement struct {
	Views     ViewStats `json:"views"`
	Upvotes   int64     `json:"upvotes"`
	Bookmarks int64     `json:"bookmarks"`
	Comments  int64     `json:"comments"`

	// recommendation telemetry
	Impressions       int64      `json:"impressions"`
	Clicks            int64      `json:"clicks"`
	LastRecommendedAt *time.Time `json:"last_recommended_at,omitempty"`
}

// ViewStats holds the view counters and daily history, newest day first
type ViewStats struct {
	Count   int64     `json:"count"`
	Unique  int64     `json:"unique"`
	History []ViewDay `json:"history"`
}

// ViewDay is the view count for one calendar day (UTC)
type ViewDay struct {
	Date  time.Time `json:"date"`
	Count int64     `json:"count"`
}

// IsPublished reports whether the product is publicly listed
func (p *Product) IsPublished() bool {
	return p.Status == ProductStatusPublished
}

// Publish transitions the product to Published. LaunchedAt is set on the
// first transition only.
func (p *Product) Publish(now time.Time) {
	p.Status = ProductStatusPublished
	if p.LaunchedAt == nil {
		launched := now
		p.LaunchedAt = &launched
	}
}

// HasTag reports whether the product carries the tag (case-insensitive)
func (p *Product) HasTag(tag string) bool {
	tag = strings.ToLower(tag)
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// RecordView increments the view counters and the day bucket for at.
// unique must come from CountsUniqueView.
func (e *Engagement) RecordView(at time.Time, unique bool) {
	e.Views.Count++
	if unique {
		e.Views.Unique++
	}
	if e.Views.Unique > e.Views.Count {
		e.Views.Unique = e.Views.Count
	}

	day := TruncateDay(at)
	for i := range e.Views.History {
		if e.Views.History[i].Date.Equal(day) {
			e.Views.History[i].Count++
			return
		}
	}

	e.Views.History = append(e.Views.History, ViewDay{Date: day, Count: 1})
	sort.SliceStable(e.Views.History, func(i, j int) bool {
		return e.Views.History[i].Date.After(e.Views.History[j].Date)
	})
	if len(e.Views.History) > MaxViewHistory {
		e.Views.History = e.Views.History[:MaxViewHistory]
	}
}

// RecentViews sums the history buckets within the last days days of now
func (e *Engagement) RecentViews(now time.Time, days int) int64 {
	cutoff := TruncateDay(now).AddDate(0, 0, -days)
	var total int64
	for _, d := range e.Views.History {
		if d.Date.After(cutoff) {
			total += d.Count
		}
	}
	return total
}

// TruncateDay returns t truncated to the start of its UTC day
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NormalizeTags lowercases, trims and deduplicates tags, keeping at most MaxTags
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == MaxTags {
			break
		}
	}
	return out
}

// CoerceCount converts a storage observation into a non-negative count.
// The second return value is false when the input was not numeric; the
// count is then 0 and callers should log a warning.
func CoerceCount(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, true
	case int:
		return clampCount(float64(n))
	case int32:
		return clampCount(float64(n))
	case int64:
		if n < 0 {
			return 0, true
		}
		return n, true
	case uint32:
		return int64(n), true
	case uint64:
		return clampCount(float64(n))
	case float32:
		return clampCount(float64(n))
	case float64:
		return clampCount(n)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return clampCount(f)
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return clampCount(f)
	default:
		return 0, false
	}
}

func clampCount(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if f < 0 {
		return 0, true
	}
	return int64(f), true
}
