package entities

import "strings"

// Strategy identifies a ranking procedure
type Strategy string

const (
	StrategyTrending      Strategy = "trending"
	StrategyNew           Strategy = "new"
	StrategySimilar       Strategy = "similar"
	StrategyPersonalized  Strategy = "personalized"
	StrategyCollaborative Strategy = "collaborative"
	StrategyCategory      Strategy = "category"
	StrategyTag           Strategy = "tag"
	StrategyPopular       Strategy = "popular"
	StrategyHybrid        Strategy = "hybrid"
)

// StrategySearch labels text-search results; it is not dispatchable
const StrategySearch Strategy = "search"

// Strategies lists every known strategy
var Strategies = []Strategy{
	StrategyTrending, StrategyNew, StrategySimilar, StrategyPersonalized, StrategyCollaborative,
	StrategyCategory, StrategyTag, StrategyPopular, StrategyHybrid,
}

// ParseStrategy parses a strategy name; ok is false when unknown
func ParseStrategy(s string) (Strategy, bool) {
	st := Strategy(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Strategies {
		if st == known {
			return st, true
		}
	}
	return "", false
}

// KeySegment returns the cache key segment for the strategy
func (s Strategy) KeySegment() string {
	switch s {
	case StrategyTrending:
		return "trend"
	case StrategyHybrid:
		return "feed"
	}
	return string(s)
}

// RequiresUser reports whether the strategy needs an authenticated user
func (s Strategy) RequiresUser() bool {
	return s == StrategyPersonalized || s == StrategyCollaborative
}

// Blend names a hybrid blend profile
type Blend string

const (
	BlendStandard  Blend = "standard"
	BlendDiscovery Blend = "discovery"
	BlendTrending  Blend = "trending"
)

// Lane is one strategy contributing to a hybrid blend
type Lane string

const (
	LaneTrending      Lane = "trending"
	LaneNew           Lane = "new"
	LanePersonalized  Lane = "personalized"
	LaneCollaborative Lane = "collaborative"
	LaneSimilar       Lane = "similar"
)

// Lanes lists the blend lanes in profile order
var Lanes = []Lane{LaneTrending, LaneNew, LanePersonalized, LaneCollaborative, LaneSimilar}

// Strategy returns the strategy backing the lane
func (l Lane) Strategy() Strategy {
	return Strategy(l)
}

// RequiresUser reports whether the lane needs an authenticated user
func (l Lane) RequiresUser() bool {
	return l.Strategy().RequiresUser()
}

// RecommendParams are the request parameters for a strategy
type RecommendParams struct {
	Limit      int      `json:"limit"`
	Offset     int      `json:"offset"`
	Days       int      `json:"days,omitempty"`
	CategoryID string   `json:"category_id,omitempty"`
	ProductID  string   `json:"product_id,omitempty"`
	MakerID    string   `json:"maker_id,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Blend      Blend    `json:"blend,omitempty"`

	// ResetTracker starts a new render cycle for the session before filtering
	ResetTracker bool `json:"reset_tracker,omitempty"`
}

// UserContext identifies the caller
type UserContext struct {
	UserID    string `json:"user_id,omitempty"`
	VisitorID string `json:"visitor_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Authenticated reports whether the caller is signed in
func (u UserContext) Authenticated() bool {
	return u.UserID != ""
}
