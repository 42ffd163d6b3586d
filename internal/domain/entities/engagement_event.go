package entities

import (
	"time"

	"github.com/google/uuid"
)

// EngagementEventKind is the kind of event consumed by the invalidation router
type EngagementEventKind string

const (
	EventView             EngagementEventKind = "view"
	EventUpvote           EngagementEventKind = "upvote"
	EventBookmark         EngagementEventKind = "bookmark"
	EventComment          EngagementEventKind = "comment"
	EventProductPublished EngagementEventKind = "product-published"
	EventProductUpdated   EngagementEventKind = "product-updated"
)

// Valid reports whether k is a known event kind
func (k EngagementEventKind) Valid() bool {
	switch k {
	case EventView, EventUpvote, EventBookmark, EventComment, EventProductPublished, EventProductUpdated:
		return true
	}
	return false
}

// InteractionKind maps the event to an interaction kind. ok is false for
// product lifecycle events.
func (k EngagementEventKind) InteractionKind() (InteractionKind, bool) {
	switch k {
	case EventView:
		return InteractionView, true
	case EventUpvote:
		return InteractionUpvote, true
	case EventBookmark:
		return InteractionBookmark, true
	case EventComment:
		return InteractionComment, true
	}
	return "", false
}

// EngagementEvent is a write-path event that may invalidate cached rankings
type EngagementEvent struct {
	ID         string              `json:"id"`
	Kind       EngagementEventKind `json:"kind"`
	UserID     string              `json:"user_id,omitempty"`
	ClientID   string              `json:"client_id,omitempty"`
	ProductID  string              `json:"product_id,omitempty"`
	CategoryID string              `json:"category_id,omitempty"`
	Tags       []string            `json:"tags,omitempty"`
	Bot        bool                `json:"bot,omitempty"`
	At         time.Time           `json:"at"`

	// set on product-updated when the slug or category changed
	PreviousSlug       string   `json:"previous_slug,omitempty"`
	PreviousCategoryID string   `json:"previous_category_id,omitempty"`
	PreviousTags       []string `json:"previous_tags,omitempty"`
}

// NewEngagementEvent creates an event with a fresh ID
func NewEngagementEvent(kind EngagementEventKind, userID, productID string, at time.Time) *EngagementEvent {
	return &EngagementEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		UserID:    userID,
		ProductID: productID,
		At:        at,
	}
}

// Interaction converts an engagement event into an interaction record
func (e *EngagementEvent) Interaction() (*Interaction, bool) {
	kind, ok := e.Kind.InteractionKind()
	if !ok {
		return nil, false
	}
	return &Interaction{
		ID:        e.ID,
		UserID:    e.UserID,
		ClientID:  e.ClientID,
		ProductID: e.ProductID,
		Kind:      kind,
		Bot:       e.Bot,
		At:        e.At,
	}, true
}
