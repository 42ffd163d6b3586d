package entities

import "time"

// InteractionKind is the kind of engagement a user has with a product
type InteractionKind string

const (
	InteractionView     InteractionKind = "view"
	InteractionUpvote   InteractionKind = "upvote"
	InteractionBookmark InteractionKind = "bookmark"
	InteractionComment  InteractionKind = "comment"
)

// AllInteractionKinds lists every interaction kind
var AllInteractionKinds = []InteractionKind{
	InteractionView, InteractionUpvote, InteractionBookmark, InteractionComment,
}

// IsToggle reports whether at most one interaction of this kind counts per user and product
func (k InteractionKind) IsToggle() bool {
	return k == InteractionUpvote || k == InteractionBookmark
}

// Valid reports whether k is a known kind
func (k InteractionKind) Valid() bool {
	switch k {
	case InteractionView, InteractionUpvote, InteractionBookmark, InteractionComment:
		return true
	}
	return false
}

// Interaction is a single engagement by a user or anonymous client
type Interaction struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id,omitempty" db:"user_id"`
	ClientID  string          `json:"client_id,omitempty" db:"client_id"`
	ProductID string          `json:"product_id" db:"product_id"`
	Kind      InteractionKind `json:"kind" db:"kind"`
	Bot       bool            `json:"bot" db:"bot"`
	At        time.Time       `json:"at" db:"at"`
}

// Anonymous reports whether the interaction has no user
func (i *Interaction) Anonymous() bool {
	return i.UserID == ""
}

// CountsUniqueView reports whether a view should increment the unique
// counter. priorView is whether a non-bot view by the same user (or the
// same clientId when anonymous) already exists for the product. A
// logged-in user and an anonymous clientId are separate identities.
func CountsUniqueView(view *Interaction, priorView bool) bool {
	if view == nil || view.Kind != InteractionView || view.Bot || priorView {
		return false
	}
	if view.UserID != "" {
		return true
	}
	return view.ClientID != ""
}
