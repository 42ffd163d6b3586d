package repositories

import (
	"context"

	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
)

// EngagementRepository persists interactions on the write path
type EngagementRepository interface {
	// RecordView stores a view and increments the product counters. The
	// unique-view rule is applied atomically with the write; returns
	// whether the view counted as unique.
	RecordView(ctx context.Context, view *entities.Interaction) (bool, error)

	// Toggle flips an upvote or bookmark; returns whether it is now active
	Toggle(ctx context.Context, interaction *entities.Interaction) (bool, error)

	// Record stores a non-toggle interaction such as a comment
	Record(ctx context.Context, interaction *entities.Interaction) error
}
