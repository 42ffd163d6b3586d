package providers

import (
	"context"

	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
)

// Delivery is one event received from the queue. Ack must be called once
// the event has been routed; unacknowledged events are redelivered.
type Delivery struct {
	Event *entities.EngagementEvent
	Ack   func(ctx context.Context) error
}

// EngagementQueue is the single-consumer, at-least-once event stream feeding
// cache invalidation
type EngagementQueue interface {
	// Enqueue publishes an event
	Enqueue(ctx context.Context, event *entities.EngagementEvent) error

	// Consume starts delivering events until ctx is cancelled
	Consume(ctx context.Context) (<-chan Delivery, error)

	// Close releases queue resources
	Close() error
}
