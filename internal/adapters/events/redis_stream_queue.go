package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/providers"
	redisclient "github.com/zatekoja/discoveryrank/backend/internal/infrastructure/clients/redis"
	"github.com/zatekoja/discoveryrank/backend/internal/infrastructure/observability"
)

const (
	eventField       = "event"
	defaultBlock     = 5 * time.Second
	defaultBatch     = 64
	defaultMaxLen    = 100000
	readErrorBackoff = time.Second
)

// StreamConfig configures the Redis Streams queue
type StreamConfig struct {
	Stream   string
	Group    string
	Consumer string
	Block    time.Duration
	Batch    int64
	MaxLen   int64
}

// RedisStreamQueue implements EngagementQueue over a Redis stream and
// consumer group. Delivery is at least once: entries stay pending until
// acknowledged and are re-read from the pending list on restart.
type RedisStreamQueue struct {
	client *redisclient.Client
	cfg    StreamConfig
	logger zerolog.Logger

	mu        sync.Mutex
	consuming bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewRedisStreamQueue creates a new Redis Streams engagement queue
func NewRedisStreamQueue(client *redisclient.Client, cfg StreamConfig) *RedisStreamQueue {
	if cfg.Stream == "" {
		cfg.Stream = "rec:events"
	}
	if cfg.Group == "" {
		cfg.Group = "invalidator"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "ranker"
	}
	if cfg.Block <= 0 {
		cfg.Block = defaultBlock
	}
	if cfg.Batch <= 0 {
		cfg.Batch = defaultBatch
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = defaultMaxLen
	}
	return &RedisStreamQueue{
		client: client,
		cfg:    cfg,
		logger: observability.ComponentLogger("engagement_queue"),
	}
}

// Enqueue appends an event to the stream
func (q *RedisStreamQueue) Enqueue(ctx context.Context, event *entities.EngagementEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = q.client.Client().XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Stream,
		MaxLen: q.cfg.MaxLen,
		Approx: true,
		Values: map[string]interface{}{eventField: data},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	q.logger.Debug().Str("stream", q.cfg.Stream).Str("event_id", event.ID).Msg("Published engagement event")
	return nil
}

// Consume creates the consumer group if needed and starts delivering
// entries. Pending entries of this consumer are delivered first.
func (q *RedisStreamQueue) Consume(ctx context.Context) (<-chan providers.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.consuming {
		return nil, errors.New("engagement queue already has a consumer")
	}

	err := q.client.Client().XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	q.consuming = true
	q.cancel = cancel
	q.done = make(chan struct{})

	out := make(chan providers.Delivery, q.cfg.Batch)
	go q.read(ctx, out)

	q.logger.Info().Str("stream", q.cfg.Stream).Str("group", q.cfg.Group).Str("consumer", q.cfg.Consumer).Msg("Consuming engagement events")
	return out, nil
}

func (q *RedisStreamQueue) read(ctx context.Context, out chan<- providers.Delivery) {
	defer close(q.done)
	defer close(out)

	// "0" replays this consumer's pending entries, ">" reads new ones
	cursor := "0"
	for ctx.Err() == nil {
		streams, err := q.client.Client().XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.cfg.Group,
			Consumer: q.cfg.Consumer,
			Streams:  []string{q.cfg.Stream, cursor},
			Count:    q.cfg.Batch,
			Block:    q.cfg.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			cursor = ">"
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.logger.Warn().Err(err).Str("stream", q.cfg.Stream).Msg("Failed to read engagement events")
			select {
			case <-time.After(readErrorBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}

		delivered, last := 0, ""
		for _, s := range streams {
			for _, msg := range s.Messages {
				delivered++
				last = msg.ID
				d, ok := q.delivery(ctx, msg)
				if !ok {
					continue
				}
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
		cursor = nextCursor(cursor, last, delivered)
	}
}

// nextCursor walks the pending list past the last replayed entry and
// switches to new entries once a replay page comes back empty
func nextCursor(cursor, last string, delivered int) string {
	if cursor == ">" {
		return cursor
	}
	if delivered == 0 || last == "" {
		return ">"
	}
	return last
}

// delivery decodes a stream entry. Undecodable entries are acknowledged and
// dropped so they are not redelivered forever.
func (q *RedisStreamQueue) delivery(ctx context.Context, msg redis.XMessage) (providers.Delivery, bool) {
	event, err := DecodeMessage(msg)
	if err != nil {
		q.logger.Warn().Err(err).Str("entry_id", msg.ID).Msg("Dropping undecodable engagement event")
		if err := q.ack(ctx, msg.ID); err != nil {
			q.logger.Warn().Err(err).Str("entry_id", msg.ID).Msg("Failed to acknowledge dropped event")
		}
		return providers.Delivery{}, false
	}

	id := msg.ID
	return providers.Delivery{
		Event: event,
		Ack: func(ctx context.Context) error {
			return q.ack(ctx, id)
		},
	}, true
}

func (q *RedisStreamQueue) ack(ctx context.Context, id string) error {
	return q.client.Client().XAck(ctx, q.cfg.Stream, q.cfg.Group, id).Err()
}

// Close stops the consumer and waits for the reader to exit
func (q *RedisStreamQueue) Close() error {
	q.mu.Lock()
	cancel, done := q.cancel, q.done
	q.consuming = false
	q.cancel = nil
	q.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

// DecodeMessage extracts the engagement event from a stream entry. Entries
// without an event ID take the stream entry ID.
func DecodeMessage(msg redis.XMessage) (*entities.EngagementEvent, error) {
	raw, ok := msg.Values[eventField]
	if !ok {
		return nil, fmt.Errorf("stream entry %s has no %q field", msg.ID, eventField)
	}

	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return nil, fmt.Errorf("stream entry %s has unexpected %T payload", msg.ID, raw)
	}

	var event entities.EngagementEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if !event.Kind.Valid() {
		return nil, fmt.Errorf("stream entry %s has unknown kind %q", msg.ID, event.Kind)
	}
	if event.ID == "" {
		event.ID = msg.ID
	}
	return &event, nil
}
