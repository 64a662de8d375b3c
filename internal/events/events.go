// Package events publishes ingestion events to Redis pub/sub.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tenderfeed/tender-cli/internal/model"
)

// Event types.
const (
	TypeTenderUpserted = "tender.upserted"
	TypeRunFinished    = "ingestion.run_finished"
)

// Event is the JSON envelope sent on the events channel.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data"`
}

// New stamps an event with a fresh id and the current time.
func New(eventType string, data any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// TenderUpserted is the payload of a tender.upserted event.
type TenderUpserted struct {
	RunID      int64  `json:"runId,omitempty"`
	ReleaseID  string `json:"releaseId"`
	TenderID   string `json:"tenderId"`
	OCID       string `json:"ocid"`
	MatchScore *int   `json:"matchScore"`
}

// RunFinished is the payload of an ingestion.run_finished event.
type RunFinished struct {
	model.RunResult
	Source model.RunSource `json:"source"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// redisClient is the subset of *redis.Client used for publishing.
type redisClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Close() error
}

// RedisPublisher publishes events on one pub/sub channel.
type RedisPublisher struct {
	client  redisClient
	channel string
}

// NewRedisPublisher connects to redisURL and verifies the connection.
func NewRedisPublisher(ctx context.Context, redisURL, channel string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, eris.Wrap(err, "events: parse redis url")
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrap(err, "events: redis ping")
	}

	zap.L().Info("events: publishing to redis", zap.String("channel", channel))
	return &RedisPublisher{client: rdb, channel: channel}, nil
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrapf(err, "events: marshal %s", ev.Type)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return eris.Wrapf(err, "events: publish %s", ev.Type)
	}
	return nil
}

// Close releases the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// Emit publishes ev and logs instead of returning a failure. Event delivery
// never affects the caller's outcome.
func Emit(ctx context.Context, pub Publisher, ev Event) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, ev); err != nil {
		zap.L().Warn("events: publish failed",
			zap.String("type", ev.Type),
			zap.String("event_id", ev.ID),
			zap.Error(err),
		)
	}
}
