package ports

import (
	"context"
	"time"

	"warga/contexts/emergency/siaga-service/domain/entities"
	"warga/internal/shared/events"
)

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

type Metrics interface {
	Add(ctx context.Context, counter string, delta int64, attrs map[string]string)
}

type Actor struct {
	ID          string
	DisplayName string
}

type CreateInput struct {
	BroadcastID  string
	Region       string
	Severity     entities.Severity
	Message      string
	RetentionTag string
}

// BroadcastStore persists siaga snapshots and their append-only timelines.
// The memory and postgres implementations share one conformance suite.
type BroadcastStore interface {
	Create(ctx context.Context, snapshot entities.SiagaBroadcast, firstEvent entities.TimelineEvent, dedupKeys []string) error
	Update(ctx context.Context, snapshot entities.SiagaBroadcast, event entities.TimelineEvent, dedupKey string) error
	Get(ctx context.Context, broadcastID string) (entities.SiagaBroadcast, bool, error)
	GetByDedupKey(ctx context.Context, key string) (entities.SiagaBroadcast, bool, error)
	ListByOwner(ctx context.Context, authorID string) ([]entities.SiagaBroadcast, error)
	ListTimeline(ctx context.Context, broadcastID string) ([]entities.TimelineEvent, error)
	Delete(ctx context.Context, broadcastID string) (bool, error)
}

type OutboxStore interface {
	AppendOutbox(ctx context.Context, envelope events.Envelope) error
	ListPendingOutbox(ctx context.Context, limit int) ([]events.OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

type Publisher interface {
	Publish(ctx context.Context, topic string, envelope events.Envelope) error
}
