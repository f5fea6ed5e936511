package ports

import (
	"context"
	"time"

	"warga/contexts/moderation-safety/moderation-service/domain/entities"
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

type IngestInput struct {
	RecordID     string
	SubjectID    string
	ContentKind  string
	OwnerID      string
	OwnerName    string
	Severity     entities.Severity
	RetentionTag string
}

// DecideInput carries the moderator-supplied fields of a publish or reject
// decision. Reason is mandatory for rejections.
type DecideInput struct {
	Reason   string
	Notes    string
	Severity entities.Severity
}

// RecordStore persists moderation snapshots and their append-only timelines.
// The memory and postgres implementations share one conformance suite.
// ListByOwner filters by the assigned moderator.
type RecordStore interface {
	Create(ctx context.Context, snapshot entities.ModerationRecord, firstEvent entities.TimelineEvent, dedupKeys []string) error
	Update(ctx context.Context, snapshot entities.ModerationRecord, event entities.TimelineEvent, dedupKey string) error
	Get(ctx context.Context, recordID string) (entities.ModerationRecord, bool, error)
	GetByDedupKey(ctx context.Context, key string) (entities.ModerationRecord, bool, error)
	ListByOwner(ctx context.Context, moderatorID string) ([]entities.ModerationRecord, error)
	ListTimeline(ctx context.Context, recordID string) ([]entities.TimelineEvent, error)
	Delete(ctx context.Context, recordID string) (bool, error)
}

type OutboxStore interface {
	AppendOutbox(ctx context.Context, envelope events.Envelope) error
	ListPendingOutbox(ctx context.Context, limit int) ([]events.OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

type Publisher interface {
	Publish(ctx context.Context, topic string, envelope events.Envelope) error
}
