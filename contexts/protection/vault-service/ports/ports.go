package ports

import (
	"context"
	"time"

	"warga/contexts/protection/vault-service/domain/entities"
	"warga/internal/shared/events"
)

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

// Metrics is an injected counter collaborator; implementations must be safe
// for concurrent use.
type Metrics interface {
	Add(ctx context.Context, counter string, delta int64, attrs map[string]string)
}

// Actor identifies who performs a mutation. DisplayName is denormalized into
// every timeline event so the audit trail records what was shown at the time.
type Actor struct {
	ID          string
	DisplayName string
}

type SubmitInput struct {
	// EntryID is optional; callers that pre-generate ids send it so retried
	// creates can also be matched by the entity-scoped dedup key.
	EntryID       string
	Title         string
	SealedPayload string
	ExpiresAt     time.Time
	RetentionTag  string
}

// EntryStore persists vault snapshots, their append-only timelines and the
// community feedback edges. Two implementations (memory, postgres) must show
// identical externally observable behavior.
type EntryStore interface {
	// Create persists snapshot and first event atomically and registers every
	// dedup key in the same unit; on failure nothing is visible. Returns
	// ErrConflict when the entry id is taken, ErrDedupClaimed when any key
	// already maps to another entry.
	Create(ctx context.Context, snapshot entities.VaultEntry, firstEvent entities.TimelineEvent, dedupKeys []string) error
	// Update replaces the snapshot, appends one event and registers dedupKey
	// atomically. Returns ErrNotFound or ErrDedupClaimed.
	Update(ctx context.Context, snapshot entities.VaultEntry, event entities.TimelineEvent, dedupKey string) error
	Get(ctx context.Context, entryID string) (entities.VaultEntry, bool, error)
	GetByDedupKey(ctx context.Context, key string) (entities.VaultEntry, bool, error)
	ListByOwner(ctx context.Context, ownerID string) ([]entities.VaultEntry, error)
	// ListTimeline returns events in ascending OccurredAt order, ties broken
	// by EventID.
	ListTimeline(ctx context.Context, entryID string) ([]entities.TimelineEvent, error)
	// Delete removes the snapshot, its timeline and its dedup keys. Reports
	// whether anything was removed.
	Delete(ctx context.Context, entryID string) (bool, error)

	// ListExpired returns ids of entries whose ExpiresAt is set and at or
	// before cutoff.
	ListExpired(ctx context.Context, cutoff time.Time) ([]string, error)
	AddEdge(ctx context.Context, edge entities.Edge) error
	CountEdges(ctx context.Context, entryID string, kind entities.EdgeKind) (int, error)
	// DeleteEdgesFor removes every edge naming the entry by bare id or by the
	// legacy namespaced ref.
	DeleteEdgesFor(ctx context.Context, entryID string) error
}

// OutboxStore buffers envelopes for the relay worker.
type OutboxStore interface {
	AppendOutbox(ctx context.Context, envelope events.Envelope) error
	ListPendingOutbox(ctx context.Context, limit int) ([]events.OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

// Publisher is the message bus side of the outbox relay.
type Publisher interface {
	Publish(ctx context.Context, topic string, envelope events.Envelope) error
}
