// Package canonical produces the deterministic byte representation of
// snapshots and timeline events that the audit hash is computed over.
//
// Payload structs are field-complete on purpose: every audited field of an
// entity must appear here, including denormalized display names. Adding a
// field to an entity without adding it to the matching payload struct weakens
// the audit guarantee; treat any edit in this package as review-required.
package canonical

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Marshal renders v as RFC 8785 canonical JSON. Key order is stable and
// independent of struct declaration order, so the output is safe to hash.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: transform: %w", err)
	}
	return out, nil
}

// VaultSnapshotPayload covers every audited field of a vault entry snapshot.
// The stored event hash itself is excluded. Vouch/challenge counts are derived
// community feedback, deliberately excluded so edge churn never invalidates
// the seal.
type VaultSnapshotPayload struct {
	EntryID       string   `json:"entry_id"`
	OwnerID       string   `json:"owner_id"`
	OwnerName     string   `json:"owner_name"`
	State         string   `json:"state"`
	Title         string   `json:"title"`
	SealedPayload string   `json:"sealed_payload"`
	Trustees      []string `json:"trustees"`
	ExpiresAtMs   int64    `json:"expires_at_ms"`
	CreatedAtMs   int64    `json:"created_at_ms"`
	UpdatedAtMs   int64    `json:"updated_at_ms"`
	RequestID     string   `json:"request_id"`
	CorrelationID string   `json:"correlation_id"`
}

// SiagaSnapshotPayload covers every audited field of a siaga broadcast.
type SiagaSnapshotPayload struct {
	BroadcastID   string   `json:"broadcast_id"`
	AuthorID      string   `json:"author_id"`
	AuthorName    string   `json:"author_name"`
	State         string   `json:"state"`
	Region        string   `json:"region"`
	Severity      string   `json:"severity"`
	Message       string   `json:"message"`
	Responders    []string `json:"responders"`
	CreatedAtMs   int64    `json:"created_at_ms"`
	UpdatedAtMs   int64    `json:"updated_at_ms"`
	RequestID     string   `json:"request_id"`
	CorrelationID string   `json:"correlation_id"`
}

// ModerationSnapshotPayload covers every audited field of a moderated-content
// record.
type ModerationSnapshotPayload struct {
	RecordID      string `json:"record_id"`
	SubjectID     string `json:"subject_id"`
	ContentKind   string `json:"content_kind"`
	OwnerID       string `json:"owner_id"`
	OwnerName     string `json:"owner_name"`
	State         string `json:"state"`
	ModeratorID   string `json:"moderator_id"`
	ModeratorName string `json:"moderator_name"`
	Reason        string `json:"reason"`
	Notes         string `json:"notes"`
	Severity      string `json:"severity"`
	AutoDecided   bool   `json:"auto_decided"`
	CreatedAtMs   int64  `json:"created_at_ms"`
	UpdatedAtMs   int64  `json:"updated_at_ms"`
	RequestID     string `json:"request_id"`
	CorrelationID string `json:"correlation_id"`
}

// EventPayload is the canonical form of a timeline event. It is shared across
// families; the actor name is captured as displayed at the time, never
// re-resolved later.
type EventPayload struct {
	EventID       string            `json:"event_id"`
	EntityID      string            `json:"entity_id"`
	EventType     string            `json:"event_type"`
	ActorID       string            `json:"actor_id"`
	ActorName     string            `json:"actor_name"`
	RequestID     string            `json:"request_id"`
	CorrelationID string            `json:"correlation_id"`
	OccurredAtMs  int64             `json:"occurred_at_ms"`
	Metadata      map[string]string `json:"metadata"`
}
