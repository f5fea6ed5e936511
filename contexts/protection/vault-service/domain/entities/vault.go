package entities

import (
	"strings"
	"time"

	"warga/internal/shared/lifecycle"
)

type EntryState string

const (
	EntryStateDraft     EntryState = "draft"
	EntryStateSealed    EntryState = "sealed"
	EntryStatePublished EntryState = "published"
	EntryStateRevoked   EntryState = "revoked"
	EntryStateExpired   EntryState = "expired"
)

type EventType string

const (
	EventDrafted        EventType = "drafted"
	EventSealed         EventType = "sealed"
	EventPublished      EventType = "published"
	EventRevoked        EventType = "revoked"
	EventExpired        EventType = "expired"
	EventTrusteeAdded   EventType = "trustee_added"
	EventTrusteeRemoved EventType = "trustee_removed"
)

// StateMachine is the single source of truth for legal vault transitions.
// Trustee management loops on sealed without changing state; published,
// revoked and expired are terminal.
var StateMachine = lifecycle.Machine{
	Initial: lifecycle.State(EntryStateDraft),
	Transitions: map[lifecycle.State]map[lifecycle.Event]lifecycle.State{
		lifecycle.State(EntryStateDraft): {
			lifecycle.Event(EventSealed):  lifecycle.State(EntryStateSealed),
			lifecycle.Event(EventRevoked): lifecycle.State(EntryStateRevoked),
			lifecycle.Event(EventExpired): lifecycle.State(EntryStateExpired),
		},
		lifecycle.State(EntryStateSealed): {
			lifecycle.Event(EventPublished):      lifecycle.State(EntryStatePublished),
			lifecycle.Event(EventRevoked):        lifecycle.State(EntryStateRevoked),
			lifecycle.Event(EventExpired):        lifecycle.State(EntryStateExpired),
			lifecycle.Event(EventTrusteeAdded):   lifecycle.State(EntryStateSealed),
			lifecycle.Event(EventTrusteeRemoved): lifecycle.State(EntryStateSealed),
		},
	},
}

// VaultEntry is the materialized snapshot of a dead-drop submission. State is
// always the product of the last timeline event, never edited independently.
type VaultEntry struct {
	EntryID       string
	OwnerID       string
	OwnerName     string
	State         EntryState
	Title         string
	SealedPayload string
	Trustees      []string
	ExpiresAt     time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	RequestID     string
	CorrelationID string
	EventHash     string
	RetentionTag  string

	// Derived community feedback, populated on read. Not part of the audit
	// hash.
	VouchCount     int
	ChallengeCount int
}

func (e VaultEntry) ValidateCreate() bool {
	return strings.TrimSpace(e.OwnerID) != "" &&
		strings.TrimSpace(e.Title) != "" &&
		strings.TrimSpace(e.SealedPayload) != ""
}

// HasTrustee reports whether trusteeID is already on the entry.
func (e VaultEntry) HasTrustee(trusteeID string) bool {
	for _, id := range e.Trustees {
		if id == trusteeID {
			return true
		}
	}
	return false
}

// TimelineEvent is one immutable record of an accepted transition. The actor
// name is captured as displayed at the time of the mutation.
type TimelineEvent struct {
	EventID       string
	EntryID       string
	EventType     EventType
	ActorID       string
	ActorName     string
	RequestID     string
	CorrelationID string
	OccurredAt    time.Time
	Metadata      map[string]string
	EventHash     string
	RetentionTag  string
}

type EdgeKind string

const (
	EdgeVouch     EdgeKind = "vouch"
	EdgeChallenge EdgeKind = "challenge"
)

// Edge is a community feedback reference to an entry. EntryRef is either the
// bare entry id or the legacy namespaced form "note:<id>"; the retention
// sweeper removes both.
type Edge struct {
	EdgeID    string
	Kind      EdgeKind
	EntryRef  string
	ActorID   string
	CreatedAt time.Time
}

// NamespacedRef is the legacy reference form still present on old edge rows.
func NamespacedRef(entryID string) string {
	return "note:" + entryID
}
