package entities

import (
	"strings"
	"time"

	"warga/internal/shared/lifecycle"
)

type RecordState string

const (
	RecordStateProcessing  RecordState = "processing"
	RecordStateUnderReview RecordState = "under_review"
	RecordStatePublished   RecordState = "published"
	RecordStateRejected    RecordState = "rejected"
)

type EventType string

const (
	EventReceived        EventType = "received"
	EventQueuedForReview EventType = "queued_for_review"
	EventPublished       EventType = "published"
	EventRejected        EventType = "rejected"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func ValidSeverity(value Severity) bool {
	switch value {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// StateMachine holds every legal moderation transition. The direct
// processing edges to published and rejected are the auto-decision fast
// path; both decision states are terminal.
var StateMachine = lifecycle.Machine{
	Initial: lifecycle.State(RecordStateProcessing),
	Transitions: map[lifecycle.State]map[lifecycle.Event]lifecycle.State{
		lifecycle.State(RecordStateProcessing): {
			lifecycle.Event(EventQueuedForReview): lifecycle.State(RecordStateUnderReview),
			lifecycle.Event(EventPublished):       lifecycle.State(RecordStatePublished),
			lifecycle.Event(EventRejected):        lifecycle.State(RecordStateRejected),
		},
		lifecycle.State(RecordStateUnderReview): {
			lifecycle.Event(EventPublished): lifecycle.State(RecordStatePublished),
			lifecycle.Event(EventRejected):  lifecycle.State(RecordStateRejected),
		},
	},
}

// ModerationRecord is the materialized snapshot of one piece of reported
// content moving through moderation. Moderator fields stay empty until a
// decision assigns them; AutoDecided marks records decided straight out of
// processing without a human queue pass.
type ModerationRecord struct {
	RecordID      string
	SubjectID     string
	ContentKind   string
	OwnerID       string
	OwnerName     string
	State         RecordState
	ModeratorID   string
	ModeratorName string
	Reason        string
	Notes         string
	Severity      Severity
	AutoDecided   bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	RequestID     string
	CorrelationID string
	EventHash     string
	RetentionTag  string
}

func (r ModerationRecord) ValidateCreate() bool {
	if strings.TrimSpace(r.SubjectID) == "" || strings.TrimSpace(r.ContentKind) == "" {
		return false
	}
	if strings.TrimSpace(r.OwnerID) == "" {
		return false
	}
	if r.Severity != "" && !ValidSeverity(r.Severity) {
		return false
	}
	return true
}

// TimelineEvent records one accepted moderation transition.
type TimelineEvent struct {
	EventID       string
	RecordID      string
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
