package entities

import (
	"strings"
	"time"

	"warga/internal/shared/lifecycle"
)

type BroadcastState string

const (
	BroadcastStateDraft     BroadcastState = "draft"
	BroadcastStateActive    BroadcastState = "active"
	BroadcastStateResolved  BroadcastState = "resolved"
	BroadcastStateCancelled BroadcastState = "cancelled"
)

type EventType string

const (
	EventDrafted          EventType = "drafted"
	EventActivated        EventType = "activated"
	EventResolved         EventType = "resolved"
	EventCancelled        EventType = "cancelled"
	EventResponderJoined  EventType = "responder_joined"
	EventResponderUpdated EventType = "responder_updated"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func ValidSeverity(value Severity) bool {
	switch value {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// StateMachine holds every legal siaga transition. Responder activity loops
// on active; resolved and cancelled are terminal.
var StateMachine = lifecycle.Machine{
	Initial: lifecycle.State(BroadcastStateDraft),
	Transitions: map[lifecycle.State]map[lifecycle.Event]lifecycle.State{
		lifecycle.State(BroadcastStateDraft): {
			lifecycle.Event(EventActivated): lifecycle.State(BroadcastStateActive),
			lifecycle.Event(EventCancelled): lifecycle.State(BroadcastStateCancelled),
		},
		lifecycle.State(BroadcastStateActive): {
			lifecycle.Event(EventResolved):         lifecycle.State(BroadcastStateResolved),
			lifecycle.Event(EventCancelled):        lifecycle.State(BroadcastStateCancelled),
			lifecycle.Event(EventResponderJoined):  lifecycle.State(BroadcastStateActive),
			lifecycle.Event(EventResponderUpdated): lifecycle.State(BroadcastStateActive),
		},
	},
}

// SiagaBroadcast is the materialized snapshot of an emergency broadcast.
type SiagaBroadcast struct {
	BroadcastID   string
	AuthorID      string
	AuthorName    string
	State         BroadcastState
	Region        string
	Severity      Severity
	Message       string
	Responders    []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	RequestID     string
	CorrelationID string
	EventHash     string
	RetentionTag  string
}

func (b SiagaBroadcast) ValidateCreate() bool {
	return strings.TrimSpace(b.AuthorID) != "" &&
		strings.TrimSpace(b.Region) != "" &&
		strings.TrimSpace(b.Message) != "" &&
		ValidSeverity(b.Severity)
}

func (b SiagaBroadcast) HasResponder(responderID string) bool {
	for _, id := range b.Responders {
		if id == responderID {
			return true
		}
	}
	return false
}

// TimelineEvent records one accepted siaga transition.
type TimelineEvent struct {
	EventID       string
	BroadcastID   string
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
