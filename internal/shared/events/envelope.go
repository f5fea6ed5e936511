package events

import "time"

// Envelope is the shared event shape published for every accepted lifecycle
// transition. Field names follow the platform canonical event contract.
type Envelope struct {
	EventID        string    `json:"event_id"`
	EventType      string    `json:"event_type"`
	SourceService  string    `json:"source_service"`
	OccurredAtUTC  time.Time `json:"occurred_at_utc"`
	CorrelationID  string    `json:"correlation_id"`
	EntityType     string    `json:"entity_type"`
	EntityID       string    `json:"entity_id"`
	RetentionTag   string    `json:"retention_tag"`
	PartitionKey   string    `json:"partition_key"`
	PayloadVersion int       `json:"payload_version"`
	Payload        any       `json:"payload"`
}

// OutboxMessage is a buffered envelope awaiting relay to the bus. Rows are
// written by the store adapters and drained by the relay worker.
type OutboxMessage struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Payload      []byte
	CreatedAt    time.Time
}
