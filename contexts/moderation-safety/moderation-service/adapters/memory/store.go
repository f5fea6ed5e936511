package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"warga/contexts/moderation-safety/moderation-service/domain/entities"
	domainerrors "warga/contexts/moderation-safety/moderation-service/domain/errors"
	"warga/internal/shared/events"
)

// Store is the transient reference implementation of the moderation record
// store. All maps are mutated inside one mutex; a reader can never observe a
// snapshot without its timeline event or dedup keys.
type Store struct {
	mu sync.Mutex

	records   map[string]entities.ModerationRecord
	timelines map[string][]entities.TimelineEvent
	dedup     map[string]string
	outbox    []outboxRow
}

type outboxRow struct {
	message   events.OutboxMessage
	published bool
}

func NewStore() *Store {
	return &Store{
		records:   map[string]entities.ModerationRecord{},
		timelines: map[string][]entities.TimelineEvent{},
		dedup:     map[string]string{},
	}
}

func (s *Store) Create(ctx context.Context, snapshot entities.ModerationRecord, firstEvent entities.TimelineEvent, dedupKeys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[snapshot.RecordID]; exists {
		return domainerrors.ErrConflict
	}
	for _, key := range dedupKeys {
		if _, claimed := s.dedup[key]; claimed {
			return domainerrors.ErrDedupClaimed
		}
	}

	s.records[snapshot.RecordID] = snapshot
	s.timelines[snapshot.RecordID] = []entities.TimelineEvent{cloneEvent(firstEvent)}
	for _, key := range dedupKeys {
		s.dedup[key] = snapshot.RecordID
	}
	return nil
}

func (s *Store) Update(ctx context.Context, snapshot entities.ModerationRecord, event entities.TimelineEvent, dedupKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[snapshot.RecordID]; !exists {
		return domainerrors.ErrNotFound
	}
	if _, claimed := s.dedup[dedupKey]; claimed {
		return domainerrors.ErrDedupClaimed
	}

	s.records[snapshot.RecordID] = snapshot
	s.timelines[snapshot.RecordID] = append(s.timelines[snapshot.RecordID], cloneEvent(event))
	s.dedup[dedupKey] = snapshot.RecordID
	return nil
}

func (s *Store) Get(ctx context.Context, recordID string) (entities.ModerationRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[recordID]
	return record, ok, nil
}

func (s *Store) GetByDedupKey(ctx context.Context, key string) (entities.ModerationRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recordID, ok := s.dedup[key]
	if !ok {
		return entities.ModerationRecord{}, false, nil
	}
	record, ok := s.records[recordID]
	return record, ok, nil
}

func (s *Store) ListByOwner(ctx context.Context, moderatorID string) ([]entities.ModerationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]entities.ModerationRecord, 0)
	for _, record := range s.records {
		if record.ModeratorID != moderatorID {
			continue
		}
		items = append(items, record)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].RecordID < items[j].RecordID
	})
	return items, nil
}

func (s *Store) ListTimeline(ctx context.Context, recordID string) ([]entities.TimelineEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timeline := make([]entities.TimelineEvent, 0, len(s.timelines[recordID]))
	for _, event := range s.timelines[recordID] {
		timeline = append(timeline, cloneEvent(event))
	}
	sort.Slice(timeline, func(i, j int) bool {
		if !timeline[i].OccurredAt.Equal(timeline[j].OccurredAt) {
			return timeline[i].OccurredAt.Before(timeline[j].OccurredAt)
		}
		return timeline[i].EventID < timeline[j].EventID
	})
	return timeline, nil
}

func (s *Store) Delete(ctx context.Context, recordID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[recordID]; !exists {
		return false, nil
	}
	delete(s.records, recordID)
	delete(s.timelines, recordID)
	for key, id := range s.dedup {
		if id == recordID {
			delete(s.dedup, key)
		}
	}
	return true, nil
}

func (s *Store) AppendOutbox(ctx context.Context, envelope events.Envelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox = append(s.outbox, outboxRow{message: events.OutboxMessage{
		OutboxID:     envelope.EventID,
		EventType:    envelope.EventType,
		PartitionKey: envelope.PartitionKey,
		Payload:      payload,
		CreatedAt:    envelope.OccurredAtUTC,
	}})
	return nil
}

func (s *Store) ListPendingOutbox(ctx context.Context, limit int) ([]events.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]events.OutboxMessage, 0, limit)
	for _, row := range s.outbox {
		if row.published {
			continue
		}
		pending = append(pending, row.message)
		if len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (s *Store) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.outbox {
		if s.outbox[i].message.OutboxID == outboxID {
			s.outbox[i].published = true
			return nil
		}
	}
	return domainerrors.ErrNotFound
}

func cloneEvent(event entities.TimelineEvent) entities.TimelineEvent {
	if event.Metadata != nil {
		metadata := make(map[string]string, len(event.Metadata))
		for k, v := range event.Metadata {
			metadata[k] = v
		}
		event.Metadata = metadata
	}
	return event
}

// Clock is an adjustable test clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// IDGenerator issues zero-padded sequential ids, lexicographically sortable by
// creation order like the production UUIDv7 generator.
type IDGenerator struct {
	mu   sync.Mutex
	next uint64
}

func NewIDGenerator() *IDGenerator {
	return &IDGenerator{}
}

func (g *IDGenerator) NewID(_ context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("id-%012d", g.next), nil
}

// Counters is an in-memory metrics collaborator for test assertions.
type Counters struct {
	mu     sync.Mutex
	totals map[string]int64
}

func NewCounters() *Counters {
	return &Counters{totals: map[string]int64{}}
}

func (c *Counters) Add(_ context.Context, counter string, delta int64, _ map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totals[counter] += delta
}

func (c *Counters) Total(counter string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totals[counter]
}
