package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"warga/contexts/emergency/siaga-service/domain/entities"
	domainerrors "warga/contexts/emergency/siaga-service/domain/errors"
	"warga/internal/shared/events"
)

// Store is the transient reference implementation of the broadcast store.
// All maps are mutated inside one mutex; a reader can never observe a
// snapshot without its timeline event or dedup keys.
type Store struct {
	mu sync.Mutex

	broadcasts map[string]entities.SiagaBroadcast
	timelines  map[string][]entities.TimelineEvent
	dedup      map[string]string
	outbox     []outboxRow
}

type outboxRow struct {
	message   events.OutboxMessage
	published bool
}

func NewStore() *Store {
	return &Store{
		broadcasts: map[string]entities.SiagaBroadcast{},
		timelines:  map[string][]entities.TimelineEvent{},
		dedup:      map[string]string{},
	}
}

func (s *Store) Create(ctx context.Context, snapshot entities.SiagaBroadcast, firstEvent entities.TimelineEvent, dedupKeys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.broadcasts[snapshot.BroadcastID]; exists {
		return domainerrors.ErrConflict
	}
	for _, key := range dedupKeys {
		if _, claimed := s.dedup[key]; claimed {
			return domainerrors.ErrDedupClaimed
		}
	}

	s.broadcasts[snapshot.BroadcastID] = cloneBroadcast(snapshot)
	s.timelines[snapshot.BroadcastID] = []entities.TimelineEvent{cloneEvent(firstEvent)}
	for _, key := range dedupKeys {
		s.dedup[key] = snapshot.BroadcastID
	}
	return nil
}

func (s *Store) Update(ctx context.Context, snapshot entities.SiagaBroadcast, event entities.TimelineEvent, dedupKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.broadcasts[snapshot.BroadcastID]; !exists {
		return domainerrors.ErrNotFound
	}
	if _, claimed := s.dedup[dedupKey]; claimed {
		return domainerrors.ErrDedupClaimed
	}

	s.broadcasts[snapshot.BroadcastID] = cloneBroadcast(snapshot)
	s.timelines[snapshot.BroadcastID] = append(s.timelines[snapshot.BroadcastID], cloneEvent(event))
	s.dedup[dedupKey] = snapshot.BroadcastID
	return nil
}

func (s *Store) Get(ctx context.Context, broadcastID string) (entities.SiagaBroadcast, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	broadcast, ok := s.broadcasts[broadcastID]
	if !ok {
		return entities.SiagaBroadcast{}, false, nil
	}
	return cloneBroadcast(broadcast), true, nil
}

func (s *Store) GetByDedupKey(ctx context.Context, key string) (entities.SiagaBroadcast, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	broadcastID, ok := s.dedup[key]
	if !ok {
		return entities.SiagaBroadcast{}, false, nil
	}
	broadcast, ok := s.broadcasts[broadcastID]
	if !ok {
		return entities.SiagaBroadcast{}, false, nil
	}
	return cloneBroadcast(broadcast), true, nil
}

func (s *Store) ListByOwner(ctx context.Context, authorID string) ([]entities.SiagaBroadcast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]entities.SiagaBroadcast, 0)
	for _, broadcast := range s.broadcasts {
		if broadcast.AuthorID != authorID {
			continue
		}
		items = append(items, cloneBroadcast(broadcast))
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].BroadcastID < items[j].BroadcastID
	})
	return items, nil
}

func (s *Store) ListTimeline(ctx context.Context, broadcastID string) ([]entities.TimelineEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timeline := make([]entities.TimelineEvent, 0, len(s.timelines[broadcastID]))
	for _, event := range s.timelines[broadcastID] {
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

func (s *Store) Delete(ctx context.Context, broadcastID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.broadcasts[broadcastID]; !exists {
		return false, nil
	}
	delete(s.broadcasts, broadcastID)
	delete(s.timelines, broadcastID)
	for key, id := range s.dedup {
		if id == broadcastID {
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

func cloneBroadcast(broadcast entities.SiagaBroadcast) entities.SiagaBroadcast {
	broadcast.Responders = append([]string(nil), broadcast.Responders...)
	return broadcast
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
