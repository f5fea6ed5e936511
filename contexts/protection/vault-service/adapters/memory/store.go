package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"warga/contexts/protection/vault-service/domain/entities"
	domainerrors "warga/contexts/protection/vault-service/domain/errors"
	"warga/internal/shared/events"
)

// Store is the transient reference implementation of the vault entry store.
// All maps are mutated inside one mutex; a reader can never observe a
// snapshot without its timeline event or dedup keys.
type Store struct {
	mu sync.Mutex

	entries   map[string]entities.VaultEntry
	timelines map[string][]entities.TimelineEvent
	dedup     map[string]string
	edges     map[string]entities.Edge
	outbox    []outboxRow
}

type outboxRow struct {
	message   events.OutboxMessage
	published bool
}

func NewStore() *Store {
	return &Store{
		entries:   map[string]entities.VaultEntry{},
		timelines: map[string][]entities.TimelineEvent{},
		dedup:     map[string]string{},
		edges:     map[string]entities.Edge{},
	}
}

func (s *Store) Create(ctx context.Context, snapshot entities.VaultEntry, firstEvent entities.TimelineEvent, dedupKeys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[snapshot.EntryID]; exists {
		return domainerrors.ErrConflict
	}
	for _, key := range dedupKeys {
		if _, claimed := s.dedup[key]; claimed {
			return domainerrors.ErrDedupClaimed
		}
	}

	s.entries[snapshot.EntryID] = cloneEntry(snapshot)
	s.timelines[snapshot.EntryID] = []entities.TimelineEvent{cloneEvent(firstEvent)}
	for _, key := range dedupKeys {
		s.dedup[key] = snapshot.EntryID
	}
	return nil
}

func (s *Store) Update(ctx context.Context, snapshot entities.VaultEntry, event entities.TimelineEvent, dedupKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[snapshot.EntryID]; !exists {
		return domainerrors.ErrNotFound
	}
	if _, claimed := s.dedup[dedupKey]; claimed {
		return domainerrors.ErrDedupClaimed
	}

	s.entries[snapshot.EntryID] = cloneEntry(snapshot)
	s.timelines[snapshot.EntryID] = append(s.timelines[snapshot.EntryID], cloneEvent(event))
	s.dedup[dedupKey] = snapshot.EntryID
	return nil
}

func (s *Store) Get(ctx context.Context, entryID string) (entities.VaultEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(entryID)
}

func (s *Store) GetByDedupKey(ctx context.Context, key string) (entities.VaultEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, ok := s.dedup[key]
	if !ok {
		return entities.VaultEntry{}, false, nil
	}
	return s.getLocked(entryID)
}

func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]entities.VaultEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]entities.VaultEntry, 0)
	for _, entry := range s.entries {
		if entry.OwnerID != ownerID {
			continue
		}
		withCounts := cloneEntry(entry)
		withCounts.VouchCount = s.countEdgesLocked(entry.EntryID, entities.EdgeVouch)
		withCounts.ChallengeCount = s.countEdgesLocked(entry.EntryID, entities.EdgeChallenge)
		items = append(items, withCounts)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].EntryID < items[j].EntryID
	})
	return items, nil
}

func (s *Store) ListTimeline(ctx context.Context, entryID string) ([]entities.TimelineEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timeline := make([]entities.TimelineEvent, 0, len(s.timelines[entryID]))
	for _, event := range s.timelines[entryID] {
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

func (s *Store) Delete(ctx context.Context, entryID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entryID]; !exists {
		return false, nil
	}
	delete(s.entries, entryID)
	delete(s.timelines, entryID)
	for key, id := range s.dedup {
		if id == entryID {
			delete(s.dedup, key)
		}
	}
	return true, nil
}

func (s *Store) ListExpired(ctx context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0)
	for _, entry := range s.entries {
		if !entry.ExpiresAt.IsZero() && !entry.ExpiresAt.After(cutoff) {
			ids = append(ids, entry.EntryID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) AddEdge(ctx context.Context, edge entities.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := bareRef(edge.EntryRef)
	for _, existing := range s.edges {
		if bareRef(existing.EntryRef) == target && existing.ActorID == edge.ActorID && existing.Kind == edge.Kind {
			return domainerrors.ErrDuplicateEdge
		}
	}
	s.edges[edge.EdgeID] = edge
	return nil
}

func (s *Store) CountEdges(ctx context.Context, entryID string, kind entities.EdgeKind) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countEdgesLocked(entryID, kind), nil
}

func (s *Store) DeleteEdgesFor(ctx context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, edge := range s.edges {
		if bareRef(edge.EntryRef) == entryID {
			delete(s.edges, id)
		}
	}
	return nil
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

func (s *Store) getLocked(entryID string) (entities.VaultEntry, bool, error) {
	entry, ok := s.entries[entryID]
	if !ok {
		return entities.VaultEntry{}, false, nil
	}
	result := cloneEntry(entry)
	result.VouchCount = s.countEdgesLocked(entryID, entities.EdgeVouch)
	result.ChallengeCount = s.countEdgesLocked(entryID, entities.EdgeChallenge)
	return result, true, nil
}

func (s *Store) countEdgesLocked(entryID string, kind entities.EdgeKind) int {
	count := 0
	for _, edge := range s.edges {
		if bareRef(edge.EntryRef) == entryID && edge.Kind == kind {
			count++
		}
	}
	return count
}

func bareRef(ref string) string {
	return strings.TrimPrefix(ref, "note:")
}

func cloneEntry(entry entities.VaultEntry) entities.VaultEntry {
	entry.Trustees = append([]string(nil), entry.Trustees...)
	return entry
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
