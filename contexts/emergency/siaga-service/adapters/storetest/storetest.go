// Package storetest is the conformance suite both broadcast store
// implementations must pass. The transient store is the reference; the
// durable store has to reproduce the same externally observable ordering and
// error semantics.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"warga/contexts/emergency/siaga-service/domain/entities"
	domainerrors "warga/contexts/emergency/siaga-service/domain/errors"
	"warga/contexts/emergency/siaga-service/ports"
)

// Factory returns a fresh, empty store per test.
type Factory func(t *testing.T) ports.BroadcastStore

func broadcast(id, author string, created time.Time) entities.SiagaBroadcast {
	return entities.SiagaBroadcast{
		BroadcastID:  id,
		AuthorID:     author,
		AuthorName:   "Author " + author,
		State:        entities.BroadcastStateDraft,
		Region:       "jakarta-pusat",
		Severity:     entities.SeverityWarning,
		Message:      "message " + id,
		CreatedAt:    created,
		UpdatedAt:    created,
		RequestID:    "req-" + id,
		EventHash:    "hash-" + id,
		RetentionTag: "siaga:standard",
	}
}

func event(id, broadcastID string, eventType entities.EventType, occurred time.Time) entities.TimelineEvent {
	return entities.TimelineEvent{
		EventID:      id,
		BroadcastID:  broadcastID,
		EventType:    eventType,
		ActorID:      "actor-1",
		ActorName:    "Actor One",
		RequestID:    "req-" + id,
		OccurredAt:   occurred,
		EventHash:    "hash-" + id,
		RetentionTag: "siaga:standard",
	}
}

// Run exercises every store-level property both implementations must share.
func Run(t *testing.T, factory Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, factory) })
	t.Run("CreateConflictOnID", func(t *testing.T) { testCreateConflict(t, factory) })
	t.Run("CreateConflictOnDedupKey", func(t *testing.T) { testDedupClaimed(t, factory) })
	t.Run("GetByDedupKeyReturnsCurrent", func(t *testing.T) { testDedupReturnsCurrent(t, factory) })
	t.Run("UpdateMissingIsNotFound", func(t *testing.T) { testUpdateMissing(t, factory) })
	t.Run("TimelineOrdering", func(t *testing.T) { testTimelineOrdering(t, factory) })
	t.Run("DeleteRemovesEverything", func(t *testing.T) { testDelete(t, factory) })
	t.Run("RespondersRoundTrip", func(t *testing.T) { testResponders(t, factory) })
}

func testCreateAndGet(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := store.Create(ctx, broadcast("b1", "u1", now), event("ev1", "b1", entities.EventDrafted, now), []string{"actor/u1/r1", "entity/b1/r1"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	got, ok, err := store.Get(ctx, "b1")
	if err != nil || !ok {
		t.Fatalf("get failed: ok=%v err=%v", ok, err)
	}
	if got.BroadcastID != "b1" || got.State != entities.BroadcastStateDraft || got.EventHash != "hash-b1" {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	timeline, err := store.ListTimeline(ctx, "b1")
	if err != nil {
		t.Fatalf("list timeline failed: %v", err)
	}
	if len(timeline) != 1 || timeline[0].EventID != "ev1" {
		t.Fatalf("unexpected timeline %+v", timeline)
	}
}

func testCreateConflict(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := store.Create(ctx, broadcast("b1", "u1", now), event("ev1", "b1", entities.EventDrafted, now), nil); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	err := store.Create(ctx, broadcast("b1", "u2", now), event("ev2", "b1", entities.EventDrafted, now), nil)
	if !errors.Is(err, domainerrors.ErrConflict) {
		t.Fatalf("expected id conflict, got %v", err)
	}
}

func testDedupClaimed(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := store.Create(ctx, broadcast("b1", "u1", now), event("ev1", "b1", entities.EventDrafted, now), []string{"actor/u1/r1"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	err := store.Create(ctx, broadcast("b2", "u1", now), event("ev2", "b2", entities.EventDrafted, now), []string{"actor/u1/r1"})
	if !errors.Is(err, domainerrors.ErrDedupClaimed) {
		t.Fatalf("expected dedup claim rejection, got %v", err)
	}
	// The failed create must not leave a partial snapshot behind.
	if _, ok, _ := store.Get(ctx, "b2"); ok {
		t.Fatalf("partially written snapshot visible after failed create")
	}
	if events, _ := store.ListTimeline(ctx, "b2"); len(events) != 0 {
		t.Fatalf("partially written timeline visible after failed create")
	}
}

func testDedupReturnsCurrent(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := store.Create(ctx, broadcast("b1", "u1", now), event("ev1", "b1", entities.EventDrafted, now), []string{"actor/u1/r1"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	updated := broadcast("b1", "u1", now)
	updated.State = entities.BroadcastStateActive
	updated.UpdatedAt = now.Add(time.Minute)
	updated.EventHash = "hash-b1-v2"
	if err := store.Update(ctx, updated, event("ev2", "b1", entities.EventActivated, now.Add(time.Minute)), "entity/b1/r2"); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	got, ok, err := store.GetByDedupKey(ctx, "actor/u1/r1")
	if err != nil || !ok {
		t.Fatalf("get by dedup key failed: ok=%v err=%v", ok, err)
	}
	if got.State != entities.BroadcastStateActive || got.EventHash != "hash-b1-v2" {
		t.Fatalf("dedup lookup must return the current snapshot, got %+v", got)
	}

	if _, ok, _ := store.GetByDedupKey(ctx, "actor/u1/unknown"); ok {
		t.Fatalf("unknown dedup key must miss")
	}
}

func testUpdateMissing(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	err := store.Update(ctx, broadcast("ghost", "u1", now), event("ev1", "ghost", entities.EventActivated, now), "entity/ghost/r1")
	if !errors.Is(err, domainerrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testTimelineOrdering(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := store.Create(ctx, broadcast("b1", "u1", base), event("ev-b", "b1", entities.EventDrafted, base.Add(2*time.Second)), nil); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	// Inserted out of order and with an occurred-at tie against ev-b.
	snapshot := broadcast("b1", "u1", base)
	if err := store.Update(ctx, snapshot, event("ev-c", "b1", entities.EventResponderJoined, base.Add(time.Second)), "entity/b1/r2"); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if err := store.Update(ctx, snapshot, event("ev-a", "b1", entities.EventResponderJoined, base.Add(2*time.Second)), "entity/b1/r3"); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	timeline, err := store.ListTimeline(ctx, "b1")
	if err != nil {
		t.Fatalf("list timeline failed: %v", err)
	}
	gotOrder := []string{timeline[0].EventID, timeline[1].EventID, timeline[2].EventID}
	wantOrder := []string{"ev-c", "ev-a", "ev-b"}
	for i := range wantOrder {
		if gotOrder[i] != wantOrder[i] {
			t.Fatalf("timeline order %v, want %v", gotOrder, wantOrder)
		}
	}
}

func testDelete(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := store.Create(ctx, broadcast("b1", "u1", now), event("ev1", "b1", entities.EventDrafted, now), []string{"actor/u1/r1"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	removed, err := store.Delete(ctx, "b1")
	if err != nil || !removed {
		t.Fatalf("delete failed: removed=%v err=%v", removed, err)
	}
	if _, ok, _ := store.Get(ctx, "b1"); ok {
		t.Fatalf("snapshot survived delete")
	}
	if timeline, _ := store.ListTimeline(ctx, "b1"); len(timeline) != 0 {
		t.Fatalf("timeline survived delete")
	}
	if _, ok, _ := store.GetByDedupKey(ctx, "actor/u1/r1"); ok {
		t.Fatalf("dedup key survived delete")
	}
	again, err := store.Delete(ctx, "b1")
	if err != nil || again {
		t.Fatalf("second delete must be a no-op, removed=%v err=%v", again, err)
	}
}

func testResponders(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	initial := broadcast("b1", "u1", now)
	if err := store.Create(ctx, initial, event("ev1", "b1", entities.EventDrafted, now), nil); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	updated := broadcast("b1", "u1", now)
	updated.State = entities.BroadcastStateActive
	updated.Responders = []string{"u2", "u3"}
	if err := store.Update(ctx, updated, event("ev2", "b1", entities.EventResponderJoined, now.Add(time.Second)), "entity/b1/r2"); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	got, ok, err := store.Get(ctx, "b1")
	if err != nil || !ok {
		t.Fatalf("get failed: ok=%v err=%v", ok, err)
	}
	if len(got.Responders) != 2 || got.Responders[0] != "u2" || got.Responders[1] != "u3" {
		t.Fatalf("responders did not round-trip, got %v", got.Responders)
	}
}
