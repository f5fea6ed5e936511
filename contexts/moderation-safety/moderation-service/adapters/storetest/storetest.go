// Package storetest is the conformance suite both moderation record store
// implementations must pass. The transient store is the reference; the
// durable store has to reproduce the same externally observable ordering and
// error semantics.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"warga/contexts/moderation-safety/moderation-service/domain/entities"
	domainerrors "warga/contexts/moderation-safety/moderation-service/domain/errors"
	"warga/contexts/moderation-safety/moderation-service/ports"
)

// Factory returns a fresh, empty store per test.
type Factory func(t *testing.T) ports.RecordStore

func record(id, moderator string, created time.Time) entities.ModerationRecord {
	return entities.ModerationRecord{
		RecordID:     id,
		SubjectID:    "content-" + id,
		ContentKind:  "post",
		OwnerID:      "owner-1",
		OwnerName:    "Owner One",
		State:        entities.RecordStateProcessing,
		ModeratorID:  moderator,
		CreatedAt:    created,
		UpdatedAt:    created,
		RequestID:    "req-" + id,
		EventHash:    "hash-" + id,
		RetentionTag: "moderation:standard",
	}
}

func event(id, recordID string, eventType entities.EventType, occurred time.Time) entities.TimelineEvent {
	return entities.TimelineEvent{
		EventID:      id,
		RecordID:     recordID,
		EventType:    eventType,
		ActorID:      "actor-1",
		ActorName:    "Actor One",
		RequestID:    "req-" + id,
		OccurredAt:   occurred,
		EventHash:    "hash-" + id,
		RetentionTag: "moderation:standard",
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
	t.Run("ListByModerator", func(t *testing.T) { testListByModerator(t, factory) })
}

func testCreateAndGet(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := store.Create(ctx, record("m1", "", now), event("ev1", "m1", entities.EventReceived, now), []string{"actor/u1/r1", "entity/m1/r1"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	got, ok, err := store.Get(ctx, "m1")
	if err != nil || !ok {
		t.Fatalf("get failed: ok=%v err=%v", ok, err)
	}
	if got.RecordID != "m1" || got.State != entities.RecordStateProcessing || got.EventHash != "hash-m1" {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	timeline, err := store.ListTimeline(ctx, "m1")
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

	if err := store.Create(ctx, record("m1", "", now), event("ev1", "m1", entities.EventReceived, now), nil); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	err := store.Create(ctx, record("m1", "", now), event("ev2", "m1", entities.EventReceived, now), nil)
	if !errors.Is(err, domainerrors.ErrConflict) {
		t.Fatalf("expected id conflict, got %v", err)
	}
}

func testDedupClaimed(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := store.Create(ctx, record("m1", "", now), event("ev1", "m1", entities.EventReceived, now), []string{"actor/u1/r1"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	err := store.Create(ctx, record("m2", "", now), event("ev2", "m2", entities.EventReceived, now), []string{"actor/u1/r1"})
	if !errors.Is(err, domainerrors.ErrDedupClaimed) {
		t.Fatalf("expected dedup claim rejection, got %v", err)
	}
	// The failed create must not leave a partial snapshot behind.
	if _, ok, _ := store.Get(ctx, "m2"); ok {
		t.Fatalf("partially written snapshot visible after failed create")
	}
	if events, _ := store.ListTimeline(ctx, "m2"); len(events) != 0 {
		t.Fatalf("partially written timeline visible after failed create")
	}
}

func testDedupReturnsCurrent(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := store.Create(ctx, record("m1", "", now), event("ev1", "m1", entities.EventReceived, now), []string{"actor/u1/r1"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	updated := record("m1", "mod-1", now)
	updated.State = entities.RecordStateUnderReview
	updated.UpdatedAt = now.Add(time.Minute)
	updated.EventHash = "hash-m1-v2"
	if err := store.Update(ctx, updated, event("ev2", "m1", entities.EventQueuedForReview, now.Add(time.Minute)), "entity/m1/r2"); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	got, ok, err := store.GetByDedupKey(ctx, "actor/u1/r1")
	if err != nil || !ok {
		t.Fatalf("get by dedup key failed: ok=%v err=%v", ok, err)
	}
	if got.State != entities.RecordStateUnderReview || got.EventHash != "hash-m1-v2" {
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

	err := store.Update(ctx, record("ghost", "", now), event("ev1", "ghost", entities.EventQueuedForReview, now), "entity/ghost/r1")
	if !errors.Is(err, domainerrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testTimelineOrdering(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := store.Create(ctx, record("m1", "", base), event("ev-b", "m1", entities.EventReceived, base.Add(2*time.Second)), nil); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	// Inserted out of order and with an occurred-at tie against ev-b.
	snapshot := record("m1", "", base)
	if err := store.Update(ctx, snapshot, event("ev-c", "m1", entities.EventQueuedForReview, base.Add(time.Second)), "entity/m1/r2"); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if err := store.Update(ctx, snapshot, event("ev-a", "m1", entities.EventPublished, base.Add(2*time.Second)), "entity/m1/r3"); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	timeline, err := store.ListTimeline(ctx, "m1")
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

	if err := store.Create(ctx, record("m1", "", now), event("ev1", "m1", entities.EventReceived, now), []string{"actor/u1/r1"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	removed, err := store.Delete(ctx, "m1")
	if err != nil || !removed {
		t.Fatalf("delete failed: removed=%v err=%v", removed, err)
	}
	if _, ok, _ := store.Get(ctx, "m1"); ok {
		t.Fatalf("snapshot survived delete")
	}
	if timeline, _ := store.ListTimeline(ctx, "m1"); len(timeline) != 0 {
		t.Fatalf("timeline survived delete")
	}
	if _, ok, _ := store.GetByDedupKey(ctx, "actor/u1/r1"); ok {
		t.Fatalf("dedup key survived delete")
	}
	again, err := store.Delete(ctx, "m1")
	if err != nil || again {
		t.Fatalf("second delete must be a no-op, removed=%v err=%v", again, err)
	}
}

func testListByModerator(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mine := record("m1", "mod-1", now)
	other := record("m2", "mod-2", now.Add(time.Second))
	unassigned := record("m3", "", now.Add(2*time.Second))
	for _, item := range []entities.ModerationRecord{mine, other, unassigned} {
		ev := event("ev-"+item.RecordID, item.RecordID, entities.EventReceived, item.CreatedAt)
		if err := store.Create(ctx, item, ev, nil); err != nil {
			t.Fatalf("create %s failed: %v", item.RecordID, err)
		}
	}

	items, err := store.ListByOwner(ctx, "mod-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(items) != 1 || items[0].RecordID != "m1" {
		t.Fatalf("expected only mod-1 records, got %+v", items)
	}
}
