// Package storetest is the conformance suite both entry store
// implementations must pass. The transient store is the reference; the
// durable store has to reproduce the same externally observable ordering and
// error semantics.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"warga/contexts/protection/vault-service/domain/entities"
	domainerrors "warga/contexts/protection/vault-service/domain/errors"
	"warga/contexts/protection/vault-service/ports"
)

// Factory returns a fresh, empty store per test.
type Factory func(t *testing.T) ports.EntryStore

func entry(id, owner string, created time.Time) entities.VaultEntry {
	return entities.VaultEntry{
		EntryID:       id,
		OwnerID:       owner,
		OwnerName:     "Owner " + owner,
		State:         entities.EntryStateDraft,
		Title:         "title " + id,
		SealedPayload: "payload " + id,
		CreatedAt:     created,
		UpdatedAt:     created,
		RequestID:     "req-" + id,
		EventHash:     "hash-" + id,
		RetentionTag:  "vault:standard",
	}
}

func event(id, entryID string, eventType entities.EventType, occurred time.Time) entities.TimelineEvent {
	return entities.TimelineEvent{
		EventID:      id,
		EntryID:      entryID,
		EventType:    eventType,
		ActorID:      "actor-1",
		ActorName:    "Actor One",
		RequestID:    "req-" + id,
		OccurredAt:   occurred,
		EventHash:    "hash-" + id,
		RetentionTag: "vault:standard",
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
	t.Run("EdgesBareAndNamespaced", func(t *testing.T) { testEdges(t, factory) })
	t.Run("ListExpired", func(t *testing.T) { testListExpired(t, factory) })
}

func testCreateAndGet(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := store.Create(ctx, entry("e1", "u1", now), event("ev1", "e1", entities.EventDrafted, now), []string{"actor/u1/r1", "entity/e1/r1"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	got, ok, err := store.Get(ctx, "e1")
	if err != nil || !ok {
		t.Fatalf("get failed: ok=%v err=%v", ok, err)
	}
	if got.EntryID != "e1" || got.State != entities.EntryStateDraft || got.EventHash != "hash-e1" {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	timeline, err := store.ListTimeline(ctx, "e1")
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

	if err := store.Create(ctx, entry("e1", "u1", now), event("ev1", "e1", entities.EventDrafted, now), nil); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	err := store.Create(ctx, entry("e1", "u2", now), event("ev2", "e1", entities.EventDrafted, now), nil)
	if !errors.Is(err, domainerrors.ErrConflict) {
		t.Fatalf("expected id conflict, got %v", err)
	}
}

func testDedupClaimed(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := store.Create(ctx, entry("e1", "u1", now), event("ev1", "e1", entities.EventDrafted, now), []string{"actor/u1/r1"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	err := store.Create(ctx, entry("e2", "u1", now), event("ev2", "e2", entities.EventDrafted, now), []string{"actor/u1/r1"})
	if !errors.Is(err, domainerrors.ErrDedupClaimed) {
		t.Fatalf("expected dedup claim rejection, got %v", err)
	}
	// The failed create must not leave a partial snapshot behind.
	if _, ok, _ := store.Get(ctx, "e2"); ok {
		t.Fatalf("partially written snapshot visible after failed create")
	}
	if events, _ := store.ListTimeline(ctx, "e2"); len(events) != 0 {
		t.Fatalf("partially written timeline visible after failed create")
	}
}

func testDedupReturnsCurrent(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := store.Create(ctx, entry("e1", "u1", now), event("ev1", "e1", entities.EventDrafted, now), []string{"actor/u1/r1"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	updated := entry("e1", "u1", now)
	updated.State = entities.EntryStateSealed
	updated.UpdatedAt = now.Add(time.Minute)
	updated.EventHash = "hash-e1-v2"
	if err := store.Update(ctx, updated, event("ev2", "e1", entities.EventSealed, now.Add(time.Minute)), "entity/e1/r2"); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	got, ok, err := store.GetByDedupKey(ctx, "actor/u1/r1")
	if err != nil || !ok {
		t.Fatalf("get by dedup key failed: ok=%v err=%v", ok, err)
	}
	if got.State != entities.EntryStateSealed || got.EventHash != "hash-e1-v2" {
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

	err := store.Update(ctx, entry("ghost", "u1", now), event("ev1", "ghost", entities.EventSealed, now), "entity/ghost/r1")
	if !errors.Is(err, domainerrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testTimelineOrdering(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := store.Create(ctx, entry("e1", "u1", base), event("ev-b", "e1", entities.EventDrafted, base.Add(2*time.Second)), nil); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	// Inserted out of order and with an occurred-at tie against ev-b.
	snapshot := entry("e1", "u1", base)
	if err := store.Update(ctx, snapshot, event("ev-c", "e1", entities.EventTrusteeAdded, base.Add(time.Second)), "entity/e1/r2"); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if err := store.Update(ctx, snapshot, event("ev-a", "e1", entities.EventTrusteeAdded, base.Add(2*time.Second)), "entity/e1/r3"); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	timeline, err := store.ListTimeline(ctx, "e1")
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

	if err := store.Create(ctx, entry("e1", "u1", now), event("ev1", "e1", entities.EventDrafted, now), []string{"actor/u1/r1"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	removed, err := store.Delete(ctx, "e1")
	if err != nil || !removed {
		t.Fatalf("delete failed: removed=%v err=%v", removed, err)
	}
	if _, ok, _ := store.Get(ctx, "e1"); ok {
		t.Fatalf("snapshot survived delete")
	}
	if timeline, _ := store.ListTimeline(ctx, "e1"); len(timeline) != 0 {
		t.Fatalf("timeline survived delete")
	}
	if _, ok, _ := store.GetByDedupKey(ctx, "actor/u1/r1"); ok {
		t.Fatalf("dedup key survived delete")
	}
	again, err := store.Delete(ctx, "e1")
	if err != nil || again {
		t.Fatalf("second delete must be a no-op, removed=%v err=%v", again, err)
	}
}

func testEdges(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := store.Create(ctx, entry("e1", "u1", now), event("ev1", "e1", entities.EventDrafted, now), nil); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := store.AddEdge(ctx, entities.Edge{EdgeID: "edge1", Kind: entities.EdgeVouch, EntryRef: "e1", ActorID: "u2", CreatedAt: now}); err != nil {
		t.Fatalf("add edge failed: %v", err)
	}
	// Legacy rows carry the namespaced ref form.
	if err := store.AddEdge(ctx, entities.Edge{EdgeID: "edge2", Kind: entities.EdgeChallenge, EntryRef: entities.NamespacedRef("e1"), ActorID: "u3", CreatedAt: now}); err != nil {
		t.Fatalf("add namespaced edge failed: %v", err)
	}

	vouches, err := store.CountEdges(ctx, "e1", entities.EdgeVouch)
	if err != nil || vouches != 1 {
		t.Fatalf("expected 1 vouch, got %d err=%v", vouches, err)
	}
	challenges, _ := store.CountEdges(ctx, "e1", entities.EdgeChallenge)
	if challenges != 1 {
		t.Fatalf("expected namespaced ref counted, got %d", challenges)
	}

	err = store.AddEdge(ctx, entities.Edge{EdgeID: "edge3", Kind: entities.EdgeVouch, EntryRef: entities.NamespacedRef("e1"), ActorID: "u2", CreatedAt: now})
	if !errors.Is(err, domainerrors.ErrDuplicateEdge) {
		t.Fatalf("expected duplicate edge across ref forms, got %v", err)
	}

	if err := store.DeleteEdgesFor(ctx, "e1"); err != nil {
		t.Fatalf("delete edges failed: %v", err)
	}
	vouches, _ = store.CountEdges(ctx, "e1", entities.EdgeVouch)
	challenges, _ = store.CountEdges(ctx, "e1", entities.EdgeChallenge)
	if vouches != 0 || challenges != 0 {
		t.Fatalf("edges survived deletion: vouch=%d challenge=%d", vouches, challenges)
	}
}

func testListExpired(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	doomed := entry("e1", "u1", now)
	doomed.ExpiresAt = now.Add(-time.Millisecond)
	survivor := entry("e2", "u1", now)
	survivor.ExpiresAt = now.Add(time.Minute)
	eternal := entry("e3", "u1", now)

	for i, item := range []entities.VaultEntry{doomed, survivor, eternal} {
		ev := event("ev"+item.EntryID, item.EntryID, entities.EventDrafted, now.Add(time.Duration(i)*time.Second))
		if err := store.Create(ctx, item, ev, nil); err != nil {
			t.Fatalf("create %s failed: %v", item.EntryID, err)
		}
	}

	ids, err := store.ListExpired(ctx, now)
	if err != nil {
		t.Fatalf("list expired failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "e1" {
		t.Fatalf("expected only e1 expired, got %v", ids)
	}
}
