package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"warga/contexts/protection/vault-service/adapters/memory"
	"warga/contexts/protection/vault-service/domain/entities"
	domainerrors "warga/contexts/protection/vault-service/domain/errors"
	"warga/contexts/protection/vault-service/ports"
)

func newTestService() (Service, *memory.Store, *memory.Clock, *memory.Counters) {
	store := memory.NewStore()
	clock := memory.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	counters := memory.NewCounters()
	svc := Service{
		Store:   store,
		Outbox:  store,
		Clock:   clock,
		IDGen:   memory.NewIDGenerator(),
		Metrics: counters,
		Logger:  nil,
	}
	return svc, store, clock, counters
}

func submitInput() ports.SubmitInput {
	return ports.SubmitInput{
		Title:         "safehouse location",
		SealedPayload: "c2VhbGVkLWJsb2I=",
	}
}

func TestSubmitIdempotentReplay(t *testing.T) {
	svc, _, _, counters := newTestService()
	actor := ports.Actor{ID: "u1", DisplayName: "Asep"}

	first, err := svc.Submit(context.Background(), actor, "r1", "c1", submitInput())
	if err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	second, err := svc.Submit(context.Background(), actor, "r1", "c1", submitInput())
	if err != nil {
		t.Fatalf("replayed submit failed: %v", err)
	}
	if first.EntryID != second.EntryID {
		t.Fatalf("expected same entry id, got %s and %s", first.EntryID, second.EntryID)
	}
	if first.EventHash != second.EventHash {
		t.Fatalf("expected same event hash on replay")
	}
	timeline, err := svc.ListTimeline(context.Background(), first.EntryID)
	if err != nil {
		t.Fatalf("list timeline failed: %v", err)
	}
	if len(timeline) != 1 {
		t.Fatalf("expected one timeline event after replay, got %d", len(timeline))
	}
	if counters.Total("vault_idempotent_replay") != 1 {
		t.Fatalf("expected one replay counted, got %d", counters.Total("vault_idempotent_replay"))
	}
}

func TestSubmitReplayReturnsCurrentSnapshot(t *testing.T) {
	svc, _, clock, _ := newTestService()
	actor := ports.Actor{ID: "u1", DisplayName: "Asep"}

	created, err := svc.Submit(context.Background(), actor, "r1", "c1", submitInput())
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	clock.Advance(time.Minute)
	if _, err := svc.Seal(context.Background(), actor, "r2", "c2", created.EntryID); err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	replayed, err := svc.Submit(context.Background(), actor, "r1", "c1", submitInput())
	if err != nil {
		t.Fatalf("replayed submit failed: %v", err)
	}
	if replayed.State != entities.EntryStateSealed {
		t.Fatalf("replay must return the current snapshot, got state %s", replayed.State)
	}
	timeline, _ := svc.ListTimeline(context.Background(), created.EntryID)
	if len(timeline) != 2 {
		t.Fatalf("replay must not append events, got %d", len(timeline))
	}
}

func TestIllegalTransitionLeavesStoreUnmodified(t *testing.T) {
	svc, _, _, _ := newTestService()
	actor := ports.Actor{ID: "u1", DisplayName: "Asep"}

	created, err := svc.Submit(context.Background(), actor, "r1", "c1", submitInput())
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	// draft -> published is not an edge in the vault table.
	_, err = svc.Publish(context.Background(), actor, "r2", "c2", created.EntryID)
	if !errors.Is(err, domainerrors.ErrIllegalTransition) {
		t.Fatalf("expected illegal transition, got %v", err)
	}
	after, err := svc.Get(context.Background(), created.EntryID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if after.State != entities.EntryStateDraft || after.EventHash != created.EventHash {
		t.Fatalf("store modified by rejected transition")
	}
	timeline, _ := svc.ListTimeline(context.Background(), created.EntryID)
	if len(timeline) != 1 {
		t.Fatalf("rejected transition appended an event")
	}
}

func TestTransitionOwnershipEnforced(t *testing.T) {
	svc, _, _, _ := newTestService()
	owner := ports.Actor{ID: "u1", DisplayName: "Asep"}
	intruder := ports.Actor{ID: "u2", DisplayName: "Budi"}

	created, err := svc.Submit(context.Background(), owner, "r1", "c1", submitInput())
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, err := svc.Seal(context.Background(), intruder, "r2", "c2", created.EntryID); !errors.Is(err, domainerrors.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestTrusteeSelfLoopKeepsStateAndAppendsEvent(t *testing.T) {
	svc, _, clock, _ := newTestService()
	actor := ports.Actor{ID: "u1", DisplayName: "Asep"}

	created, _ := svc.Submit(context.Background(), actor, "r1", "c1", submitInput())
	clock.Advance(time.Second)
	sealed, err := svc.Seal(context.Background(), actor, "r2", "c2", created.EntryID)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	clock.Advance(time.Second)
	withTrustee, err := svc.AddTrustee(context.Background(), actor, "r3", "c3", created.EntryID, "trustee-1")
	if err != nil {
		t.Fatalf("add trustee failed: %v", err)
	}
	if withTrustee.State != entities.EntryStateSealed {
		t.Fatalf("trustee add must not change state, got %s", withTrustee.State)
	}
	if withTrustee.EventHash == sealed.EventHash {
		t.Fatalf("snapshot hash must change when trustees change")
	}
	timeline, _ := svc.ListTimeline(context.Background(), created.EntryID)
	if len(timeline) != 3 {
		t.Fatalf("expected 3 events, got %d", len(timeline))
	}
	if timeline[2].EventType != entities.EventTrusteeAdded {
		t.Fatalf("expected trustee_added event, got %s", timeline[2].EventType)
	}
}

func TestSnapshotHashDeterministic(t *testing.T) {
	entry := entities.VaultEntry{
		EntryID:       "e1",
		OwnerID:       "u1",
		OwnerName:     "Asep",
		State:         entities.EntryStateDraft,
		Title:         "t",
		SealedPayload: "p",
		CreatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		RequestID:     "r1",
		RetentionTag:  "vault:standard",
	}
	first, err := hashSnapshot(entry)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	second, _ := hashSnapshot(entry)
	if first != second {
		t.Fatalf("hash is not deterministic")
	}

	entry.Title = "t2"
	changed, _ := hashSnapshot(entry)
	if changed == first {
		t.Fatalf("hash must change when an audited field changes")
	}

	// Feedback counts are deliberately excluded from the canonical payload.
	entry.Title = "t"
	entry.VouchCount = 40
	excluded, _ := hashSnapshot(entry)
	if excluded != first {
		t.Fatalf("hash must ignore derived feedback counts")
	}

	entry.RetentionTag = "vault:short"
	retagged, _ := hashSnapshot(entry)
	if retagged == first {
		t.Fatalf("hash must include the retention tag domain separator")
	}
}

func TestLegacyRowHashRecomputedOnRead(t *testing.T) {
	svc, store, clock, _ := newTestService()
	now := clock.Now()
	legacy := entities.VaultEntry{
		EntryID:       "legacy-1",
		OwnerID:       "u1",
		OwnerName:     "Asep",
		State:         entities.EntryStateDraft,
		Title:         "old row",
		SealedPayload: "blob",
		CreatedAt:     now,
		UpdatedAt:     now,
		RequestID:     "r-legacy",
		RetentionTag:  "vault:standard",
	}
	firstEvent := entities.TimelineEvent{
		EventID:      "ev-legacy",
		EntryID:      "legacy-1",
		EventType:    entities.EventDrafted,
		ActorID:      "u1",
		ActorName:    "Asep",
		RequestID:    "r-legacy",
		OccurredAt:   now,
		RetentionTag: "vault:standard",
	}
	if err := store.Create(context.Background(), legacy, firstEvent, nil); err != nil {
		t.Fatalf("seed legacy row failed: %v", err)
	}

	got, err := svc.Get(context.Background(), "legacy-1")
	if err != nil {
		t.Fatalf("get legacy row failed: %v", err)
	}
	want, _ := hashSnapshot(legacy)
	if got.EventHash != want {
		t.Fatalf("expected recomputed hash %s, got %s", want, got.EventHash)
	}

	timeline, err := svc.ListTimeline(context.Background(), "legacy-1")
	if err != nil {
		t.Fatalf("list timeline failed: %v", err)
	}
	if timeline[0].EventHash == "" {
		t.Fatalf("expected event hash backfilled on read")
	}
}

func TestLegacyRowWithBrokenTimestampFailsRead(t *testing.T) {
	svc, store, _, _ := newTestService()
	broken := entities.VaultEntry{
		EntryID:       "broken-1",
		OwnerID:       "u1",
		OwnerName:     "Asep",
		State:         entities.EntryStateDraft,
		Title:         "bad row",
		SealedPayload: "blob",
		RetentionTag:  "vault:standard",
	}
	event := entities.TimelineEvent{
		EventID:      "ev-broken",
		EntryID:      "broken-1",
		EventType:    entities.EventDrafted,
		RetentionTag: "vault:standard",
	}
	if err := store.Create(context.Background(), broken, event, nil); err != nil {
		t.Fatalf("seed broken row failed: %v", err)
	}
	if _, err := svc.Get(context.Background(), "broken-1"); !errors.Is(err, domainerrors.ErrIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
}

func TestSweepScenario(t *testing.T) {
	svc, _, clock, _ := newTestService()
	owner := ports.Actor{ID: "u1", DisplayName: "Asep"}
	voucher := ports.Actor{ID: "u2", DisplayName: "Budi"}
	now := clock.Now()

	dying := submitInput()
	dying.ExpiresAt = now.Add(-time.Millisecond)
	doomed, err := svc.Submit(context.Background(), owner, "r1", "c1", dying)
	if err != nil {
		t.Fatalf("submit doomed failed: %v", err)
	}
	surviving := submitInput()
	surviving.ExpiresAt = now.Add(time.Minute)
	survivor, err := svc.Submit(context.Background(), owner, "r2", "c2", surviving)
	if err != nil {
		t.Fatalf("submit survivor failed: %v", err)
	}

	if err := svc.Vouch(context.Background(), voucher, doomed.EntryID); err != nil {
		t.Fatalf("vouch failed: %v", err)
	}
	if err := svc.Challenge(context.Background(), voucher, survivor.EntryID); err != nil {
		t.Fatalf("challenge failed: %v", err)
	}

	removed, err := svc.Sweep(context.Background(), now.UnixMilli())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(removed) != 1 || removed[0] != doomed.EntryID {
		t.Fatalf("expected only the expired entry removed, got %v", removed)
	}

	if _, err := svc.Get(context.Background(), doomed.EntryID); !errors.Is(err, domainerrors.ErrNotFound) {
		t.Fatalf("expected swept entry gone, got %v", err)
	}
	timeline, _ := svc.ListTimeline(context.Background(), doomed.EntryID)
	if len(timeline) != 0 {
		t.Fatalf("expected empty timeline after sweep, got %d events", len(timeline))
	}
	count, _ := svc.Store.CountEdges(context.Background(), doomed.EntryID, entities.EdgeVouch)
	if count != 0 {
		t.Fatalf("expected zero vouch edges after sweep, got %d", count)
	}

	after, err := svc.Get(context.Background(), survivor.EntryID)
	if err != nil {
		t.Fatalf("survivor must remain readable: %v", err)
	}
	if after.EventHash != survivor.EventHash {
		t.Fatalf("sweep must not touch surviving hashes")
	}
	if after.ChallengeCount != 1 {
		t.Fatalf("survivor feedback counts must be untouched, got %d", after.ChallengeCount)
	}

	// Second sweep at the same cutoff removes nothing.
	again, err := svc.Sweep(context.Background(), now.UnixMilli())
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("sweep is not idempotent, removed %v", again)
	}
}

func TestSweepRejectsNegativeCutoff(t *testing.T) {
	svc, _, _, _ := newTestService()
	if _, err := svc.Sweep(context.Background(), -1); !errors.Is(err, domainerrors.ErrNegativeCutoff) {
		t.Fatalf("expected negative cutoff rejection, got %v", err)
	}
}

func TestDuplicateEdgeRejected(t *testing.T) {
	svc, _, _, _ := newTestService()
	owner := ports.Actor{ID: "u1", DisplayName: "Asep"}
	voucher := ports.Actor{ID: "u2", DisplayName: "Budi"}

	created, _ := svc.Submit(context.Background(), owner, "r1", "c1", submitInput())
	if err := svc.Vouch(context.Background(), voucher, created.EntryID); err != nil {
		t.Fatalf("vouch failed: %v", err)
	}
	if err := svc.Vouch(context.Background(), voucher, created.EntryID); !errors.Is(err, domainerrors.ErrDuplicateEdge) {
		t.Fatalf("expected duplicate edge rejection, got %v", err)
	}
}

func TestExpireIsTimeDrivenAndTerminal(t *testing.T) {
	svc, _, _, _ := newTestService()
	owner := ports.Actor{ID: "u1", DisplayName: "Asep"}
	system := ports.Actor{ID: SystemActorID, DisplayName: "System"}

	created, _ := svc.Submit(context.Background(), owner, "r1", "c1", submitInput())
	expired, err := svc.Expire(context.Background(), system, "ttl-expire", "c2", created.EntryID)
	if err != nil {
		t.Fatalf("expire failed: %v", err)
	}
	if expired.State != entities.EntryStateExpired {
		t.Fatalf("expected expired state, got %s", expired.State)
	}
	if _, err := svc.Seal(context.Background(), owner, "r3", "c3", created.EntryID); !errors.Is(err, domainerrors.ErrIllegalTransition) {
		t.Fatalf("expired must be terminal, got %v", err)
	}
}

func TestUpdateMissingEntryIsNotFound(t *testing.T) {
	svc, _, _, _ := newTestService()
	actor := ports.Actor{ID: "u1", DisplayName: "Asep"}
	if _, err := svc.Seal(context.Background(), actor, "r1", "c1", "missing"); !errors.Is(err, domainerrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
