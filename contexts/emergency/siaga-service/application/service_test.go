package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"warga/contexts/emergency/siaga-service/adapters/memory"
	"warga/contexts/emergency/siaga-service/domain/entities"
	domainerrors "warga/contexts/emergency/siaga-service/domain/errors"
	"warga/contexts/emergency/siaga-service/ports"
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

func createInput() ports.CreateInput {
	return ports.CreateInput{
		Region:   "jakarta-pusat",
		Severity: entities.SeverityCritical,
		Message:  "banjir di kawasan monas",
	}
}

func TestCreateIdempotentReplay(t *testing.T) {
	svc, _, _, counters := newTestService()
	actor := ports.Actor{ID: "u1", DisplayName: "Asep"}

	first, err := svc.Create(context.Background(), actor, "r1", "c1", createInput())
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	second, err := svc.Create(context.Background(), actor, "r1", "c1", createInput())
	if err != nil {
		t.Fatalf("replayed create failed: %v", err)
	}
	if first.BroadcastID != second.BroadcastID {
		t.Fatalf("expected same broadcast id, got %s and %s", first.BroadcastID, second.BroadcastID)
	}
	timeline, err := svc.ListTimeline(context.Background(), first.BroadcastID)
	if err != nil {
		t.Fatalf("list timeline failed: %v", err)
	}
	if len(timeline) != 1 {
		t.Fatalf("expected one timeline event after replay, got %d", len(timeline))
	}
	if counters.Total("siaga_idempotent_replay") != 1 {
		t.Fatalf("expected one replay counted, got %d", counters.Total("siaga_idempotent_replay"))
	}
}

func TestCreateReplayReturnsCurrentSnapshot(t *testing.T) {
	svc, _, clock, _ := newTestService()
	actor := ports.Actor{ID: "u1", DisplayName: "Asep"}

	created, err := svc.Create(context.Background(), actor, "r1", "c1", createInput())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	clock.Advance(time.Minute)
	if _, err := svc.Activate(context.Background(), actor, "r2", "c2", created.BroadcastID); err != nil {
		t.Fatalf("activate failed: %v", err)
	}

	replayed, err := svc.Create(context.Background(), actor, "r1", "c1", createInput())
	if err != nil {
		t.Fatalf("replayed create failed: %v", err)
	}
	if replayed.State != entities.BroadcastStateActive {
		t.Fatalf("replay must return the current snapshot, got state %s", replayed.State)
	}
	timeline, _ := svc.ListTimeline(context.Background(), created.BroadcastID)
	if len(timeline) != 2 {
		t.Fatalf("replay must not append events, got %d", len(timeline))
	}
}

func TestCreateRejectsUnknownSeverity(t *testing.T) {
	svc, _, _, _ := newTestService()
	actor := ports.Actor{ID: "u1", DisplayName: "Asep"}

	input := createInput()
	input.Severity = "catastrophic"
	if _, err := svc.Create(context.Background(), actor, "r1", "c1", input); !errors.Is(err, domainerrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestIllegalTransitionLeavesStoreUnmodified(t *testing.T) {
	svc, _, _, _ := newTestService()
	actor := ports.Actor{ID: "u1", DisplayName: "Asep"}

	created, err := svc.Create(context.Background(), actor, "r1", "c1", createInput())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	// draft -> resolved is not an edge in the siaga table.
	_, err = svc.Resolve(context.Background(), actor, "r2", "c2", created.BroadcastID)
	if !errors.Is(err, domainerrors.ErrIllegalTransition) {
		t.Fatalf("expected illegal transition, got %v", err)
	}
	after, err := svc.Get(context.Background(), created.BroadcastID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if after.State != entities.BroadcastStateDraft || after.EventHash != created.EventHash {
		t.Fatalf("store modified by rejected transition")
	}
	timeline, _ := svc.ListTimeline(context.Background(), created.BroadcastID)
	if len(timeline) != 1 {
		t.Fatalf("rejected transition appended an event")
	}
}

func TestLifecycleAuthorOnly(t *testing.T) {
	svc, _, _, _ := newTestService()
	author := ports.Actor{ID: "u1", DisplayName: "Asep"}
	intruder := ports.Actor{ID: "u2", DisplayName: "Budi"}

	created, err := svc.Create(context.Background(), author, "r1", "c1", createInput())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.Activate(context.Background(), intruder, "r2", "c2", created.BroadcastID); !errors.Is(err, domainerrors.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestResponderJoinIsOpenToAnyActor(t *testing.T) {
	svc, _, clock, _ := newTestService()
	author := ports.Actor{ID: "u1", DisplayName: "Asep"}
	responder := ports.Actor{ID: "u2", DisplayName: "Budi"}

	created, _ := svc.Create(context.Background(), author, "r1", "c1", createInput())
	clock.Advance(time.Second)
	active, err := svc.Activate(context.Background(), author, "r2", "c2", created.BroadcastID)
	if err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	clock.Advance(time.Second)
	joined, err := svc.JoinResponder(context.Background(), responder, "r3", "c3", created.BroadcastID)
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if joined.State != entities.BroadcastStateActive {
		t.Fatalf("responder join must not change state, got %s", joined.State)
	}
	if !joined.HasResponder("u2") {
		t.Fatalf("responder missing after join: %v", joined.Responders)
	}
	if joined.EventHash == active.EventHash {
		t.Fatalf("snapshot hash must change when responders change")
	}
	timeline, _ := svc.ListTimeline(context.Background(), created.BroadcastID)
	if len(timeline) != 3 {
		t.Fatalf("expected 3 events, got %d", len(timeline))
	}
	if timeline[2].EventType != entities.EventResponderJoined {
		t.Fatalf("expected responder_joined event, got %s", timeline[2].EventType)
	}
}

func TestResponderJoinTwiceRejected(t *testing.T) {
	svc, _, _, _ := newTestService()
	author := ports.Actor{ID: "u1", DisplayName: "Asep"}
	responder := ports.Actor{ID: "u2", DisplayName: "Budi"}

	created, _ := svc.Create(context.Background(), author, "r1", "c1", createInput())
	if _, err := svc.Activate(context.Background(), author, "r2", "c2", created.BroadcastID); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	if _, err := svc.JoinResponder(context.Background(), responder, "r3", "c3", created.BroadcastID); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if _, err := svc.JoinResponder(context.Background(), responder, "r4", "c4", created.BroadcastID); !errors.Is(err, domainerrors.ErrInvalidInput) {
		t.Fatalf("expected rejoin rejection, got %v", err)
	}
}

func TestResponderUpdateRequiresMembership(t *testing.T) {
	svc, _, _, _ := newTestService()
	author := ports.Actor{ID: "u1", DisplayName: "Asep"}
	responder := ports.Actor{ID: "u2", DisplayName: "Budi"}
	outsider := ports.Actor{ID: "u3", DisplayName: "Citra"}

	created, _ := svc.Create(context.Background(), author, "r1", "c1", createInput())
	if _, err := svc.Activate(context.Background(), author, "r2", "c2", created.BroadcastID); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	if _, err := svc.JoinResponder(context.Background(), responder, "r3", "c3", created.BroadcastID); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	if _, err := svc.UpdateResponder(context.Background(), outsider, "r4", "c4", created.BroadcastID, "on my way"); !errors.Is(err, domainerrors.ErrForbidden) {
		t.Fatalf("expected forbidden for non-responder, got %v", err)
	}
	updated, err := svc.UpdateResponder(context.Background(), responder, "r5", "c5", created.BroadcastID, "evacuating block 4")
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.State != entities.BroadcastStateActive {
		t.Fatalf("responder update must not change state, got %s", updated.State)
	}
	timeline, _ := svc.ListTimeline(context.Background(), created.BroadcastID)
	last := timeline[len(timeline)-1]
	if last.EventType != entities.EventResponderUpdated {
		t.Fatalf("expected responder_updated event, got %s", last.EventType)
	}
	if last.Metadata["note"] != "evacuating block 4" {
		t.Fatalf("expected note carried in metadata, got %v", last.Metadata)
	}
}

func TestCancelRecordsReason(t *testing.T) {
	svc, _, _, _ := newTestService()
	author := ports.Actor{ID: "u1", DisplayName: "Asep"}

	created, _ := svc.Create(context.Background(), author, "r1", "c1", createInput())
	cancelled, err := svc.Cancel(context.Background(), author, "r2", "c2", created.BroadcastID, "false alarm")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.State != entities.BroadcastStateCancelled {
		t.Fatalf("expected cancelled state, got %s", cancelled.State)
	}
	timeline, _ := svc.ListTimeline(context.Background(), created.BroadcastID)
	last := timeline[len(timeline)-1]
	if last.Metadata["reason"] != "false alarm" {
		t.Fatalf("expected reason carried in metadata, got %v", last.Metadata)
	}
	// Terminal: no further lifecycle moves.
	if _, err := svc.Activate(context.Background(), author, "r3", "c3", created.BroadcastID); !errors.Is(err, domainerrors.ErrIllegalTransition) {
		t.Fatalf("cancelled must be terminal, got %v", err)
	}
}

func TestResolvedIsTerminal(t *testing.T) {
	svc, _, _, _ := newTestService()
	author := ports.Actor{ID: "u1", DisplayName: "Asep"}

	created, _ := svc.Create(context.Background(), author, "r1", "c1", createInput())
	if _, err := svc.Activate(context.Background(), author, "r2", "c2", created.BroadcastID); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	resolved, err := svc.Resolve(context.Background(), author, "r3", "c3", created.BroadcastID)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolved.State != entities.BroadcastStateResolved {
		t.Fatalf("expected resolved state, got %s", resolved.State)
	}
	if _, err := svc.Cancel(context.Background(), author, "r4", "c4", created.BroadcastID, ""); !errors.Is(err, domainerrors.ErrIllegalTransition) {
		t.Fatalf("resolved must be terminal, got %v", err)
	}
}

func TestSnapshotHashDeterministic(t *testing.T) {
	broadcast := entities.SiagaBroadcast{
		BroadcastID:  "b1",
		AuthorID:     "u1",
		AuthorName:   "Asep",
		State:        entities.BroadcastStateDraft,
		Region:       "jakarta-pusat",
		Severity:     entities.SeverityWarning,
		Message:      "m",
		CreatedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		RequestID:    "r1",
		RetentionTag: "siaga:standard",
	}
	first, err := hashSnapshot(broadcast)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	second, _ := hashSnapshot(broadcast)
	if first != second {
		t.Fatalf("hash is not deterministic")
	}

	broadcast.Message = "m2"
	changed, _ := hashSnapshot(broadcast)
	if changed == first {
		t.Fatalf("hash must change when an audited field changes")
	}

	broadcast.Message = "m"
	broadcast.RetentionTag = "siaga:short"
	retagged, _ := hashSnapshot(broadcast)
	if retagged == first {
		t.Fatalf("hash must include the retention tag domain separator")
	}
}

func TestLegacyRowHashRecomputedOnRead(t *testing.T) {
	svc, store, clock, _ := newTestService()
	now := clock.Now()
	legacy := entities.SiagaBroadcast{
		BroadcastID:  "legacy-1",
		AuthorID:     "u1",
		AuthorName:   "Asep",
		State:        entities.BroadcastStateDraft,
		Region:       "bandung",
		Severity:     entities.SeverityInfo,
		Message:      "old row",
		CreatedAt:    now,
		UpdatedAt:    now,
		RequestID:    "r-legacy",
		RetentionTag: "siaga:standard",
	}
	firstEvent := entities.TimelineEvent{
		EventID:      "ev-legacy",
		BroadcastID:  "legacy-1",
		EventType:    entities.EventDrafted,
		ActorID:      "u1",
		ActorName:    "Asep",
		RequestID:    "r-legacy",
		OccurredAt:   now,
		RetentionTag: "siaga:standard",
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
	broken := entities.SiagaBroadcast{
		BroadcastID:  "broken-1",
		AuthorID:     "u1",
		AuthorName:   "Asep",
		State:        entities.BroadcastStateDraft,
		Region:       "bandung",
		Severity:     entities.SeverityInfo,
		Message:      "bad row",
		RetentionTag: "siaga:standard",
	}
	event := entities.TimelineEvent{
		EventID:      "ev-broken",
		BroadcastID:  "broken-1",
		EventType:    entities.EventDrafted,
		RetentionTag: "siaga:standard",
	}
	if err := store.Create(context.Background(), broken, event, nil); err != nil {
		t.Fatalf("seed broken row failed: %v", err)
	}
	if _, err := svc.Get(context.Background(), "broken-1"); !errors.Is(err, domainerrors.ErrIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
}

func TestTransitionMissingBroadcastIsNotFound(t *testing.T) {
	svc, _, _, _ := newTestService()
	actor := ports.Actor{ID: "u1", DisplayName: "Asep"}
	if _, err := svc.Activate(context.Background(), actor, "r1", "c1", "missing"); !errors.Is(err, domainerrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
