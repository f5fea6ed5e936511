package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"warga/contexts/moderation-safety/moderation-service/adapters/memory"
	"warga/contexts/moderation-safety/moderation-service/domain/entities"
	domainerrors "warga/contexts/moderation-safety/moderation-service/domain/errors"
	"warga/contexts/moderation-safety/moderation-service/ports"
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

func ingestInput() ports.IngestInput {
	return ports.IngestInput{
		SubjectID:   "post-42",
		ContentKind: "post",
		OwnerID:     "owner-1",
		OwnerName:   "Dewi",
	}
}

func TestIngestIdempotentReplay(t *testing.T) {
	svc, _, _, counters := newTestService()
	reporter := ports.Actor{ID: "u1", DisplayName: "Asep"}

	first, err := svc.Ingest(context.Background(), reporter, "r1", "c1", ingestInput())
	if err != nil {
		t.Fatalf("first ingest failed: %v", err)
	}
	second, err := svc.Ingest(context.Background(), reporter, "r1", "c1", ingestInput())
	if err != nil {
		t.Fatalf("replayed ingest failed: %v", err)
	}
	if first.RecordID != second.RecordID {
		t.Fatalf("expected same record id, got %s and %s", first.RecordID, second.RecordID)
	}
	timeline, err := svc.ListTimeline(context.Background(), first.RecordID)
	if err != nil {
		t.Fatalf("list timeline failed: %v", err)
	}
	if len(timeline) != 1 {
		t.Fatalf("expected one timeline event after replay, got %d", len(timeline))
	}
	if counters.Total("moderation_idempotent_replay") != 1 {
		t.Fatalf("expected one replay counted, got %d", counters.Total("moderation_idempotent_replay"))
	}
}

func TestIngestReplayReturnsCurrentSnapshot(t *testing.T) {
	svc, _, clock, _ := newTestService()
	reporter := ports.Actor{ID: "u1", DisplayName: "Asep"}
	moderator := ports.Actor{ID: "mod-1", DisplayName: "Budi"}

	created, err := svc.Ingest(context.Background(), reporter, "r1", "c1", ingestInput())
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	clock.Advance(time.Minute)
	if _, err := svc.QueueForReview(context.Background(), moderator, "r2", "c2", created.RecordID); err != nil {
		t.Fatalf("queue failed: %v", err)
	}

	replayed, err := svc.Ingest(context.Background(), reporter, "r1", "c1", ingestInput())
	if err != nil {
		t.Fatalf("replayed ingest failed: %v", err)
	}
	if replayed.State != entities.RecordStateUnderReview {
		t.Fatalf("replay must return the current snapshot, got state %s", replayed.State)
	}
	timeline, _ := svc.ListTimeline(context.Background(), created.RecordID)
	if len(timeline) != 2 {
		t.Fatalf("replay must not append events, got %d", len(timeline))
	}
}

func TestFastPathDecisionIsAutoDecided(t *testing.T) {
	svc, _, _, counters := newTestService()
	reporter := ports.Actor{ID: "u1", DisplayName: "Asep"}
	moderator := ports.Actor{ID: "mod-1", DisplayName: "Budi"}

	created, _ := svc.Ingest(context.Background(), reporter, "r1", "c1", ingestInput())
	decided, err := svc.Publish(context.Background(), moderator, "r2", "c2", created.RecordID, ports.DecideInput{})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if decided.State != entities.RecordStatePublished {
		t.Fatalf("expected published, got %s", decided.State)
	}
	if !decided.AutoDecided {
		t.Fatalf("processing -> published must mark the record auto-decided")
	}
	if decided.ModeratorID != "mod-1" {
		t.Fatalf("expected moderator assigned, got %q", decided.ModeratorID)
	}
	if counters.Total("moderation_auto_decided") != 1 {
		t.Fatalf("expected auto-decide counted, got %d", counters.Total("moderation_auto_decided"))
	}
}

func TestReviewedDecisionIsNotAutoDecided(t *testing.T) {
	svc, _, _, _ := newTestService()
	reporter := ports.Actor{ID: "u1", DisplayName: "Asep"}
	moderator := ports.Actor{ID: "mod-1", DisplayName: "Budi"}

	created, _ := svc.Ingest(context.Background(), reporter, "r1", "c1", ingestInput())
	if _, err := svc.QueueForReview(context.Background(), moderator, "r2", "c2", created.RecordID); err != nil {
		t.Fatalf("queue failed: %v", err)
	}
	decided, err := svc.Reject(context.Background(), moderator, "r3", "c3", created.RecordID, ports.DecideInput{Reason: "doxxing", Severity: entities.SeverityHigh})
	if err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if decided.State != entities.RecordStateRejected {
		t.Fatalf("expected rejected, got %s", decided.State)
	}
	if decided.AutoDecided {
		t.Fatalf("reviewed decision must not be auto-decided")
	}
	if decided.Reason != "doxxing" || decided.Severity != entities.SeverityHigh {
		t.Fatalf("decision fields not recorded: %+v", decided)
	}
	timeline, _ := svc.ListTimeline(context.Background(), created.RecordID)
	last := timeline[len(timeline)-1]
	if last.Metadata["reason"] != "doxxing" {
		t.Fatalf("expected reason carried in metadata, got %v", last.Metadata)
	}
}

func TestRejectRequiresReason(t *testing.T) {
	svc, _, _, _ := newTestService()
	reporter := ports.Actor{ID: "u1", DisplayName: "Asep"}
	moderator := ports.Actor{ID: "mod-1", DisplayName: "Budi"}

	created, _ := svc.Ingest(context.Background(), reporter, "r1", "c1", ingestInput())
	if _, err := svc.Reject(context.Background(), moderator, "r2", "c2", created.RecordID, ports.DecideInput{}); !errors.Is(err, domainerrors.ErrReasonRequired) {
		t.Fatalf("expected reason required, got %v", err)
	}
	after, _ := svc.Get(context.Background(), created.RecordID)
	if after.State != entities.RecordStateProcessing {
		t.Fatalf("rejected-without-reason must not move state, got %s", after.State)
	}
}

func TestDecisionStatesAreTerminal(t *testing.T) {
	svc, _, _, _ := newTestService()
	reporter := ports.Actor{ID: "u1", DisplayName: "Asep"}
	moderator := ports.Actor{ID: "mod-1", DisplayName: "Budi"}

	created, _ := svc.Ingest(context.Background(), reporter, "r1", "c1", ingestInput())
	if _, err := svc.Publish(context.Background(), moderator, "r2", "c2", created.RecordID, ports.DecideInput{}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if _, err := svc.Reject(context.Background(), moderator, "r3", "c3", created.RecordID, ports.DecideInput{Reason: "spam"}); !errors.Is(err, domainerrors.ErrIllegalTransition) {
		t.Fatalf("published must be terminal, got %v", err)
	}
	if _, err := svc.QueueForReview(context.Background(), moderator, "r4", "c4", created.RecordID); !errors.Is(err, domainerrors.ErrIllegalTransition) {
		t.Fatalf("published must be terminal, got %v", err)
	}
}

func TestIllegalTransitionLeavesStoreUnmodified(t *testing.T) {
	svc, _, _, _ := newTestService()
	reporter := ports.Actor{ID: "u1", DisplayName: "Asep"}
	moderator := ports.Actor{ID: "mod-1", DisplayName: "Budi"}

	created, _ := svc.Ingest(context.Background(), reporter, "r1", "c1", ingestInput())
	if _, err := svc.QueueForReview(context.Background(), moderator, "r2", "c2", created.RecordID); err != nil {
		t.Fatalf("queue failed: %v", err)
	}
	before, _ := svc.Get(context.Background(), created.RecordID)
	// under_review -> under_review is not an edge.
	if _, err := svc.QueueForReview(context.Background(), moderator, "r3", "c3", created.RecordID); !errors.Is(err, domainerrors.ErrIllegalTransition) {
		t.Fatalf("expected illegal transition, got %v", err)
	}
	after, _ := svc.Get(context.Background(), created.RecordID)
	if after.State != before.State || after.EventHash != before.EventHash {
		t.Fatalf("store modified by rejected transition")
	}
	timeline, _ := svc.ListTimeline(context.Background(), created.RecordID)
	if len(timeline) != 2 {
		t.Fatalf("rejected transition appended an event")
	}
}

func TestSnapshotHashDeterministic(t *testing.T) {
	record := entities.ModerationRecord{
		RecordID:     "m1",
		SubjectID:    "post-42",
		ContentKind:  "post",
		OwnerID:      "owner-1",
		OwnerName:    "Dewi",
		State:        entities.RecordStateProcessing,
		CreatedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		RequestID:    "r1",
		RetentionTag: "moderation:standard",
	}
	first, err := hashSnapshot(record)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	second, _ := hashSnapshot(record)
	if first != second {
		t.Fatalf("hash is not deterministic")
	}

	record.Notes = "needs a second look"
	changed, _ := hashSnapshot(record)
	if changed == first {
		t.Fatalf("hash must change when an audited field changes")
	}

	record.Notes = ""
	record.RetentionTag = "moderation:short"
	retagged, _ := hashSnapshot(record)
	if retagged == first {
		t.Fatalf("hash must include the retention tag domain separator")
	}
}

func TestLegacyRowHashRecomputedOnRead(t *testing.T) {
	svc, store, clock, _ := newTestService()
	now := clock.Now()
	legacy := entities.ModerationRecord{
		RecordID:     "legacy-1",
		SubjectID:    "post-9",
		ContentKind:  "comment",
		OwnerID:      "owner-1",
		OwnerName:    "Dewi",
		State:        entities.RecordStateProcessing,
		CreatedAt:    now,
		UpdatedAt:    now,
		RequestID:    "r-legacy",
		RetentionTag: "moderation:standard",
	}
	firstEvent := entities.TimelineEvent{
		EventID:      "ev-legacy",
		RecordID:     "legacy-1",
		EventType:    entities.EventReceived,
		ActorID:      "u1",
		ActorName:    "Asep",
		RequestID:    "r-legacy",
		OccurredAt:   now,
		RetentionTag: "moderation:standard",
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
}

func TestLegacyRowWithBrokenTimestampFailsRead(t *testing.T) {
	svc, store, _, _ := newTestService()
	broken := entities.ModerationRecord{
		RecordID:     "broken-1",
		SubjectID:    "post-9",
		ContentKind:  "comment",
		OwnerID:      "owner-1",
		State:        entities.RecordStateProcessing,
		RetentionTag: "moderation:standard",
	}
	event := entities.TimelineEvent{
		EventID:      "ev-broken",
		RecordID:     "broken-1",
		EventType:    entities.EventReceived,
		RetentionTag: "moderation:standard",
	}
	if err := store.Create(context.Background(), broken, event, nil); err != nil {
		t.Fatalf("seed broken row failed: %v", err)
	}
	if _, err := svc.Get(context.Background(), "broken-1"); !errors.Is(err, domainerrors.ErrIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
}

func TestListByOwnerReturnsModeratorRecords(t *testing.T) {
	svc, _, _, _ := newTestService()
	reporter := ports.Actor{ID: "u1", DisplayName: "Asep"}
	moderator := ports.Actor{ID: "mod-1", DisplayName: "Budi"}

	first, _ := svc.Ingest(context.Background(), reporter, "r1", "c1", ingestInput())
	other := ingestInput()
	other.SubjectID = "post-43"
	if _, err := svc.Ingest(context.Background(), reporter, "r2", "c2", other); err != nil {
		t.Fatalf("second ingest failed: %v", err)
	}
	if _, err := svc.Publish(context.Background(), moderator, "r3", "c3", first.RecordID, ports.DecideInput{}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	items, err := svc.ListByOwner(context.Background(), "mod-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(items) != 1 || items[0].RecordID != first.RecordID {
		t.Fatalf("expected only the decided record, got %+v", items)
	}
}

func TestTransitionMissingRecordIsNotFound(t *testing.T) {
	svc, _, _, _ := newTestService()
	moderator := ports.Actor{ID: "mod-1", DisplayName: "Budi"}
	if _, err := svc.QueueForReview(context.Background(), moderator, "r1", "c1", "missing"); !errors.Is(err, domainerrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
