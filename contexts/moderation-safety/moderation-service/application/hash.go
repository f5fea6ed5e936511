package application

import (
	"fmt"

	"warga/contexts/moderation-safety/moderation-service/domain/entities"
	domainerrors "warga/contexts/moderation-safety/moderation-service/domain/errors"
	"warga/internal/shared/audithash"
	"warga/internal/shared/canonical"
)

// snapshotPayload must stay in lock-step with entities.ModerationRecord.
func snapshotPayload(r entities.ModerationRecord) canonical.ModerationSnapshotPayload {
	return canonical.ModerationSnapshotPayload{
		RecordID:      r.RecordID,
		SubjectID:     r.SubjectID,
		ContentKind:   r.ContentKind,
		OwnerID:       r.OwnerID,
		OwnerName:     r.OwnerName,
		State:         string(r.State),
		ModeratorID:   r.ModeratorID,
		ModeratorName: r.ModeratorName,
		Reason:        r.Reason,
		Notes:         r.Notes,
		Severity:      string(r.Severity),
		AutoDecided:   r.AutoDecided,
		CreatedAtMs:   r.CreatedAt.UnixMilli(),
		UpdatedAtMs:   r.UpdatedAt.UnixMilli(),
		RequestID:     r.RequestID,
		CorrelationID: r.CorrelationID,
	}
}

func eventPayload(ev entities.TimelineEvent) canonical.EventPayload {
	metadata := ev.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return canonical.EventPayload{
		EventID:       ev.EventID,
		EntityID:      ev.RecordID,
		EventType:     string(ev.EventType),
		ActorID:       ev.ActorID,
		ActorName:     ev.ActorName,
		RequestID:     ev.RequestID,
		CorrelationID: ev.CorrelationID,
		OccurredAtMs:  ev.OccurredAt.UnixMilli(),
		Metadata:      metadata,
	}
}

func hashSnapshot(r entities.ModerationRecord) (string, error) {
	return audithash.Compute(snapshotPayload(r), r.RetentionTag)
}

func hashEvent(ev entities.TimelineEvent) (string, error) {
	return audithash.Compute(eventPayload(ev), ev.RetentionTag)
}

func ensureRecordHash(r *entities.ModerationRecord) error {
	if r.EventHash != "" {
		return nil
	}
	if r.CreatedAt.IsZero() || r.UpdatedAt.IsZero() {
		return fmt.Errorf("%w: record %s has unusable timestamps", domainerrors.ErrIntegrity, r.RecordID)
	}
	digest, err := hashSnapshot(*r)
	if err != nil {
		return fmt.Errorf("%w: record %s: %v", domainerrors.ErrIntegrity, r.RecordID, err)
	}
	r.EventHash = digest
	return nil
}

func ensureEventHash(ev *entities.TimelineEvent) error {
	if ev.EventHash != "" {
		return nil
	}
	if ev.OccurredAt.IsZero() {
		return fmt.Errorf("%w: event %s for record %s has unusable timestamps", domainerrors.ErrIntegrity, ev.EventID, ev.RecordID)
	}
	digest, err := hashEvent(*ev)
	if err != nil {
		return fmt.Errorf("%w: event %s for record %s: %v", domainerrors.ErrIntegrity, ev.EventID, ev.RecordID, err)
	}
	ev.EventHash = digest
	return nil
}
