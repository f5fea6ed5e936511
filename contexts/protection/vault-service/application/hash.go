package application

import (
	"fmt"

	"warga/contexts/protection/vault-service/domain/entities"
	domainerrors "warga/contexts/protection/vault-service/domain/errors"
	"warga/internal/shared/audithash"
	"warga/internal/shared/canonical"
)

// snapshotPayload must stay in lock-step with entities.VaultEntry: every
// audited field on the entity appears here. Feedback counts are derived and
// deliberately excluded.
func snapshotPayload(e entities.VaultEntry) canonical.VaultSnapshotPayload {
	trustees := e.Trustees
	if trustees == nil {
		trustees = []string{}
	}
	var expires int64
	if !e.ExpiresAt.IsZero() {
		expires = e.ExpiresAt.UnixMilli()
	}
	return canonical.VaultSnapshotPayload{
		EntryID:       e.EntryID,
		OwnerID:       e.OwnerID,
		OwnerName:     e.OwnerName,
		State:         string(e.State),
		Title:         e.Title,
		SealedPayload: e.SealedPayload,
		Trustees:      trustees,
		ExpiresAtMs:   expires,
		CreatedAtMs:   e.CreatedAt.UnixMilli(),
		UpdatedAtMs:   e.UpdatedAt.UnixMilli(),
		RequestID:     e.RequestID,
		CorrelationID: e.CorrelationID,
	}
}

func eventPayload(ev entities.TimelineEvent) canonical.EventPayload {
	metadata := ev.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return canonical.EventPayload{
		EventID:       ev.EventID,
		EntityID:      ev.EntryID,
		EventType:     string(ev.EventType),
		ActorID:       ev.ActorID,
		ActorName:     ev.ActorName,
		RequestID:     ev.RequestID,
		CorrelationID: ev.CorrelationID,
		OccurredAtMs:  ev.OccurredAt.UnixMilli(),
		Metadata:      metadata,
	}
}

func hashSnapshot(e entities.VaultEntry) (string, error) {
	return audithash.Compute(snapshotPayload(e), e.RetentionTag)
}

func hashEvent(ev entities.TimelineEvent) (string, error) {
	return audithash.Compute(eventPayload(ev), ev.RetentionTag)
}

// ensureEntryHash backfills the hash for rows stored before hashing shipped.
// A row whose hash cannot be recomputed from its own fields is unreadable: the
// caller gets an integrity error naming the entry, never an unhashed record.
func ensureEntryHash(e *entities.VaultEntry) error {
	if e.EventHash != "" {
		return nil
	}
	if e.CreatedAt.IsZero() || e.UpdatedAt.IsZero() {
		return fmt.Errorf("%w: entry %s has unusable timestamps", domainerrors.ErrIntegrity, e.EntryID)
	}
	digest, err := hashSnapshot(*e)
	if err != nil {
		return fmt.Errorf("%w: entry %s: %v", domainerrors.ErrIntegrity, e.EntryID, err)
	}
	e.EventHash = digest
	return nil
}

func ensureEventHash(ev *entities.TimelineEvent) error {
	if ev.EventHash != "" {
		return nil
	}
	if ev.OccurredAt.IsZero() {
		return fmt.Errorf("%w: event %s for entry %s has unusable timestamps", domainerrors.ErrIntegrity, ev.EventID, ev.EntryID)
	}
	digest, err := hashEvent(*ev)
	if err != nil {
		return fmt.Errorf("%w: event %s for entry %s: %v", domainerrors.ErrIntegrity, ev.EventID, ev.EntryID, err)
	}
	ev.EventHash = digest
	return nil
}
