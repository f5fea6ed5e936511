package application

import (
	"fmt"

	"warga/contexts/emergency/siaga-service/domain/entities"
	domainerrors "warga/contexts/emergency/siaga-service/domain/errors"
	"warga/internal/shared/audithash"
	"warga/internal/shared/canonical"
)

// snapshotPayload must stay in lock-step with entities.SiagaBroadcast.
func snapshotPayload(b entities.SiagaBroadcast) canonical.SiagaSnapshotPayload {
	responders := b.Responders
	if responders == nil {
		responders = []string{}
	}
	return canonical.SiagaSnapshotPayload{
		BroadcastID:   b.BroadcastID,
		AuthorID:      b.AuthorID,
		AuthorName:    b.AuthorName,
		State:         string(b.State),
		Region:        b.Region,
		Severity:      string(b.Severity),
		Message:       b.Message,
		Responders:    responders,
		CreatedAtMs:   b.CreatedAt.UnixMilli(),
		UpdatedAtMs:   b.UpdatedAt.UnixMilli(),
		RequestID:     b.RequestID,
		CorrelationID: b.CorrelationID,
	}
}

func eventPayload(ev entities.TimelineEvent) canonical.EventPayload {
	metadata := ev.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return canonical.EventPayload{
		EventID:       ev.EventID,
		EntityID:      ev.BroadcastID,
		EventType:     string(ev.EventType),
		ActorID:       ev.ActorID,
		ActorName:     ev.ActorName,
		RequestID:     ev.RequestID,
		CorrelationID: ev.CorrelationID,
		OccurredAtMs:  ev.OccurredAt.UnixMilli(),
		Metadata:      metadata,
	}
}

func hashSnapshot(b entities.SiagaBroadcast) (string, error) {
	return audithash.Compute(snapshotPayload(b), b.RetentionTag)
}

func hashEvent(ev entities.TimelineEvent) (string, error) {
	return audithash.Compute(eventPayload(ev), ev.RetentionTag)
}

func ensureBroadcastHash(b *entities.SiagaBroadcast) error {
	if b.EventHash != "" {
		return nil
	}
	if b.CreatedAt.IsZero() || b.UpdatedAt.IsZero() {
		return fmt.Errorf("%w: broadcast %s has unusable timestamps", domainerrors.ErrIntegrity, b.BroadcastID)
	}
	digest, err := hashSnapshot(*b)
	if err != nil {
		return fmt.Errorf("%w: broadcast %s: %v", domainerrors.ErrIntegrity, b.BroadcastID, err)
	}
	b.EventHash = digest
	return nil
}

func ensureEventHash(ev *entities.TimelineEvent) error {
	if ev.EventHash != "" {
		return nil
	}
	if ev.OccurredAt.IsZero() {
		return fmt.Errorf("%w: event %s for broadcast %s has unusable timestamps", domainerrors.ErrIntegrity, ev.EventID, ev.BroadcastID)
	}
	digest, err := hashEvent(*ev)
	if err != nil {
		return fmt.Errorf("%w: event %s for broadcast %s: %v", domainerrors.ErrIntegrity, ev.EventID, ev.BroadcastID, err)
	}
	ev.EventHash = digest
	return nil
}
