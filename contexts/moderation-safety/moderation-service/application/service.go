package application

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"warga/contexts/moderation-safety/moderation-service/domain/entities"
	domainerrors "warga/contexts/moderation-safety/moderation-service/domain/errors"
	"warga/contexts/moderation-safety/moderation-service/ports"
	"warga/internal/shared/events"
	"warga/internal/shared/idempotency"
	"warga/internal/shared/lifecycle"
)

const (
	defaultRetentionTag = "moderation:standard"

	counterReplay     = "moderation_idempotent_replay"
	counterTransition = "moderation_transition"
	counterAutoDecide = "moderation_auto_decided"
)

type Service struct {
	Store   ports.RecordStore
	Outbox  ports.OutboxStore
	Clock   ports.Clock
	IDGen   ports.IDGenerator
	Metrics ports.Metrics
	Logger  *slog.Logger
}

// Ingest registers reported content in the processing state, or replays the
// stored outcome for a retried (actor, request id) pair.
func (s Service) Ingest(ctx context.Context, actor ports.Actor, requestID, correlationID string, input ports.IngestInput) (entities.ModerationRecord, error) {
	actor = trimActor(actor)
	requestID = strings.TrimSpace(requestID)
	input.RecordID = strings.TrimSpace(input.RecordID)
	input.SubjectID = strings.TrimSpace(input.SubjectID)
	input.ContentKind = strings.TrimSpace(input.ContentKind)
	input.OwnerID = strings.TrimSpace(input.OwnerID)
	input.OwnerName = strings.TrimSpace(input.OwnerName)

	if requestID == "" {
		return entities.ModerationRecord{}, domainerrors.ErrRequestIDRequired
	}
	if actor.ID == "" {
		return entities.ModerationRecord{}, domainerrors.ErrInvalidInput
	}

	actorKey := idempotency.ActorKey(actor.ID, requestID)
	if prior, ok, err := s.resolve(ctx, actorKey); err != nil || ok {
		return prior, err
	}
	if input.RecordID != "" {
		if prior, ok, err := s.resolve(ctx, idempotency.EntityKey(input.RecordID, requestID)); err != nil || ok {
			return prior, err
		}
	}

	recordID := input.RecordID
	if recordID == "" {
		generated, err := s.IDGen.NewID(ctx)
		if err != nil {
			return entities.ModerationRecord{}, err
		}
		recordID = generated
	}
	retentionTag := strings.TrimSpace(input.RetentionTag)
	if retentionTag == "" {
		retentionTag = defaultRetentionTag
	}

	now := s.Clock.Now().UTC()
	record := entities.ModerationRecord{
		RecordID:      recordID,
		SubjectID:     input.SubjectID,
		ContentKind:   input.ContentKind,
		OwnerID:       input.OwnerID,
		OwnerName:     input.OwnerName,
		State:         entities.RecordStateProcessing,
		Severity:      input.Severity,
		CreatedAt:     now,
		UpdatedAt:     now,
		RequestID:     requestID,
		CorrelationID: correlationID,
		RetentionTag:  retentionTag,
	}
	if !record.ValidateCreate() {
		return entities.ModerationRecord{}, domainerrors.ErrInvalidInput
	}

	event, err := s.buildEvent(ctx, record, entities.EventReceived, actor, requestID, correlationID, now, nil)
	if err != nil {
		return entities.ModerationRecord{}, err
	}
	if record.EventHash, err = hashSnapshot(record); err != nil {
		return entities.ModerationRecord{}, err
	}

	keys := []string{actorKey, idempotency.EntityKey(recordID, requestID)}
	if err := s.Store.Create(ctx, record, event, keys); err != nil {
		if errors.Is(err, domainerrors.ErrDedupClaimed) {
			if prior, ok, rerr := s.resolve(ctx, actorKey); rerr == nil && ok {
				return prior, nil
			}
			return entities.ModerationRecord{}, domainerrors.ErrConflict
		}
		return entities.ModerationRecord{}, err
	}

	s.publish(ctx, event, record.RetentionTag)
	s.count(ctx, counterTransition, 1, map[string]string{"event": string(entities.EventReceived)})
	ResolveLogger(s.Logger).Info("moderation record ingested",
		"event", "moderation_record_ingested",
		"module", "moderation-safety/moderation-service",
		"layer", "application",
		"record_id", record.RecordID,
		"subject_id", record.SubjectID,
		"content_kind", record.ContentKind,
		"correlation_id", correlationID,
	)
	return record, nil
}

// QueueForReview moves a processing record into the human review queue.
func (s Service) QueueForReview(ctx context.Context, actor ports.Actor, requestID, correlationID, recordID string) (entities.ModerationRecord, error) {
	return s.transition(ctx, actor, requestID, correlationID, recordID, entities.EventQueuedForReview, nil, nil)
}

// Publish clears the content. Decisions taken straight from processing are
// flagged as auto-decided.
func (s Service) Publish(ctx context.Context, actor ports.Actor, requestID, correlationID, recordID string, input ports.DecideInput) (entities.ModerationRecord, error) {
	return s.decide(ctx, actor, requestID, correlationID, recordID, entities.EventPublished, input)
}

// Reject takes the content down. A reason is mandatory.
func (s Service) Reject(ctx context.Context, actor ports.Actor, requestID, correlationID, recordID string, input ports.DecideInput) (entities.ModerationRecord, error) {
	if strings.TrimSpace(input.Reason) == "" {
		return entities.ModerationRecord{}, domainerrors.ErrReasonRequired
	}
	return s.decide(ctx, actor, requestID, correlationID, recordID, entities.EventRejected, input)
}

func (s Service) decide(ctx context.Context, actor ports.Actor, requestID, correlationID, recordID string, eventType entities.EventType, input ports.DecideInput) (entities.ModerationRecord, error) {
	input.Reason = strings.TrimSpace(input.Reason)
	input.Notes = strings.TrimSpace(input.Notes)
	if input.Severity != "" && !entities.ValidSeverity(input.Severity) {
		return entities.ModerationRecord{}, domainerrors.ErrInvalidInput
	}

	mutate := func(r *entities.ModerationRecord) error {
		r.AutoDecided = r.State == entities.RecordStateProcessing
		r.ModeratorID = strings.TrimSpace(actor.ID)
		r.ModeratorName = strings.TrimSpace(actor.DisplayName)
		r.Reason = input.Reason
		r.Notes = input.Notes
		if input.Severity != "" {
			r.Severity = input.Severity
		}
		return nil
	}
	meta := map[string]string{}
	if input.Reason != "" {
		meta["reason"] = input.Reason
	}
	if input.Notes != "" {
		meta["notes"] = input.Notes
	}
	if len(meta) == 0 {
		meta = nil
	}
	record, err := s.transition(ctx, actor, requestID, correlationID, recordID, eventType, mutate, meta)
	if err != nil {
		return entities.ModerationRecord{}, err
	}
	if record.AutoDecided {
		s.count(ctx, counterAutoDecide, 1, map[string]string{"event": string(eventType)})
	}
	return record, nil
}

func (s Service) Get(ctx context.Context, recordID string) (entities.ModerationRecord, error) {
	record, ok, err := s.Store.Get(ctx, strings.TrimSpace(recordID))
	if err != nil {
		return entities.ModerationRecord{}, err
	}
	if !ok {
		return entities.ModerationRecord{}, domainerrors.ErrNotFound
	}
	if err := ensureRecordHash(&record); err != nil {
		return entities.ModerationRecord{}, err
	}
	return record, nil
}

// ListByOwner lists the records decided or being handled by a moderator.
func (s Service) ListByOwner(ctx context.Context, moderatorID string) ([]entities.ModerationRecord, error) {
	moderatorID = strings.TrimSpace(moderatorID)
	if moderatorID == "" {
		return nil, domainerrors.ErrInvalidInput
	}
	items, err := s.Store.ListByOwner(ctx, moderatorID)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if err := ensureRecordHash(&items[i]); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (s Service) ListTimeline(ctx context.Context, recordID string) ([]entities.TimelineEvent, error) {
	timeline, err := s.Store.ListTimeline(ctx, strings.TrimSpace(recordID))
	if err != nil {
		return nil, err
	}
	for i := range timeline {
		if err := ensureEventHash(&timeline[i]); err != nil {
			return nil, err
		}
	}
	return timeline, nil
}

func (s Service) transition(
	ctx context.Context,
	actor ports.Actor,
	requestID, correlationID, recordID string,
	eventType entities.EventType,
	mutate func(*entities.ModerationRecord) error,
	metadata map[string]string,
) (entities.ModerationRecord, error) {
	actor = trimActor(actor)
	requestID = strings.TrimSpace(requestID)
	recordID = strings.TrimSpace(recordID)

	if requestID == "" {
		return entities.ModerationRecord{}, domainerrors.ErrRequestIDRequired
	}
	if actor.ID == "" || recordID == "" {
		return entities.ModerationRecord{}, domainerrors.ErrInvalidInput
	}

	dedupKey := idempotency.EntityKey(recordID, requestID)
	if prior, ok, err := s.resolve(ctx, dedupKey); err != nil || ok {
		return prior, err
	}

	record, ok, err := s.Store.Get(ctx, recordID)
	if err != nil {
		return entities.ModerationRecord{}, err
	}
	if !ok {
		return entities.ModerationRecord{}, domainerrors.ErrNotFound
	}

	next, err := entities.StateMachine.Apply(lifecycle.State(record.State), lifecycle.Event(eventType))
	if err != nil {
		return entities.ModerationRecord{}, domainerrors.ErrIllegalTransition
	}
	if mutate != nil {
		if err := mutate(&record); err != nil {
			return entities.ModerationRecord{}, err
		}
	}

	now := s.Clock.Now().UTC()
	record.State = entities.RecordState(next)
	record.UpdatedAt = now
	record.RequestID = requestID
	record.CorrelationID = correlationID

	event, err := s.buildEvent(ctx, record, eventType, actor, requestID, correlationID, now, metadata)
	if err != nil {
		return entities.ModerationRecord{}, err
	}
	if record.EventHash, err = hashSnapshot(record); err != nil {
		return entities.ModerationRecord{}, err
	}

	if err := s.Store.Update(ctx, record, event, dedupKey); err != nil {
		if errors.Is(err, domainerrors.ErrDedupClaimed) {
			if prior, ok, rerr := s.resolve(ctx, dedupKey); rerr == nil && ok {
				return prior, nil
			}
			return entities.ModerationRecord{}, domainerrors.ErrConflict
		}
		return entities.ModerationRecord{}, err
	}

	s.publish(ctx, event, record.RetentionTag)
	s.count(ctx, counterTransition, 1, map[string]string{"event": string(eventType)})
	ResolveLogger(s.Logger).Info("moderation record transitioned",
		"event", "moderation_record_transitioned",
		"module", "moderation-safety/moderation-service",
		"layer", "application",
		"record_id", record.RecordID,
		"event_type", string(eventType),
		"state", string(record.State),
		"auto_decided", record.AutoDecided,
		"correlation_id", correlationID,
	)
	return record, nil
}

func (s Service) resolve(ctx context.Context, key string) (entities.ModerationRecord, bool, error) {
	record, ok, err := s.Store.GetByDedupKey(ctx, key)
	if err != nil || !ok {
		return entities.ModerationRecord{}, false, err
	}
	if err := ensureRecordHash(&record); err != nil {
		return entities.ModerationRecord{}, false, err
	}
	s.count(ctx, counterReplay, 1, nil)
	ResolveLogger(s.Logger).Debug("moderation idempotent replay",
		"event", "moderation_idempotent_replay",
		"module", "moderation-safety/moderation-service",
		"layer", "application",
		"record_id", record.RecordID,
	)
	return record, true, nil
}

func (s Service) buildEvent(
	ctx context.Context,
	record entities.ModerationRecord,
	eventType entities.EventType,
	actor ports.Actor,
	requestID, correlationID string,
	occurredAt time.Time,
	metadata map[string]string,
) (entities.TimelineEvent, error) {
	eventID, err := s.IDGen.NewID(ctx)
	if err != nil {
		return entities.TimelineEvent{}, err
	}
	event := entities.TimelineEvent{
		EventID:       eventID,
		RecordID:      record.RecordID,
		EventType:     eventType,
		ActorID:       actor.ID,
		ActorName:     actor.DisplayName,
		RequestID:     requestID,
		CorrelationID: correlationID,
		OccurredAt:    occurredAt,
		Metadata:      metadata,
		RetentionTag:  record.RetentionTag,
	}
	if event.EventHash, err = hashEvent(event); err != nil {
		return entities.TimelineEvent{}, err
	}
	return event, nil
}

func (s Service) publish(ctx context.Context, event entities.TimelineEvent, retentionTag string) {
	if s.Outbox == nil {
		return
	}
	envelope := events.Envelope{
		EventID:        event.EventID,
		EventType:      string(event.EventType),
		SourceService:  "moderation-safety/moderation-service",
		OccurredAtUTC:  event.OccurredAt,
		CorrelationID:  event.CorrelationID,
		EntityType:     "moderation_record",
		EntityID:       event.RecordID,
		RetentionTag:   retentionTag,
		PartitionKey:   event.RecordID,
		PayloadVersion: 1,
		Payload:        eventPayload(event),
	}
	if err := s.Outbox.AppendOutbox(ctx, envelope); err != nil {
		ResolveLogger(s.Logger).Warn("moderation outbox append failed",
			"event", "moderation_outbox_append_failed",
			"module", "moderation-safety/moderation-service",
			"layer", "application",
			"record_id", event.RecordID,
			"error", err.Error(),
		)
	}
}

func (s Service) count(ctx context.Context, counter string, delta int64, attrs map[string]string) {
	if s.Metrics != nil {
		s.Metrics.Add(ctx, counter, delta, attrs)
	}
}

func trimActor(actor ports.Actor) ports.Actor {
	actor.ID = strings.TrimSpace(actor.ID)
	actor.DisplayName = strings.TrimSpace(actor.DisplayName)
	return actor
}
