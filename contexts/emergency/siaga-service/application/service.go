package application

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"warga/contexts/emergency/siaga-service/domain/entities"
	domainerrors "warga/contexts/emergency/siaga-service/domain/errors"
	"warga/contexts/emergency/siaga-service/ports"
	"warga/internal/shared/events"
	"warga/internal/shared/idempotency"
	"warga/internal/shared/lifecycle"
)

const (
	defaultRetentionTag = "siaga:standard"

	counterReplay     = "siaga_idempotent_replay"
	counterTransition = "siaga_transition"
)

type Service struct {
	Store   ports.BroadcastStore
	Outbox  ports.OutboxStore
	Clock   ports.Clock
	IDGen   ports.IDGenerator
	Metrics ports.Metrics
	Logger  *slog.Logger
}

// Create drafts a new broadcast, or replays the stored outcome for a retried
// (actor, request id) pair. Replays return the current snapshot.
func (s Service) Create(ctx context.Context, actor ports.Actor, requestID, correlationID string, input ports.CreateInput) (entities.SiagaBroadcast, error) {
	actor = trimActor(actor)
	requestID = strings.TrimSpace(requestID)
	input.BroadcastID = strings.TrimSpace(input.BroadcastID)
	input.Region = strings.TrimSpace(input.Region)
	input.Message = strings.TrimSpace(input.Message)

	if requestID == "" {
		return entities.SiagaBroadcast{}, domainerrors.ErrRequestIDRequired
	}
	if actor.ID == "" {
		return entities.SiagaBroadcast{}, domainerrors.ErrInvalidInput
	}

	actorKey := idempotency.ActorKey(actor.ID, requestID)
	if prior, ok, err := s.resolve(ctx, actorKey); err != nil || ok {
		return prior, err
	}
	if input.BroadcastID != "" {
		if prior, ok, err := s.resolve(ctx, idempotency.EntityKey(input.BroadcastID, requestID)); err != nil || ok {
			return prior, err
		}
	}

	broadcastID := input.BroadcastID
	if broadcastID == "" {
		generated, err := s.IDGen.NewID(ctx)
		if err != nil {
			return entities.SiagaBroadcast{}, err
		}
		broadcastID = generated
	}
	retentionTag := strings.TrimSpace(input.RetentionTag)
	if retentionTag == "" {
		retentionTag = defaultRetentionTag
	}

	now := s.Clock.Now().UTC()
	broadcast := entities.SiagaBroadcast{
		BroadcastID:   broadcastID,
		AuthorID:      actor.ID,
		AuthorName:    actor.DisplayName,
		State:         entities.BroadcastStateDraft,
		Region:        input.Region,
		Severity:      input.Severity,
		Message:       input.Message,
		CreatedAt:     now,
		UpdatedAt:     now,
		RequestID:     requestID,
		CorrelationID: correlationID,
		RetentionTag:  retentionTag,
	}
	if !broadcast.ValidateCreate() {
		return entities.SiagaBroadcast{}, domainerrors.ErrInvalidInput
	}

	event, err := s.buildEvent(ctx, broadcast, entities.EventDrafted, actor, requestID, correlationID, now, nil)
	if err != nil {
		return entities.SiagaBroadcast{}, err
	}
	if broadcast.EventHash, err = hashSnapshot(broadcast); err != nil {
		return entities.SiagaBroadcast{}, err
	}

	keys := []string{actorKey, idempotency.EntityKey(broadcastID, requestID)}
	if err := s.Store.Create(ctx, broadcast, event, keys); err != nil {
		if errors.Is(err, domainerrors.ErrDedupClaimed) {
			if prior, ok, rerr := s.resolve(ctx, actorKey); rerr == nil && ok {
				return prior, nil
			}
			return entities.SiagaBroadcast{}, domainerrors.ErrConflict
		}
		return entities.SiagaBroadcast{}, err
	}

	s.publish(ctx, event, broadcast.RetentionTag)
	s.count(ctx, counterTransition, 1, map[string]string{"event": string(entities.EventDrafted)})
	ResolveLogger(s.Logger).Info("siaga broadcast created",
		"event", "siaga_broadcast_created",
		"module", "emergency/siaga-service",
		"layer", "application",
		"broadcast_id", broadcast.BroadcastID,
		"region", broadcast.Region,
		"severity", string(broadcast.Severity),
		"correlation_id", correlationID,
	)
	return broadcast, nil
}

// Activate puts a drafted broadcast on the air.
func (s Service) Activate(ctx context.Context, actor ports.Actor, requestID, correlationID, broadcastID string) (entities.SiagaBroadcast, error) {
	return s.transition(ctx, actor, requestID, correlationID, broadcastID, entities.EventActivated, authorGate, nil, nil)
}

// Resolve closes an active broadcast as handled.
func (s Service) Resolve(ctx context.Context, actor ports.Actor, requestID, correlationID, broadcastID string) (entities.SiagaBroadcast, error) {
	return s.transition(ctx, actor, requestID, correlationID, broadcastID, entities.EventResolved, authorGate, nil, nil)
}

// Cancel withdraws a draft or active broadcast.
func (s Service) Cancel(ctx context.Context, actor ports.Actor, requestID, correlationID, broadcastID string, reason string) (entities.SiagaBroadcast, error) {
	var meta map[string]string
	if reason = strings.TrimSpace(reason); reason != "" {
		meta = map[string]string{"reason": reason}
	}
	return s.transition(ctx, actor, requestID, correlationID, broadcastID, entities.EventCancelled, authorGate, nil, meta)
}

// JoinResponder registers any actor as a responder on an active broadcast.
func (s Service) JoinResponder(ctx context.Context, actor ports.Actor, requestID, correlationID, broadcastID string) (entities.SiagaBroadcast, error) {
	mutate := func(b *entities.SiagaBroadcast) error {
		if b.HasResponder(actor.ID) {
			return domainerrors.ErrInvalidInput
		}
		b.Responders = append(append([]string(nil), b.Responders...), actor.ID)
		return nil
	}
	meta := map[string]string{"responder_id": strings.TrimSpace(actor.ID)}
	return s.transition(ctx, actor, requestID, correlationID, broadcastID, entities.EventResponderJoined, openGate, mutate, meta)
}

// UpdateResponder records a status note from an already-joined responder.
func (s Service) UpdateResponder(ctx context.Context, actor ports.Actor, requestID, correlationID, broadcastID string, note string) (entities.SiagaBroadcast, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return entities.SiagaBroadcast{}, domainerrors.ErrInvalidInput
	}
	gate := func(b entities.SiagaBroadcast, actorID string) error {
		if !b.HasResponder(actorID) {
			return domainerrors.ErrForbidden
		}
		return nil
	}
	meta := map[string]string{"responder_id": strings.TrimSpace(actor.ID), "note": note}
	return s.transition(ctx, actor, requestID, correlationID, broadcastID, entities.EventResponderUpdated, gate, nil, meta)
}

func (s Service) Get(ctx context.Context, broadcastID string) (entities.SiagaBroadcast, error) {
	broadcast, ok, err := s.Store.Get(ctx, strings.TrimSpace(broadcastID))
	if err != nil {
		return entities.SiagaBroadcast{}, err
	}
	if !ok {
		return entities.SiagaBroadcast{}, domainerrors.ErrNotFound
	}
	if err := ensureBroadcastHash(&broadcast); err != nil {
		return entities.SiagaBroadcast{}, err
	}
	return broadcast, nil
}

func (s Service) ListByOwner(ctx context.Context, authorID string) ([]entities.SiagaBroadcast, error) {
	authorID = strings.TrimSpace(authorID)
	if authorID == "" {
		return nil, domainerrors.ErrInvalidInput
	}
	items, err := s.Store.ListByOwner(ctx, authorID)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if err := ensureBroadcastHash(&items[i]); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (s Service) ListTimeline(ctx context.Context, broadcastID string) ([]entities.TimelineEvent, error) {
	timeline, err := s.Store.ListTimeline(ctx, strings.TrimSpace(broadcastID))
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

// gate decides whether actor may apply a transition to the broadcast.
type gate func(b entities.SiagaBroadcast, actorID string) error

func authorGate(b entities.SiagaBroadcast, actorID string) error {
	if b.AuthorID != actorID {
		return domainerrors.ErrForbidden
	}
	return nil
}

func openGate(entities.SiagaBroadcast, string) error {
	return nil
}

func (s Service) transition(
	ctx context.Context,
	actor ports.Actor,
	requestID, correlationID, broadcastID string,
	eventType entities.EventType,
	allowed gate,
	mutate func(*entities.SiagaBroadcast) error,
	metadata map[string]string,
) (entities.SiagaBroadcast, error) {
	actor = trimActor(actor)
	requestID = strings.TrimSpace(requestID)
	broadcastID = strings.TrimSpace(broadcastID)

	if requestID == "" {
		return entities.SiagaBroadcast{}, domainerrors.ErrRequestIDRequired
	}
	if actor.ID == "" || broadcastID == "" {
		return entities.SiagaBroadcast{}, domainerrors.ErrInvalidInput
	}

	dedupKey := idempotency.EntityKey(broadcastID, requestID)
	if prior, ok, err := s.resolve(ctx, dedupKey); err != nil || ok {
		return prior, err
	}

	broadcast, ok, err := s.Store.Get(ctx, broadcastID)
	if err != nil {
		return entities.SiagaBroadcast{}, err
	}
	if !ok {
		return entities.SiagaBroadcast{}, domainerrors.ErrNotFound
	}
	if err := allowed(broadcast, actor.ID); err != nil {
		return entities.SiagaBroadcast{}, err
	}

	next, err := entities.StateMachine.Apply(lifecycle.State(broadcast.State), lifecycle.Event(eventType))
	if err != nil {
		return entities.SiagaBroadcast{}, domainerrors.ErrIllegalTransition
	}
	if mutate != nil {
		if err := mutate(&broadcast); err != nil {
			return entities.SiagaBroadcast{}, err
		}
	}

	now := s.Clock.Now().UTC()
	broadcast.State = entities.BroadcastState(next)
	broadcast.UpdatedAt = now
	broadcast.RequestID = requestID
	broadcast.CorrelationID = correlationID

	event, err := s.buildEvent(ctx, broadcast, eventType, actor, requestID, correlationID, now, metadata)
	if err != nil {
		return entities.SiagaBroadcast{}, err
	}
	if broadcast.EventHash, err = hashSnapshot(broadcast); err != nil {
		return entities.SiagaBroadcast{}, err
	}

	if err := s.Store.Update(ctx, broadcast, event, dedupKey); err != nil {
		if errors.Is(err, domainerrors.ErrDedupClaimed) {
			if prior, ok, rerr := s.resolve(ctx, dedupKey); rerr == nil && ok {
				return prior, nil
			}
			return entities.SiagaBroadcast{}, domainerrors.ErrConflict
		}
		return entities.SiagaBroadcast{}, err
	}

	s.publish(ctx, event, broadcast.RetentionTag)
	s.count(ctx, counterTransition, 1, map[string]string{"event": string(eventType)})
	ResolveLogger(s.Logger).Info("siaga broadcast transitioned",
		"event", "siaga_broadcast_transitioned",
		"module", "emergency/siaga-service",
		"layer", "application",
		"broadcast_id", broadcast.BroadcastID,
		"event_type", string(eventType),
		"state", string(broadcast.State),
		"correlation_id", correlationID,
	)
	return broadcast, nil
}

func (s Service) resolve(ctx context.Context, key string) (entities.SiagaBroadcast, bool, error) {
	broadcast, ok, err := s.Store.GetByDedupKey(ctx, key)
	if err != nil || !ok {
		return entities.SiagaBroadcast{}, false, err
	}
	if err := ensureBroadcastHash(&broadcast); err != nil {
		return entities.SiagaBroadcast{}, false, err
	}
	s.count(ctx, counterReplay, 1, nil)
	ResolveLogger(s.Logger).Debug("siaga idempotent replay",
		"event", "siaga_idempotent_replay",
		"module", "emergency/siaga-service",
		"layer", "application",
		"broadcast_id", broadcast.BroadcastID,
	)
	return broadcast, true, nil
}

func (s Service) buildEvent(
	ctx context.Context,
	broadcast entities.SiagaBroadcast,
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
		BroadcastID:   broadcast.BroadcastID,
		EventType:     eventType,
		ActorID:       actor.ID,
		ActorName:     actor.DisplayName,
		RequestID:     requestID,
		CorrelationID: correlationID,
		OccurredAt:    occurredAt,
		Metadata:      metadata,
		RetentionTag:  broadcast.RetentionTag,
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
		SourceService:  "emergency/siaga-service",
		OccurredAtUTC:  event.OccurredAt,
		CorrelationID:  event.CorrelationID,
		EntityType:     "siaga_broadcast",
		EntityID:       event.BroadcastID,
		RetentionTag:   retentionTag,
		PartitionKey:   event.BroadcastID,
		PayloadVersion: 1,
		Payload:        eventPayload(event),
	}
	if err := s.Outbox.AppendOutbox(ctx, envelope); err != nil {
		ResolveLogger(s.Logger).Warn("siaga outbox append failed",
			"event", "siaga_outbox_append_failed",
			"module", "emergency/siaga-service",
			"layer", "application",
			"broadcast_id", event.BroadcastID,
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
