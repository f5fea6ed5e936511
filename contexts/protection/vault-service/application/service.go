package application

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"warga/contexts/protection/vault-service/domain/entities"
	domainerrors "warga/contexts/protection/vault-service/domain/errors"
	"warga/contexts/protection/vault-service/ports"
	"warga/internal/shared/events"
	"warga/internal/shared/idempotency"
	"warga/internal/shared/lifecycle"
)

const (
	defaultRetentionTag = "vault:standard"

	counterReplay     = "vault_idempotent_replay"
	counterTransition = "vault_transition"
	counterSwept      = "vault_sweep_removed"
)

// SystemActorID performs time-driven transitions (expiry worker).
const SystemActorID = "system"

type Service struct {
	Store   ports.EntryStore
	Outbox  ports.OutboxStore
	Clock   ports.Clock
	IDGen   ports.IDGenerator
	Metrics ports.Metrics
	Logger  *slog.Logger
}

// Submit creates a new draft entry, or replays the stored outcome when the
// (actor, request id) pair was already used. The replay returns the current
// snapshot, which may have moved past draft since the first attempt.
func (s Service) Submit(ctx context.Context, actor ports.Actor, requestID, correlationID string, input ports.SubmitInput) (entities.VaultEntry, error) {
	actor = trimActor(actor)
	requestID = strings.TrimSpace(requestID)
	input.EntryID = strings.TrimSpace(input.EntryID)
	input.Title = strings.TrimSpace(input.Title)

	if requestID == "" {
		return entities.VaultEntry{}, domainerrors.ErrRequestIDRequired
	}
	if actor.ID == "" {
		return entities.VaultEntry{}, domainerrors.ErrInvalidInput
	}

	actorKey := idempotency.ActorKey(actor.ID, requestID)
	if prior, ok, err := s.resolve(ctx, actorKey); err != nil || ok {
		return prior, err
	}
	if input.EntryID != "" {
		if prior, ok, err := s.resolve(ctx, idempotency.EntityKey(input.EntryID, requestID)); err != nil || ok {
			return prior, err
		}
	}

	entryID := input.EntryID
	if entryID == "" {
		generated, err := s.IDGen.NewID(ctx)
		if err != nil {
			return entities.VaultEntry{}, err
		}
		entryID = generated
	}
	retentionTag := strings.TrimSpace(input.RetentionTag)
	if retentionTag == "" {
		retentionTag = defaultRetentionTag
	}

	now := s.Clock.Now().UTC()
	entry := entities.VaultEntry{
		EntryID:       entryID,
		OwnerID:       actor.ID,
		OwnerName:     actor.DisplayName,
		State:         entities.EntryStateDraft,
		Title:         input.Title,
		SealedPayload: input.SealedPayload,
		ExpiresAt:     normalizeTime(input.ExpiresAt),
		CreatedAt:     now,
		UpdatedAt:     now,
		RequestID:     requestID,
		CorrelationID: correlationID,
		RetentionTag:  retentionTag,
	}
	if !entry.ValidateCreate() {
		return entities.VaultEntry{}, domainerrors.ErrInvalidInput
	}

	event, err := s.buildEvent(ctx, entry, entities.EventDrafted, actor, requestID, correlationID, now, nil)
	if err != nil {
		return entities.VaultEntry{}, err
	}
	if entry.EventHash, err = hashSnapshot(entry); err != nil {
		return entities.VaultEntry{}, err
	}

	keys := []string{actorKey, idempotency.EntityKey(entryID, requestID)}
	if err := s.Store.Create(ctx, entry, event, keys); err != nil {
		if errors.Is(err, domainerrors.ErrDedupClaimed) {
			// Lost the race against an identical retry; hand back its result.
			if prior, ok, rerr := s.resolve(ctx, actorKey); rerr == nil && ok {
				return prior, nil
			}
			return entities.VaultEntry{}, domainerrors.ErrConflict
		}
		return entities.VaultEntry{}, err
	}

	s.publish(ctx, event, entry.RetentionTag)
	s.count(ctx, counterTransition, 1, map[string]string{"event": string(entities.EventDrafted)})
	ResolveLogger(s.Logger).Info("vault entry submitted",
		"event", "vault_entry_submitted",
		"module", "protection/vault-service",
		"layer", "application",
		"entry_id", entry.EntryID,
		"owner_id", entry.OwnerID,
		"correlation_id", correlationID,
	)
	return entry, nil
}

// Seal freezes the draft content for trustee review.
func (s Service) Seal(ctx context.Context, actor ports.Actor, requestID, correlationID, entryID string) (entities.VaultEntry, error) {
	return s.transition(ctx, actor, requestID, correlationID, entryID, entities.EventSealed, true, nil, nil)
}

// Publish releases a sealed entry.
func (s Service) Publish(ctx context.Context, actor ports.Actor, requestID, correlationID, entryID string) (entities.VaultEntry, error) {
	return s.transition(ctx, actor, requestID, correlationID, entryID, entities.EventPublished, true, nil, nil)
}

// Revoke withdraws a draft or sealed entry.
func (s Service) Revoke(ctx context.Context, actor ports.Actor, requestID, correlationID, entryID string, reason string) (entities.VaultEntry, error) {
	var meta map[string]string
	if reason = strings.TrimSpace(reason); reason != "" {
		meta = map[string]string{"reason": reason}
	}
	return s.transition(ctx, actor, requestID, correlationID, entryID, entities.EventRevoked, true, nil, meta)
}

// Expire applies the time-driven terminal transition. Called by the expiry
// worker with the system actor; ownership is not checked.
func (s Service) Expire(ctx context.Context, actor ports.Actor, requestID, correlationID, entryID string) (entities.VaultEntry, error) {
	return s.transition(ctx, actor, requestID, correlationID, entryID, entities.EventExpired, false, nil, nil)
}

// AddTrustee appends a trustee on a sealed entry; the state stays sealed but
// the mutation is audited like any other transition.
func (s Service) AddTrustee(ctx context.Context, actor ports.Actor, requestID, correlationID, entryID, trusteeID string) (entities.VaultEntry, error) {
	trusteeID = strings.TrimSpace(trusteeID)
	if trusteeID == "" {
		return entities.VaultEntry{}, domainerrors.ErrInvalidInput
	}
	mutate := func(e *entities.VaultEntry) error {
		if e.HasTrustee(trusteeID) {
			return domainerrors.ErrInvalidInput
		}
		e.Trustees = append(append([]string(nil), e.Trustees...), trusteeID)
		return nil
	}
	meta := map[string]string{"trustee_id": trusteeID}
	return s.transition(ctx, actor, requestID, correlationID, entryID, entities.EventTrusteeAdded, true, mutate, meta)
}

// RemoveTrustee drops a trustee from a sealed entry.
func (s Service) RemoveTrustee(ctx context.Context, actor ports.Actor, requestID, correlationID, entryID, trusteeID string) (entities.VaultEntry, error) {
	trusteeID = strings.TrimSpace(trusteeID)
	if trusteeID == "" {
		return entities.VaultEntry{}, domainerrors.ErrInvalidInput
	}
	mutate := func(e *entities.VaultEntry) error {
		if !e.HasTrustee(trusteeID) {
			return domainerrors.ErrInvalidInput
		}
		kept := make([]string, 0, len(e.Trustees))
		for _, id := range e.Trustees {
			if id != trusteeID {
				kept = append(kept, id)
			}
		}
		e.Trustees = kept
		return nil
	}
	meta := map[string]string{"trustee_id": trusteeID}
	return s.transition(ctx, actor, requestID, correlationID, entryID, entities.EventTrusteeRemoved, true, mutate, meta)
}

func (s Service) Get(ctx context.Context, entryID string) (entities.VaultEntry, error) {
	entry, ok, err := s.Store.Get(ctx, strings.TrimSpace(entryID))
	if err != nil {
		return entities.VaultEntry{}, err
	}
	if !ok {
		return entities.VaultEntry{}, domainerrors.ErrNotFound
	}
	if err := ensureEntryHash(&entry); err != nil {
		return entities.VaultEntry{}, err
	}
	return entry, nil
}

func (s Service) ListByOwner(ctx context.Context, ownerID string) ([]entities.VaultEntry, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, domainerrors.ErrInvalidInput
	}
	items, err := s.Store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if err := ensureEntryHash(&items[i]); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (s Service) ListTimeline(ctx context.Context, entryID string) ([]entities.TimelineEvent, error) {
	timeline, err := s.Store.ListTimeline(ctx, strings.TrimSpace(entryID))
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

// Vouch records community corroboration of an entry. One edge per actor per
// entry; edges never touch the audit hash.
func (s Service) Vouch(ctx context.Context, actor ports.Actor, entryID string) error {
	return s.addEdge(ctx, actor, entryID, entities.EdgeVouch)
}

// Challenge records a community dispute of an entry.
func (s Service) Challenge(ctx context.Context, actor ports.Actor, entryID string) error {
	return s.addEdge(ctx, actor, entryID, entities.EdgeChallenge)
}

func (s Service) addEdge(ctx context.Context, actor ports.Actor, entryID string, kind entities.EdgeKind) error {
	actor = trimActor(actor)
	entryID = strings.TrimSpace(entryID)
	if actor.ID == "" || entryID == "" {
		return domainerrors.ErrInvalidInput
	}
	if _, ok, err := s.Store.Get(ctx, entryID); err != nil {
		return err
	} else if !ok {
		return domainerrors.ErrNotFound
	}
	edgeID, err := s.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	return s.Store.AddEdge(ctx, entities.Edge{
		EdgeID:    edgeID,
		Kind:      kind,
		EntryRef:  entryID,
		ActorID:   actor.ID,
		CreatedAt: s.Clock.Now().UTC(),
	})
}

// Sweep erases every entry whose TTL elapsed at or before cutoffMillis,
// together with its timeline, dedup keys and feedback edges (bare and
// namespaced refs). Returns the sorted, de-duplicated removed ids; running it
// again with the same cutoff returns nothing. Surviving entries keep their
// stored hash and retention tag untouched.
func (s Service) Sweep(ctx context.Context, cutoffMillis int64) ([]string, error) {
	if cutoffMillis < 0 {
		return nil, domainerrors.ErrNegativeCutoff
	}
	cutoff := time.UnixMilli(cutoffMillis).UTC()
	ids, err := s.Store.ListExpired(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	removed := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if err := s.Store.DeleteEdgesFor(ctx, id); err != nil {
			return nil, err
		}
		gone, err := s.Store.Delete(ctx, id)
		if err != nil {
			return nil, err
		}
		if gone {
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)

	if len(removed) > 0 {
		s.count(ctx, counterSwept, int64(len(removed)), nil)
		ResolveLogger(s.Logger).Info("vault retention sweep completed",
			"event", "vault_retention_sweep",
			"module", "protection/vault-service",
			"layer", "application",
			"cutoff_ms", cutoffMillis,
			"removed", len(removed),
		)
	}
	return removed, nil
}

// transition runs the shared update path: resolve the entity-scoped dedup
// key, check ownership, consult the state machine, append exactly one event
// and rewrite the snapshot as a single store unit.
func (s Service) transition(
	ctx context.Context,
	actor ports.Actor,
	requestID, correlationID, entryID string,
	eventType entities.EventType,
	ownerOnly bool,
	mutate func(*entities.VaultEntry) error,
	metadata map[string]string,
) (entities.VaultEntry, error) {
	actor = trimActor(actor)
	requestID = strings.TrimSpace(requestID)
	entryID = strings.TrimSpace(entryID)

	if requestID == "" {
		return entities.VaultEntry{}, domainerrors.ErrRequestIDRequired
	}
	if actor.ID == "" || entryID == "" {
		return entities.VaultEntry{}, domainerrors.ErrInvalidInput
	}

	dedupKey := idempotency.EntityKey(entryID, requestID)
	if prior, ok, err := s.resolve(ctx, dedupKey); err != nil || ok {
		return prior, err
	}

	entry, ok, err := s.Store.Get(ctx, entryID)
	if err != nil {
		return entities.VaultEntry{}, err
	}
	if !ok {
		return entities.VaultEntry{}, domainerrors.ErrNotFound
	}
	if ownerOnly && entry.OwnerID != actor.ID {
		return entities.VaultEntry{}, domainerrors.ErrForbidden
	}

	next, err := entities.StateMachine.Apply(lifecycle.State(entry.State), lifecycle.Event(eventType))
	if err != nil {
		return entities.VaultEntry{}, domainerrors.ErrIllegalTransition
	}
	if mutate != nil {
		if err := mutate(&entry); err != nil {
			return entities.VaultEntry{}, err
		}
	}

	now := s.Clock.Now().UTC()
	entry.State = entities.EntryState(next)
	entry.UpdatedAt = now
	entry.RequestID = requestID
	entry.CorrelationID = correlationID

	event, err := s.buildEvent(ctx, entry, eventType, actor, requestID, correlationID, now, metadata)
	if err != nil {
		return entities.VaultEntry{}, err
	}
	if entry.EventHash, err = hashSnapshot(entry); err != nil {
		return entities.VaultEntry{}, err
	}

	if err := s.Store.Update(ctx, entry, event, dedupKey); err != nil {
		if errors.Is(err, domainerrors.ErrDedupClaimed) {
			if prior, ok, rerr := s.resolve(ctx, dedupKey); rerr == nil && ok {
				return prior, nil
			}
			return entities.VaultEntry{}, domainerrors.ErrConflict
		}
		return entities.VaultEntry{}, err
	}

	s.publish(ctx, event, entry.RetentionTag)
	s.count(ctx, counterTransition, 1, map[string]string{"event": string(eventType)})
	ResolveLogger(s.Logger).Info("vault entry transitioned",
		"event", "vault_entry_transitioned",
		"module", "protection/vault-service",
		"layer", "application",
		"entry_id", entry.EntryID,
		"event_type", string(eventType),
		"state", string(entry.State),
		"correlation_id", correlationID,
	)
	return entry, nil
}

// resolve returns the current snapshot behind a dedup key, if the key was
// already claimed. First write wins: the payload of the retry is not compared.
func (s Service) resolve(ctx context.Context, key string) (entities.VaultEntry, bool, error) {
	entry, ok, err := s.Store.GetByDedupKey(ctx, key)
	if err != nil || !ok {
		return entities.VaultEntry{}, false, err
	}
	if err := ensureEntryHash(&entry); err != nil {
		return entities.VaultEntry{}, false, err
	}
	s.count(ctx, counterReplay, 1, nil)
	ResolveLogger(s.Logger).Debug("vault idempotent replay",
		"event", "vault_idempotent_replay",
		"module", "protection/vault-service",
		"layer", "application",
		"entry_id", entry.EntryID,
	)
	return entry, true, nil
}

func (s Service) buildEvent(
	ctx context.Context,
	entry entities.VaultEntry,
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
		EntryID:       entry.EntryID,
		EventType:     eventType,
		ActorID:       actor.ID,
		ActorName:     actor.DisplayName,
		RequestID:     requestID,
		CorrelationID: correlationID,
		OccurredAt:    occurredAt,
		Metadata:      metadata,
		RetentionTag:  entry.RetentionTag,
	}
	if event.EventHash, err = hashEvent(event); err != nil {
		return entities.TimelineEvent{}, err
	}
	return event, nil
}

// publish buffers the lifecycle envelope in the outbox; the relay worker
// drains it to the bus. Outbox trouble is logged, never fails the mutation.
func (s Service) publish(ctx context.Context, event entities.TimelineEvent, retentionTag string) {
	if s.Outbox == nil {
		return
	}
	envelope := events.Envelope{
		EventID:        event.EventID,
		EventType:      string(event.EventType),
		SourceService:  "protection/vault-service",
		OccurredAtUTC:  event.OccurredAt,
		CorrelationID:  event.CorrelationID,
		EntityType:     "vault_entry",
		EntityID:       event.EntryID,
		RetentionTag:   retentionTag,
		PartitionKey:   event.EntryID,
		PayloadVersion: 1,
		Payload:        eventPayload(event),
	}
	if err := s.Outbox.AppendOutbox(ctx, envelope); err != nil {
		ResolveLogger(s.Logger).Warn("vault outbox append failed",
			"event", "vault_outbox_append_failed",
			"module", "protection/vault-service",
			"layer", "application",
			"entry_id", event.EntryID,
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

func normalizeTime(value time.Time) time.Time {
	if value.IsZero() {
		return time.Time{}
	}
	return value.UTC()
}
