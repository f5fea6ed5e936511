package postgresadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"warga/contexts/protection/vault-service/domain/entities"
	domainerrors "warga/contexts/protection/vault-service/domain/errors"
	"warga/internal/shared/events"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"
)

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{db: db, logger: logger}
}

// Create persists snapshot, first event and dedup keys in one transaction, so
// a failure after the snapshot write rolls the snapshot back as well.
func (r *Repository) Create(ctx context.Context, snapshot entities.VaultEntry, firstEvent entities.TimelineEvent, dedupKeys []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entryModelFromEntity(snapshot)).Error; err != nil {
			if isUniqueViolation(err) {
				return domainerrors.ErrConflict
			}
			return err
		}
		if err := tx.Create(eventModelFromEntity(firstEvent)).Error; err != nil {
			return err
		}
		for _, key := range dedupKeys {
			if err := tx.Create(&dedupKeyModel{Key: key, EntryID: snapshot.EntryID}).Error; err != nil {
				if isUniqueViolation(err) {
					return domainerrors.ErrDedupClaimed
				}
				return err
			}
		}
		return nil
	})
}

func (r *Repository) Update(ctx context.Context, snapshot entities.VaultEntry, event entities.TimelineEvent, dedupKey string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&entryModel{}).
			Where("entry_id = ?", snapshot.EntryID).
			Updates(entryUpdatesFromEntity(snapshot))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domainerrors.ErrNotFound
		}
		if err := tx.Create(eventModelFromEntity(event)).Error; err != nil {
			return err
		}
		if err := tx.Create(&dedupKeyModel{Key: dedupKey, EntryID: snapshot.EntryID}).Error; err != nil {
			if isUniqueViolation(err) {
				return domainerrors.ErrDedupClaimed
			}
			return err
		}
		return nil
	})
}

func (r *Repository) Get(ctx context.Context, entryID string) (entities.VaultEntry, bool, error) {
	var row entryModel
	err := r.db.WithContext(ctx).
		Where("entry_id = ?", strings.TrimSpace(entryID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.VaultEntry{}, false, nil
		}
		return entities.VaultEntry{}, false, err
	}
	entry := row.toEntity()
	if err := r.fillCounts(ctx, &entry); err != nil {
		return entities.VaultEntry{}, false, err
	}
	return entry, true, nil
}

func (r *Repository) GetByDedupKey(ctx context.Context, key string) (entities.VaultEntry, bool, error) {
	var mapping dedupKeyModel
	err := r.db.WithContext(ctx).
		Where("key = ?", key).
		First(&mapping).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.VaultEntry{}, false, nil
		}
		return entities.VaultEntry{}, false, err
	}
	return r.Get(ctx, mapping.EntryID)
}

func (r *Repository) ListByOwner(ctx context.Context, ownerID string) ([]entities.VaultEntry, error) {
	var rows []entryModel
	if err := r.db.WithContext(ctx).
		Where("owner_id = ?", strings.TrimSpace(ownerID)).
		Order("created_at DESC, entry_id ASC").
		Find(&rows).
		Error; err != nil {
		return nil, err
	}
	items := make([]entities.VaultEntry, 0, len(rows))
	for _, row := range rows {
		entry := row.toEntity()
		if err := r.fillCounts(ctx, &entry); err != nil {
			return nil, err
		}
		items = append(items, entry)
	}
	return items, nil
}

func (r *Repository) ListTimeline(ctx context.Context, entryID string) ([]entities.TimelineEvent, error) {
	var rows []eventModel
	if err := r.db.WithContext(ctx).
		Where("entry_id = ?", strings.TrimSpace(entryID)).
		Order("occurred_at ASC, event_id ASC").
		Find(&rows).
		Error; err != nil {
		return nil, err
	}
	timeline := make([]entities.TimelineEvent, 0, len(rows))
	for _, row := range rows {
		timeline = append(timeline, row.toEntity())
	}
	return timeline, nil
}

func (r *Repository) Delete(ctx context.Context, entryID string) (bool, error) {
	entryID = strings.TrimSpace(entryID)
	removed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("entry_id = ?", entryID).Delete(&entryModel{})
		if result.Error != nil {
			return result.Error
		}
		removed = result.RowsAffected > 0
		if err := tx.Where("entry_id = ?", entryID).Delete(&eventModel{}).Error; err != nil {
			return err
		}
		return tx.Where("entry_id = ?", entryID).Delete(&dedupKeyModel{}).Error
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

func (r *Repository) ListExpired(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).
		Model(&entryModel{}).
		Where("expires_at IS NOT NULL").
		Where("expires_at <= ?", cutoff.UTC()).
		Order("entry_id ASC").
		Pluck("entry_id", &ids).
		Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *Repository) AddEdge(ctx context.Context, edge entities.Edge) error {
	bare := strings.TrimPrefix(edge.EntryRef, "note:")
	var existing int64
	if err := r.db.WithContext(ctx).
		Model(&edgeModel{}).
		Where("entry_ref IN ?", []string{bare, "note:" + bare}).
		Where("actor_id = ?", edge.ActorID).
		Where("kind = ?", string(edge.Kind)).
		Count(&existing).
		Error; err != nil {
		return err
	}
	if existing > 0 {
		return domainerrors.ErrDuplicateEdge
	}
	row := edgeModel{
		EdgeID:    edge.EdgeID,
		Kind:      string(edge.Kind),
		EntryRef:  edge.EntryRef,
		ActorID:   edge.ActorID,
		CreatedAt: edge.CreatedAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrDuplicateEdge
		}
		return err
	}
	return nil
}

func (r *Repository) CountEdges(ctx context.Context, entryID string, kind entities.EdgeKind) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&edgeModel{}).
		Where("entry_ref IN ?", []string{entryID, "note:" + entryID}).
		Where("kind = ?", string(kind)).
		Count(&count).
		Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func (r *Repository) DeleteEdgesFor(ctx context.Context, entryID string) error {
	return r.db.WithContext(ctx).
		Where("entry_ref IN ?", []string{entryID, "note:" + entryID}).
		Delete(&edgeModel{}).
		Error
}

func (r *Repository) AppendOutbox(ctx context.Context, envelope events.Envelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	row := outboxModel{
		OutboxID:     strings.TrimSpace(envelope.EventID),
		EventType:    envelope.EventType,
		PartitionKey: envelope.PartitionKey,
		Payload:      payload,
		Status:       outboxStatusPending,
		CreatedAt:    envelope.OccurredAtUTC.UTC(),
	}
	createResult := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "outbox_id"}},
			DoNothing: true,
		}).
		Create(&row)
	return createResult.Error
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]events.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", outboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).
		Error; err != nil {
		return nil, err
	}
	items := make([]events.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, events.OutboxMessage{
			OutboxID:     row.OutboxID,
			EventType:    row.EventType,
			PartitionKey: row.PartitionKey,
			Payload:      append([]byte(nil), row.Payload...),
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", strings.TrimSpace(outboxID)).
		Updates(map[string]any{
			"status":       outboxStatusPublished,
			"published_at": publishedAt.UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrNotFound
	}
	return nil
}

func (r *Repository) fillCounts(ctx context.Context, entry *entities.VaultEntry) error {
	vouches, err := r.CountEdges(ctx, entry.EntryID, entities.EdgeVouch)
	if err != nil {
		return err
	}
	challenges, err := r.CountEdges(ctx, entry.EntryID, entities.EdgeChallenge)
	if err != nil {
		return err
	}
	entry.VouchCount = vouches
	entry.ChallengeCount = challenges
	return nil
}

type entryModel struct {
	EntryID       string     `gorm:"column:entry_id;primaryKey"`
	OwnerID       string     `gorm:"column:owner_id"`
	OwnerName     string     `gorm:"column:owner_name"`
	State         string     `gorm:"column:state"`
	Title         string     `gorm:"column:title"`
	SealedPayload string     `gorm:"column:sealed_payload"`
	Trustees      []byte     `gorm:"column:trustees"`
	ExpiresAt     *time.Time `gorm:"column:expires_at"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at"`
	RequestID     string     `gorm:"column:request_id"`
	CorrelationID string     `gorm:"column:correlation_id"`
	EventHash     string     `gorm:"column:event_hash"`
	RetentionTag  string     `gorm:"column:retention_tag"`
}

func (entryModel) TableName() string {
	return "vault_entries"
}

func entryModelFromEntity(entry entities.VaultEntry) *entryModel {
	trustees := entry.Trustees
	if trustees == nil {
		trustees = []string{}
	}
	trusteesRaw, _ := json.Marshal(trustees)
	var expires *time.Time
	if !entry.ExpiresAt.IsZero() {
		value := entry.ExpiresAt.UTC()
		expires = &value
	}
	return &entryModel{
		EntryID:       entry.EntryID,
		OwnerID:       entry.OwnerID,
		OwnerName:     entry.OwnerName,
		State:         string(entry.State),
		Title:         entry.Title,
		SealedPayload: entry.SealedPayload,
		Trustees:      trusteesRaw,
		ExpiresAt:     expires,
		CreatedAt:     entry.CreatedAt.UTC(),
		UpdatedAt:     entry.UpdatedAt.UTC(),
		RequestID:     entry.RequestID,
		CorrelationID: entry.CorrelationID,
		EventHash:     entry.EventHash,
		RetentionTag:  entry.RetentionTag,
	}
}

func entryUpdatesFromEntity(entry entities.VaultEntry) map[string]any {
	row := entryModelFromEntity(entry)
	return map[string]any{
		"owner_id":       row.OwnerID,
		"owner_name":     row.OwnerName,
		"state":          row.State,
		"title":          row.Title,
		"sealed_payload": row.SealedPayload,
		"trustees":       row.Trustees,
		"expires_at":     row.ExpiresAt,
		"updated_at":     row.UpdatedAt,
		"request_id":     row.RequestID,
		"correlation_id": row.CorrelationID,
		"event_hash":     row.EventHash,
		"retention_tag":  row.RetentionTag,
	}
}

func (m entryModel) toEntity() entities.VaultEntry {
	var trustees []string
	if len(m.Trustees) > 0 {
		_ = json.Unmarshal(m.Trustees, &trustees)
	}
	var expires time.Time
	if m.ExpiresAt != nil {
		expires = m.ExpiresAt.UTC()
	}
	return entities.VaultEntry{
		EntryID:       m.EntryID,
		OwnerID:       m.OwnerID,
		OwnerName:     m.OwnerName,
		State:         entities.EntryState(m.State),
		Title:         m.Title,
		SealedPayload: m.SealedPayload,
		Trustees:      trustees,
		ExpiresAt:     expires,
		CreatedAt:     m.CreatedAt.UTC(),
		UpdatedAt:     m.UpdatedAt.UTC(),
		RequestID:     m.RequestID,
		CorrelationID: m.CorrelationID,
		EventHash:     m.EventHash,
		RetentionTag:  m.RetentionTag,
	}
}

type eventModel struct {
	EventID       string    `gorm:"column:event_id;primaryKey"`
	EntryID       string    `gorm:"column:entry_id"`
	EventType     string    `gorm:"column:event_type"`
	ActorID       string    `gorm:"column:actor_id"`
	ActorName     string    `gorm:"column:actor_name"`
	RequestID     string    `gorm:"column:request_id"`
	CorrelationID string    `gorm:"column:correlation_id"`
	OccurredAt    time.Time `gorm:"column:occurred_at"`
	Metadata      []byte    `gorm:"column:metadata"`
	EventHash     string    `gorm:"column:event_hash"`
	RetentionTag  string    `gorm:"column:retention_tag"`
}

func (eventModel) TableName() string {
	return "vault_events"
}

func eventModelFromEntity(event entities.TimelineEvent) *eventModel {
	var metadataRaw []byte
	if event.Metadata != nil {
		metadataRaw, _ = json.Marshal(event.Metadata)
	}
	return &eventModel{
		EventID:       event.EventID,
		EntryID:       event.EntryID,
		EventType:     string(event.EventType),
		ActorID:       event.ActorID,
		ActorName:     event.ActorName,
		RequestID:     event.RequestID,
		CorrelationID: event.CorrelationID,
		OccurredAt:    event.OccurredAt.UTC(),
		Metadata:      metadataRaw,
		EventHash:     event.EventHash,
		RetentionTag:  event.RetentionTag,
	}
}

func (m eventModel) toEntity() entities.TimelineEvent {
	var metadata map[string]string
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &metadata)
	}
	return entities.TimelineEvent{
		EventID:       m.EventID,
		EntryID:       m.EntryID,
		EventType:     entities.EventType(m.EventType),
		ActorID:       m.ActorID,
		ActorName:     m.ActorName,
		RequestID:     m.RequestID,
		CorrelationID: m.CorrelationID,
		OccurredAt:    m.OccurredAt.UTC(),
		Metadata:      metadata,
		EventHash:     m.EventHash,
		RetentionTag:  m.RetentionTag,
	}
}

type dedupKeyModel struct {
	Key     string `gorm:"column:key;primaryKey"`
	EntryID string `gorm:"column:entry_id"`
}

func (dedupKeyModel) TableName() string {
	return "vault_dedup_keys"
}

type edgeModel struct {
	EdgeID    string    `gorm:"column:edge_id;primaryKey"`
	Kind      string    `gorm:"column:kind"`
	EntryRef  string    `gorm:"column:entry_ref"`
	ActorID   string    `gorm:"column:actor_id"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (edgeModel) TableName() string {
	return "vault_edges"
}

type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string {
	return "vault_outbox"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
