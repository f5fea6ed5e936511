package postgresadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"warga/contexts/moderation-safety/moderation-service/domain/entities"
	domainerrors "warga/contexts/moderation-safety/moderation-service/domain/errors"
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
func (r *Repository) Create(ctx context.Context, snapshot entities.ModerationRecord, firstEvent entities.TimelineEvent, dedupKeys []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(recordModelFromEntity(snapshot)).Error; err != nil {
			if isUniqueViolation(err) {
				return domainerrors.ErrConflict
			}
			return err
		}
		if err := tx.Create(eventModelFromEntity(firstEvent)).Error; err != nil {
			return err
		}
		for _, key := range dedupKeys {
			if err := tx.Create(&dedupKeyModel{Key: key, RecordID: snapshot.RecordID}).Error; err != nil {
				if isUniqueViolation(err) {
					return domainerrors.ErrDedupClaimed
				}
				return err
			}
		}
		return nil
	})
}

func (r *Repository) Update(ctx context.Context, snapshot entities.ModerationRecord, event entities.TimelineEvent, dedupKey string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&recordModel{}).
			Where("record_id = ?", snapshot.RecordID).
			Updates(recordUpdatesFromEntity(snapshot))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domainerrors.ErrNotFound
		}
		if err := tx.Create(eventModelFromEntity(event)).Error; err != nil {
			return err
		}
		if err := tx.Create(&dedupKeyModel{Key: dedupKey, RecordID: snapshot.RecordID}).Error; err != nil {
			if isUniqueViolation(err) {
				return domainerrors.ErrDedupClaimed
			}
			return err
		}
		return nil
	})
}

func (r *Repository) Get(ctx context.Context, recordID string) (entities.ModerationRecord, bool, error) {
	var row recordModel
	err := r.db.WithContext(ctx).
		Where("record_id = ?", strings.TrimSpace(recordID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.ModerationRecord{}, false, nil
		}
		return entities.ModerationRecord{}, false, err
	}
	return row.toEntity(), true, nil
}

func (r *Repository) GetByDedupKey(ctx context.Context, key string) (entities.ModerationRecord, bool, error) {
	var mapping dedupKeyModel
	err := r.db.WithContext(ctx).
		Where("key = ?", key).
		First(&mapping).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.ModerationRecord{}, false, nil
		}
		return entities.ModerationRecord{}, false, err
	}
	return r.Get(ctx, mapping.RecordID)
}

func (r *Repository) ListByOwner(ctx context.Context, moderatorID string) ([]entities.ModerationRecord, error) {
	var rows []recordModel
	if err := r.db.WithContext(ctx).
		Where("moderator_id = ?", strings.TrimSpace(moderatorID)).
		Order("created_at DESC, record_id ASC").
		Find(&rows).
		Error; err != nil {
		return nil, err
	}
	items := make([]entities.ModerationRecord, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) ListTimeline(ctx context.Context, recordID string) ([]entities.TimelineEvent, error) {
	var rows []eventModel
	if err := r.db.WithContext(ctx).
		Where("record_id = ?", strings.TrimSpace(recordID)).
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

func (r *Repository) Delete(ctx context.Context, recordID string) (bool, error) {
	recordID = strings.TrimSpace(recordID)
	removed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("record_id = ?", recordID).Delete(&recordModel{})
		if result.Error != nil {
			return result.Error
		}
		removed = result.RowsAffected > 0
		if err := tx.Where("record_id = ?", recordID).Delete(&eventModel{}).Error; err != nil {
			return err
		}
		return tx.Where("record_id = ?", recordID).Delete(&dedupKeyModel{}).Error
	})
	if err != nil {
		return false, err
	}
	return removed, nil
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

type recordModel struct {
	RecordID      string    `gorm:"column:record_id;primaryKey"`
	SubjectID     string    `gorm:"column:subject_id"`
	ContentKind   string    `gorm:"column:content_kind"`
	OwnerID       string    `gorm:"column:owner_id"`
	OwnerName     string    `gorm:"column:owner_name"`
	State         string    `gorm:"column:state"`
	ModeratorID   string    `gorm:"column:moderator_id"`
	ModeratorName string    `gorm:"column:moderator_name"`
	Reason        string    `gorm:"column:reason"`
	Notes         string    `gorm:"column:notes"`
	Severity      string    `gorm:"column:severity"`
	AutoDecided   bool      `gorm:"column:auto_decided"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
	RequestID     string    `gorm:"column:request_id"`
	CorrelationID string    `gorm:"column:correlation_id"`
	EventHash     string    `gorm:"column:event_hash"`
	RetentionTag  string    `gorm:"column:retention_tag"`
}

func (recordModel) TableName() string {
	return "moderation_records"
}

func recordModelFromEntity(record entities.ModerationRecord) *recordModel {
	return &recordModel{
		RecordID:      record.RecordID,
		SubjectID:     record.SubjectID,
		ContentKind:   record.ContentKind,
		OwnerID:       record.OwnerID,
		OwnerName:     record.OwnerName,
		State:         string(record.State),
		ModeratorID:   record.ModeratorID,
		ModeratorName: record.ModeratorName,
		Reason:        record.Reason,
		Notes:         record.Notes,
		Severity:      string(record.Severity),
		AutoDecided:   record.AutoDecided,
		CreatedAt:     record.CreatedAt.UTC(),
		UpdatedAt:     record.UpdatedAt.UTC(),
		RequestID:     record.RequestID,
		CorrelationID: record.CorrelationID,
		EventHash:     record.EventHash,
		RetentionTag:  record.RetentionTag,
	}
}

func recordUpdatesFromEntity(record entities.ModerationRecord) map[string]any {
	row := recordModelFromEntity(record)
	return map[string]any{
		"subject_id":     row.SubjectID,
		"content_kind":   row.ContentKind,
		"owner_id":       row.OwnerID,
		"owner_name":     row.OwnerName,
		"state":          row.State,
		"moderator_id":   row.ModeratorID,
		"moderator_name": row.ModeratorName,
		"reason":         row.Reason,
		"notes":          row.Notes,
		"severity":       row.Severity,
		"auto_decided":   row.AutoDecided,
		"updated_at":     row.UpdatedAt,
		"request_id":     row.RequestID,
		"correlation_id": row.CorrelationID,
		"event_hash":     row.EventHash,
		"retention_tag":  row.RetentionTag,
	}
}

func (m recordModel) toEntity() entities.ModerationRecord {
	return entities.ModerationRecord{
		RecordID:      m.RecordID,
		SubjectID:     m.SubjectID,
		ContentKind:   m.ContentKind,
		OwnerID:       m.OwnerID,
		OwnerName:     m.OwnerName,
		State:         entities.RecordState(m.State),
		ModeratorID:   m.ModeratorID,
		ModeratorName: m.ModeratorName,
		Reason:        m.Reason,
		Notes:         m.Notes,
		Severity:      entities.Severity(m.Severity),
		AutoDecided:   m.AutoDecided,
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
	RecordID      string    `gorm:"column:record_id"`
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
	return "moderation_events"
}

func eventModelFromEntity(event entities.TimelineEvent) *eventModel {
	var metadataRaw []byte
	if event.Metadata != nil {
		metadataRaw, _ = json.Marshal(event.Metadata)
	}
	return &eventModel{
		EventID:       event.EventID,
		RecordID:      event.RecordID,
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
		RecordID:      m.RecordID,
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
	Key      string `gorm:"column:key;primaryKey"`
	RecordID string `gorm:"column:record_id"`
}

func (dedupKeyModel) TableName() string {
	return "moderation_dedup_keys"
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
	return "moderation_outbox"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
