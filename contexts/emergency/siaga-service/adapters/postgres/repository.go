package postgresadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"warga/contexts/emergency/siaga-service/domain/entities"
	domainerrors "warga/contexts/emergency/siaga-service/domain/errors"
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
func (r *Repository) Create(ctx context.Context, snapshot entities.SiagaBroadcast, firstEvent entities.TimelineEvent, dedupKeys []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(broadcastModelFromEntity(snapshot)).Error; err != nil {
			if isUniqueViolation(err) {
				return domainerrors.ErrConflict
			}
			return err
		}
		if err := tx.Create(eventModelFromEntity(firstEvent)).Error; err != nil {
			return err
		}
		for _, key := range dedupKeys {
			if err := tx.Create(&dedupKeyModel{Key: key, BroadcastID: snapshot.BroadcastID}).Error; err != nil {
				if isUniqueViolation(err) {
					return domainerrors.ErrDedupClaimed
				}
				return err
			}
		}
		return nil
	})
}

func (r *Repository) Update(ctx context.Context, snapshot entities.SiagaBroadcast, event entities.TimelineEvent, dedupKey string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&broadcastModel{}).
			Where("broadcast_id = ?", snapshot.BroadcastID).
			Updates(broadcastUpdatesFromEntity(snapshot))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domainerrors.ErrNotFound
		}
		if err := tx.Create(eventModelFromEntity(event)).Error; err != nil {
			return err
		}
		if err := tx.Create(&dedupKeyModel{Key: dedupKey, BroadcastID: snapshot.BroadcastID}).Error; err != nil {
			if isUniqueViolation(err) {
				return domainerrors.ErrDedupClaimed
			}
			return err
		}
		return nil
	})
}

func (r *Repository) Get(ctx context.Context, broadcastID string) (entities.SiagaBroadcast, bool, error) {
	var row broadcastModel
	err := r.db.WithContext(ctx).
		Where("broadcast_id = ?", strings.TrimSpace(broadcastID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.SiagaBroadcast{}, false, nil
		}
		return entities.SiagaBroadcast{}, false, err
	}
	return row.toEntity(), true, nil
}

func (r *Repository) GetByDedupKey(ctx context.Context, key string) (entities.SiagaBroadcast, bool, error) {
	var mapping dedupKeyModel
	err := r.db.WithContext(ctx).
		Where("key = ?", key).
		First(&mapping).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.SiagaBroadcast{}, false, nil
		}
		return entities.SiagaBroadcast{}, false, err
	}
	return r.Get(ctx, mapping.BroadcastID)
}

func (r *Repository) ListByOwner(ctx context.Context, authorID string) ([]entities.SiagaBroadcast, error) {
	var rows []broadcastModel
	if err := r.db.WithContext(ctx).
		Where("author_id = ?", strings.TrimSpace(authorID)).
		Order("created_at DESC, broadcast_id ASC").
		Find(&rows).
		Error; err != nil {
		return nil, err
	}
	items := make([]entities.SiagaBroadcast, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) ListTimeline(ctx context.Context, broadcastID string) ([]entities.TimelineEvent, error) {
	var rows []eventModel
	if err := r.db.WithContext(ctx).
		Where("broadcast_id = ?", strings.TrimSpace(broadcastID)).
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

func (r *Repository) Delete(ctx context.Context, broadcastID string) (bool, error) {
	broadcastID = strings.TrimSpace(broadcastID)
	removed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("broadcast_id = ?", broadcastID).Delete(&broadcastModel{})
		if result.Error != nil {
			return result.Error
		}
		removed = result.RowsAffected > 0
		if err := tx.Where("broadcast_id = ?", broadcastID).Delete(&eventModel{}).Error; err != nil {
			return err
		}
		return tx.Where("broadcast_id = ?", broadcastID).Delete(&dedupKeyModel{}).Error
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

type broadcastModel struct {
	BroadcastID   string    `gorm:"column:broadcast_id;primaryKey"`
	AuthorID      string    `gorm:"column:author_id"`
	AuthorName    string    `gorm:"column:author_name"`
	State         string    `gorm:"column:state"`
	Region        string    `gorm:"column:region"`
	Severity      string    `gorm:"column:severity"`
	Message       string    `gorm:"column:message"`
	Responders    []byte    `gorm:"column:responders"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
	RequestID     string    `gorm:"column:request_id"`
	CorrelationID string    `gorm:"column:correlation_id"`
	EventHash     string    `gorm:"column:event_hash"`
	RetentionTag  string    `gorm:"column:retention_tag"`
}

func (broadcastModel) TableName() string {
	return "siaga_broadcasts"
}

func broadcastModelFromEntity(broadcast entities.SiagaBroadcast) *broadcastModel {
	responders := broadcast.Responders
	if responders == nil {
		responders = []string{}
	}
	respondersRaw, _ := json.Marshal(responders)
	return &broadcastModel{
		BroadcastID:   broadcast.BroadcastID,
		AuthorID:      broadcast.AuthorID,
		AuthorName:    broadcast.AuthorName,
		State:         string(broadcast.State),
		Region:        broadcast.Region,
		Severity:      string(broadcast.Severity),
		Message:       broadcast.Message,
		Responders:    respondersRaw,
		CreatedAt:     broadcast.CreatedAt.UTC(),
		UpdatedAt:     broadcast.UpdatedAt.UTC(),
		RequestID:     broadcast.RequestID,
		CorrelationID: broadcast.CorrelationID,
		EventHash:     broadcast.EventHash,
		RetentionTag:  broadcast.RetentionTag,
	}
}

func broadcastUpdatesFromEntity(broadcast entities.SiagaBroadcast) map[string]any {
	row := broadcastModelFromEntity(broadcast)
	return map[string]any{
		"author_id":      row.AuthorID,
		"author_name":    row.AuthorName,
		"state":          row.State,
		"region":         row.Region,
		"severity":       row.Severity,
		"message":        row.Message,
		"responders":     row.Responders,
		"updated_at":     row.UpdatedAt,
		"request_id":     row.RequestID,
		"correlation_id": row.CorrelationID,
		"event_hash":     row.EventHash,
		"retention_tag":  row.RetentionTag,
	}
}

func (m broadcastModel) toEntity() entities.SiagaBroadcast {
	var responders []string
	if len(m.Responders) > 0 {
		_ = json.Unmarshal(m.Responders, &responders)
	}
	return entities.SiagaBroadcast{
		BroadcastID:   m.BroadcastID,
		AuthorID:      m.AuthorID,
		AuthorName:    m.AuthorName,
		State:         entities.BroadcastState(m.State),
		Region:        m.Region,
		Severity:      entities.Severity(m.Severity),
		Message:       m.Message,
		Responders:    responders,
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
	BroadcastID   string    `gorm:"column:broadcast_id"`
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
	return "siaga_events"
}

func eventModelFromEntity(event entities.TimelineEvent) *eventModel {
	var metadataRaw []byte
	if event.Metadata != nil {
		metadataRaw, _ = json.Marshal(event.Metadata)
	}
	return &eventModel{
		EventID:       event.EventID,
		BroadcastID:   event.BroadcastID,
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
		BroadcastID:   m.BroadcastID,
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
	Key         string `gorm:"column:key;primaryKey"`
	BroadcastID string `gorm:"column:broadcast_id"`
}

func (dedupKeyModel) TableName() string {
	return "siaga_dedup_keys"
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
	return "siaga_outbox"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
