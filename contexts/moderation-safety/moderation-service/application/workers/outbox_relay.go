package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	application "warga/contexts/moderation-safety/moderation-service/application"
	"warga/contexts/moderation-safety/moderation-service/ports"
	"warga/internal/shared/events"
)

// OutboxRelay publishes pending moderation outbox rows to the event bus.
type OutboxRelay struct {
	Outbox    ports.OutboxStore
	Publisher ports.Publisher
	Clock     ports.Clock
	BatchSize int
	Logger    *slog.Logger
}

func (r OutboxRelay) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(r.Logger)
	limit := r.BatchSize
	if limit <= 0 {
		limit = 100
	}

	pending, err := r.Outbox.ListPendingOutbox(ctx, limit)
	if err != nil {
		logger.Error("moderation outbox list failed",
			"event", "moderation_outbox_list_failed",
			"module", "moderation-safety/moderation-service",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}

	now := time.Now().UTC()
	if r.Clock != nil {
		now = r.Clock.Now().UTC()
	}

	for _, row := range pending {
		var envelope events.Envelope
		if err := json.Unmarshal(row.Payload, &envelope); err != nil {
			logger.Error("moderation outbox decode failed",
				"event", "moderation_outbox_decode_failed",
				"module", "moderation-safety/moderation-service",
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"error", err.Error(),
			)
			return err
		}
		topic := envelope.EventType
		if topic == "" {
			topic = row.EventType
		}
		if err := r.Publisher.Publish(ctx, topic, envelope); err != nil {
			logger.Error("moderation outbox publish failed",
				"event", "moderation_outbox_publish_failed",
				"module", "moderation-safety/moderation-service",
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"error", err.Error(),
			)
			return err
		}
		if err := r.Outbox.MarkOutboxPublished(ctx, row.OutboxID, now); err != nil {
			logger.Error("moderation outbox mark published failed",
				"event", "moderation_outbox_mark_published_failed",
				"module", "moderation-safety/moderation-service",
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"error", err.Error(),
			)
			return err
		}
	}

	if len(pending) > 0 {
		logger.Info("moderation outbox relay cycle completed",
			"event", "moderation_outbox_relay_completed",
			"module", "moderation-safety/moderation-service",
			"layer", "worker",
			"published_count", len(pending),
		)
	}
	return nil
}
