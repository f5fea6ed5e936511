package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	application "warga/contexts/emergency/siaga-service/application"
	"warga/contexts/emergency/siaga-service/ports"
	"warga/internal/shared/events"
)

// OutboxRelay publishes pending siaga outbox rows to the event bus.
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
		logger.Error("siaga outbox list failed",
			"event", "siaga_outbox_list_failed",
			"module", "emergency/siaga-service",
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
			logger.Error("siaga outbox decode failed",
				"event", "siaga_outbox_decode_failed",
				"module", "emergency/siaga-service",
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
			logger.Error("siaga outbox publish failed",
				"event", "siaga_outbox_publish_failed",
				"module", "emergency/siaga-service",
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"error", err.Error(),
			)
			return err
		}
		if err := r.Outbox.MarkOutboxPublished(ctx, row.OutboxID, now); err != nil {
			logger.Error("siaga outbox mark published failed",
				"event", "siaga_outbox_mark_published_failed",
				"module", "emergency/siaga-service",
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"error", err.Error(),
			)
			return err
		}
	}

	if len(pending) > 0 {
		logger.Info("siaga outbox relay cycle completed",
			"event", "siaga_outbox_relay_completed",
			"module", "emergency/siaga-service",
			"layer", "worker",
			"published_count", len(pending),
		)
	}
	return nil
}
