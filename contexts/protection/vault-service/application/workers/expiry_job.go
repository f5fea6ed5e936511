package workers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	application "warga/contexts/protection/vault-service/application"
	"warga/contexts/protection/vault-service/domain/entities"
	domainerrors "warga/contexts/protection/vault-service/domain/errors"
	"warga/contexts/protection/vault-service/ports"
	"warga/internal/shared/lifecycle"
)

// ExpiryJob applies the time-driven expired transition to non-terminal
// entries whose TTL elapsed. Each entry uses a fixed request id so the
// transition is idempotent across runs.
type ExpiryJob struct {
	Service  application.Service
	Store    ports.EntryStore
	Clock    ports.Clock
	Disabled bool
	Logger   *slog.Logger
}

func (j ExpiryJob) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(j.Logger)
	if j.Disabled {
		return nil
	}
	now := time.Now().UTC()
	if j.Clock != nil {
		now = j.Clock.Now().UTC()
	}

	ids, err := j.Store.ListExpired(ctx, now)
	if err != nil {
		logger.Error("vault expiry list failed",
			"event", "vault_expiry_list_failed",
			"module", "protection/vault-service",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}

	expired := 0
	for _, id := range ids {
		entry, ok, err := j.Store.Get(ctx, id)
		if err != nil {
			return err
		}
		if !ok || entities.StateMachine.Terminal(lifecycle.State(entry.State)) {
			continue
		}
		actor := ports.Actor{ID: application.SystemActorID, DisplayName: "System"}
		_, err = j.Service.Expire(ctx, actor, "ttl-expire", entry.CorrelationID, id)
		if err != nil {
			if errors.Is(err, domainerrors.ErrIllegalTransition) {
				continue
			}
			logger.Error("vault expiry transition failed",
				"event", "vault_expiry_transition_failed",
				"module", "protection/vault-service",
				"layer", "worker",
				"entry_id", id,
				"error", err.Error(),
			)
			return err
		}
		expired++
	}

	if expired > 0 {
		logger.Info("vault expiry cycle completed",
			"event", "vault_expiry_cycle_completed",
			"module", "protection/vault-service",
			"layer", "worker",
			"expired_count", expired,
		)
	}
	return nil
}
