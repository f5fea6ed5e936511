package workers

import (
	"context"
	"log/slog"
	"time"

	application "warga/contexts/protection/vault-service/application"
	"warga/contexts/protection/vault-service/ports"
)

// SweepJob runs the retention sweeper at the current clock reading.
type SweepJob struct {
	Service  application.Service
	Clock    ports.Clock
	Disabled bool
	Logger   *slog.Logger
}

func (j SweepJob) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(j.Logger)
	if j.Disabled {
		return nil
	}
	now := time.Now().UTC()
	if j.Clock != nil {
		now = j.Clock.Now().UTC()
	}

	removed, err := j.Service.Sweep(ctx, now.UnixMilli())
	if err != nil {
		logger.Error("vault retention sweep failed",
			"event", "vault_retention_sweep_failed",
			"module", "protection/vault-service",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}
	if len(removed) > 0 {
		logger.Info("vault retention sweep removed entries",
			"event", "vault_retention_sweep_removed",
			"module", "protection/vault-service",
			"layer", "worker",
			"removed_count", len(removed),
		)
	}
	return nil
}
