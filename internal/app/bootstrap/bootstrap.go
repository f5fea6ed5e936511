package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	siagaservice "warga/contexts/emergency/siaga-service"
	siagapostgres "warga/contexts/emergency/siaga-service/adapters/postgres"
	siagaworkers "warga/contexts/emergency/siaga-service/application/workers"
	moderationservice "warga/contexts/moderation-safety/moderation-service"
	moderationpostgres "warga/contexts/moderation-safety/moderation-service/adapters/postgres"
	moderationworkers "warga/contexts/moderation-safety/moderation-service/application/workers"
	vaultservice "warga/contexts/protection/vault-service"
	vaultpostgres "warga/contexts/protection/vault-service/adapters/postgres"
	vaultworkers "warga/contexts/protection/vault-service/application/workers"
	"warga/internal/platform/config"
	"warga/internal/platform/db"
	"warga/internal/platform/messaging"
	"warga/internal/platform/telemetry"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

// Modules exposes the wired application services of every bounded context.
// Embedding processes reach the use cases through here.
type Modules struct {
	Vault      vaultservice.Module
	Siaga      siagaservice.Module
	Moderation moderationservice.Module
}

type WorkerApp struct {
	Modules Modules

	postgres *db.Postgres

	vaultRelay      vaultworkers.OutboxRelay
	siagaRelay      siagaworkers.OutboxRelay
	moderationRelay moderationworkers.OutboxRelay
	expiry          vaultworkers.ExpiryJob
	sweep           vaultworkers.SweepJob

	relayInterval time.Duration
	sweepInterval time.Duration
	logger        *slog.Logger
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "worker")
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("WARGA_POSTGRES_DSN is required")
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	bus, err := messaging.NewBus(cfg.KafkaBrokers, logger)
	if err != nil {
		return nil, err
	}

	metrics := telemetry.NewMetrics(cfg.ServiceName, logger)
	clock := vaultpostgres.SystemClock{}

	vaultRepo := vaultpostgres.NewRepository(pg.DB, logger)
	vaultModule := vaultservice.NewModule(vaultservice.Dependencies{
		Store:       vaultRepo,
		Outbox:      vaultRepo,
		Clock:       clock,
		IDGenerator: vaultpostgres.UUIDGenerator{},
		Metrics:     metrics,
		Logger:      logger,
	})

	siagaRepo := siagapostgres.NewRepository(pg.DB, logger)
	siagaModule := siagaservice.NewModule(siagaservice.Dependencies{
		Store:       siagaRepo,
		Outbox:      siagaRepo,
		Clock:       siagapostgres.SystemClock{},
		IDGenerator: siagapostgres.UUIDGenerator{},
		Metrics:     metrics,
		Logger:      logger,
	})

	moderationRepo := moderationpostgres.NewRepository(pg.DB, logger)
	moderationModule := moderationservice.NewModule(moderationservice.Dependencies{
		Store:       moderationRepo,
		Outbox:      moderationRepo,
		Clock:       moderationpostgres.SystemClock{},
		IDGenerator: moderationpostgres.UUIDGenerator{},
		Metrics:     metrics,
		Logger:      logger,
	})

	return &WorkerApp{
		Modules: Modules{
			Vault:      vaultModule,
			Siaga:      siagaModule,
			Moderation: moderationModule,
		},
		postgres: pg,
		vaultRelay: vaultworkers.OutboxRelay{
			Outbox:    vaultRepo,
			Publisher: bus,
			Clock:     clock,
			BatchSize: cfg.OutboxBatchSize,
			Logger:    logger,
		},
		siagaRelay: siagaworkers.OutboxRelay{
			Outbox:    siagaRepo,
			Publisher: bus,
			Clock:     siagapostgres.SystemClock{},
			BatchSize: cfg.OutboxBatchSize,
			Logger:    logger,
		},
		moderationRelay: moderationworkers.OutboxRelay{
			Outbox:    moderationRepo,
			Publisher: bus,
			Clock:     moderationpostgres.SystemClock{},
			BatchSize: cfg.OutboxBatchSize,
			Logger:    logger,
		},
		expiry: vaultworkers.ExpiryJob{
			Service:  vaultModule.Service,
			Store:    vaultRepo,
			Clock:    clock,
			Disabled: !cfg.EnableVaultExpiry,
			Logger:   logger,
		},
		sweep: vaultworkers.SweepJob{
			Service:  vaultModule.Service,
			Clock:    clock,
			Disabled: !cfg.EnableRetentionSweep,
			Logger:   logger,
		},
		relayInterval: cfg.OutboxRelayInterval,
		sweepInterval: cfg.RetentionSweepInterval,
		logger:        logger,
	}, nil
}

func (w *WorkerApp) Run(ctx context.Context) error {
	relayTicker := time.NewTicker(w.relayInterval)
	defer relayTicker.Stop()
	sweepTicker := time.NewTicker(w.sweepInterval)
	defer sweepTicker.Stop()

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"relay_interval", w.relayInterval.String(),
		"sweep_interval", w.sweepInterval.String(),
	)

	for {
		if err := w.vaultRelay.RunOnce(ctx); err != nil {
			return err
		}
		if err := w.siagaRelay.RunOnce(ctx); err != nil {
			return err
		}
		if err := w.moderationRelay.RunOnce(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-sweepTicker.C:
			if err := w.expiry.RunOnce(ctx); err != nil {
				return err
			}
			if err := w.sweep.RunOnce(ctx); err != nil {
				return err
			}
		case <-relayTicker.C:
		}
	}
}

func (w *WorkerApp) Close() error {
	if w.postgres != nil {
		return w.postgres.Close()
	}
	return nil
}
