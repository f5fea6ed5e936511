package siagaservice

import (
	"log/slog"
	"time"

	"warga/contexts/emergency/siaga-service/adapters/memory"
	"warga/contexts/emergency/siaga-service/application"
	"warga/contexts/emergency/siaga-service/ports"
)

type Module struct {
	Service application.Service
	Store   *memory.Store
}

type Dependencies struct {
	Store       ports.BroadcastStore
	Outbox      ports.OutboxStore
	Clock       ports.Clock
	IDGenerator ports.IDGenerator
	Metrics     ports.Metrics
	Logger      *slog.Logger
}

func NewModule(deps Dependencies) Module {
	return Module{
		Service: application.Service{
			Store:   deps.Store,
			Outbox:  deps.Outbox,
			Clock:   deps.Clock,
			IDGen:   deps.IDGenerator,
			Metrics: deps.Metrics,
			Logger:  deps.Logger,
		},
	}
}

// NewInMemoryModule wires the transient store for tests and local runs.
func NewInMemoryModule(logger *slog.Logger) Module {
	store := memory.NewStore()
	module := NewModule(Dependencies{
		Store:       store,
		Outbox:      store,
		Clock:       memory.NewClock(time.Now()),
		IDGenerator: memory.NewIDGenerator(),
		Logger:      logger,
	})
	module.Store = store
	return module
}
