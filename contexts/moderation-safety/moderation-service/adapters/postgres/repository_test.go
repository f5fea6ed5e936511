package postgresadapter

import (
	"os"
	"testing"

	"warga/contexts/moderation-safety/moderation-service/adapters/storetest"
	"warga/contexts/moderation-safety/moderation-service/ports"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// The durable store must pass the same conformance suite as the transient
// reference. Runs only when a disposable database is provided.
func TestRepositoryConformance(t *testing.T) {
	dsn := os.Getenv("WARGA_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("WARGA_TEST_POSTGRES_DSN not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	if err := db.AutoMigrate(&recordModel{}, &eventModel{}, &dedupKeyModel{}, &outboxModel{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	storetest.Run(t, func(t *testing.T) ports.RecordStore {
		for _, model := range []any{&dedupKeyModel{}, &eventModel{}, &recordModel{}, &outboxModel{}} {
			if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				t.Fatalf("truncate: %v", err)
			}
		}
		return NewRepository(db, nil)
	})
}
