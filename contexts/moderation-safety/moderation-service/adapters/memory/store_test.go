package memory_test

import (
	"testing"

	"warga/contexts/moderation-safety/moderation-service/adapters/memory"
	"warga/contexts/moderation-safety/moderation-service/adapters/storetest"
	"warga/contexts/moderation-safety/moderation-service/ports"
)

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ports.RecordStore {
		return memory.NewStore()
	})
}
