package memory_test

import (
	"testing"

	"warga/contexts/emergency/siaga-service/adapters/memory"
	"warga/contexts/emergency/siaga-service/adapters/storetest"
	"warga/contexts/emergency/siaga-service/ports"
)

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ports.BroadcastStore {
		return memory.NewStore()
	})
}
