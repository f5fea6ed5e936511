package memory_test

import (
	"testing"

	"warga/contexts/protection/vault-service/adapters/memory"
	"warga/contexts/protection/vault-service/adapters/storetest"
	"warga/contexts/protection/vault-service/ports"
)

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ports.EntryStore {
		return memory.NewStore()
	})
}
