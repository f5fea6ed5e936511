package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName  string
	PostgresDSN  string
	KafkaBrokers []string

	OutboxBatchSize        int
	OutboxRelayInterval    time.Duration
	EnableVaultExpiry      bool
	EnableRetentionSweep   bool
	RetentionSweepInterval time.Duration
}

func Load() (Config, error) {
	service := os.Getenv("WARGA_SERVICE_NAME")
	if service == "" {
		service = "warga"
	}

	var brokers []string
	for _, value := range strings.Split(os.Getenv("WARGA_KAFKA_BROKERS"), ",") {
		value = strings.TrimSpace(value)
		if value != "" {
			brokers = append(brokers, value)
		}
	}
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}

	return Config{
		ServiceName:  service,
		PostgresDSN:  os.Getenv("WARGA_POSTGRES_DSN"),
		KafkaBrokers: brokers,

		OutboxBatchSize:        envInt("WARGA_OUTBOX_BATCH_SIZE", 100),
		OutboxRelayInterval:    envDuration("WARGA_OUTBOX_RELAY_INTERVAL", 2*time.Second),
		EnableVaultExpiry:      envBool("WARGA_ENABLE_VAULT_EXPIRY", true),
		EnableRetentionSweep:   envBool("WARGA_ENABLE_RETENTION_SWEEP", true),
		RetentionSweepInterval: envDuration("WARGA_RETENTION_SWEEP_INTERVAL", time.Minute),
	}, nil
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
