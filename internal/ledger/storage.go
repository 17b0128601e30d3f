package ledger

import (
	"context"
	"fmt"

	"fluxrepair/internal/infra/persistence/memory"
	"fluxrepair/internal/infra/persistence/postgres"
	"fluxrepair/internal/infra/persistence/redis"
	"fluxrepair/internal/infra/persistence/sqlite"
	"fluxrepair/pkg/domain"
)

// StorageDriver identifies a concrete ledger backend.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-process only (tests / one-shot runs)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
	StorageRedis    StorageDriver = "redis"    // Redis stream
)

// StorageConfig selects and configures the ledger backend.
type StorageConfig struct {
	Driver      StorageDriver `mapstructure:"driver"`
	SQLitePath  string        `mapstructure:"sqlite_path"`
	PostgresDSN string        `mapstructure:"postgres_dsn"`
	Redis       redis.Config  `mapstructure:"redis"`
}

// OpenStore opens the backend named by cfg.Driver. An empty driver selects memory.
func OpenStore(ctx context.Context, cfg StorageConfig) (domain.PersistentLedger, error) {
	switch cfg.Driver {
	case "", StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		return sqlite.NewStore(cfg.SQLitePath)
	case StoragePostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	case StorageRedis:
		return redis.NewStore(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown ledger driver %s", cfg.Driver)
	}
}
