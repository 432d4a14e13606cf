package persistence

import (
	"context"
	"fmt"

	"github.com/codi-dev/codi/internal/common/config"
	"github.com/codi-dev/codi/internal/common/logger"
)

// Provide returns the persistence backend selected by config. An empty
// driver yields the in-memory backend.
func Provide(ctx context.Context, cfg *config.DatabaseConfig, log *logger.Logger) (Port, error) {
	switch cfg.Driver {
	case "":
		log.Info("persistence: in-memory backend")
		return NewMemoryPort(), nil
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = "codi.db"
		}
		log.Info("persistence: sqlite backend")
		return NewSQLitePort(path, log)
	case "postgres":
		log.Info("persistence: postgres backend")
		return NewPostgresPort(ctx, cfg.DSN(), log)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
