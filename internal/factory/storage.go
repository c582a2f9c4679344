package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sekretaria/agenda/internal/config"
	storepkg "github.com/sekretaria/agenda/internal/store"
	storepg "github.com/sekretaria/agenda/internal/store/postgres"
	storelite "github.com/sekretaria/agenda/internal/store/sqlite"
)

// NewStore builds the configured store.Store. The sqlite driver applies its
// schema on open; postgres schema is ensured asynchronously so startup is
// not blocked on a slow database.
func NewStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storepkg.Store, error) {
	switch cfg.DBDriver {
	case "sqlite":
		db, err := storelite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return storelite.NewWithDB(db), nil

	case "postgres":
		db, err := storepg.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		go func() {
			bootstrapCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if err := storepg.EnsureSchema(bootstrapCtx, db); err != nil {
				log.Warn().Err(err).Str("driver", cfg.DBDriver).Msg("store schema check failed")
			} else {
				log.Debug().Str("driver", cfg.DBDriver).Msg("store schema check completed")
			}
		}()
		return storepg.NewWithDB(db), nil

	default:
		return nil, fmt.Errorf("unknown DB_DRIVER: %s", cfg.DBDriver)
	}
}
