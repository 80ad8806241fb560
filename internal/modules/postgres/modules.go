package postgres

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"webhook_trader/internal/modules/config"
	"webhook_trader/internal/runner/cycle"
	"webhook_trader/pkg/db"
)

// newStore без DATABASE_DSN состояние живёт только в памяти.
func newStore(ctx context.Context, lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (cycle.Store, error) {
	log = log.Named("postgres")
	if cfg.DB == "" {
		log.Info("DATABASE_DSN is empty, symbol state is not persisted")
		return cycle.NopStore{}, nil
	}

	poolMaster, err := db.NewPool(ctx, db.PoolConfig{
		DSN:            cfg.DB,
		MaxConns:       4,
		ConnectTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create poolMaster: %w", err)
	}

	tx := db.NewPgTxManager(poolMaster)
	store := NewStateStore(tx, log)
	if err := store.Migrate(ctx); err != nil {
		tx.Close()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			tx.Close()
			return nil
		},
	})
	return store, nil
}

// Module отдаёт cycle.Store.
func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(newStore),
	)
}
