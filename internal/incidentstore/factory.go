package incidentstore

import (
	"context"
	"fmt"

	"github.com/E4Itraining/AIOBS-sub000/config"
	"github.com/E4Itraining/AIOBS-sub000/internal/database"
	"go.uber.org/zap"
)

// Hooks 可选的观测回调
type Hooks struct {
	Operation OperationObserver
	PoolStats func(backend string, open, idle int)
}

// Open 按 cfg.Incidents.Store 创建持久化存储。memory 模式返回 (nil, nil)，
// 事件只保存在进程内 Recorder 中。
func Open(ctx context.Context, cfg *config.Config, hooks Hooks, logger *zap.Logger) (Store, error) {
	var store Store

	switch cfg.Incidents.Store {
	case "", "memory":
		return nil, nil

	case "database":
		db, err := database.Open(cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		var reporter database.StatsReporter
		if hooks.PoolStats != nil {
			backend := cfg.Database.Driver
			reporter = func(open, idle int) { hooks.PoolStats(backend, open, idle) }
		}
		pool, err := database.NewPoolManager(db, database.PoolConfigFrom(cfg.Database), reporter, logger)
		if err != nil {
			return nil, err
		}
		sqlStore, err := NewSQLStore(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		store = sqlStore

	case "redis":
		client, err := NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		store = NewRedisStore(client, cfg.Incidents.KeyPrefix, logger)

	default:
		return nil, fmt.Errorf("unknown incident store %q", cfg.Incidents.Store)
	}

	store = WithWriteTimeout(store, cfg.Incidents.WriteTimeout)
	return Instrument(store, hooks.Operation), nil
}
