package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dcard-ledger/internal/lock"
	"dcard-ledger/internal/repository"
	"dcard-ledger/internal/repository/chain"
	"dcard-ledger/internal/repository/memory"
	"dcard-ledger/internal/repository/postgres"
	"dcard-ledger/internal/repository/sqlite"
)

const redisPingTimeout = 3 * time.Second

// openRegistry connects the configured ledger backend. The returned func
// releases its connections.
func openRegistry(ctx context.Context, cfg Config, logger *zap.Logger) (repository.VoucherRegistry, func(), error) {
	switch cfg.Ledger.Backend {
	case backendPostgres:
		pool, err := newDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewVoucherRepository(pool), pool.Close, nil

	case backendSQLite:
		db, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		closeDB := func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		return sqlite.NewVoucherRepository(db), closeDB, nil

	case backendChain:
		registry, client, err := chain.Dial(ctx, chain.Config{
			RPCURL:          cfg.Chain.RPCURL,
			ContractAddress: cfg.Chain.ContractAddress,
			PrivateKey:      cfg.Chain.PrivateKey,
			PrivateKeyFile:  cfg.Chain.PrivateKeyFile,
			ChainID:         cfg.Chain.ChainID,
			CallTimeout:     cfg.Chain.CallTimeout,
			ReceiptTimeout:  cfg.Chain.ReceiptTimeout,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return registry, client.Close, nil

	case backendMemory:
		logger.Warn("memory ledger backend selected, vouchers are lost on restart")
		return memory.NewVoucherRegistry(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}
}

func newDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database.url failed: %w", err)
	}

	const maxInt32 = int(^uint32(0) >> 1)
	if cfg.Database.MaxConns > maxInt32 {
		return nil, fmt.Errorf("database.max_conns must be <= %d", maxInt32)
	}

	poolCfg.MaxConns = int32(cfg.Database.MaxConns) // #nosec G115 -- validated upper bound above.

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool failed: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Database.PingTimeout)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database failed: %w", err)
	}

	return pool, nil
}

// newLocker builds the per-code burn lock. The redis lock coordinates
// several replicas; the local one is enough for a single process.
func newLocker(ctx context.Context, cfg Config, logger *zap.Logger) (lock.Locker, func(), error) {
	if cfg.Ledger.Lock != lockRedis {
		return lock.NewLocalLocker(cfg.Ledger.LockWait), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis failed: %w", err)
	}

	closeClient := func() {
		if err := client.Close(); err != nil {
			logger.Warn("close redis client failed", zap.Error(err))
		}
	}
	return lock.NewRedisLocker(client, cfg.Ledger.LockWait, cfg.Ledger.LockTTL, logger), closeClient, nil
}

func buildCORSMiddleware(cfg Config) gin.HandlerFunc {
	origins := make([]string, 0, len(cfg.CORS.AllowOrigins))
	for _, origin := range cfg.CORS.AllowOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		origins = append(origins, trimmed)
	}
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}

	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Last-Event-ID", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Type", "Retry-After", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}
