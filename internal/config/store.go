package config

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	_ "modernc.org/sqlite"

	"github.com/petrijr/procflow/internal/persistence"
)

// OpenStore opens the store selected by cfg. Closing the returned store
// also closes the connection it was opened on.
func OpenStore(ctx context.Context, cfg StoreConfig) (persistence.Store, error) {
	switch cfg.Driver {
	case "memory":
		return persistence.NewInMemoryStore(), nil

	case "sqlite":
		db, err := sql.Open("sqlite", persistence.SQLiteDSN(cfg.DSN))
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if cfg.DSN == ":memory:" {
			db.SetMaxOpenConns(1)
		}
		s, err := persistence.NewSQLiteStore(db)
		if err != nil {
			return nil, multierr.Append(err, db.Close())
		}
		return &dbStore{Store: s, db: db}, nil

	case "postgres":
		db, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			return nil, multierr.Append(fmt.Errorf("ping postgres: %w", err), db.Close())
		}
		s, err := persistence.NewPostgresStore(db)
		if err != nil {
			return nil, multierr.Append(err, db.Close())
		}
		return &dbStore{Store: s, db: db}, nil

	case "redis":
		opts, err := redis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, multierr.Append(fmt.Errorf("ping redis: %w", err), client.Close())
		}
		return persistence.NewRedisStore(client, cfg.RedisPrefix), nil

	case "bolt":
		return persistence.OpenBoltStore(ctx, cfg.DSN)

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

type dbStore struct {
	persistence.Store
	db *sql.DB
}

func (s *dbStore) Close() error {
	return multierr.Append(s.Store.Close(), s.db.Close())
}
