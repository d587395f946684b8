// Package pgpool wraps a pgx connection pool and exposes it as a
// database/sql *sql.DB via the pgx stdlib driver, so the rest of the engine
// can use plain database/sql against Postgres without depending on pgx
// types directly (SPEC_FULL §4.K′).
package pgpool

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"database/sql"
)

// Config configures pool sizing and the command timeout (SPEC_FULL §8 db.*
// keys). CommandTimeout bounds only contexts derived through
// Pool.WithTimeout; it is not applied to other queries on the *sql.DB.
type Config struct {
	Host                string
	Port                int
	Database            string
	User                string
	Password            string
	SSLMode             string
	PoolMinSize         int32
	PoolMaxSize         int32
	CommandTimeout      time.Duration
}

// DSN renders Config as a libpq connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.User, c.Password, c.SSLMode,
	)
}

// Pool wraps a pgxpool.Pool and the *sql.DB view of it used by every store
// and executor package.
type Pool struct {
	pgx *pgxpool.Pool
	DB  *sql.DB

	commandTimeout time.Duration
}

// Open connects a pool using cfg, applying cfg.PoolMinSize/PoolMaxSize, and
// registers it with database/sql via pgx's stdlib adapter so callers get a
// *sql.DB without a second physical connection pool.
func Open(ctx context.Context, cfg Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("pgpool: parse config: %w", err)
	}
	if cfg.PoolMinSize > 0 {
		poolCfg.MinConns = cfg.PoolMinSize
	}
	if cfg.PoolMaxSize > 0 {
		poolCfg.MaxConns = cfg.PoolMaxSize
	}

	pgxPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pgpool: connect: %w", err)
	}

	db := stdlib.OpenDBFromPool(pgxPool)

	timeout := cfg.CommandTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Pool{pgx: pgxPool, DB: db, commandTimeout: timeout}, nil
}

// WithTimeout derives a context bounded by the pool's configured command
// timeout, for callers issuing a single statement outside a caller-managed
// context deadline.
func (p *Pool) WithTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, p.commandTimeout)
}

// Ping verifies connectivity.
func (p *Pool) Ping(ctx context.Context) error {
	return p.DB.PingContext(ctx)
}

// Close releases both the database/sql handle and the underlying pgx pool.
func (p *Pool) Close() error {
	err := p.DB.Close()
	p.pgx.Close()
	return err
}
