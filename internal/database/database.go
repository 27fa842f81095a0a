// Package database opens the Postgres connection described by the run's
// database secrets.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coreeng/action-deploy-pipeline/internal/secrets"
)

type Options struct {
	PingTimeout time.Duration
	MaxConns    int32
}

// DefaultOptions keeps the pool small; a deployment holds few connections.
func DefaultOptions() Options {
	return Options{PingTimeout: 5 * time.Second, MaxConns: 2}
}

func (o Options) Validate() error {
	if o.PingTimeout <= 0 {
		return errors.New("ping timeout must be positive")
	}
	if o.MaxConns < 1 {
		return errors.New("max conns must be >= 1")
	}
	return nil
}

// PoolConfig turns the database settings into a pgx pool configuration.
func PoolConfig(cfg secrets.Database, opts Options) (*pgxpool.Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	pc, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pc.MaxConns = opts.MaxConns
	pc.ConnConfig.ConnectTimeout = opts.PingTimeout
	return pc, nil
}

// Open connects and pings the database.
func Open(ctx context.Context, cfg secrets.Database, opts Options) (*pgxpool.Pool, error) {
	pc, err := PoolConfig(cfg, opts)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// Ping opens a pool, checks it answers and closes it again.
func Ping(ctx context.Context, cfg secrets.Database, opts Options) error {
	pool, err := Open(ctx, cfg, opts)
	if err != nil {
		return err
	}
	pool.Close()
	return nil
}
