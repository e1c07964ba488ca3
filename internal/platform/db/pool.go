package db

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PoolConfig describes the connection pool the document store runs on.
type PoolConfig struct {
	DatabaseURL string
	Schema      string
	MaxConns    int32
	MinConns    int32
}

// NewPool connects and pins every connection's search_path to cfg.Schema so
// the documents table resolves without qualification.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	pcfg, err := parsePoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

func parsePoolConfig(cfg PoolConfig) (*pgxpool.Config, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}
	if cfg.Schema != "" {
		if !schemaPattern.MatchString(cfg.Schema) {
			return nil, fmt.Errorf("invalid schema name %q", cfg.Schema)
		}
		pcfg.ConnConfig.RuntimeParams["search_path"] = cfg.Schema
	}
	return pcfg, nil
}
