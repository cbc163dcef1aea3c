package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createCheckpointTable = `
	CREATE TABLE IF NOT EXISTS tunnel_checkpoints (
		name       TEXT PRIMARY KEY,
		token      BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)
`

const upsertCheckpoint = `
	INSERT INTO tunnel_checkpoints (name, token, updated_at)
	VALUES ($1, $2, now())
	ON CONFLICT (name) DO UPDATE SET
		token = EXCLUDED.token,
		updated_at = EXCLUDED.updated_at
`

const selectCheckpoint = `SELECT token FROM tunnel_checkpoints WHERE name = $1`

// PostgresConfig holds the connection settings for the checkpoint pool
type PostgresConfig struct {
	URI      string
	MinConns int32
	MaxConns int32
}

// NewPostgresPool opens a small pgx pool and makes sure the checkpoint table exists
func NewPostgresPool(ctx context.Context, cfg PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, createCheckpointTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create checkpoint table: %w", err)
	}

	return pool, nil
}

// PostgresTokenStore implements TokenStore on a row of tunnel_checkpoints
type PostgresTokenStore struct {
	pool *pgxpool.Pool
	name string
}

func NewPostgresTokenStore(pool *pgxpool.Pool, name string) *PostgresTokenStore {
	return &PostgresTokenStore{pool: pool, name: name}
}

func (s *PostgresTokenStore) Save(ctx context.Context, token []byte) error {
	if _, err := s.pool.Exec(ctx, upsertCheckpoint, s.name, token); err != nil {
		return fmt.Errorf("failed to save checkpoint %q: %w", s.name, err)
	}
	return nil
}

func (s *PostgresTokenStore) Load(ctx context.Context) ([]byte, error) {
	var token []byte
	err := s.pool.QueryRow(ctx, selectCheckpoint, s.name).Scan(&token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load checkpoint %q: %w", s.name, err)
	}
	return token, nil
}
