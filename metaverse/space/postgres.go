package space

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const lookupQuery = `SELECT id, name, width, COALESCE(height, 0) FROM "Space" WHERE id = $1`

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore looks spaces up in the "Space" table.
type PostgresStore struct {
	pool *pgxpool.Pool
	db   rowQuerier
}

// NewPostgresStore connects a pool to databaseURL and verifies it with a ping.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{pool: pool, db: pool}, nil
}

// LookupSpace fetches one space row.
func (p *PostgresStore) LookupSpace(ctx context.Context, id string) (Space, error) {
	var s Space
	err := p.db.QueryRow(ctx, lookupQuery, id).Scan(&s.ID, &s.Name, &s.Width, &s.Height)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Space{}, ErrSpaceNotFound
		}
		return Space{}, fmt.Errorf("query space %s: %w", id, err)
	}
	if err := s.Validate(); err != nil {
		return Space{}, err
	}
	return s, nil
}

// Close releases the pool.
func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}
