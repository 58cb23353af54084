package credstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists credentials in PostgreSQL (inframon.client_credentials),
// keyed by profile. Used when several terminals share one operator profile.
//
// Schema:
//
//	CREATE TABLE inframon.client_credentials (
//	    profile    text        NOT NULL,
//	    key        text        NOT NULL,
//	    value      text        NOT NULL,
//	    updated_at timestamptz NOT NULL DEFAULT now(),
//	    PRIMARY KEY (profile, key)
//	);
type PostgresStore struct {
	pool    *pgxpool.Pool
	profile string
}

// NewPostgresStore creates a Postgres-backed credential store.
func NewPostgresStore(pool *pgxpool.Pool, profile string) (*PostgresStore, error) {
	profile = strings.TrimSpace(profile)
	if profile == "" {
		return nil, ErrProfileRequired
	}
	return &PostgresStore{pool: pool, profile: profile}, nil
}

func (s *PostgresStore) Load(ctx context.Context) (Credentials, bool, error) {
	if s == nil || s.pool == nil {
		return Credentials{}, false, ErrNotConfigured
	}

	rows, err := s.pool.Query(ctx, `
		SELECT key, value
		FROM inframon.client_credentials
		WHERE profile = $1
	`, s.profile)
	if err != nil {
		return Credentials{}, false, fmt.Errorf("load credentials: %w", err)
	}

	vals := make(map[string]string, 3)
	var k, v string
	_, err = pgx.ForEachRow(rows, []any{&k, &v}, func() error {
		vals[k] = v
		return nil
	})
	if err != nil {
		return Credentials{}, false, fmt.Errorf("load credentials: %w", err)
	}

	c, ok := fromMap(vals)
	return c, ok, nil
}

func (s *PostgresStore) Save(ctx context.Context, c Credentials) error {
	if s == nil || s.pool == nil {
		return ErrNotConfigured
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			DELETE FROM inframon.client_credentials WHERE profile = $1
		`, s.profile); err != nil {
			return fmt.Errorf("clear credentials: %w", err)
		}

		batch := &pgx.Batch{}
		for k, v := range toMap(c) {
			if v == "" {
				continue
			}
			batch.Queue(`
				INSERT INTO inframon.client_credentials (profile, key, value, updated_at)
				VALUES ($1, $2, $3, now())
			`, s.profile, k, v)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("write credentials: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return ErrNotConfigured
	}

	_, err := s.pool.Exec(ctx, `
		DELETE FROM inframon.client_credentials WHERE profile = $1
	`, s.profile)
	if err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

// Close is a noop; the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }
