package credstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
)

// Integration tests are enabled when INFRAMON_DATABASE_URL is set.

func TestPostgresStore_Contract(t *testing.T) {
	dbURL := os.Getenv("INFRAMON_DATABASE_URL")
	if dbURL == "" {
		t.Skip("INFRAMON_DATABASE_URL is not set; skipping Postgres integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		t.Skipf("postgres unreachable: %v", err)
	}

	_, err = pool.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS inframon;
		CREATE TABLE IF NOT EXISTS inframon.client_credentials (
			profile    text        NOT NULL,
			key        text        NOT NULL,
			value      text        NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now(),
			PRIMARY KEY (profile, key)
		)`)
	require.NoError(t, err)

	profile := "it-" + ulid.Make().String()
	s, err := NewPostgresStore(pool, profile)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Clear(context.Background()) })

	testStoreContract(t, s)
}
