package credstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	profile    TEXT    NOT NULL,
	key        TEXT    NOT NULL,
	value      TEXT    NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (profile, key)
)`

// SQLiteStore persists credentials in a local SQLite file so a session
// survives process restarts.
type SQLiteStore struct {
	db      *sql.DB
	profile string
	now     func() time.Time
}

// OpenSQLite opens (and creates if needed) the credential database at path.
func OpenSQLite(path, profile string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("credstore: storage path is required")
	}
	profile = strings.TrimSpace(profile)
	if profile == "" {
		return nil, ErrProfileRequired
	}

	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o700); err != nil {
		return nil, fmt.Errorf("create credential dir: %w", err)
	}

	// modernc.org/sqlite applies pragmas only through _pragma parameters.
	dsn := cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer keeps Save/Clear strictly serialized.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite db: %w", err)
	}
	// Tokens are secrets; keep the file private to the user.
	_ = os.Chmod(cleanPath, 0o600)

	return &SQLiteStore{db: db, profile: profile, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context) (Credentials, bool, error) {
	if s == nil || s.db == nil {
		return Credentials{}, false, ErrNotConfigured
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM credentials WHERE profile = ?`, s.profile)
	if err != nil {
		return Credentials{}, false, fmt.Errorf("load credentials: %w", err)
	}
	defer rows.Close()

	vals := make(map[string]string, 3)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Credentials{}, false, fmt.Errorf("scan credential: %w", err)
		}
		vals[k] = v
	}
	if err := rows.Err(); err != nil {
		return Credentials{}, false, fmt.Errorf("load credentials: %w", err)
	}

	c, ok := fromMap(vals)
	return c, ok, nil
}

func (s *SQLiteStore) Save(ctx context.Context, c Credentials) error {
	if s == nil || s.db == nil {
		return ErrNotConfigured
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM credentials WHERE profile = ?`, s.profile); err != nil {
			return err
		}
		ts := s.now().UTC().UnixMilli()
		for k, v := range toMap(c) {
			if v == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO credentials (profile, key, value, updated_at) VALUES (?, ?, ?, ?)`,
				s.profile, k, v, ts,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrNotConfigured
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM credentials WHERE profile = ?`, s.profile)
		return err
	})
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit credentials: %w", err)
	}
	return nil
}
