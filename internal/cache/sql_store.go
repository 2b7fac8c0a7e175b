package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/pixelcache/internal/cachekey"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type dialect struct {
	schema string
	exists string
	get    string
	insert string
}

var dialects = map[string]dialect{
	DriverPostgres: {
		schema: `
CREATE TABLE IF NOT EXISTS artifacts (
	cache_key TEXT PRIMARY KEY,
	data BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`,
		exists: `SELECT 1 FROM artifacts WHERE cache_key = $1`,
		get:    `SELECT data FROM artifacts WHERE cache_key = $1`,
		insert: `INSERT INTO artifacts (cache_key, data, created_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (cache_key) DO NOTHING`,
	},
	DriverSQLite: {
		schema: `
CREATE TABLE IF NOT EXISTS artifacts (
	cache_key TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	created_at TIMESTAMP NOT NULL
);
`,
		exists: `SELECT 1 FROM artifacts WHERE cache_key = ?`,
		get:    `SELECT data FROM artifacts WHERE cache_key = ?`,
		insert: `INSERT INTO artifacts (cache_key, data, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (cache_key) DO NOTHING`,
	},
}

// SQLStore keeps artifacts in an "artifacts" table, on postgres or on an
// embedded sqlite file. The primary key makes inserts put-if-absent.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

func NewSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported sql driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	store := &SQLStore{db: db, dialect: d}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.schema); err != nil {
		return fmt.Errorf("ensure artifacts schema: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Exists(ctx context.Context, key cachekey.Key) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	var one int
	err := s.db.QueryRowContext(ctx, s.dialect.exists, key.String()).Scan(&one)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	default:
		return false, ioFailure("query", key, err)
	}
}

func (s *SQLStore) Get(ctx context.Context, key cachekey.Key) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	var data []byte
	if err := s.db.QueryRowContext(ctx, s.dialect.get, key.String()).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(key)
		}
		return nil, ioFailure("query", key, err)
	}
	return data, nil
}

func (s *SQLStore) Put(ctx context.Context, key cachekey.Key, data []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.dialect.insert, key.String(), data, time.Now().UTC())
	if err != nil {
		return ioFailure("insert", key, err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return ioFailure("insert", key, err)
	}
	if inserted > 0 {
		return nil
	}

	existing, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return compareExisting(key, existing, data)
}
