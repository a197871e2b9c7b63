// Package sqlx implements storage.Backend as a single key-value table on
// PostgreSQL, MySQL or SQLite through jmoiron/sqlx.
package sqlx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"playkit/storage"
)

// Driver selects the SQL dialect.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
	DriverSQLite   Driver = "sqlite"
)

// Config holds SQL connection configuration.
type Config struct {
	Driver          Driver        `json:"driver" yaml:"driver" env:"PLAYKIT_SQL_DRIVER"`
	DSN             string        `json:"dsn" yaml:"dsn" env:"PLAYKIT_SQL_DSN"`
	Table           string        `json:"table" yaml:"table" env:"PLAYKIT_SQL_TABLE"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns" env:"PLAYKIT_SQL_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns" env:"PLAYKIT_SQL_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime" env:"PLAYKIT_SQL_CONN_MAX_LIFETIME"`
	AutoMigrate     bool          `json:"auto_migrate" yaml:"auto_migrate" env:"PLAYKIT_SQL_AUTO_MIGRATE"`
}

// DefaultConfig returns defaults for the given driver.
func DefaultConfig(driver Driver) Config {
	cfg := Config{
		Driver:          driver,
		Table:           "kv_store",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		AutoMigrate:     true,
	}
	if driver == DriverSQLite {
		cfg.DSN = "./data/playkit.db"
		cfg.MaxOpenConns = 1
	}
	return cfg
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Validate checks the driver and table name.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverPostgres, DriverMySQL, DriverSQLite:
	default:
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}
	if c.DSN == "" {
		return errors.New("dsn cannot be empty")
	}
	if !tableName.MatchString(c.Table) {
		return fmt.Errorf("invalid table name %q", c.Table)
	}
	return nil
}

// Store keeps every key as one row of (store_key, store_value, updated_at).
type Store struct {
	db     *sqlx.DB
	driver Driver
	table  string
	closed atomic.Bool
}

// New opens a connection pool and, if configured, creates the table.
func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sql config: %w", err)
	}
	db, err := sqlx.Open(string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}

	s := &Store{db: db, driver: cfg.Driver, table: cfg.Table}
	if cfg.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithDB wraps an existing handle (useful for testing). The table
// defaults to kv_store.
func NewWithDB(db *sqlx.DB, driver Driver) *Store {
	return &Store{db: db, driver: driver, table: "kv_store"}
}

// Close closes the pool.
func (s *Store) Close() error {
	s.closed.Store(true)
	return s.db.Close()
}

// Migrate creates the key-value table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	var ddl string
	switch s.driver {
	case DriverPostgres:
		ddl = `CREATE TABLE IF NOT EXISTS %s (store_key VARCHAR(512) PRIMARY KEY, store_value BYTEA NOT NULL, updated_at BIGINT NOT NULL)`
	case DriverMySQL:
		ddl = `CREATE TABLE IF NOT EXISTS %s (store_key VARCHAR(512) PRIMARY KEY, store_value LONGBLOB NOT NULL, updated_at BIGINT NOT NULL)`
	default:
		ddl = `CREATE TABLE IF NOT EXISTS %s (store_key TEXT PRIMARY KEY, store_value BLOB NOT NULL, updated_at INTEGER NOT NULL)`
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(ddl, s.table)); err != nil {
		return fmt.Errorf("migrate %s: %w", s.table, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	var value []byte
	q := s.db.Rebind(fmt.Sprintf(`SELECT store_value FROM %s WHERE store_key = ?`, s.table))
	if err := s.db.GetContext(ctx, &value, q, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("select %q: %w", key, err)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	var q string
	switch s.driver {
	case DriverMySQL:
		q = `INSERT INTO %s (store_key, store_value, updated_at) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE store_value = VALUES(store_value), updated_at = VALUES(updated_at)`
	default:
		q = `INSERT INTO %s (store_key, store_value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT (store_key) DO UPDATE SET store_value = excluded.store_value, updated_at = excluded.updated_at`
	}
	q = s.db.Rebind(fmt.Sprintf(q, s.table))
	if _, err := s.db.ExecContext(ctx, q, key, value, time.Now().UTC().UnixMilli()); err != nil {
		return fmt.Errorf("upsert %q: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	q := s.db.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE store_key = ?`, s.table))
	if _, err := s.db.ExecContext(ctx, q, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	q := s.db.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE store_key LIKE ? ESCAPE '!'`, s.table))
	if _, err := s.db.ExecContext(ctx, q, likePrefix(prefix)); err != nil {
		return fmt.Errorf("delete prefix %q: %w", prefix, err)
	}
	return nil
}

// likePrefix escapes LIKE wildcards with '!' so the prefix matches literally.
func likePrefix(prefix string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(prefix) + "%"
}

var _ storage.Backend = (*Store)(nil)
