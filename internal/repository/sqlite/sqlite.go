package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"llm-gateway/internal/logger"
	"llm-gateway/internal/repository/db"
	"net/url"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ db.Database = (*SQLiteDB)(nil)

// SQLiteDB implements db.Database on a local SQLite file.
type SQLiteDB struct {
	conn *sql.DB
}

// DSNForFile builds a DSN with foreign keys and a busy timeout enabled.
func DSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite: empty path")
	}
	q := url.Values{}
	q.Set("_foreign_keys", "on")
	q.Set("_busy_timeout", "5000")
	q.Set("_journal_mode", "WAL")
	return "file:" + path + "?" + q.Encode(), nil
}

// NewSQLiteDB opens the database at path and applies migrations.
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	dsn, err := DSNForFile(path)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time keeps pair appends serialized without SQLITE_BUSY churn.
	conn.SetMaxOpenConns(1)

	s := &SQLiteDB{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Log.WithField("path", path).Info("SQLite store ready")
	return s, nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *SQLiteDB) migrate() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("error opening migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.conn, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("error creating migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("error creating migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("error running migrations: %w", err)
	}
	return nil
}
