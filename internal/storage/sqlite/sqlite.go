// Package sqlite is the default sample store backend: a single SQLite file in
// WAL mode, shared by one collector process and any number of reader
// processes.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/logging"
	"github.com/xtxerr/sensorlog/internal/storage/config"
	"github.com/xtxerr/sensorlog/internal/storage/sqlstore"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - samples table with UNIQUE (entity_id, ts_utc)
const currentSchemaVersion = 1

var log = logging.Component("storage.sqlite")

// Store is a SQLite sample store.
type Store struct {
	*sqlstore.Store
	path string
}

// Open creates or opens the database at cfg.Path and applies the schema.
//
// The database is configured with:
//   - WAL mode so readers never block on the writer
//   - NORMAL synchronous mode
//   - a busy timeout bounding lock waits
//   - a single write connection and a query-only read pool
//
// This function is idempotent - safe to call against an existing store.
func Open(cfg *config.Config) (*Store, error) {
	if cfg.InMemory() {
		return nil, errors.NewStorage(errors.ErrStorageInit, "open",
			errors.NewValidation("storage.path", "sqlite requires a file path"))
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.NewStorage(errors.ErrStorageInit, "create directory", err)
		}
	}

	schema, err := loadSchema(cfg.SchemaPath)
	if err != nil {
		return nil, errors.NewStorage(errors.ErrStorageInit, "load schema", err)
	}

	write, err := openDB(cfg, url.Values{
		"_synchronous": {"NORMAL"},
		"_txlock":      {"immediate"},
	})
	if err != nil {
		return nil, errors.NewStorage(errors.ErrStorageInit, "open writer", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	write.SetMaxOpenConns(1)
	write.SetMaxIdleConns(1)

	if err := initialize(write, schema); err != nil {
		write.Close()
		return nil, errors.NewStorage(errors.ErrStorageInit, "initialize", err)
	}

	read, err := openDB(cfg, url.Values{"_query_only": {"true"}})
	if err != nil {
		write.Close()
		return nil, errors.NewStorage(errors.ErrStorageInit, "open readers", err)
	}
	read.SetMaxOpenConns(cfg.ReadPoolSize())

	log.Debug("store opened", "path", cfg.Path, "read_conns", cfg.ReadPoolSize())

	return &Store{Store: sqlstore.New(write, read), path: cfg.Path}, nil
}

// OpenReadOnly opens an existing database for queries only. The schema is
// not applied and Write fails with errors.ErrReadOnly.
func OpenReadOnly(cfg *config.Config) (*Store, error) {
	if cfg.InMemory() {
		return nil, errors.NewStorage(errors.ErrStorageInit, "open",
			errors.NewValidation("storage.path", "sqlite requires a file path"))
	}
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, errors.NewStorage(errors.ErrStorageInit, "open", err)
	}

	read, err := openDB(cfg, url.Values{"mode": {"ro"}})
	if err != nil {
		return nil, errors.NewStorage(errors.ErrStorageInit, "open readers", err)
	}
	read.SetMaxOpenConns(cfg.ReadPoolSize())

	if err := read.Ping(); err != nil {
		read.Close()
		return nil, errors.NewStorage(errors.ErrStorageInit, "connect", err)
	}
	if err := verifySchema(read); err != nil {
		read.Close()
		return nil, errors.NewStorage(errors.ErrStorageInit, "verify schema", err)
	}

	return &Store{Store: sqlstore.New(nil, read), path: cfg.Path}, nil
}

// Path returns the database file.
func (s *Store) Path() string {
	return s.path
}

// JournalMode reports the journal mode of the database, "wal" once Open
// has succeeded.
func (s *Store) JournalMode(ctx context.Context) (string, error) {
	var mode string
	if err := s.ReadDB().QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		return "", err
	}
	return strings.ToLower(mode), nil
}

func openDB(cfg *config.Config, params url.Values) (*sql.DB, error) {
	params.Set("_busy_timeout", fmt.Sprint(cfg.BusyTimeoutMs()))
	dsn := "file:" + cfg.Path + "?" + params.Encode()
	return sql.Open("sqlite3", dsn)
}

func loadSchema(path string) (string, error) {
	if path == "" {
		return schemaSQL, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// initialize verifies the connection, switches to WAL and applies the
// schema. Every step is idempotent.
func initialize(db *sql.DB, schema string) error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := applyPragmas(db); err != nil {
		return err
	}
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	if err := verifySchema(db); err != nil {
		return err
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// applyPragmas sets the journal mode and checks that it took effect.
func applyPragmas(db *sql.DB) error {
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode = WAL").Scan(&mode); err != nil {
		return fmt.Errorf("set journal_mode: %w", err)
	}
	if !strings.EqualFold(mode, "wal") {
		return fmt.Errorf("journal_mode is %q, want wal", mode)
	}
	return nil
}

// verifySchema checks that the samples table has the expected columns and a
// unique key on exactly (entity_id, ts_utc), which every write relies on.
func verifySchema(db *sql.DB) error {
	rows, err := db.Query("SELECT entity_id, ts_utc, value FROM samples LIMIT 0")
	if err != nil {
		return fmt.Errorf("samples table: %w", err)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	ok, err := hasSampleKey(db)
	if err != nil {
		return fmt.Errorf("samples indexes: %w", err)
	}
	if !ok {
		return fmt.Errorf("samples table has no unique key on (entity_id, ts_utc)")
	}
	return sqlstore.CheckUpsert(context.Background(), db)
}

// hasSampleKey reports whether a full unique index of samples covers
// exactly entity_id and ts_utc. A composite primary key shows up as an
// index with origin "pk".
func hasSampleKey(db *sql.DB) (bool, error) {
	rows, err := db.Query("PRAGMA index_list('samples')")
	if err != nil {
		return false, err
	}
	var unique []string
	for rows.Next() {
		var (
			seq, isUnique, partial int
			name, origin           string
		)
		if err := rows.Scan(&seq, &name, &isUnique, &origin, &partial); err != nil {
			rows.Close()
			return false, err
		}
		if isUnique == 1 && partial == 0 {
			unique = append(unique, name)
		}
	}
	if err := rows.Close(); err != nil {
		return false, err
	}

	for _, index := range unique {
		cols, err := indexColumns(db, index)
		if err != nil {
			return false, err
		}
		if len(cols) == 2 && cols["entity_id"] && cols["ts_utc"] {
			return true, nil
		}
	}
	return false, nil
}

func indexColumns(db *sql.DB, index string) (map[string]bool, error) {
	rows, err := db.Query("SELECT name FROM pragma_index_info(?)", index)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name sql.NullString
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		// Expression columns have no name and never match.
		cols[name.String] = true
	}
	return cols, rows.Err()
}
