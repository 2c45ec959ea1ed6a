// Package duckdb stores samples in an embedded DuckDB database.
//
// DuckDB allows a single process to open a file for writing, so reader
// processes must use OpenReadOnly while no collector holds the file, or
// query through the collector's HTTP API. An empty path or ":memory:"
// selects an in-memory database.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/logging"
	"github.com/xtxerr/sensorlog/internal/storage/config"
	"github.com/xtxerr/sensorlog/internal/storage/sqlstore"
)

var log = logging.Component("storage.duckdb")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS samples (
	entity_id BIGINT NOT NULL,
	ts_utc    BIGINT NOT NULL,
	value     DOUBLE NOT NULL,
	PRIMARY KEY (entity_id, ts_utc)
)`

// Store is a DuckDB sample store.
type Store struct {
	*sqlstore.Store
}

// Open creates or opens the database and applies the schema.
func Open(cfg *config.Config) (*Store, error) {
	dsn := ""
	if !cfg.InMemory() {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.NewStorage(errors.ErrStorageInit, "create directory", err)
			}
		}
		dsn = cfg.Path
	}

	db, err := connect(dsn, cfg.ReadPoolSize())
	if err != nil {
		return nil, errors.NewStorage(errors.ErrStorageInit, "open", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, errors.NewStorage(errors.ErrStorageInit, "apply schema", err)
	}

	log.Debug("store opened", "path", cfg.Path, "in_memory", cfg.InMemory())

	return &Store{Store: sqlstore.New(db, db)}, nil
}

// OpenReadOnly opens an existing database file with access_mode=read_only.
func OpenReadOnly(cfg *config.Config) (*Store, error) {
	if cfg.InMemory() {
		return nil, errors.NewStorage(errors.ErrStorageInit, "open",
			errors.NewValidation("storage.path", "read-only duckdb requires a file path"))
	}
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, errors.NewStorage(errors.ErrStorageInit, "open", err)
	}

	db, err := connect(cfg.Path+"?access_mode=read_only", cfg.ReadPoolSize())
	if err != nil {
		return nil, errors.NewStorage(errors.ErrStorageInit, "open", err)
	}

	if _, err := db.Exec("SELECT entity_id, ts_utc, value FROM samples LIMIT 0"); err != nil {
		db.Close()
		return nil, errors.NewStorage(errors.ErrStorageInit, "verify schema", err)
	}

	return &Store{Store: sqlstore.New(nil, db)}, nil
}

func connect(dsn string, conns int) (*sql.DB, error) {
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(conns + 1)
	db.SetMaxIdleConns(conns)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}
