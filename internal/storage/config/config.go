// Package config holds the storage configuration shared by every backend.
package config

import (
	"strings"
	"time"

	defaults "github.com/xtxerr/sensorlog/config"
)

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverDuckDB = "duckdb"
	DriverBadger = "badger"
)

// MemoryPath selects an in-memory store on backends that support one.
const MemoryPath = ":memory:"

// Config represents the complete storage configuration.
type Config struct {
	// Driver selects the backend: "sqlite" (default), "duckdb" or "badger".
	Driver string

	// Path is the database file (sqlite, duckdb) or directory (badger).
	Path string

	// SchemaPath optionally replaces the embedded sqlite schema.
	// The file must create the samples table with create-if-absent semantics.
	SchemaPath string

	// BusyTimeout bounds how long a connection waits for a lock.
	BusyTimeout time.Duration

	// ReadConns is the size of the read connection pool.
	ReadConns int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Driver:      defaults.DefaultStorageDriver,
		Path:        defaults.DefaultDBPath,
		BusyTimeout: defaults.DefaultBusyTimeout,
		ReadConns:   defaults.DefaultReadConns,
	}
}

// InMemory reports whether Path asks for a non-persistent store.
func (c *Config) InMemory() bool {
	return c.Path == "" || c.Path == MemoryPath
}

// NormalizedDriver returns the lower-cased driver, defaulting to sqlite.
func (c *Config) NormalizedDriver() string {
	d := strings.ToLower(strings.TrimSpace(c.Driver))
	if d == "" {
		return DriverSQLite
	}
	return d
}

// BusyTimeoutMs returns BusyTimeout in whole milliseconds, defaulted.
func (c *Config) BusyTimeoutMs() int64 {
	if c.BusyTimeout <= 0 {
		return defaults.DefaultBusyTimeout.Milliseconds()
	}
	return c.BusyTimeout.Milliseconds()
}

// ReadPoolSize returns ReadConns, defaulted.
func (c *Config) ReadPoolSize() int {
	if c.ReadConns <= 0 {
		return defaults.DefaultReadConns
	}
	return c.ReadConns
}
