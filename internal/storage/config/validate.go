package config

import (
	"github.com/xtxerr/sensorlog/internal/errors"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	errs := errors.NewValidationErrors()

	switch c.NormalizedDriver() {
	case DriverSQLite:
		if c.InMemory() {
			errs.AddField("storage.path", "sqlite needs a file path; use the badger or duckdb driver for in-memory stores")
		}
	case DriverDuckDB, DriverBadger:
	default:
		errs.Add(errors.Wrapf(errors.ErrUnknownDriver, "storage.driver %q", c.Driver))
	}

	if c.BusyTimeout < 0 {
		errs.AddField("storage.busy_timeout", "cannot be negative")
	}
	if c.ReadConns < 0 {
		errs.AddField("storage.read_conns", "cannot be negative")
	}

	return errs.Err()
}
