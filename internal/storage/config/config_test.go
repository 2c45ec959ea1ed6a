package config

import (
	"testing"
	"time"

	"github.com/xtxerr/sensorlog/internal/errors"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.NormalizedDriver() != DriverSQLite {
		t.Errorf("default driver = %q", cfg.NormalizedDriver())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"sqlite file", Config{Driver: "sqlite", Path: "data/db.sqlite"}, nil},
		{"sqlite memory", Config{Driver: "sqlite", Path: ":memory:"}, errors.ErrInvalidConfig},
		{"badger memory", Config{Driver: "badger", Path: ""}, nil},
		{"duckdb upper case", Config{Driver: "DuckDB", Path: "x.duckdb"}, nil},
		{"unknown driver", Config{Driver: "postgres", Path: "x"}, errors.ErrUnknownDriver},
		{"negative timeout", Config{Path: "x", BusyTimeout: -time.Second}, errors.ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultsApplied(t *testing.T) {
	var cfg Config
	if cfg.BusyTimeoutMs() != 5000 {
		t.Errorf("BusyTimeoutMs = %d", cfg.BusyTimeoutMs())
	}
	if cfg.ReadPoolSize() != 4 {
		t.Errorf("ReadPoolSize = %d", cfg.ReadPoolSize())
	}
	if !cfg.InMemory() {
		t.Error("empty path should be in-memory")
	}
}
