package duckdb_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/storage"
	"github.com/xtxerr/sensorlog/internal/storage/config"
	"github.com/xtxerr/sensorlog/internal/storage/duckdb"
	"github.com/xtxerr/sensorlog/internal/storage/storagetest"
	"github.com/xtxerr/sensorlog/internal/storage/types"
)

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		cfg := config.DefaultConfig()
		cfg.Driver = config.DriverDuckDB
		cfg.Path = config.MemoryPath

		s, err := duckdb.Open(cfg)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		return s
	})
}

func TestFileRoundTrip(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Driver = config.DriverDuckDB
	cfg.Path = filepath.Join(t.TempDir(), "samples.duckdb")

	s, err := duckdb.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	if err := s.Write(ctx, []types.Sample{{Entity: 1, TS: 60, Value: 1}, {Entity: 1, TS: 61, Value: 3}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := duckdb.OpenReadOnly(cfg)
	if err != nil {
		t.Fatalf("OpenReadOnly: %v", err)
	}
	defer r.Close()

	buckets, err := r.ReadBucketedAverage(ctx, 1, 0, 60, 120)
	if err != nil {
		t.Fatalf("ReadBucketedAverage: %v", err)
	}
	if len(buckets) != 1 || buckets[0].Start != 60 || buckets[0].Avg != 2 {
		t.Errorf("buckets = %+v", buckets)
	}

	if err := r.Write(ctx, []types.Sample{{Entity: 1, TS: 62, Value: 1}}); !errors.Is(err, errors.ErrReadOnly) {
		t.Errorf("Write on read-only store = %v", err)
	}
}

func TestOpenReadOnlyRequiresFile(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Driver = config.DriverDuckDB
	cfg.Path = ""

	if _, err := duckdb.OpenReadOnly(cfg); !errors.Is(err, errors.ErrStorageInit) {
		t.Errorf("OpenReadOnly = %v, want ErrStorageInit", err)
	}
}
