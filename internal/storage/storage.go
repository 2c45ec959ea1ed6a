package storage

import (
	"context"
	"io"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/logging"
	"github.com/xtxerr/sensorlog/internal/storage/config"
	"github.com/xtxerr/sensorlog/internal/storage/duckdb"
	"github.com/xtxerr/sensorlog/internal/storage/kv"
	"github.com/xtxerr/sensorlog/internal/storage/sqlite"
	"github.com/xtxerr/sensorlog/internal/storage/types"
)

var log = logging.Component("storage")

// Writer upserts samples.
type Writer interface {
	// Write applies all samples as one atomic unit. A sample whose key
	// already exists replaces the stored value. Failures wrap
	// errors.ErrStorageWrite and leave the store unchanged.
	Write(ctx context.Context, samples []types.Sample) error
}

// Reader answers point and range queries. Failures wrap
// errors.ErrStorageRead; an entity without data yields an empty result.
type Reader interface {
	// ReadLatest returns up to n samples of entity, newest first.
	ReadLatest(ctx context.Context, entity types.EntityID, n int) ([]types.Sample, error)

	// ReadBucketedAverage returns the buckets of width bucketWidth that hold
	// at least one sample with a timestamp in
	// [AlignDown(rangeStart, bucketWidth), now], ascending by start.
	ReadBucketedAverage(ctx context.Context, entity types.EntityID, rangeStart, bucketWidth, now int64) ([]types.Bucket, error)

	// ReadRange returns the samples of entity with from <= ts <= to,
	// ascending by timestamp.
	ReadRange(ctx context.Context, entity types.EntityID, from, to int64) ([]types.Sample, error)
}

// ReadCloser is a Reader that owns resources.
type ReadCloser interface {
	Reader
	io.Closer
}

// Store is a read-write sample store.
type Store interface {
	Reader
	Writer
	io.Closer
}

// HealthChecker is implemented by stores that can check their backend.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Health checks r. Readers without their own check get a one-row read.
func Health(ctx context.Context, r Reader) error {
	if h, ok := r.(HealthChecker); ok {
		return h.Health(ctx)
	}
	_, err := r.ReadLatest(ctx, 1, 1)
	return err
}

// Open initializes the configured backend for reading and writing. It is
// safe to call against an already initialized store. Errors wrap
// errors.ErrStorageInit.
func Open(cfg *config.Config) (Store, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewStorage(errors.ErrStorageInit, "config", err)
	}

	log.Info("opening store", "driver", cfg.NormalizedDriver(), "path", cfg.Path)

	var (
		s   Store
		err error
	)
	switch cfg.NormalizedDriver() {
	case config.DriverDuckDB:
		s, err = duckdb.Open(cfg)
	case config.DriverBadger:
		s, err = kv.Open(cfg)
	default:
		s, err = sqlite.Open(cfg)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// OpenReader opens an existing store without taking the writer role.
// Use it from processes that only serve queries.
func OpenReader(cfg *config.Config) (ReadCloser, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewStorage(errors.ErrStorageInit, "config", err)
	}

	var (
		r   ReadCloser
		err error
	)
	switch cfg.NormalizedDriver() {
	case config.DriverDuckDB:
		r, err = duckdb.OpenReadOnly(cfg)
	case config.DriverBadger:
		r, err = kv.OpenReadOnly(cfg)
	default:
		r, err = sqlite.OpenReadOnly(cfg)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}
