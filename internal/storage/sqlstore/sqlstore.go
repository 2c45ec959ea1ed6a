// Package sqlstore implements the sample store contract over database/sql.
//
// It holds the SQL shared by the sqlite and duckdb backends: the upsert,
// latest-N, bucketed average and range queries. Opening, pragmas and schema
// are left to the backend packages.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/storage/types"
)

// Store provides sample operations over a write pool and a read pool.
//
// Store is safe for concurrent use. Writes are serialized.
type Store struct {
	write   *sql.DB // nil for read-only stores
	read    *sql.DB
	writeMu sync.Mutex
	closed  atomic.Bool
}

// New wraps already opened pools. write may be nil for a read-only store;
// write and read may be the same *sql.DB.
func New(write, read *sql.DB) *Store {
	return &Store{write: write, read: read}
}

// Close closes both pools.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	var firstErr error
	if s.write != nil {
		firstErr = s.write.Close()
	}
	if s.read != nil && s.read != s.write {
		if err := s.read.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ReadOnly reports whether the store was opened without a writer.
func (s *Store) ReadOnly() bool {
	return s.write == nil
}

// WriteDB returns the write pool (nil when read-only).
// Use with caution - prefer using Store methods.
func (s *Store) WriteDB() *sql.DB {
	return s.write
}

// ReadDB returns the read pool.
func (s *Store) ReadDB() *sql.DB {
	return s.read
}

// =============================================================================
// Transaction Support
// =============================================================================

// TransactionContext executes fn within a transaction on the write pool.
//
// If fn returns an error, the transaction is rolled back.
// If fn returns nil, the transaction is committed.
func (s *Store) TransactionContext(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// =============================================================================
// Write
// =============================================================================

const upsertSample = `
	INSERT INTO samples (entity_id, ts_utc, value)
	VALUES (?, ?, ?)
	ON CONFLICT (entity_id, ts_utc) DO UPDATE SET value = excluded.value
`

// CheckUpsert prepares the upsert against db without executing it. It fails
// when the samples table has no unique key on (entity_id, ts_utc).
func CheckUpsert(ctx context.Context, db *sql.DB) error {
	stmt, err := db.PrepareContext(ctx, upsertSample)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	return stmt.Close()
}

// Write upserts samples in one transaction.
//
// The write is not cancelled by ctx once issued: it either commits or fails.
func (s *Store) Write(ctx context.Context, samples []types.Sample) error {
	if s.closed.Load() {
		return errors.NewStorage(errors.ErrStorageWrite, "write", errors.ErrStoreClosed)
	}
	if s.write == nil {
		return errors.NewStorage(errors.ErrStorageWrite, "write", errors.ErrReadOnly)
	}
	if len(samples) == 0 {
		return nil
	}
	for _, sample := range samples {
		if err := sample.Validate(); err != nil {
			return errors.NewStorage(errors.ErrStorageWrite, "validate", err)
		}
	}

	samples = types.Dedupe(samples)
	ctx = context.WithoutCancel(ctx)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.TransactionContext(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertSample)
		if err != nil {
			return fmt.Errorf("prepare upsert: %w", err)
		}
		defer stmt.Close()

		for _, sample := range samples {
			if _, err := stmt.ExecContext(ctx, sample.Entity, sample.TS, sample.Value); err != nil {
				return fmt.Errorf("upsert (%d, %d): %w", sample.Entity, sample.TS, err)
			}
		}
		return nil
	})
	return errors.NewStorage(errors.ErrStorageWrite, "write", err)
}

// =============================================================================
// Query Methods
// =============================================================================

// ReadLatest returns up to n newest samples of entity, newest first.
func (s *Store) ReadLatest(ctx context.Context, entity types.EntityID, n int) ([]types.Sample, error) {
	if s.closed.Load() {
		return nil, errors.NewStorage(errors.ErrStorageRead, "latest", errors.ErrStoreClosed)
	}
	if n <= 0 {
		return []types.Sample{}, nil
	}

	rows, err := s.read.QueryContext(ctx, `
		SELECT entity_id, ts_utc, value
		FROM samples
		WHERE entity_id = ?
		ORDER BY ts_utc DESC
		LIMIT ?
	`, entity, n)
	if err != nil {
		return nil, errors.NewStorage(errors.ErrStorageRead, "latest", err)
	}

	samples, err := scanSamples(rows, n)
	return samples, errors.NewStorage(errors.ErrStorageRead, "latest", err)
}

// ReadBucketedAverage returns the non-empty buckets in
// [AlignDown(rangeStart, bucketWidth), now], ascending.
func (s *Store) ReadBucketedAverage(ctx context.Context, entity types.EntityID, rangeStart, bucketWidth, now int64) ([]types.Bucket, error) {
	if s.closed.Load() {
		return nil, errors.NewStorage(errors.ErrStorageRead, "buckets", errors.ErrStoreClosed)
	}
	if bucketWidth <= 0 {
		return nil, errors.NewStorage(errors.ErrStorageRead, "buckets",
			errors.NewInvalidRequest("bucket_width", "must be positive"))
	}

	start := types.AlignDown(rangeStart, bucketWidth)
	if now < start {
		return []types.Bucket{}, nil
	}

	// Stored timestamps are never negative, so the modulo aligns down.
	rows, err := s.read.QueryContext(ctx, `
		SELECT ts_utc - (ts_utc % ?) AS bucket, AVG(value), COUNT(*)
		FROM samples
		WHERE entity_id = ? AND ts_utc >= ? AND ts_utc <= ?
		GROUP BY bucket
		ORDER BY bucket
	`, bucketWidth, entity, start, now)
	if err != nil {
		return nil, errors.NewStorage(errors.ErrStorageRead, "buckets", err)
	}
	defer rows.Close()

	buckets := []types.Bucket{}
	for rows.Next() {
		var b types.Bucket
		if err := rows.Scan(&b.Start, &b.Avg, &b.Count); err != nil {
			return nil, errors.NewStorage(errors.ErrStorageRead, "scan bucket", err)
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage(errors.ErrStorageRead, "buckets", err)
	}
	return buckets, nil
}

// ReadRange returns the samples of entity with from <= ts <= to, ascending.
func (s *Store) ReadRange(ctx context.Context, entity types.EntityID, from, to int64) ([]types.Sample, error) {
	if s.closed.Load() {
		return nil, errors.NewStorage(errors.ErrStorageRead, "range", errors.ErrStoreClosed)
	}
	if to < from {
		return []types.Sample{}, nil
	}

	rows, err := s.read.QueryContext(ctx, `
		SELECT entity_id, ts_utc, value
		FROM samples
		WHERE entity_id = ? AND ts_utc >= ? AND ts_utc <= ?
		ORDER BY ts_utc ASC
	`, entity, from, to)
	if err != nil {
		return nil, errors.NewStorage(errors.ErrStorageRead, "range", err)
	}

	samples, err := scanSamples(rows, 0)
	return samples, errors.NewStorage(errors.ErrStorageRead, "range", err)
}

// Count returns the number of stored rows. Used by tests and diagnostics.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM samples`).Scan(&n)
	return n, errors.NewStorage(errors.ErrStorageRead, "count", err)
}

// Health checks database connectivity.
func (s *Store) Health(ctx context.Context) error {
	if s.closed.Load() {
		return errors.ErrStoreClosed
	}
	return s.read.PingContext(ctx)
}

func scanSamples(rows *sql.Rows, capacity int) ([]types.Sample, error) {
	defer rows.Close()

	if capacity <= 0 {
		capacity = 64
	}
	samples := make([]types.Sample, 0, capacity)
	for rows.Next() {
		var sample types.Sample
		if err := rows.Scan(&sample.Entity, &sample.TS, &sample.Value); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}
