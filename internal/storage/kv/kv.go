// Package kv stores samples in an embedded Badger key-value store.
//
// Each sample is one key: 's' | entity (8 bytes BE) | ts (8 bytes BE), with
// the IEEE-754 bits of the value as payload. Keys of one entity therefore
// sort by timestamp, which turns latest-N into a reverse prefix scan and
// bucketing into a forward range scan. An empty path or ":memory:" keeps
// the store in memory.
package kv

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/logging"
	"github.com/xtxerr/sensorlog/internal/storage/config"
	"github.com/xtxerr/sensorlog/internal/storage/types"
)

var log = logging.Component("storage.kv")

const samplePrefix = 's'

// Store is a Badger sample store.
//
// Store is safe for concurrent use.
type Store struct {
	db       *badger.DB
	readOnly bool
	writeMu  sync.Mutex
	closed   atomic.Bool
}

// Open creates or opens the store at cfg.Path.
func Open(cfg *config.Config) (*Store, error) {
	return open(cfg, false)
}

// OpenReadOnly opens an existing on-disk store without write access.
func OpenReadOnly(cfg *config.Config) (*Store, error) {
	if cfg.InMemory() {
		return nil, errors.NewStorage(errors.ErrStorageInit, "open",
			errors.NewValidation("storage.path", "read-only badger requires a directory"))
	}
	return open(cfg, true)
}

func open(cfg *config.Config, readOnly bool) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory() {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts.Logger = nil // Disable BadgerDB logging
	opts.ReadOnly = readOnly

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.NewStorage(errors.ErrStorageInit, "open badger", err)
	}

	log.Debug("store opened", "path", cfg.Path, "in_memory", cfg.InMemory(), "read_only", readOnly)

	return &Store{db: db, readOnly: readOnly}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// Write upserts samples in one Badger transaction.
func (s *Store) Write(ctx context.Context, samples []types.Sample) error {
	if s.closed.Load() {
		return errors.NewStorage(errors.ErrStorageWrite, "write", errors.ErrStoreClosed)
	}
	if s.readOnly {
		return errors.NewStorage(errors.ErrStorageWrite, "write", errors.ErrReadOnly)
	}
	for _, sample := range samples {
		if err := sample.Validate(); err != nil {
			return errors.NewStorage(errors.ErrStorageWrite, "validate", err)
		}
	}
	if len(samples) == 0 {
		return nil
	}

	samples = types.Dedupe(samples)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, sample := range samples {
			if err := txn.Set(encodeKey(sample.Entity, sample.TS), encodeValue(sample.Value)); err != nil {
				return fmt.Errorf("set (%d, %d): %w", sample.Entity, sample.TS, err)
			}
		}
		return nil
	})
	return errors.NewStorage(errors.ErrStorageWrite, "write", err)
}

// ReadLatest returns up to n newest samples of entity, newest first.
func (s *Store) ReadLatest(ctx context.Context, entity types.EntityID, n int) ([]types.Sample, error) {
	if s.closed.Load() {
		return nil, errors.NewStorage(errors.ErrStorageRead, "latest", errors.ErrStoreClosed)
	}
	if n <= 0 {
		return []types.Sample{}, nil
	}

	prefix := entityPrefix(entity)
	out := make([]types.Sample, 0, min(n, 1024))

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(out) < n; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			sample, err := decodeItem(it.Item())
			if err != nil {
				return err
			}
			out = append(out, sample)
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewStorage(errors.ErrStorageRead, "latest", err)
	}
	return out, nil
}

// ReadBucketedAverage returns the non-empty buckets in
// [AlignDown(rangeStart, bucketWidth), now], ascending.
func (s *Store) ReadBucketedAverage(ctx context.Context, entity types.EntityID, rangeStart, bucketWidth, now int64) ([]types.Bucket, error) {
	if bucketWidth <= 0 {
		return nil, errors.NewStorage(errors.ErrStorageRead, "buckets",
			errors.NewInvalidRequest("bucket_width", "must be positive"))
	}

	start := types.AlignDown(rangeStart, bucketWidth)
	buckets := []types.Bucket{}
	var sum float64

	err := s.scan(ctx, entity, start, now, func(sample types.Sample) {
		b := types.AlignDown(sample.TS, bucketWidth)
		if len(buckets) == 0 || buckets[len(buckets)-1].Start != b {
			if len(buckets) > 0 {
				last := &buckets[len(buckets)-1]
				last.Avg = sum / float64(last.Count)
			}
			buckets = append(buckets, types.Bucket{Start: b})
			sum = 0
		}
		sum += sample.Value
		buckets[len(buckets)-1].Count++
	})
	if err != nil {
		return nil, errors.NewStorage(errors.ErrStorageRead, "buckets", err)
	}
	if len(buckets) > 0 {
		last := &buckets[len(buckets)-1]
		last.Avg = sum / float64(last.Count)
	}
	return buckets, nil
}

// ReadRange returns the samples of entity with from <= ts <= to, ascending.
func (s *Store) ReadRange(ctx context.Context, entity types.EntityID, from, to int64) ([]types.Sample, error) {
	out := []types.Sample{}
	err := s.scan(ctx, entity, from, to, func(sample types.Sample) {
		out = append(out, sample)
	})
	if err != nil {
		return nil, errors.NewStorage(errors.ErrStorageRead, "range", err)
	}
	return out, nil
}

// Health reports whether the store is open.
func (s *Store) Health(ctx context.Context) error {
	if s.closed.Load() {
		return errors.ErrStoreClosed
	}
	return ctx.Err()
}

// scan visits the samples of entity with from <= ts <= to in timestamp order.
func (s *Store) scan(ctx context.Context, entity types.EntityID, from, to int64, fn func(types.Sample)) error {
	if s.closed.Load() {
		return errors.ErrStoreClosed
	}
	if to < from || to < 0 {
		return nil
	}
	if from < 0 {
		from = 0
	}

	prefix := entityPrefix(entity)
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(encodeKey(entity, from)); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			sample, err := decodeItem(it.Item())
			if err != nil {
				return err
			}
			if sample.TS > to {
				break
			}
			fn(sample)
		}
		return nil
	})
}

// =============================================================================
// Encoding
// =============================================================================

func entityPrefix(entity types.EntityID) []byte {
	key := make([]byte, 9)
	key[0] = samplePrefix
	binary.BigEndian.PutUint64(key[1:], uint64(entity))
	return key
}

func encodeKey(entity types.EntityID, ts int64) []byte {
	key := make([]byte, 17)
	key[0] = samplePrefix
	binary.BigEndian.PutUint64(key[1:9], uint64(entity))
	binary.BigEndian.PutUint64(key[9:], uint64(ts))
	return key
}

func decodeKey(key []byte) (types.EntityID, int64, error) {
	if len(key) != 17 || key[0] != samplePrefix {
		return 0, 0, fmt.Errorf("malformed key %x", key)
	}
	return int64(binary.BigEndian.Uint64(key[1:9])), int64(binary.BigEndian.Uint64(key[9:])), nil
}

func encodeValue(v float64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(v))
	return buf
}

func decodeItem(item *badger.Item) (types.Sample, error) {
	entity, ts, err := decodeKey(item.Key())
	if err != nil {
		return types.Sample{}, err
	}

	var value float64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("malformed value for key %x", item.Key())
		}
		value = math.Float64frombits(binary.BigEndian.Uint64(val))
		return nil
	})
	if err != nil {
		return types.Sample{}, err
	}
	return types.Sample{Entity: entity, TS: ts, Value: value}, nil
}
